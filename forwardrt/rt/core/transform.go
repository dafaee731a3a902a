package core

import (
	"github.com/go-gl/mathgl/mgl32"
)

// Transform is a flat TRS node. Cameras look down their local -Z axis.
type Transform struct {
	Position mgl32.Vec3
	Rotation mgl32.Quat
	Scale    mgl32.Vec3
}

func NewTransform() *Transform {
	return &Transform{
		Position: mgl32.Vec3{0, 0, 0},
		Rotation: mgl32.QuatIdent(),
		Scale:    mgl32.Vec3{1, 1, 1},
	}
}

func (t *Transform) WorldMatrix() mgl32.Mat4 {
	// M = T * R * S
	translate := mgl32.Translate3D(t.Position.X(), t.Position.Y(), t.Position.Z())
	rotate := t.Rotation.Mat4()
	scale := mgl32.Scale3D(t.Scale.X(), t.Scale.Y(), t.Scale.Z())

	return translate.Mul4(rotate).Mul4(scale)
}

// ViewMatrix is the inverse of the rigid part of the world matrix; scale is ignored.
func (t *Transform) ViewMatrix() mgl32.Mat4 {
	invRotate := t.Rotation.Conjugate().Mat4()
	invTranslate := mgl32.Translate3D(-t.Position.X(), -t.Position.Y(), -t.Position.Z())
	return invRotate.Mul4(invTranslate)
}

func (t *Transform) Forward() mgl32.Vec3 {
	return t.Rotation.Rotate(mgl32.Vec3{0, 0, -1})
}

func (t *Transform) Up() mgl32.Vec3 {
	return t.Rotation.Rotate(mgl32.Vec3{0, 1, 0})
}

func (t *Transform) Right() mgl32.Vec3 {
	return t.Rotation.Rotate(mgl32.Vec3{1, 0, 0})
}

// SetEulerAngles sets the rotation from XYZ angles in degrees.
func (t *Transform) SetEulerAngles(x, y, z float32) {
	t.Rotation = eulerQuat(x, y, z)
}

// RotateLocal post-multiplies a rotation given as XYZ degrees.
func (t *Transform) RotateLocal(x, y, z float32) {
	t.Rotation = t.Rotation.Mul(eulerQuat(x, y, z)).Normalize()
}

// TranslateLocal moves along the node's own axes.
func (t *Transform) TranslateLocal(x, y, z float32) {
	t.Position = t.Position.Add(t.Rotation.Rotate(mgl32.Vec3{x, y, z}))
}

func (t *Transform) LookAt(target, up mgl32.Vec3) {
	t.Rotation = mgl32.QuatLookAtV(t.Position, target, up)
}

func (t *Transform) TransformPoint(p mgl32.Vec3) mgl32.Vec3 {
	return mgl32.TransformCoordinate(p, t.WorldMatrix())
}

// eulerQuat rotates about world X, then Y, then Z.
func eulerQuat(x, y, z float32) mgl32.Quat {
	qx := mgl32.QuatRotate(mgl32.DegToRad(x), mgl32.Vec3{1, 0, 0})
	qy := mgl32.QuatRotate(mgl32.DegToRad(y), mgl32.Vec3{0, 1, 0})
	qz := mgl32.QuatRotate(mgl32.DegToRad(z), mgl32.Vec3{0, 0, 1})
	return qz.Mul(qy).Mul(qx)
}
