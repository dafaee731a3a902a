package core

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Sphere containment results.
const (
	Outside    = 0
	Intersects = 1
	Inside     = 2
)

// Frustum holds six planes Ax + By + Cz + D = 0 with normals pointing inside,
// in order Left, Right, Bottom, Top, Near, Far.
type Frustum struct {
	Planes [6]mgl32.Vec4
}

// SetFromMatrix extracts the planes of a view-projection matrix.
func (f *Frustum) SetFromMatrix(vp mgl32.Mat4) {
	row := func(r int) mgl32.Vec4 {
		return mgl32.Vec4{vp.At(r, 0), vp.At(r, 1), vp.At(r, 2), vp.At(r, 3)}
	}
	r0, r1, r2, r3 := row(0), row(1), row(2), row(3)

	f.Planes[0] = r3.Add(r0)
	f.Planes[1] = r3.Sub(r0)
	f.Planes[2] = r3.Add(r1)
	f.Planes[3] = r3.Sub(r1)
	// OpenGL-style -1..1 clip depth, matching mgl32.Perspective / Ortho.
	f.Planes[4] = r3.Add(r2)
	f.Planes[5] = r3.Sub(r2)

	for i := 0; i < 6; i++ {
		p := f.Planes[i]
		length := float32(math.Sqrt(float64(p[0]*p[0] + p[1]*p[1] + p[2]*p[2])))
		if length > 0 {
			f.Planes[i] = p.Mul(1.0 / length)
		}
	}
}

func NewFrustum(vp mgl32.Mat4) Frustum {
	var f Frustum
	f.SetFromMatrix(vp)
	return f
}

// ContainsSphere reports Outside, Intersects or Inside.
func (f *Frustum) ContainsSphere(s BoundingSphere) int {
	result := Inside
	for i := 0; i < 6; i++ {
		p := f.Planes[i]
		d := p[0]*s.Center[0] + p[1]*s.Center[1] + p[2]*s.Center[2] + p[3]
		if d <= -s.Radius {
			return Outside
		}
		if d < s.Radius {
			result = Intersects
		}
	}
	return result
}

// ContainsBox is the p-vertex test: a box is rejected only when its most
// inside corner is behind some plane.
func (f *Frustum) ContainsBox(b BoundingBox) bool {
	mn, mx := b.Min(), b.Max()
	for i := 0; i < 6; i++ {
		plane := f.Planes[i]
		var p mgl32.Vec3
		for k := 0; k < 3; k++ {
			if plane[k] > 0 {
				p[k] = mx[k]
			} else {
				p[k] = mn[k]
			}
		}
		if plane[0]*p[0]+plane[1]*p[1]+plane[2]*p[2]+plane[3] < 0 {
			return false
		}
	}
	return true
}
