package core

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

type BoundingBox struct {
	Center      mgl32.Vec3
	HalfExtents mgl32.Vec3
}

func BoxFromMinMax(min, max mgl32.Vec3) BoundingBox {
	return BoundingBox{
		Center:      min.Add(max).Mul(0.5),
		HalfExtents: max.Sub(min).Mul(0.5),
	}
}

func (b BoundingBox) Min() mgl32.Vec3 { return b.Center.Sub(b.HalfExtents) }
func (b BoundingBox) Max() mgl32.Vec3 { return b.Center.Add(b.HalfExtents) }

func (b BoundingBox) Corners() [8]mgl32.Vec3 {
	mn, mx := b.Min(), b.Max()
	return [8]mgl32.Vec3{
		{mn[0], mn[1], mn[2]},
		{mx[0], mn[1], mn[2]},
		{mn[0], mx[1], mn[2]},
		{mx[0], mx[1], mn[2]},
		{mn[0], mn[1], mx[2]},
		{mx[0], mn[1], mx[2]},
		{mn[0], mx[1], mx[2]},
		{mx[0], mx[1], mx[2]},
	}
}

// Transform returns the axis aligned box enclosing b after m is applied.
func (b BoundingBox) Transform(m mgl32.Mat4) BoundingBox {
	minB := mgl32.Vec3{float32(math.Inf(1)), float32(math.Inf(1)), float32(math.Inf(1))}
	maxB := mgl32.Vec3{float32(math.Inf(-1)), float32(math.Inf(-1)), float32(math.Inf(-1))}
	for _, c := range b.Corners() {
		w := m.Mul4x1(c.Vec4(1)).Vec3()
		for k := 0; k < 3; k++ {
			minB[k] = min(minB[k], w[k])
			maxB[k] = max(maxB[k], w[k])
		}
	}
	return BoxFromMinMax(minB, maxB)
}

// Union grows b to also enclose o.
func (b BoundingBox) Union(o BoundingBox) BoundingBox {
	mnA, mxA := b.Min(), b.Max()
	mnB, mxB := o.Min(), o.Max()
	var mn, mx mgl32.Vec3
	for k := 0; k < 3; k++ {
		mn[k] = min(mnA[k], mnB[k])
		mx[k] = max(mxA[k], mxB[k])
	}
	return BoxFromMinMax(mn, mx)
}

func (b BoundingBox) Sphere() BoundingSphere {
	return BoundingSphere{Center: b.Center, Radius: b.HalfExtents.Len()}
}

type BoundingSphere struct {
	Center mgl32.Vec3
	Radius float32
}
