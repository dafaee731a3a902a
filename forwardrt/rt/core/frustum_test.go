package core

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
)

func lookDownNegZ() mgl32.Mat4 {
	proj := mgl32.Perspective(mgl32.DegToRad(90), 1.0, 1.0, 100.0)
	view := mgl32.LookAtV(mgl32.Vec3{0, 0, 0}, mgl32.Vec3{0, 0, -1}, mgl32.Vec3{0, 1, 0})
	return proj.Mul4(view)
}

func TestFrustumContainsBox(t *testing.T) {
	f := NewFrustum(lookDownNegZ())

	tests := []struct {
		name     string
		min, max mgl32.Vec3
		expected bool
	}{
		{"Inside (center)", mgl32.Vec3{-1, -1, -10}, mgl32.Vec3{1, 1, -5}, true},
		{"Outside (Left)", mgl32.Vec3{-20, -1, -10}, mgl32.Vec3{-15, 1, -5}, false},
		{"Outside (Right)", mgl32.Vec3{15, -1, -10}, mgl32.Vec3{20, 1, -5}, false},
		{"Outside (Behind/Near)", mgl32.Vec3{-1, -1, 2}, mgl32.Vec3{1, 1, 5}, false},
		{"Outside (Far)", mgl32.Vec3{-1, -1, -200}, mgl32.Vec3{1, 1, -150}, false},
		{"Intersecting (Left Plane)", mgl32.Vec3{-15, -1, -10}, mgl32.Vec3{-5, 1, -5}, true},
		{"Encompassing (Huge box)", mgl32.Vec3{-1000, -1000, -1000}, mgl32.Vec3{1000, 1000, 1000}, true},
	}

	for _, tc := range tests {
		visible := f.ContainsBox(BoxFromMinMax(tc.min, tc.max))
		if visible != tc.expected {
			t.Errorf("Test %s failed: expected %v, got %v", tc.name, tc.expected, visible)
			center := tc.min.Add(tc.max).Mul(0.5)
			for i, p := range f.Planes {
				t.Logf("  P%d: %v, Dist(Center)=%f", i, p, p.Dot(center.Vec4(1.0)))
			}
		}
	}
}

func TestFrustumContainsSphere(t *testing.T) {
	f := NewFrustum(lookDownNegZ())

	assert.Equal(t, Inside, f.ContainsSphere(BoundingSphere{Center: mgl32.Vec3{0, 0, -20}, Radius: 1}))
	assert.Equal(t, Intersects, f.ContainsSphere(BoundingSphere{Center: mgl32.Vec3{0, 0, -100}, Radius: 2}))
	assert.Equal(t, Outside, f.ContainsSphere(BoundingSphere{Center: mgl32.Vec3{0, 0, 10}, Radius: 2}))
}

func TestCameraFrustumMatchesMatrix(t *testing.T) {
	cam := NewCamera("main")
	cam.FOV = 90
	cam.NearClip = 1
	cam.FarClip = 100
	cam.UpdateFrustum(cam.ViewProjection())

	assert.True(t, cam.Frustum().ContainsBox(BoxFromMinMax(mgl32.Vec3{-1, -1, -10}, mgl32.Vec3{1, 1, -5})))
	assert.False(t, cam.Frustum().ContainsBox(BoxFromMinMax(mgl32.Vec3{-1, -1, 2}, mgl32.Vec3{1, 1, 5})))
}

func TestFrustumOrtho(t *testing.T) {
	cam := NewCamera("ortho")
	cam.Projection = ProjectionOrthographic
	cam.OrthoHeight = 10
	cam.NearClip = 0
	cam.FarClip = 20
	cam.UpdateFrustum(cam.ViewProjection())

	assert.True(t, cam.Frustum().ContainsBox(BoxFromMinMax(mgl32.Vec3{-1, -1, -6}, mgl32.Vec3{1, 1, -4})))
	assert.False(t, cam.Frustum().ContainsBox(BoxFromMinMax(mgl32.Vec3{-1, -1, -26}, mgl32.Vec3{1, 1, -24})),
		"box beyond the far plane at z=-20 must be culled")
}
