package core

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrustumCornersPerspective(t *testing.T) {
	cam := NewCamera("c")
	cam.FOV = 90
	cam.AspectRatio = 2

	corners := cam.FrustumCorners(1, 10)

	// tan(45deg) == 1, so half height equals distance.
	assert.InDelta(t, 2.0, corners[0].X(), 1e-5)
	assert.InDelta(t, -1.0, corners[0].Y(), 1e-5)
	assert.InDelta(t, -1.0, corners[0].Z(), 1e-5)
	assert.InDelta(t, -20.0, corners[6].X(), 1e-4)
	assert.InDelta(t, 10.0, corners[6].Y(), 1e-4)
	assert.InDelta(t, -10.0, corners[6].Z(), 1e-5)
}

func TestScreenSize(t *testing.T) {
	cam := NewCamera("c")
	cam.FOV = 90

	assert.Equal(t, float32(1), cam.ScreenSize(BoundingSphere{Center: mgl32.Vec3{0, 0, -1}, Radius: 5}))

	far := cam.ScreenSize(BoundingSphere{Center: mgl32.Vec3{0, 0, -100}, Radius: 1})
	near := cam.ScreenSize(BoundingSphere{Center: mgl32.Vec3{0, 0, -10}, Radius: 1})
	assert.Greater(t, near, far)
	assert.InDelta(t, math.Tan(math.Asin(0.1)), near, 1e-5)
}

func TestTransformLocalAxes(t *testing.T) {
	n := NewTransform()
	n.RotateLocal(-90, 0, 0)

	// Pitching down by 90 degrees points -Z at -Y.
	fwd := n.Forward()
	assert.InDelta(t, -1.0, fwd.Y(), 1e-5)

	n.TranslateLocal(0, 0, 5)
	assert.InDelta(t, 5.0, n.Position.Y(), 1e-4)
}

func TestViewMatrixInvertsWorld(t *testing.T) {
	n := NewTransform()
	n.Position = mgl32.Vec3{3, 4, 5}
	n.SetEulerAngles(10, 20, 30)

	p := mgl32.Vec3{1, 2, 3}
	world := mgl32.TransformCoordinate(p, n.WorldMatrix())
	back := mgl32.TransformCoordinate(world, n.ViewMatrix())
	assert.True(t, p.ApproxEqualThreshold(back, 1e-4), "got %v", back)
}

func TestBoundingBoxTransformAndUnion(t *testing.T) {
	b := BoxFromMinMax(mgl32.Vec3{-1, -1, -1}, mgl32.Vec3{1, 1, 1})
	moved := b.Transform(mgl32.Translate3D(10, 0, 0))
	assert.True(t, moved.Center.ApproxEqual(mgl32.Vec3{10, 0, 0}))

	u := b.Union(moved)
	assert.True(t, u.Min().ApproxEqual(mgl32.Vec3{-1, -1, -1}))
	assert.True(t, u.Max().ApproxEqual(mgl32.Vec3{11, 1, 1}))
}

func TestScopeResolveIsStable(t *testing.T) {
	s := NewScope()
	a := s.Resolve("matrix_view")
	b := s.Resolve("matrix_view")
	require.Same(t, a, b)

	a.SetValue(float32(1))
	assert.Equal(t, uint64(1), b.Version())
	assert.Equal(t, []string{"matrix_view"}, s.Names())
}

func TestProfilerAccumulatesScopes(t *testing.T) {
	p := NewProfiler()
	p.BeginScope(ScopeCull)
	p.EndScope(ScopeCull)
	p.BeginScope(ScopeCull)
	p.EndScope(ScopeCull)
	p.AddCount(CountForwardDrawCalls, 2)
	p.AddCount(CountForwardDrawCalls, 3)

	assert.Equal(t, []string{ScopeCull}, p.Order)
	assert.Equal(t, 5, p.Count(CountForwardDrawCalls))
	assert.Contains(t, p.Summary(), CountForwardDrawCalls)

	p.ResetFrame()
	assert.Equal(t, 0, p.Count(CountForwardDrawCalls))
}
