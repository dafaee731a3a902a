package app

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/gekko3d/forward/forwardrt/rt/core"
	"github.com/gekko3d/forward/forwardrt/rt/core/coretest"
	"github.com/gekko3d/forward/forwardrt/rt/light"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vertex(v []float32, i int) (p, n mgl32.Vec3) {
	o := i * 6
	return mgl32.Vec3{v[o], v[o+1], v[o+2]}, mgl32.Vec3{v[o+3], v[o+4], v[o+5]}
}

func TestBoxGeometryWindsOutward(t *testing.T) {
	vertices, indices := boxGeometry()
	require.Len(t, vertices, 24*6)
	require.Len(t, indices, 36)

	for tri := 0; tri < len(indices); tri += 3 {
		a, n := vertex(vertices, int(indices[tri]))
		b, _ := vertex(vertices, int(indices[tri+1]))
		c, _ := vertex(vertices, int(indices[tri+2]))

		face := b.Sub(a).Cross(c.Sub(a)).Normalize()
		assert.InDelta(t, 1, face.Dot(n), 1e-5, "triangle %d", tri/3)
		assert.Greater(t, a.Dot(n), float32(0), "triangle %d faces inward", tri/3)
	}
}

func TestBoxGeometryFitsUnitCube(t *testing.T) {
	vertices, _ := boxGeometry()
	for i := 0; i < 24; i++ {
		p, n := vertex(vertices, i)
		for k := 0; k < 3; k++ {
			assert.InDelta(t, 0.5, math.Abs(float64(p[k])), 1e-6)
		}
		assert.InDelta(t, 1, n.Len(), 1e-6)
	}
}

func TestByteHelpersAreLittleEndian(t *testing.T) {
	b := float32Bytes([]float32{1.5, -2})
	require.Len(t, b, 8)
	assert.Equal(t, float32(-2), math.Float32frombits(binary.LittleEndian.Uint32(b[4:])))

	u := uint32Bytes([]uint32{7, 0x01020304})
	assert.Equal(t, []byte{7, 0, 0, 0, 4, 3, 2, 1}, u)
}

func TestNewSceneUploadsAndWiresLights(t *testing.T) {
	dev := coretest.NewDevice()
	s, err := NewScene(dev, coretest.NewLibrary())
	require.NoError(t, err)

	require.Len(t, dev.Buffers, 2)
	assert.Len(t, dev.Buffers[0].Data, 24*6*4)
	assert.Len(t, dev.Buffers[1].Data, 36*4)

	assert.Equal(t, 9, s.World.MeshInstanceCount())
	assert.Len(t, s.World.ShadowCasters(), 9)
	assert.Len(t, s.World.Lights(), 3)
	assert.Equal(t, 3, s.Sun.NumCascades())
	assert.Equal(t, light.FalloffInverseSquared, s.Lamp.Falloff())
	assert.Equal(t, []*core.Camera{s.Camera}, s.Composition.Cameras())

	s.SetAspect(1600, 800)
	assert.Equal(t, float32(2), s.Camera.AspectRatio)

	s.Release()
	assert.True(t, dev.Buffers[0].Destroyed)
}

func TestSceneUpdateMovesSpotLight(t *testing.T) {
	s, err := NewScene(coretest.NewDevice(), coretest.NewLibrary())
	require.NoError(t, err)

	before := s.Spot.Node.Position
	s.Update(1)
	after := s.Spot.Node.Position
	assert.NotEqual(t, before, after)
	assert.InDelta(t, 4, mgl32.Vec2{after.X(), after.Z()}.Len(), 1e-4)
	assert.Equal(t, float32(8), after.Y())
}
