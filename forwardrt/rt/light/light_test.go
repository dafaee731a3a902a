package light

import (
	"testing"

	"github.com/gekko3d/forward/forwardrt/rt/core"
	"github.com/gekko3d/forward/forwardrt/rt/core/coretest"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fullCaps() core.Capabilities {
	return coretest.NewDevice().Caps()
}

func TestSplitDistancesStrictlyIncreasing(t *testing.T) {
	for n := 1; n <= MaxCascades; n++ {
		for _, dist := range []float32{0, 0.25, 0.5, 0.75, 1} {
			splits := SplitDistances(n, dist, 0.1, 500)
			require.Len(t, splits, n)
			assert.Equal(t, float32(500), splits[n-1], "n=%d d=%v", n, dist)
			for i := 1; i < n; i++ {
				assert.Less(t, splits[i-1], splits[i], "n=%d d=%v i=%d", n, dist, i)
			}
		}
	}
}

func TestSplitDistancesFourCascades(t *testing.T) {
	// Half way between the uniform splits (250.75, 500.5, 750.25) and the
	// logarithmic ones (5.62, 31.62, 177.83).
	splits := SplitDistances(4, 0.5, 1, 1000)

	assert.InDelta(t, 128.187, splits[0], 1e-2)
	assert.InDelta(t, 266.061, splits[1], 1e-2)
	assert.InDelta(t, 464.039, splits[2], 1e-2)
	assert.Equal(t, float32(1000), splits[3])
}

func TestGenerateSplitDistancesFillsLight(t *testing.T) {
	l := New("sun", Directional, fullCaps())
	l.SetNumCascades(3)
	l.CascadeDistribution = 1

	l.GenerateSplitDistances(1, 1000)

	// Pure logarithmic: near * (far/near)^(i/n).
	assert.InDelta(t, 10, l.CascadeDistances[0], 1e-3)
	assert.InDelta(t, 100, l.CascadeDistances[1], 1e-2)
	assert.Equal(t, float32(1000), l.CascadeDistances[2])
	assert.Equal(t, float32(1000), l.CascadeDistances[3])
}

func TestResolveShadowTypeFallbacks(t *testing.T) {
	none := core.Capabilities{}
	half := core.Capabilities{TextureHalfFloatRenderable: true}
	full := fullCaps()

	tests := []struct {
		name      string
		caps      core.Capabilities
		typ       Type
		requested ShadowType
		expected  ShadowType
	}{
		{"omni forced to PCF3", full, Omni, VSM16, PCF3},
		{"PCF5 without comparison sampling", none, Spot, PCF5, PCF3},
		{"PCF5 supported", full, Spot, PCF5, PCF5},
		{"VSM32 without float", half, Directional, VSM32, VSM16},
		{"VSM32 without float or half", none, Directional, VSM32, VSM8},
		{"VSM16 without half", none, Spot, VSM16, VSM8},
		{"VSM32 supported", full, Spot, VSM32, VSM32},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ResolveShadowType(tc.caps, tc.typ, tc.requested)
			assert.Equal(t, tc.expected, got)
			assert.Equal(t, got, ResolveShadowType(tc.caps, tc.typ, got), "resolution must be idempotent")
		})
	}
}

func TestResolveShadowTypeMonotonic(t *testing.T) {
	for _, caps := range []core.Capabilities{{}, {TextureHalfFloatRenderable: true}} {
		assert.Equal(t,
			ResolveShadowType(caps, Directional, VSM16),
			ResolveShadowType(caps, Directional, VSM32))
	}
}

func TestKeyTracksShaderRelevantFields(t *testing.T) {
	l := New("spot", Spot, fullCaps())
	k0 := l.Key()

	l.SetCastShadows(true)
	k1 := l.Key()
	assert.NotEqual(t, k0, k1)

	l.SetShadowType(VSM16)
	k2 := l.Key()
	assert.NotEqual(t, k1, k2)

	l.SetFalloff(FalloffInverseSquared)
	assert.NotEqual(t, k2, l.Key())

	l.Intensity = 5
	assert.Equal(t, l.Key(), l.Key())

	dir := New("sun", Directional, fullCaps())
	before := dir.Key()
	dir.SetNumCascades(4)
	assert.NotEqual(t, before, dir.Key())
	assert.Equal(t, uint32(3), (dir.Key()>>8)&3)
}

func TestRenderDataOnePerCameraFace(t *testing.T) {
	sun := New("sun", Directional, fullCaps())
	camA := core.NewCamera("a")
	camB := core.NewCamera("b")

	h1 := sun.RenderData(camA, 0)
	h2 := sun.RenderData(camA, 0)
	h3 := sun.RenderData(camB, 0)
	h4 := sun.RenderData(camA, 1)

	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
	assert.NotEqual(t, h1, h4)
	assert.Equal(t, 3, sun.RenderDataCount())
	assert.Equal(t, camB.ID, sun.At(h3).CameraID)

	spot := New("spot", Spot, fullCaps())
	assert.Equal(t, spot.RenderData(camA, 0), spot.RenderData(camB, 0), "local lights ignore the camera")
}

func TestShadowSettingChangeDropsRenderData(t *testing.T) {
	dev := coretest.NewDevice()
	l := New("spot", Spot, dev.Caps())
	l.SetCastShadows(true)

	sm, err := CreateShadowMap(dev, l)
	require.NoError(t, err)
	l.ShadowMap = sm
	l.RenderData(nil, 0)
	require.Equal(t, 1, l.RenderDataCount())

	l.SetShadowResolution(512)

	assert.Nil(t, l.ShadowMap)
	assert.Zero(t, l.RenderDataCount())
	assert.True(t, dev.Textures[0].Destroyed)
}

func TestCachedShadowMapIsDetachedNotDestroyed(t *testing.T) {
	dev := coretest.NewDevice()
	atlas, err := CreateAtlas(dev, 1024, PCF3)
	require.NoError(t, err)
	atlas.Cached = true

	l := New("omni", Omni, dev.Caps())
	l.SetCastShadows(true)
	l.ShadowMap = atlas
	l.SetCastShadows(false)

	assert.Nil(t, l.ShadowMap)
	assert.False(t, dev.Textures[0].Destroyed)
}

func TestVSMBlurSizeOddAndCapped(t *testing.T) {
	l := New("spot", Spot, fullCaps())
	l.SetVSMBlurSize(4)
	assert.Equal(t, 5, l.VSMBlurSize())
	l.SetVSMBlurSize(100)
	assert.Equal(t, MaxBlurSize, l.VSMBlurSize())
	l.SetVSMBlurSize(0)
	assert.Equal(t, 1, l.VSMBlurSize())
}

func TestBeginFrame(t *testing.T) {
	sun := New("sun", Directional, fullCaps())
	spot := New("spot", Spot, fullCaps())
	spot.VisibleThisFrame = true
	spot.MaxScreenSize = 0.5
	spot.AtlasSlotUpdated = true

	sun.BeginFrame()
	spot.BeginFrame()

	assert.True(t, sun.VisibleThisFrame)
	assert.False(t, spot.VisibleThisFrame)
	assert.Zero(t, spot.MaxScreenSize)
	assert.False(t, spot.AtlasSlotUpdated)
}

func TestShadowMapShapes(t *testing.T) {
	dev := coretest.NewDevice()

	omni := New("omni", Omni, dev.Caps())
	cube, err := CreateShadowMap(dev, omni)
	require.NoError(t, err)
	assert.Len(t, cube.Targets, 6)
	assert.True(t, cube.Texture.Cubemap())

	spot := New("spot", Spot, dev.Caps())
	spot.SetShadowType(VSM16)
	vsm, err := CreateShadowMap(dev, spot)
	require.NoError(t, err)
	require.Len(t, vsm.Targets, 1)
	assert.Equal(t, core.FormatRGBA16F, vsm.Texture.Format())
	assert.NotNil(t, vsm.Targets[0].Depth)
}

func TestBoundingVolumes(t *testing.T) {
	omni := New("omni", Omni, fullCaps())
	omni.Node.Position = mgl32.Vec3{1, 2, 3}
	omni.AttenuationEnd = 5
	assert.Equal(t, float32(5), omni.BoundingSphere().Radius)
	assert.True(t, omni.BoundingBox().HalfExtents.ApproxEqual(mgl32.Vec3{5, 5, 5}))

	spot := New("spot", Spot, fullCaps())
	spot.AttenuationEnd = 10
	spot.SetConeAngles(20, 30)
	s := spot.BoundingSphere()
	// Sphere sits below the light, along local -Y.
	assert.Less(t, s.Center.Y(), float32(0))
	box := spot.BoundingBox()
	assert.InDelta(t, -10, box.Min().Y(), 1e-4)
	assert.InDelta(t, 0, box.Max().Y(), 1e-4)
}
