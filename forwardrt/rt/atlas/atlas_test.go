package atlas

import (
	"fmt"
	"testing"

	"github.com/gekko3d/forward/forwardrt/rt/core"
	"github.com/gekko3d/forward/forwardrt/rt/core/coretest"
	"github.com/gekko3d/forward/forwardrt/rt/light"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/colornames"
)

func newAtlas() (*LightTextureAtlas, *coretest.Device) {
	dev := coretest.NewDevice()
	return New(core.NewRenderContext(dev, nil)), dev
}

func visibleLights(dev *coretest.Device, typ light.Type, n int) []*light.Light {
	out := make([]*light.Light, n)
	for i := range out {
		l := light.New(fmt.Sprintf("l%d", i), typ, dev.Caps())
		l.SetCastShadows(true)
		l.BeginFrame()
		l.VisibleThisFrame = true
		l.MaxScreenSize = float32(n-i) / float32(n)
		out[i] = l
	}
	return out
}

func params(split ...int) core.LightingParams {
	p := core.DefaultLightingParams()
	p.ClusteredEnabled = true
	p.AtlasSplit = split
	return p
}

func TestTenSpotsInFourByFourGrid(t *testing.T) {
	a, dev := newAtlas()
	lights := visibleLights(dev, light.Spot, 10)

	require.NoError(t, a.Update(lights, params(4)))

	require.Len(t, a.Slots, 16)
	assert.Equal(t, 10, a.UsedSlots())
	assert.Equal(t, 2048, a.ShadowAtlas.Resolution())
	for _, l := range lights {
		assert.True(t, l.AtlasViewportAllocated)
		assert.Same(t, a.ShadowAtlas, l.ShadowMap)
	}
}

func TestSlotAssignmentIsStable(t *testing.T) {
	a, dev := newAtlas()
	lights := visibleLights(dev, light.Spot, 7)
	require.NoError(t, a.Update(lights, params()))

	first := make([]int, len(lights))
	for i, l := range lights {
		first[i] = l.AtlasSlotIndex
		assert.True(t, l.AtlasSlotUpdated)
	}

	for frame := 0; frame < 3; frame++ {
		for i, l := range lights {
			l.BeginFrame()
			l.VisibleThisFrame = true
			l.MaxScreenSize = float32(len(lights)-i) / float32(len(lights))
		}
		require.NoError(t, a.Update(lights, params()))
		for i, l := range lights {
			assert.Equal(t, first[i], l.AtlasSlotIndex, "light %d moved on frame %d", i, frame)
			assert.False(t, l.AtlasSlotUpdated)
		}
	}
}

func TestSlotsDoNotOverlap(t *testing.T) {
	splits := [][]int{
		{1},
		{3},
		{4},
		{2, 2, 1, 3, 1},
		{3, 1, 2, 1, 1, 4, 1, 1, 1, 2},
	}
	for _, split := range splits {
		a, _ := newAtlas()
		a.Subdivide(0, split)

		var area float64
		for i, s := range a.Slots {
			area += float64(s.Rect[2] * s.Rect[3])
			if i > 0 {
				assert.GreaterOrEqual(t, a.Slots[i-1].Size, s.Size, "slots sorted by size for %v", split)
			}
			for _, o := range a.Slots[i+1:] {
				assert.False(t, overlaps(s.Rect, o.Rect), "split %v: %v overlaps %v", split, s.Rect, o.Rect)
			}
		}
		assert.LessOrEqual(t, area, 1.0+1e-5, "split %v", split)
	}
}

func overlaps(a, b mgl32.Vec4) bool {
	const eps = 1e-6
	return a[0] < b[0]+b[2]-eps && b[0] < a[0]+a[2]-eps &&
		a[1] < b[1]+b[3]-eps && b[1] < a[1]+a[3]-eps
}

func TestSubdivideBumpsVersionOnlyOnChange(t *testing.T) {
	a, _ := newAtlas()
	a.Subdivide(9, nil)
	v := a.Version
	require.Len(t, a.Slots, 9)

	a.Subdivide(7, nil)
	assert.Equal(t, v, a.Version, "ceil(sqrt(7)) is still 3")

	a.Subdivide(10, nil)
	assert.Equal(t, v+1, a.Version)
	assert.Len(t, a.Slots, 16)
}

func TestResolutionChangeInvalidatesSlots(t *testing.T) {
	a, dev := newAtlas()
	lights := visibleLights(dev, light.Spot, 2)
	require.NoError(t, a.Update(lights, params()))
	v := a.Version

	p := params()
	p.ShadowAtlasResolution = 4096
	for _, l := range lights {
		l.BeginFrame()
		l.VisibleThisFrame = true
	}
	require.NoError(t, a.Update(lights, p))

	assert.Greater(t, a.Version, v)
	assert.Equal(t, 4096, a.ShadowAtlas.Resolution())
	for _, l := range lights {
		assert.True(t, l.AtlasSlotUpdated, "slots reassigned after a rebuild")
	}
}

func TestOmniFacesTileTheSlot(t *testing.T) {
	a, dev := newAtlas()
	omni := visibleLights(dev, light.Omni, 1)[0]
	require.NoError(t, a.Update([]*light.Light{omni}, params()))

	require.Equal(t, 6, omni.RenderDataCount())
	third := float32(1) / 3
	want := [6][2]float32{{0, 0}, {0, third}, {third, 0}, {third, third}, {2 * third, 0}, {2 * third, third}}
	for face := 0; face < 6; face++ {
		vp := omni.Data(nil, face).ShadowViewport
		assert.InDelta(t, want[face][0], vp[0], 1e-6, "face %d x", face)
		assert.InDelta(t, want[face][1], vp[1], 1e-6, "face %d y", face)
		assert.InDelta(t, third, vp[2], 1e-6)
		assert.Equal(t, vp, omni.Data(nil, face).ShadowScissor)
	}
}

func TestSpotViewportIsInsetInsideScissor(t *testing.T) {
	a, dev := newAtlas()
	spot := visibleLights(dev, light.Spot, 1)[0]
	require.NoError(t, a.Update([]*light.Light{spot}, params()))

	rd := spot.Data(nil, 0)
	assert.Equal(t, mgl32.Vec4{0, 0, 1, 1}, rd.ShadowScissor)
	assert.Greater(t, rd.ShadowViewport[0], float32(0))
	assert.Less(t, rd.ShadowViewport[2], float32(1))
}

func TestInvisibleAndShadowlessLightsGetNoSlot(t *testing.T) {
	a, dev := newAtlas()
	lights := visibleLights(dev, light.Spot, 3)
	lights[1].VisibleThisFrame = false
	lights[2].SetCastShadows(false)

	require.NoError(t, a.Update(lights, params()))

	assert.True(t, lights[0].AtlasViewportAllocated)
	assert.False(t, lights[1].AtlasViewportAllocated)
	assert.False(t, lights[2].AtlasViewportAllocated)
	assert.Zero(t, lights[2].RenderDataCount())
}

func TestDebugImage(t *testing.T) {
	a, dev := newAtlas()
	require.NoError(t, a.Update(visibleLights(dev, light.Spot, 1), params(2)))

	img := a.DebugImage(64)
	assert.Equal(t, 64, img.Bounds().Dx())
	// Largest slot (first in order) sits at the origin and is used.
	assert.Equal(t, colornames.Orange, img.RGBAAt(16, 16))
	assert.Equal(t, colornames.Dimgray, img.RGBAAt(48, 48))
}
