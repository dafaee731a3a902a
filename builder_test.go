package forward

import (
	"testing"

	"github.com/gekko3d/forward/forwardrt/rt/composition"
	"github.com/gekko3d/forward/forwardrt/rt/core"
	"github.com/gekko3d/forward/forwardrt/rt/core/coretest"
	"github.com/gekko3d/forward/forwardrt/rt/light"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type effects struct{}

func (effects) BlurShader(light.BlurMode, int, bool) (core.Shader, error) {
	return &coretest.Shader{ShaderName: "blur"}, nil
}

func (effects) CookieBlitShader() (core.Shader, error) {
	return &coretest.Shader{ShaderName: "cookie"}, nil
}

func TestBuildRequiresDevice(t *testing.T) {
	_, err := NewRendererBuilder().Build()
	assert.ErrorIs(t, err, ErrNoDevice)
}

func TestBuildRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Exposure = 0
	_, err := NewRendererBuilder().WithDevice(coretest.NewDevice()).WithConfig(cfg).Build()
	assert.Error(t, err)
}

func TestBuildAppliesConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Lighting.Clustered = true
	cfg.Lighting.Cells = [3]int{2, 2, 2}
	cfg.Exposure = 1.5

	r, err := NewRendererBuilder().
		WithDevice(coretest.NewDevice()).
		WithLogger(core.NewNopLogger()).
		WithConfig(cfg).
		WithEffects(effects{}).
		Build()
	require.NoError(t, err)

	scene := r.Forward.Scene
	assert.True(t, scene.Lighting.ClusteredEnabled)
	assert.Equal(t, [3]int{2, 2, 2}, scene.Lighting.Cells)
	assert.Equal(t, float32(1.5), scene.Exposure)
	assert.NotNil(t, r.Forward.Effects)
	assert.NotNil(t, r.Forward.Shadows.Blur)
	assert.NotNil(t, r.Logger())
}

func TestBuildDefaultsLogger(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Debug = true
	r, err := NewRendererBuilder().WithDevice(coretest.NewDevice()).WithConfig(cfg).Build()
	require.NoError(t, err)

	_, ok := r.Logger().(*core.DefaultLogger)
	assert.True(t, ok)
	assert.True(t, r.Logger().DebugEnabled())
}

func TestFrameHooksRunAfterEveryFrame(t *testing.T) {
	var frames []uint64
	hook := func(s FrameStats) {
		assert.NoError(t, s.Err)
		assert.NotNil(t, s.Profiler)
		frames = append(frames, s.Frame)
	}
	r, err := NewRendererBuilder().
		WithDevice(coretest.NewDevice()).
		WithLogger(core.NewNopLogger()).
		UseFrameHook(hook).
		Build()
	require.NoError(t, err)

	comp := composition.New()
	require.NoError(t, r.RenderFrame(comp))
	require.NoError(t, r.RenderFrame(comp))
	assert.Equal(t, []uint64{1, 2}, frames)
}

func TestLostDeviceReachesHooks(t *testing.T) {
	var got error
	r, err := NewRendererBuilder().
		WithDevice(coretest.NewDevice()).
		WithLogger(core.NewNopLogger()).
		UseFrameHook(func(s FrameStats) { got = s.Err }).
		Build()
	require.NoError(t, err)

	r.Context.MarkLost()
	err = r.RenderFrame(composition.New())
	assert.ErrorIs(t, err, core.ErrDeviceLost)
	assert.ErrorIs(t, got, core.ErrDeviceLost)

	r.Restore(nil)
	assert.NoError(t, r.RenderFrame(composition.New()))
}
