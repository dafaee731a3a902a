package shadow

import (
	"fmt"
	"math"

	"github.com/gekko3d/forward/forwardrt/rt/core"
	"github.com/gekko3d/forward/forwardrt/rt/light"
)

// BlurLibrary supplies the separable VSM blur shaders. packed selects the
// VSM8 variant that encodes moments into RGBA8.
type BlurLibrary interface {
	BlurShader(mode light.BlurMode, size int, packed bool) (core.Shader, error)
}

// GaussWeights returns size normalized Gaussian taps with sigma (size-1)/6.
// Sizes are clamped to [1, MaxBlurSize].
func GaussWeights(size int) []float32 {
	size = max(1, min(size, light.MaxBlurSize))
	if size == 1 {
		return []float32{1}
	}
	sigma := float64(size-1) / 6
	half := float64(size-1) * 0.5
	values := make([]float64, size)
	var sum float64
	for i := range values {
		x := float64(i) - half
		values[i] = math.Exp(-(x * x) / (2 * sigma * sigma))
		sum += values[i]
	}
	out := make([]float32, size)
	for i, v := range values {
		out[i] = float32(v / sum)
	}
	return out
}

type mapKey struct {
	cube       bool
	shadowType light.ShadowType
	resolution int
}

// MapCache pools scratch maps used as the intermediate blur target.
type MapCache struct {
	maps map[mapKey][]*light.ShadowMap
}

func NewMapCache() *MapCache {
	return &MapCache{maps: make(map[mapKey][]*light.ShadowMap)}
}

func keyFor(l *light.Light) mapKey {
	return mapKey{cube: l.Type() == light.Omni, shadowType: l.ShadowType(), resolution: l.ShadowResolution()}
}

// Get pops a matching map or allocates one.
func (c *MapCache) Get(d core.Device, l *light.Light) (*light.ShadowMap, error) {
	key := keyFor(l)
	if pool := c.maps[key]; len(pool) > 0 {
		sm := pool[len(pool)-1]
		c.maps[key] = pool[:len(pool)-1]
		return sm, nil
	}
	sm, err := light.CreateShadowMap(d, l)
	if err != nil {
		return nil, err
	}
	sm.Cached = true
	return sm, nil
}

// Add returns a map taken with Get.
func (c *MapCache) Add(l *light.Light, sm *light.ShadowMap) {
	key := keyFor(l)
	c.maps[key] = append(c.maps[key], sm)
}

// Len counts pooled maps.
func (c *MapCache) Len() int {
	n := 0
	for _, pool := range c.maps {
		n += len(pool)
	}
	return n
}

// Clear destroys every pooled map.
func (c *MapCache) Clear() {
	for _, pool := range c.maps {
		for _, sm := range pool {
			sm.Destroy()
		}
	}
	clear(c.maps)
}

// RenderVSM blurs a VSM map horizontally into a scratch map and vertically back.
func (r *Renderer) RenderVSM(l *light.Light, camera *core.Camera) error {
	if r.Blur == nil {
		core.WarnOnce(r.ctx.Logger, "vsm-no-blur", "shadow: no blur shaders, VSM maps are left unfiltered")
		return nil
	}
	d := r.ctx.Device
	rd := l.Data(dataCamera(l, camera), 0)
	if rd.ShadowCamera == nil || rd.ShadowCamera.RenderTarget == nil {
		return nil
	}
	orig := rd.ShadowCamera.RenderTarget

	size := l.VSMBlurSize()
	shader, err := r.Blur.BlurShader(l.VSMBlurMode, size, l.ShadowType() == light.VSM8)
	if err != nil || shader == nil || shader.Failed() {
		core.WarnOnce(r.ctx.Logger, fmt.Sprintf("vsm-blur-%d-%d", l.VSMBlurMode, size), "shadow: blur shader unavailable: %v", err)
		return nil
	}

	temp, err := r.MapCache.Get(d, l)
	if err != nil {
		return fmt.Errorf("vsm blur %s: %w", l.Name, err)
	}
	defer r.MapCache.Add(l, temp)
	tempRT := temp.Targets[0]

	d.SetBlendState(core.BlendNone)
	res := orig.Width()
	scissor := &core.PixelRect{X: 1, Y: 1, W: res - 2, H: orig.Height() - 2}
	texel := 1 / float32(l.ShadowResolution())
	if l.VSMBlurMode == light.BlurGaussian {
		r.weightID.SetValue(GaussWeights(size))
	}

	r.sourceID.SetValue(orig.Color)
	r.pixelOffsetID.SetValue([2]float32{texel, 0})
	if err := d.DrawQuad(tempRT, shader, scissor); err != nil {
		return fmt.Errorf("vsm blur %s horizontal: %w", l.Name, err)
	}

	r.sourceID.SetValue(tempRT.Color)
	r.pixelOffsetID.SetValue([2]float32{0, texel})
	if err := d.DrawQuad(orig, shader, scissor); err != nil {
		return fmt.Errorf("vsm blur %s vertical: %w", l.Name, err)
	}
	return nil
}
