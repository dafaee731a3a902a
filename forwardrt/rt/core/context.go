package core

import "github.com/go-gl/mathgl/mgl32"

// RenderContext is shared by every pipeline component for the lifetime of one
// graphics device. Caches record Generation() and rebuild when it moves.
type RenderContext struct {
	Device   Device
	Logger   Logger
	Profiler *Profiler

	generation int
	lost       bool
}

func NewRenderContext(d Device, l Logger) *RenderContext {
	return &RenderContext{Device: d, Logger: OrNop(l), Profiler: NewProfiler()}
}

func (c *RenderContext) Generation() int { return c.generation }
func (c *RenderContext) Lost() bool      { return c.lost }

// MarkLost is called by the device owner when the GPU device goes away.
func (c *RenderContext) MarkLost() {
	c.lost = true
}

// Restore attaches a replacement device and invalidates every cache.
func (c *RenderContext) Restore(d Device) {
	if d != nil {
		c.Device = d
	}
	c.lost = false
	c.generation++
}

type LightingParams struct {
	ClusteredEnabled      bool
	ShadowsEnabled        bool
	CookiesEnabled        bool
	ShadowAtlasResolution int
	CookieAtlasResolution int
	// AtlasSplit is nil for an automatic grid; otherwise the first entry is
	// the top-level grid and entry 1+i*n+j subdivides cell (i,j).
	AtlasSplit       []int
	Cells            [3]int
	MaxLightsPerCell int
}

func DefaultLightingParams() LightingParams {
	return LightingParams{
		ShadowsEnabled:        true,
		CookiesEnabled:        false,
		ShadowAtlasResolution: 2048,
		CookieAtlasResolution: 2048,
		Cells:                 [3]int{10, 3, 10},
		MaxLightsPerCell:      255,
	}
}

type SceneParams struct {
	Lighting     LightingParams
	AmbientLight mgl32.Vec3
	Exposure     float32
}

func NewSceneParams() *SceneParams {
	return &SceneParams{
		Lighting:     DefaultLightingParams(),
		AmbientLight: mgl32.Vec3{0.1, 0.1, 0.1},
		Exposure:     1,
	}
}
