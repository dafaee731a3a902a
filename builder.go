package forward

import (
	"errors"

	"github.com/gekko3d/forward/forwardrt/rt/composition"
	"github.com/gekko3d/forward/forwardrt/rt/core"
	"github.com/gekko3d/forward/forwardrt/rt/render"
)

var ErrNoDevice = errors.New("forward: renderer needs a device")

// FrameStats is handed to frame hooks after every RenderFrame.
type FrameStats struct {
	Frame    uint64
	Err      error
	Profiler *core.Profiler
}

type FrameHook func(stats FrameStats)

// Renderer is an assembled pipeline: the render context, the forward
// renderer and the configuration it was built from.
type Renderer struct {
	Context *core.RenderContext
	Forward *render.ForwardRenderer
	Config  Config

	hooks []FrameHook
	frame uint64
}

// RenderFrame renders comp and runs the frame hooks. A lost device is
// reported to the hooks like any other frame error.
func (r *Renderer) RenderFrame(comp *composition.LayerComposition) error {
	err := r.Forward.RenderFrame(comp)
	r.frame++
	stats := FrameStats{Frame: r.frame, Err: err, Profiler: r.Context.Profiler}
	for _, h := range r.hooks {
		h(stats)
	}
	return err
}

// Restore attaches a replacement device after a device loss.
func (r *Renderer) Restore(d core.Device) {
	r.Context.Restore(d)
}

func (r *Renderer) Logger() core.Logger { return r.Context.Logger }

type RendererBuilder struct {
	device  core.Device
	logger  core.Logger
	config  Config
	effects render.EffectLibrary
	hooks   []FrameHook
}

func NewRendererBuilder() *RendererBuilder {
	return &RendererBuilder{config: DefaultConfig()}
}

func (b *RendererBuilder) WithDevice(d core.Device) *RendererBuilder {
	b.device = d

	return b
}

func (b *RendererBuilder) WithLogger(l core.Logger) *RendererBuilder {
	b.logger = l

	return b
}

func (b *RendererBuilder) WithConfig(c Config) *RendererBuilder {
	b.config = c

	return b
}

func (b *RendererBuilder) WithEffects(e render.EffectLibrary) *RendererBuilder {
	b.effects = e

	return b
}

func (b *RendererBuilder) UseFrameHook(hooks ...FrameHook) *RendererBuilder {
	b.hooks = append(b.hooks, hooks...)

	return b
}

// Build validates the configuration and wires the pipeline. Without an
// explicit logger a DefaultLogger with the configured prefix is used.
func (b *RendererBuilder) Build() (*Renderer, error) {
	if b.device == nil {
		return nil, ErrNoDevice
	}
	if err := b.config.Validate(); err != nil {
		return nil, err
	}
	logger := b.logger
	if logger == nil {
		logger = core.NewDefaultLogger(b.config.LogPrefix, b.config.Debug)
	} else if b.config.Debug {
		logger.SetDebug(true)
	}

	ctx := core.NewRenderContext(b.device, logger)
	fr := render.New(ctx, b.config.SceneParams())
	if b.effects != nil {
		fr.SetEffects(b.effects)
	}
	logger.Debugf("renderer built: clustered=%t shadows=%t", b.config.Lighting.Clustered, b.config.Lighting.Shadows)

	return &Renderer{
		Context: ctx,
		Forward: fr,
		Config:  b.config,
		hooks:   append([]FrameHook(nil), b.hooks...),
	}, nil
}
