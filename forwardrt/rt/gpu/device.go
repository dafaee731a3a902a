package gpu

import (
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/gekko3d/forward/forwardrt/rt/core"
)

const (
	backbufferDepthFormat = wgpu.TextureFormatDepth24PlusStencil8
	uniformRingSize       = 4 << 20
)

// Device implements core.Device on top of a wgpu device. All recording
// happens into one command encoder opened by BeginFrame and submitted by
// EndFrame.
type Device struct {
	Device        *wgpu.Device
	Queue         *wgpu.Queue
	SurfaceFormat wgpu.TextureFormat

	logger core.Logger
	caps   core.Capabilities
	scope  *core.Scope
	width  int
	height int

	backView  *wgpu.TextureView
	backDepth *Texture

	encoder *wgpu.CommandEncoder
	pass    *wgpu.RenderPassEncoder
	target  *core.RenderTarget
	formats passFormats

	state     drawState
	viewport  [4]float32
	scissor   [4]uint32
	pipelines map[pipelineKey]*wgpu.RenderPipeline

	ring      *uniformRing
	linear    *wgpu.Sampler
	compare   *wgpu.Sampler
	transient []*wgpu.BindGroup

	fallbacks    map[TextureSlot]*Texture
	uncleared    []*Texture
	emptyStorage *Buffer
	clear        *Shader
}

// New wraps device. width and height are the current surface size.
func New(device *wgpu.Device, queue *wgpu.Queue, surfaceFormat wgpu.TextureFormat, width, height int, logger core.Logger) (*Device, error) {
	d := &Device{
		Device:        device,
		Queue:         queue,
		SurfaceFormat: surfaceFormat,
		logger:        core.OrNop(logger),
		scope:         core.NewScope(),
		pipelines:     make(map[pipelineKey]*wgpu.RenderPipeline),
		fallbacks:     make(map[TextureSlot]*Texture),
		// 8192 is wgpu's default MaxTextureDimension2D; rgba32float is
		// not filterable without an optional feature.
		caps: core.Capabilities{
			MaxTextureSize:             8192,
			SupportsDepthShadow:        true,
			TextureFloatRenderable:     false,
			TextureHalfFloatRenderable: true,
		},
	}
	var err error
	d.ring, err = newUniformRing(device, uniformRingSize)
	if err != nil {
		return nil, err
	}
	d.linear, err = device.CreateSampler(&wgpu.SamplerDescriptor{
		Label:         "Linear Clamp Sampler",
		AddressModeU:  wgpu.AddressModeClampToEdge,
		AddressModeV:  wgpu.AddressModeClampToEdge,
		AddressModeW:  wgpu.AddressModeClampToEdge,
		MagFilter:     wgpu.FilterModeLinear,
		MinFilter:     wgpu.FilterModeLinear,
		MipmapFilter:  wgpu.MipmapFilterModeNearest,
		LodMaxClamp:   32,
		MaxAnisotropy: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("create linear sampler: %w", err)
	}
	d.compare, err = device.CreateSampler(&wgpu.SamplerDescriptor{
		Label:         "Shadow Comparison Sampler",
		AddressModeU:  wgpu.AddressModeClampToEdge,
		AddressModeV:  wgpu.AddressModeClampToEdge,
		AddressModeW:  wgpu.AddressModeClampToEdge,
		MagFilter:     wgpu.FilterModeLinear,
		MinFilter:     wgpu.FilterModeLinear,
		MipmapFilter:  wgpu.MipmapFilterModeNearest,
		LodMaxClamp:   32,
		Compare:       wgpu.CompareFunctionLessEqual,
		MaxAnisotropy: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("create comparison sampler: %w", err)
	}
	d.clear, err = d.CompileShader(clearShaderDesc)
	if err != nil {
		return nil, err
	}
	if err := d.Resize(width, height); err != nil {
		return nil, err
	}
	d.fallbackView(TextureSlot{Name: "shadowMap", Depth: true})
	d.fallbackView(TextureSlot{Name: "shadowMap", Depth: true, Cube: true})
	d.state.reset()
	return d, nil
}

func (d *Device) Caps() core.Capabilities    { return d.caps }
func (d *Device) Scope() *core.Scope         { return d.scope }
func (d *Device) BackbufferSize() (int, int) { return d.width, d.height }

// Resize recreates the backbuffer depth attachment.
func (d *Device) Resize(width, height int) error {
	if width == d.width && height == d.height && d.backDepth != nil {
		return nil
	}
	if d.backDepth != nil {
		d.backDepth.Destroy()
		d.backDepth = nil
	}
	d.width, d.height = max(1, width), max(1, height)
	tex, err := d.createTexture(core.TextureDescriptor{
		Name:   "Backbuffer Depth",
		Width:  d.width,
		Height: d.height,
		Format: core.FormatDepth,
	}, backbufferDepthFormat)
	if err != nil {
		return err
	}
	d.backDepth = tex
	return nil
}

// BeginFrame opens the frame's command encoder; view is the surface texture
// the backbuffer resolves to.
func (d *Device) BeginFrame(view *wgpu.TextureView) error {
	if d.encoder != nil {
		return fmt.Errorf("BeginFrame: previous frame was not ended")
	}
	encoder, err := d.Device.CreateCommandEncoder(nil)
	if err != nil {
		return fmt.Errorf("create command encoder: %w", err)
	}
	d.encoder = encoder
	d.backView = view
	d.ring.reset()
	d.clearFallbacks()
	return nil
}

// EndFrame closes any open pass and submits the recorded commands.
func (d *Device) EndFrame() error {
	if d.encoder == nil {
		return nil
	}
	if d.pass != nil {
		if err := d.EndPass(); err != nil {
			d.logger.Warnf("gpu: closing dangling pass: %v", err)
		}
	}
	defer func() {
		d.encoder.Release()
		d.encoder = nil
		d.backView = nil
		for _, bg := range d.transient {
			bg.Release()
		}
		d.transient = d.transient[:0]
	}()

	cmd, err := d.encoder.Finish(nil)
	if err != nil {
		return fmt.Errorf("finish encoder: %w", err)
	}
	defer cmd.Release()
	d.Queue.Submit(cmd)
	return nil
}

// Release frees every resource the device owns. Textures and buffers handed
// out earlier must be destroyed by their owners.
func (d *Device) Release() {
	for k, p := range d.pipelines {
		p.Release()
		delete(d.pipelines, k)
	}
	if d.backDepth != nil {
		d.backDepth.Destroy()
		d.backDepth = nil
	}
	for k, t := range d.fallbacks {
		t.Destroy()
		delete(d.fallbacks, k)
	}
	if d.emptyStorage != nil {
		d.emptyStorage.Destroy()
		d.emptyStorage = nil
	}
	if d.clear != nil {
		d.clear.Release()
	}
	d.ring.release()
	d.linear.Release()
	d.compare.Release()
}

func (d *Device) CreateBuffer(name string, usage core.BufferUsage, size int) (core.Buffer, error) {
	size = align(max(size, 16), 4)
	buf, err := d.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: name,
		Size:  uint64(size),
		Usage: bufferUsage(usage) | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("create buffer %s: %w", name, err)
	}
	return &Buffer{name: name, usage: usage, size: size, buf: buf}, nil
}

func (d *Device) WriteBuffer(b core.Buffer, data []byte) error {
	buf, ok := b.(*Buffer)
	if !ok || buf.buf == nil {
		return fmt.Errorf("write buffer: foreign or destroyed buffer %T", b)
	}
	if len(data) > buf.size {
		return fmt.Errorf("write buffer %s: %d bytes into %d", buf.name, len(data), buf.size)
	}
	if len(data)%4 != 0 {
		padded := make([]byte, align(len(data), 4))
		copy(padded, data)
		data = padded
	}
	if len(data) > 0 {
		d.Queue.WriteBuffer(buf.buf, 0, data)
	}
	return nil
}

func (d *Device) CreateTexture(desc core.TextureDescriptor) (core.Texture, error) {
	format, ok := textureFormat(desc.Format)
	if !ok {
		return nil, fmt.Errorf("create texture %s: unsupported format %d", desc.Name, desc.Format)
	}
	return d.createTexture(desc, format)
}

func (d *Device) createTexture(desc core.TextureDescriptor, format wgpu.TextureFormat) (*Texture, error) {
	if desc.Width <= 0 || desc.Height <= 0 {
		return nil, fmt.Errorf("create texture %s: bad size %dx%d", desc.Name, desc.Width, desc.Height)
	}
	if desc.Width > d.caps.MaxTextureSize || desc.Height > d.caps.MaxTextureSize {
		return nil, fmt.Errorf("create texture %s: %dx%d exceeds %d", desc.Name, desc.Width, desc.Height, d.caps.MaxTextureSize)
	}
	layers := uint32(1)
	if desc.Cubemap {
		layers = 6
	}
	tex, err := d.Device.CreateTexture(&wgpu.TextureDescriptor{
		Label: desc.Name,
		Size: wgpu.Extent3D{
			Width:              uint32(desc.Width),
			Height:             uint32(desc.Height),
			DepthOrArrayLayers: layers,
		},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     wgpu.TextureDimension2D,
		Format:        format,
		Usage:         wgpu.TextureUsageRenderAttachment | wgpu.TextureUsageTextureBinding | wgpu.TextureUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("create texture %s: %w", desc.Name, err)
	}

	t := &Texture{desc: desc, tex: tex, format: format}
	dim := wgpu.TextureViewDimension2D
	if desc.Cubemap {
		dim = wgpu.TextureViewDimensionCube
	}
	t.view, err = tex.CreateView(&wgpu.TextureViewDescriptor{
		Label:           desc.Name + " View",
		Format:          format,
		Dimension:       dim,
		MipLevelCount:   1,
		ArrayLayerCount: layers,
		Aspect:          viewAspect(format),
	})
	if err != nil {
		tex.Release()
		return nil, fmt.Errorf("create texture %s view: %w", desc.Name, err)
	}
	t.faces = make([]*wgpu.TextureView, layers)
	for i := range t.faces {
		t.faces[i], err = tex.CreateView(&wgpu.TextureViewDescriptor{
			Label:           fmt.Sprintf("%s Face %d", desc.Name, i),
			Format:          format,
			Dimension:       wgpu.TextureViewDimension2D,
			MipLevelCount:   1,
			BaseArrayLayer:  uint32(i),
			ArrayLayerCount: 1,
			Aspect:          wgpu.TextureAspectAll,
		})
		if err != nil {
			t.Destroy()
			return nil, fmt.Errorf("create texture %s face %d: %w", desc.Name, i, err)
		}
	}
	return t, nil
}

// viewAspect limits sampling views of combined depth/stencil formats to depth.
func viewAspect(f wgpu.TextureFormat) wgpu.TextureAspect {
	if hasStencil(f) {
		return wgpu.TextureAspectDepthOnly
	}
	return wgpu.TextureAspectAll
}

func align(n, a int) int {
	return (n + a - 1) / a * a
}
