package gpu

import (
	"errors"
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/gekko3d/forward/forwardrt/rt/core"
)

var errNoFrame = errors.New("gpu: no frame in progress")

func loadOp(clear bool) wgpu.LoadOp {
	if clear {
		return wgpu.LoadOpClear
	}
	return wgpu.LoadOpLoad
}

func storeOp(store bool) wgpu.StoreOp {
	if store {
		return wgpu.StoreOpStore
	}
	return wgpu.StoreOpDiscard
}

// attachments resolves target to its views. nil is the surface plus the
// device's depth buffer.
func (d *Device) attachments(target *core.RenderTarget) (color, depth *wgpu.TextureView, f passFormats, err error) {
	if target == nil {
		if d.backView == nil {
			return nil, nil, f, fmt.Errorf("backbuffer: %w", errNoFrame)
		}
		return d.backView, d.backDepth.face(0), passFormats{color: d.SurfaceFormat, depth: backbufferDepthFormat}, nil
	}
	if !target.Valid() {
		return nil, nil, f, fmt.Errorf("render target %s is not valid", target.Name)
	}
	if target.Color != nil {
		t, ok := target.Color.(*Texture)
		if !ok {
			return nil, nil, f, fmt.Errorf("render target %s: foreign color texture %T", target.Name, target.Color)
		}
		color, f.color = t.face(target.Face), t.format
	}
	if target.Depth != nil {
		t, ok := target.Depth.(*Texture)
		if !ok {
			return nil, nil, f, fmt.Errorf("render target %s: foreign depth texture %T", target.Name, target.Depth)
		}
		depth, f.depth = t.face(target.Face), t.format
	}
	if color == nil && depth == nil {
		return nil, nil, f, fmt.Errorf("render target %s has no attachment for face %d", target.Name, target.Face)
	}
	return color, depth, f, nil
}

func (d *Device) targetSize(target *core.RenderTarget) (int, int) {
	if target == nil {
		return d.width, d.height
	}
	return target.Width(), target.Height()
}

func (d *Device) StartPass(target *core.RenderTarget, color core.ColorOps, depth core.DepthStencilOps) error {
	if d.encoder == nil {
		return errNoFrame
	}
	if d.pass != nil {
		return fmt.Errorf("StartPass %s: a pass is already open", targetName(target))
	}
	colorView, depthView, formats, err := d.attachments(target)
	if err != nil {
		return err
	}

	desc := &wgpu.RenderPassDescriptor{Label: targetName(target)}
	if colorView != nil {
		c := color.ClearValue
		desc.ColorAttachments = []wgpu.RenderPassColorAttachment{{
			View:       colorView,
			LoadOp:     loadOp(color.Clear),
			StoreOp:    storeOp(color.Store),
			ClearValue: wgpu.Color{R: float64(c[0]), G: float64(c[1]), B: float64(c[2]), A: float64(c[3])},
		}}
	}
	if depthView != nil {
		att := &wgpu.RenderPassDepthStencilAttachment{
			View:            depthView,
			DepthLoadOp:     loadOp(depth.ClearDepth),
			DepthStoreOp:    storeOp(depth.StoreDepth),
			DepthClearValue: depth.ClearDepthValue,
		}
		if hasStencil(formats.depth) {
			att.StencilLoadOp = loadOp(depth.ClearStencil)
			att.StencilStoreOp = storeOp(depth.StoreStencil)
			att.StencilClearValue = depth.ClearStencilValue
		}
		desc.DepthStencilAttachment = att
	}

	d.pass = d.encoder.BeginRenderPass(desc)
	d.target = target
	d.formats = formats
	w, h := d.targetSize(target)
	d.SetViewport(0, 0, w, h)
	d.SetScissor(0, 0, w, h)
	return nil
}

func (d *Device) EndPass() error {
	if d.pass == nil {
		return fmt.Errorf("EndPass without StartPass")
	}
	err := d.pass.End()
	d.pass.Release()
	d.pass = nil
	d.target = nil
	d.formats = passFormats{}
	if err != nil {
		return fmt.Errorf("end pass: %w", err)
	}
	return nil
}

func clampRect(x, y, w, h, tw, th int) (int, int, int, int) {
	x = min(max(x, 0), tw)
	y = min(max(y, 0), th)
	w = min(max(w, 0), tw-x)
	h = min(max(h, 0), th-y)
	return x, y, w, h
}

func (d *Device) SetViewport(x, y, w, h int) {
	d.viewport = [4]float32{float32(x), float32(y), float32(max(w, 1)), float32(max(h, 1))}
	if d.pass != nil {
		v := d.viewport
		d.pass.SetViewport(v[0], v[1], v[2], v[3], 0, 1)
	}
}

func (d *Device) SetScissor(x, y, w, h int) {
	tw, th := d.targetSize(d.target)
	x, y, w, h = clampRect(x, y, w, h, tw, th)
	d.scissor = [4]uint32{uint32(x), uint32(y), uint32(w), uint32(h)}
	if d.pass != nil {
		s := d.scissor
		d.pass.SetScissorRect(s[0], s[1], s[2], s[3])
	}
}

func (d *Device) SetShader(s core.Shader) bool {
	sh, ok := s.(*Shader)
	if !ok || sh == nil || sh.Failed() {
		return false
	}
	d.state.shader = sh
	return true
}

func (d *Device) SetBlendState(s core.BlendState) { d.state.blend = s }
func (d *Device) SetDepthState(s core.DepthState) { d.state.depth = s }
func (d *Device) SetCullMode(m core.CullMode)     { d.state.cull = m }
func (d *Device) SetDepthBias(enabled bool)       { d.state.biasEnabled = enabled }

func (d *Device) SetDepthBiasValues(constant, slope float32) {
	d.state.bias, d.state.slope = constant, slope
}

func (d *Device) SetStencilState(front, back *core.StencilParams) {
	d.state.front, d.state.back = front, back
	if d.pass != nil && front != nil {
		d.pass.SetStencilReference(front.Ref)
	}
}

func (d *Device) SetVertexBuffer(b core.Buffer) {
	d.state.vertex, _ = b.(*Buffer)
}

func (d *Device) SetIndexBuffer(b core.Buffer) {
	d.state.index, _ = b.(*Buffer)
}

// Draw issues p with the current shader and state. Draws without a pass or a
// bound shader are dropped.
func (d *Device) Draw(p core.Primitive, instances int) {
	s := d.state.shader
	if d.pass == nil || s == nil {
		core.WarnOnce(d.logger, "draw-unbound", "gpu: draw without an open pass or shader")
		return
	}
	if !s.desc.Fullscreen && d.state.vertex == nil {
		return
	}
	if !d.bindPipeline(s, p.Topology) {
		return
	}
	n := uint32(max(instances, 1))
	if s.desc.Fullscreen {
		d.pass.Draw(3, n, 0, 0)
		return
	}
	vb := d.state.vertex.buf
	d.pass.SetVertexBuffer(0, vb, 0, wgpu.WholeSize)
	if p.Indexed && d.state.index != nil {
		d.pass.SetIndexBuffer(d.state.index.buf, wgpu.IndexFormatUint32, 0, wgpu.WholeSize)
		d.pass.DrawIndexed(uint32(p.Count), n, uint32(p.Base), 0, 0)
		return
	}
	d.pass.Draw(uint32(p.Count), n, uint32(p.Base), 0)
}

func (d *Device) bindPipeline(s *Shader, t core.PrimitiveTopology) bool {
	pl, err := d.pipeline(t)
	if err != nil {
		core.WarnOnce(d.logger, "pipeline-"+s.desc.Name, "gpu: %v", err)
		return false
	}
	d.pass.SetPipeline(pl)
	return d.bind(s)
}

// Clear draws a full-viewport triangle that writes the requested values
// through the current scissor. A pass must be open.
func (d *Device) Clear(opts core.ClearOptions) {
	if d.pass == nil || opts.Flags == 0 {
		return
	}
	saved := d.state
	d.state.reset()
	d.state.shader = d.clear
	d.state.cull = core.CullNone
	if opts.Flags&core.ClearColor == 0 {
		d.state.blend = core.BlendNoWrite
	}
	d.state.depth = core.DepthState{Write: opts.Flags&core.ClearDepth != 0}
	if opts.Flags&core.ClearStencil != 0 {
		replace := &core.StencilParams{
			Func:      core.CompareAlways,
			Ref:       opts.Stencil,
			ReadMask:  0xff,
			WriteMask: 0xff,
			ZPass:     core.StencilReplace,
			Fail:      core.StencilReplace,
			ZFail:     core.StencilReplace,
		}
		d.state.front, d.state.back = replace, replace
		d.pass.SetStencilReference(opts.Stencil)
	}
	d.scope.Resolve("clear_color").SetValue(opts.Color)
	d.scope.Resolve("clear_depth").SetValue(opts.Depth)
	d.Draw(core.Primitive{Topology: core.TopologyTriangles, Count: 3}, 1)

	d.state = saved
	if saved.front != nil {
		d.pass.SetStencilReference(saved.front.Ref)
	}
}

func (d *Device) DrawQuad(target *core.RenderTarget, shader core.Shader, scissor *core.PixelRect) error {
	s, ok := shader.(*Shader)
	if !ok || s == nil || s.Failed() {
		return fmt.Errorf("draw quad into %s: %w", targetName(target), core.ErrShaderFailed)
	}
	if d.pass != nil {
		return fmt.Errorf("draw quad into %s: a pass is already open", targetName(target))
	}
	err := d.StartPass(target,
		core.ColorOps{Store: true},
		core.DepthStencilOps{StoreDepth: true, StoreStencil: true})
	if err != nil {
		return err
	}
	if scissor != nil {
		d.SetScissor(scissor.X, scissor.Y, scissor.W, scissor.H)
	}
	saved := d.state
	d.state.shader = s
	d.state.depth = core.DepthState{}
	d.state.cull = core.CullNone
	d.state.front, d.state.back = nil, nil
	d.state.biasEnabled = false
	d.Draw(core.Primitive{Topology: core.TopologyTriangles, Count: 3}, 1)
	d.state = saved
	return d.EndPass()
}

func targetName(t *core.RenderTarget) string {
	if t == nil {
		return "backbuffer"
	}
	return t.Name
}
