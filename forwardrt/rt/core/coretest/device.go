// Package coretest provides an in-memory core.Device that records every call.
package coretest

import (
	"fmt"

	"github.com/gekko3d/forward/forwardrt/rt/core"
)

type Texture struct {
	Desc      core.TextureDescriptor
	Destroyed bool
}

func (t *Texture) Name() string               { return t.Desc.Name }
func (t *Texture) Width() int                 { return t.Desc.Width }
func (t *Texture) Height() int                { return t.Desc.Height }
func (t *Texture) Format() core.TextureFormat { return t.Desc.Format }
func (t *Texture) Cubemap() bool              { return t.Desc.Cubemap }
func (t *Texture) Destroy()                   { t.Destroyed = true }

type Buffer struct {
	Name      string
	Usage     core.BufferUsage
	Data      []byte
	Destroyed bool
}

func (b *Buffer) Size() int { return len(b.Data) }
func (b *Buffer) Destroy()  { b.Destroyed = true }

type Shader struct {
	ShaderName string
	Broken     bool
}

func (s *Shader) Name() string { return s.ShaderName }
func (s *Shader) Failed() bool { return s.Broken }

// Call is one recorded device operation.
type Call struct {
	Op     string
	Target *core.RenderTarget
	Shader core.Shader
	Arg    any
}

type Device struct {
	Capabilities core.Capabilities
	Width        int
	Height       int

	Calls    []Call
	Textures []*Texture
	Buffers  []*Buffer

	FailBuffers bool
	scope       *core.Scope
	inPass      bool
	target      *core.RenderTarget
}

func NewDevice() *Device {
	return &Device{
		Capabilities: core.Capabilities{
			MaxTextureSize:             8192,
			SupportsDepthShadow:        true,
			TextureFloatRenderable:     true,
			TextureHalfFloatRenderable: true,
		},
		Width:  1280,
		Height: 720,
		scope:  core.NewScope(),
	}
}

func (d *Device) record(c Call) { d.Calls = append(d.Calls, c) }

func (d *Device) Caps() core.Capabilities    { return d.Capabilities }
func (d *Device) Scope() *core.Scope         { return d.scope }
func (d *Device) BackbufferSize() (int, int) { return d.Width, d.Height }

func (d *Device) CreateTexture(desc core.TextureDescriptor) (core.Texture, error) {
	t := &Texture{Desc: desc}
	d.Textures = append(d.Textures, t)
	d.record(Call{Op: "CreateTexture", Arg: desc})
	return t, nil
}

func (d *Device) CreateBuffer(name string, usage core.BufferUsage, size int) (core.Buffer, error) {
	if d.FailBuffers {
		return nil, fmt.Errorf("create buffer %s: out of memory", name)
	}
	b := &Buffer{Name: name, Usage: usage, Data: make([]byte, size)}
	d.Buffers = append(d.Buffers, b)
	d.record(Call{Op: "CreateBuffer", Arg: name})
	return b, nil
}

func (d *Device) WriteBuffer(b core.Buffer, data []byte) error {
	buf, ok := b.(*Buffer)
	if !ok {
		return fmt.Errorf("foreign buffer %T", b)
	}
	buf.Data = append(buf.Data[:0], data...)
	d.record(Call{Op: "WriteBuffer", Arg: buf.Name})
	return nil
}

func (d *Device) StartPass(target *core.RenderTarget, color core.ColorOps, depth core.DepthStencilOps) error {
	if d.inPass {
		return fmt.Errorf("StartPass inside an open pass")
	}
	d.inPass = true
	d.target = target
	d.record(Call{Op: "StartPass", Target: target, Arg: color})
	return nil
}

func (d *Device) EndPass() error {
	if !d.inPass {
		return fmt.Errorf("EndPass without StartPass")
	}
	d.inPass = false
	d.record(Call{Op: "EndPass", Target: d.target})
	return nil
}

func (d *Device) Clear(opts core.ClearOptions) { d.record(Call{Op: "Clear", Arg: opts}) }
func (d *Device) SetViewport(x, y, w, h int) {
	d.record(Call{Op: "SetViewport", Arg: core.PixelRect{X: x, Y: y, W: w, H: h}})
}
func (d *Device) SetScissor(x, y, w, h int) {
	d.record(Call{Op: "SetScissor", Arg: core.PixelRect{X: x, Y: y, W: w, H: h}})
}

func (d *Device) SetShader(s core.Shader) bool {
	d.record(Call{Op: "SetShader", Shader: s})
	return s != nil && !s.Failed()
}

func (d *Device) SetBlendState(s core.BlendState) { d.record(Call{Op: "SetBlendState", Arg: s}) }
func (d *Device) SetDepthState(s core.DepthState) { d.record(Call{Op: "SetDepthState", Arg: s}) }
func (d *Device) SetStencilState(front, back *core.StencilParams) {
	d.record(Call{Op: "SetStencilState", Arg: front})
}
func (d *Device) SetCullMode(m core.CullMode) { d.record(Call{Op: "SetCullMode", Arg: m}) }
func (d *Device) SetDepthBias(enabled bool)   { d.record(Call{Op: "SetDepthBias", Arg: enabled}) }
func (d *Device) SetDepthBiasValues(c, s float32) {
	d.record(Call{Op: "SetDepthBiasValues", Arg: [2]float32{c, s}})
}
func (d *Device) SetVertexBuffer(b core.Buffer) { d.record(Call{Op: "SetVertexBuffer", Arg: b}) }
func (d *Device) SetIndexBuffer(b core.Buffer)  { d.record(Call{Op: "SetIndexBuffer", Arg: b}) }

func (d *Device) Draw(p core.Primitive, instances int) {
	d.record(Call{Op: "Draw", Target: d.target, Arg: p})
}

func (d *Device) DrawQuad(target *core.RenderTarget, shader core.Shader, scissor *core.PixelRect) error {
	if d.inPass {
		return fmt.Errorf("DrawQuad inside an open pass")
	}
	d.record(Call{Op: "DrawQuad", Target: target, Shader: shader})
	return nil
}

// Ops returns the recorded operation names, optionally filtered.
func (d *Device) Ops(filter ...string) []string {
	keep := map[string]bool{}
	for _, f := range filter {
		keep[f] = true
	}
	var out []string
	for _, c := range d.Calls {
		if len(keep) == 0 || keep[c.Op] {
			out = append(out, c.Op)
		}
	}
	return out
}

func (d *Device) Count(op string) int {
	n := 0
	for _, c := range d.Calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

func (d *Device) Reset() { d.Calls = d.Calls[:0] }

// Library returns shaders by name and fails the listed materials.
type Library struct {
	Fail     map[string]bool
	Requests []core.VariantRequest
}

func NewLibrary() *Library { return &Library{Fail: map[string]bool{}} }

func (l *Library) Variant(material string, req core.VariantRequest) (core.Shader, error) {
	l.Requests = append(l.Requests, req)
	if l.Fail[material] {
		return &Shader{ShaderName: material, Broken: true}, nil
	}
	return &Shader{ShaderName: fmt.Sprintf("%s/%s", material, req.Pass)}, nil
}
