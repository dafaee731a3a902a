package gpu

import (
	"github.com/cogentcore/webgpu/wgpu"
	"github.com/gekko3d/forward/forwardrt/rt/core"
)

// fallbackView returns a 1x1 texture matching slot, used when the scope has
// nothing bound for it.
func (d *Device) fallbackView(slot TextureSlot) *wgpu.TextureView {
	key := TextureSlot{Cube: slot.Cube, Depth: slot.Depth}
	if t, ok := d.fallbacks[key]; ok {
		return t.view
	}
	format := core.FormatRGBA8
	if slot.Depth {
		format = core.FormatDepth
	}
	t, err := d.CreateTexture(core.TextureDescriptor{
		Name:    "Fallback " + slot.Name,
		Width:   1,
		Height:  1,
		Cubemap: slot.Cube,
		Format:  format,
	})
	if err != nil {
		d.logger.Errorf("gpu: fallback texture: %v", err)
		return nil
	}
	tex := t.(*Texture)
	d.fallbacks[key] = tex
	if slot.Depth {
		d.uncleared = append(d.uncleared, tex)
	}
	return tex.view
}

// clearFallbacks fills new depth fallbacks with 1 so unbound shadow maps
// compare as lit. It records one pass per face and must run outside a pass.
func (d *Device) clearFallbacks() {
	for _, t := range d.uncleared {
		for _, face := range t.faces {
			pass := d.encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
				Label: t.Name() + " Clear",
				DepthStencilAttachment: &wgpu.RenderPassDepthStencilAttachment{
					View:            face,
					DepthLoadOp:     wgpu.LoadOpClear,
					DepthStoreOp:    wgpu.StoreOpStore,
					DepthClearValue: 1,
				},
			})
			if err := pass.End(); err != nil {
				d.logger.Warnf("gpu: clear %s: %v", t.Name(), err)
			}
			pass.Release()
		}
	}
	d.uncleared = d.uncleared[:0]
}

func (d *Device) fallbackStorage() *Buffer {
	if d.emptyStorage != nil {
		return d.emptyStorage
	}
	b, err := d.CreateBuffer("Empty Storage", core.BufferStorage, 16)
	if err != nil {
		d.logger.Errorf("gpu: fallback storage: %v", err)
		return &Buffer{}
	}
	d.emptyStorage = b.(*Buffer)
	return d.emptyStorage
}

const clearWGSL = `
struct Uniforms {
    clear_color: vec4<f32>,
    clear_depth: f32,
}

@group(0) @binding(0) var<uniform> u: Uniforms;

struct ClearOut {
    @location(0) color: vec4<f32>,
    @builtin(frag_depth) depth: f32,
}

@vertex
fn vs_main(@builtin(vertex_index) i: u32) -> @builtin(position) vec4<f32> {
    let uv = vec2<f32>(f32((i << 1u) & 2u), f32(i & 2u));
    return vec4<f32>(uv * 2.0 - 1.0, 0.0, 1.0);
}

@fragment
fn fs_main() -> ClearOut {
    var out: ClearOut;
    out.color = u.clear_color;
    out.depth = u.clear_depth;
    return out;
}
`

var clearShaderDesc = ShaderDesc{
	Name:     "Clear",
	Source:   clearWGSL,
	Vertex:   "vs_main",
	Fragment: "fs_main",
	Uniforms: []UniformField{
		{Name: "clear_color", Kind: KindVec4},
		{Name: "clear_depth", Kind: KindFloat},
	},
	Fullscreen: true,
}
