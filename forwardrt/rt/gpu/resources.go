package gpu

import (
	"github.com/cogentcore/webgpu/wgpu"
	"github.com/gekko3d/forward/forwardrt/rt/core"
)

// Texture owns a wgpu texture with one sampling view and one render view per
// layer (six for cubemaps).
type Texture struct {
	desc   core.TextureDescriptor
	tex    *wgpu.Texture
	view   *wgpu.TextureView
	faces  []*wgpu.TextureView
	format wgpu.TextureFormat
}

func (t *Texture) Name() string               { return t.desc.Name }
func (t *Texture) Width() int                 { return t.desc.Width }
func (t *Texture) Height() int                { return t.desc.Height }
func (t *Texture) Format() core.TextureFormat { return t.desc.Format }
func (t *Texture) Cubemap() bool              { return t.desc.Cubemap }

// Compare reports whether the texture is sampled through the comparison sampler.
func (t *Texture) Compare() bool { return t.desc.Compare }

func (t *Texture) Destroy() {
	for i, v := range t.faces {
		if v != nil {
			v.Release()
			t.faces[i] = nil
		}
	}
	if t.view != nil {
		t.view.Release()
		t.view = nil
	}
	if t.tex != nil {
		t.tex.Release()
		t.tex = nil
	}
}

func (t *Texture) face(i int) *wgpu.TextureView {
	if i < 0 || i >= len(t.faces) {
		return nil
	}
	return t.faces[i]
}

type Buffer struct {
	name  string
	usage core.BufferUsage
	size  int
	buf   *wgpu.Buffer
}

func (b *Buffer) Size() int { return b.size }

func (b *Buffer) Destroy() {
	if b.buf != nil {
		b.buf.Release()
		b.buf = nil
	}
}

func bufferUsage(u core.BufferUsage) wgpu.BufferUsage {
	switch u {
	case core.BufferStorage:
		return wgpu.BufferUsageStorage
	case core.BufferVertex:
		return wgpu.BufferUsageVertex
	case core.BufferIndex:
		return wgpu.BufferUsageIndex
	}
	return wgpu.BufferUsageUniform
}

func textureFormat(f core.TextureFormat) (wgpu.TextureFormat, bool) {
	switch f {
	case core.FormatRGBA8:
		return wgpu.TextureFormatRGBA8Unorm, true
	case core.FormatRGBA16F:
		return wgpu.TextureFormatRGBA16Float, true
	case core.FormatRGBA32F:
		return wgpu.TextureFormatRGBA32Float, true
	case core.FormatDepth:
		return wgpu.TextureFormatDepth32Float, true
	}
	return wgpu.TextureFormatUndefined, false
}

func isDepth(f wgpu.TextureFormat) bool {
	switch f {
	case wgpu.TextureFormatDepth32Float, wgpu.TextureFormatDepth24Plus, wgpu.TextureFormatDepth24PlusStencil8, wgpu.TextureFormatDepth32FloatStencil8:
		return true
	}
	return false
}

func hasStencil(f wgpu.TextureFormat) bool {
	return f == wgpu.TextureFormatDepth24PlusStencil8 || f == wgpu.TextureFormatDepth32FloatStencil8
}
