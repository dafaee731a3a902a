package gpu

import (
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/gekko3d/forward/forwardrt/rt/core"
)

// TextureSlot binds a scope texture at group 1, binding 2*i with its sampler
// at 2*i+1. Depth slots use the comparison sampler.
type TextureSlot struct {
	Name  string
	Cube  bool
	Depth bool
}

// ShaderDesc describes a WGSL program and the scope names it reads. The
// uniform block is group 0 binding 0; read-only storage buffers live in
// group 2 at their slice index.
type ShaderDesc struct {
	Name     string
	Source   string
	Vertex   string
	Fragment string
	Uniforms []UniformField
	Textures []TextureSlot
	Storage  []string
	// Fullscreen shaders take no vertex buffers and draw one triangle.
	Fullscreen bool
}

// Shader is a compiled program. A shader that failed to compile keeps its
// error and reports Failed.
type Shader struct {
	desc        ShaderDesc
	module      *wgpu.ShaderModule
	fields      []fieldLayout
	uniformSize int

	groupLayouts   []*wgpu.BindGroupLayout
	pipelineLayout *wgpu.PipelineLayout
	uniformGroup   *wgpu.BindGroup
	// static bind groups for layouts with no entries
	emptyGroups map[int]*wgpu.BindGroup

	err error
}

func (s *Shader) Name() string { return s.desc.Name }
func (s *Shader) Failed() bool { return s.err != nil || s.module == nil }
func (s *Shader) Err() error   { return s.err }

func (s *Shader) Release() {
	for _, g := range s.emptyGroups {
		g.Release()
	}
	s.emptyGroups = nil
	if s.uniformGroup != nil {
		s.uniformGroup.Release()
		s.uniformGroup = nil
	}
	if s.pipelineLayout != nil {
		s.pipelineLayout.Release()
		s.pipelineLayout = nil
	}
	for _, l := range s.groupLayouts {
		l.Release()
	}
	s.groupLayouts = nil
	if s.module != nil {
		s.module.Release()
		s.module = nil
	}
}

// CompileShader builds the module and its bind group layouts. On failure the
// returned shader is non-nil and Failed, so callers can cache the outcome.
func (d *Device) CompileShader(desc ShaderDesc) (*Shader, error) {
	s := &Shader{desc: desc}
	s.fields, s.uniformSize = layoutFields(desc.Uniforms)

	var err error
	s.module, err = d.Device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          desc.Name,
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: desc.Source},
	})
	if err != nil {
		s.err = fmt.Errorf("compile shader %s: %w", desc.Name, err)
		return s, s.err
	}
	if err := d.buildLayouts(s); err != nil {
		s.err = fmt.Errorf("shader %s layout: %w", desc.Name, err)
		return s, s.err
	}
	return s, nil
}

func (d *Device) buildLayouts(s *Shader) error {
	visibility := wgpu.ShaderStageVertex | wgpu.ShaderStageFragment
	groups := [][]wgpu.BindGroupLayoutEntry{{{
		Binding:    0,
		Visibility: visibility,
		Buffer: wgpu.BufferBindingLayout{
			Type:             wgpu.BufferBindingTypeUniform,
			HasDynamicOffset: true,
			MinBindingSize:   uint64(s.uniformSize),
		},
	}}}

	var textures []wgpu.BindGroupLayoutEntry
	for i, slot := range s.desc.Textures {
		tex := wgpu.BindGroupLayoutEntry{Binding: uint32(2 * i), Visibility: visibility}
		smp := wgpu.BindGroupLayoutEntry{Binding: uint32(2*i + 1), Visibility: visibility}
		tex.Texture.ViewDimension = wgpu.TextureViewDimension2D
		if slot.Cube {
			tex.Texture.ViewDimension = wgpu.TextureViewDimensionCube
		}
		if slot.Depth {
			tex.Texture.SampleType = wgpu.TextureSampleTypeDepth
			smp.Sampler.Type = wgpu.SamplerBindingTypeComparison
		} else {
			tex.Texture.SampleType = wgpu.TextureSampleTypeFloat
			smp.Sampler.Type = wgpu.SamplerBindingTypeFiltering
		}
		textures = append(textures, tex, smp)
	}
	var storage []wgpu.BindGroupLayoutEntry
	for i := range s.desc.Storage {
		storage = append(storage, wgpu.BindGroupLayoutEntry{
			Binding:    uint32(i),
			Visibility: visibility,
			Buffer:     wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeReadOnlyStorage},
		})
	}
	switch {
	case len(storage) > 0:
		groups = append(groups, textures, storage)
	case len(textures) > 0:
		groups = append(groups, textures)
	}

	s.emptyGroups = make(map[int]*wgpu.BindGroup)
	for g, entries := range groups {
		layout, err := d.Device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
			Label:   fmt.Sprintf("%s Group %d", s.desc.Name, g),
			Entries: entries,
		})
		if err != nil {
			return err
		}
		s.groupLayouts = append(s.groupLayouts, layout)
		if len(entries) == 0 {
			bg, err := d.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{Layout: layout})
			if err != nil {
				return err
			}
			s.emptyGroups[g] = bg
		}
	}

	var err error
	s.pipelineLayout, err = d.Device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            s.desc.Name + " Layout",
		BindGroupLayouts: s.groupLayouts,
	})
	if err != nil {
		return err
	}
	s.uniformGroup, err = d.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  s.desc.Name + " Uniforms",
		Layout: s.groupLayouts[0],
		Entries: []wgpu.BindGroupEntry{{
			Binding: 0,
			Buffer:  d.ring.buf,
			Offset:  0,
			Size:    uint64(s.uniformSize),
		}},
	})
	return err
}

// bind uploads the uniform block and binds every group the shader declares.
func (d *Device) bind(s *Shader) bool {
	data := d.packUniforms(s)
	off, ok := d.ring.alloc(len(data))
	if !ok {
		core.WarnOnce(d.logger, "uniform-ring-full", "gpu: uniform ring exhausted, dropping draws this frame")
		return false
	}
	d.Queue.WriteBuffer(d.ring.buf, uint64(off), data)
	d.pass.SetBindGroup(0, s.uniformGroup, []uint32{uint32(off)})

	for g := 1; g < len(s.groupLayouts); g++ {
		if bg, ok := s.emptyGroups[g]; ok {
			d.pass.SetBindGroup(uint32(g), bg, nil)
			continue
		}
		var entries []wgpu.BindGroupEntry
		if g == 1 {
			entries = d.textureEntries(s)
		} else {
			entries = d.storageEntries(s)
		}
		bg, err := d.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
			Layout:  s.groupLayouts[g],
			Entries: entries,
		})
		if err != nil {
			core.WarnOnce(d.logger, "bind-"+s.desc.Name, "gpu: bind group for %s: %v", s.desc.Name, err)
			return false
		}
		d.transient = append(d.transient, bg)
		d.pass.SetBindGroup(uint32(g), bg, nil)
	}
	return true
}

func (d *Device) textureEntries(s *Shader) []wgpu.BindGroupEntry {
	entries := make([]wgpu.BindGroupEntry, 0, 2*len(s.desc.Textures))
	for i, slot := range s.desc.Textures {
		view := d.fallbackView(slot)
		if t, ok := d.scope.Resolve(slot.Name).Value().(*Texture); ok && t.view != nil && t.Cubemap() == slot.Cube && isDepth(t.format) == slot.Depth {
			view = t.view
		}
		sampler := d.linear
		if slot.Depth {
			sampler = d.compare
		}
		entries = append(entries,
			wgpu.BindGroupEntry{Binding: uint32(2 * i), TextureView: view},
			wgpu.BindGroupEntry{Binding: uint32(2*i + 1), Sampler: sampler},
		)
	}
	return entries
}

func (d *Device) storageEntries(s *Shader) []wgpu.BindGroupEntry {
	entries := make([]wgpu.BindGroupEntry, 0, len(s.desc.Storage))
	for i, name := range s.desc.Storage {
		buf := d.fallbackStorage()
		if b, ok := d.scope.Resolve(name).Value().(*Buffer); ok && b.buf != nil {
			buf = b
		}
		entries = append(entries, wgpu.BindGroupEntry{
			Binding: uint32(i),
			Buffer:  buf.buf,
			Size:    wgpu.WholeSize,
		})
	}
	return entries
}
