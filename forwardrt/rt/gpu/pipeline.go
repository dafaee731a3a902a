package gpu

import (
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/gekko3d/forward/forwardrt/rt/core"
)

// MeshVertexStride is the byte size of one mesh vertex: position and normal.
const MeshVertexStride = 24

type passFormats struct {
	color wgpu.TextureFormat
	depth wgpu.TextureFormat
}

// drawState is the fixed-function state set since the last pipeline bind.
type drawState struct {
	shader      *Shader
	blend       core.BlendState
	depth       core.DepthState
	cull        core.CullMode
	front, back *core.StencilParams
	biasEnabled bool
	bias, slope float32
	vertex      *Buffer
	index       *Buffer
}

func (s *drawState) reset() {
	*s = drawState{blend: core.BlendNone, depth: core.DepthDefault, cull: core.CullBack}
}

type pipelineKey struct {
	shader   *Shader
	blend    core.BlendState
	depth    core.DepthState
	cull     core.CullMode
	stencil  bool
	front    core.StencilParams
	back     core.StencilParams
	bias     int32
	slope    float32
	topology core.PrimitiveTopology
	formats  passFormats
}

func (d *Device) currentKey(topology core.PrimitiveTopology) pipelineKey {
	st := &d.state
	k := pipelineKey{
		shader:   st.shader,
		blend:    st.blend,
		depth:    st.depth,
		cull:     st.cull,
		topology: topology,
		formats:  d.formats,
	}
	if st.biasEnabled && topology == core.TopologyTriangles {
		k.bias, k.slope = int32(st.bias), st.slope
	}
	if hasStencil(d.formats.depth) && (st.front != nil || st.back != nil) {
		k.stencil = true
		if st.front != nil {
			k.front = *st.front
		}
		k.back = k.front
		if st.back != nil {
			k.back = *st.back
		}
		// the reference is dynamic state
		k.front.Ref, k.back.Ref = 0, 0
	}
	return k
}

// pipeline returns the cached render pipeline for the current state,
// creating it on first use.
func (d *Device) pipeline(topology core.PrimitiveTopology) (*wgpu.RenderPipeline, error) {
	key := d.currentKey(topology)
	if p, ok := d.pipelines[key]; ok {
		return p, nil
	}
	p, err := d.createPipeline(key)
	if err != nil {
		return nil, err
	}
	d.pipelines[key] = p
	return p, nil
}

func (d *Device) createPipeline(k pipelineKey) (*wgpu.RenderPipeline, error) {
	s := k.shader
	desc := &wgpu.RenderPipelineDescriptor{
		Label:  fmt.Sprintf("%s Pipeline", s.desc.Name),
		Layout: s.pipelineLayout,
		Vertex: wgpu.VertexState{
			Module:     s.module,
			EntryPoint: s.desc.Vertex,
		},
		Primitive: wgpu.PrimitiveState{
			Topology:  topology(k.topology),
			FrontFace: wgpu.FrontFaceCCW,
			CullMode:  cullMode(k.cull),
		},
		Multisample: wgpu.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	}
	if !s.desc.Fullscreen {
		desc.Vertex.Buffers = []wgpu.VertexBufferLayout{{
			ArrayStride: MeshVertexStride,
			StepMode:    wgpu.VertexStepModeVertex,
			Attributes: []wgpu.VertexAttribute{
				{Format: wgpu.VertexFormatFloat32x3, Offset: 0, ShaderLocation: 0},
				{Format: wgpu.VertexFormatFloat32x3, Offset: 12, ShaderLocation: 1},
			},
		}}
	}
	if s.desc.Fragment != "" {
		frag := &wgpu.FragmentState{Module: s.module, EntryPoint: s.desc.Fragment}
		if k.formats.color != wgpu.TextureFormatUndefined {
			target := wgpu.ColorTargetState{
				Format:    k.formats.color,
				WriteMask: writeMask(k.blend),
			}
			if k.blend.Enabled {
				target.Blend = blendState(k.blend)
			}
			frag.Targets = []wgpu.ColorTargetState{target}
		}
		desc.Fragment = frag
	}
	if k.formats.depth != wgpu.TextureFormatUndefined {
		desc.DepthStencil = depthStencil(k)
	}

	p, err := d.Device.CreateRenderPipeline(desc)
	if err != nil {
		return nil, fmt.Errorf("create pipeline %s: %w", s.desc.Name, err)
	}
	return p, nil
}

func depthStencil(k pipelineKey) *wgpu.DepthStencilState {
	ds := &wgpu.DepthStencilState{
		Format:              k.formats.depth,
		DepthWriteEnabled:   k.depth.Write,
		DepthCompare:        wgpu.CompareFunctionAlways,
		DepthBias:           k.bias,
		DepthBiasSlopeScale: k.slope,
		StencilFront:        wgpu.StencilFaceState{Compare: wgpu.CompareFunctionAlways},
		StencilBack:         wgpu.StencilFaceState{Compare: wgpu.CompareFunctionAlways},
	}
	if k.depth.Test {
		ds.DepthCompare = compareFunc(k.depth.Func)
	}
	if k.stencil {
		ds.StencilFront = stencilFace(k.front)
		ds.StencilBack = stencilFace(k.back)
		ds.StencilReadMask = k.front.ReadMask
		ds.StencilWriteMask = k.front.WriteMask
	}
	return ds
}

func stencilFace(p core.StencilParams) wgpu.StencilFaceState {
	return wgpu.StencilFaceState{
		Compare:     compareFunc(p.Func),
		FailOp:      stencilOp(p.Fail),
		DepthFailOp: stencilOp(p.ZFail),
		PassOp:      stencilOp(p.ZPass),
	}
}

func topology(t core.PrimitiveTopology) wgpu.PrimitiveTopology {
	if t == core.TopologyLines {
		return wgpu.PrimitiveTopologyLineList
	}
	return wgpu.PrimitiveTopologyTriangleList
}

func cullMode(m core.CullMode) wgpu.CullMode {
	switch m {
	case core.CullBack:
		return wgpu.CullModeBack
	case core.CullFront:
		return wgpu.CullModeFront
	}
	return wgpu.CullModeNone
}

func compareFunc(f core.CompareFunc) wgpu.CompareFunction {
	switch f {
	case core.CompareNever:
		return wgpu.CompareFunctionNever
	case core.CompareLess:
		return wgpu.CompareFunctionLess
	case core.CompareEqual:
		return wgpu.CompareFunctionEqual
	case core.CompareLessEqual:
		return wgpu.CompareFunctionLessEqual
	case core.CompareGreater:
		return wgpu.CompareFunctionGreater
	case core.CompareNotEqual:
		return wgpu.CompareFunctionNotEqual
	case core.CompareGreaterEqual:
		return wgpu.CompareFunctionGreaterEqual
	}
	return wgpu.CompareFunctionAlways
}

func stencilOp(op core.StencilOp) wgpu.StencilOperation {
	switch op {
	case core.StencilZero:
		return wgpu.StencilOperationZero
	case core.StencilReplace:
		return wgpu.StencilOperationReplace
	case core.StencilIncrement:
		return wgpu.StencilOperationIncrementClamp
	case core.StencilDecrement:
		return wgpu.StencilOperationDecrementClamp
	case core.StencilInvert:
		return wgpu.StencilOperationInvert
	}
	return wgpu.StencilOperationKeep
}

func blendFactor(f core.BlendFactor) wgpu.BlendFactor {
	switch f {
	case core.BlendZero:
		return wgpu.BlendFactorZero
	case core.BlendSrcAlpha:
		return wgpu.BlendFactorSrcAlpha
	case core.BlendOneMinusSrcAlpha:
		return wgpu.BlendFactorOneMinusSrcAlpha
	case core.BlendDstColor:
		return wgpu.BlendFactorDst
	}
	return wgpu.BlendFactorOne
}

func blendOp(op core.BlendOp) wgpu.BlendOperation {
	switch op {
	case core.BlendOpSubtract:
		return wgpu.BlendOperationSubtract
	case core.BlendOpMin:
		return wgpu.BlendOperationMin
	case core.BlendOpMax:
		return wgpu.BlendOperationMax
	}
	return wgpu.BlendOperationAdd
}

func blendState(b core.BlendState) *wgpu.BlendState {
	return &wgpu.BlendState{
		Color: wgpu.BlendComponent{
			Operation: blendOp(b.ColorOp),
			SrcFactor: blendFactor(b.ColorSrc),
			DstFactor: blendFactor(b.ColorDst),
		},
		Alpha: wgpu.BlendComponent{
			Operation: blendOp(b.AlphaOp),
			SrcFactor: blendFactor(b.AlphaSrc),
			DstFactor: blendFactor(b.AlphaDst),
		},
	}
}

func writeMask(b core.BlendState) wgpu.ColorWriteMask {
	var m wgpu.ColorWriteMask
	if b.RedWrite {
		m |= wgpu.ColorWriteMaskRed
	}
	if b.GreenWrite {
		m |= wgpu.ColorWriteMaskGreen
	}
	if b.BlueWrite {
		m |= wgpu.ColorWriteMaskBlue
	}
	if b.AlphaWrite {
		m |= wgpu.ColorWriteMaskAlpha
	}
	return m
}
