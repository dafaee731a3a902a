package core

import (
	"fmt"
	"sync/atomic"

	"github.com/go-gl/mathgl/mgl32"
)

type BlendFactor int

const (
	BlendZero BlendFactor = iota
	BlendOne
	BlendSrcAlpha
	BlendOneMinusSrcAlpha
	BlendDstColor
)

type BlendOp int

const (
	BlendOpAdd BlendOp = iota
	BlendOpSubtract
	BlendOpMin
	BlendOpMax
)

type BlendState struct {
	Enabled                                    bool
	ColorOp                                    BlendOp
	ColorSrc, ColorDst                         BlendFactor
	AlphaOp                                    BlendOp
	AlphaSrc, AlphaDst                         BlendFactor
	RedWrite, GreenWrite, BlueWrite, AlphaWrite bool
}

var (
	BlendNone    = BlendState{RedWrite: true, GreenWrite: true, BlueWrite: true, AlphaWrite: true}
	BlendNoWrite = BlendState{}
	BlendNormal  = BlendState{
		Enabled:  true,
		ColorSrc: BlendSrcAlpha, ColorDst: BlendOneMinusSrcAlpha,
		AlphaSrc: BlendOne, AlphaDst: BlendOneMinusSrcAlpha,
		RedWrite: true, GreenWrite: true, BlueWrite: true, AlphaWrite: true,
	}
)

func (b BlendState) ColorWrite() bool {
	return b.RedWrite || b.GreenWrite || b.BlueWrite || b.AlphaWrite
}

type CompareFunc int

const (
	CompareNever CompareFunc = iota
	CompareLess
	CompareEqual
	CompareLessEqual
	CompareGreater
	CompareNotEqual
	CompareGreaterEqual
	CompareAlways
)

type DepthState struct {
	Test  bool
	Write bool
	Func  CompareFunc
}

var (
	DepthDefault = DepthState{Test: true, Write: true, Func: CompareLessEqual}
	DepthNoWrite = DepthState{Test: true, Write: false, Func: CompareLessEqual}
)

type CullMode int

const (
	CullNone CullMode = iota
	CullBack
	CullFront
)

type StencilOp int

const (
	StencilKeep StencilOp = iota
	StencilZero
	StencilReplace
	StencilIncrement
	StencilDecrement
	StencilInvert
)

type StencilParams struct {
	Func                CompareFunc
	Ref                 uint32
	ReadMask, WriteMask uint32
	Fail, ZFail, ZPass  StencilOp
}

// ShaderPass selects the shader variant family. Shadow passes are one per
// (light type, shadow type) pair starting at passShadowBase.
type ShaderPass int

const (
	PassForward ShaderPass = iota
	PassDepth
	passShadowBase
)

const shadowTypesPerLight = 5

func ShadowPass(lightType, shadowType int) ShaderPass {
	return passShadowBase + ShaderPass(lightType*shadowTypesPerLight+shadowType)
}

func (p ShaderPass) IsShadow() bool { return p >= passShadowBase }

func (p ShaderPass) String() string {
	switch p {
	case PassForward:
		return "forward"
	case PassDepth:
		return "depth"
	}
	rel := int(p - passShadowBase)
	return fmt.Sprintf("shadow[%d:%d]", rel/shadowTypesPerLight, rel%shadowTypesPerLight)
}

// VariantRequest is comparable and keys the material variant cache.
type VariantRequest struct {
	Pass              ShaderPass
	ObjDefs           uint32
	LightHash         uint32
	Skinned           bool
	Morphed           bool
	Clustered         bool
	DirectionalLights int
	LocalLights       int
}

// ShaderLibrary generates shader variants; the source generator lives outside this pipeline.
type ShaderLibrary interface {
	Variant(material string, req VariantRequest) (Shader, error)
}

type Material interface {
	ID() int
	Name() string
	BlendState() BlendState
	DepthState() DepthState
	CullMode() CullMode
	Stencil() (front, back *StencilParams)
	AlphaTest() float32
	DepthBias() (constant, slope float32)
	Transparent() bool
	Dirty() bool
	UpdateUniforms(d Device, scene *SceneParams)
	SetParameters(d Device)
	ShaderVariant(d Device, req VariantRequest) (Shader, error)
}

var materialIDs atomic.Int32

// BaseMaterial is the default Material. VariantOverride replaces library
// lookup for a single material instance.
type BaseMaterial struct {
	id   int
	name string

	Blend          BlendState
	Depth          DepthState
	Cull           CullMode
	StencilFront   *StencilParams
	StencilBack    *StencilParams
	AlphaTestValue float32
	DepthBiasValue float32
	SlopeDepthBias float32
	Diffuse        mgl32.Vec3
	Opacity        float32

	Library         ShaderLibrary
	VariantOverride func(m *BaseMaterial, req VariantRequest) (Shader, error)

	parameters map[string]any
	dirty      bool
	variants   map[VariantRequest]Shader
}

func NewBaseMaterial(name string, lib ShaderLibrary) *BaseMaterial {
	return &BaseMaterial{
		id:         int(materialIDs.Add(1)),
		name:       name,
		Blend:      BlendNone,
		Depth:      DepthDefault,
		Cull:       CullBack,
		Diffuse:    mgl32.Vec3{1, 1, 1},
		Opacity:    1,
		Library:    lib,
		parameters: make(map[string]any),
		dirty:      true,
		variants:   make(map[VariantRequest]Shader),
	}
}

func (m *BaseMaterial) ID() int                                   { return m.id }
func (m *BaseMaterial) Name() string                              { return m.name }
func (m *BaseMaterial) BlendState() BlendState                    { return m.Blend }
func (m *BaseMaterial) DepthState() DepthState                    { return m.Depth }
func (m *BaseMaterial) CullMode() CullMode                        { return m.Cull }
func (m *BaseMaterial) Stencil() (*StencilParams, *StencilParams) { return m.StencilFront, m.StencilBack }
func (m *BaseMaterial) AlphaTest() float32                        { return m.AlphaTestValue }
func (m *BaseMaterial) DepthBias() (float32, float32)             { return m.DepthBiasValue, m.SlopeDepthBias }
func (m *BaseMaterial) Transparent() bool                         { return m.Blend.Enabled }
func (m *BaseMaterial) Dirty() bool                               { return m.dirty }

// Update flags the material so uniforms are rebuilt and variants regenerated.
func (m *BaseMaterial) Update() {
	m.dirty = true
	clear(m.variants)
}

func (m *BaseMaterial) SetParameter(name string, v any) {
	m.parameters[name] = v
}

func (m *BaseMaterial) Parameter(name string) (any, bool) {
	v, ok := m.parameters[name]
	return v, ok
}

func (m *BaseMaterial) UpdateUniforms(d Device, scene *SceneParams) {
	m.parameters["material_diffuse"] = m.Diffuse
	m.parameters["material_opacity"] = m.Opacity
	m.parameters["alpha_ref"] = m.AlphaTestValue
	m.dirty = false
}

func (m *BaseMaterial) SetParameters(d Device) {
	scope := d.Scope()
	for name, v := range m.parameters {
		scope.Resolve(name).SetValue(v)
	}
}

func (m *BaseMaterial) ShaderVariant(d Device, req VariantRequest) (Shader, error) {
	if s, ok := m.variants[req]; ok {
		return s, nil
	}
	var (
		s   Shader
		err error
	)
	switch {
	case m.VariantOverride != nil:
		s, err = m.VariantOverride(m, req)
	case m.Library != nil:
		s, err = m.Library.Variant(m.name, req)
	default:
		err = fmt.Errorf("material %q has no shader library", m.name)
	}
	if err == nil && (s == nil || s.Failed()) {
		err = ErrShaderFailed
	}
	if err != nil {
		return nil, fmt.Errorf("material %q pass %s: %w", m.name, req.Pass, err)
	}
	m.variants[req] = s
	return s, nil
}
