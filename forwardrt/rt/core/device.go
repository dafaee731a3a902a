package core

import (
	"errors"

	"github.com/google/uuid"
)

var (
	ErrDeviceLost   = errors.New("graphics device lost")
	ErrShaderFailed = errors.New("shader variant failed to compile")
)

// Capabilities gate the shadow-type fallback chain.
type Capabilities struct {
	MaxTextureSize int
	// SupportsDepthShadow means hardware depth-comparison sampling is available.
	SupportsDepthShadow        bool
	TextureFloatRenderable     bool
	TextureHalfFloatRenderable bool
}

type TextureFormat int

const (
	FormatRGBA8 TextureFormat = iota
	FormatRGBA16F
	FormatRGBA32F
	FormatDepth
)

type TextureDescriptor struct {
	Name    string
	Width   int
	Height  int
	Cubemap bool
	Format  TextureFormat
	// Compare requests a depth-comparison sampler for the texture.
	Compare bool
}

type Texture interface {
	Name() string
	Width() int
	Height() int
	Format() TextureFormat
	Cubemap() bool
	Destroy()
}

type BufferUsage int

const (
	BufferUniform BufferUsage = iota
	BufferStorage
	BufferVertex
	BufferIndex
)

type Buffer interface {
	Size() int
	Destroy()
}

type Shader interface {
	Name() string
	Failed() bool
}

type PixelRect struct {
	X, Y, W, H int
}

// Rect is normalized to the render target size.
type Rect struct {
	X, Y, W, H float32
}

type ColorOps struct {
	Clear      bool
	ClearValue [4]float32
	Store      bool
}

type DepthStencilOps struct {
	ClearDepth        bool
	ClearDepthValue   float32
	ClearStencil      bool
	ClearStencilValue uint32
	StoreDepth        bool
	StoreStencil      bool
}

type ClearFlags int

const (
	ClearColor ClearFlags = 1 << iota
	ClearDepth
	ClearStencil
)

type ClearOptions struct {
	Flags   ClearFlags
	Color   [4]float32
	Depth   float32
	Stencil uint32
}

// RenderTarget binds a color and/or depth texture. A nil *RenderTarget is the backbuffer.
type RenderTarget struct {
	ID    uuid.UUID
	Name  string
	Color Texture
	Depth Texture
	// Face selects the cubemap face when the textures are cubemaps.
	Face      int
	destroyed bool
}

func NewRenderTarget(name string, color, depth Texture, face int) *RenderTarget {
	return &RenderTarget{ID: uuid.New(), Name: name, Color: color, Depth: depth, Face: face}
}

func (rt *RenderTarget) Width() int {
	if rt.Color != nil {
		return rt.Color.Width()
	}
	if rt.Depth != nil {
		return rt.Depth.Width()
	}
	return 0
}

func (rt *RenderTarget) Height() int {
	if rt.Color != nil {
		return rt.Color.Height()
	}
	if rt.Depth != nil {
		return rt.Depth.Height()
	}
	return 0
}

// Valid reports false once the target was destroyed or lost its attachments.
func (rt *RenderTarget) Valid() bool {
	return !rt.destroyed && (rt.Color != nil || rt.Depth != nil)
}

// Destroy marks the target unusable; textures stay owned by whoever created them.
func (rt *RenderTarget) Destroy() {
	rt.destroyed = true
}

// TargetID is uuid.Nil for the backbuffer.
func TargetID(rt *RenderTarget) uuid.UUID {
	if rt == nil {
		return uuid.Nil
	}
	return rt.ID
}

// Device is the GPU abstraction the pipeline records into.
type Device interface {
	Caps() Capabilities
	Scope() *Scope
	BackbufferSize() (width, height int)

	CreateTexture(desc TextureDescriptor) (Texture, error)
	CreateBuffer(name string, usage BufferUsage, size int) (Buffer, error)
	WriteBuffer(b Buffer, data []byte) error

	StartPass(target *RenderTarget, color ColorOps, depth DepthStencilOps) error
	EndPass() error
	Clear(opts ClearOptions)
	SetViewport(x, y, w, h int)
	SetScissor(x, y, w, h int)

	// SetShader returns false when the shader cannot be bound.
	SetShader(s Shader) bool
	SetBlendState(s BlendState)
	SetDepthState(s DepthState)
	SetStencilState(front, back *StencilParams)
	SetCullMode(m CullMode)
	SetDepthBias(enabled bool)
	SetDepthBiasValues(constant, slope float32)
	SetVertexBuffer(b Buffer)
	SetIndexBuffer(b Buffer)
	Draw(p Primitive, instances int)

	// DrawQuad renders a full-target triangle with shader into target, limited to scissor when set.
	DrawQuad(target *RenderTarget, shader Shader, scissor *PixelRect) error
}
