package core

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
)

type Projection int

const (
	ProjectionPerspective Projection = iota
	ProjectionOrthographic
)

// XRView is one eye of a multi-view camera.
type XRView struct {
	Projection mgl32.Mat4
	View       mgl32.Mat4
	Position   mgl32.Vec3
	Viewport   PixelRect
}

// Postprocessor runs after the last render action of its camera.
type Postprocessor interface {
	Render(d Device, target *RenderTarget) error
}

type Camera struct {
	ID   uuid.UUID
	Name string
	Node *Transform

	Projection  Projection
	FOV         float32 // vertical, degrees
	AspectRatio float32
	OrthoHeight float32
	NearClip    float32
	FarClip     float32

	CullingMask    uint32
	FrustumCulling bool
	Layers         []int
	RenderTarget   *RenderTarget
	Rect           Rect
	ScissorRect    Rect

	ClearColorBuffer   bool
	ClearDepthBuffer   bool
	ClearStencilBuffer bool
	ClearColor         [4]float32
	ClearDepth         float32
	ClearStencil       uint32

	CullFaces bool
	FlipFaces bool

	XRViews       []XRView
	Postprocessor Postprocessor
	OnPreRender   func()
	OnPostRender  func()

	frustum Frustum
}

func NewCamera(name string) *Camera {
	return &Camera{
		ID:                 uuid.New(),
		Name:               name,
		Node:               NewTransform(),
		FOV:                45,
		AspectRatio:        1,
		OrthoHeight:        10,
		NearClip:           0.1,
		FarClip:            1000,
		CullingMask:        0xFFFFFFFF,
		FrustumCulling:     true,
		Rect:               Rect{0, 0, 1, 1},
		ScissorRect:        Rect{0, 0, 1, 1},
		ClearColorBuffer:   true,
		ClearDepthBuffer:   true,
		ClearStencilBuffer: true,
		ClearColor:         [4]float32{0.5, 0.5, 0.5, 1},
		ClearDepth:         1,
		CullFaces:          true,
	}
}

func (c *Camera) RendersLayer(id int) bool {
	for _, l := range c.Layers {
		if l == id {
			return true
		}
	}
	return false
}

func (c *Camera) Position() mgl32.Vec3 { return c.Node.Position }

func (c *Camera) ProjectionMatrix() mgl32.Mat4 {
	if c.Projection == ProjectionOrthographic {
		y := c.OrthoHeight
		x := y * c.AspectRatio
		return mgl32.Ortho(-x, x, -y, y, c.NearClip, c.FarClip)
	}
	return mgl32.Perspective(mgl32.DegToRad(c.FOV), c.AspectRatio, c.NearClip, c.FarClip)
}

func (c *Camera) ViewMatrix() mgl32.Mat4 {
	return c.Node.ViewMatrix()
}

func (c *Camera) ViewProjection() mgl32.Mat4 {
	return c.ProjectionMatrix().Mul4(c.ViewMatrix())
}

func (c *Camera) UpdateFrustum(vp mgl32.Mat4) {
	c.frustum.SetFromMatrix(vp)
}

func (c *Camera) Frustum() *Frustum {
	return &c.frustum
}

// FrustumCorners returns the slice [near, far] corners in camera space, near quad first.
func (c *Camera) FrustumCorners(near, far float32) [8]mgl32.Vec3 {
	var nx, ny, fx, fy float32
	if c.Projection == ProjectionPerspective {
		t := float32(math.Tan(float64(mgl32.DegToRad(c.FOV) / 2)))
		ny, fy = t*near, t*far
		nx, fx = ny*c.AspectRatio, fy*c.AspectRatio
	} else {
		ny, fy = c.OrthoHeight, c.OrthoHeight
		nx, fx = ny*c.AspectRatio, fy*c.AspectRatio
	}
	return [8]mgl32.Vec3{
		{nx, -ny, -near},
		{nx, ny, -near},
		{-nx, ny, -near},
		{-nx, -ny, -near},
		{fx, -fy, -far},
		{fx, fy, -far},
		{-fx, fy, -far},
		{-fx, -fy, -far},
	}
}

// ScreenSize estimates the fraction of screen height covered by the sphere, in [0,1].
func (c *Camera) ScreenSize(s BoundingSphere) float32 {
	if c.Projection == ProjectionOrthographic {
		return mgl32.Clamp(s.Radius/c.OrthoHeight, 0, 1)
	}
	dist := c.Node.Position.Sub(s.Center).Len()
	if dist < s.Radius {
		return 1
	}
	viewAngle := math.Asin(float64(s.Radius / dist))
	sphereViewHeight := math.Tan(viewAngle)
	screenViewHeight := math.Tan(float64(mgl32.DegToRad(c.FOV) / 2))
	return float32(math.Min(sphereViewHeight/screenViewHeight, 1))
}
