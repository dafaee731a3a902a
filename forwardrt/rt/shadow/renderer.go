package shadow

import (
	"fmt"
	"math"
	"slices"

	"github.com/gekko3d/forward/forwardrt/rt/atlas"
	"github.com/gekko3d/forward/forwardrt/rt/core"
	"github.com/gekko3d/forward/forwardrt/rt/light"
	"github.com/go-gl/mathgl/mgl32"
)

// Drawer is the per-draw machinery of the forward renderer that shadow
// rendering reuses.
type Drawer interface {
	// PassShader returns the cached variant of mi for pass, nil if it failed.
	PassShader(mi *core.MeshInstance, pass core.ShaderPass) core.Shader
	// DrawInstance binds geometry, skinning, morphing and model uniforms, then draws.
	DrawInstance(mi *core.MeshInstance)
	SetCameraUniforms(cam *core.Camera, target *core.RenderTarget)
}

// Cube face orientations as Euler angles in degrees: +X, -X, +Y, -Y, +Z, -Z.
var omniFaceRotations = [6]mgl32.Vec3{
	{0, 90, 180},
	{0, -90, 180},
	{90, 0, 0},
	{-90, 0, 0},
	{0, 180, 180},
	{0, 0, 180},
}

// Renderer renders shadow maps for all light types.
type Renderer struct {
	ctx    *core.RenderContext
	drawer Drawer
	scene  *core.SceneParams

	// Atlas is set when clustered lighting renders local shadows into it.
	Atlas     *atlas.LightTextureAtlas
	Clustered bool
	// SortCasters orders visible casters; nil keeps culling order.
	SortCasters func(a, b *core.MeshInstance) int

	Blur     BlurLibrary
	MapCache *MapCache

	Local       *Local
	Directional *Directional

	viewPositionID *core.ScopeID
	lightRadiusID  *core.ScopeID
	sourceID       *core.ScopeID
	pixelOffsetID  *core.ScopeID
	weightID       *core.ScopeID
	generation     int
}

func NewRenderer(ctx *core.RenderContext, drawer Drawer, scene *core.SceneParams) *Renderer {
	r := &Renderer{
		ctx:      ctx,
		drawer:   drawer,
		scene:    scene,
		MapCache: NewMapCache(),
	}
	r.Local = &Local{r: r}
	r.Directional = &Directional{r: r}
	r.resolveScope()
	return r
}

func (r *Renderer) resolveScope() {
	scope := r.ctx.Device.Scope()
	r.viewPositionID = scope.Resolve("view_position")
	r.lightRadiusID = scope.Resolve("light_radius")
	r.sourceID = scope.Resolve("source")
	r.pixelOffsetID = scope.Resolve("pixelOffset")
	r.weightID = scope.Resolve("weight[0]")
	r.generation = r.ctx.Generation()
}

// checkGeneration re-resolves uniforms and drops cached maps after a device change.
func (r *Renderer) checkGeneration() {
	if r.generation == r.ctx.Generation() {
		return
	}
	r.MapCache.Clear()
	r.resolveScope()
}

// CreateShadowCamera builds the camera for one face of a light. VSM maps
// clear to black, depth maps to white.
func CreateShadowCamera(shadowType light.ShadowType, lightType light.Type, face int) *core.Camera {
	cam := core.NewCamera("ShadowCamera")
	cam.AspectRatio = 1
	cam.ClearDepthBuffer = true
	cam.ClearStencilBuffer = false
	cam.ClearColor = [4]float32{1, 1, 1, 1}
	if shadowType.IsVSM() {
		cam.ClearColor = [4]float32{0, 0, 0, 0}
	}

	switch lightType {
	case light.Directional:
		cam.Projection = core.ProjectionOrthographic
	case light.Omni:
		cam.FOV = 90
		r := omniFaceRotations[face]
		cam.Node.SetEulerAngles(r.X(), r.Y(), r.Z())
	}
	return cam
}

// setShadowCameraSettings decides whether the face needs a color clear. Depth
// maps sampled with a comparison sampler have no color attachment.
func setShadowCameraSettings(cam *core.Camera, shadowType light.ShadowType) {
	cam.ClearColorBuffer = !shadowType.IsPCF()
}

// shadowCamera returns the face's camera, creating it on first use.
func shadowCamera(l *light.Light, rd *light.RenderData) *core.Camera {
	if rd.ShadowCamera == nil {
		rd.ShadowCamera = CreateShadowCamera(l.ShadowType(), l.Type(), rd.Face)
	}
	return rd.ShadowCamera
}

// dataCamera is the camera render data is keyed by: local lights share one
// record per face across cameras.
func dataCamera(l *light.Light, camera *core.Camera) *core.Camera {
	if l.Type() == light.Directional {
		return camera
	}
	return nil
}

// NeedsShadowRendering reports whether l renders its shadow this frame. A
// ThisFrame request is consumed.
func (r *Renderer) NeedsShadowRendering(l *light.Light) bool {
	needs := l.Enabled && l.CastShadows() && l.ShadowUpdateMode != light.ShadowUpdateNone && l.VisibleThisFrame
	if l.ShadowUpdateMode == light.ShadowUpdateThisFrame {
		l.ShadowUpdateMode = light.ShadowUpdateNone
	}
	if needs {
		r.ctx.Profiler.AddCount(core.CountShadowMapUpdates, 1)
	}
	return needs
}

// PrepareFace binds the face camera to the light's map.
func (r *Renderer) PrepareFace(l *light.Light, camera *core.Camera, face int) *core.Camera {
	rd := l.Data(dataCamera(l, camera), face)
	cam := shadowCamera(l, rd)
	setShadowCameraSettings(cam, l.ShadowType())
	if l.ShadowMap != nil && len(l.ShadowMap.Targets) > 0 {
		index := face
		if l.Type() == light.Directional || len(l.ShadowMap.Targets) == 1 {
			index = 0
		}
		cam.RenderTarget = l.ShadowMap.Targets[index]
	}
	return cam
}

// CullCasters keeps casters inside the shadow camera frustum, then sorts them.
func (r *Renderer) CullCasters(casters []*core.MeshInstance, visible []*core.MeshInstance, cam *core.Camera) []*core.MeshInstance {
	visible = visible[:0]
	for _, mi := range casters {
		if !mi.Visible || !mi.CastShadow {
			continue
		}
		if !mi.Cull || mi.IsVisible(cam) {
			visible = append(visible, mi)
		}
	}
	if r.SortCasters != nil {
		slices.SortFunc(visible, r.SortCasters)
	}
	return visible
}

// updateCameraFrustum refreshes the camera frustum from its current pose.
func updateCameraFrustum(cam *core.Camera) {
	cam.UpdateFrustum(cam.ViewProjection())
}

// SetupRenderState applies depth bias and the blend state of a shadow pass.
func (r *Renderer) SetupRenderState(l *light.Light) {
	d := r.ctx.Device
	if l.Type() == light.Omni && !r.Clustered {
		d.SetDepthBias(false)
	} else {
		d.SetDepthBias(true)
		d.SetDepthBiasValues(l.ShadowBias*-1000, l.ShadowBias*-1000)
	}
	if l.ShadowType().IsPCF() {
		d.SetBlendState(core.BlendNoWrite)
	} else {
		d.SetBlendState(core.BlendNone)
	}
	d.SetDepthState(core.DepthDefault)
	d.SetStencilState(nil, nil)
}

// viewportMatrix maps clip space into the normalized viewport rect, depth to [0,1].
func viewportMatrix(vp mgl32.Vec4) mgl32.Mat4 {
	return mgl32.Mat4{
		vp[2] * 0.5, 0, 0, 0,
		0, vp[3] * 0.5, 0, 0,
		0, 0, 0.5, 0,
		vp[0] + vp[2]*0.5, vp[1] + vp[3]*0.5, 0.5, 1,
	}
}

func (r *Renderer) dispatchUniforms(l *light.Light, cam *core.Camera, rd *light.RenderData, face int) {
	if l.Type() != light.Directional {
		r.viewPositionID.SetValue(cam.Node.Position)
		r.lightRadiusID.SetValue(l.AttenuationEnd)
	}

	viewProj := cam.ViewProjection()
	cam.Rect = core.Rect{X: rd.ShadowViewport[0], Y: rd.ShadowViewport[1], W: rd.ShadowViewport[2], H: rd.ShadowViewport[3]}
	cam.ScissorRect = core.Rect{X: rd.ShadowScissor[0], Y: rd.ShadowScissor[1], W: rd.ShadowScissor[2], H: rd.ShadowScissor[3]}
	rd.ShadowMatrix = viewportMatrix(rd.ShadowViewport).Mul4(viewProj)

	if l.Type() == light.Directional {
		copy(l.ShadowMatrixPalette[face*16:(face+1)*16], rd.ShadowMatrix[:])
	}
}

func (r *Renderer) submitCasters(casters []*core.MeshInstance, l *light.Light) {
	d := r.ctx.Device
	pass := core.ShadowPass(int(l.Type()), int(l.ShadowType()))
	for _, mi := range casters {
		mat := mi.Material
		if mat == nil {
			continue
		}
		d.SetCullMode(mat.CullMode())
		if mat.Dirty() {
			mat.UpdateUniforms(d, r.scene)
		}
		mat.SetParameters(d)

		shader := r.drawer.PassShader(mi, pass)
		if shader == nil || !d.SetShader(shader) {
			continue
		}
		r.drawer.DrawInstance(mi)
		r.ctx.Profiler.AddCount(core.CountShadowDrawCalls, 1)
	}
}

// pixelRect converts a normalized rect to pixels of target.
func pixelRect(rect mgl32.Vec4, target *core.RenderTarget, d core.Device) core.PixelRect {
	w, h := d.BackbufferSize()
	if target != nil {
		w, h = target.Width(), target.Height()
	}
	return core.PixelRect{
		X: int(math.Floor(float64(rect[0] * float32(w)))),
		Y: int(math.Floor(float64(rect[1] * float32(h)))),
		W: int(math.Floor(float64(rect[2] * float32(w)))),
		H: int(math.Floor(float64(rect[3] * float32(h)))),
	}
}

// RenderFace draws one face into the currently open pass. With clear set
// the face's scissor region is cleared first.
func (r *Renderer) RenderFace(l *light.Light, camera *core.Camera, face int, clear bool) {
	d := r.ctx.Device
	rd := l.Data(dataCamera(l, camera), face)
	cam := shadowCamera(l, rd)

	r.dispatchUniforms(l, cam, rd, face)
	target := cam.RenderTarget
	r.drawer.SetCameraUniforms(cam, target)

	vp := pixelRect(rd.ShadowViewport, target, d)
	sc := pixelRect(rd.ShadowScissor, target, d)
	d.SetViewport(vp.X, vp.Y, vp.W, vp.H)
	d.SetScissor(sc.X, sc.Y, sc.W, sc.H)
	if clear {
		flags := core.ClearDepth
		if cam.ClearColorBuffer {
			flags |= core.ClearColor
		}
		d.Clear(core.ClearOptions{Flags: flags, Color: cam.ClearColor, Depth: 1})
	}

	r.SetupRenderState(l)
	r.submitCasters(rd.VisibleCasters, l)
}

// passOps is the load/clear behaviour when a pass opens on a light's map.
// Shared atlas targets are cleared per face instead.
func passOps(cam *core.Camera, shared bool) (core.ColorOps, core.DepthStencilOps) {
	color := core.ColorOps{Store: true, Clear: !shared && cam.ClearColorBuffer, ClearValue: cam.ClearColor}
	depth := core.DepthStencilOps{ClearDepth: !shared, ClearDepthValue: 1, StoreDepth: true}
	return color, depth
}

// RenderLights renders every face of lights, opening one pass per distinct
// target, then blurs VSM maps. Lights are expected to have passed
// NeedsShadowRendering this frame.
func (r *Renderer) RenderLights(lights []*light.Light, camera *core.Camera) error {
	r.checkGeneration()
	d := r.ctx.Device
	r.ctx.Profiler.BeginScope(core.ScopeShadowMap)
	defer r.ctx.Profiler.EndScope(core.ScopeShadowMap)

	var open *core.RenderTarget
	endOpen := func() error {
		if open == nil {
			return nil
		}
		open = nil
		return d.EndPass()
	}

	for _, l := range lights {
		if l.ShadowMap == nil {
			continue
		}
		shared := l.ShadowMap.Cached
		for face := 0; face < l.NumShadowFaces(); face++ {
			cam := r.PrepareFace(l, camera, face)
			target := cam.RenderTarget
			if target == nil || !target.Valid() {
				continue
			}
			if target != open {
				if err := endOpen(); err != nil {
					return err
				}
				color, depth := passOps(cam, shared)
				if err := d.StartPass(target, color, depth); err != nil {
					return fmt.Errorf("shadow pass %s: %w", target.Name, err)
				}
				open = target
			}
			r.RenderFace(l, camera, face, shared)
		}
	}
	if err := endOpen(); err != nil {
		return err
	}

	// Atlas lights are never blurred: the atlas is shared and depth-only.
	for _, l := range lights {
		if l.ShadowMap != nil && l.ShadowType().IsVSM() && l.VSMBlurSize() > 1 &&
			(!r.Clustered || l.Type() == light.Directional) {
			if err := r.RenderVSM(l, camera); err != nil {
				return err
			}
		}
	}
	return nil
}

// Render updates the shadow of one light if it needs it this frame.
func (r *Renderer) Render(l *light.Light, camera *core.Camera) error {
	if !r.NeedsShadowRendering(l) {
		return nil
	}
	return r.RenderLights([]*light.Light{l}, camera)
}
