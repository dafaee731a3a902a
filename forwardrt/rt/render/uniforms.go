package render

import (
	"fmt"
	"math"

	"github.com/gekko3d/forward/forwardrt/rt/core"
	"github.com/gekko3d/forward/forwardrt/rt/light"
	"github.com/go-gl/mathgl/mgl32"
)

type cameraUniforms struct {
	projection       *core.ScopeID
	projectionSkybox *core.ScopeID
	view             *core.ScopeID
	viewInverse      *core.ScopeID
	view3            *core.ScopeID
	viewProjection   *core.ScopeID
	viewPosition     *core.ScopeID
	cameraParams     *core.ScopeID
	flipY            *core.ScopeID
	near             *core.ScopeID
	far              *core.ScopeID
}

func (u *cameraUniforms) resolve(scope *core.Scope) {
	u.projection = scope.Resolve("matrix_projection")
	u.projectionSkybox = scope.Resolve("matrix_projectionSkybox")
	u.view = scope.Resolve("matrix_view")
	u.viewInverse = scope.Resolve("matrix_viewInverse")
	u.view3 = scope.Resolve("matrix_view3")
	u.viewProjection = scope.Resolve("matrix_viewProjection")
	u.viewPosition = scope.Resolve("view_position")
	u.cameraParams = scope.Resolve("camera_params")
	u.flipY = scope.Resolve("projectionFlipY")
	u.near = scope.Resolve("camera_near")
	u.far = scope.Resolve("camera_far")
}

func (r *ForwardRenderer) setViewUniforms(cam *core.Camera, proj, view mgl32.Mat4, pos mgl32.Vec3, flip bool) {
	u := &r.uniforms
	u.projection.SetValue(proj)
	u.projectionSkybox.SetValue(proj)
	u.view.SetValue(view)
	u.viewInverse.SetValue(view.Inv())
	u.view3.SetValue(view.Mat3())
	u.viewProjection.SetValue(proj.Mul4(view))
	u.viewPosition.SetValue(pos)

	ortho := float32(0)
	if cam.Projection == core.ProjectionOrthographic {
		ortho = 1
	}
	u.cameraParams.SetValue(mgl32.Vec4{1 / cam.FarClip, cam.FarClip, cam.NearClip, ortho})
	u.near.SetValue(cam.NearClip)
	u.far.SetValue(cam.FarClip)
	flipY := float32(1)
	if flip {
		flipY = -1
	}
	u.flipY.SetValue(flipY)
}

// SetCameraUniforms publishes cam's matrices and clip parameters. Rendering
// into an offscreen target flips Y.
func (r *ForwardRenderer) SetCameraUniforms(cam *core.Camera, target *core.RenderTarget) {
	r.setViewUniforms(cam, cam.ProjectionMatrix(), cam.ViewMatrix(), cam.Position(), target != nil)
}

// setCameraViewport applies the camera rect and scissor to the bound target.
func (r *ForwardRenderer) setCameraViewport(cam *core.Camera, target *core.RenderTarget) (vp core.PixelRect, full bool) {
	d := r.ctx.Device
	w, h := d.BackbufferSize()
	if target != nil {
		w, h = target.Width(), target.Height()
	}
	vp = toPixels(cam.Rect, w, h)
	sc := toPixels(cam.ScissorRect, w, h)
	d.SetViewport(vp.X, vp.Y, vp.W, vp.H)
	d.SetScissor(sc.X, sc.Y, sc.W, sc.H)
	full = cam.Rect == core.Rect{X: 0, Y: 0, W: 1, H: 1} && cam.ScissorRect == core.Rect{X: 0, Y: 0, W: 1, H: 1}
	return vp, full
}

func toPixels(r core.Rect, w, h int) core.PixelRect {
	return core.PixelRect{
		X: int(math.Floor(float64(r.X * float32(w)))),
		Y: int(math.Floor(float64(r.Y * float32(h)))),
		W: int(math.Floor(float64(r.W * float32(w)))),
		H: int(math.Floor(float64(r.H * float32(h)))),
	}
}

// lightUniforms are the resolved slots of one light index in the shader.
type lightUniforms struct {
	lightType        *core.ScopeID
	color            *core.ScopeID
	direction        *core.ScopeID
	position         *core.ScopeID
	radius           *core.ScopeID
	falloff          *core.ScopeID
	innerCone        *core.ScopeID
	outerCone        *core.ScopeID
	shadowMap        *core.ScopeID
	shadowMatrix     *core.ScopeID
	shadowParams     *core.ScopeID
	shadowIntensity  *core.ScopeID
	cascadePalette   *core.ScopeID
	cascadeDistances *core.ScopeID
	cascadeCount     *core.ScopeID
	cookie           *core.ScopeID
	cookieIntensity  *core.ScopeID
	atlasViewport    *core.ScopeID
}

func (r *ForwardRenderer) lightSlot(i int) *lightUniforms {
	scope := r.ctx.Device.Scope()
	for len(r.lightIDs) <= i {
		n := fmt.Sprintf("light%d_", len(r.lightIDs))
		r.lightIDs = append(r.lightIDs, &lightUniforms{
			lightType:        scope.Resolve(n + "lightType"),
			color:            scope.Resolve(n + "color"),
			direction:        scope.Resolve(n + "direction"),
			position:         scope.Resolve(n + "position"),
			radius:           scope.Resolve(n + "radius"),
			falloff:          scope.Resolve(n + "falloffMode"),
			innerCone:        scope.Resolve(n + "innerConeAngle"),
			outerCone:        scope.Resolve(n + "outerConeAngle"),
			shadowMap:        scope.Resolve(n + "shadowMap"),
			shadowMatrix:     scope.Resolve(n + "shadowMatrix"),
			shadowParams:     scope.Resolve(n + "shadowParams"),
			shadowIntensity:  scope.Resolve(n + "shadowIntensity"),
			cascadePalette:   scope.Resolve(n + "shadowMatrixPalette[0]"),
			cascadeDistances: scope.Resolve(n + "shadowCascadeDistances[0]"),
			cascadeCount:     scope.Resolve(n + "shadowCascadeCount"),
			cookie:           scope.Resolve(n + "cookie"),
			cookieIntensity:  scope.Resolve(n + "cookieIntensity"),
			atlasViewport:    scope.Resolve(n + "atlasViewport"),
		})
	}
	return r.lightIDs[i]
}

func linearColor(l *light.Light) mgl32.Vec3 {
	return l.Color.Mul(l.Intensity)
}

// DispatchDirectLights publishes the directional lights whose mask overlaps
// mask, in order, and returns how many were bound.
func (r *ForwardRenderer) DispatchDirectLights(lights []*light.Light, mask uint32, camera *core.Camera) int {
	n := 0
	for _, l := range lights {
		if !l.Enabled || l.Type() != light.Directional || l.Mask&mask == 0 {
			continue
		}
		ids := r.lightSlot(n)
		ids.lightType.SetValue(float32(l.Type()))
		ids.color.SetValue(linearColor(l))
		ids.direction.SetValue(l.Direction())

		ids.shadowIntensity.SetValue(float32(0))
		if l.CastShadows() && l.ShadowMap != nil && r.Scene.Lighting.ShadowsEnabled {
			rd := l.Data(camera, 0)
			ids.shadowMap.SetValue(l.ShadowMap.Texture)
			ids.cascadePalette.SetValue(l.ShadowMatrixPalette[:])
			ids.cascadeDistances.SetValue(l.CascadeDistances[:])
			ids.cascadeCount.SetValue(float32(l.NumCascades()))
			ids.shadowParams.SetValue(l.ShadowParams(rd))
			ids.shadowIntensity.SetValue(l.ShadowIntensity)
		}
		n++
	}
	return n
}

// DispatchLocalLights publishes omni and spot lights matching mask after the
// first offset slots, which hold the directional lights.
func (r *ForwardRenderer) DispatchLocalLights(lights []*light.Light, mask uint32, offset int) int {
	n := 0
	for _, l := range lights {
		if !l.Enabled || l.Type() == light.Directional || l.Mask&mask == 0 {
			continue
		}
		ids := r.lightSlot(offset + n)
		ids.lightType.SetValue(float32(l.Type()))
		ids.color.SetValue(linearColor(l))
		ids.position.SetValue(l.Node.Position)
		ids.radius.SetValue(l.AttenuationEnd)
		ids.falloff.SetValue(float32(l.Falloff()))

		if l.Type() == light.Spot {
			ids.direction.SetValue(l.Direction())
			ids.innerCone.SetValue(float32(math.Cos(float64(mgl32.DegToRad(l.InnerConeAngle())))))
			ids.outerCone.SetValue(float32(math.Cos(float64(mgl32.DegToRad(l.OuterConeAngle())))))
		}

		ids.shadowIntensity.SetValue(float32(0))
		if l.CastShadows() && l.ShadowMap != nil && r.Scene.Lighting.ShadowsEnabled {
			rd := l.Data(nil, 0)
			ids.shadowMap.SetValue(l.ShadowMap.Texture)
			ids.shadowMatrix.SetValue(rd.ShadowMatrix)
			ids.shadowParams.SetValue(l.ShadowParams(rd))
			ids.shadowIntensity.SetValue(l.ShadowIntensity)
		}
		if l.Cookie() != nil {
			ids.cookie.SetValue(l.Cookie())
			ids.cookieIntensity.SetValue(l.Intensity)
			ids.atlasViewport.SetValue(l.AtlasViewport)
		}
		n++
	}
	return n
}
