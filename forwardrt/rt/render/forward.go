package render

import (
	"github.com/gekko3d/forward/forwardrt/rt/composition"
	"github.com/gekko3d/forward/forwardrt/rt/core"
	"github.com/gekko3d/forward/forwardrt/rt/light"
)

// PreparedCall is a draw call with its shader resolved and the state
// changes it needs relative to the previous call.
type PreparedCall struct {
	Instance         *core.MeshInstance
	Shader           core.Shader
	MaterialChanged  bool
	LightMaskChanged bool
}

func lightCounts(layer *composition.Layer, clustered bool) (dir, local int) {
	if layer == nil {
		return 0, 0
	}
	for _, l := range layer.Lights() {
		if !l.Enabled {
			continue
		}
		if l.Type() == light.Directional {
			dir++
		} else if !clustered {
			local++
		}
	}
	return dir, local
}

// PrepareMaterials resolves shader variants for drawCalls and records where
// the material or light mask changes. Calls whose shader failed are dropped.
func (r *ForwardRenderer) PrepareMaterials(camera *core.Camera, drawCalls []*core.MeshInstance, layer *composition.Layer, pass core.ShaderPass) []PreparedCall {
	d := r.ctx.Device
	clustered := r.clustered()
	var lightHash uint32
	if layer != nil {
		lightHash = layer.LightHash(clustered)
	}
	dirLights, localLights := lightCounts(layer, clustered)

	var (
		prevMaterial core.Material
		prevShader   core.Shader
		prevMask     uint32
		first        = true
	)
	calls := r.prepared[:0]
	for _, mi := range drawCalls {
		mat := mi.Material
		if mat == nil || mi.Mesh == nil {
			continue
		}
		req := baseRequest(mi, pass)
		req.LightHash = lightHash
		req.Clustered = clustered
		req.DirectionalLights = dirLights
		req.LocalLights = localLights

		shader := r.resolveShader(mi, req)
		if shader == nil {
			continue
		}
		materialChanged := first || mat != prevMaterial || shader != prevShader
		if mat != prevMaterial && mat.Dirty() {
			mat.UpdateUniforms(d, r.Scene)
		}
		calls = append(calls, PreparedCall{
			Instance:         mi,
			Shader:           shader,
			MaterialChanged:  materialChanged,
			LightMaskChanged: first || mi.Mask != prevMask,
		})
		prevMaterial, prevShader, prevMask = mat, shader, mi.Mask
		first = false
	}
	r.prepared = calls
	return calls
}

func flipCull(m core.CullMode) core.CullMode {
	switch m {
	case core.CullBack:
		return core.CullFront
	case core.CullFront:
		return core.CullBack
	}
	return m
}

func (r *ForwardRenderer) applyMaterialState(camera *core.Camera, mi *core.MeshInstance) {
	d := r.ctx.Device
	mat := mi.Material
	mat.SetParameters(d)
	r.alphaTestID.SetValue(mat.AlphaTest())
	d.SetBlendState(mat.BlendState())
	d.SetDepthState(mat.DepthState())

	cull := core.CullNone
	if camera.CullFaces {
		cull = mat.CullMode()
		if camera.FlipFaces {
			cull = flipCull(cull)
		}
	}
	d.SetCullMode(cull)

	if c, s := mat.DepthBias(); c != 0 || s != 0 {
		d.SetDepthBias(true)
		d.SetDepthBiasValues(c, s)
	} else {
		d.SetDepthBias(false)
	}
	r.ctx.Profiler.AddCount(core.CountMaterialSwitches, 1)
}

func (r *ForwardRenderer) applyStencil(mi *core.MeshInstance) {
	front, back := mi.Material.Stencil()
	if mi.StencilFront != nil || mi.StencilBack != nil {
		front, back = mi.StencilFront, mi.StencilBack
	}
	r.ctx.Device.SetStencilState(front, back)
}

// RenderForwardInternal submits prepared calls in order and returns the
// number of draws issued. A call whose shader cannot be bound is skipped and
// its state changes carry over to the next call.
func (r *ForwardRenderer) RenderForwardInternal(camera *core.Camera, target *core.RenderTarget, calls []PreparedCall, lights []*light.Light) int {
	d := r.ctx.Device
	var pendingMaterial, pendingMask bool
	drawn := 0
	for i := range calls {
		c := &calls[i]
		mi := c.Instance
		materialChanged := c.MaterialChanged || pendingMaterial
		maskChanged := c.LightMaskChanged || pendingMask

		if materialChanged {
			if !d.SetShader(c.Shader) {
				pendingMaterial, pendingMask = true, maskChanged
				continue
			}
			r.applyMaterialState(camera, mi)
		}
		if maskChanged {
			n := r.DispatchDirectLights(lights, mi.Mask, camera)
			if !r.clustered() {
				r.DispatchLocalLights(lights, mi.Mask, n)
			}
		}
		pendingMaterial, pendingMask = false, false
		r.applyStencil(mi)

		if len(camera.XRViews) == 0 {
			r.DrawInstance(mi)
			drawn++
			continue
		}
		for _, v := range camera.XRViews {
			r.setViewUniforms(camera, v.Projection, v.View, v.Position, target != nil)
			d.SetViewport(v.Viewport.X, v.Viewport.Y, v.Viewport.W, v.Viewport.H)
			r.DrawInstance(mi)
			drawn++
		}
	}
	return drawn
}

// DrawInstance binds mi's geometry, skinning, morphing and transforms, then draws.
func (r *ForwardRenderer) DrawInstance(mi *core.MeshInstance) {
	if mi.Mesh == nil {
		return
	}
	d := r.ctx.Device
	d.SetVertexBuffer(mi.Mesh.VertexBuffer)
	if mi.Mesh.IndexBuffer != nil {
		d.SetIndexBuffer(mi.Mesh.IndexBuffer)
	}
	if mi.Skin != nil {
		r.skinID.SetValue(mi.Skin.Matrices)
	}
	if mi.Morph != nil {
		r.morphID.SetValue(mi.Morph.Weights)
	}
	model := mi.Node.WorldMatrix()
	r.modelID.SetValue(model)
	r.normalID.SetValue(model.Mat3().Inv().Transpose())
	d.Draw(mi.Mesh.Primitive, 1)
}

// RenderForward draws the visible instances of one layer half with camera.
func (r *ForwardRenderer) RenderForward(camera *core.Camera, target *core.RenderTarget, drawCalls []*core.MeshInstance, layer *composition.Layer) {
	r.ctx.Profiler.BeginScope(core.ScopeForward)
	defer r.ctx.Profiler.EndScope(core.ScopeForward)

	r.ambientID.SetValue(r.Scene.AmbientLight)
	r.exposureID.SetValue(r.Scene.Exposure)

	var lights []*light.Light
	if layer != nil {
		lights = layer.Lights()
	}
	calls := r.PrepareMaterials(camera, drawCalls, layer, core.PassForward)
	n := r.RenderForwardInternal(camera, target, calls, lights)
	r.ctx.Profiler.AddCount(core.CountForwardDrawCalls, n)
}
