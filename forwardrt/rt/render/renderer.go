package render

import (
	"fmt"

	"github.com/gekko3d/forward/forwardrt/rt/atlas"
	"github.com/gekko3d/forward/forwardrt/rt/clusters"
	"github.com/gekko3d/forward/forwardrt/rt/core"
	"github.com/gekko3d/forward/forwardrt/rt/framegraph"
	"github.com/gekko3d/forward/forwardrt/rt/light"
	"github.com/gekko3d/forward/forwardrt/rt/shadow"
)

// EffectLibrary supplies the full-screen shaders used outside material draws.
type EffectLibrary interface {
	shadow.BlurLibrary
	CookieBlitShader() (core.Shader, error)
}

type cachedShader struct {
	req    core.VariantRequest
	shader core.Shader
	valid  bool
}

// ForwardRenderer culls, sorts and submits a layer composition each frame
// and owns the shadow renderer, light atlas and cluster allocator.
type ForwardRenderer struct {
	ctx   *core.RenderContext
	Scene *core.SceneParams

	Atlas    *atlas.LightTextureAtlas
	Clusters *clusters.Allocator
	Shadows  *shadow.Renderer
	Effects  EffectLibrary
	Graph    *framegraph.FrameGraph

	frame uint64
	// Per mesh instance, indexed by MeshInstance.ID.
	visibleFrame []uint64
	passShaders  [][]cachedShader

	prepared []PreparedCall
	scratch  []*core.MeshInstance
	lights   []*light.Light

	uniforms    cameraUniforms
	lightIDs    []*lightUniforms
	modelID     *core.ScopeID
	normalID    *core.ScopeID
	skinID      *core.ScopeID
	morphID     *core.ScopeID
	alphaTestID *core.ScopeID
	blitID      *core.ScopeID
	ambientID   *core.ScopeID
	exposureID  *core.ScopeID

	generation  int
	lostHandled bool
}

func New(ctx *core.RenderContext, scene *core.SceneParams) *ForwardRenderer {
	if scene == nil {
		scene = core.NewSceneParams()
	}
	r := &ForwardRenderer{
		ctx:      ctx,
		Scene:    scene,
		Atlas:    atlas.New(ctx),
		Clusters: clusters.NewAllocator(ctx),
		Graph:    framegraph.New(),
	}
	r.Shadows = shadow.NewRenderer(ctx, r, scene)
	r.Shadows.Atlas = r.Atlas
	r.Shadows.SortCasters = CompareShadow
	r.resolveScope()
	return r
}

// SetEffects installs the blur and cookie shaders.
func (r *ForwardRenderer) SetEffects(e EffectLibrary) {
	r.Effects = e
	r.Shadows.Blur = e
}

func (r *ForwardRenderer) Context() *core.RenderContext { return r.ctx }

func (r *ForwardRenderer) clustered() bool {
	return r.Scene.Lighting.ClusteredEnabled
}

func (r *ForwardRenderer) resolveScope() {
	scope := r.ctx.Device.Scope()
	r.uniforms.resolve(scope)
	r.lightIDs = r.lightIDs[:0]
	r.modelID = scope.Resolve("matrix_model")
	r.normalID = scope.Resolve("matrix_normal")
	r.skinID = scope.Resolve("matrix_pose[0]")
	r.morphID = scope.Resolve("morph_weights[0]")
	r.alphaTestID = scope.Resolve("alpha_ref")
	r.blitID = scope.Resolve("blitTexture")
	r.ambientID = scope.Resolve("light_globalAmbient")
	r.exposureID = scope.Resolve("exposure")
	r.generation = r.ctx.Generation()
}

// checkGeneration drops everything tied to a previous device.
func (r *ForwardRenderer) checkGeneration() {
	if r.generation == r.ctx.Generation() {
		return
	}
	r.ctx.Logger.Debugf("renderer: device generation %d, rebuilding caches", r.ctx.Generation())
	clear(r.passShaders)
	r.resolveScope()
	r.lostHandled = false
}

func (r *ForwardRenderer) growTables(id int) {
	if id < len(r.visibleFrame) {
		return
	}
	n := max(core.MaxMeshInstanceID(), id+1)
	r.visibleFrame = append(r.visibleFrame, make([]uint64, n-len(r.visibleFrame))...)
	r.passShaders = append(r.passShaders, make([][]cachedShader, n-len(r.passShaders))...)
}

func (r *ForwardRenderer) markVisible(mi *core.MeshInstance) {
	r.growTables(mi.ID)
	r.visibleFrame[mi.ID] = r.frame
}

// VisibleThisFrame reports whether mi passed culling for any camera this frame.
func (r *ForwardRenderer) VisibleThisFrame(mi *core.MeshInstance) bool {
	return mi.ID < len(r.visibleFrame) && r.frame > 0 && r.visibleFrame[mi.ID] == r.frame
}

// resolveShader returns mi's cached variant for req, compiling it on first
// use. Failed variants are cached as nil so the draw is skipped every frame.
func (r *ForwardRenderer) resolveShader(mi *core.MeshInstance, req core.VariantRequest) core.Shader {
	if mi.Material == nil {
		return nil
	}
	r.growTables(mi.ID)
	slots := r.passShaders[mi.ID]
	if int(req.Pass) >= len(slots) {
		slots = append(slots, make([]cachedShader, int(req.Pass)+1-len(slots))...)
		r.passShaders[mi.ID] = slots
	}
	slot := &slots[req.Pass]
	if slot.valid && slot.req == req {
		return slot.shader
	}

	s, err := mi.Material.ShaderVariant(r.ctx.Device, req)
	if err != nil {
		core.WarnOnce(r.ctx.Logger, fmt.Sprintf("shader-%s-%s", mi.Material.Name(), req.Pass),
			"renderer: skipping %s: %v", mi.Name, err)
		s = nil
	}
	*slot = cachedShader{req: req, shader: s, valid: true}
	return s
}

func baseRequest(mi *core.MeshInstance, pass core.ShaderPass) core.VariantRequest {
	return core.VariantRequest{
		Pass:    pass,
		ObjDefs: mi.ShaderDefs,
		Skinned: mi.Skin != nil,
		Morphed: mi.Morph != nil,
	}
}

// PassShader resolves the variant of mi for a depth or shadow pass.
func (r *ForwardRenderer) PassShader(mi *core.MeshInstance, pass core.ShaderPass) core.Shader {
	return r.resolveShader(mi, baseRequest(mi, pass))
}

// HandleDeviceLost releases every GPU resource the pipeline holds. They are
// recreated lazily once the context is restored.
func (r *ForwardRenderer) HandleDeviceLost() {
	if r.lostHandled {
		return
	}
	r.lostHandled = true
	r.ctx.Logger.Warnf("renderer: graphics device lost, releasing GPU resources")
	r.release()
}

func (r *ForwardRenderer) release() {
	r.Atlas.Destroy()
	r.Clusters.Destroy()
	r.Shadows.MapCache.Clear()
	for _, l := range r.lights {
		l.DestroyShadowMap()
	}
	clear(r.passShaders)
}

// Destroy releases all resources for good.
func (r *ForwardRenderer) Destroy() {
	r.release()
	r.lights = nil
}
