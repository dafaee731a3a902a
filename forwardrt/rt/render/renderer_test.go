package render

import (
	"math/rand"
	"testing"

	"github.com/gekko3d/forward/forwardrt/rt/composition"
	"github.com/gekko3d/forward/forwardrt/rt/core"
	"github.com/gekko3d/forward/forwardrt/rt/core/coretest"
	"github.com/gekko3d/forward/forwardrt/rt/framegraph"
	"github.com/gekko3d/forward/forwardrt/rt/light"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	r     *ForwardRenderer
	ctx   *core.RenderContext
	dev   *coretest.Device
	lib   *coretest.Library
	comp  *composition.LayerComposition
	layer *composition.Layer
	cam   *core.Camera
}

func newFixture(clustered bool) *fixture {
	dev := coretest.NewDevice()
	ctx := core.NewRenderContext(dev, nil)
	scene := core.NewSceneParams()
	scene.Lighting.ClusteredEnabled = clustered

	layer := composition.NewLayer(0, "World")
	comp := composition.New()
	comp.PushOpaque(layer)
	comp.PushTransparent(layer)

	cam := core.NewCamera("main")
	cam.Layers = []int{0}
	cam.Node.Position = mgl32.Vec3{0, 2, 10}
	comp.AddCamera(cam)

	return &fixture{
		r:     New(ctx, scene),
		ctx:   ctx,
		dev:   dev,
		lib:   coretest.NewLibrary(),
		comp:  comp,
		layer: layer,
		cam:   cam,
	}
}

func (f *fixture) material(name string) *core.BaseMaterial {
	return core.NewBaseMaterial(name, f.lib)
}

func (f *fixture) box(name string, mat core.Material, pos mgl32.Vec3) *core.MeshInstance {
	mesh := core.NewMesh(nil, nil, core.Primitive{Count: 36, Indexed: true}, core.BoundingBox{HalfExtents: mgl32.Vec3{0.5, 0.5, 0.5}})
	node := core.NewTransform()
	node.Position = pos
	return core.NewMeshInstance(name, mesh, mat, node)
}

func (f *fixture) spot(pos mgl32.Vec3) *light.Light {
	l := light.New("spot", light.Spot, f.dev.Caps())
	l.SetCastShadows(true)
	l.Node.Position = pos
	l.AttenuationEnd = 20
	return l
}

func (f *fixture) sun() *light.Light {
	l := light.New("sun", light.Directional, f.dev.Caps())
	l.SetCastShadows(true)
	l.Node.SetEulerAngles(30, 20, 0)
	return l
}

func TestCullRespectsMaskAndCullFlag(t *testing.T) {
	f := newFixture(false)
	cam := core.NewCamera("cull")
	cam.CullingMask = core.MaskAffectDynamic
	UpdateCameraFrustum(cam)

	mat := f.material("m")
	inFront := f.box("front", mat, mgl32.Vec3{0, 0, -5})
	behind := f.box("behind", mat, mgl32.Vec3{0, 0, 10})
	alwaysOn := f.box("always", mat, mgl32.Vec3{0, 0, 10})
	alwaysOn.Cull = false
	masked := f.box("masked", mat, mgl32.Vec3{0, 0, -5})
	masked.Mask = core.MaskBake
	hidden := f.box("hidden", mat, mgl32.Vec3{0, 0, -5})
	hidden.Visible = false
	all := []*core.MeshInstance{inFront, behind, alwaysOn, masked, hidden}

	f.r.frame++
	visible := f.r.Cull(cam, all, nil)
	assert.Equal(t, []*core.MeshInstance{inFront, alwaysOn}, visible)
	assert.True(t, f.r.VisibleThisFrame(inFront))
	assert.False(t, f.r.VisibleThisFrame(behind))
	assert.Equal(t, 3, f.ctx.Profiler.Count(core.CountCulledInstances))

	cam.FrustumCulling = false
	visible = f.r.Cull(cam, all, visible)
	assert.Equal(t, []*core.MeshInstance{inFront, behind, alwaysOn}, visible)
	for _, mi := range visible {
		assert.NotZero(t, mi.Mask&cam.CullingMask)
	}
}

func TestCullLights(t *testing.T) {
	f := newFixture(false)
	cam := core.NewCamera("cull")
	UpdateCameraFrustum(cam)

	near := light.New("near", light.Omni, f.dev.Caps())
	near.Node.Position = mgl32.Vec3{0, 0, -10}
	near.AttenuationEnd = 2
	behindCaster := light.New("behind", light.Omni, f.dev.Caps())
	behindCaster.Node.Position = mgl32.Vec3{0, 0, 50}
	behindCaster.AttenuationEnd = 2
	behindCaster.SetCastShadows(true)
	sun := light.New("sun", light.Directional, f.dev.Caps())
	lights := []*light.Light{near, behindCaster, sun}
	for _, l := range lights {
		l.BeginFrame()
	}

	f.r.CullLights(cam, lights)
	assert.True(t, near.VisibleThisFrame)
	assert.Greater(t, near.MaxScreenSize, float32(0))
	assert.True(t, behindCaster.VisibleThisFrame, "caster without a map stays visible to get one")
	assert.True(t, sun.VisibleThisFrame)

	f.r.Scene.Lighting.ClusteredEnabled = true
	for _, l := range lights {
		l.BeginFrame()
	}
	f.r.CullLights(cam, lights)
	assert.False(t, behindCaster.VisibleThisFrame)
}

func TestComparatorsAreTotalOrders(t *testing.T) {
	f := newFixture(false)
	rng := rand.New(rand.NewSource(7))
	mats := []*core.BaseMaterial{f.material("a"), f.material("b"), f.material("c")}
	mats[2].Blend = core.BlendNormal
	meshes := []*core.Mesh{
		core.NewMesh(nil, nil, core.Primitive{}, core.BoundingBox{}),
		core.NewMesh(nil, nil, core.Primitive{}, core.BoundingBox{}),
	}
	values := []float32{0, 1.5, 3}

	var items []*core.MeshInstance
	for i := 0; i < 24; i++ {
		mi := core.NewMeshInstance("r", meshes[rng.Intn(len(meshes))], mats[rng.Intn(len(mats))], nil)
		mi.Layer = rng.Intn(2)
		mi.DrawOrder = rng.Intn(3)
		mi.ZDist = values[rng.Intn(3)]
		mi.ZDist2 = values[rng.Intn(3)]
		if rng.Intn(3) == 0 {
			mi.Skin = &core.SkinInstance{}
		}
		items = append(items, mi)
	}

	comparators := map[string]func(a, b *core.MeshInstance) int{
		"forward": CompareForward,
		"depth":   CompareDepth,
		"shadow":  CompareShadow,
	}
	for name, cmp := range comparators {
		for _, a := range items {
			assert.Zero(t, cmp(a, a), name)
			for _, b := range items {
				ab := cmp(a, b)
				require.Equal(t, ab, -cmp(b, a), "%s antisymmetric", name)
				if a != b {
					require.NotZero(t, ab, "%s total", name)
				}
				if ab >= 0 {
					continue
				}
				for _, c := range items {
					if cmp(b, c) < 0 {
						require.Negative(t, cmp(a, c), "%s transitive", name)
					}
				}
			}
		}
	}
}

func TestForwardSortTiers(t *testing.T) {
	f := newFixture(false)
	mat := f.material("m")
	far := f.box("far", mat, mgl32.Vec3{})
	far.ZDist = 10
	near := f.box("near", mat, mgl32.Vec3{})
	near.ZDist = 2
	ordered := f.box("ordered", mat, mgl32.Vec3{})
	ordered.DrawOrder = 1
	top := f.box("top", mat, mgl32.Vec3{})
	top.Layer = 1

	assert.Negative(t, CompareForward(far, near), "back to front")
	assert.Negative(t, CompareForward(ordered, far), "explicit order first")
	assert.Negative(t, CompareForward(top, ordered), "higher layer first")
}

func TestFailedShaderIsSkipped(t *testing.T) {
	f := newFixture(false)
	f.lib.Fail["broken"] = true
	good := f.material("good")
	first := f.box("first", good, mgl32.Vec3{})
	bad := f.box("bad", f.material("broken"), mgl32.Vec3{})
	second := f.box("second", good, mgl32.Vec3{})

	UpdateCameraFrustum(f.cam)
	f.r.RenderForward(f.cam, nil, []*core.MeshInstance{first, bad, second}, f.layer)

	assert.Equal(t, 2, f.dev.Count("Draw"))
	assert.Equal(t, 1, f.dev.Count("SetShader"), "consecutive instances share one material bind")
	assert.Equal(t, 1, f.dev.Count("SetBlendState"))
	assert.Equal(t, 2, f.ctx.Profiler.Count(core.CountForwardDrawCalls))
	assert.Equal(t, 1, f.ctx.Profiler.Count(core.CountMaterialSwitches))

	// The failure is cached; the broken variant is requested once.
	f.r.RenderForward(f.cam, nil, []*core.MeshInstance{first, bad, second}, f.layer)
	broken := 0
	for _, req := range f.lib.Requests {
		if req.Pass == core.PassForward {
			broken++
		}
	}
	assert.Equal(t, 2, broken, "one request per material")
}

func TestPrepareMaterialsTracksLightMask(t *testing.T) {
	f := newFixture(false)
	mat := f.material("m")
	a := f.box("a", mat, mgl32.Vec3{})
	b := f.box("b", mat, mgl32.Vec3{})
	b.Mask = core.MaskAffectBaked
	c := f.box("c", f.material("other"), mgl32.Vec3{})
	c.Mask = core.MaskAffectBaked

	calls := f.r.PrepareMaterials(f.cam, []*core.MeshInstance{a, b, c}, f.layer, core.PassForward)
	require.Len(t, calls, 3)
	assert.True(t, calls[0].MaterialChanged)
	assert.True(t, calls[0].LightMaskChanged)
	assert.False(t, calls[1].MaterialChanged)
	assert.True(t, calls[1].LightMaskChanged)
	assert.True(t, calls[2].MaterialChanged)
	assert.False(t, calls[2].LightMaskChanged)
}

func TestDirectLightsFollowMask(t *testing.T) {
	f := newFixture(false)
	sun := f.sun()
	sun.Color = mgl32.Vec3{1, 0.5, 0}
	sun.Intensity = 2
	baked := light.New("baked", light.Directional, f.dev.Caps())
	baked.Mask = core.MaskAffectBaked

	n := f.r.DispatchDirectLights([]*light.Light{baked, sun}, core.MaskAffectDynamic, f.cam)
	assert.Equal(t, 1, n)
	color, ok := f.dev.Scope().Lookup("light0_color")
	require.True(t, ok)
	assert.Equal(t, mgl32.Vec3{2, 1, 0}, color.Value())

	omni := light.New("omni", light.Omni, f.dev.Caps())
	omni.Node.Position = mgl32.Vec3{1, 2, 3}
	assert.Equal(t, 1, f.r.DispatchLocalLights([]*light.Light{sun, omni}, core.MaskAffectDynamic, n))
	pos, ok := f.dev.Scope().Lookup("light1_position")
	require.True(t, ok)
	assert.Equal(t, mgl32.Vec3{1, 2, 3}, pos.Value())
}

func TestXRCameraDrawsOncePerView(t *testing.T) {
	f := newFixture(false)
	f.cam.XRViews = []core.XRView{
		{Projection: f.cam.ProjectionMatrix(), View: f.cam.ViewMatrix(), Viewport: core.PixelRect{W: 640, H: 720}},
		{Projection: f.cam.ProjectionMatrix(), View: f.cam.ViewMatrix(), Viewport: core.PixelRect{X: 640, W: 640, H: 720}},
	}
	mi := f.box("box", f.material("m"), mgl32.Vec3{})
	f.r.RenderForward(f.cam, nil, []*core.MeshInstance{mi}, f.layer)

	assert.Equal(t, 2, f.dev.Count("Draw"))
	assert.Equal(t, 1, f.dev.Count("SetShader"))
	var viewports []core.PixelRect
	for _, c := range f.dev.Calls {
		if c.Op == "SetViewport" {
			viewports = append(viewports, c.Arg.(core.PixelRect))
		}
	}
	assert.Equal(t, []core.PixelRect{f.cam.XRViews[0].Viewport, f.cam.XRViews[1].Viewport}, viewports)
}

func TestInvalidTargetAndMissingCameraAreSkipped(t *testing.T) {
	f := newFixture(false)
	f.layer.AddMeshInstances(f.box("box", f.material("m"), mgl32.Vec3{}))

	tex, err := f.dev.CreateTexture(core.TextureDescriptor{Name: "off", Width: 256, Height: 256})
	require.NoError(t, err)
	rt := core.NewRenderTarget("off", tex, nil, 0)
	rt.Destroy()
	offscreen := core.NewCamera("offscreen")
	offscreen.Layers = []int{0}
	offscreen.Node.Position = f.cam.Node.Position
	offscreen.RenderTarget = rt
	preRendered := false
	offscreen.OnPreRender = func() { preRendered = true }
	f.comp.AddCamera(offscreen)

	require.NoError(t, f.r.RenderFrame(f.comp))
	assert.Equal(t, 1, f.dev.Count("StartPass"))
	assert.Equal(t, 1, f.dev.Count("Draw"))
	assert.Equal(t, 1, f.ctx.Profiler.Count(core.CountCamerasRendered))
	assert.False(t, preRendered)

	f.dev.Reset()
	f.r.renderAction(&composition.RenderAction{Layer: f.layer}, true)
	assert.Empty(t, f.dev.Calls)
}

type recordingPost struct{ targets []*core.RenderTarget }

func (p *recordingPost) Render(d core.Device, target *core.RenderTarget) error {
	p.targets = append(p.targets, target)
	return nil
}

func TestPostprocessRunsAfterCamera(t *testing.T) {
	f := newFixture(false)
	f.layer.AddMeshInstances(f.box("box", f.material("m"), mgl32.Vec3{}))
	post := &recordingPost{}
	f.cam.Postprocessor = post

	require.NoError(t, f.r.RenderFrame(f.comp))
	var kinds []framegraph.PassKind
	for _, p := range f.r.Graph.Passes() {
		kinds = append(kinds, p.Kind)
	}
	assert.Equal(t, []framegraph.PassKind{framegraph.PassMain, framegraph.PassPostprocess}, kinds)
	assert.Len(t, post.targets, 1)
	assert.Len(t, f.r.Graph.Passes()[0].Actions, 2, "opaque and transparent share a pass")
}

func TestShadowPassesPrecedeMainPass(t *testing.T) {
	f := newFixture(true)
	f.layer.AddMeshInstances(
		f.box("ground", f.material("ground"), mgl32.Vec3{0, 0, 0}),
		f.box("crate", f.material("crate"), mgl32.Vec3{1, 1, 0}),
	)
	spot := f.spot(mgl32.Vec3{0, 6, 0})
	sun := f.sun()
	f.layer.AddLight(spot)
	f.layer.AddLight(sun)

	require.NoError(t, f.r.BuildFrameGraph(f.comp))
	var kinds []framegraph.PassKind
	for _, p := range f.r.Graph.Passes() {
		kinds = append(kinds, p.Kind)
	}
	require.Equal(t, []framegraph.PassKind{
		framegraph.PassShadow,
		framegraph.PassClusterUpdate,
		framegraph.PassShadow,
		framegraph.PassMain,
	}, kinds)
	require.NoError(t, f.r.Graph.Validate())

	passes := f.r.Graph.Passes()
	main := passes[3]
	assert.Contains(t, main.Reads, f.r.Atlas.ShadowAtlas.ID)
	assert.Contains(t, main.Reads, sun.ShadowMap.ID)
	assert.Same(t, f.cam, passes[2].Camera)
	assert.Equal(t, []*light.Light{sun}, passes[2].Lights)

	require.NoError(t, f.r.Graph.Execute(f.r))
	assert.Positive(t, f.ctx.Profiler.Count(core.CountShadowDrawCalls))
	assert.Equal(t, 2, f.ctx.Profiler.Count(core.CountForwardDrawCalls))
	assert.Same(t, f.r.Atlas.ShadowAtlas, spot.ShadowMap)
}

func TestDeviceLostReleasesAndRecovers(t *testing.T) {
	f := newFixture(false)
	f.layer.AddMeshInstances(f.box("box", f.material("m"), mgl32.Vec3{}))
	spot := f.spot(mgl32.Vec3{0, 6, 0})
	f.layer.AddLight(spot)

	require.NoError(t, f.r.RenderFrame(f.comp))
	first := spot.ShadowMap
	require.NotNil(t, first)

	f.ctx.MarkLost()
	err := f.r.RenderFrame(f.comp)
	require.ErrorIs(t, err, core.ErrDeviceLost)
	assert.Nil(t, spot.ShadowMap)
	assert.True(t, first.Texture.(*coretest.Texture).Destroyed)

	f.ctx.Restore(nil)
	require.NoError(t, f.r.RenderFrame(f.comp))
	require.NotNil(t, spot.ShadowMap)
	assert.NotSame(t, first, spot.ShadowMap)
	assert.Equal(t, 1, f.ctx.Profiler.Count(core.CountForwardDrawCalls))
}
