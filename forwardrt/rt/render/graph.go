package render

import (
	"errors"
	"fmt"
	"math"

	"github.com/gekko3d/forward/forwardrt/rt/composition"
	"github.com/gekko3d/forward/forwardrt/rt/core"
	"github.com/gekko3d/forward/forwardrt/rt/framegraph"
	"github.com/gekko3d/forward/forwardrt/rt/light"
	"github.com/google/uuid"
)

var fullRect = core.Rect{X: 0, Y: 0, W: 1, H: 1}

func fullScreen(cam *core.Camera) bool {
	return cam.Rect == fullRect && cam.ScissorRect == fullRect
}

func mapIDs(lights []*light.Light) []uuid.UUID {
	var ids []uuid.UUID
	for _, l := range lights {
		if l.ShadowMap != nil && !containsID(ids, l.ShadowMap.ID) {
			ids = append(ids, l.ShadowMap.ID)
		}
	}
	return ids
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

// BuildFrameGraph updates comp and rebuilds the pass list: cookies, local
// shadows, the cluster update, then the main passes with each camera's
// directional shadows just before it, and postprocessing.
func (r *ForwardRenderer) BuildFrameGraph(comp *composition.LayerComposition) error {
	g := r.Graph
	g.Reset()
	if err := r.Update(comp); err != nil {
		return err
	}
	lighting := r.Scene.Lighting
	clustered := r.clustered()

	if clustered && lighting.CookiesEnabled {
		var cookies []*light.Light
		for _, l := range comp.LocalLights() {
			if l.Cookie() != nil && l.AtlasViewportAllocated && l.AtlasSlotUpdated {
				cookies = append(cookies, l)
			}
		}
		if len(cookies) > 0 && r.Atlas.CookieTarget != nil {
			g.AddPass(&framegraph.Pass{
				Kind:   framegraph.PassCookie,
				Name:   "cookies",
				Target: r.Atlas.CookieTarget,
				Lights: cookies,
				Writes: []uuid.UUID{r.Atlas.CookieTarget.ID},
			})
		}
	}

	if lighting.ShadowsEnabled {
		var locals []*light.Light
		if clustered {
			locals = r.Shadows.Local.PrepareLights(comp.LocalLights())
		} else {
			for _, l := range comp.LocalLights() {
				if l.ShadowMap != nil && r.Shadows.NeedsShadowRendering(l) {
					locals = append(locals, l)
				}
			}
		}
		if len(locals) > 0 {
			g.AddPass(&framegraph.Pass{
				Kind:   framegraph.PassShadow,
				Name:   "local shadows",
				Lights: locals,
				Writes: mapIDs(locals),
			})
		}
	}

	if clustered {
		actions := comp.ClusterActions()
		var written []uuid.UUID
		for _, a := range actions {
			if wc := a.LightClusters(); wc != nil && !containsID(written, wc.ID) {
				written = append(written, wc.ID)
			}
		}
		g.AddPass(&framegraph.Pass{
			Kind:     framegraph.PassClusterUpdate,
			Name:     "clusters",
			Clusters: actions,
			Writes:   written,
		})
	}

	r.addMainPasses(comp.RenderActions())
	return nil
}

// dirShadowLights are the directional lights a camera's first action
// renders shadows for this frame.
func (r *ForwardRenderer) dirShadowLights(ra *composition.RenderAction) []*light.Light {
	if !r.Scene.Lighting.ShadowsEnabled || !ra.FirstCameraUse || ra.Camera == nil {
		return nil
	}
	var out []*light.Light
	for _, l := range ra.DirectionalLights {
		if l.ShadowMap != nil && r.Shadows.NeedsShadowRendering(l) {
			out = append(out, l)
		}
	}
	return out
}

// startsRun reports whether ra cannot continue the main pass of prev.
func startsRun(prev, ra *composition.RenderAction) bool {
	if prev == nil || prev.Target != ra.Target || prev.TriggerPostprocess {
		return true
	}
	if !ra.FirstCameraUse || ra.Camera == nil {
		return false
	}
	return len(ra.DirectionalLights) > 0 || (ra.HasClears() && fullScreen(ra.Camera))
}

func (r *ForwardRenderer) addMainPasses(actions []*composition.RenderAction) {
	g := r.Graph
	var (
		current *framegraph.Pass
		prev    *composition.RenderAction
	)
	for _, ra := range actions {
		if startsRun(prev, ra) {
			if dir := r.dirShadowLights(ra); len(dir) > 0 {
				g.AddPass(&framegraph.Pass{
					Kind:   framegraph.PassShadow,
					Name:   "directional shadows " + ra.Camera.Name,
					Camera: ra.Camera,
					Lights: dir,
					Writes: mapIDs(dir),
				})
			}
			current = r.newMainPass(ra)
			g.AddPass(current)
		}
		current.Actions = append(current.Actions, ra)
		current.Reads = append(current.Reads, r.actionReads(ra, current.Reads)...)

		if ra.TriggerPostprocess && ra.Camera != nil {
			g.AddPass(&framegraph.Pass{
				Kind:   framegraph.PassPostprocess,
				Name:   "postprocess " + ra.Camera.Name,
				Target: ra.Target,
				Camera: ra.Camera,
				Color:  core.ColorOps{Store: true},
				Reads:  []uuid.UUID{core.TargetID(ra.Target)},
			})
		}
		prev = ra
	}
}

// newMainPass opens a pass on ra's target. Clears become load ops only when
// the camera covers the whole target; partial cameras clear with a scissor.
func (r *ForwardRenderer) newMainPass(ra *composition.RenderAction) *framegraph.Pass {
	name := "main"
	if ra.Camera != nil {
		name = ra.Camera.Name
	}
	p := &framegraph.Pass{
		Kind:   framegraph.PassMain,
		Name:   name,
		Target: ra.Target,
		Color:  core.ColorOps{Store: true},
		Writes: []uuid.UUID{core.TargetID(ra.Target)},
	}
	if cam := ra.Camera; cam != nil && fullScreen(cam) {
		p.Color.Clear = ra.ClearColor
		p.Color.ClearValue = cam.ClearColor
		p.DepthStencil = core.DepthStencilOps{
			ClearDepth:        ra.ClearDepth,
			ClearDepthValue:   cam.ClearDepth,
			ClearStencil:      ra.ClearStencil,
			ClearStencilValue: cam.ClearStencil,
		}
	}
	return p
}

// actionReads lists the shadow maps and clusters ra samples that are not
// already in have.
func (r *ForwardRenderer) actionReads(ra *composition.RenderAction, have []uuid.UUID) []uuid.UUID {
	var out []uuid.UUID
	add := func(id uuid.UUID) {
		if !containsID(have, id) && !containsID(out, id) {
			out = append(out, id)
		}
	}
	if ra.Layer != nil {
		for _, l := range ra.Layer.Lights() {
			if l.Enabled && l.CastShadows() && l.ShadowMap != nil {
				add(l.ShadowMap.ID)
			}
		}
	}
	if wc := ra.LightClusters(); wc != nil {
		add(wc.ID)
	}
	return out
}

// ExecutePass runs one pass of the frame graph.
func (r *ForwardRenderer) ExecutePass(p *framegraph.Pass) error {
	switch p.Kind {
	case framegraph.PassCookie:
		return r.renderCookies(p.Lights)
	case framegraph.PassShadow:
		return r.Shadows.RenderLights(p.Lights, p.Camera)
	case framegraph.PassClusterUpdate:
		r.ctx.Profiler.BeginScope(core.ScopeClusters)
		defer r.ctx.Profiler.EndScope(core.ScopeClusters)
		return r.Clusters.Update(p.Clusters, r.Scene.Lighting)
	case framegraph.PassMain:
		return r.executeMain(p)
	case framegraph.PassPostprocess:
		if p.Camera == nil || p.Camera.Postprocessor == nil {
			return nil
		}
		return p.Camera.Postprocessor.Render(r.ctx.Device, p.Target)
	}
	return fmt.Errorf("unknown pass kind %s", p.Kind)
}

func (r *ForwardRenderer) renderCookies(lights []*light.Light) error {
	target := r.Atlas.CookieTarget
	if r.Effects == nil || target == nil || !target.Valid() {
		return nil
	}
	shader, err := r.Effects.CookieBlitShader()
	if err != nil {
		return fmt.Errorf("cookie blit shader: %w", err)
	}
	d := r.ctx.Device
	cubeID := d.Scope().Resolve("cookieCube")
	w, h := float32(target.Width()), float32(target.Height())
	for _, l := range lights {
		vp := l.AtlasViewport
		rect := core.PixelRect{
			X: int(math.Floor(float64(vp[0] * w))),
			Y: int(math.Floor(float64(vp[1] * h))),
			W: int(math.Floor(float64(vp[2] * w))),
			H: int(math.Floor(float64(vp[3] * h))),
		}
		r.blitID.SetValue(l.Cookie())
		cube := float32(0)
		if l.Cookie().Cubemap() {
			cube = 1
		}
		cubeID.SetValue(cube)
		d.Scope().Resolve("cookieViewport").SetValue(vp)
		if err := d.DrawQuad(target, shader, &rect); err != nil {
			return fmt.Errorf("blit cookie %s: %w", l.Name, err)
		}
	}
	return nil
}

func (r *ForwardRenderer) executeMain(p *framegraph.Pass) error {
	d := r.ctx.Device
	if p.Target != nil && !p.Target.Valid() {
		core.WarnOnce(r.ctx.Logger, "invalid-target-"+p.Target.Name, "renderer: skipping pass %s, target %s is invalid", p.Name, p.Target.Name)
		return nil
	}
	if !p.SkipStart {
		if err := d.StartPass(p.Target, p.Color, p.DepthStencil); err != nil {
			return err
		}
	}
	for i, ra := range p.Actions {
		r.renderAction(ra, i == 0 && !p.SkipStart)
	}
	if p.SkipEnd {
		return nil
	}
	return d.EndPass()
}

func clearOptions(ra *composition.RenderAction) core.ClearOptions {
	var flags core.ClearFlags
	if ra.ClearColor {
		flags |= core.ClearColor
	}
	if ra.ClearDepth {
		flags |= core.ClearDepth
	}
	if ra.ClearStencil {
		flags |= core.ClearStencil
	}
	cam := ra.Camera
	return core.ClearOptions{Flags: flags, Color: cam.ClearColor, Depth: cam.ClearDepth, Stencil: cam.ClearStencil}
}

// renderAction draws one layer half. passStart is set for the action that
// opened the render pass, whose full-screen clears the load ops already did.
func (r *ForwardRenderer) renderAction(ra *composition.RenderAction, passStart bool) {
	cam := ra.Camera
	if cam == nil || ra.Layer == nil {
		return
	}
	if ra.FirstCameraUse && cam.OnPreRender != nil {
		cam.OnPreRender()
	}
	if r.clustered() {
		wc := ra.LightClusters()
		if wc == nil {
			wc = r.Clusters.Empty()
		}
		wc.Activate()
	}

	r.SetCameraUniforms(cam, ra.Target)
	_, full := r.setCameraViewport(cam, ra.Target)
	if ra.HasClears() && !(passStart && full) {
		r.ctx.Device.Clear(clearOptions(ra))
	}

	culled := ra.Layer.Culled(cam)
	list := culled.Opaque
	if ra.Transparent {
		list = culled.Transparent
	}
	r.RenderForward(cam, ra.Target, list, ra.Layer)

	if ra.LastCameraUse {
		if cam.OnPostRender != nil {
			cam.OnPostRender()
		}
		r.ctx.Profiler.AddCount(core.CountCamerasRendered, 1)
	}
}

// RenderFrame builds and executes one frame. While the device is lost it
// releases GPU resources and returns core.ErrDeviceLost; rendering resumes
// after the context is restored.
func (r *ForwardRenderer) RenderFrame(comp *composition.LayerComposition) error {
	if r.ctx.Lost() {
		r.HandleDeviceLost()
		return core.ErrDeviceLost
	}
	r.ctx.Profiler.ResetFrame()

	if err := r.BuildFrameGraph(comp); err != nil {
		return r.frameError(err)
	}
	r.Graph.Compile()
	if r.ctx.Logger.DebugEnabled() {
		r.ctx.Logger.Debugf("frame %d passes:\n%s", r.frame, r.Graph.Describe())
	}
	if err := r.Graph.Execute(r); err != nil {
		return r.frameError(err)
	}
	return nil
}

func (r *ForwardRenderer) frameError(err error) error {
	if errors.Is(err, core.ErrDeviceLost) {
		r.ctx.MarkLost()
		r.HandleDeviceLost()
	}
	return err
}
