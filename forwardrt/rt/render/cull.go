package render

import (
	"fmt"

	"github.com/gekko3d/forward/forwardrt/rt/composition"
	"github.com/gekko3d/forward/forwardrt/rt/core"
	"github.com/gekko3d/forward/forwardrt/rt/light"
)

// UpdateCameraFrustum refreshes cam's frustum from its current pose.
func UpdateCameraFrustum(cam *core.Camera) {
	cam.UpdateFrustum(cam.ViewProjection())
}

// Cull appends to visible the draw calls camera can see. Instances outside
// the camera's culling mask never pass; instances with Cull unset skip the
// bounds test. The camera frustum must be current.
func (r *ForwardRenderer) Cull(camera *core.Camera, drawCalls []*core.MeshInstance, visible []*core.MeshInstance) []*core.MeshInstance {
	visible = visible[:0]
	for _, mi := range drawCalls {
		if !mi.Visible || mi.Mask&camera.CullingMask == 0 {
			continue
		}
		if camera.FrustumCulling && mi.Cull && !mi.IsVisible(camera) {
			continue
		}
		visible = append(visible, mi)
		r.markVisible(mi)
	}
	r.ctx.Profiler.AddCount(core.CountCulledInstances, len(drawCalls)-len(visible))
	return visible
}

// CullLights marks the lights camera can see and tracks their largest
// screen size for atlas priority.
func (r *ForwardRenderer) CullLights(camera *core.Camera, lights []*light.Light) {
	for _, l := range lights {
		if !l.Enabled {
			continue
		}
		if l.Type() == light.Directional {
			l.VisibleThisFrame = true
			continue
		}
		sphere := l.BoundingSphere()
		if camera.Frustum().ContainsSphere(sphere) != core.Outside {
			l.VisibleThisFrame = true
			l.MaxScreenSize = max(l.MaxScreenSize, camera.ScreenSize(sphere))
			continue
		}
		// A shadow caster without a map is kept so the map gets allocated.
		if l.CastShadows() && l.ShadowMap == nil && !r.clustered() {
			l.VisibleThisFrame = true
		}
	}
}

func (r *ForwardRenderer) cullComposition(comp *composition.LayerComposition) {
	r.ctx.Profiler.BeginScope(core.ScopeCull)
	defer r.ctx.Profiler.EndScope(core.ScopeCull)

	for _, cam := range comp.Cameras() {
		UpdateCameraFrustum(cam)
		for _, layer := range comp.Layers() {
			if !layer.Enabled || !cam.RendersLayer(layer.ID) {
				continue
			}
			culled := layer.Culled(cam)
			culled.Reset()
			r.scratch = r.Cull(cam, layer.MeshInstances(), r.scratch)
			for _, mi := range r.scratch {
				if mi.Transparent() {
					culled.Transparent = append(culled.Transparent, mi)
				} else {
					culled.Opaque = append(culled.Opaque, mi)
				}
			}
			r.CullLights(cam, layer.Lights())

			r.ctx.Profiler.BeginScope(core.ScopeSort)
			layer.SortVisible(cam, false, CompareForward)
			layer.SortVisible(cam, true, CompareForward)
			r.ctx.Profiler.EndScope(core.ScopeSort)
		}
	}
}

// cullShadowmaps positions shadow cameras and culls casters: local lights
// once per frame, directional lights once per camera that uses them.
func (r *ForwardRenderer) cullShadowmaps(comp *composition.LayerComposition) error {
	if !r.Scene.Lighting.ShadowsEnabled {
		return nil
	}
	for _, l := range comp.LocalLights() {
		if !l.VisibleThisFrame || !l.CastShadows() {
			continue
		}
		if r.clustered() && !l.AtlasViewportAllocated {
			continue
		}
		if err := r.Shadows.Local.Cull(l, comp.ShadowCasters(l, nil)); err != nil {
			return err
		}
	}
	for _, ra := range comp.RenderActions() {
		if ra.Camera == nil {
			continue
		}
		for _, l := range ra.DirectionalLights {
			if err := r.Shadows.Directional.Cull(l, comp.ShadowCasters(l, ra.Camera), ra.Camera); err != nil {
				return err
			}
		}
	}
	return nil
}

// Update prepares comp for rendering. Visibility is resolved first so the
// atlas and the cluster allocator only see what is on screen.
func (r *ForwardRenderer) Update(comp *composition.LayerComposition) error {
	r.checkGeneration()
	r.frame++
	r.Shadows.Clustered = r.clustered()

	comp.Update()
	r.lights = append(r.lights[:0], comp.Lights()...)
	for _, l := range r.lights {
		l.BeginFrame()
	}
	r.cullComposition(comp)

	if r.clustered() {
		if err := r.Atlas.Update(comp.LocalLights(), r.Scene.Lighting); err != nil {
			return fmt.Errorf("update light atlas: %w", err)
		}
	}
	if err := r.cullShadowmaps(comp); err != nil {
		return fmt.Errorf("cull shadows: %w", err)
	}
	if r.clustered() {
		r.Clusters.Assign(comp.ClusterActions())
	}
	return nil
}
