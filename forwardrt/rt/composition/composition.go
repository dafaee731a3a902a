package composition

import (
	"slices"

	"github.com/gekko3d/forward/forwardrt/rt/clusters"
	"github.com/gekko3d/forward/forwardrt/rt/core"
	"github.com/gekko3d/forward/forwardrt/rt/light"
)

// RenderAction renders one layer half (opaque or transparent) with one camera.
type RenderAction struct {
	Layer       *Layer
	Transparent bool
	Camera      *core.Camera
	Target      *core.RenderTarget

	ClearColor   bool
	ClearDepth   bool
	ClearStencil bool

	FirstCameraUse     bool
	LastCameraUse      bool
	TriggerPostprocess bool

	// DirectionalLights cast shadows for this camera; set on the camera's
	// first action so their shadow passes run right before it.
	DirectionalLights []*light.Light

	lightClusters *clusters.WorldClusters
}

func (ra *RenderAction) ClusterLayer() clusters.Layer {
	if ra.Layer == nil {
		return nil
	}
	return ra.Layer
}

func (ra *RenderAction) SetLightClusters(wc *clusters.WorldClusters) { ra.lightClusters = wc }
func (ra *RenderAction) LightClusters() *clusters.WorldClusters      { return ra.lightClusters }

// HasClears reports whether the action starts by clearing any buffer.
func (ra *RenderAction) HasClears() bool {
	return ra.ClearColor || ra.ClearDepth || ra.ClearStencil
}

type entry struct {
	layer       *Layer
	transparent bool
}

// LayerComposition is the ordered list of layer halves plus the cameras
// rendering them.
type LayerComposition struct {
	entries []entry
	cameras []*core.Camera

	renderActions []*RenderAction
	lights        []*light.Light
}

func New() *LayerComposition {
	return &LayerComposition{}
}

func (c *LayerComposition) PushOpaque(l *Layer) {
	c.entries = append(c.entries, entry{layer: l})
}

func (c *LayerComposition) PushTransparent(l *Layer) {
	c.entries = append(c.entries, entry{layer: l, transparent: true})
}

// Layers lists each distinct layer once, in composition order.
func (c *LayerComposition) Layers() []*Layer {
	var out []*Layer
	for _, e := range c.entries {
		if !slices.Contains(out, e.layer) {
			out = append(out, e.layer)
		}
	}
	return out
}

func (c *LayerComposition) AddCamera(cam *core.Camera) {
	if !slices.Contains(c.cameras, cam) {
		c.cameras = append(c.cameras, cam)
	}
}

func (c *LayerComposition) RemoveCamera(cam *core.Camera) {
	if i := slices.Index(c.cameras, cam); i >= 0 {
		c.cameras = slices.Delete(c.cameras, i, i+1)
	}
}

func (c *LayerComposition) Cameras() []*core.Camera { return c.cameras }

func (c *LayerComposition) RenderActions() []*RenderAction { return c.renderActions }

// ClusterActions exposes the render actions to the cluster allocator.
func (c *LayerComposition) ClusterActions() []clusters.Action {
	out := make([]clusters.Action, len(c.renderActions))
	for i, ra := range c.renderActions {
		out[i] = ra
	}
	return out
}

// Lights returns every enabled light of every enabled layer, once each.
func (c *LayerComposition) Lights() []*light.Light { return c.lights }

// LocalLights is the omni and spot subset of Lights.
func (c *LayerComposition) LocalLights() []*light.Light {
	var out []*light.Light
	for _, l := range c.lights {
		if l.Type() != light.Directional {
			out = append(out, l)
		}
	}
	return out
}

// ShadowCasters collects casters from every enabled layer holding l. With a
// camera only layers that camera renders count.
func (c *LayerComposition) ShadowCasters(l *light.Light, camera *core.Camera) []*core.MeshInstance {
	var out []*core.MeshInstance
	seen := map[*core.MeshInstance]struct{}{}
	for _, layer := range c.Layers() {
		if !layer.Enabled || !slices.Contains(layer.Lights(), l) {
			continue
		}
		if camera != nil && !camera.RendersLayer(layer.ID) {
			continue
		}
		for _, mi := range layer.ShadowCasters() {
			if _, ok := seen[mi]; ok {
				continue
			}
			seen[mi] = struct{}{}
			out = append(out, mi)
		}
	}
	return out
}

// Update rebuilds the light list and the render actions for this frame.
func (c *LayerComposition) Update() {
	c.lights = c.lights[:0]
	for _, layer := range c.Layers() {
		if !layer.Enabled {
			continue
		}
		for _, l := range layer.Lights() {
			if l.Enabled && !slices.Contains(c.lights, l) {
				c.lights = append(c.lights, l)
			}
		}
	}

	c.renderActions = c.renderActions[:0]
	for _, cam := range c.cameras {
		first := len(c.renderActions)
		for _, e := range c.entries {
			if !e.layer.Enabled || !cam.RendersLayer(e.layer.ID) {
				continue
			}
			ra := &RenderAction{
				Layer:       e.layer,
				Transparent: e.transparent,
				Camera:      cam,
				Target:      cam.RenderTarget,
			}
			// Layer clears apply to the layer's first half only.
			if !e.transparent || !c.hasOpaque(e.layer) {
				ra.ClearColor = e.layer.ClearColorBuffer
				ra.ClearDepth = e.layer.ClearDepthBuffer
				ra.ClearStencil = e.layer.ClearStencilBuffer
			}
			c.renderActions = append(c.renderActions, ra)
		}
		if first == len(c.renderActions) {
			continue
		}

		head := c.renderActions[first]
		head.FirstCameraUse = true
		head.ClearColor = head.ClearColor || cam.ClearColorBuffer
		head.ClearDepth = head.ClearDepth || cam.ClearDepthBuffer
		head.ClearStencil = head.ClearStencil || cam.ClearStencilBuffer
		head.DirectionalLights = c.cameraShadowLights(cam)

		tail := c.renderActions[len(c.renderActions)-1]
		tail.LastCameraUse = true
		tail.TriggerPostprocess = cam.Postprocessor != nil
	}
}

func (c *LayerComposition) hasOpaque(l *Layer) bool {
	for _, e := range c.entries {
		if e.layer == l && !e.transparent {
			return true
		}
	}
	return false
}

func (c *LayerComposition) cameraShadowLights(cam *core.Camera) []*light.Light {
	var out []*light.Light
	for _, layer := range c.Layers() {
		if !layer.Enabled || !cam.RendersLayer(layer.ID) {
			continue
		}
		for _, l := range layer.DirectionalLights() {
			if l.CastShadows() && !slices.Contains(out, l) {
				out = append(out, l)
			}
		}
	}
	return out
}
