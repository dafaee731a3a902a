package shadow

import (
	"fmt"
	"math"

	"github.com/gekko3d/forward/forwardrt/rt/atlas"
	"github.com/gekko3d/forward/forwardrt/rt/core"
	"github.com/gekko3d/forward/forwardrt/rt/light"
	"github.com/go-gl/mathgl/mgl32"
)

// Local handles omni and spot shadows.
type Local struct {
	r *Renderer
}

// Cull positions every face camera of l and collects its visible casters.
// Without clustering the light gets its own map here.
func (lc *Local) Cull(l *light.Light, casters []*core.MeshInstance) error {
	if !l.CastShadows() || l.Type() == light.Directional {
		return nil
	}
	r := lc.r
	l.VisibleThisFrame = true
	if !r.Clustered && l.ShadowMap == nil {
		sm, err := light.CreateShadowMap(r.ctx.Device, l)
		if err != nil {
			return fmt.Errorf("cull %s: %w", l.Name, err)
		}
		l.ShadowMap = sm
	}

	for face := 0; face < l.NumShadowFaces(); face++ {
		rd := l.Data(nil, face)
		cam := shadowCamera(l, rd)
		cam.NearClip = l.AttenuationEnd / 1000
		cam.FarClip = l.AttenuationEnd
		cam.Node.Position = l.Node.Position

		switch l.Type() {
		case light.Spot:
			cam.FOV = l.OuterConeAngle() * 2
			cam.Node.Rotation = l.Node.Rotation
			cam.Node.RotateLocal(-90, 0, 0)
		case light.Omni:
			cam.FOV = 90
			if r.Clustered && r.Atlas != nil {
				// Widen the face so filtering can read the bleed margin.
				tileSize := float32(r.Atlas.ShadowAtlasResolution) * l.AtlasViewport[2] / 3
				filterSize := 2 / tileSize * atlas.ShadowEdgePixels
				cam.FOV = mgl32.RadToDeg(float32(math.Atan(float64(1+filterSize)))) * 2
			}
		}

		updateCameraFrustum(cam)
		rd.VisibleCasters = r.CullCasters(casters, rd.VisibleCasters, cam)
	}
	return nil
}

// PrepareLights selects the local lights rendering into the atlas this
// frame and binds their face cameras to it.
func (lc *Local) PrepareLights(lights []*light.Light) []*light.Light {
	var out []*light.Light
	for _, l := range lights {
		if l.Type() == light.Directional {
			continue
		}
		if !lc.r.NeedsShadowRendering(l) || !l.AtlasViewportAllocated {
			continue
		}
		out = append(out, l)
		for face := 0; face < l.NumShadowFaces(); face++ {
			lc.r.PrepareFace(l, nil, face)
		}
	}
	return out
}
