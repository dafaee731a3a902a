package shadow

import (
	"fmt"
	"math"

	"github.com/gekko3d/forward/forwardrt/rt/core"
	"github.com/gekko3d/forward/forwardrt/rt/light"
	"github.com/go-gl/mathgl/mgl32"
)

// Distance the shadow camera is pulled back before fitting; float32 keeps
// enough precision at this range for casters near the origin.
const directionalPullBack = 1e5

// Directional handles cascaded shadows of directional lights.
type Directional struct {
	r *Renderer
}

// depthRange is the [min, max] view-space z of a box seen through view.
func depthRange(view mgl32.Mat4, box core.BoundingBox) (float32, float32) {
	lo := float32(math.Inf(1))
	hi := float32(math.Inf(-1))
	for _, c := range box.Corners() {
		z := mgl32.TransformCoordinate(c, view).Z()
		lo = min(lo, z)
		hi = max(hi, z)
	}
	return lo, hi
}

// snapToTexel rounds center up to whole texels across the light's right and
// up axes; ratio is texels per world unit.
func snapToTexel(center, right, up, dir mgl32.Vec3, ratio float32) mgl32.Vec3 {
	x := float32(math.Ceil(float64(center.Dot(up)*ratio))) / ratio
	y := float32(math.Ceil(float64(center.Dot(right)*ratio))) / ratio
	return up.Mul(x).Add(right.Mul(y)).Add(dir.Mul(center.Dot(dir)))
}

// Cull fits one orthographic camera per cascade to camera's view slice and
// collects its casters. The shadow camera is snapped to whole texels to
// stop shimmering, and its depth range is fitted to the visible casters.
func (dc *Directional) Cull(l *light.Light, casters []*core.MeshInstance, camera *core.Camera) error {
	if !l.CastShadows() || l.Type() != light.Directional {
		return nil
	}
	r := dc.r
	l.VisibleThisFrame = true
	if l.ShadowMap == nil {
		sm, err := light.CreateShadowMap(r.ctx.Device, l)
		if err != nil {
			return fmt.Errorf("cull %s: %w", l.Name, err)
		}
		l.ShadowMap = sm
	}

	nearDist := camera.NearClip
	l.GenerateSplitDistances(nearDist, min(camera.FarClip, l.ShadowDistance))
	cameraWorld := camera.Node.WorldMatrix()

	for cascade := 0; cascade < l.NumCascades(); cascade++ {
		rd := l.Data(camera, cascade)
		cam := shadowCamera(l, rd)
		cam.RenderTarget = l.ShadowMap.Targets[0]
		rd.ShadowViewport = l.CascadeViewport(cascade)
		rd.ShadowScissor = l.CascadeViewport(cascade)

		cam.Node.Position = l.Node.Position
		cam.Node.Rotation = l.Node.Rotation
		cam.Node.RotateLocal(-90, 0, 0)

		// Cascade 0 starts at the camera near clip.
		sliceNear := nearDist
		if cascade > 0 {
			sliceNear = l.CascadeDistances[cascade-1]
		}
		sliceFar := l.CascadeDistances[cascade]
		corners := camera.FrustumCorners(sliceNear, sliceFar)

		var center mgl32.Vec3
		for i := range corners {
			corners[i] = mgl32.TransformCoordinate(corners[i], cameraWorld)
			center = center.Add(corners[i])
		}
		center = center.Mul(1.0 / 8)
		var radius float32
		for _, c := range corners {
			radius = max(radius, c.Sub(center).Len())
		}

		sizeRatio := 0.25 * float32(l.ShadowResolution()) / radius
		cam.Node.Position = snapToTexel(center, cam.Node.Right(), cam.Node.Up(), cam.Node.Forward(), sizeRatio)
		cam.Node.TranslateLocal(0, 0, directionalPullBack)
		cam.NearClip = 0
		cam.FarClip = 2 * directionalPullBack
		cam.OrthoHeight = radius
		updateCameraFrustum(cam)

		rd.VisibleCasters = r.CullCasters(casters, rd.VisibleCasters, cam)

		var bounds core.BoundingBox
		if len(rd.VisibleCasters) > 0 {
			bounds = rd.VisibleCasters[0].WorldAABB()
			for _, mi := range rd.VisibleCasters[1:] {
				bounds = bounds.Union(mi.WorldAABB())
			}
		} else {
			bounds = core.BoundingBox{Center: center, HalfExtents: mgl32.Vec3{radius, radius, radius}}
		}

		lo, hi := depthRange(cam.Node.ViewMatrix(), bounds)
		cam.Node.TranslateLocal(0, 0, hi+0.1)
		cam.FarClip = hi - lo + 0.2
		updateCameraFrustum(cam)
		rd.ProjectionCompensation = radius
	}
	return nil
}
