package light

import (
	"github.com/gekko3d/forward/forwardrt/rt/core"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
)

// RenderData is the per (camera, face) shadow state of a light. Local lights
// share one record per face across cameras, keyed by uuid.Nil.
type RenderData struct {
	CameraID uuid.UUID
	Face     int

	ShadowCamera *core.Camera
	ShadowMatrix mgl32.Mat4
	// Normalized x, y, w, h inside the shadow map or atlas.
	ShadowViewport mgl32.Vec4
	ShadowScissor  mgl32.Vec4

	// ProjectionCompensation is the cascade radius for directional lights.
	ProjectionCompensation float32
	VisibleCasters         []*core.MeshInstance
}

// RenderDataHandle indexes a light's render data arena. Handles stay valid
// until the light's shadow configuration changes.
type RenderDataHandle int

type renderDataKey struct {
	camera uuid.UUID
	face   int
}

// RenderData returns the record for (camera, face), creating it on first use.
// Directional lights key by camera; other types ignore camera.
func (l *Light) RenderData(camera *core.Camera, face int) RenderDataHandle {
	key := renderDataKey{face: face}
	if l.typ == Directional && camera != nil {
		key.camera = camera.ID
	}
	if h, ok := l.dataIndex[key]; ok {
		return h
	}
	rd := &RenderData{
		CameraID:       key.camera,
		Face:           face,
		ShadowMatrix:   mgl32.Ident4(),
		ShadowViewport: mgl32.Vec4{0, 0, 1, 1},
		ShadowScissor:  mgl32.Vec4{0, 0, 1, 1},
	}
	h := RenderDataHandle(len(l.renderData))
	l.renderData = append(l.renderData, rd)
	l.dataIndex[key] = h
	return h
}

func (l *Light) At(h RenderDataHandle) *RenderData {
	return l.renderData[h]
}

// Data is shorthand for At(RenderData(camera, face)).
func (l *Light) Data(camera *core.Camera, face int) *RenderData {
	return l.At(l.RenderData(camera, face))
}

func (l *Light) RenderDataCount() int {
	return len(l.renderData)
}

func (l *Light) releaseRenderData() {
	for _, rd := range l.renderData {
		rd.VisibleCasters = nil
		rd.ShadowCamera = nil
	}
	l.renderData = l.renderData[:0]
	clear(l.dataIndex)
}

// DestroyShadowMap drops render data and any shadow map the light owns.
// Atlas and cache maps are only detached.
func (l *Light) DestroyShadowMap() {
	l.releaseRenderData()
	if l.ShadowMap != nil {
		if !l.ShadowMap.Cached {
			l.ShadowMap.Destroy()
		}
		l.ShadowMap = nil
	}
	if l.ShadowUpdateMode == ShadowUpdateNone {
		l.ShadowUpdateMode = ShadowUpdateThisFrame
	}
}
