package light

import (
	"fmt"

	"github.com/gekko3d/forward/forwardrt/rt/core"
	"github.com/google/uuid"
)

// ShadowMap is a shadow texture plus one render target per face.
type ShadowMap struct {
	ID      uuid.UUID
	Texture core.Texture
	// Depth backs VSM maps, whose Texture holds moments.
	Depth   core.Texture
	Targets []*core.RenderTarget
	// Cached maps belong to the atlas or the blur cache, not to a light.
	Cached bool
}

func formatFor(t ShadowType) (core.TextureFormat, bool) {
	switch t {
	case VSM8:
		return core.FormatRGBA8, false
	case VSM16:
		return core.FormatRGBA16F, false
	case VSM32:
		return core.FormatRGBA32F, false
	}
	return core.FormatDepth, true
}

// CreateShadowMap allocates a map matching the light's type and shadow settings.
func CreateShadowMap(d core.Device, l *Light) (*ShadowMap, error) {
	return createMap(d, fmt.Sprintf("ShadowMap-%s-%d", l.typ, l.ID), l.shadowResolution, l.typ == Omni, l.shadowType)
}

// CreateAtlas allocates the shared 2D shadow atlas.
func CreateAtlas(d core.Device, resolution int, shadowType ShadowType) (*ShadowMap, error) {
	return createMap(d, "ShadowAtlas", resolution, false, shadowType)
}

func createMap(d core.Device, name string, res int, cube bool, t ShadowType) (*ShadowMap, error) {
	format, compare := formatFor(t)
	tex, err := d.CreateTexture(core.TextureDescriptor{
		Name:    name,
		Width:   res,
		Height:  res,
		Cubemap: cube,
		Format:  format,
		Compare: compare,
	})
	if err != nil {
		return nil, fmt.Errorf("shadow map %s: %w", name, err)
	}

	sm := &ShadowMap{ID: uuid.New(), Texture: tex}
	if format != core.FormatDepth {
		sm.Depth, err = d.CreateTexture(core.TextureDescriptor{
			Name:    name + "-depth",
			Width:   res,
			Height:  res,
			Cubemap: cube,
			Format:  core.FormatDepth,
		})
		if err != nil {
			tex.Destroy()
			return nil, fmt.Errorf("shadow map %s depth: %w", name, err)
		}
	}

	faces := 1
	if cube {
		faces = 6
	}
	for face := 0; face < faces; face++ {
		var rt *core.RenderTarget
		if format == core.FormatDepth {
			rt = core.NewRenderTarget(fmt.Sprintf("%s-%d", name, face), nil, tex, face)
		} else {
			rt = core.NewRenderTarget(fmt.Sprintf("%s-%d", name, face), tex, sm.Depth, face)
		}
		sm.Targets = append(sm.Targets, rt)
	}
	return sm, nil
}

func (m *ShadowMap) Resolution() int {
	return m.Texture.Width()
}

func (m *ShadowMap) Destroy() {
	for _, rt := range m.Targets {
		rt.Destroy()
	}
	m.Targets = nil
	if m.Texture != nil {
		m.Texture.Destroy()
		m.Texture = nil
	}
	if m.Depth != nil {
		m.Depth.Destroy()
		m.Depth = nil
	}
}
