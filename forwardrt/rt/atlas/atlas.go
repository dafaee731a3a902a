package atlas

import (
	"fmt"
	"math"
	"slices"

	"github.com/gekko3d/forward/forwardrt/rt/core"
	"github.com/gekko3d/forward/forwardrt/rt/light"
	"github.com/go-gl/mathgl/mgl32"
)

// ShadowEdgePixels is the bleed margin around each omni face, enough for PCF5.
const ShadowEdgePixels = 3

// Slot is one square partition of the atlas in normalized coordinates.
type Slot struct {
	Rect    mgl32.Vec4
	Size    int
	Used    bool
	LightID int
}

func newSlot(rect mgl32.Vec4) *Slot {
	return &Slot{Rect: rect, Size: int(math.Floor(float64(rect[3]) * 1024)), LightID: -1}
}

var cubeSlotOffsets = [6]mgl32.Vec2{{0, 0}, {0, 1}, {1, 0}, {1, 1}, {2, 0}, {2, 1}}

// LightTextureAtlas owns the shared shadow and cookie atlases for local
// lights and hands out slots each frame.
type LightTextureAtlas struct {
	ctx *core.RenderContext

	// Version changes whenever slot assignments from earlier frames become invalid.
	Version int

	ShadowAtlasResolution int
	CookieAtlasResolution int
	ShadowAtlas           *light.ShadowMap
	CookieAtlas           core.Texture
	CookieTarget          *core.RenderTarget

	Slots      []*Slot
	atlasSplit []int

	scissorVec mgl32.Vec4
	generation int

	shadowAtlasTextureID *core.ScopeID
	shadowAtlasParamsID  *core.ScopeID
	cookieAtlasTextureID *core.ScopeID
}

func New(ctx *core.RenderContext) *LightTextureAtlas {
	scope := ctx.Device.Scope()
	return &LightTextureAtlas{
		ctx:                   ctx,
		Version:               1,
		ShadowAtlasResolution: 2048,
		CookieAtlasResolution: 4,
		generation:            ctx.Generation(),
		shadowAtlasTextureID:  scope.Resolve("shadowAtlasTexture"),
		shadowAtlasParamsID:   scope.Resolve("shadowAtlasParams"),
		cookieAtlasTextureID:  scope.Resolve("cookieAtlasTexture"),
	}
}

func (a *LightTextureAtlas) checkGeneration() {
	if a.generation == a.ctx.Generation() {
		return
	}
	// Device was replaced: old handles are gone, rebuild lazily.
	a.ShadowAtlas = nil
	a.CookieAtlas = nil
	a.CookieTarget = nil
	a.Version++
	a.generation = a.ctx.Generation()
	scope := a.ctx.Device.Scope()
	a.shadowAtlasTextureID = scope.Resolve("shadowAtlasTexture")
	a.shadowAtlasParamsID = scope.Resolve("shadowAtlasParams")
	a.cookieAtlasTextureID = scope.Resolve("cookieAtlasTexture")
}

func (a *LightTextureAtlas) allocateShadowAtlas(resolution int) error {
	if a.ShadowAtlas != nil && a.ShadowAtlas.Resolution() == resolution {
		return nil
	}
	a.Version++
	a.destroyShadowAtlas()
	sm, err := light.CreateAtlas(a.ctx.Device, resolution, light.PCF3)
	if err != nil {
		return fmt.Errorf("allocate shadow atlas: %w", err)
	}
	sm.Cached = true
	a.ShadowAtlas = sm

	// Leave a gap between tiles so filtering never reads a neighbour.
	off := float32(4) / float32(resolution)
	a.scissorVec = mgl32.Vec4{off, off, -2 * off, -2 * off}
	return nil
}

func (a *LightTextureAtlas) allocateCookieAtlas(resolution int) error {
	if a.CookieAtlas != nil && a.CookieAtlas.Width() == resolution {
		return nil
	}
	a.Version++
	a.destroyCookieAtlas()
	tex, err := a.ctx.Device.CreateTexture(core.TextureDescriptor{
		Name:   "CookieAtlas",
		Width:  resolution,
		Height: resolution,
		Format: core.FormatRGBA8,
	})
	if err != nil {
		return fmt.Errorf("allocate cookie atlas: %w", err)
	}
	a.CookieAtlas = tex
	a.CookieTarget = core.NewRenderTarget("CookieAtlas", tex, nil, 0)
	return nil
}

func (a *LightTextureAtlas) destroyShadowAtlas() {
	if a.ShadowAtlas != nil {
		a.ShadowAtlas.Destroy()
		a.ShadowAtlas = nil
	}
}

func (a *LightTextureAtlas) destroyCookieAtlas() {
	if a.CookieTarget != nil {
		a.CookieTarget.Destroy()
		a.CookieTarget = nil
	}
	if a.CookieAtlas != nil {
		a.CookieAtlas.Destroy()
		a.CookieAtlas = nil
	}
}

func (a *LightTextureAtlas) Destroy() {
	a.destroyShadowAtlas()
	a.destroyCookieAtlas()
}

// Subdivide rebuilds the slot list when the requested split changes.
// A nil split means a uniform grid of ceil(sqrt(numLights)) cells per side.
func (a *LightTextureAtlas) Subdivide(numLights int, split []int) {
	if len(split) == 0 {
		split = []int{int(math.Ceil(math.Sqrt(float64(numLights))))}
	}
	if slices.Equal(split, a.atlasSplit) {
		return
	}

	a.Version++
	a.Slots = a.Slots[:0]
	a.atlasSplit = slices.Clone(split)

	count := a.atlasSplit[0]
	if count > 1 {
		inv := 1 / float32(count)
		for i := 0; i < count; i++ {
			for j := 0; j < count; j++ {
				rect := mgl32.Vec4{float32(i) * inv, float32(j) * inv, inv, inv}
				next := 0
				if idx := 1 + i*count + j; idx < len(a.atlasSplit) {
					next = a.atlasSplit[idx]
				}
				if next > 1 {
					invNext := inv / float32(next)
					for x := 0; x < next; x++ {
						for y := 0; y < next; y++ {
							a.Slots = append(a.Slots, newSlot(mgl32.Vec4{
								rect[0] + float32(x)*invNext,
								rect[1] + float32(y)*invNext,
								invNext, invNext,
							}))
						}
					}
				} else {
					a.Slots = append(a.Slots, newSlot(rect))
				}
			}
		}
	} else {
		a.Slots = append(a.Slots, newSlot(mgl32.Vec4{0, 0, 1, 1}))
	}

	slices.SortStableFunc(a.Slots, func(x, y *Slot) int { return y.Size - x.Size })
}

// collectLights picks visible local lights needing a shadow or cookie slot,
// largest on screen first.
func (a *LightTextureAtlas) collectLights(locals []*light.Light, params core.LightingParams) ([]*light.Light, error) {
	var needShadow, needCookie bool
	var lights []*light.Light
	if params.ShadowsEnabled || params.CookiesEnabled {
		for _, l := range locals {
			if !l.VisibleThisFrame || l.Type() == light.Directional {
				continue
			}
			shadow := params.ShadowsEnabled && l.CastShadows()
			cookie := params.CookiesEnabled && l.Cookie() != nil
			needShadow = needShadow || shadow
			needCookie = needCookie || cookie
			if shadow || cookie {
				lights = append(lights, l)
			}
		}
	}
	slices.SortStableFunc(lights, func(x, y *light.Light) int {
		switch {
		case x.MaxScreenSize > y.MaxScreenSize:
			return -1
		case x.MaxScreenSize < y.MaxScreenSize:
			return 1
		}
		return 0
	})

	if needShadow {
		if err := a.allocateShadowAtlas(a.ShadowAtlasResolution); err != nil {
			return nil, err
		}
	}
	if needCookie {
		if err := a.allocateCookieAtlas(a.CookieAtlasResolution); err != nil {
			return nil, err
		}
	}
	if needShadow || needCookie {
		a.Subdivide(len(lights), params.AtlasSplit)
	}
	return lights, nil
}

func (a *LightTextureAtlas) assignSlot(l *light.Light, index int, reassigned bool) {
	l.AtlasViewportAllocated = true
	slot := a.Slots[index]
	slot.LightID = l.ID
	slot.Used = true
	if reassigned {
		l.AtlasSlotUpdated = true
		l.AtlasVersion = a.Version
		l.AtlasSlotIndex = index
	}
}

// setupSlot writes per-face viewports into the light's render data. Spot
// viewports are inset inside the scissor; omni slots hold a 3x2 grid of faces.
func (a *LightTextureAtlas) setupSlot(l *light.Light, rect mgl32.Vec4) {
	l.AtlasViewport = rect
	if !l.CastShadows() {
		return
	}
	for face := 0; face < l.NumShadowFaces(); face++ {
		viewport, scissor := rect, rect
		switch l.Type() {
		case light.Spot:
			viewport = viewport.Add(a.scissorVec)
		case light.Omni:
			small := viewport[2] / 3
			off := cubeSlotOffsets[face]
			viewport = mgl32.Vec4{viewport[0] + small*off[0], viewport[1] + small*off[1], small, small}
			scissor = viewport
		}
		rd := l.Data(nil, face)
		rd.ShadowViewport = viewport
		rd.ShadowScissor = scissor
	}
}

// Update assigns slots to this frame's visible local lights. A light keeps
// its slot while the atlas version is unchanged, the slot still records the
// light's id and the slot size matches the size it would get now.
func (a *LightTextureAtlas) Update(locals []*light.Light, params core.LightingParams) error {
	a.checkGeneration()
	a.ShadowAtlasResolution = params.ShadowAtlasResolution
	a.CookieAtlasResolution = params.CookieAtlasResolution

	lights, err := a.collectLights(locals, params)
	if err != nil {
		return err
	}

	if len(lights) > 0 {
		for _, s := range a.Slots {
			s.Used = false
		}
		assignCount := min(len(lights), len(a.Slots))
		if len(lights) > len(a.Slots) {
			core.WarnOnce(a.ctx.Logger, "atlas-full", "light atlas: %d lights need slots, only %d available", len(lights), len(a.Slots))
		}

		for i := 0; i < assignCount; i++ {
			l := lights[i]
			if l.CastShadows() && params.ShadowsEnabled {
				l.ShadowMap = a.ShadowAtlas
			}
			prev := l.AtlasSlotIndex
			if prev >= 0 && prev < len(a.Slots) && l.AtlasVersion == a.Version && a.Slots[prev].LightID == l.ID {
				if a.Slots[prev].Size == a.Slots[i].Size && !a.Slots[prev].Used {
					a.assignSlot(l, prev, false)
				}
			}
		}

		used := 0
		for i := 0; i < assignCount; i++ {
			for used < len(a.Slots) && a.Slots[used].Used {
				used++
			}
			l := lights[i]
			if !l.AtlasViewportAllocated {
				a.assignSlot(l, used, true)
			}
			a.setupSlot(l, a.Slots[l.AtlasSlotIndex].Rect)
		}
	}

	a.updateUniforms()
	return nil
}

func (a *LightTextureAtlas) updateUniforms() {
	if a.ShadowAtlas != nil && len(a.ShadowAtlas.Targets) > 0 {
		a.shadowAtlasTextureID.SetValue(a.ShadowAtlas.Texture)
	}
	a.shadowAtlasParamsID.SetValue([]float32{float32(a.ShadowAtlasResolution), ShadowEdgePixels})
	if a.CookieAtlas != nil {
		a.cookieAtlasTextureID.SetValue(a.CookieAtlas)
	}
}

// UsedSlots counts slots assigned in the last Update.
func (a *LightTextureAtlas) UsedSlots() int {
	n := 0
	for _, s := range a.Slots {
		if s.Used {
			n++
		}
	}
	return n
}
