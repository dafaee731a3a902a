package light

import (
	"math"
	"sync/atomic"

	"github.com/gekko3d/forward/forwardrt/rt/core"
	"github.com/go-gl/mathgl/mgl32"
)

type Type int

const (
	Directional Type = iota
	Omni
	Spot
)

func (t Type) String() string {
	switch t {
	case Directional:
		return "directional"
	case Omni:
		return "omni"
	case Spot:
		return "spot"
	}
	return "unknown"
}

type Shape int

const (
	Punctual Shape = iota
	Sphere
	Disk
	Rect
)

type ShadowType int

const (
	PCF3 ShadowType = iota
	VSM8
	VSM16
	VSM32
	PCF5
)

func (s ShadowType) IsVSM() bool { return s >= VSM8 && s <= VSM32 }
func (s ShadowType) IsPCF() bool { return s == PCF3 || s == PCF5 }

type Falloff int

const (
	FalloffLinear Falloff = iota
	FalloffInverseSquared
)

type ShadowUpdate int

const (
	ShadowUpdateNone ShadowUpdate = iota
	ShadowUpdateThisFrame
	ShadowUpdateRealtime
)

type BlurMode int

const (
	BlurBox BlurMode = iota
	BlurGaussian
)

const (
	MaxCascades = 4
	MaxBlurSize = 25
)

var lightIDs atomic.Int32

// Light is the data model of one light. Setters for shader-relevant fields
// refresh Key; setters for shadow-relevant fields drop render data and the
// owned shadow map.
type Light struct {
	ID   int
	Name string
	Node *core.Transform

	Enabled   bool
	Color     mgl32.Vec3
	Intensity float32
	Mask      uint32

	AttenuationStart float32
	AttenuationEnd   float32

	ShadowBias       float32
	NormalOffsetBias float32
	ShadowDistance   float32
	ShadowIntensity  float32
	ShadowUpdateMode ShadowUpdate
	VSMBlurMode      BlurMode
	VSMBias          float32

	CascadeDistribution float32

	typ              Type
	shape            Shape
	castShadows      bool
	shadowType       ShadowType
	shadowResolution int
	numCascades      int
	vsmBlurSize      int
	falloff          Falloff
	innerConeAngle   float32
	outerConeAngle   float32
	cookie           core.Texture
	cookieChannel    string
	cookieTransform  *mgl32.Vec4
	key              uint32
	caps             core.Capabilities

	// Per-frame state written by the renderer.
	VisibleThisFrame bool
	MaxScreenSize    float32

	// Atlas slot bookkeeping.
	AtlasViewport          mgl32.Vec4
	AtlasViewportAllocated bool
	AtlasVersion           int
	AtlasSlotIndex         int
	AtlasSlotUpdated       bool

	ShadowMap *ShadowMap

	CascadeDistances    [MaxCascades]float32
	ShadowMatrixPalette [MaxCascades * 16]float32

	renderData []*RenderData
	dataIndex  map[renderDataKey]RenderDataHandle
}

func New(name string, typ Type, caps core.Capabilities) *Light {
	l := &Light{
		ID:                  int(lightIDs.Add(1)),
		Name:                name,
		Node:                core.NewTransform(),
		Enabled:             true,
		Color:               mgl32.Vec3{1, 1, 1},
		Intensity:           1,
		Mask:                core.MaskAffectDynamic,
		AttenuationStart:    10,
		AttenuationEnd:      10,
		ShadowBias:          0.05,
		NormalOffsetBias:    0,
		ShadowDistance:      40,
		ShadowIntensity:     1,
		ShadowUpdateMode:    ShadowUpdateRealtime,
		VSMBlurMode:         BlurGaussian,
		VSMBias:             0.01 * 0.25,
		CascadeDistribution: 0.5,
		typ:                 typ,
		shadowType:          PCF3,
		shadowResolution:    1024,
		numCascades:         1,
		vsmBlurSize:         11,
		falloff:             FalloffLinear,
		innerConeAngle:      40,
		outerConeAngle:      45,
		cookieChannel:       "rgb",
		caps:                caps,
		AtlasSlotIndex:      -1,
		dataIndex:           make(map[renderDataKey]RenderDataHandle),
	}
	l.shadowType = ResolveShadowType(caps, typ, PCF3)
	l.updateKey()
	return l
}

func (l *Light) Type() Type              { return l.typ }
func (l *Light) Shape() Shape            { return l.shape }
func (l *Light) CastShadows() bool       { return l.castShadows }
func (l *Light) ShadowType() ShadowType  { return l.shadowType }
func (l *Light) ShadowResolution() int   { return l.shadowResolution }
func (l *Light) NumCascades() int        { return l.numCascades }
func (l *Light) VSMBlurSize() int        { return l.vsmBlurSize }
func (l *Light) Falloff() Falloff        { return l.falloff }
func (l *Light) InnerConeAngle() float32 { return l.innerConeAngle }
func (l *Light) OuterConeAngle() float32 { return l.outerConeAngle }
func (l *Light) Cookie() core.Texture    { return l.cookie }
func (l *Light) Key() uint32             { return l.key }

func (l *Light) SetType(t Type) {
	if l.typ == t {
		return
	}
	l.typ = t
	l.DestroyShadowMap()
	l.shadowType = ResolveShadowType(l.caps, t, l.shadowType)
	l.updateKey()
}

func (l *Light) SetShape(s Shape) {
	if l.shape == s {
		return
	}
	l.shape = s
	l.updateKey()
}

func (l *Light) SetCastShadows(v bool) {
	if l.castShadows == v {
		return
	}
	l.castShadows = v
	l.DestroyShadowMap()
	l.updateKey()
}

// SetShadowType applies the capability fallback chain before storing.
func (l *Light) SetShadowType(t ShadowType) {
	t = ResolveShadowType(l.caps, l.typ, t)
	if l.shadowType == t {
		return
	}
	l.shadowType = t
	l.DestroyShadowMap()
	l.updateKey()
}

func (l *Light) SetShadowResolution(res int) {
	if l.caps.MaxTextureSize > 0 {
		limit := l.caps.MaxTextureSize
		if l.typ == Omni {
			limit = min(limit, 4096)
		}
		res = min(res, limit)
	}
	if l.shadowResolution == res {
		return
	}
	l.shadowResolution = res
	l.DestroyShadowMap()
}

func (l *Light) SetNumCascades(n int) {
	n = max(1, min(n, MaxCascades))
	if l.numCascades == n {
		return
	}
	l.numCascades = n
	l.DestroyShadowMap()
	l.updateKey()
}

// SetVSMBlurSize keeps the kernel odd and at most MaxBlurSize taps.
func (l *Light) SetVSMBlurSize(n int) {
	if n%2 == 0 {
		n++
	}
	l.vsmBlurSize = max(1, min(n, MaxBlurSize))
}

func (l *Light) SetFalloff(f Falloff) {
	if l.falloff == f {
		return
	}
	l.falloff = f
	l.updateKey()
}

func (l *Light) SetConeAngles(inner, outer float32) {
	l.innerConeAngle = inner
	l.outerConeAngle = outer
}

func (l *Light) SetCookie(tex core.Texture, channel string, transform *mgl32.Vec4) {
	l.cookie = tex
	if channel != "" {
		l.cookieChannel = channel
	}
	l.cookieTransform = transform
	l.updateKey()
}

// NumShadowFaces is cascades for directional, six cube faces for omni, one for spot.
func (l *Light) NumShadowFaces() int {
	switch l.typ {
	case Directional:
		return l.numCascades
	case Omni:
		return 6
	}
	return 1
}

// BeginFrame resets per-frame visibility and atlas flags.
func (l *Light) BeginFrame() {
	l.VisibleThisFrame = l.typ == Directional && l.Enabled
	l.MaxScreenSize = 0
	l.AtlasViewportAllocated = false
	l.AtlasSlotUpdated = false
}

// Key bit layout:
//
//	31..29 type, 28 cast shadows, 27..25 shadow type, 24..23 falloff,
//	22 cookie, 20..18 cookie channel, 12 cookie transform, 11..10 shape,
//	9..8 cascades-1
func (l *Light) updateKey() {
	key := uint32(l.typ)<<29 |
		boolBit(l.castShadows)<<28 |
		uint32(l.shadowType)<<25 |
		uint32(l.falloff)<<23 |
		boolBit(l.cookie != nil)<<22 |
		channelID(l.cookieChannel)<<18 |
		boolBit(l.cookieTransform != nil)<<12 |
		uint32(l.shape)<<10 |
		uint32(l.numCascades-1)<<8
	l.key = key
}

func boolBit(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

func channelID(ch string) uint32 {
	if ch == "" {
		return 0
	}
	switch ch[0] {
	case 'r':
		if ch == "rgb" {
			return 4
		}
		return 0
	case 'g':
		return 1
	case 'b':
		return 2
	case 'a':
		return 3
	}
	return 0
}

// BoundingSphere encloses the lit volume of a local light.
func (l *Light) BoundingSphere() core.BoundingSphere {
	switch l.typ {
	case Spot:
		size := l.AttenuationEnd
		angle := float64(mgl32.DegToRad(l.outerConeAngle))
		f := float32(math.Cos(angle))
		up := l.Node.Up()
		center := l.Node.Position.Add(up.Mul(-size * 0.5 * f))
		end := up.Mul(-size).Add(l.Node.Right().Mul(float32(math.Sin(angle)) * size))
		return core.BoundingSphere{Center: center, Radius: end.Len() * 0.5}
	case Omni:
		return core.BoundingSphere{Center: l.Node.Position, Radius: l.AttenuationEnd}
	}
	return core.BoundingSphere{Center: l.Node.Position, Radius: float32(math.Inf(1))}
}

// BoundingBox is the world box of a local light's volume. Spot lights point down local -Y.
func (l *Light) BoundingBox() core.BoundingBox {
	r := l.AttenuationEnd
	if l.typ == Spot {
		scl := float32(math.Abs(math.Sin(float64(mgl32.DegToRad(l.outerConeAngle))) * float64(r)))
		local := core.BoundingBox{
			Center:      mgl32.Vec3{0, -r * 0.5, 0},
			HalfExtents: mgl32.Vec3{scl, r * 0.5, scl},
		}
		m := mgl32.Translate3D(l.Node.Position.X(), l.Node.Position.Y(), l.Node.Position.Z()).Mul4(l.Node.Rotation.Mat4())
		return local.Transform(m)
	}
	return core.BoundingBox{Center: l.Node.Position, HalfExtents: mgl32.Vec3{r, r, r}}
}

// Direction is the emission direction: local -Y.
func (l *Light) Direction() mgl32.Vec3 {
	return l.Node.Up().Mul(-1)
}

// ShadowParams packs resolution, normal bias, depth bias and the far clip
// used to normalize stored depth.
func (l *Light) ShadowParams(rd *RenderData) [4]float32 {
	bias := l.ShadowBias
	if l.shadowType.IsVSM() {
		bias = -0.00001 * 20
	}
	normalBias := l.NormalOffsetBias
	if l.typ == Directional && rd != nil && rd.ProjectionCompensation > 0 {
		// Directional ortho size varies per cascade; scale the normal bias with it.
		normalBias *= rd.ProjectionCompensation / 10
	}
	var far float32
	if rd != nil && rd.ShadowCamera != nil {
		far = rd.ShadowCamera.FarClip
	}
	return [4]float32{float32(l.shadowResolution), normalBias, bias, far}
}
