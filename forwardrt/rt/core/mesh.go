package core

import (
	"sync/atomic"

	"github.com/go-gl/mathgl/mgl32"
)

type PrimitiveTopology int

const (
	TopologyTriangles PrimitiveTopology = iota
	TopologyLines
)

type Primitive struct {
	Topology PrimitiveTopology
	Base     int
	Count    int
	Indexed  bool
}

type Mesh struct {
	ID           int
	VertexBuffer Buffer
	IndexBuffer  Buffer
	Primitive    Primitive
	AABB         BoundingBox
}

var meshIDs atomic.Int32

func NewMesh(vb, ib Buffer, prim Primitive, aabb BoundingBox) *Mesh {
	return &Mesh{ID: int(meshIDs.Add(1)), VertexBuffer: vb, IndexBuffer: ib, Primitive: prim, AABB: aabb}
}

type SkinInstance struct {
	Matrices []mgl32.Mat4
}

type MorphInstance struct {
	Weights []float32
}

// Forward key layout: 4 bits sort layer, 1 bit opaque, 25 bits material id.
const (
	forwardLayerShift   = 27
	forwardOpaqueShift  = 26
	forwardMaterialMask = 0x1ffffff
)

// MeshInstance is one draw call. The renderer reads it; per-frame flags live
// in renderer side tables keyed by ID.
type MeshInstance struct {
	// ID is dense and process-unique so side tables can index by it.
	ID       int
	Name     string
	Mesh     *Mesh
	Material Material
	Node     *Transform

	Mask          uint32
	Cull          bool
	CastShadow    bool
	ReceiveShadow bool
	Visible       bool

	Layer     int
	DrawOrder int
	ZDist     float32
	ZDist2    float32

	Skin       *SkinInstance
	Morph      *MorphInstance
	ShaderDefs uint32

	StencilFront *StencilParams
	StencilBack  *StencilParams

	// VisibleFunc replaces the bounds test, e.g. for screen-space geometry.
	VisibleFunc func(c *Camera) bool
}

var meshInstanceIDs atomic.Int32

// Mask bits.
const (
	MaskAffectDynamic uint32 = 1
	MaskAffectBaked   uint32 = 2
	MaskBake          uint32 = 4
)

func NewMeshInstance(name string, mesh *Mesh, mat Material, node *Transform) *MeshInstance {
	if node == nil {
		node = NewTransform()
	}
	return &MeshInstance{
		ID:            int(meshInstanceIDs.Add(1)) - 1,
		Name:          name,
		Mesh:          mesh,
		Material:      mat,
		Node:          node,
		Mask:          MaskAffectDynamic,
		Cull:          true,
		CastShadow:    true,
		ReceiveShadow: true,
		Visible:       true,
	}
}

// MaxMeshInstanceID bounds renderer side tables.
func MaxMeshInstanceID() int {
	return int(meshInstanceIDs.Load())
}

func (mi *MeshInstance) WorldAABB() BoundingBox {
	if mi.Mesh == nil {
		return BoundingBox{Center: mi.Node.Position}
	}
	return mi.Mesh.AABB.Transform(mi.Node.WorldMatrix())
}

// IsVisible tests the instance against the camera frustum.
func (mi *MeshInstance) IsVisible(c *Camera) bool {
	if mi.VisibleFunc != nil {
		return mi.VisibleFunc(c)
	}
	return c.Frustum().ContainsBox(mi.WorldAABB())
}

func (mi *MeshInstance) Transparent() bool {
	return mi.Material != nil && mi.Material.Transparent()
}

func (mi *MeshInstance) MaterialID() int {
	if mi.Material == nil {
		return 0
	}
	return mi.Material.ID()
}

func (mi *MeshInstance) MeshID() int {
	if mi.Mesh == nil {
		return 0
	}
	return mi.Mesh.ID
}

func (mi *MeshInstance) ForwardKey() uint32 {
	opaque := uint32(0)
	if !mi.Transparent() {
		opaque = 1
	}
	return uint32(mi.Layer&0xf)<<forwardLayerShift |
		opaque<<forwardOpaqueShift |
		uint32(mi.MaterialID())&forwardMaterialMask
}

// DepthKey groups depth-only draws by material.
func (mi *MeshInstance) DepthKey() uint32 {
	return uint32(mi.MaterialID()) & 0x7fffffff
}

// ShadowKey orders opaque unskinned casters first: bit 1 skin, bit 0 alpha test.
func (mi *MeshInstance) ShadowKey() uint32 {
	var k uint32
	if mi.Skin != nil {
		k |= 2
	}
	if mi.Material != nil && mi.Material.AlphaTest() > 0 {
		k |= 1
	}
	return k
}

type CulledInstances struct {
	Opaque      []*MeshInstance
	Transparent []*MeshInstance
}

func (c *CulledInstances) Reset() {
	c.Opaque = c.Opaque[:0]
	c.Transparent = c.Transparent[:0]
}
