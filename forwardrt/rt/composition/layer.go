package composition

import (
	"encoding/binary"
	"hash/fnv"
	"slices"

	"github.com/gekko3d/forward/forwardrt/rt/core"
	"github.com/gekko3d/forward/forwardrt/rt/light"
	"github.com/google/uuid"
)

type SortMode int

const (
	SortNone SortMode = iota
	SortManual
	SortMaterialMesh
	SortBackToFront
	SortFrontToBack
)

// Layer groups mesh instances and lights that cameras render together.
type Layer struct {
	ID      int
	Name    string
	Enabled bool

	OpaqueSort      SortMode
	TransparentSort SortMode

	ClearColorBuffer   bool
	ClearDepthBuffer   bool
	ClearStencilBuffer bool

	meshInstances []*core.MeshInstance
	meshSet       map[*core.MeshInstance]struct{}
	shadowCasters []*core.MeshInstance
	casterSet     map[*core.MeshInstance]struct{}
	lights        []*light.Light

	culled map[uuid.UUID]*core.CulledInstances
}

func NewLayer(id int, name string) *Layer {
	return &Layer{
		ID:              id,
		Name:            name,
		Enabled:         true,
		OpaqueSort:      SortMaterialMesh,
		TransparentSort: SortBackToFront,
		meshSet:         make(map[*core.MeshInstance]struct{}),
		casterSet:       make(map[*core.MeshInstance]struct{}),
		culled:          make(map[uuid.UUID]*core.CulledInstances),
	}
}

// AddMeshInstances adds renderables; instances flagged CastShadow also
// become shadow casters.
func (l *Layer) AddMeshInstances(mis ...*core.MeshInstance) {
	for _, mi := range mis {
		if _, ok := l.meshSet[mi]; ok {
			continue
		}
		l.meshSet[mi] = struct{}{}
		l.meshInstances = append(l.meshInstances, mi)
		if mi.CastShadow {
			l.AddShadowCasters(mi)
		}
	}
}

func (l *Layer) RemoveMeshInstances(mis ...*core.MeshInstance) {
	for _, mi := range mis {
		if _, ok := l.meshSet[mi]; !ok {
			continue
		}
		delete(l.meshSet, mi)
		if i := slices.Index(l.meshInstances, mi); i >= 0 {
			l.meshInstances = slices.Delete(l.meshInstances, i, i+1)
		}
	}
	l.RemoveShadowCasters(mis...)
}

func (l *Layer) AddShadowCasters(mis ...*core.MeshInstance) {
	for _, mi := range mis {
		if _, ok := l.casterSet[mi]; ok {
			continue
		}
		l.casterSet[mi] = struct{}{}
		l.shadowCasters = append(l.shadowCasters, mi)
	}
}

func (l *Layer) RemoveShadowCasters(mis ...*core.MeshInstance) {
	for _, mi := range mis {
		if _, ok := l.casterSet[mi]; !ok {
			continue
		}
		delete(l.casterSet, mi)
		if i := slices.Index(l.shadowCasters, mi); i >= 0 {
			l.shadowCasters = slices.Delete(l.shadowCasters, i, i+1)
		}
	}
}

func (l *Layer) AddLight(lt *light.Light) {
	if slices.Contains(l.lights, lt) {
		return
	}
	l.lights = append(l.lights, lt)
}

func (l *Layer) RemoveLight(lt *light.Light) {
	if i := slices.Index(l.lights, lt); i >= 0 {
		l.lights = slices.Delete(l.lights, i, i+1)
	}
}

func (l *Layer) MeshInstances() []*core.MeshInstance { return l.meshInstances }
func (l *Layer) MeshInstanceCount() int              { return len(l.meshInstances) }
func (l *Layer) ShadowCasters() []*core.MeshInstance { return l.shadowCasters }
func (l *Layer) Lights() []*light.Light              { return l.lights }

// ClusteredLights returns the enabled local lights of the layer.
func (l *Layer) ClusteredLights() []*light.Light {
	var out []*light.Light
	for _, lt := range l.lights {
		if lt.Enabled && lt.Type() != light.Directional {
			out = append(out, lt)
		}
	}
	return out
}

func (l *Layer) HasClusteredLights() bool {
	for _, lt := range l.lights {
		if lt.Enabled && lt.Type() != light.Directional {
			return true
		}
	}
	return false
}

// DirectionalLights returns enabled directional lights in insertion order.
func (l *Layer) DirectionalLights() []*light.Light {
	var out []*light.Light
	for _, lt := range l.lights {
		if lt.Enabled && lt.Type() == light.Directional {
			out = append(out, lt)
		}
	}
	return out
}

// LightIDHash identifies the set of clustered lights regardless of order.
func (l *Layer) LightIDHash() uint64 {
	var ids []int
	for _, lt := range l.ClusteredLights() {
		ids = append(ids, lt.ID)
	}
	slices.Sort(ids)
	h := fnv.New64a()
	var buf [8]byte
	for _, id := range ids {
		binary.LittleEndian.PutUint64(buf[:], uint64(id))
		h.Write(buf[:])
	}
	return h.Sum64()
}

// LightHash combines the keys of the lights a forward shader must handle
// directly. With clustering only directional lights are compiled in.
func (l *Layer) LightHash(clustered bool) uint32 {
	var keys []uint32
	for _, lt := range l.lights {
		if !lt.Enabled {
			continue
		}
		if clustered && lt.Type() != light.Directional {
			continue
		}
		keys = append(keys, lt.Key())
	}
	if len(keys) == 0 {
		return 0
	}
	slices.Sort(keys)
	h := fnv.New32a()
	var buf [4]byte
	for _, k := range keys {
		binary.LittleEndian.PutUint32(buf[:], k)
		h.Write(buf[:])
	}
	return h.Sum32()
}

// Culled returns the visibility lists for camera, creating them on first use.
func (l *Layer) Culled(camera *core.Camera) *core.CulledInstances {
	c, ok := l.culled[camera.ID]
	if !ok {
		c = &core.CulledInstances{}
		l.culled[camera.ID] = c
	}
	return c
}

// SortVisible orders the culled list for camera using the layer's sort mode.
// Distance modes refresh ZDist/ZDist2 first; cmp supplies the final order.
func (l *Layer) SortVisible(camera *core.Camera, transparent bool, cmp func(a, b *core.MeshInstance) int) {
	culled := l.Culled(camera)
	mode, list := l.OpaqueSort, culled.Opaque
	if transparent {
		mode, list = l.TransparentSort, culled.Transparent
	}
	if mode == SortNone || len(list) < 2 {
		return
	}

	pos := camera.Position()
	fwd := camera.Node.Forward()
	for _, mi := range list {
		mi.ZDist, mi.ZDist2 = 0, 0
		switch mode {
		case SortBackToFront:
			mi.ZDist = mi.WorldAABB().Center.Sub(pos).Dot(fwd)
		case SortFrontToBack:
			mi.ZDist2 = -mi.WorldAABB().Center.Sub(pos).Dot(fwd)
		}
	}
	slices.SortStableFunc(list, cmp)
}
