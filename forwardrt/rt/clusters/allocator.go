package clusters

import (
	"fmt"

	"github.com/gekko3d/forward/forwardrt/rt/core"
	"github.com/gekko3d/forward/forwardrt/rt/light"
)

// Layer is the slice of a composition layer the allocator reads.
type Layer interface {
	HasClusteredLights() bool
	MeshInstanceCount() int
	LightIDHash() uint64
	ClusteredLights() []*light.Light
}

// Action is a render action that can carry a cluster reference.
type Action interface {
	ClusterLayer() Layer
	SetLightClusters(*WorldClusters)
	LightClusters() *WorldClusters
}

// Allocator hands out WorldClusters to render actions. Actions whose layers
// hold the same clustered light set share one instance per frame.
type Allocator struct {
	ctx *core.RenderContext

	empty     *WorldClusters
	allocated []*WorldClusters
	pool      []*WorldClusters
	byHash    map[uint64]*WorldClusters
	created   int
}

func NewAllocator(ctx *core.RenderContext) *Allocator {
	return &Allocator{
		ctx:    ctx,
		byHash: make(map[uint64]*WorldClusters),
	}
}

// Empty is shared by actions that need cluster uniforms but have no lights.
func (a *Allocator) Empty() *WorldClusters {
	if a.empty == nil {
		a.empty = NewWorldClusters(a.ctx, "ClusterEmpty")
		params := core.DefaultLightingParams()
		params.Cells = [3]int{1, 1, 1}
		params.MaxLightsPerCell = 1
		if err := a.empty.Update(nil, params); err != nil {
			a.ctx.Logger.Warnf("empty clusters: %v", err)
		}
	}
	return a.empty
}

// Count reports how many distinct clusters are in use this frame.
func (a *Allocator) Count() int { return len(a.allocated) }

// PoolSize reports recycled clusters waiting for reuse.
func (a *Allocator) PoolSize() int { return len(a.pool) }

func (a *Allocator) take() *WorldClusters {
	if n := len(a.pool); n > 0 {
		wc := a.pool[n-1]
		a.pool = a.pool[:n-1]
		return wc
	}
	a.created++
	return NewWorldClusters(a.ctx, fmt.Sprintf("Cluster-%d", a.created))
}

// Assign gives every clustered action its cluster for this frame. A cluster
// used last frame for the same light set is kept; leftovers go to the pool.
func (a *Allocator) Assign(actions []Action) {
	previous := a.byHash
	a.byHash = make(map[uint64]*WorldClusters, len(previous))
	a.allocated = a.allocated[:0]

	for _, ra := range actions {
		layer := ra.ClusterLayer()
		if layer == nil || !layer.HasClusteredLights() || layer.MeshInstanceCount() == 0 {
			ra.SetLightClusters(a.Empty())
			continue
		}
		hash := layer.LightIDHash()
		wc, ok := a.byHash[hash]
		if !ok {
			if wc, ok = previous[hash]; ok {
				delete(previous, hash)
			} else {
				wc = a.take()
			}
			a.byHash[hash] = wc
			a.allocated = append(a.allocated, wc)
		}
		ra.SetLightClusters(wc)
	}

	for _, wc := range previous {
		a.pool = append(a.pool, wc)
	}
}

// Update refreshes each cluster in use from the first action that owns it.
func (a *Allocator) Update(actions []Action, params core.LightingParams) error {
	done := make(map[*WorldClusters]bool, len(a.allocated))
	for _, ra := range actions {
		wc := ra.LightClusters()
		if wc == nil || wc == a.empty || done[wc] {
			continue
		}
		done[wc] = true
		if err := wc.Update(ra.ClusterLayer().ClusteredLights(), params); err != nil {
			return fmt.Errorf("update %s: %w", wc.Name, err)
		}
	}
	return nil
}

// Destroy drops every GPU resource; clusters rebuild on the next Assign.
func (a *Allocator) Destroy() {
	if a.empty != nil {
		a.empty.Destroy()
		a.empty = nil
	}
	for _, wc := range a.allocated {
		wc.Destroy()
	}
	for _, wc := range a.pool {
		wc.Destroy()
	}
	a.allocated = nil
	a.pool = nil
	a.byHash = make(map[uint64]*WorldClusters)
}
