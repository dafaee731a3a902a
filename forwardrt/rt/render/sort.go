package render

import (
	"cmp"

	"github.com/gekko3d/forward/forwardrt/rt/core"
)

// forwardTier picks the field an instance sorts by inside its layer:
// explicit draw order, then back-to-front distance, then front-to-back
// distance, then the packed key.
func forwardTier(mi *core.MeshInstance) int {
	switch {
	case mi.DrawOrder != 0:
		return 0
	case mi.ZDist != 0:
		return 1
	case mi.ZDist2 != 0:
		return 2
	}
	return 3
}

// CompareForward orders draw calls for the forward pass. Higher sort layers
// come first. Within a layer, draw order ascends and distances descend.
// Ties fall back to the forward key and finally the instance ID, which
// makes the order total.
func CompareForward(a, b *core.MeshInstance) int {
	if a.Layer != b.Layer {
		return cmp.Compare(b.Layer, a.Layer)
	}
	ta, tb := forwardTier(a), forwardTier(b)
	if ta != tb {
		return cmp.Compare(ta, tb)
	}
	var c int
	switch ta {
	case 0:
		c = cmp.Compare(a.DrawOrder, b.DrawOrder)
	case 1:
		c = cmp.Compare(b.ZDist, a.ZDist)
	case 2:
		c = cmp.Compare(b.ZDist2, a.ZDist2)
	}
	if c != 0 {
		return c
	}
	if c = cmp.Compare(b.ForwardKey(), a.ForwardKey()); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// CompareDepth orders depth-only draws by key, then groups identical meshes.
func CompareDepth(a, b *core.MeshInstance) int {
	if c := cmp.Compare(b.DepthKey(), a.DepthKey()); c != 0 {
		return c
	}
	if c := cmp.Compare(b.MeshID(), a.MeshID()); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// CompareShadow is the depth order with opaque unskinned casters first
// among equals.
func CompareShadow(a, b *core.MeshInstance) int {
	if c := cmp.Compare(b.DepthKey(), a.DepthKey()); c != 0 {
		return c
	}
	if c := cmp.Compare(b.MeshID(), a.MeshID()); c != 0 {
		return c
	}
	if c := cmp.Compare(a.ShadowKey(), b.ShadowKey()); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}
