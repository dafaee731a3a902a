package framegraph

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gekko3d/forward/forwardrt/rt/clusters"
	"github.com/gekko3d/forward/forwardrt/rt/composition"
	"github.com/gekko3d/forward/forwardrt/rt/core"
	"github.com/gekko3d/forward/forwardrt/rt/light"
	"github.com/google/uuid"
)

// ErrPassOrder is returned when a pass reads a resource that a later pass writes.
var ErrPassOrder = errors.New("frame graph: pass reads a resource before it is written")

type PassKind int

const (
	PassCookie PassKind = iota
	PassShadow
	PassClusterUpdate
	PassMain
	PassPostprocess
)

func (k PassKind) String() string {
	switch k {
	case PassCookie:
		return "Cookie"
	case PassShadow:
		return "Shadow"
	case PassClusterUpdate:
		return "ClusterUpdate"
	case PassMain:
		return "Main"
	case PassPostprocess:
		return "Postprocess"
	}
	return fmt.Sprintf("PassKind(%d)", int(k))
}

// Pass is one step of the frame. Only the fields its Kind uses are set.
type Pass struct {
	Kind PassKind
	Name string

	// Target is nil for the backbuffer and for passes that open no render pass.
	Target       *core.RenderTarget
	Color        core.ColorOps
	DepthStencil core.DepthStencilOps

	// Cookie and Shadow passes.
	Lights []*light.Light
	// Camera is the camera whose directional cascades a Shadow pass renders,
	// or the camera a Postprocess pass runs for.
	Camera *core.Camera

	// Main passes render a contiguous run of actions sharing one target.
	Actions []*composition.RenderAction

	// ClusterUpdate passes.
	Clusters []clusters.Action

	Reads  []uuid.UUID
	Writes []uuid.UUID

	// Set by Compile when adjacent passes on one target are merged.
	SkipStart bool
	SkipEnd   bool
}

func (p *Pass) String() string {
	target := "backbuffer"
	switch {
	case p.Target != nil:
		target = p.Target.Name
	case p.Kind == PassShadow || p.Kind == PassClusterUpdate:
		target = "-"
	}
	return fmt.Sprintf("%s %q -> %s", p.Kind, p.Name, target)
}

// Executor runs a single pass.
type Executor interface {
	ExecutePass(p *Pass) error
}

// FrameGraph is the ordered pass list of one frame. Passes execute in
// insertion order.
type FrameGraph struct {
	passes   []*Pass
	compiled bool
}

func New() *FrameGraph {
	return &FrameGraph{}
}

func (g *FrameGraph) Reset() {
	g.passes = g.passes[:0]
	g.compiled = false
}

func (g *FrameGraph) AddPass(p *Pass) {
	g.passes = append(g.passes, p)
	g.compiled = false
}

func (g *FrameGraph) Passes() []*Pass {
	return g.passes
}

// targetKey identifies a pass target; the backbuffer has the nil key.
func targetKey(p *Pass) uuid.UUID {
	return core.TargetID(p.Target)
}

// opensRenderPass reports whether executing p begins a render pass on its target.
func opensRenderPass(p *Pass) bool {
	return p.Kind == PassMain || p.Kind == PassPostprocess
}

// Compile resolves store ops and merges adjacent passes on the same target.
// A pass must store whatever a later pass on its target loads instead of
// clearing. Two adjacent main passes on one target merge into one render
// pass when the second clears nothing.
func (g *FrameGraph) Compile() {
	last := make(map[uuid.UUID]*Pass)
	for _, p := range g.passes {
		if !opensRenderPass(p) {
			continue
		}
		p.SkipStart, p.SkipEnd = false, false
		key := targetKey(p)
		if prev, ok := last[key]; ok {
			if !p.Color.Clear {
				prev.Color.Store = true
			}
			if !p.DepthStencil.ClearDepth {
				prev.DepthStencil.StoreDepth = true
			}
			if !p.DepthStencil.ClearStencil {
				prev.DepthStencil.StoreStencil = true
			}
		}
		last[key] = p
	}

	for i := 0; i+1 < len(g.passes); i++ {
		first, second := g.passes[i], g.passes[i+1]
		if first.Kind != PassMain || second.Kind != PassMain {
			continue
		}
		if targetKey(first) != targetKey(second) {
			continue
		}
		if second.Color.Clear || second.DepthStencil.ClearDepth || second.DepthStencil.ClearStencil {
			continue
		}
		first.SkipEnd = true
		second.SkipStart = true
	}
	g.compiled = true
}

// Validate checks that every resource a pass reads is written, if at all,
// by an earlier pass.
func (g *FrameGraph) Validate() error {
	firstWrite := make(map[uuid.UUID]int)
	for i, p := range g.passes {
		for _, id := range p.Writes {
			if _, ok := firstWrite[id]; !ok {
				firstWrite[id] = i
			}
		}
	}
	for i, p := range g.passes {
		for _, id := range p.Reads {
			if w, ok := firstWrite[id]; ok && w > i {
				return fmt.Errorf("%w: %s reads %s written by %s", ErrPassOrder, p, id, g.passes[w])
			}
		}
	}
	return nil
}

// Execute compiles if needed, validates and runs every pass in order,
// stopping at the first error.
func (g *FrameGraph) Execute(ex Executor) error {
	if !g.compiled {
		g.Compile()
	}
	if err := g.Validate(); err != nil {
		return err
	}
	for _, p := range g.passes {
		if err := ex.ExecutePass(p); err != nil {
			return fmt.Errorf("execute %s: %w", p, err)
		}
	}
	return nil
}

// Describe lists the passes one per line, for debug logging.
func (g *FrameGraph) Describe() string {
	var b strings.Builder
	for i, p := range g.passes {
		fmt.Fprintf(&b, "%2d: %s", i, p)
		if p.SkipStart {
			b.WriteString(" (continues)")
		}
		if p.SkipEnd {
			b.WriteString(" (stays open)")
		}
		b.WriteByte('\n')
	}
	return b.String()
}
