package core

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Profiler scope and counter names recorded by the renderer.
const (
	ScopeCull      = "cull"
	ScopeShadowMap = "shadowMap"
	ScopeForward   = "forward"
	ScopeSort      = "sort"
	ScopeClusters  = "clusters"

	CountForwardDrawCalls = "forwardDrawCalls"
	CountShadowDrawCalls  = "shadowDrawCalls"
	CountMaterialSwitches = "materialSwitches"
	CountShadowMapUpdates = "shadowMapUpdates"
	CountCulledInstances  = "culledInstances"
	CountCamerasRendered  = "camerasRendered"
)

type Profiler struct {
	Scopes     map[string]time.Duration
	StartTimes map[string]time.Time
	Counts     map[string]int
	Order      []string
}

func NewProfiler() *Profiler {
	return &Profiler{
		Scopes:     make(map[string]time.Duration),
		StartTimes: make(map[string]time.Time),
		Counts:     make(map[string]int),
		Order:      make([]string, 0),
	}
}

func (p *Profiler) BeginScope(name string) {
	p.StartTimes[name] = time.Now()
	if _, ok := p.Scopes[name]; !ok {
		p.Scopes[name] = 0
		p.Order = append(p.Order, name)
	}
}

// EndScope accumulates, so a scope entered once per camera sums over the frame.
func (p *Profiler) EndScope(name string) {
	if start, ok := p.StartTimes[name]; ok {
		p.Scopes[name] += time.Since(start)
		delete(p.StartTimes, name)
	}
}

func (p *Profiler) SetCount(name string, count int) {
	p.Counts[name] = count
}

func (p *Profiler) AddCount(name string, delta int) {
	p.Counts[name] += delta
}

func (p *Profiler) Count(name string) int {
	return p.Counts[name]
}

// ResetFrame zeroes timers and counters but keeps display order.
func (p *Profiler) ResetFrame() {
	for k := range p.Scopes {
		p.Scopes[k] = 0
	}
	for k := range p.Counts {
		p.Counts[k] = 0
	}
}

func (p *Profiler) Summary() string {
	var sb strings.Builder

	sb.WriteString("Timings (CPU):\n")
	for _, name := range p.Order {
		ms := float64(p.Scopes[name].Microseconds()) / 1000.0
		sb.WriteString(fmt.Sprintf("  %-18s: %.2f ms\n", name, ms))
	}

	sb.WriteString("\nStats:\n")
	keys := make([]string, 0, len(p.Counts))
	for k := range p.Counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteString(fmt.Sprintf("  %-18s: %d\n", k, p.Counts[k]))
	}

	return sb.String()
}
