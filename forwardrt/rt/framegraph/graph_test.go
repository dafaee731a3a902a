package framegraph

import (
	"errors"
	"testing"

	"github.com/gekko3d/forward/forwardrt/rt/core"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	ran  []*Pass
	fail *Pass
}

func (r *recorder) ExecutePass(p *Pass) error {
	if p == r.fail {
		return errors.New("boom")
	}
	r.ran = append(r.ran, p)
	return nil
}

func mainPass(name string, rt *core.RenderTarget, clear bool) *Pass {
	return &Pass{
		Kind:         PassMain,
		Name:         name,
		Target:       rt,
		Color:        core.ColorOps{Clear: clear},
		DepthStencil: core.DepthStencilOps{ClearDepth: clear},
	}
}

func TestCompileStoresLoadedTargets(t *testing.T) {
	rt := core.NewRenderTarget("scene", nil, nil, 0)
	first := mainPass("world", rt, true)
	post := &Pass{Kind: PassPostprocess, Name: "post", Target: rt}
	other := mainPass("ui", nil, true)

	g := New()
	g.AddPass(first)
	g.AddPass(other)
	g.AddPass(post)
	g.Compile()

	assert.True(t, first.Color.Store)
	assert.True(t, first.DepthStencil.StoreDepth)
	assert.False(t, other.Color.Store, "nothing reads the backbuffer afterwards")
}

func TestCompileMergesAdjacentMainPasses(t *testing.T) {
	opaque := mainPass("opaque", nil, true)
	transparent := mainPass("transparent", nil, false)
	cleared := mainPass("second camera", nil, true)

	g := New()
	g.AddPass(opaque)
	g.AddPass(transparent)
	g.AddPass(cleared)
	g.Compile()

	assert.True(t, opaque.SkipEnd)
	assert.True(t, transparent.SkipStart)
	assert.False(t, transparent.SkipEnd, "the next pass clears")
	assert.False(t, cleared.SkipStart)
	assert.Contains(t, g.Describe(), "(continues)")
}

func TestCompileDoesNotMergeAcrossShadowPasses(t *testing.T) {
	a := mainPass("a", nil, true)
	shadow := &Pass{Kind: PassShadow, Name: "sun"}
	b := mainPass("b", nil, false)

	g := New()
	g.AddPass(a)
	g.AddPass(shadow)
	g.AddPass(b)
	g.Compile()

	assert.False(t, a.SkipEnd)
	assert.False(t, b.SkipStart)
	assert.True(t, a.Color.Store)
}

func TestValidateRejectsReadBeforeWrite(t *testing.T) {
	shadowMap := uuid.New()
	main := mainPass("main", nil, true)
	main.Reads = []uuid.UUID{shadowMap}
	shadow := &Pass{Kind: PassShadow, Name: "sun", Writes: []uuid.UUID{shadowMap}}

	g := New()
	g.AddPass(main)
	g.AddPass(shadow)
	err := g.Validate()
	require.ErrorIs(t, err, ErrPassOrder)

	g.Reset()
	g.AddPass(shadow)
	g.AddPass(main)
	assert.NoError(t, g.Validate())

	// Resources nobody writes this frame are persistent and may be read freely.
	g.Reset()
	main.Reads = append(main.Reads, uuid.New())
	g.AddPass(main)
	assert.NoError(t, g.Validate())
}

func TestExecuteRunsInOrderAndStopsOnError(t *testing.T) {
	passes := []*Pass{
		{Kind: PassCookie, Name: "cookies"},
		{Kind: PassShadow, Name: "local"},
		{Kind: PassClusterUpdate, Name: "clusters"},
		mainPass("main", nil, true),
		{Kind: PassPostprocess, Name: "post"},
	}
	g := New()
	for _, p := range passes {
		g.AddPass(p)
	}

	rec := &recorder{}
	require.NoError(t, g.Execute(rec))
	assert.Equal(t, passes, rec.ran)

	rec = &recorder{fail: passes[2]}
	err := g.Execute(rec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ClusterUpdate")
	assert.Len(t, rec.ran, 2)
}

func TestResetClearsPasses(t *testing.T) {
	g := New()
	g.AddPass(mainPass("main", nil, true))
	g.Reset()
	assert.Empty(t, g.Passes())
	assert.Equal(t, "", g.Describe())
}
