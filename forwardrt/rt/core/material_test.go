package core_test

import (
	"errors"
	"testing"

	"github.com/gekko3d/forward/forwardrt/rt/core"
	"github.com/gekko3d/forward/forwardrt/rt/core/coretest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShaderVariantIsCached(t *testing.T) {
	lib := coretest.NewLibrary()
	m := core.NewBaseMaterial("lit", lib)
	dev := coretest.NewDevice()
	req := core.VariantRequest{Pass: core.PassForward, LightHash: 7}

	s1, err := m.ShaderVariant(dev, req)
	require.NoError(t, err)
	s2, err := m.ShaderVariant(dev, req)
	require.NoError(t, err)

	assert.Same(t, s1, s2)
	assert.Len(t, lib.Requests, 1)

	m.Update()
	_, err = m.ShaderVariant(dev, req)
	require.NoError(t, err)
	assert.Len(t, lib.Requests, 2, "Update drops cached variants")
}

func TestShaderVariantFailure(t *testing.T) {
	lib := coretest.NewLibrary()
	lib.Fail["broken"] = true
	m := core.NewBaseMaterial("broken", lib)

	_, err := m.ShaderVariant(coretest.NewDevice(), core.VariantRequest{Pass: core.PassForward})
	assert.True(t, errors.Is(err, core.ErrShaderFailed))
}

func TestVariantOverride(t *testing.T) {
	custom := &coretest.Shader{ShaderName: "custom"}
	m := core.NewBaseMaterial("lit", coretest.NewLibrary())
	m.VariantOverride = func(_ *core.BaseMaterial, req core.VariantRequest) (core.Shader, error) {
		return custom, nil
	}

	s, err := m.ShaderVariant(coretest.NewDevice(), core.VariantRequest{Pass: core.ShadowPass(1, 0)})
	require.NoError(t, err)
	assert.Same(t, custom, s)
}

func TestSetParametersPublishesToScope(t *testing.T) {
	dev := coretest.NewDevice()
	m := core.NewBaseMaterial("lit", nil)
	m.Opacity = 0.5
	require.True(t, m.Dirty())

	m.UpdateUniforms(dev, core.NewSceneParams())
	m.SetParameters(dev)

	assert.False(t, m.Dirty())
	assert.Equal(t, float32(0.5), dev.Scope().Resolve("material_opacity").Value())
}

func TestForwardKeyPacksOpaqueAndLayer(t *testing.T) {
	opaque := core.NewMeshInstance("a", nil, core.NewBaseMaterial("a", nil), nil)
	blended := core.NewBaseMaterial("b", nil)
	blended.Blend = core.BlendNormal
	transparent := core.NewMeshInstance("b", nil, blended, nil)

	assert.NotZero(t, opaque.ForwardKey()&(1<<26))
	assert.Zero(t, transparent.ForwardKey()&(1<<26))

	opaque.Layer = 3
	assert.Equal(t, uint32(3), opaque.ForwardKey()>>27)
}

func TestShaderPassNames(t *testing.T) {
	assert.Equal(t, "forward", core.PassForward.String())
	assert.True(t, core.ShadowPass(0, 0).IsShadow())
	assert.NotEqual(t, core.ShadowPass(1, 0), core.ShadowPass(0, 1))
}
