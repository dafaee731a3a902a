package shaders

import (
	"errors"
	"strings"
	"testing"

	"github.com/gekko3d/forward/forwardrt/rt/core"
	"github.com/gekko3d/forward/forwardrt/rt/gpu"
	"github.com/gekko3d/forward/forwardrt/rt/light"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCompiler struct {
	descs []gpu.ShaderDesc
	fail  bool
}

func (c *fakeCompiler) CompileShader(desc gpu.ShaderDesc) (*gpu.Shader, error) {
	c.descs = append(c.descs, desc)
	if c.fail {
		return &gpu.Shader{}, errors.New("bad wgsl")
	}
	return &gpu.Shader{}, nil
}

func textureNames(slots []gpu.TextureSlot) []string {
	var names []string
	for _, s := range slots {
		tex, _ := textureVar(s)
		names = append(names, tex)
	}
	return names
}

func TestForwardDescBindsShadowSlotsInDispatchOrder(t *testing.T) {
	desc := forwardDesc("Ground", core.VariantRequest{Pass: core.PassForward, DirectionalLights: 1, LocalLights: 2})

	assert.Equal(t, []string{
		"light0_shadowMap2d",
		"light1_shadowMap2d", "light1_shadowMapCube",
		"light2_shadowMap2d", "light2_shadowMapCube",
	}, textureNames(desc.Textures))
	assert.Empty(t, desc.Storage)

	src := desc.Source
	assert.Contains(t, src, "light0_shadowMatrixPalette: array<mat4x4<f32>, 4>,")
	assert.Contains(t, src, "light0_shadowCascadeDistances: array<vec4<f32>, 4>,")
	assert.Contains(t, src, "fn dirShadow0(")
	assert.Contains(t, src, "fn localShadow1(")
	assert.Contains(t, src, "fn localShadow2(")
	assert.Contains(t, src, "u.light2_lightType > 1.5")
	assert.Contains(t, src, "@group(1) @binding(9) var light2_shadowMapCubeSampler: sampler_comparison;")
	assert.NotContains(t, src, "clusteredLights")
	assert.Equal(t, "fs_main", desc.Fragment)
}

func TestForwardDescDropsShadowsPastSlotLimit(t *testing.T) {
	desc := forwardDesc("Crowd", core.VariantRequest{Pass: core.PassForward, DirectionalLights: 1, LocalLights: 8})
	assert.Empty(t, desc.Textures)
	assert.NotContains(t, desc.Source, "localShadow")
	assert.Contains(t, desc.Source, "u.light8_outerConeAngle")
}

func TestForwardDescClusteredReadsStorage(t *testing.T) {
	desc := forwardDesc("Lit", core.VariantRequest{Pass: core.PassForward, Clustered: true})

	assert.Equal(t, []string{"clusterCellsBuffer", "clusterLightsBuffer"}, desc.Storage)
	assert.Contains(t, desc.Source, "@group(2) @binding(0) var<storage, read> clusterCellsBuffer: array<u32>;")
	assert.Contains(t, desc.Source, "@group(2) @binding(1) var<storage, read> clusterLightsBuffer: array<vec4<f32>>;")
	assert.Contains(t, desc.Source, "lit += clusteredLights(p, n);")

	var names []string
	for _, f := range desc.Uniforms {
		names = append(names, f.Name)
	}
	assert.Contains(t, names, "clusterCellsDot")
	assert.Contains(t, names, "clusterMaxCells")
}

func TestDepthDescSelectsFragmentByShadowType(t *testing.T) {
	cases := []struct {
		pass core.ShaderPass
		frag string
	}{
		{core.PassDepth, ""},
		{core.ShadowPass(int(light.Directional), int(light.PCF3)), ""},
		{core.ShadowPass(int(light.Spot), int(light.PCF5)), ""},
		{core.ShadowPass(int(light.Omni), int(light.PCF3)), "fs_distance"},
		{core.ShadowPass(int(light.Spot), int(light.VSM16)), "fs_moments"},
		{core.ShadowPass(int(light.Directional), int(light.VSM8)), "fs_moments"},
	}
	for _, c := range cases {
		desc, err := depthDesc("Box", core.VariantRequest{Pass: c.pass})
		require.NoError(t, err, c.pass.String())
		assert.Equal(t, c.frag, desc.Fragment, c.pass.String())
		assert.Empty(t, desc.Textures)
	}

	_, err := depthDesc("Box", core.VariantRequest{Pass: core.ShadowPass(7, 0)})
	assert.Error(t, err)
}

func TestDecodeShadowPass(t *testing.T) {
	lt, st, ok := decodeShadowPass(core.ShadowPass(int(light.Spot), int(light.VSM32)))
	require.True(t, ok)
	assert.Equal(t, light.Spot, lt)
	assert.Equal(t, light.VSM32, st)

	_, _, ok = decodeShadowPass(core.PassForward)
	assert.False(t, ok)
}

func TestBlurDescWeights(t *testing.T) {
	box := blurDesc(light.BlurBox, 5, false)
	assert.Equal(t, "BlurBox5", box.Name)
	assert.Contains(t, box.Source, "const BLUR_SAMPLES: i32 = 5;")
	assert.Contains(t, box.Source, "return 0.20000000;")
	assert.True(t, box.Fullscreen)

	gauss := blurDesc(light.BlurGaussian, 99, true)
	assert.Equal(t, "BlurGaussian25Packed", gauss.Name)
	assert.Contains(t, gauss.Source, "return u.weight[k].x;")
	assert.Contains(t, gauss.Source, "weight: array<vec4<f32>, 25>,")
}

func TestCookieDescDeclaresBothViews(t *testing.T) {
	desc := cookieDesc()
	assert.Equal(t, []string{"blitTexture2d", "blitTextureCube"}, textureNames(desc.Textures))
	assert.Contains(t, desc.Source, "var blitTextureCube: texture_cube<f32>;")
	assert.Equal(t, 1, strings.Count(desc.Source, "fn vs_main"))
}

func TestLibraryCachesVariants(t *testing.T) {
	c := &fakeCompiler{}
	lib := New(c, nil)
	req := core.VariantRequest{Pass: core.PassForward, LocalLights: 1}

	a, err := lib.Variant("Ground", req)
	require.NoError(t, err)
	b, err := lib.Variant("Wall", req)
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Len(t, c.descs, 1)

	_, err = lib.BlurShader(light.BlurBox, 40, false)
	require.NoError(t, err)
	_, err = lib.BlurShader(light.BlurBox, light.MaxBlurSize, false)
	require.NoError(t, err)
	_, err = lib.CookieBlitShader()
	require.NoError(t, err)
	_, err = lib.CookieBlitShader()
	require.NoError(t, err)
	assert.Len(t, c.descs, 3)
}

func TestLibraryCachesFailures(t *testing.T) {
	c := &fakeCompiler{fail: true}
	lib := New(c, nil)
	req := core.VariantRequest{Pass: core.PassDepth}

	s, err := lib.Variant("Box", req)
	assert.Error(t, err)
	assert.Nil(t, s)
	_, err = lib.Variant("Box", req)
	assert.Error(t, err)
	assert.Len(t, c.descs, 1)

	lib.Release()
	_, err = lib.Variant("Box", req)
	assert.Error(t, err)
	assert.Len(t, c.descs, 2)
}
