package shaders

import (
	"fmt"
	"strings"

	"github.com/gekko3d/forward/forwardrt/rt/core"
	"github.com/gekko3d/forward/forwardrt/rt/gpu"
	"github.com/gekko3d/forward/forwardrt/rt/light"
)

// maxShadowSlots keeps a variant under the 16 sampled textures a stage may
// bind. Variants that would exceed it render their lights unshadowed.
const maxShadowSlots = 14

var meshUniforms = []gpu.UniformField{
	{Name: "matrix_model", Kind: gpu.KindMat4},
	{Name: "matrix_viewProjection", Kind: gpu.KindMat4},
	{Name: "matrix_view", Kind: gpu.KindMat4},
	{Name: "matrix_normal", Kind: gpu.KindMat3},
	{Name: "view_position", Kind: gpu.KindVec3},
	{Name: "projectionFlipY", Kind: gpu.KindFloat},
}

var materialUniforms = []gpu.UniformField{
	{Name: "light_globalAmbient", Kind: gpu.KindVec3},
	{Name: "exposure", Kind: gpu.KindFloat},
	{Name: "material_diffuse", Kind: gpu.KindVec3},
	{Name: "material_opacity", Kind: gpu.KindFloat},
	{Name: "alpha_ref", Kind: gpu.KindFloat},
}

var clusterUniforms = []gpu.UniformField{
	{Name: "clusterBoundsMin", Kind: gpu.KindVec3},
	{Name: "clusterMaxCells", Kind: gpu.KindFloat},
	{Name: "clusterBoundsDelta", Kind: gpu.KindVec3},
	{Name: "clusterCellsCountByBoundsSize", Kind: gpu.KindVec3},
	{Name: "clusterCellsMax", Kind: gpu.KindVec3},
	{Name: "clusterCellsDot", Kind: gpu.KindVec3},
}

var clusterStorage = []string{"clusterCellsBuffer", "clusterLightsBuffer"}

func lightPrefix(i int) string { return fmt.Sprintf("light%d_", i) }

func directionalFields(i int) []gpu.UniformField {
	n := lightPrefix(i)
	return []gpu.UniformField{
		{Name: n + "color", Kind: gpu.KindVec3},
		{Name: n + "shadowIntensity", Kind: gpu.KindFloat},
		{Name: n + "direction", Kind: gpu.KindVec3},
		{Name: n + "shadowCascadeCount", Kind: gpu.KindFloat},
		{Name: n + "shadowParams", Kind: gpu.KindVec4},
		{Name: n + "shadowCascadeDistances[0]", Kind: gpu.KindFloat, Count: light.MaxCascades},
		{Name: n + "shadowMatrixPalette[0]", Kind: gpu.KindMat4, Count: light.MaxCascades},
	}
}

func localFields(i int) []gpu.UniformField {
	n := lightPrefix(i)
	return []gpu.UniformField{
		{Name: n + "color", Kind: gpu.KindVec3},
		{Name: n + "lightType", Kind: gpu.KindFloat},
		{Name: n + "position", Kind: gpu.KindVec3},
		{Name: n + "radius", Kind: gpu.KindFloat},
		{Name: n + "direction", Kind: gpu.KindVec3},
		{Name: n + "falloffMode", Kind: gpu.KindFloat},
		{Name: n + "innerConeAngle", Kind: gpu.KindFloat},
		{Name: n + "outerConeAngle", Kind: gpu.KindFloat},
		{Name: n + "shadowIntensity", Kind: gpu.KindFloat},
		{Name: n + "shadowParams", Kind: gpu.KindVec4},
		{Name: n + "shadowMatrix", Kind: gpu.KindMat4},
	}
}

// shadowed reports whether a forward variant with these light counts can
// bind a shadow map per light.
func shadowed(req core.VariantRequest) bool {
	return req.DirectionalLights+2*req.LocalLights <= maxShadowSlots
}

// forwardDesc generates the lit forward program for req. Light slots follow
// the dispatch order: directional lights first, then local lights.
func forwardDesc(name string, req core.VariantRequest) gpu.ShaderDesc {
	fields := append([]gpu.UniformField{}, meshUniforms...)
	fields = append(fields, materialUniforms...)

	var textures []gpu.TextureSlot
	var fns, body strings.Builder
	withShadows := shadowed(req)

	for i := 0; i < req.DirectionalLights; i++ {
		fields = append(fields, directionalFields(i)...)
		shadow := "1.0"
		if withShadows {
			textures = append(textures, gpu.TextureSlot{Name: lightPrefix(i) + "shadowMap", Depth: true})
			writeDirectionalShadow(&fns, i)
			shadow = fmt.Sprintf("dirShadow%d(p, n)", i)
		}
		fmt.Fprintf(&body, "    lit += directLight(n, u.light%[1]d_color, u.light%[1]d_direction) * %[2]s;\n", i, shadow)
	}
	for j := 0; j < req.LocalLights; j++ {
		i := req.DirectionalLights + j
		fields = append(fields, localFields(i)...)
		shadow := "1.0"
		if withShadows {
			slot := lightPrefix(i) + "shadowMap"
			textures = append(textures,
				gpu.TextureSlot{Name: slot, Depth: true},
				gpu.TextureSlot{Name: slot, Depth: true, Cube: true})
			writeLocalShadow(&fns, i)
			shadow = fmt.Sprintf("localShadow%d(p, n)", i)
		}
		fmt.Fprintf(&body, "    lit += localLight(p, n, u.light%[1]d_color, u.light%[1]d_position, u.light%[1]d_direction, "+
			"u.light%[1]d_radius, u.light%[1]d_falloffMode, u.light%[1]d_innerConeAngle, u.light%[1]d_outerConeAngle, "+
			"u.light%[1]d_lightType > %[2]d.5) * %[3]s;\n", i, int(light.Omni), shadow)
	}

	var storage []string
	extra := ""
	if req.Clustered {
		fields = append(fields, clusterUniforms...)
		storage = clusterStorage
		body.WriteString("    lit += clusteredLights(p, n);\n")
		extra = clusteredWGSL
	}

	var src strings.Builder
	src.WriteString(gpu.StructWGSL("Uniforms", fields))
	src.WriteString("@group(0) @binding(0) var<uniform> u: Uniforms;\n")
	writeTextureBindings(&src, textures)
	writeStorageBindings(&src, storage)
	src.WriteString(forwardWGSL)
	src.WriteString(extra)
	src.WriteString(fns.String())
	src.WriteString("\nfn evaluateLights(p: vec3<f32>, n: vec3<f32>) -> vec3<f32> {\n    var lit = vec3<f32>(0.0);\n")
	src.WriteString(body.String())
	src.WriteString("    return lit;\n}\n")

	return gpu.ShaderDesc{
		Name:     fmt.Sprintf("%s/%s/d%dl%d", name, req.Pass, req.DirectionalLights, req.LocalLights),
		Source:   src.String(),
		Vertex:   "vs_main",
		Fragment: "fs_main",
		Uniforms: fields,
		Textures: textures,
		Storage:  storage,
	}
}

// textureVar names the WGSL texture and sampler declared for slot.
func textureVar(slot gpu.TextureSlot) (tex, smp string) {
	suffix := "2d"
	if slot.Cube {
		suffix = "Cube"
	}
	return slot.Name + suffix, slot.Name + suffix + "Sampler"
}

func wgslTextureType(slot gpu.TextureSlot) (string, string) {
	switch {
	case slot.Depth && slot.Cube:
		return "texture_depth_cube", "sampler_comparison"
	case slot.Depth:
		return "texture_depth_2d", "sampler_comparison"
	case slot.Cube:
		return "texture_cube<f32>", "sampler"
	}
	return "texture_2d<f32>", "sampler"
}

func writeTextureBindings(b *strings.Builder, textures []gpu.TextureSlot) {
	for i, slot := range textures {
		tex, smp := textureVar(slot)
		texType, smpType := wgslTextureType(slot)
		fmt.Fprintf(b, "@group(1) @binding(%d) var %s: %s;\n", 2*i, tex, texType)
		fmt.Fprintf(b, "@group(1) @binding(%d) var %s: %s;\n", 2*i+1, smp, smpType)
	}
}

func writeStorageBindings(b *strings.Builder, storage []string) {
	for i, name := range storage {
		elem := "u32"
		if name == "clusterLightsBuffer" {
			elem = "vec4<f32>"
		}
		fmt.Fprintf(b, "@group(2) @binding(%d) var<storage, read> %s: array<%s>;\n", i, name, elem)
	}
}

func writeDirectionalShadow(b *strings.Builder, i int) {
	tex, smp := textureVar(gpu.TextureSlot{Name: lightPrefix(i) + "shadowMap", Depth: true})
	fmt.Fprintf(b, `
fn dirShadow%[1]d(p: vec3<f32>, n: vec3<f32>) -> f32 {
    if (u.light%[1]d_shadowIntensity <= 0.0) {
        return 1.0;
    }
    let viewZ = -(u.matrix_view * vec4<f32>(p, 1.0)).z;
    let cascade = cascadeIndex(viewZ, u.light%[1]d_shadowCascadeDistances, u.light%[1]d_shadowCascadeCount);
    let sp = u.light%[1]d_shadowMatrixPalette[cascade] * vec4<f32>(p + n * u.light%[1]d_shadowParams.y, 1.0);
    let v = pcf(%[2]s, %[3]s, sp.xyz / sp.w, u.light%[1]d_shadowParams.z, u.light%[1]d_shadowParams.x);
    return mix(1.0, v, u.light%[1]d_shadowIntensity);
}
`, i, tex, smp)
}

func writeLocalShadow(b *strings.Builder, i int) {
	name := lightPrefix(i) + "shadowMap"
	tex2d, smp2d := textureVar(gpu.TextureSlot{Name: name, Depth: true})
	texCube, smpCube := textureVar(gpu.TextureSlot{Name: name, Depth: true, Cube: true})
	fmt.Fprintf(b, `
fn localShadow%[1]d(p: vec3<f32>, n: vec3<f32>) -> f32 {
    if (u.light%[1]d_shadowIntensity <= 0.0) {
        return 1.0;
    }
    var v = 1.0;
    if (u.light%[1]d_lightType < %[6]d.5) {
        v = pcfCube(%[4]s, %[5]s, p - u.light%[1]d_position, u.light%[1]d_shadowParams.w, u.light%[1]d_shadowParams.z);
    } else {
        let sp = u.light%[1]d_shadowMatrix * vec4<f32>(p + n * u.light%[1]d_shadowParams.y, 1.0);
        v = pcf(%[2]s, %[3]s, sp.xyz / sp.w, u.light%[1]d_shadowParams.z, u.light%[1]d_shadowParams.x);
    }
    return mix(1.0, v, u.light%[1]d_shadowIntensity);
}
`, i, tex2d, smp2d, texCube, smpCube, int(light.Omni))
}

// decodeShadowPass returns the light and shadow type of a shadow pass.
func decodeShadowPass(p core.ShaderPass) (light.Type, light.ShadowType, bool) {
	for lt := light.Directional; lt <= light.Spot; lt++ {
		for st := light.PCF3; st <= light.PCF5; st++ {
			if core.ShadowPass(int(lt), int(st)) == p {
				return lt, st, true
			}
		}
	}
	return 0, 0, false
}

var shadowUniforms = []gpu.UniformField{
	{Name: "matrix_model", Kind: gpu.KindMat4},
	{Name: "matrix_viewProjection", Kind: gpu.KindMat4},
	{Name: "view_position", Kind: gpu.KindVec3},
	{Name: "projectionFlipY", Kind: gpu.KindFloat},
	{Name: "light_radius", Kind: gpu.KindFloat},
}

// depthDesc generates the depth-only and shadow-casting programs. PCF maps
// keep hardware depth, omni maps write normalized distance and VSM maps
// write moments.
func depthDesc(name string, req core.VariantRequest) (gpu.ShaderDesc, error) {
	desc := gpu.ShaderDesc{
		Name:     fmt.Sprintf("%s/%s", name, req.Pass),
		Source:   gpu.StructWGSL("Uniforms", shadowUniforms) + "@group(0) @binding(0) var<uniform> u: Uniforms;\n" + shadowWGSL,
		Vertex:   "vs_main",
		Uniforms: shadowUniforms,
	}
	if req.Pass == core.PassDepth {
		return desc, nil
	}
	lt, st, ok := decodeShadowPass(req.Pass)
	if !ok {
		return desc, fmt.Errorf("unknown pass %s", req.Pass)
	}
	switch {
	case st.IsVSM():
		desc.Fragment = "fs_moments"
	case lt == light.Omni:
		desc.Fragment = "fs_distance"
	}
	return desc, nil
}

var blurUniforms = []gpu.UniformField{
	{Name: "pixelOffset", Kind: gpu.KindVec2},
	{Name: "weight[0]", Kind: gpu.KindFloat, Count: light.MaxBlurSize},
}

// blurDesc generates a separable blur of size taps. Box kernels average;
// Gaussian kernels read weight[k].
func blurDesc(mode light.BlurMode, size int, packed bool) gpu.ShaderDesc {
	size = max(1, min(size, light.MaxBlurSize))
	weight := fmt.Sprintf("return %.8f;", 1/float64(size))
	kind := "Box"
	if mode == light.BlurGaussian {
		weight = "return u.weight[k].x;"
		kind = "Gaussian"
	}
	slot := gpu.TextureSlot{Name: "source"}

	var src strings.Builder
	src.WriteString(gpu.StructWGSL("Uniforms", blurUniforms))
	src.WriteString("@group(0) @binding(0) var<uniform> u: Uniforms;\n")
	src.WriteString("@group(1) @binding(0) var source: texture_2d<f32>;\n")
	src.WriteString("@group(1) @binding(1) var sourceSampler: sampler;\n")
	fmt.Fprintf(&src, "const BLUR_SAMPLES: i32 = %d;\n", size)
	fmt.Fprintf(&src, "fn blurWeight(k: i32) -> f32 {\n    %s\n}\n", weight)
	src.WriteString(fullscreenWGSL)
	src.WriteString(blurWGSL)

	name := fmt.Sprintf("Blur%s%d", kind, size)
	if packed {
		name += "Packed"
	}
	return gpu.ShaderDesc{
		Name:       name,
		Source:     src.String(),
		Vertex:     "vs_main",
		Fragment:   "fs_main",
		Uniforms:   blurUniforms,
		Textures:   []gpu.TextureSlot{slot},
		Fullscreen: true,
	}
}

var cookieUniforms = []gpu.UniformField{
	{Name: "cookieViewport", Kind: gpu.KindVec4},
	{Name: "cookieCube", Kind: gpu.KindFloat},
}

func cookieDesc() gpu.ShaderDesc {
	textures := []gpu.TextureSlot{
		{Name: "blitTexture"},
		{Name: "blitTexture", Cube: true},
	}
	var src strings.Builder
	src.WriteString(gpu.StructWGSL("Uniforms", cookieUniforms))
	src.WriteString("@group(0) @binding(0) var<uniform> u: Uniforms;\n")
	writeTextureBindings(&src, textures)
	src.WriteString(fullscreenWGSL)
	src.WriteString(cookieWGSL)
	return gpu.ShaderDesc{
		Name:       "CookieBlit",
		Source:     src.String(),
		Vertex:     "vs_main",
		Fragment:   "fs_main",
		Uniforms:   cookieUniforms,
		Textures:   textures,
		Fullscreen: true,
	}
}
