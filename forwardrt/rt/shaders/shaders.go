package shaders

import (
	_ "embed"
	"fmt"

	"github.com/gekko3d/forward/forwardrt/rt/core"
	"github.com/gekko3d/forward/forwardrt/rt/gpu"
	"github.com/gekko3d/forward/forwardrt/rt/light"
)

//go:embed forward.wgsl
var forwardWGSL string

//go:embed clustered.wgsl
var clusteredWGSL string

//go:embed shadow.wgsl
var shadowWGSL string

//go:embed fullscreen.wgsl
var fullscreenWGSL string

//go:embed blur.wgsl
var blurWGSL string

//go:embed cookie.wgsl
var cookieWGSL string

// Compiler turns a generated description into a device shader.
type Compiler interface {
	CompileShader(desc gpu.ShaderDesc) (*gpu.Shader, error)
}

type blurKey struct {
	mode   light.BlurMode
	size   int
	packed bool
}

// Library generates and caches the WGSL programs the renderer draws with.
// It serves material variants, VSM blurs and the cookie blit. Failed
// compilations are cached so a broken variant is reported once.
type Library struct {
	compiler Compiler
	logger   core.Logger

	variants map[core.VariantRequest]*gpu.Shader
	blurs    map[blurKey]*gpu.Shader
	cookie   *gpu.Shader
	errs     map[*gpu.Shader]error
}

func New(compiler Compiler, logger core.Logger) *Library {
	return &Library{
		compiler: compiler,
		logger:   core.OrNop(logger),
		variants: make(map[core.VariantRequest]*gpu.Shader),
		blurs:    make(map[blurKey]*gpu.Shader),
		errs:     make(map[*gpu.Shader]error),
	}
}

func (l *Library) compile(desc gpu.ShaderDesc) (*gpu.Shader, error) {
	s, err := l.compiler.CompileShader(desc)
	if err != nil {
		l.logger.Errorf("shaders: %s: %v", desc.Name, err)
		if s == nil {
			s = &gpu.Shader{}
		}
		l.errs[s] = err
		return s, err
	}
	l.logger.Debugf("shaders: compiled %s", desc.Name)
	return s, nil
}

func (l *Library) cached(s *gpu.Shader) (core.Shader, error) {
	if err, ok := l.errs[s]; ok {
		return nil, err
	}
	return s, nil
}

// Variant returns the program for req. Material names only label the
// shader; variants with equal requests are shared across materials.
func (l *Library) Variant(material string, req core.VariantRequest) (core.Shader, error) {
	if s, ok := l.variants[req]; ok {
		return l.cached(s)
	}
	var desc gpu.ShaderDesc
	if req.Pass == core.PassForward {
		desc = forwardDesc(material, req)
	} else {
		var err error
		desc, err = depthDesc(material, req)
		if err != nil {
			return nil, fmt.Errorf("variant %s: %w", material, err)
		}
	}
	s, err := l.compile(desc)
	l.variants[req] = s
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (l *Library) BlurShader(mode light.BlurMode, size int, packed bool) (core.Shader, error) {
	key := blurKey{mode: mode, size: max(1, min(size, light.MaxBlurSize)), packed: packed}
	if s, ok := l.blurs[key]; ok {
		return l.cached(s)
	}
	s, err := l.compile(blurDesc(key.mode, key.size, key.packed))
	l.blurs[key] = s
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (l *Library) CookieBlitShader() (core.Shader, error) {
	if l.cookie != nil {
		return l.cached(l.cookie)
	}
	s, err := l.compile(cookieDesc())
	l.cookie = s
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Release frees every cached program. The library may be reused afterwards.
func (l *Library) Release() {
	for k, s := range l.variants {
		s.Release()
		delete(l.variants, k)
	}
	for k, s := range l.blurs {
		s.Release()
		delete(l.blurs, k)
	}
	if l.cookie != nil {
		l.cookie.Release()
		l.cookie = nil
	}
	clear(l.errs)
}
