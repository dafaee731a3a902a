package forward

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/bits"
	"os"

	"github.com/gekko3d/forward/forwardrt/rt/core"
	"github.com/go-gl/mathgl/mgl32"
)

type LightingConfig struct {
	Clustered             bool   `json:"clustered"`
	Shadows               bool   `json:"shadows"`
	Cookies               bool   `json:"cookies"`
	ShadowAtlasResolution int    `json:"shadowAtlasResolution"`
	CookieAtlasResolution int    `json:"cookieAtlasResolution"`
	AtlasSplit            []int  `json:"atlasSplit,omitempty"`
	Cells                 [3]int `json:"cells"`
	MaxLightsPerCell      int    `json:"maxLightsPerCell"`
}

// Config is the on-disk renderer configuration. Fields missing from the file
// keep their DefaultConfig values.
type Config struct {
	Debug        bool           `json:"debug"`
	LogPrefix    string         `json:"logPrefix"`
	Lighting     LightingConfig `json:"lighting"`
	AmbientLight [3]float32     `json:"ambientLight"`
	Exposure     float32        `json:"exposure"`
}

// Flags are command-line overrides. nil fields leave the config untouched.
type Flags struct {
	Debug     *bool
	Clustered *bool
	Shadows   *bool
}

func DefaultConfig() Config {
	p := core.NewSceneParams()
	l := p.Lighting
	return Config{
		LogPrefix: "forward",
		Lighting: LightingConfig{
			Clustered:             l.ClusteredEnabled,
			Shadows:               l.ShadowsEnabled,
			Cookies:               l.CookiesEnabled,
			ShadowAtlasResolution: l.ShadowAtlasResolution,
			CookieAtlasResolution: l.CookieAtlasResolution,
			Cells:                 l.Cells,
			MaxLightsPerCell:      l.MaxLightsPerCell,
		},
		AmbientLight: [3]float32(p.AmbientLight),
		Exposure:     p.Exposure,
	}
}

// LoadConfig reads a JSON config over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Resolve applies flag overrides and returns the result.
func (c Config) Resolve(f Flags) Config {
	if f.Debug != nil {
		c.Debug = *f.Debug
	}
	if f.Clustered != nil {
		c.Lighting.Clustered = *f.Clustered
	}
	if f.Shadows != nil {
		c.Lighting.Shadows = *f.Shadows
	}
	return c
}

func powerOfTwo(n int) bool { return n > 0 && bits.OnesCount(uint(n)) == 1 }

func (c Config) Validate() error {
	var errs []error
	l := c.Lighting
	if !powerOfTwo(l.ShadowAtlasResolution) {
		errs = append(errs, fmt.Errorf("shadowAtlasResolution %d is not a power of two", l.ShadowAtlasResolution))
	}
	if !powerOfTwo(l.CookieAtlasResolution) {
		errs = append(errs, fmt.Errorf("cookieAtlasResolution %d is not a power of two", l.CookieAtlasResolution))
	}
	for i, n := range l.Cells {
		if n < 1 {
			errs = append(errs, fmt.Errorf("cells[%d] must be at least 1, got %d", i, n))
		}
	}
	if l.MaxLightsPerCell < 1 || l.MaxLightsPerCell > 255 {
		errs = append(errs, fmt.Errorf("maxLightsPerCell %d is outside [1, 255]", l.MaxLightsPerCell))
	}
	for i, n := range l.AtlasSplit {
		if n < 1 {
			errs = append(errs, fmt.Errorf("atlasSplit[%d] must be at least 1, got %d", i, n))
		}
	}
	if c.Exposure <= 0 {
		errs = append(errs, fmt.Errorf("exposure must be positive, got %g", c.Exposure))
	}
	return errors.Join(errs...)
}

// SceneParams converts the config into the renderer's scene parameters.
func (c Config) SceneParams() *core.SceneParams {
	l := c.Lighting
	return &core.SceneParams{
		Lighting: core.LightingParams{
			ClusteredEnabled:      l.Clustered,
			ShadowsEnabled:        l.Shadows,
			CookiesEnabled:        l.Cookies,
			ShadowAtlasResolution: l.ShadowAtlasResolution,
			CookieAtlasResolution: l.CookieAtlasResolution,
			AtlasSplit:            append([]int(nil), l.AtlasSplit...),
			Cells:                 l.Cells,
			MaxLightsPerCell:      l.MaxLightsPerCell,
		},
		AmbientLight: mgl32.Vec3(c.AmbientLight),
		Exposure:     c.Exposure,
	}
}
