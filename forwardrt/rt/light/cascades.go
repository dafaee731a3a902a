package light

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// cascadeViewports tiles the directional shadow map per cascade count.
var cascadeViewports = [MaxCascades][]mgl32.Vec4{
	{{0, 0, 1, 1}},
	{{0, 0, 0.5, 0.5}, {0, 0.5, 0.5, 0.5}},
	{{0, 0, 0.5, 0.5}, {0, 0.5, 0.5, 0.5}, {0.5, 0, 0.5, 0.5}},
	{{0, 0, 0.5, 0.5}, {0, 0.5, 0.5, 0.5}, {0.5, 0, 0.5, 0.5}, {0.5, 0.5, 0.5, 0.5}},
}

func (l *Light) CascadeViewport(cascade int) mgl32.Vec4 {
	return cascadeViewports[l.numCascades-1][cascade]
}

// SplitDistances blends a uniform and a logarithmic split of [near, far]
// into n far distances; distribution 0 is linear, 1 logarithmic. The last
// entry is always far.
func SplitDistances(n int, distribution, near, far float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = far
	}
	for i := 1; i < n; i++ {
		fraction := float64(i) / float64(n)
		linear := float64(near) + float64(far-near)*fraction
		logarithmic := float64(near) * math.Pow(float64(far/near), fraction)
		out[i-1] = float32(linear + (logarithmic-linear)*float64(distribution))
	}
	return out
}

// GenerateSplitDistances fills CascadeDistances for the light's cascade count.
func (l *Light) GenerateSplitDistances(near, far float32) {
	for i := range l.CascadeDistances {
		l.CascadeDistances[i] = far
	}
	copy(l.CascadeDistances[:], SplitDistances(l.numCascades, l.CascadeDistribution, near, far))
}
