package clusters

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gekko3d/forward/forwardrt/rt/core"
	"github.com/gekko3d/forward/forwardrt/rt/light"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
)

// MaxLights is bounded by the 8-bit light indices stored per cell.
const MaxLights = 255

// floats per light in the packed light buffer
const lightStride = 16

type clusterLight struct {
	light    *light.Light
	min, max mgl32.Vec3
}

// WorldClusters buckets local lights into a world-space grid of cells. Each
// cell stores up to maxCellLightCount light indices; index 0 is unused so a
// zero byte terminates a cell.
type WorldClusters struct {
	ID   uuid.UUID
	Name string

	ctx               *core.RenderContext
	cells             [3]int
	maxCellLightCount int

	lights      []clusterLight
	counts      []int
	cellData    []byte
	lightData   []float32
	boundsMin   mgl32.Vec3
	boundsMax   mgl32.Vec3
	boundsDelta mgl32.Vec3
	overflowed  bool

	cellBuffer  core.Buffer
	lightBuffer core.Buffer
	generation  int
}

func NewWorldClusters(ctx *core.RenderContext, name string) *WorldClusters {
	return &WorldClusters{
		ID:                uuid.New(),
		Name:              name,
		ctx:               ctx,
		cells:             [3]int{1, 1, 1},
		maxCellLightCount: 4,
		lights:            []clusterLight{{}},
		generation:        ctx.Generation(),
	}
}

func (wc *WorldClusters) Cells() [3]int { return wc.cells }

// LightCount excludes the placeholder at index 0.
func (wc *WorldClusters) LightCount() int { return len(wc.lights) - 1 }

// Bounds is the world box covering every collected light.
func (wc *WorldClusters) Bounds() core.BoundingBox {
	return core.BoxFromMinMax(wc.boundsMin, wc.boundsMax)
}

func (wc *WorldClusters) updateParams(params core.LightingParams) {
	cells := params.Cells
	for i := range cells {
		cells[i] = max(1, cells[i])
	}
	maxPerCell := max(1, min(params.MaxLightsPerCell, MaxLights))
	if cells == wc.cells && maxPerCell == wc.maxCellLightCount && wc.counts != nil {
		return
	}
	wc.cells = cells
	wc.maxCellLightCount = maxPerCell
	total := cells[0] * cells[1] * cells[2]
	wc.counts = make([]int, total)
	wc.cellData = make([]byte, total*maxPerCell)
}

func (wc *WorldClusters) collectLights(lights []*light.Light) {
	wc.lights = wc.lights[:1]
	for _, l := range lights {
		if !l.Enabled || !l.VisibleThisFrame || l.Type() == light.Directional {
			continue
		}
		if l.Mask&core.MaskAffectDynamic == 0 {
			continue
		}
		if len(wc.lights) > MaxLights {
			core.WarnOnce(wc.ctx.Logger, "clusters-max-lights", "clusters %s: more than %d lights, extra lights ignored", wc.Name, MaxLights)
			break
		}
		box := l.BoundingBox()
		wc.lights = append(wc.lights, clusterLight{light: l, min: box.Min(), max: box.Max()})
	}
}

func (wc *WorldClusters) evaluateBounds() {
	if len(wc.lights) < 2 {
		wc.boundsMin = mgl32.Vec3{}
		wc.boundsMax = mgl32.Vec3{}
		wc.boundsDelta = mgl32.Vec3{1, 1, 1}
		return
	}
	wc.boundsMin = wc.lights[1].min
	wc.boundsMax = wc.lights[1].max
	for _, cl := range wc.lights[2:] {
		for k := 0; k < 3; k++ {
			wc.boundsMin[k] = min(wc.boundsMin[k], cl.min[k])
			wc.boundsMax[k] = max(wc.boundsMax[k], cl.max[k])
		}
	}
	// Pad so lights touching the max face still land in the last cell.
	for k := 0; k < 3; k++ {
		wc.boundsMax[k] += 0.001
		wc.boundsDelta[k] = wc.boundsMax[k] - wc.boundsMin[k]
	}
}

func (wc *WorldClusters) cellRange(v float32, axis int) int {
	c := int(math.Floor(float64((v - wc.boundsMin[axis]) / wc.boundsDelta[axis] * float32(wc.cells[axis]))))
	return max(0, min(c, wc.cells[axis]-1))
}

func (wc *WorldClusters) cellIndex(x, y, z int) int {
	return x + wc.cells[0]*(z+wc.cells[2]*y)
}

func (wc *WorldClusters) updateCells() {
	clear(wc.counts)
	clear(wc.cellData)
	wc.overflowed = false
	for i := 1; i < len(wc.lights); i++ {
		cl := wc.lights[i]
		x0, x1 := wc.cellRange(cl.min[0], 0), wc.cellRange(cl.max[0], 0)
		y0, y1 := wc.cellRange(cl.min[1], 1), wc.cellRange(cl.max[1], 1)
		z0, z1 := wc.cellRange(cl.min[2], 2), wc.cellRange(cl.max[2], 2)
		for x := x0; x <= x1; x++ {
			for y := y0; y <= y1; y++ {
				for z := z0; z <= z1; z++ {
					idx := wc.cellIndex(x, y, z)
					count := wc.counts[idx]
					if count >= wc.maxCellLightCount {
						wc.overflowed = true
						continue
					}
					wc.cellData[idx*wc.maxCellLightCount+count] = byte(i)
					wc.counts[idx] = count + 1
				}
			}
		}
	}
	if wc.overflowed {
		core.WarnOnce(wc.ctx.Logger, "clusters-overflow-"+wc.Name, "clusters %s: cell light limit %d exceeded", wc.Name, wc.maxCellLightCount)
	}
}

// CellLights returns the light indices stored in one cell.
func (wc *WorldClusters) CellLights(x, y, z int) []int {
	idx := wc.cellIndex(x, y, z)
	out := make([]int, wc.counts[idx])
	for i := range out {
		out[i] = int(wc.cellData[idx*wc.maxCellLightCount+i])
	}
	return out
}

// LightAt maps a cell index back to the light; 0 yields nil.
func (wc *WorldClusters) LightAt(index int) *light.Light {
	if index <= 0 || index >= len(wc.lights) {
		return nil
	}
	return wc.lights[index].light
}

func (wc *WorldClusters) packLights() {
	n := len(wc.lights)
	if cap(wc.lightData) < n*lightStride {
		wc.lightData = make([]float32, n*lightStride)
	}
	wc.lightData = wc.lightData[:n*lightStride]
	clear(wc.lightData)
	for i := 1; i < n; i++ {
		l := wc.lights[i].light
		o := wc.lightData[i*lightStride : (i+1)*lightStride]
		pos := l.Node.Position
		col := l.Color.Mul(l.Intensity)
		dir := l.Direction()
		copy(o[0:3], pos[:])
		o[3] = l.AttenuationEnd
		copy(o[4:7], col[:])
		o[7] = float32(l.Type())
		copy(o[8:11], dir[:])
		o[11] = float32(math.Cos(float64(mgl32.DegToRad(l.OuterConeAngle()))))
		if l.CastShadows() && l.AtlasViewportAllocated {
			copy(o[12:16], l.AtlasViewport[:])
		}
	}
}

// ensureBuffer grows buf to fit data and uploads it.
func (wc *WorldClusters) ensureBuffer(name string, buf *core.Buffer, data []byte) error {
	needed := len(data)
	if needed%4 != 0 {
		needed += 4 - needed%4
	}
	needed = max(needed, 16)
	if *buf == nil || (*buf).Size() < needed {
		if *buf != nil {
			(*buf).Destroy()
		}
		b, err := wc.ctx.Device.CreateBuffer(name, core.BufferStorage, needed)
		if err != nil {
			*buf = nil
			return fmt.Errorf("clusters %s: %w", wc.Name, err)
		}
		*buf = b
	}
	return wc.ctx.Device.WriteBuffer(*buf, data)
}

func (wc *WorldClusters) upload() error {
	if wc.generation != wc.ctx.Generation() {
		wc.cellBuffer = nil
		wc.lightBuffer = nil
		wc.generation = wc.ctx.Generation()
	}
	if err := wc.ensureBuffer(wc.Name+"-cells", &wc.cellBuffer, wc.cellData); err != nil {
		return err
	}
	raw := make([]byte, len(wc.lightData)*4)
	for i, v := range wc.lightData {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(v))
	}
	return wc.ensureBuffer(wc.Name+"-lights", &wc.lightBuffer, raw)
}

// Update rebuilds the grid from this frame's visible lights and uploads it.
func (wc *WorldClusters) Update(lights []*light.Light, params core.LightingParams) error {
	wc.updateParams(params)
	wc.collectLights(lights)
	wc.evaluateBounds()
	wc.updateCells()
	wc.packLights()
	return wc.upload()
}

// Activate publishes the grid to the uniform scope for the next draws.
func (wc *WorldClusters) Activate() {
	scope := wc.ctx.Device.Scope()
	cells := mgl32.Vec3{float32(wc.cells[0]), float32(wc.cells[1]), float32(wc.cells[2])}
	var byBounds mgl32.Vec3
	for k := 0; k < 3; k++ {
		byBounds[k] = cells[k] / wc.boundsDelta[k]
	}
	scope.Resolve("clusterCellsBuffer").SetValue(wc.cellBuffer)
	scope.Resolve("clusterLightsBuffer").SetValue(wc.lightBuffer)
	scope.Resolve("clusterBoundsMin").SetValue(wc.boundsMin)
	scope.Resolve("clusterBoundsDelta").SetValue(wc.boundsDelta)
	scope.Resolve("clusterCellsCountByBoundsSize").SetValue(byBounds)
	scope.Resolve("clusterCellsMax").SetValue(cells.Sub(mgl32.Vec3{1, 1, 1}))
	scope.Resolve("clusterCellsDot").SetValue(mgl32.Vec3{1, float32(wc.cells[0] * wc.cells[2]), float32(wc.cells[0])})
	scope.Resolve("clusterMaxCells").SetValue(float32(wc.maxCellLightCount))
}

func (wc *WorldClusters) Destroy() {
	if wc.cellBuffer != nil {
		wc.cellBuffer.Destroy()
		wc.cellBuffer = nil
	}
	if wc.lightBuffer != nil {
		wc.lightBuffer.Destroy()
		wc.lightBuffer = nil
	}
}
