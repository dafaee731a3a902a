package app

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gekko3d/forward/forwardrt/rt/composition"
	"github.com/gekko3d/forward/forwardrt/rt/core"
	"github.com/gekko3d/forward/forwardrt/rt/light"
	"github.com/go-gl/mathgl/mgl32"
)

const worldLayer = 0

// boxFaces lists the outward normal and the two in-plane axes of each face.
var boxFaces = [6][3]mgl32.Vec3{
	{{1, 0, 0}, {0, 0, -1}, {0, 1, 0}},
	{{-1, 0, 0}, {0, 0, 1}, {0, 1, 0}},
	{{0, 1, 0}, {1, 0, 0}, {0, 0, -1}},
	{{0, -1, 0}, {1, 0, 0}, {0, 0, 1}},
	{{0, 0, 1}, {1, 0, 0}, {0, 1, 0}},
	{{0, 0, -1}, {-1, 0, 0}, {0, 1, 0}},
}

// boxGeometry returns a unit cube as interleaved position/normal vertices
// and counter-clockwise triangles.
func boxGeometry() ([]float32, []uint32) {
	vertices := make([]float32, 0, 24*6)
	indices := make([]uint32, 0, 36)
	for f, face := range boxFaces {
		n, u, v := face[0], face[1], face[2]
		for _, c := range [4][2]float32{{-1, -1}, {1, -1}, {1, 1}, {-1, 1}} {
			p := n.Add(u.Mul(c[0])).Add(v.Mul(c[1])).Mul(0.5)
			vertices = append(vertices, p[0], p[1], p[2], n[0], n[1], n[2])
		}
		base := uint32(f * 4)
		indices = append(indices, base, base+1, base+2, base, base+2, base+3)
	}
	return vertices, indices
}

func float32Bytes(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func uint32Bytes(v []uint32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], x)
	}
	return buf
}

// Scene is the demo world: a ground slab, a ring of boxes, a cascaded sun,
// an orbiting spot light and a point lamp.
type Scene struct {
	Composition *composition.LayerComposition
	World       *composition.Layer
	Camera      *core.Camera

	Sun  *light.Light
	Spot *light.Light
	Lamp *light.Light

	boxes   []*core.MeshInstance
	buffers []core.Buffer
	time    float64
}

func uploadBox(d core.Device) (*core.Mesh, []core.Buffer, error) {
	vertices, indices := boxGeometry()
	vb, err := d.CreateBuffer("Box Vertices", core.BufferVertex, 4*len(vertices))
	if err != nil {
		return nil, nil, err
	}
	ib, err := d.CreateBuffer("Box Indices", core.BufferIndex, 4*len(indices))
	if err != nil {
		vb.Destroy()
		return nil, nil, err
	}
	if err := d.WriteBuffer(vb, float32Bytes(vertices)); err != nil {
		return nil, nil, fmt.Errorf("upload box vertices: %w", err)
	}
	if err := d.WriteBuffer(ib, uint32Bytes(indices)); err != nil {
		return nil, nil, fmt.Errorf("upload box indices: %w", err)
	}
	mesh := core.NewMesh(vb, ib,
		core.Primitive{Topology: core.TopologyTriangles, Count: len(indices), Indexed: true},
		core.BoundingBox{HalfExtents: mgl32.Vec3{0.5, 0.5, 0.5}})
	return mesh, []core.Buffer{vb, ib}, nil
}

func NewScene(d core.Device, lib core.ShaderLibrary) (*Scene, error) {
	box, buffers, err := uploadBox(d)
	if err != nil {
		return nil, fmt.Errorf("scene: %w", err)
	}
	s := &Scene{
		Composition: composition.New(),
		World:       composition.NewLayer(worldLayer, "World"),
		buffers:     buffers,
	}
	s.Composition.PushOpaque(s.World)
	s.Composition.PushTransparent(s.World)

	groundMat := core.NewBaseMaterial("Ground", lib)
	groundMat.Diffuse = mgl32.Vec3{0.55, 0.55, 0.5}
	ground := core.NewMeshInstance("Ground", box, groundMat, core.NewTransform())
	ground.Node.Scale = mgl32.Vec3{40, 1, 40}
	ground.Node.Position = mgl32.Vec3{0, -0.5, 0}
	s.World.AddMeshInstances(ground)

	colors := []mgl32.Vec3{{0.8, 0.2, 0.2}, {0.2, 0.7, 0.3}, {0.2, 0.4, 0.9}, {0.9, 0.8, 0.2}}
	for i := 0; i < 8; i++ {
		mat := core.NewBaseMaterial(fmt.Sprintf("Box%d", i%len(colors)), lib)
		mat.Diffuse = colors[i%len(colors)]
		node := core.NewTransform()
		angle := float64(i) * math.Pi / 4
		node.Position = mgl32.Vec3{float32(6 * math.Cos(angle)), 1, float32(6 * math.Sin(angle))}
		node.Scale = mgl32.Vec3{1.5, 2, 1.5}
		mi := core.NewMeshInstance(fmt.Sprintf("Box%d", i), box, mat, node)
		s.boxes = append(s.boxes, mi)
	}
	s.World.AddMeshInstances(s.boxes...)

	caps := d.Caps()
	s.Sun = light.New("Sun", light.Directional, caps)
	s.Sun.Node.SetEulerAngles(45, 30, 0)
	s.Sun.Color = mgl32.Vec3{1, 0.95, 0.85}
	s.Sun.Intensity = 0.8
	s.Sun.ShadowDistance = 50
	s.Sun.SetCastShadows(true)
	s.Sun.SetNumCascades(3)
	s.Sun.SetShadowResolution(2048)

	s.Spot = light.New("Spot", light.Spot, caps)
	s.Spot.Node.Position = mgl32.Vec3{0, 8, 0}
	s.Spot.Color = mgl32.Vec3{0.4, 0.6, 1}
	s.Spot.Intensity = 2
	s.Spot.AttenuationEnd = 20
	s.Spot.SetConeAngles(25, 35)
	s.Spot.SetCastShadows(true)

	s.Lamp = light.New("Lamp", light.Omni, caps)
	s.Lamp.Node.Position = mgl32.Vec3{-3, 3, 2}
	s.Lamp.Color = mgl32.Vec3{1, 0.6, 0.3}
	s.Lamp.Intensity = 3
	s.Lamp.AttenuationEnd = 12
	s.Lamp.SetFalloff(light.FalloffInverseSquared)
	s.Lamp.SetCastShadows(true)
	s.Lamp.SetShadowResolution(512)

	for _, l := range []*light.Light{s.Sun, s.Spot, s.Lamp} {
		s.World.AddLight(l)
	}

	s.Camera = core.NewCamera("Main")
	s.Camera.Layers = []int{worldLayer}
	s.Camera.Node.Position = mgl32.Vec3{0, 7, 16}
	s.Camera.Node.LookAt(mgl32.Vec3{0, 1, 0}, mgl32.Vec3{0, 1, 0})
	s.Camera.FOV = 60
	s.Camera.FarClip = 200
	s.Camera.ClearColor = [4]float32{0.05, 0.06, 0.09, 1}
	s.Composition.AddCamera(s.Camera)
	return s, nil
}

// Update advances the animation by dt seconds: the spot light orbits the
// boxes and every other box spins.
func (s *Scene) Update(dt float64) {
	s.time += dt
	t := s.time * 0.5
	s.Spot.Node.Position = mgl32.Vec3{float32(4 * math.Cos(t)), 8, float32(4 * math.Sin(t))}
	for i, mi := range s.boxes {
		if i%2 == 0 {
			mi.Node.SetEulerAngles(0, float32(s.time*40), 0)
		}
	}
}

func (s *Scene) SetAspect(width, height int) {
	if height > 0 {
		s.Camera.AspectRatio = float32(width) / float32(height)
	}
}

func (s *Scene) Release() {
	for _, b := range s.buffers {
		b.Destroy()
	}
	s.buffers = nil
}
