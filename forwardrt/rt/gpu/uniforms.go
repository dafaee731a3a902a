package gpu

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/gekko3d/forward/forwardrt/rt/core"
	"github.com/go-gl/mathgl/mgl32"
)

// UniformKind is the WGSL type of one uniform struct member.
type UniformKind int

const (
	KindFloat UniformKind = iota
	KindVec2
	KindVec3
	KindVec4
	KindMat3
	KindMat4
)

func (k UniformKind) wgsl() string {
	switch k {
	case KindVec2:
		return "vec2<f32>"
	case KindVec3:
		return "vec3<f32>"
	case KindVec4:
		return "vec4<f32>"
	case KindMat3:
		return "mat3x3<f32>"
	case KindMat4:
		return "mat4x4<f32>"
	}
	return "f32"
}

// size and alignment in the uniform address space
func (k UniformKind) layout() (size, alignment int) {
	switch k {
	case KindVec2:
		return 8, 8
	case KindVec3:
		return 12, 16
	case KindVec4:
		return 16, 16
	case KindMat3:
		return 48, 16
	case KindMat4:
		return 64, 16
	}
	return 4, 4
}

// UniformField is one scope name bound into a shader's uniform block. Count
// above one declares an array; float arrays are laid out as vec4 slots.
type UniformField struct {
	Name  string
	Kind  UniformKind
	Count int
}

type fieldLayout struct {
	UniformField
	offset int
	stride int
	id     *core.ScopeID
}

// Member is the WGSL identifier for the field: "light0_color", or
// "matrix_pose" for "matrix_pose[0]".
func (f UniformField) Member() string {
	n := f.Name
	if len(n) > 3 && n[len(n)-3:] == "[0]" {
		n = n[:len(n)-3]
	}
	return n
}

// layoutFields assigns WGSL uniform offsets and returns the padded block size.
func layoutFields(fields []UniformField) ([]fieldLayout, int) {
	out := make([]fieldLayout, len(fields))
	offset := 0
	for i, f := range fields {
		size, alignment := f.Kind.layout()
		stride := 0
		if f.Count > 1 {
			stride = align(size, 16)
			alignment = 16
			size = stride * f.Count
		}
		offset = align(offset, alignment)
		out[i] = fieldLayout{UniformField: f, offset: offset, stride: stride}
		offset += size
	}
	return out, align(max(offset, 16), 16)
}

// StructWGSL renders fields as a WGSL struct declaration.
func StructWGSL(name string, fields []UniformField) string {
	s := "struct " + name + " {\n"
	for _, f := range fields {
		t := f.Kind.wgsl()
		if f.Count > 1 {
			if f.Kind == KindFloat {
				t = "vec4<f32>"
			}
			t = fmt.Sprintf("array<%s, %d>", t, f.Count)
		}
		s += fmt.Sprintf("    %s: %s,\n", f.Member(), t)
	}
	return s + "}\n"
}

// flatten converts the scope value types the pipeline publishes to floats.
func flatten(v any) ([]float32, bool) {
	switch x := v.(type) {
	case float32:
		return []float32{x}, true
	case float64:
		return []float32{float32(x)}, true
	case int:
		return []float32{float32(x)}, true
	case bool:
		if x {
			return []float32{1}, true
		}
		return []float32{0}, true
	case []float32:
		return x, true
	case [2]float32:
		return x[:], true
	case [4]float32:
		return x[:], true
	case mgl32.Vec2:
		return x[:], true
	case mgl32.Vec3:
		return x[:], true
	case mgl32.Vec4:
		return x[:], true
	case mgl32.Mat3:
		return x[:], true
	case mgl32.Mat4:
		return x[:], true
	case []mgl32.Mat4:
		out := make([]float32, 0, len(x)*16)
		for _, m := range x {
			out = append(out, m[:]...)
		}
		return out, true
	}
	return nil, false
}

func putFloat(buf []byte, offset int, v float32) {
	binary.LittleEndian.PutUint32(buf[offset:], math.Float32bits(v))
}

// packField writes values into buf following the field's layout. Mat3
// columns are padded to vec4.
func packField(buf []byte, f fieldLayout, values []float32) {
	n := max(f.Count, 1)
	per := 1
	switch f.Kind {
	case KindVec2:
		per = 2
	case KindVec3:
		per = 3
	case KindVec4:
		per = 4
	case KindMat3:
		per = 9
	case KindMat4:
		per = 16
	}
	for e := 0; e < n; e++ {
		base := f.offset + e*f.stride
		src := values[min(e*per, len(values)):min((e+1)*per, len(values))]
		if f.Kind == KindMat3 {
			for i, v := range src {
				putFloat(buf, base+(i/3)*16+(i%3)*4, v)
			}
			continue
		}
		for i, v := range src {
			putFloat(buf, base+i*4, v)
		}
	}
}

// uniformRing hands out 256-byte aligned slices of one uniform buffer per
// frame; each draw gets its own slice through a dynamic offset.
type uniformRing struct {
	buf     *wgpu.Buffer
	size    int
	head    int
	scratch []byte
}

// dynamic uniform offsets must be multiples of this
const uniformAlignment = 256

func newUniformRing(device *wgpu.Device, size int) (*uniformRing, error) {
	buf, err := device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "Uniform Ring",
		Size:  uint64(size),
		Usage: wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("create uniform ring: %w", err)
	}
	return &uniformRing{buf: buf, size: size}, nil
}

func (r *uniformRing) reset() { r.head = 0 }

// alloc reserves n bytes and returns their offset, or false when the frame
// has run out of space.
func (r *uniformRing) alloc(n int) (int, bool) {
	off := align(r.head, uniformAlignment)
	if off+n > r.size {
		return 0, false
	}
	r.head = off + n
	return off, true
}

func (r *uniformRing) release() {
	if r.buf != nil {
		r.buf.Release()
		r.buf = nil
	}
}

// packUniforms serializes the shader's block from the current scope values.
// Unset or mistyped values leave zeros.
func (d *Device) packUniforms(s *Shader) []byte {
	ring := d.ring
	if cap(ring.scratch) < s.uniformSize {
		ring.scratch = make([]byte, s.uniformSize)
	}
	buf := ring.scratch[:s.uniformSize]
	clear(buf)
	for i := range s.fields {
		f := &s.fields[i]
		if f.id == nil {
			f.id = d.scope.Resolve(f.Name)
		}
		v := f.id.Value()
		if v == nil {
			continue
		}
		values, ok := flatten(v)
		if !ok {
			core.WarnOnce(d.logger, "uniform-type-"+f.Name, "gpu: uniform %s has unsupported type %T", f.Name, v)
			continue
		}
		packField(buf, *f, values)
	}
	return buf
}
