// Package grid is a field kind that scatters rows×cols instances on a
// regular grid in the XZ plane.
//
// Grid fields never need contiguous storage and are always ready, which
// makes them the cheapest kind to allocate: their slots may be drawn from
// any stale or free range in the buffer.
package grid

import (
	_ "embed"
	"encoding/binary"
	"math"

	"github.com/gogpu/cornfield"
	"github.com/gogpu/cornfield/field"
)

// Name is the kind name used by Descriptor.
const Name = "grid"

// ParamsSize is the size of the FieldParams block in bytes.
const ParamsSize = 48

// Shader is the WGSL body of the grid init kernel.
//
//go:embed grid.wgsl
var Shader string

// Descriptor returns the kind descriptor to pass to Manager.RegisterKind.
func Descriptor() cornfield.KindDescriptor {
	return cornfield.KindDescriptor{Name: Name, Shader: Shader, ParamsSize: ParamsSize}
}

// Register registers the grid kind with m.
func Register(m *cornfield.Manager) (cornfield.Kind, error) {
	return m.RegisterKind(Descriptor())
}

// Params are the generative parameters of one grid.
type Params struct {
	Origin  [3]float32
	Spacing float32
	Rows    uint32
	Cols    uint32
	// Scale is the uniform scale of every instance.
	Scale float32
	// Jitter displaces instances by up to ±Jitter/2 on X and Z.
	Jitter   float32
	Seed     uint32
	Variants uint32
}

// Bytes encodes p as the FieldParams block.
func (p Params) Bytes() []byte {
	b := make([]byte, ParamsSize)
	le := binary.LittleEndian
	le.PutUint32(b[0:], math.Float32bits(p.Origin[0]))
	le.PutUint32(b[4:], math.Float32bits(p.Origin[1]))
	le.PutUint32(b[8:], math.Float32bits(p.Origin[2]))
	le.PutUint32(b[12:], math.Float32bits(p.Spacing))
	le.PutUint32(b[16:], p.Rows)
	le.PutUint32(b[20:], p.Cols)
	le.PutUint32(b[24:], math.Float32bits(p.Scale))
	le.PutUint32(b[28:], math.Float32bits(p.Jitter))
	le.PutUint32(b[32:], p.Seed)
	le.PutUint32(b[36:], p.Variants)
	return b
}

// Identity hashes every parameter that shapes the instances.
func (p Params) Identity() field.Identity {
	return field.NewHasher(Name).
		Float32(p.Origin[0]).Float32(p.Origin[1]).Float32(p.Origin[2]).
		Float32(p.Spacing).
		Uint32(p.Rows).Uint32(p.Cols).
		Float32(p.Scale).Float32(p.Jitter).
		Uint32(p.Seed).Uint32(p.Variants).
		Sum()
}

// Field is a grid field of a registered grid kind.
type Field struct {
	kind   cornfield.Kind
	params Params
	id     field.Identity
}

// New returns a grid field. The identity is computed once.
func New(kind cornfield.Kind, p Params) *Field {
	return &Field{kind: kind, params: p, id: p.Identity()}
}

// Params returns the field's parameters.
func (f *Field) Params() Params { return f.params }

// Identity returns the hash of the field's parameters.
func (f *Field) Identity() field.Identity { return f.id }

// Kind returns the registered grid kind.
func (f *Field) Kind() cornfield.Kind { return f.kind }

// InstanceCount returns rows times columns.
func (f *Field) InstanceCount() uint64 {
	return uint64(f.params.Rows) * uint64(f.params.Cols)
}

// NeedsContiguousSpace reports false; grid cells may be scattered.
func (f *Field) NeedsContiguousSpace() bool { return false }

// IsReady always reports true.
func (f *Field) IsReady() bool { return true }

// BuildInitDispatch writes every allocated slot.
func (f *Field) BuildInitDispatch(cornfield.DispatchTarget) ([]byte, uint32) {
	return f.params.Bytes(), 0
}

var _ cornfield.Field = (*Field)(nil)
