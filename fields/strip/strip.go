// Package strip is a field kind that places instances evenly along a line
// segment: fences, hedges, rows of posts.
//
// A strip needs contiguous storage so that a renderer can address it as one
// run, and it is only ready once the mesh it instances has been loaded.
package strip

import (
	_ "embed"
	"encoding/binary"
	"math"
	"sync/atomic"

	"github.com/gogpu/cornfield"
	"github.com/gogpu/cornfield/field"
)

// Name is the kind name used by Descriptor.
const Name = "strip"

// ParamsSize is the size of the FieldParams block in bytes.
const ParamsSize = 48

// Shader is the WGSL body of the strip init kernel.
//
//go:embed strip.wgsl
var Shader string

// Descriptor returns the kind descriptor to pass to Manager.RegisterKind.
func Descriptor() cornfield.KindDescriptor {
	return cornfield.KindDescriptor{Name: Name, Shader: Shader, ParamsSize: ParamsSize}
}

// Register registers the strip kind with m.
func Register(m *cornfield.Manager) (cornfield.Kind, error) {
	return m.RegisterKind(Descriptor())
}

// Asset reports whether an external resource a strip depends on is loaded.
type Asset interface {
	Ready() bool
}

// Gate is an Asset toggled by a loader goroutine.
type Gate struct {
	ready atomic.Bool
}

// Open marks the asset as loaded.
func (g *Gate) Open() { g.ready.Store(true) }

// Close marks the asset as unloaded.
func (g *Gate) Close() { g.ready.Store(false) }

// Ready reports whether the gate is open.
func (g *Gate) Ready() bool { return g.ready.Load() }

// Params are the generative parameters of one strip.
type Params struct {
	Start [3]float32
	End   [3]float32
	Count uint32
	Scale float32
	// Mesh names the instanced mesh. It is part of the identity only and is
	// not encoded into the parameter block.
	Mesh    string
	Variant uint32
}

// Bytes encodes p as the FieldParams block.
func (p Params) Bytes() []byte {
	b := make([]byte, ParamsSize)
	le := binary.LittleEndian
	le.PutUint32(b[0:], math.Float32bits(p.Start[0]))
	le.PutUint32(b[4:], math.Float32bits(p.Start[1]))
	le.PutUint32(b[8:], math.Float32bits(p.Start[2]))
	le.PutUint32(b[12:], math.Float32bits(p.Scale))
	le.PutUint32(b[16:], math.Float32bits(p.End[0]))
	le.PutUint32(b[20:], math.Float32bits(p.End[1]))
	le.PutUint32(b[24:], math.Float32bits(p.End[2]))
	le.PutUint32(b[28:], p.Count)
	le.PutUint32(b[32:], p.Variant)
	return b
}

// Identity hashes every parameter that shapes the instances.
func (p Params) Identity() field.Identity {
	return field.NewHasher(Name).
		Float32(p.Start[0]).Float32(p.Start[1]).Float32(p.Start[2]).
		Float32(p.End[0]).Float32(p.End[1]).Float32(p.End[2]).
		Uint32(p.Count).
		Float32(p.Scale).
		String(p.Mesh).
		Uint32(p.Variant).
		Sum()
}

// Field is a strip field of a registered strip kind.
type Field struct {
	kind   cornfield.Kind
	params Params
	asset  Asset
	id     field.Identity
}

// New returns a strip field. A nil asset is always ready.
func New(kind cornfield.Kind, p Params, asset Asset) *Field {
	return &Field{kind: kind, params: p, asset: asset, id: p.Identity()}
}

// Params returns the field's parameters.
func (f *Field) Params() Params { return f.params }

// Identity returns the hash of the field's parameters.
func (f *Field) Identity() field.Identity { return f.id }

// Kind returns the registered strip kind.
func (f *Field) Kind() cornfield.Kind { return f.kind }

// InstanceCount returns the number of instances along the strip.
func (f *Field) InstanceCount() uint64 { return uint64(f.params.Count) }

// NeedsContiguousSpace reports true; strip instances are indexed in order.
func (f *Field) NeedsContiguousSpace() bool { return true }

// IsReady reports whether the mesh asset has loaded.
func (f *Field) IsReady() bool {
	return f.asset == nil || f.asset.Ready()
}

// BuildInitDispatch writes Count instances. The range is contiguous, so the
// count always matches the allocation.
func (f *Field) BuildInitDispatch(cornfield.DispatchTarget) ([]byte, uint32) {
	return f.params.Bytes(), f.params.Count
}

var _ cornfield.Field = (*Field)(nil)
