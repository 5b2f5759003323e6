package cornfield

import (
	"github.com/gogpu/cornfield/field"
	"github.com/gogpu/cornfield/internal/gpu"
)

// Kind identifies a registered field kind. Kinds are handed out by
// Manager.RegisterKind.
type Kind = field.Kind

// Identity is the stable content hash of a field. Build it with
// field.NewHasher.
type Identity = field.Identity

// DispatchTarget tells a field where its instances are written: the slots
// it was given, the capacity of the buffer and the buffer generation the
// frame commits.
type DispatchTarget = gpu.DispatchTarget

// Instance is the decoded form of one instance record, as returned by
// readback.
type Instance = gpu.Instance

// ReadbackSummary is a decoded copy of the instance buffer.
type ReadbackSummary = gpu.ReadbackSummary

// InstanceStride is the size in bytes of one instance record:
// position vec3<f32>, enabled u32, scale f32, rotation f32, variant u32, pad.
const InstanceStride = gpu.InstanceStride

// Field is a producer-side description of a group of instances.
//
// A field is submitted every frame it should be visible. Its Identity must
// depend only on the content that determines its instances: two fields
// with equal identities are assumed to produce the same data.
type Field interface {
	// Identity returns the field's content hash.
	Identity() Identity
	// Kind returns the registered kind whose init kernel writes the field.
	Kind() Kind
	// InstanceCount returns the number of slots the field needs.
	InstanceCount() uint64
	// NeedsContiguousSpace reports whether the slots must form one range.
	NeedsContiguousSpace() bool
	// IsReady reports whether the field can be written this frame. A field
	// that is not ready keeps its storage but does not receive new slots.
	IsReady() bool
	// BuildInitDispatch returns the FieldParams block of the kind's init
	// kernel and the number of instances to write. Zero invocations write
	// every allocated slot.
	BuildInitDispatch(target DispatchTarget) (params []byte, invocations uint32)
}

// KindDescriptor registers a field kind.
type KindDescriptor struct {
	// Name is a short unique label used in pipeline and log names.
	Name string
	// Shader is the WGSL body of the init kernel. It must declare
	//
	//	struct FieldParams { ... }
	//	fn init_instance(local: u32) -> Instance
	//
	// and may read the binding field_params.
	Shader string
	// ParamsSize is the byte size of FieldParams. Parameter blocks are
	// zero-padded to it.
	ParamsSize int
}

// fieldSource adapts a Field to the executor, padding its parameter block
// to the kind's declared size.
type fieldSource struct {
	f          Field
	paramsSize int
	m          *Manager
}

func (s fieldSource) BuildInitDispatch(t DispatchTarget) ([]byte, uint32) {
	params, n := s.f.BuildInitDispatch(t)
	switch {
	case len(params) < s.paramsSize:
		padded := make([]byte, s.paramsSize)
		copy(padded, params)
		params = padded
	case len(params) > s.paramsSize && s.paramsSize > 0:
		s.m.logger().Warn("cornfield: field params exceed declared size",
			"id", t.ID, "kind", t.Kind, "size", len(params), "declared", s.paramsSize)
	}
	return params, n
}
