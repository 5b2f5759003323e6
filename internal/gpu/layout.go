package gpu

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/gogpu/cornfield/internal/plan"
)

const (
	// InstanceStride is the size of one instance record. It must match the
	// Instance struct in shaders/ranges.wgsl.
	InstanceStride = 32

	// workgroupSize matches WG_SIZE in shaders/ranges.wgsl.
	workgroupSize = 256

	// maxWorkgroupsPerDimension is the WebGPU default limit.
	maxWorkgroupsPerDimension = 65535

	rangeEntrySize   = 16
	kernelParamsSize = 16
	indirectArgsSize = 20
)

// ErrSlotOverflow is returned when a slot index does not fit the u32
// indices the kernels use.
var ErrSlotOverflow = errors.New("gpu: slot index exceeds 32 bits")

// Instance is the decoded form of one instance record.
type Instance struct {
	Position [3]float32
	Enabled  bool
	Scale    float32
	Rotation float32
	Variant  uint32
}

// toBytes serializes the record in the WGSL layout:
// vec3<f32> position, u32 enabled, f32 scale, f32 rotation, u32 variant, u32 pad.
func (in Instance) toBytes() []byte {
	buf := make([]byte, InstanceStride)
	le := binary.LittleEndian
	le.PutUint32(buf[0:4], math.Float32bits(in.Position[0]))
	le.PutUint32(buf[4:8], math.Float32bits(in.Position[1]))
	le.PutUint32(buf[8:12], math.Float32bits(in.Position[2]))
	if in.Enabled {
		le.PutUint32(buf[12:16], 1)
	}
	le.PutUint32(buf[16:20], math.Float32bits(in.Scale))
	le.PutUint32(buf[20:24], math.Float32bits(in.Rotation))
	le.PutUint32(buf[24:28], in.Variant)
	return buf
}

// DecodeInstances parses consecutive instance records. A trailing partial
// record is ignored.
func DecodeInstances(b []byte) []Instance {
	le := binary.LittleEndian
	out := make([]Instance, len(b)/InstanceStride)
	for i := range out {
		r := b[i*InstanceStride : (i+1)*InstanceStride]
		out[i] = Instance{
			Position: [3]float32{
				math.Float32frombits(le.Uint32(r[0:4])),
				math.Float32frombits(le.Uint32(r[4:8])),
				math.Float32frombits(le.Uint32(r[8:12])),
			},
			Enabled:  le.Uint32(r[12:16]) != 0,
			Scale:    math.Float32frombits(le.Uint32(r[16:20])),
			Rotation: math.Float32frombits(le.Uint32(r[20:24])),
			Variant:  le.Uint32(r[24:28]),
		}
	}
	return out
}

// RangeEntry maps invocations [Prefix, Prefix+Count) onto slots
// [Dst, Dst+Count). Src is kernel specific: the old slot for defrag, the
// local instance index for init, unused for flag-stale.
type RangeEntry struct {
	Src    uint32
	Dst    uint32
	Count  uint32
	Prefix uint32
}

// RangeTable is the binding(1) array of a range-table kernel.
type RangeTable struct {
	Entries []RangeEntry
	Total   uint32
}

// toBytes serializes the table. An empty table still occupies one zero
// entry because storage bindings cannot be empty.
func (t RangeTable) toBytes() []byte {
	n := max(len(t.Entries), 1)
	buf := make([]byte, n*rangeEntrySize)
	le := binary.LittleEndian
	for i, e := range t.Entries {
		o := i * rangeEntrySize
		le.PutUint32(buf[o:o+4], e.Src)
		le.PutUint32(buf[o+4:o+8], e.Dst)
		le.PutUint32(buf[o+8:o+12], e.Count)
		le.PutUint32(buf[o+12:o+16], e.Prefix)
	}
	return buf
}

// params returns the uniform block for a dispatch over t.
func (t RangeTable) params() KernelParams {
	return KernelParams{
		EntryCount: uint32(len(t.Entries)), //nolint:gosec // bounded by Total
		TotalCount: t.Total,
		Stride:     InstanceStride,
	}
}

// KernelParams holds the binding(0) uniform shared by every kernel.
type KernelParams struct {
	EntryCount uint32
	TotalCount uint32
	Stride     uint32
}

// toBytes serializes KernelParams: three u32 fields and one u32 of padding.
func (p KernelParams) toBytes() []byte {
	buf := make([]byte, kernelParamsSize)
	le := binary.LittleEndian
	le.PutUint32(buf[0:4], p.EntryCount)
	le.PutUint32(buf[4:8], p.TotalCount)
	le.PutUint32(buf[8:12], p.Stride)
	return buf
}

func slot32(v uint64) (uint32, error) {
	if v > math.MaxUint32 {
		return 0, fmt.Errorf("%w: %d", ErrSlotOverflow, v)
	}
	return uint32(v), nil
}

// appendRange adds one entry covering [lo, hi) at src.
func (t *RangeTable) appendRange(src, lo, hi uint64) error {
	s, err := slot32(src)
	if err != nil {
		return err
	}
	d, err := slot32(lo)
	if err != nil {
		return err
	}
	total, err := slot32(uint64(t.Total) + (hi - lo))
	if err != nil {
		return err
	}
	t.Entries = append(t.Entries, RangeEntry{Src: s, Dst: d, Count: total - t.Total, Prefix: t.Total})
	t.Total = total
	return nil
}

// InitTable lays out the ranges of one allocation. Local instance indices
// follow slot order. At most limit invocations are covered.
func InitTable(slots plan.Slots, limit uint64) (RangeTable, error) {
	var t RangeTable
	var local uint64
	for lo, hi := range slots.Ranges() {
		if local >= limit {
			break
		}
		hi = min(hi, lo+(limit-local))
		if err := t.appendRange(local, lo, hi); err != nil {
			return RangeTable{}, err
		}
		local += hi - lo
	}
	return t, nil
}

// FlagTable lays out the slots whose enabled flag must be cleared.
func FlagTable(slots plan.Slots) (RangeTable, error) {
	var t RangeTable
	for lo, hi := range slots.Ranges() {
		if err := t.appendRange(0, lo, hi); err != nil {
			return RangeTable{}, err
		}
	}
	return t, nil
}

// DefragTable lays out every relocation of a compaction. Each source range
// of a field is copied to the next part of the field's packed destination.
func DefragTable(moves []plan.DefragMove) (RangeTable, error) {
	var t RangeTable
	for _, m := range moves {
		to, ok := m.To.Min()
		if !ok {
			continue
		}
		for lo, hi := range m.From.Ranges() {
			if err := t.appendRange(lo, to, to+(hi-lo)); err != nil {
				return RangeTable{}, err
			}
			to += hi - lo
		}
	}
	return t, nil
}

// workgroups returns the dispatch size for total invocations. Counts above
// the per-dimension limit spill into y; kernels recover the flat index from
// num_workgroups.
func workgroups(total uint32) (x, y uint32) {
	if total == 0 {
		return 0, 0
	}
	n := (total + workgroupSize - 1) / workgroupSize
	if n <= maxWorkgroupsPerDimension {
		return n, 1
	}
	return maxWorkgroupsPerDimension, (n + maxWorkgroupsPerDimension - 1) / maxWorkgroupsPerDimension
}

// drawIndexedIndirect is the argument block of DrawIndexedIndirect.
type drawIndexedIndirect struct {
	IndexCount    uint32
	InstanceCount uint32
	FirstIndex    uint32
	BaseVertex    int32
	FirstInstance uint32
}

func (a drawIndexedIndirect) toBytes() []byte {
	buf := make([]byte, indirectArgsSize)
	le := binary.LittleEndian
	le.PutUint32(buf[0:4], a.IndexCount)
	le.PutUint32(buf[4:8], a.InstanceCount)
	le.PutUint32(buf[8:12], a.FirstIndex)
	le.PutUint32(buf[12:16], uint32(a.BaseVertex)) //nolint:gosec // two's complement on the wire
	le.PutUint32(buf[16:20], a.FirstInstance)
	return buf
}

// padParams rounds adapter parameter data up to 16 bytes, and to at least
// 16 bytes, so it can back a storage binding.
func padParams(b []byte) []byte {
	n := max((len(b)+15)/16*16, 16)
	if n == len(b) {
		return b
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}
