package gpu

import (
	"fmt"
	"unsafe"

	"github.com/gogpu/wgpu/hal"
)

// readbackPreview is the number of records included in the debug log line.
const readbackPreview = 4

// ReadbackState is the state of the debug readback.
type ReadbackState int

const (
	// ReadbackDisabled means readback was not requested.
	ReadbackDisabled ReadbackState = iota
	// ReadbackIdle means no copy is in flight.
	ReadbackIdle
	// ReadbackCopying means a copy into the staging buffer was submitted.
	ReadbackCopying
	// ReadbackMapping means the copy completed and the staging buffer is
	// being mapped.
	ReadbackMapping
)

// String returns the state name.
func (s ReadbackState) String() string {
	switch s {
	case ReadbackDisabled:
		return "Disabled"
	case ReadbackIdle:
		return "Idle"
	case ReadbackCopying:
		return "Copying"
	case ReadbackMapping:
		return "Mapping"
	default:
		return fmt.Sprintf("ReadbackState(%d)", int(s))
	}
}

// ReadbackSummary is the decoded content of one readback.
type ReadbackSummary struct {
	Generation uint64
	Submission uint64
	Capacity   uint64
	Enabled    uint64
	Instances  []Instance
}

// Readback copies the instance buffer into a staging buffer after
// structural frames and decodes it once the copy completed. At most one copy
// is in flight; frames that finish while one is pending are not read back.
type Readback struct {
	device hal.Device
	queue  hal.Queue

	state      ReadbackState
	staging    hal.Buffer
	submission uint64
	generation uint64
	capacity   uint64

	last    ReadbackSummary
	hasLast bool
}

// NewReadback returns a readback in the Idle state, or Disabled when
// enabled is false.
func NewReadback(device hal.Device, queue hal.Queue, enabled bool) *Readback {
	r := &Readback{device: device, queue: queue, state: ReadbackDisabled}
	if enabled {
		r.state = ReadbackIdle
	}
	return r
}

// State returns the current state.
func (r *Readback) State() ReadbackState { return r.state }

// Idle reports whether a new copy can be recorded.
func (r *Readback) Idle() bool { return r.state == ReadbackIdle }

// record encodes a copy of capacity instances from src into a fresh
// staging buffer. The copy becomes pending once begin is called with the
// submission index.
func (r *Readback) record(enc hal.CommandEncoder, src hal.Buffer, capacity uint64) (hal.Buffer, error) {
	size := capacity * InstanceStride
	staging, err := r.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "cornfield_readback",
		Size:  size,
		Usage: usageStaging,
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: create readback buffer: %w", err)
	}
	enc.CopyBufferToBuffer(src, staging, []hal.BufferCopy{{Size: size}})
	return staging, nil
}

// begin moves to Copying once the copy was submitted.
func (r *Readback) begin(staging hal.Buffer, submission, generation, capacity uint64) {
	r.staging = staging
	r.submission = submission
	r.generation = generation
	r.capacity = capacity
	r.state = ReadbackCopying
}

// Poll advances the state machine. When the copy completed it maps the
// staging buffer, decodes and logs it, and returns to Idle. Mapping failures
// are logged and the readback is dropped.
func (r *Readback) Poll() (ReadbackSummary, bool) {
	if r.state != ReadbackCopying || r.queue.PollCompleted() < r.submission {
		return ReadbackSummary{}, false
	}
	r.state = ReadbackMapping
	defer r.reset()

	size := r.capacity * InstanceStride
	m, err := r.device.MapBuffer(r.staging, 0, size)
	if err != nil {
		slogger().Debug("cornfield: readback map failed", "err", err)
		return ReadbackSummary{}, false
	}
	data := make([]byte, size)
	if size > 0 {
		copy(data, unsafe.Slice((*byte)(m.Ptr), size))
	}
	if err := r.device.UnmapBuffer(r.staging); err != nil {
		slogger().Debug("cornfield: readback unmap failed", "err", err)
	}

	s := ReadbackSummary{
		Generation: r.generation,
		Submission: r.submission,
		Capacity:   r.capacity,
		Instances:  DecodeInstances(data),
	}
	for _, in := range s.Instances {
		if in.Enabled {
			s.Enabled++
		}
	}
	slogger().Debug("cornfield: readback",
		"generation", s.Generation,
		"capacity", s.Capacity,
		"enabled", s.Enabled,
		"preview", s.Instances[:min(len(s.Instances), readbackPreview)])

	r.last = s
	r.hasLast = true
	return s, true
}

// Last returns the most recent decoded readback.
func (r *Readback) Last() (ReadbackSummary, bool) {
	return r.last, r.hasLast
}

func (r *Readback) reset() {
	if r.staging != nil {
		r.device.DestroyBuffer(r.staging)
		r.staging = nil
	}
	r.state = ReadbackIdle
}

// Close drops any pending copy. The device must be idle.
func (r *Readback) Close() {
	if r.state == ReadbackDisabled {
		return
	}
	r.reset()
}
