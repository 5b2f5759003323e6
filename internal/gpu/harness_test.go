package gpu

import (
	"errors"
	"unsafe"

	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/cornfield/field"
	"github.com/gogpu/cornfield/internal/interval"
	"github.com/gogpu/cornfield/internal/plan"
)

var errInjected = errors.New("injected failure")

func rng(lo, hi uint64) plan.Slots {
	return interval.FromRange(lo, hi)
}

// recordingDevice is a noop device that performs buffer copies in memory
// and records what the executor creates and destroys.
type recordingDevice struct {
	noop.Device

	created   map[string]int
	destroyed []hal.Buffer
	groups    int
	freed     int
	encoders  []*recordingEncoder

	failBuffer   string
	failPipeline bool
}

func newRecordingDevice() *recordingDevice {
	return &recordingDevice{created: make(map[string]int)}
}

func (d *recordingDevice) CreateBuffer(desc *hal.BufferDescriptor) (hal.Buffer, error) {
	if desc.Label == d.failBuffer {
		return nil, errInjected
	}
	d.created[desc.Label]++
	return d.Device.CreateBuffer(desc)
}

func (d *recordingDevice) DestroyBuffer(buf hal.Buffer) {
	d.destroyed = append(d.destroyed, buf)
}

func (d *recordingDevice) CreateBindGroup(desc *hal.BindGroupDescriptor) (hal.BindGroup, error) {
	d.groups++
	return d.Device.CreateBindGroup(desc)
}

func (d *recordingDevice) FreeCommandBuffer(hal.CommandBuffer) {
	d.freed++
}

func (d *recordingDevice) CreateComputePipeline(desc *hal.ComputePipelineDescriptor) (hal.ComputePipeline, error) {
	if d.failPipeline {
		return nil, errInjected
	}
	return d.Device.CreateComputePipeline(desc)
}

func (d *recordingDevice) CreateCommandEncoder(*hal.CommandEncoderDescriptor) (hal.CommandEncoder, error) {
	enc := &recordingEncoder{dev: d}
	d.encoders = append(d.encoders, enc)
	return enc, nil
}

func (d *recordingDevice) lastEncoder() *recordingEncoder {
	if len(d.encoders) == 0 {
		return nil
	}
	return d.encoders[len(d.encoders)-1]
}

func (d *recordingDevice) wasDestroyed(buf hal.Buffer) bool {
	for _, b := range d.destroyed {
		if b == buf {
			return true
		}
	}
	return false
}

// bytes returns the contents of a noop buffer.
func (d *recordingDevice) bytes(buf hal.Buffer, size uint64) []byte {
	m, err := d.MapBuffer(buf, 0, size)
	if err != nil {
		panic(err)
	}
	return unsafe.Slice((*byte)(m.Ptr), size)
}

type dispatchCall struct {
	x, y, z uint32
}

type recordingEncoder struct {
	noop.CommandEncoder
	dev        *recordingDevice
	copies     []hal.BufferCopy
	dispatches []dispatchCall
}

func (e *recordingEncoder) CopyBufferToBuffer(src, dst hal.Buffer, regions []hal.BufferCopy) {
	for _, r := range regions {
		e.copies = append(e.copies, r)
		if r.Size == 0 {
			continue
		}
		from := e.dev.bytes(src, r.SrcOffset+r.Size)
		to := e.dev.bytes(dst, r.DstOffset+r.Size)
		copy(to[r.DstOffset:], from[r.SrcOffset:r.SrcOffset+r.Size])
	}
}

func (e *recordingEncoder) BeginComputePass(*hal.ComputePassDescriptor) hal.ComputePassEncoder {
	return &recordingPass{enc: e}
}

type recordingPass struct {
	noop.ComputePassEncoder
	enc *recordingEncoder
}

func (p *recordingPass) Dispatch(x, y, z uint32) {
	p.enc.dispatches = append(p.enc.dispatches, dispatchCall{x, y, z})
}

// laggingQueue completes submissions only when told to.
type laggingQueue struct {
	noop.Queue
	submitted uint64
	completed uint64
	failNext  bool
}

func (q *laggingQueue) Submit(cmds []hal.CommandBuffer) (uint64, error) {
	if q.failNext {
		q.failNext = false
		return 0, errInjected
	}
	q.submitted++
	return q.submitted, nil
}

func (q *laggingQueue) PollCompleted() uint64 { return q.completed }

func (q *laggingQueue) completeAll() { q.completed = q.submitted }

// staticSource is an InitSource returning fixed parameters.
type staticSource struct {
	params      []byte
	invocations uint32
	targets     []DispatchTarget
}

func (s *staticSource) BuildInitDispatch(t DispatchTarget) ([]byte, uint32) {
	s.targets = append(s.targets, t)
	return s.params, s.invocations
}

func lookupOf(sources map[field.Identity]*staticSource) Lookup {
	return func(id field.Identity) (InitSource, bool) {
		s, ok := sources[id]
		if !ok {
			return nil, false
		}
		return s, true
	}
}

const testInitBody = `
struct FieldParams {
    origin: vec4<f32>,
}

fn init_instance(local: u32) -> Instance {
    var out: Instance;
    out.position = field_params.origin.xyz + vec3<f32>(f32(local), 0.0, 0.0);
    out.enabled = 1u;
    out.scale = 1.0;
    out.rotation = 0.0;
    out.variant = 0u;
    out._pad = 0u;
    return out;
}
`
