package cornfield

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/cornfield/field"
	"github.com/gogpu/cornfield/internal/gpu"
	"github.com/gogpu/cornfield/internal/lifecycle"
	"github.com/gogpu/cornfield/internal/plan"
	"github.com/gogpu/cornfield/internal/storage"
	"github.com/gogpu/cornfield/render"
)

// Status is the outcome of one frame.
type Status = gpu.Status

// Frame outcomes.
const (
	StatusNoop      = gpu.StatusNoop
	StatusCommitted = gpu.StatusCommitted
	StatusDeferred  = gpu.StatusDeferred
	StatusFailed    = gpu.StatusFailed
)

// RenderView is the renderer-facing snapshot of the instance buffer.
type RenderView = render.View

// FrameReport summarizes one call to Frame.
type FrameReport struct {
	Frame  uint64
	Status Status
	// Plan is a one-line summary of the frame's operation plan.
	Plan string

	Submitted int
	Requested int
	Allocated int
	Expired   int
	Rejected  int
	// Missing names the kernels a deferred frame is waiting for.
	Missing []string

	Generation  uint64
	Capacity    uint64
	Dispatches  int
	Reallocated bool

	// Readback is set when a readback completed during this frame.
	Readback *ReadbackSummary
}

// Stats is a snapshot of allocator state.
type Stats struct {
	Frame      uint64
	Capacity   uint64
	Used       uint64
	Free       uint64
	Stale      uint64
	Generation uint64

	// LiveFields counts identities that own slots; Ranges counts their
	// disjoint slot ranges.
	LiveFields int
	Ranges     int

	Loading     int
	Loaded      int
	StaleFields int

	Kinds         int
	PendingRetire int
}

// Manager allocates slots in one shared GPU instance buffer for the fields
// submitted each frame.
//
// Producers call Submit for every visible field, from any goroutine. The
// frame loop calls Frame once per frame; renderers read View. Frame, View
// and Submit are serialized by an internal mutex.
type Manager struct {
	mu sync.Mutex

	device hal.Device
	queue  hal.Queue
	opts   options

	tracker   *lifecycle.Tracker
	store     *storage.Manager
	pipelines *gpu.PipelineCache
	retirer   *gpu.Retirer
	readback  *gpu.Readback
	exec      *gpu.Executor

	kinds     []KindDescriptor
	kindNames map[string]Kind

	submitted map[Identity]Field
	order     []Identity
	rejected  map[Identity]bool

	frame  uint64
	closed bool
}

// New creates a Manager on a HAL device and queue.
func New(device hal.Device, queue hal.Queue, opts ...Option) (*Manager, error) {
	if device == nil || queue == nil {
		return nil, ErrNilDevice
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.planner.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	retirer := gpu.NewRetirer(device, queue)
	pipelines := gpu.NewPipelineCache(device, o.precompile)
	readback := gpu.NewReadback(device, queue, o.planner.Readback)
	m := &Manager{
		device:    device,
		queue:     queue,
		opts:      o,
		tracker:   lifecycle.New(),
		store:     storage.New(retirer),
		pipelines: pipelines,
		retirer:   retirer,
		readback:  readback,
		exec: gpu.NewExecutor(device, queue, pipelines, retirer, readback, gpu.ExecutorConfig{
			MeshIndexCount: o.meshIndexCount,
		}),
		kindNames: make(map[string]Kind),
		submitted: make(map[Identity]Field),
		rejected:  make(map[Identity]bool),
	}
	return m, nil
}

// NewFromProvider creates a Manager on the device of a host application.
// The handle must expose HalDevice and HalQueue.
func NewFromProvider(h render.DeviceHandle, opts ...Option) (*Manager, error) {
	device, queue, err := render.OpenHAL(h)
	if err != nil {
		return nil, err
	}
	return New(device, queue, opts...)
}

func (m *Manager) logger() *slog.Logger {
	if m.opts.logger != nil {
		return m.opts.logger
	}
	return Logger()
}

// RegisterKind registers a field kind and its init kernel. The kernel is
// compiled when a field of the kind first needs slots, so the first frame
// that allocates for a new kind is deferred.
func (m *Manager) RegisterKind(desc KindDescriptor) (Kind, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return field.NoKind, ErrClosed
	}
	switch {
	case desc.Name == "":
		return field.NoKind, fmt.Errorf("%w: empty name", ErrInvalidKind)
	case desc.ParamsSize < 0:
		return field.NoKind, fmt.Errorf("%w: %s: negative params size", ErrInvalidKind, desc.Name)
	case len(m.kinds) >= math.MaxUint16:
		return field.NoKind, fmt.Errorf("%w: too many kinds", ErrInvalidKind)
	}
	if _, dup := m.kindNames[desc.Name]; dup {
		return field.NoKind, fmt.Errorf("%w: %s registered twice", ErrInvalidKind, desc.Name)
	}

	kind := Kind(len(m.kinds) + 1) //nolint:gosec // bounded above
	if err := m.pipelines.RegisterInit(kind, desc.Name, desc.Shader); err != nil {
		return field.NoKind, fmt.Errorf("%w: %w", ErrInvalidKind, err)
	}
	m.kinds = append(m.kinds, desc)
	m.kindNames[desc.Name] = kind

	m.logger().Debug("cornfield: kind registered", "kind", kind, "name", desc.Name, "params", desc.ParamsSize)
	return kind, nil
}

// Kind returns the kind registered under name.
func (m *Manager) Kind(name string) (Kind, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.kindNames[name]
	return k, ok
}

func (m *Manager) descriptor(k Kind) (KindDescriptor, bool) {
	if !k.Valid() || int(k) > len(m.kinds) {
		return KindDescriptor{}, false
	}
	return m.kinds[k-1], true
}

// Submit registers f as present in the current frame. Submitting the same
// identity twice in one frame keeps the first field; if the two disagree on
// kind or size a collision is logged.
func (m *Manager) Submit(f Field) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if _, ok := m.descriptor(f.Kind()); !ok {
		return fmt.Errorf("%w: %v", ErrUnknownKind, f.Kind())
	}
	id := f.Identity()
	if prev, ok := m.submitted[id]; ok {
		if prev.Kind() != f.Kind() || prev.InstanceCount() != f.InstanceCount() ||
			prev.NeedsContiguousSpace() != f.NeedsContiguousSpace() {
			m.logger().Warn("cornfield: identity collision",
				"id", id,
				"kind", prev.Kind(), "other_kind", f.Kind(),
				"count", prev.InstanceCount(), "other_count", f.InstanceCount())
		}
		return nil
	}
	m.submitted[id] = f
	m.order = append(m.order, id)
	return nil
}

// Frame runs one allocation frame over the fields submitted since the
// previous call: lifecycle update, planning, GPU execution, pipeline builds,
// readback polling and resource retirement, in that order.
//
// A deferred frame is not an error. The returned error reports a failed
// frame; storage is then unchanged and the work is retried next frame.
func (m *Manager) Frame() (FrameReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return FrameReport{}, ErrClosed
	}
	m.frame++
	rep := FrameReport{Frame: m.frame, Submitted: len(m.order)}

	m.tracker.Begin()
	var reqs, unbuildable []plan.Request
	for _, id := range m.order {
		f := m.submitted[id]
		if !m.tracker.Observe(id, f.IsReady()) {
			continue
		}
		r := plan.Request{
			ID:         id,
			Kind:       f.Kind(),
			Length:     f.InstanceCount(),
			Contiguous: f.NeedsContiguousSpace(),
		}
		// A kind whose init kernel failed to build can never be placed.
		if m.pipelines.State(gpu.InitKernel(r.Kind)) == gpu.PipelineFailed {
			unbuildable = append(unbuildable, r)
			continue
		}
		reqs = append(reqs, r)
	}
	expired := m.tracker.End()
	rep.Requested = len(reqs) + len(unbuildable)

	p := plan.Build(plan.Input{
		State:       m.store.State(),
		Allocations: m.store.Allocations(),
		Requests:    reqs,
		Expired:     expired,
	}, m.opts.planner)
	m.reportRejected(p.Rejected, "exceeds max contiguous")
	m.reportRejected(unbuildable, "init kernel failed")
	p.Rejected = append(p.Rejected, unbuildable...)

	res, execErr := m.exec.Execute(p, m.store, m.lookup)
	switch res.Status {
	case StatusCommitted:
		for _, a := range p.Allocations {
			m.tracker.MarkLoading(a.ID)
			delete(m.rejected, a.ID)
		}
	case StatusFailed:
		m.logger().Warn("cornfield: frame dropped", "frame", m.frame, "plan", p.String(), "err", execErr)
	}
	// Expired identities leave the tracker once storage no longer holds them.
	for _, id := range expired {
		if !m.store.Has(id) {
			m.tracker.Remove(id)
		}
	}

	var errs []error
	if execErr != nil {
		errs = append(errs, execErr)
	}
	if err := m.pipelines.Process(); err != nil {
		m.logger().Error("cornfield: pipeline build failed", "err", err)
	}
	if s, ok := m.readback.Poll(); ok {
		rep.Readback = &s
	}
	m.retirer.Collect()

	clear(m.submitted)
	m.order = m.order[:0]

	rep.Status = res.Status
	rep.Plan = p.String()
	rep.Expired = len(p.Expired)
	rep.Rejected = len(p.Rejected)
	rep.Generation = m.store.Generation()
	rep.Capacity = m.store.Capacity()
	rep.Dispatches = res.Dispatches
	rep.Reallocated = res.Reallocated
	if res.Status == StatusCommitted {
		rep.Allocated = len(p.Allocations)
	}
	for _, k := range res.Missing {
		rep.Missing = append(rep.Missing, k.String())
	}

	m.logger().Debug("cornfield: frame",
		"frame", rep.Frame,
		"status", rep.Status,
		"plan", rep.Plan,
		"generation", rep.Generation)
	return rep, errors.Join(errs...)
}

// reportRejected logs every rejected request once per identity.
func (m *Manager) reportRejected(reqs []plan.Request, reason string) {
	for _, r := range reqs {
		if m.rejected[r.ID] {
			continue
		}
		m.rejected[r.ID] = true
		m.logger().Warn("cornfield: field rejected",
			"id", r.ID,
			"kind", r.Kind,
			"length", r.Length,
			"reason", reason)
	}
}

// lookup resolves the init source of an identity submitted this frame.
func (m *Manager) lookup(id field.Identity) (gpu.InitSource, bool) {
	f, ok := m.submitted[id]
	if !ok {
		return nil, false
	}
	desc, _ := m.descriptor(f.Kind())
	return fieldSource{f: f, paramsSize: desc.ParamsSize, m: m}, true
}

// View returns the renderer-facing snapshot of the instance buffer.
// Handles in the view are only valid until the next Frame.
func (m *Manager) View() RenderView {
	m.mu.Lock()
	defer m.mu.Unlock()

	ind, valid := m.store.Indirect()
	return RenderView{
		Buffer:        m.store.Buffer(),
		Indirect:      ind,
		Generation:    m.store.Generation(),
		InstanceCount: m.store.InstanceCount(),
		Ready:         valid && m.store.ReadyToRender(),
	}
}

// ReadyToRender reports whether the buffer and its indirect arguments are
// valid for the current generation.
func (m *Manager) ReadyToRender() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.ReadyToRender()
}

// Generation returns the current buffer generation.
func (m *Manager) Generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.Generation()
}

// InstanceCount returns the number of records a renderer must cover.
func (m *Manager) InstanceCount() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.InstanceCount()
}

// Ranges returns the slots owned by id.
func (m *Manager) Ranges(id Identity) ([][2]uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.store.Ranges(id)
	if !ok {
		return nil, false
	}
	out := make([][2]uint64, 0, s.RangeCount())
	for lo, hi := range s.Ranges() {
		out = append(out, [2]uint64{lo, hi})
	}
	return out, true
}

// LastReadback returns the most recent decoded readback.
func (m *Manager) LastReadback() (ReadbackSummary, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readback.Last()
}

// Stats returns a snapshot of allocator state.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.store.State()
	s := Stats{
		Frame:         m.frame,
		Capacity:      st.Capacity,
		Used:          st.Used(),
		Free:          st.Free.Len(),
		Stale:         st.Stale.Len(),
		Generation:    st.Generation,
		Loading:       m.tracker.Count(lifecycle.Loading),
		Loaded:        m.tracker.Count(lifecycle.Loaded),
		StaleFields:   m.tracker.Count(lifecycle.Stale),
		Kinds:         len(m.kinds),
		PendingRetire: m.retirer.Pending(),
	}
	for _, n := range m.store.RangeCounts() {
		s.LiveFields++
		s.Ranges += n
	}
	return s
}

// Close waits for the device to go idle and releases every GPU resource.
// Fields submitted afterwards are rejected with ErrClosed.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	err := m.device.WaitIdle()
	m.readback.Close()
	m.store.Close()
	if derr := m.retirer.Drain(); derr != nil {
		err = errors.Join(err, derr)
	}
	m.pipelines.Close()
	m.tracker.Reset()
	clear(m.submitted)
	m.order = nil

	m.logger().Debug("cornfield: manager closed", "frames", m.frame)
	return err
}
