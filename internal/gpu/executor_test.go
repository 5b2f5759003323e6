package gpu

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/cornfield/field"
	"github.com/gogpu/cornfield/internal/plan"
	"github.com/gogpu/cornfield/internal/storage"
)

const testKind field.Kind = 1

type fixture struct {
	t         *testing.T
	dev       *recordingDevice
	queue     *laggingQueue
	pipelines *PipelineCache
	retirer   *Retirer
	readback  *Readback
	store     *storage.Manager
	exec      *Executor
	sources   map[field.Identity]*staticSource
	cfg       plan.Config
}

func newFixture(t *testing.T, readback bool) *fixture {
	t.Helper()
	dev := newRecordingDevice()
	q := &laggingQueue{}
	pipelines := NewPipelineCache(dev, false)
	require.NoError(t, pipelines.RegisterInit(testKind, "test", testInitBody))
	retirer := NewRetirer(dev, q)
	rb := NewReadback(dev, q, readback)
	cfg := plan.DefaultConfig()
	cfg.Readback = readback
	return &fixture{
		t:         t,
		dev:       dev,
		queue:     q,
		pipelines: pipelines,
		retirer:   retirer,
		readback:  rb,
		store:     storage.New(retirer),
		exec:      NewExecutor(dev, q, pipelines, retirer, rb, ExecutorConfig{MeshIndexCount: 36}),
		sources:   make(map[field.Identity]*staticSource),
		cfg:       cfg,
	}
}

// warm builds every kernel the tests use.
func (f *fixture) warm() {
	for _, k := range []Kernel{KernelFlagStale, KernelDefrag, InitKernel(testKind)} {
		require.NoError(f.t, f.pipelines.Queue(k))
	}
	require.NoError(f.t, f.pipelines.Process())
}

func (f *fixture) plan(reqs []plan.Request, expired ...field.Identity) *plan.OperationPlan {
	for _, r := range reqs {
		if _, ok := f.sources[r.ID]; !ok {
			f.sources[r.ID] = &staticSource{params: []byte{1, 2, 3, 4}}
		}
	}
	return plan.Build(plan.Input{
		State:       f.store.State(),
		Allocations: f.store.Allocations(),
		Requests:    reqs,
		Expired:     expired,
	}, f.cfg)
}

func (f *fixture) run(reqs []plan.Request, expired ...field.Identity) (*plan.OperationPlan, Result) {
	f.t.Helper()
	p := f.plan(reqs, expired...)
	res, err := f.exec.Execute(p, f.store, lookupOf(f.sources))
	require.NoError(f.t, err)
	require.NoError(f.t, f.store.Check())
	return p, res
}

func req(id field.Identity, n uint64) plan.Request {
	return plan.Request{ID: id, Kind: testKind, Length: n}
}

func TestExecuteNoop(t *testing.T) {
	f := newFixture(t, false)
	_, res := f.run(nil)
	assert.Equal(t, StatusNoop, res.Status)
	assert.Empty(t, f.dev.encoders)
}

func TestExecuteDefersUntilKernelsReady(t *testing.T) {
	f := newFixture(t, false)

	_, res := f.run([]plan.Request{req(1, 10)})
	assert.Equal(t, StatusDeferred, res.Status)
	assert.Equal(t, []Kernel{InitKernel(testKind)}, res.Missing)
	assert.Zero(t, f.store.Capacity())
	assert.Nil(t, f.store.Buffer())
	assert.Empty(t, f.dev.encoders, "deferred frame must not record work")
	assert.True(t, f.pipelines.Pending())

	require.NoError(t, f.pipelines.Process())

	_, res = f.run([]plan.Request{req(1, 10)})
	require.Equal(t, StatusCommitted, res.Status)
	assert.Equal(t, uint64(10), f.store.Capacity())
	assert.Equal(t, uint64(1), res.Generation)
	assert.Equal(t, 1, res.Dispatches)
	assert.True(t, res.Reallocated)
	assert.True(t, f.store.ReadyToRender())

	got, ok := f.store.Ranges(1)
	require.True(t, ok)
	assert.Equal(t, rng(0, 10), got)

	targets := f.sources[1].targets
	require.Len(t, targets, 1)
	assert.Equal(t, DispatchTarget{ID: 1, Kind: testKind, Ranges: rng(0, 10), Capacity: 10, Generation: 1}, targets[0])

	ind, valid := f.store.Indirect()
	require.True(t, valid)
	args := f.dev.bytes(ind, indirectArgsSize)
	assert.Equal(t, uint32(36), binary.LittleEndian.Uint32(args[0:4]))
	assert.Equal(t, uint32(10), binary.LittleEndian.Uint32(args[4:8]))
}

func TestExecuteGrowthCopiesPrefix(t *testing.T) {
	f := newFixture(t, false)
	f.warm()

	f.run([]plan.Request{req(1, 4)})
	old := f.store.Buffer()
	f.dev.bytes(old, 4*InstanceStride)[5] = 0xab

	p, res := f.run([]plan.Request{req(2, 6)})
	require.Equal(t, StatusCommitted, res.Status)
	assert.Equal(t, uint64(6), p.Expansion)
	assert.Equal(t, uint64(10), f.store.Capacity())
	assert.Equal(t, uint64(2), f.store.Generation())
	assert.NotEqual(t, old, f.store.Buffer())
	assert.Equal(t, byte(0xab), f.dev.bytes(f.store.Buffer(), 10*InstanceStride)[5], "prefix not preserved")
	assert.Equal(t, 1, res.Copies)

	// The old buffer stays alive until the submission that read it retires.
	assert.False(t, f.dev.wasDestroyed(old))
	f.queue.completeAll()
	assert.Positive(t, f.retirer.Collect())
	assert.True(t, f.dev.wasDestroyed(old))
	assert.Zero(t, f.retirer.Pending())
}

func TestExecuteInPlaceKeepsBuffer(t *testing.T) {
	f := newFixture(t, false)
	f.warm()

	f.run([]plan.Request{req(1, 4), req(2, 4)})
	buf := f.store.Buffer()

	// Field 1 expires and field 3 reuses half of its slots in the same frame.
	p, res := f.run([]plan.Request{req(3, 2)}, 1)
	require.Equal(t, StatusCommitted, res.Status)
	assert.Equal(t, []Kernel{KernelFlagStale, InitKernel(testKind)}, Required(p))
	assert.Equal(t, rng(2, 4), res.Flagged)
	assert.Equal(t, 2, res.Dispatches)
	assert.False(t, res.Reallocated)
	assert.Equal(t, buf, f.store.Buffer())
	assert.Equal(t, uint64(1), f.store.Generation())
	assert.Equal(t, rng(2, 4), f.store.Stale())
	assert.True(t, f.store.ReadyToRender())
}

func TestExecuteFullReuseNeedsNoFlag(t *testing.T) {
	f := newFixture(t, false)
	f.warm()

	f.run([]plan.Request{req(1, 4), req(2, 4)})
	p, res := f.run([]plan.Request{req(3, 4)}, 1)
	require.Equal(t, StatusCommitted, res.Status)
	assert.Equal(t, []Kernel{KernelFlagStale, InitKernel(testKind)}, Required(p))
	assert.Equal(t, 1, res.Dispatches, "init rewrites every reused slot")
	assert.True(t, res.Flagged.IsEmpty())
	assert.True(t, f.store.Stale().IsEmpty())
}

func TestExecuteShortInitFlagsUnwrittenTail(t *testing.T) {
	f := newFixture(t, false)
	f.warm()

	f.run([]plan.Request{req(1, 8)})
	// Field 2 takes over all of field 1's slots but only writes half.
	f.sources[2] = &staticSource{params: []byte{1, 2, 3, 4}, invocations: 4}
	p, res := f.run([]plan.Request{req(2, 8)}, 1)
	require.Equal(t, StatusCommitted, res.Status)
	require.Equal(t, rng(0, 8), p.NewStale)

	got, ok := f.store.Ranges(2)
	require.True(t, ok)
	assert.Equal(t, rng(0, 8), got)
	assert.Equal(t, rng(4, 8), res.Flagged)
	assert.Equal(t, 2, res.Dispatches)
	assert.Len(t, f.dev.lastEncoder().dispatches, 2)
}

func TestExecuteDefragShrinks(t *testing.T) {
	f := newFixture(t, false)
	f.warm()

	// Field 2 is placed first as the longer request: [0,600), field 1 [600,1000).
	f.run([]plan.Request{req(1, 400), req(2, 600)})
	f.run(nil, 2)
	require.Equal(t, uint64(400), f.store.Used())
	old := f.store.Buffer()

	p, res := f.run(nil)
	require.True(t, p.Defrag)
	require.Equal(t, StatusCommitted, res.Status)
	assert.Equal(t, uint64(500), f.store.Capacity())
	assert.Equal(t, 1, res.Dispatches)
	assert.Equal(t, 1, res.Copies)
	assert.True(t, res.Reallocated)

	got, ok := f.store.Ranges(1)
	require.True(t, ok)
	assert.Equal(t, rng(0, 400), got)
	assert.Equal(t, rng(400, 500), f.store.Free())
	assert.True(t, f.store.Stale().IsEmpty())
	assert.Equal(t, 1, f.dev.created["cornfield_defrag_scratch"])

	f.queue.completeAll()
	f.retirer.Collect()
	assert.True(t, f.dev.wasDestroyed(old))

	// A second pass has nothing left to do.
	p, res = f.run(nil)
	assert.True(t, p.IsNoop())
	assert.Equal(t, StatusNoop, res.Status)
}

func TestExecuteDropsBufferWhenNothingIsLive(t *testing.T) {
	f := newFixture(t, false)
	f.warm()

	f.run([]plan.Request{req(1, 5)})
	f.run(nil, 1)
	encoders := len(f.dev.encoders)

	p, res := f.run(nil)
	require.True(t, p.Defrag)
	assert.Equal(t, StatusCommitted, res.Status)
	assert.True(t, res.Reallocated)
	assert.Zero(t, f.store.Capacity())
	assert.Nil(t, f.store.Buffer())
	assert.False(t, f.store.ReadyToRender())
	assert.Equal(t, encoders, len(f.dev.encoders), "dropping the buffer records no GPU work")
}

func TestExecuteFailureLeavesStorageUntouched(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture)
	}{
		{"submit", func(f *fixture) { f.queue.failNext = true }},
		{"ranges buffer", func(f *fixture) { f.dev.failBuffer = "cornfield_ranges" }},
		{"indirect buffer", func(f *fixture) { f.dev.failBuffer = "cornfield_indirect" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, false)
			f.warm()
			tt.setup(f)

			p := f.plan([]plan.Request{req(1, 8)})
			res, err := f.exec.Execute(p, f.store, lookupOf(f.sources))
			require.Error(t, err)
			assert.Equal(t, StatusFailed, res.Status)
			assert.Zero(t, f.store.Capacity())
			assert.Nil(t, f.store.Buffer())

			created := 0
			for _, n := range f.dev.created {
				created += n
			}
			assert.Len(t, f.dev.destroyed, created, "transient buffers leaked")
		})
	}
}

func TestExecuteFailedKernel(t *testing.T) {
	f := newFixture(t, false)
	f.dev.failPipeline = true

	_, res := f.run([]plan.Request{req(1, 3)})
	require.Equal(t, StatusDeferred, res.Status)
	require.Error(t, f.pipelines.Process())

	p := f.plan([]plan.Request{req(1, 3)})
	res, err := f.exec.Execute(p, f.store, lookupOf(f.sources))
	assert.ErrorIs(t, err, ErrKernelFailed)
	assert.ErrorIs(t, err, errInjected)
	assert.Equal(t, StatusFailed, res.Status)
}

func TestExecuteMissingField(t *testing.T) {
	f := newFixture(t, false)
	f.warm()

	p := f.plan([]plan.Request{req(1, 3)})
	res, err := f.exec.Execute(p, f.store, lookupOf(nil))
	assert.ErrorIs(t, err, ErrMissingField)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Zero(t, f.store.Capacity())
}

func TestExecuteReadback(t *testing.T) {
	f := newFixture(t, true)
	f.warm()

	f.run([]plan.Request{req(1, 2)})
	require.Equal(t, ReadbackCopying, f.readback.State())
	f.queue.completeAll()
	first, ok := f.readback.Poll()
	require.True(t, ok)
	assert.Equal(t, uint64(2), first.Capacity)
	assert.Zero(t, first.Enabled)
	assert.Equal(t, ReadbackIdle, f.readback.State())

	// Mark slot 1 enabled by hand; noop kernels do not execute.
	copy(f.dev.bytes(f.store.Buffer(), 2*InstanceStride)[InstanceStride:], Instance{Enabled: true, Scale: 2}.toBytes())

	f.run([]plan.Request{req(2, 3)})
	require.Equal(t, ReadbackCopying, f.readback.State())
	_, ok = f.readback.Poll()
	assert.False(t, ok, "copy not complete yet")

	f.queue.completeAll()
	s, ok := f.readback.Poll()
	require.True(t, ok)
	assert.Equal(t, uint64(5), s.Capacity)
	assert.Equal(t, uint64(2), s.Generation)
	assert.Equal(t, uint64(1), s.Enabled)
	require.Len(t, s.Instances, 5)
	assert.True(t, s.Instances[1].Enabled)
	assert.Equal(t, float32(2), s.Instances[1].Scale)

	last, ok := f.readback.Last()
	require.True(t, ok)
	assert.Equal(t, s.Submission, last.Submission)
	assert.Equal(t, 2, f.dev.created["cornfield_readback"])
}

func TestReadbackDisabled(t *testing.T) {
	f := newFixture(t, false)
	f.warm()
	f.run([]plan.Request{req(1, 2)})
	assert.Equal(t, ReadbackDisabled, f.readback.State())
	_, ok := f.readback.Poll()
	assert.False(t, ok)
	assert.Zero(t, f.dev.created["cornfield_readback"])
}
