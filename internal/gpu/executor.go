// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/cornfield/field"
	"github.com/gogpu/cornfield/internal/interval"
	"github.com/gogpu/cornfield/internal/plan"
	"github.com/gogpu/cornfield/internal/storage"
)

// Buffer usages of the resources the executor creates.
const (
	usageInstances = gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc |
		gputypes.BufferUsageCopyDst | gputypes.BufferUsageVertex
	usageUniform  = gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst
	usageTable    = gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst
	usageIndirect = gputypes.BufferUsageIndirect | gputypes.BufferUsageCopyDst
	usageStaging  = gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst
)

// Executor errors.
var (
	// ErrKernelFailed is returned when a required kernel failed to build.
	ErrKernelFailed = errors.New("gpu: required kernel failed to build")

	// ErrMissingField is returned when an allocation has no init source.
	ErrMissingField = errors.New("gpu: no init source for allocated field")

	// ErrNoBuffer is returned when a plan needs the backing buffer but
	// storage has none.
	ErrNoBuffer = errors.New("gpu: storage has no backing buffer")
)

// Status is the outcome of executing one plan.
type Status int

const (
	// StatusNoop means the plan had nothing to do.
	StatusNoop Status = iota
	// StatusCommitted means the work was submitted and storage updated.
	StatusCommitted
	// StatusDeferred means a required kernel is not built yet. Nothing was
	// recorded and storage is untouched; the same work is planned again next
	// frame.
	StatusDeferred
	// StatusFailed means encoding or submission failed. Storage is untouched.
	StatusFailed
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusNoop:
		return "Noop"
	case StatusCommitted:
		return "Committed"
	case StatusDeferred:
		return "Deferred"
	case StatusFailed:
		return "Failed"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Result reports what Execute did.
type Result struct {
	Status Status
	// Missing lists the kernels that were queued because a deferred frame
	// needed them.
	Missing    []Kernel
	Generation uint64
	Capacity   uint64
	Dispatches int
	Copies     int
	Submission uint64
	// Flagged holds the slots whose enabled flag was cleared.
	Flagged plan.Slots
	// Reallocated is set when the backing buffer was replaced or dropped.
	Reallocated bool
}

// DispatchTarget describes where a field's instances are written.
type DispatchTarget struct {
	ID     field.Identity
	Kind   field.Kind
	Ranges plan.Slots
	// Capacity is the slot count of the buffer the dispatch writes into.
	Capacity uint64
	// Generation is the buffer generation once the frame commits.
	Generation uint64
}

// InitSource produces the kind-specific parameters of a field's init
// dispatch. invocations bounds how many instances are written; zero covers
// every allocated slot.
type InitSource interface {
	BuildInitDispatch(target DispatchTarget) (params []byte, invocations uint32)
}

// Lookup resolves the init source of an allocated identity.
type Lookup func(id field.Identity) (InitSource, bool)

// ExecutorConfig configures an Executor.
type ExecutorConfig struct {
	// MeshIndexCount is written into the indirect draw arguments.
	MeshIndexCount uint32
}

// Executor turns an OperationPlan into GPU work and commits it to storage
// once the work was submitted. It is not safe for concurrent use.
type Executor struct {
	device    hal.Device
	queue     hal.Queue
	pipelines *PipelineCache
	retirer   *Retirer
	readback  *Readback
	cfg       ExecutorConfig
}

// NewExecutor creates an executor. readback may be nil.
func NewExecutor(device hal.Device, queue hal.Queue, pipelines *PipelineCache, retirer *Retirer, readback *Readback, cfg ExecutorConfig) *Executor {
	if readback == nil {
		readback = NewReadback(device, queue, false)
	}
	return &Executor{
		device:    device,
		queue:     queue,
		pipelines: pipelines,
		retirer:   retirer,
		readback:  readback,
		cfg:       cfg,
	}
}

// Required returns the kernels p dispatches.
func Required(p *plan.OperationPlan) []Kernel {
	var ks []Kernel
	if p.Defrag {
		if len(p.Moves) > 0 && p.NewCapacity > 0 {
			ks = append(ks, KernelDefrag)
		}
		return ks
	}
	// Whether a reused slot is fully rewritten is only known once the
	// adapters report their invocation counts.
	if !p.NewStale.IsEmpty() {
		ks = append(ks, KernelFlagStale)
	}
	for _, kind := range p.Kinds() {
		ks = append(ks, InitKernel(kind))
	}
	return ks
}

// gate queues every required kernel that is not ready. It returns the
// missing kernels, or an error if one of them failed to build.
func (e *Executor) gate(p *plan.OperationPlan) ([]Kernel, error) {
	var missing []Kernel
	for _, k := range Required(p) {
		switch e.pipelines.State(k) {
		case PipelineReady:
			continue
		case PipelineFailed:
			return nil, fmt.Errorf("%w: %s: %w", ErrKernelFailed, k, e.pipelines.Err(k))
		}
		if err := e.pipelines.Queue(k); err != nil {
			return nil, err
		}
		missing = append(missing, k)
	}
	return missing, nil
}

// Execute runs p against store. Storage is only mutated when the returned
// status is StatusCommitted.
func (e *Executor) Execute(p *plan.OperationPlan, store *storage.Manager, lookup Lookup) (Result, error) {
	res := Result{Status: StatusNoop, Generation: store.Generation(), Capacity: store.Capacity()}
	if p.IsNoop() {
		return res, nil
	}

	missing, err := e.gate(p)
	if err != nil {
		res.Status = StatusFailed
		return res, err
	}
	if len(missing) > 0 {
		res.Status = StatusDeferred
		res.Missing = missing
		slogger().Debug("cornfield: frame deferred", "plan", p.String(), "missing", len(missing))
		return res, nil
	}

	if p.NewCapacity == 0 {
		return e.commitEmpty(p, store), nil
	}

	f := &frame{e: e}
	if err := f.encode(p, store, lookup); err != nil {
		f.abort()
		res.Status = StatusFailed
		return res, err
	}
	if err := f.submit(); err != nil {
		f.abort()
		res.Status = StatusFailed
		return res, err
	}
	return e.commit(p, store, f), nil
}

// commitEmpty handles plans that leave no slots: the buffer is dropped.
func (e *Executor) commitEmpty(p *plan.OperationPlan, store *storage.Manager) Result {
	p.ApplyLayout(store)
	teardown := store.Cleanup()
	if teardown {
		slogger().Info("cornfield: instance buffer released", "generation", store.Generation())
	}
	return Result{
		Status:      StatusCommitted,
		Generation:  store.Generation(),
		Capacity:    store.Capacity(),
		Reallocated: teardown,
	}
}

// commit writes the submitted plan into storage.
func (e *Executor) commit(p *plan.OperationPlan, store *storage.Manager, f *frame) Result {
	p.ApplyLayout(store)
	if f.target != store.Buffer() {
		store.SwapBackingBuffer(f.target, p.NewCapacity)
		slogger().Info("cornfield: instance buffer replaced",
			"old_capacity", p.OldCapacity,
			"capacity", p.NewCapacity,
			"generation", store.Generation(),
			"defrag", p.Defrag)
	}
	if f.indirect != nil {
		store.SetIndirect(f.indirect)
	}
	if f.staging != nil {
		e.readback.begin(f.staging, f.submission, store.Generation(), p.NewCapacity)
	}

	if err := store.Check(); err != nil {
		slogger().Error("cornfield: storage check failed after commit", "err", err)
	}

	slogger().Debug("cornfield: frame committed",
		"plan", p.String(),
		"dispatches", f.dispatches,
		"submission", f.submission)

	return Result{
		Status:      StatusCommitted,
		Generation:  store.Generation(),
		Capacity:    store.Capacity(),
		Dispatches:  f.dispatches,
		Copies:      f.copies,
		Flagged:     f.flagged,
		Submission:  f.submission,
		Reallocated: f.replaced,
	}
}

// frame holds the resources of one encoded frame.
type frame struct {
	e *Executor

	enc     hal.CommandEncoder
	encoded bool
	cmd     hal.CommandBuffer

	// target is the buffer that holds the instances after this frame.
	target   hal.Buffer
	replaced bool
	indirect hal.Buffer
	staging  hal.Buffer

	transient []hal.Buffer
	groups    []hal.BindGroup

	dispatches int
	copies     int
	submission uint64
	flagged    plan.Slots
}

func (f *frame) encode(p *plan.OperationPlan, store *storage.Manager, lookup Lookup) error {
	enc, err := f.e.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "cornfield_frame"})
	if err != nil {
		return fmt.Errorf("gpu: create command encoder: %w", err)
	}
	if err := enc.BeginEncoding("cornfield_frame"); err != nil {
		return fmt.Errorf("gpu: begin encoding: %w", err)
	}
	f.enc = enc
	f.encoded = true

	if p.Defrag {
		err = f.encodeDefrag(p, store)
	} else {
		err = f.encodeUpdate(p, store, lookup)
	}
	if err != nil {
		return err
	}

	if _, valid := store.Indirect(); f.replaced || !valid {
		args := drawIndexedIndirect{
			IndexCount:    f.e.cfg.MeshIndexCount,
			InstanceCount: uint32(min(p.NewCapacity, uint64(^uint32(0)))), //nolint:gosec // clamped
		}
		f.indirect, err = f.upload("cornfield_indirect", args.toBytes(), usageIndirect)
		if err != nil {
			return err
		}
		f.keep(f.indirect)
	}

	if p.Readback && f.e.readback.Idle() {
		f.staging, err = f.e.readback.record(enc, f.target, p.NewCapacity)
		if err != nil {
			return err
		}
		f.copies++
	}
	return nil
}

// encodeDefrag packs every live range into a scratch buffer of the old
// capacity. When the plan shrinks, the packed prefix is copied into a
// buffer of the new capacity.
func (f *frame) encodeDefrag(p *plan.OperationPlan, store *storage.Manager) error {
	src := store.Buffer()
	if src == nil {
		return ErrNoBuffer
	}
	table, err := DefragTable(p.Moves)
	if err != nil {
		return err
	}
	scratch, err := f.buffer("cornfield_defrag_scratch", p.OldCapacity*InstanceStride, usageInstances)
	if err != nil {
		return err
	}
	if err := f.dispatch(KernelDefrag, table, src, scratch); err != nil {
		return err
	}

	f.replaced = true
	if p.NewCapacity == p.OldCapacity {
		f.target = scratch
		f.keep(scratch)
		return nil
	}
	dst, err := f.buffer("cornfield_instances", p.NewCapacity*InstanceStride, usageInstances)
	if err != nil {
		return err
	}
	f.enc.CopyBufferToBuffer(scratch, dst, []hal.BufferCopy{{Size: p.NewCapacity * InstanceStride}})
	f.copies++
	f.target = dst
	f.keep(dst)
	return nil
}

// encodeUpdate grows the buffer if needed, clears newly stale slots and
// initializes every allocation.
func (f *frame) encodeUpdate(p *plan.OperationPlan, store *storage.Manager, lookup Lookup) error {
	old := store.Buffer()
	f.target = old
	if old == nil || p.NewCapacity != p.OldCapacity {
		dst, err := f.buffer("cornfield_instances", p.NewCapacity*InstanceStride, usageInstances)
		if err != nil {
			return err
		}
		if old != nil && p.OldCapacity > 0 {
			f.enc.CopyBufferToBuffer(old, dst, []hal.BufferCopy{{Size: p.OldCapacity * InstanceStride}})
			f.copies++
		}
		f.target = dst
		f.replaced = true
		f.keep(dst)
	}

	generation := store.Generation()
	if f.replaced {
		generation++
	}

	// Sources are resolved first so that only slots init leaves unwritten
	// are flagged.
	inits := make([]initDispatch, 0, len(p.Allocations))
	written := make([]plan.Slots, 0, len(p.Allocations))
	for _, a := range p.Allocations {
		if a.Ranges.IsEmpty() {
			continue
		}
		src, ok := lookup(a.ID)
		if !ok {
			return fmt.Errorf("%w: %v", ErrMissingField, a.ID)
		}
		params, invocations := src.BuildInitDispatch(DispatchTarget{
			ID:         a.ID,
			Kind:       a.Kind,
			Ranges:     a.Ranges,
			Capacity:   p.NewCapacity,
			Generation: generation,
		})
		limit := a.Ranges.Len()
		if invocations > 0 {
			limit = min(limit, uint64(invocations))
		}
		table, err := InitTable(a.Ranges, limit)
		if err != nil {
			return err
		}
		covered, _, _ := a.Ranges.Take(limit)
		written = append(written, covered)
		inits = append(inits, initDispatch{kind: a.Kind, table: table, params: params})
	}

	for _, in := range inits {
		fieldParams, err := f.upload("cornfield_field_params", padParams(in.params), usageTable)
		if err != nil {
			return err
		}
		if err := f.dispatch(InitKernel(in.kind), in.table, f.target, fieldParams); err != nil {
			return err
		}
	}

	// Newly stale slots and the unwritten tails of short inits may still
	// hold enabled records of a dead field.
	stale := p.NewStale.Difference(interval.UnionAll(written...))
	if !stale.IsEmpty() {
		table, err := FlagTable(stale)
		if err != nil {
			return err
		}
		if err := f.dispatch(KernelFlagStale, table, f.target); err != nil {
			return err
		}
		f.flagged = stale
	}
	return nil
}

type initDispatch struct {
	kind   field.Kind
	table  RangeTable
	params []byte
}

// dispatch records one range-table kernel over bindings 2 and up.
func (f *frame) dispatch(k Kernel, table RangeTable, bindings ...hal.Buffer) error {
	if table.Total == 0 {
		return nil
	}
	pipeline, layout, ok := f.e.pipelines.pipeline(k)
	if !ok {
		return fmt.Errorf("gpu: kernel %s is not ready", k)
	}

	params, err := f.upload("cornfield_params", table.params().toBytes(), usageUniform)
	if err != nil {
		return err
	}
	ranges, err := f.upload("cornfield_ranges", table.toBytes(), usageTable)
	if err != nil {
		return err
	}

	entries := []gputypes.BindGroupEntry{
		{Binding: 0, Resource: gputypes.BufferBinding{Buffer: params.NativeHandle(), Offset: 0, Size: kernelParamsSize}},
		{Binding: 1, Resource: gputypes.BufferBinding{Buffer: ranges.NativeHandle(), Offset: 0, Size: 0}},
	}
	for i, b := range bindings {
		entries = append(entries, gputypes.BindGroupEntry{
			Binding:  uint32(i + 2), //nolint:gosec // at most four bindings
			Resource: gputypes.BufferBinding{Buffer: b.NativeHandle(), Offset: 0, Size: 0},
		})
	}
	group, err := f.e.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   "cornfield_" + k.String(),
		Layout:  layout,
		Entries: entries,
	})
	if err != nil {
		return fmt.Errorf("gpu: create bind group for %s: %w", k, err)
	}
	f.groups = append(f.groups, group)

	x, y := workgroups(table.Total)
	pass := f.enc.BeginComputePass(&hal.ComputePassDescriptor{Label: k.String()})
	pass.SetPipeline(pipeline)
	pass.SetBindGroup(0, group, nil)
	pass.Dispatch(x, y, 1)
	pass.End()
	f.dispatches++

	slogger().Debug("cornfield: dispatch",
		"kernel", k.String(),
		"entries", len(table.Entries),
		"invocations", table.Total,
		"workgroups_x", x,
		"workgroups_y", y)
	return nil
}

func (f *frame) submit() error {
	cmd, err := f.enc.EndEncoding()
	if err != nil {
		return fmt.Errorf("gpu: end encoding: %w", err)
	}
	f.encoded = false
	f.cmd = cmd

	idx, err := f.e.queue.Submit([]hal.CommandBuffer{cmd})
	if err != nil {
		return fmt.Errorf("gpu: submit: %w", err)
	}
	f.submission = idx
	f.e.retirer.Submitted(idx)
	f.e.retirer.Retire(idx, f.transient, f.groups, []hal.CommandBuffer{cmd})
	f.transient, f.groups, f.cmd = nil, nil, nil
	return nil
}

// buffer creates a transient buffer. Buffers passed to keep survive the
// frame; the rest are retired with its submission.
func (f *frame) buffer(label string, size uint64, usage gputypes.BufferUsage) (hal.Buffer, error) {
	buf, err := f.e.device.CreateBuffer(&hal.BufferDescriptor{
		Label: label,
		Size:  size,
		Usage: usage,
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: create %s (%d bytes): %w", label, size, err)
	}
	f.transient = append(f.transient, buf)
	return buf, nil
}

func (f *frame) upload(label string, data []byte, usage gputypes.BufferUsage) (hal.Buffer, error) {
	buf, err := f.buffer(label, uint64(len(data)), usage)
	if err != nil {
		return nil, err
	}
	if err := f.e.queue.WriteBuffer(buf, 0, data); err != nil {
		return nil, fmt.Errorf("gpu: write %s: %w", label, err)
	}
	return buf, nil
}

// keep removes buf from the transient set.
func (f *frame) keep(buf hal.Buffer) {
	for i, b := range f.transient {
		if b == buf {
			f.transient = append(f.transient[:i], f.transient[i+1:]...)
			return
		}
	}
}

// abort destroys everything the frame created. Nothing was submitted, so
// the resources can go immediately.
func (f *frame) abort() {
	d := f.e.device
	if f.encoded {
		f.enc.DiscardEncoding()
		f.encoded = false
	}
	if f.cmd != nil {
		d.FreeCommandBuffer(f.cmd)
		f.cmd = nil
	}
	for _, g := range f.groups {
		d.DestroyBindGroup(g)
	}
	for _, b := range f.transient {
		d.DestroyBuffer(b)
	}
	for _, b := range []hal.Buffer{f.indirect, f.staging} {
		if b != nil {
			d.DestroyBuffer(b)
		}
	}
	if f.replaced && f.target != nil {
		d.DestroyBuffer(f.target)
	}
	f.groups, f.transient = nil, nil
	f.indirect, f.staging, f.target = nil, nil, nil
}
