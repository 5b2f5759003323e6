// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import (
	"errors"
	"fmt"
	"slices"

	"github.com/cespare/xxhash/v2"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/cornfield/field"
	"github.com/gogpu/cornfield/internal/cache"
)

// spirvCacheLimit bounds the number of memoized SPIR-V modules.
const spirvCacheLimit = 64

// ErrUnknownKernel is returned when queuing a kernel that was never
// registered.
var ErrUnknownKernel = errors.New("gpu: unknown kernel")

// PipelineState is the build state of one kernel.
type PipelineState int

const (
	// PipelineMissing means the kernel was never queued.
	PipelineMissing PipelineState = iota
	// PipelineQueued means the kernel waits for the next Process call.
	PipelineQueued
	// PipelineReady means the compute pipeline can be dispatched.
	PipelineReady
	// PipelineFailed means compilation failed; the kernel is not retried.
	PipelineFailed
)

// String returns the state name.
func (s PipelineState) String() string {
	switch s {
	case PipelineMissing:
		return "Missing"
	case PipelineQueued:
		return "Queued"
	case PipelineReady:
		return "Ready"
	case PipelineFailed:
		return "Failed"
	default:
		return fmt.Sprintf("PipelineState(%d)", int(s))
	}
}

type pipelineEntry struct {
	state    PipelineState
	err      error
	module   hal.ShaderModule
	bgLayout hal.BindGroupLayout
	layout   hal.PipelineLayout
	pipeline hal.ComputePipeline
}

// PipelineCache builds compute pipelines on demand. Kernels are queued when
// a frame needs them and built by Process, which the frame loop calls once
// per frame; a kernel queued during frame N is usable from frame N+1.
//
// PipelineCache is not safe for concurrent use.
type PipelineCache struct {
	device     hal.Device
	sources    map[Kernel]kernelSource
	entries    map[Kernel]*pipelineEntry
	queued     []Kernel
	precompile bool
	spirv      *cache.Cache[uint64, []uint32]
}

// NewPipelineCache creates a cache with the generic kernels registered.
// With precompile set, WGSL is compiled to SPIR-V by naga before module
// creation and the result is memoized by source hash.
func NewPipelineCache(device hal.Device, precompile bool) *PipelineCache {
	return &PipelineCache{
		device:     device,
		sources:    builtinSources(),
		entries:    make(map[Kernel]*pipelineEntry),
		precompile: precompile,
		spirv:      cache.New[uint64, []uint32](spirvCacheLimit),
	}
}

// RegisterInit registers the init kernel of a field kind. body must declare
// struct FieldParams and fn init_instance(local: u32) -> Instance.
func (c *PipelineCache) RegisterInit(kind field.Kind, name, body string) error {
	src, err := initSource(name, body)
	if err != nil {
		return err
	}
	c.sources[InitKernel(kind)] = src
	return nil
}

// Source returns the full WGSL module of k.
func (c *PipelineCache) Source(k Kernel) (string, bool) {
	s, ok := c.sources[k]
	return s.wgsl, ok
}

// Queue schedules k for the next Process call. Ready, failed and already
// queued kernels are left alone.
func (c *PipelineCache) Queue(k Kernel) error {
	if _, ok := c.sources[k]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKernel, k)
	}
	if _, ok := c.entries[k]; ok {
		return nil
	}
	c.entries[k] = &pipelineEntry{state: PipelineQueued}
	c.queued = append(c.queued, k)
	return nil
}

// State returns the build state of k.
func (c *PipelineCache) State(k Kernel) PipelineState {
	e, ok := c.entries[k]
	if !ok {
		return PipelineMissing
	}
	return e.state
}

// Err returns the build error of a failed kernel.
func (c *PipelineCache) Err(k Kernel) error {
	if e, ok := c.entries[k]; ok {
		return e.err
	}
	return nil
}

// Ready reports whether k can be dispatched.
func (c *PipelineCache) Ready(k Kernel) bool {
	return c.State(k) == PipelineReady
}

// Pending reports whether any kernel waits for Process.
func (c *PipelineCache) Pending() bool {
	return len(c.queued) > 0
}

// Process builds every queued kernel. Failures are recorded per kernel and
// returned joined; the other kernels are still built.
func (c *PipelineCache) Process() error {
	queued := c.queued
	c.queued = nil
	slices.Sort(queued)

	var errs []error
	for _, k := range queued {
		e := c.entries[k]
		if err := c.build(k, e); err != nil {
			e.state = PipelineFailed
			e.err = err
			errs = append(errs, err)
			slogger().Error("cornfield: kernel build failed", "kernel", k.String(), "err", err)
			continue
		}
		e.state = PipelineReady
		slogger().Debug("cornfield: kernel ready", "kernel", k.String())
	}
	return errors.Join(errs...)
}

// build runs shader module -> bind group layout -> pipeline layout ->
// compute pipeline. Partially created objects are destroyed on failure.
func (c *PipelineCache) build(k Kernel, e *pipelineEntry) error {
	src := c.sources[k]

	shader := hal.ShaderSource{WGSL: src.wgsl}
	if c.precompile {
		words, err := c.compileSPIRV(src.wgsl)
		if err != nil {
			return fmt.Errorf("gpu: compile %s: %w", k, err)
		}
		shader = hal.ShaderSource{SPIRV: words}
	}

	var err error
	defer func() {
		if err != nil {
			c.destroyEntry(e)
		}
	}()

	e.module, err = c.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  src.label,
		Source: shader,
	})
	if err != nil {
		return fmt.Errorf("gpu: create shader module for %s: %w", k, err)
	}

	entries := src.layout.entries()
	e.bgLayout, err = c.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   src.label + "_bgl",
		Entries: entries,
	})
	if err != nil {
		return fmt.Errorf("gpu: create bind group layout for %s: %w", k, err)
	}

	e.layout, err = c.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            src.label + "_pl",
		BindGroupLayouts: []hal.BindGroupLayout{e.bgLayout},
	})
	if err != nil {
		return fmt.Errorf("gpu: create pipeline layout for %s: %w", k, err)
	}

	e.pipeline, err = c.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  src.label,
		Layout: e.layout,
		Compute: hal.ComputeState{
			Module:     e.module,
			EntryPoint: "main",
		},
	})
	if err != nil {
		return fmt.Errorf("gpu: create compute pipeline for %s: %w", k, err)
	}

	slogger().Debug("cornfield: pipeline created",
		"kernel", k.String(),
		"bindings", len(entries),
		"shader_bytes", len(src.wgsl),
		"spirv", c.precompile)
	return nil
}

// compileSPIRV compiles WGSL to SPIR-V words, memoized by source hash.
func (c *PipelineCache) compileSPIRV(src string) ([]uint32, error) {
	return c.spirv.GetOrCreate(xxhash.Sum64String(src), func() ([]uint32, error) {
		return CompileSPIRV(src)
	})
}

// CompileSPIRV compiles WGSL source with naga and returns little-endian
// SPIR-V words.
func CompileSPIRV(src string) ([]uint32, error) {
	b, err := naga.Compile(src)
	if err != nil {
		return nil, err
	}
	words := make([]uint32, len(b)/4)
	for i := range words {
		words[i] = uint32(b[i*4]) |
			uint32(b[i*4+1])<<8 |
			uint32(b[i*4+2])<<16 |
			uint32(b[i*4+3])<<24
	}
	return words, nil
}

// pipeline returns the pipeline objects of a ready kernel.
func (c *PipelineCache) pipeline(k Kernel) (hal.ComputePipeline, hal.BindGroupLayout, bool) {
	e, ok := c.entries[k]
	if !ok || e.state != PipelineReady {
		return nil, nil, false
	}
	return e.pipeline, e.bgLayout, true
}

// SPIRVStats returns statistics of the SPIR-V memo cache.
func (c *PipelineCache) SPIRVStats() cache.Stats {
	return c.spirv.Stats()
}

func (c *PipelineCache) destroyEntry(e *pipelineEntry) {
	if e.pipeline != nil {
		c.device.DestroyComputePipeline(e.pipeline)
		e.pipeline = nil
	}
	if e.layout != nil {
		c.device.DestroyPipelineLayout(e.layout)
		e.layout = nil
	}
	if e.bgLayout != nil {
		c.device.DestroyBindGroupLayout(e.bgLayout)
		e.bgLayout = nil
	}
	if e.module != nil {
		c.device.DestroyShaderModule(e.module)
		e.module = nil
	}
}

// Close releases every pipeline. Registered sources are kept, so kernels
// can be queued and built again.
func (c *PipelineCache) Close() {
	for _, e := range c.entries {
		c.destroyEntry(e)
	}
	clear(c.entries)
	c.queued = nil
	c.spirv.Clear()
}
