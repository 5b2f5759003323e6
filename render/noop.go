// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package render

import (
	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
)

// NoopDevice is a DeviceHandle backed by the wgpu noop backend. Buffers
// live in memory and every submission completes immediately; compute
// kernels do not run. It is meant for tests and headless simulation.
type NoopDevice struct {
	device *noop.Device
	queue  *noop.Queue
}

// NewNoopDevice creates a noop device and queue.
func NewNoopDevice() *NoopDevice {
	return &NoopDevice{device: &noop.Device{}, queue: &noop.Queue{}}
}

// Device returns the noop HAL device.
func (d *NoopDevice) Device() gpucontext.Device { return d.device }

// Queue returns the noop HAL queue.
func (d *NoopDevice) Queue() gpucontext.Queue { return d.queue }

// Adapter returns nil; the noop backend has no adapter object here.
func (d *NoopDevice) Adapter() gpucontext.Adapter { return nil }

// AdapterInfo describes the noop adapter.
func (d *NoopDevice) AdapterInfo() gpucontext.AdapterInfo {
	return gpucontext.AdapterInfo{Name: "noop", Type: gpucontext.AdapterTypeSoftware}
}

// SurfaceFormat returns undefined; the noop device never presents.
func (d *NoopDevice) SurfaceFormat() gputypes.TextureFormat {
	return gputypes.TextureFormatUndefined
}

// HalDevice returns the device as hal.Device.
func (d *NoopDevice) HalDevice() any { return hal.Device(d.device) }

// HalQueue returns the queue as hal.Queue.
func (d *NoopDevice) HalQueue() any { return hal.Queue(d.queue) }

var (
	_ DeviceHandle = (*NoopDevice)(nil)
	_ HALProvider  = (*NoopDevice)(nil)
)
