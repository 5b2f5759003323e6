// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package render

import (
	"errors"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// Errors returned by OpenHAL.
var (
	// ErrNoHAL is returned when a device handle does not expose HAL objects.
	ErrNoHAL = errors.New("render: device handle does not expose HalDevice/HalQueue")

	// ErrNotHAL is returned when HalDevice or HalQueue has the wrong type.
	ErrNotHAL = errors.New("render: HalDevice/HalQueue is not a hal.Device/hal.Queue")
)

// DeviceHandle provides GPU device access from the host application.
//
// DeviceHandle is an alias for gpucontext.DeviceProvider, so any gpucontext
// host can drive the allocator directly.
type DeviceHandle = gpucontext.DeviceProvider

// HALProvider is implemented by device handles that expose their HAL
// device and queue.
type HALProvider interface {
	HalDevice() any
	HalQueue() any
}

// OpenHAL extracts the HAL device and queue from h.
func OpenHAL(h DeviceHandle) (hal.Device, hal.Queue, error) {
	hp, ok := h.(HALProvider)
	if !ok {
		return nil, nil, ErrNoHAL
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, nil, ErrNotHAL
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, nil, ErrNotHAL
	}
	return device, queue, nil
}

// NullDeviceHandle is a DeviceHandle without a device.
type NullDeviceHandle struct{}

// Device returns nil for the null device.
func (NullDeviceHandle) Device() gpucontext.Device { return nil }

// Queue returns nil for the null device.
func (NullDeviceHandle) Queue() gpucontext.Queue { return nil }

// Adapter returns nil for the null device.
func (NullDeviceHandle) Adapter() gpucontext.Adapter { return nil }

// AdapterInfo reports an unknown adapter.
func (NullDeviceHandle) AdapterInfo() gpucontext.AdapterInfo {
	return gpucontext.AdapterInfo{Type: gpucontext.AdapterTypeUnknown}
}

// SurfaceFormat returns undefined format for the null device.
func (NullDeviceHandle) SurfaceFormat() gputypes.TextureFormat {
	return gputypes.TextureFormatUndefined
}

// Ensure NullDeviceHandle implements DeviceHandle.
var _ DeviceHandle = NullDeviceHandle{}
