// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package render

import (
	"errors"
	"testing"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
)

func TestNullDeviceHandle(t *testing.T) {
	var handle DeviceHandle = NullDeviceHandle{}

	if handle.Device() != nil {
		t.Error("NullDeviceHandle.Device() should return nil")
	}
	if handle.Queue() != nil {
		t.Error("NullDeviceHandle.Queue() should return nil")
	}
	if handle.Adapter() != nil {
		t.Error("NullDeviceHandle.Adapter() should return nil")
	}
	if handle.SurfaceFormat() != gputypes.TextureFormatUndefined {
		t.Error("NullDeviceHandle.SurfaceFormat() should return Undefined")
	}
	if _, _, err := OpenHAL(handle); !errors.Is(err, ErrNoHAL) {
		t.Errorf("OpenHAL(null) err = %v, want ErrNoHAL", err)
	}
}

func TestNoopDevice(t *testing.T) {
	d := NewNoopDevice()
	device, queue, err := OpenHAL(d)
	if err != nil {
		t.Fatalf("OpenHAL: %v", err)
	}
	if device == nil || queue == nil {
		t.Fatal("OpenHAL returned nil objects")
	}
	if d.AdapterInfo().Type != gpucontext.AdapterTypeSoftware {
		t.Errorf("adapter type = %v", d.AdapterInfo().Type)
	}
}

// wrongHAL exposes objects of the wrong type.
type wrongHAL struct{ NullDeviceHandle }

func (wrongHAL) HalDevice() any { return 42 }
func (wrongHAL) HalQueue() any  { return "queue" }

func TestOpenHALWrongTypes(t *testing.T) {
	if _, _, err := OpenHAL(wrongHAL{}); !errors.Is(err, ErrNotHAL) {
		t.Errorf("err = %v, want ErrNotHAL", err)
	}
}

func TestDeviceHandleAlias(t *testing.T) {
	var provider gpucontext.DeviceProvider = NewNoopDevice()
	var handle DeviceHandle = provider
	_ = handle
}
