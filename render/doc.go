// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package render is the boundary between the instance allocator and the
// host application's GPU stack.
//
// # Key Principle
//
// The allocator RECEIVES a GPU device from the host application, it does
// NOT create one. A host passes a DeviceHandle (gpucontext.DeviceProvider)
// that also exposes its HAL objects through HalDevice and HalQueue.
//
// # Consuming the buffer
//
// A renderer reads a View once per frame. The view is only drawable when
// Ready is set; the instance buffer and the indirect arguments then belong
// to the same generation. Bind groups that reference the buffer must be
// rebuilt whenever Generation changes, which Binding tracks:
//
//	var b render.Binding
//	view := mgr.View()
//	if b.Changed(view) {
//	    rebuildBindGroups(view.Buffer)
//	}
//	render.Draw(pass, view, 1)
package render
