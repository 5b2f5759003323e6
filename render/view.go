// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package render

import (
	"github.com/gogpu/wgpu/hal"
)

// View is the renderer-facing snapshot of the instance buffer.
type View struct {
	// Buffer holds InstanceCount records of the allocator's instance layout.
	Buffer hal.Buffer
	// Indirect holds DrawIndexedIndirect arguments for Buffer.
	Indirect hal.Buffer
	// Generation changes whenever Buffer is replaced or released.
	Generation uint64
	// InstanceCount is the number of records the renderer must cover.
	// Records whose enabled flag is clear must be culled.
	InstanceCount uint64
	// Ready is set when Buffer and Indirect are valid for Generation.
	Ready bool
}

// Drawable reports whether v can be drawn.
func (v View) Drawable() bool {
	return v.Ready && v.Buffer != nil && v.Indirect != nil && v.InstanceCount > 0
}

// Draw binds the instance buffer to vertex slot and issues one indirect
// indexed draw. The caller sets pipeline, index buffer and per-mesh vertex
// buffers beforehand. It reports whether anything was drawn.
func Draw(pass hal.RenderPassEncoder, v View, slot uint32) bool {
	if !v.Drawable() {
		return false
	}
	pass.SetVertexBuffer(slot, v.Buffer, 0)
	pass.DrawIndexedIndirect(v.Indirect, 0)
	return true
}

// Binding remembers which buffer generation a renderer's bind groups were
// built for.
type Binding struct {
	generation uint64
	bound      bool
}

// Changed reports whether v belongs to a different generation than the
// last call and records v's generation.
func (b *Binding) Changed(v View) bool {
	if b.bound && b.generation == v.Generation {
		return false
	}
	b.generation = v.Generation
	b.bound = true
	return true
}

// Reset forgets the recorded generation.
func (b *Binding) Reset() {
	*b = Binding{}
}
