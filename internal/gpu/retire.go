package gpu

import (
	"github.com/gogpu/wgpu/hal"
)

// retired holds resources that may still be referenced by the submission
// with the given index.
type retired struct {
	submission uint64
	buffers    []hal.Buffer
	groups     []hal.BindGroup
	commands   []hal.CommandBuffer
}

// Retirer destroys GPU resources once the queue reports that the work using
// them completed. It implements storage.Releaser, so buffers replaced by a
// commit are kept alive until the submission that last read them retires.
type Retirer struct {
	device hal.Device
	queue  hal.Queue

	pending []retired
	last    uint64
}

// NewRetirer returns a retirer for device and queue.
func NewRetirer(device hal.Device, queue hal.Queue) *Retirer {
	return &Retirer{device: device, queue: queue}
}

// Submitted records the index of the latest submission.
func (r *Retirer) Submitted(index uint64) {
	r.last = max(r.last, index)
}

// DestroyBuffer schedules buf for destruction after the latest submission.
func (r *Retirer) DestroyBuffer(buf hal.Buffer) {
	if buf == nil {
		return
	}
	r.Retire(r.last, []hal.Buffer{buf}, nil, nil)
}

// Retire schedules resources for destruction after submission completes.
func (r *Retirer) Retire(submission uint64, buffers []hal.Buffer, groups []hal.BindGroup, commands []hal.CommandBuffer) {
	if len(buffers) == 0 && len(groups) == 0 && len(commands) == 0 {
		return
	}
	r.pending = append(r.pending, retired{
		submission: submission,
		buffers:    buffers,
		groups:     groups,
		commands:   commands,
	})
}

// Collect destroys everything whose submission completed and returns the
// number of destroyed resources.
func (r *Retirer) Collect() int {
	if len(r.pending) == 0 {
		return 0
	}
	done := r.queue.PollCompleted()
	n := 0
	keep := r.pending[:0]
	for _, p := range r.pending {
		if p.submission > done {
			keep = append(keep, p)
			continue
		}
		n += r.destroy(p)
	}
	clear(r.pending[len(keep):])
	r.pending = keep
	if n > 0 {
		slogger().Debug("cornfield: retired resources", "count", n, "completed", done)
	}
	return n
}

// Drain waits for the device to go idle and destroys everything pending.
func (r *Retirer) Drain() error {
	if len(r.pending) == 0 {
		return nil
	}
	err := r.device.WaitIdle()
	for _, p := range r.pending {
		r.destroy(p)
	}
	r.pending = nil
	return err
}

// Pending returns the number of resources awaiting destruction.
func (r *Retirer) Pending() int {
	n := 0
	for _, p := range r.pending {
		n += len(p.buffers) + len(p.groups) + len(p.commands)
	}
	return n
}

func (r *Retirer) destroy(p retired) int {
	for _, g := range p.groups {
		r.device.DestroyBindGroup(g)
	}
	for _, c := range p.commands {
		r.device.FreeCommandBuffer(c)
	}
	for _, b := range p.buffers {
		r.device.DestroyBuffer(b)
	}
	return len(p.buffers) + len(p.groups) + len(p.commands)
}
