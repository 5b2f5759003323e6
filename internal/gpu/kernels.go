package gpu

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/cornfield/field"
)

//go:embed shaders/ranges.wgsl
var shaderRanges string

//go:embed shaders/flag_stale.wgsl
var shaderFlagStale string

//go:embed shaders/defrag.wgsl
var shaderDefrag string

//go:embed shaders/init_main.wgsl
var shaderInitMain string

// ErrInvalidKernel is returned when an init kernel source lacks the
// declarations the shared entry point calls.
var ErrInvalidKernel = errors.New("gpu: invalid init kernel source")

// Kernel identifies a compute kernel. The two generic kernels have fixed
// values; every registered field kind owns one init kernel.
type Kernel uint32

const (
	// KernelFlagStale clears the enabled flag of stale slots.
	KernelFlagStale Kernel = iota
	// KernelDefrag copies live slots into a packed layout.
	KernelDefrag

	kernelInitBase
)

// InitKernel returns the init kernel of a field kind.
func InitKernel(k field.Kind) Kernel {
	return kernelInitBase + Kernel(k)
}

// Kind returns the field kind of an init kernel.
func (k Kernel) Kind() (field.Kind, bool) {
	if k < kernelInitBase {
		return field.NoKind, false
	}
	return field.Kind(k - kernelInitBase), true //nolint:gosec // inverse of InitKernel
}

// String returns the kernel name.
func (k Kernel) String() string {
	switch k {
	case KernelFlagStale:
		return "flag_stale"
	case KernelDefrag:
		return "defrag"
	default:
		kind, _ := k.Kind()
		return fmt.Sprintf("init[%s]", kind)
	}
}

// bindingLayout selects the bind group layout of a kernel.
type bindingLayout int

const (
	// params, ranges, instances
	layoutFlagStale bindingLayout = iota
	// params, ranges, src, dst
	layoutDefrag
	// params, ranges, instances, field params
	layoutInit
)

func (l bindingLayout) entries() []gputypes.BindGroupLayoutEntry {
	buffer := func(binding uint32, t gputypes.BufferBindingType) gputypes.BindGroupLayoutEntry {
		return gputypes.BindGroupLayoutEntry{
			Binding:    binding,
			Visibility: gputypes.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: t},
		}
	}
	common := []gputypes.BindGroupLayoutEntry{
		buffer(0, gputypes.BufferBindingTypeUniform),
		buffer(1, gputypes.BufferBindingTypeReadOnlyStorage),
	}
	switch l {
	case layoutDefrag:
		return append(common,
			buffer(2, gputypes.BufferBindingTypeReadOnlyStorage),
			buffer(3, gputypes.BufferBindingTypeStorage))
	case layoutInit:
		return append(common,
			buffer(2, gputypes.BufferBindingTypeStorage),
			buffer(3, gputypes.BufferBindingTypeReadOnlyStorage))
	default:
		return append(common,
			buffer(2, gputypes.BufferBindingTypeStorage))
	}
}

// kernelSource is the complete WGSL module of one kernel.
type kernelSource struct {
	label  string
	wgsl   string
	layout bindingLayout
}

func builtinSources() map[Kernel]kernelSource {
	return map[Kernel]kernelSource{
		KernelFlagStale: {
			label:  "cornfield_flag_stale",
			wgsl:   shaderRanges + "\n" + shaderFlagStale,
			layout: layoutFlagStale,
		},
		KernelDefrag: {
			label:  "cornfield_defrag",
			wgsl:   shaderRanges + "\n" + shaderDefrag,
			layout: layoutDefrag,
		},
	}
}

// initSource assembles the module of a field kind's init kernel from the
// kind-specific body.
func initSource(name, body string) (kernelSource, error) {
	if !strings.Contains(body, "struct FieldParams") {
		return kernelSource{}, fmt.Errorf("%w: %s: missing struct FieldParams", ErrInvalidKernel, name)
	}
	if !strings.Contains(body, "fn init_instance") {
		return kernelSource{}, fmt.Errorf("%w: %s: missing fn init_instance", ErrInvalidKernel, name)
	}
	return kernelSource{
		label:  "cornfield_init_" + name,
		wgsl:   shaderRanges + "\n" + shaderInitMain + "\n" + body,
		layout: layoutInit,
	}, nil
}
