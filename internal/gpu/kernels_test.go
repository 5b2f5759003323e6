package gpu

import (
	"errors"
	"strings"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"

	"github.com/gogpu/cornfield/field"
)

func TestKernelNames(t *testing.T) {
	tests := []struct {
		k    Kernel
		want string
	}{
		{KernelFlagStale, "flag_stale"},
		{KernelDefrag, "defrag"},
		{InitKernel(1), "init[kind#1]"},
		{InitKernel(42), "init[kind#42]"},
	}
	for _, tt := range tests {
		if got := tt.k.String(); got != tt.want {
			t.Errorf("Kernel(%d).String() = %q, want %q", uint32(tt.k), got, tt.want)
		}
	}
}

func TestInitKernelKind(t *testing.T) {
	kind, ok := InitKernel(7).Kind()
	if !ok || kind != field.Kind(7) {
		t.Errorf("Kind() = %v, %v", kind, ok)
	}
	if _, ok := KernelDefrag.Kind(); ok {
		t.Error("defrag reported a field kind")
	}
}

func TestInitSourceValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
		ok   bool
	}{
		{"complete", testInitBody, true},
		{"no params", "fn init_instance(local: u32) -> Instance { var o: Instance; return o; }", false},
		{"no init", "struct FieldParams { x: f32, }", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := initSource("test", tt.body)
			if tt.ok {
				if err != nil {
					t.Fatalf("initSource: %v", err)
				}
				if src.layout != layoutInit || src.label != "cornfield_init_test" {
					t.Errorf("source = %+v", src)
				}
				if !strings.Contains(src.wgsl, "fn find_entry") || !strings.Contains(src.wgsl, "fn init_instance") {
					t.Error("assembled module misses shared or kind declarations")
				}
				return
			}
			if !errors.Is(err, ErrInvalidKernel) {
				t.Errorf("err = %v, want ErrInvalidKernel", err)
			}
		})
	}
}

func TestBindingLayouts(t *testing.T) {
	tests := []struct {
		layout bindingLayout
		want   []gputypes.BufferBindingType
	}{
		{layoutFlagStale, []gputypes.BufferBindingType{
			gputypes.BufferBindingTypeUniform,
			gputypes.BufferBindingTypeReadOnlyStorage,
			gputypes.BufferBindingTypeStorage,
		}},
		{layoutDefrag, []gputypes.BufferBindingType{
			gputypes.BufferBindingTypeUniform,
			gputypes.BufferBindingTypeReadOnlyStorage,
			gputypes.BufferBindingTypeReadOnlyStorage,
			gputypes.BufferBindingTypeStorage,
		}},
		{layoutInit, []gputypes.BufferBindingType{
			gputypes.BufferBindingTypeUniform,
			gputypes.BufferBindingTypeReadOnlyStorage,
			gputypes.BufferBindingTypeStorage,
			gputypes.BufferBindingTypeReadOnlyStorage,
		}},
	}
	for _, tt := range tests {
		entries := tt.layout.entries()
		if len(entries) != len(tt.want) {
			t.Fatalf("layout %d: %d entries, want %d", tt.layout, len(entries), len(tt.want))
		}
		for i, e := range entries {
			if e.Binding != uint32(i) || e.Buffer == nil || e.Buffer.Type != tt.want[i] {
				t.Errorf("layout %d binding %d = %+v", tt.layout, i, e)
			}
			if e.Visibility != gputypes.ShaderStageCompute {
				t.Errorf("layout %d binding %d not compute visible", tt.layout, i)
			}
		}
	}
}

// TestKernelShaderCompilation checks that every kernel module compiles to
// SPIR-V with naga.
func TestKernelShaderCompilation(t *testing.T) {
	sources := builtinSources()
	initSrc, err := initSource("test", testInitBody)
	if err != nil {
		t.Fatal(err)
	}
	sources[InitKernel(1)] = initSrc

	for k, src := range sources {
		t.Run(k.String(), func(t *testing.T) {
			words, err := CompileSPIRV(src.wgsl)
			if err != nil {
				msg := err.Error()
				if strings.Contains(msg, "not yet implemented") || strings.Contains(msg, "not supported") {
					t.Skipf("Skipping: naga feature not yet implemented: %v", err)
				}
				t.Fatalf("compile %s: %v", k, err)
			}
			if len(words) == 0 || words[0] != 0x07230203 {
				t.Errorf("bad SPIR-V header for %s", k)
			}
		})
	}
}

func TestKernelShaderParse(t *testing.T) {
	for k, src := range builtinSources() {
		if _, err := naga.Parse(src.wgsl); err != nil {
			t.Errorf("parse %s: %v", k, err)
		}
	}
}
