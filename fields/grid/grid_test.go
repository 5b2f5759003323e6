package grid_test

import (
	"encoding/binary"
	"math"
	"strings"
	"testing"

	"github.com/gogpu/wgpu/hal/noop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/cornfield"
	"github.com/gogpu/cornfield/fields/grid"
	"github.com/gogpu/cornfield/internal/gpu"
	"github.com/gogpu/cornfield/render"
)

func testParams() grid.Params {
	return grid.Params{
		Origin:   [3]float32{10, 0, -4},
		Spacing:  0.5,
		Rows:     3,
		Cols:     7,
		Scale:    1,
		Jitter:   0.2,
		Seed:     42,
		Variants: 4,
	}
}

func TestParamsBytes(t *testing.T) {
	b := testParams().Bytes()
	require.Len(t, b, grid.ParamsSize)

	le := binary.LittleEndian
	assert.Equal(t, float32(10), math.Float32frombits(le.Uint32(b[0:])))
	assert.Equal(t, float32(-4), math.Float32frombits(le.Uint32(b[8:])))
	assert.Equal(t, float32(0.5), math.Float32frombits(le.Uint32(b[12:])))
	assert.Equal(t, uint32(3), le.Uint32(b[16:]))
	assert.Equal(t, uint32(7), le.Uint32(b[20:]))
	assert.Equal(t, uint32(42), le.Uint32(b[32:]))
	assert.Equal(t, uint32(4), le.Uint32(b[36:]))
	assert.Equal(t, make([]byte, 8), b[40:], "padding is zero")
}

func TestIdentity(t *testing.T) {
	base := testParams()
	assert.Equal(t, base.Identity(), testParams().Identity(), "identity is stable")

	tests := []struct {
		name   string
		mutate func(*grid.Params)
	}{
		{"origin", func(p *grid.Params) { p.Origin[1] = 1 }},
		{"spacing", func(p *grid.Params) { p.Spacing = 0.75 }},
		{"rows", func(p *grid.Params) { p.Rows = 4 }},
		{"swap rows and cols", func(p *grid.Params) { p.Rows, p.Cols = p.Cols, p.Rows }},
		{"seed", func(p *grid.Params) { p.Seed = 43 }},
		{"variants", func(p *grid.Params) { p.Variants = 1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testParams()
			tt.mutate(&p)
			assert.NotEqual(t, base.Identity(), p.Identity())
		})
	}

	negZero := testParams()
	negZero.Origin[1] = float32(math.Copysign(0, -1))
	assert.Equal(t, base.Identity(), negZero.Identity(), "-0 and 0 hash equally")
}

func TestField(t *testing.T) {
	f := grid.New(3, testParams())
	assert.Equal(t, cornfield.Kind(3), f.Kind())
	assert.Equal(t, testParams().Identity(), f.Identity())
	assert.Equal(t, uint64(21), f.InstanceCount())
	assert.False(t, f.NeedsContiguousSpace())
	assert.True(t, f.IsReady())

	params, n := f.BuildInitDispatch(cornfield.DispatchTarget{})
	assert.Equal(t, testParams().Bytes(), params)
	assert.Zero(t, n)
}

func TestShaderCompiles(t *testing.T) {
	pc := gpu.NewPipelineCache(&noop.Device{}, false)
	require.NoError(t, pc.RegisterInit(1, grid.Name, grid.Shader))

	src, ok := pc.Source(gpu.InitKernel(1))
	require.True(t, ok)
	assert.Contains(t, src, "fn init_instance")

	if _, err := gpu.CompileSPIRV(src); err != nil {
		msg := err.Error()
		if strings.Contains(msg, "not yet implemented") || strings.Contains(msg, "not supported") {
			t.Skipf("Skipping: naga feature not yet implemented: %v", err)
		}
		t.Fatalf("CompileSPIRV: %v", err)
	}
}

func TestManagerAllocatesGrids(t *testing.T) {
	m, err := cornfield.NewFromProvider(render.NewNoopDevice())
	require.NoError(t, err)
	defer m.Close()

	kind, err := grid.Register(m)
	require.NoError(t, err)

	a := grid.New(kind, testParams())
	p := testParams()
	p.Origin[0] = 20
	b := grid.New(kind, p)

	var rep cornfield.FrameReport
	for range 2 {
		require.NoError(t, m.Submit(a))
		require.NoError(t, m.Submit(b))
		rep, err = m.Frame()
		require.NoError(t, err)
	}
	require.Equal(t, cornfield.StatusCommitted, rep.Status)
	assert.Equal(t, uint64(42), rep.Capacity)
	assert.Equal(t, 2, rep.Allocated)
	assert.True(t, m.View().Drawable())
}
