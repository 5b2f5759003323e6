package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/gogpu/cornfield"
	"github.com/gogpu/cornfield/fields/grid"
	"github.com/gogpu/cornfield/fields/strip"
	"github.com/gogpu/cornfield/render"
)

// simConfig describes one simulated camera walk.
type simConfig struct {
	Frames int
	// Radius is the number of tiles visible on each side of the camera.
	Radius int
	// Speed is the camera speed in tiles per frame along +X.
	Speed    float64
	TileSize float32
	Rows     uint32
	Cols     uint32
	// StripEvery places a fence strip on every Nth tile column; 0 disables
	// strips.
	StripEvery int
	// LoadDelay is the number of frames a fence mesh takes to load.
	LoadDelay int
	Seed      uint32

	Readback      bool
	ShrinkRatio   float64
	GrowthFactor  float64
	MaxContiguous uint64
}

func defaultSimConfig() simConfig {
	return simConfig{
		Frames:        120,
		Radius:        2,
		Speed:         0.25,
		TileSize:      16,
		Rows:          8,
		Cols:          8,
		StripEvery:    3,
		LoadDelay:     4,
		Seed:          1,
		ShrinkRatio:   1.75,
		GrowthFactor:  1.25,
		MaxContiguous: 65535 * 256,
	}
}

// frameLine is the per-frame output record.
type frameLine struct {
	Frame       uint64 `json:"frame"`
	Status      string `json:"status"`
	Plan        string `json:"plan"`
	Fields      int    `json:"fields"`
	Capacity    uint64 `json:"capacity"`
	Used        uint64 `json:"used"`
	Stale       uint64 `json:"stale"`
	Generation  uint64 `json:"generation"`
	Dispatches  int    `json:"dispatches"`
	Reallocated bool   `json:"reallocated,omitempty"`
	Readback    uint64 `json:"readback_enabled,omitempty"`
}

// simSummary aggregates a whole run.
type simSummary struct {
	Frames        int         `json:"frames"`
	Committed     int         `json:"committed"`
	Deferred      int         `json:"deferred"`
	Noop          int         `json:"noop"`
	Failed        int         `json:"failed"`
	PeakCapacity  uint64      `json:"peak_capacity"`
	FinalCapacity uint64      `json:"final_capacity"`
	Generation    uint64      `json:"generation"`
	Readbacks     int         `json:"readbacks"`
	Lines         []frameLine `json:"lines,omitempty"`
}

type fenceAsset struct {
	gate    strip.Gate
	readyAt int
}

// world produces the fields visible from the camera each frame.
type world struct {
	cfg    simConfig
	grid   cornfield.Kind
	strip  cornfield.Kind
	fences map[int]*fenceAsset
}

func (w *world) visible(frame int) []cornfield.Field {
	cx := int(float64(frame) * w.cfg.Speed)
	r := w.cfg.Radius
	var out []cornfield.Field
	for x := cx - r; x <= cx+r; x++ {
		for z := -r; z <= r; z++ {
			out = append(out, grid.New(w.grid, w.tile(x, z)))
		}
		if w.cfg.StripEvery > 0 && x%w.cfg.StripEvery == 0 {
			out = append(out, strip.New(w.strip, w.fence(x), w.asset(x, frame)))
		}
	}
	return out
}

func (w *world) tile(x, z int) grid.Params {
	size := w.cfg.TileSize
	spacing := size / float32(max(w.cfg.Cols, 1))
	return grid.Params{
		Origin:   [3]float32{float32(x) * size, 0, float32(z) * size},
		Spacing:  spacing,
		Rows:     w.cfg.Rows,
		Cols:     w.cfg.Cols,
		Scale:    1,
		Jitter:   spacing / 2,
		Seed:     w.cfg.Seed ^ uint32(x*73856093) ^ uint32(z*19349663), //nolint:gosec // hash mixing
		Variants: 4,
	}
}

func (w *world) fence(x int) strip.Params {
	size := w.cfg.TileSize
	r := float32(w.cfg.Radius)
	return strip.Params{
		Start: [3]float32{float32(x) * size, 0, -r * size},
		End:   [3]float32{float32(x) * size, 0, (r + 1) * size},
		Count: w.cfg.Cols * uint32(2*w.cfg.Radius+1), //nolint:gosec // small
		Scale: 1,
		Mesh:  "fence_post",
	}
}

// asset starts loading the fence mesh of column x the first time it is
// seen and opens it LoadDelay frames later.
func (w *world) asset(x, frame int) *strip.Gate {
	a, ok := w.fences[x]
	if !ok {
		a = &fenceAsset{readyAt: frame + w.cfg.LoadDelay}
		w.fences[x] = a
	}
	if frame >= a.readyAt {
		a.gate.Open()
	}
	return &a.gate
}

func (c simConfig) options() []cornfield.Option {
	return []cornfield.Option{
		cornfield.WithReadback(c.Readback),
		cornfield.WithShrinkRatio(c.ShrinkRatio),
		cornfield.WithGrowthFactor(c.GrowthFactor),
		cornfield.WithMaxContiguous(c.MaxContiguous),
	}
}

// simulate runs the walk and writes one line per frame to out unless
// quiet is set.
func simulate(cfg simConfig, out io.Writer) (sum simSummary, err error) {
	m, err := cornfield.NewFromProvider(render.NewNoopDevice(), cfg.options()...)
	if err != nil {
		return simSummary{}, err
	}
	defer closeJoin(&err, m)

	w := &world{cfg: cfg, fences: make(map[int]*fenceAsset)}
	if w.grid, err = grid.Register(m); err != nil {
		return simSummary{}, err
	}
	if w.strip, err = strip.Register(m); err != nil {
		return simSummary{}, err
	}

	sum = simSummary{Frames: cfg.Frames}
	for frame := range cfg.Frames {
		fields := w.visible(frame)
		for _, f := range fields {
			if err := m.Submit(f); err != nil {
				return sum, fmt.Errorf("frame %d: submit: %w", frame, err)
			}
		}
		rep, err := m.Frame()
		switch rep.Status {
		case cornfield.StatusCommitted:
			sum.Committed++
		case cornfield.StatusDeferred:
			sum.Deferred++
		case cornfield.StatusNoop:
			sum.Noop++
		case cornfield.StatusFailed:
			sum.Failed++
		}
		if err != nil {
			printInfo(out, "frame %d: %v\n", rep.Frame, err)
		}

		st := m.Stats()
		line := frameLine{
			Frame:       rep.Frame,
			Status:      rep.Status.String(),
			Plan:        rep.Plan,
			Fields:      len(fields),
			Capacity:    st.Capacity,
			Used:        st.Used,
			Stale:       st.Stale,
			Generation:  st.Generation,
			Dispatches:  rep.Dispatches,
			Reallocated: rep.Reallocated,
		}
		if rep.Readback != nil {
			sum.Readbacks++
			line.Readback = rep.Readback.Enabled
		}
		sum.PeakCapacity = max(sum.PeakCapacity, st.Capacity)
		if jsonOut {
			sum.Lines = append(sum.Lines, line)
		} else {
			printInfo(out, "%4d %-9s cap=%-6d used=%-6d stale=%-5d gen=%-3d %s\n",
				line.Frame, line.Status, line.Capacity, line.Used, line.Stale, line.Generation, line.Plan)
		}
	}

	st := m.Stats()
	sum.FinalCapacity = st.Capacity
	sum.Generation = st.Generation
	return sum, nil
}

// closeJoin closes c and joins its error into *err.
func closeJoin(err *error, c io.Closer) {
	if cerr := c.Close(); cerr != nil {
		*err = errors.Join(*err, fmt.Errorf("close: %w", cerr))
	}
}
