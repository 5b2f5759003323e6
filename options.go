package cornfield

import (
	"log/slog"

	"github.com/gogpu/cornfield/internal/plan"
)

// DefaultMeshIndexCount is the index count written into the indirect draw
// arguments when WithMeshIndexCount is not given: one quad.
const DefaultMeshIndexCount = 6

// Option configures a Manager during creation.
//
// Example:
//
//	mgr, err := cornfield.New(device, queue,
//	    cornfield.WithMeshIndexCount(36),
//	    cornfield.WithReadback(true),
//	)
type Option func(*options)

// options holds optional configuration for Manager creation.
type options struct {
	planner        plan.Config
	meshIndexCount uint32
	precompile     bool
	logger         *slog.Logger
}

// defaultOptions returns the default manager options.
func defaultOptions() options {
	return options{
		planner:        plan.DefaultConfig(),
		meshIndexCount: DefaultMeshIndexCount,
	}
}

// WithReadback copies the instance buffer back to the CPU after every frame
// that changed it and logs a decoded summary at debug level. The latest
// result is available from Manager.LastReadback. Meant for debugging.
func WithReadback(enabled bool) Option {
	return func(o *options) {
		o.planner.Readback = enabled
	}
}

// WithMeshIndexCount sets the index count of the mesh drawn per instance,
// written into the indirect draw arguments.
func WithMeshIndexCount(n uint32) Option {
	return func(o *options) {
		o.meshIndexCount = n
	}
}

// WithShrinkRatio sets how oversized the buffer may become before it is
// compacted and shrunk: capacity/used >= ratio triggers a shrink.
// It must exceed the growth factor.
func WithShrinkRatio(ratio float64) Option {
	return func(o *options) {
		o.planner.ShrinkRatio = ratio
	}
}

// WithGrowthFactor sets the headroom kept after a shrink: the new capacity
// is used*factor.
func WithGrowthFactor(factor float64) Option {
	return func(o *options) {
		o.planner.GrowthFactor = factor
	}
}

// WithDefragThreshold sets the average number of disjoint ranges per field
// above which the buffer is compacted in place.
func WithDefragThreshold(rangesPerField float64) Option {
	return func(o *options) {
		o.planner.DefragRangesPerField = rangesPerField
	}
}

// WithMaxContiguous sets the longest contiguous allocation a field may
// request. Longer requests are rejected and logged.
func WithMaxContiguous(slots uint64) Option {
	return func(o *options) {
		o.planner.MaxContiguous = slots
	}
}

// WithPrecompiledShaders compiles kernels to SPIR-V with naga instead of
// handing WGSL to the device.
func WithPrecompiledShaders(enabled bool) Option {
	return func(o *options) {
		o.precompile = enabled
	}
}

// WithLogger sets the logger used by this manager's frame loop. Without it
// the manager logs through Logger. The internal GPU layer always uses the
// logger set with SetLogger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}
