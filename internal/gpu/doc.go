// Package gpu records and submits the GPU work of the instance allocator.
//
// Every kernel is a range-table compute shader: binding(0) is a uniform
// KernelParams block, binding(1) a table of RangeEntry values that maps a
// flat invocation index onto buffer slots. The kernels are:
//
//   - flag_stale clears the enabled flag of slots whose owner disappeared
//   - defrag copies live slots from the old buffer into a packed scratch buffer
//   - init[kind] writes the instances of one newly allocated field
//
// Kernels are compiled lazily by PipelineCache. The Executor refuses to
// record a frame until every kernel the plan needs is ready, so a frame is
// either recorded and committed in full or deferred with nothing mutated.
//
// Frame flow:
//
//	OperationPlan -> gate -> encode (copy, dispatch) -> submit -> commit to storage
//
// Transient resources and replaced buffers are handed to a Retirer, which
// destroys them once Queue.PollCompleted reaches their submission.
package gpu
