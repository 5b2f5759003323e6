// Package cornfield allocates GPU instance storage for many independently
// appearing and disappearing groups of instances ("fields").
//
// # Overview
//
// Scatter systems such as grass, rocks or debris produce thousands of small
// fields that come and go as the camera moves. cornfield packs all of them
// into one shared instance buffer that a renderer draws with a single
// indirect draw. Each frame the caller submits the fields that should be
// visible; the Manager works out which slots to reuse, which to reclaim and
// which to initialize, and records the GPU work to get there.
//
// # Quick Start
//
//	mgr, err := cornfield.NewFromProvider(provider)
//	if err != nil {
//	    return err
//	}
//	defer mgr.Close()
//
//	grass, _ := mgr.RegisterKind(cornfield.KindDescriptor{
//	    Name:       "grass",
//	    Shader:     grid.Shader,
//	    ParamsSize: grid.ParamsSize,
//	})
//
//	// every frame
//	for _, tile := range visibleTiles {
//	    mgr.Submit(grid.New(grass, tile.Params()))
//	}
//	report, err := mgr.Frame()
//	view := mgr.View()
//	render.Draw(pass, view, 1)
//
// # Frames
//
// Frame runs the lifecycle of every identity (Unloaded, Loading, Loaded,
// Stale), builds an operation plan and executes it. A plan is either
// committed as a whole or not at all:
//
//   - Committed: commands were submitted and storage updated
//   - Deferred: a kernel is still compiling; nothing changed
//   - Failed: recording or submission failed; nothing changed
//   - Noop: there was nothing to do
//
// Slots of fields that disappear are flagged disabled on the GPU and reused
// by later fields. When the buffer becomes too large or too fragmented it is
// compacted and shrunk.
//
// # Field kinds
//
// A kind pairs a WGSL init kernel body with a parameter block layout. The
// body declares struct FieldParams and fn init_instance(local: u32) ->
// Instance; cornfield wraps it in the range-table entry point. Ready-made
// kinds live in the fields/ packages.
//
// # Rendering
//
// View returns the instance buffer, its indirect draw arguments and a
// generation counter. Renderers rebuild bind groups when the generation
// changes and must cull instances whose enabled flag is clear.
//
// # Logging
//
// cornfield logs through log/slog. By default nothing is logged; see
// SetLogger.
package cornfield
