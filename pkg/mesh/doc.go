// Package mesh presents a grid of physical accelerator units as one
// logical device.
//
// A [MeshDevice] is opened over units acquired from a [device.Pool]. Its
// [View] maps mesh coordinates to units in row-major order. Submeshes carve
// out a sub-grid of the same units; Reshape rearranges the units into
// another shape of the same size while keeping physical neighbours
// adjacent.
//
// Work is issued through a [CommandQueue]. Between BeginTrace and EndTrace
// the programs enqueued on a queue are recorded per coordinate range
// instead of executed. EndTrace uploads the recorded trace into the trace
// region of the units, and ReplayTrace re-issues it with a short command
// sequence per unit.
//
//	m, err := mesh.Create(pool, cfg, mesh.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//	defer m.Close()
//
//	q, _ := m.MeshCommandQueue(0)
//	_ = m.BeginTrace(0, id)
//	_ = q.EnqueueWorkload(ctx, workload, false)
//	_ = m.EndTrace(ctx, 0, id)
//	_ = m.ReplayTrace(ctx, 0, id, true)
package mesh
