// Package fault classifies the errors raised by the mesh runtime.
//
// Every failure in the runtime is a programming or configuration error meant
// to be caught during development and hardware bring-up. Nothing is retried.
// Errors therefore carry a class and the operation that raised them, and
// their message always names the offending values:
//
//   - Configuration: heterogeneous hardware, shape or rank mismatch,
//     non-divisible tiling, out-of-bounds offsets, reused trace ids
//   - Capacity: not enough free units, trace region exhausted
//   - Unsupported: per-unit queries requested on a whole mesh
//   - Invariant: internal consistency violations (mutating a finalized
//     trace, a broken segment partition)
//
// Callers test the class with errors.Is:
//
//	if errors.Is(err, fault.ErrCapacity) {
//	    // report requested vs available
//	}
//
// Package-level sentinels from other packages remain reachable through
// errors.Is as well, since the classified error wraps them.
package fault
