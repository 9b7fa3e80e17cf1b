// Package coord implements the coordinate algebra of a mesh.
//
// A [Shape] is an ordered list of positive dimension sizes. A [Coordinate]
// holds one index per dimension, and a [Range] is an axis-aligned box of
// coordinates with inclusive start and end:
//
//	shape := coord.MustShape(2, 4)          // 2 rows, 4 columns
//	full := coord.FullRange(shape)          // (0, 0) - (1, 3)
//	left := coord.MustRange(coord.C(0, 0), coord.C(1, 1))
//	rest := full.Complement(left)           // one box: (0, 2) - (1, 3)
//
// All operations are pure. Combining values of different rank is a
// programming error and panics with an invariant error from package fault.
//
// # Complement
//
// Complement(a, b) returns disjoint boxes covering a \ b. For each axis in
// turn it slices off the part of the remaining core strictly before and after
// b's interval on that axis, then narrows the core to b's interval and moves
// on. The result has at most 2*rank boxes, and together with a ∩ b it covers
// every coordinate of a exactly once.
package coord
