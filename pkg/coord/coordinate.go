package coord

import (
	"slices"
	"strconv"
	"strings"

	"github.com/mesh-runtime/mesh-go/pkg/fault"
)

// Coordinate is a position in a mesh, one index per dimension.
type Coordinate struct {
	idx []int
}

// C creates a coordinate from its indices.
func C(idx ...int) Coordinate {
	return Coordinate{idx: slices.Clone(idx)}
}

// Zero returns the origin coordinate of the given rank.
func Zero(dims int) Coordinate {
	return Coordinate{idx: make([]int, dims)}
}

// Dims returns the rank of the coordinate.
func (c Coordinate) Dims() int {
	return len(c.idx)
}

// At returns the index along dimension i.
func (c Coordinate) At(i int) int {
	return c.idx[i]
}

// Values returns a copy of the indices.
func (c Coordinate) Values() []int {
	return slices.Clone(c.idx)
}

// Equal reports whether both coordinates have the same indices.
func (c Coordinate) Equal(o Coordinate) bool {
	return slices.Equal(c.idx, o.idx)
}

// Add returns c shifted by o.
func (c Coordinate) Add(o Coordinate) Coordinate {
	checkRank("Coordinate.Add", c.Dims(), o.Dims())
	idx := make([]int, len(c.idx))
	for i := range c.idx {
		idx[i] = c.idx[i] + o.idx[i]
	}
	return Coordinate{idx: idx}
}

// String formats the coordinate as "(0, 1)".
func (c Coordinate) String() string {
	parts := make([]string, len(c.idx))
	for i, v := range c.idx {
		parts[i] = strconv.Itoa(v)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func checkRank(op string, a, b int) {
	if a != b {
		fault.Panicf(op, "rank mismatch: %d vs %d dimensions", a, b)
	}
}
