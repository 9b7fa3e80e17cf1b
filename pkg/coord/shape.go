package coord

import (
	"slices"
	"strconv"
	"strings"

	"github.com/mesh-runtime/mesh-go/pkg/fault"
)

// Shape is the ordered list of dimension sizes of a mesh.
// The zero value has rank 0 and is not a valid shape.
type Shape struct {
	dims []int
}

// NewShape creates a shape. Rank must be at least 1 and every dimension positive.
func NewShape(dims ...int) (Shape, error) {
	if len(dims) == 0 {
		return Shape{}, fault.Configf("coord.NewShape", "mesh shape must have at least one dimension")
	}
	for i, d := range dims {
		if d <= 0 {
			return Shape{}, fault.Configf("coord.NewShape",
				"invalid mesh shape %v: dimension %d is %d, all dimensions must be positive", dims, i, d)
		}
	}
	return Shape{dims: slices.Clone(dims)}, nil
}

// MustShape is like NewShape but panics on error.
func MustShape(dims ...int) Shape {
	s, err := NewShape(dims...)
	if err != nil {
		panic(err)
	}
	return s
}

// Dims returns the rank of the shape.
func (s Shape) Dims() int {
	return len(s.dims)
}

// Dim returns the size of dimension i.
func (s Shape) Dim(i int) int {
	return s.dims[i]
}

// Sizes returns a copy of the dimension sizes.
func (s Shape) Sizes() []int {
	return slices.Clone(s.dims)
}

// Size returns the number of coordinates in the shape.
func (s Shape) Size() int {
	if len(s.dims) == 0 {
		return 0
	}
	n := 1
	for _, d := range s.dims {
		n *= d
	}
	return n
}

// IsValid reports whether s was built by NewShape.
func (s Shape) IsValid() bool {
	return len(s.dims) > 0
}

// IsLine reports whether at most one dimension is larger than one.
func (s Shape) IsLine() bool {
	n := 0
	for _, d := range s.dims {
		if d > 1 {
			n++
		}
	}
	return n <= 1
}

// Equal reports whether both shapes have the same dimensions.
func (s Shape) Equal(o Shape) bool {
	return slices.Equal(s.dims, o.dims)
}

// Contains reports whether c lies within the shape.
func (s Shape) Contains(c Coordinate) bool {
	s.checkRank("Shape.Contains", c.Dims())
	for i, v := range c.idx {
		if v < 0 || v >= s.dims[i] {
			return false
		}
	}
	return true
}

// Linear returns the row-major index of c.
func (s Shape) Linear(c Coordinate) int {
	s.checkRank("Shape.Linear", c.Dims())
	n := 0
	for i, v := range c.idx {
		n = n*s.dims[i] + v
	}
	return n
}

// CoordAt returns the coordinate at row-major index i.
func (s Shape) CoordAt(i int) Coordinate {
	idx := make([]int, len(s.dims))
	for d := len(s.dims) - 1; d >= 0; d-- {
		idx[d] = i % s.dims[d]
		i /= s.dims[d]
	}
	return Coordinate{idx: idx}
}

// String formats the shape as "2x4".
func (s Shape) String() string {
	parts := make([]string, len(s.dims))
	for i, d := range s.dims {
		parts[i] = strconv.Itoa(d)
	}
	return strings.Join(parts, "x")
}

// ParseShape parses "2x4" (or "2,4") into a shape.
func ParseShape(text string) (Shape, error) {
	text = strings.TrimSpace(text)
	sep := "x"
	if strings.Contains(text, ",") {
		sep = ","
	}
	fields := strings.Split(text, sep)
	dims := make([]int, 0, len(fields))
	for _, f := range fields {
		d, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return Shape{}, fault.Configf("coord.ParseShape", "invalid mesh shape %q: %v", text, err)
		}
		dims = append(dims, d)
	}
	return NewShape(dims...)
}

func (s Shape) checkRank(op string, dims int) {
	if dims != len(s.dims) {
		fault.Panicf(op, "rank mismatch: shape %s has %d dimensions, operand has %d", s, len(s.dims), dims)
	}
}
