package coord

import (
	"slices"

	"github.com/mesh-runtime/mesh-go/pkg/fault"
)

// Range is an axis-aligned box of coordinates with inclusive bounds.
type Range struct {
	start Coordinate
	end   Coordinate
}

// NewRange creates a range from start to end, inclusive.
// Both corners must have the same rank and start must not exceed end on any axis.
func NewRange(start, end Coordinate) (Range, error) {
	if start.Dims() != end.Dims() {
		return Range{}, fault.Configf("coord.NewRange",
			"start %s and end %s must have the same number of dimensions", start, end)
	}
	if start.Dims() == 0 {
		return Range{}, fault.Configf("coord.NewRange", "range must have at least one dimension")
	}
	for i := range start.idx {
		if start.idx[i] < 0 {
			return Range{}, fault.Configf("coord.NewRange", "start %s has a negative index", start)
		}
		if start.idx[i] > end.idx[i] {
			return Range{}, fault.Configf("coord.NewRange",
				"start %s exceeds end %s along dimension %d", start, end, i)
		}
	}
	return Range{start: C(start.idx...), end: C(end.idx...)}, nil
}

// MustRange is like NewRange but panics on error.
func MustRange(start, end Coordinate) Range {
	r, err := NewRange(start, end)
	if err != nil {
		panic(err)
	}
	return r
}

// FullRange returns the range covering every coordinate of shape.
func FullRange(shape Shape) Range {
	end := make([]int, shape.Dims())
	for i, d := range shape.dims {
		end[i] = d - 1
	}
	return Range{start: Zero(shape.Dims()), end: Coordinate{idx: end}}
}

// Start returns the first corner.
func (r Range) Start() Coordinate { return r.start }

// End returns the last corner, inclusive.
func (r Range) End() Coordinate { return r.end }

// Dims returns the rank of the range.
func (r Range) Dims() int {
	return r.start.Dims()
}

// Extent returns the shape of the box.
func (r Range) Extent() Shape {
	dims := make([]int, r.Dims())
	for i := range dims {
		dims[i] = r.end.idx[i] - r.start.idx[i] + 1
	}
	return Shape{dims: dims}
}

// Size returns the number of coordinates in the range.
func (r Range) Size() int {
	return r.Extent().Size()
}

// Equal reports whether both ranges have the same corners.
func (r Range) Equal(o Range) bool {
	return r.start.Equal(o.start) && r.end.Equal(o.end)
}

// Contains reports whether c lies within the range.
func (r Range) Contains(c Coordinate) bool {
	checkRank("Range.Contains", r.Dims(), c.Dims())
	for i, v := range c.idx {
		if v < r.start.idx[i] || v > r.end.idx[i] {
			return false
		}
	}
	return true
}

// ContainsRange reports whether o lies entirely within r.
func (r Range) ContainsRange(o Range) bool {
	checkRank("Range.ContainsRange", r.Dims(), o.Dims())
	return r.Contains(o.start) && r.Contains(o.end)
}

// Intersects reports whether the intervals of r and o overlap on every axis.
func (r Range) Intersects(o Range) bool {
	checkRank("Range.Intersects", r.Dims(), o.Dims())
	for i := range r.start.idx {
		if r.end.idx[i] < o.start.idx[i] || o.end.idx[i] < r.start.idx[i] {
			return false
		}
	}
	return true
}

// Intersection returns the overlap of r and o. The boolean is false when
// the ranges are disjoint.
func (r Range) Intersection(o Range) (Range, bool) {
	if !r.Intersects(o) {
		return Range{}, false
	}
	start := make([]int, r.Dims())
	end := make([]int, r.Dims())
	for i := range start {
		start[i] = max(r.start.idx[i], o.start.idx[i])
		end[i] = min(r.end.idx[i], o.end.idx[i])
	}
	return Range{start: Coordinate{idx: start}, end: Coordinate{idx: end}}, true
}

// Complement returns disjoint ranges covering the coordinates of r that are
// not in o. A disjoint o yields r itself; an o covering r yields an empty set.
func (r Range) Complement(o Range) RangeSet {
	inter, ok := r.Intersection(o)
	if !ok {
		return NewRangeSet(r)
	}

	var out RangeSet
	core := r.clone()
	for d := range r.start.idx {
		if inter.start.idx[d] > core.start.idx[d] {
			before := core.clone()
			before.end.idx[d] = inter.start.idx[d] - 1
			out.ranges = append(out.ranges, before)
			core.start.idx[d] = inter.start.idx[d]
		}
		if inter.end.idx[d] < core.end.idx[d] {
			after := core.clone()
			after.start.idx[d] = inter.end.idx[d] + 1
			out.ranges = append(out.ranges, after)
			core.end.idx[d] = inter.end.idx[d]
		}
	}
	return out
}

// Coords returns the coordinates of the range in row-major order.
func (r Range) Coords() []Coordinate {
	out := make([]Coordinate, 0, r.Size())
	r.ForEach(func(c Coordinate) {
		out = append(out, c)
	})
	return out
}

// ForEach calls fn for every coordinate of the range in row-major order.
func (r Range) ForEach(fn func(Coordinate)) {
	if r.Dims() == 0 {
		return
	}
	cur := slices.Clone(r.start.idx)
	for {
		fn(C(cur...))
		d := len(cur) - 1
		for d >= 0 {
			cur[d]++
			if cur[d] <= r.end.idx[d] {
				break
			}
			cur[d] = r.start.idx[d]
			d--
		}
		if d < 0 {
			return
		}
	}
}

// Key returns a comparable form of the range, usable as a map key.
func (r Range) Key() string {
	return r.String()
}

// String formats the range as "[(0, 0) - (1, 3)]".
func (r Range) String() string {
	return "[" + r.start.String() + " - " + r.end.String() + "]"
}

func (r Range) clone() Range {
	return Range{start: C(r.start.idx...), end: C(r.end.idx...)}
}
