package coord

import "strings"

// RangeSet is an ordered collection of ranges, typically disjoint.
type RangeSet struct {
	ranges []Range
}

// NewRangeSet creates a set from the given ranges.
func NewRangeSet(ranges ...Range) RangeSet {
	s := RangeSet{ranges: make([]Range, 0, len(ranges))}
	for _, r := range ranges {
		s.ranges = append(s.ranges, r.clone())
	}
	return s
}

// Ranges returns the ranges of the set.
func (s RangeSet) Ranges() []Range {
	out := make([]Range, len(s.ranges))
	copy(out, s.ranges)
	return out
}

// Len returns the number of ranges.
func (s RangeSet) Len() int {
	return len(s.ranges)
}

// Size returns the total number of coordinates across all ranges.
func (s RangeSet) Size() int {
	n := 0
	for _, r := range s.ranges {
		n += r.Size()
	}
	return n
}

// Contains reports whether any range contains c.
func (s RangeSet) Contains(c Coordinate) bool {
	for _, r := range s.ranges {
		if r.Contains(c) {
			return true
		}
	}
	return false
}

// Coords returns the coordinates of every range, range by range in row-major order.
func (s RangeSet) Coords() []Coordinate {
	out := make([]Coordinate, 0, s.Size())
	for _, r := range s.ranges {
		out = append(out, r.Coords()...)
	}
	return out
}

// Add returns a set with r appended.
func (s RangeSet) Add(r Range) RangeSet {
	out := RangeSet{ranges: make([]Range, 0, len(s.ranges)+1)}
	out.ranges = append(out.ranges, s.ranges...)
	out.ranges = append(out.ranges, r.clone())
	return out
}

// Subtract removes o from every range of the set.
func (s RangeSet) Subtract(o Range) RangeSet {
	var out RangeSet
	for _, r := range s.ranges {
		out.ranges = append(out.ranges, r.Complement(o).ranges...)
	}
	return out
}

// Disjoint reports whether no two ranges of the set intersect.
func (s RangeSet) Disjoint() bool {
	for i := range s.ranges {
		for j := i + 1; j < len(s.ranges); j++ {
			if s.ranges[i].Intersects(s.ranges[j]) {
				return false
			}
		}
	}
	return true
}

// String formats the set as a list of ranges.
func (s RangeSet) String() string {
	parts := make([]string, len(s.ranges))
	for i, r := range s.ranges {
		parts[i] = r.String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
