package mesh

import (
	"slices"

	"github.com/mesh-runtime/mesh-go/pkg/coord"
	"github.com/mesh-runtime/mesh-go/pkg/device"
	"github.com/mesh-runtime/mesh-go/pkg/fault"
)

// View maps the coordinates of a mesh shape to physical units. It never
// owns the units; reshapes and submeshes build new views.
type View struct {
	shape coord.Shape
	units []device.Unit // row-major
	index map[device.ID]int
}

// NewView creates a view of units laid out row-major over shape.
func NewView(shape coord.Shape, units []device.Unit) (*View, error) {
	const op = "mesh.NewView"

	if !shape.IsValid() {
		return nil, fault.Configf(op, "invalid mesh shape")
	}
	if len(units) != shape.Size() {
		return nil, fault.Configf(op, "%d units cannot form mesh shape %s of %d units", len(units), shape, shape.Size())
	}
	index := make(map[device.ID]int, len(units))
	for i, u := range units {
		if _, dup := index[u.ID()]; dup {
			return nil, fault.Configf(op, "unit %d appears twice in mesh shape %s", u.ID(), shape)
		}
		index[u.ID()] = i
	}
	return &View{shape: shape, units: slices.Clone(units), index: index}, nil
}

// Shape returns the view's shape.
func (v *View) Shape() coord.Shape {
	return v.shape
}

// Size returns the number of units.
func (v *View) Size() int {
	return len(v.units)
}

// Units returns the units in row-major order.
func (v *View) Units() []device.Unit {
	return slices.Clone(v.units)
}

// Unit returns the unit at c.
func (v *View) Unit(c coord.Coordinate) (device.Unit, error) {
	if c.Dims() != v.shape.Dims() || !v.shape.Contains(c) {
		return nil, fault.Configf("View.Unit", "coordinate %s is outside mesh shape %s", c, v.shape)
	}
	return v.units[v.shape.Linear(c)], nil
}

// UnitsIn returns the units of r in row-major order.
func (v *View) UnitsIn(r coord.Range) ([]device.Unit, error) {
	if r.Dims() != v.shape.Dims() || !coord.FullRange(v.shape).ContainsRange(r) {
		return nil, fault.Configf("View.UnitsIn", "range %s is outside mesh shape %s", r, v.shape)
	}
	out := make([]device.Unit, 0, r.Size())
	r.ForEach(func(c coord.Coordinate) {
		out = append(out, v.units[v.shape.Linear(c)])
	})
	return out, nil
}

// Contains reports whether u is part of the view.
func (v *View) Contains(u device.Unit) bool {
	_, ok := v.index[u.ID()]
	return ok
}

// Coordinate returns the coordinate of the unit with the given id.
func (v *View) Coordinate(id device.ID) (coord.Coordinate, bool) {
	i, ok := v.index[id]
	if !ok {
		return coord.Coordinate{}, false
	}
	return v.shape.CoordAt(i), true
}

// NumRows returns the number of rows of a rank-2 view.
func (v *View) NumRows() (int, error) {
	if v.shape.Dims() != 2 {
		return 0, fault.Configf("View.NumRows", "mesh shape %s is not two-dimensional", v.shape)
	}
	return v.shape.Dim(0), nil
}

// NumCols returns the number of columns of a rank-2 view.
func (v *View) NumCols() (int, error) {
	if v.shape.Dims() != 2 {
		return 0, fault.Configf("View.NumCols", "mesh shape %s is not two-dimensional", v.shape)
	}
	return v.shape.Dim(1), nil
}

// LineUnits returns every unit in an order where consecutive units are
// neighbours in the view: rows alternate direction, so the line snakes
// through the grid. Dimensions of size one are folded away first; views
// with more than two larger dimensions use the innermost one as columns.
func (v *View) LineUnits() []device.Unit {
	rows, cols, ok := device.Planar(v.shape)
	if !ok {
		cols = v.shape.Dim(v.shape.Dims() - 1)
		rows = len(v.units) / cols
	}

	out := make([]device.Unit, 0, len(v.units))
	for r := range rows {
		row := v.units[r*cols : (r+1)*cols]
		if r%2 == 0 {
			out = append(out, row...)
			continue
		}
		for c := cols - 1; c >= 0; c-- {
			out = append(out, row[c])
		}
	}
	return out
}

func (v *View) unitIDs() []int {
	ids := make([]int, len(v.units))
	for i, u := range v.units {
		ids[i] = int(u.ID())
	}
	return ids
}
