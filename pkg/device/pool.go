package device

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/mesh-runtime/mesh-go/pkg/coord"
	"github.com/mesh-runtime/mesh-go/pkg/fault"
)

// Pool errors.
var (
	ErrUnitNotOwned  = errors.New("unit not owned")
	ErrNoPlacement   = errors.New("no placement for shape")
	ErrUnknownUnit   = errors.New("unknown unit")
	ErrPoolExhausted = errors.New("not enough free units")
)

// Policy controls how a pool maps a mesh shape to physical units.
type Policy uint8

const (
	// PolicyContiguous requires the units to be physically adjacent.
	PolicyContiguous Policy = iota
	// PolicyAny takes the first free units.
	PolicyAny
)

// String returns the policy name.
func (p Policy) String() string {
	switch p {
	case PolicyContiguous:
		return "contiguous"
	case PolicyAny:
		return "any"
	default:
		return fmt.Sprintf("Policy(%d)", uint8(p))
	}
}

// Pool owns the physical units of a system.
type Pool interface {
	// RequestAvailableUnits acquires units forming shape, in row-major order.
	RequestAvailableUnits(shape coord.Shape, policy Policy) ([]Unit, error)

	// Release returns acquired units to the pool.
	Release(units []Unit) error

	// Lookup returns the given owned units in the row-major order that maps
	// them onto shape while keeping physical neighbours adjacent.
	Lookup(shape coord.Shape, units []Unit) ([]Unit, error)
}

// SystemPool is a pool over a rows x cols grid of units whose grid
// neighbours are wired to each other.
type SystemPool struct {
	mu sync.Mutex

	rows, cols int
	units      []Unit // indexed by row*cols + col
	index      map[ID]int
	owned      []bool
}

// NewSystemPool creates a pool of simulated units laid out on a rows x cols grid.
// Unit ids are assigned row-major.
func NewSystemPool(rows, cols int, props Properties) (*SystemPool, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fault.Configf("device.NewSystemPool", "invalid system topology %dx%d", rows, cols)
	}
	units := make([]Unit, rows*cols)
	for i := range units {
		units[i] = NewSimUnit(ID(i), props)
	}
	return NewSystemPoolFromUnits(rows, cols, units)
}

// NewSystemPoolFromUnits creates a pool over existing units, given row-major.
func NewSystemPoolFromUnits(rows, cols int, units []Unit) (*SystemPool, error) {
	if rows <= 0 || cols <= 0 || len(units) != rows*cols {
		return nil, fault.Configf("device.NewSystemPoolFromUnits",
			"%d units cannot form a %dx%d system", len(units), rows, cols)
	}
	index := make(map[ID]int, len(units))
	for i, u := range units {
		if _, dup := index[u.ID()]; dup {
			return nil, fault.Configf("device.NewSystemPoolFromUnits", "duplicate unit id %d", u.ID())
		}
		index[u.ID()] = i
	}
	return &SystemPool{
		rows:  rows,
		cols:  cols,
		units: slices.Clone(units),
		index: index,
		owned: make([]bool, len(units)),
	}, nil
}

// Shape returns the physical topology as a rank-2 shape.
func (p *SystemPool) Shape() coord.Shape {
	return coord.MustShape(p.rows, p.cols)
}

// Units returns every unit of the system in row-major order.
func (p *SystemPool) Units() []Unit {
	return slices.Clone(p.units)
}

// NumFree returns the number of units not currently acquired.
func (p *SystemPool) NumFree() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.numFree()
}

func (p *SystemPool) numFree() int {
	n := 0
	for _, o := range p.owned {
		if !o {
			n++
		}
	}
	return n
}

// RequestAvailableUnits acquires units forming shape, in row-major order.
func (p *SystemPool) RequestAvailableUnits(shape coord.Shape, policy Policy) ([]Unit, error) {
	const op = "SystemPool.RequestAvailableUnits"

	if !shape.IsValid() {
		return nil, fault.Configf(op, "invalid mesh shape")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	n := shape.Size()
	if free := p.numFree(); n > free {
		return nil, fault.Wrap(fault.ClassCapacity, op, ErrPoolExhausted,
			"mesh shape %s needs %d units, %d of %d free", shape, n, free, len(p.units))
	}

	var idx []int
	switch policy {
	case PolicyAny:
		for i, o := range p.owned {
			if !o && len(idx) < n {
				idx = append(idx, i)
			}
		}
	case PolicyContiguous:
		var ok bool
		idx, ok = p.place(shape)
		if !ok {
			return nil, fault.Wrap(fault.ClassConfiguration, op, ErrNoPlacement,
				"mesh shape %s on %dx%d system with %d free units", shape, p.rows, p.cols, p.numFree())
		}
	default:
		return nil, fault.Configf(op, "unknown placement policy %s", policy)
	}

	out := make([]Unit, len(idx))
	for i, j := range idx {
		p.owned[j] = true
		out[i] = p.units[j]
	}
	return out, nil
}

// Release returns acquired units to the pool. Nothing is released if any
// unit is not currently acquired.
func (p *SystemPool) Release(units []Unit) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx := make([]int, len(units))
	for i, u := range units {
		j, err := p.indexOf(u)
		if err != nil {
			return fault.Wrap(fault.ClassInvariant, "SystemPool.Release", err, "release")
		}
		if !p.owned[j] {
			return fault.Wrap(fault.ClassInvariant, "SystemPool.Release", ErrUnitNotOwned, "unit %d", u.ID())
		}
		idx[i] = j
	}
	for _, j := range idx {
		p.owned[j] = false
	}
	return nil
}

// Lookup returns the given owned units in the row-major order that maps
// them onto shape. The units must fill their physical bounding box, and
// the box must match shape or its transpose after dropping unit dimensions.
func (p *SystemPool) Lookup(shape coord.Shape, units []Unit) ([]Unit, error) {
	const op = "SystemPool.Lookup"

	p.mu.Lock()
	defer p.mu.Unlock()

	if shape.Size() != len(units) {
		return nil, fault.Configf(op, "mesh shape %s has %d coordinates, got %d units", shape, shape.Size(), len(units))
	}

	idx := make([]int, len(units))
	seen := make(map[int]bool, len(units))
	for i, u := range units {
		j, err := p.indexOf(u)
		if err != nil {
			return nil, fault.Wrap(fault.ClassConfiguration, op, err, "lookup")
		}
		if seen[j] {
			return nil, fault.Configf(op, "unit %d listed twice", u.ID())
		}
		seen[j] = true
		if !p.owned[j] {
			return nil, fault.Wrap(fault.ClassInvariant, op, ErrUnitNotOwned, "unit %d", u.ID())
		}
		idx[i] = j
	}

	rows, cols, ok := Planar(shape)
	if !ok {
		return nil, fault.Wrap(fault.ClassConfiguration, op, ErrNoPlacement,
			"mesh shape %s has more than two dimensions larger than one", shape)
	}

	r0, c0, h, w := p.bounds(idx)
	if h*w != len(idx) {
		return nil, fault.Wrap(fault.ClassConfiguration, op, ErrNoPlacement,
			"units do not form a contiguous block, their %dx%d bounding box holds %d of them", h, w, len(idx))
	}

	out := make([]Unit, 0, len(idx))
	switch {
	case h == rows && w == cols:
		for r := range rows {
			for c := range cols {
				out = append(out, p.units[(r0+r)*p.cols+c0+c])
			}
		}
	case h == cols && w == rows:
		// Transposed block: logical (r, c) sits at physical (c, r).
		for r := range rows {
			for c := range cols {
				out = append(out, p.units[(r0+c)*p.cols+c0+r])
			}
		}
	default:
		return nil, fault.Wrap(fault.ClassConfiguration, op, ErrNoPlacement,
			"physical %dx%d block cannot be viewed as %s", h, w, shape)
	}
	return out, nil
}

func (p *SystemPool) indexOf(u Unit) (int, error) {
	i, ok := p.index[u.ID()]
	if !ok || p.units[i] != u {
		return 0, fmt.Errorf("%w: %d", ErrUnknownUnit, u.ID())
	}
	return i, nil
}

// Compile-time interface satisfaction check.
var _ Pool = (*SystemPool)(nil)
