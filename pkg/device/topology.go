package device

import "github.com/mesh-runtime/mesh-go/pkg/coord"

// Planar folds shape onto two axes, ignoring dimensions of size one. It
// fails when more than two dimensions are larger than one.
func Planar(shape coord.Shape) (rows, cols int, ok bool) {
	var big []int
	for _, d := range shape.Sizes() {
		if d > 1 {
			big = append(big, d)
		}
	}
	switch len(big) {
	case 0:
		return 1, 1, true
	case 1:
		// Lines run along a physical row unless the innermost dimension is 1.
		if shape.Dim(shape.Dims()-1) > 1 {
			return 1, big[0], true
		}
		return big[0], 1, true
	case 2:
		return big[0], big[1], true
	default:
		return 0, 0, false
	}
}

// serpentine returns the physical indices of the system in snake order:
// row 0 left to right, row 1 right to left, and so on. Consecutive entries
// are always physical neighbours.
func (p *SystemPool) serpentine() []int {
	out := make([]int, 0, len(p.units))
	for r := range p.rows {
		for c := range p.cols {
			col := c
			if r%2 == 1 {
				col = p.cols - 1 - c
			}
			out = append(out, r*p.cols+col)
		}
	}
	return out
}

// place finds free physically adjacent units for shape.
func (p *SystemPool) place(shape coord.Shape) ([]int, bool) {
	rows, cols, ok := Planar(shape)
	if !ok {
		return nil, false
	}
	if rows == 1 || cols == 1 {
		if idx, ok := p.placeBlock(rows, cols); ok {
			return idx, true
		}
		return p.placeLine(rows * cols)
	}
	if idx, ok := p.placeBlock(rows, cols); ok {
		return idx, true
	}
	// A transposed block keeps adjacency as well.
	idx, ok := p.placeBlock(cols, rows)
	if !ok {
		return nil, false
	}
	out := make([]int, 0, len(idx))
	for r := range rows {
		for c := range cols {
			out = append(out, idx[c*rows+r])
		}
	}
	return out, true
}

// placeBlock finds the first free h x w block, scanning row-major.
func (p *SystemPool) placeBlock(h, w int) ([]int, bool) {
	for r0 := 0; r0+h <= p.rows; r0++ {
		for c0 := 0; c0+w <= p.cols; c0++ {
			if p.blockFree(r0, c0, h, w) {
				out := make([]int, 0, h*w)
				for r := range h {
					for c := range w {
						out = append(out, (r0+r)*p.cols+c0+c)
					}
				}
				return out, true
			}
		}
	}
	return nil, false
}

func (p *SystemPool) blockFree(r0, c0, h, w int) bool {
	for r := range h {
		for c := range w {
			if p.owned[(r0+r)*p.cols+c0+c] {
				return false
			}
		}
	}
	return true
}

// placeLine finds n consecutive free units along the serpentine.
func (p *SystemPool) placeLine(n int) ([]int, bool) {
	order := p.serpentine()
	run := 0
	for i, j := range order {
		if p.owned[j] {
			run = 0
			continue
		}
		run++
		if run == n {
			out := make([]int, n)
			copy(out, order[i-n+1:i+1])
			return out, true
		}
	}
	return nil, false
}

// bounds returns the bounding box of the given physical indices.
func (p *SystemPool) bounds(idx []int) (r0, c0, h, w int) {
	if len(idx) == 0 {
		return 0, 0, 0, 0
	}
	rMin, cMin := p.rows, p.cols
	rMax, cMax := -1, -1
	for _, j := range idx {
		r, c := j/p.cols, j%p.cols
		rMin, rMax = min(rMin, r), max(rMax, r)
		cMin, cMax = min(cMin, c), max(cMax, c)
	}
	return rMin, cMin, rMax - rMin + 1, cMax - cMin + 1
}
