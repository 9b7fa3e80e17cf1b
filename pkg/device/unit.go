package device

import (
	"context"
	"fmt"

	"github.com/mesh-runtime/mesh-go/pkg/alloc"
)

// ID identifies a physical unit within a pool.
type ID int

// Grid is a two-dimensional core grid size.
type Grid struct {
	X int `yaml:"x" toml:"x"`
	Y int `yaml:"y" toml:"y"`
}

// Size returns the number of cores in the grid.
func (g Grid) Size() int {
	return g.X * g.Y
}

// String formats the grid as "8x8".
func (g Grid) String() string {
	return fmt.Sprintf("%dx%d", g.X, g.Y)
}

// Properties describes the hardware of one unit.
type Properties struct {
	Arch               string
	L1SizePerCore      uint64
	DRAMSizePerChannel uint64
	NumDRAMChannels    int
	NumHWCQs           int
	ComputeGrid        Grid
	Grid               Grid
	DRAMGrid           Grid
	FastDispatch       bool
	KernelDefinesHash  uint64

	// Ethernet cores wired to neighbouring units.
	ActiveEthCores   int
	InactiveEthCores int
}

// InitParams are applied to every unit when a mesh is opened.
type InitParams struct {
	L1SmallSize     uint64
	TraceRegionSize uint64
	NumCQs          int
}

// Submission is one command sequence pushed to a unit's command queue.
type Submission struct {
	CQ   int
	Data []byte

	// ProgramKey identifies the program for the program cache; zero for
	// non-program submissions.
	ProgramKey uint64
}

// Unit is one physical accelerator.
type Unit interface {
	ID() ID
	Properties() Properties

	// Initialize prepares the unit for use by a mesh.
	Initialize(p InitParams) error

	// Memory returns the unit's byte-addressable storage.
	Memory() alloc.Storage

	// Submit writes a command sequence to the issue queue of s.CQ.
	Submit(s Submission) error

	// Finish blocks until every submission on cq has completed.
	Finish(ctx context.Context, cq int) error

	EnableProgramCache()
	DisableAndClearProgramCache()
	NumProgramCacheEntries() int

	// Close returns the unit to its uninitialized state.
	Close() error
}

// TraceRegionBase is the device address where the trace region starts.
const TraceRegionBase uint64 = 0x4000_0000
