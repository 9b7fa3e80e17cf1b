package trace

import (
	"maps"
	"slices"

	"github.com/mesh-runtime/mesh-go/pkg/coord"
	"github.com/mesh-runtime/mesh-go/pkg/fault"
	"github.com/mesh-runtime/mesh-go/pkg/idgen"
)

// ID identifies a trace within a process.
type ID uint32

// NextID returns a fresh trace id.
func NextID() ID {
	return ID(idgen.TraceIDs.Next())
}

// SubDeviceID identifies a sub-device of a mesh.
type SubDeviceID uint8

// Segment is the command bytes recorded for every unit of a range.
type Segment struct {
	Range coord.Range
	Data  []byte
}

func (s Segment) clone() Segment {
	return Segment{Range: s.Range, Data: slices.Clone(s.Data)}
}

// WorkerDescriptor tracks what the traced programs of one sub-device need
// from dispatch when the trace is replayed.
type WorkerDescriptor struct {
	NumCompletionWorkerCores uint32 `cbor:"1,keyasint"`

	// Number of traced programs whose go signal is multicast (tensix
	// workers) or unicast (ethernet workers).
	NumProgramsNeedingMcast   uint32 `cbor:"2,keyasint"`
	NumProgramsNeedingUnicast uint32 `cbor:"3,keyasint"`
}

// Descriptor is the recorded content of a trace: segments of command bytes
// keyed by disjoint ranges, the total size and the sub-devices touched.
//
// A Descriptor returned by Finalize or NewDescriptor is immutable.
type Descriptor struct {
	segments     []Segment
	totalSize    uint64
	subDeviceIDs []SubDeviceID
	workers      map[SubDeviceID]WorkerDescriptor
}

// NewDescriptor assembles a finalized descriptor from its parts, e.g. when
// loading a trace from disk. Segment ranges must be pairwise disjoint and
// the total size must cover the largest segment.
func NewDescriptor(segments []Segment, totalSize uint64, workers map[SubDeviceID]WorkerDescriptor) (*Descriptor, error) {
	const op = "trace.NewDescriptor"

	d := &Descriptor{
		segments:  make([]Segment, len(segments)),
		totalSize: totalSize,
		workers:   maps.Clone(workers),
	}
	if d.workers == nil {
		d.workers = make(map[SubDeviceID]WorkerDescriptor)
	}
	for i, s := range segments {
		if s.Range.Dims() == 0 {
			return nil, fault.Configf(op, "segment %d has no range", i)
		}
		if s.Range.Dims() != segments[0].Range.Dims() {
			return nil, fault.Configf(op, "segment %d range %s has rank %d, segment 0 has rank %d",
				i, s.Range, s.Range.Dims(), segments[0].Range.Dims())
		}
		if uint64(len(s.Data)) > totalSize {
			return nil, fault.Configf(op, "segment %d holds %d B, more than the trace total of %d B",
				i, len(s.Data), totalSize)
		}
		d.segments[i] = s.clone()
	}
	ranges := make([]coord.Range, len(d.segments))
	for i, s := range d.segments {
		ranges[i] = s.Range
	}
	if !coord.NewRangeSet(ranges...).Disjoint() {
		return nil, fault.Wrap(fault.ClassConfiguration, op, ErrPartition, "segment ranges overlap")
	}
	d.subDeviceIDs = slices.Sorted(maps.Keys(d.workers))
	return d, nil
}

// Segments returns a deep copy of the segments in descriptor order.
func (d *Descriptor) Segments() []Segment {
	out := make([]Segment, len(d.segments))
	for i, s := range d.segments {
		out[i] = s.clone()
	}
	return out
}

// NumSegments returns the number of segments.
func (d *Descriptor) NumSegments() int {
	return len(d.segments)
}

// TotalSize is the sum of every recorded payload plus footers.
func (d *Descriptor) TotalSize() uint64 {
	return d.totalSize
}

// SubDeviceIDs returns the sub-devices the trace touches, sorted.
func (d *Descriptor) SubDeviceIDs() []SubDeviceID {
	return slices.Clone(d.subDeviceIDs)
}

// Workers returns the worker descriptor of every touched sub-device.
func (d *Descriptor) Workers() map[SubDeviceID]WorkerDescriptor {
	return maps.Clone(d.workers)
}

// Worker returns the worker descriptor of one sub-device.
func (d *Descriptor) Worker(id SubDeviceID) (WorkerDescriptor, bool) {
	w, ok := d.workers[id]
	return w, ok
}

// Ranges returns the segment ranges as a set.
func (d *Descriptor) Ranges() coord.RangeSet {
	ranges := make([]coord.Range, len(d.segments))
	for i, s := range d.segments {
		ranges[i] = s.Range
	}
	return coord.NewRangeSet(ranges...)
}

// DataFor returns the bytes a unit at c executes: the data of the segment
// containing c, or nil when no segment covers it.
func (d *Descriptor) DataFor(c coord.Coordinate) []byte {
	for _, s := range d.segments {
		if s.Range.Contains(c) {
			return slices.Clone(s.Data)
		}
	}
	return nil
}
