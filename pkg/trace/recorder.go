package trace

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/mesh-runtime/mesh-go/pkg/coord"
	"github.com/mesh-runtime/mesh-go/pkg/fault"
)

// Trace errors.
var (
	ErrTraceExists       = errors.New("trace already exists")
	ErrTraceNotFound     = errors.New("trace not found")
	ErrTraceNotRecording = errors.New("trace is not recording")
	ErrInvalidTransition = errors.New("invalid trace state transition")
	ErrPartition         = errors.New("trace segments do not partition the recorded ranges")
)

// State is the lifecycle state of a trace.
type State uint8

const (
	StateEmpty State = iota
	StateRecording
	StateFinalized
	StateUploaded
	StateReleased
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateEmpty:
		return "EMPTY"
	case StateRecording:
		return "RECORDING"
	case StateFinalized:
		return "FINALIZED"
	case StateUploaded:
		return "UPLOADED"
	case StateReleased:
		return "RELEASED"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Program describes one program dispatched while a trace was recording.
type Program struct {
	SubDevice SubDeviceID

	// WorkerCores is the number of workers that report completion.
	WorkerCores uint32

	NeedsMcast   bool
	NeedsUnicast bool
}

// Recorder folds recorded command bytes into the segment list of a trace.
//
// Every fold is atomic: the new segment list is built on the side, checked
// to be a disjoint partition of everything recorded so far, and only then
// installed. It is safe for concurrent use.
type Recorder struct {
	mu sync.Mutex

	shape coord.Shape
	state State

	segments []Segment
	total    uint64
	workers  map[SubDeviceID]WorkerDescriptor

	// Disjoint union of every range ever recorded.
	recorded coord.RangeSet
}

// NewRecorder creates a recorder for a mesh of the given shape.
func NewRecorder(shape coord.Shape) *Recorder {
	return &Recorder{
		shape:   shape,
		state:   StateRecording,
		workers: make(map[SubDeviceID]WorkerDescriptor),
	}
}

// State returns StateRecording until Finalize, then StateFinalized.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Record folds data recorded on every unit of rng into the segment list.
func (r *Recorder) Record(rng coord.Range, data []byte) error {
	const op = "Recorder.Record"

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateRecording {
		return fault.Wrap(fault.ClassInvariant, op, ErrTraceNotRecording, "trace is %s", r.state)
	}
	if rng.Dims() != r.shape.Dims() {
		return fault.Configf(op, "range %s has rank %d, mesh shape %s has rank %d",
			rng, rng.Dims(), r.shape, r.shape.Dims())
	}
	if !coord.FullRange(r.shape).ContainsRange(rng) {
		return fault.Configf(op, "range %s is outside mesh shape %s", rng, r.shape)
	}

	next := fold(r.segments, rng, data)
	recorded := r.recorded.Subtract(rng).Add(rng)
	if err := checkPartition(next, recorded); err != nil {
		return fault.Wrap(fault.ClassInvariant, op, err, "recording %d B on %s", len(data), rng)
	}

	r.segments = next
	r.recorded = recorded
	r.total += uint64(len(data))
	return nil
}

// RecordProgram accounts a traced program in its sub-device's worker descriptor.
func (r *Recorder) RecordProgram(p Program) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateRecording {
		return fault.Wrap(fault.ClassInvariant, "Recorder.RecordProgram", ErrTraceNotRecording, "trace is %s", r.state)
	}
	w := r.workers[p.SubDevice]
	w.NumCompletionWorkerCores += p.WorkerCores
	if p.NeedsMcast {
		w.NumProgramsNeedingMcast++
	}
	if p.NeedsUnicast {
		w.NumProgramsNeedingUnicast++
	}
	r.workers[p.SubDevice] = w
	return nil
}

// Segments returns a snapshot of the current segments.
func (r *Recorder) Segments() []Segment {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Segment, len(r.segments))
	for i, s := range r.segments {
		out[i] = s.clone()
	}
	return out
}

// Finalize appends footer to every segment on the mesh, counts it once in
// the total size and returns the immutable descriptor. The recorder rejects
// further events afterwards.
func (r *Recorder) Finalize(footer []byte) (*Descriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateRecording {
		return nil, fault.Wrap(fault.ClassInvariant, "Recorder.Finalize", ErrTraceNotRecording, "trace is %s", r.state)
	}

	full := coord.FullRange(r.shape)
	segments := make([]Segment, len(r.segments))
	for i, s := range r.segments {
		segments[i] = s.clone()
		if s.Range.Intersects(full) {
			segments[i].Data = append(segments[i].Data, footer...)
		}
	}

	r.state = StateFinalized
	return &Descriptor{
		segments:     segments,
		totalSize:    r.total + uint64(len(footer)),
		subDeviceIDs: slices.Sorted(maps.Keys(r.workers)),
		workers:      maps.Clone(r.workers),
	}, nil
}

// fold returns the segment list after recording data on rng. Segments
// inside rng get data appended in place. Segments partially covered by rng
// are split into the uncovered pieces, unchanged, and the covered piece,
// with data appended. The part of rng no segment covers becomes new segments.
func fold(segments []Segment, rng coord.Range, data []byte) []Segment {
	next := make([]Segment, 0, len(segments)+1)
	uncovered := coord.NewRangeSet(rng)

	for _, s := range segments {
		inter, ok := s.Range.Intersection(rng)
		if !ok {
			next = append(next, s)
			continue
		}
		uncovered = uncovered.Subtract(inter)

		if inter.Equal(s.Range) {
			next = append(next, Segment{Range: s.Range, Data: concat(s.Data, data)})
			continue
		}
		for _, piece := range s.Range.Complement(inter).Ranges() {
			next = append(next, Segment{Range: piece, Data: slices.Clone(s.Data)})
		}
		next = append(next, Segment{Range: inter, Data: concat(s.Data, data)})
	}

	for _, piece := range uncovered.Ranges() {
		next = append(next, Segment{Range: piece, Data: slices.Clone(data)})
	}
	return next
}

func concat(a, b []byte) []byte {
	out := make([]byte, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}

// checkPartition verifies that segments are pairwise disjoint and cover
// exactly the recorded ranges.
func checkPartition(segments []Segment, recorded coord.RangeSet) error {
	size := 0
	for i, s := range segments {
		for j := i + 1; j < len(segments); j++ {
			if s.Range.Intersects(segments[j].Range) {
				return fmt.Errorf("%w: segment %s overlaps segment %s", ErrPartition, s.Range, segments[j].Range)
			}
		}
		rest := coord.NewRangeSet(s.Range)
		for _, rr := range recorded.Ranges() {
			rest = rest.Subtract(rr)
		}
		if rest.Size() != 0 {
			return fmt.Errorf("%w: segment %s covers unrecorded units %s", ErrPartition, s.Range, rest)
		}
		size += s.Range.Size()
	}
	if size != recorded.Size() {
		return fmt.Errorf("%w: segments cover %d units, %d were recorded", ErrPartition, size, recorded.Size())
	}
	return nil
}
