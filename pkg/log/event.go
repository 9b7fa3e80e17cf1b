package log

import (
	"time"
)

// Event represents a mesh runtime event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// SessionID identifies the capture session (UUID).
	SessionID string `cbor:"2,keyasint"`

	// MeshID is the id of the mesh the event belongs to.
	MeshID uint32 `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// TraceID is set for trace and replay events.
	TraceID *uint32 `cbor:"6,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Mesh   *MeshEvent      `cbor:"10,keyasint,omitempty"` // Mesh layer
	Trace  *TraceEvent     `cbor:"11,keyasint,omitempty"` // Trace layer
	Replay *ReplayEvent    `cbor:"12,keyasint,omitempty"` // Dispatch layer
	Error  *ErrorEventData `cbor:"13,keyasint,omitempty"` // Errors at any layer
}

// Layer indicates which runtime layer captured the event.
type Layer uint8

const (
	// LayerMesh is mesh device virtualization (open, submesh, reshape, close).
	LayerMesh Layer = 0
	// LayerTrace is trace capture.
	LayerTrace Layer = 1
	// LayerDispatch is trace upload and replay.
	LayerDispatch Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerMesh:
		return "MESH"
	case LayerTrace:
		return "TRACE"
	case LayerDispatch:
		return "DISPATCH"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	CategoryLifecycle Category = 0
	CategoryRecord    Category = 1
	CategoryUpload    Category = 2
	CategoryReplay    Category = 3
	CategoryError     Category = 4
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryLifecycle:
		return "LIFECYCLE"
	case CategoryRecord:
		return "RECORD"
	case CategoryUpload:
		return "UPLOAD"
	case CategoryReplay:
		return "REPLAY"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// MeshAction is what happened to a mesh.
type MeshAction uint8

const (
	MeshOpen    MeshAction = 0
	MeshSubmesh MeshAction = 1
	MeshReshape MeshAction = 2
	MeshClose   MeshAction = 3
)

// String returns the action name.
func (a MeshAction) String() string {
	switch a {
	case MeshOpen:
		return "OPEN"
	case MeshSubmesh:
		return "SUBMESH"
	case MeshReshape:
		return "RESHAPE"
	case MeshClose:
		return "CLOSE"
	default:
		return "UNKNOWN"
	}
}

// MeshEvent captures mesh lifecycle changes.
type MeshEvent struct {
	Action MeshAction `cbor:"1,keyasint"`

	// Shape is the mesh shape after the action, e.g. "2x4".
	Shape string `cbor:"2,keyasint"`

	// ParentID is set for submeshes.
	ParentID *uint32 `cbor:"3,keyasint,omitempty"`

	// UnitIDs are the physical units in row-major view order.
	UnitIDs []int `cbor:"4,keyasint,omitempty"`

	// OldShape is the shape before a reshape.
	OldShape string `cbor:"5,keyasint,omitempty"`
}

// TraceAction is what happened to a trace.
type TraceAction uint8

const (
	TraceBegin   TraceAction = 0
	TraceRecord  TraceAction = 1
	TraceEnd     TraceAction = 2
	TraceUpload  TraceAction = 3
	TraceRelease TraceAction = 4
	TraceLoad    TraceAction = 5
)

// String returns the action name.
func (a TraceAction) String() string {
	switch a {
	case TraceBegin:
		return "BEGIN"
	case TraceRecord:
		return "RECORD"
	case TraceEnd:
		return "END"
	case TraceUpload:
		return "UPLOAD"
	case TraceRelease:
		return "RELEASE"
	case TraceLoad:
		return "LOAD"
	default:
		return "UNKNOWN"
	}
}

// TraceEvent captures trace capture and upload.
type TraceEvent struct {
	Action TraceAction `cbor:"1,keyasint"`

	// Range targeted by a record event, e.g. "[(0, 0) - (0, 3)]".
	Range string `cbor:"2,keyasint,omitempty"`

	// Size is the recorded payload size (record) or total trace size (end, upload).
	Size uint64 `cbor:"3,keyasint,omitempty"`

	// NumSegments after the event.
	NumSegments int `cbor:"4,keyasint,omitempty"`

	// Upload placement.
	PageSize   uint32 `cbor:"5,keyasint,omitempty"`
	PaddedSize uint64 `cbor:"6,keyasint,omitempty"`
	Address    uint64 `cbor:"7,keyasint,omitempty"`
}

// ReplayEvent captures a trace replay.
type ReplayEvent struct {
	// CmdSize is the size of the replay command sequence.
	CmdSize uint32 `cbor:"1,keyasint"`

	// NumUnits the sequence was issued to.
	NumUnits int `cbor:"2,keyasint"`

	Blocking bool `cbor:"3,keyasint,omitempty"`

	// SubDevices touched by the trace.
	SubDevices []uint8 `cbor:"4,keyasint,omitempty"`

	// Duration of the replay call, in nanoseconds.
	Duration time.Duration `cbor:"5,keyasint,omitempty"`
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Class is the error class (configuration, capacity, ...), if known.
	Class string `cbor:"3,keyasint,omitempty"`

	// Context describes what operation was being performed.
	Context string `cbor:"4,keyasint,omitempty"`
}
