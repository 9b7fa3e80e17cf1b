package trace

import (
	"sync"

	"github.com/mesh-runtime/mesh-go/pkg/alloc"
	"github.com/mesh-runtime/mesh-go/pkg/coord"
	"github.com/mesh-runtime/mesh-go/pkg/fault"
)

// Buffer is the per-id trace record of a mesh: the recorder while
// capturing, then the finalized descriptor and its device-resident copy.
type Buffer struct {
	mu sync.Mutex

	id    ID
	state State

	rec  *Recorder
	desc *Descriptor

	// Device-resident replicated copy of desc.
	mem *alloc.Buffer
}

// NewBuffer creates an empty trace buffer.
func NewBuffer(id ID) *Buffer {
	return &Buffer{id: id}
}

// ID returns the trace id.
func (b *Buffer) ID() ID {
	return b.id
}

// State returns the lifecycle state.
func (b *Buffer) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Begin starts recording for a mesh of the given shape.
func (b *Buffer) Begin(shape coord.Shape) (*Recorder, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.transition("Buffer.Begin", StateEmpty, StateRecording); err != nil {
		return nil, err
	}
	b.rec = NewRecorder(shape)
	return b.rec, nil
}

// Recorder returns the active recorder, or nil when not recording.
func (b *Buffer) Recorder() *Recorder {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rec
}

// Finalize ends recording, appending footer to the recorded segments.
func (b *Buffer) Finalize(footer []byte) (*Descriptor, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateRecording {
		return nil, fault.Wrap(fault.ClassInvariant, "Buffer.Finalize", ErrTraceNotRecording,
			"trace %d is %s", b.id, b.state)
	}
	desc, err := b.rec.Finalize(footer)
	if err != nil {
		return nil, err
	}
	b.desc = desc
	b.rec = nil
	b.state = StateFinalized
	return desc, nil
}

// Install sets an already finalized descriptor on an empty buffer.
func (b *Buffer) Install(desc *Descriptor) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if desc == nil {
		return fault.Configf("Buffer.Install", "trace %d has no descriptor", b.id)
	}

	if err := b.transition("Buffer.Install", StateEmpty, StateFinalized); err != nil {
		return err
	}
	b.desc = desc
	return nil
}

// Descriptor returns the finalized descriptor, or nil before Finalize.
func (b *Buffer) Descriptor() *Descriptor {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.desc
}

// MarkUploaded records the device-resident copy of the descriptor.
func (b *Buffer) MarkUploaded(mem *alloc.Buffer) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.transition("Buffer.MarkUploaded", StateFinalized, StateUploaded); err != nil {
		return err
	}
	b.mem = mem
	return nil
}

// Memory returns the device-resident copy, or nil before upload.
func (b *Buffer) Memory() *alloc.Buffer {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mem
}

// Release moves the buffer to StateReleased and returns the device-resident
// copy for the caller to deallocate. It may be nil if the trace never
// reached the device.
func (b *Buffer) Release() (*alloc.Buffer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateReleased {
		return nil, fault.Wrap(fault.ClassInvariant, "Buffer.Release", ErrInvalidTransition,
			"trace %d already released", b.id)
	}
	mem := b.mem
	b.mem = nil
	b.rec = nil
	b.state = StateReleased
	return mem, nil
}

func (b *Buffer) transition(op string, from, to State) error {
	if b.state != from {
		return fault.Wrap(fault.ClassInvariant, op, ErrInvalidTransition,
			"trace %d: %s to %s requires %s", b.id, b.state, to, from)
	}
	b.state = to
	return nil
}
