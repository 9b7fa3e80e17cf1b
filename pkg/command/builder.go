package command

import (
	"errors"
	"fmt"
)

// DefaultHostAlignment is the host memory alignment of command records.
const DefaultHostAlignment = 64

// ErrRecordTooLarge is returned when an encoded command does not fit one
// host-aligned slot.
var ErrRecordTooLarge = errors.New("command record exceeds host alignment")

// Builder accumulates dispatch commands into an opaque byte sequence.
//
// Every command occupies exactly one host-aligned slot so that command
// sequence sizes can be computed without building them.
type Builder interface {
	AddDispatchWait(w Wait) error
	AddDispatchGoSignalMcast(g GoSignal) error
	AddNotifyDispatchSGoSignal(n NotifyGoSignal) error
	AddExecBuf(e ExecBuf) error
	AddExecBufEnd() error

	// Bytes returns a copy of the encoded sequence.
	Bytes() []byte

	// Len returns the encoded length in bytes.
	Len() int
}

// Factory creates empty builders.
type Factory func() Builder

// CBORBuilder encodes commands as canonical CBOR records, one per slot.
type CBORBuilder struct {
	align int
	buf   []byte
}

// NewCBORBuilder creates a builder with the given host alignment.
// Non-positive alignments use DefaultHostAlignment.
func NewCBORBuilder(align int) *CBORBuilder {
	if align <= 0 {
		align = DefaultHostAlignment
	}
	return &CBORBuilder{align: align}
}

// CBORFactory returns a Factory for CBORBuilders with the given alignment.
func CBORFactory(align int) Factory {
	return func() Builder { return NewCBORBuilder(align) }
}

// Alignment returns the slot size in bytes.
func (b *CBORBuilder) Alignment() int {
	return b.align
}

// AddDispatchWait appends a dispatch wait command.
func (b *CBORBuilder) AddDispatchWait(w Wait) error {
	return b.add(Command{Op: OpDispatchWait, Wait: &w})
}

// AddDispatchGoSignalMcast appends a go signal multicast command.
func (b *CBORBuilder) AddDispatchGoSignalMcast(g GoSignal) error {
	return b.add(Command{Op: OpGoSignalMcast, GoSignal: &g})
}

// AddNotifyDispatchSGoSignal appends a dispatch_s notify command.
func (b *CBORBuilder) AddNotifyDispatchSGoSignal(n NotifyGoSignal) error {
	return b.add(Command{Op: OpNotifyGoSignal, Notify: &n})
}

// AddExecBuf appends an execute-buffer command.
func (b *CBORBuilder) AddExecBuf(e ExecBuf) error {
	return b.add(Command{Op: OpExecBuf, ExecBuf: &e})
}

// AddExecBufEnd appends the execute-buffer end marker.
func (b *CBORBuilder) AddExecBufEnd() error {
	return b.add(Command{Op: OpExecBufEnd})
}

// Bytes returns a copy of the encoded sequence.
func (b *CBORBuilder) Bytes() []byte {
	out := make([]byte, len(b.buf))
	copy(out, b.buf)
	return out
}

// Len returns the encoded length in bytes.
func (b *CBORBuilder) Len() int {
	return len(b.buf)
}

func (b *CBORBuilder) add(cmd Command) error {
	rec, err := EncodeRecord(cmd, b.align)
	if err != nil {
		return err
	}
	if len(rec) != b.align {
		return fmt.Errorf("%w: %s needs %d B, slot is %d B", ErrRecordTooLarge, cmd.Op, len(rec), b.align)
	}
	b.buf = append(b.buf, rec...)
	return nil
}

// ExecBufEnd returns the encoded execute-buffer end footer.
func ExecBufEnd(f Factory) ([]byte, error) {
	b := f()
	if err := b.AddExecBufEnd(); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// Compile-time interface satisfaction check.
var _ Builder = (*CBORBuilder)(nil)
