package fault

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Class represents the classification of a runtime error.
type Class uint8

const (
	// ClassConfiguration covers invalid shapes, offsets, ids and hardware mismatches.
	ClassConfiguration Class = iota + 1
	// ClassCapacity covers exhausted units or memory regions.
	ClassCapacity
	// ClassUnsupported covers operations that are meaningless on a whole mesh.
	ClassUnsupported
	// ClassInvariant covers internal consistency violations.
	ClassInvariant
)

// Class sentinels, matched with errors.Is.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrCapacity      = errors.New("capacity exceeded")
	ErrUnsupported   = errors.New("unsupported operation")
	ErrInvariant     = errors.New("invariant violated")
)

// String returns the class name.
func (c Class) String() string {
	switch c {
	case ClassConfiguration:
		return "configuration"
	case ClassCapacity:
		return "capacity"
	case ClassUnsupported:
		return "unsupported"
	case ClassInvariant:
		return "invariant"
	default:
		return "unknown"
	}
}

func (c Class) sentinel() error {
	switch c {
	case ClassConfiguration:
		return ErrConfiguration
	case ClassCapacity:
		return ErrCapacity
	case ClassUnsupported:
		return ErrUnsupported
	case ClassInvariant:
		return ErrInvariant
	default:
		return nil
	}
}

// Error is a classified runtime error.
type Error struct {
	Class Class
	// Op is the operation that failed, e.g. "MeshDevice.CreateSubmesh".
	Op  string
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel of this error's class.
func (e *Error) Is(target error) bool {
	s := e.Class.sentinel()
	return s != nil && target == s
}

// Format prints the stack of the underlying error with %+v.
func (e *Error) Format(s fmt.State, verb rune) {
	if verb == 'v' && s.Flag('+') {
		fmt.Fprintf(s, "%s [%s]: %+v", e.Op, e.Class, e.Err)
		return
	}
	fmt.Fprint(s, e.Error())
}

// New creates a classified error with a formatted message.
func New(class Class, op, format string, args ...any) error {
	return &Error{Class: class, Op: op, Err: pkgerrors.Errorf(format, args...)}
}

// Wrap classifies err, prefixing it with a formatted message.
// The wrapped error stays reachable through errors.Is and errors.As.
// Returns nil if err is nil.
func Wrap(class Class, op string, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Class: class, Op: op, Err: pkgerrors.Wrapf(err, format, args...)}
}

// Configf creates a configuration error.
func Configf(op, format string, args ...any) error {
	return New(ClassConfiguration, op, format, args...)
}

// Capacityf creates a capacity error.
func Capacityf(op, format string, args ...any) error {
	return New(ClassCapacity, op, format, args...)
}

// Unsupported creates the error returned by per-unit operations invoked on a mesh.
func Unsupported(op string) error {
	return New(ClassUnsupported, op, "%s is not supported on MeshDevice - use individual devices instead", op)
}

// Invariantf creates an invariant error.
func Invariantf(op, format string, args ...any) error {
	return New(ClassInvariant, op, format, args...)
}

// Panicf panics with an invariant error. It is reserved for programming
// errors that leave no sensible value to return, such as mixing coordinates
// of different rank.
func Panicf(op, format string, args ...any) {
	panic(Invariantf(op, format, args...))
}

// ClassOf returns the class of err, if err is classified.
func ClassOf(err error) (Class, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Class, true
	}
	return 0, false
}
