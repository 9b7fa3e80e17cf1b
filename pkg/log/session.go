package log

import (
	"time"

	"github.com/google/uuid"
)

// Session stamps events with a session id and a timestamp before passing
// them to the next logger.
type Session struct {
	id   string
	next Logger
	now  func() time.Time
}

// NewSession starts a capture session with a fresh id. A nil next logger
// discards events.
func NewSession(next Logger) *Session {
	if next == nil {
		next = NoopLogger{}
	}
	return &Session{
		id:   uuid.New().String(),
		next: next,
		now:  time.Now,
	}
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Log fills in SessionID and Timestamp when unset and forwards the event.
func (s *Session) Log(event Event) {
	if event.SessionID == "" {
		event.SessionID = s.id
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}
	s.next.Log(event)
}

// Compile-time interface satisfaction check.
var _ Logger = (*Session)(nil)
