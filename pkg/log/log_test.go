package log

import (
	"bytes"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func u32(v uint32) *uint32 { return &v }

func sampleEvents(session string) []Event {
	t0 := time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC)
	return []Event{
		{
			Timestamp: t0,
			SessionID: session,
			MeshID:    0,
			Layer:     LayerMesh,
			Category:  CategoryLifecycle,
			Mesh:      &MeshEvent{Action: MeshOpen, Shape: "1x4", UnitIDs: []int{0, 1, 2, 3}},
		},
		{
			Timestamp: t0.Add(time.Millisecond),
			SessionID: session,
			MeshID:    1,
			Layer:     LayerMesh,
			Category:  CategoryLifecycle,
			Mesh:      &MeshEvent{Action: MeshSubmesh, Shape: "1x2", ParentID: u32(0)},
		},
		{
			Timestamp: t0.Add(2 * time.Millisecond),
			SessionID: session,
			MeshID:    0,
			Layer:     LayerTrace,
			Category:  CategoryRecord,
			TraceID:   u32(7),
			Trace:     &TraceEvent{Action: TraceRecord, Range: "[(0, 0) - (0, 3)]", Size: 2, NumSegments: 1},
		},
		{
			Timestamp: t0.Add(3 * time.Millisecond),
			SessionID: session,
			MeshID:    0,
			Layer:     LayerDispatch,
			Category:  CategoryReplay,
			TraceID:   u32(7),
			Replay:    &ReplayEvent{CmdSize: 192, NumUnits: 4, Blocking: true},
		},
	}
}

func TestEncodeDecodeEvent(t *testing.T) {
	in := sampleEvents("s")[2]

	data, err := EncodeEvent(in)
	if err != nil {
		t.Fatalf("EncodeEvent failed: %v", err)
	}
	out, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("DecodeEvent failed: %v", err)
	}

	if !out.Timestamp.Equal(in.Timestamp) {
		t.Errorf("Timestamp: got %v, want %v", out.Timestamp, in.Timestamp)
	}
	if out.TraceID == nil || *out.TraceID != 7 {
		t.Errorf("TraceID: got %v, want 7", out.TraceID)
	}
	if out.Trace == nil {
		t.Fatal("Trace is nil")
	}
	if out.Trace.Range != in.Trace.Range || out.Trace.Size != 2 {
		t.Errorf("Trace: got %+v, want %+v", *out.Trace, *in.Trace)
	}
	if out.Mesh != nil || out.Replay != nil || out.Error != nil {
		t.Error("unexpected payloads decoded")
	}
}

func TestEncodeEventTimestampTag(t *testing.T) {
	data, err := EncodeEvent(sampleEvents("s")[0])
	if err != nil {
		t.Fatalf("EncodeEvent failed: %v", err)
	}
	// Key 1 followed by tag 0 (date/time string).
	if !bytes.Contains(data, []byte{0x01, 0xc0}) {
		t.Errorf("timestamp is not tagged: % x", data)
	}
}

func TestDecodeEventRejectsForeignEncodings(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"duplicate key", []byte{0xa2, 0x03, 0x00, 0x03, 0x01}},
		{"indefinite map", []byte{0xbf, 0x03, 0x00, 0xff}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeEvent(tt.data); err == nil {
				t.Error("DecodeEvent should fail")
			}
		})
	}
}

func TestFileLoggerAndReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.mlog")

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	for _, e := range sampleEvents("abc") {
		logger.Log(e)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("second Close returned %v", err)
	}
	logger.Log(Event{}) // ignored after close

	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer r.Close()

	events, err := r.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("got %d events, want 4", len(events))
	}
	if events[1].Mesh == nil || events[1].Mesh.ParentID == nil || *events[1].Mesh.ParentID != 0 {
		t.Errorf("submesh event lost its parent: %+v", events[1].Mesh)
	}
	if _, err := r.Next(); err != io.EOF {
		t.Errorf("Next after end: got %v, want io.EOF", err)
	}
}

func TestFileLoggerAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.mlog")

	for i := range 2 {
		logger, err := NewFileLogger(path)
		if err != nil {
			t.Fatalf("NewFileLogger #%d failed: %v", i, err)
		}
		logger.Log(sampleEvents("s")[0])
		logger.Close()
	}

	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer r.Close()
	events, _ := r.ReadAll()
	if len(events) != 2 {
		t.Errorf("got %d events, want 2", len(events))
	}
}

func TestFileLoggerConcurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.mlog")
	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, e := range sampleEvents("c") {
				logger.Log(e)
			}
		}()
	}
	wg.Wait()
	logger.Close()

	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer r.Close()
	events, err := r.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(events) != 32 {
		t.Errorf("got %d events, want 32", len(events))
	}
	if logger.Dropped() != 0 {
		t.Errorf("dropped %d events", logger.Dropped())
	}
}

func TestFilterMatches(t *testing.T) {
	events := sampleEvents("abc")
	layer := LayerMesh
	cat := CategoryReplay
	start := events[1].Timestamp

	tests := []struct {
		name   string
		filter Filter
		want   []bool
	}{
		{"empty", Filter{}, []bool{true, true, true, true}},
		{"session", Filter{SessionID: "other"}, []bool{false, false, false, false}},
		{"mesh", Filter{MeshID: u32(1)}, []bool{false, true, false, false}},
		{"trace", Filter{TraceID: u32(7)}, []bool{false, false, true, true}},
		{"layer", Filter{Layer: &layer}, []bool{true, true, false, false}},
		{"category", Filter{Category: &cat}, []bool{false, false, false, true}},
		{"time", Filter{TimeStart: &start}, []bool{false, true, true, true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i, e := range events {
				if got := tt.filter.Matches(e); got != tt.want[i] {
					t.Errorf("event %d: got %v, want %v", i, got, tt.want[i])
				}
			}
		})
	}
}

type collectLogger struct {
	mu     sync.Mutex
	events []Event
}

func (c *collectLogger) Log(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func TestMultiLoggerSkipsNil(t *testing.T) {
	a, b := &collectLogger{}, &collectLogger{}
	m := NewMultiLogger(a, nil, b)
	m.Log(Event{MeshID: 3})

	if len(a.events) != 1 || len(b.events) != 1 {
		t.Fatalf("got %d and %d events, want 1 each", len(a.events), len(b.events))
	}
}

func TestSessionStampsEvents(t *testing.T) {
	c := &collectLogger{}
	s := NewSession(c)
	fixed := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	s.Log(Event{MeshID: 1})
	s.Log(Event{SessionID: "keep", Timestamp: fixed.Add(time.Hour)})

	if len(s.ID()) != 36 {
		t.Errorf("session id %q is not a UUID", s.ID())
	}
	if c.events[0].SessionID != s.ID() || !c.events[0].Timestamp.Equal(fixed) {
		t.Errorf("event not stamped: %+v", c.events[0])
	}
	if c.events[1].SessionID != "keep" || !c.events[1].Timestamp.Equal(fixed.Add(time.Hour)) {
		t.Errorf("preset fields overwritten: %+v", c.events[1])
	}

	NewSession(nil).Log(Event{}) // discards
}

func TestSlogAdapter(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	a := NewSlogAdapter(logger)

	for _, e := range sampleEvents("abc") {
		a.Log(e)
	}
	a.Log(Event{Layer: LayerDispatch, Category: CategoryError, Error: &ErrorEventData{
		Layer: LayerDispatch, Message: "boom", Class: "capacity", Context: "upload",
	}})

	out := buf.String()
	for _, want := range []string{
		"action=OPEN", "shape=1x4", "parent_id=0", "range=", "trace_id=7",
		"cmd_size=192", "error_class=capacity", "error_msg=boom",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestStringers(t *testing.T) {
	if LayerTrace.String() != "TRACE" || Layer(9).String() != "UNKNOWN" {
		t.Error("Layer.String")
	}
	if CategoryUpload.String() != "UPLOAD" {
		t.Error("Category.String")
	}
	if MeshReshape.String() != "RESHAPE" || TraceLoad.String() != "LOAD" {
		t.Error("action String")
	}
}
