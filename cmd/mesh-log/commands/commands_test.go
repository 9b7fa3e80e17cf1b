package commands

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mesh-runtime/mesh-go/pkg/log"
)

func u32(v uint32) *uint32 { return &v }

// createTestLogFile writes events to a temporary .mlog file.
func createTestLogFile(t *testing.T, events []log.Event) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.mlog")
	logger, err := log.NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	for _, e := range events {
		logger.Log(e)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	return path
}

func sampleEvents() []log.Event {
	ts := time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)
	return []log.Event{
		{Timestamp: ts, SessionID: "s1", MeshID: 0, Layer: log.LayerMesh, Category: log.CategoryLifecycle,
			Mesh: &log.MeshEvent{Action: log.MeshOpen, Shape: "1x4", UnitIDs: []int{0, 1, 2, 3}}},
		{Timestamp: ts.Add(time.Millisecond), SessionID: "s1", MeshID: 1, Layer: log.LayerMesh, Category: log.CategoryLifecycle,
			Mesh: &log.MeshEvent{Action: log.MeshSubmesh, Shape: "1x2", ParentID: u32(0), UnitIDs: []int{0, 1}}},
		{Timestamp: ts.Add(2 * time.Millisecond), SessionID: "s1", MeshID: 0, Layer: log.LayerTrace, Category: log.CategoryLifecycle,
			TraceID: u32(3), Trace: &log.TraceEvent{Action: log.TraceBegin}},
		{Timestamp: ts.Add(3 * time.Millisecond), SessionID: "s1", MeshID: 0, Layer: log.LayerTrace, Category: log.CategoryRecord,
			TraceID: u32(3), Trace: &log.TraceEvent{Action: log.TraceRecord, Range: "[(0, 0) - (0, 3)]", Size: 128, NumSegments: 1}},
		{Timestamp: ts.Add(4 * time.Millisecond), SessionID: "s1", MeshID: 0, Layer: log.LayerTrace, Category: log.CategoryUpload,
			TraceID: u32(3), Trace: &log.TraceEvent{Action: log.TraceUpload, Size: 192, NumSegments: 1, PageSize: 1024, PaddedSize: 1024, Address: 0x4000_0000}},
		{Timestamp: ts.Add(5 * time.Millisecond), SessionID: "s1", MeshID: 0, Layer: log.LayerDispatch, Category: log.CategoryReplay,
			TraceID: u32(3), Replay: &log.ReplayEvent{CmdSize: 192, NumUnits: 4, Blocking: true, SubDevices: []uint8{0}, Duration: 40 * time.Microsecond}},
		{Timestamp: ts.Add(6 * time.Millisecond), SessionID: "s1", MeshID: 1, Layer: log.LayerMesh, Category: log.CategoryError,
			Error: &log.ErrorEventData{Layer: log.LayerMesh, Message: "mesh device is closed", Class: "INVARIANT", Context: "MeshDevice.Reshape"}},
	}
}

func TestViewFormatsEvents(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())

	var buf bytes.Buffer
	if err := RunView(path, ViewFilter{}, &buf); err != nil {
		t.Fatalf("RunView failed: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"[mesh:0] MESH     OPEN",
		"Units: [0 1 2 3]",
		"Parent: 0",
		"RECORD trace=3",
		"Range: [(0, 0) - (0, 3)]",
		"Placement: 0x40000000, 1024 B pages, 1024 B padded",
		"Units: 4  CmdSize: 192 bytes  Blocking: true",
		"Duration: 40.000us",
		"Class: INVARIANT",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestViewFilter(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())

	layer := log.LayerTrace
	var buf bytes.Buffer
	if err := RunView(path, ViewFilter{Layer: &layer, MeshID: u32(0)}, &buf); err != nil {
		t.Fatalf("RunView failed: %v", err)
	}
	out := buf.String()
	if got := strings.Count(out, "[mesh:"); got != 3 {
		t.Errorf("expected 3 trace events, got %d:\n%s", got, out)
	}
	if strings.Contains(out, "REPLAY") {
		t.Error("dispatch events should be filtered out")
	}
}

func TestParseFlags(t *testing.T) {
	if l, err := ParseLayerFlag("Dispatch"); err != nil || l != log.LayerDispatch {
		t.Errorf("ParseLayerFlag(Dispatch) = %v, %v", l, err)
	}
	if _, err := ParseLayerFlag("wire"); err == nil {
		t.Error("expected error for unknown layer")
	}
	if c, err := ParseCategoryFlag("upload"); err != nil || c != log.CategoryUpload {
		t.Errorf("ParseCategoryFlag(upload) = %v, %v", c, err)
	}
	if _, err := ParseCategoryFlag("message"); err == nil {
		t.Error("expected error for unknown category")
	}
}

func TestStats(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())

	var buf bytes.Buffer
	if err := RunStats(path, &buf); err != nil {
		t.Fatalf("RunStats failed: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"Total Events: 7",
		"MESH:        3",
		"TRACE:       3",
		"DISPATCH:    1",
		"Meshes: 2",
		"[mesh 0] 5 events, shape 1x4",
		"Traces: 1 (128 B recorded, 1024 B uploaded)",
		"Replays: 1 (avg 40.000us)",
		"[mesh 1] 2 events, shape 1x2, parent 0",
		"Errors: 1",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestStatsEmpty(t *testing.T) {
	path := createTestLogFile(t, nil)

	var buf bytes.Buffer
	if err := RunStats(path, &buf); err != nil {
		t.Fatalf("RunStats failed: %v", err)
	}
	if !strings.Contains(buf.String(), "Total Events: 0") {
		t.Errorf("unexpected output:\n%s", buf.String())
	}
}

func TestExportJSONL(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	out := filepath.Join(t.TempDir(), "out.jsonl")

	if err := RunExport(path, "jsonl", out); err != nil {
		t.Fatalf("RunExport failed: %v", err)
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	lines := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e log.Event
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("line %d is not an event: %v", lines, err)
		}
		lines++
	}
	if lines != 7 {
		t.Errorf("expected 7 lines, got %d", lines)
	}
}

func TestExportCSV(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	out := filepath.Join(t.TempDir(), "out.csv")

	if err := RunExport(path, "csv", out); err != nil {
		t.Fatalf("RunExport failed: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		t.Fatalf("invalid CSV: %v", err)
	}
	if len(rows) != 8 {
		t.Fatalf("expected header + 7 rows, got %d", len(rows))
	}
	if rows[0][0] != "timestamp" {
		t.Errorf("unexpected header %v", rows[0])
	}
	if got := rows[4]; got[5] != "trace_RECORD" || got[6] != "3" || got[7] != "128" {
		t.Errorf("unexpected record row %v", got)
	}
}

func TestExportUnknownFormat(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	if err := RunExport(path, "xml", filepath.Join(t.TempDir(), "out")); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestFilter(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	out := filepath.Join(t.TempDir(), "filtered.mlog")

	n, err := RunFilter(path, FilterOptions{Output: out, TraceID: u32(3), Category: "record"})
	if err != nil {
		t.Fatalf("RunFilter failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 event, got %d", n)
	}

	r, err := log.NewReader(out)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	events, err := r.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Trace == nil || events[0].Trace.Action != log.TraceRecord {
		t.Errorf("unexpected filtered events: %+v", events)
	}
}

func TestFilterInvalidOptions(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	out := filepath.Join(t.TempDir(), "filtered.mlog")

	for _, opts := range []FilterOptions{
		{Output: out, TimeStart: "yesterday"},
		{Output: out, TimeEnd: "tomorrow"},
		{Output: out, Layer: "wire"},
		{Output: out, Category: "state"},
	} {
		if _, err := RunFilter(path, opts); err == nil {
			t.Errorf("expected error for %+v", opts)
		}
	}
}
