package inspect

import (
	"strings"
	"testing"

	"github.com/mesh-runtime/mesh-go/pkg/coord"
	"github.com/mesh-runtime/mesh-go/pkg/dispatch"
	"github.com/mesh-runtime/mesh-go/pkg/trace"
)

func testDescriptor(t *testing.T) *trace.Descriptor {
	t.Helper()
	desc, err := trace.NewDescriptor([]trace.Segment{
		{Range: coord.MustRange(coord.C(0, 0), coord.C(0, 0)), Data: []byte{1, 2}},
		{Range: coord.MustRange(coord.C(0, 1), coord.C(0, 2)), Data: []byte{1, 2, 3, 4}},
	}, 4, map[trace.SubDeviceID]trace.WorkerDescriptor{
		0: {NumCompletionWorkerCores: 128, NumProgramsNeedingMcast: 2},
	})
	if err != nil {
		t.Fatalf("NewDescriptor: %v", err)
	}
	return desc
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   uint64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{16 << 20, "16.0 MiB"},
		{3 << 30, "3.0 GiB"},
	}

	for _, tt := range tests {
		if got := FormatBytes(tt.in); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIndent(t *testing.T) {
	f := &Formatter{}
	if got := f.Indent(2, "x"); got != "    x" {
		t.Errorf("Indent(2) = %q, want %q", got, "    x")
	}
	f.IndentWidth = 3
	if got := f.Indent(1, "x"); got != "   x" {
		t.Errorf("Indent(1) with width 3 = %q, want %q", got, "   x")
	}
}

func TestFormatSegmentTable(t *testing.T) {
	f := NewFormatter()
	out := f.FormatSegmentTable(testDescriptor(t))

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header, 2 rows and a total, got %d lines:\n%s", len(lines), out)
	}
	if !strings.Contains(lines[1], "0,0:0,0") || !strings.HasSuffix(lines[1], "1") {
		t.Errorf("row 0 = %q", lines[1])
	}
	if !strings.Contains(lines[2], "0,1:0,2") || !strings.Contains(lines[2], " 4 ") {
		t.Errorf("row 1 = %q", lines[2])
	}
	if !strings.Contains(lines[3], "total 4 B in 2 segments") {
		t.Errorf("total = %q", lines[3])
	}
}

func TestFormatSegmentTableShowData(t *testing.T) {
	f := NewFormatter()
	f.ShowData = true
	f.PreviewBytes = 2

	out := f.FormatSegmentTable(testDescriptor(t))
	if !strings.Contains(out, "0102\n") {
		t.Errorf("short segment should be shown in full:\n%s", out)
	}
	if !strings.Contains(out, "0102...") {
		t.Errorf("long segment should be truncated:\n%s", out)
	}
}

func TestFormatSegmentTableEmpty(t *testing.T) {
	if got := NewFormatter().FormatSegmentTable(nil); !strings.Contains(got, "no segments") {
		t.Errorf("FormatSegmentTable(nil) = %q", got)
	}
}

func TestFormatWorkers(t *testing.T) {
	out := NewFormatter().FormatWorkers(testDescriptor(t))
	want := "  sub-device 0: 128 completion cores, 2 mcast, 0 unicast programs\n"
	if out != want {
		t.Errorf("FormatWorkers = %q, want %q", out, want)
	}
}

func TestFormatDispatchState(t *testing.T) {
	var st dispatch.State
	st.ExpectedWorkersCompleted[0] = 128
	st.LaunchMsg[0].McastWptr = 2
	st.ConfigBuf[0].MarkCompletelyFull(128)
	st.ConfigBuf[1].Reserve(0, 2048)

	out := NewFormatter().FormatDispatchState(st, []trace.SubDeviceID{0, 1})
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d:\n%s", len(lines), out)
	}
	if !strings.Contains(lines[1], "128") || !strings.HasSuffix(lines[1], "full until 128") {
		t.Errorf("sub-device 0 row = %q", lines[1])
	}
	if !strings.HasSuffix(lines[2], "2.0 KiB reserved") {
		t.Errorf("sub-device 1 row = %q", lines[2])
	}
}

func TestFormatConfigBuffer(t *testing.T) {
	if got := FormatConfigBuffer(dispatch.ConfigBufferMgr{}); got != "free" {
		t.Errorf("empty = %q, want free", got)
	}
}

func TestFormatPageSizeTable(t *testing.T) {
	cands := dispatch.Candidates(5000, 12)
	pick, err := dispatch.ComputePageSize(5000, 12)
	if err != nil {
		t.Fatalf("ComputePageSize: %v", err)
	}

	out := NewFormatter().FormatPageSizeTable(cands, pick)
	if strings.Count(out, "<") != 1 {
		t.Errorf("exactly one candidate should be marked:\n%s", out)
	}
	if n := strings.Count(out, "\n"); n != len(cands)+1 {
		t.Errorf("expected %d lines, got %d", len(cands)+1, n)
	}
}
