package interactive

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/mesh-runtime/mesh-go/pkg/command"
	"github.com/mesh-runtime/mesh-go/pkg/config"
	"github.com/mesh-runtime/mesh-go/pkg/coord"
	"github.com/mesh-runtime/mesh-go/pkg/mesh"
	"github.com/mesh-runtime/mesh-go/pkg/trace"
)

func testShell(t *testing.T) (*Shell, *bytes.Buffer) {
	t.Helper()
	cfg := config.Default()
	cfg.Mesh.Shape = "1x4"
	cfg.Mesh.TraceRegionSize = 1 << 20
	cfg.System.Rows = 1
	cfg.System.Cols = 4

	var out bytes.Buffer
	s := newShell(cfg, &out, mesh.WithLogger(slog.New(slog.DiscardHandler)))
	t.Cleanup(s.closeAll)
	return s, &out
}

// run executes a command and returns what it printed.
func run(t *testing.T, s *Shell, out *bytes.Buffer, line string) string {
	t.Helper()
	out.Reset()
	if !s.Exec(t.Context(), line) {
		t.Fatalf("%q ended the shell", line)
	}
	return out.String()
}

func expectContains(t *testing.T, got, want string) {
	t.Helper()
	if !strings.Contains(got, want) {
		t.Errorf("output does not contain %q:\n%s", want, got)
	}
}

func TestShellCaptureReplay(t *testing.T) {
	s, out := testShell(t)

	expectContains(t, run(t, s, out, "open"), "Opened mesh")
	expectContains(t, run(t, s, out, "begin 1"), "Capturing trace 1")
	expectContains(t, run(t, s, out, "record all"), "Enqueued 64 B on 0,0:0,3")
	expectContains(t, run(t, s, out, "record 0,1:0,2 2"), "Enqueued 128 B on 0,1:0,2")
	expectContains(t, run(t, s, out, "end 1"), "trace 1 [uploaded] 3 segments")

	seg := run(t, s, out, "segments 1")
	expectContains(t, seg, "0,1:0,2")
	expectContains(t, seg, "total 256 B in 3 segments")
	expectContains(t, seg, "sub-device 0: 128 completion cores, 2 mcast, 0 unicast programs")

	expectContains(t, run(t, s, out, "replay 1 2"), "Replayed trace 1 2 times")
	expectContains(t, run(t, s, out, "state"), "full until 128")
	expectContains(t, run(t, s, out, "release 1"), "Released trace 1, 0 B of trace buffers in use")
	expectContains(t, run(t, s, out, "segments 1"), "Error")
}

func TestShellSaveLoad(t *testing.T) {
	s, out := testShell(t)
	path := filepath.Join(t.TempDir(), "t.mtrace")

	run(t, s, out, "open")
	run(t, s, out, "begin 1")
	run(t, s, out, "record 0,0:0,1")
	run(t, s, out, "end 1")
	expectContains(t, run(t, s, out, "save 1 "+path), "Saved trace 1")

	got := run(t, s, out, "load 2 "+path)
	expectContains(t, got, "Loaded trace 2 (recorded as 1 on 1x4)")
	expectContains(t, got, "trace 2 [uploaded] 1 segments")
	expectContains(t, run(t, s, out, "replay 2"), "Replayed trace 2 1 times")
	expectContains(t, run(t, s, out, "load 2 "+path), "Error")
}

func TestShellSubmeshes(t *testing.T) {
	s, out := testShell(t)
	run(t, s, out, "open")

	got := run(t, s, out, "submesh 1x2")
	if n := strings.Count(got, "Created mesh"); n != 2 {
		t.Fatalf("expected 2 submeshes, got %d:\n%s", n, got)
	}

	tree := run(t, s, out, "meshes")
	if n := strings.Count(tree, "1x2"); n != 2 {
		t.Errorf("tree should list 2 submeshes:\n%s", tree)
	}

	expectContains(t, run(t, s, out, "reshape 2x2"), "Error")

	root := s.root
	sub := root.Submeshes()[1]
	expectContains(t, run(t, s, out, "use "+strconv.FormatUint(uint64(sub.ID()), 10)), "Using mesh")
	if s.current != sub {
		t.Fatal("use should select the submesh")
	}
	expectContains(t, run(t, s, out, "close"), "Closed mesh")
	if s.current != root {
		t.Error("closing the current submesh should fall back to the root")
	}
	expectContains(t, run(t, s, out, "use 9999"), "mesh not found")
}

func TestShellReshape(t *testing.T) {
	s, out := testShell(t)
	run(t, s, out, "open")

	expectContains(t, run(t, s, out, "reshape 4x1"), "Reshaped mesh")
	expectContains(t, run(t, s, out, "record 3,0"), "Enqueued 64 B on 3,0:3,0")
	expectContains(t, run(t, s, out, "record 0,3"), "Invalid range")
	expectContains(t, run(t, s, out, "reshape 3x1"), "same number of devices")
}

func TestShellNoMesh(t *testing.T) {
	s, out := testShell(t)

	for _, line := range []string{"begin 1", "record all", "state", "reshape 1x4", "submesh 1x2"} {
		expectContains(t, run(t, s, out, line), "No mesh open")
	}
	expectContains(t, run(t, s, out, "close"), "No mesh open")
	expectContains(t, run(t, s, out, "meshes"), "No mesh open")
}

func TestShellOpenTwice(t *testing.T) {
	s, out := testShell(t)
	run(t, s, out, "open")
	expectContains(t, run(t, s, out, "open"), "already open")

	run(t, s, out, "close")
	if s.root != nil {
		t.Fatal("closing the root should clear it")
	}
	expectContains(t, run(t, s, out, "open 1x2"), "1x2 grid")
}

func TestShellUsage(t *testing.T) {
	s, out := testShell(t)
	run(t, s, out, "open")

	tests := map[string]string{
		"begin":      "Usage: begin",
		"begin x":    "Invalid trace id",
		"record":     "Usage: record",
		"replay 1 0": "Invalid count",
		"save 1":     "Usage: save",
		"load 1":     "Usage: load",
		"use":        "Usage: use",
		"submesh":    "Usage: submesh",
		"pagesize":   "Usage: pagesize",
		"bogus":      "Unknown command: bogus",
	}
	for line, want := range tests {
		expectContains(t, run(t, s, out, line), want)
	}
	if got := run(t, s, out, "# comment"); got != "" {
		t.Errorf("comment printed %q", got)
	}
	expectContains(t, run(t, s, out, "help"), "Trace commands:")
}

func TestShellQuit(t *testing.T) {
	s, out := testShell(t)
	run(t, s, out, "open")
	root := s.root

	if s.Exec(t.Context(), "quit") {
		t.Fatal("quit should end the shell")
	}
	if !root.IsClosed() {
		t.Error("quit should close the mesh")
	}
	expectContains(t, out.String(), "Exiting...")
}

func TestPageSizeReport(t *testing.T) {
	s, out := testShell(t)
	got := run(t, s, out, "pagesize 5000 12")

	expectContains(t, got, "5000 B across 12 banks: ")
	if n := strings.Count(got, "\n"); n != 5 {
		t.Errorf("expected summary, header and 3 candidates, got %d lines:\n%s", n, got)
	}
	expectContains(t, run(t, s, out, "pagesize 5000 0"), "Error")
}

func TestBuildWorkload(t *testing.T) {
	f := command.CBORFactory(command.DefaultHostAlignment)
	rng := coord.MustRange(coord.C(0, 0), coord.C(0, 1))
	prog := trace.Program{WorkerCores: 64, NeedsMcast: true}

	w, err := BuildWorkload(f, rng, prog, 3)
	if err != nil {
		t.Fatalf("BuildWorkload: %v", err)
	}
	if len(w.Commands) != 3*command.DefaultHostAlignment {
		t.Errorf("len(Commands) = %d, want %d", len(w.Commands), 3*command.DefaultHostAlignment)
	}
	cmds, err := command.Decode(w.Commands, command.DefaultHostAlignment)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cmds[2].GoSignal == nil || cmds[2].GoSignal.WaitCount != 128 || cmds[2].GoSignal.NumMcastTxns != 1 {
		t.Errorf("third launch = %+v", cmds[2].GoSignal)
	}

	again, err := BuildWorkload(f, rng, prog, 3)
	if err != nil {
		t.Fatalf("BuildWorkload: %v", err)
	}
	if w.ProgramKey == 0 || again.ProgramKey != w.ProgramKey {
		t.Errorf("program keys %x and %x should match", w.ProgramKey, again.ProgramKey)
	}
	if _, err := BuildWorkload(f, rng, prog, 0); err == nil {
		t.Error("expected error for zero launches")
	}
}
