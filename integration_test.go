package meshgo_test

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mesh-runtime/mesh-go/pkg/command"
	"github.com/mesh-runtime/mesh-go/pkg/config"
	"github.com/mesh-runtime/mesh-go/pkg/coord"
	"github.com/mesh-runtime/mesh-go/pkg/dispatch"
	"github.com/mesh-runtime/mesh-go/pkg/log"
	"github.com/mesh-runtime/mesh-go/pkg/mesh"
	"github.com/mesh-runtime/mesh-go/pkg/metrics"
	"github.com/mesh-runtime/mesh-go/pkg/trace"
	"github.com/mesh-runtime/mesh-go/pkg/tracefile"
)

const yamlConfig = `
mesh:
  shape: 2x4
  trace_region_size: 1048576
system:
  rows: 2
  cols: 4
`

const tomlConfig = `
[mesh]
shape = "2x2"
trace_region_size = 1048576

[system]
rows = 2
cols = 2
`

var quiet = mesh.WithLogger(slog.New(slog.DiscardHandler))

func writeConfig(t *testing.T, name, content string) config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Failed to load %s: %v", name, err)
	}
	return cfg
}

func openMesh(t *testing.T, cfg config.Config, opts ...mesh.Option) *mesh.MeshDevice {
	t.Helper()
	pool, err := cfg.NewSystemPool()
	if err != nil {
		t.Fatalf("Failed to create pool: %v", err)
	}
	m, err := mesh.Create(pool, cfg, append([]mesh.Option{quiet}, opts...)...)
	if err != nil {
		t.Fatalf("Failed to open mesh: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m
}

// captureOn records a program over the whole mesh and a second one on its
// first unit.
func captureOn(t *testing.T, ctx context.Context, m *mesh.MeshDevice, id trace.ID) {
	t.Helper()
	shape, err := m.Shape()
	if err != nil {
		t.Fatalf("Shape: %v", err)
	}
	q, err := m.MeshCommandQueue(0)
	if err != nil {
		t.Fatalf("MeshCommandQueue: %v", err)
	}
	f := command.CBORFactory(command.DefaultHostAlignment)
	wait := command.Wait{Address: dispatch.DefaultSettings().DispatchMessageBase}
	prog := trace.Program{WorkerCores: 64, NeedsMcast: true}

	full := coord.FullRange(shape)
	first := coord.MustRange(full.Start(), full.Start())

	if err := m.BeginTrace(0, id); err != nil {
		t.Fatalf("BeginTrace: %v", err)
	}
	for _, rng := range []coord.Range{full, first} {
		b := f()
		if err := b.AddDispatchWait(wait); err != nil {
			t.Fatalf("AddDispatchWait: %v", err)
		}
		w := mesh.Workload{Range: rng, Program: prog, Commands: b.Bytes()}
		if err := q.EnqueueWorkload(ctx, w, false); err != nil {
			t.Fatalf("EnqueueWorkload on %s: %v", rng, err)
		}
	}
	if err := m.EndTrace(ctx, 0, id); err != nil {
		t.Fatalf("EndTrace: %v", err)
	}
}

// TestE2E_SubmeshCaptureReplay captures the same trace id on two submeshes,
// replays them concurrently and carries one to a differently shaped system.
func TestE2E_SubmeshCaptureReplay(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logPath := filepath.Join(t.TempDir(), "e2e.mlog")
	fl, err := log.NewFileLogger(logPath)
	if err != nil {
		t.Fatalf("Failed to create capture log: %v", err)
	}
	session := log.NewSession(fl)

	reg := prometheus.NewRegistry()
	met := metrics.New()
	if err := met.Register(reg); err != nil {
		t.Fatalf("Failed to register metrics: %v", err)
	}

	root := openMesh(t, writeConfig(t, "mesh.yaml", yamlConfig),
		mesh.WithCaptureLogger(session), mesh.WithMetrics(met))

	subs, err := root.CreateSubmeshes(coord.MustShape(2, 2))
	if err != nil {
		t.Fatalf("CreateSubmeshes: %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("Expected 2 submeshes, got %d", len(subs))
	}

	// Same trace id on both: trace maps are per mesh, the region is shared.
	for _, sub := range subs {
		captureOn(t, ctx, sub, 1)
	}
	a, _ := subs[0].MeshTrace(1)
	b, _ := subs[1].MeshTrace(1)
	if a.Memory().Address == b.Memory().Address {
		t.Errorf("Submesh traces share address 0x%x", a.Memory().Address)
	}
	if root.TraceBuffersSize() != 0 {
		t.Errorf("Root trace bytes = %d, want 0", root.TraceBuffersSize())
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(subs)*3)
	for _, sub := range subs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 3 {
				if err := sub.ReplayTrace(ctx, 0, 1, true); err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("Replay failed: %v", err)
	}

	for _, sub := range subs {
		q, _ := sub.MeshCommandQueue(0)
		st := q.State()
		if st.ExpectedWorkersCompleted[0] != 128 {
			t.Errorf("Mesh %d expected workers = %d, want 128", sub.ID(), st.ExpectedWorkersCompleted[0])
		}
	}

	tracePath := filepath.Join(t.TempDir(), "sub0"+tracefile.Ext)
	shape, _ := subs[0].Shape()
	if err := tracefile.Save(tracePath, tracefile.File{ID: 1, Shape: shape, Descriptor: a.Descriptor()}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	sub0 := subs[0].ID()

	if err := root.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	for _, sub := range subs {
		if !sub.IsClosed() {
			t.Errorf("Submesh %d still open after root close", sub.ID())
		}
	}
	if err := fl.Close(); err != nil {
		t.Fatalf("Failed to close capture log: %v", err)
	}

	// The saved trace fits the 2x2 system of the second config.
	other := openMesh(t, writeConfig(t, "mesh.toml", tomlConfig))
	file, err := tracefile.Load(tracePath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := other.LoadTrace(ctx, 0, 5, file.Descriptor); err != nil {
		t.Fatalf("LoadTrace: %v", err)
	}
	if err := other.ReplayTrace(ctx, 0, 5, true); err != nil {
		t.Fatalf("ReplayTrace: %v", err)
	}

	// Every event of the first submesh is in the log under one session.
	layer := log.LayerTrace
	r, err := log.NewFilteredReader(logPath, log.Filter{MeshID: &sub0, Layer: &layer})
	if err != nil {
		t.Fatalf("NewFilteredReader: %v", err)
	}
	defer r.Close()
	events, err := r.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	var actions []log.TraceAction
	for _, e := range events {
		if e.SessionID != session.ID() {
			t.Errorf("Event session %q, want %q", e.SessionID, session.ID())
		}
		if e.Trace != nil {
			actions = append(actions, e.Trace.Action)
		}
	}
	want := []log.TraceAction{log.TraceBegin, log.TraceRecord, log.TraceRecord, log.TraceEnd, log.TraceUpload, log.TraceRelease}
	if len(actions) != len(want) {
		t.Fatalf("Trace actions = %v, want %v", actions, want)
	}
	for i := range want {
		if actions[i] != want[i] {
			t.Errorf("Action %d = %s, want %s", i, actions[i], want[i])
		}
	}
}

// TestE2E_SubmeshUnitsReturnToPool checks that units of a closed hierarchy
// can be opened again.
func TestE2E_SubmeshUnitsReturnToPool(t *testing.T) {
	cfg := config.Default()
	pool, err := cfg.NewSystemPool()
	if err != nil {
		t.Fatalf("NewSystemPool: %v", err)
	}

	for round := range 3 {
		m, err := mesh.Create(pool, cfg, quiet)
		if err != nil {
			t.Fatalf("Round %d: Create: %v", round, err)
		}
		if _, err := m.CreateSubmeshes(coord.MustShape(1, 2)); err != nil {
			t.Fatalf("Round %d: CreateSubmeshes: %v", round, err)
		}
		if _, err := mesh.Create(pool, cfg, quiet); err == nil {
			t.Fatalf("Round %d: second root mesh should not find free units", round)
		}
		if err := m.Close(); err != nil {
			t.Fatalf("Round %d: Close: %v", round, err)
		}
	}
}
