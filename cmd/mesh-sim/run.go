package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/mesh-runtime/mesh-go/cmd/mesh-sim/interactive"
	"github.com/mesh-runtime/mesh-go/pkg/command"
	"github.com/mesh-runtime/mesh-go/pkg/config"
	"github.com/mesh-runtime/mesh-go/pkg/coord"
	"github.com/mesh-runtime/mesh-go/pkg/inspect"
	"github.com/mesh-runtime/mesh-go/pkg/mesh"
	"github.com/mesh-runtime/mesh-go/pkg/trace"
	"github.com/mesh-runtime/mesh-go/pkg/tracefile"
)

type scenarioOptions struct {
	TraceID  uint32
	Replays  int
	Launches int
	TraceOut string
	TraceIn  string
	ShowData bool
}

// runScenario opens a mesh, shows how it tiles into submeshes, captures
// (or loads) a trace, replays it and prints what happened.
func runScenario(ctx context.Context, out io.Writer, cfg config.Config, opts scenarioOptions, meshOpts ...mesh.Option) error {
	if opts.Replays < 0 {
		return fmt.Errorf("replays must not be negative, got %d", opts.Replays)
	}

	pool, err := cfg.NewSystemPool()
	if err != nil {
		return err
	}
	m, err := mesh.Create(pool, cfg, meshOpts...)
	if err != nil {
		return err
	}
	defer m.Close()

	f := inspect.NewFormatter()
	f.ShowData = opts.ShowData
	insp := inspect.NewInspector(m)

	fmt.Fprintf(out, "Opened mesh %d: %s\n", m.ID(), m)

	if err := showSubmeshes(out, m, f, insp); err != nil {
		return err
	}

	id := trace.ID(opts.TraceID)
	if opts.TraceIn != "" {
		file, err := tracefile.Load(opts.TraceIn)
		if err != nil {
			return err
		}
		if err := m.LoadTrace(ctx, 0, id, file.Descriptor); err != nil {
			return err
		}
		fmt.Fprintf(out, "\nLoaded trace %d from %s (recorded as %d on %s)\n", id, opts.TraceIn, file.ID, file.Shape)
	} else {
		if err := capture(ctx, out, m, cfg.CommandFactory(), id, opts.Launches); err != nil {
			return err
		}
	}

	buf, err := m.MeshTrace(id)
	if err != nil {
		return err
	}
	desc := buf.Descriptor()
	info, err := insp.InspectTrace(m.ID(), id)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, f.FormatTraceInfo(*info))
	fmt.Fprint(out, f.FormatSegmentTable(desc))
	fmt.Fprint(out, f.FormatWorkers(desc))

	start := time.Now()
	for i := range opts.Replays {
		if err := m.ReplayTrace(ctx, 0, id, true); err != nil {
			return fmt.Errorf("replay %d: %w", i+1, err)
		}
	}
	fmt.Fprintf(out, "\nReplayed trace %d %d times in %s\n", id, opts.Replays, time.Since(start).Round(time.Microsecond))

	q, err := m.MeshCommandQueue(0)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "Dispatch counters:")
	fmt.Fprint(out, f.FormatDispatchState(q.State(), desc.SubDeviceIDs()))

	if opts.TraceOut != "" {
		shape, err := m.Shape()
		if err != nil {
			return err
		}
		if err := tracefile.Save(opts.TraceOut, tracefile.File{ID: id, Shape: shape, Descriptor: desc}); err != nil {
			return err
		}
		fmt.Fprintf(out, "Saved trace %d to %s\n", id, opts.TraceOut)
	}

	if err := m.ReleaseTrace(id); err != nil {
		return err
	}
	return m.Close()
}

// showSubmeshes tiles a rank 2 mesh into halves along its columns, prints
// the tree and closes the tiles again.
func showSubmeshes(out io.Writer, m *mesh.MeshDevice, f *inspect.Formatter, insp *inspect.Inspector) error {
	shape, err := m.Shape()
	if err != nil {
		return err
	}
	if shape.Dims() != 2 || shape.Dim(1)%2 != 0 {
		return nil
	}

	subs, err := m.CreateSubmeshes(coord.MustShape(shape.Dim(0), shape.Dim(1)/2))
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\nSubmeshes of %s:\n", shape)
	fmt.Fprint(out, f.FormatMeshTree(insp.InspectMesh()))
	for _, sub := range subs {
		if err := sub.Close(); err != nil {
			return err
		}
	}
	return nil
}

// capture records three programs: one over the whole mesh, one over its
// leading half and one on the last unit, so that the segments split.
func capture(ctx context.Context, out io.Writer, m *mesh.MeshDevice, factory command.Factory, id trace.ID, launches int) error {
	shape, err := m.Shape()
	if err != nil {
		return err
	}
	full := coord.FullRange(shape)
	end := full.End().Values()
	end[len(end)-1] /= 2
	half, err := coord.NewRange(full.Start(), coord.C(end...))
	if err != nil {
		return err
	}
	last, err := coord.NewRange(full.End(), full.End())
	if err != nil {
		return err
	}

	q, err := m.MeshCommandQueue(0)
	if err != nil {
		return err
	}
	prog, err := interactive.ComputeProgram(m, 0)
	if err != nil {
		return err
	}

	if err := m.BeginTrace(0, id); err != nil {
		return err
	}
	fmt.Fprintf(out, "\nCapturing trace %d:\n", id)
	for i, rng := range []coord.Range{full, half, last} {
		w, err := interactive.BuildWorkload(factory, rng, prog, launches+i)
		if err != nil {
			return err
		}
		if err := q.EnqueueWorkload(ctx, w, false); err != nil {
			return err
		}
		fmt.Fprintf(out, "  program %d: %d B on %s\n", i, len(w.Commands), inspect.FormatRange(rng))
	}
	return m.EndTrace(ctx, 0, id)
}
