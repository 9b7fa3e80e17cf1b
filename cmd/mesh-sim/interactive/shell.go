// Package interactive provides the interactive command-line interface
// for mesh-sim.
package interactive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/mesh-runtime/mesh-go/pkg/command"
	"github.com/mesh-runtime/mesh-go/pkg/config"
	"github.com/mesh-runtime/mesh-go/pkg/coord"
	"github.com/mesh-runtime/mesh-go/pkg/device"
	"github.com/mesh-runtime/mesh-go/pkg/dispatch"
	"github.com/mesh-runtime/mesh-go/pkg/inspect"
	"github.com/mesh-runtime/mesh-go/pkg/mesh"
	"github.com/mesh-runtime/mesh-go/pkg/trace"
	"github.com/mesh-runtime/mesh-go/pkg/tracefile"
)

// Shell handles interactive mode for mesh-sim.
type Shell struct {
	cfg     config.Config
	opts    []mesh.Option
	factory command.Factory

	out       io.Writer
	rl        *readline.Instance
	formatter *inspect.Formatter

	pool    *device.SystemPool
	root    *mesh.MeshDevice
	current *mesh.MeshDevice
}

// New creates a new interactive shell. Meshes are opened from cfg with opts.
func New(cfg config.Config, opts ...mesh.Option) (*Shell, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "mesh> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}

	s := newShell(cfg, rl.Stdout(), opts...)
	s.rl = rl
	return s, nil
}

func newShell(cfg config.Config, out io.Writer, opts ...mesh.Option) *Shell {
	return &Shell{
		cfg:       cfg,
		opts:      opts,
		factory:   cfg.CommandFactory(),
		out:       out,
		formatter: inspect.NewFormatter(),
	}
}

// SetMeshOptions sets the options meshes are opened with.
func (s *Shell) SetMeshOptions(opts ...mesh.Option) {
	s.opts = opts
}

// Close closes every open mesh and the readline instance.
func (s *Shell) Close() error {
	s.closeAll()
	if s.rl == nil {
		return nil
	}
	return s.rl.Close()
}

// Stdout returns a writer that properly coordinates with the readline input.
// Use this for log output to avoid interfering with the command prompt.
func (s *Shell) Stdout() io.Writer {
	return s.out
}

// Run starts the interactive command loop.
func (s *Shell) Run(ctx context.Context, cancel context.CancelFunc) {
	defer s.rl.Close()
	defer s.closeAll()

	s.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := s.rl.Readline()
		if err != nil {
			// EOF or interrupt
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			fmt.Fprintln(s.out, "Exiting...")
			cancel()
			return
		}

		if !s.Exec(ctx, line) {
			cancel()
			return
		}
	}
}

// Exec runs one command line. It returns false when the shell should exit.
func (s *Shell) Exec(ctx context.Context, line string) bool {
	input := strings.TrimSpace(line)
	if input == "" || strings.HasPrefix(input, "#") {
		return true
	}

	parts := strings.Fields(input)
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		s.printHelp()

	case "open", "o":
		s.cmdOpen(args)

	case "close":
		s.cmdClose(args)

	case "meshes", "tree", "ls":
		s.cmdMeshes()

	case "use", "u":
		s.cmdUse(args)

	case "submesh", "sub":
		s.cmdSubmesh(args)

	case "reshape":
		s.cmdReshape(args)

	case "begin", "b":
		s.cmdBegin(args)

	case "record", "rec":
		s.cmdRecord(ctx, args)

	case "end", "e":
		s.cmdEnd(ctx, args)

	case "replay", "r":
		s.cmdReplay(ctx, args)

	case "release":
		s.cmdRelease(args)

	case "segments", "seg":
		s.cmdSegments(args)

	case "state":
		s.cmdState()

	case "save":
		s.cmdSave(args)

	case "load":
		s.cmdLoad(ctx, args)

	case "pagesize", "ps":
		s.cmdPageSize(args)

	case "quit", "exit", "q":
		s.closeAll()
		fmt.Fprintln(s.out, "Exiting...")
		return false

	default:
		fmt.Fprintf(s.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return true
}

func (s *Shell) printHelp() {
	fmt.Fprintln(s.out, `
Mesh commands:
  open [shape]                  Open the root mesh (default from config)
  close [mesh-id]               Close the current or given mesh
  meshes                        Show the mesh tree with its traces
  use <mesh-id>                 Select the mesh the other commands act on
  submesh <shape> [offset]      Create a submesh at offset, or tile the mesh
  reshape <shape>               Reshape the current mesh

Trace commands:
  begin <trace-id>              Start capturing on command queue 0
  record <range> [launches]     Enqueue a program on a range (e.g. 0,0:1,3 or all)
  end <trace-id>                Finish the capture and upload the trace
  replay <trace-id> [count]     Replay a trace, blocking
  release <trace-id>            Release a trace buffer
  segments <trace-id>           Show the segment table of a trace
  state                         Show the dispatch counters of queue 0
  save <trace-id> <file>        Write a trace to a file
  load <trace-id> <file>        Load a trace file and upload it

Other:
  pagesize <bytes> [banks]      Show the page size choice for a trace size
  help                          Show this help
  quit                          Close every mesh and exit`)
}

// active returns the mesh commands act on, printing a hint when none is open.
func (s *Shell) active() *mesh.MeshDevice {
	if s.current == nil || s.current.IsClosed() {
		fmt.Fprintln(s.out, "No mesh open (use 'open')")
		return nil
	}
	return s.current
}

func (s *Shell) cmdOpen(args []string) {
	if s.root != nil && !s.root.IsClosed() {
		fmt.Fprintf(s.out, "Mesh %d already open\n", s.root.ID())
		return
	}

	cfg := s.cfg
	if len(args) > 0 {
		cfg.Mesh.Shape = args[0]
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return
	}
	if s.pool == nil {
		pool, err := cfg.NewSystemPool()
		if err != nil {
			fmt.Fprintf(s.out, "Error: %v\n", err)
			return
		}
		s.pool = pool
	}

	m, err := mesh.Create(s.pool, cfg, s.opts...)
	if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return
	}
	s.root, s.current = m, m
	fmt.Fprintf(s.out, "Opened mesh %d: %s\n", m.ID(), m)
}

func (s *Shell) cmdClose(args []string) {
	if s.root == nil || s.root.IsClosed() {
		fmt.Fprintln(s.out, "No mesh open")
		return
	}

	target := s.current
	if len(args) > 0 {
		m, ok := s.find(args[0])
		if !ok {
			return
		}
		target = m
	}

	if err := target.Close(); err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(s.out, "Closed mesh %d\n", target.ID())

	if s.current.IsClosed() {
		s.current = s.root
		if s.root.IsClosed() {
			s.root, s.current = nil, nil
		}
	}
}

func (s *Shell) cmdMeshes() {
	if s.root == nil || s.root.IsClosed() {
		fmt.Fprintln(s.out, "No mesh open")
		return
	}
	tree := inspect.NewInspector(s.root).InspectMesh()
	fmt.Fprint(s.out, s.formatter.FormatMeshTree(tree))
	fmt.Fprintf(s.out, "Current: mesh %d\n", s.current.ID())
}

func (s *Shell) cmdUse(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(s.out, "Usage: use <mesh-id>")
		return
	}
	m, ok := s.find(args[0])
	if !ok {
		return
	}
	s.current = m
	fmt.Fprintf(s.out, "Using mesh %d: %s\n", m.ID(), m)
}

// find resolves a mesh id argument within the open hierarchy.
func (s *Shell) find(arg string) (*mesh.MeshDevice, bool) {
	if s.root == nil || s.root.IsClosed() {
		fmt.Fprintln(s.out, "No mesh open")
		return nil, false
	}
	id, err := strconv.ParseUint(arg, 10, 32)
	if err != nil {
		fmt.Fprintf(s.out, "Invalid mesh id: %s\n", arg)
		return nil, false
	}
	m, err := inspect.NewInspector(s.root).Find(uint32(id))
	if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return nil, false
	}
	return m, true
}

func (s *Shell) cmdSubmesh(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(s.out, "Usage: submesh <shape> [offset]")
		fmt.Fprintln(s.out, "  Example: submesh 1x2 0,2")
		return
	}
	m := s.active()
	if m == nil {
		return
	}
	shape, err := coord.ParseShape(args[0])
	if err != nil {
		fmt.Fprintf(s.out, "Invalid shape: %v\n", err)
		return
	}

	var subs []*mesh.MeshDevice
	if len(args) > 1 {
		offset, err := inspect.ParseCoordinate(args[1])
		if err != nil {
			fmt.Fprintf(s.out, "Invalid offset: %v\n", err)
			return
		}
		sub, err := m.CreateSubmesh(shape, offset)
		if err != nil {
			fmt.Fprintf(s.out, "Error: %v\n", err)
			return
		}
		subs = append(subs, sub)
	} else {
		if subs, err = m.CreateSubmeshes(shape); err != nil {
			fmt.Fprintf(s.out, "Error: %v\n", err)
			return
		}
	}

	for _, sub := range subs {
		units, _ := sub.Units()
		ids := make([]device.ID, len(units))
		for i, u := range units {
			ids[i] = u.ID()
		}
		fmt.Fprintf(s.out, "Created mesh %d: %s units %v\n", sub.ID(), sub, ids)
	}
}

func (s *Shell) cmdReshape(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(s.out, "Usage: reshape <shape>")
		return
	}
	m := s.active()
	if m == nil {
		return
	}
	shape, err := coord.ParseShape(args[0])
	if err != nil {
		fmt.Fprintf(s.out, "Invalid shape: %v\n", err)
		return
	}
	if err := m.Reshape(shape); err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(s.out, "Reshaped mesh %d: %s\n", m.ID(), m)
}

// traceArg parses the trace id argument of a trace command.
func (s *Shell) traceArg(args []string, usage string) (*mesh.MeshDevice, trace.ID, bool) {
	if len(args) < 1 {
		fmt.Fprintln(s.out, "Usage: "+usage)
		return nil, 0, false
	}
	id, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		fmt.Fprintf(s.out, "Invalid trace id: %s\n", args[0])
		return nil, 0, false
	}
	m := s.active()
	if m == nil {
		return nil, 0, false
	}
	return m, trace.ID(id), true
}

func (s *Shell) cmdBegin(args []string) {
	m, id, ok := s.traceArg(args, "begin <trace-id>")
	if !ok {
		return
	}
	if err := m.BeginTrace(0, id); err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(s.out, "Capturing trace %d on mesh %d\n", id, m.ID())
}

func (s *Shell) cmdRecord(ctx context.Context, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(s.out, "Usage: record <range> [launches]")
		fmt.Fprintln(s.out, "  Example: record 0,0:1,3 2")
		return
	}
	m := s.active()
	if m == nil {
		return
	}
	shape, err := m.Shape()
	if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return
	}
	rng, err := inspect.ParseRange(args[0], shape)
	if err != nil {
		fmt.Fprintf(s.out, "Invalid range: %v\n", err)
		return
	}
	launches := 1
	if len(args) > 1 {
		if launches, err = strconv.Atoi(args[1]); err != nil {
			fmt.Fprintf(s.out, "Invalid launch count: %s\n", args[1])
			return
		}
	}

	prog, err := ComputeProgram(m, 0)
	if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return
	}
	w, err := BuildWorkload(s.factory, rng, prog, launches)
	if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return
	}
	q, err := m.MeshCommandQueue(0)
	if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return
	}
	if err := q.EnqueueWorkload(ctx, w, false); err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(s.out, "Enqueued %d B on %s\n", len(w.Commands), inspect.FormatRange(rng))
}

func (s *Shell) cmdEnd(ctx context.Context, args []string) {
	m, id, ok := s.traceArg(args, "end <trace-id>")
	if !ok {
		return
	}
	if err := m.EndTrace(ctx, 0, id); err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return
	}
	s.printTrace(m, id)
}

func (s *Shell) cmdReplay(ctx context.Context, args []string) {
	m, id, ok := s.traceArg(args, "replay <trace-id> [count]")
	if !ok {
		return
	}
	count := 1
	if len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil || n < 1 {
			fmt.Fprintf(s.out, "Invalid count: %s\n", args[1])
			return
		}
		count = n
	}

	start := time.Now()
	for i := range count {
		if err := m.ReplayTrace(ctx, 0, id, true); err != nil {
			fmt.Fprintf(s.out, "Error in replay %d: %v\n", i+1, err)
			return
		}
	}
	fmt.Fprintf(s.out, "Replayed trace %d %d times in %s\n", id, count, time.Since(start).Round(time.Microsecond))
}

func (s *Shell) cmdRelease(args []string) {
	m, id, ok := s.traceArg(args, "release <trace-id>")
	if !ok {
		return
	}
	if err := m.ReleaseTrace(id); err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(s.out, "Released trace %d, %s of trace buffers in use\n", id, inspect.FormatBytes(m.TraceBuffersSize()))
}

func (s *Shell) cmdSegments(args []string) {
	m, id, ok := s.traceArg(args, "segments <trace-id>")
	if !ok {
		return
	}
	buf, err := m.MeshTrace(id)
	if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return
	}
	desc := buf.Descriptor()
	if desc == nil {
		fmt.Fprintf(s.out, "Trace %d is %s\n", id, inspect.FormatTraceState(buf.State()))
		return
	}
	fmt.Fprint(s.out, s.formatter.FormatSegmentTable(desc))
	fmt.Fprint(s.out, s.formatter.FormatWorkers(desc))
}

func (s *Shell) cmdState() {
	m := s.active()
	if m == nil {
		return
	}
	q, err := m.MeshCommandQueue(0)
	if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return
	}
	fmt.Fprint(s.out, s.formatter.FormatDispatchState(q.State(), m.SubDeviceIDs()))
}

func (s *Shell) cmdSave(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(s.out, "Usage: save <trace-id> <file>")
		return
	}
	m, id, ok := s.traceArg(args, "save <trace-id> <file>")
	if !ok {
		return
	}
	buf, err := m.MeshTrace(id)
	if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return
	}
	shape, err := m.Shape()
	if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return
	}
	f := tracefile.File{ID: id, Shape: shape, Descriptor: buf.Descriptor()}
	if err := tracefile.Save(args[1], f); err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(s.out, "Saved trace %d to %s\n", id, args[1])
}

func (s *Shell) cmdLoad(ctx context.Context, args []string) {
	if len(args) < 2 {
		fmt.Fprintln(s.out, "Usage: load <trace-id> <file>")
		return
	}
	m, id, ok := s.traceArg(args, "load <trace-id> <file>")
	if !ok {
		return
	}
	f, err := tracefile.Load(args[1])
	if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return
	}
	if err := m.LoadTrace(ctx, 0, id, f.Descriptor); err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(s.out, "Loaded trace %d (recorded as %d on %s)\n", id, f.ID, f.Shape)
	s.printTrace(m, id)
}

func (s *Shell) printTrace(m *mesh.MeshDevice, id trace.ID) {
	info, err := inspect.NewInspector(m).InspectTrace(m.ID(), id)
	if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintln(s.out, s.formatter.FormatTraceInfo(*info))
}

func (s *Shell) cmdPageSize(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(s.out, "Usage: pagesize <bytes> [banks]")
		return
	}
	size, err := strconv.ParseUint(args[0], 0, 64)
	if err != nil {
		fmt.Fprintf(s.out, "Invalid size: %s\n", args[0])
		return
	}
	banks := s.cfg.Mesh.TraceBanks
	if len(args) > 1 {
		if banks, err = strconv.Atoi(args[1]); err != nil {
			fmt.Fprintf(s.out, "Invalid bank count: %s\n", args[1])
			return
		}
	}
	fmt.Fprint(s.out, PageSizeReport(s.formatter, size, banks))
}

// PageSizeReport formats the page size picked for a trace of size bytes
// across banks banks, with the candidate table.
func PageSizeReport(f *inspect.Formatter, size uint64, banks int) string {
	pick, err := dispatch.ComputePageSize(size, banks)
	if err != nil {
		return fmt.Sprintf("Error: %v\n", err)
	}
	return fmt.Sprintf("%d B across %d banks: %d B pages\n", size, banks, pick) +
		f.FormatPageSizeTable(dispatch.Candidates(size, banks), pick)
}

// closeAll closes the root mesh, releasing every submesh and trace.
func (s *Shell) closeAll() {
	if s.root != nil && !s.root.IsClosed() {
		if err := s.root.Close(); err != nil {
			fmt.Fprintf(s.out, "Error closing mesh %d: %v\n", s.root.ID(), err)
		}
	}
	s.root, s.current = nil, nil
}
