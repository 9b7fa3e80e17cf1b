package mesh

import (
	"context"
	"errors"
	"sync"

	"fortio.org/safecast"
	"golang.org/x/sync/errgroup"

	"github.com/mesh-runtime/mesh-go/pkg/alloc"
	"github.com/mesh-runtime/mesh-go/pkg/command"
	"github.com/mesh-runtime/mesh-go/pkg/coord"
	"github.com/mesh-runtime/mesh-go/pkg/device"
	"github.com/mesh-runtime/mesh-go/pkg/dispatch"
	"github.com/mesh-runtime/mesh-go/pkg/fault"
	"github.com/mesh-runtime/mesh-go/pkg/log"
	"github.com/mesh-runtime/mesh-go/pkg/trace"
)

// ErrCapturing is returned for work a capture window cannot record.
var ErrCapturing = errors.New("trace capture in progress")

// Workload is a program enqueued on a range of the mesh.
type Workload struct {
	// Range is the part of the mesh that runs the program.
	Range coord.Range

	// Program describes the workers the program runs on.
	Program trace.Program

	// Commands is the dispatch command sequence of the program.
	Commands []byte

	// ProgramKey identifies the program for the program cache.
	ProgramKey uint64
}

// CommandQueue issues work to one hardware command queue of every unit of
// a mesh and keeps the host side dispatch bookkeeping for it.
type CommandQueue struct {
	mesh *MeshDevice
	id   int

	mu      sync.Mutex
	state   dispatch.State
	capture *capture
}

// capture is an open trace capture window.
type capture struct {
	id       trace.ID
	buf      *trace.Buffer
	rec      *trace.Recorder
	snapshot dispatch.Snapshot
}

// ID returns the command queue id.
func (q *CommandQueue) ID() int {
	return q.id
}

// State returns a copy of the dispatch bookkeeping.
func (q *CommandQueue) State() dispatch.State {
	q.mu.Lock()
	defer q.mu.Unlock()

	st := q.state
	for i := range st.ConfigBuf {
		st.ConfigBuf[i].Reserved = append([]uint32(nil), q.state.ConfigBuf[i].Reserved...)
	}
	return st
}

// EnqueueWorkload runs w on the units of w.Range. While a trace is
// capturing, the commands are recorded into the trace instead.
func (q *CommandQueue) EnqueueWorkload(ctx context.Context, w Workload, blocking bool) error {
	const op = "MeshCommandQueue.EnqueueWorkload"

	view, err := q.mesh.live(op)
	if err != nil {
		return err
	}
	units, err := view.UnitsIn(w.Range)
	if err != nil {
		return q.mesh.fail(log.LayerDispatch, op, err)
	}
	if !q.mesh.subdev.HasSubDevice(w.Program.SubDevice) {
		return q.mesh.fail(log.LayerDispatch, op, fault.Wrap(fault.ClassConfiguration, op, ErrUnknownSubDevice,
			"sub-device %d, loaded manager has %d", w.Program.SubDevice, q.mesh.subdev.NumSubDevices()))
	}
	size, err := safecast.Conv[uint32](len(w.Commands))
	if err != nil {
		return fault.Wrap(fault.ClassCapacity, op, err, "program of %d B", len(w.Commands))
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if c := q.capture; c != nil {
		if err := c.rec.Record(w.Range, w.Commands); err != nil {
			return q.mesh.fail(log.LayerTrace, op, err)
		}
		if err := c.rec.RecordProgram(w.Program); err != nil {
			return q.mesh.fail(log.LayerTrace, op, err)
		}
		q.account(w.Program, size)

		q.mesh.opts.metrics.RecordTraceEvent(len(w.Commands))
		q.mesh.emitTrace(c.id, log.CategoryRecord, log.TraceEvent{
			Action:      log.TraceRecord,
			Range:       w.Range.String(),
			Size:        uint64(len(w.Commands)),
			NumSegments: len(c.rec.Segments()),
		})
		return nil
	}

	for _, u := range units {
		if err := u.Submit(device.Submission{CQ: q.id, Data: w.Commands, ProgramKey: w.ProgramKey}); err != nil {
			return q.mesh.fail(log.LayerDispatch, op, err)
		}
	}
	q.account(w.Program, size)
	if !blocking {
		return nil
	}
	return dispatch.Finish(ctx, units, q.id)
}

// account advances the bookkeeping for one dispatched program.
func (q *CommandQueue) account(p trace.Program, size uint32) {
	st := &q.state
	st.ExpectedWorkersCompleted[p.SubDevice] += p.WorkerCores
	if p.NeedsMcast {
		st.LaunchMsg[p.SubDevice].SetMcastWptr(st.LaunchMsg[p.SubDevice].McastWptr + 1)
	}
	if p.NeedsUnicast {
		st.LaunchMsg[p.SubDevice].SetUnicastWptr(st.LaunchMsg[p.SubDevice].UnicastWptr + 1)
	}
	st.ConfigBuf[p.SubDevice].Reserve(0, size)
}

// WriteShard writes data at offset into buf on every unit of rng.
func (q *CommandQueue) WriteShard(ctx context.Context, buf *alloc.Buffer, rng coord.Range, offset uint64, data []byte) error {
	const op = "MeshCommandQueue.WriteShard"

	view, err := q.mesh.live(op)
	if err != nil {
		return err
	}
	if id, ok := q.capturing(); ok {
		return fault.Wrap(fault.ClassConfiguration, op, ErrCapturing, "writes cannot be traced, trace %d is capturing on cq %d", id, q.id)
	}
	if offset+uint64(len(data)) > buf.Size {
		return fault.Invariantf(op, "writing %d B at offset %d overflows %d B buffer", len(data), offset, buf.Size)
	}
	units, err := view.UnitsIn(rng)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, u := range units {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			mem := u.Memory()
			if mem == nil {
				return fault.Wrap(fault.ClassInvariant, op, device.ErrNotInitialized, "unit %d", u.ID())
			}
			return mem.Write(buf.Kind, buf.Address+offset, data)
		})
	}
	return g.Wait()
}

// ReadShard reads n bytes at offset from buf on the unit at c.
func (q *CommandQueue) ReadShard(buf *alloc.Buffer, c coord.Coordinate, offset uint64, n int) ([]byte, error) {
	const op = "MeshCommandQueue.ReadShard"

	view, err := q.mesh.live(op)
	if err != nil {
		return nil, err
	}
	u, err := view.Unit(c)
	if err != nil {
		return nil, err
	}
	mem := u.Memory()
	if mem == nil {
		return nil, fault.Wrap(fault.ClassInvariant, op, device.ErrNotInitialized, "unit %d", u.ID())
	}
	return mem.Read(buf.Kind, buf.Address+offset, n)
}

// Finish waits for the queue to drain on every unit.
func (q *CommandQueue) Finish(ctx context.Context) error {
	view, err := q.mesh.live("MeshCommandQueue.Finish")
	if err != nil {
		return err
	}
	return dispatch.Finish(ctx, view.units, q.id)
}

func (q *CommandQueue) capturing() (trace.ID, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.capture == nil {
		return 0, false
	}
	return q.capture.id, true
}

// beginCapture opens a capture window for buf. The dispatch bookkeeping of
// the sub-devices of the loaded manager restarts from zero for the capture.
func (q *CommandQueue) beginCapture(buf *trace.Buffer, shape coord.Shape) error {
	const op = "MeshCommandQueue.BeginTrace"

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.capture != nil {
		return fault.Wrap(fault.ClassConfiguration, op, ErrCapturing, "trace %d is already capturing on cq %d", q.capture.id, q.id)
	}
	rec, err := buf.Begin(shape)
	if err != nil {
		return err
	}
	snap, err := q.state.ResetForCapture(q.mesh.subdev.NumSubDevices())
	if err != nil {
		return err
	}
	q.capture = &capture{id: buf.ID(), buf: buf, rec: rec, snapshot: snap}
	return nil
}

// endCapture finalizes the trace with the exec buffer end footer and puts
// the bookkeeping saved by beginCapture back.
func (q *CommandQueue) endCapture(id trace.ID, factory command.Factory) (*trace.Descriptor, error) {
	const op = "MeshCommandQueue.EndTrace"

	q.mu.Lock()
	defer q.mu.Unlock()

	c := q.capture
	if c == nil || c.id != id {
		return nil, fault.Wrap(fault.ClassConfiguration, op, trace.ErrTraceNotRecording, "trace %d on cq %d", id, q.id)
	}
	footer, err := command.ExecBufEnd(factory)
	if err != nil {
		return nil, err
	}
	desc, err := c.buf.Finalize(footer)
	if err != nil {
		return nil, err
	}
	if err := q.state.Restore(c.snapshot); err != nil {
		return nil, err
	}
	q.capture = nil
	return desc, nil
}

// abortCapture drops an open capture window, restoring the bookkeeping.
func (q *CommandQueue) abortCapture() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.capture != nil {
		_ = q.state.Restore(q.capture.snapshot)
		q.capture = nil
	}
}

// replay issues the replay sequence of an uploaded trace to the units its
// segments cover.
func (q *CommandQueue) replay(ctx context.Context, view *View, buf *trace.Buffer, blocking bool) (log.ReplayEvent, error) {
	const op = "MeshCommandQueue.ReplayTrace"

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.capture != nil {
		return log.ReplayEvent{}, fault.Wrap(fault.ClassConfiguration, op, ErrCapturing,
			"cannot replay trace %d while trace %d is capturing on cq %d", buf.ID(), q.capture.id, q.id)
	}
	desc, mem := buf.Descriptor(), buf.Memory()
	if desc == nil || mem == nil {
		return log.ReplayEvent{}, fault.Configf(op, "trace %d is %s, only uploaded traces can be replayed", buf.ID(), buf.State())
	}
	numPages, err := mem.NumPages()
	if err != nil {
		return log.ReplayEvent{}, fault.Wrap(fault.ClassInvariant, op, err, "trace %d", buf.ID())
	}

	cmds, err := dispatch.BuildReplay(q.mesh.opts.factory(), dispatch.Replay{
		Descriptor: desc,
		Address:    mem.Address,
		PageSize:   mem.PageSize,
		NumPages:   numPages,
	}, q.mesh.subdev, &q.state, q.mesh.settings)
	if err != nil {
		return log.ReplayEvent{}, err
	}

	ranges := desc.Ranges()
	var units []device.Unit
	coord.FullRange(view.Shape()).ForEach(func(c coord.Coordinate) {
		if ranges.Contains(c) {
			units = append(units, view.units[view.shape.Linear(c)])
		}
	})
	if err := dispatch.IssueReplay(ctx, units, q.id, cmds, blocking); err != nil {
		return log.ReplayEvent{}, err
	}
	dispatch.UpdateWorkerStateAfterReplay(desc, &q.state)

	subs := make([]uint8, 0, len(desc.SubDeviceIDs()))
	for _, id := range desc.SubDeviceIDs() {
		subs = append(subs, uint8(id))
	}
	return log.ReplayEvent{
		CmdSize:    dispatch.TraceCmdSize(len(subs), q.mesh.settings),
		NumUnits:   len(units),
		Blocking:   blocking,
		SubDevices: subs,
	}, nil
}

var _ dispatch.ShardWriter = (*CommandQueue)(nil)
