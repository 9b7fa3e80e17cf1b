package mesh

import (
	"context"
	"maps"
	"slices"
	"time"

	"github.com/mesh-runtime/mesh-go/pkg/coord"
	"github.com/mesh-runtime/mesh-go/pkg/dispatch"
	"github.com/mesh-runtime/mesh-go/pkg/fault"
	"github.com/mesh-runtime/mesh-go/pkg/log"
	"github.com/mesh-runtime/mesh-go/pkg/trace"
)

// BeginTrace opens a capture window for trace id on command queue cq.
// Workloads enqueued on cq are recorded until EndTrace.
func (m *MeshDevice) BeginTrace(cq int, id trace.ID) error {
	const op = "MeshDevice.BeginTrace"

	q, err := m.queue(op, cq)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if _, ok := m.traces[id]; ok {
		m.mu.Unlock()
		return m.fail(log.LayerTrace, op, fault.Wrap(fault.ClassConfiguration, op, trace.ErrTraceExists, "trace buffer with tid %d", id))
	}
	buf := trace.NewBuffer(id)
	m.traces[id] = buf
	shape := m.view.Shape()
	m.mu.Unlock()

	if err := q.beginCapture(buf, shape); err != nil {
		m.mu.Lock()
		delete(m.traces, id)
		m.mu.Unlock()
		return m.fail(log.LayerTrace, op, err)
	}

	m.opts.logger.Debug("trace capture started", "mesh", m.id, "trace", id, "cq", cq)
	m.emitTrace(id, log.CategoryLifecycle, log.TraceEvent{Action: log.TraceBegin})
	return nil
}

// EndTrace closes the capture window of trace id and uploads the trace to
// the trace region of every unit it covers.
func (m *MeshDevice) EndTrace(ctx context.Context, cq int, id trace.ID) error {
	const op = "MeshDevice.EndTrace"

	q, err := m.queue(op, cq)
	if err != nil {
		return err
	}
	buf, err := m.traceBuffer(op, id)
	if err != nil {
		return err
	}
	desc, err := q.endCapture(id, m.opts.factory)
	if err != nil {
		return m.fail(log.LayerTrace, op, err)
	}

	m.opts.logger.Debug("trace capture ended", "mesh", m.id, "trace", id,
		"size", desc.TotalSize(), "segments", desc.NumSegments())
	m.emitTrace(id, log.CategoryLifecycle, log.TraceEvent{
		Action:      log.TraceEnd,
		Size:        desc.TotalSize(),
		NumSegments: desc.NumSegments(),
	})
	return m.upload(ctx, q, buf, desc)
}

// LoadTrace installs an already finalized trace under id and uploads it.
func (m *MeshDevice) LoadTrace(ctx context.Context, cq int, id trace.ID, desc *trace.Descriptor) error {
	const op = "MeshDevice.LoadTrace"

	q, err := m.queue(op, cq)
	if err != nil {
		return err
	}

	buf := trace.NewBuffer(id)
	if err := buf.Install(desc); err != nil {
		return m.fail(log.LayerTrace, op, err)
	}

	m.mu.Lock()
	full := coord.FullRange(m.view.Shape())
	for _, r := range desc.Ranges().Ranges() {
		if r.Dims() != full.Dims() || !full.ContainsRange(r) {
			m.mu.Unlock()
			return m.fail(log.LayerTrace, op, fault.Configf(op, "trace %d covers %s, outside mesh shape %s", id, r, m.view.Shape()))
		}
	}
	if _, ok := m.traces[id]; ok {
		m.mu.Unlock()
		return m.fail(log.LayerTrace, op, fault.Wrap(fault.ClassConfiguration, op, trace.ErrTraceExists, "trace buffer with tid %d", id))
	}
	m.traces[id] = buf
	m.mu.Unlock()

	m.emitTrace(id, log.CategoryLifecycle, log.TraceEvent{
		Action:      log.TraceLoad,
		Size:        desc.TotalSize(),
		NumSegments: desc.NumSegments(),
	})
	if err := m.upload(ctx, q, buf, desc); err != nil {
		m.mu.Lock()
		delete(m.traces, id)
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *MeshDevice) upload(ctx context.Context, q *CommandQueue, buf *trace.Buffer, desc *trace.Descriptor) error {
	const op = "MeshDevice.UploadTrace"

	m.traceMu.Lock()
	defer m.traceMu.Unlock()

	mem, err := dispatch.Upload(ctx, desc, m.share.alloc, dispatch.Budget{
		MeshID:     m.id,
		InUse:      m.traceBytes,
		RegionSize: m.cfg.Mesh.TraceRegionSize,
	}, q)
	if err != nil {
		return m.fail(log.LayerTrace, op, err)
	}
	if err := buf.MarkUploaded(mem); err != nil {
		_ = m.share.alloc.Deallocate(mem)
		return m.fail(log.LayerTrace, op, err)
	}
	m.traceBytes += mem.Size

	m.opts.logger.Debug("trace uploaded", "mesh", m.id, "trace", buf.ID(),
		"address", mem.Address, "page_size", mem.PageSize, "padded_size", mem.Size)
	m.opts.metrics.RecordTraceUpload(m.id, desc.NumSegments(), m.traceBytes)
	m.emitTrace(buf.ID(), log.CategoryUpload, log.TraceEvent{
		Action:      log.TraceUpload,
		Size:        desc.TotalSize(),
		NumSegments: desc.NumSegments(),
		PageSize:    mem.PageSize,
		PaddedSize:  mem.Size,
		Address:     mem.Address,
	})
	return nil
}

// ReplayTrace issues trace id on command queue cq. With blocking set it
// returns once every unit has drained the queue.
func (m *MeshDevice) ReplayTrace(ctx context.Context, cq int, id trace.ID, blocking bool) error {
	const op = "MeshDevice.ReplayTrace"

	q, err := m.queue(op, cq)
	if err != nil {
		return err
	}
	buf, err := m.traceBuffer(op, id)
	if err != nil {
		return err
	}
	view, err := m.live(op)
	if err != nil {
		return err
	}

	start := time.Now()
	ev, err := q.replay(ctx, view, buf, blocking)
	if err != nil {
		return m.fail(log.LayerDispatch, op, err)
	}
	ev.Duration = time.Since(start)

	m.opts.metrics.RecordReplay(m.id, ev.Duration)
	m.emitReplay(id, ev)
	return nil
}

// ReleaseTrace frees the device copy of trace id and forgets it.
func (m *MeshDevice) ReleaseTrace(id trace.ID) error {
	const op = "MeshDevice.ReleaseTrace"

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fault.Wrap(fault.ClassInvariant, op, ErrMeshClosed, "mesh %d", m.id)
	}
	buf, ok := m.traces[id]
	if !ok {
		m.mu.Unlock()
		return m.fail(log.LayerTrace, op, fault.Wrap(fault.ClassConfiguration, op, trace.ErrTraceNotFound, "trace instance with id %d is not initialized", id))
	}
	if buf.State() == trace.StateRecording {
		m.mu.Unlock()
		return m.fail(log.LayerTrace, op, fault.Wrap(fault.ClassConfiguration, op, ErrCapturing, "trace %d must be ended before release", id))
	}
	delete(m.traces, id)
	m.mu.Unlock()

	return m.releaseBuffer(buf)
}

func (m *MeshDevice) releaseBuffer(buf *trace.Buffer) error {
	mem, err := buf.Release()
	if err != nil {
		return err
	}
	if mem != nil {
		if err := m.share.alloc.Deallocate(mem); err != nil {
			return err
		}
		m.traceMu.Lock()
		m.traceBytes -= mem.Size
		bytes := m.traceBytes
		m.traceMu.Unlock()
		m.opts.metrics.RecordTraceBufferBytes(m.id, bytes)
	}
	m.opts.logger.Debug("trace released", "mesh", m.id, "trace", buf.ID())
	m.emitTrace(buf.ID(), log.CategoryLifecycle, log.TraceEvent{Action: log.TraceRelease})
	return nil
}

// MeshTrace returns the trace buffer of id.
func (m *MeshDevice) MeshTrace(id trace.ID) (*trace.Buffer, error) {
	return m.traceBuffer("MeshDevice.MeshTrace", id)
}

// TraceIDs returns the ids of the trace buffers on the mesh.
func (m *MeshDevice) TraceIDs() []trace.ID {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return slices.Sorted(maps.Keys(m.traces))
}

func (m *MeshDevice) traceBuffer(op string, id trace.ID) (*trace.Buffer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, fault.Wrap(fault.ClassInvariant, op, ErrMeshClosed, "mesh %d", m.id)
	}
	buf, ok := m.traces[id]
	if !ok {
		return nil, fault.Wrap(fault.ClassConfiguration, op, trace.ErrTraceNotFound, "trace instance with id %d is not initialized", id)
	}
	return buf, nil
}
