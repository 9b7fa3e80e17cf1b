package mesh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/mesh-runtime/mesh-go/pkg/alloc"
	"github.com/mesh-runtime/mesh-go/pkg/config"
	"github.com/mesh-runtime/mesh-go/pkg/coord"
	"github.com/mesh-runtime/mesh-go/pkg/device"
	"github.com/mesh-runtime/mesh-go/pkg/dispatch"
	"github.com/mesh-runtime/mesh-go/pkg/fault"
	"github.com/mesh-runtime/mesh-go/pkg/idgen"
	"github.com/mesh-runtime/mesh-go/pkg/log"
	"github.com/mesh-runtime/mesh-go/pkg/trace"
)

// Mesh errors.
var (
	ErrMeshClosed   = errors.New("mesh device is closed")
	ErrHasSubmeshes = errors.New("mesh device has open submeshes")
	ErrHasTraces    = errors.New("mesh device holds trace buffers")
	ErrInvalidQueue = errors.New("invalid command queue")
)

// poolShare is the handle on the units a root mesh acquired. Every submesh
// carved from the root holds one share.
type poolShare struct {
	mu    sync.Mutex
	pool  device.Pool
	units []device.Unit
	refs  int

	// Trace region allocator of the units. Submeshes use the same units,
	// so they allocate from the same regions.
	alloc *alloc.BankAllocator
}

func (s *poolShare) acquire() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs++
}

// release drops one share. The last one closes the units and hands them
// back to the pool.
func (s *poolShare) release() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.refs == 0 {
		return fault.Invariantf("poolShare.release", "pool share released more often than acquired")
	}
	s.refs--
	if s.refs > 0 {
		return nil
	}
	var errs []error
	for _, u := range s.units {
		if err := u.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	errs = append(errs, s.pool.Release(s.units))
	s.units = nil
	return errors.Join(errs...)
}

func newTraceAllocator(cfg config.Config) *alloc.BankAllocator {
	return alloc.NewBankAllocator(map[alloc.Kind]alloc.Region{
		alloc.KindTrace: {
			Base:      device.TraceRegionBase,
			Size:      cfg.Mesh.TraceRegionSize,
			Banks:     cfg.Mesh.TraceBanks,
			Alignment: uint64(dispatch.PageSizeMax),
		},
	})
}

// MeshDevice presents a grid of physical units as one device.
//
// A root mesh is opened with Create and owns its units through a pool
// share. Submeshes narrow the view of their parent and hold a share of the
// same units. Closing a mesh closes its submeshes first; the units go back
// to the pool with the last share.
type MeshDevice struct {
	id       uint32
	cfg      config.Config
	settings dispatch.Settings
	opts     options

	root   bool
	share  *poolShare
	subdev *subDeviceTracker
	queues []*CommandQueue

	mu       sync.RWMutex
	view     *View
	parent   *MeshDevice
	children []*MeshDevice
	traces   map[trace.ID]*trace.Buffer
	closed   bool

	// traceMu serializes uploads and guards traceBytes.
	traceMu    sync.Mutex
	traceBytes uint64

	pushMu sync.Mutex
}

// Create acquires the units for cfg's mesh shape from pool, initializes
// them and opens a root mesh over them.
func Create(pool device.Pool, cfg config.Config, opts ...Option) (*MeshDevice, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	shape, err := cfg.MeshShape()
	if err != nil {
		return nil, err
	}

	o := options{
		logger:  slog.Default(),
		capture: log.NoopLogger{},
		factory: cfg.CommandFactory(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}
	if o.capture == nil {
		o.capture = log.NoopLogger{}
	}
	policy, err := cfg.PoolPolicy()
	if err != nil {
		return nil, err
	}
	if o.policy != nil {
		policy = *o.policy
	}

	units, err := pool.RequestAvailableUnits(shape, policy)
	if err != nil {
		return nil, err
	}
	params := cfg.InitParams()
	for _, u := range units {
		if err := u.Initialize(params); err != nil {
			for _, u := range units {
				_ = u.Close()
			}
			return nil, errors.Join(err, pool.Release(units))
		}
	}

	share := &poolShare{pool: pool, units: units, refs: 1, alloc: newTraceAllocator(cfg)}
	view, err := NewView(shape, units)
	if err != nil {
		return nil, errors.Join(err, share.release())
	}
	m, err := newMesh(cfg, o, share, view, nil)
	if err != nil {
		return nil, errors.Join(err, share.release())
	}

	m.opts.logger.Debug("mesh opened", "mesh", m.id, "shape", shape.String(), "policy", policy.String())
	m.emitMesh(log.MeshEvent{Action: log.MeshOpen, Shape: shape.String(), UnitIDs: view.unitIDs()})
	m.opts.metrics.RecordMeshOpened(view.Size(), true)
	return m, nil
}

func newMesh(cfg config.Config, o options, share *poolShare, view *View, parent *MeshDevice) (*MeshDevice, error) {
	compute, err := uniform("mesh.Create", view.units, func(p device.Properties) device.Grid { return p.ComputeGrid })
	if err != nil {
		return nil, err
	}
	subdev, err := newSubDeviceTracker(compute)
	if err != nil {
		return nil, err
	}
	m := &MeshDevice{
		id:       idgen.MeshIDs.Next(),
		cfg:      cfg,
		settings: cfg.DispatchSettings(),
		opts:     o,
		share:    share,
		subdev:   subdev,
		root:     parent == nil,
		view:     view,
		parent:   parent,
		traces:   make(map[trace.ID]*trace.Buffer),
	}
	m.queues = make([]*CommandQueue, cfg.Mesh.NumCQs)
	for i := range m.queues {
		m.queues[i] = &CommandQueue{mesh: m, id: i}
	}
	return m, nil
}

// live returns the current view, or ErrMeshClosed.
func (m *MeshDevice) live(op string) (*View, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, fault.Wrap(fault.ClassInvariant, op, ErrMeshClosed, "mesh %d", m.id)
	}
	return m.view, nil
}

// ID returns the process-unique mesh id.
func (m *MeshDevice) ID() uint32 {
	return m.id
}

// IsRoot reports whether the mesh was opened with Create.
func (m *MeshDevice) IsRoot() bool {
	return m.root
}

// IsClosed reports whether Close was called.
func (m *MeshDevice) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// View returns the current view.
func (m *MeshDevice) View() (*View, error) {
	return m.live("MeshDevice.View")
}

// Shape returns the current mesh shape.
func (m *MeshDevice) Shape() (coord.Shape, error) {
	v, err := m.live("MeshDevice.Shape")
	if err != nil {
		return coord.Shape{}, err
	}
	return v.Shape(), nil
}

// NumDevices returns the number of units in the mesh.
func (m *MeshDevice) NumDevices() (int, error) {
	v, err := m.live("MeshDevice.NumDevices")
	if err != nil {
		return 0, err
	}
	return v.Size(), nil
}

// Units returns the units in row-major order.
func (m *MeshDevice) Units() ([]device.Unit, error) {
	v, err := m.live("MeshDevice.Units")
	if err != nil {
		return nil, err
	}
	return v.Units(), nil
}

// Unit returns the unit at c.
func (m *MeshDevice) Unit(c coord.Coordinate) (device.Unit, error) {
	v, err := m.live("MeshDevice.Unit")
	if err != nil {
		return nil, err
	}
	return v.Unit(c)
}

// NumRows returns the number of rows of a two-dimensional mesh.
func (m *MeshDevice) NumRows() (int, error) {
	v, err := m.live("MeshDevice.NumRows")
	if err != nil {
		return 0, err
	}
	return v.NumRows()
}

// NumCols returns the number of columns of a two-dimensional mesh.
func (m *MeshDevice) NumCols() (int, error) {
	v, err := m.live("MeshDevice.NumCols")
	if err != nil {
		return 0, err
	}
	return v.NumCols()
}

// Parent returns the mesh this submesh was carved from, or nil for a root.
func (m *MeshDevice) Parent() *MeshDevice {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.parent
}

// Submeshes returns the open submeshes.
func (m *MeshDevice) Submeshes() []*MeshDevice {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.children)
}

// CreateSubmesh carves a submesh of the given shape at offset. A zero
// Coordinate offset places it at the origin.
func (m *MeshDevice) CreateSubmesh(shape coord.Shape, offset coord.Coordinate) (*MeshDevice, error) {
	const op = "MeshDevice.CreateSubmesh"

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fault.Wrap(fault.ClassInvariant, op, ErrMeshClosed, "mesh %d", m.id)
	}
	parent := m.view.Shape()
	if !shape.IsValid() {
		return nil, m.fail(log.LayerMesh, op, fault.Configf(op, "invalid submesh shape: all dimensions must be positive"))
	}
	if shape.Dims() != parent.Dims() {
		return nil, m.fail(log.LayerMesh, op, fault.Configf(op,
			"submesh shape %s and mesh device shape %s must have the same number of dimensions", shape, parent))
	}
	if offset.Dims() == 0 {
		offset = coord.Zero(shape.Dims())
	}
	if offset.Dims() != shape.Dims() {
		return nil, m.fail(log.LayerMesh, op, fault.Configf(op,
			"submesh shape %s and offset %s must have the same number of dimensions", shape, offset))
	}
	end := make([]int, shape.Dims())
	for i := range end {
		end[i] = offset.At(i) + shape.Dim(i) - 1
		if offset.At(i) < 0 || end[i] >= parent.Dim(i) {
			return nil, m.fail(log.LayerMesh, op, fault.Configf(op,
				"submesh shape %s and offset %s does not fit within parent mesh (%s)", shape, offset, parent))
		}
	}
	rng, err := coord.NewRange(offset, coord.C(end...))
	if err != nil {
		return nil, err
	}
	units, err := m.view.UnitsIn(rng)
	if err != nil {
		return nil, err
	}
	view, err := NewView(shape, units)
	if err != nil {
		return nil, err
	}

	m.share.acquire()
	child, err := newMesh(m.cfg, m.opts, m.share, view, m)
	if err != nil {
		return nil, errors.Join(err, m.share.release())
	}
	m.children = append(m.children, child)

	parentID := m.id
	m.opts.logger.Debug("submesh created", "mesh", child.id, "parent", m.id, "shape", shape.String(), "offset", offset.String())
	child.emitMesh(log.MeshEvent{Action: log.MeshSubmesh, Shape: shape.String(), ParentID: &parentID, UnitIDs: view.unitIDs()})
	m.opts.metrics.RecordMeshOpened(view.Size(), false)
	return child, nil
}

// CreateSubmeshes tiles the mesh with submeshes of the given shape, in
// row-major tile order. Every dimension of the mesh must be a multiple of
// the submesh's.
func (m *MeshDevice) CreateSubmeshes(shape coord.Shape) ([]*MeshDevice, error) {
	const op = "MeshDevice.CreateSubmeshes"

	parent, err := m.Shape()
	if err != nil {
		return nil, err
	}
	if !shape.IsValid() || shape.Dims() != parent.Dims() {
		return nil, fault.Configf(op, "submesh shape %s and mesh device shape %s must have the same number of dimensions", shape, parent)
	}
	steps := make([]int, shape.Dims())
	for i := range steps {
		if parent.Dim(i)%shape.Dim(i) != 0 {
			return nil, m.fail(log.LayerMesh, op, fault.Configf(op,
				"shape %s is not divisible by submesh shape %s along dimension %d", parent, shape, i))
		}
		steps[i] = parent.Dim(i) / shape.Dim(i)
	}

	var out []*MeshDevice
	for _, step := range coord.FullRange(coord.MustShape(steps...)).Coords() {
		offset := make([]int, shape.Dims())
		for i := range offset {
			offset[i] = step.At(i) * shape.Dim(i)
		}
		sub, err := m.CreateSubmesh(shape, coord.C(offset...))
		if err != nil {
			for _, s := range out {
				_ = s.Close()
			}
			return nil, err
		}
		out = append(out, sub)
	}
	return out, nil
}

// Reshape rearranges the mesh's units into shape, keeping physical
// neighbours adjacent. Line shapes snake through the current view; other
// shapes are looked up in the pool's topology.
func (m *MeshDevice) Reshape(shape coord.Shape) error {
	const op = "MeshDevice.Reshape"

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fault.Wrap(fault.ClassInvariant, op, ErrMeshClosed, "mesh %d", m.id)
	}
	old := m.view.Shape()
	err := m.reshape(op, shape)
	m.opts.metrics.RecordReshape(err == nil)
	if err != nil {
		return m.fail(log.LayerMesh, op, err)
	}

	m.opts.logger.Debug("mesh reshaped", "mesh", m.id, "from", old.String(), "to", shape.String())
	m.emitMesh(log.MeshEvent{Action: log.MeshReshape, Shape: shape.String(), OldShape: old.String(), UnitIDs: m.view.unitIDs()})
	return nil
}

func (m *MeshDevice) reshape(op string, shape coord.Shape) error {
	if !shape.IsValid() || shape.Size() != m.view.Size() {
		return fault.Configf(op, "new shape %s must have the same number of devices (%d) as current shape %s",
			shape, m.view.Size(), m.view.Shape())
	}
	if len(m.children) > 0 {
		return fault.Wrap(fault.ClassConfiguration, op, ErrHasSubmeshes, "mesh %d has %d", m.id, len(m.children))
	}
	if len(m.traces) > 0 {
		return fault.Wrap(fault.ClassConfiguration, op, ErrHasTraces, "mesh %d has %d, release them first", m.id, len(m.traces))
	}

	var units []device.Unit
	if shape.IsLine() {
		units = m.view.LineUnits()
	} else {
		var err error
		units, err = m.share.pool.Lookup(shape, m.view.Units())
		if err != nil {
			return fault.Wrap(fault.ClassConfiguration, op, err,
				"cannot form a physically connected mesh of shape %s with the units of %s", shape, m.view.Shape())
		}
	}
	view, err := NewView(shape, units)
	if err != nil {
		return err
	}
	m.view = view
	return nil
}

// Close closes the submeshes, releases the trace buffers and drops the
// mesh's pool share. Closing a closed mesh does nothing.
func (m *MeshDevice) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	children := m.children
	m.children = nil
	traces := m.traces
	m.traces = make(map[trace.ID]*trace.Buffer)
	parent := m.parent
	m.parent = nil
	size := m.view.Size()
	m.mu.Unlock()

	var errs []error
	for _, c := range children {
		errs = append(errs, c.Close())
	}
	for _, q := range m.queues {
		q.abortCapture()
	}
	for _, id := range slices.Sorted(maps.Keys(traces)) {
		errs = append(errs, m.releaseBuffer(traces[id]))
	}
	m.subdev.Reset()
	if parent != nil {
		parent.removeChild(m)
	}
	errs = append(errs, m.share.release())

	m.opts.logger.Debug("mesh closed", "mesh", m.id)
	m.emitMesh(log.MeshEvent{Action: log.MeshClose})
	m.opts.metrics.RecordMeshClosed(m.id, size, m.root)
	return errors.Join(errs...)
}

func (m *MeshDevice) removeChild(child *MeshDevice) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.children = slices.DeleteFunc(m.children, func(c *MeshDevice) bool { return c == child })
}

// String returns "MeshDevice(RxC grid, N devices)".
func (m *MeshDevice) String() string {
	v, err := m.live("MeshDevice.String")
	if err != nil {
		return fmt.Sprintf("MeshDevice(%d, closed)", m.id)
	}
	return fmt.Sprintf("MeshDevice(%s grid, %d devices)", v.Shape(), v.Size())
}

// PushWork runs fn under the mesh's work lock. Calls run in the order
// they acquire the lock, one at a time.
func (m *MeshDevice) PushWork(fn func()) error {
	if _, err := m.live("MeshDevice.PushWork"); err != nil {
		return err
	}
	m.pushMu.Lock()
	defer m.pushMu.Unlock()
	fn()
	return nil
}

// MeshCommandQueue returns command queue cq.
func (m *MeshDevice) MeshCommandQueue(cq int) (*CommandQueue, error) {
	return m.queue("MeshDevice.MeshCommandQueue", cq)
}

func (m *MeshDevice) queue(op string, cq int) (*CommandQueue, error) {
	if _, err := m.live(op); err != nil {
		return nil, err
	}
	if cq < 0 || cq >= len(m.queues) {
		return nil, fault.Wrap(fault.ClassConfiguration, op, ErrInvalidQueue, "cq_id %d is out of range, mesh has %d", cq, len(m.queues))
	}
	return m.queues[cq], nil
}

// Synchronize waits for every command queue of every unit to drain.
func (m *MeshDevice) Synchronize(ctx context.Context) error {
	for _, q := range m.queues {
		if err := q.Finish(ctx); err != nil {
			return err
		}
	}
	return nil
}
