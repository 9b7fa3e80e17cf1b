package mesh

import (
	"errors"
	"maps"
	"slices"
	"sync"

	"fortio.org/safecast"

	"github.com/mesh-runtime/mesh-go/pkg/device"
	"github.com/mesh-runtime/mesh-go/pkg/dispatch"
	"github.com/mesh-runtime/mesh-go/pkg/fault"
	"github.com/mesh-runtime/mesh-go/pkg/trace"
)

// Sub-device errors.
var (
	ErrUnknownSubDeviceManager = errors.New("unknown sub-device manager")
	ErrUnknownSubDevice        = errors.New("unknown sub-device")
	ErrSubDeviceManagerInUse   = errors.New("sub-device manager in use")
)

// SubDeviceManagerID identifies a sub-device manager of a mesh.
type SubDeviceManagerID uint32

// SubDevice is a group of worker cores that run programs independently of
// the other sub-devices, identically on every unit of the mesh.
type SubDevice struct {
	// Tensix is the rectangle of compute cores, anchored at Origin.
	Origin device.Grid
	Tensix device.Grid

	// ActiveEthCores is the number of ethernet cores in the sub-device.
	ActiveEthCores int
}

// subDeviceManager is one partition of the compute grid into sub-devices.
type subDeviceManager struct {
	id         SubDeviceManagerID
	subDevices []SubDevice
	stallGroup []trace.SubDeviceID

	// First NOC data index of each sub-device's transactions.
	mcastStart   []uint8
	unicastStart []uint8
}

func newSubDeviceManager(id SubDeviceManagerID, subs []SubDevice) (*subDeviceManager, error) {
	m := &subDeviceManager{
		id:           id,
		subDevices:   slices.Clone(subs),
		mcastStart:   make([]uint8, len(subs)),
		unicastStart: make([]uint8, len(subs)),
	}
	var mcast, unicast int
	for i, sd := range subs {
		start, err := safecast.Conv[uint8](mcast)
		if err != nil {
			return nil, fault.Wrap(fault.ClassConfiguration, "mesh.newSubDeviceManager", err, "multicast transactions of sub-device %d", i)
		}
		m.mcastStart[i] = start
		if start, err = safecast.Conv[uint8](unicast); err != nil {
			return nil, fault.Wrap(fault.ClassConfiguration, "mesh.newSubDeviceManager", err, "unicast transactions of sub-device %d", i)
		}
		m.unicastStart[i] = start
		mcast += mcastTxns(sd)
		unicast += sd.ActiveEthCores
	}
	m.resetStallGroup()
	return m, nil
}

func mcastTxns(sd SubDevice) int {
	if sd.Tensix.Size() > 0 {
		return 1
	}
	return 0
}

func (m *subDeviceManager) ids() []trace.SubDeviceID {
	ids := make([]trace.SubDeviceID, len(m.subDevices))
	for i := range m.subDevices {
		ids[i] = trace.SubDeviceID(i)
	}
	return ids
}

func (m *subDeviceManager) resetStallGroup() {
	m.stallGroup = m.ids()
}

func (m *subDeviceManager) get(op string, id trace.SubDeviceID) (SubDevice, error) {
	if int(id) >= len(m.subDevices) {
		return SubDevice{}, fault.Wrap(fault.ClassConfiguration, op, ErrUnknownSubDevice,
			"sub-device %d, manager %d has %d", id, m.id, len(m.subDevices))
	}
	return m.subDevices[id], nil
}

// subDeviceTracker holds the sub-device managers of a mesh and answers the
// per sub-device questions of the active one.
type subDeviceTracker struct {
	mu sync.Mutex

	compute  device.Grid
	managers map[SubDeviceManagerID]*subDeviceManager
	next     SubDeviceManagerID
	active   *subDeviceManager
	dflt     *subDeviceManager
}

// newSubDeviceTracker creates a tracker whose default manager has one
// sub-device spanning the whole compute grid.
func newSubDeviceTracker(compute device.Grid) (*subDeviceTracker, error) {
	t := &subDeviceTracker{
		compute:  compute,
		managers: make(map[SubDeviceManagerID]*subDeviceManager),
	}
	id, err := t.create([]SubDevice{{Tensix: compute}})
	if err != nil {
		return nil, err
	}
	t.dflt = t.managers[id]
	t.active = t.dflt
	return t, nil
}

func (t *subDeviceTracker) create(subs []SubDevice) (SubDeviceManagerID, error) {
	const op = "MeshDevice.CreateSubDeviceManager"

	if len(subs) == 0 || len(subs) > dispatch.MaxSubDevices {
		return 0, fault.Configf(op, "%d sub-devices, must be between 1 and %d", len(subs), dispatch.MaxSubDevices)
	}
	for i, sd := range subs {
		if sd.Origin.X < 0 || sd.Origin.Y < 0 || sd.Tensix.X < 0 || sd.Tensix.Y < 0 ||
			sd.Origin.X+sd.Tensix.X > t.compute.X || sd.Origin.Y+sd.Tensix.Y > t.compute.Y {
			return 0, fault.Configf(op, "sub-device %d cores %s at %s exceed compute grid %s",
				i, sd.Tensix, sd.Origin, t.compute)
		}
		for j := range i {
			if overlaps(subs[j], sd) {
				return 0, fault.Configf(op, "sub-devices %d and %d share compute cores", j, i)
			}
		}
	}
	mgr, err := newSubDeviceManager(t.next, subs)
	if err != nil {
		return 0, err
	}
	t.managers[mgr.id] = mgr
	t.next++
	return mgr.id, nil
}

func overlaps(a, b SubDevice) bool {
	if a.Tensix.Size() == 0 || b.Tensix.Size() == 0 {
		return false
	}
	return a.Origin.X < b.Origin.X+b.Tensix.X && b.Origin.X < a.Origin.X+a.Tensix.X &&
		a.Origin.Y < b.Origin.Y+b.Tensix.Y && b.Origin.Y < a.Origin.Y+a.Tensix.Y
}

func (t *subDeviceTracker) lookup(op string, id SubDeviceManagerID) (*subDeviceManager, error) {
	mgr, ok := t.managers[id]
	if !ok {
		return nil, fault.Wrap(fault.ClassConfiguration, op, ErrUnknownSubDeviceManager, "id %d", id)
	}
	return mgr, nil
}

// Create registers a new manager without loading it.
func (t *subDeviceTracker) Create(subs []SubDevice) (SubDeviceManagerID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.create(subs)
}

// Load makes the manager active.
func (t *subDeviceTracker) Load(id SubDeviceManagerID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	mgr, err := t.lookup("MeshDevice.LoadSubDeviceManager", id)
	if err != nil {
		return err
	}
	t.active = mgr
	return nil
}

// Remove deletes a manager that is neither active nor the default.
func (t *subDeviceTracker) Remove(id SubDeviceManagerID) error {
	const op = "MeshDevice.RemoveSubDeviceManager"

	t.mu.Lock()
	defer t.mu.Unlock()

	mgr, err := t.lookup(op, id)
	if err != nil {
		return err
	}
	if mgr == t.dflt {
		return fault.Wrap(fault.ClassConfiguration, op, ErrSubDeviceManagerInUse, "manager %d is the default", id)
	}
	if mgr == t.active {
		return fault.Wrap(fault.ClassConfiguration, op, ErrSubDeviceManagerInUse, "manager %d is loaded", id)
	}
	delete(t.managers, id)
	return nil
}

// ClearLoaded loads the default manager.
func (t *subDeviceTracker) ClearLoaded() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active = t.dflt
}

// Reset drops every manager except the default, which is loaded.
func (t *subDeviceTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.managers = map[SubDeviceManagerID]*subDeviceManager{t.dflt.id: t.dflt}
	t.dflt.resetStallGroup()
	t.active = t.dflt
}

// ActiveID returns the id of the loaded manager.
func (t *subDeviceTracker) ActiveID() SubDeviceManagerID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active.id
}

// DefaultID returns the id of the default manager.
func (t *subDeviceTracker) DefaultID() SubDeviceManagerID {
	return t.dflt.id
}

// ManagerIDs returns the ids of every registered manager, sorted.
func (t *subDeviceTracker) ManagerIDs() []SubDeviceManagerID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Sorted(maps.Keys(t.managers))
}

// NumSubDevices returns the sub-device count of the loaded manager.
func (t *subDeviceTracker) NumSubDevices() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active.subDevices)
}

// SubDeviceIDs returns the sub-device ids of the loaded manager.
func (t *subDeviceTracker) SubDeviceIDs() []trace.SubDeviceID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active.ids()
}

// StallGroup returns a copy of the loaded manager's stall group.
func (t *subDeviceTracker) StallGroup() []trace.SubDeviceID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.active.stallGroup)
}

// SetStallGroup replaces the stall group. Every id must exist.
func (t *subDeviceTracker) SetStallGroup(ids []trace.SubDeviceID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, id := range ids {
		if _, err := t.active.get("MeshDevice.SetSubDeviceStallGroup", id); err != nil {
			return err
		}
	}
	t.active.stallGroup = slices.Clone(ids)
	return nil
}

// ResetStallGroup makes every sub-device part of the stall group.
func (t *subDeviceTracker) ResetStallGroup() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active.resetStallGroup()
}

// HasSubDevice reports whether id exists in the active manager.
func (t *subDeviceTracker) HasSubDevice(id trace.SubDeviceID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return int(id) < len(t.active.subDevices)
}

// NumWorkerCores returns the number of cores of the given type in sub-device id.
func (t *subDeviceTracker) NumWorkerCores(core dispatch.CoreType, id trace.SubDeviceID) (uint32, error) {
	const op = "MeshDevice.NumWorkerCores"

	t.mu.Lock()
	defer t.mu.Unlock()

	sd, err := t.active.get(op, id)
	if err != nil {
		return 0, err
	}
	var n int
	switch core {
	case dispatch.CoreTensix:
		n = sd.Tensix.Size()
	case dispatch.CoreActiveEth:
		n = sd.ActiveEthCores
	default:
		return 0, fault.Configf(op, "unknown core type %d", core)
	}
	return safecast.Conv[uint32](n)
}

// NumNocMcastTxns returns the multicast transactions a go signal to id needs.
func (t *subDeviceTracker) NumNocMcastTxns(id trace.SubDeviceID) (uint8, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	sd, err := t.active.get("MeshDevice.NumNocMcastTxns", id)
	if err != nil {
		return 0, err
	}
	return safecast.Conv[uint8](mcastTxns(sd))
}

// NumNocUnicastTxns returns the unicast transactions a go signal to id needs.
func (t *subDeviceTracker) NumNocUnicastTxns(id trace.SubDeviceID) (uint8, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	sd, err := t.active.get("MeshDevice.NumNocUnicastTxns", id)
	if err != nil {
		return 0, err
	}
	return safecast.Conv[uint8](sd.ActiveEthCores)
}

// NocDataStartIndex returns the first NOC data index of sub-device id:
// its multicast start when mcast is set, else its unicast start when
// unicast is set, else zero.
func (t *subDeviceTracker) NocDataStartIndex(id trace.SubDeviceID, mcast, unicast bool) (uint8, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, err := t.active.get("MeshDevice.NocDataStartIndex", id); err != nil {
		return 0, err
	}
	switch {
	case mcast:
		return t.active.mcastStart[id], nil
	case unicast:
		return t.active.unicastStart[id], nil
	default:
		return 0, nil
	}
}

var _ dispatch.SubDevices = (*subDeviceTracker)(nil)
