package mesh

import (
	"github.com/mesh-runtime/mesh-go/pkg/dispatch"
	"github.com/mesh-runtime/mesh-go/pkg/fault"
	"github.com/mesh-runtime/mesh-go/pkg/log"
	"github.com/mesh-runtime/mesh-go/pkg/trace"
)

// CreateSubDeviceManager registers a partition of the compute grid into
// sub-devices. It is applied to every unit once loaded.
func (m *MeshDevice) CreateSubDeviceManager(subs []SubDevice) (SubDeviceManagerID, error) {
	const op = "MeshDevice.CreateSubDeviceManager"
	if _, err := m.live(op); err != nil {
		return 0, err
	}
	id, err := m.subdev.Create(subs)
	if err != nil {
		return 0, m.fail(log.LayerMesh, op, err)
	}
	return id, nil
}

// LoadSubDeviceManager activates a manager. The dispatch bookkeeping of
// every queue starts over, since sub-device ids change meaning.
func (m *MeshDevice) LoadSubDeviceManager(id SubDeviceManagerID) error {
	const op = "MeshDevice.LoadSubDeviceManager"
	err := m.swapSubDeviceManager(op, func() error { return m.subdev.Load(id) })
	if err != nil {
		return err
	}
	m.opts.logger.Debug("sub-device manager loaded", "mesh", m.id, "manager", id)
	return nil
}

// ClearLoadedSubDeviceManager loads the default manager.
func (m *MeshDevice) ClearLoadedSubDeviceManager() error {
	return m.swapSubDeviceManager("MeshDevice.ClearLoadedSubDeviceManager", func() error {
		m.subdev.ClearLoaded()
		return nil
	})
}

// RemoveSubDeviceManager deletes a manager that is not loaded.
func (m *MeshDevice) RemoveSubDeviceManager(id SubDeviceManagerID) error {
	const op = "MeshDevice.RemoveSubDeviceManager"
	if _, err := m.live(op); err != nil {
		return err
	}
	if err := m.subdev.Remove(id); err != nil {
		return m.fail(log.LayerMesh, op, err)
	}
	return nil
}

// swapSubDeviceManager runs swap with every queue locked, so no capture
// can begin between the check and the reset of the bookkeeping.
func (m *MeshDevice) swapSubDeviceManager(op string, swap func() error) error {
	if _, err := m.live(op); err != nil {
		return err
	}
	for _, q := range m.queues {
		q.mu.Lock()
		defer q.mu.Unlock()
	}
	for _, q := range m.queues {
		if q.capture != nil {
			return m.fail(log.LayerMesh, op, fault.Configf(op,
				"cannot change sub-device managers while trace %d is capturing on cq %d", q.capture.id, q.id))
		}
	}
	if err := swap(); err != nil {
		return m.fail(log.LayerMesh, op, err)
	}
	for _, q := range m.queues {
		q.state = dispatch.State{}
	}
	return nil
}

// ActiveSubDeviceManagerID returns the loaded manager.
func (m *MeshDevice) ActiveSubDeviceManagerID() SubDeviceManagerID {
	return m.subdev.ActiveID()
}

// DefaultSubDeviceManagerID returns the manager spanning the whole grid.
func (m *MeshDevice) DefaultSubDeviceManagerID() SubDeviceManagerID {
	return m.subdev.DefaultID()
}

// SubDeviceManagerIDs returns the registered managers, sorted.
func (m *MeshDevice) SubDeviceManagerIDs() []SubDeviceManagerID {
	return m.subdev.ManagerIDs()
}

// NumSubDevices returns the number of sub-devices of the loaded manager.
func (m *MeshDevice) NumSubDevices() int {
	return m.subdev.NumSubDevices()
}

// SubDeviceIDs returns the sub-device ids of the loaded manager.
func (m *MeshDevice) SubDeviceIDs() []trace.SubDeviceID {
	return m.subdev.SubDeviceIDs()
}

// SubDeviceStallGroup returns the sub-devices waited on by default.
func (m *MeshDevice) SubDeviceStallGroup() []trace.SubDeviceID {
	return m.subdev.StallGroup()
}

// SetSubDeviceStallGroup sets the sub-devices waited on by default.
func (m *MeshDevice) SetSubDeviceStallGroup(ids []trace.SubDeviceID) error {
	if _, err := m.live("MeshDevice.SetSubDeviceStallGroup"); err != nil {
		return err
	}
	return m.subdev.SetStallGroup(ids)
}

// ResetSubDeviceStallGroup waits on every sub-device again.
func (m *MeshDevice) ResetSubDeviceStallGroup() {
	m.subdev.ResetStallGroup()
}

// NumWorkerCores returns the cores of the given type in sub-device id.
func (m *MeshDevice) NumWorkerCores(core dispatch.CoreType, id trace.SubDeviceID) (uint32, error) {
	return m.subdev.NumWorkerCores(core, id)
}

// NumNocMcastTxns returns the multicast transactions a go signal to id needs.
func (m *MeshDevice) NumNocMcastTxns(id trace.SubDeviceID) (uint8, error) {
	return m.subdev.NumNocMcastTxns(id)
}

// NumNocUnicastTxns returns the unicast transactions a go signal to id needs.
func (m *MeshDevice) NumNocUnicastTxns(id trace.SubDeviceID) (uint8, error) {
	return m.subdev.NumNocUnicastTxns(id)
}

// NocDataStartIndex returns the first NoC data slot of sub-device id.
func (m *MeshDevice) NocDataStartIndex(id trace.SubDeviceID, mcast, unicast bool) (uint8, error) {
	return m.subdev.NocDataStartIndex(id, mcast, unicast)
}
