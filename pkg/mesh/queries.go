package mesh

import (
	"github.com/mesh-runtime/mesh-go/pkg/alloc"
	"github.com/mesh-runtime/mesh-go/pkg/device"
	"github.com/mesh-runtime/mesh-go/pkg/fault"
	"github.com/mesh-runtime/mesh-go/pkg/trace"
)

// uniform reads a property of every unit and fails if any unit disagrees
// with the first.
func uniform[T comparable](op string, units []device.Unit, get func(device.Properties) T) (T, error) {
	var zero T
	if len(units) == 0 {
		return zero, fault.Invariantf(op, "mesh device has no devices")
	}
	ref := get(units[0].Properties())
	for i, u := range units[1:] {
		if v := get(u.Properties()); v != ref {
			return zero, fault.Configf(op,
				"device %d (index %d) reports %v, expected %v from device %d: mesh devices must be uniform",
				u.ID(), i+1, v, ref, units[0].ID())
		}
	}
	return ref, nil
}

func query[T comparable](m *MeshDevice, op string, get func(device.Properties) T) (T, error) {
	v, err := m.live(op)
	if err != nil {
		var zero T
		return zero, err
	}
	return uniform(op, v.units, get)
}

// Arch returns the architecture shared by every unit.
func (m *MeshDevice) Arch() (string, error) {
	return query(m, "MeshDevice.Arch", func(p device.Properties) string { return p.Arch })
}

// L1SizePerCore returns the L1 size of one core, uniform across units.
func (m *MeshDevice) L1SizePerCore() (uint64, error) {
	return query(m, "MeshDevice.L1SizePerCore", func(p device.Properties) uint64 { return p.L1SizePerCore })
}

// DRAMSizePerChannel returns the DRAM size of one channel.
func (m *MeshDevice) DRAMSizePerChannel() (uint64, error) {
	return query(m, "MeshDevice.DRAMSizePerChannel", func(p device.Properties) uint64 { return p.DRAMSizePerChannel })
}

// NumHWCQs returns the number of hardware command queues per unit.
func (m *MeshDevice) NumHWCQs() (int, error) {
	return query(m, "MeshDevice.NumHWCQs", func(p device.Properties) int { return p.NumHWCQs })
}

// ComputeGridSize returns the worker core grid of each unit.
func (m *MeshDevice) ComputeGridSize() (device.Grid, error) {
	return query(m, "MeshDevice.ComputeGridSize", func(p device.Properties) device.Grid { return p.ComputeGrid })
}

// GridSize returns the full core grid of each unit.
func (m *MeshDevice) GridSize() (device.Grid, error) {
	return query(m, "MeshDevice.GridSize", func(p device.Properties) device.Grid { return p.Grid })
}

// DRAMGridSize returns the DRAM core grid of each unit.
func (m *MeshDevice) DRAMGridSize() (device.Grid, error) {
	return query(m, "MeshDevice.DRAMGridSize", func(p device.Properties) device.Grid { return p.DRAMGrid })
}

// UsingFastDispatch reports whether the units dispatch through prefetcher cores.
func (m *MeshDevice) UsingFastDispatch() (bool, error) {
	return query(m, "MeshDevice.UsingFastDispatch", func(p device.Properties) bool { return p.FastDispatch })
}

// KernelDefinesHash returns the kernel compile defines hash of the units.
func (m *MeshDevice) KernelDefinesHash() (uint64, error) {
	return query(m, "MeshDevice.KernelDefinesHash", func(p device.Properties) uint64 { return p.KernelDefinesHash })
}

// ReferenceUnit returns the first unit of the view. Per-unit properties
// that are not checked for uniformity are read from it.
func (m *MeshDevice) ReferenceUnit() (device.Unit, error) {
	v, err := m.live("MeshDevice.ReferenceUnit")
	if err != nil {
		return nil, err
	}
	return v.units[0], nil
}

// BuildID returns the id of the reference unit.
func (m *MeshDevice) BuildID() (device.ID, error) {
	u, err := m.ReferenceUnit()
	if err != nil {
		return 0, err
	}
	return u.ID(), nil
}

// NumDRAMChannels returns the DRAM channels of the whole mesh.
func (m *MeshDevice) NumDRAMChannels() (int, error) {
	v, err := m.live("MeshDevice.NumDRAMChannels")
	if err != nil {
		return 0, err
	}
	return v.units[0].Properties().NumDRAMChannels * v.Size(), nil
}

// TraceBuffersSize returns the padded size of the trace buffers on the mesh.
func (m *MeshDevice) TraceBuffersSize() uint64 {
	m.traceMu.Lock()
	defer m.traceMu.Unlock()
	return m.traceBytes
}

// EnableProgramCache enables the program cache of every unit.
func (m *MeshDevice) EnableProgramCache() error {
	v, err := m.live("MeshDevice.EnableProgramCache")
	if err != nil {
		return err
	}
	for _, u := range v.units {
		u.EnableProgramCache()
	}
	return nil
}

// DisableAndClearProgramCache disables and empties the program cache of every unit.
func (m *MeshDevice) DisableAndClearProgramCache() error {
	v, err := m.live("MeshDevice.DisableAndClearProgramCache")
	if err != nil {
		return err
	}
	for _, u := range v.units {
		u.DisableAndClearProgramCache()
	}
	return nil
}

// NumProgramCacheEntries sums the program cache entries of every unit.
func (m *MeshDevice) NumProgramCacheEntries() (int, error) {
	v, err := m.live("MeshDevice.NumProgramCacheEntries")
	if err != nil {
		return 0, err
	}
	n := 0
	for _, u := range v.units {
		n += u.NumProgramCacheEntries()
	}
	return n, nil
}

// Per-unit operations. They have no mesh-wide meaning.

// ActiveEthernetCores is a per-unit query and fails with fault.ErrUnsupported.
func (m *MeshDevice) ActiveEthernetCores() ([]device.Grid, error) {
	return nil, fault.Unsupported("ActiveEthernetCores")
}

// InactiveEthernetCores is a per-unit query and fails with fault.ErrUnsupported.
func (m *MeshDevice) InactiveEthernetCores() ([]device.Grid, error) {
	return nil, fault.Unsupported("InactiveEthernetCores")
}

// ConnectedEthernetCore is a per-unit query and fails with fault.ErrUnsupported.
func (m *MeshDevice) ConnectedEthernetCore(core device.Grid) (device.ID, device.Grid, error) {
	return 0, device.Grid{}, fault.Unsupported("ConnectedEthernetCore")
}

// EthernetSockets is a per-unit query and fails with fault.ErrUnsupported.
func (m *MeshDevice) EthernetSockets(peer device.ID) ([]device.Grid, error) {
	return nil, fault.Unsupported("EthernetSockets")
}

// SysmemManager is a per-unit accessor and fails with fault.ErrUnsupported.
func (m *MeshDevice) SysmemManager() (alloc.Storage, error) {
	return nil, fault.Unsupported("SysmemManager")
}

// CommandQueue fails with fault.ErrUnsupported; use MeshCommandQueue.
func (m *MeshDevice) CommandQueue(cq int) error {
	return fault.Unsupported("CommandQueue")
}

// IsMMIOCapable is a per-unit query and fails with fault.ErrUnsupported.
func (m *MeshDevice) IsMMIOCapable() (bool, error) {
	return false, fault.Unsupported("IsMMIOCapable")
}

// TunnelsFromMMIO is a per-unit query and fails with fault.ErrUnsupported.
func (m *MeshDevice) TunnelsFromMMIO() ([][]device.ID, error) {
	return nil, fault.Unsupported("TunnelsFromMMIO")
}

// ResetCores is a per-unit operation and fails with fault.ErrUnsupported.
func (m *MeshDevice) ResetCores() error {
	return fault.Unsupported("ResetCores")
}

// Trace fails with fault.ErrUnsupported; use MeshTrace.
func (m *MeshDevice) Trace(id trace.ID) (*trace.Buffer, error) {
	return nil, fault.Unsupported("Trace")
}
