package dispatch

import (
	"github.com/mesh-runtime/mesh-go/pkg/fault"
)

// MaxSubDevices is the number of dispatch message entries, and so the
// largest number of sub-devices a mesh can be split into.
const MaxSubDevices = 16

// LaunchMsgRingBufferState tracks the host write pointers into the worker
// launch message ring buffers of one sub-device.
type LaunchMsgRingBufferState struct {
	McastWptr   uint32
	UnicastWptr uint32
}

// Reset moves both write pointers back to the start of the ring.
func (s *LaunchMsgRingBufferState) Reset() {
	s.McastWptr = 0
	s.UnicastWptr = 0
}

// SetMcastWptr sets the multicast write pointer.
func (s *LaunchMsgRingBufferState) SetMcastWptr(v uint32) {
	s.McastWptr = v
}

// SetUnicastWptr sets the unicast write pointer.
func (s *LaunchMsgRingBufferState) SetUnicastWptr(v uint32) {
	s.UnicastWptr = v
}

// ConfigBufferMgr tracks worker kernel config buffer occupancy of one
// sub-device. Only the state the trace path touches is modelled.
type ConfigBufferMgr struct {
	// Full is set when every config buffer must be treated as in use.
	Full bool

	// SyncCount is the worker completion count that frees the buffers.
	SyncCount uint32

	// Reserved bytes per config buffer.
	Reserved []uint32
}

// MarkCompletelyFull marks every config buffer as in use until workers
// reach syncCount, forcing the next program to stall.
func (m *ConfigBufferMgr) MarkCompletelyFull(syncCount uint32) {
	m.Full = true
	m.SyncCount = syncCount
}

// Reserve records bytes reserved in config buffer i, clearing Full.
func (m *ConfigBufferMgr) Reserve(i int, bytes uint32) {
	for len(m.Reserved) <= i {
		m.Reserved = append(m.Reserved, 0)
	}
	m.Reserved[i] += bytes
	m.Full = false
}

func (m ConfigBufferMgr) clone() ConfigBufferMgr {
	out := m
	out.Reserved = append([]uint32(nil), m.Reserved...)
	return out
}

// State is the host-side dispatch bookkeeping of one command queue.
type State struct {
	ExpectedWorkersCompleted [MaxSubDevices]uint32
	LaunchMsg                [MaxSubDevices]LaunchMsgRingBufferState
	ConfigBuf                [MaxSubDevices]ConfigBufferMgr
}

// Snapshot is a saved copy of the first NumSubDevices entries of a State.
type Snapshot struct {
	NumSubDevices            int
	ExpectedWorkersCompleted [MaxSubDevices]uint32
	LaunchMsg                [MaxSubDevices]LaunchMsgRingBufferState
	ConfigBuf                [MaxSubDevices]ConfigBufferMgr
}

// ResetForCapture saves the state of the first numSubDevices sub-devices
// and resets them so that the commands recorded in a trace sync against
// counters starting at zero.
func (s *State) ResetForCapture(numSubDevices int) (Snapshot, error) {
	if err := checkSubDevices("State.ResetForCapture", numSubDevices); err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{NumSubDevices: numSubDevices}
	for i := range numSubDevices {
		snap.ExpectedWorkersCompleted[i] = s.ExpectedWorkersCompleted[i]
		snap.LaunchMsg[i] = s.LaunchMsg[i]
		snap.ConfigBuf[i] = s.ConfigBuf[i].clone()

		s.ExpectedWorkersCompleted[i] = 0
		s.LaunchMsg[i].Reset()
		s.ConfigBuf[i].MarkCompletelyFull(s.ExpectedWorkersCompleted[i])
	}
	return snap, nil
}

// Restore puts a snapshot taken by ResetForCapture back.
func (s *State) Restore(snap Snapshot) error {
	if err := checkSubDevices("State.Restore", snap.NumSubDevices); err != nil {
		return err
	}
	for i := range snap.NumSubDevices {
		s.ExpectedWorkersCompleted[i] = snap.ExpectedWorkersCompleted[i]
		s.LaunchMsg[i] = snap.LaunchMsg[i]
		s.ConfigBuf[i] = snap.ConfigBuf[i].clone()
	}
	return nil
}

func checkSubDevices(op string, n int) error {
	if n < 1 || n > MaxSubDevices {
		return fault.Configf(op, "%d sub-devices, must be between 1 and %d", n, MaxSubDevices)
	}
	return nil
}
