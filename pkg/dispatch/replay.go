package dispatch

import (
	"context"
	"math/bits"

	"fortio.org/safecast"
	"golang.org/x/sync/errgroup"

	"github.com/mesh-runtime/mesh-go/pkg/command"
	"github.com/mesh-runtime/mesh-go/pkg/device"
	"github.com/mesh-runtime/mesh-go/pkg/fault"
	"github.com/mesh-runtime/mesh-go/pkg/trace"
)

// Settings describe the dispatch firmware configuration of a mesh.
type Settings struct {
	// HostAlignment is the size of one command slot in the issue queue.
	HostAlignment int

	// DispatchSEnabled routes go signals through the secondary dispatcher.
	DispatchSEnabled bool

	// DistributedDispatcher is set when the dispatcher runs on two cores
	// and workers report completion to dispatch_s.
	DistributedDispatcher bool

	// Address of the dispatch message counters; sub-device i uses
	// DispatchMessageBase + i*DispatchMessageStride.
	DispatchMessageBase   uint32
	DispatchMessageStride uint32

	// DispatchCore is the NOC location of the dispatcher workers report to.
	DispatchCore device.Grid
}

// DefaultSettings returns the settings of a single-core dispatcher.
func DefaultSettings() Settings {
	return Settings{
		HostAlignment:         command.DefaultHostAlignment,
		DispatchMessageBase:   0x1_0000,
		DispatchMessageStride: 16,
		DispatchCore:          device.Grid{X: 0, Y: 9},
	}
}

func (s Settings) messageOffset(id trace.SubDeviceID) uint32 {
	return uint32(id) * s.DispatchMessageStride
}

// CoreType selects a class of worker cores.
type CoreType uint8

const (
	CoreTensix CoreType = iota
	CoreActiveEth
)

// SubDevices answers the per sub-device questions replay needs.
type SubDevices interface {
	NumWorkerCores(core CoreType, id trace.SubDeviceID) (uint32, error)
	NumNocMcastTxns(id trace.SubDeviceID) (uint8, error)
	NumNocUnicastTxns(id trace.SubDeviceID) (uint8, error)
	NocDataStartIndex(id trace.SubDeviceID, mcast, unicast bool) (uint8, error)
}

// TraceCmdSize returns the size of the command sequence that replays a
// trace touching numSubDevices sub-devices.
func TraceCmdSize(numSubDevices int, s Settings) uint32 {
	align := uint32(s.HostAlignment)
	n := uint32(numSubDevices)

	size := n * align // go signals
	if s.DispatchSEnabled {
		size += align // dispatch_d to dispatch_s notify
	}
	waits := align
	if s.DistributedDispatcher {
		waits += align
	}
	size += waits * n
	size += align // exec buf
	return size
}

// Replay is what BuildReplay needs to know about an uploaded trace.
type Replay struct {
	Descriptor *trace.Descriptor
	Address    uint64
	PageSize   uint32
	NumPages   uint32
}

// BuildReplay encodes the command sequence that replays a trace: reset the
// worker launch message read pointers of every touched sub-device, wait
// for the workers, then jump into the trace buffer.
func BuildReplay(b command.Builder, r Replay, subs SubDevices, st *State, s Settings) ([]byte, error) {
	const op = "dispatch.BuildReplay"

	if r.PageSize == 0 || r.PageSize&(r.PageSize-1) != 0 {
		return nil, fault.Invariantf(op, "page size %d must be a power of two", r.PageSize)
	}
	ids := r.Descriptor.SubDeviceIDs()
	for _, id := range ids {
		if int(id) >= MaxSubDevices {
			return nil, fault.Configf(op, "sub-device %d out of range, max %d", id, MaxSubDevices)
		}
	}

	dispatcher := command.DispatchMaster
	if s.DispatchSEnabled {
		var mask uint16
		for _, id := range ids {
			mask |= 1 << id
		}
		if err := b.AddNotifyDispatchSGoSignal(command.NotifyGoSignal{IndexBitmask: mask}); err != nil {
			return nil, err
		}
		dispatcher = command.DispatchSlave
	}

	masterX, err := safecast.Conv[uint8](s.DispatchCore.X)
	if err != nil {
		return nil, fault.Wrap(fault.ClassConfiguration, op, err, "dispatch core x")
	}
	masterY, err := safecast.Conv[uint8](s.DispatchCore.Y)
	if err != nil {
		return nil, fault.Wrap(fault.ClassConfiguration, op, err, "dispatch core y")
	}

	for _, id := range ids {
		w, _ := r.Descriptor.Worker(id)
		mcast, unicast := w.NumProgramsNeedingMcast > 0, w.NumProgramsNeedingUnicast > 0

		start, err := subs.NocDataStartIndex(id, mcast, unicast)
		if err != nil {
			return nil, err
		}
		var mcastTxns, unicastTxns uint8
		if mcast {
			if mcastTxns, err = subs.NumNocMcastTxns(id); err != nil {
				return nil, err
			}
		}
		if unicast {
			if unicastTxns, err = subs.NumNocUnicastTxns(id); err != nil {
				return nil, err
			}
		}
		offset, err := safecast.Conv[uint8](s.messageOffset(id))
		if err != nil {
			return nil, fault.Wrap(fault.ClassConfiguration, op, err, "dispatch message offset of sub-device %d", id)
		}

		err = b.AddDispatchGoSignalMcast(command.GoSignal{
			WaitCount:         st.ExpectedWorkersCompleted[id],
			Signal:            command.SignalResetReadPtr,
			Address:           s.DispatchMessageBase + s.messageOffset(id),
			NumMcastTxns:      mcastTxns,
			NumUnicastTxns:    unicastTxns,
			NocDataStartIndex: start,
			Dispatcher:        dispatcher,
			MasterX:           masterX,
			MasterY:           masterY,
			MessageOffset:     offset,
		})
		if err != nil {
			return nil, err
		}
	}

	// Workers must have reset their read pointers before anything else is
	// sent. The count is cleared since the trace syncs from zero.
	for _, id := range ids {
		w, _ := r.Descriptor.Worker(id)
		expected := st.ExpectedWorkersCompleted[id]
		if w.NumProgramsNeedingMcast > 0 {
			n, err := subs.NumWorkerCores(CoreTensix, id)
			if err != nil {
				return nil, err
			}
			expected += n
		}
		if w.NumProgramsNeedingUnicast > 0 {
			n, err := subs.NumWorkerCores(CoreActiveEth, id)
			if err != nil {
				return nil, err
			}
			expected += n
		}
		addr := s.DispatchMessageBase + s.messageOffset(id)

		if s.DistributedDispatcher {
			err := b.AddDispatchWait(command.Wait{Address: addr, Count: expected, ClearCount: true, DispatchS: true})
			if err != nil {
				return nil, err
			}
		}
		if err := b.AddDispatchWait(command.Wait{Address: addr, Count: expected, ClearCount: true}); err != nil {
			return nil, err
		}
	}

	err = b.AddExecBuf(command.ExecBuf{
		Address:      r.Address,
		PageSizeLog2: uint32(bits.TrailingZeros32(r.PageSize)),
		NumPages:     r.NumPages,
	})
	if err != nil {
		return nil, err
	}

	if want := TraceCmdSize(len(ids), s); uint32(b.Len()) != want {
		return nil, fault.Invariantf(op, "replay sequence is %d B, expected %d B", b.Len(), want)
	}
	return b.Bytes(), nil
}

// IssueReplay submits the replay sequence to every unit in order and, when
// blocking, waits for all of them to finish.
func IssueReplay(ctx context.Context, units []device.Unit, cq int, cmds []byte, blocking bool) error {
	for _, u := range units {
		if err := u.Submit(device.Submission{CQ: cq, Data: cmds}); err != nil {
			return err
		}
	}
	if !blocking {
		return nil
	}
	return Finish(ctx, units, cq)
}

// Finish waits for cq to drain on every unit.
func Finish(ctx context.Context, units []device.Unit, cq int) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, u := range units {
		g.Go(func() error {
			return u.Finish(ctx, cq)
		})
	}
	return g.Wait()
}

// UpdateWorkerStateAfterReplay brings the host bookkeeping in line with the
// device after a trace ran: completion counters equal the trace's worker
// count, ring buffer write pointers advance by the number of traced
// programs of each class the trace touched, and config buffers are treated
// as full.
func UpdateWorkerStateAfterReplay(desc *trace.Descriptor, st *State) {
	for id, w := range desc.Workers() {
		if int(id) >= MaxSubDevices {
			continue
		}
		st.ExpectedWorkersCompleted[id] = w.NumCompletionWorkerCores
		if w.NumProgramsNeedingMcast > 0 {
			st.LaunchMsg[id].SetMcastWptr(w.NumProgramsNeedingMcast)
		}
		if w.NumProgramsNeedingUnicast > 0 {
			st.LaunchMsg[id].SetUnicastWptr(w.NumProgramsNeedingUnicast)
		}
		st.ConfigBuf[id].MarkCompletelyFull(st.ExpectedWorkersCompleted[id])
	}
}
