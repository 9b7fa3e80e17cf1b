package command

// Opcode identifies a dispatch command.
type Opcode uint8

const (
	// OpDispatchWait stalls the dispatcher until a worker count is reached.
	OpDispatchWait Opcode = 1
	// OpGoSignalMcast waits for workers and then broadcasts a go signal.
	OpGoSignalMcast Opcode = 2
	// OpNotifyGoSignal tells the secondary dispatcher to send go signals.
	OpNotifyGoSignal Opcode = 3
	// OpExecBuf jumps the prefetcher into a device-resident buffer.
	OpExecBuf Opcode = 4
	// OpExecBufEnd returns the prefetcher from an execute buffer.
	OpExecBufEnd Opcode = 5
)

// String returns the opcode name.
func (o Opcode) String() string {
	switch o {
	case OpDispatchWait:
		return "DISPATCH_WAIT"
	case OpGoSignalMcast:
		return "GO_SIGNAL_MCAST"
	case OpNotifyGoSignal:
		return "NOTIFY_GO_SIGNAL"
	case OpExecBuf:
		return "EXEC_BUF"
	case OpExecBufEnd:
		return "EXEC_BUF_END"
	default:
		return "UNKNOWN"
	}
}

// DispatcherSelect picks which dispatcher core sends go signals.
type DispatcherSelect uint8

const (
	DispatchMaster DispatcherSelect = 0
	DispatchSlave  DispatcherSelect = 1
)

// Go signal values understood by workers.
const (
	SignalRun          uint32 = 0x80
	SignalResetReadPtr uint32 = 0xc0
)

// Command is one decoded dispatch command. Exactly one payload is set,
// matching Op (OpExecBufEnd has none).
type Command struct {
	Op       Opcode          `cbor:"1,keyasint"`
	Wait     *Wait           `cbor:"2,keyasint,omitempty"`
	GoSignal *GoSignal       `cbor:"3,keyasint,omitempty"`
	Notify   *NotifyGoSignal `cbor:"4,keyasint,omitempty"`
	ExecBuf  *ExecBuf        `cbor:"5,keyasint,omitempty"`
}

// Wait is the payload of OpDispatchWait.
type Wait struct {
	Barrier bool `cbor:"1,keyasint,omitempty"`
	// Address of the dispatch message counter.
	Address uint32 `cbor:"2,keyasint"`
	// Count is the worker completion count to wait for.
	Count      uint32 `cbor:"3,keyasint"`
	ClearCount bool   `cbor:"4,keyasint,omitempty"`
	// DispatchS routes the wait to the secondary dispatcher.
	DispatchS bool `cbor:"5,keyasint,omitempty"`
}

// GoSignal is the payload of OpGoSignalMcast.
type GoSignal struct {
	WaitCount         uint32           `cbor:"1,keyasint"`
	Signal            uint32           `cbor:"2,keyasint"`
	Address           uint32           `cbor:"3,keyasint"`
	NumMcastTxns      uint8            `cbor:"4,keyasint"`
	NumUnicastTxns    uint8            `cbor:"5,keyasint"`
	NocDataStartIndex uint8            `cbor:"6,keyasint"`
	Dispatcher        DispatcherSelect `cbor:"7,keyasint"`
	MasterX           uint8            `cbor:"8,keyasint,omitempty"`
	MasterY           uint8            `cbor:"9,keyasint,omitempty"`
	MessageOffset     uint8            `cbor:"10,keyasint,omitempty"`
}

// NotifyGoSignal is the payload of OpNotifyGoSignal.
type NotifyGoSignal struct {
	Wait         bool   `cbor:"1,keyasint,omitempty"`
	IndexBitmask uint16 `cbor:"2,keyasint"`
}

// ExecBuf is the payload of OpExecBuf.
type ExecBuf struct {
	Address      uint64 `cbor:"1,keyasint"`
	PageSizeLog2 uint32 `cbor:"2,keyasint"`
	NumPages     uint32 `cbor:"3,keyasint"`
}
