package device

import (
	"context"
	"errors"
	"sync"

	"github.com/mesh-runtime/mesh-go/pkg/alloc"
	"github.com/mesh-runtime/mesh-go/pkg/fault"
)

// Unit errors.
var (
	ErrNotInitialized = errors.New("unit not initialized")
	ErrInvalidQueue   = errors.New("invalid command queue")
)

// HostRegionSize is the size of the host-visible region of a simulated unit.
const HostRegionSize uint64 = 1 << 20

// SimUnit is an in-process unit that stores submissions instead of executing them.
type SimUnit struct {
	mu sync.Mutex

	id    ID
	props Properties

	initialized bool
	params      InitParams
	mem         *alloc.Memory

	// Submissions per command queue, in issue order.
	issued [][]Submission

	cacheEnabled bool
	cache        map[uint64]struct{}
}

// NewSimUnit creates a simulated unit.
func NewSimUnit(id ID, props Properties) *SimUnit {
	return &SimUnit{
		id:    id,
		props: props,
		cache: make(map[uint64]struct{}),
	}
}

// ID returns the unit id.
func (u *SimUnit) ID() ID {
	return u.id
}

// Properties returns the unit hardware description.
func (u *SimUnit) Properties() Properties {
	return u.props
}

// Initialize sizes the unit memory and command queues.
func (u *SimUnit) Initialize(p InitParams) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if p.NumCQs < 1 || p.NumCQs > u.props.NumHWCQs {
		return fault.Configf("SimUnit.Initialize",
			"unit %d: %d command queues requested, hardware supports 1 to %d", u.id, p.NumCQs, u.props.NumHWCQs)
	}
	dram := u.props.DRAMSizePerChannel * uint64(u.props.NumDRAMChannels)
	if p.TraceRegionSize > dram {
		return fault.Capacityf("SimUnit.Initialize",
			"unit %d: trace region of %d B exceeds %d B of DRAM", u.id, p.TraceRegionSize, dram)
	}

	u.params = p
	u.mem = alloc.NewMemory(map[alloc.Kind]uint64{
		alloc.KindHost:  HostRegionSize,
		alloc.KindDRAM:  dram,
		alloc.KindL1:    u.props.L1SizePerCore,
		alloc.KindTrace: TraceRegionBase + p.TraceRegionSize,
	})
	u.issued = make([][]Submission, p.NumCQs)
	u.initialized = true
	return nil
}

// Params returns the parameters the unit was initialized with.
func (u *SimUnit) Params() InitParams {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.params
}

// Memory returns the unit storage. It is nil before Initialize.
func (u *SimUnit) Memory() alloc.Storage {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.mem == nil {
		return nil
	}
	return u.mem
}

// Submit records a command sequence on the given queue.
func (u *SimUnit) Submit(s Submission) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if !u.initialized {
		return fault.Wrap(fault.ClassInvariant, "SimUnit.Submit", ErrNotInitialized, "unit %d", u.id)
	}
	if s.CQ < 0 || s.CQ >= len(u.issued) {
		return fault.Wrap(fault.ClassConfiguration, "SimUnit.Submit", ErrInvalidQueue,
			"unit %d: cq %d of %d", u.id, s.CQ, len(u.issued))
	}
	data := make([]byte, len(s.Data))
	copy(data, s.Data)
	s.Data = data
	u.issued[s.CQ] = append(u.issued[s.CQ], s)

	if s.ProgramKey != 0 && u.cacheEnabled {
		u.cache[s.ProgramKey] = struct{}{}
	}
	return nil
}

// Issued returns the submissions recorded on cq.
func (u *SimUnit) Issued(cq int) []Submission {
	u.mu.Lock()
	defer u.mu.Unlock()

	if cq < 0 || cq >= len(u.issued) {
		return nil
	}
	out := make([]Submission, len(u.issued[cq]))
	copy(out, u.issued[cq])
	return out
}

// Finish returns once the context allows; simulated submissions complete immediately.
func (u *SimUnit) Finish(ctx context.Context, cq int) error {
	u.mu.Lock()
	n := len(u.issued)
	u.mu.Unlock()

	if cq < 0 || cq >= n {
		return fault.Wrap(fault.ClassConfiguration, "SimUnit.Finish", ErrInvalidQueue,
			"unit %d: cq %d of %d", u.id, cq, n)
	}
	return ctx.Err()
}

// EnableProgramCache turns on program caching.
func (u *SimUnit) EnableProgramCache() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.cacheEnabled = true
}

// DisableAndClearProgramCache turns off program caching and drops all entries.
func (u *SimUnit) DisableAndClearProgramCache() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.cacheEnabled = false
	clear(u.cache)
}

// NumProgramCacheEntries returns the number of cached programs.
func (u *SimUnit) NumProgramCacheEntries() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.cache)
}

// Close drops the unit memory and queues.
func (u *SimUnit) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.initialized = false
	u.mem = nil
	u.issued = nil
	u.cacheEnabled = false
	clear(u.cache)
	return nil
}

// Compile-time interface satisfaction check.
var _ Unit = (*SimUnit)(nil)
