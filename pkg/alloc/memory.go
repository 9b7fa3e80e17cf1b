package alloc

import (
	"sync"

	"github.com/mesh-runtime/mesh-go/pkg/fault"
)

// Storage is the byte-addressable memory of one unit.
type Storage interface {
	// Write copies data to addr in the given storage kind.
	Write(kind Kind, addr uint64, data []byte) error

	// Read returns n bytes starting at addr.
	Read(kind Kind, addr uint64, n int) ([]byte, error)
}

// memPageSize is the granularity at which Memory materializes bytes.
const memPageSize = 4096

// Memory is an in-memory Storage bounded by per-kind limits.
// Pages are materialized lazily. It is safe for concurrent use.
type Memory struct {
	mu     sync.RWMutex
	limits map[Kind]uint64
	pages  map[Kind]map[uint64][]byte
}

// NewMemory creates a Memory whose kinds are bounded by limits (end address,
// exclusive). Kinds missing from limits are rejected.
func NewMemory(limits map[Kind]uint64) *Memory {
	l := make(map[Kind]uint64, len(limits))
	for k, v := range limits {
		l[k] = v
	}
	return &Memory{
		limits: l,
		pages:  make(map[Kind]map[uint64][]byte),
	}
}

// Write copies data to addr in the given storage kind.
func (m *Memory) Write(kind Kind, addr uint64, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check("Memory.Write", kind, addr, len(data)); err != nil {
		return err
	}
	pages := m.pages[kind]
	if pages == nil {
		pages = make(map[uint64][]byte)
		m.pages[kind] = pages
	}
	for len(data) > 0 {
		base, off := addr/memPageSize, addr%memPageSize
		page := pages[base]
		if page == nil {
			page = make([]byte, memPageSize)
			pages[base] = page
		}
		n := copy(page[off:], data)
		data = data[n:]
		addr += uint64(n)
	}
	return nil
}

// Read returns n bytes starting at addr. Unwritten bytes read as zero.
func (m *Memory) Read(kind Kind, addr uint64, n int) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.check("Memory.Read", kind, addr, n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	pages := m.pages[kind]
	for done := 0; done < n; {
		base, off := addr/memPageSize, addr%memPageSize
		step := min(n-done, int(memPageSize-off))
		if page := pages[base]; page != nil {
			copy(out[done:done+step], page[off:])
		}
		done += step
		addr += uint64(step)
	}
	return out, nil
}

func (m *Memory) check(op string, kind Kind, addr uint64, n int) error {
	limit, ok := m.limits[kind]
	if !ok {
		return fault.Wrap(fault.ClassConfiguration, op, ErrUnknownKind, "kind %s", kind)
	}
	if n < 0 || addr+uint64(n) > limit {
		return fault.Wrap(fault.ClassCapacity, op, ErrOutOfRange,
			"%d B at %#x exceeds %s limit %#x", n, addr, kind, limit)
	}
	return nil
}

// Compile-time interface satisfaction check.
var _ Storage = (*Memory)(nil)
