package alloc

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"fortio.org/safecast"

	"github.com/mesh-runtime/mesh-go/pkg/fault"
)

// Allocation errors.
var (
	ErrUnknownKind     = errors.New("unknown storage kind")
	ErrNotAllocated    = errors.New("buffer not allocated")
	ErrOutOfRange      = errors.New("access out of range")
	ErrInvalidPageSize = errors.New("invalid page size")
)

// Kind is the storage kind of a buffer.
type Kind uint8

const (
	KindHost Kind = iota
	KindDRAM
	KindL1
	KindTrace
)

// String returns the storage kind name.
func (k Kind) String() string {
	switch k {
	case KindHost:
		return "HOST"
	case KindDRAM:
		return "DRAM"
	case KindL1:
		return "L1"
	case KindTrace:
		return "TRACE"
	default:
		return "UNKNOWN"
	}
}

// IsDevice reports whether the kind lives on the device.
func (k Kind) IsDevice() bool {
	return k == KindDRAM || k == KindL1 || k == KindTrace
}

// Buffer is an allocated region of one storage kind. For mesh buffers the
// same address is valid on every unit of the mesh.
type Buffer struct {
	Kind     Kind
	Address  uint64
	Size     uint64
	PageSize uint32
}

// NumPages returns the number of pages in the buffer.
func (b *Buffer) NumPages() (uint32, error) {
	if b.PageSize == 0 {
		return 0, fmt.Errorf("%w: buffer at %#x has page size 0", ErrInvalidPageSize, b.Address)
	}
	return safecast.Conv[uint32](b.Size / uint64(b.PageSize))
}

// Allocator hands out buffers.
type Allocator interface {
	// Allocate reserves size bytes of the given kind.
	Allocate(size uint64, pageSize uint32, kind Kind) (*Buffer, error)

	// Deallocate returns a buffer to its region.
	Deallocate(b *Buffer) error

	// NumBanks returns the number of banks the kind is interleaved across.
	NumBanks(kind Kind) int

	// Available returns the free bytes of the kind.
	Available(kind Kind) uint64
}

// Region describes one storage kind managed by a BankAllocator.
type Region struct {
	Base      uint64
	Size      uint64
	Banks     int
	Alignment uint64
}

// BankAllocator is a first-fit allocator over one region per storage kind.
// It is safe for concurrent use.
type BankAllocator struct {
	mu      sync.Mutex
	regions map[Kind]*regionState
}

type regionState struct {
	Region
	used []span // sorted by offset
}

type span struct {
	offset uint64
	size   uint64
}

// NewBankAllocator creates an allocator over the given regions.
func NewBankAllocator(regions map[Kind]Region) *BankAllocator {
	a := &BankAllocator{regions: make(map[Kind]*regionState, len(regions))}
	for kind, r := range regions {
		if r.Alignment == 0 {
			r.Alignment = 1
		}
		if r.Banks == 0 {
			r.Banks = 1
		}
		a.regions[kind] = &regionState{Region: r}
	}
	return a
}

// Allocate reserves size bytes of the given kind.
func (a *BankAllocator) Allocate(size uint64, pageSize uint32, kind Kind) (*Buffer, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	r, ok := a.regions[kind]
	if !ok {
		return nil, fault.Wrap(fault.ClassConfiguration, "BankAllocator.Allocate", ErrUnknownKind, "kind %s", kind)
	}
	if pageSize == 0 || pageSize&(pageSize-1) != 0 {
		return nil, fault.Wrap(fault.ClassConfiguration, "BankAllocator.Allocate", ErrInvalidPageSize,
			"page size %d must be a non-zero power of two", pageSize)
	}

	if size == 0 {
		return nil, fault.Configf("BankAllocator.Allocate", "cannot allocate 0 B of %s", kind)
	}

	aligned := roundUp(size, r.Alignment)
	offset, ok := r.fit(aligned)
	if !ok {
		return nil, fault.Capacityf("BankAllocator.Allocate",
			"cannot allocate %d B of %s: %d B free of %d B", aligned, kind, r.free(), r.Size)
	}

	r.used = append(r.used, span{offset: offset, size: aligned})
	sort.Slice(r.used, func(i, j int) bool { return r.used[i].offset < r.used[j].offset })

	return &Buffer{
		Kind:     kind,
		Address:  r.Base + offset,
		Size:     size,
		PageSize: pageSize,
	}, nil
}

// Deallocate returns a buffer to its region.
func (a *BankAllocator) Deallocate(b *Buffer) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	r, ok := a.regions[b.Kind]
	if !ok {
		return fault.Wrap(fault.ClassConfiguration, "BankAllocator.Deallocate", ErrUnknownKind, "kind %s", b.Kind)
	}
	offset := b.Address - r.Base
	for i, s := range r.used {
		if s.offset == offset {
			r.used = append(r.used[:i], r.used[i+1:]...)
			return nil
		}
	}
	return fault.Wrap(fault.ClassInvariant, "BankAllocator.Deallocate", ErrNotAllocated,
		"%s buffer at %#x", b.Kind, b.Address)
}

// NumBanks returns the number of banks the kind is interleaved across.
func (a *BankAllocator) NumBanks(kind Kind) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	if r, ok := a.regions[kind]; ok {
		return r.Banks
	}
	return 0
}

// Available returns the free bytes of the kind.
func (a *BankAllocator) Available(kind Kind) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	if r, ok := a.regions[kind]; ok {
		return r.free()
	}
	return 0
}

// RegionSize returns the configured size of the kind's region.
func (a *BankAllocator) RegionSize(kind Kind) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	if r, ok := a.regions[kind]; ok {
		return r.Size
	}
	return 0
}

func (r *regionState) fit(size uint64) (uint64, bool) {
	var cursor uint64
	for _, s := range r.used {
		if s.offset-cursor >= size {
			return cursor, true
		}
		cursor = s.offset + s.size
	}
	if cursor <= r.Size && r.Size-cursor >= size {
		return cursor, true
	}
	return 0, false
}

func (r *regionState) free() uint64 {
	var used uint64
	for _, s := range r.used {
		used += s.size
	}
	return r.Size - used
}

func roundUp(v, align uint64) uint64 {
	if align <= 1 {
		return v
	}
	return (v + align - 1) / align * align
}

// Compile-time interface satisfaction check.
var _ Allocator = (*BankAllocator)(nil)
