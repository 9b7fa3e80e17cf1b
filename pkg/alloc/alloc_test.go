package alloc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-runtime/mesh-go/pkg/fault"
)

func newTestAllocator() *BankAllocator {
	return NewBankAllocator(map[Kind]Region{
		KindTrace: {Base: 0x1000, Size: 16 * 1024, Banks: 12, Alignment: 32},
		KindDRAM:  {Base: 0x100000, Size: 1 << 20, Banks: 12, Alignment: 32},
	})
}

func TestBankAllocatorAllocate(t *testing.T) {
	a := newTestAllocator()

	b1, err := a.Allocate(4096, 1024, KindTrace)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1000), b1.Address)
	assert.Equal(t, KindTrace, b1.Kind)

	b2, err := a.Allocate(100, 1024, KindTrace)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1000+4096), b2.Address)

	assert.Equal(t, uint64(16*1024-4096-128), a.Available(KindTrace))
	assert.Equal(t, 12, a.NumBanks(KindTrace))

	pages, err := b1.NumPages()
	require.NoError(t, err)
	assert.Equal(t, uint32(4), pages)
}

func TestBankAllocatorCapacity(t *testing.T) {
	a := newTestAllocator()

	_, err := a.Allocate(32*1024, 1024, KindTrace)
	require.Error(t, err)
	assert.ErrorIs(t, err, fault.ErrCapacity)
	assert.Contains(t, err.Error(), "32768 B of TRACE")
}

func TestBankAllocatorReuse(t *testing.T) {
	a := newTestAllocator()

	b1, err := a.Allocate(8192, 1024, KindTrace)
	require.NoError(t, err)
	_, err = a.Allocate(8192, 1024, KindTrace)
	require.NoError(t, err)

	require.NoError(t, a.Deallocate(b1))
	b3, err := a.Allocate(4096, 1024, KindTrace)
	require.NoError(t, err)
	assert.Equal(t, b1.Address, b3.Address)

	err = a.Deallocate(b1)
	require.NoError(t, err, "b3 occupies the same offset")
	err = a.Deallocate(b1)
	assert.ErrorIs(t, err, ErrNotAllocated)
}

func TestBankAllocatorRejects(t *testing.T) {
	a := newTestAllocator()

	_, err := a.Allocate(1024, 1000, KindTrace)
	assert.ErrorIs(t, err, ErrInvalidPageSize)

	_, err = a.Allocate(1024, 1024, KindL1)
	assert.ErrorIs(t, err, ErrUnknownKind)
	assert.ErrorIs(t, err, fault.ErrConfiguration)

	_, err = a.Allocate(0, 1024, KindTrace)
	assert.ErrorIs(t, err, fault.ErrConfiguration)
}

func TestMemoryReadWrite(t *testing.T) {
	m := NewMemory(map[Kind]uint64{KindTrace: 0x2000})

	require.NoError(t, m.Write(KindTrace, 0x10, []byte{1, 2, 3}))
	got, err := m.Read(KindTrace, 0x0f, 5)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 2, 3, 0}, got)

	err = m.Write(KindTrace, 0x1fff, []byte{1, 2})
	assert.ErrorIs(t, err, ErrOutOfRange)

	_, err = m.Read(KindL1, 0, 1)
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "HOST", KindHost.String())
	assert.Equal(t, "TRACE", KindTrace.String())
	assert.True(t, KindTrace.IsDevice())
	assert.False(t, KindHost.IsDevice())
}
