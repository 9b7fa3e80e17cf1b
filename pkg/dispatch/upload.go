package dispatch

import (
	"context"

	"github.com/mesh-runtime/mesh-go/pkg/alloc"
	"github.com/mesh-runtime/mesh-go/pkg/coord"
	"github.com/mesh-runtime/mesh-go/pkg/fault"
	"github.com/mesh-runtime/mesh-go/pkg/trace"
)

// ShardWriter writes bytes into a replicated buffer on a sub-grid of a mesh.
type ShardWriter interface {
	// WriteShard writes data at offset into buf on every unit of rng.
	WriteShard(ctx context.Context, buf *alloc.Buffer, rng coord.Range, offset uint64, data []byte) error
}

// Budget is the trace region accounting of a mesh.
type Budget struct {
	MeshID uint32

	// InUse is the padded size of the trace buffers already on the mesh.
	InUse uint64

	// RegionSize is the size of the trace region of every unit.
	RegionSize uint64
}

// Upload lays a finalized descriptor out in a replicated trace buffer and
// writes every segment to the units of its range. The returned buffer's
// Size is the padded trace size.
func Upload(ctx context.Context, desc *trace.Descriptor, a alloc.Allocator, budget Budget, w ShardWriter) (*alloc.Buffer, error) {
	const op = "dispatch.Upload"

	unpadded := desc.TotalSize()
	pageSize, err := ComputePageSize(unpadded, a.NumBanks(alloc.KindTrace))
	if err != nil {
		return nil, err
	}
	padded := roundUp(unpadded, uint64(pageSize))
	if padded == 0 {
		padded = uint64(pageSize)
	}

	if budget.InUse+padded > budget.RegionSize {
		return nil, fault.Capacityf(op,
			"creating trace buffers of size %dB on MeshDevice %d, but only %dB is allocated for trace region",
			budget.InUse+padded, budget.MeshID, budget.RegionSize)
	}

	buf, err := a.Allocate(padded, pageSize, alloc.KindTrace)
	if err != nil {
		return nil, err
	}

	offsets := make(map[string]uint64)
	for _, seg := range desc.Segments() {
		key := seg.Range.Key()
		off := offsets[key]

		// Zero padding to the page boundary, clipped to the buffer.
		n := min(roundUp(uint64(len(seg.Data)), uint64(pageSize)), buf.Size-off)
		data := make([]byte, n)
		copy(data, seg.Data)
		if err := w.WriteShard(ctx, buf, seg.Range, off, data); err != nil {
			_ = a.Deallocate(buf)
			class, ok := fault.ClassOf(err)
			if !ok {
				class = fault.ClassCapacity
			}
			return nil, fault.Wrap(class, op, err, "writing %d B of trace to %s", len(data), seg.Range)
		}
		offsets[key] = off + uint64(len(seg.Data))
	}
	return buf, nil
}
