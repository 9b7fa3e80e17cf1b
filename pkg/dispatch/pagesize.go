package dispatch

import (
	"github.com/mesh-runtime/mesh-go/pkg/fault"
)

// Trace buffer page size bounds. The lower bound keeps NOC transfers
// efficient, the upper bound is the prefetcher data queue size.
const (
	PageSizeMin uint32 = 1024
	PageSizeMax uint32 = 4096
)

// Candidate is one page size considered for a trace buffer.
type Candidate struct {
	PageSize   uint32
	PaddedSize uint64
	Waste      uint64
}

// Candidates returns every power-of-two page size in [PageSizeMin,
// PageSizeMax] with the size the trace pads to when interleaved across
// numBanks banks.
func Candidates(totalBytes uint64, numBanks int) []Candidate {
	if numBanks <= 0 {
		return nil
	}
	var out []Candidate
	for size := PageSizeMin; size <= PageSizeMax; size <<= 1 {
		fullyBanked := uint64(numBanks) * uint64(size)
		padded := roundUp(totalBytes, fullyBanked)
		out = append(out, Candidate{
			PageSize:   size,
			PaddedSize: padded,
			Waste:      padded - totalBytes,
		})
	}
	return out
}

// ComputePageSize picks the page size of a trace buffer interleaved across
// numBanks banks: the candidate that wastes the fewest padding bytes, the
// larger one on ties.
func ComputePageSize(totalBytes uint64, numBanks int) (uint32, error) {
	cands := Candidates(totalBytes, numBanks)
	if len(cands) == 0 {
		return 0, fault.Configf("dispatch.ComputePageSize",
			"no page size for %d B across %d banks", totalBytes, numBanks)
	}
	pick := cands[0]
	for _, c := range cands[1:] {
		if c.Waste <= pick.Waste {
			pick = c
		}
	}
	return pick.PageSize, nil
}

func roundUp(v, m uint64) uint64 {
	if m == 0 {
		return v
	}
	return (v + m - 1) / m * m
}
