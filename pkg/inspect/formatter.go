package inspect

import (
	"fmt"
	"strings"

	"github.com/mesh-runtime/mesh-go/pkg/dispatch"
	"github.com/mesh-runtime/mesh-go/pkg/trace"
)

// Formatter formats inspection output.
type Formatter struct {
	// ShowData includes a hex preview of segment bytes
	ShowData bool

	// PreviewBytes limits the hex preview, 0 means 16
	PreviewBytes int

	// IndentWidth is the number of spaces per indent level
	IndentWidth int
}

// NewFormatter creates a new Formatter with default settings.
func NewFormatter() *Formatter {
	return &Formatter{
		ShowData:     false,
		PreviewBytes: 16,
		IndentWidth:  2,
	}
}

// Indent returns the content with indentation.
func (f *Formatter) Indent(depth int, content string) string {
	width := f.IndentWidth
	if width == 0 {
		width = 2
	}
	indent := strings.Repeat(" ", depth*width)
	return indent + content
}

// FormatBytes formats a byte count with a binary unit.
func FormatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// FormatSegmentTable formats the segments of a descriptor, one row each.
func (f *Formatter) FormatSegmentTable(desc *trace.Descriptor) string {
	if desc == nil || desc.NumSegments() == 0 {
		return "  (no segments)\n"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("  %-3s %-16s %8s %6s\n", "#", "RANGE", "BYTES", "UNITS"))
	for i, seg := range desc.Segments() {
		sb.WriteString(fmt.Sprintf("  %-3d %-16s %8d %6d", i, FormatRange(seg.Range), len(seg.Data), seg.Range.Size()))
		if f.ShowData {
			sb.WriteString("  " + f.preview(seg.Data))
		}
		sb.WriteString("\n")
	}
	sb.WriteString(fmt.Sprintf("  total %s in %d segments\n", FormatBytes(desc.TotalSize()), desc.NumSegments()))
	return sb.String()
}

func (f *Formatter) preview(data []byte) string {
	n := f.PreviewBytes
	if n <= 0 {
		n = 16
	}
	if len(data) <= n {
		return fmt.Sprintf("%x", data)
	}
	return fmt.Sprintf("%x...", data[:n])
}

// FormatWorkers formats the worker descriptors of a descriptor.
func (f *Formatter) FormatWorkers(desc *trace.Descriptor) string {
	if desc == nil || len(desc.SubDeviceIDs()) == 0 {
		return "  (no sub-devices)\n"
	}

	var sb strings.Builder
	for _, id := range desc.SubDeviceIDs() {
		w, _ := desc.Worker(id)
		sb.WriteString(f.Indent(1, fmt.Sprintf("sub-device %d: %d completion cores, %d mcast, %d unicast programs\n",
			id, w.NumCompletionWorkerCores, w.NumProgramsNeedingMcast, w.NumProgramsNeedingUnicast)))
	}
	return sb.String()
}

// FormatDispatchState formats the bookkeeping of the given sub-devices.
func (f *Formatter) FormatDispatchState(st dispatch.State, ids []trace.SubDeviceID) string {
	if len(ids) == 0 {
		return "  (no sub-devices)\n"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("  %-4s %10s %6s %8s %s\n", "SUB", "EXPECTED", "MCAST", "UNICAST", "CONFIG"))
	for _, id := range ids {
		if int(id) >= dispatch.MaxSubDevices {
			continue
		}
		sb.WriteString(fmt.Sprintf("  %-4d %10d %6d %8d %s\n",
			id,
			st.ExpectedWorkersCompleted[id],
			st.LaunchMsg[id].McastWptr,
			st.LaunchMsg[id].UnicastWptr,
			FormatConfigBuffer(st.ConfigBuf[id])))
	}
	return sb.String()
}

// FormatConfigBuffer formats config buffer occupancy.
func FormatConfigBuffer(m dispatch.ConfigBufferMgr) string {
	if m.Full {
		return fmt.Sprintf("full until %d", m.SyncCount)
	}
	var total uint64
	for _, r := range m.Reserved {
		total += uint64(r)
	}
	if total == 0 {
		return "free"
	}
	return fmt.Sprintf("%s reserved", FormatBytes(total))
}

// FormatPageSizeTable formats page size candidates, marking the pick.
func (f *Formatter) FormatPageSizeTable(cands []dispatch.Candidate, pick uint32) string {
	if len(cands) == 0 {
		return "  (no candidates)\n"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("  %-6s %12s %10s\n", "PAGE", "PADDED", "WASTE"))
	for _, c := range cands {
		mark := ""
		if c.PageSize == pick {
			mark = "  <"
		}
		sb.WriteString(fmt.Sprintf("  %-6d %12d %10d%s\n", c.PageSize, c.PaddedSize, c.Waste, mark))
	}
	return sb.String()
}

// FormatTraceState formats a trace lifecycle state.
func FormatTraceState(s trace.State) string {
	return strings.ToLower(s.String())
}
