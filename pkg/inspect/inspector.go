package inspect

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mesh-runtime/mesh-go/pkg/device"
	"github.com/mesh-runtime/mesh-go/pkg/mesh"
	"github.com/mesh-runtime/mesh-go/pkg/trace"
)

// Inspector errors.
var (
	ErrMeshNotFound  = errors.New("mesh not found")
	ErrTraceNotFound = errors.New("trace not found")
)

// Inspector provides read-only inspection of a mesh hierarchy.
type Inspector struct {
	root *mesh.MeshDevice
}

// NewInspector creates a new Inspector for the hierarchy rooted at root.
func NewInspector(root *mesh.MeshDevice) *Inspector {
	return &Inspector{root: root}
}

// Mesh returns the root mesh.
func (i *Inspector) Mesh() *mesh.MeshDevice {
	return i.root
}

// MeshTree represents a mesh and its submeshes for display.
type MeshTree struct {
	ID         uint32
	Shape      string
	Units      []device.ID
	Closed     bool
	TraceBytes uint64
	Traces     []TraceInfo
	Submeshes  []*MeshTree
}

// TraceInfo represents a trace buffer for display.
type TraceInfo struct {
	ID         trace.ID
	State      trace.State
	Segments   int
	TotalSize  uint64
	Address    uint64
	PageSize   uint32
	PaddedSize uint64
}

// InspectMesh returns the tree of the whole hierarchy.
func (i *Inspector) InspectMesh() *MeshTree {
	return inspectMesh(i.root)
}

func inspectMesh(m *mesh.MeshDevice) *MeshTree {
	tree := &MeshTree{ID: m.ID(), Closed: m.IsClosed()}
	if tree.Closed {
		return tree
	}
	if shape, err := m.Shape(); err == nil {
		tree.Shape = shape.String()
	}
	if units, err := m.Units(); err == nil {
		for _, u := range units {
			tree.Units = append(tree.Units, u.ID())
		}
	}
	tree.TraceBytes = m.TraceBuffersSize()

	for _, id := range m.TraceIDs() {
		if info, err := traceInfo(m, id); err == nil {
			tree.Traces = append(tree.Traces, *info)
		}
	}
	for _, sub := range m.Submeshes() {
		tree.Submeshes = append(tree.Submeshes, inspectMesh(sub))
	}
	return tree
}

// Find returns the mesh with the given id in the hierarchy.
func (i *Inspector) Find(id uint32) (*mesh.MeshDevice, error) {
	if m := find(i.root, id); m != nil {
		return m, nil
	}
	return nil, fmt.Errorf("%w: %d", ErrMeshNotFound, id)
}

func find(m *mesh.MeshDevice, id uint32) *mesh.MeshDevice {
	if m.ID() == id {
		return m
	}
	for _, sub := range m.Submeshes() {
		if found := find(sub, id); found != nil {
			return found
		}
	}
	return nil
}

// InspectTrace returns the trace buffer id of the mesh meshID.
func (i *Inspector) InspectTrace(meshID uint32, id trace.ID) (*TraceInfo, error) {
	m, err := i.Find(meshID)
	if err != nil {
		return nil, err
	}
	return traceInfo(m, id)
}

func traceInfo(m *mesh.MeshDevice, id trace.ID) (*TraceInfo, error) {
	buf, err := m.MeshTrace(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %d on mesh %d: %w", ErrTraceNotFound, id, m.ID(), err)
	}

	info := &TraceInfo{ID: id, State: buf.State()}
	if desc := buf.Descriptor(); desc != nil {
		info.Segments = desc.NumSegments()
		info.TotalSize = desc.TotalSize()
	} else if rec := buf.Recorder(); rec != nil {
		info.Segments = len(rec.Segments())
	}
	if mem := buf.Memory(); mem != nil {
		info.Address = mem.Address
		info.PageSize = mem.PageSize
		info.PaddedSize = mem.Size
	}
	return info, nil
}

// FormatMeshTree formats a mesh tree, one mesh per line with its traces
// below it.
func (f *Formatter) FormatMeshTree(tree *MeshTree) string {
	var sb strings.Builder
	f.formatMeshTree(&sb, tree, 0)
	return sb.String()
}

func (f *Formatter) formatMeshTree(sb *strings.Builder, tree *MeshTree, depth int) {
	if tree.Closed {
		sb.WriteString(f.Indent(depth, fmt.Sprintf("mesh %d (closed)\n", tree.ID)))
		return
	}
	sb.WriteString(f.Indent(depth, fmt.Sprintf("mesh %d: %s units %v, traces %s\n",
		tree.ID, tree.Shape, tree.Units, FormatBytes(tree.TraceBytes))))
	for _, tr := range tree.Traces {
		sb.WriteString(f.Indent(depth+1, f.FormatTraceInfo(tr)+"\n"))
	}
	for _, sub := range tree.Submeshes {
		f.formatMeshTree(sb, sub, depth+1)
	}
}

// FormatTraceInfo formats a trace buffer on one line.
func (f *Formatter) FormatTraceInfo(tr TraceInfo) string {
	line := fmt.Sprintf("trace %d [%s] %d segments, %s", tr.ID, FormatTraceState(tr.State), tr.Segments, FormatBytes(tr.TotalSize))
	if tr.PageSize != 0 {
		line += fmt.Sprintf(" at 0x%x (%d B pages, %s padded)", tr.Address, tr.PageSize, FormatBytes(tr.PaddedSize))
	}
	return line
}
