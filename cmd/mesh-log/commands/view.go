// Package commands implements the mesh-log CLI commands.
package commands

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mesh-runtime/mesh-go/pkg/log"
)

// ViewFilter specifies criteria for filtering events in the view command.
type ViewFilter struct {
	Layer    *log.Layer
	Category *log.Category
	MeshID   *uint32
}

func (f ViewFilter) matches(e log.Event) bool {
	if f.Layer != nil && e.Layer != *f.Layer {
		return false
	}
	if f.Category != nil && e.Category != *f.Category {
		return false
	}
	if f.MeshID != nil && e.MeshID != *f.MeshID {
		return false
	}
	return true
}

// formatEvent writes a human-readable representation of the event to w.
func formatEvent(w io.Writer, event log.Event) {
	// Header line: timestamp [mesh:id] LAYER Type
	ts := event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z")

	var typeLabel string
	switch {
	case event.Mesh != nil:
		typeLabel = event.Mesh.Action.String()
	case event.Trace != nil:
		typeLabel = event.Trace.Action.String()
	case event.Replay != nil:
		typeLabel = "REPLAY"
	case event.Error != nil:
		typeLabel = "Error"
	default:
		typeLabel = "Unknown"
	}

	fmt.Fprintf(w, "%s [mesh:%d] %-8s %s", ts, event.MeshID, event.Layer.String(), typeLabel)
	if event.TraceID != nil {
		fmt.Fprintf(w, " trace=%d", *event.TraceID)
	}
	fmt.Fprintln(w)

	switch {
	case event.Mesh != nil:
		formatMeshDetails(w, event.Mesh)
	case event.Trace != nil:
		formatTraceDetails(w, event.Trace)
	case event.Replay != nil:
		formatReplayDetails(w, event.Replay)
	case event.Error != nil:
		formatErrorDetails(w, event.Error)
	}

	fmt.Fprintln(w) // Blank line between events
}

func formatMeshDetails(w io.Writer, ev *log.MeshEvent) {
	if ev.OldShape != "" {
		fmt.Fprintf(w, "  Shape: %s -> %s\n", ev.OldShape, ev.Shape)
	} else if ev.Shape != "" {
		fmt.Fprintf(w, "  Shape: %s\n", ev.Shape)
	}
	if ev.ParentID != nil {
		fmt.Fprintf(w, "  Parent: %d\n", *ev.ParentID)
	}
	if len(ev.UnitIDs) > 0 {
		fmt.Fprintf(w, "  Units: %v\n", ev.UnitIDs)
	}
}

func formatTraceDetails(w io.Writer, ev *log.TraceEvent) {
	if ev.Range != "" {
		fmt.Fprintf(w, "  Range: %s\n", ev.Range)
	}
	if ev.Size > 0 {
		fmt.Fprintf(w, "  Size: %d bytes\n", ev.Size)
	}
	if ev.NumSegments > 0 {
		fmt.Fprintf(w, "  Segments: %d\n", ev.NumSegments)
	}
	if ev.PageSize > 0 {
		fmt.Fprintf(w, "  Placement: 0x%x, %d B pages, %d B padded\n", ev.Address, ev.PageSize, ev.PaddedSize)
	}
}

func formatReplayDetails(w io.Writer, ev *log.ReplayEvent) {
	fmt.Fprintf(w, "  Units: %d  CmdSize: %d bytes  Blocking: %t\n", ev.NumUnits, ev.CmdSize, ev.Blocking)
	if len(ev.SubDevices) > 0 {
		fmt.Fprintf(w, "  SubDevices: %v\n", ev.SubDevices)
	}
	if ev.Duration > 0 {
		fmt.Fprintf(w, "  Duration: %s\n", formatDuration(ev.Duration))
	}
}

// formatErrorDetails writes error details.
func formatErrorDetails(w io.Writer, err *log.ErrorEventData) {
	fmt.Fprintf(w, "  Layer: %s\n", err.Layer.String())
	fmt.Fprintf(w, "  Message: %s\n", err.Message)
	if err.Class != "" {
		fmt.Fprintf(w, "  Class: %s\n", err.Class)
	}
	if err.Context != "" {
		fmt.Fprintf(w, "  Context: %s\n", err.Context)
	}
}

// formatDuration formats a duration for display.
func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%.3fus", float64(d.Nanoseconds())/1000)
	}
	if d < time.Second {
		return fmt.Sprintf("%.3fms", float64(d.Microseconds())/1000)
	}
	return fmt.Sprintf("%.3fs", d.Seconds())
}

// ParseLayerFlag parses a layer string (case-insensitive).
func ParseLayerFlag(s string) (log.Layer, error) {
	switch strings.ToLower(s) {
	case "mesh":
		return log.LayerMesh, nil
	case "trace":
		return log.LayerTrace, nil
	case "dispatch":
		return log.LayerDispatch, nil
	default:
		return 0, fmt.Errorf("invalid layer: %s (must be mesh, trace, or dispatch)", s)
	}
}

// ParseCategoryFlag parses a category string (case-insensitive).
func ParseCategoryFlag(s string) (log.Category, error) {
	switch strings.ToLower(s) {
	case "lifecycle":
		return log.CategoryLifecycle, nil
	case "record":
		return log.CategoryRecord, nil
	case "upload":
		return log.CategoryUpload, nil
	case "replay":
		return log.CategoryReplay, nil
	case "error":
		return log.CategoryError, nil
	default:
		return 0, fmt.Errorf("invalid category: %s (must be lifecycle, record, upload, replay, or error)", s)
	}
}

// RunView executes the view command.
func RunView(path string, filter ViewFilter, output io.Writer) error {
	reader, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		if !filter.matches(event) {
			continue
		}
		formatEvent(output, event)
	}

	return nil
}
