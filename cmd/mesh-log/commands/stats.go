package commands

import (
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/mesh-runtime/mesh-go/pkg/log"
)

// Stats holds aggregate statistics about a capture log.
type Stats struct {
	TotalEvents      int
	EventsByLayer    map[log.Layer]int
	EventsByCategory map[log.Category]int
	Meshes           map[uint32]*MeshStats
	Errors           int
	TimeRange        struct {
		Start time.Time
		End   time.Time
	}
}

// MeshStats holds statistics for a single mesh.
type MeshStats struct {
	FirstSeen time.Time
	LastSeen  time.Time
	Events    int
	Shape     string
	Parent    *uint32

	Traces        int
	RecordedBytes uint64
	UploadedBytes uint64
	Replays       int
	ReplayTime    time.Duration
}

// RunStats analyzes the log file and prints statistics.
func RunStats(path string, w io.Writer) error {
	reader, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	stats := &Stats{
		EventsByLayer:    make(map[log.Layer]int),
		EventsByCategory: make(map[log.Category]int),
		Meshes:           make(map[uint32]*MeshStats),
	}

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		stats.add(event)
	}

	printStats(w, stats)
	return nil
}

func (s *Stats) add(event log.Event) {
	s.TotalEvents++
	s.EventsByLayer[event.Layer]++
	s.EventsByCategory[event.Category]++

	if s.TimeRange.Start.IsZero() || event.Timestamp.Before(s.TimeRange.Start) {
		s.TimeRange.Start = event.Timestamp
	}
	if event.Timestamp.After(s.TimeRange.End) {
		s.TimeRange.End = event.Timestamp
	}

	m, ok := s.Meshes[event.MeshID]
	if !ok {
		m = &MeshStats{FirstSeen: event.Timestamp, LastSeen: event.Timestamp}
		s.Meshes[event.MeshID] = m
	}
	m.Events++
	if event.Timestamp.After(m.LastSeen) {
		m.LastSeen = event.Timestamp
	}

	switch {
	case event.Mesh != nil:
		if event.Mesh.Shape != "" {
			m.Shape = event.Mesh.Shape
		}
		if event.Mesh.ParentID != nil {
			m.Parent = event.Mesh.ParentID
		}
	case event.Trace != nil:
		switch event.Trace.Action {
		case log.TraceBegin, log.TraceLoad:
			m.Traces++
		case log.TraceRecord:
			m.RecordedBytes += event.Trace.Size
		case log.TraceUpload:
			m.UploadedBytes += event.Trace.PaddedSize
		}
	case event.Replay != nil:
		m.Replays++
		m.ReplayTime += event.Replay.Duration
	case event.Error != nil:
		s.Errors++
	}
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w, "=== Mesh Capture Log Statistics ===")
	fmt.Fprintln(w)

	if stats.TotalEvents > 0 {
		fmt.Fprintf(w, "Time Range: %s to %s\n",
			stats.TimeRange.Start.Format(time.RFC3339),
			stats.TimeRange.End.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n", stats.TimeRange.End.Sub(stats.TimeRange.Start).Round(time.Millisecond))
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Total Events: %d\n", stats.TotalEvents)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Layer:")
	for _, layer := range []log.Layer{log.LayerMesh, log.LayerTrace, log.LayerDispatch} {
		if count := stats.EventsByLayer[layer]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", layer.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Category:")
	for _, cat := range []log.Category{log.CategoryLifecycle, log.CategoryRecord, log.CategoryUpload, log.CategoryReplay, log.CategoryError} {
		if count := stats.EventsByCategory[cat]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", cat.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Meshes: %d\n", len(stats.Meshes))
	ids := make([]uint32, 0, len(stats.Meshes))
	for id := range stats.Meshes {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		m := stats.Meshes[id]
		fmt.Fprintf(w, "  [mesh %d] %d events", id, m.Events)
		if m.Shape != "" {
			fmt.Fprintf(w, ", shape %s", m.Shape)
		}
		if m.Parent != nil {
			fmt.Fprintf(w, ", parent %d", *m.Parent)
		}
		fmt.Fprintln(w)
		if m.Traces > 0 {
			fmt.Fprintf(w, "           Traces: %d (%d B recorded, %d B uploaded)\n", m.Traces, m.RecordedBytes, m.UploadedBytes)
		}
		if m.Replays > 0 {
			fmt.Fprintf(w, "           Replays: %d (avg %s)\n", m.Replays, formatDuration(m.ReplayTime/time.Duration(m.Replays)))
		}
	}

	if stats.Errors > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Errors: %d\n", stats.Errors)
	}
}
