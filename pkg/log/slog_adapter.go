package log

import (
	"context"
	"log/slog"
)

// SlogAdapter writes capture events to an slog.Logger at debug level.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a new SlogAdapter that writes to the given slog.Logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event to the slog logger at Debug level.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("session", event.SessionID),
		slog.Uint64("mesh_id", uint64(event.MeshID)),
		slog.String("layer", event.Layer.String()),
		slog.String("category", event.Category.String()),
	}
	if event.TraceID != nil {
		attrs = append(attrs, slog.Uint64("trace_id", uint64(*event.TraceID)))
	}

	switch {
	case event.Mesh != nil:
		attrs = append(attrs,
			slog.String("action", event.Mesh.Action.String()),
			slog.String("shape", event.Mesh.Shape),
		)
		if event.Mesh.ParentID != nil {
			attrs = append(attrs, slog.Uint64("parent_id", uint64(*event.Mesh.ParentID)))
		}
		if event.Mesh.OldShape != "" {
			attrs = append(attrs, slog.String("old_shape", event.Mesh.OldShape))
		}
	case event.Trace != nil:
		attrs = append(attrs, slog.String("action", event.Trace.Action.String()))
		if event.Trace.Range != "" {
			attrs = append(attrs, slog.String("range", event.Trace.Range))
		}
		attrs = append(attrs,
			slog.Uint64("size", event.Trace.Size),
			slog.Int("segments", event.Trace.NumSegments),
		)
		if event.Trace.PageSize != 0 {
			attrs = append(attrs,
				slog.Uint64("page_size", uint64(event.Trace.PageSize)),
				slog.Uint64("padded_size", event.Trace.PaddedSize),
			)
		}
	case event.Replay != nil:
		attrs = append(attrs,
			slog.Uint64("cmd_size", uint64(event.Replay.CmdSize)),
			slog.Int("units", event.Replay.NumUnits),
			slog.Bool("blocking", event.Replay.Blocking),
			slog.Duration("duration", event.Replay.Duration),
		)
	case event.Error != nil:
		attrs = append(attrs,
			slog.String("error_layer", event.Error.Layer.String()),
			slog.String("error_msg", event.Error.Message),
			slog.String("error_context", event.Error.Context),
		)
		if event.Error.Class != "" {
			attrs = append(attrs, slog.String("error_class", event.Error.Class))
		}
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "mesh", attrs...)
}

// Compile-time interface satisfaction check.
var _ Logger = (*SlogAdapter)(nil)
