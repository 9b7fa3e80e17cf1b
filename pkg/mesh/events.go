package mesh

import (
	"strings"
	"time"

	"github.com/mesh-runtime/mesh-go/pkg/fault"
	"github.com/mesh-runtime/mesh-go/pkg/log"
	"github.com/mesh-runtime/mesh-go/pkg/trace"
)

func (m *MeshDevice) emit(event log.Event) {
	event.MeshID = m.id
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	m.opts.capture.Log(event)
}

func (m *MeshDevice) emitMesh(ev log.MeshEvent) {
	m.emit(log.Event{Layer: log.LayerMesh, Category: log.CategoryLifecycle, Mesh: &ev})
}

func (m *MeshDevice) emitTrace(id trace.ID, category log.Category, ev log.TraceEvent) {
	tid := uint32(id)
	m.emit(log.Event{Layer: log.LayerTrace, Category: category, TraceID: &tid, Trace: &ev})
}

func (m *MeshDevice) emitReplay(id trace.ID, ev log.ReplayEvent) {
	tid := uint32(id)
	m.emit(log.Event{Layer: log.LayerDispatch, Category: log.CategoryReplay, TraceID: &tid, Replay: &ev})
}

// fail records err in the capture log and metrics and returns it.
func (m *MeshDevice) fail(layer log.Layer, context string, err error) error {
	if err == nil {
		return nil
	}
	class := ""
	if c, ok := fault.ClassOf(err); ok {
		class = c.String()
	}
	m.emit(log.Event{
		Layer:    layer,
		Category: log.CategoryError,
		Error: &log.ErrorEventData{
			Layer:   layer,
			Message: err.Error(),
			Class:   class,
			Context: context,
		},
	})
	m.opts.metrics.RecordError(strings.ToLower(layer.String()), class)
	return err
}
