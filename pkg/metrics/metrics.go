// Package metrics exposes Prometheus collectors for the mesh runtime.
//
// A nil *Metrics is valid and records nothing, so meshes opened without
// metrics pay no cost.
package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mesh"

// Metrics contains the mesh runtime collectors.
type Metrics struct {
	// Mesh metrics
	MeshesOpen prometheus.Gauge
	UnitsInUse prometheus.Gauge
	Submeshes  prometheus.Counter
	Reshapes   *prometheus.CounterVec

	// Trace metrics
	TraceRecords       prometheus.Counter
	TraceBytesRecorded prometheus.Counter
	TraceSegments      prometheus.Histogram
	TraceUploads       prometheus.Counter
	TraceBufferBytes   *prometheus.GaugeVec

	// Dispatch metrics
	Replays        *prometheus.CounterVec
	ReplayDuration prometheus.Histogram

	Errors *prometheus.CounterVec
}

// New creates the collectors. They are not registered.
func New() *Metrics {
	return &Metrics{
		MeshesOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "device",
			Name:      "open",
			Help:      "Number of open meshes, including submeshes",
		}),
		UnitsInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "device",
			Name:      "units_in_use",
			Help:      "Number of physical units held by root meshes",
		}),
		Submeshes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "device",
			Name:      "submeshes_created_total",
			Help:      "Total number of submeshes created",
		}),
		Reshapes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "device",
			Name:      "reshapes_total",
			Help:      "Total number of reshape requests",
		}, []string{"result"}),

		TraceRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trace",
			Name:      "records_total",
			Help:      "Total number of record events folded into traces",
		}),
		TraceBytesRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trace",
			Name:      "recorded_bytes_total",
			Help:      "Total command bytes recorded into traces",
		}),
		TraceSegments: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "trace",
			Name:      "segments",
			Help:      "Number of segments of finalized traces",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 8),
		}),
		TraceUploads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trace",
			Name:      "uploads_total",
			Help:      "Total number of traces uploaded to the device",
		}),
		TraceBufferBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "trace",
			Name:      "buffer_bytes",
			Help:      "Padded size of the trace buffers resident on each mesh",
		}, []string{"mesh"}),

		Replays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "replays_total",
			Help:      "Total number of trace replays",
		}, []string{"mesh"}),
		ReplayDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "replay_duration_seconds",
			Help:      "Time to issue a trace replay, including the wait when blocking",
			Buckets:   prometheus.DefBuckets,
		}),

		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "errors",
			Name:      "total",
			Help:      "Total number of failed mesh operations",
		}, []string{"layer", "class"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.MeshesOpen, m.UnitsInUse, m.Submeshes, m.Reshapes,
		m.TraceRecords, m.TraceBytesRecorded, m.TraceSegments, m.TraceUploads, m.TraceBufferBytes,
		m.Replays, m.ReplayDuration,
		m.Errors,
	}
}

// Register registers every collector with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	var errs []error
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RecordMeshOpened counts an opened mesh. Root meshes also add their units.
func (m *Metrics) RecordMeshOpened(units int, root bool) {
	if m == nil {
		return
	}
	m.MeshesOpen.Inc()
	if root {
		m.UnitsInUse.Add(float64(units))
	} else {
		m.Submeshes.Inc()
	}
}

// RecordMeshClosed reverses RecordMeshOpened.
func (m *Metrics) RecordMeshClosed(meshID uint32, units int, root bool) {
	if m == nil {
		return
	}
	m.MeshesOpen.Dec()
	if root {
		m.UnitsInUse.Sub(float64(units))
	}
	m.TraceBufferBytes.DeleteLabelValues(meshLabel(meshID))
}

// RecordReshape counts a reshape request.
func (m *Metrics) RecordReshape(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "rejected"
	}
	m.Reshapes.WithLabelValues(result).Inc()
}

// RecordTraceEvent counts one record event of size bytes.
func (m *Metrics) RecordTraceEvent(size int) {
	if m == nil {
		return
	}
	m.TraceRecords.Inc()
	m.TraceBytesRecorded.Add(float64(size))
}

// RecordTraceUpload records a finalized trace reaching the device.
func (m *Metrics) RecordTraceUpload(meshID uint32, segments int, bufferBytes uint64) {
	if m == nil {
		return
	}
	m.TraceUploads.Inc()
	m.TraceSegments.Observe(float64(segments))
	m.TraceBufferBytes.WithLabelValues(meshLabel(meshID)).Set(float64(bufferBytes))
}

// RecordTraceBufferBytes sets the trace buffer accounting of a mesh.
func (m *Metrics) RecordTraceBufferBytes(meshID uint32, bufferBytes uint64) {
	if m == nil {
		return
	}
	m.TraceBufferBytes.WithLabelValues(meshLabel(meshID)).Set(float64(bufferBytes))
}

// RecordReplay records a replay and how long it took to issue.
func (m *Metrics) RecordReplay(meshID uint32, d time.Duration) {
	if m == nil {
		return
	}
	m.Replays.WithLabelValues(meshLabel(meshID)).Inc()
	m.ReplayDuration.Observe(d.Seconds())
}

// RecordError counts a failed operation.
func (m *Metrics) RecordError(layer, class string) {
	if m == nil {
		return
	}
	m.Errors.WithLabelValues(layer, class).Inc()
}

func meshLabel(id uint32) string {
	return strconv.FormatUint(uint64(id), 10)
}
