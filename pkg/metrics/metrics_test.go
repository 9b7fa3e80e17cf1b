package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gather keys every sample by metric name followed by its labels as
// name=value pairs, in the order the registry reports them.
func gather(t *testing.T, reg *prometheus.Registry) map[string]float64 {
	t.Helper()
	mfs, err := reg.Gather()
	require.NoError(t, err)

	out := make(map[string]float64)
	for _, mf := range mfs {
		for _, m := range mf.GetMetric() {
			name := mf.GetName()
			for _, lp := range m.GetLabel() {
				name += "/" + lp.GetName() + "=" + lp.GetValue()
			}
			switch {
			case m.GetCounter() != nil:
				out[name] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				out[name] = m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				out[name] = float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return out
}

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New()
	require.NoError(t, m.Register(reg))

	m.RecordMeshOpened(4, true)
	m.RecordMeshOpened(2, false)
	m.RecordReshape(true)
	m.RecordReshape(false)
	m.RecordTraceEvent(10)
	m.RecordTraceEvent(6)
	m.RecordTraceUpload(0, 3, 4096)
	m.RecordReplay(0, time.Millisecond)
	m.RecordError("trace", "capacity")

	got := gather(t, reg)
	assert.Equal(t, 2.0, got["mesh_device_open"])
	assert.Equal(t, 4.0, got["mesh_device_units_in_use"])
	assert.Equal(t, 1.0, got["mesh_device_submeshes_created_total"])
	assert.Equal(t, 1.0, got["mesh_device_reshapes_total/result=ok"])
	assert.Equal(t, 1.0, got["mesh_device_reshapes_total/result=rejected"])
	assert.Equal(t, 2.0, got["mesh_trace_records_total"])
	assert.Equal(t, 16.0, got["mesh_trace_recorded_bytes_total"])
	assert.Equal(t, 1.0, got["mesh_trace_segments"])
	assert.Equal(t, 4096.0, got["mesh_trace_buffer_bytes/mesh=0"])
	assert.Equal(t, 1.0, got["mesh_dispatch_replays_total/mesh=0"])
	assert.Equal(t, 1.0, got["mesh_errors_total/class=capacity/layer=trace"])

	m.RecordMeshClosed(0, 4, true)
	got = gather(t, reg)
	assert.Equal(t, 1.0, got["mesh_device_open"])
	assert.Equal(t, 0.0, got["mesh_device_units_in_use"])
	_, ok := got["mesh_trace_buffer_bytes/mesh=0"]
	assert.False(t, ok, "closed mesh keeps no trace buffer series")
}

func TestMetricsDoubleRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New()
	require.NoError(t, m.Register(reg))
	assert.Error(t, m.Register(reg))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordMeshOpened(1, true)
		m.RecordMeshClosed(0, 1, true)
		m.RecordReshape(true)
		m.RecordTraceEvent(1)
		m.RecordTraceUpload(0, 1, 1)
		m.RecordTraceBufferBytes(0, 1)
		m.RecordReplay(0, time.Second)
		m.RecordError("mesh", "invariant")
	})
}
