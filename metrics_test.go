package kiln

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRecording(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.workerSpawned("orders", "Create")
	m.workerSpawned("orders", "Create")
	m.workerDone("orders")
	m.taskFailed("orders")
	m.containerKilled("orders")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.WorkersSpawned.WithLabelValues("orders", "Create")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.WorkersActive.WithLabelValues("orders")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.TaskFailures.WithLabelValues("orders")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Kills.WithLabelValues("orders")))
}

func TestMetricsNilReceiverIsSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.workerSpawned("orders", "Create")
		m.workerDone("orders")
		m.taskFailed("orders")
		m.containerKilled("orders")
	})
}
