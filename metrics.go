package kiln

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics instruments containers with prometheus collectors. All helper
// methods are nil-receiver safe, so a nil *Metrics disables instrumentation
// with zero overhead.
type Metrics struct {
	// WorkersSpawned counts spawned workers by service and method.
	WorkersSpawned *prometheus.CounterVec

	// WorkersActive tracks currently executing workers per service.
	WorkersActive *prometheus.GaugeVec

	// TaskFailures counts unhandled managed-task failures per service. Each
	// failure also kills its container.
	TaskFailures *prometheus.CounterVec

	// Kills counts forced container terminations per service.
	Kills *prometheus.CounterVec
}

// NewMetrics creates and registers the runtime's collectors. A nil registerer
// falls back to prometheus.DefaultRegisterer. One Metrics value may be shared
// by every container in a process.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		WorkersSpawned: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kiln_workers_spawned_total",
				Help: "Workers spawned, by service and method",
			},
			[]string{"service", "method"},
		),
		WorkersActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "kiln_workers_active",
				Help: "Currently executing workers per service",
			},
			[]string{"service"},
		),
		TaskFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kiln_task_failures_total",
				Help: "Unhandled managed-task failures per service",
			},
			[]string{"service"},
		),
		Kills: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kiln_container_kills_total",
				Help: "Forced container terminations per service",
			},
			[]string{"service"},
		),
	}

	registerer.MustRegister(m.WorkersSpawned, m.WorkersActive, m.TaskFailures, m.Kills)

	return m
}

func (m *Metrics) workerSpawned(service, method string) {
	if m == nil {
		return
	}

	m.WorkersSpawned.WithLabelValues(service, method).Inc()
	m.WorkersActive.WithLabelValues(service).Inc()
}

func (m *Metrics) workerDone(service string) {
	if m == nil {
		return
	}

	m.WorkersActive.WithLabelValues(service).Dec()
}

func (m *Metrics) taskFailed(service string) {
	if m == nil {
		return
	}

	m.TaskFailures.WithLabelValues(service).Inc()
}

func (m *Metrics) containerKilled(service string) {
	if m == nil {
		return
	}

	m.Kills.WithLabelValues(service).Inc()
}
