package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry     *prometheus.Registry
	tasksTotal   *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec
	activeTasks  prometheus.Gauge
	bytesWarmed  prometheus.Counter
}

func newMetrics(registry *prometheus.Registry) *metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &metrics{
		registry: registry,
		tasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pagewize_worker_tasks_total",
			Help: "Total warm-up tasks by outcome.",
		}, []string{"outcome"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pagewize_worker_task_duration_seconds",
			Help:    "Duration of each warm-up task.",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
		activeTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pagewize_worker_active_tasks",
			Help: "Current number of warm-up tasks being derived.",
		}),
		bytesWarmed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pagewize_worker_artifact_bytes_total",
			Help: "Total artifact bytes produced or confirmed by warm-up tasks.",
		}),
	}

	registry.MustRegister(
		m.tasksTotal,
		m.taskDuration,
		m.activeTasks,
		m.bytesWarmed,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
