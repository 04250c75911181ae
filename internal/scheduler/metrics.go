package scheduler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	statusOK    = "ok"
	statusDone  = "done"
	statusError = "error"
)

// Metrics holds the scheduler's Prometheus collectors.
type Metrics struct {
	ticks        prometheus.Counter
	tasks        prometheus.Gauge
	removed      prometheus.Counter
	runsTotal    *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec
}

// NewMetrics creates the scheduler collectors and registers them with reg.
// A nil reg leaves them unregistered, which keeps parallel tests independent.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ticks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scheduler_ticks_total",
				Help:      "Number of completed scheduler passes",
			},
		),
		tasks: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "scheduler_tasks",
				Help:      "Number of registered tasks",
			},
		),
		removed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_removed_total",
				Help:      "Number of tasks removed after signalling completion",
			},
		),
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "task_runs_total",
				Help:      "Number of task runs by outcome",
			},
			[]string{"task", "status"},
		),
		taskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "task_duration_seconds",
				Help:      "Duration of task runs",
				Buckets:   []float64{.001, .01, .1, .5, 1, 5, 10, 30, 60},
			},
			[]string{"task"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.ticks,
			m.tasks,
			m.removed,
			m.runsTotal,
			m.taskDuration,
		)
	}

	return m
}

func (m *Metrics) recordRun(name, status string, duration time.Duration) {
	m.runsTotal.WithLabelValues(name, status).Inc()
	m.taskDuration.WithLabelValues(name).Observe(duration.Seconds())
}
