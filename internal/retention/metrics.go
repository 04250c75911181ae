package retention

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds retention collectors, labelled by task name so one set can
// be shared by every cleaner in the process.
type Metrics struct {
	snapshots      *prometheus.GaugeVec
	archiveBytes   *prometheus.GaugeVec
	filesArchived  *prometheus.CounterVec
	archivesPruned *prometheus.CounterVec
}

// NewMetrics creates the retention collectors and registers them with reg
// when it is not nil.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		snapshots: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "retention_snapshots",
				Help:      "Unarchived snapshot files left after the last pass",
			},
			[]string{"task"},
		),
		archiveBytes: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "retention_archive_bytes",
				Help:      "Total size of archive files left after the last pass",
			},
			[]string{"task"},
		),
		filesArchived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retention_files_archived_total",
				Help:      "Snapshot files moved into archives",
			},
			[]string{"task"},
		),
		archivesPruned: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retention_archives_pruned_total",
				Help:      "Archive files deleted to honour the size limit",
			},
			[]string{"task"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.snapshots,
			m.archiveBytes,
			m.filesArchived,
			m.archivesPruned,
		)
	}

	return m
}

func (m *Metrics) record(task string, stats Stats) {
	m.snapshots.WithLabelValues(task).Set(float64(stats.Snapshots - stats.Archived))
	m.archiveBytes.WithLabelValues(task).Set(float64(stats.ArchiveBytes))
	m.filesArchived.WithLabelValues(task).Add(float64(stats.Archived))
	m.archivesPruned.WithLabelValues(task).Add(float64(stats.Pruned))
}
