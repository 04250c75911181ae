package constants

import "time"

// Retention defaults for the dynamic configuration cleaner.
const (
	// RetentionDefaultName is used when a [[retention]] entry has no name.
	RetentionDefaultName = "dynamic config retention"

	// RetentionDefaultPrefix matches ZooKeeper's zoo.cfg.dynamic.<zxid> files.
	RetentionDefaultPrefix = "zoo.cfg"

	RetentionDefaultInterval = 15 * time.Second

	// RetentionDefaultMaxFiles is the number of live snapshots kept unarchived.
	RetentionDefaultMaxFiles = 5

	// RetentionDefaultMaxArchiveSizeMB caps the total size of dynamic.*.zip files.
	RetentionDefaultMaxArchiveSizeMB = 100
)

// SchedulerDefaultTick is the scheduler polling period.
const SchedulerDefaultTick = 5 * time.Second

// MetricsNamespace prefixes every exported Prometheus metric.
const MetricsNamespace = "autotask"

// Metrics endpoint defaults.
const (
	MetricsDefaultListen = "127.0.0.1:9464"
	MetricsDefaultPath   = "/metrics"
)
