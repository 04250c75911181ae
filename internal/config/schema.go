// Package config provides configuration loading and validation for autotask.
// It supports TOML and YAML configuration files with environment variable
// expansion, default values, and validation.
//
// Configuration structure:
//   - [logging]: Logging level, format, and output
//   - [scheduler]: Tick period, optional run duration and pid file
//   - [metrics]: Prometheus endpoint
//   - [[retention]]: One entry per managed snapshot directory
//
// Environment variables:
// String values can reference environment variables using ${VAR} or
// ${VAR:default} syntax. For example: path = "${ZK_DATA_DIR:/var/lib/zookeeper}"
package config

// Config represents the main application configuration.
type Config struct {
	Logging   LoggingConfig     `toml:"logging" yaml:"logging"`
	Scheduler SchedulerConfig   `toml:"scheduler" yaml:"scheduler"`
	Metrics   MetricsConfig     `toml:"metrics" yaml:"metrics"`
	Retention []RetentionConfig `toml:"retention" yaml:"retention"`
}

// LoggingConfig представляет конфигурацию логирования
type LoggingConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
	Output string `toml:"output" yaml:"output"`
}

// SchedulerConfig представляет конфигурацию планировщика
type SchedulerConfig struct {
	Tick Duration `toml:"tick" yaml:"tick"`
	// RunFor stops the process after the given time. Zero runs until a signal.
	RunFor  Duration `toml:"run_for" yaml:"run_for"`
	PIDFile string   `toml:"pid_file" yaml:"pid_file"`
}

// MetricsConfig представляет конфигурацию Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Listen  string `toml:"listen" yaml:"listen"`
	Path    string `toml:"path" yaml:"path"`
}

// RetentionConfig describes one directory of dynamic config snapshots.
type RetentionConfig struct {
	Name string `toml:"name" yaml:"name"`
	Path string `toml:"path" yaml:"path"`
	// Prefix of snapshot names. nil selects the default, "" matches any prefix.
	Prefix           *string  `toml:"prefix" yaml:"prefix"`
	Interval         Duration `toml:"interval" yaml:"interval"`
	MaxFileCount     int      `toml:"max_file_count" yaml:"max_file_count"`
	MaxArchiveSizeMB int64    `toml:"max_archive_size_mb" yaml:"max_archive_size_mb"` // 0 selects the default
	RunOnStart       bool     `toml:"run_on_start" yaml:"run_on_start"`
}

// SnapshotPrefix returns the effective snapshot name prefix.
func (r *RetentionConfig) SnapshotPrefix() string {
	if r.Prefix == nil {
		return ""
	}
	return *r.Prefix
}
