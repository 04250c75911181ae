package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/aatumaykin/autotask/internal/constants"
	"gopkg.in/yaml.v3"
)

// Load загружает конфигурацию из TOML или YAML файла.
// Формат определяется по расширению: .yaml/.yml - YAML, иначе TOML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	default:
		md, err := toml.Decode(string(data), &cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("failed to parse config file: unknown keys %v", undecoded)
		}
	}

	applyDefaults(&cfg)

	if err := expandEnvVars(&cfg); err != nil {
		return nil, fmt.Errorf("failed to expand environment variables: %w", err)
	}

	return &cfg, nil
}

// Default returns a configuration with every default applied and no
// retention entries.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

// NewRetention returns a retention entry for path with default limits.
func NewRetention(path string) RetentionConfig {
	r := RetentionConfig{Path: path}
	applyRetentionDefaults(&r, 0, 1)
	return r
}

// Validate проверяет валидность конфигурации и возвращает все найденные ошибки
func (c *Config) Validate() []error {
	var errors []error

	// Проверка logging config
	if c.Logging.Level == "" {
		errors = append(errors, fmt.Errorf("logging.level is required"))
	} else {
		validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
		if !validLevels[strings.ToLower(c.Logging.Level)] {
			errors = append(errors, fmt.Errorf("invalid logging.level: %s (expected: debug, info, warn, error)", c.Logging.Level))
		}
	}

	if c.Logging.Format == "" {
		errors = append(errors, fmt.Errorf("logging.format is required"))
	} else {
		validFormats := map[string]bool{"json": true, "text": true}
		if !validFormats[strings.ToLower(c.Logging.Format)] {
			errors = append(errors, fmt.Errorf("invalid logging.format: %s (expected: json, text)", c.Logging.Format))
		}
	}

	if c.Logging.Output == "" {
		errors = append(errors, fmt.Errorf("logging.output is required"))
	}

	// Проверка scheduler
	if c.Scheduler.Tick <= 0 {
		errors = append(errors, fmt.Errorf("scheduler.tick must be positive"))
	}
	if c.Scheduler.RunFor < 0 {
		errors = append(errors, fmt.Errorf("scheduler.run_for must not be negative"))
	}

	// Проверка metrics
	if c.Metrics.Enabled {
		if c.Metrics.Listen == "" {
			errors = append(errors, fmt.Errorf("metrics.listen is required when metrics are enabled"))
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			errors = append(errors, fmt.Errorf("metrics.path must start with '/' (got %q)", c.Metrics.Path))
		}
	}

	// Проверка retention
	if len(c.Retention) == 0 {
		errors = append(errors, fmt.Errorf("at least one [[retention]] entry is required"))
	}
	names := make(map[string]int, len(c.Retention))
	for i, r := range c.Retention {
		field := fmt.Sprintf("retention[%d]", i)

		if r.Path == "" {
			errors = append(errors, fmt.Errorf("%s.path is required", field))
		}
		if r.Interval <= 0 {
			errors = append(errors, fmt.Errorf("%s.interval must be positive", field))
		}
		if r.MaxFileCount < 1 {
			errors = append(errors, fmt.Errorf("%s.max_file_count must be >= 1 (got %d)", field, r.MaxFileCount))
		}
		if r.MaxArchiveSizeMB < 0 {
			errors = append(errors, fmt.Errorf("%s.max_archive_size_mb must be >= 0 (got %d)", field, r.MaxArchiveSizeMB))
		}
		if prev, ok := names[r.Name]; ok {
			errors = append(errors, fmt.Errorf("%s.name %q duplicates retention[%d]", field, r.Name, prev))
		} else {
			names[r.Name] = i
		}
	}

	return errors
}

// applyDefaults применяет значения по умолчанию
func applyDefaults(c *Config) {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}

	if c.Scheduler.Tick == 0 {
		c.Scheduler.Tick = Duration(constants.SchedulerDefaultTick)
	}

	if c.Metrics.Listen == "" {
		c.Metrics.Listen = constants.MetricsDefaultListen
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = constants.MetricsDefaultPath
	}

	for i := range c.Retention {
		applyRetentionDefaults(&c.Retention[i], i, len(c.Retention))
	}
}

func applyRetentionDefaults(r *RetentionConfig, index, total int) {
	if r.Name == "" {
		r.Name = constants.RetentionDefaultName
		if total > 1 {
			r.Name = fmt.Sprintf("%s #%d", constants.RetentionDefaultName, index+1)
		}
	}
	if r.Prefix == nil {
		prefix := constants.RetentionDefaultPrefix
		r.Prefix = &prefix
	}
	if r.Interval == 0 {
		r.Interval = Duration(constants.RetentionDefaultInterval)
	}
	if r.MaxFileCount == 0 {
		r.MaxFileCount = constants.RetentionDefaultMaxFiles
	}
	if r.MaxArchiveSizeMB == 0 {
		r.MaxArchiveSizeMB = constants.RetentionDefaultMaxArchiveSizeMB
	}
}

// expandEnvVars расширяет переменные окружения в конфигурации
func expandEnvVars(c *Config) error {
	c.Logging.Output = expandHome(expandEnv(c.Logging.Output))
	c.Scheduler.PIDFile = expandHome(expandEnv(c.Scheduler.PIDFile))
	c.Metrics.Listen = expandEnv(c.Metrics.Listen)

	for i := range c.Retention {
		r := &c.Retention[i]
		r.Name = expandEnv(r.Name)
		r.Path = expandHome(expandEnv(r.Path))
		if r.Prefix != nil {
			prefix := expandEnv(*r.Prefix)
			r.Prefix = &prefix
		}
		if strings.HasPrefix(r.Path, "${") {
			return fmt.Errorf("retention[%d].path: unterminated variable reference %q", i, r.Path)
		}
	}

	return nil
}

// expandEnv расширяет переменную окружения формата ${VAR:default}
func expandEnv(s string) string {
	if !strings.HasPrefix(s, "${") {
		return s
	}

	end := strings.Index(s, "}")
	if end == -1 {
		return s
	}

	content := s[2:end]
	rest := s[end+1:]
	if parts := strings.SplitN(content, ":", 2); len(parts) == 2 {
		if val := os.Getenv(parts[0]); val != "" {
			return val + rest
		}
		return parts[1] + rest
	}

	// Без значения по умолчанию
	return os.Getenv(content) + rest
}

// expandHome расширяет ~ в пути
func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
