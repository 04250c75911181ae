package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

var ErrInvalidInterval = errors.New("invalid interval")

// ParseInterval parses a positive interval given as a Go duration ("15s"),
// a bare number of seconds ("15") or an "@every" descriptor ("@every 1m").
func ParseInterval(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty value", ErrInvalidInterval)
	}

	var (
		d   time.Duration
		err error
	)
	switch {
	case strings.HasPrefix(s, "@"):
		d, err = parseDescriptor(s)
	case isDigits(s):
		var secs int64
		secs, err = strconv.ParseInt(s, 10, 64)
		d = time.Duration(secs) * time.Second
	default:
		d, err = time.ParseDuration(s)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %w", ErrInvalidInterval, s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%w: %q must be positive", ErrInvalidInterval, s)
	}
	return d, nil
}

// parseDescriptor accepts only fixed-delay descriptors; calendar schedules
// such as "@daily" have no constant period.
func parseDescriptor(s string) (time.Duration, error) {
	sched, err := cron.ParseStandard(s)
	if err != nil {
		return 0, err
	}
	every, ok := sched.(cron.ConstantDelaySchedule)
	if !ok {
		return 0, errors.New("only @every descriptors are supported")
	}
	return every.Delay, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Duration is a time.Duration that decodes from any ParseInterval form, or
// from a TOML integer meaning seconds.
type Duration time.Duration

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := ParseInterval(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// UnmarshalTOML implements toml.Unmarshaler.
func (d *Duration) UnmarshalTOML(data any) error {
	switch v := data.(type) {
	case string:
		return d.UnmarshalText([]byte(v))
	case int64:
		if v <= 0 {
			return fmt.Errorf("%w: %d must be positive", ErrInvalidInterval, v)
		}
		*d = Duration(time.Duration(v) * time.Second)
		return nil
	default:
		return fmt.Errorf("%w: unsupported value %v (%T)", ErrInvalidInterval, data, data)
	}
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("%w: line %d: expected a scalar", ErrInvalidInterval, node.Line)
	}
	return d.UnmarshalText([]byte(node.Value))
}
