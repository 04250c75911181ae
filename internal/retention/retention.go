// Package retention rotates and prunes a directory of dynamically generated
// configuration snapshots.
//
// Two families of files are managed, both ordered by the hex serial embedded
// in their names (larger is newer):
//
//   - snapshots, <prefix>.dynamic.<hex>, written by an external generator;
//   - archives, dynamic.<hex>.zip, written by this package.
//
// Each pass keeps the newest MaxFileCount snapshots and moves the older ones
// into a single new archive named after the oldest of them. It then deletes
// archives, oldest first, until their combined size is within
// MaxArchiveSizeMB. The directory is assumed to have no other writer than
// the generator and this package.
package retention

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aatumaykin/autotask/internal/constants"
	"github.com/aatumaykin/autotask/internal/logger"
	"github.com/aatumaykin/autotask/internal/task"
	"github.com/dustin/go-humanize"
)

const mib = 1024 * 1024

var (
	ErrInvalidDirectory = errors.New("retention: invalid directory")
	ErrInvalidLimits    = errors.New("retention: invalid limits")
)

// Config holds the settings of one managed directory.
type Config struct {
	Name             string
	Dir              string
	Prefix           string
	Interval         time.Duration
	MaxFileCount     int
	MaxArchiveSizeMB int64
	RunOnStart       bool
}

// Stats describes one pass.
type Stats struct {
	Snapshots    int    // snapshot files found by the scan
	Archives     int    // archive files present before pruning, including a new one
	Archived     int    // snapshot files moved into the new archive
	ArchiveName  string // name of the archive created by this pass, if any
	Pruned       int    // archive files deleted
	BytesFreed   int64  // size of the deleted archives
	ArchiveBytes int64  // total archive size after pruning
	Duration     time.Duration
}

// Option configures a Cleaner.
type Option func(*Cleaner)

func WithLogger(l *logger.Logger) Option {
	return func(c *Cleaner) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(c *Cleaner) {
		if m != nil {
			c.metrics = m
		}
	}
}

// Cleaner enforces the count and size limits on one directory.
type Cleaner struct {
	name             string
	dir              string
	maxFileCount     int
	maxArchiveSizeMB int64
	matcher          *Matcher
	baseLogger       *logger.Logger
	logger           *logger.Logger
	metrics          *Metrics

	mu      sync.Mutex
	stats   Stats
	lastRun time.Time
}

// NewCleaner validates cfg and returns a cleaner for cfg.Dir. The directory
// must already exist.
func NewCleaner(cfg Config, opts ...Option) (*Cleaner, error) {
	if cfg.Name == "" {
		cfg.Name = constants.RetentionDefaultName
	}
	if err := checkDir(cfg.Dir); err != nil {
		return nil, err
	}
	if cfg.MaxFileCount < 1 {
		return nil, fmt.Errorf("%w: max file count must be at least 1, got %d", ErrInvalidLimits, cfg.MaxFileCount)
	}
	if cfg.MaxArchiveSizeMB < 0 {
		return nil, fmt.Errorf("%w: max archive size must not be negative, got %d", ErrInvalidLimits, cfg.MaxArchiveSizeMB)
	}

	matcher, err := NewMatcher(cfg.Prefix)
	if err != nil {
		return nil, err
	}

	c := &Cleaner{
		name:             cfg.Name,
		dir:              cfg.Dir,
		maxFileCount:     cfg.MaxFileCount,
		maxArchiveSizeMB: cfg.MaxArchiveSizeMB,
		matcher:          matcher,
		logger:           logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = NewMetrics(constants.MetricsNamespace, nil)
	}
	c.baseLogger = c.logger
	c.logger = c.logger.With(
		logger.Field{Key: "task", Value: c.name},
		logger.Field{Key: "dir", Value: c.dir})

	return c, nil
}

// NewTask wraps a new cleaner for cfg into a periodic task.
func NewTask(cfg Config, opts ...Option) (*task.Periodic, error) {
	c, err := NewCleaner(cfg, opts...)
	if err != nil {
		return nil, err
	}

	taskOpts := []task.Option{task.WithLogger(c.baseLogger)}
	if cfg.RunOnStart {
		taskOpts = append(taskOpts, task.WithRunOnStart())
	}
	return task.New(c.name, cfg.Interval, c, taskOpts...)
}

func checkDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("%w: path is empty", ErrInvalidDirectory)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDirectory, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrInvalidDirectory, dir)
	}
	return nil
}

func (c *Cleaner) Name() string {
	return c.name
}

// Init checks that the directory still exists.
func (c *Cleaner) Init() error {
	return checkDir(c.dir)
}

// Execute performs one pass. It never asks for removal.
func (c *Cleaner) Execute(ctx context.Context) (bool, error) {
	_, err := c.Run(ctx)
	return false, err
}

// Stats returns the statistics of the last successful pass.
func (c *Cleaner) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// LastRun returns when the last successful pass finished.
func (c *Cleaner) LastRun() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRun
}

// Run scans the directory, archives excess snapshots and prunes archives.
// The first filesystem error aborts the pass and is returned. A pass is not
// interrupted by ctx once started.
func (c *Cleaner) Run(_ context.Context) (Stats, error) {
	start := time.Now()

	inv, err := c.scan()
	if err != nil {
		return Stats{}, fmt.Errorf("scan %s: %w", c.dir, err)
	}
	stats := Stats{Snapshots: len(inv.snapshots)}

	c.logger.Debug("retention scan",
		logger.Field{Key: "snapshots", Value: len(inv.snapshots)},
		logger.Field{Key: "archives", Value: len(inv.archives)},
		logger.Field{Key: "archive_size", Value: humanize.IBytes(uint64(inv.archiveBytes))})

	if err := c.archive(&inv, &stats); err != nil {
		return stats, err
	}
	stats.Archives = len(inv.archives)

	if err := c.prune(&inv, &stats); err != nil {
		return stats, err
	}
	stats.ArchiveBytes = inv.archiveBytes
	stats.Duration = time.Since(start)

	c.mu.Lock()
	c.stats = stats
	c.lastRun = time.Now()
	c.mu.Unlock()

	c.metrics.record(c.name, stats)
	return stats, nil
}

type inventory struct {
	snapshots    []Entry
	archives     []Entry
	archiveBytes int64
}

func (c *Cleaner) scan() (inventory, error) {
	var inv inventory

	dirEntries, err := os.ReadDir(c.dir)
	if err != nil {
		return inv, err
	}

	for _, de := range dirEntries {
		name := de.Name()
		kind, serial := c.matcher.Classify(name)
		if kind == KindIgnored {
			continue
		}

		key, err := ParseSerial(serial)
		if err != nil {
			c.logger.Warn("skipping file with unparsable serial",
				logger.Field{Key: "file", Value: name},
				logger.Field{Key: "reason", Value: err.Error()})
			continue
		}

		info, err := os.Stat(filepath.Join(c.dir, name))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return inv, err
		}
		if !info.Mode().IsRegular() {
			continue
		}

		e := Entry{Name: name, Serial: serial, Key: key, Size: info.Size()}
		switch kind {
		case KindSnapshot:
			inv.snapshots = append(inv.snapshots, e)
		case KindArchive:
			inv.archives = append(inv.archives, e)
			inv.archiveBytes += e.Size
		}
	}

	return inv, nil
}

// archive moves every snapshot except the newest maxFileCount into a new
// archive. Snapshots are deleted only once the archive is committed.
func (c *Cleaner) archive(inv *inventory, stats *Stats) error {
	if len(inv.snapshots) <= c.maxFileCount {
		return nil
	}

	sortByKey(inv.snapshots)
	excess := inv.snapshots[:len(inv.snapshots)-c.maxFileCount]
	oldest := excess[0]
	name := ArchiveName(oldest.Serial)

	size, err := writeArchive(c.dir, name, excess)
	if err != nil {
		return err
	}

	for _, s := range excess {
		if err := os.Remove(filepath.Join(c.dir, s.Name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove archived snapshot %s: %w", s.Name, err)
		}
	}

	// A same-named archive was replaced by the rename.
	for i, a := range inv.archives {
		if a.Name == name {
			inv.archiveBytes -= a.Size
			inv.archives = append(inv.archives[:i], inv.archives[i+1:]...)
			break
		}
	}
	inv.archives = append(inv.archives, Entry{Name: name, Serial: oldest.Serial, Key: oldest.Key, Size: size})
	inv.archiveBytes += size
	inv.snapshots = inv.snapshots[len(excess):]

	stats.Archived = len(excess)
	stats.ArchiveName = name

	c.logger.Info("snapshots archived",
		logger.Field{Key: "archive", Value: name},
		logger.Field{Key: "files", Value: len(excess)},
		logger.Field{Key: "size", Value: humanize.IBytes(uint64(size))},
		logger.Field{Key: "kept", Value: len(inv.snapshots)})
	return nil
}

// prune deletes archives oldest first until the total size, in whole
// mebibytes, is within maxArchiveSizeMB. The remaining size is recomputed
// after every deletion, so it never removes more than it must.
func (c *Cleaner) prune(inv *inventory, stats *Stats) error {
	if c.withinSizeLimit(inv.archiveBytes) {
		return nil
	}

	sortByKey(inv.archives)
	removed := 0
	for _, a := range inv.archives {
		if c.withinSizeLimit(inv.archiveBytes) {
			break
		}
		if err := os.Remove(filepath.Join(c.dir, a.Name)); err != nil && !os.IsNotExist(err) {
			inv.archives = inv.archives[removed:]
			return fmt.Errorf("remove archive %s: %w", a.Name, err)
		}
		inv.archiveBytes -= a.Size
		stats.BytesFreed += a.Size
		removed++
	}
	inv.archives = inv.archives[removed:]
	stats.Pruned = removed

	c.logger.Info("archives pruned",
		logger.Field{Key: "files", Value: removed},
		logger.Field{Key: "freed", Value: humanize.IBytes(uint64(stats.BytesFreed))},
		logger.Field{Key: "remaining", Value: humanize.IBytes(uint64(inv.archiveBytes))},
		logger.Field{Key: "limit_mb", Value: c.maxArchiveSizeMB})
	return nil
}

func (c *Cleaner) withinSizeLimit(total int64) bool {
	return total/mib <= c.maxArchiveSizeMB
}
