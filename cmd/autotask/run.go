package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aatumaykin/autotask/internal/config"
	"github.com/aatumaykin/autotask/internal/constants"
	"github.com/aatumaykin/autotask/internal/logger"
	"github.com/aatumaykin/autotask/internal/pidfile"
	"github.com/aatumaykin/autotask/internal/retention"
	"github.com/aatumaykin/autotask/internal/scheduler"
	"github.com/aatumaykin/autotask/internal/task"
	"github.com/aatumaykin/autotask/internal/version"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

// runFlags holds command line overrides shared by run and rotate.
type runFlags struct {
	configPath string
	path       string
	interval   int
	tick       time.Duration
	duration   time.Duration
	maxFiles   int
	maxSizeMB  int64
	prefix     string
	runOnStart bool
	debug      bool
}

var runOpts runFlags

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the scheduler",
	Long: `Start the scheduler with one retention task per configured directory.
The process runs until SIGINT/SIGTERM or until --duration elapses.

With -p the configuration file is optional and a single retention task is
built from the flags.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(&runOpts, cmd.Flags().Changed)
		if err != nil {
			return err
		}

		log, err := newLogger(cfg)
		if err != nil {
			return err
		}
		logger.SetDefault(log)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return run(ctx, cfg, log)
	},
}

func init() {
	addRetentionFlags(runCmd, &runOpts)
	runCmd.Flags().DurationVar(&runOpts.tick, "tick", 0, "Scheduler tick (overrides config, default 5s)")
	runCmd.Flags().DurationVar(&runOpts.duration, "duration", 0, "Stop after this long, 0 runs until a signal (overrides config)")
	runCmd.Flags().BoolVar(&runOpts.runOnStart, "run-on-start", false, "Run retention on the first tick instead of one interval later")
}

func addRetentionFlags(cmd *cobra.Command, f *runFlags) {
	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "Path to configuration file (default: "+constants.DefaultConfigPath+")")
	cmd.Flags().StringVarP(&f.path, "path", "p", "", "Snapshot directory (replaces configured retention entries)")
	cmd.Flags().IntVarP(&f.interval, "interval", "i", 0, "Retention interval in seconds")
	cmd.Flags().IntVar(&f.maxFiles, "max-files", 0, "Snapshots kept unarchived")
	cmd.Flags().Int64Var(&f.maxSizeMB, "max-size-mb", 0, "Archive size limit in MiB")
	cmd.Flags().StringVar(&f.prefix, "prefix", "", "Snapshot name prefix, empty matches any")
	cmd.Flags().BoolVarP(&f.debug, "debug", "d", false, "Enable debug logging")
}

// loadConfig builds the effective configuration from the config file, the
// optional .env file and the flags reported by changed.
func loadConfig(f *runFlags, changed func(string) bool) (*config.Config, error) {
	if err := config.LoadEnvOptional(constants.DefaultEnvPath); err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", constants.DefaultEnvPath, err)
	}

	var cfg *config.Config
	switch {
	case f.configPath != "":
		loaded, err := config.Load(f.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	case f.path != "":
		cfg = config.Default()
	default:
		loaded, err := config.Load(constants.DefaultConfigPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if f.path != "" {
		cfg.Retention = []config.RetentionConfig{config.NewRetention(f.path)}
	}
	for i := range cfg.Retention {
		r := &cfg.Retention[i]
		if changed("interval") {
			r.Interval = config.Duration(time.Duration(f.interval) * time.Second)
		}
		if changed("max-files") {
			r.MaxFileCount = f.maxFiles
		}
		if changed("max-size-mb") {
			r.MaxArchiveSizeMB = f.maxSizeMB
		}
		if changed("prefix") {
			prefix := f.prefix
			r.Prefix = &prefix
		}
		if changed("run-on-start") {
			r.RunOnStart = f.runOnStart
		}
	}
	if changed("tick") {
		cfg.Scheduler.Tick = config.Duration(f.tick)
	}
	if changed("duration") {
		cfg.Scheduler.RunFor = config.Duration(f.duration)
	}
	if f.debug {
		cfg.Logging.Level = "debug"
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		var result *multierror.Error
		for _, e := range errs {
			result = multierror.Append(result, e)
		}
		return nil, fmt.Errorf("configuration validation failed: %w", result)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return log, nil
}

func retentionConfig(r config.RetentionConfig) retention.Config {
	return retention.Config{
		Name:             r.Name,
		Dir:              r.Path,
		Prefix:           r.SnapshotPrefix(),
		Interval:         r.Interval.Std(),
		MaxFileCount:     r.MaxFileCount,
		MaxArchiveSizeMB: r.MaxArchiveSizeMB,
		RunOnStart:       r.RunOnStart,
	}
}

// buildTasks creates one retention task per entry. Every invalid entry is
// reported.
func buildTasks(cfg *config.Config, log *logger.Logger, metrics *retention.Metrics) ([]task.Task, error) {
	var (
		tasks []task.Task
		errs  *multierror.Error
	)
	for _, r := range cfg.Retention {
		t, err := retention.NewTask(retentionConfig(r),
			retention.WithLogger(log),
			retention.WithMetrics(metrics))
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("retention %q: %w", r.Name, err))
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks, errs.ErrorOrNil()
}

func pidFilePath(path string) string {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return filepath.Join(path, constants.PIDFileName)
	}
	return path
}

// run owns the process lifetime: it starts the scheduler, waits for ctx or
// scheduler.run_for, then stops everything it started.
func run(ctx context.Context, cfg *config.Config, log *logger.Logger) (err error) {
	log.InfoCtx(ctx, "Starting autotask",
		logger.Field{Key: "version", Value: version.Version},
		logger.Field{Key: "git_commit", Value: version.GitCommit},
		logger.Field{Key: "tick", Value: cfg.Scheduler.Tick.String()},
		logger.Field{Key: "retention_tasks", Value: len(cfg.Retention)})

	if cfg.Scheduler.PIDFile != "" {
		pf, perr := pidfile.Acquire(pidFilePath(cfg.Scheduler.PIDFile))
		if perr != nil {
			return perr
		}
		defer func() {
			if rerr := pf.Release(); rerr != nil {
				err = multierror.Append(err, rerr).ErrorOrNil()
			}
		}()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	tasks, err := buildTasks(cfg, log, retention.NewMetrics(constants.MetricsNamespace, reg))
	if err != nil {
		log.ErrorCtx(ctx, "Invalid retention configuration", err)
		return err
	}

	sched := scheduler.New(scheduler.Options{
		Tick:       cfg.Scheduler.Tick.Std(),
		Logger:     log,
		Registerer: reg,
	})
	if err := sched.AddTasks(tasks...); err != nil {
		log.ErrorCtx(ctx, "Failed to register tasks", err)
		return err
	}

	var srv *http.Server
	if cfg.Metrics.Enabled {
		srv, err = startMetricsServer(cfg.Metrics, reg, log)
		if err != nil {
			return err
		}
	}

	if err := sched.Start(ctx); err != nil {
		return err
	}

	var timeout <-chan time.Time
	if d := cfg.Scheduler.RunFor.Std(); d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-ctx.Done():
		log.Info("Received shutdown signal")
	case <-timeout:
		log.Info("Run duration elapsed", logger.Field{Key: "run_for", Value: cfg.Scheduler.RunFor.String()})
	case <-sched.Done():
	}

	sched.Stop()

	var errs *multierror.Error
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("metrics server shutdown: %w", err))
		}
	}

	log.Info("autotask stopped")
	return errs.ErrorOrNil()
}

func startMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry, log *logger.Logger) (*http.Server, error) {
	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return nil, fmt.Errorf("metrics listen on %s: %w", cfg.Listen, err)
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ErrorLog:          slog.NewLogLogger(log.StdLogger().Handler(), slog.LevelError),
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", err)
		}
	}()

	log.Info("Serving metrics",
		logger.Field{Key: "addr", Value: ln.Addr().String()},
		logger.Field{Key: "path", Value: cfg.Path})
	return srv, nil
}
