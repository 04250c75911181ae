// Package scheduler runs registered tasks from a single background goroutine.
//
// Every tick the scheduler walks its tasks in registration order. An expired
// task is run, and every task, run or not, has its countdown advanced by one
// tick. Tasks that report done are removed after the pass completes. Tasks
// never run in parallel with each other; a slow task delays the whole pass.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/aatumaykin/autotask/internal/constants"
	"github.com/aatumaykin/autotask/internal/logger"
	"github.com/aatumaykin/autotask/internal/task"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultTick is used when Options.Tick is not set.
const DefaultTick = constants.SchedulerDefaultTick

var (
	ErrAlreadyStarted = errors.New("scheduler: already started")
	ErrNilTask        = errors.New("scheduler: task is nil")
	ErrInitFailed     = errors.New("scheduler: task init failed")
)

// Options configures a Scheduler.
type Options struct {
	Tick       time.Duration
	Logger     *logger.Logger
	Registerer prometheus.Registerer
	Namespace  string
}

type entry struct {
	id   uuid.UUID
	task task.Task
}

// Scheduler owns an ordered collection of tasks and the goroutine that
// drives them.
//
// mu guards the collection. AddTask may be called at any time; the loop only
// holds mu while copying the collection at the start of a pass and while
// applying removals at its end, so tasks execute without the lock held. A
// task added during a pass is first considered on the next pass.
type Scheduler struct {
	tick    time.Duration
	logger  *logger.Logger
	metrics *Metrics

	mu      sync.Mutex
	entries []entry
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a scheduler. It does not start it.
func New(opts Options) *Scheduler {
	if opts.Tick <= 0 {
		opts.Tick = DefaultTick
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.Namespace == "" {
		opts.Namespace = constants.MetricsNamespace
	}

	return &Scheduler{
		tick:    opts.Tick,
		logger:  opts.Logger.With(logger.Field{Key: "component", Value: "scheduler"}),
		metrics: NewMetrics(opts.Namespace, opts.Registerer),
	}
}

// Tick returns the polling period.
func (s *Scheduler) Tick() time.Duration {
	return s.tick
}

// AddTask initializes t and appends it to the collection. A task whose Init
// fails is not registered.
func (s *Scheduler) AddTask(t task.Task) error {
	if t == nil {
		return ErrNilTask
	}
	if err := t.Init(); err != nil {
		s.logger.Error("task init failed, not registering", err,
			logger.Field{Key: "task", Value: t.Name()})
		return fmt.Errorf("%w: %w", ErrInitFailed, err)
	}

	s.mu.Lock()
	s.entries = append(s.entries, entry{id: uuid.New(), task: t})
	count := len(s.entries)
	s.mu.Unlock()

	s.metrics.tasks.Set(float64(count))
	s.logger.Info("task registered",
		logger.Field{Key: "task", Value: t.Name()},
		logger.Field{Key: "tasks", Value: count})
	return nil
}

// AddTasks registers every task it can and returns the combined errors of
// those it could not.
func (s *Scheduler) AddTasks(tasks ...task.Task) error {
	var errs *multierror.Error
	for _, t := range tasks {
		if err := s.AddTask(t); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

// Len returns the number of registered tasks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Tasks returns the names of the registered tasks in registration order.
func (s *Scheduler) Tasks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.entries))
	for _, e := range s.entries {
		names = append(names, e.task.Name())
	}
	return names
}

// Start launches the loop goroutine and returns immediately. The loop ends
// when Stop is called or ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrAlreadyStarted
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.started = true
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(loopCtx, s.done)

	s.logger.Info("scheduler started",
		logger.Field{Key: "tick", Value: s.tick.String()},
		logger.Field{Key: "tasks", Value: len(s.entries)})
	return nil
}

// Stop asks the loop to end and blocks until it has exited. A task that is
// executing is allowed to finish. Calling Stop again, or before Start,
// returns immediately.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Done is closed once the loop goroutine has exited. It is nil before Start.
func (s *Scheduler) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer func() {
		s.logger.Info("scheduler stopped")
		close(done)
	}()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		if err := s.pass(ctx); err != nil {
			s.logger.Debug("scheduler pass finished with errors",
				logger.Field{Key: "errors", Value: err.Error()})
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// pass evaluates every task once. Failing tasks stay registered; their
// errors are collected and returned.
func (s *Scheduler) pass(ctx context.Context) error {
	s.mu.Lock()
	snapshot := slices.Clone(s.entries)
	s.mu.Unlock()

	var (
		errs     *multierror.Error
		finished = make(map[uuid.UUID]struct{})
	)
	for _, e := range snapshot {
		if e.task.Expired() {
			done, err := s.run(ctx, e.task)
			if err != nil {
				errs = multierror.Append(errs, fmt.Errorf("task %q: %w", e.task.Name(), err))
			}
			if done {
				finished[e.id] = struct{}{}
			}
		}
		e.task.AdvanceClock(s.tick)
	}

	if len(finished) > 0 {
		s.remove(finished)
	}
	s.metrics.ticks.Inc()

	return errs.ErrorOrNil()
}

func (s *Scheduler) run(ctx context.Context, t task.Task) (bool, error) {
	start := time.Now()
	done, err := t.Run(ctx)

	status := statusOK
	switch {
	case err != nil:
		status = statusError
	case done:
		status = statusDone
	}
	s.metrics.recordRun(t.Name(), status, time.Since(start))

	return done, err
}

func (s *Scheduler) remove(finished map[uuid.UUID]struct{}) {
	s.mu.Lock()
	s.entries = slices.DeleteFunc(s.entries, func(e entry) bool {
		if _, ok := finished[e.id]; !ok {
			return false
		}
		s.logger.Warn("remove task", logger.Field{Key: "task", Value: e.task.Name()})
		s.metrics.removed.Inc()
		return true
	})
	count := len(s.entries)
	s.mu.Unlock()

	s.metrics.tasks.Set(float64(count))
}
