// Package task defines the contract every schedulable unit of work implements
// and a countdown-based implementation of it.
//
// A task does not know about wall-clock deadlines. The scheduler advances its
// countdown in tick-sized steps and runs it once the countdown reaches zero, so
// a process that is paused (for example under a debugger) does not cause a
// burst of missed runs on resume.
package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aatumaykin/autotask/internal/logger"
)

var (
	ErrInvalidInterval = errors.New("task: interval must be positive")
	ErrNilExecutor     = errors.New("task: executor is nil")
	ErrEmptyName       = errors.New("task: name is empty")
	ErrPanic           = errors.New("task: execute panicked")
)

// Task is what the scheduler drives. It is never told the concrete type.
type Task interface {
	// Name is a human-readable identifier, stable for the task's lifetime.
	Name() string

	// Init arms the countdown. A non-nil error means the task cannot run and
	// must not be registered.
	Init() error

	// Expired reports whether the countdown has reached zero.
	Expired() bool

	// AdvanceClock ages the countdown by elapsed, floored at zero. The result
	// is always false; callers check Expired instead.
	AdvanceClock(elapsed time.Duration) bool

	// Run re-arms the countdown and performs the work. done=true asks the
	// scheduler to remove the task.
	Run(ctx context.Context) (done bool, err error)
}

// Executor is the task-specific work function.
type Executor interface {
	Execute(ctx context.Context) (done bool, err error)
}

// ExecutorFunc adapts a plain function to Executor.
type ExecutorFunc func(ctx context.Context) (bool, error)

func (f ExecutorFunc) Execute(ctx context.Context) (bool, error) {
	return f(ctx)
}

// Initializer is implemented by executors that need to verify their setup
// each time the task is armed.
type Initializer interface {
	Init() error
}

// Option configures a Periodic task.
type Option func(*Periodic)

// WithLogger sets the logger used for wake up and failure messages.
func WithLogger(l *logger.Logger) Option {
	return func(p *Periodic) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithRunOnStart makes Init arm the countdown at zero so the first run
// happens on the scheduler's first tick instead of one interval later.
func WithRunOnStart() Option {
	return func(p *Periodic) {
		p.runOnStart = true
	}
}

// Periodic is the countdown implementation of Task. Its countdown is owned by
// the scheduler goroutine and must not be touched concurrently.
type Periodic struct {
	name       string
	interval   time.Duration
	remaining  time.Duration
	runOnStart bool
	runs       uint64

	exec   Executor
	logger *logger.Logger
}

// New creates a periodic task. The countdown starts at interval.
func New(name string, interval time.Duration, exec Executor, opts ...Option) (*Periodic, error) {
	if name == "" {
		return nil, ErrEmptyName
	}
	if interval <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInterval, interval)
	}
	if exec == nil {
		return nil, ErrNilExecutor
	}

	p := &Periodic{
		name:      name,
		interval:  interval,
		remaining: interval,
		exec:      exec,
		logger:    logger.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(logger.Field{Key: "task", Value: name})
	return p, nil
}

func (p *Periodic) Name() string {
	return p.name
}

func (p *Periodic) Interval() time.Duration {
	return p.interval
}

// Remaining returns the current countdown value.
func (p *Periodic) Remaining() time.Duration {
	return p.remaining
}

// Runs returns how many times Execute has returned without panicking.
func (p *Periodic) Runs() uint64 {
	return p.runs
}

func (p *Periodic) Init() error {
	if initer, ok := p.exec.(Initializer); ok {
		if err := initer.Init(); err != nil {
			return fmt.Errorf("init task %q: %w", p.name, err)
		}
	}

	p.remaining = p.interval
	if p.runOnStart {
		p.remaining = 0
	}
	return nil
}

func (p *Periodic) Expired() bool {
	return p.remaining == 0
}

func (p *Periodic) AdvanceClock(elapsed time.Duration) bool {
	if elapsed <= 0 {
		return false
	}
	if p.remaining > elapsed {
		p.remaining -= elapsed
	} else {
		p.remaining = 0
	}
	return false
}

// Run re-arms the countdown to the full interval and calls the executor.
// Errors and panics are logged with the task name and returned; a failed run
// never reports done.
func (p *Periodic) Run(ctx context.Context) (done bool, err error) {
	p.logger.Info("task wake up")
	p.remaining = p.interval

	defer func() {
		if r := recover(); r != nil {
			done, err = false, fmt.Errorf("%w: %v", ErrPanic, r)
		}
		if err != nil {
			done = false
			p.logger.Error("run task failed", err)
		}
	}()

	done, err = p.exec.Execute(ctx)
	p.runs++
	return done, err
}
