package scheduler

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aatumaykin/autotask/internal/logger"
	"github.com/aatumaykin/autotask/internal/task"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// counter is an executor that counts its runs and returns a fixed result.
type counter struct {
	runs atomic.Int64
	done bool
	err  error
}

func (c *counter) Execute(context.Context) (bool, error) {
	c.runs.Add(1)
	return c.done, c.err
}

type failingInit struct{ counter }

func (f *failingInit) Init() error { return errors.New("no such directory") }

func newTask(t *testing.T, name string, interval time.Duration, exec task.Executor, opts ...task.Option) *task.Periodic {
	t.Helper()
	p, err := task.New(name, interval, exec, opts...)
	require.NoError(t, err)
	return p
}

func TestNew_Defaults(t *testing.T) {
	s := New(Options{})
	assert.Equal(t, DefaultTick, s.Tick())
	assert.Equal(t, 0, s.Len())
	assert.Nil(t, s.Done())
}

func TestScheduler_PassRunsOnlyExpiredTasks(t *testing.T) {
	s := New(Options{Tick: 10 * time.Second})
	fast, slow := &counter{}, &counter{}
	require.NoError(t, s.AddTasks(
		newTask(t, "fast", 10*time.Second, fast),
		newTask(t, "slow", 20*time.Second, slow),
	))

	ctx := context.Background()
	want := []struct{ fast, slow int64 }{
		{0, 0}, // both armed at their full interval
		{1, 0},
		{2, 1},
		{3, 1},
		{4, 2},
	}
	for i, w := range want {
		require.NoError(t, s.pass(ctx))
		assert.Equal(t, w.fast, fast.runs.Load(), "fast after pass %d", i+1)
		assert.Equal(t, w.slow, slow.runs.Load(), "slow after pass %d", i+1)
	}
}

func TestScheduler_IntervalRoundedUpToTick(t *testing.T) {
	s := New(Options{Tick: 4 * time.Second})
	c := &counter{}
	require.NoError(t, s.AddTask(newTask(t, "t", 10*time.Second, c)))

	// A 10s countdown advanced in 4s steps runs on passes 4 and 7.
	ctx := context.Background()
	for i := 0; i < 9; i++ {
		require.NoError(t, s.pass(ctx))
	}
	assert.Equal(t, int64(2), c.runs.Load())
}

func TestScheduler_RemovesDoneTasksAfterPass(t *testing.T) {
	var buf bytes.Buffer
	log, err := logger.NewWithWriter(logger.Config{Level: "info", Format: "text"}, &buf)
	require.NoError(t, err)

	s := New(Options{Tick: time.Second, Logger: log})
	first, once, last := &counter{}, &counter{done: true}, &counter{}
	require.NoError(t, s.AddTasks(
		newTask(t, "first", time.Second, first, task.WithRunOnStart()),
		newTask(t, "once", time.Second, once, task.WithRunOnStart()),
		newTask(t, "last", time.Second, last, task.WithRunOnStart()),
	))

	require.NoError(t, s.pass(context.Background()))
	assert.Equal(t, int64(1), first.runs.Load())
	assert.Equal(t, int64(1), once.runs.Load())
	assert.Equal(t, int64(1), last.runs.Load(), "the task after a removed one is not skipped")
	assert.Equal(t, []string{"first", "last"}, s.Tasks())
	assert.Contains(t, buf.String(), "remove task")

	require.NoError(t, s.pass(context.Background()))
	assert.Equal(t, int64(2), first.runs.Load())
	assert.Equal(t, int64(1), once.runs.Load())
	assert.Equal(t, int64(2), last.runs.Load())
}

func TestScheduler_RemovesByIdentityNotName(t *testing.T) {
	s := New(Options{Tick: time.Second})
	keep, drop := &counter{}, &counter{done: true}
	require.NoError(t, s.AddTasks(
		newTask(t, "same", time.Second, keep, task.WithRunOnStart()),
		newTask(t, "same", time.Second, drop, task.WithRunOnStart()),
	))

	require.NoError(t, s.pass(context.Background()))
	require.Equal(t, 1, s.Len())

	require.NoError(t, s.pass(context.Background()))
	assert.Equal(t, int64(2), keep.runs.Load())
	assert.Equal(t, int64(1), drop.runs.Load())
}

func TestScheduler_FailingTaskStaysRegistered(t *testing.T) {
	s := New(Options{Tick: time.Second})
	boom := errors.New("disk full")
	bad, good := &counter{err: boom}, &counter{}
	require.NoError(t, s.AddTasks(
		newTask(t, "bad", time.Second, bad, task.WithRunOnStart()),
		newTask(t, "good", time.Second, good, task.WithRunOnStart()),
	))

	err := s.pass(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), `task "bad"`)
	assert.Equal(t, int64(1), good.runs.Load(), "other tasks still run")
	assert.Equal(t, []string{"bad", "good"}, s.Tasks())

	_ = s.pass(context.Background())
	assert.Equal(t, int64(2), bad.runs.Load())
}

func TestScheduler_PanickingTaskIsIsolated(t *testing.T) {
	s := New(Options{Tick: time.Second})
	good := &counter{}
	require.NoError(t, s.AddTasks(
		newTask(t, "panics", time.Second, task.ExecutorFunc(func(context.Context) (bool, error) {
			panic("nil map")
		}), task.WithRunOnStart()),
		newTask(t, "good", time.Second, good, task.WithRunOnStart()),
	))

	err := s.pass(context.Background())
	assert.ErrorIs(t, err, task.ErrPanic)
	assert.Equal(t, int64(1), good.runs.Load())
	assert.Equal(t, 2, s.Len())
}

func TestScheduler_AddTaskRejectsFailedInit(t *testing.T) {
	s := New(Options{Tick: time.Second})

	err := s.AddTask(nil)
	assert.ErrorIs(t, err, ErrNilTask)

	err = s.AddTask(newTask(t, "broken", time.Second, &failingInit{}))
	assert.ErrorIs(t, err, ErrInitFailed)
	assert.Contains(t, err.Error(), "no such directory")
	assert.Equal(t, 0, s.Len())

	err = s.AddTasks(
		newTask(t, "broken-1", time.Second, &failingInit{}),
		newTask(t, "ok", time.Second, &counter{}),
		newTask(t, "broken-2", time.Second, &failingInit{}),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken-1")
	assert.Contains(t, err.Error(), "broken-2")
	assert.Equal(t, []string{"ok"}, s.Tasks())
}

func TestScheduler_StartStop(t *testing.T) {
	s := New(Options{Tick: 5 * time.Millisecond})
	c := &counter{}
	require.NoError(t, s.AddTask(newTask(t, "t", 5*time.Millisecond, c, task.WithRunOnStart())))

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyStarted)

	require.Eventually(t, func() bool { return c.runs.Load() >= 3 }, time.Second, time.Millisecond)

	s.Stop()
	select {
	case <-s.Done():
	default:
		t.Fatal("Stop returned before the loop exited")
	}

	after := c.runs.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, c.runs.Load(), "no runs after Stop")

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("second Stop blocked")
	}
}

func TestScheduler_StopBeforeStart(t *testing.T) {
	s := New(Options{Tick: time.Millisecond})
	assert.NotPanics(t, s.Stop)
}

func TestScheduler_StopWaitsForRunningTask(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	s := New(Options{Tick: time.Millisecond})
	require.NoError(t, s.AddTask(newTask(t, "slow", time.Millisecond, task.ExecutorFunc(func(context.Context) (bool, error) {
		once.Do(func() { close(entered) })
		<-release
		return false, nil
	}), task.WithRunOnStart())))

	require.NoError(t, s.Start(context.Background()))
	<-entered

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a task was executing")
	case <-time.After(30 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after the task finished")
	}
}

func TestScheduler_ContextCancelEndsLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := New(Options{Tick: time.Millisecond})
	require.NoError(t, s.Start(ctx))

	cancel()
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("loop did not exit after context cancellation")
	}
	s.Stop()
}

func TestScheduler_AddTaskWhileRunning(t *testing.T) {
	s := New(Options{Tick: time.Millisecond})
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	counters := make([]*counter, 10)
	tasks := make([]*task.Periodic, len(counters))
	for i := range counters {
		counters[i] = &counter{}
		tasks[i] = newTask(t, "late", time.Millisecond, counters[i], task.WithRunOnStart())
	}

	var wg sync.WaitGroup
	for _, p := range tasks {
		wg.Add(1)
		go func(p *task.Periodic) {
			defer wg.Done()
			assert.NoError(t, s.AddTask(p))
		}(p)
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		for _, c := range counters {
			if c.runs.Load() == 0 {
				return false
			}
		}
		return true
	}, time.Second, time.Millisecond)
	assert.Equal(t, 10, s.Len())
}

func TestScheduler_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := New(Options{Tick: time.Second, Registerer: reg, Namespace: "test"})
	require.NoError(t, s.AddTasks(
		newTask(t, "ok", time.Second, &counter{}, task.WithRunOnStart()),
		newTask(t, "once", time.Second, &counter{done: true}, task.WithRunOnStart()),
		newTask(t, "bad", time.Second, &counter{err: errors.New("x")}, task.WithRunOnStart()),
	))

	_ = s.pass(context.Background())
	_ = s.pass(context.Background())

	assert.Equal(t, 2.0, testutil.ToFloat64(s.metrics.ticks))
	assert.Equal(t, 2.0, testutil.ToFloat64(s.metrics.tasks))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.removed))
	assert.Equal(t, 2.0, testutil.ToFloat64(s.metrics.runsTotal.WithLabelValues("ok", statusOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.runsTotal.WithLabelValues("once", statusDone)))
	assert.Equal(t, 2.0, testutil.ToFloat64(s.metrics.runsTotal.WithLabelValues("bad", statusError)))

	count, err := testutil.GatherAndCount(reg, "test_scheduler_ticks_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
