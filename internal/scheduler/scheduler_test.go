package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/machinarr/machinarr/internal/testutil"
)

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s, err := New(nil, testutil.NopLogger())
	require.NoError(t, err)
	require.NoError(t, s.Start())
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func TestRegisterTask_Validation(t *testing.T) {
	s := newTestScheduler(t)
	noop := func(context.Context) error { return nil }

	require.NoError(t, s.RegisterTask(TaskConfig{ID: "a", Name: "A", Interval: time.Hour, Func: noop}))

	err := s.RegisterTask(TaskConfig{ID: "a", Name: "A", Interval: time.Hour, Func: noop})
	assert.ErrorIs(t, err, ErrTaskExists)

	err = s.RegisterTask(TaskConfig{ID: "b", Name: "B", Func: noop})
	assert.Error(t, err)
}

func TestRunNow_RecordsRun(t *testing.T) {
	s := newTestScheduler(t)
	var calls atomic.Int32
	require.NoError(t, s.RegisterTask(TaskConfig{
		ID:       "flush",
		Name:     "Flush",
		Interval: time.Hour,
		Func: func(context.Context) error {
			if calls.Add(1) == 2 {
				return errors.New("disk full")
			}
			return nil
		},
	}))

	require.NoError(t, s.RunNow("flush"))
	require.Eventually(t, func() bool {
		info, err := s.GetTask("flush")
		return err == nil && info.RunCount == 1 && !info.Running
	}, 2*time.Second, 10*time.Millisecond)

	info, _ := s.GetTask("flush")
	assert.NotNil(t, info.LastRun)
	assert.Empty(t, info.LastError)
	assert.Equal(t, "1h0m0s", info.Interval)

	require.NoError(t, s.RunNow("flush"))
	require.Eventually(t, func() bool {
		info, _ := s.GetTask("flush")
		return info.RunCount == 2 && !info.Running
	}, 2*time.Second, 10*time.Millisecond)

	info, _ = s.GetTask("flush")
	assert.Equal(t, "disk full", info.LastError)
}

func TestRunNow_UnknownTask(t *testing.T) {
	s := newTestScheduler(t)
	assert.ErrorIs(t, s.RunNow("missing"), ErrTaskNotFound)
	_, err := s.GetTask("missing")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestRunNow_RejectsWhileRunning(t *testing.T) {
	s := newTestScheduler(t)
	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, s.RegisterTask(TaskConfig{
		ID:       "cycle",
		Name:     "Cycle",
		Interval: time.Hour,
		Func: func(context.Context) error {
			close(started)
			<-release
			return nil
		},
	}))

	require.NoError(t, s.RunNow("cycle"))
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not start")
	}

	assert.ErrorIs(t, s.RunNow("cycle"), ErrTaskRunning)
	tasks := s.ListTasks()
	require.Len(t, tasks, 1)
	assert.True(t, tasks[0].Running)
	close(release)
}

func TestTaskTimeout(t *testing.T) {
	s := newTestScheduler(t)
	require.NoError(t, s.RegisterTask(TaskConfig{
		ID:       "slow",
		Name:     "Slow",
		Interval: time.Hour,
		Timeout:  20 * time.Millisecond,
		Func: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}))

	require.NoError(t, s.RunNow("slow"))
	require.Eventually(t, func() bool {
		info, _ := s.GetTask("slow")
		return info.RunCount == 1
	}, 2*time.Second, 10*time.Millisecond)

	info, _ := s.GetTask("slow")
	assert.Equal(t, context.DeadlineExceeded.Error(), info.LastError)
}

func TestPanicBecomesError(t *testing.T) {
	s := newTestScheduler(t)
	require.NoError(t, s.RegisterTask(TaskConfig{
		ID:       "boom",
		Name:     "Boom",
		Interval: time.Hour,
		Func:     func(context.Context) error { panic("nil map") },
	}))

	require.NoError(t, s.RunNow("boom"))
	require.Eventually(t, func() bool {
		info, _ := s.GetTask("boom")
		return info.RunCount == 1
	}, 2*time.Second, 10*time.Millisecond)

	info, _ := s.GetTask("boom")
	assert.Contains(t, info.LastError, "panicked")
}

func TestListTasks_Sorted(t *testing.T) {
	s := newTestScheduler(t)
	noop := func(context.Context) error { return nil }
	for _, id := range []string{"state-flush", "attribution-verify", "search-cycle"} {
		require.NoError(t, s.RegisterTask(TaskConfig{ID: id, Name: id, Interval: time.Hour, Func: noop}))
	}

	tasks := s.ListTasks()
	require.Len(t, tasks, 3)
	assert.Equal(t, "attribution-verify", tasks[0].ID)
	assert.Equal(t, "search-cycle", tasks[1].ID)
	assert.Equal(t, "state-flush", tasks[2].ID)
}

func TestStop_WaitsForRunningTask(t *testing.T) {
	s, err := New(nil, testutil.NopLogger())
	require.NoError(t, err)
	require.NoError(t, s.Start())

	started := make(chan struct{})
	var finished atomic.Bool
	require.NoError(t, s.RegisterTask(TaskConfig{
		ID:       "cycle",
		Name:     "Cycle",
		Interval: time.Hour,
		Func: func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			time.Sleep(200 * time.Millisecond)
			finished.Store(true)
			return ctx.Err()
		},
	}))

	require.NoError(t, s.RunNow("cycle"))
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not start")
	}

	require.NoError(t, s.Stop())
	assert.True(t, finished.Load(), "Stop returned before the task wound down")
}

func TestStop_BoundedWhenTaskIgnoresCancel(t *testing.T) {
	if testing.Short() {
		t.Skip("waits out the stop timeout")
	}
	s, err := New(nil, testutil.NopLogger())
	require.NoError(t, err)
	require.NoError(t, s.Start())

	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	require.NoError(t, s.RegisterTask(TaskConfig{
		ID:       "stuck",
		Name:     "Stuck",
		Interval: time.Hour,
		Func: func(context.Context) error {
			close(started)
			<-release
			return nil
		},
	}))

	require.NoError(t, s.RunNow("stuck"))
	<-started

	begin := time.Now()
	assert.Error(t, s.Stop())
	assert.Less(t, time.Since(begin), stopTimeout+3*time.Second)
}
