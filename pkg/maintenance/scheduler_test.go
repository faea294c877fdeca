package maintenance

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingJobObserver struct {
	mu   sync.Mutex
	runs map[string][]error
}

func (o *recordingJobObserver) ObserveJob(job string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.runs == nil {
		o.runs = make(map[string][]error)
	}
	o.runs[job] = append(o.runs[job], err)
}

func (o *recordingJobObserver) count(job string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.runs[job])
}

func newTestScheduler(obs JobObserver) *Scheduler {
	return NewScheduler(SchedulerConfig{Logger: zerolog.Nop(), Observer: obs})
}

func TestSchedulerAdd(t *testing.T) {
	s := newTestScheduler(nil)
	noop := func(ctx context.Context) (int, error) { return 0, nil }

	require.NoError(t, s.Add(Job{Name: JobTTLSweep, Schedule: Every(time.Minute), Run: noop}))

	t.Run("duplicate name", func(t *testing.T) {
		err := s.Add(Job{Name: JobTTLSweep, Schedule: Every(time.Minute), Run: noop})
		assert.ErrorIs(t, err, ErrDuplicateJob)
	})

	t.Run("missing name", func(t *testing.T) {
		assert.Error(t, s.Add(Job{Schedule: Every(time.Minute), Run: noop}))
	})

	t.Run("missing run", func(t *testing.T) {
		assert.Error(t, s.Add(Job{Name: "x", Schedule: Every(time.Minute)}))
	})

	t.Run("invalid schedule", func(t *testing.T) {
		err := s.Add(Job{Name: "x", Schedule: Cron("nope"), Run: noop})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid schedule")
	})

	assert.Equal(t, []string{JobTTLSweep}, s.Jobs())
}

func TestSchedulerRunsJobsPeriodically(t *testing.T) {
	obs := &recordingJobObserver{}
	s := newTestScheduler(obs)

	var runs atomic.Int32
	require.NoError(t, s.Add(Job{
		Name:     "tick",
		Schedule: Every(10 * time.Millisecond),
		Run: func(ctx context.Context) (int, error) {
			runs.Add(1)
			return 1, nil
		},
	}))

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	s.Stop()

	after := runs.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, runs.Load(), "no iterations after Stop returns")

	st, ok := s.State("tick")
	require.True(t, ok)
	assert.Equal(t, "ok", st.LastStatus)
	assert.Equal(t, 1, st.LastAffected)
	assert.GreaterOrEqual(t, st.Runs, 3)
	assert.GreaterOrEqual(t, obs.count("tick"), 3)
}

func TestSchedulerContinuesAfterFailures(t *testing.T) {
	s := newTestScheduler(nil)

	var runs atomic.Int32
	require.NoError(t, s.Add(Job{
		Name:     "flaky",
		Schedule: Every(5 * time.Millisecond),
		Run: func(ctx context.Context) (int, error) {
			n := runs.Add(1)
			if n == 1 {
				panic("boom")
			}
			return 0, errors.New("database is locked")
		},
	}))

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	s.Stop()

	st, ok := s.State("flaky")
	require.True(t, ok)
	assert.Equal(t, "error", st.LastStatus)
	assert.Equal(t, "database is locked", st.LastError)
	assert.GreaterOrEqual(t, st.ConsecutiveErrors, 3)
}

func TestSchedulerStopIsPrompt(t *testing.T) {
	s := newTestScheduler(nil)
	require.NoError(t, s.Add(Job{
		Name:     JobVacuum,
		Schedule: Every(24 * time.Hour),
		Run:      func(ctx context.Context) (int, error) { return 0, nil },
	}))

	require.NoError(t, s.Start(context.Background()))

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return while a worker was waiting")
	}

	st, _ := s.State(JobVacuum)
	assert.Equal(t, 0, st.Runs)
	assert.False(t, st.NextRun.IsZero())
}

func TestSchedulerRunOnStart(t *testing.T) {
	s := newTestScheduler(nil)

	ran := make(chan struct{}, 1)
	require.NoError(t, s.Add(Job{
		Name:       JobTTLSweep,
		Schedule:   Every(time.Hour),
		RunOnStart: true,
		Run: func(ctx context.Context) (int, error) {
			ran <- struct{}{}
			return 0, nil
		},
	}))

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("job did not run on start")
	}
}

func TestSchedulerStartTwice(t *testing.T) {
	s := newTestScheduler(nil)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerState)

	err := s.Add(Job{Name: "late", Schedule: Every(time.Minute), Run: func(ctx context.Context) (int, error) { return 0, nil }})
	assert.ErrorIs(t, err, ErrSchedulerState)
}

func TestSchedulerRunOnce(t *testing.T) {
	obs := &recordingJobObserver{}
	s := newTestScheduler(obs)
	require.NoError(t, s.Add(Job{
		Name:     JobDedupSweep,
		Schedule: Every(time.Hour),
		Run:      func(ctx context.Context) (int, error) { return 4, nil },
	}))

	n, err := s.RunOnce(context.Background(), JobDedupSweep)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, 1, obs.count(JobDedupSweep))

	_, err = s.RunOnce(context.Background(), "compact_everything")
	assert.ErrorIs(t, err, ErrUnknownJob)
}

func TestStopWithoutStart(t *testing.T) {
	s := newTestScheduler(nil)
	assert.NotPanics(t, s.Stop)
}
