package maintenance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/harun/mnemo/internal/tracing"
)

var (
	ErrUnknownJob     = errors.New("unknown maintenance job")
	ErrDuplicateJob   = errors.New("maintenance job already registered")
	ErrSchedulerState = errors.New("scheduler is already running")
)

// JobFunc performs one iteration of a job and returns how many records it affected.
type JobFunc func(ctx context.Context) (int, error)

// Job is a named unit of periodic work
type Job struct {
	Name     string
	Schedule Schedule
	Run      JobFunc

	// RunOnStart runs the job once as soon as the scheduler starts.
	RunOnStart bool
}

// JobState tracks runtime state of a job
type JobState struct {
	NextRun           time.Time     `json:"next_run,omitempty"`
	LastRun           time.Time     `json:"last_run,omitempty"`
	LastStatus        string        `json:"last_status,omitempty"` // "ok" or "error"
	LastError         string        `json:"last_error,omitempty"`
	LastDuration      time.Duration `json:"last_duration,omitempty"`
	LastAffected      int           `json:"last_affected"`
	Runs              int           `json:"runs"`
	ConsecutiveErrors int           `json:"consecutive_errors,omitempty"`
}

// JobObserver is told about every finished iteration.
type JobObserver interface {
	ObserveJob(job string, err error)
}

// SchedulerConfig holds scheduler configuration
type SchedulerConfig struct {
	Logger   zerolog.Logger
	Observer JobObserver
	Now      func() time.Time
}

// Scheduler runs each job in its own goroutine. Waits are cancellable, a failing
// iteration is logged and the loop continues.
type Scheduler struct {
	mu       sync.Mutex
	jobs     map[string]*Job
	states   map[string]*JobState
	logger   zerolog.Logger
	observer JobObserver
	now      func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates an empty scheduler
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Scheduler{
		jobs:     make(map[string]*Job),
		states:   make(map[string]*JobState),
		logger:   cfg.Logger,
		observer: cfg.Observer,
		now:      cfg.Now,
	}
}

// Add registers a job. Jobs cannot be added while the scheduler runs.
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" {
		return fmt.Errorf("job name is required")
	}
	if job.Run == nil {
		return fmt.Errorf("job %s has no run function", job.Name)
	}
	if err := job.Schedule.Validate(); err != nil {
		return fmt.Errorf("invalid schedule for job %s: %w", job.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return ErrSchedulerState
	}
	if _, exists := s.jobs[job.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, job.Name)
	}

	j := job
	s.jobs[job.Name] = &j
	s.states[job.Name] = &JobState{}
	return nil
}

// Jobs returns the registered job names, sorted.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// State returns a snapshot of a job's runtime state.
func (s *Scheduler) State(name string) (JobState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[name]
	if !ok {
		return JobState{}, false
	}
	return *st, true
}

// Start launches one worker per job. Workers stop when ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return ErrSchedulerState
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for _, job := range s.jobs {
		s.wg.Add(1)
		go s.loop(ctx, job)
	}

	s.logger.Info().Int("job_count", len(s.jobs)).Msg("Maintenance scheduler started")
	return nil
}

// Stop cancels every worker and waits for running iterations to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()

	s.logger.Info().Msg("Maintenance scheduler stopped")
}

// RunOnce runs a job synchronously, outside its schedule.
func (s *Scheduler) RunOnce(ctx context.Context, name string) (int, error) {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()

	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.execute(ctx, job)
}

func (s *Scheduler) loop(ctx context.Context, job *Job) {
	defer s.wg.Done()

	if job.RunOnStart {
		s.execute(ctx, job)
	}

	for {
		next, err := NextRun(job.Schedule, s.now())
		if err != nil {
			s.logger.Error().Err(err).Str("job", job.Name).Msg("Cannot schedule job, worker exiting")
			return
		}
		s.setNextRun(job.Name, next)

		delay := next.Sub(s.now())
		if delay < 0 {
			delay = 0
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		s.execute(ctx, job)
	}
}

func (s *Scheduler) setNextRun(name string, next time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[name]; ok {
		st.NextRun = next
	}
}

// execute runs one iteration, converting a panic into an error.
func (s *Scheduler) execute(ctx context.Context, job *Job) (affected int, err error) {
	ctx = tracing.NewJobContext(ctx, job.Name)
	ctx, span := tracing.StartSpan(ctx, "maintenance", "maintenance."+job.Name,
		attribute.String("job", job.Name))
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, s.logger)
	start := s.now()

	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("job panicked: %v", r)
			}
		}()
		affected, err = job.Run(ctx)
	}()

	duration := s.now().Sub(start)
	s.record(job.Name, start, duration, affected, err)
	if s.observer != nil {
		s.observer.ObserveJob(job.Name, err)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error().Err(err).Dur("duration", duration).Msg("Maintenance job failed")
		return affected, err
	}

	span.SetAttributes(attribute.Int("affected", affected))
	logger.Debug().Int("affected", affected).Dur("duration", duration).Msg("Maintenance job finished")
	return affected, nil
}

func (s *Scheduler) record(name string, start time.Time, d time.Duration, affected int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[name]
	if !ok {
		return
	}
	st.LastRun = start
	st.LastDuration = d
	st.LastAffected = affected
	st.Runs++
	if err != nil {
		st.LastStatus = "error"
		st.LastError = err.Error()
		st.ConsecutiveErrors++
		return
	}
	st.LastStatus = "ok"
	st.LastError = ""
	st.ConsecutiveErrors = 0
}
