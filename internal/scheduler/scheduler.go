package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/goodtune/shibasync/internal/metrics"
	"github.com/goodtune/shibasync/internal/reconcile"
	"github.com/goodtune/shibasync/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// ErrBusy is returned when a pass is requested while one is running.
var ErrBusy = errors.New("sync already in progress")

const (
	// DefaultStartupDelay is the grace period before the first pass
	DefaultStartupDelay = 10 * time.Second

	// DefaultSuccessCooldown is the wait after a successful pass
	DefaultSuccessCooldown = 1 * time.Second

	// DefaultFailureCooldown is the wait after a failed pass
	DefaultFailureCooldown = 5 * time.Second
)

// Runner runs one reconciliation pass.
type Runner interface {
	RunPass(ctx context.Context) (*reconcile.Summary, error)
}

// State is the scheduler state.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
)

// Config holds scheduler timing
type Config struct {
	StartupDelay    time.Duration
	SuccessCooldown time.Duration
	FailureCooldown time.Duration
}

// Status is a snapshot of the scheduler.
type Status struct {
	State      State              `json:"state"`
	IsRunning  bool               `json:"isRunning"`
	RunCount   int                `json:"syncCount"`
	LastRunAt  *time.Time         `json:"lastSyncTime"`
	LastResult *reconcile.Summary `json:"lastResult,omitempty"`
	LastError  string             `json:"lastError,omitempty"`
	NextRunAt  *time.Time         `json:"nextSyncTime,omitempty"`
}

// Scheduler runs passes continuously, one at a time.
type Scheduler struct {
	runner Runner
	runs   storage.RunStore
	clock  quartz.Clock
	config Config
	logger zerolog.Logger
	guard  *semaphore.Weighted

	mu         sync.RWMutex
	state      State
	runCount   int
	lastRunAt  time.Time
	lastResult *reconcile.Summary
	lastError  string
	nextRunAt  time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a new scheduler
func New(runner Runner, runs storage.RunStore, clock quartz.Clock, config Config, logger zerolog.Logger) *Scheduler {
	if config.StartupDelay <= 0 {
		config.StartupDelay = DefaultStartupDelay
	}
	if config.SuccessCooldown <= 0 {
		config.SuccessCooldown = DefaultSuccessCooldown
	}
	if config.FailureCooldown <= 0 {
		config.FailureCooldown = DefaultFailureCooldown
	}

	return &Scheduler{
		runner: runner,
		runs:   runs,
		clock:  clock,
		config: config,
		logger: logger.With().Str("component", "scheduler").Logger(),
		guard:  semaphore.NewWeighted(1),
		state:  StateIdle,
	}
}

// Start begins the scheduling loop. Cancelling ctx or calling Stop ends it
// between passes; a pass in progress always runs to completion.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(ctx)
	s.logger.Info().
		Dur("startup_delay", s.config.StartupDelay).
		Dur("success_cooldown", s.config.SuccessCooldown).
		Dur("failure_cooldown", s.config.FailureCooldown).
		Msg("Sync scheduler started")
}

// Stop stops the scheduler and waits for the loop to exit
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info().Msg("Sync scheduler stopped")
}

// loop is the main scheduler loop
func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	wait := s.config.StartupDelay
	for {
		next := s.clock.Now().Add(wait)
		s.mu.Lock()
		s.nextRunAt = next
		s.mu.Unlock()

		s.logger.Debug().Time("next_run", next).Dur("wait", wait).Msg("Scheduled next sync")

		if !s.sleep(ctx, wait) {
			return
		}

		_, err := s.run(ctx, storage.TriggerScheduled)
		switch {
		case errors.Is(err, ErrBusy):
			s.logger.Debug().Msg("Manual sync in progress, deferring scheduled sync")
			wait = s.config.SuccessCooldown
		case err != nil:
			wait = s.config.FailureCooldown
		default:
			wait = s.config.SuccessCooldown
		}
	}
}

func (s *Scheduler) sleep(ctx context.Context, d time.Duration) bool {
	timer := s.clock.NewTimer(d, "scheduler", "wait")
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Trigger runs a pass immediately, or returns ErrBusy while one is running.
func (s *Scheduler) Trigger(ctx context.Context) (*reconcile.Summary, error) {
	return s.run(ctx, storage.TriggerManual)
}

func (s *Scheduler) run(ctx context.Context, trigger storage.Trigger) (*reconcile.Summary, error) {
	if !s.guard.TryAcquire(1) {
		return nil, ErrBusy
	}
	defer s.guard.Release(1)

	s.mu.Lock()
	s.state = StateRunning
	s.mu.Unlock()
	metrics.PassRunning.Set(1)

	started := s.clock.Now()
	s.logger.Info().Str("trigger", string(trigger)).Msg("Starting sync")

	summary, err := s.runner.RunPass(context.WithoutCancel(ctx))

	finished := s.clock.Now()
	metrics.PassRunning.Set(0)
	metrics.PassDuration.Observe(finished.Sub(started).Seconds())

	s.mu.Lock()
	s.state = StateIdle
	s.runCount++
	s.lastRunAt = finished
	if err != nil {
		s.lastError = err.Error()
	} else {
		s.lastError = ""
		s.lastResult = summary
	}
	s.mu.Unlock()

	if err != nil {
		metrics.PassesTotal.WithLabelValues("failure").Inc()
		s.logger.Error().Err(err).Str("trigger", string(trigger)).Msg("Sync failed")
	} else {
		metrics.PassesTotal.WithLabelValues("success").Inc()
		metrics.LastSuccess.Set(float64(finished.Unix()))
	}

	s.record(ctx, newRun(summary, err, trigger, started, finished))
	return summary, err
}

func (s *Scheduler) record(ctx context.Context, run storage.Run) {
	if s.runs == nil {
		return
	}
	if err := s.runs.Record(context.WithoutCancel(ctx), run); err != nil {
		s.logger.Error().Err(err).Str("run_id", run.ID).Msg("Failed to record sync run")
	}
}

// Status returns the current scheduler state
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{
		State:      s.state,
		IsRunning:  s.state == StateRunning,
		RunCount:   s.runCount,
		LastResult: s.lastResult,
		LastError:  s.lastError,
	}
	if !s.lastRunAt.IsZero() {
		t := s.lastRunAt
		st.LastRunAt = &t
	}
	if !s.nextRunAt.IsZero() && s.state == StateIdle {
		t := s.nextRunAt
		st.NextRunAt = &t
	}
	return st
}

func newRun(summary *reconcile.Summary, err error, trigger storage.Trigger, started, finished time.Time) storage.Run {
	run := storage.Run{
		Trigger:    trigger,
		StartedAt:  started,
		FinishedAt: finished,
		Success:    err == nil,
	}
	if err != nil {
		run.Error = err.Error()
	}

	if summary == nil {
		run.ID = uuid.NewString()
		return run
	}

	run.ID = summary.ID
	run.TotalGames = summary.TotalGames
	run.UniqueUsers = summary.UniqueUsers
	run.SuccessfulUpdates = summary.SuccessfulUpdates
	run.Errors = summary.Errors
	run.Skipped = summary.Skipped
	run.UsersTotal = summary.Users.TotalUsers
	run.UsersUpdated = summary.Users.SuccessfulUpdates
	run.UserErrors = summary.Users.Errors
	run.UsersSkipped = summary.Users.Skipped
	run.PostsUpdated = summary.Posts.Updated
	run.PostErrors = summary.Posts.Errors
	return run
}
