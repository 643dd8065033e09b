// Package scheduler runs periodic jobs such as the dashboard snapshot refresh.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/vigil/internal/common"
	"github.com/ternarybob/vigil/internal/interfaces"
)

// ErrJobRunning is returned when a trigger arrives while the job is still running
var ErrJobRunning = errors.New("job already running")

// jobEntry represents a registered job with metadata
type jobEntry struct {
	name      string
	schedule  string
	handler   interfaces.JobHandler
	cronID    cron.EntryID
	runMu     sync.Mutex // Held while the handler runs
	lastRun   *time.Time
	isRunning bool
	lastError string
	runs      int
	skipped   int
}

// Service implements SchedulerService interface
type Service struct {
	cron    *cron.Cron
	logger  arbor.ILogger
	jobMu   sync.Mutex // Protects jobs map and entry status
	jobs    map[string]*jobEntry
	running bool

	ctx    context.Context
	cancel context.CancelFunc
}

var _ interfaces.SchedulerService = (*Service)(nil)

// NewService creates a new scheduler service. Schedules carry a seconds field.
func NewService(logger arbor.ILogger) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		cron:   cron.New(cron.WithSeconds(), cron.WithLogger(cronLogger{logger: logger})),
		logger: logger,
		jobs:   make(map[string]*jobEntry),
		ctx:    ctx,
		cancel: cancel,
	}
}

// RegisterJob registers a new job with the scheduler
func (s *Service) RegisterJob(name string, schedule string, handler interfaces.JobHandler) error {
	if err := common.ValidateSchedule(schedule); err != nil {
		return fmt.Errorf("invalid schedule: %w", err)
	}
	if handler == nil {
		return fmt.Errorf("job %s has no handler", name)
	}

	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %s already registered", name)
	}

	entry := &jobEntry{
		name:     name,
		schedule: schedule,
		handler:  handler,
	}

	cronID, err := s.cron.AddFunc(schedule, func() {
		if err := s.executeJob(name); err != nil && !errors.Is(err, ErrJobRunning) {
			s.logger.Debug().Err(err).Str("job_name", name).Msg("Scheduled run returned error")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to add job to cron: %w", err)
	}

	entry.cronID = cronID
	s.jobs[name] = entry

	s.logger.Info().
		Str("job_name", name).
		Str("schedule", schedule).
		Msg("Job registered")

	return nil
}

// Start begins the scheduler
func (s *Service) Start() error {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	s.cron.Start()
	s.running = true

	s.logger.Info().Int("jobs", len(s.jobs)).Msg("Scheduler started")
	return nil
}

// Stop halts the scheduler, cancels running jobs and waits for them to return
func (s *Service) Stop() error {
	s.jobMu.Lock()
	if !s.running {
		s.jobMu.Unlock()
		return nil
	}
	s.running = false
	s.jobMu.Unlock()

	s.cancel()
	<-s.cron.Stop().Done()

	s.logger.Info().Msg("Scheduler stopped")
	return nil
}

// IsRunning returns true if scheduler is active
func (s *Service) IsRunning() bool {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()
	return s.running
}

// TriggerJob runs a job immediately on the caller's goroutine
func (s *Service) TriggerJob(name string) error {
	s.logger.Info().Str("job_name", name).Msg("Manual job trigger requested")
	return s.executeJob(name)
}

// executeJob runs the job handler unless a previous run is still in progress
func (s *Service) executeJob(name string) (err error) {
	s.jobMu.Lock()
	entry, exists := s.jobs[name]
	s.jobMu.Unlock()
	if !exists {
		return fmt.Errorf("job %s not found", name)
	}

	if !entry.runMu.TryLock() {
		s.jobMu.Lock()
		entry.skipped++
		s.jobMu.Unlock()
		s.logger.Warn().Str("job_name", name).Msg("Previous run still in progress, skipping")
		return ErrJobRunning
	}
	defer entry.runMu.Unlock()

	started := time.Now()
	s.jobMu.Lock()
	entry.isRunning = true
	s.jobMu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.logger.Error().
				Str("job_name", name).
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("PANIC RECOVERED in job execution")
		}

		completed := time.Now()
		s.jobMu.Lock()
		entry.isRunning = false
		entry.lastRun = &completed
		entry.runs++
		entry.lastError = ""
		if err != nil {
			entry.lastError = err.Error()
		}
		s.jobMu.Unlock()

		if err != nil {
			s.logger.Error().
				Str("job_name", name).
				Err(err).
				Dur("duration", completed.Sub(started)).
				Msg("Job execution failed")
			return
		}
		s.logger.Info().
			Str("job_name", name).
			Dur("duration", completed.Sub(started)).
			Msg("Job execution completed")
	}()

	s.logger.Info().Str("job_name", name).Msg("Job execution started")

	return entry.handler(s.ctx)
}

// GetJobStatus returns the status of a specific job
func (s *Service) GetJobStatus(name string) (*interfaces.JobStatus, error) {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	entry, exists := s.jobs[name]
	if !exists {
		return nil, fmt.Errorf("job %s not found", name)
	}

	var nextRun *time.Time
	if s.running {
		if next := s.cron.Entry(entry.cronID).Next; !next.IsZero() {
			nextRun = &next
		}
	}

	return &interfaces.JobStatus{
		Name:      entry.name,
		Schedule:  entry.schedule,
		LastRun:   entry.lastRun,
		NextRun:   nextRun,
		IsRunning: entry.isRunning,
		LastError: entry.lastError,
		Runs:      entry.runs,
		Skipped:   entry.skipped,
	}, nil
}

// cronLogger routes cron's internal logging to arbor
type cronLogger struct {
	logger arbor.ILogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Str("cron", fmt.Sprint(keysAndValues...)).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Str("cron", fmt.Sprint(keysAndValues...)).Msg(msg)
}
