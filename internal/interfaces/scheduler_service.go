package interfaces

import (
	"context"
	"time"
)

// JobHandler is the work run on each scheduled tick
type JobHandler func(ctx context.Context) error

// JobStatus represents the current status of a scheduled job
type JobStatus struct {
	Name      string     `json:"name"`
	Schedule  string     `json:"schedule"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	NextRun   *time.Time `json:"next_run,omitempty"`
	IsRunning bool       `json:"is_running"`
	LastError string     `json:"last_error,omitempty"`
	Runs      int        `json:"runs"`
	Skipped   int        `json:"skipped"`
}

// SchedulerService manages cron-based scheduling
type SchedulerService interface {
	// RegisterJob adds a job under a six-field cron schedule
	RegisterJob(name string, schedule string, handler JobHandler) error

	// Start begins running registered jobs
	Start() error

	// Stop halts the scheduler and waits for running jobs to return
	Stop() error

	// TriggerJob runs a job immediately unless it is already running
	TriggerJob(name string) error

	// IsRunning returns true if scheduler is active
	IsRunning() bool

	// GetJobStatus returns the status of a specific job
	GetJobStatus(name string) (*JobStatus, error)
}
