package batching

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/vigil/internal/common"
	"github.com/ternarybob/vigil/internal/interfaces"
	"github.com/ternarybob/vigil/internal/metrics"
	"github.com/ternarybob/vigil/internal/models"
)

// retryable is implemented by errors that know whether another attempt can help
type retryable interface {
	Retryable() bool
}

// isPermanent reports errors that carry Retryable() == false
func isPermanent(err error) bool {
	var r retryable
	if errors.As(err, &r) {
		return !r.Retryable()
	}
	return false
}

// TimerFactory creates the timer used for retry and pacing waits
type TimerFactory func() backoff.Timer

// systemTimer is a reusable backoff.Timer over time.Timer
type systemTimer struct {
	timer *time.Timer
}

func (t *systemTimer) Start(d time.Duration) {
	if t.timer == nil {
		t.timer = time.NewTimer(d)
		return
	}
	t.timer.Reset(d)
}

func (t *systemTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *systemTimer) C() <-chan time.Time {
	return t.timer.C
}

func newSystemTimer() backoff.Timer {
	return &systemTimer{}
}

// Orchestrator runs batches one after another with retry and pacing.
type Orchestrator struct {
	maxRetries  int
	retryDelay  time.Duration
	pacingDelay time.Duration
	newTimer    TimerFactory
	events      interfaces.EventService
	metrics     *metrics.Metrics
	logger      arbor.ILogger
}

// OrchestratorOption configures the Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithTimerFactory replaces the system timer, e.g. for tests
func WithTimerFactory(f TimerFactory) OrchestratorOption {
	return func(o *Orchestrator) {
		o.newTimer = f
	}
}

// WithEvents publishes batch lifecycle events
func WithEvents(events interfaces.EventService) OrchestratorOption {
	return func(o *Orchestrator) {
		o.events = events
	}
}

// WithMetrics records attempt and exhaustion counts
func WithMetrics(m *metrics.Metrics) OrchestratorOption {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// NewOrchestrator creates an orchestrator from the batching config
func NewOrchestrator(cfg common.BatchingConfig, logger arbor.ILogger, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		maxRetries:  cfg.MaxRetries,
		retryDelay:  cfg.RetryDelayDuration(),
		pacingDelay: cfg.PacingDelayDuration(),
		newTimer:    newSystemTimer,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run fetches every batch in order and returns one result per batch.
// It never fails: a batch that exhausts its retries contributes no records
// and is marked Failed. Cancelling ctx marks the remaining batches failed.
func (o *Orchestrator) Run(ctx context.Context, batches []models.Batch, params models.QueryParams, fetch interfaces.RecordFetcher) []models.BatchResult {
	runID := common.NewRunID()
	results := make([]models.BatchResult, 0, len(batches))
	timer := o.newTimer()

	o.logger.Info().
		Str("run_id", runID).
		Int("batches", len(batches)).
		Int("row_limit", params.RowLimit).
		Bool("include_secondary", params.IncludeSecondary).
		Msg("Starting batched fetch")

	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			for _, rest := range batches[i:] {
				results = append(results, o.failed(ctx, runID, len(batches), rest, 0, err))
			}
			break
		}

		result := o.runBatch(ctx, runID, len(batches), batch, params, fetch, timer)
		results = append(results, result)

		if !result.Failed && i < len(batches)-1 && o.pacingDelay > 0 {
			o.logger.Debug().
				Str("run_id", runID).
				Dur("delay", o.pacingDelay).
				Msg("Pacing before next batch")
			timer.Start(o.pacingDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
			case <-timer.C():
			}
		}
	}

	return results
}

func (o *Orchestrator) runBatch(ctx context.Context, runID string, total int, batch models.Batch, params models.QueryParams, fetch interfaces.RecordFetcher, timer backoff.Timer) models.BatchResult {
	progress := models.BatchProgress{
		RunID:    runID,
		Index:    batch.Index,
		Total:    total,
		Interval: batch.Interval,
	}
	o.publish(ctx, interfaces.EventBatchStarted, progress)

	o.logger.Info().
		Str("run_id", runID).
		Int("batch", batch.Index+1).
		Int("of", total).
		Str("interval", batch.Interval.String()).
		Msg("Fetching batch")

	attempts := 0
	operation := func() ([]models.Record, error) {
		attempts++
		records, err := fetch(ctx, batch.Interval, params)
		o.metrics.RecordBatchAttempt(err)
		if err != nil && isPermanent(err) {
			return nil, backoff.Permanent(err)
		}
		return records, err
	}

	notify := func(err error, wait time.Duration) {
		o.logger.Warn().
			Err(err).
			Str("run_id", runID).
			Int("batch", batch.Index+1).
			Int("attempt", attempts).
			Dur("retry_in", wait).
			Msg("Batch attempt failed, retrying")

		p := progress
		p.Attempt = attempts
		p.Error = err.Error()
		o.publish(ctx, interfaces.EventBatchRetry, p)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(o.retryDelay), uint64(o.maxRetries)),
		ctx,
	)

	records, err := backoff.RetryNotifyWithTimerAndData(operation, policy, notify, timer)
	if err != nil {
		return o.failed(ctx, runID, total, batch, attempts, err)
	}

	progress.Attempt = attempts
	progress.Records = len(records)
	o.publish(ctx, interfaces.EventBatchCompleted, progress)

	o.logger.Info().
		Str("run_id", runID).
		Int("batch", batch.Index+1).
		Int("records", len(records)).
		Int("attempts", attempts).
		Msg("Batch completed")

	return models.BatchResult{
		Batch:    batch,
		Records:  records,
		Attempts: attempts,
	}
}

func (o *Orchestrator) failed(ctx context.Context, runID string, total int, batch models.Batch, attempts int, err error) models.BatchResult {
	o.metrics.RecordBatchExhausted()

	o.logger.Error().
		Err(err).
		Str("run_id", runID).
		Int("batch", batch.Index+1).
		Int("attempts", attempts).
		Str("interval", batch.Interval.String()).
		Msg("Batch failed, continuing without its records")

	o.publish(ctx, interfaces.EventBatchFailed, models.BatchProgress{
		RunID:    runID,
		Index:    batch.Index,
		Total:    total,
		Interval: batch.Interval,
		Attempt:  attempts,
		Error:    err.Error(),
	})

	return models.BatchResult{
		Batch:    batch,
		Records:  []models.Record{},
		Attempts: attempts,
		Failed:   true,
		Err:      err.Error(),
	}
}

func (o *Orchestrator) publish(ctx context.Context, eventType interfaces.EventType, payload models.BatchProgress) {
	if o.events == nil {
		return
	}
	// Lifecycle events outlive a cancelled fetch
	if err := o.events.Publish(context.WithoutCancel(ctx), interfaces.Event{Type: eventType, Payload: payload}); err != nil {
		o.logger.Debug().Err(err).Str("event", string(eventType)).Msg("Failed to publish batch event")
	}
}
