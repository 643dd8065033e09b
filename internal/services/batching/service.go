// Package batching splits wide time ranges into paced, retried sub-queries
// and merges their results into one deduplicated dataset.
package batching

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/vigil/internal/common"
	"github.com/ternarybob/vigil/internal/interfaces"
	"github.com/ternarybob/vigil/internal/metrics"
	"github.com/ternarybob/vigil/internal/models"
)

// ErrEmptyInterval is returned for intervals whose end is not after their start
var ErrEmptyInterval = errors.New("interval is empty")

// Service chooses between one direct query and a batched run
type Service struct {
	directThreshold time.Duration
	batchWidth      time.Duration
	policy          models.MergePolicy
	columns         models.Columns
	adapter         *Adapter
	orchestrator    *Orchestrator
	events          interfaces.EventService
	metrics         *metrics.Metrics
	logger          arbor.ILogger
}

// NewService wires a fetch service for records with the given columns
func NewService(cfg common.BatchingConfig, columns models.Columns, adapter *Adapter, orchestrator *Orchestrator, events interfaces.EventService, m *metrics.Metrics, logger arbor.ILogger) *Service {
	return &Service{
		directThreshold: cfg.DirectThresholdDuration(),
		batchWidth:      cfg.BatchWidthDuration(),
		policy:          models.MergePolicy(cfg.MergePolicy),
		columns:         columns,
		adapter:         adapter,
		orchestrator:    orchestrator,
		events:          events,
		metrics:         m,
		logger:          logger,
	}
}

// Fetch returns merged records for interval.
// Intervals up to the direct threshold are fetched with one call whose error
// is returned. Wider intervals are partitioned; that path never fails and
// reports lost batches through Degraded and FailedRanges.
func (s *Service) Fetch(ctx context.Context, interval models.TimeInterval, fetch interfaces.RecordFetcher) (*models.MergedResult, error) {
	if interval.Empty() {
		return nil, ErrEmptyInterval
	}

	var result *models.MergedResult
	if interval.Width() <= s.directThreshold {
		var err error
		result, err = s.fetchDirect(ctx, interval, fetch)
		if err != nil {
			return nil, err
		}
	} else {
		result = s.fetchBatched(ctx, interval, fetch)
	}

	s.metrics.RecordFetch(result.Direct, result.Degraded)

	if s.events != nil {
		if err := s.events.Publish(ctx, interfaces.Event{Type: interfaces.EventFetchMerged, Payload: result}); err != nil {
			s.logger.Debug().Err(err).Msg("Failed to publish fetch event")
		}
	}

	return result, nil
}

func (s *Service) fetchDirect(ctx context.Context, interval models.TimeInterval, fetch interfaces.RecordFetcher) (*models.MergedResult, error) {
	params := s.adapter.Params(interval.Width())

	s.logger.Debug().
		Str("interval", interval.String()).
		Int("row_limit", params.RowLimit).
		Msg("Fetching interval directly")

	records, err := fetch(ctx, interval, params)
	if err != nil {
		return nil, err
	}

	batch := models.BatchResult{
		Batch:    models.Batch{Interval: interval},
		Records:  records,
		Attempts: 1,
	}
	entities, totals, reported := Merge([]models.BatchResult{batch}, s.columns, s.policy)

	return &models.MergedResult{
		Interval: interval,
		Entities: entities,
		Totals:   totals,
		Reported: reported,
		Params:   params,
		Direct:   true,
		Batches:  1,
	}, nil
}

func (s *Service) fetchBatched(ctx context.Context, interval models.TimeInterval, fetch interfaces.RecordFetcher) *models.MergedResult {
	batches := Partition(interval, s.batchWidth)
	params := s.adapter.Params(batches[0].Interval.Width())

	results := s.orchestrator.Run(ctx, batches, params, fetch)

	var failed []models.TimeInterval
	for _, r := range results {
		if r.Failed {
			failed = append(failed, r.Batch.Interval)
		}
	}

	entities, totals, reported := Merge(results, s.columns, s.policy)

	s.logger.Info().
		Str("interval", interval.String()).
		Int("batches", len(batches)).
		Int("failed", len(failed)).
		Int("entities", len(entities)).
		Msg("Batched fetch merged")

	return &models.MergedResult{
		Interval:     interval,
		Entities:     entities,
		Totals:       totals,
		Reported:     reported,
		Params:       params,
		Batches:      len(batches),
		Degraded:     len(failed) > 0,
		FailedRanges: failed,
	}
}
