// Package honeycomb queries the event dataset for bot, login and funnel metrics.
package honeycomb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/vigil/internal/common"
	"github.com/ternarybob/vigil/internal/interfaces"
	"github.com/ternarybob/vigil/internal/models"
	"github.com/ternarybob/vigil/internal/services/batching"
	"github.com/ternarybob/vigil/internal/services/decoder"
)

// ErrNoLoginData is returned when the login query yields no rows
var ErrNoLoginData = errors.New("no login data found for current period")

// Fetcher runs a record fetcher over an interval, batching when it is wide
type Fetcher interface {
	Fetch(ctx context.Context, interval models.TimeInterval, fetch interfaces.RecordFetcher) (*models.MergedResult, error)
}

// Service implements interfaces.ActivityService over the run_query tool
type Service struct {
	cfg     common.HoneycombConfig
	caller  interfaces.ToolCaller
	fetcher Fetcher
	logger  arbor.ILogger
}

var _ interfaces.ActivityService = (*Service)(nil)

// NewService creates an activity service
func NewService(cfg common.HoneycombConfig, caller interfaces.ToolCaller, fetcher Fetcher, logger arbor.ILogger) *Service {
	return &Service{
		cfg:     cfg,
		caller:  caller,
		fetcher: fetcher,
		logger:  logger,
	}
}

// BotColumns names the columns of a bot breakdown result
func BotColumns(cfg common.HoneycombConfig) models.Columns {
	return models.Columns{
		Key:       cfg.KeyColumn,
		Primary:   opCount,
		Secondary: countDistinctColumn(cfg.UserColumn),
	}
}

// FetchBotInteractions returns per-bot event counts for interval
func (s *Service) FetchBotInteractions(ctx context.Context, interval models.TimeInterval) (*models.MergedResult, error) {
	return s.fetcher.Fetch(ctx, interval, s.fetchBots)
}

func (s *Service) fetchBots(ctx context.Context, interval models.TimeInterval, params models.QueryParams) ([]models.Record, error) {
	calculations := []Calculation{{Op: opCount}}
	if params.IncludeSecondary {
		calculations = append(calculations, Calculation{Op: opCountDistinct, Column: s.cfg.UserColumn})
	}

	spec := QuerySpec{
		Calculations: calculations,
		Breakdowns:   []string{s.cfg.KeyColumn},
		StartTime:    interval.StartUnix(),
		EndTime:      interval.EndUnix(),
		Filters:      []Filter{exists(s.cfg.KeyColumn)},
		Orders:       []Order{{Op: opCount, Order: "descending"}},
		Limit:        params.RowLimit,
	}

	return s.runQuery(ctx, spec, interfaces.CallHeavy)
}

// FetchLoginStats counts logins in interval and splits users into new and returning
func (s *Service) FetchLoginStats(ctx context.Context, interval models.TimeInterval) (*models.LoginStats, error) {
	userColumn := countDistinctColumn(s.cfg.UserColumn)
	loginFilters := []Filter{
		equals(s.cfg.EventColumn, s.cfg.LoginEvent),
		exists(s.cfg.UserColumn),
	}

	current, err := s.runQuery(ctx, QuerySpec{
		Calculations: []Calculation{
			{Op: opCount},
			{Op: opCountDistinct, Column: s.cfg.UserColumn},
		},
		StartTime: interval.StartUnix(),
		EndTime:   interval.EndUnix(),
		Filters:   loginFilters,
	}, interfaces.CallHeavy)
	if err != nil {
		return nil, fmt.Errorf("login stats: %w", err)
	}
	if len(current) == 0 {
		return nil, ErrNoLoginData
	}

	totalLogins, _ := current[0].Number(opCount)
	uniqueUsers, _ := current[0].Number(userColumn)

	var historicalUsers float64
	historyEnd := interval.StartUnix() - 1
	if historyEnd > s.cfg.HistoryStart {
		historical, err := s.runQuery(ctx, QuerySpec{
			Calculations: []Calculation{{Op: opCountDistinct, Column: s.cfg.UserColumn}},
			StartTime:    s.cfg.HistoryStart,
			EndTime:      historyEnd,
			Filters:      loginFilters,
		}, interfaces.CallHeavy)
		if err != nil {
			return nil, fmt.Errorf("historical login users: %w", err)
		}
		if len(historical) > 0 {
			historicalUsers, _ = historical[0].Number(userColumn)
		}
	}

	stats := &models.LoginStats{
		TotalLogins:      int64(totalLogins),
		UniqueLoginUsers: int64(uniqueUsers),
	}
	// Approximation: returning users are bounded by the historical distinct count
	stats.ReturningUsers = min(stats.UniqueLoginUsers, int64(historicalUsers))
	stats.NewUsers = stats.UniqueLoginUsers - stats.ReturningUsers

	s.logger.Info().
		Int64("logins", stats.TotalLogins).
		Int64("unique_users", stats.UniqueLoginUsers).
		Int64("new_users", stats.NewUsers).
		Int64("returning_users", stats.ReturningUsers).
		Msg("Login stats fetched")

	return stats, nil
}

// FetchUserFunnel counts each configured funnel step and derives conversion rates.
// A step whose query fails counts zero.
func (s *Service) FetchUserFunnel(ctx context.Context, interval models.TimeInterval) (*models.UserFunnel, error) {
	counts := make([]int64, len(s.cfg.FunnelSteps))

	countStep := func(i int) {
		step := s.cfg.FunnelSteps[i]
		records, err := s.runQuery(ctx, QuerySpec{
			Calculations: []Calculation{{Op: opCount}},
			StartTime:    interval.StartUnix(),
			EndTime:      interval.EndUnix(),
			Filters: []Filter{
				equals(s.cfg.EventColumn, step.EventType),
				exists(s.cfg.UserColumn),
			},
		}, interfaces.CallLight)
		if err != nil {
			s.logger.Warn().Err(err).Str("event_type", step.EventType).Msg("Funnel step query failed, counting zero")
			return
		}
		if len(records) == 0 {
			s.logger.Warn().Str("event_type", step.EventType).Msg("No data for funnel step")
			return
		}
		n, _ := records[0].Number(opCount)
		counts[i] = int64(n)
	}

	if s.cfg.SequentialFunnel {
		for i := range s.cfg.FunnelSteps {
			if ctx.Err() != nil {
				break
			}
			countStep(i)
		}
	} else {
		var wg sync.WaitGroup
		for i := range s.cfg.FunnelSteps {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				defer common.RecoverAndLog(s.logger, "funnel-step")
				countStep(i)
			}(i)
		}
		wg.Wait()
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	funnel := BuildFunnel(s.cfg.FunnelSteps, counts)
	funnel.StartTime = interval.Start.UTC().Format(time.RFC3339)
	funnel.EndTime = interval.End.UTC().Format(time.RFC3339)

	return funnel, nil
}

// BuildFunnel computes step and overall conversion percentages, rounded to 2 places.
// The first step is always 100; a zero denominator gives 0.
func BuildFunnel(steps []common.FunnelStepConfig, counts []int64) *models.UserFunnel {
	funnel := &models.UserFunnel{Steps: make([]models.FunnelStep, 0, len(steps))}
	if len(counts) == 0 {
		return funnel
	}

	first := counts[0]
	funnel.TotalUserDays = first

	for i, step := range steps {
		fs := models.FunnelStep{
			Name:                  step.Name,
			EventType:             step.EventType,
			UserDayCount:          counts[i],
			ConversionRate:        100,
			OverallConversionRate: 100,
		}
		if i > 0 {
			fs.ConversionRate = percent(counts[i], counts[i-1])
			fs.OverallConversionRate = percent(counts[i], first)
		}
		funnel.Steps = append(funnel.Steps, fs)
	}

	return funnel
}

func percent(n, of int64) float64 {
	if of <= 0 {
		return 0
	}
	return batching.RoundTo(float64(n)/float64(of)*100, 2)
}

func (s *Service) runQuery(ctx context.Context, spec QuerySpec, weight interfaces.CallWeight) ([]models.Record, error) {
	args := map[string]interface{}{
		"environment_slug":           s.cfg.EnvironmentSlug,
		"dataset_slug":               s.cfg.DatasetSlug,
		"query_spec":                 spec,
		"disable_total_by_aggregate": false,
		"enable_series":              false,
	}

	payload, err := s.caller.CallTool(ctx, s.cfg.ToolName, args, weight)
	if err != nil {
		return nil, err
	}

	outcome, err := decoder.Decode(payload)
	if err != nil {
		return nil, err
	}

	s.logger.Debug().
		Int("records", len(outcome.Records)).
		Str("query_url", outcome.QueryURL).
		Str("query_id", outcome.QueryID).
		Msg("Query decoded")

	return outcome.Records, nil
}
