// Package dashboard composes bot, login and funnel metrics into the dashboard
// dataset and keeps the last good copy as a snapshot.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/vigil/internal/common"
	"github.com/ternarybob/vigil/internal/interfaces"
	"github.com/ternarybob/vigil/internal/metrics"
	"github.com/ternarybob/vigil/internal/models"
	"github.com/ternarybob/vigil/internal/toolcall"
)

const dateLayout = "2006-01-02"

var (
	// ErrInvalidDate is returned for dates not in YYYY-MM-DD form
	ErrInvalidDate = errors.New("invalid date, expected YYYY-MM-DD")

	// ErrInvertedRange is returned when the end date precedes the start date
	ErrInvertedRange = errors.New("end date is before start date")

	// ErrRefreshInProgress is returned when a refresh is already running
	ErrRefreshInProgress = errors.New("refresh already in progress")
)

// Service implements interfaces.DashboardService
type Service struct {
	cfg               common.DashboardConfig
	location          *time.Location
	refreshWindow     time.Duration
	limitReducedAfter time.Duration
	retention         int

	activity  interfaces.ActivityService
	snapshots interfaces.SnapshotStorage
	events    interfaces.EventService
	metrics   *metrics.Metrics
	logger    arbor.ILogger

	refreshMu sync.Mutex
	now       func() time.Time
}

var _ interfaces.DashboardService = (*Service)(nil)

// NewService creates a dashboard service. snapshots and events may be nil.
func NewService(
	cfg common.DashboardConfig,
	retention int,
	activity interfaces.ActivityService,
	snapshots interfaces.SnapshotStorage,
	events interfaces.EventService,
	m *metrics.Metrics,
	logger arbor.ILogger,
) (*Service, error) {
	location, err := time.LoadLocation(cfg.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("load time zone %q: %w", cfg.TimeZone, err)
	}

	return &Service{
		cfg:               cfg,
		location:          location,
		refreshWindow:     common.ParseDurationOr(cfg.RefreshWindow, 7*24*time.Hour),
		limitReducedAfter: common.ParseDurationOr(cfg.LimitReducedAfter, 7*24*time.Hour),
		retention:         retention,
		activity:          activity,
		snapshots:         snapshots,
		events:            events,
		metrics:           m,
		logger:            logger,
		now:               time.Now,
	}, nil
}

// Location returns the zone dates are resolved in
func (s *Service) Location() *time.Location {
	return s.location
}

// Resolve turns optional YYYY-MM-DD dates into a half-open interval.
// The end date is inclusive: the interval runs to midnight after it.
// A missing start uses the configured default; a missing end uses now.
func (s *Service) Resolve(startDate, endDate string) (models.TimeInterval, models.DashboardQuery, error) {
	now := s.now().In(s.location).Truncate(time.Second)
	startDate = strings.TrimSpace(startDate)
	endDate = strings.TrimSpace(endDate)

	var start, end time.Time
	query := models.DashboardQuery{StartDate: startDate, EndDate: endDate}

	if startDate != "" {
		d, err := time.ParseInLocation(dateLayout, startDate, s.location)
		if err != nil {
			return models.TimeInterval{}, query, fmt.Errorf("startDate %q: %w", startDate, ErrInvalidDate)
		}
		start = d
	} else {
		start = time.Unix(s.cfg.DefaultStart, 0).In(s.location)
		query.StartDate = start.Format(dateLayout)
	}

	if endDate != "" {
		d, err := time.ParseInLocation(dateLayout, endDate, s.location)
		if err != nil {
			return models.TimeInterval{}, query, fmt.Errorf("endDate %q: %w", endDate, ErrInvalidDate)
		}
		end = d.AddDate(0, 0, 1)
	} else {
		end = now
		query.EndDate = now.Format(dateLayout)
	}

	if !end.After(start) {
		return models.TimeInterval{}, query, ErrInvertedRange
	}

	interval := models.TimeInterval{Start: start.UTC(), End: end.UTC()}
	query.StartTime = interval.StartUnix()
	query.EndTime = interval.EndUnix()

	return interval, query, nil
}

// Build fetches bots, login stats and the funnel for interval, in that order.
// Login and funnel failures leave their sections empty. A bot failure is
// reported through ErrorInfo, and the latest snapshot is served instead when
// one exists.
func (s *Service) Build(ctx context.Context, interval models.TimeInterval, query models.DashboardQuery) (*models.DashboardResponse, error) {
	buildID := common.NewRunID()
	started := s.now()

	s.logger.Info().
		Str("build_id", buildID).
		Str("interval", interval.String()).
		Msg("Building dashboard")

	response := &models.DashboardResponse{
		Success:      true,
		LimitReduced: interval.Width() > s.limitReducedAfter,
		Query:        query,
	}

	var data *models.DashboardData
	result, botErr := s.activity.FetchBotInteractions(ctx, interval)
	if botErr != nil {
		s.logger.Warn().
			Err(botErr).
			Str("build_id", buildID).
			Msg("Bot data query failed, returning partial data")

		response.BotDataFailed = true
		response.PartialData = true
		data = s.fallback(ctx, botErr)
	} else {
		transformed := Transform(result, s.now())
		data = &transformed
	}

	if stats, err := s.activity.FetchLoginStats(ctx, interval); err != nil {
		s.logger.Warn().Err(err).Str("build_id", buildID).Msg("Login stats query failed")
	} else {
		data.LoginStats = stats
	}

	if funnel, err := s.activity.FetchUserFunnel(ctx, interval); err != nil {
		s.logger.Warn().Err(err).Str("build_id", buildID).Msg("User funnel query failed")
	} else {
		data.UserFunnel = funnel
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	response.Data = data

	s.logger.Info().
		Str("build_id", buildID).
		Int("bots", len(data.Bots)).
		Bool("bot_data_failed", response.BotDataFailed).
		Bool("degraded", data.Degraded).
		Dur("elapsed", s.now().Sub(started)).
		Msg("Dashboard built")

	return response, nil
}

// fallback returns the latest snapshot's data, or an empty dataset, with ErrorInfo set
func (s *Service) fallback(ctx context.Context, cause error) *models.DashboardData {
	info := ClassifyError(cause)

	if s.snapshots != nil {
		snap, err := s.snapshots.Latest(ctx)
		if err == nil {
			data := snap.Data
			data.FromCache = true
			data.ErrorInfo = info
			data.LoginStats = nil
			data.UserFunnel = nil
			return &data
		}
		if !errors.Is(err, interfaces.ErrSnapshotNotFound) {
			s.logger.Warn().Err(err).Msg("Failed to read fallback snapshot")
		}
	}

	return &models.DashboardData{
		LastUpdate: s.now(),
		Bots:       []models.BotInteraction{},
		ErrorInfo:  info,
	}
}

// ClassifyError maps a bot query failure to the ErrorInfo shown to users
func ClassifyError(err error) *models.ErrorInfo {
	if toolcall.IsTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return &models.ErrorInfo{
			Type:       models.ErrorTypeTimeout,
			Message:    err.Error(),
			Suggestion: "The query timed out. Try a narrower date range or retry later.",
		}
	}
	return &models.ErrorInfo{
		Type:       models.ErrorTypeError,
		Message:    err.Error(),
		Suggestion: "The query failed. Check connectivity to the query service or retry later.",
	}
}

// Refresh builds the dashboard for the refresh window ending now and stores it.
// Only one refresh runs at a time.
func (s *Service) Refresh(ctx context.Context) (*models.Snapshot, error) {
	if !s.refreshMu.TryLock() {
		return nil, ErrRefreshInProgress
	}
	defer s.refreshMu.Unlock()

	end := s.now().Truncate(time.Second)
	interval := models.TimeInterval{Start: end.Add(-s.refreshWindow).UTC(), End: end.UTC()}
	query := models.DashboardQuery{
		StartDate: interval.Start.In(s.location).Format(dateLayout),
		EndDate:   interval.End.In(s.location).Format(dateLayout),
		StartTime: interval.StartUnix(),
		EndTime:   interval.EndUnix(),
	}

	response, err := s.Build(ctx, interval, query)
	if err != nil {
		return nil, err
	}
	if response.BotDataFailed {
		return nil, fmt.Errorf("refresh: bot data unavailable: %s", response.Data.ErrorInfo.Message)
	}

	snapshot := &models.Snapshot{
		ID:          common.NewSnapshotID(),
		CreatedUnix: s.now().Unix(),
		Interval:    interval,
		Data:        *response.Data,
	}

	if s.snapshots != nil {
		if err := s.snapshots.Save(ctx, snapshot); err != nil {
			return nil, fmt.Errorf("save snapshot: %w", err)
		}
		if s.retention > 0 {
			if removed, err := s.snapshots.Prune(ctx, s.retention); err != nil {
				s.logger.Warn().Err(err).Msg("Failed to prune snapshots")
			} else if removed > 0 {
				s.logger.Debug().Int("removed", removed).Msg("Pruned old snapshots")
			}
		}
	}

	s.metrics.RecordSnapshot()

	if s.events != nil {
		if err := s.events.Publish(ctx, interfaces.Event{Type: interfaces.EventSnapshotSaved, Payload: snapshot}); err != nil {
			s.logger.Debug().Err(err).Msg("Failed to publish snapshot event")
		}
	}

	s.logger.Info().
		Str("snapshot_id", snapshot.ID).
		Int("bots", len(snapshot.Data.Bots)).
		Bool("degraded", snapshot.Data.Degraded).
		Msg("Snapshot refreshed")

	return snapshot, nil
}

// LatestSnapshot returns the most recent stored snapshot
func (s *Service) LatestSnapshot(ctx context.Context) (*models.Snapshot, error) {
	if s.snapshots == nil {
		return nil, interfaces.ErrSnapshotNotFound
	}
	return s.snapshots.Latest(ctx)
}

// SnapshotHistory returns up to limit snapshots, newest first
func (s *Service) SnapshotHistory(ctx context.Context, limit int) ([]*models.Snapshot, error) {
	if s.snapshots == nil {
		return nil, nil
	}
	return s.snapshots.History(ctx, limit)
}
