package interfaces

import (
	"context"

	"github.com/ternarybob/vigil/internal/models"
)

// RecordFetcher runs one remote query for a batch interval
type RecordFetcher func(ctx context.Context, interval models.TimeInterval, params models.QueryParams) ([]models.Record, error)

// ActivityService reads product analytics from the event-query backend
type ActivityService interface {
	FetchBotInteractions(ctx context.Context, interval models.TimeInterval) (*models.MergedResult, error)
	FetchLoginStats(ctx context.Context, interval models.TimeInterval) (*models.LoginStats, error)
	FetchUserFunnel(ctx context.Context, interval models.TimeInterval) (*models.UserFunnel, error)
}

// RevenueService reads order aggregates from the billing store
type RevenueService interface {
	FetchRevenueStats(ctx context.Context, interval models.TimeInterval) (*models.RevenueStats, error)
	FetchDailyRevenue(ctx context.Context, interval models.TimeInterval) ([]models.DailyRevenue, error)
}

// DashboardService composes the dashboard dataset
type DashboardService interface {
	Resolve(startDate, endDate string) (models.TimeInterval, models.DashboardQuery, error)
	Build(ctx context.Context, interval models.TimeInterval, query models.DashboardQuery) (*models.DashboardResponse, error)
	Refresh(ctx context.Context) (*models.Snapshot, error)
	LatestSnapshot(ctx context.Context) (*models.Snapshot, error)
}
