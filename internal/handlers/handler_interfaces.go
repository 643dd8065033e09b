package handlers

import (
	"context"

	"github.com/ternarybob/vigil/internal/interfaces"
	"github.com/ternarybob/vigil/internal/models"
)

// DashboardService is what the dashboard handlers need from the composition service
type DashboardService interface {
	interfaces.DashboardService
	Periods(count int) []models.WeekPeriod
	SnapshotHistory(ctx context.Context, limit int) ([]*models.Snapshot, error)
}
