package handlers

import (
	"fmt"
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/vigil/internal/interfaces"
	"github.com/ternarybob/vigil/internal/models"
)

// RevenueHandler serves revenue totals and the daily trend
type RevenueHandler struct {
	dashboard DashboardService
	revenue   interfaces.RevenueService
	logger    arbor.ILogger
}

// NewRevenueHandler creates a RevenueHandler; dates resolve the same way as the dashboard
func NewRevenueHandler(dashboard DashboardService, revenue interfaces.RevenueService, logger arbor.ILogger) *RevenueHandler {
	return &RevenueHandler{
		dashboard: dashboard,
		revenue:   revenue,
		logger:    logger,
	}
}

// GetRevenueHandler handles GET /api/revenue
func (h *RevenueHandler) GetRevenueHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	q := r.URL.Query()
	interval, query, err := h.dashboard.Resolve(q.Get("startDate"), q.Get("endDate"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	stats, err := h.revenue.FetchRevenueStats(r.Context(), interval)
	if err != nil {
		h.logger.Error().Err(err).Msg("Revenue stats query failed")
		WriteError(w, http.StatusBadGateway, fmt.Sprintf("Failed to load revenue: %v", err))
		return
	}

	daily, err := h.revenue.FetchDailyRevenue(r.Context(), interval)
	if err != nil {
		h.logger.Error().Err(err).Msg("Daily revenue query failed")
		WriteError(w, http.StatusBadGateway, fmt.Sprintf("Failed to load daily revenue: %v", err))
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data": models.RevenueReport{
			Stats: *stats,
			Daily: daily,
			Query: query,
		},
	})
}
