package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/vigil/internal/common"
	"github.com/ternarybob/vigil/internal/interfaces"
	"github.com/ternarybob/vigil/internal/models"
	"github.com/ternarybob/vigil/internal/services/dashboard"
)

// DashboardHandler serves the dashboard dataset, bot filters, CSV export and snapshots
type DashboardHandler struct {
	dashboard      DashboardService
	refreshLimiter *rate.Limiter
	requestTimeout time.Duration
	logger         arbor.ILogger
}

// NewDashboardHandler creates a DashboardHandler. Manual refreshes are limited
// to one per cfg.MinInterval with cfg.Burst. Builds are cut off after
// requestTimeout; zero means no deadline.
func NewDashboardHandler(service DashboardService, cfg common.RefreshConfig, requestTimeout time.Duration, logger arbor.ILogger) *DashboardHandler {
	interval := common.ParseDurationOr(cfg.MinInterval, time.Minute)
	burst := max(cfg.Burst, 1)

	return &DashboardHandler{
		dashboard:      service,
		refreshLimiter: rate.NewLimiter(rate.Every(interval), burst),
		requestTimeout: requestTimeout,
		logger:         logger,
	}
}

// build resolves the request dates and builds the dashboard, writing any error response
func (h *DashboardHandler) build(w http.ResponseWriter, r *http.Request) (*models.DashboardResponse, bool) {
	q := r.URL.Query()
	interval, query, err := h.dashboard.Resolve(q.Get("startDate"), q.Get("endDate"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}

	ctx := r.Context()
	if h.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.requestTimeout)
		defer cancel()
	}

	response, err := h.dashboard.Build(ctx, interval, query)
	if errors.Is(err, context.DeadlineExceeded) {
		h.logger.Warn().Dur("timeout", h.requestTimeout).Str("interval", interval.String()).Msg("Dashboard build timed out")
		WriteError(w, http.StatusGatewayTimeout, fmt.Sprintf("Query did not finish within %s, try a narrower date range", h.requestTimeout))
		return nil, false
	}
	if err != nil {
		h.logger.Error().Err(err).Str("interval", interval.String()).Msg("Dashboard build failed")
		WriteError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load data: %v", err))
		return nil, false
	}

	return response, true
}

// DataHandler handles GET /api/data
func (h *DashboardHandler) DataHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	response, ok := h.build(w, r)
	if !ok {
		return
	}

	WriteJSON(w, http.StatusOK, response)
}

// BotsResponse is the payload of the bots endpoint
type BotsResponse struct {
	Success       bool                    `json:"success"`
	Preset        dashboard.Preset        `json:"preset"`
	Bots          []models.BotInteraction `json:"bots"`
	Stats         dashboard.FilterStats   `json:"stats"`
	DataRanges    dashboard.FilterRanges  `json:"dataRanges"`
	Applied       dashboard.FilterRanges  `json:"appliedRanges"`
	BotDataFailed bool                    `json:"botDataFailed"`
	ErrorInfo     *models.ErrorInfo       `json:"errorInfo,omitempty"`
	Query         models.DashboardQuery   `json:"query"`
}

// filterRanges reads the preset and explicit min/max bounds from the query string
func filterRanges(r *http.Request, observed dashboard.FilterRanges) (dashboard.Preset, dashboard.FilterRanges, error) {
	preset, err := dashboard.ParsePreset(r.URL.Query().Get("preset"))
	if err != nil {
		return "", dashboard.FilterRanges{}, err
	}

	ranges := dashboard.PresetRanges(preset, observed)
	bounds := []struct {
		name   string
		target *float64
	}{
		{"minEvents", &ranges.EventCount.Min},
		{"maxEvents", &ranges.EventCount.Max},
		{"minUsers", &ranges.UniqueUsers.Min},
		{"maxUsers", &ranges.UniqueUsers.Max},
		{"minActivity", &ranges.AvgActivity.Min},
		{"maxActivity", &ranges.AvgActivity.Max},
	}
	for _, b := range bounds {
		v, err := queryFloat(r, b.name)
		if err != nil {
			return "", dashboard.FilterRanges{}, err
		}
		if v != nil {
			*b.target = *v
		}
	}

	return preset, ranges, nil
}

// BotsHandler handles GET /api/bots
func (h *DashboardHandler) BotsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	// Validate filters before running the remote queries
	if _, _, err := filterRanges(r, dashboard.FilterRanges{}); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	response, ok := h.build(w, r)
	if !ok {
		return
	}

	observed := dashboard.DataRanges(response.Data.Bots)
	preset, applied, _ := filterRanges(r, observed)
	bots := dashboard.ApplyFilter(response.Data.Bots, applied)

	WriteJSON(w, http.StatusOK, BotsResponse{
		Success:       true,
		Preset:        preset,
		Bots:          bots,
		Stats:         dashboard.Stats(bots),
		DataRanges:    observed,
		Applied:       applied,
		BotDataFailed: response.BotDataFailed,
		ErrorInfo:     response.Data.ErrorInfo,
		Query:         response.Query,
	})
}

// ExportHandler handles GET /api/export.csv
func (h *DashboardHandler) ExportHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	if _, _, err := filterRanges(r, dashboard.FilterRanges{}); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	response, ok := h.build(w, r)
	if !ok {
		return
	}

	_, applied, _ := filterRanges(r, dashboard.DataRanges(response.Data.Bots))
	bots := dashboard.ApplyFilter(response.Data.Bots, applied)

	filename := fmt.Sprintf("bots_%s_%s.csv", response.Query.StartDate, response.Query.EndDate)
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)

	if err := dashboard.WriteCSV(w, bots); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to write CSV export")
	}
}

// PeriodsHandler handles GET /api/periods
func (h *DashboardHandler) PeriodsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	count, err := queryInt(r, "count", 4, 1, 52)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"periods": h.dashboard.Periods(count),
	})
}

// SnapshotHandler handles GET /api/snapshot. ?history=N lists the newest N snapshots.
func (h *DashboardHandler) SnapshotHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	if r.URL.Query().Has("history") {
		limit, err := queryInt(r, "history", 10, 1, 1000)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		snapshots, err := h.dashboard.SnapshotHistory(r.Context(), limit)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if snapshots == nil {
			snapshots = []*models.Snapshot{}
		}
		WriteJSON(w, http.StatusOK, map[string]interface{}{
			"success":   true,
			"snapshots": snapshots,
		})
		return
	}

	snapshot, err := h.dashboard.LatestSnapshot(r.Context())
	if errors.Is(err, interfaces.ErrSnapshotNotFound) {
		WriteError(w, http.StatusNotFound, "No snapshot stored yet")
		return
	}
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"snapshot": snapshot,
	})
}

// RefreshHandler handles POST /api/refresh and describes usage on GET
func (h *DashboardHandler) RefreshHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodPost) {
		return
	}

	if r.Method == http.MethodGet {
		WriteJSON(w, http.StatusOK, map[string]interface{}{
			"message": "POST to this endpoint to rebuild and store the dashboard snapshot",
			"note":    "Requests are rate limited; /api/snapshot returns the stored copy",
		})
		return
	}

	if !h.refreshLimiter.Allow() {
		w.Header().Set("Retry-After", "60")
		WriteError(w, http.StatusTooManyRequests, "Refresh requested too recently, try again later")
		return
	}

	snapshot, err := h.dashboard.Refresh(r.Context())
	if errors.Is(err, dashboard.ErrRefreshInProgress) {
		WriteError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Msg("Manual refresh failed")
		WriteError(w, http.StatusBadGateway, err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"message":     "Snapshot refreshed",
		"snapshot_id": snapshot.ID,
		"created":     snapshot.CreatedUnix,
		"bots":        len(snapshot.Data.Bots),
	})
}
