package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/vigil/internal/common"
	"github.com/ternarybob/vigil/internal/interfaces"
	"github.com/ternarybob/vigil/internal/services/status"
)

// RefreshJobName is the scheduler job that refreshes the snapshot
const RefreshJobName = "snapshot_refresh"

type APIHandler struct {
	dashboard DashboardService
	scheduler interfaces.SchedulerService
	status    *status.Service
	logger    arbor.ILogger
}

// NewAPIHandler creates the ops handler. scheduler and status may be nil.
func NewAPIHandler(dashboard DashboardService, scheduler interfaces.SchedulerService, statusService *status.Service, logger arbor.ILogger) *APIHandler {
	return &APIHandler{
		dashboard: dashboard,
		scheduler: scheduler,
		status:    statusService,
		logger:    logger,
	}
}

// VersionHandler returns version information
func (h *APIHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	WriteJSON(w, http.StatusOK, common.GetVersionInfo())
}

// HealthHandler returns health check status with snapshot freshness
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	health := map[string]interface{}{
		"status": "ok",
	}

	snapshot, err := h.dashboard.LatestSnapshot(r.Context())
	switch {
	case err == nil:
		created := time.Unix(snapshot.CreatedUnix, 0).UTC()
		health["snapshot"] = map[string]interface{}{
			"id":          snapshot.ID,
			"created_at":  created.Format(time.RFC3339),
			"age_seconds": int64(time.Since(created).Seconds()),
		}
	case errors.Is(err, interfaces.ErrSnapshotNotFound):
		health["snapshot"] = nil
	default:
		h.logger.Warn().Err(err).Msg("Health check could not read snapshot")
		health["snapshot_error"] = err.Error()
	}

	if h.status != nil {
		health["app"] = h.status.GetStatus()
	}

	if h.scheduler != nil {
		if status, err := h.scheduler.GetJobStatus(RefreshJobName); err == nil {
			health["scheduler"] = status
		}
	}

	WriteJSON(w, http.StatusOK, health)
}

// NotFoundHandler handles 404 errors with JSON response
func (h *APIHandler) NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusNotFound, map[string]interface{}{
		"success": false,
		"error":   "Not Found",
		"path":    r.URL.Path,
	})
}
