package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// API routes - Dashboard
	mux.HandleFunc("/api/data", s.app.DashboardHandler.DataHandler)
	mux.HandleFunc("/api/bots", s.app.DashboardHandler.BotsHandler)
	mux.HandleFunc("/api/export.csv", s.app.DashboardHandler.ExportHandler)
	mux.HandleFunc("/api/periods", s.app.DashboardHandler.PeriodsHandler)
	mux.HandleFunc("/api/snapshot", s.app.DashboardHandler.SnapshotHandler)
	mux.HandleFunc("/api/refresh", s.app.DashboardHandler.RefreshHandler)

	// API routes - Revenue
	mux.HandleFunc("/api/revenue", s.app.RevenueHandler.GetRevenueHandler)

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	// MCP (Model Context Protocol) endpoint over the stored snapshots
	mux.Handle("/mcp", s.app.MCPHandler)

	// Prometheus scrape endpoint
	mux.Handle("/metrics", promhttp.HandlerFor(s.app.Registry, promhttp.HandlerOpts{}))

	// 404 handler for everything else
	mux.HandleFunc("/", s.app.APIHandler.NotFoundHandler)

	return mux
}
