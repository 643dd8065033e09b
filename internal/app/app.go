package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/vigil/internal/common"
	"github.com/ternarybob/vigil/internal/handlers"
	"github.com/ternarybob/vigil/internal/interfaces"
	"github.com/ternarybob/vigil/internal/metrics"
	"github.com/ternarybob/vigil/internal/services/batching"
	"github.com/ternarybob/vigil/internal/services/dashboard"
	"github.com/ternarybob/vigil/internal/services/events"
	"github.com/ternarybob/vigil/internal/services/honeycomb"
	"github.com/ternarybob/vigil/internal/services/mcp"
	"github.com/ternarybob/vigil/internal/services/revenue"
	"github.com/ternarybob/vigil/internal/services/scheduler"
	"github.com/ternarybob/vigil/internal/services/status"
	"github.com/ternarybob/vigil/internal/storage"
	"github.com/ternarybob/vigil/internal/toolcall"
)

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	Registry       *prometheus.Registry
	Metrics        *metrics.Metrics
	StorageManager interfaces.StorageManager

	// Event-driven services
	EventService     interfaces.EventService
	StatusService    *status.Service
	SchedulerService interfaces.SchedulerService

	// Remote query services
	ToolClient      *toolcall.Client
	BatchingService *batching.Service
	ActivityService interfaces.ActivityService
	RevenueService  interfaces.RevenueService

	// Composition
	DashboardService *dashboard.Service

	// HTTP handlers
	APIHandler       *handlers.APIHandler
	DashboardHandler *handlers.DashboardHandler
	RevenueHandler   *handlers.RevenueHandler
	WSHandler        *handlers.WebSocketHandler
	MCPHandler       http.Handler
}

// Option adjusts App construction, mainly for tests
type Option func(*App)

// WithToolClient replaces the tool-call client built from config
func WithToolClient(c *toolcall.Client) Option {
	return func(a *App) {
		a.ToolClient = c
	}
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger, opts ...Option) (*App, error) {
	app := &App{
		Config:   cfg,
		Logger:   logger,
		Registry: prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(app)
	}

	if err := app.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// Event bus first so the WebSocket handler can subscribe before any fetch runs
	app.EventService = events.NewService(app.Logger)
	if err := events.SubscribeLoggerToAllEvents(app.EventService, app.Logger); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to subscribe event logger: %w", err)
	}
	app.WSHandler = handlers.NewWebSocketHandler(app.EventService, app.Logger)

	app.StatusService = status.NewService(app.EventService, app.Logger)
	if err := app.StatusService.SubscribeToFetchEvents(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to subscribe status service: %w", err)
	}

	if err := app.initServices(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.initHandlers()

	logger.Info().
		Str("mcp_url", cfg.MCP.URL).
		Bool("scheduler_enabled", cfg.Scheduler.Enabled).
		Msg("Application initialization complete")

	return app, nil
}

func (a *App) initMetrics() error {
	if err := a.Registry.Register(collectors.NewGoCollector()); err != nil {
		return err
	}
	if err := a.Registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return err
	}

	m, err := metrics.NewMetrics(a.Registry)
	if err != nil {
		return err
	}
	a.Metrics = m
	return nil
}

// initDatabase initializes the storage layer (Badger)
func (a *App) initDatabase() error {
	storageManager, err := storage.NewStorageManager(a.Logger, a.Config)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}
	a.StorageManager = storageManager
	return nil
}

func (a *App) initServices() error {
	cfg := a.Config

	if a.ToolClient == nil {
		a.ToolClient = toolcall.NewClient(cfg.MCP.URL,
			toolcall.WithClientInfo(cfg.MCP.ClientName, cfg.MCP.ClientVersion),
			toolcall.WithHeaders(cfg.MCP.Headers),
			toolcall.WithTimeouts(
				common.ParseDurationOr(cfg.MCP.ConnectTimeout, 0),
				common.ParseDurationOr(cfg.MCP.CallTimeout, 0),
				common.ParseDurationOr(cfg.MCP.LightCallTimeout, 0),
			),
			toolcall.WithLogger(a.Logger),
			toolcall.WithMetrics(a.Metrics),
		)
	}

	adapter := batching.NewAdapter(cfg.Batching, a.Logger)
	orchestrator := batching.NewOrchestrator(cfg.Batching, a.Logger,
		batching.WithEvents(a.EventService),
		batching.WithMetrics(a.Metrics),
	)
	a.BatchingService = batching.NewService(
		cfg.Batching,
		honeycomb.BotColumns(cfg.Honeycomb),
		adapter,
		orchestrator,
		a.EventService,
		a.Metrics,
		a.Logger,
	)

	a.ActivityService = honeycomb.NewService(cfg.Honeycomb, a.ToolClient, a.BatchingService, a.Logger)
	a.RevenueService = revenue.NewService(cfg.Revenue, a.ToolClient, a.Logger)

	dashboardService, err := dashboard.NewService(
		cfg.Dashboard,
		cfg.Storage.Badger.SnapshotRetention,
		a.ActivityService,
		a.StorageManager.SnapshotStorage(),
		a.EventService,
		a.Metrics,
		a.Logger,
	)
	if err != nil {
		return err
	}
	a.DashboardService = dashboardService

	if cfg.Scheduler.Enabled {
		sched := scheduler.NewService(a.Logger)
		err := sched.RegisterJob(handlers.RefreshJobName, cfg.Scheduler.Schedule, func(ctx context.Context) error {
			_, err := a.DashboardService.Refresh(ctx)
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to register refresh job: %w", err)
		}
		a.SchedulerService = sched
	}

	return nil
}

func (a *App) initHandlers() {
	a.APIHandler = handlers.NewAPIHandler(a.DashboardService, a.SchedulerService, a.StatusService, a.Logger)
	a.DashboardHandler = handlers.NewDashboardHandler(a.DashboardService, a.Config.Refresh, a.Config.RequestTimeout(), a.Logger)
	a.RevenueHandler = handlers.NewRevenueHandler(a.DashboardService, a.RevenueService, a.Logger)
	a.MCPHandler = mcpserver.NewStreamableHTTPServer(mcp.NewServer(a.DashboardService, a.Logger))
}

// StartScheduler starts the refresh job when the scheduler is enabled
func (a *App) StartScheduler() error {
	if a.SchedulerService == nil {
		a.Logger.Debug().Msg("Scheduler disabled")
		return nil
	}
	return a.SchedulerService.Start()
}

// Close stops background work and releases storage
func (a *App) Close() error {
	if a.SchedulerService != nil {
		if err := a.SchedulerService.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop scheduler service")
		}
	}

	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}

// RefreshOnce builds and stores one snapshot, for the CLI refresh command
func (a *App) RefreshOnce(ctx context.Context, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	snapshot, err := a.DashboardService.Refresh(ctx)
	if err != nil {
		return err
	}

	a.Logger.Info().
		Str("snapshot_id", snapshot.ID).
		Int("bots", len(snapshot.Data.Bots)).
		Msg("Snapshot stored")
	return nil
}
