package common

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	Logging     LoggingConfig   `toml:"logging"`
	MCP         MCPConfig       `toml:"mcp"`
	Honeycomb   HoneycombConfig `toml:"honeycomb"`
	Batching    BatchingConfig  `toml:"batching"`
	Revenue     RevenueConfig   `toml:"revenue"`
	Dashboard   DashboardConfig `toml:"dashboard"`
	Scheduler   SchedulerConfig `toml:"scheduler"`
	Refresh     RefreshConfig   `toml:"refresh"`
}

type ServerConfig struct {
	Port         int    `toml:"port" validate:"min=1,max=65535"`
	Host         string `toml:"host"`
	WriteTimeout string `toml:"write_timeout" validate:"omitempty,duration"` // Empty derives it from the fetch budget
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path              string `toml:"path" validate:"required"` // Database directory path
	ResetOnStartup    bool   `toml:"reset_on_startup"`         // Delete database on startup for clean test runs
	SnapshotRetention int    `toml:"snapshot_retention"`       // Snapshots kept after each save (0 = keep all)
}

type LoggingConfig struct {
	Level      string   `toml:"level" validate:"oneof=debug info warn error"`
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs (default: "15:04:05")
}

// MCPConfig describes the tool-call endpoint shared by all remote queries
type MCPConfig struct {
	URL              string            `toml:"url" validate:"required,url"`
	ClientName       string            `toml:"client_name" validate:"required"`
	ClientVersion    string            `toml:"client_version"`
	ConnectTimeout   string            `toml:"connect_timeout" validate:"duration"`    // Session initialize budget
	CallTimeout      string            `toml:"call_timeout" validate:"duration"`       // Heavy analytical queries
	LightCallTimeout string            `toml:"light_call_timeout" validate:"duration"` // Single-metric queries
	Headers          map[string]string `toml:"headers"`
}

// FunnelStepConfig is one funnel stage and the event that marks it
type FunnelStepConfig struct {
	Name      string `toml:"name" validate:"required"`
	EventType string `toml:"event_type" validate:"required"`
}

// HoneycombConfig holds the event-query dataset and column names
type HoneycombConfig struct {
	ToolName         string             `toml:"tool_name" validate:"required"`
	EnvironmentSlug  string             `toml:"environment_slug" validate:"required"`
	DatasetSlug      string             `toml:"dataset_slug" validate:"required"`
	KeyColumn        string             `toml:"key_column" validate:"required"`  // Grouping dimension (bot slug)
	UserColumn       string             `toml:"user_column" validate:"required"` // Distinct-count column
	EventColumn      string             `toml:"event_column" validate:"required"`
	LoginEvent       string             `toml:"login_event" validate:"required"`
	HistoryStart     int64              `toml:"history_start"` // Earliest event timestamp (unix seconds)
	FunnelSteps      []FunnelStepConfig `toml:"funnel_steps" validate:"dive"`
	SequentialFunnel bool               `toml:"sequential_funnel"`
}

// LimitTier maps a maximum interval width to query size limits
type LimitTier struct {
	MaxWidth         string `toml:"max_width" validate:"duration"`
	RowLimit         int    `toml:"row_limit" validate:"min=1"`
	IncludeSecondary bool   `toml:"include_secondary"`
}

// BatchingConfig holds the partitioning, retry and pacing tunables
type BatchingConfig struct {
	DirectThreshold string      `toml:"direct_threshold" validate:"duration"` // Widths above this are partitioned
	BatchWidth      string      `toml:"batch_width" validate:"duration"`
	MaxRetries      int         `toml:"max_retries" validate:"min=0"` // Retries after the first attempt
	RetryDelay      string      `toml:"retry_delay" validate:"duration"`
	PacingDelay     string      `toml:"pacing_delay" validate:"duration"` // Wait after a successful non-final batch
	MergePolicy     string      `toml:"merge_policy" validate:"oneof=sum max"`
	Tiers           []LimitTier `toml:"tiers" validate:"min=1,dive"`
	FallbackLimit   int         `toml:"fallback_limit" validate:"min=1"` // Used when no tier matches
}

// RevenueConfig holds the billing SQL tool settings
type RevenueConfig struct {
	ToolName string `toml:"tool_name" validate:"required"`
	Table    string `toml:"table" validate:"required"`
}

// DashboardConfig holds date resolution and refresh defaults
type DashboardConfig struct {
	TimeZone          string `toml:"time_zone" validate:"required"`
	DefaultStart      int64  `toml:"default_start"`                            // Used when startDate is omitted
	RefreshWindow     string `toml:"refresh_window" validate:"duration"`       // Range fetched by refresh
	LimitReducedAfter string `toml:"limit_reduced_after" validate:"duration"` // Ranges wider than this flag limitReduced
}

type SchedulerConfig struct {
	Enabled  bool   `toml:"enabled"`
	Schedule string `toml:"schedule"` // Cron schedule format
}

// RefreshConfig limits manual refresh requests
type RefreshConfig struct {
	MinInterval string `toml:"min_interval" validate:"duration"`
	Burst       int    `toml:"burst" validate:"min=1"`
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port:         8085,
			Host:         "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path:              "./data/vigil",
				ResetOnStartup:    false,
				SnapshotRetention: 50,
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout", "file"},
			TimeFormat: "15:04:05",
		},
		MCP: MCPConfig{
			URL:              "http://localhost:3000/mcp",
			ClientName:       "vigil",
			ClientVersion:    "1.0.0",
			ConnectTimeout:   "30s",
			CallTimeout:      "180s",
			LightCallTimeout: "120s",
		},
		Honeycomb: HoneycombConfig{
			ToolName:        "honeycomb-run_query",
			EnvironmentSlug: "dev",
			DatasetSlug:     "myshell-art-web",
			KeyColumn:       "slug_id",
			UserColumn:      "user_id",
			EventColumn:     "name",
			LoginEvent:      "auth_success_art",
			HistoryStart:    1727020800, // 2024-09-22, first recorded event
			FunnelSteps: []FunnelStepConfig{
				{Name: "Authenticated", EventType: "auth_success_art"},
				{Name: "Image upload", EventType: "image_upload_start_art"},
				{Name: "Generation", EventType: "generation_start_art"},
				{Name: "Download", EventType: "download_click_art"},
				{Name: "Share", EventType: "share_click_art"},
			},
			SequentialFunnel: true,
		},
		Batching: BatchingConfig{
			DirectThreshold: "48h", // Some 3-day direct queries time out upstream
			BatchWidth:      "48h",
			MaxRetries:      4,
			RetryDelay:      "5s",
			PacingDelay:     "3s",
			MergePolicy:     "sum",
			Tiers: []LimitTier{
				{MaxWidth: "48h", RowLimit: 200, IncludeSecondary: true},
				{MaxWidth: "72h", RowLimit: 150, IncludeSecondary: false},
			},
			FallbackLimit: 100,
		},
		Revenue: RevenueConfig{
			ToolName: "bytebase-execute_sql",
			Table:    "my_shell_prod.user_subscription_stripe_orders",
		},
		Dashboard: DashboardConfig{
			TimeZone:          "UTC",
			DefaultStart:      1760486400, // 2025-10-15
			RefreshWindow:     "168h",
			LimitReducedAfter: "168h",
		},
		Scheduler: SchedulerConfig{
			Enabled:  false,
			Schedule: "0 */30 * * * *", // Every 30 minutes
		},
		Refresh: RefreshConfig{
			MinInterval: "1m",
			Burst:       1,
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority: default -> file1 -> file2 -> ... -> env
// Later files override earlier files. CLI flags are applied afterwards by the caller.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("VIGIL_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("VIGIL_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("VIGIL_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Storage configuration
	if badgerPath := os.Getenv("VIGIL_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	// Logging configuration
	if level := os.Getenv("VIGIL_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("VIGIL_LOG_OUTPUT"); output != "" {
		outputs := splitList(output)
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// MCP configuration
	if url := os.Getenv("VIGIL_MCP_URL"); url != "" {
		config.MCP.URL = url
	}
	if timeout := os.Getenv("VIGIL_MCP_CONNECT_TIMEOUT"); timeout != "" {
		config.MCP.ConnectTimeout = timeout
	}
	if timeout := os.Getenv("VIGIL_MCP_CALL_TIMEOUT"); timeout != "" {
		config.MCP.CallTimeout = timeout
	}
	if timeout := os.Getenv("VIGIL_MCP_LIGHT_CALL_TIMEOUT"); timeout != "" {
		config.MCP.LightCallTimeout = timeout
	}

	// Honeycomb configuration
	if env := os.Getenv("VIGIL_HONEYCOMB_ENVIRONMENT"); env != "" {
		config.Honeycomb.EnvironmentSlug = env
	}
	if dataset := os.Getenv("VIGIL_HONEYCOMB_DATASET"); dataset != "" {
		config.Honeycomb.DatasetSlug = dataset
	}

	// Batching configuration
	if policy := os.Getenv("VIGIL_BATCHING_MERGE_POLICY"); policy != "" {
		config.Batching.MergePolicy = strings.ToLower(policy)
	}
	if retries := os.Getenv("VIGIL_BATCHING_MAX_RETRIES"); retries != "" {
		if r, err := strconv.Atoi(retries); err == nil {
			config.Batching.MaxRetries = r
		}
	}
	if delay := os.Getenv("VIGIL_BATCHING_RETRY_DELAY"); delay != "" {
		config.Batching.RetryDelay = delay
	}
	if delay := os.Getenv("VIGIL_BATCHING_PACING_DELAY"); delay != "" {
		config.Batching.PacingDelay = delay
	}

	// Dashboard configuration
	if tz := os.Getenv("VIGIL_DASHBOARD_TIME_ZONE"); tz != "" {
		config.Dashboard.TimeZone = tz
	}

	// Scheduler configuration
	if enabled := os.Getenv("VIGIL_SCHEDULER_ENABLED"); enabled != "" {
		if e, err := strconv.ParseBool(enabled); err == nil {
			config.Scheduler.Enabled = e
		}
	}
	if schedule := os.Getenv("VIGIL_SCHEDULER_SCHEDULE"); schedule != "" {
		config.Scheduler.Schedule = schedule
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string, mcpURL string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
	if mcpURL != "" {
		config.MCP.URL = mcpURL
	}
}

// Validate checks field constraints and the cross-field batching invariants
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		d, err := time.ParseDuration(fl.Field().String())
		return err == nil && d >= 0
	}); err != nil {
		return fmt.Errorf("failed to register duration validation: %w", err)
	}

	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if _, err := time.LoadLocation(c.Dashboard.TimeZone); err != nil {
		return fmt.Errorf("invalid dashboard time_zone %q: %w", c.Dashboard.TimeZone, err)
	}

	if c.Scheduler.Enabled {
		if err := ValidateSchedule(c.Scheduler.Schedule); err != nil {
			return err
		}
	}

	b := c.Batching
	if b.BatchWidthDuration() <= 0 {
		return fmt.Errorf("batching.batch_width must be positive")
	}
	if b.BatchWidthDuration() > b.DirectThresholdDuration() {
		return fmt.Errorf("batching.batch_width (%s) must not exceed batching.direct_threshold (%s)", b.BatchWidth, b.DirectThreshold)
	}

	tiers := b.SortedTiers()
	if tiers[0].MaxWidth < b.BatchWidthDuration() {
		return fmt.Errorf("batching.tiers: first tier (%s) must cover batch_width (%s)", tiers[0].MaxWidth, b.BatchWidth)
	}

	return nil
}

// ValidateSchedule checks a six-field cron expression with seconds
func ValidateSchedule(schedule string) error {
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", schedule, err)
	}
	return nil
}

// ResolvedTier is a LimitTier with its width parsed
type ResolvedTier struct {
	MaxWidth         time.Duration
	RowLimit         int
	IncludeSecondary bool
}

// SortedTiers returns the limit tiers ordered by width ascending
func (b BatchingConfig) SortedTiers() []ResolvedTier {
	tiers := make([]ResolvedTier, 0, len(b.Tiers))
	for _, t := range b.Tiers {
		tiers = append(tiers, ResolvedTier{
			MaxWidth:         ParseDurationOr(t.MaxWidth, 0),
			RowLimit:         t.RowLimit,
			IncludeSecondary: t.IncludeSecondary,
		})
	}
	sort.SliceStable(tiers, func(i, j int) bool { return tiers[i].MaxWidth < tiers[j].MaxWidth })
	return tiers
}

func (b BatchingConfig) DirectThresholdDuration() time.Duration {
	return ParseDurationOr(b.DirectThreshold, 48*time.Hour)
}

func (b BatchingConfig) BatchWidthDuration() time.Duration {
	return ParseDurationOr(b.BatchWidth, 48*time.Hour)
}

func (b BatchingConfig) RetryDelayDuration() time.Duration {
	return ParseDurationOr(b.RetryDelay, 5*time.Second)
}

func (b BatchingConfig) PacingDelayDuration() time.Duration {
	return ParseDurationOr(b.PacingDelay, 3*time.Second)
}

const (
	minWriteTimeout = 5 * time.Minute
	responseMargin  = 15 * time.Second
)

// FetchBudget estimates how long one dashboard build over width takes when
// every upstream call runs to its timeout. Retries are not counted.
func (c *Config) FetchBudget(width time.Duration) time.Duration {
	connect := ParseDurationOr(c.MCP.ConnectTimeout, 30*time.Second)
	heavy := connect + ParseDurationOr(c.MCP.CallTimeout, 180*time.Second)
	light := connect + ParseDurationOr(c.MCP.LightCallTimeout, 120*time.Second)

	batches := 1
	if width > c.Batching.DirectThresholdDuration() {
		batchWidth := c.Batching.BatchWidthDuration()
		batches = int((width + batchWidth - 1) / batchWidth)
	}

	bots := time.Duration(batches)*heavy + time.Duration(batches-1)*c.Batching.PacingDelayDuration()
	logins := 2 * heavy
	funnel := time.Duration(len(c.Honeycomb.FunnelSteps)) * light

	return bots + logins + funnel
}

// WriteTimeoutDuration returns server.write_timeout, or when unset the fetch
// budget for dashboard.limit_reduced_after plus a margin, at least 5m
func (c *Config) WriteTimeoutDuration() time.Duration {
	if d := ParseDurationOr(c.Server.WriteTimeout, 0); d > 0 {
		return d
	}
	width := ParseDurationOr(c.Dashboard.LimitReducedAfter, 7*24*time.Hour)
	return max(c.FetchBudget(width)+responseMargin, minWriteTimeout)
}

// RequestTimeout is the deadline handlers give a dashboard build, leaving room
// to write an error response before the server write timeout closes the connection
func (c *Config) RequestTimeout() time.Duration {
	timeout := c.WriteTimeoutDuration()
	if timeout > 2*responseMargin {
		return timeout - responseMargin
	}
	return timeout / 2
}

// ParseDurationOr parses s, returning fallback when s is empty or invalid
func ParseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
