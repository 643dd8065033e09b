package models

import "time"

// BotInteraction is the per-bot row served to the dashboard
type BotInteraction struct {
	SlugID      string   `json:"slug_id"`
	EventCount  float64  `json:"eventCount"`
	UniqueUsers *float64 `json:"uniqueUsers,omitempty"`
	AvgActivity *float64 `json:"avgActivity,omitempty"`
}

// LoginStats summarizes successful logins within a range
type LoginStats struct {
	TotalLogins      int64 `json:"totalLogins"`
	UniqueLoginUsers int64 `json:"uniqueLoginUsers"`
	NewUsers         int64 `json:"newUsers"`
	ReturningUsers   int64 `json:"returningUsers"`
}

// FunnelStep is one stage of the user funnel
type FunnelStep struct {
	Name                  string  `json:"name"`
	EventType             string  `json:"eventType"`
	UserDayCount          int64   `json:"userDayCount"`
	ConversionRate        float64 `json:"conversionRate"`
	OverallConversionRate float64 `json:"overallConversionRate"`
}

// UserFunnel is the ordered list of funnel steps for a range
type UserFunnel struct {
	Steps         []FunnelStep `json:"steps"`
	StartTime     string       `json:"startTime"`
	EndTime       string       `json:"endTime"`
	TotalUserDays int64        `json:"totalUserDays"`
}

// ErrorInfo describes why the bot section could not be loaded
type ErrorInfo struct {
	Type       string `json:"type"` // "timeout" or "error"
	Message    string `json:"message"`
	Suggestion string `json:"suggestion"`
}

const (
	ErrorTypeTimeout = "timeout"
	ErrorTypeError   = "error"
)

// DashboardData is the shaped dataset for one range
type DashboardData struct {
	LastUpdate   time.Time        `json:"lastUpdate"`
	TotalEvents  float64          `json:"totalEvents"`
	TotalUsers   float64          `json:"totalUsers"`
	LoginStats   *LoginStats      `json:"loginStats,omitempty"`
	UserFunnel   *UserFunnel      `json:"userFunnel,omitempty"`
	Bots         []BotInteraction `json:"bots"`
	ErrorInfo    *ErrorInfo       `json:"errorInfo,omitempty"`
	Degraded     bool             `json:"degraded"`
	FailedRanges []TimeInterval   `json:"failedRanges,omitempty"`
	FromCache    bool             `json:"fromCache,omitempty"`
}

// DashboardQuery echoes the resolved request range
type DashboardQuery struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
	StartTime int64  `json:"startTime"`
	EndTime   int64  `json:"endTime"`
}

// DashboardResponse is the payload of the data endpoint
type DashboardResponse struct {
	Success       bool           `json:"success"`
	Data          *DashboardData `json:"data"`
	LimitReduced  bool           `json:"limitReduced"`
	BotDataFailed bool           `json:"botDataFailed"`
	PartialData   bool           `json:"partialData"`
	Query         DashboardQuery `json:"query"`
}

// Snapshot is a persisted copy of the last good dashboard dataset
type Snapshot struct {
	ID          string        `json:"id"`
	CreatedUnix int64         `json:"createdUnix"`
	Interval    TimeInterval  `json:"interval"`
	Data        DashboardData `json:"data"`
}

// WeekPeriod is one rolling period selectable on the dashboard
type WeekPeriod struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
	Label     string `json:"label"`
}
