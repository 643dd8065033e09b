package dashboard

import (
	"fmt"
	"math"

	"github.com/ternarybob/vigil/internal/models"
)

// Range is an inclusive [Min, Max] bound
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

func (r Range) contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// FilterRanges bounds each bot metric
type FilterRanges struct {
	EventCount  Range `json:"eventCount"`
	UniqueUsers Range `json:"uniqueUsers"`
	AvgActivity Range `json:"avgActivity"`
}

// Preset names a canned filter
type Preset string

const (
	PresetHot          Preset = "hot"
	PresetHighActivity Preset = "high-activity"
	PresetEmerging     Preset = "emerging"
	PresetPopular      Preset = "popular"
	PresetAll          Preset = "all"
)

// ParsePreset validates a preset name; empty means all
func ParsePreset(s string) (Preset, error) {
	switch p := Preset(s); p {
	case "":
		return PresetAll, nil
	case PresetHot, PresetHighActivity, PresetEmerging, PresetPopular, PresetAll:
		return p, nil
	}
	return "", fmt.Errorf("unknown preset %q", s)
}

// Default ranges when no bot carries a metric
var (
	defaultEventRange    = Range{Min: 0, Max: 1000}
	defaultUsersRange    = Range{Min: 0, Max: 500}
	defaultActivityRange = Range{Min: 0, Max: 10}
)

// DataRanges returns the observed min and max of each metric.
// Bots without users or activity are ignored for those metrics.
func DataRanges(bots []models.BotInteraction) FilterRanges {
	if len(bots) == 0 {
		return FilterRanges{
			EventCount:  defaultEventRange,
			UniqueUsers: defaultUsersRange,
			AvgActivity: defaultActivityRange,
		}
	}

	events := Range{Min: math.Inf(1), Max: math.Inf(-1)}
	users := Range{Min: math.Inf(1), Max: math.Inf(-1)}
	activity := Range{Min: math.Inf(1), Max: math.Inf(-1)}
	hasUsers, hasActivity := false, false

	for _, b := range bots {
		events.Min = math.Min(events.Min, b.EventCount)
		events.Max = math.Max(events.Max, b.EventCount)
		if b.UniqueUsers != nil {
			hasUsers = true
			users.Min = math.Min(users.Min, *b.UniqueUsers)
			users.Max = math.Max(users.Max, *b.UniqueUsers)
		}
		if b.AvgActivity != nil {
			hasActivity = true
			activity.Min = math.Min(activity.Min, *b.AvgActivity)
			activity.Max = math.Max(activity.Max, *b.AvgActivity)
		}
	}

	if !hasUsers {
		users = defaultUsersRange
	}
	if !hasActivity {
		activity = defaultActivityRange
	}

	return FilterRanges{EventCount: events, UniqueUsers: users, AvgActivity: activity}
}

// PresetRanges narrows the observed ranges for a preset
func PresetRanges(preset Preset, observed FilterRanges) FilterRanges {
	r := observed
	switch preset {
	case PresetHot:
		r.EventCount.Min = 1000
	case PresetHighActivity:
		r.AvgActivity.Min = 8
	case PresetEmerging:
		r.UniqueUsers.Max = 100
		r.AvgActivity.Min = 7
	case PresetPopular:
		r.UniqueUsers.Min = 500
	}
	return r
}

// ApplyFilter keeps bots within every range. A bot missing users or
// activity is not excluded by that metric.
func ApplyFilter(bots []models.BotInteraction, ranges FilterRanges) []models.BotInteraction {
	filtered := make([]models.BotInteraction, 0, len(bots))
	for _, b := range bots {
		if !ranges.EventCount.contains(b.EventCount) {
			continue
		}
		if b.UniqueUsers != nil && !ranges.UniqueUsers.contains(*b.UniqueUsers) {
			continue
		}
		if b.AvgActivity != nil && !ranges.AvgActivity.contains(*b.AvgActivity) {
			continue
		}
		filtered = append(filtered, b)
	}
	return filtered
}

// FilterStats summarizes a filtered bot list
type FilterStats struct {
	Count       int     `json:"count"`
	TotalEvents float64 `json:"totalEvents"`
	TotalUsers  float64 `json:"totalUsers"`
	AvgActivity float64 `json:"avgActivity"`
}

// Stats computes counts and the mean activity over bots that report it
func Stats(bots []models.BotInteraction) FilterStats {
	stats := FilterStats{Count: len(bots)}
	var activitySum float64
	activityCount := 0

	for _, b := range bots {
		stats.TotalEvents += b.EventCount
		if b.UniqueUsers != nil {
			stats.TotalUsers += *b.UniqueUsers
		}
		if b.AvgActivity != nil {
			activitySum += *b.AvgActivity
			activityCount++
		}
	}

	if activityCount > 0 {
		stats.AvgActivity = activitySum / float64(activityCount)
	}

	return stats
}
