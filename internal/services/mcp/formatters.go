package mcp

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ternarybob/vigil/internal/models"
	"github.com/ternarybob/vigil/internal/services/dashboard"
)

// formatSnapshot renders a snapshot summary as markdown
func formatSnapshot(s *models.Snapshot, limit int) string {
	var b strings.Builder
	data := s.Data

	b.WriteString(fmt.Sprintf("# Snapshot %s\n\n", s.ID))
	b.WriteString(fmt.Sprintf("**Created:** %s\n", time.Unix(s.CreatedUnix, 0).UTC().Format(time.RFC3339)))
	b.WriteString(fmt.Sprintf("**Range:** %s\n", s.Interval))
	b.WriteString(fmt.Sprintf("**Total events:** %.0f\n", data.TotalEvents))
	b.WriteString(fmt.Sprintf("**Total users:** %.0f\n", data.TotalUsers))
	b.WriteString(fmt.Sprintf("**Bots:** %d\n", len(data.Bots)))
	if data.Degraded {
		b.WriteString(fmt.Sprintf("**Degraded:** %d sub-range(s) failed\n", len(data.FailedRanges)))
	}

	if ls := data.LoginStats; ls != nil {
		b.WriteString("\n## Logins\n\n")
		b.WriteString(fmt.Sprintf("- Total logins: %d\n", ls.TotalLogins))
		b.WriteString(fmt.Sprintf("- Unique users: %d\n", ls.UniqueLoginUsers))
		b.WriteString(fmt.Sprintf("- New users: %d\n", ls.NewUsers))
		b.WriteString(fmt.Sprintf("- Returning users: %d\n", ls.ReturningUsers))
	}

	if f := data.UserFunnel; f != nil && len(f.Steps) > 0 {
		b.WriteString("\n## Funnel\n\n")
		b.WriteString("| Step | User-days | Step % | Overall % |\n|---|---|---|---|\n")
		for _, step := range f.Steps {
			b.WriteString(fmt.Sprintf("| %s | %d | %.2f | %.2f |\n", step.Name, step.UserDayCount, step.ConversionRate, step.OverallConversionRate))
		}
	}

	b.WriteString("\n## Top bots\n\n")
	writeBotTable(&b, data.Bots, limit)

	return b.String()
}

// formatHistory lists snapshots one per line
func formatHistory(snapshots []*models.Snapshot) string {
	if len(snapshots) == 0 {
		return "No snapshots stored."
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("# Snapshots (%d)\n\n", len(snapshots)))
	for i, s := range snapshots {
		b.WriteString(fmt.Sprintf("%d. **%s** created %s, range %s, %d bots, %.0f events",
			i+1, s.ID,
			time.Unix(s.CreatedUnix, 0).UTC().Format(time.RFC3339),
			s.Interval, len(s.Data.Bots), s.Data.TotalEvents))
		if s.Data.Degraded {
			b.WriteString(" (degraded)")
		}
		b.WriteString("\n")
	}
	return b.String()
}

// formatFiltered renders a preset filter result
func formatFiltered(preset dashboard.Preset, ranges dashboard.FilterRanges, bots []models.BotInteraction, stats dashboard.FilterStats, limit int) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("# Bots matching %q (%d)\n\n", preset, stats.Count))
	b.WriteString(fmt.Sprintf("- Events: %.0f to %.0f\n", ranges.EventCount.Min, ranges.EventCount.Max))
	b.WriteString(fmt.Sprintf("- Users: %.0f to %.0f\n", ranges.UniqueUsers.Min, ranges.UniqueUsers.Max))
	b.WriteString(fmt.Sprintf("- Activity: %.1f to %.1f\n\n", ranges.AvgActivity.Min, ranges.AvgActivity.Max))
	b.WriteString(fmt.Sprintf("**Total events:** %.0f, **total users:** %.0f, **mean activity:** %.1f\n\n",
		stats.TotalEvents, stats.TotalUsers, stats.AvgActivity))

	writeBotTable(&b, bots, limit)
	return b.String()
}

// formatPeriods lists rolling periods
func formatPeriods(periods []models.WeekPeriod) string {
	var b strings.Builder
	b.WriteString("# Periods\n\n")
	for _, p := range periods {
		b.WriteString(fmt.Sprintf("- %s\n", p.Label))
	}
	return b.String()
}

func writeBotTable(b *strings.Builder, bots []models.BotInteraction, limit int) {
	if len(bots) == 0 {
		b.WriteString("No bots.\n")
		return
	}

	sorted := make([]models.BotInteraction, len(bots))
	copy(sorted, bots)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].EventCount > sorted[j].EventCount })
	if len(sorted) > limit {
		sorted = sorted[:limit]
	}

	b.WriteString("| Slug ID | Events | Unique users | Avg activity |\n|---|---|---|---|\n")
	for _, bot := range sorted {
		b.WriteString(fmt.Sprintf("| %s | %.0f | %s | %s |\n", bot.SlugID, bot.EventCount, optional(bot.UniqueUsers, 0), optional(bot.AvgActivity, 1)))
	}
	if len(bots) > limit {
		b.WriteString(fmt.Sprintf("\n...and %d more\n", len(bots)-limit))
	}
}

func optional(v *float64, prec int) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.*f", prec, *v)
}
