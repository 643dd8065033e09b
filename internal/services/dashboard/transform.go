package dashboard

import (
	"time"

	"github.com/ternarybob/vigil/internal/models"
)

// Transform shapes a merged bot result into dashboard data.
//
// Direct queries carry the upstream totals row, which counts distinct users
// exactly; it is preferred when present. Batched runs fall back to the totals
// computed from merged entities.
func Transform(result *models.MergedResult, now time.Time) models.DashboardData {
	data := models.DashboardData{
		LastUpdate:   now,
		Bots:         make([]models.BotInteraction, 0, len(result.Entities)),
		Degraded:     result.Degraded,
		FailedRanges: result.FailedRanges,
	}

	for _, e := range result.Entities {
		bot := models.BotInteraction{
			SlugID:     e.Key,
			EventCount: e.Primary,
		}
		if e.Secondary != nil && *e.Secondary > 0 {
			users := *e.Secondary
			bot.UniqueUsers = &users
			bot.AvgActivity = e.Ratio
		}
		data.Bots = append(data.Bots, bot)
	}

	totals := result.Totals
	if result.Direct && result.Reported != nil {
		totals = *result.Reported
	}
	data.TotalEvents = totals.Primary
	if totals.Secondary != nil {
		data.TotalUsers = *totals.Secondary
	}

	return data
}
