package dashboard

import (
	"fmt"
	"time"

	"github.com/ternarybob/vigil/internal/models"
)

// PeriodDays is the length of one selectable period, both ends inclusive
const PeriodDays = 9

// RecentPeriods returns count consecutive periods ending today, newest first
func RecentPeriods(now time.Time, count int) []models.WeekPeriod {
	if count <= 0 {
		return []models.WeekPeriod{}
	}

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	periods := make([]models.WeekPeriod, 0, count)

	for i := 0; i < count; i++ {
		end := today.AddDate(0, 0, -i*PeriodDays)
		start := end.AddDate(0, 0, -(PeriodDays - 1))

		var label string
		switch i {
		case 0:
			label = fmt.Sprintf("Last %d days", PeriodDays)
		case 1:
			label = fmt.Sprintf("Previous %d days", PeriodDays)
		default:
			label = fmt.Sprintf("%d days ago", i*PeriodDays)
		}

		startStr := start.Format(dateLayout)
		endStr := end.Format(dateLayout)
		periods = append(periods, models.WeekPeriod{
			StartDate: startStr,
			EndDate:   endStr,
			Label:     fmt.Sprintf("%s (%s ~ %s)", label, startStr, endStr),
		})
	}

	return periods
}

// Periods returns recent periods in the service's time zone
func (s *Service) Periods(count int) []models.WeekPeriod {
	return RecentPeriods(s.now().In(s.location), count)
}
