package batching

import (
	"time"

	"github.com/ternarybob/vigil/internal/models"
)

// Partition splits interval into consecutive batches no wider than maxWidth.
// Batches are contiguous and non-overlapping; the last is clamped to the
// interval end. An empty interval or non-positive width yields no batches.
func Partition(interval models.TimeInterval, maxWidth time.Duration) []models.Batch {
	if interval.Empty() || maxWidth <= 0 {
		return nil
	}

	span := interval.Width()
	n := int(span / maxWidth)
	if span%maxWidth != 0 {
		n++
	}

	batches := make([]models.Batch, 0, n)
	for cursor := interval.Start; cursor.Before(interval.End); cursor = cursor.Add(maxWidth) {
		end := cursor.Add(maxWidth)
		if end.After(interval.End) {
			end = interval.End
		}
		batches = append(batches, models.Batch{
			Index:    len(batches),
			Interval: models.TimeInterval{Start: cursor, End: end},
		})
	}

	return batches
}
