package batching

import (
	"math"
	"sort"

	"github.com/ternarybob/vigil/internal/models"
)

type accumulator struct {
	primary      float64
	secondary    float64
	hasSecondary bool
}

// Merge combines per-batch records into one entity per grouping key.
//
// Records without a key are upstream totals rows: they are kept out of the
// entity list and summed into Reported. The primary metric is combined with
// policy; the secondary metric is a distinct count, so batches overlap and
// only the largest value is kept.
func Merge(results []models.BatchResult, cols models.Columns, policy models.MergePolicy) ([]models.MergedEntity, models.Totals, *models.Totals) {
	byKey := make(map[string]*accumulator)
	var reported *models.Totals
	anySecondary := false

	for _, result := range results {
		for _, record := range result.Records {
			primary, _ := record.Number(cols.Primary)
			secondary, hasSecondary := record.Number(cols.Secondary)
			if cols.Secondary == "" {
				hasSecondary = false
			}

			key, ok := record.String(cols.Key)
			if !ok {
				if reported == nil {
					reported = &models.Totals{}
				}
				reported.Primary += primary
				if hasSecondary {
					if reported.Secondary == nil {
						reported.Secondary = new(float64)
					}
					*reported.Secondary += secondary
				}
				continue
			}

			acc, exists := byKey[key]
			if !exists {
				acc = &accumulator{}
				byKey[key] = acc
			}

			switch policy {
			case models.MergePolicyMax:
				acc.primary = math.Max(acc.primary, primary)
			default:
				acc.primary += primary
			}

			if hasSecondary {
				anySecondary = true
				if !acc.hasSecondary || secondary > acc.secondary {
					acc.secondary = secondary
				}
				acc.hasSecondary = true
			}
		}
	}

	entities := make([]models.MergedEntity, 0, len(byKey))
	totals := models.Totals{}
	var secondaryTotal float64

	for key, acc := range byKey {
		entity := models.MergedEntity{Key: key, Primary: acc.primary}
		if acc.hasSecondary {
			s := acc.secondary
			entity.Secondary = &s
			secondaryTotal += s
			if s > 0 {
				ratio := RoundTo(acc.primary/s, 1)
				entity.Ratio = &ratio
			}
		}
		totals.Primary += acc.primary
		entities = append(entities, entity)
	}

	if anySecondary {
		totals.Secondary = &secondaryTotal
	}

	sort.Slice(entities, func(i, j int) bool {
		if entities[i].Primary != entities[j].Primary {
			return entities[i].Primary > entities[j].Primary
		}
		return entities[i].Key < entities[j].Key
	})

	return entities, totals, reported
}

// RoundTo rounds v half away from zero to the given number of decimal places
func RoundTo(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
