package batching

import (
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/vigil/internal/common"
	"github.com/ternarybob/vigil/internal/models"
)

// Adapter picks query size limits from the width of the interval being queried
type Adapter struct {
	tiers    []common.ResolvedTier
	fallback models.QueryParams
	logger   arbor.ILogger
}

// NewAdapter builds an adapter from the configured tiers
func NewAdapter(cfg common.BatchingConfig, logger arbor.ILogger) *Adapter {
	return &Adapter{
		tiers:    cfg.SortedTiers(),
		fallback: models.QueryParams{RowLimit: cfg.FallbackLimit},
		logger:   logger,
	}
}

// Params returns the limits of the narrowest tier that covers width.
// Widths beyond every tier get the fallback limit and no secondary metric.
func (a *Adapter) Params(width time.Duration) models.QueryParams {
	for _, tier := range a.tiers {
		if width <= tier.MaxWidth {
			return models.QueryParams{
				RowLimit:         tier.RowLimit,
				IncludeSecondary: tier.IncludeSecondary,
			}
		}
	}

	a.logger.Warn().
		Dur("width", width).
		Int("row_limit", a.fallback.RowLimit).
		Msg("Interval wider than every limit tier, using fallback limits")

	return a.fallback
}
