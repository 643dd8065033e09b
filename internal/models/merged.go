package models

// MergePolicy selects how the primary metric of one key is combined across batches
type MergePolicy string

const (
	// MergePolicySum adds per-batch values; batches never overlap so this is the true total
	MergePolicySum MergePolicy = "sum"
	// MergePolicyMax keeps the largest per-batch value
	MergePolicyMax MergePolicy = "max"
)

// Columns names the record fields used when merging
type Columns struct {
	Key       string `json:"key"`
	Primary   string `json:"primary"`
	Secondary string `json:"secondary"`
}

// MergedEntity is one deduplicated grouping-key row
type MergedEntity struct {
	Key       string   `json:"entityId"`
	Primary   float64  `json:"primaryCount"`
	Secondary *float64 `json:"secondaryCount,omitempty"`
	Ratio     *float64 `json:"derivedRatio,omitempty"`
}

// Totals is the primary/secondary pair over a whole result
type Totals struct {
	Primary   float64  `json:"totalPrimary"`
	Secondary *float64 `json:"totalSecondary,omitempty"`
}

// MergedResult is the combined dataset for a requested interval
type MergedResult struct {
	Interval     TimeInterval   `json:"interval"`
	Entities     []MergedEntity `json:"entities"`
	Totals       Totals         `json:"totals"`
	Reported     *Totals        `json:"reportedTotals,omitempty"` // summed from totals rows returned upstream
	Params       QueryParams    `json:"params"`
	Direct       bool           `json:"direct"`
	Batches      int            `json:"batches"`
	Degraded     bool           `json:"degraded"`
	FailedRanges []TimeInterval `json:"failedRanges,omitempty"`
}

// BatchResult is the outcome of one batch after retries
type BatchResult struct {
	Batch    Batch    `json:"batch"`
	Records  []Record `json:"records"`
	Attempts int      `json:"attempts"`
	Failed   bool     `json:"failed"`
	Err      string   `json:"error,omitempty"`
}

// BatchProgress is the payload of batch lifecycle events
type BatchProgress struct {
	RunID    string       `json:"runId"`
	Index    int          `json:"index"`
	Total    int          `json:"total"`
	Interval TimeInterval `json:"interval"`
	Attempt  int          `json:"attempt"`
	Records  int          `json:"records"`
	Error    string       `json:"error,omitempty"`
}
