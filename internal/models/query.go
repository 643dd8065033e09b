package models

import (
	"fmt"
	"strconv"
	"time"
)

// TimeInterval is a half-open [Start, End) wall-clock range at seconds resolution
type TimeInterval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewTimeInterval builds an interval from unix seconds
func NewTimeInterval(start, end int64) TimeInterval {
	return TimeInterval{
		Start: time.Unix(start, 0).UTC(),
		End:   time.Unix(end, 0).UTC(),
	}
}

// Width returns End - Start, or zero for an empty or inverted interval
func (t TimeInterval) Width() time.Duration {
	if !t.End.After(t.Start) {
		return 0
	}
	return t.End.Sub(t.Start)
}

// Empty reports whether the interval covers no time
func (t TimeInterval) Empty() bool {
	return !t.End.After(t.Start)
}

// StartUnix returns the start instant in unix seconds
func (t TimeInterval) StartUnix() int64 {
	return t.Start.Unix()
}

// EndUnix returns the end instant in unix seconds
func (t TimeInterval) EndUnix() int64 {
	return t.End.Unix()
}

func (t TimeInterval) String() string {
	return fmt.Sprintf("[%s, %s)", t.Start.UTC().Format(time.RFC3339), t.End.UTC().Format(time.RFC3339))
}

// Batch is one sub-interval of a partitioned request
type Batch struct {
	Index    int          `json:"index"`
	Interval TimeInterval `json:"interval"`
}

// Record is one decoded result row: column name to string, float64 or nil
type Record map[string]interface{}

// Number returns the numeric value of a column, accepting numeric strings
func (r Record) Number(column string) (float64, bool) {
	v, ok := r[column]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// String returns the column rendered as text; nil and empty values report false
func (r Record) String(column string) (string, bool) {
	v, ok := r[column]
	if !ok || v == nil {
		return "", false
	}
	switch s := v.(type) {
	case string:
		if s == "" {
			return "", false
		}
		return s, true
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), true
	}
	return fmt.Sprintf("%v", v), true
}

// QueryOutcome is the normalized form of one tool-call payload
type QueryOutcome struct {
	Records  []Record `json:"records"`
	QueryURL string   `json:"query_url,omitempty"`
	QueryID  string   `json:"query_id,omitempty"`
}

// QueryParams are the per-call size limits chosen from the interval width
type QueryParams struct {
	RowLimit         int  `json:"rowLimit"`
	IncludeSecondary bool `json:"includeSecondary"`
}
