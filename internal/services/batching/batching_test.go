package batching

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/vigil/internal/common"
	"github.com/ternarybob/vigil/internal/interfaces"
	"github.com/ternarybob/vigil/internal/models"
	"github.com/ternarybob/vigil/internal/services/decoder"
)

var base = time.Date(2025, 10, 15, 0, 0, 0, 0, time.UTC)

func interval(from, to time.Duration) models.TimeInterval {
	return models.TimeInterval{Start: base.Add(from), End: base.Add(to)}
}

// recordingTimer fires immediately and records every requested wait
type recordingTimer struct {
	mu    sync.Mutex
	waits []time.Duration
	ch    chan time.Time
}

func newRecordingTimer() *recordingTimer {
	return &recordingTimer{ch: make(chan time.Time, 1)}
}

func (t *recordingTimer) Start(d time.Duration) {
	t.mu.Lock()
	t.waits = append(t.waits, d)
	t.mu.Unlock()
	t.ch <- time.Now()
}

func (t *recordingTimer) Stop() {
	select {
	case <-t.ch:
	default:
	}
}

func (t *recordingTimer) C() <-chan time.Time { return t.ch }

func (t *recordingTimer) Waits() []time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]time.Duration(nil), t.waits...)
}

// recordingEvents captures published events
type recordingEvents struct {
	mu     sync.Mutex
	events []interfaces.Event
}

func (r *recordingEvents) Subscribe(interfaces.EventType, interfaces.EventHandler) error { return nil }

func (r *recordingEvents) Publish(_ context.Context, e interfaces.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingEvents) PublishSync(ctx context.Context, e interfaces.Event) error {
	return r.Publish(ctx, e)
}

func (r *recordingEvents) Close() error { return nil }

func (r *recordingEvents) count(t interfaces.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

type retryableErr struct{ retry bool }

func (e retryableErr) Error() string   { return fmt.Sprintf("upstream failure (retryable=%t)", e.retry) }
func (e retryableErr) Retryable() bool { return e.retry }

var testColumns = models.Columns{Key: "slug_id", Primary: "COUNT", Secondary: "COUNT_DISTINCT(user_id)"}

func testConfig() common.BatchingConfig {
	return common.NewDefaultConfig().Batching
}

func TestPartition(t *testing.T) {
	tests := []struct {
		name     string
		interval models.TimeInterval
		width    time.Duration
		want     []models.TimeInterval
	}{
		{
			name:     "nine days in two-day batches",
			interval: interval(0, 216*time.Hour),
			width:    48 * time.Hour,
			want: []models.TimeInterval{
				interval(0, 48*time.Hour),
				interval(48*time.Hour, 96*time.Hour),
				interval(96*time.Hour, 144*time.Hour),
				interval(144*time.Hour, 192*time.Hour),
				interval(192*time.Hour, 216*time.Hour),
			},
		},
		{
			name:     "exact multiple",
			interval: interval(0, 96*time.Hour),
			width:    48 * time.Hour,
			want: []models.TimeInterval{
				interval(0, 48*time.Hour),
				interval(48*time.Hour, 96*time.Hour),
			},
		},
		{
			name:     "narrower than width",
			interval: interval(0, time.Hour),
			width:    48 * time.Hour,
			want:     []models.TimeInterval{interval(0, time.Hour)},
		},
		{
			name:     "empty interval",
			interval: interval(time.Hour, time.Hour),
			width:    48 * time.Hour,
		},
		{
			name:     "inverted interval",
			interval: interval(time.Hour, 0),
			width:    48 * time.Hour,
		},
		{
			name:     "zero width",
			interval: interval(0, time.Hour),
			width:    0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batches := Partition(tt.interval, tt.width)
			require.Len(t, batches, len(tt.want))
			for i, b := range batches {
				assert.Equal(t, i, b.Index)
				assert.True(t, tt.want[i].Start.Equal(b.Interval.Start), "batch %d start", i)
				assert.True(t, tt.want[i].End.Equal(b.Interval.End), "batch %d end", i)
			}
		})
	}
}

func TestPartition_CoversIntervalExactly(t *testing.T) {
	iv := models.NewTimeInterval(1760486400, 1760486400+9*86400+3601)
	batches := Partition(iv, 48*time.Hour)

	require.NotEmpty(t, batches)
	assert.True(t, batches[0].Interval.Start.Equal(iv.Start))
	assert.True(t, batches[len(batches)-1].Interval.End.Equal(iv.End))

	var total time.Duration
	for i, b := range batches {
		assert.LessOrEqual(t, b.Interval.Width(), 48*time.Hour)
		total += b.Interval.Width()
		if i > 0 {
			assert.True(t, batches[i-1].Interval.End.Equal(b.Interval.Start))
		}
	}
	assert.Equal(t, iv.Width(), total)
}

func TestAdapter_Params(t *testing.T) {
	adapter := NewAdapter(testConfig(), arbor.NewLogger())

	tests := []struct {
		width time.Duration
		want  models.QueryParams
	}{
		{time.Hour, models.QueryParams{RowLimit: 200, IncludeSecondary: true}},
		{48 * time.Hour, models.QueryParams{RowLimit: 200, IncludeSecondary: true}},
		{49 * time.Hour, models.QueryParams{RowLimit: 150, IncludeSecondary: false}},
		{72 * time.Hour, models.QueryParams{RowLimit: 150, IncludeSecondary: false}},
		{73 * time.Hour, models.QueryParams{RowLimit: 100, IncludeSecondary: false}},
	}

	for _, tt := range tests {
		t.Run(tt.width.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, adapter.Params(tt.width))
		})
	}
}

func TestAdapter_UnsortedTiers(t *testing.T) {
	cfg := testConfig()
	cfg.Tiers = []common.LimitTier{
		{MaxWidth: "72h", RowLimit: 150},
		{MaxWidth: "24h", RowLimit: 300, IncludeSecondary: true},
	}
	adapter := NewAdapter(cfg, arbor.NewLogger())

	assert.Equal(t, 300, adapter.Params(12*time.Hour).RowLimit)
	assert.Equal(t, 150, adapter.Params(30*time.Hour).RowLimit)
}

func TestMerge(t *testing.T) {
	results := []models.BatchResult{
		{Records: []models.Record{
			{"slug_id": "bot-a", "COUNT": 10.0, "COUNT_DISTINCT(user_id)": 4.0},
			{"slug_id": "bot-b", "COUNT": 5.0, "COUNT_DISTINCT(user_id)": 5.0},
			{"slug_id": nil, "COUNT": 15.0, "COUNT_DISTINCT(user_id)": 8.0},
		}},
		{Records: []models.Record{
			{"slug_id": "bot-a", "COUNT": 6.0, "COUNT_DISTINCT(user_id)": 3.0},
			{"slug_id": "bot-c", "COUNT": "16", "COUNT_DISTINCT(user_id)": 0.0},
			{"slug_id": "", "COUNT": 22.0},
		}},
	}

	t.Run("sum policy", func(t *testing.T) {
		entities, totals, reported := Merge(results, testColumns, models.MergePolicySum)

		require.Len(t, entities, 3)
		// bot-a and bot-c tie at 16; the key breaks the tie
		assert.Equal(t, "bot-a", entities[0].Key)
		assert.Equal(t, 16.0, entities[0].Primary)
		require.NotNil(t, entities[0].Secondary)
		assert.Equal(t, 4.0, *entities[0].Secondary)
		require.NotNil(t, entities[0].Ratio)
		assert.Equal(t, 4.0, *entities[0].Ratio)

		assert.Equal(t, "bot-c", entities[1].Key)
		assert.Nil(t, entities[1].Ratio, "zero secondary has no ratio")

		assert.Equal(t, "bot-b", entities[2].Key)

		assert.Equal(t, 37.0, totals.Primary)
		require.NotNil(t, totals.Secondary)
		assert.Equal(t, 9.0, *totals.Secondary)

		require.NotNil(t, reported)
		assert.Equal(t, 37.0, reported.Primary)
		require.NotNil(t, reported.Secondary)
		assert.Equal(t, 8.0, *reported.Secondary)
	})

	t.Run("max policy", func(t *testing.T) {
		entities, totals, _ := Merge(results, testColumns, models.MergePolicyMax)

		require.Len(t, entities, 3)
		assert.Equal(t, "bot-c", entities[0].Key)
		assert.Equal(t, "bot-a", entities[1].Key)
		assert.Equal(t, 10.0, entities[1].Primary)
		assert.Equal(t, 31.0, totals.Primary)
	})

	t.Run("no secondary column", func(t *testing.T) {
		noSecondary := []models.BatchResult{{Records: []models.Record{
			{"slug_id": "bot-a", "COUNT": 3.0},
		}}}
		entities, totals, reported := Merge(noSecondary, testColumns, models.MergePolicySum)

		require.Len(t, entities, 1)
		assert.Nil(t, entities[0].Secondary)
		assert.Nil(t, entities[0].Ratio)
		assert.Nil(t, totals.Secondary)
		assert.Nil(t, reported)
	})

	t.Run("empty", func(t *testing.T) {
		entities, totals, reported := Merge(nil, testColumns, models.MergePolicySum)
		assert.Empty(t, entities)
		assert.Equal(t, 0.0, totals.Primary)
		assert.Nil(t, reported)
	})
}

func TestMerge_DecodedKeysStayDistinct(t *testing.T) {
	var results []models.BatchResult
	for _, payload := range []string{
		"# Results\n| slug_id | COUNT |\n|---|---|\n| 007 | 3 |\n| 7 | 5 |\n",
		"# Results\n| slug_id | COUNT |\n|---|---|\n| 12345678901234567890 | 2 |\n| 12345678901234567891 | 1 |\n",
	} {
		outcome, err := decoder.Decode(payload)
		require.NoError(t, err)
		results = append(results, models.BatchResult{Records: outcome.Records})
	}

	entities, totals, _ := Merge(results, testColumns, models.MergePolicySum)

	keys := make(map[string]float64)
	for _, e := range entities {
		keys[e.Key] = e.Primary
	}
	assert.Equal(t, map[string]float64{
		"7":                    5,
		"007":                  3,
		"12345678901234567890": 2,
		"12345678901234567891": 1,
	}, keys)
	assert.Equal(t, 11.0, totals.Primary)
}

func TestRoundTo(t *testing.T) {
	assert.Equal(t, 2.5, RoundTo(2.45, 1))
	assert.Equal(t, 3.3, RoundTo(10.0/3.0, 1))
	assert.Equal(t, 33.33, RoundTo(100.0/3.0, 2))
}

func newTestOrchestrator(timer *recordingTimer, events interfaces.EventService) *Orchestrator {
	return NewOrchestrator(testConfig(), arbor.NewLogger(),
		WithTimerFactory(func() backoff.Timer { return timer }),
		WithEvents(events),
	)
}

func TestOrchestrator_AllSucceed(t *testing.T) {
	timer := newRecordingTimer()
	events := &recordingEvents{}
	o := newTestOrchestrator(timer, events)

	batches := Partition(interval(0, 216*time.Hour), 48*time.Hour)
	var calls []models.TimeInterval
	fetch := func(ctx context.Context, iv models.TimeInterval, params models.QueryParams) ([]models.Record, error) {
		calls = append(calls, iv)
		assert.Equal(t, 200, params.RowLimit)
		return []models.Record{{"slug_id": "bot-a", "COUNT": 1.0}}, nil
	}

	results := o.Run(context.Background(), batches, models.QueryParams{RowLimit: 200, IncludeSecondary: true}, fetch)

	require.Len(t, results, 5)
	require.Len(t, calls, 5)
	for i, r := range results {
		assert.False(t, r.Failed)
		assert.Equal(t, 1, r.Attempts)
		assert.True(t, calls[i].Start.Equal(batches[i].Interval.Start), "batches run in order")
	}

	// Pacing after each successful batch except the last
	assert.Equal(t, []time.Duration{3 * time.Second, 3 * time.Second, 3 * time.Second, 3 * time.Second}, timer.Waits())
	assert.Equal(t, 5, events.count(interfaces.EventBatchStarted))
	assert.Equal(t, 5, events.count(interfaces.EventBatchCompleted))
	assert.Equal(t, 0, events.count(interfaces.EventBatchFailed))
}

func TestOrchestrator_RetriesThenSucceeds(t *testing.T) {
	timer := newRecordingTimer()
	events := &recordingEvents{}
	o := newTestOrchestrator(timer, events)

	attempts := 0
	fetch := func(ctx context.Context, iv models.TimeInterval, params models.QueryParams) ([]models.Record, error) {
		attempts++
		if attempts < 3 {
			return nil, retryableErr{retry: true}
		}
		return []models.Record{{"slug_id": "bot-a", "COUNT": 1.0}}, nil
	}

	results := o.Run(context.Background(), Partition(interval(0, 24*time.Hour), 48*time.Hour), models.QueryParams{}, fetch)

	require.Len(t, results, 1)
	assert.False(t, results[0].Failed)
	assert.Equal(t, 3, results[0].Attempts)
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, timer.Waits())
	assert.Equal(t, 2, events.count(interfaces.EventBatchRetry))
}

func TestOrchestrator_ExhaustedBatchContinues(t *testing.T) {
	timer := newRecordingTimer()
	events := &recordingEvents{}
	o := newTestOrchestrator(timer, events)

	batches := Partition(interval(0, 144*time.Hour), 48*time.Hour)
	failing := batches[1].Interval
	callsPerBatch := map[int]int{}

	fetch := func(ctx context.Context, iv models.TimeInterval, params models.QueryParams) ([]models.Record, error) {
		for _, b := range batches {
			if b.Interval.Start.Equal(iv.Start) {
				callsPerBatch[b.Index]++
			}
		}
		if iv.Start.Equal(failing.Start) {
			return nil, retryableErr{retry: true}
		}
		return []models.Record{{"slug_id": "bot-a", "COUNT": 2.0}}, nil
	}

	results := o.Run(context.Background(), batches, models.QueryParams{}, fetch)

	require.Len(t, results, 3)
	assert.False(t, results[0].Failed)
	assert.True(t, results[1].Failed)
	assert.Empty(t, results[1].Records)
	assert.Equal(t, 5, results[1].Attempts, "first attempt plus four retries")
	assert.False(t, results[2].Failed)

	assert.Equal(t, 1, callsPerBatch[0])
	assert.Equal(t, 5, callsPerBatch[1])
	assert.Equal(t, 1, callsPerBatch[2])

	// pacing after batch 1, four retry waits, no pacing after the failed batch
	assert.Equal(t, []time.Duration{
		3 * time.Second,
		5 * time.Second, 5 * time.Second, 5 * time.Second, 5 * time.Second,
	}, timer.Waits())
	assert.Equal(t, 1, events.count(interfaces.EventBatchFailed))
}

func TestOrchestrator_PermanentErrorSkipsRetries(t *testing.T) {
	timer := newRecordingTimer()
	o := newTestOrchestrator(timer, nil)

	attempts := 0
	fetch := func(ctx context.Context, iv models.TimeInterval, params models.QueryParams) ([]models.Record, error) {
		attempts++
		return nil, fmt.Errorf("decode: %w", retryableErr{retry: false})
	}

	results := o.Run(context.Background(), Partition(interval(0, 24*time.Hour), 48*time.Hour), models.QueryParams{}, fetch)

	require.Len(t, results, 1)
	assert.True(t, results[0].Failed)
	assert.Equal(t, 1, attempts)
	assert.Empty(t, timer.Waits())
	assert.Contains(t, results[0].Err, "retryable=false")
}

func TestOrchestrator_Cancelled(t *testing.T) {
	timer := newRecordingTimer()
	o := newTestOrchestrator(timer, nil)

	ctx, cancel := context.WithCancel(context.Background())
	batches := Partition(interval(0, 144*time.Hour), 48*time.Hour)

	fetch := func(ctx context.Context, iv models.TimeInterval, params models.QueryParams) ([]models.Record, error) {
		cancel()
		return []models.Record{{"slug_id": "bot-a", "COUNT": 1.0}}, nil
	}

	results := o.Run(ctx, batches, models.QueryParams{}, fetch)

	require.Len(t, results, 3)
	assert.False(t, results[0].Failed)
	assert.True(t, results[1].Failed)
	assert.True(t, results[2].Failed)
	assert.Equal(t, context.Canceled.Error(), results[2].Err)
}

func newTestService(timer *recordingTimer, events interfaces.EventService) *Service {
	cfg := testConfig()
	logger := arbor.NewLogger()
	return NewService(cfg, testColumns, NewAdapter(cfg, logger), newTestOrchestrator(timer, events), events, nil, logger)
}

func TestService_Direct(t *testing.T) {
	timer := newRecordingTimer()
	events := &recordingEvents{}
	s := newTestService(timer, events)

	calls := 0
	fetch := func(ctx context.Context, iv models.TimeInterval, params models.QueryParams) ([]models.Record, error) {
		calls++
		assert.Equal(t, models.QueryParams{RowLimit: 200, IncludeSecondary: true}, params)
		return []models.Record{
			{"slug_id": "bot-a", "COUNT": 10.0, "COUNT_DISTINCT(user_id)": 3.0},
			{"slug_id": nil, "COUNT": 12.0, "COUNT_DISTINCT(user_id)": 4.0},
		}, nil
	}

	result, err := s.Fetch(context.Background(), interval(0, 48*time.Hour), fetch)
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.True(t, result.Direct)
	assert.Equal(t, 1, result.Batches)
	assert.False(t, result.Degraded)
	require.Len(t, result.Entities, 1)
	require.NotNil(t, result.Reported)
	assert.Equal(t, 12.0, result.Reported.Primary)
	assert.Empty(t, timer.Waits())
	assert.Equal(t, 1, events.count(interfaces.EventFetchMerged))
}

func TestService_DirectErrorPropagates(t *testing.T) {
	s := newTestService(newRecordingTimer(), nil)

	upstream := errors.New("connect timeout after 30s")
	_, err := s.Fetch(context.Background(), interval(0, time.Hour), func(ctx context.Context, iv models.TimeInterval, params models.QueryParams) ([]models.Record, error) {
		return nil, upstream
	})

	assert.ErrorIs(t, err, upstream)
}

func TestService_EmptyInterval(t *testing.T) {
	s := newTestService(newRecordingTimer(), nil)

	_, err := s.Fetch(context.Background(), interval(time.Hour, time.Hour), nil)
	assert.ErrorIs(t, err, ErrEmptyInterval)
}

func TestService_NineDaysWithFailedBatch(t *testing.T) {
	timer := newRecordingTimer()
	s := newTestService(timer, nil)

	iv := interval(0, 216*time.Hour)
	failing := interval(96*time.Hour, 144*time.Hour)

	fetch := func(ctx context.Context, bi models.TimeInterval, params models.QueryParams) ([]models.Record, error) {
		assert.Equal(t, 200, params.RowLimit)
		if bi.Start.Equal(failing.Start) {
			return nil, retryableErr{retry: true}
		}
		return []models.Record{
			{"slug_id": "bot-a", "COUNT": 10.0, "COUNT_DISTINCT(user_id)": 4.0},
			{"slug_id": "bot-b", "COUNT": 1.0, "COUNT_DISTINCT(user_id)": 1.0},
		}, nil
	}

	result, err := s.Fetch(context.Background(), iv, fetch)
	require.NoError(t, err)

	assert.False(t, result.Direct)
	assert.Equal(t, 5, result.Batches)
	assert.True(t, result.Degraded)
	require.Len(t, result.FailedRanges, 1)
	assert.True(t, result.FailedRanges[0].Start.Equal(failing.Start))

	require.Len(t, result.Entities, 2)
	assert.Equal(t, "bot-a", result.Entities[0].Key)
	assert.Equal(t, 40.0, result.Entities[0].Primary)
	assert.Equal(t, 4.0, *result.Entities[0].Secondary)
	assert.Equal(t, 44.0, result.Totals.Primary)
	assert.Nil(t, result.Reported)
}
