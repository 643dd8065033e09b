package status

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/vigil/internal/interfaces"
	"github.com/ternarybob/vigil/internal/models"
	"github.com/ternarybob/vigil/internal/services/events"
)

func batchEvent(eventType interfaces.EventType, runID string, index, total int) interfaces.Event {
	return interfaces.Event{
		Type:    eventType,
		Payload: models.BatchProgress{RunID: runID, Index: index, Total: total, Attempt: 1},
	}
}

func TestStatus_FollowsBatchRun(t *testing.T) {
	logger := arbor.NewLogger()
	bus := events.NewService(logger)
	s := NewService(bus, logger)
	require.NoError(t, s.SubscribeToFetchEvents())

	ctx := context.Background()
	assert.Equal(t, StateIdle, s.GetState())

	require.NoError(t, bus.PublishSync(ctx, batchEvent(interfaces.EventBatchStarted, "run-1", 0, 2)))
	assert.Equal(t, StateFetching, s.GetState())
	st := s.GetStatus()
	assert.Equal(t, "run-1", st.Metadata["run_id"])
	assert.Equal(t, 1, st.Metadata["batch"])
	assert.Equal(t, 2, st.Metadata["batches"])

	require.NoError(t, bus.PublishSync(ctx, batchEvent(interfaces.EventBatchCompleted, "run-1", 0, 2)))
	assert.Equal(t, StateFetching, s.GetState(), "first of two batches")

	require.NoError(t, bus.PublishSync(ctx, batchEvent(interfaces.EventBatchFailed, "run-1", 1, 2)))
	assert.Equal(t, StateIdle, s.GetState())

	// late delivery for the finished run is ignored
	require.NoError(t, bus.PublishSync(ctx, batchEvent(interfaces.EventBatchRetry, "run-1", 1, 2)))
	assert.Equal(t, StateIdle, s.GetState())
}

func TestStatus_RecordsLastFetch(t *testing.T) {
	logger := arbor.NewLogger()
	bus := events.NewService(logger)
	s := NewService(bus, logger)
	require.NoError(t, s.SubscribeToFetchEvents())

	result := &models.MergedResult{
		Interval:     models.NewTimeInterval(0, 4*86400),
		Entities:     []models.MergedEntity{{Key: "a"}, {Key: "b"}},
		Batches:      2,
		Degraded:     true,
		FailedRanges: []models.TimeInterval{models.NewTimeInterval(0, 2*86400)},
	}
	require.NoError(t, bus.PublishSync(context.Background(), interfaces.Event{Type: interfaces.EventFetchMerged, Payload: result}))

	st := s.GetStatus()
	require.NotNil(t, st.LastFetch)
	assert.Equal(t, 2, st.LastFetch.Entities)
	assert.Equal(t, 2, st.LastFetch.Batches)
	assert.True(t, st.LastFetch.Degraded)
	assert.Equal(t, 1, st.LastFetch.FailedRanges)
	assert.Equal(t, StateIdle, st.State)
}

func TestStatus_PublishesChanges(t *testing.T) {
	logger := arbor.NewLogger()
	bus := events.NewService(logger)
	s := NewService(bus, logger)

	changes := make(chan Status, 1)
	require.NoError(t, bus.Subscribe(interfaces.EventStatusChanged, func(ctx context.Context, event interfaces.Event) error {
		changes <- event.Payload.(Status)
		return nil
	}))

	s.SetState(context.Background(), StateFetching, map[string]interface{}{"run_id": "r"})

	got := <-changes
	assert.Equal(t, StateFetching, got.State)
	assert.Equal(t, "r", got.Metadata["run_id"])
}
