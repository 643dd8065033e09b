package events

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/vigil/internal/interfaces"
	"github.com/ternarybob/vigil/internal/models"
)

// AllEventTypes lists every event the system publishes
var AllEventTypes = []interfaces.EventType{
	interfaces.EventBatchStarted,
	interfaces.EventBatchRetry,
	interfaces.EventBatchCompleted,
	interfaces.EventBatchFailed,
	interfaces.EventFetchMerged,
	interfaces.EventSnapshotSaved,
	interfaces.EventStatusChanged,
}

// NewLoggerSubscriber creates an event handler that logs all events
func NewLoggerSubscriber(logger arbor.ILogger) interfaces.EventHandler {
	return func(ctx context.Context, event interfaces.Event) error {
		logEvent := logger.Debug().
			Str("event_type", string(event.Type))

		switch p := event.Payload.(type) {
		case models.BatchProgress:
			logEvent = logEvent.
				Str("run_id", p.RunID).
				Int("batch", p.Index+1).
				Int("of", p.Total).
				Int("attempt", p.Attempt)
			if p.Error != "" {
				logEvent = logEvent.Str("error", p.Error)
			}
		case *models.MergedResult:
			logEvent = logEvent.
				Int("batches", p.Batches).
				Int("entities", len(p.Entities)).
				Bool("degraded", p.Degraded)
		case *models.Snapshot:
			logEvent = logEvent.
				Str("snapshot_id", p.ID)
		}

		logEvent.Msg("Event published")

		return nil
	}
}

// SubscribeLoggerToAllEvents subscribes the logger to all known event types
func SubscribeLoggerToAllEvents(eventService interfaces.EventService, logger arbor.ILogger) error {
	subscriber := NewLoggerSubscriber(logger)

	for _, eventType := range AllEventTypes {
		if err := eventService.Subscribe(eventType, subscriber); err != nil {
			return fmt.Errorf("failed to subscribe logger to event type %s: %w", eventType, err)
		}
	}

	logger.Debug().
		Int("event_type_count", len(AllEventTypes)).
		Msg("Logger subscribed to all event types")

	return nil
}
