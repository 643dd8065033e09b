package status

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/vigil/internal/interfaces"
	"github.com/ternarybob/vigil/internal/models"
)

// AppState represents the application state
type AppState string

const (
	StateIdle     AppState = "idle"
	StateFetching AppState = "fetching"
)

// Status is a point-in-time view of the application state
type Status struct {
	State     AppState               `json:"state"`
	Since     time.Time              `json:"since"`
	Metadata  map[string]interface{} `json:"metadata"`
	LastFetch *FetchOutcome          `json:"last_fetch,omitempty"`
}

// FetchOutcome summarizes the most recent merged fetch
type FetchOutcome struct {
	Interval     models.TimeInterval `json:"interval"`
	Entities     int                 `json:"entities"`
	Batches      int                 `json:"batches"`
	Degraded     bool                `json:"degraded"`
	FailedRanges int                 `json:"failed_ranges"`
	At           time.Time           `json:"at"`
}

// Service tracks whether a fetch is running, driven by batching events
type Service struct {
	mu           sync.RWMutex
	state        AppState
	since        time.Time
	metadata     map[string]interface{}
	lastFetch    *FetchOutcome
	finishedRun  string
	eventService interfaces.EventService
	logger       arbor.ILogger
	now          func() time.Time
}

// NewService creates a new status service in the idle state
func NewService(eventService interfaces.EventService, logger arbor.ILogger) *Service {
	return &Service{
		state:        StateIdle,
		since:        time.Now(),
		metadata:     make(map[string]interface{}),
		eventService: eventService,
		logger:       logger,
		now:          time.Now,
	}
}

// GetState returns the current application state (thread-safe)
func (s *Service) GetState() AppState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SetState updates the application state and broadcasts the change
func (s *Service) SetState(ctx context.Context, state AppState, metadata map[string]interface{}) {
	if metadata == nil {
		metadata = make(map[string]interface{})
	}

	s.mu.Lock()
	oldState := s.state
	s.state = state
	s.metadata = metadata
	if oldState != state {
		s.since = s.now()
	}
	s.mu.Unlock()

	if oldState != state {
		s.logger.Debug().
			Str("old_state", string(oldState)).
			Str("new_state", string(state)).
			Msg("Application state changed")
	}

	if s.eventService != nil {
		event := interfaces.Event{Type: interfaces.EventStatusChanged, Payload: s.GetStatus()}
		if err := s.eventService.Publish(ctx, event); err != nil {
			s.logger.Debug().Err(err).Msg("Failed to publish status event")
		}
	}
}

// GetStatus returns a copy of the current status
func (s *Service) GetStatus() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	metadata := make(map[string]interface{}, len(s.metadata))
	for k, v := range s.metadata {
		metadata[k] = v
	}

	var last *FetchOutcome
	if s.lastFetch != nil {
		copied := *s.lastFetch
		last = &copied
	}

	return Status{State: s.state, Since: s.since, Metadata: metadata, LastFetch: last}
}

// SubscribeToFetchEvents follows batch and merge events to keep the state current
func (s *Service) SubscribeToFetchEvents() error {
	for _, eventType := range []interfaces.EventType{
		interfaces.EventBatchStarted,
		interfaces.EventBatchRetry,
		interfaces.EventBatchCompleted,
		interfaces.EventBatchFailed,
	} {
		if err := s.eventService.Subscribe(eventType, s.handleBatch); err != nil {
			return err
		}
	}

	if err := s.eventService.Subscribe(interfaces.EventFetchMerged, s.handleMerged); err != nil {
		return err
	}

	s.logger.Debug().Msg("Status service subscribed to fetch events")
	return nil
}

// handleBatch moves to fetching on batch activity and back to idle after the
// final batch. Events are delivered asynchronously, so activity for a run that
// already finished is ignored.
func (s *Service) handleBatch(ctx context.Context, event interfaces.Event) error {
	progress, ok := event.Payload.(models.BatchProgress)
	if !ok {
		return nil
	}

	final := progress.Index == progress.Total-1
	done := event.Type == interfaces.EventBatchCompleted || event.Type == interfaces.EventBatchFailed

	s.mu.Lock()
	stale := progress.RunID == s.finishedRun
	if final && done {
		s.finishedRun = progress.RunID
	}
	s.mu.Unlock()

	if stale {
		return nil
	}
	if final && done {
		s.SetState(ctx, StateIdle, nil)
		return nil
	}

	s.SetState(ctx, StateFetching, map[string]interface{}{
		"run_id":  progress.RunID,
		"batch":   progress.Index + 1,
		"batches": progress.Total,
		"attempt": progress.Attempt,
	})
	return nil
}

func (s *Service) handleMerged(ctx context.Context, event interfaces.Event) error {
	result, ok := event.Payload.(*models.MergedResult)
	if !ok || result == nil {
		return nil
	}

	s.mu.Lock()
	s.lastFetch = &FetchOutcome{
		Interval:     result.Interval,
		Entities:     len(result.Entities),
		Batches:      result.Batches,
		Degraded:     result.Degraded,
		FailedRanges: len(result.FailedRanges),
		At:           s.now(),
	}
	s.mu.Unlock()

	return nil
}
