package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/vigil/internal/common"
	"github.com/ternarybob/vigil/internal/interfaces"
	"github.com/ternarybob/vigil/internal/models"
)

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Dashboard front ends are served from other origins
	},
}

// WSMessage is the envelope of every message pushed to clients
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// StatusUpdate is sent once on connect
type StatusUpdate struct {
	Service          string `json:"service"`
	Version          string `json:"version"`
	ServerInstanceID string `json:"serverInstanceId"` // Unique ID per server startup - clients clear state on change
}

// BatchUpdate reports one batch lifecycle step
type BatchUpdate struct {
	Status string `json:"status"` // started, retry, completed, failed
	models.BatchProgress
}

// FetchSummary reports a completed merged fetch without the entity rows
type FetchSummary struct {
	Interval     models.TimeInterval   `json:"interval"`
	Entities     int                   `json:"entities"`
	Batches      int                   `json:"batches"`
	Direct       bool                  `json:"direct"`
	Degraded     bool                  `json:"degraded"`
	FailedRanges []models.TimeInterval `json:"failedRanges,omitempty"`
}

// SnapshotUpdate announces a stored snapshot
type SnapshotUpdate struct {
	ID          string `json:"id"`
	CreatedUnix int64  `json:"createdUnix"`
	Bots        int    `json:"bots"`
	Degraded    bool   `json:"degraded"`
}

// WebSocketHandler streams batch progress and snapshot events to connected clients
type WebSocketHandler struct {
	logger           arbor.ILogger
	clients          map[*websocket.Conn]*sync.Mutex // Per-connection write lock
	mu               sync.RWMutex
	serverInstanceID string
}

// NewWebSocketHandler creates the handler and subscribes it to eventService when non-nil
func NewWebSocketHandler(eventService interfaces.EventService, logger arbor.ILogger) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:           logger,
		clients:          make(map[*websocket.Conn]*sync.Mutex),
		serverInstanceID: uuid.New().String(),
	}

	logger.Info().Str("server_instance_id", h.serverInstanceID).Msg("WebSocket handler initialized")

	if eventService != nil {
		h.subscribe(eventService)
	}

	return h
}

var batchStatuses = map[interfaces.EventType]string{
	interfaces.EventBatchStarted:   "started",
	interfaces.EventBatchRetry:     "retry",
	interfaces.EventBatchCompleted: "completed",
	interfaces.EventBatchFailed:    "failed",
}

func (h *WebSocketHandler) subscribe(eventService interfaces.EventService) {
	for eventType := range batchStatuses {
		if err := eventService.Subscribe(eventType, h.handleBatchEvent); err != nil {
			h.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("Failed to subscribe WebSocket handler")
		}
	}
	if err := eventService.Subscribe(interfaces.EventFetchMerged, h.handleFetchMerged); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to subscribe to fetch events")
	}
	if err := eventService.Subscribe(interfaces.EventSnapshotSaved, h.handleSnapshotSaved); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to subscribe to snapshot events")
	}
	if err := eventService.Subscribe(interfaces.EventStatusChanged, h.handleStatusChanged); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to subscribe to status events")
	}
}

func (h *WebSocketHandler) handleStatusChanged(ctx context.Context, event interfaces.Event) error {
	h.Broadcast(WSMessage{Type: "app_status", Payload: event.Payload})
	return nil
}

func (h *WebSocketHandler) handleBatchEvent(ctx context.Context, event interfaces.Event) error {
	progress, ok := event.Payload.(models.BatchProgress)
	if !ok {
		return nil
	}
	h.Broadcast(WSMessage{
		Type:    "batch_progress",
		Payload: BatchUpdate{Status: batchStatuses[event.Type], BatchProgress: progress},
	})
	return nil
}

func (h *WebSocketHandler) handleFetchMerged(ctx context.Context, event interfaces.Event) error {
	result, ok := event.Payload.(*models.MergedResult)
	if !ok || result == nil {
		return nil
	}
	h.Broadcast(WSMessage{
		Type: "fetch_merged",
		Payload: FetchSummary{
			Interval:     result.Interval,
			Entities:     len(result.Entities),
			Batches:      result.Batches,
			Direct:       result.Direct,
			Degraded:     result.Degraded,
			FailedRanges: result.FailedRanges,
		},
	})
	return nil
}

func (h *WebSocketHandler) handleSnapshotSaved(ctx context.Context, event interfaces.Event) error {
	snapshot, ok := event.Payload.(*models.Snapshot)
	if !ok || snapshot == nil {
		return nil
	}
	h.Broadcast(WSMessage{
		Type: "snapshot_saved",
		Payload: SnapshotUpdate{
			ID:          snapshot.ID,
			CreatedUnix: snapshot.CreatedUnix,
			Bots:        len(snapshot.Data.Bots),
			Degraded:    snapshot.Data.Degraded,
		},
	})
	return nil
}

// HandleWebSocket handles GET /ws
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	mutex := &sync.Mutex{}
	h.mu.Lock()
	h.clients[conn] = mutex
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Int("clients", clientCount).Msg("WebSocket client connected")

	h.send(conn, mutex, WSMessage{
		Type: "status",
		Payload: StatusUpdate{
			Service:          "vigil",
			Version:          common.GetVersion(),
			ServerInstanceID: h.serverInstanceID,
		},
	})

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		clientCount := len(h.clients)
		h.mu.Unlock()

		conn.Close()
		h.logger.Debug().Int("remaining", clientCount).Msg("WebSocket client disconnected")
	}()

	// Read messages from client (keep connection alive)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			break
		}
	}
}

// ClientCount returns the number of connected clients
func (h *WebSocketHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends msg to all connected clients
func (h *WebSocketHandler) Broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal WebSocket message")
		return
	}

	h.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	mutexes := make([]*sync.Mutex, 0, len(h.clients))
	for conn, mutex := range h.clients {
		clients = append(clients, conn)
		mutexes = append(mutexes, mutex)
	}
	h.mu.RUnlock()

	for i, conn := range clients {
		if err := h.write(conn, mutexes[i], data); err != nil {
			h.logger.Warn().Err(err).Str("type", msg.Type).Msg("Failed to send to WebSocket client")
		}
	}
}

func (h *WebSocketHandler) send(conn *websocket.Conn, mutex *sync.Mutex, msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal WebSocket message")
		return
	}
	if err := h.write(conn, mutex, data); err != nil {
		h.logger.Warn().Err(err).Str("type", msg.Type).Msg("Failed to send to WebSocket client")
	}
}

func (h *WebSocketHandler) write(conn *websocket.Conn, mutex *sync.Mutex, data []byte) error {
	mutex.Lock()
	defer mutex.Unlock()
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}
