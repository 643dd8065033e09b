package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/vigil/internal/interfaces"
	"github.com/ternarybob/vigil/internal/models"
	"github.com/ternarybob/vigil/internal/services/events"
)

func dialTestServer(t *testing.T, h *WebSocketHandler) *websocket.Conn {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func TestWebSocket_StatusOnConnect(t *testing.T) {
	h := NewWebSocketHandler(nil, arbor.NewLogger())
	conn := dialTestServer(t, h)

	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "status", msg.Type)
	payload := msg.Payload.(map[string]interface{})
	assert.Equal(t, "vigil", payload["service"])
	assert.NotEmpty(t, payload["serverInstanceId"])
	assert.Equal(t, 1, h.ClientCount())
}

func TestWebSocket_StreamsEvents(t *testing.T) {
	bus := events.NewService(arbor.NewLogger())
	defer bus.Close()

	h := NewWebSocketHandler(bus, arbor.NewLogger())
	conn := dialTestServer(t, h)

	var status WSMessage
	require.NoError(t, conn.ReadJSON(&status))

	ctx := context.Background()
	require.NoError(t, bus.PublishSync(ctx, interfaces.Event{
		Type: interfaces.EventBatchRetry,
		Payload: models.BatchProgress{
			RunID:   "run_1",
			Index:   2,
			Total:   5,
			Attempt: 3,
			Error:   "call timeout after 3m0s",
		},
	}))
	require.NoError(t, bus.PublishSync(ctx, interfaces.Event{
		Type: interfaces.EventFetchMerged,
		Payload: &models.MergedResult{
			Entities: make([]models.MergedEntity, 4),
			Batches:  5,
			Degraded: true,
		},
	}))
	require.NoError(t, bus.PublishSync(ctx, interfaces.Event{
		Type:    interfaces.EventSnapshotSaved,
		Payload: &models.Snapshot{ID: "snap_1", CreatedUnix: 1761091200},
	}))

	var batch WSMessage
	require.NoError(t, conn.ReadJSON(&batch))
	assert.Equal(t, "batch_progress", batch.Type)
	payload := batch.Payload.(map[string]interface{})
	assert.Equal(t, "retry", payload["status"])
	assert.Equal(t, "run_1", payload["runId"])
	assert.Equal(t, 3.0, payload["attempt"])

	var fetch WSMessage
	require.NoError(t, conn.ReadJSON(&fetch))
	assert.Equal(t, "fetch_merged", fetch.Type)
	assert.Equal(t, 4.0, fetch.Payload.(map[string]interface{})["entities"])
	assert.Equal(t, true, fetch.Payload.(map[string]interface{})["degraded"])

	var snap WSMessage
	require.NoError(t, conn.ReadJSON(&snap))
	assert.Equal(t, "snapshot_saved", snap.Type)
	assert.Equal(t, "snap_1", snap.Payload.(map[string]interface{})["id"])
}
