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

	"github.com/ternarybob/laboro/internal/common"
	"github.com/ternarybob/laboro/internal/interfaces"
	"github.com/ternarybob/laboro/internal/models"
	"github.com/ternarybob/laboro/internal/services/events"
)

func dialWebSocket(t *testing.T, handler *WebSocketHandler) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(handler.ServeHTTP))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) wsMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame wsMessage
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func TestWebSocketHandshakeAnnouncesInstance(t *testing.T) {
	bus := events.NewService(arbor.NewLogger())
	t.Cleanup(func() { bus.Close() })
	handler := NewWebSocketHandler(bus, nil, arbor.NewLogger())
	t.Cleanup(handler.Close)

	conn := dialWebSocket(t, handler)

	frame := readFrame(t, conn)
	assert.Equal(t, "connected", frame.Type)
	payload, ok := frame.Payload.(map[string]interface{})
	require.True(t, ok)
	assert.NotEmpty(t, payload["server_instance_id"])
}

func TestWebSocketStreamsJobEvents(t *testing.T) {
	bus := events.NewService(arbor.NewLogger())
	t.Cleanup(func() { bus.Close() })
	handler := NewWebSocketHandler(bus, nil, arbor.NewLogger())
	t.Cleanup(handler.Close)

	conn := dialWebSocket(t, handler)
	readFrame(t, conn) // connected

	board := models.NewJobBoard("indeed", models.BoardTypeHTML, "https://example.com/jobs")
	job := models.NewScrapeJob(board, models.JobModeManual, 0)
	require.NoError(t, bus.PublishSync(context.Background(), interfaces.Event{
		Type:    interfaces.EventJobCreated,
		Payload: job,
	}))

	frame := readFrame(t, conn)
	assert.Equal(t, string(interfaces.EventJobCreated), frame.Type)
	payload, ok := frame.Payload.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, job.ID, payload["id"])
}

func TestWebSocketWhitelistFiltersEvents(t *testing.T) {
	bus := events.NewService(arbor.NewLogger())
	t.Cleanup(func() { bus.Close() })
	handler := NewWebSocketHandler(bus, &common.WebSocketConfig{
		AllowedEvents: []string{string(interfaces.EventEngineStatus)},
	}, arbor.NewLogger())
	t.Cleanup(handler.Close)

	conn := dialWebSocket(t, handler)
	readFrame(t, conn) // connected

	board := models.NewJobBoard("indeed", models.BoardTypeHTML, "https://example.com/jobs")
	require.NoError(t, bus.PublishSync(context.Background(), interfaces.Event{
		Type:    interfaces.EventJobCreated,
		Payload: models.NewScrapeJob(board, models.JobModeManual, 0),
	}))
	require.NoError(t, bus.PublishSync(context.Background(), interfaces.Event{
		Type:    interfaces.EventEngineStatus,
		Payload: models.NewEngineState(5, "test"),
	}))

	frame := readFrame(t, conn)
	assert.Equal(t, string(interfaces.EventEngineStatus), frame.Type, "whitelisted event arrives without the filtered one")
}

func TestWebSocketLogLevelFilter(t *testing.T) {
	bus := events.NewService(arbor.NewLogger())
	t.Cleanup(func() { bus.Close() })
	handler := NewWebSocketHandler(bus, &common.WebSocketConfig{MinLevel: "warn"}, arbor.NewLogger())
	t.Cleanup(handler.Close)

	conn := dialWebSocket(t, handler)
	readFrame(t, conn) // connected

	require.NoError(t, bus.PublishSync(context.Background(), interfaces.Event{
		Type:    interfaces.EventLogEntry,
		Payload: models.LogEntry{Level: "INF", Message: "quiet"},
	}))
	require.NoError(t, bus.PublishSync(context.Background(), interfaces.Event{
		Type:    interfaces.EventLogEntry,
		Payload: models.LogEntry{Level: "ERR", Message: "loud"},
	}))

	frame := readFrame(t, conn)
	payload, ok := frame.Payload.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "loud", payload["message"])
}

func TestWebSocketDebouncesProgressIntoRefresh(t *testing.T) {
	bus := events.NewService(arbor.NewLogger())
	t.Cleanup(func() { bus.Close() })
	handler := NewWebSocketHandler(bus, nil, arbor.NewLogger())
	t.Cleanup(handler.Close)

	conn := dialWebSocket(t, handler)
	readFrame(t, conn) // connected

	for page := 1; page <= 3; page++ {
		require.NoError(t, bus.PublishSync(context.Background(), interfaces.Event{
			Type:    interfaces.EventJobProgress,
			Payload: models.JobProgress{JobID: "job-1", Page: page},
		}))
	}

	// Three progress events collapse into one refresh trigger.
	frame := readFrame(t, conn)
	assert.Equal(t, "refresh", frame.Type)
	payload, ok := frame.Payload.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "jobs", payload["scope"])
	assert.Equal(t, []interface{}{"job-1"}, payload["job_ids"])
}

func TestWebSocketTerminalEventTriggersImmediateRefresh(t *testing.T) {
	bus := events.NewService(arbor.NewLogger())
	t.Cleanup(func() { bus.Close() })
	handler := NewWebSocketHandler(bus, nil, arbor.NewLogger())
	t.Cleanup(handler.Close)

	conn := dialWebSocket(t, handler)
	readFrame(t, conn) // connected

	board := models.NewJobBoard("indeed", models.BoardTypeHTML, "https://example.com/jobs")
	job := models.NewScrapeJob(board, models.JobModeManual, 0)
	require.NoError(t, bus.PublishSync(context.Background(), interfaces.Event{
		Type:    interfaces.EventJobCompleted,
		Payload: job,
	}))

	// Finished refresh first, then the terminal frame with the payload.
	frame := readFrame(t, conn)
	assert.Equal(t, "refresh", frame.Type)
	payload, ok := frame.Payload.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, payload["finished"])

	frame = readFrame(t, conn)
	assert.Equal(t, string(interfaces.EventJobCompleted), frame.Type)
}

func TestWebSocketClientCountTracksDisconnect(t *testing.T) {
	bus := events.NewService(arbor.NewLogger())
	t.Cleanup(func() { bus.Close() })
	handler := NewWebSocketHandler(bus, nil, arbor.NewLogger())
	t.Cleanup(handler.Close)

	conn := dialWebSocket(t, handler)
	readFrame(t, conn)
	require.Equal(t, 1, handler.ClientCount())

	conn.Close()
	require.Eventually(t, func() bool { return handler.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}
