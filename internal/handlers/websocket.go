// -----------------------------------------------------------------------
// WebSocket Handler - live event stream for the admin UI
// -----------------------------------------------------------------------

package handlers

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/laboro/internal/common"
	"github.com/ternarybob/laboro/internal/interfaces"
	"github.com/ternarybob/laboro/internal/models"
	"github.com/ternarybob/laboro/internal/services/events"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // local admin UI; auth happens at the HTTP layer
	},
}

const wsWriteTimeout = 10 * time.Second

// streamedEvents is the default set forwarded to clients when no
// whitelist is configured.
var streamedEvents = []interfaces.EventType{
	interfaces.EventJobCreated,
	interfaces.EventJobStarted,
	interfaces.EventJobProgress,
	interfaces.EventJobCompleted,
	interfaces.EventJobFailed,
	interfaces.EventJobCancelled,
	interfaces.EventJobPaused,
	interfaces.EventBoardFlagged,
	interfaces.EventEngineStatus,
	interfaces.EventScheduleFired,
	interfaces.EventLogEntry,
}

// wsMessage is the frame sent to every connected client.
type wsMessage struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// WebSocketHandler fans event bus traffic out to connected clients.
// job_progress events arrive once per scraped page, which is too chatty
// to push frame-by-frame; they are folded into periodic refresh triggers
// instead. Everything else streams as individual frames.
type WebSocketHandler struct {
	events        interfaces.EventService
	logger        arbor.ILogger
	allowedEvents map[interfaces.EventType]bool
	minLogLevel   string
	instanceID    string // clients use this to detect server restarts

	aggregator *events.RefreshAggregator
	aggCancel  context.CancelFunc

	mu      sync.RWMutex
	clients map[*websocket.Conn]*sync.Mutex

	handlers map[interfaces.EventType]interfaces.EventHandler
}

// NewWebSocketHandler creates the handler and subscribes it to the bus.
func NewWebSocketHandler(bus interfaces.EventService, config *common.WebSocketConfig, logger arbor.ILogger) *WebSocketHandler {
	h := &WebSocketHandler{
		events:      bus,
		logger:      logger,
		minLogLevel: "info",
		instanceID:  uuid.New().String(),
		clients:     make(map[*websocket.Conn]*sync.Mutex),
		handlers:    make(map[interfaces.EventType]interfaces.EventHandler),
	}

	h.allowedEvents = make(map[interfaces.EventType]bool)
	if config != nil && len(config.AllowedEvents) > 0 {
		for _, eventType := range config.AllowedEvents {
			h.allowedEvents[interfaces.EventType(eventType)] = true
		}
	}
	if config != nil && config.MinLevel != "" {
		h.minLogLevel = config.MinLevel
	}

	h.aggregator = events.NewRefreshAggregator(time.Second, func(ctx context.Context, trigger events.RefreshTrigger) {
		h.broadcastFrame(wsMessage{
			Type:      "refresh",
			Payload:   trigger,
			Timestamp: time.Now().UTC(),
		})
	}, logger)
	aggCtx, aggCancel := context.WithCancel(context.Background())
	h.aggCancel = aggCancel
	h.aggregator.StartPeriodicFlush(aggCtx)

	for _, eventType := range streamedEvents {
		if len(h.allowedEvents) > 0 && !h.allowedEvents[eventType] {
			continue
		}
		eventType := eventType
		handler := func(ctx context.Context, event interfaces.Event) error {
			h.broadcast(event)
			return nil
		}
		h.handlers[eventType] = handler
		if err := bus.Subscribe(eventType, handler); err != nil {
			logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("WebSocket event subscription failed")
		}
	}

	return h
}

// ServeHTTP upgrades the connection and registers the client. The read
// loop exists only to detect disconnects; clients do not send commands.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	h.mu.Lock()
	h.clients[conn] = &sync.Mutex{}
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Info().Int("clients", count).Msg("WebSocket client connected")

	h.send(conn, wsMessage{
		Type:      "connected",
		Payload:   map[string]string{"server_instance_id": h.instanceID},
		Timestamp: time.Now().UTC(),
	})

	go func() {
		defer h.drop(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Close disconnects all clients and unsubscribes from the bus.
func (h *WebSocketHandler) Close() {
	for eventType, handler := range h.handlers {
		_ = h.events.Unsubscribe(eventType, handler)
	}
	if h.aggCancel != nil {
		h.aggCancel()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		_ = conn.Close()
	}
	h.clients = make(map[*websocket.Conn]*sync.Mutex)
}

// ClientCount returns the number of connected clients.
func (h *WebSocketHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *WebSocketHandler) broadcast(event interfaces.Event) {
	switch event.Type {
	case interfaces.EventLogEntry:
		if !h.logLevelAllowed(event.Payload) {
			return
		}
	case interfaces.EventJobProgress:
		// Debounced: folded into the next refresh trigger.
		if progress, ok := event.Payload.(models.JobProgress); ok {
			h.aggregator.RecordJobEvent(context.Background(), progress.JobID)
			return
		}
	case interfaces.EventJobCompleted, interfaces.EventJobFailed, interfaces.EventJobCancelled:
		// Terminal transitions flush any pending progress right away so
		// clients never show a stale final state. The frame itself still
		// streams below.
		if job, ok := event.Payload.(*models.ScrapeJob); ok {
			h.aggregator.TriggerJobImmediately(context.Background(), job.ID)
			h.aggregator.CleanupJob(job.ID)
		}
	}

	h.broadcastFrame(wsMessage{
		Type:      string(event.Type),
		Payload:   event.Payload,
		Timestamp: time.Now().UTC(),
	})
}

func (h *WebSocketHandler) broadcastFrame(message wsMessage) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		h.send(conn, message)
	}
}

// send serializes writes per connection; gorilla connections do not allow
// concurrent writers.
func (h *WebSocketHandler) send(conn *websocket.Conn, message wsMessage) {
	h.mu.RLock()
	lock, ok := h.clients[conn]
	h.mu.RUnlock()
	if !ok {
		return
	}

	lock.Lock()
	defer lock.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(message); err != nil {
		h.drop(conn)
	}
}

func (h *WebSocketHandler) drop(conn *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.clients[conn]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, conn)
	count := len(h.clients)
	h.mu.Unlock()

	_ = conn.Close()
	h.logger.Info().Int("clients", count).Msg("WebSocket client disconnected")
}

// logLevelAllowed filters log_entry frames below the configured level.
func (h *WebSocketHandler) logLevelAllowed(payload interface{}) bool {
	entry, ok := payload.(models.LogEntry)
	if !ok {
		return true
	}
	return logLevelRank(entry.Level) >= logLevelRank(h.minLogLevel)
}

func logLevelRank(level string) int {
	switch strings.ToLower(level) {
	case "debug", "dbg", "trace":
		return 0
	case "info", "inf":
		return 1
	case "warn", "wrn", "warning":
		return 2
	case "error", "err", "fatal":
		return 3
	default:
		return 1
	}
}
