package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jwebster45206/unknown-world/internal/services/events"
)

const DefaultKeepalive = 30 * time.Second

// EventsHandler relays a session's pipeline events as Server-Sent Events.
type EventsHandler struct {
	broadcaster *events.Broadcaster
	keepalive   time.Duration
	logger      *slog.Logger
}

func NewEventsHandler(broadcaster *events.Broadcaster, keepalive time.Duration, logger *slog.Logger) *EventsHandler {
	if keepalive <= 0 {
		keepalive = DefaultKeepalive
	}
	return &EventsHandler{
		broadcaster: broadcaster,
		keepalive:   keepalive,
		logger:      logger,
	}
}

// ServeHTTP handles GET /api/events/{session_id}
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.logger.Warn("Method not allowed for events endpoint",
			"method", r.Method,
			"path", r.URL.Path)
		writeError(w, h.logger, http.StatusMethodNotAllowed, "Method not allowed. Only GET is supported.")
		return
	}
	if h.broadcaster == nil {
		writeError(w, h.logger, http.StatusServiceUnavailable, "Event stream requires redis.")
		return
	}

	sessionID := r.PathValue("session_id")
	if sessionID == "" {
		sessionID = strings.TrimPrefix(r.URL.Path, "/api/events/")
	}
	if sessionID == "" || strings.Contains(sessionID, "/") {
		writeError(w, h.logger, http.StatusBadRequest, "Invalid path. Expected /api/events/{session_id}")
		return
	}

	ctx := r.Context()
	pubsub := h.broadcaster.Subscribe(ctx, sessionID)
	defer func() {
		if err := pubsub.Close(); err != nil {
			h.logger.Error("Failed to close pubsub", "error", err)
		}
	}()
	if _, err := pubsub.Receive(ctx); err != nil {
		h.logger.Error("Failed to subscribe to session events", "session_id", sessionID, "error", err)
		writeError(w, h.logger, http.StatusServiceUnavailable, "Event stream unavailable.")
		return
	}

	h.logger.Info("SSE connection established",
		"session_id", sessionID,
		"remote_addr", r.RemoteAddr)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	msgChan := pubsub.Channel()
	keepaliveTicker := time.NewTicker(h.keepalive)
	defer keepaliveTicker.Stop()

	h.sendSSE(w, rc, "connected", map[string]string{
		"session_id": sessionID,
		"channel":    events.Channel(sessionID),
	})

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("SSE client disconnected", "session_id", sessionID)
			return

		case msg, ok := <-msgChan:
			if !ok {
				return
			}
			var env struct {
				Event struct {
					Type string `json:"type"`
				} `json:"event"`
			}
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil || env.Event.Type == "" {
				h.logger.Error("Dropping malformed event", "session_id", sessionID, "error", err)
				continue
			}
			if !h.sendSSE(w, rc, env.Event.Type, json.RawMessage(msg.Payload)) {
				return
			}

		case <-keepaliveTicker.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				h.logger.Error("Failed to write keepalive", "error", err)
				return
			}
			_ = rc.Flush()
		}
	}
}

// sendSSE writes one event and reports whether the client is still there.
func (h *EventsHandler) sendSSE(w http.ResponseWriter, rc *http.ResponseController, eventType string, data any) bool {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		h.logger.Error("Failed to marshal SSE data", "error", err)
		return true
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, dataJSON); err != nil {
		h.logger.Error("Failed to write event", "error", err)
		return false
	}
	_ = rc.Flush()
	return true
}
