package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/jwebster45206/unknown-world/internal/logger"
	"github.com/jwebster45206/unknown-world/internal/middleware"
	"github.com/jwebster45206/unknown-world/internal/services/queue"
	queuePkg "github.com/jwebster45206/unknown-world/pkg/queue"
	"github.com/jwebster45206/unknown-world/pkg/turn"
)

// QueuedResponse acknowledges a queued turn. Its events arrive on EventsURL.
type QueuedResponse struct {
	RequestID  string `json:"request_id"`
	SessionID  string `json:"session_id"`
	EventsURL  string `json:"events_url"`
	QueueDepth int    `json:"queue_depth"`
}

// QueueHandler accepts turns for the workers instead of streaming them.
type QueueHandler struct {
	queue  *queue.TurnQueue
	logger *slog.Logger
}

func NewQueueHandler(q *queue.TurnQueue, logger *slog.Logger) *QueueHandler {
	return &QueueHandler{queue: q, logger: logger}
}

// ServeHTTP handles POST /api/turn/queue
func (h *QueueHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get(middleware.RequestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	w.Header().Set(middleware.RequestIDHeader, requestID)
	log := logger.WithRequestID(h.logger, requestID)

	if r.Method != http.MethodPost {
		writeError(w, log, http.StatusMethodNotAllowed, "Method not allowed. Only POST is supported.")
		return
	}
	if h.queue == nil {
		writeError(w, log, http.StatusServiceUnavailable, "turn queue is not configured")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxTurnBodyBytes))
	if err != nil {
		writeError(w, log, http.StatusBadRequest, "failed to read request body")
		return
	}
	in, err := turn.ParseInput(body)
	if err != nil {
		log.Warn("Invalid turn input", "error", err)
		writeError(w, log, http.StatusBadRequest, err.Error())
		return
	}
	if in.SessionID == "" {
		writeError(w, log, http.StatusBadRequest, "session_id is required for queued turns")
		return
	}

	job := &queuePkg.TurnJob{
		RequestID:  requestID,
		SessionID:  in.SessionID,
		Input:      in,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := h.queue.Enqueue(r.Context(), job); err != nil {
		logger.WithError(log, err).Error("Failed to enqueue turn")
		writeError(w, log, http.StatusServiceUnavailable, "failed to queue turn")
		return
	}
	depth, err := h.queue.Depth(r.Context())
	if err != nil {
		log.Warn("Failed to read queue depth", "error", err)
	}
	log.Info("Turn queued", "session_id", in.SessionID, "queue_depth", depth)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(QueuedResponse{
		RequestID:  requestID,
		SessionID:  in.SessionID,
		EventsURL:  "/api/events/" + in.SessionID,
		QueueDepth: depth,
	}); err != nil {
		log.Error("Failed to encode queued response", "error", err)
	}
}
