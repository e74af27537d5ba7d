package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/jwebster45206/unknown-world/internal/logger"
	"github.com/jwebster45206/unknown-world/internal/middleware"
	"github.com/jwebster45206/unknown-world/internal/pipeline"
	"github.com/jwebster45206/unknown-world/internal/services/events"
	"github.com/jwebster45206/unknown-world/pkg/turn"
)

const (
	ContentTypeNDJSON = "application/x-ndjson"

	maxTurnBodyBytes = 1 << 20
)

// TurnHandler streams one pipeline run per request as newline-delimited
// JSON events. Observers of the session receive the same events through
// the broadcaster when one is configured.
type TurnHandler struct {
	runner      *pipeline.Runner
	broadcaster *events.Broadcaster
	logger      *slog.Logger
}

func NewTurnHandler(runner *pipeline.Runner, broadcaster *events.Broadcaster, logger *slog.Logger) *TurnHandler {
	return &TurnHandler{
		runner:      runner,
		broadcaster: broadcaster,
		logger:      logger,
	}
}

// ServeHTTP handles POST /api/turn
func (h *TurnHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get(middleware.RequestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	w.Header().Set(middleware.RequestIDHeader, requestID)
	w.Header().Set("Content-Type", ContentTypeNDJSON)
	log := logger.WithRequestID(h.logger, requestID)

	if r.Method != http.MethodPost {
		log.Warn("Method not allowed for turn endpoint",
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr)
		h.reject(w, log, http.StatusMethodNotAllowed, "Method not allowed. Only POST is supported.")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxTurnBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.reject(w, log, http.StatusBadRequest, "request body too large")
			return
		}
		h.reject(w, log, http.StatusBadRequest, "failed to read request body")
		return
	}
	in, err := turn.ParseInput(body)
	if err != nil {
		log.Warn("Invalid turn input", "error", err)
		h.reject(w, log, http.StatusBadRequest, err.Error())
		return
	}

	log = logger.WithSession(log, in.SessionID)
	log.Info("Turn requested",
		"language", in.Language,
		"input_kind", in.InputKind,
		"mock", h.runner.IsMock())

	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	stream := newEventWriter(w, log)
	publishCtx := context.WithoutCancel(r.Context())
	emit := func(ev pipeline.Event) {
		stream.write(ev)
		if h.broadcaster != nil && in.SessionID != "" {
			// Publish errors are logged by the broadcaster and never reach the player.
			_ = h.broadcaster.Publish(publishCtx, in.SessionID, requestID, ev)
		}
	}
	h.runner.Run(r.Context(), requestID, in, emit)
}

// reject answers before any stage runs with a single error event.
func (h *TurnHandler) reject(w http.ResponseWriter, log *slog.Logger, status int, msg string) {
	w.WriteHeader(status)
	newEventWriter(w, log).write(pipeline.ErrorEvent(pipeline.CodeValidationError, msg))
}

// eventWriter encodes one event per line and flushes after each.
type eventWriter struct {
	enc    *json.Encoder
	rc     *http.ResponseController
	logger *slog.Logger
	broken bool
}

func newEventWriter(w http.ResponseWriter, logger *slog.Logger) *eventWriter {
	return &eventWriter{
		enc:    json.NewEncoder(w),
		rc:     http.NewResponseController(w),
		logger: logger,
	}
}

func (ew *eventWriter) write(ev pipeline.Event) {
	if ew.broken {
		return
	}
	if err := ew.enc.Encode(ev); err != nil {
		ew.logger.Warn("Failed to write stream event, client gone", "type", ev.Type, "error", err)
		ew.broken = true
		return
	}
	if err := ew.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		ew.broken = true
	}
}
