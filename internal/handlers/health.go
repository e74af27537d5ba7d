package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/jwebster45206/unknown-world/internal/history"
	"github.com/jwebster45206/unknown-world/internal/services"
)

const ServiceName = "unknown-world"

type HealthResponse struct {
	Status     string         `json:"status"`
	Version    string         `json:"version"`
	Service    string         `json:"service"`
	Timestamp  time.Time      `json:"timestamp"`
	Components map[string]any `json:"components"`
}

// HealthHandler reports liveness. Component checks are informational and
// never change the status code.
type HealthHandler struct {
	llm     services.LLMClient
	history history.Store
	mode    string
	version string
	logger  *slog.Logger
}

func NewHealthHandler(llm services.LLMClient, store history.Store, mode, version string, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		llm:     llm,
		history: store,
		mode:    mode,
		version: version,
		logger:  logger,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		h.logger.Warn("Method not allowed for health endpoint",
			"method", r.Method,
			"path", r.URL.Path)
		writeError(w, h.logger, http.StatusMethodNotAllowed, "Method not allowed. Only GET is supported.")
		return
	}

	h.logger.Debug("Health check requested",
		"method", r.Method,
		"path", r.URL.Path,
		"remote_addr", r.RemoteAddr)

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	components := map[string]any{}
	if h.llm != nil {
		components["llm"] = map[string]any{
			"mode":      h.mode,
			"backend":   h.llm.Name(),
			"available": h.llm.IsAvailable(),
		}
	}
	if h.history != nil {
		status := "healthy"
		if err := h.history.Ping(ctx); err != nil {
			h.logger.Warn("History health check failed", "backend", h.history.Name(), "error", err)
			status = "unhealthy"
		}
		components["history"] = map[string]any{
			"backend": h.history.Name(),
			"status":  status,
		}
	}

	response := HealthResponse{
		Status:     "ok",
		Version:    h.version,
		Service:    ServiceName,
		Timestamp:  time.Now().UTC(),
		Components: components,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("Error encoding health response",
			"error", err,
			"path", r.URL.Path)
	}
}
