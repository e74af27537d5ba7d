package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/jwebster45206/unknown-world/internal/storage"
)

// StaticHandler serves stored assets under /static/{category}/{name}.
type StaticHandler struct {
	store  storage.AssetStore
	logger *slog.Logger
}

func NewStaticHandler(store storage.AssetStore, logger *slog.Logger) *StaticHandler {
	return &StaticHandler{store: store, logger: logger}
}

func (h *StaticHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, h.logger, http.StatusMethodNotAllowed, "Method not allowed. Only GET is supported.")
		return
	}

	category, name, err := storage.ParseURL(r.URL.Path)
	if err != nil {
		writeError(w, h.logger, http.StatusNotFound, "Asset not found.")
		return
	}

	rc, err := h.store.Open(r.Context(), category, name)
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrInvalidAsset):
		writeError(w, h.logger, http.StatusNotFound, "Asset not found.")
		return
	case err != nil:
		h.logger.Error("Failed to open asset", "category", category, "name", name, "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "Failed to read asset.")
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", storage.MIMEForName(name))
	w.Header().Set("Cache-Control", "public, max-age=86400, immutable")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("Failed to stream asset", "name", name, "error", err)
	}
}
