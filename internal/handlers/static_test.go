package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/unknown-world/internal/storage"
)

func TestStaticHandler(t *testing.T) {
	store, err := storage.NewLocalStore(t.TempDir(), discardLogger())
	require.NoError(t, err)
	asset, err := store.Save(t.Context(), storage.CategoryGenerated, "png", []byte("\x89PNG fake"))
	require.NoError(t, err)

	handler := NewStaticHandler(store, discardLogger())

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
		wantBody   string
	}{
		{"existing asset", http.MethodGet, asset.URL, http.StatusOK, "\x89PNG fake"},
		{"head request", http.MethodHead, asset.URL, http.StatusOK, ""},
		{"missing asset", http.MethodGet, storage.URLFor(storage.CategoryGenerated, "nope.png"), http.StatusNotFound, ""},
		{"unknown category", http.MethodGet, "/static/secrets/" + asset.Name(), http.StatusNotFound, ""},
		{"traversal", http.MethodGet, "/static/images/generated/..%2f..%2fetc", http.StatusNotFound, ""},
		{"wrong method", http.MethodDelete, asset.URL, http.StatusMethodNotAllowed, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, httptest.NewRequest(tt.method, tt.path, nil))

			assert.Equal(t, tt.wantStatus, rr.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, "image/png", rr.Header().Get("Content-Type"))
				assert.Equal(t, tt.wantBody, rr.Body.String())
			}
		})
	}
}
