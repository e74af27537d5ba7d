package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jwebster45206/unknown-world/internal/config"
	"github.com/jwebster45206/unknown-world/internal/models"
	"github.com/jwebster45206/unknown-world/internal/services"
	"github.com/jwebster45206/unknown-world/internal/storage"
	"github.com/jwebster45206/unknown-world/pkg/prompts"
	"github.com/jwebster45206/unknown-world/pkg/turn"
)

type Backends struct {
	LLM    services.LLMClient
	Vision services.VisionService
	Images services.ImageGenerator
	IsMock bool
}

// NewBackends picks the LLM client for the configured mode. Real mode with
// missing credentials serves the mock instead of failing start-up.
func NewBackends(ctx context.Context, cfg *config.Config, registry *models.Registry, loader *prompts.Loader, assets storage.AssetStore, log *slog.Logger) (Backends, error) {
	mock := Backends{
		LLM:    services.NewMockClient(),
		Vision: &services.MockVision{},
		Images: services.NewMockImageGenerator(assets),
		IsMock: true,
	}
	if cfg.Mode == config.ModeMock {
		return mock, nil
	}

	switch cfg.Provider {
	case config.ProviderGemini:
		gemini, err := services.NewGeminiClient(ctx, cfg.GeminiAPIKey, registry, log)
		if err != nil {
			return Backends{}, err
		}
		if !gemini.IsAvailable() {
			log.Warn("GEMINI_API_KEY not set, serving mock turns")
			return mock, nil
		}
		return Backends{
			LLM:    gemini,
			Vision: services.NewLLMVision(gemini, loader, assets, log),
			Images: services.NewGeminiImageGenerator(gemini, assets, log),
		}, nil

	case config.ProviderCompat:
		compat := services.NewCompatClient(cfg.CompatBaseURL, cfg.CompatAPIKey, registry, log)
		if !compat.IsAvailable() {
			log.Warn("COMPAT_API_KEY not set, serving mock turns")
			return mock, nil
		}
		// Text only: no inline images for vision and no image model.
		return Backends{LLM: compat}, nil
	}
	return Backends{}, fmt.Errorf("unsupported provider %q", cfg.Provider)
}

func NewAssetStore(cfg *config.Config, log *slog.Logger) (storage.AssetStore, error) {
	if cfg.S3Enabled() {
		log.Info("Using S3 asset store", "endpoint", cfg.S3Endpoint, "bucket", cfg.S3Bucket)
		return storage.NewS3Store(storage.S3Config{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
		}, log)
	}
	log.Info("Using local asset store", "dir", cfg.DataDir)
	return storage.NewLocalStore(cfg.DataDir, log)
}

// CheckOutputSchema builds the structured-output schema once so a type the
// generator cannot describe fails start-up instead of the first turn.
func CheckOutputSchema() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("schema generation panicked: %v", r)
		}
	}()
	raw := turn.OutputSchemaJSON()
	if !json.Valid(raw) {
		return errors.New("generated schema is not valid JSON")
	}
	var doc struct {
		Type       string         `json:"type"`
		Properties map[string]any `json:"properties"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("failed to read generated schema: %w", err)
	}
	if doc.Type != "object" || len(doc.Properties) == 0 {
		return errors.New("generated schema has no properties")
	}
	return nil
}
