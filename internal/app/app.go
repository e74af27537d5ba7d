// Package app assembles the turn pipeline and its collaborators from
// configuration. The API server and the queue worker share it.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jwebster45206/unknown-world/internal/config"
	"github.com/jwebster45206/unknown-world/internal/history"
	"github.com/jwebster45206/unknown-world/internal/models"
	"github.com/jwebster45206/unknown-world/internal/orchestrator"
	"github.com/jwebster45206/unknown-world/internal/pipeline"
	"github.com/jwebster45206/unknown-world/internal/services"
	"github.com/jwebster45206/unknown-world/internal/services/events"
	"github.com/jwebster45206/unknown-world/internal/services/queue"
	"github.com/jwebster45206/unknown-world/internal/storage"
	"github.com/jwebster45206/unknown-world/internal/validation"
	"github.com/jwebster45206/unknown-world/pkg/prompts"
)

// App holds everything a process needs to run turns. The redis-backed parts
// are nil without REDIS_URL.
type App struct {
	Prompts     *prompts.Loader
	History     history.Store
	Assets      storage.AssetStore
	Backends    Backends
	Runner      *pipeline.Runner
	Redis       *services.RedisService
	Broadcaster *events.Broadcaster
	Queue       *queue.TurnQueue
}

// New checks prompts and the output schema, connects redis when configured
// and builds the runner.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	loader, err := prompts.NewLoader(cfg.PromptDir, cfg.IsDevelopment(), log)
	if err != nil {
		return nil, fmt.Errorf("failed to create prompt loader: %w", err)
	}
	if err := loader.Check(prompts.Required); err != nil {
		return nil, fmt.Errorf("required prompts are missing in %s: %w", cfg.PromptDir, err)
	}
	if err := CheckOutputSchema(); err != nil {
		return nil, fmt.Errorf("output schema is unusable: %w", err)
	}

	a := &App{Prompts: loader}
	histOpts := history.Options{
		MaxTurns:  cfg.HistoryMaxTurns,
		MaxTokens: cfg.HistoryMaxToken,
		TTL:       cfg.HistoryTTL,
	}
	a.History = history.NewMemoryStore(histOpts)
	if cfg.RedisURL != "" {
		a.Redis, err = services.NewRedisService(cfg.RedisURL, log)
		if err != nil {
			return nil, fmt.Errorf("failed to configure redis: %w", err)
		}
		waitCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err = a.Redis.WaitForConnection(waitCtx, 10, 2*time.Second)
		cancel()
		if err != nil {
			a.Close(log)
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.History = history.NewRedisStore(a.Redis.Client(), histOpts, log)
		a.Broadcaster = events.NewBroadcaster(a.Redis.Client(), log)
		a.Queue = queue.NewTurnQueue(a.Redis.Client())
	}
	log.Info("History store ready", "backend", a.History.Name(), "observers", a.Broadcaster != nil)

	if a.Assets, err = NewAssetStore(cfg, log); err != nil {
		a.Close(log)
		return nil, fmt.Errorf("failed to create asset store: %w", err)
	}

	registry := models.FromConfig(cfg)
	if a.Backends, err = NewBackends(ctx, cfg, registry, loader, a.Assets, log); err != nil {
		a.Close(log)
		return nil, fmt.Errorf("failed to initialize LLM backend: %w", err)
	}

	generator := orchestrator.NewGenerator(a.Backends.LLM, loader, registry, log)
	repair := orchestrator.NewRepairLoop(generator, validation.New(cfg.MaxCredit, nil),
		orchestrator.MaxRepairAttempts, cfg.RepairBackoff, log)
	a.Runner = pipeline.NewRunner(pipeline.Deps{
		Repair:  repair,
		History: a.History,
		Vision:  a.Backends.Vision,
		Images:  a.Backends.Images,
		IsMock:  a.Backends.IsMock,
		Logger:  log,
	}, pipeline.Options{
		Deadline:       cfg.TurnDeadline,
		PacingDelay:    cfg.PacingDelay,
		GenerateImages: a.Backends.Images != nil,
	})
	return a, nil
}

// Close releases the redis connection.
func (a *App) Close(log *slog.Logger) {
	if a.Redis == nil {
		return
	}
	if err := a.Redis.Close(); err != nil {
		log.Error("Error closing redis connection", "error", err)
	}
}
