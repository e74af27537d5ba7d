package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/jwebster45206/unknown-world/internal/app"
	"github.com/jwebster45206/unknown-world/internal/config"
	"github.com/jwebster45206/unknown-world/internal/handlers"
	"github.com/jwebster45206/unknown-world/internal/logger"
	"github.com/jwebster45206/unknown-world/internal/middleware"
	"github.com/jwebster45206/unknown-world/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	log := logger.Setup(cfg)

	log.Info("Starting Unknown World API",
		"port", cfg.Port,
		"environment", cfg.Environment,
		"mode", cfg.Mode,
		"provider", cfg.Provider,
		"version", cfg.Version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to initialize", "error", err)
		os.Exit(1)
	}
	defer a.Close(log)

	if cfg.PromptWatch {
		go func() {
			if err := a.Prompts.Watch(ctx); err != nil {
				log.Warn("Prompt watcher stopped", "error", err)
			}
		}()
	}

	mux := http.NewServeMux()
	mux.Handle("/health", handlers.NewHealthHandler(a.Backends.LLM, a.History, cfg.Mode, cfg.Version, log))
	mux.Handle("/api/turn", handlers.NewTurnHandler(a.Runner, a.Broadcaster, log))
	mux.Handle("/api/turn/queue", handlers.NewQueueHandler(a.Queue, log))
	mux.Handle("/api/events/{session_id}", handlers.NewEventsHandler(a.Broadcaster, handlers.DefaultKeepalive, log))
	mux.Handle(storage.StaticPrefix, handlers.NewStaticHandler(a.Assets, log))

	handler := middleware.Logger(log)(middleware.CORS(cfg.AllowedOrigins)(mux))
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           h2c.NewHandler(handler, &http2.Server{}),
		ReadHeaderTimeout: 15 * time.Second,
		// No WriteTimeout: the turn stream is bounded by the pipeline deadline.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Info("Server starting", "addr", server.Addr, "llm_backend", a.Backends.LLM.Name(), "mock", a.Backends.IsMock)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("Server is shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	log.Info("Server exited")
}
