package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jwebster45206/unknown-world/internal/app"
	"github.com/jwebster45206/unknown-world/internal/config"
	"github.com/jwebster45206/unknown-world/internal/logger"
	"github.com/jwebster45206/unknown-world/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	log := logger.Setup(cfg)

	log.Info("Starting Unknown World Worker",
		"environment", cfg.Environment,
		"mode", cfg.Mode,
		"concurrency", cfg.WorkerConcurrency)

	if cfg.RedisURL == "" {
		log.Error("REDIS_URL is required for the worker")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to initialize", "error", err)
		os.Exit(1)
	}
	defer a.Close(log)

	concurrency := max(cfg.WorkerConcurrency, 1)
	// The lock outlives the turn deadline so a slow turn keeps its session.
	opts := worker.Options{LockTTL: cfg.TurnDeadline + 30*time.Second}

	g, gctx := errgroup.WithContext(ctx)
	for i := range concurrency {
		id := cfg.WorkerID
		if id != "" && concurrency > 1 {
			id = fmt.Sprintf("%s-%d", id, i)
		}
		w := worker.New(a.Queue, a.Runner, a.Broadcaster, a.Redis.Client(), opts, log, id)
		g.Go(func() error { return w.Start(gctx) })
	}

	log.Info("Worker started, waiting for turns...", "llm_backend", a.Backends.LLM.Name())
	if err := g.Wait(); err != nil {
		log.Error("Worker error", "error", err)
		os.Exit(1)
	}
	log.Info("Worker exited")
}
