// Package worker plays queued turns and publishes their events to the
// session's observers.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jwebster45206/unknown-world/internal/logger"
	"github.com/jwebster45206/unknown-world/internal/pipeline"
	"github.com/jwebster45206/unknown-world/internal/services/events"
	"github.com/jwebster45206/unknown-world/internal/services/queue"
	queuePkg "github.com/jwebster45206/unknown-world/pkg/queue"
)

const (
	DefaultPollTimeout  = 5 * time.Second
	DefaultRequeueDelay = 250 * time.Millisecond
	DefaultLockTTL      = 90 * time.Second
)

// releaseLock deletes the session lock only while this worker still owns it.
var releaseLock = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

type Options struct {
	PollTimeout  time.Duration
	RequeueDelay time.Duration
	// LockTTL bounds how long a crashed worker can hold a session.
	LockTTL time.Duration
}

// Worker processes turns from the queue, one at a time.
type Worker struct {
	id          string
	queue       *queue.TurnQueue
	runner      *pipeline.Runner
	broadcaster *events.Broadcaster
	redisClient *redis.Client
	opts        Options
	log         *slog.Logger
}

// New creates a worker. An empty workerID gets a generated one.
func New(q *queue.TurnQueue, runner *pipeline.Runner, broadcaster *events.Broadcaster, redisClient *redis.Client, opts Options, log *slog.Logger, workerID string) *Worker {
	if workerID == "" {
		workerID = fmt.Sprintf("worker-%s", uuid.NewString()[:8])
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = DefaultPollTimeout
	}
	if opts.RequeueDelay <= 0 {
		opts.RequeueDelay = DefaultRequeueDelay
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = DefaultLockTTL
	}
	return &Worker{
		id:          workerID,
		queue:       q,
		runner:      runner,
		broadcaster: broadcaster,
		redisClient: redisClient,
		opts:        opts,
		log:         log.With("worker_id", workerID),
	}
}

func (w *Worker) ID() string { return w.id }

// Start processes jobs until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	w.log.Info("Worker starting")
	for {
		if ctx.Err() != nil {
			w.log.Info("Worker shutting down")
			return nil
		}
		if err := w.processNext(ctx); err != nil {
			if ctx.Err() != nil {
				continue
			}
			logger.WithError(w.log, err).Error("Error processing job")
			// Continue processing even on error
			sleep(ctx, time.Second)
		}
	}
}

// processNext waits for one job and runs it. A job whose session is busy
// goes back to the tail of the queue.
func (w *Worker) processNext(ctx context.Context) error {
	job, err := w.queue.BlockingDequeue(ctx, w.opts.PollTimeout)
	if err != nil {
		return err
	}
	if job == nil {
		return nil
	}
	log := logger.WithSession(logger.WithRequestID(w.log, job.RequestID), job.SessionID)
	log.Info("Received job from queue", "queued_ms", time.Since(job.EnqueuedAt).Milliseconds())

	locked, err := w.acquireSessionLock(ctx, job.SessionID)
	if err != nil {
		if reqErr := w.queue.Enqueue(context.WithoutCancel(ctx), job); reqErr != nil {
			log.Error("Failed to return job to queue", "error", reqErr)
		}
		return fmt.Errorf("failed to acquire session lock: %w", err)
	}
	if !locked {
		log.Info("Session busy, re-queueing job", "requeues", job.Requeues)
		job.Requeues++
		if err := w.queue.Enqueue(context.WithoutCancel(ctx), job); err != nil {
			return fmt.Errorf("failed to re-queue job: %w", err)
		}
		sleep(ctx, w.opts.RequeueDelay)
		return nil
	}
	defer w.releaseSessionLock(job.SessionID, log)

	w.run(ctx, job, log)
	return nil
}

func (w *Worker) run(ctx context.Context, job *queuePkg.TurnJob, log *slog.Logger) {
	start := time.Now()
	// Observers must still see the terminal event when the worker stops mid-turn.
	pubCtx := context.WithoutCancel(ctx)
	emit := func(ev pipeline.Event) {
		if err := w.broadcaster.Publish(pubCtx, job.SessionID, job.RequestID, ev); err != nil {
			log.Warn("Failed to publish event", "type", ev.Type, "error", err)
		}
	}

	pc := w.runner.Run(ctx, job.RequestID, job.Input, emit)
	log.Info("Job processed",
		"duration_ms", time.Since(start).Milliseconds(),
		"fallback", pc.IsFallback,
		"rate_limited", pc.IsRateLimited,
	)
}

func lockKey(sessionID string) string {
	return fmt.Sprintf("turn-lock:%s", sessionID)
}

func (w *Worker) acquireSessionLock(ctx context.Context, sessionID string) (bool, error) {
	return w.redisClient.SetNX(ctx, lockKey(sessionID), w.id, w.opts.LockTTL).Result()
}

func (w *Worker) releaseSessionLock(sessionID string, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := releaseLock.Run(ctx, w.redisClient, []string{lockKey(sessionID)}, w.id).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		log.Error("Failed to release session lock", "error", err)
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
