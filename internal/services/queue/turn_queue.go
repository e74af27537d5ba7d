// Package queue moves turns between the API and the workers through a
// redis list.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jwebster45206/unknown-world/pkg/queue"
)

const RequestsKey = "turn-requests"

// TurnQueue is a FIFO of turn jobs shared by every API replica and worker.
type TurnQueue struct {
	rdb *redis.Client
}

func NewTurnQueue(rdb *redis.Client) *TurnQueue {
	return &TurnQueue{rdb: rdb}
}

// Enqueue appends a job to the tail of the queue.
func (q *TurnQueue) Enqueue(ctx context.Context, job *queue.TurnJob) error {
	data, err := job.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize job: %w", err)
	}
	if err := q.rdb.RPush(ctx, RequestsKey, data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

// BlockingDequeue waits up to timeout for the next job. It returns nil, nil
// when the wait times out.
func (q *TurnQueue) BlockingDequeue(ctx context.Context, timeout time.Duration) (*queue.TurnJob, error) {
	result, err := q.rdb.BLPop(ctx, timeout, RequestsKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to dequeue job: %w", err)
	}
	// BLPop returns [key, value]
	if len(result) != 2 {
		return nil, fmt.Errorf("unexpected BLPop result: %v", result)
	}
	job, err := queue.FromJSON([]byte(result[1]))
	if err != nil {
		return nil, fmt.Errorf("failed to parse job: %w", err)
	}
	return job, nil
}

// Depth returns the number of waiting jobs.
func (q *TurnQueue) Depth(ctx context.Context) (int, error) {
	n, err := q.rdb.LLen(ctx, RequestsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue depth: %w", err)
	}
	return int(n), nil
}
