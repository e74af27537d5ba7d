// Package queue holds the wire form of turns waiting for a worker.
package queue

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/jwebster45206/unknown-world/pkg/turn"
)

// TurnJob is one queued turn. Its events are published to the session's
// observer channel instead of a response stream.
type TurnJob struct {
	RequestID  string         `json:"request_id"`
	SessionID  string         `json:"session_id"`
	Input      turn.TurnInput `json:"input"`
	EnqueuedAt time.Time      `json:"enqueued_at"`

	// Requeues counts how often the job went back to the queue because
	// its session was busy.
	Requeues int `json:"requeues,omitempty"`
}

// ToJSON converts the job to JSON bytes for Redis
func (j *TurnJob) ToJSON() ([]byte, error) {
	return json.Marshal(j)
}

// FromJSON parses a job and re-checks its input.
func FromJSON(data []byte) (*TurnJob, error) {
	var job TurnJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	if job.RequestID == "" || job.SessionID == "" {
		return nil, errors.New("job requires request_id and session_id")
	}
	if err := job.Input.Validate(); err != nil {
		return nil, err
	}
	return &job, nil
}
