package statusx

import (
	"encoding/json"
	"time"
)

// Status represents the lifecycle state of a tracked job.
// Kept as string for readability in Redis and dashboards.
type Status string

const (
	// StatusQueued indicates the job was accepted but has not started.
	StatusQueued Status = "queued"
	// StatusWorking indicates the job body is executing.
	StatusWorking Status = "working"
	// StatusCompleted indicates the job body returned without error.
	StatusCompleted Status = "completed"
	// StatusFailed indicates the job body returned an error.
	StatusFailed Status = "failed"
	// StatusKilled indicates the job was stopped by a kill request.
	StatusKilled Status = "killed"
)

// Valid returns true if s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusWorking, StatusCompleted, StatusFailed, StatusKilled:
		return true
	}
	return false
}

// Terminal returns true once no further transitions can occur.
// A failed job is not strictly terminal for the host queue, which may
// re-execute it; see CanTransition.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusKilled
}

// CanTransition reports whether the move from s to next is legal.
//
// The graph is queued → working → {completed, failed, killed}, with two
// amendments for the host queue's behavior: failed → {working, killed},
// because asynq re-invokes the handler on retry with the same job id (and a
// kill may be pending by then), and working → working, because a redelivery
// after a worker crash re-enters the working state. There is never an edge
// back into queued, and completed/killed have no outgoing edges.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusQueued:
		return next == StatusWorking || next == StatusKilled
	case StatusWorking:
		return next == StatusWorking || next == StatusCompleted ||
			next == StatusFailed || next == StatusKilled
	case StatusFailed:
		return next == StatusWorking || next == StatusKilled
	default:
		return false
	}
}

// Record is the persisted representation of one job's status. It lives in
// Redis as a hash under the job id from the moment enqueue succeeds until it
// is deleted or its expiry elapses.
//
// Args is written once at enqueue time and never mutated. All other fields
// are written only by the process executing the job, except KillRequested,
// which any process may raise (see Store.SetKillRequested).
type Record struct {
	ID            string          `json:"id"`
	Status        Status          `json:"status"`
	At            int64           `json:"at"`
	Total         int64           `json:"total"`
	Message       string          `json:"message,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Args          json.RawMessage `json:"args,omitempty"`
	KillRequested bool            `json:"kill_requested"`
	CreatedAt     time.Time       `json:"created_at"`
	ExpiresAt     time.Time       `json:"expires_at"`
}

// PctComplete returns progress as an integer percentage, or 0 when the
// total is unknown.
func (r *Record) PctComplete() int {
	if r.Total <= 0 {
		return 0
	}
	return int(float64(r.At) / float64(r.Total) * 100)
}
