// Package queue provides an at-least-once job queue for grading work. Two
// implementations share the same contract: a Redis-backed queue for
// distributed workers and an in-process queue for single-node deployments
// and tests.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Sentinel errors shared by every queue implementation.
var (
	// ErrUnavailable reports that the backing broker cannot be reached.
	// Callers may fall back to synchronous execution.
	ErrUnavailable = errors.New("queue unavailable")

	// ErrNotFound reports that no job or result exists for the requested
	// ID. Ownership mismatches report this same error so that probing for
	// other users' job IDs is indistinguishable from guessing wrong.
	ErrNotFound = errors.New("job not found")
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Job is one grading task. SQLText is carried verbatim; validation happens
// at submission time and again inside the sandbox.
type Job struct {
	ID         string    `json:"id"`
	OwnerID    string    `json:"owner_id"`
	ProblemID  string    `json:"problem_id"`
	SQLText    string    `json:"sql_text"`
	Status     Status    `json:"status"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	StartedAt  time.Time `json:"started_at"`
	Attempts   int       `json:"attempts"`
}

// Result is the terminal outcome of a job. Payload holds the serialized
// grading outcome; Error is set only for failed jobs.
type Result struct {
	JobID       string          `json:"job_id"`
	Success     bool            `json:"success"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Error       string          `json:"error,omitempty"`
	CompletedAt time.Time       `json:"completed_at"`
}

// Queue is the contract between submitters and workers. It decouples the
// grading pipeline from the broker behind it.
type Queue interface {
	// Enqueue adds a job in state queued.
	Enqueue(ctx context.Context, job *Job) error

	// Claim atomically moves the oldest queued job to processing and
	// returns it. It blocks up to wait and returns (nil, nil) when no job
	// arrived in time. A claimed job is visible to exactly one worker.
	Claim(ctx context.Context, wait time.Duration) (*Job, error)

	// Complete records the result, retains it for the configured TTL, and
	// removes the job from the processing set.
	Complete(ctx context.Context, jobID string, res *Result) error

	// Status reports a job's current state.
	Status(ctx context.Context, jobID string) (*Job, error)

	// Result returns the stored result for a job owned by ownerID.
	Result(ctx context.Context, jobID, ownerID string) (*Result, error)

	// Recover requeues jobs stranded in processing by a crashed worker
	// and returns how many it moved. Safe to call from several nodes at
	// once: a short-lived lock ensures each stranded job is requeued once.
	Recover(ctx context.Context) (int, error)

	// Depth reports how many jobs are waiting to be claimed.
	Depth(ctx context.Context) (int64, error)
}
