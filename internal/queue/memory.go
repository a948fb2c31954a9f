package queue

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryQueue implements Queue in process memory. It exists for single-node
// deployments that run without a broker and for tests; its observable
// semantics match RedisQueue, including result expiry and requeue-at-front
// recovery ordering.
type MemoryQueue struct {
	resultTTL time.Duration

	mu         sync.Mutex
	pending    []string
	processing map[string]struct{}
	jobs       map[string]*Job
	results    map[string]*memoryResult
	notify     chan struct{}
}

type memoryResult struct {
	res     *Result
	expires time.Time
}

var _ Queue = (*MemoryQueue)(nil)

// NewMemory creates an empty in-process queue.
func NewMemory(resultTTL time.Duration) *MemoryQueue {
	return &MemoryQueue{
		resultTTL:  resultTTL,
		processing: make(map[string]struct{}),
		jobs:       make(map[string]*Job),
		results:    make(map[string]*memoryResult),
		notify:     make(chan struct{}, 1),
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, job *Job) error {
	stored := *job
	stored.Status = StatusQueued
	stored.EnqueuedAt = time.Now().UTC()

	q.mu.Lock()
	q.jobs[stored.ID] = &stored
	q.pending = append(q.pending, stored.ID)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

func (q *MemoryQueue) Claim(ctx context.Context, wait time.Duration) (*Job, error) {
	deadline := time.NewTimer(wait)
	defer deadline.Stop()

	for {
		if job := q.tryClaim(); job != nil {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, nil
		case <-q.notify:
		}
	}
}

// tryClaim pops the oldest pending job, if any. Pop and the move into
// processing happen under one lock acquisition, so two concurrent claimers
// can never receive the same job.
func (q *MemoryQueue) tryClaim() *Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return nil
	}
	id := q.pending[0]
	q.pending = q.pending[1:]
	q.processing[id] = struct{}{}

	// Re-arm the signal for other blocked claimers when work remains.
	if len(q.pending) > 0 {
		select {
		case q.notify <- struct{}{}:
		default:
		}
	}

	job := q.jobs[id]
	job.Status = StatusProcessing
	job.StartedAt = time.Now().UTC()
	job.Attempts++

	claimed := *job
	return &claimed
}

func (q *MemoryQueue) Complete(_ context.Context, jobID string, res *Result) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok {
		return ErrNotFound
	}

	res.JobID = jobID
	res.CompletedAt = time.Now().UTC()
	if res.Success {
		job.Status = StatusCompleted
	} else {
		job.Status = StatusFailed
	}

	delete(q.processing, jobID)
	stored := *res
	q.results[jobID] = &memoryResult{res: &stored, expires: time.Now().Add(q.resultTTL)}
	return nil
}

func (q *MemoryQueue) Status(_ context.Context, jobID string) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *job
	return &copied, nil
}

func (q *MemoryQueue) Result(_ context.Context, jobID, ownerID string) (*Result, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok || job.OwnerID != ownerID {
		return nil, ErrNotFound
	}

	entry, ok := q.results[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	if time.Now().After(entry.expires) {
		delete(q.results, jobID)
		return nil, ErrNotFound
	}
	copied := *entry.res
	return &copied, nil
}

func (q *MemoryQueue) Recover(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.processing) == 0 {
		return 0, nil
	}

	// Stranded jobs go to the front in their original claim order.
	var stranded []string
	for id := range q.processing {
		stranded = append(stranded, id)
	}
	sort.Slice(stranded, func(i, j int) bool {
		a, b := q.jobs[stranded[i]], q.jobs[stranded[j]]
		return a.StartedAt.Before(b.StartedAt)
	})

	for _, id := range stranded {
		delete(q.processing, id)
		if job, ok := q.jobs[id]; ok {
			job.Status = StatusQueued
		}
	}
	q.pending = append(stranded, q.pending...)

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return len(stranded), nil
}

func (q *MemoryQueue) Depth(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.pending)), nil
}
