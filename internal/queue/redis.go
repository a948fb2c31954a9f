package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Redis key layout. Jobs travel between two lists; the hash beside them
// holds the job body so a crash between list moves never loses the payload.
const (
	keyPending     = "judge:queue:pending"
	keyProcessing  = "judge:queue:processing"
	keyJobPrefix   = "judge:job:"
	keyResPrefix   = "judge:result:"
	keyRecoverLock = "judge:recovery:lock"
)

// RedisQueue implements Queue on a Redis list pair. Claim uses BLMOVE so the
// pending-to-processing transfer is a single atomic broker operation.
type RedisQueue struct {
	client     *redis.Client
	resultTTL  time.Duration
	lockTTL    time.Duration
	staleAfter time.Duration
}

var _ Queue = (*RedisQueue)(nil)

// NewRedis connects to the broker at addr and verifies it with a ping.
// staleAfter is how long a claimed job may sit in processing before
// recovery treats its worker as dead.
func NewRedis(addr string, db int, resultTTL, lockTTL, staleAfter time.Duration) (*RedisQueue, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if staleAfter <= 0 {
		staleAfter = 2 * time.Minute
	}
	return &RedisQueue{client: client, resultTTL: resultTTL, lockTTL: lockTTL, staleAfter: staleAfter}, nil
}

// Close releases the broker connection.
func (q *RedisQueue) Close() error {
	return q.client.Close()
}

func (q *RedisQueue) Enqueue(ctx context.Context, job *Job) error {
	job.Status = StatusQueued
	job.EnqueuedAt = time.Now().UTC()

	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshaling job %s: %w", job.ID, err)
	}

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, keyJobPrefix+job.ID, body, 0)
	pipe.LPush(ctx, keyPending, job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: enqueue %s: %v", ErrUnavailable, job.ID, err)
	}
	return nil
}

func (q *RedisQueue) Claim(ctx context.Context, wait time.Duration) (*Job, error) {
	id, err := q.client.BLMove(ctx, keyPending, keyProcessing, "RIGHT", "LEFT", wait).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: claim: %v", ErrUnavailable, err)
	}

	job, err := q.loadJob(ctx, id)
	if err != nil {
		// Body missing for a listed ID: drop the orphan so it cannot
		// wedge the processing list.
		q.client.LRem(ctx, keyProcessing, 1, id)
		return nil, err
	}

	job.Status = StatusProcessing
	job.StartedAt = time.Now().UTC()
	job.Attempts++
	if err := q.storeJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

func (q *RedisQueue) Complete(ctx context.Context, jobID string, res *Result) error {
	job, err := q.loadJob(ctx, jobID)
	if err != nil {
		return err
	}

	res.JobID = jobID
	res.CompletedAt = time.Now().UTC()
	if res.Success {
		job.Status = StatusCompleted
	} else {
		job.Status = StatusFailed
	}

	jobBody, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshaling job %s: %w", jobID, err)
	}
	resBody, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshaling result %s: %w", jobID, err)
	}

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, keyResPrefix+jobID, resBody, q.resultTTL)
	pipe.Set(ctx, keyJobPrefix+jobID, jobBody, q.resultTTL)
	pipe.LRem(ctx, keyProcessing, 1, jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: complete %s: %v", ErrUnavailable, jobID, err)
	}
	return nil
}

func (q *RedisQueue) Status(ctx context.Context, jobID string) (*Job, error) {
	return q.loadJob(ctx, jobID)
}

func (q *RedisQueue) Result(ctx context.Context, jobID, ownerID string) (*Result, error) {
	job, err := q.loadJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.OwnerID != ownerID {
		return nil, ErrNotFound
	}

	body, err := q.client.Get(ctx, keyResPrefix+jobID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: result %s: %v", ErrUnavailable, jobID, err)
	}

	var res Result
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("unmarshaling result %s: %w", jobID, err)
	}
	return &res, nil
}

// recoverAction is the per-entry verdict during a recovery scan.
type recoverAction int

const (
	recoverRequeue recoverAction = iota
	recoverDrop
	recoverSkip
)

// recoverDecision classifies one processing-list entry. Entries with a
// missing or malformed body are dropped, not requeued; finished entries are
// cleaned up; entries whose worker claimed them within the staleness window
// are left alone, since that worker is presumed alive and a requeue would
// hand the job to a second worker.
func recoverDecision(job *Job, loadErr error, now time.Time, staleAfter time.Duration) recoverAction {
	if loadErr != nil || job == nil {
		return recoverDrop
	}
	switch job.Status {
	case StatusCompleted, StatusFailed:
		return recoverDrop
	case StatusProcessing:
		if now.Sub(job.StartedAt) < staleAfter {
			return recoverSkip
		}
	}
	return recoverRequeue
}

// Recover requeues jobs stranded in the processing list by a crashed
// worker. The NX lock keeps simultaneously recovering workers from each
// requeueing the same jobs; the staleness window keeps a freshly started
// worker from yanking jobs an existing fleet is still grading.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	locked, err := q.client.SetNX(ctx, keyRecoverLock, "1", q.lockTTL).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: recovery lock: %v", ErrUnavailable, err)
	}
	if !locked {
		return 0, nil
	}
	defer q.client.Del(ctx, keyRecoverLock)

	ids, err := q.client.LRange(ctx, keyProcessing, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: recover: %v", ErrUnavailable, err)
	}

	now := time.Now().UTC()
	moved := 0
	for _, id := range ids {
		job, loadErr := q.loadJob(ctx, id)
		if loadErr != nil && errors.Is(loadErr, ErrUnavailable) {
			return moved, loadErr
		}

		switch recoverDecision(job, loadErr, now, q.staleAfter) {
		case recoverSkip:
			continue
		case recoverDrop:
			q.client.LRem(ctx, keyProcessing, 1, id)
			if loadErr != nil {
				q.client.Del(ctx, keyJobPrefix+id)
				log.Warn().Str("job_id", id).Err(loadErr).Msg("dropped unreadable processing entry")
			}
			continue
		}

		job.Status = StatusQueued
		if err := q.storeJob(ctx, job); err != nil {
			return moved, err
		}
		// Claim pops from the tail of pending, so appending there lets
		// stranded jobs run before fresh submissions, oldest first.
		pipe := q.client.TxPipeline()
		pipe.RPush(ctx, keyPending, id)
		pipe.LRem(ctx, keyProcessing, 1, id)
		if _, err := pipe.Exec(ctx); err != nil {
			return moved, fmt.Errorf("%w: recover %s: %v", ErrUnavailable, id, err)
		}
		moved++
		log.Warn().Str("job_id", id).Msg("stranded job requeued")
	}
	return moved, nil
}

func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, keyPending).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: depth: %v", ErrUnavailable, err)
	}
	return n, nil
}

func (q *RedisQueue) loadJob(ctx context.Context, jobID string) (*Job, error) {
	body, err := q.client.Get(ctx, keyJobPrefix+jobID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load job %s: %v", ErrUnavailable, jobID, err)
	}

	var job Job
	if err := json.Unmarshal(body, &job); err != nil {
		return nil, fmt.Errorf("unmarshaling job %s: %w", jobID, err)
	}
	return &job, nil
}

func (q *RedisQueue) storeJob(ctx context.Context, job *Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshaling job %s: %w", job.ID, err)
	}
	if err := q.client.Set(ctx, keyJobPrefix+job.ID, body, 0).Err(); err != nil {
		return fmt.Errorf("%w: store job %s: %v", ErrUnavailable, job.ID, err)
	}
	return nil
}
