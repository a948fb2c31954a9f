// Package worker runs a fixed-size pool of goroutines that claim grading
// jobs from a queue, hand them to a handler, and record the outcome. The
// pool owns claim/complete mechanics and crash containment; what a job
// actually does lives behind the Handler interface.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"sqljudge/internal/queue"
)

// Handler processes one claimed job and returns its terminal result. A
// handler must not panic for expected failures; those belong in the result.
type Handler interface {
	Handle(ctx context.Context, job *queue.Job) *queue.Result
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, job *queue.Job) *queue.Result

func (f HandlerFunc) Handle(ctx context.Context, job *queue.Job) *queue.Result {
	return f(ctx, job)
}

// Pool claims and processes jobs with a fixed number of goroutines.
type Pool struct {
	queue   queue.Queue
	handler Handler
	workers int
	poll    time.Duration

	wg sync.WaitGroup
}

// New creates a pool of size workers. poll bounds how long each idle worker
// blocks per claim attempt, which also bounds shutdown latency.
func New(q queue.Queue, h Handler, workers int, poll time.Duration) *Pool {
	if workers < 1 {
		workers = 1
	}
	if poll <= 0 {
		poll = 2 * time.Second
	}
	return &Pool{queue: q, handler: h, workers: workers, poll: poll}
}

// Run requeues jobs stranded by a previous crash, then processes jobs until
// ctx is canceled. It blocks until every worker has drained its in-flight
// job.
func (p *Pool) Run(ctx context.Context) error {
	requeued, err := p.queue.Recover(ctx)
	if err != nil {
		return fmt.Errorf("startup recovery: %w", err)
	}
	if requeued > 0 {
		log.Info().Int("requeued", requeued).Msg("recovered stranded jobs")
	}

	log.Info().Int("workers", p.workers).Msg("worker pool starting")
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.wg.Wait()
	log.Info().Msg("worker pool drained")
	return nil
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		job, err := p.queue.Claim(ctx, p.poll)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Int("worker", id).Msg("claim failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if job == nil {
			continue
		}

		res := p.process(ctx, id, job)
		// Completion uses a fresh context: a canceled ctx must not strand a
		// finished job in the processing set.
		completeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := p.queue.Complete(completeCtx, job.ID, res); err != nil {
			log.Error().Err(err).Str("job_id", job.ID).Msg("recording result failed")
		}
		cancel()
	}
}

// process invokes the handler with panic containment: a panicking job is
// recorded as failed instead of taking the worker down.
func (p *Pool) process(ctx context.Context, id int, job *queue.Job) (res *queue.Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Int("worker", id).
				Str("job_id", job.ID).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("job handler panicked")
			res = &queue.Result{Success: false, Error: fmt.Sprintf("internal error: %v", r)}
		}
	}()

	start := time.Now()
	log.Debug().Int("worker", id).Str("job_id", job.ID).Str("problem_id", job.ProblemID).Msg("processing job")
	res = p.handler.Handle(ctx, job)
	if res == nil {
		res = &queue.Result{Success: false, Error: "handler returned no result"}
	}
	log.Info().
		Int("worker", id).
		Str("job_id", job.ID).
		Bool("success", res.Success).
		Dur("elapsed", time.Since(start)).
		Msg("job finished")
	return res
}

// MarshalPayload serializes a grading outcome for transport in a Result.
func MarshalPayload(v any) (json.RawMessage, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling result payload: %w", err)
	}
	return body, nil
}
