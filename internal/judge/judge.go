// Package judge is the submission orchestrator: it wires the validator,
// sandbox engine, grader, and job queue into the three operations the API
// layer consumes: submit, poll, and synchronous practice-mode test.
package judge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"sqljudge/internal/config"
	"sqljudge/internal/grader"
	"sqljudge/internal/monitor"
	"sqljudge/internal/problem"
	"sqljudge/internal/queue"
	"sqljudge/internal/sandbox"
	"sqljudge/internal/storage"
	"sqljudge/internal/validator"
	"sqljudge/internal/worker"
)

// Judge coordinates one submission's path from raw SQL text to a stored
// outcome. All collaborators are injected; Judge itself holds no global
// state beyond the practice-result cache.
type Judge struct {
	validator *validator.Validator
	sandboxes *sandbox.Manager
	grader    *grader.Grader
	queue     queue.Queue
	fallback  *queue.MemoryQueue
	problems  problem.Store
	resolver  problem.SourceResolver
	metrics   *monitor.Metrics
	tracer    *monitor.Tracer
	history   *storage.HistoryWriter
	cache     *outcomeCache

	perturbEnabled  bool
	perturbFraction float64
}

// Options carries the judge's collaborators. Queue, Metrics, Tracer, and
// History may be nil: a nil Queue forces the synchronous path, nil
// observability collaborators disable their concern.
type Options struct {
	Validator *validator.Validator
	Sandboxes *sandbox.Manager
	Grader    *grader.Grader
	Queue     queue.Queue
	Problems  problem.Store
	Resolver  problem.SourceResolver
	Metrics   *monitor.Metrics
	Tracer    *monitor.Tracer
	History   *storage.HistoryWriter
	Config    config.GraderConfig
	CacheTTL  time.Duration
}

// New creates a Judge.
func New(opts Options) *Judge {
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Judge{
		validator:       opts.Validator,
		sandboxes:       opts.Sandboxes,
		grader:          opts.Grader,
		queue:           opts.Queue,
		fallback:        queue.NewMemory(ttl),
		problems:        opts.Problems,
		resolver:        opts.Resolver,
		metrics:         opts.Metrics,
		tracer:          opts.Tracer,
		history:         opts.History,
		cache:           newOutcomeCache(ttl),
		perturbEnabled:  opts.Config.PerturbEnabled,
		perturbFraction: opts.Config.PerturbFraction,
	}
}

// Submit validates cheaply, enqueues a grading job, and returns its ID.
// When the queue is unreachable the job runs synchronously instead of being
// dropped; the returned ID is then pollable from the in-process fallback.
func (j *Judge) Submit(ctx context.Context, userID, problemID, sqlText string) (string, error) {
	if j.metrics != nil {
		j.metrics.QuerySizeBytes.Observe(float64(len(sqlText)))
	}

	if verdict := j.validator.QuickCheck(sqlText); !verdict.Valid {
		j.recordRejection(userID, problemID, sqlText, verdict)
		return "", fmt.Errorf("%w: %s", sandbox.ErrSecurityRejected, strings.Join(verdict.Errors, "; "))
	}

	job := &queue.Job{
		ID:        uuid.NewString(),
		OwnerID:   userID,
		ProblemID: problemID,
		SQLText:   sqlText,
	}

	if j.queue != nil {
		err := j.queue.Enqueue(ctx, job)
		if err == nil {
			if j.metrics != nil {
				if depth, derr := j.queue.Depth(ctx); derr == nil {
					j.metrics.QueueDepth.Set(float64(depth))
				}
			}
			return job.ID, nil
		}
		if !errors.Is(err, queue.ErrUnavailable) {
			return "", err
		}
		log.Warn().Err(err).Str("job_id", job.ID).Msg("queue unavailable, grading synchronously")
	}

	return job.ID, j.runInline(ctx, job)
}

// runInline pushes the job through the in-process fallback queue so its
// status and result remain pollable with the same semantics as the broker
// path.
func (j *Judge) runInline(ctx context.Context, job *queue.Job) error {
	if err := j.fallback.Enqueue(ctx, job); err != nil {
		return err
	}
	claimed, err := j.fallback.Claim(ctx, time.Second)
	if err != nil || claimed == nil {
		return fmt.Errorf("claiming inline job %s: %w", job.ID, err)
	}
	res := j.Handler().Handle(ctx, claimed)
	return j.fallback.Complete(ctx, claimed.ID, res)
}

// PollResponse reports a job's state and, once terminal, its outcome.
type PollResponse struct {
	JobID   string       `json:"job_id"`
	Status  queue.Status `json:"status"`
	Outcome *Outcome     `json:"outcome,omitempty"`
	Error   string       `json:"error,omitempty"`
}

// Poll looks up a job on behalf of callerID. Jobs belonging to someone else
// are reported as not found.
func (j *Judge) Poll(ctx context.Context, jobID, callerID string) (*PollResponse, error) {
	q := j.queue
	var job *queue.Job
	var err error
	if q != nil {
		job, err = q.Status(ctx, jobID)
	}
	if q == nil || errors.Is(err, queue.ErrNotFound) || errors.Is(err, queue.ErrUnavailable) {
		q = j.fallback
		job, err = q.Status(ctx, jobID)
	}
	if err != nil {
		return nil, err
	}
	if job.OwnerID != callerID {
		return nil, queue.ErrNotFound
	}

	resp := &PollResponse{JobID: jobID, Status: job.Status}
	if job.Status != queue.StatusCompleted && job.Status != queue.StatusFailed {
		return resp, nil
	}

	res, err := q.Result(ctx, jobID, callerID)
	if err != nil {
		// Terminal job whose result TTL has lapsed: report the status
		// without a body rather than failing the poll.
		if errors.Is(err, queue.ErrNotFound) {
			return resp, nil
		}
		return nil, err
	}
	resp.Error = res.Error
	if len(res.Payload) > 0 {
		var out Outcome
		if err := json.Unmarshal(res.Payload, &out); err != nil {
			return nil, fmt.Errorf("decoding outcome for job %s: %w", jobID, err)
		}
		resp.Outcome = &out
	}
	return resp, nil
}

// Test grades synchronously for practice mode. Results are cached by
// (user, problem, normalized query) for a short TTL; hidden test cases are
// reduced to pass/fail unless includeHidden is set.
func (j *Judge) Test(ctx context.Context, userID, problemID, sqlText string, includeHidden bool) (*Outcome, error) {
	key := cacheKey(userID, problemID, validator.Normalize(sqlText))
	if out, ok := j.cache.get(key); ok {
		if !includeHidden {
			return out.redacted(), nil
		}
		return out, nil
	}

	if verdict := j.validator.QuickCheck(sqlText); !verdict.Valid {
		j.recordRejection(userID, problemID, sqlText, verdict)
		return nil, fmt.Errorf("%w: %s", sandbox.ErrSecurityRejected, strings.Join(verdict.Errors, "; "))
	}

	out, err := j.grade(ctx, userID, problemID, sqlText)
	if err != nil {
		j.recordSubmission(userID, problemID, sqlText, "test", nil, err)
		return nil, err
	}
	j.recordSubmission(userID, problemID, sqlText, "test", out, nil)

	j.cache.put(key, out)
	if !includeHidden {
		return out.redacted(), nil
	}
	return out, nil
}

// Handler adapts the grading pipeline to the worker pool. Execution
// failures become failed jobs with actionable text; a wrong answer is a
// successful job whose outcome says so.
func (j *Judge) Handler() worker.Handler {
	return worker.HandlerFunc(func(ctx context.Context, job *queue.Job) *queue.Result {
		out, err := j.grade(ctx, job.OwnerID, job.ProblemID, job.SQLText)
		if err != nil {
			j.recordSubmission(job.OwnerID, job.ProblemID, job.SQLText, "submit", nil, err)
			j.countJob("failed")
			return &queue.Result{Success: false, Error: userMessage(err)}
		}
		j.recordSubmission(job.OwnerID, job.ProblemID, job.SQLText, "submit", out, nil)

		payload, err := worker.MarshalPayload(out)
		if err != nil {
			j.countJob("failed")
			return &queue.Result{Success: false, Error: "internal error encoding result"}
		}
		j.countJob("completed")
		return &queue.Result{Success: true, Payload: payload}
	})
}

// Sandboxes exposes the sandbox manager for lifecycle wiring (metrics,
// shutdown).
func (j *Judge) Sandboxes() *sandbox.Manager { return j.sandboxes }

func (j *Judge) countJob(status string) {
	if j.metrics != nil {
		j.metrics.JobsTotal.WithLabelValues(status).Inc()
	}
}

// userMessage turns a pipeline error into learner-facing text. Engine
// errors pass through verbatim; infrastructure detail does not.
func userMessage(err error) string {
	switch {
	case sandbox.IsTimeout(err):
		return "query exceeded its time budget and was stopped"
	case errors.Is(err, sandbox.ErrCanceled):
		return "grading was interrupted before the query finished; submit again"
	case errors.Is(err, sandbox.ErrResourceLimit):
		return "query exceeded the sandbox resource limits"
	case errors.Is(err, sandbox.ErrDatasetLoad):
		return "problem datasets could not be loaded; try again later"
	case errors.Is(err, sandbox.ErrEngine):
		var serr *sandbox.Error
		if errors.As(err, &serr) {
			return strings.TrimPrefix(serr.Err.Error(), sandbox.ErrEngine.Error()+": ")
		}
		return err.Error()
	default:
		return "internal error while grading the submission"
	}
}

func (j *Judge) recordRejection(userID, problemID, sqlText string, verdict validator.Verdict) {
	rule := "deny"
	if len(verdict.Operations) > 0 {
		rule = verdict.Operations[0]
	}
	if j.metrics != nil {
		j.metrics.RecordRejection(rule)
		j.metrics.RecordSubmission("submit", "rejected")
	}
	log.Warn().
		Str("user_id", userID).
		Str("problem_id", problemID).
		Str("risk", verdict.RiskLabel).
		Strs("operations", verdict.Operations).
		Msg("submission rejected by validator")

	if j.history != nil {
		j.history.Log(&storage.Submission{
			ID:        uuid.NewString(),
			UserID:    userID,
			ProblemID: problemID,
			QueryHash: queryHash(sqlText),
			SQLText:   sqlText,
			Mode:      "submit",
			Status:    "rejected",
			Feedback:  strings.Join(verdict.Errors, "; "),
			CreatedAt: time.Now().UTC(),
		})
	}
}

func (j *Judge) recordSubmission(userID, problemID, sqlText, mode string, out *Outcome, gradeErr error) {
	status := "completed"
	if gradeErr != nil {
		status = "failed"
	}
	if j.metrics != nil {
		j.metrics.RecordSubmission(mode, status)
		if out != nil {
			j.metrics.GradeScore.Observe(float64(out.Score))
		}
	}
	if j.history == nil {
		return
	}

	sub := &storage.Submission{
		ID:        uuid.NewString(),
		UserID:    userID,
		ProblemID: problemID,
		QueryHash: queryHash(sqlText),
		SQLText:   sqlText,
		Mode:      mode,
		Status:    status,
		CreatedAt: time.Now().UTC(),
	}
	now := time.Now().UTC()
	sub.CompletedAt = &now
	if out != nil {
		sub.Correct = out.Correct
		sub.Score = out.Score
		sub.Feedback = strings.Join(out.Feedback, "; ")
		sub.DurationMS = out.DurationMS
		sub.RowCount = out.RowCount
	} else if gradeErr != nil {
		sub.Feedback = userMessage(gradeErr)
	}
	j.history.Log(sub)
}

func queryHash(sqlText string) string {
	sum := sha256.Sum256([]byte(validator.Normalize(sqlText)))
	return hex.EncodeToString(sum[:])
}
