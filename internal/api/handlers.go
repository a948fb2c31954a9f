package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"sqljudge/internal/judge"
	"sqljudge/internal/queue"
	"sqljudge/internal/sandbox"
	"sqljudge/internal/storage"
)

type Handlers struct {
	judge *judge.Judge
	db    *storage.DB
}

func NewHandlers(j *judge.Judge, db *storage.DB) *Handlers {
	return &Handlers{judge: j, db: db}
}

// HandleSubmit enqueues a grading job for the submitted SQL.
func (h *Handlers) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid JSON: "+err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}
	if req.UserID == "" || req.ProblemID == "" {
		writeError(w, "user_id and problem_id are required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}
	if req.SQL == "" {
		writeError(w, "sql is required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	jobID, err := h.judge.Submit(r.Context(), req.UserID, req.ProblemID, req.SQL)
	if err != nil {
		writeJudgeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, SubmitResponse{JobID: jobID})
}

// HandlePoll reports a job's status and, once terminal, its outcome. The
// caller identity comes from the X-User-ID header the platform layer sets.
func (h *Handlers) HandlePoll(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, "job ID required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}
	callerID := r.Header.Get("X-User-ID")
	if callerID == "" {
		callerID = r.URL.Query().Get("user_id")
	}
	if callerID == "" {
		writeError(w, "caller identity required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	resp, err := h.judge.Poll(r.Context(), jobID, callerID)
	if err != nil {
		writeJudgeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleTest grades synchronously for practice mode.
func (h *Handlers) HandleTest(w http.ResponseWriter, r *http.Request) {
	var req TestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid JSON: "+err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}
	if req.UserID == "" || req.ProblemID == "" || req.SQL == "" {
		writeError(w, "user_id, problem_id and sql are required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	out, err := h.judge.Test(r.Context(), req.UserID, req.ProblemID, req.SQL, req.IncludeHidden)
	if err != nil {
		writeJudgeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleGetSubmission returns one stored submission record.
func (h *Handlers) HandleGetSubmission(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, "submission ID required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}
	if h.db == nil {
		writeError(w, "database not configured", "DB_UNAVAILABLE", http.StatusServiceUnavailable, r)
		return
	}

	sub, err := h.db.GetSubmission(r.Context(), id)
	if err != nil {
		writeError(w, "submission not found", "NOT_FOUND", http.StatusNotFound, r)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// HandleListSubmissions queries stored submission history.
func (h *Handlers) HandleListSubmissions(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		writeError(w, "database not configured", "DB_UNAVAILABLE", http.StatusServiceUnavailable, r)
		return
	}

	filter := storage.SubmissionFilter{
		UserID:    r.URL.Query().Get("user_id"),
		ProblemID: r.URL.Query().Get("problem_id"),
		Status:    r.URL.Query().Get("status"),
		Limit:     100,
	}

	subs, err := h.db.ListSubmissions(r.Context(), filter)
	if err != nil {
		writeError(w, "query failed", "INTERNAL", http.StatusInternalServerError, r)
		return
	}
	writeJSON(w, http.StatusOK, subs)
}

// writeJudgeError maps pipeline errors onto HTTP statuses. Rejections and
// engine feedback are the learner's to see; infrastructure detail is not.
func writeJudgeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case sandbox.IsSecurityRejected(err):
		writeError(w, err.Error(), "SECURITY_REJECTED", http.StatusUnprocessableEntity, r)
	case errors.Is(err, queue.ErrNotFound):
		writeError(w, "job not found", "NOT_FOUND", http.StatusNotFound, r)
	case sandbox.IsTimeout(err):
		writeError(w, "query exceeded its time budget", "EXECUTION_TIMEOUT", http.StatusUnprocessableEntity, r)
	case errors.Is(err, sandbox.ErrResourceLimit):
		writeError(w, "query exceeded sandbox resource limits", "RESOURCE_LIMIT", http.StatusUnprocessableEntity, r)
	case errors.Is(err, sandbox.ErrEngine):
		writeError(w, err.Error(), "ENGINE_ERROR", http.StatusUnprocessableEntity, r)
	case errors.Is(err, queue.ErrUnavailable):
		writeError(w, "grading backend unavailable", "QUEUE_UNAVAILABLE", http.StatusServiceUnavailable, r)
	default:
		log.Error().Err(err).Str("request_id", RequestIDFromContext(r.Context())).Msg("request failed")
		writeError(w, "internal error", "INTERNAL", http.StatusInternalServerError, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, msg, code string, status int, r *http.Request) {
	resp := ErrorResponse{
		Error:     msg,
		Code:      code,
		RequestID: RequestIDFromContext(r.Context()),
	}
	writeJSON(w, status, resp)
}
