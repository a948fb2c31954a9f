package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"sqljudge/internal/config"
	"sqljudge/internal/grader"
	"sqljudge/internal/judge"
	"sqljudge/internal/problem"
	"sqljudge/internal/sandbox"
	"sqljudge/internal/validator"
)

// newTestHandlers builds handlers around a real judge with no broker, so
// submissions grade inline and stay pollable through the fallback queue.
func newTestHandlers(t *testing.T) (*Handlers, *problem.MemoryStore) {
	t.Helper()

	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "datasets"), 0o755); err != nil {
		t.Fatal(err)
	}
	csv := "region,amount\nNorth,500.25\nNorth,300\nSouth,200\n"
	if err := os.WriteFile(filepath.Join(root, "datasets", "orders.csv"), []byte(csv), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.DefaultConfig()
	v := validator.New(cfg.Validator.MaxQueryLength)
	mgr := sandbox.NewManager(sandbox.Options{
		MemoryLimitMB: cfg.Sandbox.MemoryLimitMB,
		QueryTimeout:  cfg.Sandbox.QueryTimeout,
		MaxResultRows: cfg.Sandbox.MaxResultRows,
		MaxTables:     cfg.Sandbox.MaxTables,
	}, v, cfg.Sandbox.MaxSandboxes)
	t.Cleanup(mgr.Shutdown)

	store := problem.NewMemoryStore()
	j := judge.New(judge.Options{
		Validator: v,
		Sandboxes: mgr,
		Grader:    grader.New(cfg.Grader.NumericEpsilon, cfg.Grader.MaxDiffRows),
		Problems:  store,
		Resolver:  problem.NewDirResolver(root),
		Config:    cfg.Grader,
	})
	return NewHandlers(j, nil), store
}

func putOrdersProblem(store *problem.MemoryStore) {
	store.Put(&problem.Problem{
		ID: "p1",
		Sources: []problem.DatasetSource{
			{Bucket: "datasets", Key: "orders.csv", TableName: "orders"},
		},
		TestCases: []problem.TestCase{
			{
				Name: "north total",
				Expected: grader.ResultSet{
					Columns: []string{"total"},
					Rows:    [][]any{{800.25}},
				},
			},
		},
	})
}

func postJSON(t *testing.T, handler http.HandlerFunc, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestHandleSubmit_ValidationErrors(t *testing.T) {
	h, _ := newTestHandlers(t)

	tests := []struct {
		name string
		body any
	}{
		{"empty body", map[string]string{}},
		{"missing user", SubmitRequest{ProblemID: "p1", SQL: "SELECT 1"}},
		{"missing problem", SubmitRequest{UserID: "alice", SQL: "SELECT 1"}},
		{"missing sql", SubmitRequest{UserID: "alice", ProblemID: "p1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(t, h.HandleSubmit, "/submissions", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("got status %d, want 400", rec.Code)
			}
		})
	}
}

func TestHandleSubmit_SecurityRejected(t *testing.T) {
	h, store := newTestHandlers(t)
	putOrdersProblem(store)

	rec := postJSON(t, h.HandleSubmit, "/submissions", SubmitRequest{
		UserID:    "alice",
		ProblemID: "p1",
		SQL:       "SELECT * FROM orders; DROP TABLE orders;",
	})

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("got status %d, want 422", rec.Code)
	}
	var resp ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Code != "SECURITY_REJECTED" {
		t.Errorf("got code %q, want SECURITY_REJECTED", resp.Code)
	}
}

func TestHandleSubmitAndPoll(t *testing.T) {
	h, store := newTestHandlers(t)
	putOrdersProblem(store)

	rec := postJSON(t, h.HandleSubmit, "/submissions", SubmitRequest{
		UserID:    "alice",
		ProblemID: "p1",
		SQL:       "SELECT SUM(amount) AS total FROM orders WHERE region = 'North'",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("submit: got status %d, want 202: %s", rec.Code, rec.Body.String())
	}
	var sub SubmitResponse
	if err := json.NewDecoder(rec.Body).Decode(&sub); err != nil {
		t.Fatal(err)
	}
	if sub.JobID == "" {
		t.Fatal("submit returned empty job ID")
	}

	req := httptest.NewRequest(http.MethodGet, "/submissions/"+sub.JobID, nil)
	req.SetPathValue("id", sub.JobID)
	req.Header.Set("X-User-ID", "alice")
	pollRec := httptest.NewRecorder()
	h.HandlePoll(pollRec, req)

	if pollRec.Code != http.StatusOK {
		t.Fatalf("poll: got status %d, want 200: %s", pollRec.Code, pollRec.Body.String())
	}
	var poll judge.PollResponse
	if err := json.NewDecoder(pollRec.Body).Decode(&poll); err != nil {
		t.Fatal(err)
	}
	if poll.Outcome == nil {
		t.Fatal("poll returned no outcome for a graded job")
	}
	if !poll.Outcome.Correct {
		t.Errorf("Correct = false, want true: feedback %v", poll.Outcome.Feedback)
	}
	if poll.Outcome.Score != 100 {
		t.Errorf("Score = %d, want 100", poll.Outcome.Score)
	}
}

func TestHandlePoll_WrongOwnerIs404(t *testing.T) {
	h, store := newTestHandlers(t)
	putOrdersProblem(store)

	rec := postJSON(t, h.HandleSubmit, "/submissions", SubmitRequest{
		UserID:    "alice",
		ProblemID: "p1",
		SQL:       "SELECT SUM(amount) AS total FROM orders WHERE region = 'North'",
	})
	var sub SubmitResponse
	if err := json.NewDecoder(rec.Body).Decode(&sub); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/submissions/"+sub.JobID, nil)
	req.SetPathValue("id", sub.JobID)
	req.Header.Set("X-User-ID", "mallory")
	pollRec := httptest.NewRecorder()
	h.HandlePoll(pollRec, req)

	if pollRec.Code != http.StatusNotFound {
		t.Errorf("got status %d, want 404", pollRec.Code)
	}
}

func TestHandlePoll_MissingCallerIdentity(t *testing.T) {
	h, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/submissions/some-id", nil)
	req.SetPathValue("id", "some-id")
	rec := httptest.NewRecorder()
	h.HandlePoll(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("got status %d, want 400", rec.Code)
	}
}

func TestHandleTest_Success(t *testing.T) {
	h, store := newTestHandlers(t)
	putOrdersProblem(store)

	rec := postJSON(t, h.HandleTest, "/test", TestRequest{
		UserID:    "alice",
		ProblemID: "p1",
		SQL:       "SELECT SUM(amount) AS total FROM orders WHERE region = 'North'",
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var out judge.Outcome
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if !out.Correct {
		t.Errorf("Correct = false, want true: feedback %v", out.Feedback)
	}
}

func TestHandleGetSubmission_NoDatabase(t *testing.T) {
	h, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/history/abc", nil)
	req.SetPathValue("id", "abc")
	rec := httptest.NewRecorder()
	h.HandleGetSubmission(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("got status %d, want 503", rec.Code)
	}
}
