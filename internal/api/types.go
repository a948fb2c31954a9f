package api

// SubmitRequest asks for asynchronous grading of one SQL query.
type SubmitRequest struct {
	UserID    string `json:"user_id"`
	ProblemID string `json:"problem_id"`
	SQL       string `json:"sql"`
}

// SubmitResponse returns the job handle to poll.
type SubmitResponse struct {
	JobID string `json:"job_id"`
}

// TestRequest asks for synchronous practice-mode grading.
type TestRequest struct {
	UserID        string `json:"user_id"`
	ProblemID     string `json:"problem_id"`
	SQL           string `json:"sql"`
	IncludeHidden bool   `json:"include_hidden,omitempty"`
}

// ErrorResponse is returned for API errors.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id"`
}

// HealthResponse is returned by the health check endpoint.
type HealthResponse struct {
	Status   string `json:"status"`
	Queue    bool   `json:"queue"`
	Database bool   `json:"database"`
	Uptime   string `json:"uptime"`
}
