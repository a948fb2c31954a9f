package storage

import "time"

// Submission represents a stored submission record.
type Submission struct {
	ID          string     `json:"id" db:"id"`
	UserID      string     `json:"user_id" db:"user_id"`
	ProblemID   string     `json:"problem_id" db:"problem_id"`
	QueryHash   string     `json:"query_hash" db:"query_hash"`
	SQLText     string     `json:"sql_text" db:"sql_text"`
	Mode        string     `json:"mode" db:"mode"` // submit, test
	Status      string     `json:"status" db:"status"` // queued, processing, completed, failed, rejected
	Correct     bool       `json:"correct" db:"correct"`
	Score       int        `json:"score" db:"score"`
	Feedback    string     `json:"feedback" db:"feedback"`
	DurationMS  int64      `json:"duration_ms" db:"duration_ms"`
	RowCount    int        `json:"row_count" db:"row_count"`
	RequestIP   string     `json:"request_ip" db:"request_ip"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// RejectionRecord stores validator rejection details for audit.
type RejectionRecord struct {
	ID           string    `json:"id" db:"id"`
	SubmissionID string    `json:"submission_id" db:"submission_id"`
	Rule         string    `json:"rule" db:"rule"`
	Risk         string    `json:"risk" db:"risk"`
	Detail       string    `json:"detail" db:"detail"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// SubmissionFilter provides criteria for querying submissions.
type SubmissionFilter struct {
	UserID    string
	ProblemID string
	Status    string
	Since     *time.Time
	Until     *time.Time
	Limit     int
	Offset    int
}
