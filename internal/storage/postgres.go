package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// DB wraps a PostgreSQL connection pool for submission history.
type DB struct {
	pool *pgxpool.Pool
}

// New creates a new database connection pool.
func New(ctx context.Context, dsn string) (*DB, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database DSN: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 2
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	log.Info().Msg("connected to PostgreSQL")
	return &DB{pool: pool}, nil
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	db.pool.Close()
}

// Healthy checks database connectivity.
func (db *DB) Healthy(ctx context.Context) bool {
	return db.pool.Ping(ctx) == nil
}

// LogSubmission inserts a submission record into the history table.
func (db *DB) LogSubmission(ctx context.Context, sub *Submission) error {
	query := `
		INSERT INTO submissions (id, user_id, problem_id, query_hash, sql_text,
			mode, status, correct, score, feedback, duration_ms, row_count,
			request_ip, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err := db.pool.Exec(ctx, query,
		sub.ID, sub.UserID, sub.ProblemID, sub.QueryHash,
		truncateForDB(sub.SQLText, 65535),
		sub.Mode, sub.Status, sub.Correct, sub.Score,
		truncateForDB(sub.Feedback, 65535),
		sub.DurationMS, sub.RowCount,
		sub.RequestIP, sub.CreatedAt, sub.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting submission: %w", err)
	}
	return nil
}

// LogRejection inserts a validator rejection record.
func (db *DB) LogRejection(ctx context.Context, rec *RejectionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO rejections (id, submission_id, rule, risk, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := db.pool.Exec(ctx, query,
		rec.ID, rec.SubmissionID, rec.Rule, rec.Risk, rec.Detail, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting rejection: %w", err)
	}
	return nil
}

// GetSubmission retrieves a single submission by ID.
func (db *DB) GetSubmission(ctx context.Context, id string) (*Submission, error) {
	query := `
		SELECT id, user_id, problem_id, query_hash, sql_text,
			mode, status, correct, score, feedback, duration_ms, row_count,
			request_ip, created_at, completed_at
		FROM submissions WHERE id = $1`

	var sub Submission
	err := db.pool.QueryRow(ctx, query, id).Scan(
		&sub.ID, &sub.UserID, &sub.ProblemID, &sub.QueryHash, &sub.SQLText,
		&sub.Mode, &sub.Status, &sub.Correct, &sub.Score, &sub.Feedback,
		&sub.DurationMS, &sub.RowCount,
		&sub.RequestIP, &sub.CreatedAt, &sub.CompletedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("querying submission %s: %w", id, err)
	}
	return &sub, nil
}

// ListSubmissions queries submissions with optional filters.
func (db *DB) ListSubmissions(ctx context.Context, filter SubmissionFilter) ([]Submission, error) {
	query := `
		SELECT id, user_id, problem_id, query_hash, mode, status,
			correct, score, duration_ms, created_at, completed_at
		FROM submissions
		WHERE ($1 = '' OR user_id = $1)
		  AND ($2 = '' OR problem_id = $2)
		  AND ($3 = '' OR status = $3)
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5`

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	rows, err := db.pool.Query(ctx, query,
		filter.UserID, filter.ProblemID, filter.Status, limit, filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("querying submissions: %w", err)
	}
	defer rows.Close()

	var results []Submission
	for rows.Next() {
		var sub Submission
		if err := rows.Scan(
			&sub.ID, &sub.UserID, &sub.ProblemID, &sub.QueryHash,
			&sub.Mode, &sub.Status, &sub.Correct, &sub.Score,
			&sub.DurationMS, &sub.CreatedAt, &sub.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning submission row: %w", err)
		}
		results = append(results, sub)
	}

	return results, rows.Err()
}

func truncateForDB(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
