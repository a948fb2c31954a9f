// Package sandbox owns the isolated per-(user, problem) analytical database
// instances that untrusted queries execute in. Each sandbox is an in-memory
// SQLite instance with a single connection, a page-count memory ceiling, and
// a hard wall-clock budget per query; nothing in it survives the process.
package sandbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"sqljudge/internal/validator"
)

// Key identifies a sandbox: one per (user, problem) pair.
type Key struct {
	UserID    string
	ProblemID string
}

func (k Key) String() string {
	return k.UserID + "/" + k.ProblemID
}

// Options configures resource limits for every sandbox an engine creates.
type Options struct {
	MemoryLimitMB int
	QueryTimeout  time.Duration
	MaxResultRows int
	MaxTables     int

	// OnEvict is invoked after each LRU eviction. Optional.
	OnEvict func()
}

// ExecutionResult carries a successful query's output. Rows are capped at
// MaxResultRows with Truncated set, never grown without bound.
type ExecutionResult struct {
	Columns   []string      `json:"columns"`
	Rows      [][]any       `json:"rows"`
	Truncated bool          `json:"truncated"`
	Duration  time.Duration `json:"duration"`
}

// Sandbox is one isolated engine instance. It is never executed against
// concurrently: the mutex serializes loads and queries.
type Sandbox struct {
	key       Key
	opts      Options
	validator *validator.Validator

	mu       sync.Mutex
	db       *sql.DB
	closed   bool
	tables   map[string]string // table name -> integrity tag of loaded source
	lastUsed time.Time
}

const sqlitePageSize = 4096

func newSandbox(key Key, opts Options, v *validator.Validator) (*Sandbox, error) {
	s := &Sandbox{
		key:       key,
		opts:      opts,
		validator: v,
		tables:    make(map[string]string),
		lastUsed:  time.Now(),
	}
	if err := s.openLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

// openLocked creates the engine connection and applies resource pragmas.
// Callers hold s.mu (or own s exclusively during construction).
func (s *Sandbox) openLocked() error {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return &Error{Key: s.key, Op: "open", Err: fmt.Errorf("%w: %v", ErrEngine, err)}
	}

	// A single connection is both the isolation model and what keeps the
	// in-memory database alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	maxPages := int64(s.opts.MemoryLimitMB) * 1024 * 1024 / sqlitePageSize
	pragmas := []string{
		fmt.Sprintf("PRAGMA max_page_count = %d", maxPages),
		fmt.Sprintf("PRAGMA cache_size = -%d", s.opts.MemoryLimitMB*1024/4),
		"PRAGMA trusted_schema = OFF",
		"PRAGMA temp_store = MEMORY",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return &Error{Key: s.key, Op: "configure", Err: fmt.Errorf("%w: %v", ErrEngine, err)}
		}
	}

	s.db = db
	return nil
}

// Key returns the sandbox identity.
func (s *Sandbox) Key() Key { return s.key }

// Tables returns the names of currently loaded tables.
func (s *Sandbox) Tables() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.tables))
	for name := range s.tables {
		names = append(names, name)
	}
	return names
}

// Execute re-validates the query exhaustively and runs it under the
// wall-clock budget. A timed-out execution discards and rebuilds the engine
// connection so a stuck session cannot poison subsequent calls, and always
// reports ErrTimeout, never a partial success.
func (s *Sandbox) Execute(ctx context.Context, sqlText string) (*ExecutionResult, error) {
	// Defense in depth: never trust that the cheap submission-time pass
	// was the only gate.
	if verdict := s.validator.Validate(sqlText); !verdict.Valid {
		return nil, &Error{Key: s.key, Op: "validate",
			Err: fmt.Errorf("%w: %s", ErrSecurityRejected, strings.Join(verdict.Errors, "; "))}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, &Error{Key: s.key, Op: "execute", Err: ErrSandboxClosed}
	}
	s.lastUsed = time.Now()

	execCtx, cancel := context.WithTimeout(ctx, s.opts.QueryTimeout)
	defer cancel()

	start := time.Now()
	rows, err := s.db.QueryContext(execCtx, sqlText)
	if err != nil {
		return nil, s.classifyLocked(execCtx, "execute", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, s.classifyLocked(execCtx, "columns", err)
	}

	result := &ExecutionResult{Columns: columns}
	for rows.Next() {
		if len(result.Rows) >= s.opts.MaxResultRows {
			result.Truncated = true
			break
		}
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, s.classifyLocked(execCtx, "scan", err)
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, s.classifyLocked(execCtx, "rows", err)
	}

	result.Duration = time.Since(start)
	return result, nil
}

// classifyLocked maps a driver error onto the failure taxonomy. On timeout
// the connection is torn down and replaced. Callers hold s.mu.
func (s *Sandbox) classifyLocked(ctx context.Context, op string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		s.rebuildLocked()
		return &Error{Key: s.key, Op: op,
			Err: fmt.Errorf("%w after %s", ErrTimeout, s.opts.QueryTimeout)}
	}
	if errors.Is(ctx.Err(), context.Canceled) || errors.Is(err, context.Canceled) {
		// Caller shutdown, not a slow query; keep it out of the timeout
		// taxonomy so learners are never told their query was too slow.
		s.rebuildLocked()
		return &Error{Key: s.key, Op: op, Err: ErrCanceled}
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "out of memory") ||
		strings.Contains(msg, "database or disk is full") ||
		strings.Contains(msg, "string or blob too big") {
		return &Error{Key: s.key, Op: op,
			Err: fmt.Errorf("%w: memory ceiling of %dMB reached", ErrResourceLimit, s.opts.MemoryLimitMB)}
	}

	// Engine rejections of syntactically-valid-looking queries are learner
	// feedback; surface the engine's message verbatim.
	return &Error{Key: s.key, Op: op, Err: fmt.Errorf("%w: %v", ErrEngine, err)}
}

// rebuildLocked replaces the engine connection. The in-memory database dies
// with the old connection, so loaded-table bookkeeping is reset and the next
// LoadTables call re-materializes every source.
func (s *Sandbox) rebuildLocked() {
	if s.db != nil {
		_ = s.db.Close()
	}
	s.tables = make(map[string]string)
	if err := s.openLocked(); err != nil {
		log.Error().Err(err).Str("sandbox", s.key.String()).Msg("failed to rebuild sandbox connection")
		s.closed = true
		return
	}
	log.Warn().Str("sandbox", s.key.String()).Msg("sandbox connection rebuilt after timeout")
}

// Close releases the engine connection. Idempotent.
func (s *Sandbox) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
