// Package problem defines the interfaces through which the grading core
// consumes the rest of the platform: dataset staging and problem metadata.
// The core never performs network retrieval itself; it only consumes these.
package problem

import (
	"context"
	"fmt"
	"sync"

	"sqljudge/internal/grader"
)

// DatasetSource locates one instructor-provided table.
type DatasetSource struct {
	Bucket    string `json:"bucket"`
	Key       string `json:"key"`
	TableName string `json:"table_name"`
}

// SourceResolver stages a dataset source locally. The integrity tag changes
// whenever the underlying object changes, which lets a sandbox skip
// reloading tables it already holds.
type SourceResolver interface {
	Resolve(ctx context.Context, bucket, key string) (localPath, integrityTag string, err error)
}

// TestCase pairs an expected result with the rules for comparing against it.
type TestCase struct {
	Name     string           `json:"name"`
	Expected grader.ResultSet `json:"expected"`
	Rules    grader.Rules     `json:"rules"`
	Hidden   bool             `json:"hidden"`
}

// Problem is the metadata the core needs to grade one problem.
type Problem struct {
	ID           string          `json:"id"`
	Sources      []DatasetSource `json:"sources"`
	TestCases    []TestCase      `json:"test_cases"`
	CheckVariant bool            `json:"check_variant"` // enable the data-perturbation confidence check
	VariantSeed  int64           `json:"variant_seed"`
}

// Store looks up problem metadata.
type Store interface {
	Get(ctx context.Context, problemID string) (*Problem, error)
}

// MemoryStore is an in-process Store, used by tests and single-node
// deployments where the authoring layer pushes problems directly.
type MemoryStore struct {
	mu       sync.RWMutex
	problems map[string]*Problem
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{problems: make(map[string]*Problem)}
}

func (s *MemoryStore) Put(p *Problem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.problems[p.ID] = p
}

func (s *MemoryStore) Get(_ context.Context, problemID string) (*Problem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.problems[problemID]
	if !ok {
		return nil, fmt.Errorf("problem %s not found", problemID)
	}
	return p, nil
}
