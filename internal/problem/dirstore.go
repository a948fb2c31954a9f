package problem

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
)

var problemIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// DirStore reads problem definitions from <dir>/<id>.json. Definitions are
// cached after first load; editing a problem requires a process restart,
// which is acceptable for contest-style deployments where problems are
// frozen before submissions open.
type DirStore struct {
	dir string

	mu    sync.RWMutex
	cache map[string]*Problem
}

func NewDirStore(dir string) *DirStore {
	return &DirStore{dir: dir, cache: make(map[string]*Problem)}
}

func (s *DirStore) Get(_ context.Context, problemID string) (*Problem, error) {
	if !problemIDPattern.MatchString(problemID) {
		return nil, fmt.Errorf("invalid problem ID %q", problemID)
	}

	s.mu.RLock()
	p, ok := s.cache[problemID]
	s.mu.RUnlock()
	if ok {
		return p, nil
	}

	path := filepath.Join(s.dir, problemID+".json")
	data, err := os.ReadFile(path) // #nosec G304 -- ID is validated against a strict pattern above
	if err != nil {
		return nil, fmt.Errorf("problem %s not found: %w", problemID, err)
	}

	p = &Problem{}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parsing problem %s: %w", problemID, err)
	}
	if p.ID == "" {
		p.ID = problemID
	}
	if p.ID != problemID {
		return nil, fmt.Errorf("problem file %s declares ID %q", path, p.ID)
	}
	if len(p.TestCases) == 0 {
		return nil, fmt.Errorf("problem %s has no test cases", problemID)
	}

	s.mu.Lock()
	s.cache[problemID] = p
	s.mu.Unlock()
	return p, nil
}
