package sandbox

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"sqljudge/internal/validator"
)

// Manager hands out sandboxes keyed by (user, problem), reusing live
// instances and evicting the least-recently-used one when the ceiling is
// reached. All map mutation happens under one mutex so eviction and
// creation can never race.
type Manager struct {
	opts      Options
	validator *validator.Validator
	max       int

	mu        sync.Mutex
	sandboxes map[Key]*Sandbox
	evictions int64
}

// NewManager creates a Manager. max bounds the number of live sandboxes.
func NewManager(opts Options, v *validator.Validator, max int) *Manager {
	if max < 1 {
		max = 50
	}
	return &Manager{
		opts:      opts,
		validator: v,
		max:       max,
		sandboxes: make(map[Key]*Sandbox),
	}
}

// Acquire returns the existing sandbox for the key, or creates one. Calling
// Acquire twice with the same key before eviction returns the same instance.
func (m *Manager) Acquire(_ context.Context, userID, problemID string) (*Sandbox, error) {
	key := Key{UserID: userID, ProblemID: problemID}

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sandboxes[key]; ok {
		s.mu.Lock()
		closed := s.closed
		if !closed {
			s.lastUsed = time.Now()
		}
		s.mu.Unlock()
		if !closed {
			return s, nil
		}
		delete(m.sandboxes, key)
	}

	for len(m.sandboxes) >= m.max {
		m.evictOldestLocked()
	}

	s, err := newSandbox(key, m.opts, m.validator)
	if err != nil {
		return nil, err
	}
	m.sandboxes[key] = s

	log.Debug().Str("sandbox", key.String()).Int("live", len(m.sandboxes)).Msg("sandbox created")
	return s, nil
}

func (m *Manager) evictOldestLocked() {
	var oldest *Sandbox
	var oldestKey Key
	var oldestUsed time.Time
	for key, s := range m.sandboxes {
		s.mu.Lock()
		used := s.lastUsed
		s.mu.Unlock()
		if oldest == nil || used.Before(oldestUsed) {
			oldest = s
			oldestKey = key
			oldestUsed = used
		}
	}
	if oldest == nil {
		return
	}

	delete(m.sandboxes, oldestKey)
	m.evictions++
	if m.opts.OnEvict != nil {
		m.opts.OnEvict()
	}
	if err := oldest.Close(); err != nil {
		log.Warn().Err(err).Str("sandbox", oldestKey.String()).Msg("error closing evicted sandbox")
	} else {
		log.Info().Str("sandbox", oldestKey.String()).Msg("sandbox evicted")
	}
}

// Release drops and closes the sandbox for a key. Idempotent.
func (m *Manager) Release(userID, problemID string) {
	key := Key{UserID: userID, ProblemID: problemID}

	m.mu.Lock()
	s, ok := m.sandboxes[key]
	if ok {
		delete(m.sandboxes, key)
	}
	m.mu.Unlock()

	if ok {
		_ = s.Close()
	}
}

// Len reports the number of live sandboxes.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sandboxes)
}

// Evictions reports how many sandboxes have been evicted since startup.
func (m *Manager) Evictions() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.evictions
}

// Shutdown closes every live sandbox.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	sandboxes := make([]*Sandbox, 0, len(m.sandboxes))
	for _, s := range m.sandboxes {
		sandboxes = append(sandboxes, s)
	}
	m.sandboxes = make(map[Key]*Sandbox)
	m.mu.Unlock()

	for _, s := range sandboxes {
		_ = s.Close()
	}
	log.Info().Int("count", len(sandboxes)).Msg("all sandboxes closed")
}
