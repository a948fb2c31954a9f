package judge

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// outcomeCache is a TTL cache for practice-mode results, keyed by a hash of
// (user, problem, normalized query). Expired entries are reaped lazily on
// lookup and opportunistically on insert.
type outcomeCache struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	outcome *Outcome
	expires time.Time
}

func newOutcomeCache(ttl time.Duration) *outcomeCache {
	return &outcomeCache{ttl: ttl, entries: make(map[string]cacheEntry)}
}

func (c *outcomeCache) get(key string) (*Outcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expires) {
		delete(c.entries, key)
		return nil, false
	}
	copied := *entry.outcome
	return &copied, true
}

func (c *outcomeCache) put(key string, out *Outcome) {
	stored := *out

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for k, entry := range c.entries {
		if now.After(entry.expires) {
			delete(c.entries, k)
		}
	}
	c.entries[key] = cacheEntry{outcome: &stored, expires: now.Add(c.ttl)}
}

// cacheKey hashes the identity triple so the cache never stores raw SQL as
// a map key.
func cacheKey(userID, problemID, normalizedSQL string) string {
	h := sha256.New()
	h.Write([]byte(userID))
	h.Write([]byte{0})
	h.Write([]byte(problemID))
	h.Write([]byte{0})
	h.Write([]byte(normalizedSQL))
	return hex.EncodeToString(h.Sum(nil))
}
