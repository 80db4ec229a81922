// Package idempotency implements the client-token idempotency store from
// spec §12: Facade.submit called twice with the same token within the TTL
// returns the same job_id instead of creating a second job.
package idempotency

import (
	"time"

	"github.com/deepresearch/engine/internal/cache"
)

// DefaultTTL matches §12's "5-minute TTL."
const DefaultTTL = 5 * time.Minute

// Store maps a caller-supplied client token to the job_id it produced,
// built over the teacher's generic internal/cache TTL cache rather than a
// bespoke map+mutex, since the two have identical semantics.
type Store struct {
	cache *cache.Cache
	ttl   time.Duration
}

// New builds a Store with the given TTL, or DefaultTTL when ttl <= 0.
func New(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		cache: cache.New(cache.Config{DefaultTTL: ttl, CleanupInterval: time.Minute}),
		ttl:   ttl,
	}
}

// Lookup returns the job_id previously recorded for token, if any and
// still within the TTL window.
func (s *Store) Lookup(token string) (string, bool) {
	if token == "" {
		return "", false
	}
	v, ok := s.cache.Get(token)
	if !ok {
		return "", false
	}
	jobID, ok := v.(string)
	return jobID, ok
}

// Record associates token with jobID for the store's TTL. Called once,
// immediately after a fresh job is created for a submit carrying token.
func (s *Store) Record(token, jobID string) {
	if token == "" {
		return
	}
	s.cache.Set(token, jobID, s.ttl)
}

// Close releases the underlying cache's cleanup goroutine.
func (s *Store) Close() {
	s.cache.Close()
}
