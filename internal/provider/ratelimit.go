package provider

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Semaphores rate-limits adapter calls per provider with a token-bucket
// rate.Limiter (default 5 requests per second, burst 5). It limits the call
// rate only; it does not bound how many calls are in flight at once.
type Semaphores struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	defaults SemaphoreConfig
}

// SemaphoreConfig configures the default per-provider limiter; individual
// providers may be overridden via WithLimit.
type SemaphoreConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// DefaultSemaphoreConfig mirrors the concurrency model's "per-provider
// semaphore (default 5)."
func DefaultSemaphoreConfig() SemaphoreConfig {
	return SemaphoreConfig{RequestsPerSecond: 5, Burst: 5}
}

// NewSemaphores builds a Semaphores using cfg as the default for any
// provider not given an explicit override.
func NewSemaphores(cfg SemaphoreConfig) *Semaphores {
	return &Semaphores{limiters: make(map[string]*rate.Limiter), defaults: cfg}
}

// WithLimit overrides the limiter for a specific provider.
func (s *Semaphores) WithLimit(providerName string, cfg SemaphoreConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limiters[providerName] = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)
}

func (s *Semaphores) limiterFor(providerName string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[providerName]
	if !ok {
		l = rate.NewLimiter(rate.Limit(s.defaults.RequestsPerSecond), s.defaults.Burst)
		s.limiters[providerName] = l
	}
	return l
}

// Wait blocks until providerName's semaphore admits one more call, or ctx
// is canceled.
func (s *Semaphores) Wait(ctx context.Context, providerName string) error {
	return s.limiterFor(providerName).Wait(ctx)
}

// Allow reports whether providerName currently has capacity, without
// blocking.
func (s *Semaphores) Allow(providerName string) bool {
	return s.limiterFor(providerName).Allow()
}
