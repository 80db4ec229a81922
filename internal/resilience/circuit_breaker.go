// Package resilience provides the circuit breaker backing the Cost
// Governor's submission gate: once consecutive provider failures trip it,
// new submissions pause until a cooldown elapses and a trial request
// succeeds.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is a circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many trial requests in half-open state")
)

// Config controls breaker thresholds.
type Config struct {
	MaxFailures   int
	FailureWindow time.Duration
	Cooldown      time.Duration
	HalfOpenMax   int
	OnStateChange func(from, to State)
}

// DefaultConfig matches the Cost Governor's circuit_breaker_trip contract:
// trip after 3 consecutive failures within a 15-minute window, 10-minute
// cooldown before a trial request is allowed.
func DefaultConfig() Config {
	return Config{
		MaxFailures:   3,
		FailureWindow: 15 * time.Minute,
		Cooldown:      10 * time.Minute,
		HalfOpenMax:   1,
	}
}

// Breaker implements the circuit breaker pattern.
type Breaker struct {
	mu           sync.RWMutex
	config       Config
	state        State
	failures     int
	firstFailure time.Time
	lastFailure  time.Time
	halfOpenReqs int
}

// New creates a Breaker with normalized configuration.
func New(cfg Config) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.FailureWindow <= 0 {
		cfg.FailureWindow = 15 * time.Minute
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 10 * time.Minute
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 1
	}
	return &Breaker{config: cfg, state: StateClosed}
}

// State returns the current state.
func (cb *Breaker) State() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Execute runs fn with circuit breaker protection.
func (cb *Breaker) Execute(ctx context.Context, fn func() error) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}
	err := fn()
	cb.afterRequest(err == nil)
	return err
}

// Allow reports (without running anything) whether a new submission may
// proceed, mirroring the Governor's circuit_breaker_trip check.
func (cb *Breaker) Allow() bool {
	return cb.beforeRequest() == nil
}

// RecordFailure registers an out-of-band failure (e.g. observed by the
// Router rather than via Execute).
func (cb *Breaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onFailure()
}

// RecordSuccess registers an out-of-band success.
func (cb *Breaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onSuccess()
}

func (cb *Breaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if time.Since(cb.lastFailure) > cb.config.Cooldown {
			cb.setState(StateHalfOpen)
			cb.halfOpenReqs = 1
			return nil
		}
		return ErrCircuitOpen
	case StateHalfOpen:
		if cb.halfOpenReqs >= cb.config.HalfOpenMax {
			return ErrTooManyRequests
		}
		cb.halfOpenReqs++
	}
	return nil
}

func (cb *Breaker) afterRequest(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if success {
		cb.onSuccess()
	} else {
		cb.onFailure()
	}
}

func (cb *Breaker) onSuccess() {
	switch cb.state {
	case StateHalfOpen:
		cb.setState(StateClosed)
	case StateClosed:
		cb.failures = 0
	}
}

func (cb *Breaker) onFailure() {
	now := time.Now()
	if cb.failures == 0 || now.Sub(cb.firstFailure) > cb.config.FailureWindow {
		cb.firstFailure = now
		cb.failures = 0
	}
	cb.failures++
	cb.lastFailure = now

	switch cb.state {
	case StateHalfOpen:
		cb.setState(StateOpen)
	case StateClosed:
		if cb.failures >= cb.config.MaxFailures {
			cb.setState(StateOpen)
		}
	}
}

func (cb *Breaker) setState(newState State) {
	if cb.state == newState {
		return
	}
	old := cb.state
	cb.state = newState
	cb.failures = 0
	cb.halfOpenReqs = 0

	if cb.config.OnStateChange != nil {
		go cb.config.OnStateChange(old, newState)
	}
}
