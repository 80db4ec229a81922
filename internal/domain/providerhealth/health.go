// Package providerhealth tracks the rolling health state the Router uses to
// score and circuit-break providers. ProviderHealth is exclusively owned and
// mutated by the Router; every other component reads a copy-on-read
// snapshot.
package providerhealth

import "time"

// LatencyWindow holds latency percentiles computed over a bounded rolling
// window of recent completions.
type LatencyWindow struct {
	P50 time.Duration
	P95 time.Duration
	P99 time.Duration
}

// Health is the per-provider rolling state.
type Health struct {
	Provider            string
	Latency             LatencyWindow
	SuccessRateByTask    map[string]float64
	ConsecutiveFailures  int
	DisabledUntil        *time.Time
}

// Disabled reports whether the circuit breaker has tripped this provider as
// of the given instant.
func (h *Health) Disabled(now time.Time) bool {
	return h.DisabledUntil != nil && now.Before(*h.DisabledUntil)
}

// Snapshot returns a deep copy safe for concurrent reads by components other
// than the Router.
func (h *Health) Snapshot() Health {
	cp := *h
	cp.SuccessRateByTask = make(map[string]float64, len(h.SuccessRateByTask))
	for k, v := range h.SuccessRateByTask {
		cp.SuccessRateByTask[k] = v
	}
	if h.DisabledUntil != nil {
		t := *h.DisabledUntil
		cp.DisabledUntil = &t
	}
	return cp
}
