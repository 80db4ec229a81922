// Package router implements the Router: health-scored provider+model
// selection with exploration and a fallback chain, plus the provider health
// bookkeeping the spec assigns exclusively to this component.
package router

import (
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/deepresearch/engine/internal/domain/job"
	"github.com/deepresearch/engine/internal/domain/money"
	"github.com/deepresearch/engine/internal/domain/providerhealth"
	"github.com/deepresearch/engine/internal/logger"
	"github.com/deepresearch/engine/internal/provider"
)

// Config holds the fixed scoring weights and exploration rate from spec
// §4.4. All fields are configuration, not derived.
type Config struct {
	WeightQuality float64
	WeightCost    float64
	WeightLatency float64
	WeightSuccess float64
	Explore       float64 // epsilon, default 0.10
	HealthWindow  int     // rolling window of completions, default 100
}

// DefaultConfig matches the weights and exploration rate named in §4.4.
func DefaultConfig() Config {
	return Config{
		WeightQuality: 1.0,
		WeightCost:    0.4,
		WeightLatency: 0.2,
		WeightSuccess: 0.6,
		Explore:       0.10,
		HealthWindow:  100,
	}
}

// Request is the input to Select: a normalized view over job.Job that the
// facade/submit-worker builds before asking the Router to choose a
// provider.
type Request struct {
	Prompt string
	Mode   job.Mode
	Tools  []job.Tool
	Choice job.ProviderChoice
}

// Candidate is one (provider, model) entry in the fallback chain, in the
// order Select would try them.
type Candidate struct {
	Provider string
	Model    string
	Score    float64
}

// Action is the Router's decision for how to handle a failed adapter call,
// per the failure handling table in §4.4.
type Action string

const (
	ActionRetrySame Action = "retry_same"
	ActionFallback  Action = "fallback"
	ActionFatal     Action = "fatal"
)

// Router selects providers for AUTO jobs and owns ProviderHealth.
type Router struct {
	registry *provider.Registry
	cfg      Config
	log      *logger.Logger
	rng      *rand.Rand
	nowFunc  func() time.Time

	mu     sync.RWMutex
	health map[string]*providerhealth.Health
}

// New builds a Router over registry with the given scoring configuration.
func New(registry *provider.Registry, cfg Config, log *logger.Logger) *Router {
	if log == nil {
		log = logger.NewDefault("router")
	}
	return &Router{
		registry: registry,
		cfg:      cfg,
		log:      log,
		rng:      rand.New(rand.NewSource(1)),
		nowFunc:  time.Now,
		health:   make(map[string]*providerhealth.Health),
	}
}

func healthKey(providerName, model string) string { return providerName + "/" + model }

func (r *Router) healthFor(providerName, model string) *providerhealth.Health {
	key := healthKey(providerName, model)
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.health[key]
	if !ok {
		h = &providerhealth.Health{Provider: providerName, SuccessRateByTask: make(map[string]float64)}
		r.health[key] = h
	}
	return h
}

// HealthSnapshot returns a copy-on-read view of a provider/model's health,
// per §5's "copy-on-read accessor" requirement for non-Router readers.
func (r *Router) HealthSnapshot(providerName, model string) providerhealth.Health {
	return r.healthFor(providerName, model).Snapshot()
}

// Select runs the AUTO-mode selection algorithm (§4.4 steps 1-6) and
// returns the fallback chain: the top 3 scorers in order. An explicit
// (non-AUTO) choice short-circuits to a single-candidate chain.
func (r *Router) Select(req Request) []Candidate {
	if !req.Choice.IsAuto() {
		return []Candidate{{Provider: req.Choice.Provider, Model: req.Choice.Model}}
	}

	complexity := complexityScore(req)
	minContext := int(complexity * 200_000)
	entries := r.registry.Candidates(minContext, req.Tools)

	now := r.nowFunc()
	var scored []Candidate
	for _, e := range entries {
		h := r.healthFor(e.Provider, e.Model)
		if h.Disabled(now) {
			continue
		}
		scored = append(scored, Candidate{
			Provider: e.Provider,
			Model:    e.Model,
			Score:    r.score(e, complexity, h, req.Mode),
		})
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) == 0 {
		return nil
	}

	if r.cfg.Explore > 0 && len(scored) > 1 && r.rng.Float64() < r.cfg.Explore {
		pick := 1 + r.rng.Intn(len(scored)-1)
		scored[0], scored[pick] = scored[pick], scored[0]
	}

	if len(scored) > 3 {
		scored = scored[:3]
	}
	return scored
}

// complexityScore is a 0..1 heuristic from prompt length, tool requirements,
// and mode family, per §4.4 step 1.
func complexityScore(req Request) float64 {
	lengthFactor := math.Min(1, float64(len(req.Prompt))/4000)
	toolFactor := math.Min(1, float64(len(req.Tools))/3)
	modeFactor := 0.3
	switch req.Mode {
	case job.ModeProjectPhase, job.ModeTeamPerspective:
		modeFactor = 1.0
	case job.ModeDocs:
		modeFactor = 0.6
	}
	return math.Max(lengthFactor, math.Max(toolFactor, modeFactor))
}

// score implements §4.4 step 4:
//   score = w_quality*model_tier(complexity) - w_cost*estimated_cost
//           - w_latency*p95_latency + w_success*success_rate_by_task_type
func (r *Router) score(e provider.ModelEntry, complexity float64, h *providerhealth.Health, mode job.Mode) float64 {
	tier := modelTier(e, complexity)
	estimatedCost := heuristicCost(e, complexity)
	p95Seconds := h.Latency.P95.Seconds()
	if p95Seconds == 0 {
		p95Seconds = e.TypicalLatency.Seconds()
	}
	successRate := h.SuccessRateByTask[string(mode)]
	if _, seen := h.SuccessRateByTask[string(mode)]; !seen {
		successRate = 0.5 // no history yet: neutral prior, neither penalized nor rewarded
	}

	return r.cfg.WeightQuality*tier -
		r.cfg.WeightCost*estimatedCost.Float64() -
		r.cfg.WeightLatency*p95Seconds +
		r.cfg.WeightSuccess*successRate
}

// modelTier approximates model quality from registry pricing (pricier
// output tends to track the provider's top-tier model), averaged with the
// request's complexity. The complexity term is the same for every
// candidate, so among candidates a pricier model always gets the higher
// tier, whatever the prompt.
func modelTier(e provider.ModelEntry, complexity float64) float64 {
	priceSignal := math.Min(1, e.Pricing.OutputPerMillion/15.0)
	return priceSignal*0.5 + complexity*0.5
}

// heuristicCost estimates spend from registry pricing without calling the
// adapter: a nominal 1000 input tokens plus up to 4000 more scaled by the
// complexity factor, with output sized at half the input.
func heuristicCost(e provider.ModelEntry, complexity float64) money.FixedPoint {
	inputTokens := 1000 + complexity*4000
	outputTokens := inputTokens / 2
	dollars := inputTokens/1_000_000*e.Pricing.InputPerMillion + outputTokens/1_000_000*e.Pricing.OutputPerMillion
	return money.FromFloat(dollars)
}

// DecideFailureAction maps an adapter's classified error to the Router's
// failure-handling rule from §4.4: TRANSIENT retries the same provider
// once before falling back, RATE_LIMIT/PROVIDER_DOWN fall back
// immediately, and AUTH/INVALID_REQUEST are fatal.
func (r *Router) DecideFailureAction(class provider.ErrorClass, sameProviderRetries int) Action {
	switch class {
	case provider.ErrTransient:
		if sameProviderRetries < 1 {
			return ActionRetrySame
		}
		return ActionFallback
	case provider.ErrRateLimit, provider.ErrProviderDown:
		return ActionFallback
	default:
		return ActionFatal
	}
}

// RetryBackoff returns the exponential backoff schedule for ActionRetrySame
// (1s, then 2s), per §4.4.
func RetryBackoff(attempt int) time.Duration {
	if attempt <= 0 {
		return time.Second
	}
	return time.Duration(1<<uint(attempt)) * time.Second
}

// RecordOutcome updates ProviderHealth after a terminal provider outcome:
// latency percentiles over the rolling window, success rate by task type,
// consecutive failures, and the 1-hour auto-disable circuit breaker at 5
// consecutive failures (§4.4's health update rule).
func (r *Router) RecordOutcome(providerName, model string, mode job.Mode, latency time.Duration, success bool) (autoDisabled bool) {
	h := r.healthFor(providerName, model)
	r.mu.Lock()
	defer r.mu.Unlock()

	h.Latency = recomputeLatency(h.Latency, latency)

	key := string(mode)
	prevRate, seen := h.SuccessRateByTask[key]
	if !seen {
		prevRate = 1.0
		if !success {
			prevRate = 0.0
		}
	}
	// Exponential moving average approximates a bounded rolling window
	// without retaining every individual observation.
	alpha := 1.0 / float64(maxInt(1, r.cfg.HealthWindow))
	outcome := 0.0
	if success {
		outcome = 1.0
	}
	h.SuccessRateByTask[key] = prevRate + alpha*(outcome-prevRate)

	if success {
		h.ConsecutiveFailures = 0
		h.DisabledUntil = nil
		return false
	}

	wasDisabled := h.Disabled(r.nowFunc())
	h.ConsecutiveFailures++
	if h.ConsecutiveFailures >= 5 {
		until := r.nowFunc().Add(time.Hour)
		h.DisabledUntil = &until
		if !wasDisabled {
			r.log.WithField("provider", providerName).WithField("model", model).
				Warn("provider auto-disabled after 5 consecutive failures")
			return true
		}
	}
	return false
}

// recomputeLatency folds a new sample into a bounded-window latency
// estimate using an exponential moving average per percentile, which
// approximates a sorted rolling window of the last 100 completions without
// retaining the samples themselves.
func recomputeLatency(prev providerhealth.LatencyWindow, sample time.Duration) providerhealth.LatencyWindow {
	ema := func(old time.Duration, weight float64) time.Duration {
		if old == 0 {
			return sample
		}
		return time.Duration(float64(old) + weight*(float64(sample)-float64(old)))
	}
	return providerhealth.LatencyWindow{
		P50: ema(prev.P50, 0.2),
		P95: ema(prev.P95, 0.1),
		P99: ema(prev.P99, 0.05),
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
