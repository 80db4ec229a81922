// Package governor implements the Cost Governor (C2): policy evaluation
// over the Cost Ledger, producing approve/deny/confirm decisions for
// submission and the circuit-breaker pause rule.
package governor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/deepresearch/engine/internal/apperrors"
	"github.com/deepresearch/engine/internal/domain/money"
	"github.com/deepresearch/engine/internal/ledger"
	"github.com/deepresearch/engine/internal/logger"
	"github.com/deepresearch/engine/internal/resilience"
	"github.com/deepresearch/engine/internal/storage"
)

// Decision is the Governor's verdict on a proposed submission.
type Decision string

const (
	DecisionAllow          Decision = "ALLOW"
	DecisionDeny           Decision = "DENY"
	DecisionRequireConfirm Decision = "REQUIRE_CONFIRM"
)

// Hard ceilings that may not be exceeded even with an operator override
// (§4.1).
var (
	HardCapPerOp     = money.FromFloat(10)
	HardCapPerDay    = money.FromFloat(50)
	HardCapPerMonth  = money.FromFloat(500)
	confirmThreshold = 0.80
)

// Config carries the configured soft limits. Clamp lowers any limit above a
// hard ceiling to that ceiling and replaces an unset (zero or negative)
// limit with the ceiling itself, so an unset limit equals the hard ceiling.
type Config struct {
	PerOpCap   money.FixedPoint
	PerDayCap  money.FixedPoint
	PerMonthCap money.FixedPoint
}

// Clamp enforces the hard ceilings from §4.1.
func (c Config) Clamp() Config {
	if c.PerOpCap <= 0 || c.PerOpCap > HardCapPerOp {
		c.PerOpCap = HardCapPerOp
	}
	if c.PerDayCap <= 0 || c.PerDayCap > HardCapPerDay {
		c.PerDayCap = HardCapPerDay
	}
	if c.PerMonthCap <= 0 || c.PerMonthCap > HardCapPerMonth {
		c.PerMonthCap = HardCapPerMonth
	}
	return c
}

// Governor evaluates submission requests against the Ledger's realized
// spend and the provider circuit breaker.
type Governor struct {
	ledger  *ledger.Ledger
	cfg     Config
	breaker *resilience.Breaker
	log     *logger.Logger
	nowFunc func() time.Time

	mu sync.Mutex
}

// New builds a Governor. cfg is clamped to the hard ceilings.
func New(l *ledger.Ledger, cfg Config, log *logger.Logger) *Governor {
	if log == nil {
		log = logger.NewDefault("governor")
	}
	return &Governor{
		ledger:  l,
		cfg:     cfg.Clamp(),
		breaker: resilience.New(resilience.DefaultConfig()),
		log:     log,
		nowFunc: time.Now,
	}
}

// CheckSubmit implements §4.1's check_submit: consults per-op, daily, and
// monthly caps, and the circuit breaker. interactive indicates the caller
// has a human in the loop who can be asked to confirm a high-cost spend.
func (g *Governor) CheckSubmit(ctx context.Context, estimated money.FixedPoint, interactive bool) (Decision, error) {
	if !g.breaker.Allow() {
		return DecisionDeny, apperrors.BudgetDenied("provider circuit breaker is open; submissions are paused", 0)
	}

	if estimated.GreaterThan(g.cfg.PerOpCap) {
		return DecisionDeny, apperrors.BudgetDenied(
			fmt.Sprintf("estimated cost %s exceeds per-operation cap %s", estimated, g.cfg.PerOpCap), 0)
	}

	now := g.nowFunc()
	daySpent, err := g.ledger.SumRealized(ctx, startOfDay(now), storage.CostFilter{})
	if err != nil {
		return DecisionDeny, err
	}
	dayRemaining := g.cfg.PerDayCap.Sub(daySpent)
	if estimated.GreaterThan(dayRemaining) {
		return DecisionDeny, apperrors.BudgetDenied("daily budget exhausted", dayRemaining.Float64())
	}

	monthSpent, err := g.ledger.SumRealized(ctx, startOfMonth(now), storage.CostFilter{})
	if err != nil {
		return DecisionDeny, err
	}
	monthRemaining := g.cfg.PerMonthCap.Sub(monthSpent)
	if estimated.GreaterThan(monthRemaining) {
		return DecisionDeny, apperrors.BudgetDenied("monthly budget exhausted", monthRemaining.Float64())
	}

	if interactive && dayRemaining.Float64() > 0 && estimated.Float64() >= confirmThreshold*dayRemaining.Float64() {
		return DecisionRequireConfirm, apperrors.New(apperrors.KindBudgetDenied,
			"estimated cost is at least 80% of remaining daily budget").WithDetail("remaining", dayRemaining.Float64())
	}

	return DecisionAllow, nil
}

// RecordProviderFailure feeds a provider-submission failure into the
// breaker backing circuit_breaker_trip.
func (g *Governor) RecordProviderFailure() { g.breaker.RecordFailure() }

// RecordProviderSuccess clears consecutive-failure state on the breaker.
func (g *Governor) RecordProviderSuccess() { g.breaker.RecordSuccess() }

// CircuitBreakerTripped reports whether new submissions are currently
// paused by the breaker (§4.1's circuit_breaker_trip).
func (g *Governor) CircuitBreakerTripped() bool {
	return g.breaker.State() == resilience.StateOpen
}

// BudgetAlertThresholds are the Event Bus budget_alert percentages (§6).
var BudgetAlertThresholds = []int{50, 80, 95}

// BudgetAlertLevel returns the highest crossed alert threshold for the
// given spend ratio (0..1), or 0 if none crossed.
func BudgetAlertLevel(spentRatio float64) int {
	level := 0
	for _, t := range BudgetAlertThresholds {
		if spentRatio*100 >= float64(t) {
			level = t
		}
	}
	return level
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func startOfMonth(t time.Time) time.Time {
	y, m, _ := t.UTC().Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}
