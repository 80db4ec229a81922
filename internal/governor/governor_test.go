package governor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/deepresearch/engine/internal/domain/money"
	"github.com/deepresearch/engine/internal/ledger"
	"github.com/deepresearch/engine/internal/storage/memory"
)

func newGovernor(t *testing.T, cfg Config) (*Governor, *ledger.Ledger) {
	t.Helper()
	store := memory.New()
	l := ledger.New(store, nil)
	return New(l, cfg, nil), l
}

func TestCheckSubmitAllowsWithinBudget(t *testing.T) {
	g, _ := newGovernor(t, Config{PerDayCap: money.FromFloat(50)})
	decision, err := g.CheckSubmit(context.Background(), money.FromFloat(1), false)
	require.NoError(t, err)
	require.Equal(t, DecisionAllow, decision)
}

func TestCheckSubmitDeniesAtDailyCapBoundary(t *testing.T) {
	g, l := newGovernor(t, Config{PerDayCap: money.FromFloat(0.50)})
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, l.RecordRealized(ctx, "job-1", "openai", "gpt-5-mini", money.FromFloat(0.45), 10, 10, now))

	decision, err := g.CheckSubmit(ctx, money.FromFloat(0.20), false)
	require.Error(t, err)
	require.Equal(t, DecisionDeny, decision)
}

func TestCheckSubmitBoundaryExactCapAllowed(t *testing.T) {
	g, _ := newGovernor(t, Config{PerOpCap: HardCapPerOp, PerDayCap: HardCapPerDay})
	decision, err := g.CheckSubmit(context.Background(), HardCapPerOp, false)
	require.NoError(t, err)
	require.Equal(t, DecisionAllow, decision)
}

func TestCheckSubmitBoundaryOverCapDenied(t *testing.T) {
	g, _ := newGovernor(t, Config{PerOpCap: HardCapPerOp})
	decision, err := g.CheckSubmit(context.Background(), HardCapPerOp+1, false)
	require.Error(t, err)
	require.Equal(t, DecisionDeny, decision)
}

func TestCheckSubmitRequiresConfirmNearDailyLimit(t *testing.T) {
	g, _ := newGovernor(t, Config{PerOpCap: HardCapPerOp, PerDayCap: money.FromFloat(10)})
	decision, err := g.CheckSubmit(context.Background(), money.FromFloat(9), true)
	require.Error(t, err)
	require.Equal(t, DecisionRequireConfirm, decision)
}

func TestCircuitBreakerTripsAfterThreeConsecutiveFailures(t *testing.T) {
	g, _ := newGovernor(t, Config{})
	for i := 0; i < 3; i++ {
		g.RecordProviderFailure()
	}
	require.True(t, g.CircuitBreakerTripped())

	decision, err := g.CheckSubmit(context.Background(), money.FromFloat(0.01), false)
	require.Error(t, err)
	require.Equal(t, DecisionDeny, decision)
}

func TestBudgetAlertLevel(t *testing.T) {
	require.Equal(t, 0, BudgetAlertLevel(0.4))
	require.Equal(t, 50, BudgetAlertLevel(0.5))
	require.Equal(t, 80, BudgetAlertLevel(0.85))
	require.Equal(t, 95, BudgetAlertLevel(0.99))
}
