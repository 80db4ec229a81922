package router

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/deepresearch/engine/internal/domain/job"
	"github.com/deepresearch/engine/internal/provider"
)

func TestSelectHonorsExplicitChoice(t *testing.T) {
	r := New(provider.NewRegistry(), DefaultConfig(), nil)
	candidates := r.Select(Request{
		Choice: job.ProviderChoice{Provider: "openai", Model: "gpt-5-mini"},
	})
	require.Len(t, candidates, 1)
	require.Equal(t, "openai", candidates[0].Provider)
}

func TestSelectAutoReturnsUpToThreeCandidates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Explore = 0
	r := New(provider.NewRegistry(), cfg, nil)
	candidates := r.Select(Request{
		Prompt: "what is 2+2?",
		Mode:   job.ModeFocus,
		Choice: job.ProviderChoice{Provider: job.AutoProvider},
	})
	require.NotEmpty(t, candidates)
	require.LessOrEqual(t, len(candidates), 3)
}

func TestSelectFiltersDisabledProviders(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Explore = 0
	r := New(provider.NewRegistry(), cfg, nil)

	for i := 0; i < 5; i++ {
		r.RecordOutcome("openai", "gpt-5-mini", job.ModeFocus, 10*time.Millisecond, false)
	}
	require.True(t, r.HealthSnapshot("openai", "gpt-5-mini").Disabled(time.Now()))

	candidates := r.Select(Request{
		Prompt: "short",
		Mode:   job.ModeFocus,
		Choice: job.ProviderChoice{Provider: job.AutoProvider},
	})
	for _, c := range candidates {
		require.False(t, c.Provider == "openai" && c.Model == "gpt-5-mini")
	}
}

func TestDecideFailureAction(t *testing.T) {
	r := New(provider.NewRegistry(), DefaultConfig(), nil)
	require.Equal(t, ActionRetrySame, r.DecideFailureAction(provider.ErrTransient, 0))
	require.Equal(t, ActionFallback, r.DecideFailureAction(provider.ErrTransient, 1))
	require.Equal(t, ActionFallback, r.DecideFailureAction(provider.ErrRateLimit, 0))
	require.Equal(t, ActionFallback, r.DecideFailureAction(provider.ErrProviderDown, 0))
	require.Equal(t, ActionFatal, r.DecideFailureAction(provider.ErrAuth, 0))
	require.Equal(t, ActionFatal, r.DecideFailureAction(provider.ErrInvalidRequest, 0))
}

func TestRecordOutcomeAutoDisablesAtFiveConsecutiveFailures(t *testing.T) {
	r := New(provider.NewRegistry(), DefaultConfig(), nil)
	var disabled bool
	for i := 0; i < 5; i++ {
		disabled = r.RecordOutcome("azure", "gpt-5-deep-research", job.ModeFocus, time.Second, false)
	}
	require.True(t, disabled)

	// the 6th consecutive failure does not re-trip the breaker: the
	// provider is already disabled.
	disabled = r.RecordOutcome("azure", "gpt-5-deep-research", job.ModeFocus, time.Second, false)
	require.False(t, disabled)
}
