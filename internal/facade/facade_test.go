package facade

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deepresearch/engine/internal/domain/artifact"
	"github.com/deepresearch/engine/internal/domain/job"
	"github.com/deepresearch/engine/internal/domain/money"
	"github.com/deepresearch/engine/internal/eventbus"
	"github.com/deepresearch/engine/internal/governor"
	"github.com/deepresearch/engine/internal/idempotency"
	"github.com/deepresearch/engine/internal/ledger"
	"github.com/deepresearch/engine/internal/provider"
	"github.com/deepresearch/engine/internal/queue"
	"github.com/deepresearch/engine/internal/router"
	"github.com/deepresearch/engine/internal/storage/memory"
)

type fakeAdapter struct {
	name      string
	estimate  money.FixedPoint
	submitErr error
}

func (f *fakeAdapter) Name() string { return f.name }
func (f *fakeAdapter) Submit(context.Context, provider.Request) (provider.SubmitResult, error) {
	if f.submitErr != nil {
		return provider.SubmitResult{}, f.submitErr
	}
	return provider.SubmitResult{ExternalID: "ext-1", InitialStatus: provider.RemoteQueued}, nil
}
func (f *fakeAdapter) Status(context.Context, string) (provider.RemoteStatus, error) {
	return provider.RemoteQueued, nil
}
func (f *fakeAdapter) Fetch(context.Context, string) (artifact.Artifact, error) {
	return artifact.Artifact{}, nil
}
func (f *fakeAdapter) Cancel(context.Context, string) bool { return true }
func (f *fakeAdapter) Estimate(context.Context, provider.Request) money.FixedPoint {
	return f.estimate
}
func (f *fakeAdapter) ClassifyError(err error) provider.ErrorClass { return provider.ErrProviderDown }

func setup(t *testing.T, govCfg governor.Config) (*Facade, *memory.Store) {
	t.Helper()
	store := memory.New()
	q := queue.New(store)
	reg := provider.NewRegistry()
	r := router.New(reg, router.DefaultConfig(), nil)
	l := ledger.New(store, nil)
	gov := governor.New(l, govCfg, nil)
	bus := eventbus.New(nil)
	t.Cleanup(bus.Close)
	tokens := idempotency.New(0)
	t.Cleanup(tokens.Close)

	adapters := provider.Set{
		"openai": &fakeAdapter{name: "openai", estimate: money.FromFloat(0.02)},
		"gemini": &fakeAdapter{name: "gemini", estimate: money.FromFloat(0.05)},
	}
	f := New(q, r, adapters, gov, nil, bus, tokens, nil)
	return f, store
}

func TestSubmitPersistsPendingJobOnAllow(t *testing.T) {
	f, _ := setup(t, governor.Config{})
	created, err := f.Submit(context.Background(), SubmitRequest{
		Prompt:         "survey vector databases",
		Mode:           job.ModeFocus,
		ProviderChoice: job.ProviderChoice{Provider: "openai", Model: "gpt-5-mini"},
	})
	require.NoError(t, err)
	require.Equal(t, job.StatusPending, created.Status)
	require.NotNil(t, created.CostEstimate)
}

func TestSubmitDeniesOverPerOpCap(t *testing.T) {
	f, _ := setup(t, governor.Config{PerOpCap: money.FromFloat(0.01)})
	_, err := f.Submit(context.Background(), SubmitRequest{
		Prompt:         "survey vector databases",
		Mode:           job.ModeFocus,
		ProviderChoice: job.ProviderChoice{Provider: "openai", Model: "gpt-5-mini"},
	})
	require.Error(t, err)
}

func TestSubmitIsIdempotentOnRepeatedToken(t *testing.T) {
	f, _ := setup(t, governor.Config{})
	req := SubmitRequest{
		Prompt:           "survey vector databases",
		Mode:             job.ModeFocus,
		ProviderChoice:   job.ProviderChoice{Provider: "openai", Model: "gpt-5-mini"},
		IdempotencyToken: "client-token-1",
	}
	first, err := f.Submit(context.Background(), req)
	require.NoError(t, err)

	second, err := f.Submit(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
}

func TestCancelPendingJobSucceeds(t *testing.T) {
	f, _ := setup(t, governor.Config{})
	created, err := f.Submit(context.Background(), SubmitRequest{
		Prompt:         "survey vector databases",
		Mode:           job.ModeFocus,
		ProviderChoice: job.ProviderChoice{Provider: "openai", Model: "gpt-5-mini"},
	})
	require.NoError(t, err)

	changed, err := f.Cancel(context.Background(), created.ID)
	require.NoError(t, err)
	require.True(t, changed)

	got, err := f.Get(context.Background(), created.ID)
	require.NoError(t, err)
	require.Equal(t, job.StatusCanceled, got.Status)
}

func TestSubmitReturnsNoProviderAvailableWhenAdapterUnset(t *testing.T) {
	f, _ := setup(t, governor.Config{})
	_, err := f.Submit(context.Background(), SubmitRequest{
		Prompt:         "survey vector databases",
		Mode:           job.ModeFocus,
		ProviderChoice: job.ProviderChoice{Provider: "azure", Model: "gpt-5-deep-research"},
	})
	require.Error(t, err)
}
