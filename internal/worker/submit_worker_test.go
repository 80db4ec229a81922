package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/deepresearch/engine/internal/artifactstore"
	"github.com/deepresearch/engine/internal/domain/artifact"
	"github.com/deepresearch/engine/internal/domain/job"
	"github.com/deepresearch/engine/internal/domain/money"
	"github.com/deepresearch/engine/internal/eventbus"
	"github.com/deepresearch/engine/internal/governor"
	"github.com/deepresearch/engine/internal/ledger"
	"github.com/deepresearch/engine/internal/provider"
	"github.com/deepresearch/engine/internal/queue"
	"github.com/deepresearch/engine/internal/router"
	"github.com/deepresearch/engine/internal/storage/memory"
)

type fakeAdapter struct {
	name      string
	result    provider.SubmitResult
	submitErr error
	calls     int
}

func (f *fakeAdapter) Name() string { return f.name }
func (f *fakeAdapter) Submit(context.Context, provider.Request) (provider.SubmitResult, error) {
	f.calls++
	if f.submitErr != nil {
		return provider.SubmitResult{}, f.submitErr
	}
	return f.result, nil
}
func (f *fakeAdapter) Status(context.Context, string) (provider.RemoteStatus, error) {
	return provider.RemoteQueued, nil
}
func (f *fakeAdapter) Fetch(context.Context, string) (artifact.Artifact, error) {
	return artifact.Artifact{}, nil
}
func (f *fakeAdapter) Cancel(context.Context, string) bool { return true }
func (f *fakeAdapter) Estimate(context.Context, provider.Request) money.FixedPoint {
	return money.FromFloat(0.01)
}
func (f *fakeAdapter) ClassifyError(err error) provider.ErrorClass { return provider.ErrProviderDown }

func setup(t *testing.T, adapters provider.Set) (*SubmitWorker, *queue.Queue, *eventbus.Bus) {
	t.Helper()
	store := memory.New()
	q := queue.New(store)
	reg := provider.NewRegistry()
	r := router.New(reg, router.DefaultConfig(), nil)
	l := ledger.New(store, nil)
	gov := governor.New(l, governor.Config{}, nil)
	artifacts := artifactstore.New(store, t.TempDir(), nil)
	bus := eventbus.New(nil)
	t.Cleanup(bus.Close)

	w := New("worker-test", q, r, adapters, reg, gov, l, artifacts, bus, nil)
	return w, q, bus
}

func submitPending(t *testing.T, q *queue.Queue, mode job.Mode, choice job.ProviderChoice) job.Job {
	t.Helper()
	created, err := q.Submit(context.Background(), job.Job{Prompt: "research quantum annealing", Mode: mode, ProviderChoice: choice})
	require.NoError(t, err)
	return created
}

func TestDispatchMovesAsyncJobToProcessing(t *testing.T) {
	adapter := &fakeAdapter{
		name:   "gemini",
		result: provider.SubmitResult{ExternalID: "ext-123", InitialStatus: provider.RemoteQueued},
	}
	w, q, _ := setup(t, provider.Set{"gemini": adapter})
	j := submitPending(t, q, job.ModeFocus, job.ProviderChoice{Provider: "gemini", Model: "gemini-2.5-deep-research"})

	w.dispatch(context.Background(), j)

	got, err := q.Get(context.Background(), j.ID)
	require.NoError(t, err)
	require.Equal(t, job.StatusProcessing, got.Status)
	require.Equal(t, "gemini", got.ChosenProvider)
	require.Equal(t, "gemini-2.5-deep-research", got.ChosenModel)
	require.Equal(t, "ext-123", got.ExternalID)
	require.Equal(t, 1, adapter.calls)
}

func TestDispatchCompletesSynchronousProviderInline(t *testing.T) {
	art := artifact.Artifact{MarkdownBody: "the answer is 42", TokenUsage: artifact.TokenUsage{Input: 100, Output: 20}}
	adapter := &fakeAdapter{
		name: "openai",
		result: provider.SubmitResult{
			ExternalID:        "ext-sync-1",
			InitialStatus:     provider.RemoteSucceeded,
			SynchronousResult: &art,
		},
	}
	w, q, bus := setup(t, provider.Set{"openai": adapter})
	events, unsubscribe := bus.Subscribe(eventbus.Filter{Types: []eventbus.Type{eventbus.JobCompleted}})
	defer unsubscribe()

	j := submitPending(t, q, job.ModeFocus, job.ProviderChoice{Provider: "openai", Model: "gpt-5-mini"})

	w.dispatch(context.Background(), j)

	got, err := q.Get(context.Background(), j.ID)
	require.NoError(t, err)
	require.Equal(t, job.StatusCompleted, got.Status)
	require.NotNil(t, got.CostActual)
	require.True(t, got.CostActual.GreaterThan(money.FromFloat(0)))

	select {
	case evt := <-events:
		require.Equal(t, j.ID, evt.JobID)
	case <-time.After(time.Second):
		t.Fatal("expected a JobCompleted event to have been published")
	}
}

func TestDispatchFailsJobWhenCandidateHasNoAdapter(t *testing.T) {
	w, q, _ := setup(t, provider.Set{}) // no adapters configured at all
	j := submitPending(t, q, job.ModeFocus, job.ProviderChoice{Provider: "openai", Model: "gpt-5-mini"})

	w.dispatch(context.Background(), j)

	got, err := q.Get(context.Background(), j.ID)
	require.NoError(t, err)
	require.Equal(t, job.StatusFailed, got.Status)
	require.Equal(t, "every candidate in the fallback chain rejected submission", got.Metadata["failure_reason"])
}

func TestDispatchFailsJobWhenAdapterSubmitErrors(t *testing.T) {
	adapter := &fakeAdapter{name: "openai", submitErr: errors.New("rate limited")}
	w, q, _ := setup(t, provider.Set{"openai": adapter})
	j := submitPending(t, q, job.ModeFocus, job.ProviderChoice{Provider: "openai", Model: "gpt-5-mini"})

	w.dispatch(context.Background(), j)

	got, err := q.Get(context.Background(), j.ID)
	require.NoError(t, err)
	require.Equal(t, job.StatusFailed, got.Status)
	require.Equal(t, 1, adapter.calls)
}

func TestDispatchFailsJobWhenGovernorDeniesEveryCandidate(t *testing.T) {
	adapter := &fakeAdapter{name: "openai"}
	store := memory.New()
	q := queue.New(store)
	reg := provider.NewRegistry()
	r := router.New(reg, router.DefaultConfig(), nil)
	l := ledger.New(store, nil)
	gov := governor.New(l, governor.Config{PerOpCap: money.FromFloat(0.001)}, nil)
	artifacts := artifactstore.New(store, t.TempDir(), nil)
	bus := eventbus.New(nil)
	t.Cleanup(bus.Close)
	w := New("worker-test", q, r, provider.Set{"openai": adapter}, reg, gov, l, artifacts, bus, nil)

	j := submitPending(t, q, job.ModeFocus, job.ProviderChoice{Provider: "openai", Model: "gpt-5-mini"})
	w.dispatch(context.Background(), j)

	got, err := q.Get(context.Background(), j.ID)
	require.NoError(t, err)
	require.Equal(t, job.StatusFailed, got.Status)
	require.Equal(t, 0, adapter.calls)
}

func TestTickDrainsMultiplePendingJobs(t *testing.T) {
	adapter := &fakeAdapter{
		name:   "gemini",
		result: provider.SubmitResult{ExternalID: "ext-1", InitialStatus: provider.RemoteQueued},
	}
	w, q, _ := setup(t, provider.Set{"gemini": adapter})
	choice := job.ProviderChoice{Provider: "gemini", Model: "gemini-2.5-deep-research"}
	j1 := submitPending(t, q, job.ModeFocus, choice)
	j2 := submitPending(t, q, job.ModeFocus, choice)

	w.tick(context.Background())

	got1, err := q.Get(context.Background(), j1.ID)
	require.NoError(t, err)
	got2, err := q.Get(context.Background(), j2.ID)
	require.NoError(t, err)
	require.Equal(t, job.StatusProcessing, got1.Status)
	require.Equal(t, job.StatusProcessing, got2.Status)
	require.Equal(t, 2, adapter.calls)
}
