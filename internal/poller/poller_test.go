package poller

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
	"github.com/deepresearch/engine/internal/ledger"
	"github.com/deepresearch/engine/internal/provider"
	"github.com/deepresearch/engine/internal/queue"
	"github.com/deepresearch/engine/internal/router"
	"github.com/deepresearch/engine/internal/storage/memory"
)

type fakeAdapter struct {
	name    string
	status  provider.RemoteStatus
	art     artifact.Artifact
	fetched int
	failErr error
}

func (f *fakeAdapter) Name() string { return f.name }
func (f *fakeAdapter) Submit(context.Context, provider.Request) (provider.SubmitResult, error) {
	return provider.SubmitResult{}, nil
}
func (f *fakeAdapter) Status(context.Context, string) (provider.RemoteStatus, error) {
	if f.failErr != nil {
		return "", f.failErr
	}
	return f.status, nil
}
func (f *fakeAdapter) Fetch(context.Context, string) (artifact.Artifact, error) {
	f.fetched++
	return f.art, nil
}
func (f *fakeAdapter) Cancel(context.Context, string) bool        { return true }
func (f *fakeAdapter) Estimate(context.Context, provider.Request) money.FixedPoint { return 0 }
func (f *fakeAdapter) ClassifyError(err error) provider.ErrorClass { return provider.ErrProviderDown }

func setup(t *testing.T, adapter *fakeAdapter) (*Poller, *queue.Queue) {
	t.Helper()
	store := memory.New()
	q := queue.New(store)
	r := router.New(provider.NewRegistry(), router.DefaultConfig(), nil)
	l := ledger.New(store, nil)
	artifacts := artifactstore.New(store, t.TempDir(), nil)
	bus := eventbus.New(nil)
	t.Cleanup(bus.Close)

	adapters := provider.Set{adapter.name: adapter}
	p := New("poller-test", q, r, adapters, provider.NewRegistry(), l, artifacts, bus, nil)
	return p, q
}

func submitProcessingJob(t *testing.T, q *queue.Queue, providerName, model string) job.Job {
	t.Helper()
	ctx := context.Background()
	created, err := q.Submit(ctx, job.Job{Prompt: "what is 2+2?", Mode: job.ModeFocus})
	require.NoError(t, err)
	ok, err := q.BeginProcessing(ctx, created.ID, providerName, model, "ext-1")
	require.NoError(t, err)
	require.True(t, ok)
	got, err := q.Get(ctx, created.ID)
	require.NoError(t, err)
	return got
}

func TestReconcileDrainsSucceededJob(t *testing.T) {
	adapter := &fakeAdapter{
		name:   "openai",
		status: provider.RemoteSucceeded,
		art:    artifact.Artifact{MarkdownBody: "4", TokenUsage: artifact.TokenUsage{Input: 10, Output: 2}},
	}
	p, q := setup(t, adapter)
	j := submitProcessingJob(t, q, "openai", "gpt-5-mini")

	p.reconcile(context.Background(), j)

	got, err := q.Get(context.Background(), j.ID)
	require.NoError(t, err)
	require.Equal(t, job.StatusCompleted, got.Status)
	require.NotNil(t, got.CostActual)
	require.Equal(t, 1, adapter.fetched)
}

func TestReconcileFallsBackOnProviderDown(t *testing.T) {
	adapter := &fakeAdapter{name: "openai", failErr: errors.New("boom")}
	p, q := setup(t, adapter)
	j := submitProcessingJob(t, q, "openai", "gpt-5-mini")

	p.reconcile(context.Background(), j)

	got, err := q.Get(context.Background(), j.ID)
	require.NoError(t, err)
	require.Equal(t, job.StatusPending, got.Status)
	require.Equal(t, 1, got.Attempts)
}

func TestReconcileMarksTimeoutAfterMaxRuntime(t *testing.T) {
	adapter := &fakeAdapter{name: "openai", status: provider.RemoteRunning}
	p, q := setup(t, adapter)
	j := submitProcessingJob(t, q, "openai", "gpt-5-mini")
	p.maxRuntime = time.Millisecond
	time.Sleep(2 * time.Millisecond)

	p.reconcile(context.Background(), j)

	got, err := q.Get(context.Background(), j.ID)
	require.NoError(t, err)
	require.Equal(t, job.StatusFailed, got.Status)
}
