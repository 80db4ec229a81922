package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/deepresearch/engine/internal/domain/artifact"
	"github.com/deepresearch/engine/internal/domain/campaign"
	"github.com/deepresearch/engine/internal/domain/job"
	"github.com/deepresearch/engine/internal/domain/money"
	"github.com/deepresearch/engine/internal/eventbus"
	"github.com/deepresearch/engine/internal/storage/memory"
)

type fakeSubmitter struct {
	store  *memory.Store
	bus    *eventbus.Bus
	fail   bool
	callCt int
}

func (f *fakeSubmitter) SubmitJob(ctx context.Context, prompt string, mode job.Mode, campaignID string) (job.Job, error) {
	f.callCt++
	completedAt := time.Now().UTC()
	zero := money.FromFloat(0)
	created, err := f.store.CreateJob(ctx, job.Job{
		Prompt:         prompt,
		Mode:           mode,
		ParentCampaign: campaignID,
		Status:         job.StatusCompleted,
		CompletedAt:    &completedAt,
		CostActual:     &zero,
	})
	if err != nil {
		return job.Job{}, err
	}
	if !f.fail {
		_ = f.store.SaveArtifact(ctx, artifact.Artifact{JobID: created.ID, MarkdownBody: "phase result for " + prompt})
	}
	// The real Poller publishes the terminal event long after Submit
	// returns (the provider call is async); delay here so the
	// Orchestrator's WaitForTerminal subscription is registered first.
	go func() {
		time.Sleep(10 * time.Millisecond)
		if f.fail {
			f.bus.Publish(ctx, eventbus.Event{Type: eventbus.JobFailed, JobID: created.ID, Reason: "boom"})
			return
		}
		f.bus.Publish(ctx, eventbus.Event{Type: eventbus.JobCompleted, JobID: created.ID})
	}()
	return created, nil
}

func setup(t *testing.T, fail bool) (*Orchestrator, *memory.Store, *fakeSubmitter) {
	t.Helper()
	store := memory.New()
	bus := eventbus.New(nil)
	t.Cleanup(bus.Close)
	sub := &fakeSubmitter{store: store, bus: bus, fail: fail}
	o := New(store, store, sub, bus, nil)
	return o, store, sub
}

func TestExecuteRunsAllPhasesToCompletion(t *testing.T) {
	o, _, sub := setup(t, false)
	ctx := context.Background()

	plan, err := o.Plan(ctx, "scenario", []campaign.Phase{
		{Title: "phase-1", PromptTemplate: "research X"},
		{Title: "phase-2", PromptTemplate: "research Y", DependsOnContextFromPrior: true},
	})
	require.NoError(t, err)

	result, err := o.Execute(ctx, plan.ID)
	require.NoError(t, err)
	require.Equal(t, campaign.StatusCompleted, result.Status)
	require.Len(t, result.Results, 2)
	require.Equal(t, 2, sub.callCt)
}

func TestExecuteStopsAtReviewGate(t *testing.T) {
	o, _, _ := setup(t, false)
	ctx := context.Background()

	plan, err := o.Plan(ctx, "scenario", []campaign.Phase{
		{Title: "phase-1", PromptTemplate: "research X", ReviewRequired: true},
	})
	require.NoError(t, err)

	result, err := o.Execute(ctx, plan.ID)
	require.NoError(t, err)
	require.Equal(t, campaign.StatusAwaitingReview, result.Status)
	require.Empty(t, result.Results)
}

func TestApproveReviewLetsExecuteProceedPastGate(t *testing.T) {
	o, _, sub := setup(t, false)
	ctx := context.Background()

	plan, err := o.Plan(ctx, "scenario", []campaign.Phase{
		{Title: "phase-1", PromptTemplate: "research X", ReviewRequired: true},
		{Title: "phase-2", PromptTemplate: "research Y"},
	})
	require.NoError(t, err)

	result, err := o.Execute(ctx, plan.ID)
	require.NoError(t, err)
	require.Equal(t, campaign.StatusAwaitingReview, result.Status)
	require.Empty(t, result.Results)

	// Re-entering Execute without approval must re-hit the same gate, not
	// advance the campaign.
	result, err = o.Execute(ctx, plan.ID)
	require.NoError(t, err)
	require.Equal(t, campaign.StatusAwaitingReview, result.Status)
	require.Empty(t, result.Results)

	require.NoError(t, o.ApproveReview(ctx, plan.ID))
	require.NoError(t, o.Resume(ctx, plan.ID))

	result, err = o.Execute(ctx, plan.ID)
	require.NoError(t, err)
	require.Equal(t, campaign.StatusCompleted, result.Status)
	require.Len(t, result.Results, 2)
	require.Equal(t, 2, sub.callCt)
}

func TestExecuteHonorsPauseAtPhaseBoundary(t *testing.T) {
	o, store, _ := setup(t, false)
	ctx := context.Background()

	plan, err := o.Plan(ctx, "scenario", []campaign.Phase{
		{Title: "phase-1", PromptTemplate: "research X"},
		{Title: "phase-2", PromptTemplate: "research Y"},
	})
	require.NoError(t, err)
	require.NoError(t, o.Pause(ctx, plan.ID))

	result, err := o.Execute(ctx, plan.ID)
	require.NoError(t, err)
	require.Equal(t, campaign.StatusPaused, result.Status)
	require.Empty(t, result.Results)

	stored, err := store.GetCampaign(ctx, plan.ID)
	require.NoError(t, err)
	require.True(t, stored.PauseRequested)
}

func TestExecuteMarksFailedOnPhaseJobFailure(t *testing.T) {
	o, _, _ := setup(t, true)
	ctx := context.Background()

	plan, err := o.Plan(ctx, "scenario", []campaign.Phase{
		{Title: "phase-1", PromptTemplate: "research X"},
	})
	require.NoError(t, err)

	result, err := o.Execute(ctx, plan.ID)
	require.NoError(t, err)
	require.Equal(t, campaign.StatusFailed, result.Status)
	require.Equal(t, 0, result.FailedPhase)
}

func TestSynthesizeRequiresCompletedCampaign(t *testing.T) {
	o, _, _ := setup(t, false)
	ctx := context.Background()

	plan, err := o.Plan(ctx, "scenario", []campaign.Phase{{Title: "phase-1", PromptTemplate: "research X"}})
	require.NoError(t, err)

	_, err = o.Synthesize(ctx, plan.ID)
	require.Error(t, err)
}
