package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepresearch/engine/internal/apperrors"
	"github.com/deepresearch/engine/internal/domain/cost"
	"github.com/deepresearch/engine/internal/domain/job"
	"github.com/deepresearch/engine/internal/domain/money"
	"github.com/deepresearch/engine/internal/storage"
)

func costEntry(provider string, amount float64, occurredAt time.Time) cost.Entry {
	return cost.Entry{
		Provider:   provider,
		Kind:       cost.KindRealized,
		Amount:     money.FromFloat(amount),
		OccurredAt: occurredAt,
	}
}

func TestCreateAndGetJob(t *testing.T) {
	s := New()
	ctx := context.Background()

	created, err := s.CreateJob(ctx, job.Job{Prompt: "hi", Status: job.StatusPending, Priority: 1})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	got, err := s.GetJob(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "hi", got.Prompt)
}

func TestFindJobByIDPrefixAmbiguous(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.CreateJob(ctx, job.Job{ID: "abc111", Prompt: "a", Status: job.StatusPending})
	require.NoError(t, err)
	_, err = s.CreateJob(ctx, job.Job{ID: "abc222", Prompt: "b", Status: job.StatusPending})
	require.NoError(t, err)

	_, err = s.FindJobByIDPrefix(ctx, "abc")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindAmbiguousReference))

	got, err := s.FindJobByIDPrefix(ctx, "abc1")
	require.NoError(t, err)
	assert.Equal(t, "abc111", got.ID)
}

func TestCompareAndTransitionJobRejectsStaleExpectation(t *testing.T) {
	s := New()
	ctx := context.Background()

	created, err := s.CreateJob(ctx, job.Job{Prompt: "p", Status: job.StatusPending})
	require.NoError(t, err)

	ok, err := s.CompareAndTransitionJob(ctx, created.ID, job.StatusProcessing, job.Job{Status: job.StatusCompleted})
	require.NoError(t, err)
	assert.False(t, ok, "transition should be rejected when the current status does not match expectedStatus")

	ok, err = s.CompareAndTransitionJob(ctx, created.ID, job.StatusPending, job.Job{Status: job.StatusProcessing})
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.GetJob(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusProcessing, got.Status)
}

func TestDequeuePendingOrdersByPriorityThenCreatedAt(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	low, _ := s.CreateJob(ctx, job.Job{Prompt: "low", Status: job.StatusPending, Priority: 5, CreatedAt: now})
	high, _ := s.CreateJob(ctx, job.Job{Prompt: "high", Status: job.StatusPending, Priority: 1, CreatedAt: now.Add(time.Second)})

	claimed, err := s.DequeuePending(ctx, "worker-1", 10)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, high.ID, claimed[0].ID)
	assert.Equal(t, low.ID, claimed[1].ID)
}

func TestAcquireLeaseOrdersByPriorityThenCreatedAt(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	// Deliberately create the lower-priority (numerically higher) job with an
	// ID that would sort first alphabetically, to catch a regression back to
	// ordering by map key instead of priority/created_at.
	low, _ := s.CreateJob(ctx, job.Job{ID: "aaa", Prompt: "low", Status: job.StatusProcessing, Priority: 5, CreatedAt: now})
	high, _ := s.CreateJob(ctx, job.Job{ID: "zzz", Prompt: "high", Status: job.StatusProcessing, Priority: 1, CreatedAt: now.Add(time.Second)})

	claimed, err := s.AcquireLease(ctx, "poller-1", time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, high.ID, claimed[0].ID)
	assert.Equal(t, low.ID, claimed[1].ID)
}

func TestCostLedgerSumFiltersByKindAndWindow(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.AppendCost(ctx, costEntry("openai", 1.0, now.Add(-time.Hour))))
	require.NoError(t, s.AppendCost(ctx, costEntry("openai", 2.0, now)))

	total, err := s.SumCost(ctx, now.Add(-time.Minute), storage.CostFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2.0, total, "only the entry within the window should count")
}
