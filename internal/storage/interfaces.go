// Package storage defines the persistence interfaces for every durable
// aggregate in the engine: Jobs, Artifacts, CostEntries, and CampaignPlans.
// Concrete implementations live in storage/memory and storage/postgres.
package storage

import (
	"context"
	"time"

	"github.com/deepresearch/engine/internal/domain/artifact"
	"github.com/deepresearch/engine/internal/domain/campaign"
	"github.com/deepresearch/engine/internal/domain/cost"
	"github.com/deepresearch/engine/internal/domain/job"
	"github.com/deepresearch/engine/internal/domain/jobevent"
)

// JobFilter narrows JobStore.List.
type JobFilter struct {
	Status   job.Status
	Campaign string
	Since    time.Time
	Until    time.Time
	Limit    int
}

// JobStore persists Jobs with atomic status transitions.
type JobStore interface {
	CreateJob(ctx context.Context, j job.Job) (job.Job, error)
	GetJob(ctx context.Context, id string) (job.Job, error)
	// FindJobByIDPrefix resolves a short id prefix to a unique job, returning
	// apperrors.AmbiguousReference on collision or apperrors.NotFound on zero matches.
	FindJobByIDPrefix(ctx context.Context, prefix string) (job.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]job.Job, error)

	// CompareAndTransitionJob atomically moves a job from expectedStatus to
	// the status recorded on next, applying whatever other fields next
	// carries. It returns false (no error) if the job is no longer in
	// expectedStatus.
	CompareAndTransitionJob(ctx context.Context, id string, expectedStatus job.Status, next job.Job) (bool, error)

	// AcquireLease claims jobs in PROCESSING whose lease has expired (or is
	// unset), up to limit, setting a new lease_owner/lease_expires_at.
	AcquireLease(ctx context.Context, owner string, ttl time.Duration, limit int) ([]job.Job, error)
	ReleaseLease(ctx context.Context, id string, owner string) error

	// DequeuePending claims up to limit PENDING jobs ordered by priority then
	// created_at, atomically marking them claimed by owner so no other
	// submit-worker can take them concurrently.
	DequeuePending(ctx context.Context, owner string, limit int) ([]job.Job, error)

	// AppendJobEvent records one row of the append-only fallback/failure
	// audit trail (§4.3).
	AppendJobEvent(ctx context.Context, e jobevent.JobEvent) error

	// ListJobEvents returns every audit row recorded for a job, ordered by
	// occurred_at ascending.
	ListJobEvents(ctx context.Context, jobID string) ([]jobevent.JobEvent, error)
}

// ArtifactStore persists Artifacts, one per COMPLETED job.
type ArtifactStore interface {
	SaveArtifact(ctx context.Context, a artifact.Artifact) error
	GetArtifact(ctx context.Context, jobID string) (artifact.Artifact, error)
}

// CostStore is the append-only cost ledger.
type CostStore interface {
	AppendCost(ctx context.Context, e cost.Entry) error
	SumCost(ctx context.Context, since time.Time, filter CostFilter) (float64, error)
}

// CostFilter narrows CostStore.SumCost.
type CostFilter struct {
	Provider string
	Model    string
	Kind     cost.Kind
}

// CampaignStore persists CampaignPlans.
type CampaignStore interface {
	CreateCampaign(ctx context.Context, p campaign.Plan) (campaign.Plan, error)
	GetCampaign(ctx context.Context, id string) (campaign.Plan, error)
	UpdateCampaign(ctx context.Context, p campaign.Plan) error
	ListCampaigns(ctx context.Context) ([]campaign.Plan, error)
}
