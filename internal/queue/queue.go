// Package queue implements the Job Queue: the durable, single-writer-per-job
// state machine that sits in front of storage.JobStore. It is the only
// component permitted to change a Job's status; every other component
// treats status as read-only and goes through here.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/deepresearch/engine/internal/apperrors"
	"github.com/deepresearch/engine/internal/domain/job"
	"github.com/deepresearch/engine/internal/domain/jobevent"
	"github.com/deepresearch/engine/internal/domain/money"
	"github.com/deepresearch/engine/internal/storage"
)

// MaxFallback caps provider submissions per job: a PROCESSING job may fall
// back to PENDING only while its Attempts (incremented by every
// BeginProcessing) is below MaxFallback, so a job gets at most MaxFallback-1
// fallbacks before the next failure is terminal.
const MaxFallback = 3

// FailureClass classifies why an adapter call failed, driving fallback vs.
// terminal-failure decisions. Mirrors the Router's error classification.
type FailureClass string

const (
	FailureTransient    FailureClass = "TRANSIENT"
	FailureRateLimit    FailureClass = "RATE_LIMIT"
	FailureProviderDown FailureClass = "PROVIDER_DOWN"
	FailureFatal        FailureClass = "FATAL"
)

// Fallbackable reports whether this failure class permits a PROCESSING ->
// PENDING fallback transition (subject to the attempts cap).
func (c FailureClass) Fallbackable() bool {
	switch c {
	case FailureTransient, FailureRateLimit, FailureProviderDown:
		return true
	default:
		return false
	}
}

// Queue wraps a storage.JobStore with the state-machine transition rules.
type Queue struct {
	jobs storage.JobStore
}

// New builds a Queue over the given job store.
func New(jobs storage.JobStore) *Queue {
	return &Queue{jobs: jobs}
}

// Submit enqueues a new job in PENDING.
func (q *Queue) Submit(ctx context.Context, j job.Job) (job.Job, error) {
	j.Status = job.StatusPending
	j.CreatedAt = now()
	if err := j.Validate(); err != nil {
		return job.Job{}, apperrors.Wrap(apperrors.KindInvalidRequest, "invalid job", err)
	}
	return q.jobs.CreateJob(ctx, j)
}

// Dequeue claims up to limit PENDING jobs for a submit-worker, ordered by
// priority then created_at.
func (q *Queue) Dequeue(ctx context.Context, owner string, limit int) ([]job.Job, error) {
	return q.jobs.DequeuePending(ctx, owner, limit)
}

// BeginProcessing transitions a claimed PENDING job to PROCESSING, recording
// the Router's choice of provider/model and the adapter's external_id.
func (q *Queue) BeginProcessing(ctx context.Context, id, provider, model, externalID string) (bool, error) {
	current, err := q.jobs.GetJob(ctx, id)
	if err != nil {
		return false, err
	}
	if current.Status != job.StatusPending {
		return false, apperrors.QueueConflict(fmt.Sprintf("job %s is not PENDING (is %s)", id, current.Status))
	}
	submittedAt := now()
	next := current
	next.Status = job.StatusProcessing
	next.ChosenProvider = provider
	next.ChosenModel = model
	next.ExternalID = externalID
	next.SubmittedAt = &submittedAt
	next.Attempts = current.Attempts + 1
	return q.jobs.CompareAndTransitionJob(ctx, id, job.StatusPending, next)
}

// Fallback reverts a PROCESSING job to PENDING so the Router can retry it
// against a different provider. Requires attempts < MaxFallback and a
// fallback-eligible failure class; otherwise the job is terminally FAILED.
// Every outcome appends a JobEvent audit row recording the attempt, per
// §4.3's append-only per-job event log.
func (q *Queue) Fallback(ctx context.Context, id string, class FailureClass, reason string) (bool, error) {
	current, err := q.jobs.GetJob(ctx, id)
	if err != nil {
		return false, err
	}
	if current.Status != job.StatusProcessing {
		return false, apperrors.QueueConflict(fmt.Sprintf("job %s is not PROCESSING (is %s)", id, current.Status))
	}
	if !class.Fallbackable() || current.Attempts >= MaxFallback {
		_, err := q.failLocked(ctx, current, class, reason)
		return false, err
	}
	next := current
	next.Status = job.StatusPending
	next.ChosenProvider = ""
	next.ChosenModel = ""
	next.ExternalID = ""
	next.SubmittedAt = nil
	ok, err := q.jobs.CompareAndTransitionJob(ctx, id, job.StatusProcessing, next)
	if err == nil && ok {
		q.appendEvent(ctx, current, class, reason)
	}
	return ok, err
}

// Complete transitions a PROCESSING job to COMPLETED, recording the realized
// cost. The caller (Poller) is responsible for writing the Artifact in the
// same logical step; storage backends commit both in one transaction.
func (q *Queue) Complete(ctx context.Context, id string, costActual money.FixedPoint) (bool, error) {
	current, err := q.jobs.GetJob(ctx, id)
	if err != nil {
		return false, err
	}
	if current.Status != job.StatusProcessing {
		return false, apperrors.QueueConflict(fmt.Sprintf("job %s is not PROCESSING (is %s)", id, current.Status))
	}
	completedAt := now()
	next := current
	next.Status = job.StatusCompleted
	next.CompletedAt = &completedAt
	next.CostActual = &costActual
	return q.jobs.CompareAndTransitionJob(ctx, id, job.StatusProcessing, next)
}

// Fail terminally fails a PROCESSING job.
func (q *Queue) Fail(ctx context.Context, id, reason string) (bool, error) {
	current, err := q.jobs.GetJob(ctx, id)
	if err != nil {
		return false, err
	}
	if current.Status != job.StatusProcessing {
		return false, apperrors.QueueConflict(fmt.Sprintf("job %s is not PROCESSING (is %s)", id, current.Status))
	}
	return q.failLocked(ctx, current, FailureFatal, reason)
}

// FailPending terminally fails a job still in PENDING, for the
// submit-worker's "no provider available / every candidate rejected"
// path — a transition the state diagram in §4.3 doesn't name explicitly,
// since the spec only discusses PROCESSING -> FAILED, but one the engine
// needs: a job can exhaust every fallback candidate without ever reaching
// PROCESSING.
func (q *Queue) FailPending(ctx context.Context, id, reason string) (bool, error) {
	current, err := q.jobs.GetJob(ctx, id)
	if err != nil {
		return false, err
	}
	if current.Status != job.StatusPending {
		return false, apperrors.QueueConflict(fmt.Sprintf("job %s is not PENDING (is %s)", id, current.Status))
	}
	completedAt := now()
	next := current
	next.Status = job.StatusFailed
	next.CompletedAt = &completedAt
	if next.Metadata == nil {
		next.Metadata = map[string]string{}
	}
	next.Metadata["failure_reason"] = reason
	ok, err := q.jobs.CompareAndTransitionJob(ctx, id, job.StatusPending, next)
	if err == nil && ok {
		q.appendEvent(ctx, current, FailureFatal, reason)
	}
	return ok, err
}

func (q *Queue) failLocked(ctx context.Context, current job.Job, class FailureClass, reason string) (bool, error) {
	completedAt := now()
	next := current
	next.Status = job.StatusFailed
	next.CompletedAt = &completedAt
	if next.Metadata == nil {
		next.Metadata = map[string]string{}
	}
	next.Metadata["failure_reason"] = reason
	ok, err := q.jobs.CompareAndTransitionJob(ctx, current.ID, job.StatusProcessing, next)
	if err == nil && ok {
		q.appendEvent(ctx, current, class, reason)
	}
	return ok, err
}

// appendEvent records a best-effort audit row for a fallback/failure
// transition. A logging failure here must not fail the state transition
// that already committed, so the error is dropped.
func (q *Queue) appendEvent(ctx context.Context, current job.Job, class FailureClass, reason string) {
	_ = q.jobs.AppendJobEvent(ctx, jobevent.JobEvent{
		JobID:      current.ID,
		Provider:   current.ChosenProvider,
		Model:      current.ChosenModel,
		ErrorKind:  string(class),
		Reason:     reason,
		OccurredAt: now(),
	})
}

// Cancel moves a job to CANCELED from either PENDING or PROCESSING. The
// caller is responsible for the best-effort provider-side cancel before
// invoking this for jobs in PROCESSING; the transition happens regardless of
// whether that call succeeded.
func (q *Queue) Cancel(ctx context.Context, id string) (bool, error) {
	current, err := q.jobs.GetJob(ctx, id)
	if err != nil {
		return false, err
	}
	if current.Status.Terminal() {
		return false, nil
	}
	completedAt := now()
	next := current
	next.Status = job.StatusCanceled
	next.CompletedAt = &completedAt
	return q.jobs.CompareAndTransitionJob(ctx, id, current.Status, next)
}

// AcquireLeases claims PROCESSING jobs whose lease has expired (or is
// unset), for the Poller.
func (q *Queue) AcquireLeases(ctx context.Context, owner string, ttl time.Duration, limit int) ([]job.Job, error) {
	return q.jobs.AcquireLease(ctx, owner, ttl, limit)
}

// ReleaseLease releases a lease held by owner, e.g. when a job is still
// running and the Poller schedules the next poll.
func (q *Queue) ReleaseLease(ctx context.Context, id, owner string) error {
	return q.jobs.ReleaseLease(ctx, id, owner)
}

// Get resolves a job by full id.
func (q *Queue) Get(ctx context.Context, id string) (job.Job, error) {
	return q.jobs.GetJob(ctx, id)
}

// Resolve resolves a job by full id or unambiguous short prefix.
func (q *Queue) Resolve(ctx context.Context, idOrPrefix string) (job.Job, error) {
	return q.jobs.FindJobByIDPrefix(ctx, idOrPrefix)
}

// List lists jobs matching filter.
func (q *Queue) List(ctx context.Context, filter storage.JobFilter) ([]job.Job, error) {
	return q.jobs.ListJobs(ctx, filter)
}

// Events returns the append-only fallback/failure audit trail for a job,
// ordered oldest first.
func (q *Queue) Events(ctx context.Context, jobID string) ([]jobevent.JobEvent, error) {
	return q.jobs.ListJobEvents(ctx, jobID)
}

var now = time.Now
