// Package memory provides in-process storage implementations used when no
// database DSN is configured, and by tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/deepresearch/engine/internal/apperrors"
	"github.com/deepresearch/engine/internal/domain/artifact"
	"github.com/deepresearch/engine/internal/domain/campaign"
	"github.com/deepresearch/engine/internal/domain/cost"
	"github.com/deepresearch/engine/internal/domain/job"
	"github.com/deepresearch/engine/internal/domain/jobevent"
	"github.com/deepresearch/engine/internal/storage"
)

// Store is an in-memory implementation of every storage interface the
// engine defines. Safe for concurrent use.
type Store struct {
	mu        sync.Mutex
	jobs      map[string]job.Job
	artifacts map[string]artifact.Artifact
	costs     []cost.Entry
	campaigns map[string]campaign.Plan
	jobEvents []jobevent.JobEvent
}

func New() *Store {
	return &Store{
		jobs:      make(map[string]job.Job),
		artifacts: make(map[string]artifact.Artifact),
		campaigns: make(map[string]campaign.Plan),
	}
}

var (
	_ storage.JobStore      = (*Store)(nil)
	_ storage.ArtifactStore = (*Store)(nil)
	_ storage.CostStore     = (*Store)(nil)
	_ storage.CampaignStore = (*Store)(nil)
)

func (s *Store) CreateJob(_ context.Context, j job.Job) (job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now().UTC()
	}
	s.jobs[j.ID] = j
	return j, nil
}

func (s *Store) GetJob(_ context.Context, id string) (job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return job.Job{}, apperrors.NotFound("job", id)
	}
	return j, nil
}

func (s *Store) FindJobByIDPrefix(_ context.Context, prefix string) (job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matches []job.Job
	for id, j := range s.jobs {
		if len(id) >= len(prefix) && id[:len(prefix)] == prefix {
			matches = append(matches, j)
		}
	}
	switch len(matches) {
	case 0:
		return job.Job{}, apperrors.NotFound("job", prefix)
	case 1:
		return matches[0], nil
	default:
		return job.Job{}, apperrors.AmbiguousReference(prefix, len(matches))
	}
}

func (s *Store) ListJobs(_ context.Context, filter storage.JobFilter) ([]job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []job.Job
	for _, j := range s.jobs {
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		if filter.Campaign != "" && j.ParentCampaign != filter.Campaign {
			continue
		}
		if !filter.Since.IsZero() && j.CreatedAt.Before(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && j.CreatedAt.After(filter.Until) {
			continue
		}
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].Priority != out[k].Priority {
			return out[i].Priority < out[k].Priority
		}
		return out[i].CreatedAt.Before(out[k].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) CompareAndTransitionJob(_ context.Context, id string, expectedStatus job.Status, next job.Job) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.jobs[id]
	if !ok {
		return false, apperrors.NotFound("job", id)
	}
	if current.Status != expectedStatus {
		return false, nil
	}
	next.ID = id
	s.jobs[id] = next
	return true, nil
}

func (s *Store) AcquireLease(_ context.Context, owner string, ttl time.Duration, limit int) ([]job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	var eligible []job.Job
	for _, j := range s.jobs {
		if j.Status != job.StatusProcessing {
			continue
		}
		if j.LeaseExpiresAt != nil && j.LeaseExpiresAt.After(now) && j.LeaseOwner != owner {
			continue
		}
		eligible = append(eligible, j)
	}
	sort.Slice(eligible, func(i, k int) bool {
		if eligible[i].Priority != eligible[k].Priority {
			return eligible[i].Priority < eligible[k].Priority
		}
		return eligible[i].CreatedAt.Before(eligible[k].CreatedAt)
	})
	if len(eligible) > limit {
		eligible = eligible[:limit]
	}

	claimed := make([]job.Job, 0, len(eligible))
	for _, j := range eligible {
		expires := now.Add(ttl)
		j.LeaseOwner = owner
		j.LeaseExpiresAt = &expires
		s.jobs[j.ID] = j
		claimed = append(claimed, j)
	}
	return claimed, nil
}

func (s *Store) ReleaseLease(_ context.Context, id string, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return apperrors.NotFound("job", id)
	}
	if j.LeaseOwner != owner {
		return nil
	}
	j.LeaseOwner = ""
	j.LeaseExpiresAt = nil
	s.jobs[id] = j
	return nil
}

func (s *Store) DequeuePending(_ context.Context, owner string, limit int) ([]job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []job.Job
	for _, j := range s.jobs {
		if j.Status == job.StatusPending && j.LeaseOwner == "" {
			pending = append(pending, j)
		}
	}
	sort.Slice(pending, func(i, k int) bool {
		if pending[i].Priority != pending[k].Priority {
			return pending[i].Priority < pending[k].Priority
		}
		return pending[i].CreatedAt.Before(pending[k].CreatedAt)
	})
	if len(pending) > limit {
		pending = pending[:limit]
	}
	for i := range pending {
		pending[i].LeaseOwner = owner
		s.jobs[pending[i].ID] = pending[i]
	}
	return pending, nil
}

func (s *Store) AppendJobEvent(_ context.Context, e jobevent.JobEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	s.jobEvents = append(s.jobEvents, e)
	return nil
}

func (s *Store) ListJobEvents(_ context.Context, jobID string) ([]jobevent.JobEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []jobevent.JobEvent
	for _, e := range s.jobEvents {
		if e.JobID == jobID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) SaveArtifact(_ context.Context, a artifact.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	s.artifacts[a.JobID] = a
	return nil
}

func (s *Store) GetArtifact(_ context.Context, jobID string) (artifact.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.artifacts[jobID]
	if !ok {
		return artifact.Artifact{}, apperrors.NotFound("artifact", jobID)
	}
	return a, nil
}

func (s *Store) AppendCost(_ context.Context, e cost.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	s.costs = append(s.costs, e)
	return nil
}

func (s *Store) SumCost(_ context.Context, since time.Time, filter storage.CostFilter) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total float64
	for _, e := range s.costs {
		if e.OccurredAt.Before(since) {
			continue
		}
		if filter.Kind != "" && e.Kind != filter.Kind {
			continue
		}
		if filter.Provider != "" && e.Provider != filter.Provider {
			continue
		}
		if filter.Model != "" && e.Model != filter.Model {
			continue
		}
		total += e.Amount.Float64()
	}
	return total, nil
}

func (s *Store) CreateCampaign(_ context.Context, p campaign.Plan) (campaign.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	s.campaigns[p.ID] = p
	return p, nil
}

func (s *Store) GetCampaign(_ context.Context, id string) (campaign.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.campaigns[id]
	if !ok {
		return campaign.Plan{}, apperrors.NotFound("campaign", id)
	}
	return p, nil
}

func (s *Store) UpdateCampaign(_ context.Context, p campaign.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.campaigns[p.ID]; !ok {
		return apperrors.NotFound("campaign", p.ID)
	}
	s.campaigns[p.ID] = p
	return nil
}

func (s *Store) ListCampaigns(_ context.Context) ([]campaign.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]campaign.Plan, 0, len(s.campaigns))
	for _, p := range s.campaigns {
		out = append(out, p)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out, nil
}
