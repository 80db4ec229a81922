// Package postgres implements the storage interfaces backed by PostgreSQL
// via database/sql and lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/deepresearch/engine/internal/apperrors"
	"github.com/deepresearch/engine/internal/domain/artifact"
	"github.com/deepresearch/engine/internal/domain/campaign"
	"github.com/deepresearch/engine/internal/domain/cost"
	"github.com/deepresearch/engine/internal/domain/job"
	"github.com/deepresearch/engine/internal/domain/jobevent"
	"github.com/deepresearch/engine/internal/domain/money"
	"github.com/deepresearch/engine/internal/storage"
)

// Store implements the engine's storage interfaces backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var (
	_ storage.JobStore      = (*Store)(nil)
	_ storage.ArtifactStore = (*Store)(nil)
	_ storage.CostStore     = (*Store)(nil)
	_ storage.CampaignStore = (*Store)(nil)
)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// --- JobStore ----------------------------------------------------------

func (s *Store) CreateJob(ctx context.Context, j job.Job) (job.Job, error) {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now().UTC()
	}
	metadataJSON, err := json.Marshal(j.Metadata)
	if err != nil {
		return job.Job{}, err
	}
	toolsJSON, err := json.Marshal(j.Tools)
	if err != nil {
		return job.Job{}, err
	}
	contextRefsJSON, err := json.Marshal(j.ContextRefs)
	if err != nil {
		return job.Job{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (
			id, prompt, mode, provider_choice_provider, provider_choice_model,
			status, priority, created_at, attempts, tools, context_refs,
			parent_campaign, metadata
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, j.ID, j.Prompt, j.Mode, j.ProviderChoice.Provider, j.ProviderChoice.Model,
		j.Status, j.Priority, j.CreatedAt, j.Attempts, toolsJSON, contextRefsJSON,
		nullString(j.ParentCampaign), metadataJSON)
	if err != nil {
		return job.Job{}, err
	}
	return j, nil
}

func (s *Store) GetJob(ctx context.Context, id string) (job.Job, error) {
	row := s.db.QueryRowContext(ctx, jobSelectColumns+` FROM jobs WHERE id = $1`, id)
	return scanJob(row)
}

func (s *Store) FindJobByIDPrefix(ctx context.Context, prefix string) (job.Job, error) {
	rows, err := s.db.QueryContext(ctx, jobSelectColumns+` FROM jobs WHERE id LIKE $1 || '%' LIMIT 2`, prefix)
	if err != nil {
		return job.Job{}, err
	}
	defer rows.Close()

	var matches []job.Job
	for rows.Next() {
		j, err := scanJobRows(rows)
		if err != nil {
			return job.Job{}, err
		}
		matches = append(matches, j)
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

func (s *Store) ListJobs(ctx context.Context, filter storage.JobFilter) ([]job.Job, error) {
	query := jobSelectColumns + ` FROM jobs WHERE 1=1`
	var args []interface{}
	argn := 1

	if filter.Status != "" {
		query += placeholder(&argn, " AND status = $%d")
		args = append(args, filter.Status)
	}
	if filter.Campaign != "" {
		query += placeholder(&argn, " AND parent_campaign = $%d")
		args = append(args, filter.Campaign)
	}
	if !filter.Since.IsZero() {
		query += placeholder(&argn, " AND created_at >= $%d")
		args = append(args, filter.Since)
	}
	if !filter.Until.IsZero() {
		query += placeholder(&argn, " AND created_at <= $%d")
		args = append(args, filter.Until)
	}
	query += ` ORDER BY priority ASC, created_at ASC`
	if filter.Limit > 0 {
		query += placeholder(&argn, " LIMIT $%d")
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []job.Job
	for rows.Next() {
		j, err := scanJobRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *Store) CompareAndTransitionJob(ctx context.Context, id string, expectedStatus job.Status, next job.Job) (bool, error) {
	metadataJSON, err := json.Marshal(next.Metadata)
	if err != nil {
		return false, err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET
			status = $3, chosen_provider = $4, chosen_model = $5, external_id = $6,
			submitted_at = $7, completed_at = $8, attempts = $9,
			cost_estimate = $10, cost_actual = $11, metadata = $12,
			lease_owner = $13, lease_expires_at = $14
		WHERE id = $1 AND status = $2
	`, id, expectedStatus, next.Status, nullString(next.ChosenProvider), nullString(next.ChosenModel),
		nullString(next.ExternalID), next.SubmittedAt, next.CompletedAt, next.Attempts,
		fixedPointPtr(next.CostEstimate), fixedPointPtr(next.CostActual), metadataJSON,
		nullString(next.LeaseOwner), next.LeaseExpiresAt)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (s *Store) AcquireLease(ctx context.Context, owner string, ttl time.Duration, limit int) ([]job.Job, error) {
	now := time.Now().UTC()
	expires := now.Add(ttl)

	rows, err := s.db.QueryContext(ctx, `
		UPDATE jobs SET lease_owner = $1, lease_expires_at = $2
		WHERE id IN (
			SELECT id FROM jobs
			WHERE status = 'PROCESSING' AND (lease_expires_at IS NULL OR lease_expires_at < $3)
			ORDER BY priority ASC, created_at ASC
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns, owner, expires, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var claimed []job.Job
	for rows.Next() {
		j, err := scanJobRows(rows)
		if err != nil {
			return nil, err
		}
		claimed = append(claimed, j)
	}
	return claimed, rows.Err()
}

func (s *Store) ReleaseLease(ctx context.Context, id string, owner string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET lease_owner = NULL, lease_expires_at = NULL
		WHERE id = $1 AND lease_owner = $2
	`, id, owner)
	return err
}

func (s *Store) DequeuePending(ctx context.Context, owner string, limit int) ([]job.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE jobs SET lease_owner = $1
		WHERE id IN (
			SELECT id FROM jobs
			WHERE status = 'PENDING' AND lease_owner IS NULL
			ORDER BY priority ASC, created_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns, owner, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []job.Job
	for rows.Next() {
		j, err := scanJobRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *Store) AppendJobEvent(ctx context.Context, e jobevent.JobEvent) error {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_events (job_id, provider, model, error_kind, reason, occurred_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, e.JobID, e.Provider, e.Model, e.ErrorKind, e.Reason, e.OccurredAt)
	return err
}

func (s *Store) ListJobEvents(ctx context.Context, jobID string) ([]jobevent.JobEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT job_id, provider, model, error_kind, reason, occurred_at
		FROM job_events WHERE job_id = $1 ORDER BY occurred_at ASC
	`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []jobevent.JobEvent
	for rows.Next() {
		var e jobevent.JobEvent
		if err := rows.Scan(&e.JobID, &e.Provider, &e.Model, &e.ErrorKind, &e.Reason, &e.OccurredAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- ArtifactStore -------------------------------------------------------

func (s *Store) SaveArtifact(ctx context.Context, a artifact.Artifact) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	citationsJSON, err := json.Marshal(a.Citations)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO artifacts (
			job_id, markdown_body, citations, tokens_input, tokens_output,
			tokens_reasoning, provider_raw, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (job_id) DO NOTHING
	`, a.JobID, a.MarkdownBody, citationsJSON, a.TokenUsage.Input, a.TokenUsage.Output,
		a.TokenUsage.Reasoning, a.ProviderRaw, a.CreatedAt)
	return err
}

func (s *Store) GetArtifact(ctx context.Context, jobID string) (artifact.Artifact, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT job_id, markdown_body, citations, tokens_input, tokens_output,
			tokens_reasoning, provider_raw, created_at
		FROM artifacts WHERE job_id = $1
	`, jobID)

	var (
		a             artifact.Artifact
		citationsJSON []byte
	)
	if err := row.Scan(&a.JobID, &a.MarkdownBody, &citationsJSON, &a.TokenUsage.Input,
		&a.TokenUsage.Output, &a.TokenUsage.Reasoning, &a.ProviderRaw, &a.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return artifact.Artifact{}, apperrors.NotFound("artifact", jobID)
		}
		return artifact.Artifact{}, err
	}
	if len(citationsJSON) > 0 {
		_ = json.Unmarshal(citationsJSON, &a.Citations)
	}
	return a, nil
}

// --- CostStore -----------------------------------------------------------

func (s *Store) AppendCost(ctx context.Context, e cost.Entry) error {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cost_entries (job_id, provider, model, kind, amount, tokens_in, tokens_out, occurred_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, e.JobID, e.Provider, e.Model, e.Kind, int64(e.Amount), e.TokensIn, e.TokensOut, e.OccurredAt)
	return err
}

func (s *Store) SumCost(ctx context.Context, since time.Time, filter storage.CostFilter) (float64, error) {
	query := `SELECT COALESCE(SUM(amount), 0) FROM cost_entries WHERE occurred_at >= $1`
	args := []interface{}{since}
	argn := 2
	if filter.Kind != "" {
		query += placeholder(&argn, " AND kind = $%d")
		args = append(args, filter.Kind)
	}
	if filter.Provider != "" {
		query += placeholder(&argn, " AND provider = $%d")
		args = append(args, filter.Provider)
	}
	if filter.Model != "" {
		query += placeholder(&argn, " AND model = $%d")
		args = append(args, filter.Model)
	}

	var microDollars int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&microDollars); err != nil {
		return 0, err
	}
	return money.FixedPoint(microDollars).Float64(), nil
}

// --- CampaignStore ---------------------------------------------------------

func (s *Store) CreateCampaign(ctx context.Context, p campaign.Plan) (campaign.Plan, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	phasesJSON, err := json.Marshal(p.Phases)
	if err != nil {
		return campaign.Plan{}, err
	}
	resultsJSON, err := json.Marshal(p.Results)
	if err != nil {
		return campaign.Plan{}, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO campaigns (
			id, scenario, phases, status, current_phase_index, paused_reason,
			results, created_at, failed_phase, failure_reason
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, p.ID, p.Scenario, phasesJSON, p.Status, p.CurrentPhaseIndex, nullString(p.PausedReason),
		resultsJSON, p.CreatedAt, p.FailedPhase, nullString(p.FailureReason))
	if err != nil {
		return campaign.Plan{}, err
	}
	return p, nil
}

func (s *Store) GetCampaign(ctx context.Context, id string) (campaign.Plan, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, scenario, phases, status, current_phase_index, paused_reason,
			results, created_at, failed_phase, failure_reason
		FROM campaigns WHERE id = $1
	`, id)
	return scanCampaign(row)
}

func (s *Store) UpdateCampaign(ctx context.Context, p campaign.Plan) error {
	phasesJSON, err := json.Marshal(p.Phases)
	if err != nil {
		return err
	}
	resultsJSON, err := json.Marshal(p.Results)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE campaigns SET
			status = $2, current_phase_index = $3, paused_reason = $4,
			results = $5, phases = $6, failed_phase = $7, failure_reason = $8
		WHERE id = $1
	`, p.ID, p.Status, p.CurrentPhaseIndex, nullString(p.PausedReason), resultsJSON,
		phasesJSON, p.FailedPhase, nullString(p.FailureReason))
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apperrors.NotFound("campaign", p.ID)
	}
	return nil
}

func (s *Store) ListCampaigns(ctx context.Context) ([]campaign.Plan, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, scenario, phases, status, current_phase_index, paused_reason,
			results, created_at, failed_phase, failure_reason
		FROM campaigns ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []campaign.Plan
	for rows.Next() {
		p, err := scanCampaignRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
