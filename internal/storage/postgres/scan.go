package postgres

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/deepresearch/engine/internal/apperrors"
	"github.com/deepresearch/engine/internal/domain/campaign"
	"github.com/deepresearch/engine/internal/domain/job"
	"github.com/deepresearch/engine/internal/domain/money"
)

const jobColumns = `
	id, prompt, mode, provider_choice_provider, provider_choice_model,
	chosen_provider, chosen_model, external_id, status, priority,
	created_at, submitted_at, completed_at, attempts, lease_owner,
	lease_expires_at, cost_estimate, cost_actual, tools, context_refs,
	parent_campaign, metadata`

const jobSelectColumns = `SELECT` + jobColumns

// row abstracts *sql.Row and *sql.Rows for shared scanning logic.
type row interface {
	Scan(dest ...interface{}) error
}

func scanJob(r row) (job.Job, error) {
	return scanJobRows(r)
}

func scanJobRows(r row) (job.Job, error) {
	var (
		j                                 job.Job
		providerChoiceProvider            sql.NullString
		providerChoiceModel               sql.NullString
		chosenProvider, chosenModel       sql.NullString
		externalID, leaseOwner            sql.NullString
		parentCampaign                    sql.NullString
		costEstimate, costActual          sql.NullInt64
		toolsJSON, contextRefsJSON        []byte
		metadataJSON                      []byte
	)

	err := r.Scan(
		&j.ID, &j.Prompt, &j.Mode, &providerChoiceProvider, &providerChoiceModel,
		&chosenProvider, &chosenModel, &externalID, &j.Status, &j.Priority,
		&j.CreatedAt, &j.SubmittedAt, &j.CompletedAt, &j.Attempts, &leaseOwner,
		&j.LeaseExpiresAt, &costEstimate, &costActual, &toolsJSON, &contextRefsJSON,
		&parentCampaign, &metadataJSON,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return job.Job{}, apperrors.NotFound("job", "")
		}
		return job.Job{}, err
	}

	j.ProviderChoice.Provider = providerChoiceProvider.String
	j.ProviderChoice.Model = providerChoiceModel.String
	j.ChosenProvider = chosenProvider.String
	j.ChosenModel = chosenModel.String
	j.ExternalID = externalID.String
	j.LeaseOwner = leaseOwner.String
	j.ParentCampaign = parentCampaign.String

	if costEstimate.Valid {
		v := money.FixedPoint(costEstimate.Int64)
		j.CostEstimate = &v
	}
	if costActual.Valid {
		v := money.FixedPoint(costActual.Int64)
		j.CostActual = &v
	}
	if len(toolsJSON) > 0 {
		_ = json.Unmarshal(toolsJSON, &j.Tools)
	}
	if len(contextRefsJSON) > 0 {
		_ = json.Unmarshal(contextRefsJSON, &j.ContextRefs)
	}
	if len(metadataJSON) > 0 {
		_ = json.Unmarshal(metadataJSON, &j.Metadata)
	}
	return j, nil
}

func scanCampaign(r row) (campaign.Plan, error) {
	return scanCampaignRows(r)
}

func scanCampaignRows(r row) (campaign.Plan, error) {
	var (
		p                          campaign.Plan
		phasesJSON, resultsJSON    []byte
		pausedReason, failureReason sql.NullString
	)
	err := r.Scan(&p.ID, &p.Scenario, &phasesJSON, &p.Status, &p.CurrentPhaseIndex,
		&pausedReason, &resultsJSON, &p.CreatedAt, &p.FailedPhase, &failureReason)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return campaign.Plan{}, apperrors.NotFound("campaign", "")
		}
		return campaign.Plan{}, err
	}
	p.PausedReason = pausedReason.String
	p.FailureReason = failureReason.String
	if len(phasesJSON) > 0 {
		_ = json.Unmarshal(phasesJSON, &p.Phases)
	}
	if len(resultsJSON) > 0 {
		_ = json.Unmarshal(resultsJSON, &p.Results)
	}
	return p, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func fixedPointPtr(f *money.FixedPoint) interface{} {
	if f == nil {
		return nil
	}
	return int64(*f)
}

func placeholder(argn *int, format string) string {
	s := fmt.Sprintf(format, *argn)
	*argn++
	return s
}
