// Package orchestrator implements the Campaign Orchestrator (C9):
// multi-phase planning with context chaining, pause/resume, and review
// gates, per spec §4.6.
package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/deepresearch/engine/internal/apperrors"
	"github.com/deepresearch/engine/internal/domain/campaign"
	"github.com/deepresearch/engine/internal/domain/job"
	"github.com/deepresearch/engine/internal/eventbus"
	"github.com/deepresearch/engine/internal/logger"
	"github.com/deepresearch/engine/internal/storage"
)

// executiveSummaryWords is the "first 1,500 words" figure from §4.6 step b.
const executiveSummaryWords = 1500

// defaultContextWindow is the target-model context window assumed when
// truncating chained context, matching the Registry's largest-common
// research model window.
const defaultContextWindow = 200_000

// contextBudgetFraction is the "80% of target model's context window"
// threshold from §4.6 step b.
const contextBudgetFraction = 0.8

// Submitter is the narrow slice of the Engine Facade the orchestrator needs:
// submit a phase prompt as a job and get back the job record. The
// Orchestrator never touches the Queue, Router, or Adapters directly (§6:
// "none touch the Queue, Ledger, or Adapters directly").
type Submitter interface {
	SubmitJob(ctx context.Context, prompt string, mode job.Mode, campaignID string) (job.Job, error)
}

// Orchestrator runs CampaignPlans.
type Orchestrator struct {
	store     storage.CampaignStore
	artifacts storage.ArtifactStore
	submitter Submitter
	bus       *eventbus.Bus
	log       *logger.Logger
}

// New builds an Orchestrator.
func New(store storage.CampaignStore, artifacts storage.ArtifactStore, submitter Submitter, bus *eventbus.Bus, log *logger.Logger) *Orchestrator {
	if log == nil {
		log = logger.NewDefault("orchestrator")
	}
	return &Orchestrator{store: store, artifacts: artifacts, submitter: submitter, bus: bus, log: log}
}

// Plan creates a new CampaignPlan in PLANNED status.
func (o *Orchestrator) Plan(ctx context.Context, scenario string, phases []campaign.Phase) (campaign.Plan, error) {
	if scenario == "" {
		return campaign.Plan{}, apperrors.InvalidRequest("scenario must not be empty")
	}
	if len(phases) == 0 {
		return campaign.Plan{}, apperrors.InvalidRequest("a campaign requires at least one phase")
	}
	return o.store.CreateCampaign(ctx, campaign.Plan{
		Scenario: scenario,
		Phases:   phases,
		Status:   campaign.StatusPlanned,
	})
}

// Pause sets the durable pause flag. The running loop observes it only at
// the next phase boundary (§4.6).
func (o *Orchestrator) Pause(ctx context.Context, campaignID string) error {
	plan, err := o.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return err
	}
	plan.PauseRequested = true
	return o.store.UpdateCampaign(ctx, plan)
}

// Resume clears the pause flag. The caller must invoke Execute again to
// re-enter the loop at CurrentPhaseIndex.
func (o *Orchestrator) Resume(ctx context.Context, campaignID string) error {
	plan, err := o.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return err
	}
	if plan.Status != campaign.StatusPaused && plan.Status != campaign.StatusAwaitingReview {
		return apperrors.InvalidRequest(fmt.Sprintf("campaign %s is not paused or awaiting review", campaignID))
	}
	plan.PauseRequested = false
	plan.Status = campaign.StatusRunning
	return o.store.UpdateCampaign(ctx, plan)
}

// ApproveReview marks the phase currently awaiting review as approved, so
// the next Execute/Resume proceeds past the gate instead of re-entering
// AWAITING_REVIEW. The caller still must call Resume to clear the RUNNING
// transition, then Execute to actually continue the campaign.
func (o *Orchestrator) ApproveReview(ctx context.Context, campaignID string) error {
	plan, err := o.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return err
	}
	if plan.Status != campaign.StatusAwaitingReview {
		return apperrors.InvalidRequest(fmt.Sprintf("campaign %s is not awaiting review", campaignID))
	}
	plan.ReviewApproved = true
	return o.store.UpdateCampaign(ctx, plan)
}

// Execute runs (or resumes) a campaign plan from its CurrentPhaseIndex.
func (o *Orchestrator) Execute(ctx context.Context, campaignID string) (campaign.Plan, error) {
	plan, err := o.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return campaign.Plan{}, err
	}
	if plan.Status == campaign.StatusPaused {
		return campaign.Plan{}, apperrors.InvalidRequest("campaign is paused; call Resume first")
	}
	plan.Status = campaign.StatusRunning
	if err := o.store.UpdateCampaign(ctx, plan); err != nil {
		return campaign.Plan{}, err
	}

	for plan.CurrentPhaseIndex < len(plan.Phases) {
		if plan.PauseRequested {
			plan.Status = campaign.StatusPaused
			plan.PausedReason = fmt.Sprintf("paused at phase %d", plan.CurrentPhaseIndex)
			if err := o.store.UpdateCampaign(ctx, plan); err != nil {
				return plan, err
			}
			o.publish(ctx, eventbus.CampaignPaused, plan.ID, "")
			return plan, nil
		}

		phase := plan.Phases[plan.CurrentPhaseIndex]
		prompt := phase.PromptTemplate
		if phase.DependsOnContextFromPrior {
			prompt, err = o.buildContext(ctx, plan)
			if err != nil {
				return plan, err
			}
		}

		if phase.ReviewRequired && !hasResultFor(plan, plan.CurrentPhaseIndex) {
			if !plan.ReviewApproved {
				plan.Status = campaign.StatusAwaitingReview
				if err := o.store.UpdateCampaign(ctx, plan); err != nil {
					return plan, err
				}
				return plan, nil
			}
			// Review was approved for this gate; consume the flag so the
			// next phase's gate (if any) starts unapproved again.
			plan.ReviewApproved = false
			if err := o.store.UpdateCampaign(ctx, plan); err != nil {
				return plan, err
			}
		}

		o.publish(ctx, eventbus.CampaignPhaseStarted, plan.ID, phase.Title)

		j, err := o.submitter.SubmitJob(ctx, prompt, job.ModeProjectPhase, plan.ID)
		if err != nil {
			o.log.WithError(err).WithField("campaign_id", plan.ID).Warn("phase submit failed")
			plan.Status = campaign.StatusFailed
			plan.FailedPhase = plan.CurrentPhaseIndex
			plan.FailureReason = err.Error()
			_ = o.store.UpdateCampaign(ctx, plan)
			return plan, err
		}

		event, err := o.bus.WaitForTerminal(ctx, j.ID)
		if err != nil {
			return plan, err
		}

		if event.Type == eventbus.JobFailed {
			o.log.WithField("campaign_id", plan.ID).WithField("job_id", j.ID).Warn("phase job failed")
			plan.Status = campaign.StatusFailed
			plan.FailedPhase = plan.CurrentPhaseIndex
			plan.FailureReason = event.Reason
			return plan, o.store.UpdateCampaign(ctx, plan)
		}

		plan.Results = append(plan.Results, campaign.PhaseResult{
			PhaseIndex: plan.CurrentPhaseIndex,
			JobID:      j.ID,
			ArtifactID: j.ID,
			Status:     string(event.Type),
		})
		plan.CurrentPhaseIndex++
		if err := o.store.UpdateCampaign(ctx, plan); err != nil {
			return plan, err
		}
		o.publish(ctx, eventbus.CampaignPhaseCompleted, plan.ID, phase.Title)
	}

	plan.Status = campaign.StatusCompleted
	if err := o.store.UpdateCampaign(ctx, plan); err != nil {
		return plan, err
	}
	return plan, nil
}

func hasResultFor(plan campaign.Plan, phaseIndex int) bool {
	for _, r := range plan.Results {
		if r.PhaseIndex == phaseIndex {
			return true
		}
	}
	return false
}

// buildContext implements the Context Builder from §4.6 step b:
// concatenate prior artifacts' executive summaries (first 1,500 words
// each), prepend a fixed preamble, append the phase prompt, and truncate
// the oldest phases first if the combined context exceeds 80% of the
// target model's context window.
func (o *Orchestrator) buildContext(ctx context.Context, plan campaign.Plan) (string, error) {
	summaries := make([]string, 0, len(plan.Results))
	for _, r := range plan.Results {
		a, err := o.artifacts.GetArtifact(ctx, r.JobID)
		if err != nil {
			return "", err
		}
		summaries = append(summaries, a.ExecutiveSummary(executiveSummaryWords))
	}

	budget := int(defaultContextWindow * contextBudgetFraction)
	for totalChars(summaries)/4 > budget && len(summaries) > 0 {
		summaries = summaries[1:] // drop oldest phase first
	}

	phase := plan.Phases[plan.CurrentPhaseIndex]
	var b strings.Builder
	b.WriteString("Context from previous phases:\n")
	for _, s := range summaries {
		b.WriteString(s)
		b.WriteString("\n\n")
	}
	b.WriteString(phase.PromptTemplate)
	return b.String(), nil
}

func totalChars(summaries []string) int {
	total := 0
	for _, s := range summaries {
		total += len(s)
	}
	return total
}

// Synthesize submits an optional final phase summarizing all prior
// artifacts, per §4.6 step 3.
func (o *Orchestrator) Synthesize(ctx context.Context, campaignID string) (job.Job, error) {
	plan, err := o.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return job.Job{}, err
	}
	if plan.Status != campaign.StatusCompleted {
		return job.Job{}, apperrors.InvalidRequest("campaign must be COMPLETED before synthesis")
	}

	var summaries []string
	for _, r := range plan.Results {
		a, err := o.artifacts.GetArtifact(ctx, r.JobID)
		if err != nil {
			return job.Job{}, err
		}
		summaries = append(summaries, a.ExecutiveSummary(executiveSummaryWords))
	}
	prompt := "Synthesize the following research phases into one cohesive report:\n\n" + strings.Join(summaries, "\n\n")
	return o.submitter.SubmitJob(ctx, prompt, job.ModeProjectPhase, plan.ID)
}

func (o *Orchestrator) publish(ctx context.Context, t eventbus.Type, campaignID, detail string) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(ctx, eventbus.Event{Type: t, CampaignID: campaignID, Reason: detail})
}
