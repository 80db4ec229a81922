// Package facade implements the Engine Facade (C11): the sole entry point
// every external surface calls, composing the Governor, Queue, Router,
// Orchestrator, Event Bus, and idempotency store per spec §4.7.
//
// Named facade rather than engine; the module path itself already ends in
// engine.
package facade

import (
	"context"

	"github.com/deepresearch/engine/internal/apperrors"
	"github.com/deepresearch/engine/internal/domain/campaign"
	"github.com/deepresearch/engine/internal/domain/job"
	"github.com/deepresearch/engine/internal/domain/money"
	"github.com/deepresearch/engine/internal/eventbus"
	"github.com/deepresearch/engine/internal/governor"
	"github.com/deepresearch/engine/internal/idempotency"
	"github.com/deepresearch/engine/internal/logger"
	"github.com/deepresearch/engine/internal/orchestrator"
	"github.com/deepresearch/engine/internal/provider"
	"github.com/deepresearch/engine/internal/queue"
	"github.com/deepresearch/engine/internal/router"
	"github.com/deepresearch/engine/internal/storage"
)

// SubmitRequest is the input to Submit, the normalized view of what every
// surface (CLI, API, orchestrator) hands the Facade.
type SubmitRequest struct {
	Prompt           string
	Mode             job.Mode
	Tools            []job.Tool
	ProviderChoice   job.ProviderChoice
	CampaignID       string
	Interactive      bool
	IdempotencyToken string
	// Confirmed must be true to proceed once a prior call to Submit with the
	// same parameters returned a REQUIRE_CONFIRM decision; it overrides that
	// one soft gate but never the governor's hard DENY ceilings.
	Confirmed bool
}

// Facade is the Engine's sole external surface (C11).
type Facade struct {
	queue    *queue.Queue
	router   *router.Router
	adapters provider.Set
	gov      *governor.Governor
	orch     *orchestrator.Orchestrator
	bus      *eventbus.Bus
	tokens   *idempotency.Store
	log      *logger.Logger
}

// New builds a Facade over its already-constructed dependencies.
func New(q *queue.Queue, r *router.Router, adapters provider.Set, gov *governor.Governor, orch *orchestrator.Orchestrator, bus *eventbus.Bus, tokens *idempotency.Store, log *logger.Logger) *Facade {
	if log == nil {
		log = logger.NewDefault("facade")
	}
	return &Facade{
		queue: q, router: r, adapters: adapters,
		gov: gov, orch: orch, bus: bus, tokens: tokens, log: log,
	}
}

// Submit runs the Governor's first-pass check against the Router's top
// candidate's static estimate, persists PENDING on approval, and returns
// immediately — it never calls an adapter. The submit-worker (internal/
// worker) owns the actual Router.Select + Adapter.Submit dispatch, per §5.
//
// A repeated call with the same non-empty IdempotencyToken within the
// idempotency store's TTL returns the job already created for that token,
// per §8's round-trip law, without re-running the Governor check.
func (f *Facade) Submit(ctx context.Context, req SubmitRequest) (job.Job, error) {
	if f.tokens != nil {
		if jobID, ok := f.tokens.Lookup(req.IdempotencyToken); ok {
			return f.queue.Get(ctx, jobID)
		}
	}

	estimated, err := f.estimate(ctx, req)
	if err != nil {
		return job.Job{}, err
	}

	decision, err := f.gov.CheckSubmit(ctx, estimated, req.Interactive)
	switch decision {
	case governor.DecisionDeny:
		f.log.WithError(err).Warn("submit denied by governor")
		return job.Job{}, err
	case governor.DecisionRequireConfirm:
		if !req.Confirmed {
			return job.Job{}, err
		}
	default:
		if err != nil {
			return job.Job{}, err
		}
	}

	created, err := f.queue.Submit(ctx, job.Job{
		Prompt:         req.Prompt,
		Mode:           req.Mode,
		Tools:          req.Tools,
		ProviderChoice: req.ProviderChoice,
		ParentCampaign: req.CampaignID,
		CostEstimate:   &estimated,
	})
	if err != nil {
		return job.Job{}, err
	}

	if f.tokens != nil {
		f.tokens.Record(req.IdempotencyToken, created.ID)
	}
	f.publish(ctx, eventbus.JobCreated, created.ID, "")
	return created, nil
}

// estimate resolves the Router's top candidate for req (without claiming
// it) and asks that candidate's Adapter for a static cost estimate, per
// §4.5's "estimate(request) → monetary — static, from Registry + heuristic
// token count." The submit-worker re-estimates per-candidate later; this is
// only the Facade's pre-flight figure for the Governor's first gate.
func (f *Facade) estimate(ctx context.Context, req SubmitRequest) (money.FixedPoint, error) {
	chain := f.router.Select(router.Request{Prompt: req.Prompt, Mode: req.Mode, Tools: req.Tools, Choice: req.ProviderChoice})
	if len(chain) == 0 {
		return 0, apperrors.NoProviderAvailable("no provider satisfies this request")
	}
	top := chain[0]
	adapter, ok := f.adapters.Get(top.Provider)
	if !ok {
		return 0, apperrors.NoProviderAvailable("configured provider " + top.Provider + " has no adapter")
	}
	return adapter.Estimate(ctx, provider.Request{Prompt: req.Prompt, Mode: req.Mode, Model: top.Model, Tools: req.Tools}), nil
}

// SubmitJob implements orchestrator.Submitter, letting the Campaign
// Orchestrator submit a phase prompt through the same Governor-gated path
// as any other caller, without the Orchestrator importing internal/queue,
// internal/router, or internal/provider directly (§6: "none touch the
// Queue, Ledger, or Adapters directly").
func (f *Facade) SubmitJob(ctx context.Context, prompt string, mode job.Mode, campaignID string) (job.Job, error) {
	return f.Submit(ctx, SubmitRequest{Prompt: prompt, Mode: mode, CampaignID: campaignID})
}

// Get returns a read-only job snapshot, resolving full ids or unambiguous
// short prefixes.
func (f *Facade) Get(ctx context.Context, idOrPrefix string) (job.Job, error) {
	return f.queue.Resolve(ctx, idOrPrefix)
}

// Cancel atomically cancels a job from PENDING or PROCESSING, best-effort
// canceling the provider side when PROCESSING, per §5's cancellation
// semantics. Returns false (no error) if the job was already terminal.
func (f *Facade) Cancel(ctx context.Context, idOrPrefix string) (bool, error) {
	j, err := f.queue.Resolve(ctx, idOrPrefix)
	if err != nil {
		return false, err
	}
	if j.Status == job.StatusProcessing && j.ChosenProvider != "" {
		if adapter, ok := f.adapters.Get(j.ChosenProvider); ok {
			adapter.Cancel(ctx, j.ExternalID)
		}
	}
	changed, err := f.queue.Cancel(ctx, j.ID)
	if err != nil {
		return false, err
	}
	if changed {
		f.publish(ctx, eventbus.JobCanceled, j.ID, "")
	}
	return changed, nil
}

// List lists jobs matching filter.
func (f *Facade) List(ctx context.Context, filter storage.JobFilter) ([]job.Job, error) {
	return f.queue.List(ctx, filter)
}

// Subscribe returns a filtered lifecycle event stream and its unsubscribe
// function, per §4.7's `subscribe(filter) → event stream`.
func (f *Facade) Subscribe(filter eventbus.Filter) (<-chan eventbus.Event, func()) {
	return f.bus.Subscribe(filter)
}

// SetOrchestrator wires the Orchestrator after construction, breaking the
// Facade/Orchestrator initialization cycle: the Orchestrator's Submitter is
// the Facade itself, so one of the two must be built with a nil peer and
// patched in once both exist.
func (f *Facade) SetOrchestrator(o *orchestrator.Orchestrator) {
	f.orch = o
}

// PlanCampaign delegates to the Orchestrator.
func (f *Facade) PlanCampaign(ctx context.Context, scenario string, phases []campaign.Phase) (campaign.Plan, error) {
	return f.orch.Plan(ctx, scenario, phases)
}

// ExecuteCampaign delegates to the Orchestrator.
func (f *Facade) ExecuteCampaign(ctx context.Context, planID string) (campaign.Plan, error) {
	return f.orch.Execute(ctx, planID)
}

// ApproveReviewCampaign approves the phase currently awaiting review,
// letting a subsequent ResumeCampaign + ExecuteCampaign proceed past the
// gate instead of falling back into AWAITING_REVIEW.
func (f *Facade) ApproveReviewCampaign(ctx context.Context, planID string) error {
	return f.orch.ApproveReview(ctx, planID)
}

// ResumeCampaign delegates to the Orchestrator.
func (f *Facade) ResumeCampaign(ctx context.Context, planID string) error {
	return f.orch.Resume(ctx, planID)
}

func (f *Facade) publish(ctx context.Context, t eventbus.Type, jobID, reason string) {
	if f.bus == nil {
		return
	}
	f.bus.Publish(ctx, eventbus.Event{Type: t, JobID: jobID, Reason: reason})
}
