// Package campaign defines the multi-phase CampaignPlan aggregate owned by
// the Campaign Orchestrator.
package campaign

import "time"

// Status is the campaign lifecycle state.
type Status string

const (
	StatusPlanned        Status = "PLANNED"
	StatusRunning        Status = "RUNNING"
	StatusPaused         Status = "PAUSED"
	StatusAwaitingReview Status = "AWAITING_REVIEW"
	StatusCompleted      Status = "COMPLETED"
	StatusFailed         Status = "FAILED"
)

// Phase is one step of a campaign plan.
type Phase struct {
	Title                     string
	PromptTemplate            string
	DependsOnContextFromPrior bool
	ReviewRequired            bool
}

// PhaseResult records the outcome of a completed phase.
type PhaseResult struct {
	PhaseIndex int
	JobID      string
	ArtifactID string
	Status     string
}

// Plan is the ordered phase list and run state for a multi-phase research
// campaign.
type Plan struct {
	ID                string
	Scenario          string
	Phases            []Phase
	Status            Status
	CurrentPhaseIndex int
	PausedReason      string
	Results           []PhaseResult
	CreatedAt         time.Time
	FailedPhase       int
	FailureReason     string

	// PauseRequested is the durable flag set by pause() (§4.6). The
	// orchestrator checks it only at phase boundaries, never mid-phase,
	// because an external provider job cannot be safely interrupted
	// without orphaning spend.
	PauseRequested bool

	// ReviewApproved is set by an explicit review approval and consumed the
	// next time Execute re-enters the gated phase, letting the campaign
	// proceed past it exactly once. Without this, a resumed campaign would
	// re-test ReviewRequired on every Execute call and fall straight back
	// into AWAITING_REVIEW forever.
	ReviewApproved bool
}

// Done reports whether the plan has reached a terminal status.
func (p *Plan) Done() bool {
	return p.Status == StatusCompleted || p.Status == StatusFailed
}

// AtEnd reports whether every phase has a recorded result.
func (p *Plan) AtEnd() bool {
	return p.CurrentPhaseIndex >= len(p.Phases)
}
