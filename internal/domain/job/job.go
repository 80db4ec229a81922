// Package job defines the Job aggregate: the fundamental unit of research
// work tracked by the engine.
package job

import (
	"time"

	"github.com/deepresearch/engine/internal/domain/money"
)

// Status is a job lifecycle state. Transitions are owned exclusively by the
// queue; every other component treats Status as read-only.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusCanceled   Status = "CANCELED"
)

// Terminal reports whether the status is one the state machine never leaves.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// Mode is the research mode requested by the caller.
type Mode string

const (
	ModeFocus          Mode = "FOCUS"
	ModeDocs           Mode = "DOCS"
	ModeProjectPhase   Mode = "PROJECT_PHASE"
	ModeTeamPerspective Mode = "TEAM_PERSPECTIVE"
)

// Tool is an optional capability a job may request from its provider.
type Tool string

const (
	ToolWebSearch      Tool = "WEB_SEARCH"
	ToolCodeInterpreter Tool = "CODE_INTERPRETER"
	ToolFileSearch     Tool = "FILE_SEARCH"
)

// AutoProvider is the sentinel provider_choice meaning "let the Router pick".
const AutoProvider = "AUTO"

// ProviderChoice is either an explicit provider+model pair or AUTO.
type ProviderChoice struct {
	Provider string
	Model    string
}

// IsAuto reports whether the caller deferred provider selection to the Router.
func (p ProviderChoice) IsAuto() bool {
	return p.Provider == "" || p.Provider == AutoProvider
}

// Job is the fundamental work unit. See the data model invariants in
// Job.Validate.
type Job struct {
	ID             string
	Prompt         string
	Mode           Mode
	ProviderChoice ProviderChoice
	ChosenProvider string
	ChosenModel    string
	ExternalID     string
	Status         Status
	Priority       int
	CreatedAt      time.Time
	SubmittedAt    *time.Time
	CompletedAt    *time.Time
	Attempts       int
	LeaseOwner     string
	LeaseExpiresAt *time.Time
	CostEstimate   *money.FixedPoint
	CostActual     *money.FixedPoint
	Tools          []Tool
	ContextRefs    []string
	ParentCampaign string
	Metadata       map[string]string
}

// Validate checks the data-model invariants from the specification's data
// model section: external_id/chosen_* nullity tied to status, completed_at
// tied to terminal status, cost_actual tied to COMPLETED.
func (j *Job) Validate() error {
	if j.Status == StatusPending && (j.ChosenProvider != "" || j.ChosenModel != "") {
		return errInvariant("chosen_provider/chosen_model must be empty while PENDING")
	}
	if j.Status == StatusPending && j.ExternalID != "" {
		return errInvariant("external_id must be empty while PENDING")
	}
	if j.Status.Terminal() && j.CompletedAt == nil {
		return errInvariant("completed_at must be set for a terminal status")
	}
	if !j.Status.Terminal() && j.CompletedAt != nil {
		return errInvariant("completed_at must be nil for a non-terminal status")
	}
	if j.Status == StatusCompleted && j.CostActual == nil {
		return errInvariant("cost_actual must be set when COMPLETED")
	}
	if j.Status != StatusCompleted && j.CostActual != nil {
		return errInvariant("cost_actual must be nil unless COMPLETED")
	}
	return nil
}

type invariantError string

func (e invariantError) Error() string { return string(e) }

func errInvariant(msg string) error { return invariantError(msg) }
