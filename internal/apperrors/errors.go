// Package apperrors normalizes every error that crosses a component
// boundary into the stable taxonomy from the engine's error handling design:
// BudgetDenied, InvalidRequest, NoProviderAvailable, ProviderTransient,
// ProviderFatal, QueueConflict, StateCorruption. Subsystems never let a raw
// provider or database error cross a boundary un-normalized.
package apperrors

import "fmt"

// Kind is a stable error category, not a numeric code.
type Kind string

const (
	KindBudgetDenied       Kind = "budget_denied"
	KindInvalidRequest     Kind = "invalid_request"
	KindNoProviderAvail    Kind = "no_provider_available"
	KindProviderTransient  Kind = "provider_transient"
	KindProviderFatal      Kind = "provider_fatal"
	KindQueueConflict      Kind = "queue_conflict"
	KindStateCorruption    Kind = "state_corruption"
	KindAmbiguousReference Kind = "ambiguous_reference"
	KindNotFound           Kind = "not_found"
)

// EngineError is the normalized error type every component boundary returns.
type EngineError struct {
	Kind    Kind
	Message string
	Details map[string]any
	Err     error
}

func (e *EngineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *EngineError) Unwrap() error { return e.Err }

// WithDetail attaches a detail key/value and returns the receiver for chaining.
func (e *EngineError) WithDetail(key string, value any) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func New(kind Kind, message string) *EngineError {
	return &EngineError{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *EngineError {
	return &EngineError{Kind: kind, Message: message, Err: err}
}

// Is reports whether err is an *EngineError of the given kind.
func Is(err error, kind Kind) bool {
	ee, ok := err.(*EngineError)
	return ok && ee.Kind == kind
}

// BudgetDenied is returned by the Cost Governor when a submission would
// exceed a configured cap. remaining is what is left of the daily or monthly
// budget whose cap was hit, or 0 when the per-operation cap or the circuit
// breaker denied the submission.
func BudgetDenied(reason string, remaining float64) *EngineError {
	return New(KindBudgetDenied, reason).WithDetail("remaining", remaining)
}

func InvalidRequest(reason string) *EngineError {
	return New(KindInvalidRequest, reason)
}

func NoProviderAvailable(reason string) *EngineError {
	return New(KindNoProviderAvail, reason)
}

func ProviderTransient(err error) *EngineError {
	return Wrap(KindProviderTransient, "transient provider error", err)
}

func ProviderFatal(err error) *EngineError {
	return Wrap(KindProviderFatal, "fatal provider error", err)
}

func QueueConflict(reason string) *EngineError {
	return New(KindQueueConflict, reason)
}

func StateCorruption(reason string) *EngineError {
	return New(KindStateCorruption, reason)
}

func AmbiguousReference(prefix string, matches int) *EngineError {
	return New(KindAmbiguousReference, "job id prefix matches multiple jobs").
		WithDetail("prefix", prefix).WithDetail("matches", matches)
}

func NotFound(kind, id string) *EngineError {
	return New(KindNotFound, fmt.Sprintf("%s %q not found", kind, id))
}
