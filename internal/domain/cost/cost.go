// Package cost defines the append-only cost ledger entry type.
package cost

import (
	"time"

	"github.com/deepresearch/engine/internal/domain/money"
)

// Kind distinguishes a pre-flight estimate from a provider-reported actual.
type Kind string

const (
	KindEstimate Kind = "ESTIMATE"
	KindRealized Kind = "REALIZED"
)

// Entry is a single append-only ledger row. Entries are never mutated or
// deleted; only REALIZED entries count against budget caps.
type Entry struct {
	JobID      string
	Provider   string
	Model      string
	Kind       Kind
	Amount     money.FixedPoint
	TokensIn   int
	TokensOut  int
	OccurredAt time.Time
}
