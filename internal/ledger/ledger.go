// Package ledger implements the Cost Ledger (C1): the append-only record of
// estimated and realized spend, and period aggregation over it.
package ledger

import (
	"context"
	"time"

	"github.com/deepresearch/engine/internal/domain/cost"
	"github.com/deepresearch/engine/internal/domain/money"
	"github.com/deepresearch/engine/internal/logger"
	"github.com/deepresearch/engine/internal/storage"
)

// Ledger wraps a storage.CostStore with the append/aggregate operations
// from spec §4.1. Entries are never mutated after Append returns.
type Ledger struct {
	store storage.CostStore
	log   *logger.Logger
}

// New builds a Ledger over the given cost store.
func New(store storage.CostStore, log *logger.Logger) *Ledger {
	if log == nil {
		log = logger.NewDefault("ledger")
	}
	return &Ledger{store: store, log: log}
}

// RecordEstimate appends a pre-flight ESTIMATE row. ESTIMATEs never count
// against budget caps; they exist for audit and the 2x sanity check in
// scenario 1 of §8.
func (l *Ledger) RecordEstimate(ctx context.Context, jobID, providerName, model string, amount money.FixedPoint, occurredAt time.Time) error {
	return l.append(ctx, cost.Entry{
		JobID: jobID, Provider: providerName, Model: model,
		Kind: cost.KindEstimate, Amount: amount, OccurredAt: occurredAt,
	})
}

// RecordRealized appends a REALIZED row computed from actual provider token
// usage. Realized spend is the only amount the Governor counts against
// caps.
func (l *Ledger) RecordRealized(ctx context.Context, jobID, providerName, model string, amount money.FixedPoint, tokensIn, tokensOut int, occurredAt time.Time) error {
	return l.append(ctx, cost.Entry{
		JobID: jobID, Provider: providerName, Model: model,
		Kind: cost.KindRealized, Amount: amount,
		TokensIn: tokensIn, TokensOut: tokensOut, OccurredAt: occurredAt,
	})
}

func (l *Ledger) append(ctx context.Context, e cost.Entry) error {
	if err := l.store.AppendCost(ctx, e); err != nil {
		l.log.WithError(err).WithField("job_id", e.JobID).Warn("cost ledger append failed")
		return err
	}
	return nil
}

// SumRealized returns the authoritative REALIZED spend since the given
// instant, optionally filtered by provider/model. ESTIMATE rows are never
// included (§4.1's "only ESTIMATEs are for pre-flight ... never count
// against caps").
func (l *Ledger) SumRealized(ctx context.Context, since time.Time, filter storage.CostFilter) (money.FixedPoint, error) {
	filter.Kind = cost.KindRealized
	total, err := l.store.SumCost(ctx, since, filter)
	if err != nil {
		return 0, err
	}
	return money.FromFloat(total), nil
}
