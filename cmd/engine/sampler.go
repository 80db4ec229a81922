package main

import (
	"context"
	"time"

	"github.com/deepresearch/engine/internal/domain/job"
	"github.com/deepresearch/engine/internal/eventbus"
	"github.com/deepresearch/engine/internal/governor"
	"github.com/deepresearch/engine/internal/ledger"
	"github.com/deepresearch/engine/internal/metrics"
	"github.com/deepresearch/engine/internal/queue"
	"github.com/deepresearch/engine/internal/storage"
)

// sampler is the cron-driven periodic job behind §4.1's daily/monthly
// spend windows: the Ledger computes them on demand from a since instant,
// so nothing resets state at midnight, but the admin surface's gauges and
// the event bus's budget_alert notifications still need a periodic push.
// robfig/cron/v3 drives that heartbeat once a minute.
type sampler struct {
	queue       *queue.Queue
	ledger      *ledger.Ledger
	governor    *governor.Governor
	metrics     *metrics.Metrics
	bus         *eventbus.Bus
	dailyCapUSD float64
	monthlyCap  float64
}

func newSampler(q *queue.Queue, l *ledger.Ledger, gov *governor.Governor, m *metrics.Metrics, bus *eventbus.Bus, dailyCapUSD, monthlyCapUSD float64) *sampler {
	return &sampler{queue: q, ledger: l, governor: gov, metrics: m, bus: bus, dailyCapUSD: dailyCapUSD, monthlyCap: monthlyCapUSD}
}

var sampledStatuses = []job.Status{
	job.StatusPending, job.StatusProcessing, job.StatusCompleted, job.StatusFailed, job.StatusCanceled,
}

func (s *sampler) sample(ctx context.Context) {
	for _, status := range sampledStatuses {
		jobs, err := s.queue.List(ctx, storage.JobFilter{Status: status})
		if err != nil {
			continue
		}
		s.metrics.SetQueueDepth(string(status), len(jobs))
	}

	s.metrics.SetCircuitBreakerOpen(s.governor.CircuitBreakerTripped())

	now := time.Now().UTC()
	daySpent, err := s.ledger.SumRealized(ctx, startOfDay(now), storage.CostFilter{})
	if err == nil {
		s.metrics.SetSpend("day", daySpent.Float64())
		s.maybeAlert(ctx, daySpent.Float64(), s.dailyCapUSD)
	}

	monthSpent, err := s.ledger.SumRealized(ctx, startOfMonth(now), storage.CostFilter{})
	if err == nil {
		s.metrics.SetSpend("month", monthSpent.Float64())
	}
}

func (s *sampler) maybeAlert(ctx context.Context, spent, capUSD float64) {
	if capUSD <= 0 {
		return
	}
	level := governor.BudgetAlertLevel(spent / capUSD)
	if level == 0 {
		return
	}
	s.bus.Publish(ctx, eventbus.Event{
		Type:       eventbus.BudgetAlert,
		Reason:     "daily budget threshold crossed",
		Payload:    map[string]any{"threshold_pct": level, "spent_usd": spent, "cap_usd": capUSD},
		OccurredAt: time.Now(),
	})
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func startOfMonth(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}
