// Package poller implements the Poller (C8): the background loop that
// reconciles outstanding external provider jobs and drains completed ones
// into the Artifact Store and Cost Ledger.
package poller

import (
	"context"
	"sync"
	"time"

	"github.com/deepresearch/engine/internal/apperrors"
	"github.com/deepresearch/engine/internal/artifactstore"
	"github.com/deepresearch/engine/internal/domain/job"
	"github.com/deepresearch/engine/internal/domain/money"
	"github.com/deepresearch/engine/internal/eventbus"
	"github.com/deepresearch/engine/internal/ledger"
	"github.com/deepresearch/engine/internal/logger"
	"github.com/deepresearch/engine/internal/provider"
	"github.com/deepresearch/engine/internal/queue"
	"github.com/deepresearch/engine/internal/router"
	"github.com/deepresearch/engine/internal/system"
)

// Adapters resolves a configured provider.Adapter by name, as wired at
// startup (§4.2's per-provider table).
type Adapters interface {
	Get(providerName string) (provider.Adapter, bool)
}

// MaxProviderRuntime is the default "max provider runtime" for async jobs
// (§5): PROCESSING longer than this is marked FAILED(reason=timeout) after
// a last status check.
const MaxProviderRuntime = 2 * time.Hour

var _ system.Service = (*Poller)(nil)

// Poller periodically reconciles leased PROCESSING jobs with their
// provider, per the algorithm in §4.5.
type Poller struct {
	owner     string
	queue     *queue.Queue
	router    *router.Router
	adapters  Adapters
	registry  *provider.Registry
	ledger    *ledger.Ledger
	artifacts *artifactstore.Store
	bus       *eventbus.Bus
	log       *logger.Logger
	nowFunc   func() time.Time

	tickInterval time.Duration
	leaseTTL     time.Duration
	leaseLimit   int
	maxRuntime   time.Duration

	mu          sync.Mutex
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	running     bool
	nextAttempt map[string]time.Time
}

// New builds a Poller. owner identifies this poller instance for lease
// ownership (supports horizontal partitioning by job-id hash, per §4.5).
func New(owner string, q *queue.Queue, r *router.Router, adapters Adapters, registry *provider.Registry, l *ledger.Ledger, artifacts *artifactstore.Store, bus *eventbus.Bus, log *logger.Logger) *Poller {
	if log == nil {
		log = logger.NewDefault("poller")
	}
	return &Poller{
		owner:        owner,
		queue:        q,
		router:       r,
		adapters:     adapters,
		registry:     registry,
		ledger:       l,
		artifacts:    artifacts,
		bus:          bus,
		log:          log,
		nowFunc:      time.Now,
		tickInterval: 2 * time.Second,
		leaseTTL:     60 * time.Second,
		leaseLimit:   50,
		maxRuntime:   MaxProviderRuntime,
		nextAttempt:  make(map[string]time.Time),
	}
}

func (p *Poller) Name() string { return "poller-" + p.owner }

// Start begins the reconciliation loop.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				p.tick(runCtx)
			}
		}
	}()

	p.log.Info("poller started")
	return nil
}

// Stop halts the reconciliation loop and waits for in-flight ticks to
// finish.
func (p *Poller) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	cancel := p.cancel
	p.running = false
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.wg.Wait()
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (p *Poller) tick(ctx context.Context) {
	jobs, err := p.queue.AcquireLeases(ctx, p.owner, p.leaseTTL, p.leaseLimit)
	if err != nil {
		p.log.WithError(err).Warn("acquire leases failed")
		return
	}
	for _, j := range jobs {
		if !p.shouldAttempt(j) {
			_ = p.queue.ReleaseLease(ctx, j.ID, p.owner)
			continue
		}
		p.reconcile(ctx, j)
	}
}

// shouldAttempt enforces the adaptive poll interval from §4.5: 5s during
// the first 60s after submit, 10s until 5 minutes, 20s thereafter.
func (p *Poller) shouldAttempt(j job.Job) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	next, ok := p.nextAttempt[j.ID]
	return !ok || p.nowFunc().After(next)
}

func (p *Poller) scheduleNext(j job.Job) {
	var interval time.Duration
	since := time.Duration(0)
	if j.SubmittedAt != nil {
		since = p.nowFunc().Sub(*j.SubmittedAt)
	}
	switch {
	case since < 60*time.Second:
		interval = 5 * time.Second
	case since < 5*time.Minute:
		interval = 10 * time.Second
	default:
		interval = 20 * time.Second
	}
	p.mu.Lock()
	p.nextAttempt[j.ID] = p.nowFunc().Add(interval)
	p.mu.Unlock()
}

func (p *Poller) clearSchedule(id string) {
	p.mu.Lock()
	delete(p.nextAttempt, id)
	p.mu.Unlock()
}

func (p *Poller) reconcile(ctx context.Context, j job.Job) {
	if j.SubmittedAt != nil && p.nowFunc().Sub(*j.SubmittedAt) > p.maxRuntime {
		p.terminalFail(ctx, j, "timeout")
		return
	}

	adapter, ok := p.adapters.Get(j.ChosenProvider)
	if !ok {
		p.terminalFail(ctx, j, "no adapter configured for provider "+j.ChosenProvider)
		return
	}

	status, err := adapter.Status(ctx, j.ExternalID)
	if err != nil {
		p.handleFailure(ctx, j, adapter.ClassifyError(err), err.Error())
		return
	}

	switch status {
	case provider.RemoteQueued, provider.RemoteRunning:
		if j.SubmittedAt != nil && p.nowFunc().Sub(*j.SubmittedAt) > p.maxRuntime {
			p.terminalFail(ctx, j, "timeout")
			return
		}
		p.scheduleNext(j)
		_ = p.queue.ReleaseLease(ctx, j.ID, p.owner)
	case provider.RemoteSucceeded:
		p.drain(ctx, j, adapter)
	case provider.RemoteFailed:
		// The adapter's Status call does not itself surface a classified
		// error; treat a provider-reported FAILED as PROVIDER_DOWN, the
		// most conservative fallback-eligible classification.
		p.handleFailure(ctx, j, provider.ErrProviderDown, "provider reported job failed")
	case provider.RemoteCanceled:
		p.clearSchedule(j.ID)
		if _, err := p.queue.Cancel(ctx, j.ID); err != nil {
			p.log.WithError(err).WithField("job_id", j.ID).Warn("cancel reconciliation failed")
			return
		}
		p.publish(ctx, j.ID, eventbus.JobCanceled, "", "")
	}
}

func (p *Poller) drain(ctx context.Context, j job.Job, adapter provider.Adapter) {
	art, err := adapter.Fetch(ctx, j.ExternalID)
	if err != nil {
		p.handleFailure(ctx, j, adapter.ClassifyError(err), err.Error())
		return
	}
	art.JobID = j.ID

	costActual := money.FromFloat(0)
	if entry, err := p.registry.Lookup(j.ChosenProvider, j.ChosenModel); err == nil {
		dollars := float64(art.TokenUsage.Input)/1_000_000*entry.Pricing.InputPerMillion +
			float64(art.TokenUsage.Output)/1_000_000*entry.Pricing.OutputPerMillion +
			float64(art.TokenUsage.Reasoning)/1_000_000*entry.Pricing.ReasoningPerMillion
		costActual = money.FromFloat(dollars)
	}

	ok, err := p.queue.Complete(ctx, j.ID, costActual)
	if err != nil || !ok {
		if err != nil {
			p.log.WithError(err).WithField("job_id", j.ID).Warn("complete transition failed")
		}
		return
	}

	completed, err := p.queue.Get(ctx, j.ID)
	if err != nil {
		p.log.WithError(err).WithField("job_id", j.ID).Warn("reload completed job failed")
		completed = j
	}

	if _, err := p.artifacts.Persist(ctx, completed, art); err != nil {
		p.log.WithError(err).WithField("job_id", j.ID).Warn("artifact persist failed")
	}
	if err := p.ledger.RecordRealized(ctx, j.ID, j.ChosenProvider, j.ChosenModel, costActual,
		art.TokenUsage.Input, art.TokenUsage.Output, p.nowFunc().UTC()); err != nil {
		p.log.WithError(err).WithField("job_id", j.ID).Warn("realized cost append failed")
	}

	if p.router != nil && j.SubmittedAt != nil {
		p.router.RecordOutcome(j.ChosenProvider, j.ChosenModel, j.Mode, p.nowFunc().Sub(*j.SubmittedAt), true)
	}
	p.clearSchedule(j.ID)
	p.publish(ctx, j.ID, eventbus.JobCompleted, "", "")
}

func (p *Poller) handleFailure(ctx context.Context, j job.Job, class provider.ErrorClass, reason string) {
	if p.router != nil && j.SubmittedAt != nil {
		p.router.RecordOutcome(j.ChosenProvider, j.ChosenModel, j.Mode, p.nowFunc().Sub(*j.SubmittedAt), false)
	}

	var queueClass queue.FailureClass
	switch class {
	case provider.ErrTransient:
		queueClass = queue.FailureTransient
	case provider.ErrRateLimit:
		queueClass = queue.FailureRateLimit
	case provider.ErrProviderDown:
		queueClass = queue.FailureProviderDown
	default:
		queueClass = queue.FailureFatal
	}

	fellBack, err := p.queue.Fallback(ctx, j.ID, queueClass, reason)
	if err != nil {
		p.log.WithError(err).WithField("job_id", j.ID).Warn("fallback transition failed")
		return
	}
	p.clearSchedule(j.ID)
	if fellBack {
		p.publish(ctx, j.ID, eventbus.JobStatusChanged, string(job.StatusProcessing), string(job.StatusPending))
		return
	}
	p.publish(ctx, j.ID, eventbus.JobFailed, "", reason)
}

func (p *Poller) terminalFail(ctx context.Context, j job.Job, reason string) {
	p.clearSchedule(j.ID)
	if _, err := p.queue.Fail(ctx, j.ID, reason); err != nil {
		if !apperrors.Is(err, apperrors.KindQueueConflict) {
			p.log.WithError(err).WithField("job_id", j.ID).Warn("terminal fail transition failed")
		}
		return
	}
	p.publish(ctx, j.ID, eventbus.JobFailed, "", reason)
}

func (p *Poller) publish(ctx context.Context, jobID string, t eventbus.Type, from, reason string) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(ctx, eventbus.Event{Type: t, JobID: jobID, From: from, Reason: reason})
}

