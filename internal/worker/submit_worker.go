// Package worker implements the submit-worker (§5): the single loop that
// dequeues PENDING jobs, asks the Router for a provider, and calls the
// chosen Adapter's Submit, transitioning the job to PROCESSING (or straight
// to COMPLETED for synchronous providers).
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/deepresearch/engine/internal/apperrors"
	"github.com/deepresearch/engine/internal/artifactstore"
	"github.com/deepresearch/engine/internal/domain/artifact"
	"github.com/deepresearch/engine/internal/domain/job"
	"github.com/deepresearch/engine/internal/domain/money"
	"github.com/deepresearch/engine/internal/eventbus"
	"github.com/deepresearch/engine/internal/governor"
	"github.com/deepresearch/engine/internal/ledger"
	"github.com/deepresearch/engine/internal/logger"
	"github.com/deepresearch/engine/internal/provider"
	"github.com/deepresearch/engine/internal/queue"
	"github.com/deepresearch/engine/internal/router"
	"github.com/deepresearch/engine/internal/system"
)

// Adapters resolves a configured provider.Adapter by name.
type Adapters interface {
	Get(providerName string) (provider.Adapter, bool)
}

var _ system.Service = (*SubmitWorker)(nil)

// SubmitWorker is the submit-worker loop from §5: 1 long-lived goroutine
// per engine instance, draining PENDING jobs.
type SubmitWorker struct {
	owner     string
	queue     *queue.Queue
	router    *router.Router
	adapters  Adapters
	registry  *provider.Registry
	gov       *governor.Governor
	ledger    *ledger.Ledger
	artifacts *artifactstore.Store
	bus       *eventbus.Bus
	log       *logger.Logger
	nowFunc   func() time.Time

	tickInterval time.Duration
	batchSize    int

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// New builds a SubmitWorker.
func New(owner string, q *queue.Queue, r *router.Router, adapters Adapters, registry *provider.Registry, gov *governor.Governor, l *ledger.Ledger, artifacts *artifactstore.Store, bus *eventbus.Bus, log *logger.Logger) *SubmitWorker {
	if log == nil {
		log = logger.NewDefault("submit-worker")
	}
	return &SubmitWorker{
		owner:        owner,
		queue:        q,
		router:       r,
		adapters:     adapters,
		registry:     registry,
		gov:          gov,
		ledger:       l,
		artifacts:    artifacts,
		bus:          bus,
		log:          log,
		nowFunc:      time.Now,
		tickInterval: time.Second,
		batchSize:    20,
	}
}

func (w *SubmitWorker) Name() string { return "submit-worker-" + w.owner }

// Start begins the dequeue loop.
func (w *SubmitWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.running = true
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				w.tick(runCtx)
			}
		}
	}()

	w.log.Info("submit-worker started")
	return nil
}

// Stop halts the dequeue loop and waits for the in-flight tick to finish.
func (w *SubmitWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	cancel := w.cancel
	w.running = false
	w.cancel = nil
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.wg.Wait()
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (w *SubmitWorker) tick(ctx context.Context) {
	jobs, err := w.queue.Dequeue(ctx, w.owner, w.batchSize)
	if err != nil {
		w.log.WithError(err).Warn("dequeue pending failed")
		return
	}
	for _, j := range jobs {
		w.dispatch(ctx, j)
	}
}

// dispatch implements the submit flow from §2: the Router builds a
// fallback chain, and the first candidate that accepts Submit wins. Each
// candidate re-checks the Governor with its own estimate immediately
// before the PROCESSING transition, closing the TOCTOU window between the
// Facade's initial approval and the actual provider dispatch.
func (w *SubmitWorker) dispatch(ctx context.Context, j job.Job) {
	chain := w.router.Select(router.Request{Prompt: j.Prompt, Mode: j.Mode, Tools: j.Tools, Choice: j.ProviderChoice})
	if len(chain) == 0 {
		w.terminalFail(ctx, j.ID, apperrors.NoProviderAvailable("no provider satisfies this request").Error())
		return
	}

	for _, candidate := range chain {
		if w.trySubmit(ctx, j, candidate) {
			return
		}
	}
	w.terminalFail(ctx, j.ID, "every candidate in the fallback chain rejected submission")
}

// trySubmit attempts one candidate. It returns true once the job has been
// definitively handled (submitted successfully, or rejected in a way that
// should stop the fallback chain); false means try the next candidate.
func (w *SubmitWorker) trySubmit(ctx context.Context, j job.Job, candidate router.Candidate) bool {
	adapter, ok := w.adapters.Get(candidate.Provider)
	if !ok {
		return false
	}
	if _, err := w.registry.Lookup(candidate.Provider, candidate.Model); err != nil {
		return false
	}

	req := provider.Request{JobID: j.ID, Prompt: j.Prompt, Mode: j.Mode, Model: candidate.Model, Tools: j.Tools, IdempotencyKey: j.ID}
	estimated := adapter.Estimate(ctx, req)

	decision, err := w.gov.CheckSubmit(ctx, estimated, false)
	if err != nil || decision == governor.DecisionDeny {
		if err != nil {
			w.log.WithError(err).WithField("job_id", j.ID).Warn("governor denied dispatch candidate")
		}
		return false
	}

	result, err := adapter.Submit(ctx, req)
	if err != nil {
		class := adapter.ClassifyError(err)
		w.gov.RecordProviderFailure()
		w.router.RecordOutcome(candidate.Provider, candidate.Model, j.Mode, 0, false)
		w.log.WithError(err).WithField("provider", candidate.Provider).WithField("job_id", j.ID).WithField("error_class", class).Warn("adapter submit failed")
		return false
	}
	w.gov.RecordProviderSuccess()

	if err := w.ledger.RecordEstimate(ctx, j.ID, candidate.Provider, candidate.Model, estimated, w.nowFunc().UTC()); err != nil {
		w.log.WithError(err).WithField("job_id", j.ID).Warn("estimate ledger append failed")
	}

	ok2, err := w.queue.BeginProcessing(ctx, j.ID, candidate.Provider, candidate.Model, result.ExternalID)
	if err != nil || !ok2 {
		if err != nil && !apperrors.Is(err, apperrors.KindQueueConflict) {
			w.log.WithError(err).WithField("job_id", j.ID).Warn("begin processing transition failed")
		}
		return true
	}
	w.publish(ctx, j.ID, eventbus.JobStatusChanged, string(job.StatusPending), string(job.StatusProcessing))

	if result.InitialStatus == provider.RemoteSucceeded && result.SynchronousResult != nil {
		w.completeSynchronous(ctx, j.ID, candidate, *result.SynchronousResult)
	}
	return true
}

// completeSynchronous handles a SYNCHRONOUS-mode provider's inline result,
// per §4.2: "the Queue then transitions straight to COMPLETED without
// involving the Poller."
func (w *SubmitWorker) completeSynchronous(ctx context.Context, jobID string, candidate router.Candidate, art artifact.Artifact) {
	entry, err := w.registry.Lookup(candidate.Provider, candidate.Model)
	costActual := money.FromFloat(0)
	if err == nil {
		dollars := float64(art.TokenUsage.Input)/1_000_000*entry.Pricing.InputPerMillion +
			float64(art.TokenUsage.Output)/1_000_000*entry.Pricing.OutputPerMillion +
			float64(art.TokenUsage.Reasoning)/1_000_000*entry.Pricing.ReasoningPerMillion
		costActual = money.FromFloat(dollars)
	}

	ok, err := w.queue.Complete(ctx, jobID, costActual)
	if err != nil || !ok {
		if err != nil {
			w.log.WithError(err).WithField("job_id", jobID).Warn("synchronous complete transition failed")
		}
		return
	}

	completed, err := w.queue.Get(ctx, jobID)
	if err != nil {
		w.log.WithError(err).WithField("job_id", jobID).Warn("reload completed job failed")
		return
	}
	if _, err := w.artifacts.Persist(ctx, completed, art); err != nil {
		w.log.WithError(err).WithField("job_id", jobID).Warn("artifact persist failed")
	}
	if err := w.ledger.RecordRealized(ctx, jobID, candidate.Provider, candidate.Model, costActual,
		art.TokenUsage.Input, art.TokenUsage.Output, w.nowFunc().UTC()); err != nil {
		w.log.WithError(err).WithField("job_id", jobID).Warn("realized cost append failed")
	}
	w.router.RecordOutcome(candidate.Provider, candidate.Model, completed.Mode, entry.TypicalLatency, true)
	w.publish(ctx, jobID, eventbus.JobCompleted, "", "")
}

func (w *SubmitWorker) terminalFail(ctx context.Context, jobID, reason string) {
	if _, err := w.queue.FailPending(ctx, jobID, reason); err != nil {
		w.log.WithError(err).WithField("job_id", jobID).Warn("fail-pending transition failed")
		return
	}
	w.publish(ctx, jobID, eventbus.JobFailed, "", reason)
}

func (w *SubmitWorker) publish(ctx context.Context, jobID string, t eventbus.Type, from, to string) {
	if w.bus == nil {
		return
	}
	w.bus.Publish(ctx, eventbus.Event{Type: t, JobID: jobID, From: from, To: to})
}
