// Package eventbus implements the Event Bus (C10): in-process pub/sub for
// lifecycle events consumed by the CLI, dashboard, and agent-facing RPC
// surfaces named in spec §6.
package eventbus

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/deepresearch/engine/internal/logger"
)

// Type enumerates the engine-to-surface events from spec §6.
type Type string

const (
	JobCreated             Type = "job_created"
	JobStatusChanged       Type = "job_status_changed"
	JobCompleted           Type = "job_completed"
	JobFailed              Type = "job_failed"
	JobCanceled            Type = "job_canceled"
	CampaignPhaseStarted   Type = "campaign_phase_started"
	CampaignPhaseCompleted Type = "campaign_phase_completed"
	CampaignPaused         Type = "campaign_paused"
	BudgetAlert            Type = "budget_alert"
	ProviderAutoDisabled   Type = "provider_auto_disabled"
)

// terminalTypes are the events that end a job's lifecycle, used by
// WaitForTerminal.
var terminalTypes = map[Type]bool{JobCompleted: true, JobFailed: true, JobCanceled: true}

// Event is one published lifecycle notification.
type Event struct {
	Type       Type
	JobID      string
	CampaignID string
	From       string // for JobStatusChanged
	To         string
	Reason     string
	Payload    map[string]any
	OccurredAt time.Time
}

// Filter narrows a Subscribe call. A zero Filter matches everything.
type Filter struct {
	Types      []Type
	JobID      string
	CampaignID string
}

func (f Filter) matches(e Event) bool {
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if t == e.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.JobID != "" && e.JobID != f.JobID {
		return false
	}
	if f.CampaignID != "" && e.CampaignID != f.CampaignID {
		return false
	}
	return true
}

const subscriberBuffer = 32

type subscription struct {
	id     int
	ch     chan Event
	filter Filter
}

// Bus is a single-process, fan-out publish/subscribe hub. Safe for
// concurrent use; slow subscribers are dropped-from rather than allowed to
// block publishers.
type Bus struct {
	log  *logger.Logger
	done chan struct{}

	register   chan *subscription
	unregister chan int
	publishCh  chan Event

	registry map[int]*subscription
	nextID   atomic.Int64
}

// New starts a Bus. Callers must call Close when done.
func New(log *logger.Logger) *Bus {
	if log == nil {
		log = logger.NewDefault("eventbus")
	}
	b := &Bus{
		log:        log,
		register:   make(chan *subscription),
		unregister: make(chan int),
		publishCh:  make(chan Event, 256),
		registry:   make(map[int]*subscription),
		done:       make(chan struct{}),
	}
	go b.loop()
	return b
}

func (b *Bus) loop() {
	for {
		select {
		case <-b.done:
			for _, s := range b.registry {
				close(s.ch)
			}
			return
		case s := <-b.register:
			b.registry[s.id] = s
		case id := <-b.unregister:
			if s, ok := b.registry[id]; ok {
				close(s.ch)
				delete(b.registry, id)
			}
		case e := <-b.publishCh:
			for _, s := range b.registry {
				if !s.filter.matches(e) {
					continue
				}
				select {
				case s.ch <- e:
				default:
					b.log.WithField("event_type", e.Type).Warn("event bus subscriber buffer full; dropping event")
				}
			}
		}
	}
}

// Publish fans e out to every matching subscriber without blocking on slow
// consumers. OccurredAt is stamped if unset.
func (b *Bus) Publish(ctx context.Context, e Event) {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	select {
	case b.publishCh <- e:
	case <-ctx.Done():
	case <-b.done:
	}
}

// Subscribe returns a channel of events matching filter and an unsubscribe
// function. The channel is closed on unsubscribe or Bus.Close.
func (b *Bus) Subscribe(filter Filter) (<-chan Event, func()) {
	id := int(b.nextID.Add(1))
	s := &subscription{id: id, ch: make(chan Event, subscriberBuffer), filter: filter}
	select {
	case b.register <- s:
	case <-b.done:
	}
	unsubscribe := func() {
		select {
		case b.unregister <- id:
		case <-b.done:
		}
	}
	return s.ch, unsubscribe
}

// WaitForTerminal blocks (without busy-waiting) until jobID reaches a
// terminal event, or ctx is canceled. This backs the Campaign
// Orchestrator's phase-completion wait from §4.6 step d.
func (b *Bus) WaitForTerminal(ctx context.Context, jobID string) (Event, error) {
	ch, unsubscribe := b.Subscribe(Filter{JobID: jobID, Types: []Type{JobCompleted, JobFailed, JobCanceled}})
	defer unsubscribe()
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return Event{}, ctx.Err()
			}
			if terminalTypes[e.Type] {
				return e, nil
			}
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}

// Close stops the bus's dispatch loop and closes every subscriber channel.
func (b *Bus) Close() {
	select {
	case <-b.done:
	default:
		close(b.done)
	}
}
