package transcription

import (
	"sync"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/scribe/pkg/models"
)

const defaultSubscriberBuffer = 16

// Subscription is the single live push channel for one job.
// Its channel is closed when the job reaches a terminal state, when a newer
// subscriber replaces it, when delivery fails, or when it is removed.
type Subscription struct {
	JobID  uuid.UUID
	events chan models.StatusEvent
	once   sync.Once
}

// Events delivers future transitions of the job. It does not replay history.
func (s *Subscription) Events() <-chan models.StatusEvent {
	return s.events
}

func (s *Subscription) close() {
	s.once.Do(func() { close(s.events) })
}

// Registry maps a job id to at most one live Subscription.
// It is process-local; subscriptions do not survive a restart.
type Registry struct {
	mu     sync.Mutex
	subs   map[uuid.UUID]*Subscription
	buffer int
}

// NewRegistry creates a Registry whose subscriptions buffer up to buffer events.
// A subscriber that falls further behind is dropped.
func NewRegistry(buffer int) *Registry {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Registry{
		subs:   make(map[uuid.UUID]*Subscription),
		buffer: buffer,
	}
}

// Register installs a new subscription for jobID, closing any previous one.
func (r *Registry) Register(jobID uuid.UUID) *Subscription {
	sub := &Subscription{
		JobID:  jobID,
		events: make(chan models.StatusEvent, r.buffer),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.subs[jobID]; ok {
		old.close()
	}
	r.subs[jobID] = sub
	return sub
}

// Remove drops sub if it is still the registered subscription for jobID.
// Transports call it when the client goes away or the stream times out.
func (r *Registry) Remove(jobID uuid.UUID, sub *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.subs[jobID]; ok && cur == sub {
		delete(r.subs, jobID)
	}
	sub.close()
}

// Push delivers ev to the job's subscriber, if any. The send never blocks:
// a full buffer counts as a delivery failure and drops the subscriber.
// After a terminal event the subscription is closed and removed.
func (r *Registry) Push(ev models.StatusEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subs[ev.JobID]
	if !ok {
		return
	}

	select {
	case sub.events <- ev:
		if !ev.Status.IsTerminal() {
			return
		}
	default:
	}
	delete(r.subs, ev.JobID)
	sub.close()
}

// Len returns the number of live subscriptions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// Lookup returns the current subscription for jobID.
func (r *Registry) Lookup(jobID uuid.UUID) (*Subscription, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[jobID]
	return sub, ok
}
