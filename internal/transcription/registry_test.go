package transcription

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/scribe/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func event(id uuid.UUID, status models.JobStatus, msg string) models.StatusEvent {
	return models.StatusEvent{JobID: id, Status: status, Message: msg}
}

func assertClosed(t *testing.T, sub *Subscription) {
	t.Helper()
	for {
		select {
		case _, ok := <-sub.Events():
			if !ok {
				return
			}
		default:
			t.Fatal("subscription channel is still open")
		}
	}
}

func TestRegistry_PushWithoutSubscriberIsNoop(t *testing.T) {
	r := NewRegistry(4)
	r.Push(event(uuid.New(), models.JobStatusProcessing, "working"))
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_DeliversInOrder(t *testing.T) {
	r := NewRegistry(4)
	id := uuid.New()
	sub := r.Register(id)

	r.Push(event(id, models.JobStatusProcessing, "one"))
	r.Push(event(id, models.JobStatusProcessing, "two"))

	assert.Equal(t, "one", (<-sub.Events()).Message)
	assert.Equal(t, "two", (<-sub.Events()).Message)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_OtherJobsEventsAreIgnored(t *testing.T) {
	r := NewRegistry(4)
	id := uuid.New()
	sub := r.Register(id)

	r.Push(event(uuid.New(), models.JobStatusCompleted, "someone else"))

	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_RegisterSupersedes(t *testing.T) {
	r := NewRegistry(4)
	id := uuid.New()

	first := r.Register(id)
	second := r.Register(id)

	assert.Equal(t, 1, r.Len())
	assertClosed(t, first)

	r.Push(event(id, models.JobStatusProcessing, "hello"))
	assert.Equal(t, "hello", (<-second.Events()).Message)

	cur, ok := r.Lookup(id)
	require.True(t, ok)
	assert.Same(t, second, cur)
}

func TestRegistry_TerminalEventDeliveredThenRemoved(t *testing.T) {
	for _, status := range []models.JobStatus{models.JobStatusCompleted, models.JobStatusFailed} {
		t.Run(string(status), func(t *testing.T) {
			r := NewRegistry(4)
			id := uuid.New()
			sub := r.Register(id)

			r.Push(event(id, status, "done"))
			assert.Equal(t, 0, r.Len())

			ev, ok := <-sub.Events()
			require.True(t, ok)
			assert.Equal(t, status, ev.Status)
			assertClosed(t, sub)

			// Further pushes are no-ops and must not panic on the closed channel.
			r.Push(event(id, status, "again"))
			assert.Equal(t, 0, r.Len())
		})
	}
}

func TestRegistry_FullBufferDropsSubscriber(t *testing.T) {
	r := NewRegistry(1)
	id := uuid.New()
	sub := r.Register(id)

	r.Push(event(id, models.JobStatusProcessing, "fits"))
	r.Push(event(id, models.JobStatusProcessing, "overflows"))
	assert.Equal(t, 0, r.Len())

	assert.Equal(t, "fits", (<-sub.Events()).Message)
	assertClosed(t, sub)
}

func TestRegistry_RemoveOnlyCurrent(t *testing.T) {
	r := NewRegistry(4)
	id := uuid.New()

	old := r.Register(id)
	cur := r.Register(id)

	r.Remove(id, old)
	assert.Equal(t, 1, r.Len(), "stale subscriber must not evict its replacement")

	r.Remove(id, cur)
	assert.Equal(t, 0, r.Len())
	assertClosed(t, cur)

	// Removing twice is harmless.
	r.Remove(id, cur)
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry(8)
	ids := make([]uuid.UUID, 20)
	for i := range ids {
		ids[i] = uuid.New()
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		id := id
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				sub := r.Register(id)
				r.Remove(id, sub)
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				r.Push(event(id, models.JobStatusProcessing, "tick"))
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, r.Len())
}
