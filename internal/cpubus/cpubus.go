// Package cpubus implements the process-wide CPU-overload event bus
// that AutoscaledPool subscribes to when Run starts and unsubscribes
// from before Run returns. Events published before Run starts are not
// seen by the pool.
package cpubus

import (
	"sync"

	"github.com/google/uuid"
)

// Event carries a single CPU-overload reading.
type Event struct {
	IsCPUOverloaded bool
}

// Handler receives published events. Implementations must not block or
// mutate bus state from within the callback.
type Handler func(Event)

// Bus is a process-wide publish/subscribe point for CPU-overload
// signals from an external supervisor. It is safe for concurrent use.
//
// Subscriptions are keyed by a uuid token so Unsubscribe is O(1) and
// exact: a pool removes precisely its own listener, never another
// pool's, which avoids leaking callbacks across test runs sharing one
// process.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[uuid.UUID]Handler
}

// New creates an empty Bus. Construct one before any pool subscribes
// and tear it down only after every pool has unsubscribed.
func New() *Bus {
	return &Bus{subscribers: make(map[uuid.UUID]Handler)}
}

// Subscribe registers fn and returns a token for Unsubscribe.
func (b *Bus) Subscribe(fn Handler) uuid.UUID {
	token := uuid.New()
	b.mu.Lock()
	b.subscribers[token] = fn
	b.mu.Unlock()
	return token
}

// Unsubscribe removes the handler registered under token, if any.
func (b *Bus) Unsubscribe(token uuid.UUID) {
	b.mu.Lock()
	delete(b.subscribers, token)
	b.mu.Unlock()
}

// Publish fans out ev to every current subscriber. Subscribers are
// invoked synchronously on the calling goroutine, mirroring the
// reference MultiEmitter's fan-out.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subscribers))
	for _, fn := range b.subscribers {
		handlers = append(handlers, fn)
	}
	b.mu.RUnlock()

	for _, fn := range handlers {
		fn(ev)
	}
}

// SubscriberCount reports the current number of active subscriptions,
// mainly for leak-detection in tests.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
