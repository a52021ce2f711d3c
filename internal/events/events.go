package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	EventQueueAdded   = "queue_added"
	EventQueueUpdated = "queue_updated"
	EventQueueRemoved = "queue_removed"
	EventQueueCleared = "queue_cleared"
)

// Event is a lightweight queue-change notification. QueueID is empty for
// bulk operations such as clearing synced entries.
type Event struct {
	Type    string
	QueueID string
	At      time.Time
}

// Listener reacts to a queue change. Listeners run synchronously on the
// mutating goroutine and must not block.
type Listener func(Event)

// Bus fans queue-change events out to current subscribers. A panicking
// listener is logged and skipped; it never prevents other listeners from
// running or propagates to the caller of the mutating operation.
type Bus struct {
	mu        sync.Mutex
	seq       int
	listeners map[int]Listener
	log       zerolog.Logger
}

// NewBus constructs an empty bus.
func NewBus(logger *zerolog.Logger) *Bus {
	log := zerolog.Nop()
	if logger != nil {
		log = logger.With().Str("component", "events").Logger()
	}
	return &Bus{listeners: make(map[int]Listener), log: log}
}

// Subscribe registers a listener and returns its unsubscribe function.
// Unsubscribing twice is a no-op.
func (b *Bus) Subscribe(fn Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	id := b.seq
	b.listeners[id] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.listeners, id)
	}
}

// Publish notifies all current subscribers synchronously.
func (b *Bus) Publish(event Event) {
	if b == nil {
		return
	}
	if event.At.IsZero() {
		event.At = time.Now()
	}

	b.mu.Lock()
	listeners := make([]Listener, 0, len(b.listeners))
	for _, fn := range b.listeners {
		listeners = append(listeners, fn)
	}
	b.mu.Unlock()

	for _, fn := range listeners {
		b.notify(fn, event)
	}
}

func (b *Bus) notify(fn Listener, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Interface("panic", r).Str("event", event.Type).Msg("listener panicked")
		}
	}()
	fn(event)
}
