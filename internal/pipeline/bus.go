package pipeline

import (
	"sync"
	"time"

	"github.com/rackwise/rackwise-core/internal/infrastructure/logging"
)

// EventType identifies a class of internal event.
type EventType string

const (
	// EventProcessed fires after a canonical record completes fanout.
	EventProcessed EventType = "message.processed"

	// EventError fires when a frame fails to decode or map.
	EventError EventType = "message.error"

	// EventStateError fires when state tracking fails and the record
	// continues unannotated.
	EventStateError EventType = "state.error"

	// EventRelayed fires after a record is republished to the relay topic.
	EventRelayed EventType = "relay.message"

	// EventBatchStored fires after the write buffer persists a batch.
	EventBatchStored EventType = "db.batch.stored"

	// EventExpired fires when a cache entry ages out.
	EventExpired EventType = "data.expired"
)

// Event is a single bus notification.
type Event struct {
	Type      EventType
	Payload   any
	Timestamp time.Time
}

// Handler consumes bus events. Handlers run synchronously on the
// publisher's goroutine and must not block.
type Handler func(event Event)

// Bus is an in-process publish/subscribe fanout for pipeline events.
// A panicking handler is isolated; remaining handlers still run.
//
// Thread Safety: all methods are safe for concurrent use. Subscribe is
// expected at startup.
type Bus struct {
	log      *logging.Logger
	mu       sync.RWMutex
	handlers map[EventType][]Handler
}

// NewBus creates an empty event bus.
func NewBus(log *logging.Logger) *Bus {
	return &Bus{
		log:      log,
		handlers: make(map[EventType][]Handler),
	}
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(t EventType, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
}

// Publish delivers an event to every handler registered for its type.
func (b *Bus) Publish(t EventType, payload any) {
	b.mu.RLock()
	handlers := b.handlers[t]
	b.mu.RUnlock()

	event := Event{Type: t, Payload: payload, Timestamp: time.Now()}
	for _, h := range handlers {
		b.dispatch(h, event)
	}
}

func (b *Bus) dispatch(h Handler, event Event) {
	defer func() {
		if r := recover(); r != nil && b.log != nil {
			b.log.Error("event handler panic",
				"event", string(event.Type),
				"panic", r)
		}
	}()
	h(event)
}
