package session

import (
	"sync"

	"github.com/randalmurphal/gptkit/apierr"
)

// EventType identifies a manager notification.
type EventType int

// Event types.
const (
	// EventReady fires once, when the first token is acquired or restored.
	EventReady EventType = iota + 1

	// EventRefreshed fires after every successful refresh.
	EventRefreshed

	// EventSecretRotated fires when the secret is replaced out of band.
	EventSecretRotated

	// EventError fires when a refresh or save fails.
	EventError
)

// String returns the event type name.
func (t EventType) String() string {
	switch t {
	case EventReady:
		return "ready"
	case EventRefreshed:
		return "refreshed"
	case EventSecretRotated:
		return "secret_rotated"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is a manager notification.
type Event struct {
	Type EventType
	Kind apierr.Kind // Set for EventError
	Err  error       // Set for EventError
}

// eventBufferSize is the per-subscriber buffer. Events that do not fit are
// dropped for that subscriber.
const eventBufferSize = 16

type broadcaster struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

func (b *broadcaster) subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs == nil {
		b.subs = make(map[int]chan Event)
	}
	id := b.next
	b.next++
	ch := make(chan Event, eventBufferSize)
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if ch, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(ch)
			}
		})
	}
}

func (b *broadcaster) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (b *broadcaster) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
