package auth

import (
	"log/slog"
	"sync"
)

// EventType identifies an authentication state change.
type EventType string

const (
	EventSignedIn  EventType = "SIGNED_IN"
	EventSignedOut EventType = "SIGNED_OUT"
)

// Event is published on every sign-in and sign-out. Session is nil for
// EventSignedOut.
type Event struct {
	Type    EventType
	UserID  string
	Session *Session
}

// Notifier fans authentication events out to subscribers.
//
// Publish never blocks the request that triggered it: a subscriber whose
// buffer is full misses the event, and the drop is logged. Consumers that
// must not miss work (profile reconciliation) also run on the request path.
type Notifier struct {
	logger *slog.Logger

	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
}

// NewNotifier creates an empty Notifier.
func NewNotifier(logger *slog.Logger) *Notifier {
	return &Notifier{logger: logger, subs: make(map[int]chan Event)}
}

// Subscribe registers a listener. The returned cancel func unregisters it
// and closes the channel; it is safe to call more than once.
func (n *Notifier) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, max(buffer, 1))

	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.subs[id] = ch
	n.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs, id)
			n.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers ev to every subscriber without blocking.
func (n *Notifier) Publish(ev Event) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for id, ch := range n.subs {
		select {
		case ch <- ev:
		default:
			n.logger.Warn("auth event dropped",
				slog.String("event", string(ev.Type)),
				slog.Int("subscriber", id),
			)
		}
	}
}
