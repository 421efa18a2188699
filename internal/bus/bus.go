// Package bus is the in-process event fanout connecting the Chat Gateway
// Client to its three independent consumers (Chat Watcher, Name Sync
// Watcher, Interaction Manager) without back-pointers between them.
//
// Grounded on the teacher's internal/daemon.ClientRegistry (notify.go): a
// mutex-guarded registry of subscribers, generalized from "one registered
// client per session id" to "any number of subscribers per event kind."
package bus

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/leonletto/discordbridge/internal/identity"
)

// Kind identifies one of the Chat Gateway Client's emitted event types
// (spec.md §4.1: "Emits ready, disconnect, error, message, thread_update,
// interaction").
type Kind string

const (
	KindReady        Kind = "ready"
	KindDisconnect   Kind = "disconnect"
	KindError        Kind = "error"
	KindMessage      Kind = "message"
	KindThreadUpdate Kind = "thread_update"
	KindInteraction  Kind = "interaction"
)

// Event is one occurrence on the bus. Payload is one of the Message*,
// ThreadUpdate, or Interaction types below, depending on Kind.
type Event struct {
	ID        string
	Kind      Kind
	At        time.Time
	Payload   any
}

// MessagePayload backs KindMessage.
type MessagePayload struct {
	ThreadID    string
	MessageID   string
	AuthorID    string
	AuthorIsBot bool
	Text        string
}

// ThreadUpdatePayload backs KindThreadUpdate.
type ThreadUpdatePayload struct {
	ThreadID            string
	ArchivedBefore      bool
	ArchivedAfter       bool
	AutoArchiveDuration time.Duration
}

// InteractionPayload backs KindInteraction.
type InteractionPayload struct {
	CustomID    string
	MessageID   string
	UserID      string
	IsComponent bool
	RawText     string // set for free-text replies routed as interactions
}

// ErrorPayload backs KindError.
type ErrorPayload struct {
	Err error
}

// Bus fans events out to any number of subscribers. Each subscriber gets
// its own buffered channel; a slow subscriber never blocks another.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]chan Event
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subscribers: make(map[string]chan Event)}
}

// Subscribe registers a new subscriber and returns its event channel and
// an id to later Unsubscribe with. The channel is closed on Unsubscribe.
func (b *Bus) Subscribe(buffer int) (id string, ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subID := identity.GenerateEventID()
	c := make(chan Event, buffer)
	b.subscribers[subID] = c
	return subID, c
}

// Unsubscribe removes and closes a subscriber's channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.subscribers[id]; ok {
		close(c)
		delete(b.subscribers, id)
	}
}

// Publish fans out ev to every current subscriber. A subscriber whose
// buffer is full has the event dropped for it, logged at warn level —
// publish never blocks the Chat Gateway Client's event loop.
func (b *Bus) Publish(ev Event) {
	if ev.ID == "" {
		ev.ID = identity.GenerateEventID()
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, c := range b.subscribers {
		select {
		case c <- ev:
		default:
			log.Warn().Str("subscriberId", id).Str("kind", string(ev.Kind)).Msg("bus subscriber buffer full, dropping event")
		}
	}
}
