package chathub

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"

	"anonpair/backend/internal/models"
	"anonpair/backend/internal/storage"
)

// EventHandler consumes one realtime event. Delivery is at-least-once and
// unordered across event kinds, so handlers must treat the payload as a hint
// and re-fetch authoritative state, and must tolerate duplicates.
type EventHandler func(models.Event)

// Subscription is an explicit delivery handle. The owning context must call
// Unsubscribe when it tears down, or the handler leaks.
type Subscription struct {
	id      uint64
	bus     *EventBus
	match   func(models.Event) bool
	handler EventHandler
}

func (s *Subscription) Unsubscribe() {
	s.bus.remove(s.id)
}

// EventPublisher is the outbound half of the bus; the storage layer owns the
// channel name and the wire encoding.
type EventPublisher interface {
	PublishEvent(ctx context.Context, ev models.Event) error
}

// EventBus fans Redis pub/sub traffic out to predicate-filtered local
// subscribers. Every process publishes to one channel and receives its own
// publications back through Redis, so single-node and multi-node deployments
// behave identically.
type EventBus struct {
	rdb       *redis.Client
	publisher EventPublisher

	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]*Subscription
}

func NewEventBus(rdb *redis.Client, publisher EventPublisher) *EventBus {
	return &EventBus{
		rdb:       rdb,
		publisher: publisher,
		subs:      make(map[uint64]*Subscription),
	}
}

// Run blocks consuming the events channel until ctx is done. Start it in its
// own goroutine before any Publish whose delivery matters.
func (b *EventBus) Run(ctx context.Context) {
	pubsub := b.rdb.Subscribe(ctx, storage.EventsChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev models.Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Printf("eventbus: bad payload: %v", err)
				continue
			}
			b.dispatch(ev)
		}
	}
}

// Publish puts an event on the shared channel.
func (b *EventBus) Publish(ctx context.Context, ev models.Event) error {
	return b.publisher.PublishEvent(ctx, ev)
}

// Subscribe registers a handler for events matching the predicate.
func (b *EventBus) Subscribe(match func(models.Event) bool, handler EventHandler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{id: b.nextID, bus: b, match: match, handler: handler}
	b.subs[sub.id] = sub
	return sub
}

func (b *EventBus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

func (b *EventBus) dispatch(ev models.Event) {
	b.mu.Lock()
	matched := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.match == nil || sub.match(ev) {
			matched = append(matched, sub)
		}
	}
	b.mu.Unlock()

	for _, sub := range matched {
		sub.handler(ev)
	}
}

// --- Canned predicates for the three streams the core depends on ---

// QueueRemovalsFor matches deletions of the given user's queue entry:
// "you were matched or left, re-check for a resulting session".
func QueueRemovalsFor(userID string) func(models.Event) bool {
	return func(ev models.Event) bool {
		return ev.Type == models.EventQueueRemoved && ev.UserID == userID
	}
}

// SessionChangesFor matches session creations and ends naming the user as a
// participant.
func SessionChangesFor(userID string) func(models.Event) bool {
	return func(ev models.Event) bool {
		if ev.Type != models.EventSessionCreated && ev.Type != models.EventSessionEnded {
			return false
		}
		return ev.UserID == userID || ev.PartnerID == userID
	}
}

// MessagesIn matches message arrivals scoped to one session.
func MessagesIn(sessionID string) func(models.Event) bool {
	return func(ev models.Event) bool {
		return ev.Type == models.EventMessageCreated && ev.SessionID == sessionID
	}
}
