// Package presence keeps each user's online flag in sync with heartbeats and
// debounced visibility signals.
package presence

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"anonpair/backend/internal/config"
	"anonpair/backend/internal/faults"
	"anonpair/backend/internal/models"
)

// Store is the slice of the persistence layer the tracker needs.
type Store interface {
	UpsertPresence(ctx context.Context, rec *models.PresenceRecord) error
	GetPresence(ctx context.Context, userID string) (*models.PresenceRecord, error)
	ListOnlineUsers(ctx context.Context, excluding string) ([]string, error)
	TouchHeartbeat(ctx context.Context, userID string, ttl time.Duration) error
	IsHeartbeatLive(ctx context.Context, userID string) (bool, error)
}

// Tracker coalesces presence writes. Rapid focus/blur flapping is absorbed
// two ways: a debounce window collapses bursts into one trailing write, and
// a write whose value equals the last committed value is suppressed entirely.
type Tracker struct {
	store        Store
	debounce     time.Duration
	heartbeatTTL time.Duration

	mu        sync.Mutex
	lastKnown map[string]bool        // last value successfully committed
	dirty     map[string]bool        // failed writes, retried on heartbeat
	desired   map[string]bool        // pending debounced value
	timers    map[string]*time.Timer // one trailing-edge timer per user
}

// NewTracker builds a tracker. A zero debounce makes SetOnline synchronous,
// which tests and the heartbeat path rely on.
func NewTracker(store Store, debounce, heartbeatTTL time.Duration) *Tracker {
	return &Tracker{
		store:        store,
		debounce:     debounce,
		heartbeatTTL: heartbeatTTL,
		lastKnown:    make(map[string]bool),
		dirty:        make(map[string]bool),
		desired:      make(map[string]bool),
		timers:       make(map[string]*time.Timer),
	}
}

// SetOnline records the desired online state. With a debounce window the
// write happens once the burst settles; without one it happens inline. Either
// way a redundant value produces no store traffic.
func (t *Tracker) SetOnline(ctx context.Context, userID string, online bool) error {
	if t.debounce <= 0 {
		return t.commit(ctx, userID, online)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.desired[userID] = online
	if timer, ok := t.timers[userID]; ok {
		timer.Reset(t.debounce)
		return nil
	}
	t.timers[userID] = time.AfterFunc(t.debounce, func() { t.flush(userID) })
	return nil
}

// flush commits the settled value after the debounce window closes.
func (t *Tracker) flush(userID string) {
	t.mu.Lock()
	online, ok := t.desired[userID]
	delete(t.desired, userID)
	delete(t.timers, userID)
	t.mu.Unlock()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.OpTimeout)
	defer cancel()
	if err := t.commit(ctx, userID, online); err != nil {
		log.Printf("presence: deferred write for %s failed: %v", userID, err)
	}
}

// commit performs the suppressed write. A failure is remembered so the next
// heartbeat tick retries it; presence failures are never fatal to chat flow.
func (t *Tracker) commit(ctx context.Context, userID string, online bool) error {
	t.mu.Lock()
	if known, ok := t.lastKnown[userID]; ok && known == online && !t.dirty[userID] {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	err := t.store.UpsertPresence(ctx, &models.PresenceRecord{
		UserID:          userID,
		Online:          online,
		LastHeartbeatAt: time.Now(),
	})

	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		t.dirty[userID] = true
		log.Printf("presence: write for %s failed, will retry on heartbeat: %v", userID, err)
		return err
	}
	t.lastKnown[userID] = online
	delete(t.dirty, userID)
	return nil
}

// Heartbeat refreshes the liveness TTL and revalidates online=true. Called on
// a fixed timer while the client is active; any previously failed write is
// retried here.
func (t *Tracker) Heartbeat(ctx context.Context, userID string) error {
	if err := t.store.TouchHeartbeat(ctx, userID, t.heartbeatTTL); err != nil {
		log.Printf("presence: heartbeat touch for %s failed: %v", userID, err)
		return err
	}
	return t.commit(ctx, userID, true)
}

// Status reports whether one user currently counts as online: the stored
// flag and a live heartbeat must both hold. A user with no presence record
// yet simply reads offline.
func (t *Tracker) Status(ctx context.Context, userID string) (bool, error) {
	rec, err := t.store.GetPresence(ctx, userID)
	if errors.Is(err, faults.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !rec.Online {
		return false, nil
	}
	return t.store.IsHeartbeatLive(ctx, userID)
}

// ListOnline returns users currently online, excluding the given one. The DB
// flag is intersected with heartbeat liveness so a crashed client that never
// flipped its flag still reads as offline.
func (t *Tracker) ListOnline(ctx context.Context, excluding string) ([]string, error) {
	ids, err := t.store.ListOnlineUsers(ctx, excluding)
	if err != nil {
		return nil, err
	}

	online := ids[:0]
	for _, id := range ids {
		live, err := t.store.IsHeartbeatLive(ctx, id)
		if err != nil {
			log.Printf("presence: liveness check for %s failed: %v", id, err)
			continue
		}
		if live {
			online = append(online, id)
		}
	}
	return online, nil
}
