package chathub

import (
	"context"
	"errors"
	"log"
	"time"

	"anonpair/backend/internal/faults"
	"anonpair/backend/internal/models"
	"anonpair/backend/internal/storage"
)

// QueueService is the single waiting-room both the pull-based matcher and the
// passive push listeners draw from. It is a thin layer over the queue_entries
// table; the DB is what makes joins idempotent and leaves race-safe across
// processes.
type QueueService struct {
	store storage.Store
	bus   *EventBus
}

func NewQueueService(store storage.Store, bus *EventBus) *QueueService {
	return &QueueService{store: store, bus: bus}
}

// Join inserts a queue entry for the user. Re-joining while already queued is
// a silent no-op, so retried client calls are safe.
func (q *QueueService) Join(ctx context.Context, req models.MatchRequest) error {
	return q.store.EnqueueUser(ctx, &models.QueueEntry{
		UserID:           req.UserID,
		Gender:           req.Gender,
		GenderPreference: req.GenderPreference,
		Interests:        req.Interests,
		EnqueuedAt:       time.Now(),
	})
}

// Leave removes the user's entry; removing a non-existent entry succeeds
// silently. When the entry was actually deleted a queue-removal event is
// published so listeners re-check their state.
//
// Leaving is safe even while a match is forming: the matcher may have claimed
// this entry a moment earlier, so the caller must re-check for a resulting
// active session and adopt it rather than discard it. ResolveDeparture does
// both steps.
func (q *QueueService) Leave(ctx context.Context, userID string) error {
	removed, err := q.store.ClaimQueueEntry(ctx, userID)
	if err != nil {
		return err
	}
	if removed {
		if err := q.bus.Publish(ctx, models.Event{Type: models.EventQueueRemoved, UserID: userID}); err != nil {
			log.Printf("queue: publish removal for %s failed: %v", userID, err)
		}
	}
	return nil
}

// ResolveDeparture leaves the queue and returns the active session that a
// concurrent matcher may already have created for this user, or nil when the
// user left cleanly.
func (q *QueueService) ResolveDeparture(ctx context.Context, userID string) (*models.ChatSession, error) {
	if err := q.Leave(ctx, userID); err != nil {
		return nil, err
	}
	session, err := q.store.ActiveSessionForUser(ctx, userID)
	if errors.Is(err, faults.ErrNotFound) {
		return nil, nil // no session formed; the leave stands
	}
	if err != nil {
		return nil, err
	}
	return session, nil
}

// Position returns the user's 1-based FIFO rank, or 0 when not queued.
func (q *QueueService) Position(ctx context.Context, userID string) (int, error) {
	return q.store.QueuePosition(ctx, userID)
}
