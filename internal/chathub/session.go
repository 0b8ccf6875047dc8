package chathub

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"anonpair/backend/internal/faults"
	"anonpair/backend/internal/models"
	"anonpair/backend/internal/storage"
)

// SessionManager owns chat session identity. Session creation is expected to
// race: both participants' clients may trigger it independently, so the
// unique index on the canonical pair is the linearization point and a
// conflict means "adopt the winner's row", not failure.
type SessionManager struct {
	store storage.Store
	bus   *EventBus

	retryAttempts int
	retryBase     time.Duration
}

func NewSessionManager(store storage.Store, bus *EventBus, retryAttempts int, retryBase time.Duration) *SessionManager {
	if retryAttempts < 1 {
		retryAttempts = 1
	}
	return &SessionManager{
		store:         store,
		bus:           bus,
		retryAttempts: retryAttempts,
		retryBase:     retryBase,
	}
}

// CreateSession returns the single canonical active session for the pair,
// inserting it if absent. Argument order does not matter. On a uniqueness
// conflict the existing row is re-queried with bounded, increasing delays to
// ride out visibility lag; only after those are exhausted does the caller see
// faults.ErrTransientConflict and may retry from scratch.
func (sm *SessionManager) CreateSession(ctx context.Context, userA, userB string) (*models.ChatSession, error) {
	if userA == userB {
		return nil, fmt.Errorf("cannot create session of %s with themselves", userA)
	}
	low, high := models.CanonicalPair(userA, userB)

	session := &models.ChatSession{
		ID:       uuid.New().String(),
		UserLow:  low,
		UserHigh: high,
		Status:   models.SessionActive,
	}

	inserted, err := sm.store.InsertSession(ctx, session)
	if err != nil {
		return nil, err
	}
	if inserted {
		if err := sm.bus.Publish(ctx, models.Event{
			Type:      models.EventSessionCreated,
			UserID:    low,
			PartnerID: high,
			SessionID: session.ID,
		}); err != nil {
			log.Printf("session: publish created %s failed: %v", session.ID, err)
		}
		return session, nil
	}

	// Lost the insert race: someone else's row is canonical now.
	var existing *models.ChatSession
	err = faults.RetryTransient(ctx, sm.retryAttempts, sm.retryBase, func() error {
		found, err := sm.store.ActiveSessionForPair(ctx, low, high)
		if errors.Is(err, faults.ErrNotFound) {
			// The winner's row is not visible yet (or was already ended
			// again). Treat as transient and look again.
			return faults.ErrTransientConflict
		}
		if err != nil {
			return err
		}
		existing = found
		return nil
	})
	if err != nil {
		if errors.Is(err, faults.ErrTransientConflict) {
			return nil, faults.ErrTransientConflict
		}
		return nil, err
	}
	return existing, nil
}

// EndSession marks the session ended and notifies both participants. Ending
// an already-ended session is a no-op success.
func (sm *SessionManager) EndSession(ctx context.Context, id string) error {
	session, err := sm.store.GetSession(ctx, id)
	if errors.Is(err, faults.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if session.Status == models.SessionEnded {
		return nil
	}

	if err := sm.store.EndSession(ctx, id); err != nil {
		return err
	}
	if err := sm.bus.Publish(ctx, models.Event{
		Type:      models.EventSessionEnded,
		UserID:    session.UserLow,
		PartnerID: session.UserHigh,
		SessionID: session.ID,
	}); err != nil {
		log.Printf("session: publish ended %s failed: %v", id, err)
	}
	return nil
}

// Get fetches a session, enforcing that the caller is one of its two
// participants.
func (sm *SessionManager) Get(ctx context.Context, id, callerID string) (*models.ChatSession, error) {
	session, err := sm.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if !session.HasParticipant(callerID) {
		return nil, faults.ErrUnauthorized
	}
	return session, nil
}
