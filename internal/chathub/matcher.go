package chathub

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"sort"
	"time"

	"anonpair/backend/internal/faults"
	"anonpair/backend/internal/models"
	"anonpair/backend/internal/presence"
	"anonpair/backend/internal/storage"
)

// ErrNoMatch means no eligible partner is available yet; the caller stays
// queued and waits for a push notification.
var ErrNoMatch = errors.New("no eligible partner available yet")

// Matcher pairs a requesting user with a compatible waiting one. The claim on
// a candidate is their queue entry's deletion: if the conditional delete hits
// zero rows a concurrent matcher got them first, and the scan moves on. Two
// simultaneous matchers can therefore never both win the same candidate.
type Matcher struct {
	store    storage.Store
	tracker  *presence.Tracker
	sessions *SessionManager
	queue    *QueueService
	bus      *EventBus

	scanAttempts int
	scanBackoff  time.Duration
	skipDelay    time.Duration
}

func NewMatcher(
	store storage.Store,
	tracker *presence.Tracker,
	sessions *SessionManager,
	queue *QueueService,
	bus *EventBus,
	scanAttempts int,
	scanBackoff, skipDelay time.Duration,
) *Matcher {
	if scanAttempts < 1 {
		scanAttempts = 1
	}
	return &Matcher{
		store:        store,
		tracker:      tracker,
		sessions:     sessions,
		queue:        queue,
		bus:          bus,
		scanAttempts: scanAttempts,
		scanBackoff:  scanBackoff,
		skipDelay:    skipDelay,
	}
}

// Sessions exposes the session manager the matcher creates sessions through.
func (m *Matcher) Sessions() *SessionManager { return m.sessions }

// compatible reports whether a queued candidate is eligible for the request:
// interest sets intersect when the requester specified any, and each side's
// gender preference accepts the other's declared gender when both are set.
func compatible(req models.MatchRequest, cand models.QueueEntry) bool {
	if len(req.Interests) > 0 && !cand.HasInterestOverlap(req.Interests) {
		return false
	}
	return prefAccepts(req.GenderPreference, cand.Gender) &&
		prefAccepts(cand.GenderPreference, req.Gender)
}

func prefAccepts(preference, gender string) bool {
	return preference == "" || gender == "" || preference == gender
}

// FindMatch scans the queue for a compatible partner and atomically claims
// both entries. Candidates are tried oldest-waiter-first; with no filters
// active the pick is uniformly random. Losing every claim triggers a bounded
// rescan and then ErrNoMatch, unless the request allows the bootstrap path,
// which pairs with any online user instead.
func (m *Matcher) FindMatch(ctx context.Context, req models.MatchRequest) (*models.ChatSession, error) {
	for attempt := 0; attempt < m.scanAttempts; attempt++ {
		entries, err := m.store.ListQueueEntries(ctx)
		if err != nil {
			return nil, err
		}

		eligible := make([]models.QueueEntry, 0, len(entries))
		for _, e := range entries {
			if e.UserID == req.UserID {
				continue
			}
			if compatible(req, e) {
				eligible = append(eligible, e)
			}
		}
		if len(eligible) == 0 {
			break
		}
		// Oldest waiter first, ties broken by user id so concurrent matchers
		// walk the candidates in the same order.
		sort.SliceStable(eligible, func(i, j int) bool {
			if eligible[i].EnqueuedAt.Equal(eligible[j].EnqueuedAt) {
				return eligible[i].UserID < eligible[j].UserID
			}
			return eligible[i].EnqueuedAt.Before(eligible[j].EnqueuedAt)
		})
		if !req.HasFilters() {
			rand.Shuffle(len(eligible), func(i, j int) {
				eligible[i], eligible[j] = eligible[j], eligible[i]
			})
		}

		for _, cand := range eligible {
			won, err := m.store.ClaimQueueEntry(ctx, cand.UserID)
			if err != nil {
				return nil, err
			}
			if !won {
				// A concurrent matcher claimed them between the scan and the
				// delete. Try the next candidate.
				continue
			}
			return m.finishMatch(ctx, req, cand.UserID)
		}

		// Every candidate in this scan was snatched away. Rescan after a
		// short pause; fresh joins may have arrived too.
		if attempt < m.scanAttempts-1 {
			timer := time.NewTimer(m.scanBackoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
	}

	if req.AnyOnline {
		return m.matchAnyOnline(ctx, req)
	}
	return nil, ErrNoMatch
}

// finishMatch removes the requester's own entry, announces both removals and
// produces the canonical session.
func (m *Matcher) finishMatch(ctx context.Context, req models.MatchRequest, partnerID string) (*models.ChatSession, error) {
	// The requester may not be queued at all in pull mode; their removal is
	// best-effort.
	if _, err := m.store.ClaimQueueEntry(ctx, req.UserID); err != nil {
		log.Printf("matcher: removing own entry for %s failed: %v", req.UserID, err)
	}
	for _, id := range []string{partnerID, req.UserID} {
		if err := m.bus.Publish(ctx, models.Event{Type: models.EventQueueRemoved, UserID: id}); err != nil {
			log.Printf("matcher: publish removal for %s failed: %v", id, err)
		}
	}

	session, err := m.sessions.CreateSession(ctx, req.UserID, partnerID)
	if err != nil {
		return nil, err
	}
	log.Printf("matcher: paired %s with %s in session %s", req.UserID, partnerID, session.ID)
	return session, nil
}

// matchAnyOnline is the bootstrap path: with nobody eligible in the queue,
// pair with a uniformly random online user. Session-level dedup still applies
// through CreateSession.
func (m *Matcher) matchAnyOnline(ctx context.Context, req models.MatchRequest) (*models.ChatSession, error) {
	online, err := m.tracker.ListOnline(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if len(online) == 0 {
		return nil, ErrNoMatch
	}
	partnerID := online[rand.Intn(len(online))]
	return m.finishMatch(ctx, req, partnerID)
}

// Skip ends the user's current session and re-enters matchmaking for them
// after a short pause. The pause lets the other participant observe the end
// before any new session appears and keeps an immediate re-match with the
// just-departed partner unlikely. The ended status is committed before the
// re-queue ever starts.
func (m *Matcher) Skip(ctx context.Context, sessionID string, req models.MatchRequest) (*models.ChatSession, error) {
	session, err := m.sessions.Get(ctx, sessionID, req.UserID)
	if err != nil && !errors.Is(err, faults.ErrNotFound) {
		return nil, err
	}
	if session != nil {
		if err := m.sessions.EndSession(ctx, session.ID); err != nil {
			return nil, err
		}
	}

	timer := time.NewTimer(m.skipDelay)
	select {
	case <-ctx.Done():
		timer.Stop()
		return nil, ctx.Err()
	case <-timer.C:
	}

	if err := m.queue.Join(ctx, req); err != nil {
		return nil, err
	}
	found, err := m.FindMatch(ctx, req)
	if errors.Is(err, ErrNoMatch) {
		return nil, nil // queued; a push will finish the hand-off
	}
	return found, err
}
