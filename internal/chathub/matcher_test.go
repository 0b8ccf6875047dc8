package chathub_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"anonpair/backend/internal/chathub"
	"anonpair/backend/internal/faults"
	"anonpair/backend/internal/models"
	"anonpair/backend/internal/presence"
)

func newTestMatcher(t *testing.T, store *MockStore) *chathub.Matcher {
	t.Helper()
	bus := newTestBus(t)
	tracker := presence.NewTracker(store, 0, time.Minute)
	sessions := chathub.NewSessionManager(store, bus, 3, time.Millisecond)
	queue := chathub.NewQueueService(store, bus)
	return chathub.NewMatcher(store, tracker, sessions, queue, bus, 3, time.Millisecond, time.Millisecond)
}

func entry(userID string, interests ...string) models.QueueEntry {
	return models.QueueEntry{UserID: userID, Interests: interests, EnqueuedAt: time.Now()}
}

func TestFindMatchPrefersOldestWaiter(t *testing.T) {
	store := new(MockStore)
	matcher := newTestMatcher(t, store)

	// user_B joined before user_C; both share the requested interest.
	store.On("ListQueueEntries", mock.Anything).
		Return([]models.QueueEntry{entry("user_B", "music"), entry("user_C", "music")}, nil)
	store.On("ClaimQueueEntry", mock.Anything, "user_B").Return(true, nil).Once()
	store.On("ClaimQueueEntry", mock.Anything, "user_A").Return(true, nil).Once()
	store.On("InsertSession", mock.Anything, mock.AnythingOfType("*models.ChatSession")).Return(true, nil).Once()

	session, err := matcher.FindMatch(context.Background(),
		models.MatchRequest{UserID: "user_A", Interests: []string{"music"}})

	require.NoError(t, err)
	require.NotNil(t, session)
	assert.True(t, session.HasParticipant("user_A"))
	assert.True(t, session.HasParticipant("user_B"))
	assert.Less(t, session.UserLow, session.UserHigh)
	store.AssertNotCalled(t, "ClaimQueueEntry", mock.Anything, "user_C")
}

func TestFindMatchLostClaimContinuesWithNextCandidate(t *testing.T) {
	store := new(MockStore)
	matcher := newTestMatcher(t, store)

	store.On("ListQueueEntries", mock.Anything).
		Return([]models.QueueEntry{entry("user_B", "music"), entry("user_C", "music")}, nil)
	// A concurrent matcher already claimed user_B: zero rows deleted.
	store.On("ClaimQueueEntry", mock.Anything, "user_B").Return(false, nil).Once()
	store.On("ClaimQueueEntry", mock.Anything, "user_C").Return(true, nil).Once()
	store.On("ClaimQueueEntry", mock.Anything, "user_A").Return(false, nil).Once()
	store.On("InsertSession", mock.Anything, mock.AnythingOfType("*models.ChatSession")).Return(true, nil).Once()

	session, err := matcher.FindMatch(context.Background(),
		models.MatchRequest{UserID: "user_A", Interests: []string{"music"}})

	require.NoError(t, err)
	assert.True(t, session.HasParticipant("user_C"))
	store.AssertExpectations(t)
}

func TestFindMatchTieBreaksByUserID(t *testing.T) {
	store := new(MockStore)
	matcher := newTestMatcher(t, store)

	// Identical enqueue times, listed out of order: the lower user id must
	// win so concurrent matchers agree on the candidate order.
	ts := time.Now()
	store.On("ListQueueEntries", mock.Anything).Return([]models.QueueEntry{
		{UserID: "user_C", Interests: []string{"music"}, EnqueuedAt: ts},
		{UserID: "user_B", Interests: []string{"music"}, EnqueuedAt: ts},
	}, nil)
	store.On("ClaimQueueEntry", mock.Anything, "user_B").Return(true, nil).Once()
	store.On("ClaimQueueEntry", mock.Anything, "user_A").Return(false, nil).Once()
	store.On("InsertSession", mock.Anything, mock.AnythingOfType("*models.ChatSession")).Return(true, nil).Once()

	session, err := matcher.FindMatch(context.Background(),
		models.MatchRequest{UserID: "user_A", Interests: []string{"music"}})

	require.NoError(t, err)
	assert.True(t, session.HasParticipant("user_B"))
	store.AssertNotCalled(t, "ClaimQueueEntry", mock.Anything, "user_C")
}

func TestFindMatchEligibility(t *testing.T) {
	tests := []struct {
		name      string
		req       models.MatchRequest
		candidate models.QueueEntry
		eligible  bool
	}{
		{
			name:      "interest overlap",
			req:       models.MatchRequest{UserID: "user_A", Interests: []string{"music"}},
			candidate: models.QueueEntry{UserID: "user_B", Interests: []string{"music", "food"}},
			eligible:  true,
		},
		{
			name:      "no interest overlap",
			req:       models.MatchRequest{UserID: "user_A", Interests: []string{"music"}},
			candidate: models.QueueEntry{UserID: "user_B", Interests: []string{"food"}},
			eligible:  false,
		},
		{
			name:      "requester without interests accepts anyone",
			req:       models.MatchRequest{UserID: "user_A"},
			candidate: models.QueueEntry{UserID: "user_B", Interests: []string{"food"}},
			eligible:  true,
		},
		{
			name: "mutual gender acceptance",
			req: models.MatchRequest{
				UserID: "user_A", Gender: "female", GenderPreference: "male",
			},
			candidate: models.QueueEntry{
				UserID: "user_B", Gender: "male", GenderPreference: "female",
			},
			eligible: true,
		},
		{
			name: "candidate preference rejects requester",
			req: models.MatchRequest{
				UserID: "user_A", Gender: "female", GenderPreference: "male",
			},
			candidate: models.QueueEntry{
				UserID: "user_B", Gender: "male", GenderPreference: "male",
			},
			eligible: false,
		},
		{
			name: "unspecified preference accepts everyone",
			req: models.MatchRequest{
				UserID: "user_A", Gender: "female", GenderPreference: "male",
			},
			candidate: models.QueueEntry{UserID: "user_B", Gender: "male"},
			eligible:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := new(MockStore)
			matcher := newTestMatcher(t, store)

			store.On("ListQueueEntries", mock.Anything).
				Return([]models.QueueEntry{tt.candidate}, nil)
			if tt.eligible {
				store.On("ClaimQueueEntry", mock.Anything, tt.candidate.UserID).Return(true, nil).Once()
				store.On("ClaimQueueEntry", mock.Anything, tt.req.UserID).Return(false, nil).Once()
				store.On("InsertSession", mock.Anything, mock.AnythingOfType("*models.ChatSession")).Return(true, nil).Once()
			}

			session, err := matcher.FindMatch(context.Background(), tt.req)
			if tt.eligible {
				require.NoError(t, err)
				assert.True(t, session.HasParticipant(tt.candidate.UserID))
			} else {
				assert.ErrorIs(t, err, chathub.ErrNoMatch)
				store.AssertNotCalled(t, "ClaimQueueEntry", mock.Anything, tt.candidate.UserID)
			}
		})
	}
}

func TestFindMatchNeverPairsWithSelf(t *testing.T) {
	store := new(MockStore)
	matcher := newTestMatcher(t, store)

	store.On("ListQueueEntries", mock.Anything).
		Return([]models.QueueEntry{entry("user_A")}, nil)

	_, err := matcher.FindMatch(context.Background(), models.MatchRequest{UserID: "user_A"})
	assert.ErrorIs(t, err, chathub.ErrNoMatch)
	store.AssertNotCalled(t, "ClaimQueueEntry", mock.Anything, mock.Anything)
}

func TestFindMatchEmptyQueue(t *testing.T) {
	store := new(MockStore)
	matcher := newTestMatcher(t, store)

	store.On("ListQueueEntries", mock.Anything).Return([]models.QueueEntry{}, nil)

	_, err := matcher.FindMatch(context.Background(), models.MatchRequest{UserID: "user_A"})
	assert.ErrorIs(t, err, chathub.ErrNoMatch)
	// An empty scan does not burn the remaining rescan attempts.
	store.AssertNumberOfCalls(t, "ListQueueEntries", 1)
}

func TestFindMatchRescansBoundedTimes(t *testing.T) {
	store := new(MockStore)
	matcher := newTestMatcher(t, store)

	// The lone candidate is snatched away on every scan.
	store.On("ListQueueEntries", mock.Anything).
		Return([]models.QueueEntry{entry("user_B", "music")}, nil)
	store.On("ClaimQueueEntry", mock.Anything, "user_B").Return(false, nil)

	_, err := matcher.FindMatch(context.Background(),
		models.MatchRequest{UserID: "user_A", Interests: []string{"music"}})

	assert.ErrorIs(t, err, chathub.ErrNoMatch)
	store.AssertNumberOfCalls(t, "ListQueueEntries", 3)
}

func TestFindMatchBootstrapPairsWithAnyOnlineUser(t *testing.T) {
	store := new(MockStore)
	matcher := newTestMatcher(t, store)

	store.On("ListQueueEntries", mock.Anything).Return([]models.QueueEntry{}, nil)
	store.On("ListOnlineUsers", mock.Anything, "user_A").Return([]string{"user_B"}, nil)
	store.On("IsHeartbeatLive", mock.Anything, "user_B").Return(true, nil)
	store.On("ClaimQueueEntry", mock.Anything, "user_B").Return(false, nil).Once()
	store.On("ClaimQueueEntry", mock.Anything, "user_A").Return(false, nil).Once()
	store.On("InsertSession", mock.Anything, mock.AnythingOfType("*models.ChatSession")).Return(true, nil).Once()

	session, err := matcher.FindMatch(context.Background(),
		models.MatchRequest{UserID: "user_A", AnyOnline: true})

	require.NoError(t, err)
	assert.True(t, session.HasParticipant("user_B"))
}

func TestSkipEndsSessionBeforeRequeue(t *testing.T) {
	store := new(MockStore)
	matcher := newTestMatcher(t, store)

	session := &models.ChatSession{
		ID: "sess-1", UserLow: "user_A", UserHigh: "user_B", Status: models.SessionActive,
	}

	var ops []string
	store.On("GetSession", mock.Anything, "sess-1").Return(session, nil)
	store.On("EndSession", mock.Anything, "sess-1").
		Run(func(args mock.Arguments) { ops = append(ops, "end") }).Return(nil).Once()
	store.On("EnqueueUser", mock.Anything, mock.AnythingOfType("*models.QueueEntry")).
		Run(func(args mock.Arguments) { ops = append(ops, "requeue") }).Return(nil).Once()
	store.On("ListQueueEntries", mock.Anything).Return([]models.QueueEntry{}, nil)

	found, err := matcher.Skip(context.Background(), "sess-1", models.MatchRequest{UserID: "user_A"})

	require.NoError(t, err)
	assert.Nil(t, found, "no partner available: caller stays queued")
	require.Equal(t, []string{"end", "requeue"}, ops,
		"the old session must be ended before the re-queue starts")
}

func TestSkipByNonParticipantIsRejected(t *testing.T) {
	store := new(MockStore)
	matcher := newTestMatcher(t, store)

	session := &models.ChatSession{
		ID: "sess-1", UserLow: "user_A", UserHigh: "user_B", Status: models.SessionActive,
	}
	store.On("GetSession", mock.Anything, "sess-1").Return(session, nil)

	_, err := matcher.Skip(context.Background(), "sess-1", models.MatchRequest{UserID: "user_Z"})

	assert.ErrorIs(t, err, faults.ErrUnauthorized)
	store.AssertNotCalled(t, "EndSession", mock.Anything, mock.Anything)
}
