package presence_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"anonpair/backend/internal/faults"
	"anonpair/backend/internal/models"
	"anonpair/backend/internal/presence"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) UpsertPresence(ctx context.Context, rec *models.PresenceRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *mockStore) GetPresence(ctx context.Context, userID string) (*models.PresenceRecord, error) {
	args := m.Called(ctx, userID)
	if rec := args.Get(0); rec != nil {
		return rec.(*models.PresenceRecord), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) ListOnlineUsers(ctx context.Context, excluding string) ([]string, error) {
	args := m.Called(ctx, excluding)
	if ids := args.Get(0); ids != nil {
		return ids.([]string), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) TouchHeartbeat(ctx context.Context, userID string, ttl time.Duration) error {
	args := m.Called(ctx, userID, ttl)
	return args.Error(0)
}

func (m *mockStore) IsHeartbeatLive(ctx context.Context, userID string) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

func TestSetOnlineSuppressesRedundantWrites(t *testing.T) {
	store := new(mockStore)
	tracker := presence.NewTracker(store, 0, time.Minute)

	store.On("UpsertPresence", mock.Anything, mock.AnythingOfType("*models.PresenceRecord")).
		Return(nil)

	require.NoError(t, tracker.SetOnline(context.Background(), "user_A", true))
	require.NoError(t, tracker.SetOnline(context.Background(), "user_A", true))
	require.NoError(t, tracker.SetOnline(context.Background(), "user_A", true))

	// Only the first true reaches the store.
	store.AssertNumberOfCalls(t, "UpsertPresence", 1)

	require.NoError(t, tracker.SetOnline(context.Background(), "user_A", false))
	store.AssertNumberOfCalls(t, "UpsertPresence", 2)
}

func TestSetOnlineDebounceCollapsesBurst(t *testing.T) {
	store := new(mockStore)
	tracker := presence.NewTracker(store, 20*time.Millisecond, time.Minute)

	done := make(chan *models.PresenceRecord, 1)
	store.On("UpsertPresence", mock.Anything, mock.AnythingOfType("*models.PresenceRecord")).
		Run(func(args mock.Arguments) { done <- args.Get(1).(*models.PresenceRecord) }).
		Return(nil)

	// Rapid blur/focus flapping: only the settled value should be written.
	require.NoError(t, tracker.SetOnline(context.Background(), "user_A", false))
	require.NoError(t, tracker.SetOnline(context.Background(), "user_A", true))
	require.NoError(t, tracker.SetOnline(context.Background(), "user_A", false))
	require.NoError(t, tracker.SetOnline(context.Background(), "user_A", true))

	select {
	case rec := <-done:
		assert.True(t, rec.Online)
	case <-time.After(time.Second):
		t.Fatal("debounced write never flushed")
	}
	store.AssertNumberOfCalls(t, "UpsertPresence", 1)
}

func TestFailedWriteRetriedOnHeartbeat(t *testing.T) {
	store := new(mockStore)
	tracker := presence.NewTracker(store, 0, time.Minute)

	store.On("UpsertPresence", mock.Anything, mock.Anything).
		Return(errors.New("connection reset")).Once()
	store.On("UpsertPresence", mock.Anything, mock.Anything).Return(nil)
	store.On("TouchHeartbeat", mock.Anything, "user_A", time.Minute).Return(nil)

	assert.Error(t, tracker.SetOnline(context.Background(), "user_A", true))

	// The heartbeat tick retries the pending write even though the value
	// matches what was last attempted.
	require.NoError(t, tracker.Heartbeat(context.Background(), "user_A"))
	store.AssertNumberOfCalls(t, "UpsertPresence", 2)
}

func TestHeartbeatTouchesLivenessKey(t *testing.T) {
	store := new(mockStore)
	tracker := presence.NewTracker(store, 0, 4*time.Minute)

	store.On("TouchHeartbeat", mock.Anything, "user_A", 4*time.Minute).Return(nil).Once()
	store.On("UpsertPresence", mock.Anything, mock.Anything).Return(nil).Once()

	require.NoError(t, tracker.Heartbeat(context.Background(), "user_A"))
	store.AssertExpectations(t)
}

func TestStatusRequiresFlagAndLiveHeartbeat(t *testing.T) {
	store := new(mockStore)
	tracker := presence.NewTracker(store, 0, time.Minute)
	ctx := context.Background()

	store.On("GetPresence", mock.Anything, "user_B").
		Return(&models.PresenceRecord{UserID: "user_B", Online: true}, nil)
	store.On("IsHeartbeatLive", mock.Anything, "user_B").Return(true, nil)
	online, err := tracker.Status(ctx, "user_B")
	require.NoError(t, err)
	assert.True(t, online)

	// Flag set but heartbeat lapsed: the client crashed.
	store.On("GetPresence", mock.Anything, "user_C").
		Return(&models.PresenceRecord{UserID: "user_C", Online: true}, nil)
	store.On("IsHeartbeatLive", mock.Anything, "user_C").Return(false, nil)
	online, err = tracker.Status(ctx, "user_C")
	require.NoError(t, err)
	assert.False(t, online)

	// Explicitly offline: no liveness check needed.
	store.On("GetPresence", mock.Anything, "user_D").
		Return(&models.PresenceRecord{UserID: "user_D", Online: false}, nil)
	online, err = tracker.Status(ctx, "user_D")
	require.NoError(t, err)
	assert.False(t, online)
	store.AssertNotCalled(t, "IsHeartbeatLive", mock.Anything, "user_D")

	// Never seen at all.
	store.On("GetPresence", mock.Anything, "user_E").Return(nil, faults.ErrNotFound)
	online, err = tracker.Status(ctx, "user_E")
	require.NoError(t, err)
	assert.False(t, online)
}

func TestListOnlineIntersectsHeartbeatLiveness(t *testing.T) {
	store := new(mockStore)
	tracker := presence.NewTracker(store, 0, time.Minute)

	store.On("ListOnlineUsers", mock.Anything, "user_A").
		Return([]string{"user_B", "user_C", "user_D"}, nil)
	store.On("IsHeartbeatLive", mock.Anything, "user_B").Return(true, nil)
	// user_C's client crashed without flipping its flag; the expired
	// heartbeat key is what reveals it.
	store.On("IsHeartbeatLive", mock.Anything, "user_C").Return(false, nil)
	store.On("IsHeartbeatLive", mock.Anything, "user_D").Return(true, nil)

	online, err := tracker.ListOnline(context.Background(), "user_A")

	require.NoError(t, err)
	assert.Equal(t, []string{"user_B", "user_D"}, online)
}
