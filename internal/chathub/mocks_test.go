package chathub_test

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"anonpair/backend/internal/chathub"
	"anonpair/backend/internal/models"
)

// MockStore is a testify mock over the full storage.Store interface, shared
// by the matcher, session and queue tests.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) SaveUser(ctx context.Context, user *models.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockStore) FindOrCreateUserByTelegramID(ctx context.Context, telegramID string) (*models.User, error) {
	args := m.Called(ctx, telegramID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockStore) EnqueueUser(ctx context.Context, entry *models.QueueEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockStore) ClaimQueueEntry(ctx context.Context, userID string) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

func (m *MockStore) ListQueueEntries(ctx context.Context) ([]models.QueueEntry, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.QueueEntry), args.Error(1)
}

func (m *MockStore) QueuePosition(ctx context.Context, userID string) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

func (m *MockStore) InsertSession(ctx context.Context, session *models.ChatSession) (bool, error) {
	args := m.Called(ctx, session)
	return args.Bool(0), args.Error(1)
}

func (m *MockStore) GetSession(ctx context.Context, id string) (*models.ChatSession, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ChatSession), args.Error(1)
}

func (m *MockStore) ActiveSessionForPair(ctx context.Context, userLow, userHigh string) (*models.ChatSession, error) {
	args := m.Called(ctx, userLow, userHigh)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ChatSession), args.Error(1)
}

func (m *MockStore) ActiveSessionForUser(ctx context.Context, userID string) (*models.ChatSession, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ChatSession), args.Error(1)
}

func (m *MockStore) EndSession(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockStore) UpsertPresence(ctx context.Context, rec *models.PresenceRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *MockStore) GetPresence(ctx context.Context, userID string) (*models.PresenceRecord, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PresenceRecord), args.Error(1)
}

func (m *MockStore) ListOnlineUsers(ctx context.Context, excluding string) ([]string, error) {
	args := m.Called(ctx, excluding)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockStore) TouchHeartbeat(ctx context.Context, userID string, ttl time.Duration) error {
	args := m.Called(ctx, userID, ttl)
	return args.Error(0)
}

func (m *MockStore) IsHeartbeatLive(ctx context.Context, userID string) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

func (m *MockStore) AppendMessage(ctx context.Context, msg *models.ChatHistory) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MockStore) GetMessage(ctx context.Context, id uint) (*models.ChatHistory, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ChatHistory), args.Error(1)
}

func (m *MockStore) ListMessagesSince(ctx context.Context, sessionID string, afterID uint) ([]models.ChatHistory, error) {
	args := m.Called(ctx, sessionID, afterID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.ChatHistory), args.Error(1)
}

func (m *MockStore) PublishEvent(ctx context.Context, ev models.Event) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}

// mockClient is an in-memory hub client.
type mockClient struct {
	userID string
	send   chan models.ChatMessage

	mu        sync.Mutex
	sessionID string
}

func newMockClient(userID string) *mockClient {
	return &mockClient{userID: userID, send: make(chan models.ChatMessage, 16)}
}

func (c *mockClient) GetUserID() string { return c.userID }

func (c *mockClient) GetSessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *mockClient) SetSessionID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = id
}

func (c *mockClient) GetSendChannel() chan<- models.ChatMessage { return c.send }
func (c *mockClient) Run()                                      {}
func (c *mockClient) Close()                                    {}

var _ chathub.Client = (*mockClient)(nil)
