// Package storage is the persistence boundary of the matchmaking core:
// PostgreSQL (via GORM) for queue entries, sessions, presence and history,
// Redis for heartbeat liveness keys and the pub/sub fan-out channel.
//
// Two patterns here carry the core's concurrency guarantees:
//   - conditional delete as arbiter: ClaimQueueEntry reports whether this
//     caller actually removed the row, which is the win signal in a race;
//   - insert-with-conflict-as-signal: InsertSession reports whether the row
//     went in, a partial unique index making the insert the linearization
//     point for "one active session per pair".
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"anonpair/backend/internal/faults"
	"anonpair/backend/internal/models"
)

// EventsChannel is the Redis pub/sub channel all realtime events ride on.
const EventsChannel = "anonpair:events"

type Store interface {
	// Users
	SaveUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	FindOrCreateUserByTelegramID(ctx context.Context, telegramID string) (*models.User, error)

	// Queue
	EnqueueUser(ctx context.Context, entry *models.QueueEntry) error
	ClaimQueueEntry(ctx context.Context, userID string) (bool, error)
	ListQueueEntries(ctx context.Context) ([]models.QueueEntry, error)
	QueuePosition(ctx context.Context, userID string) (int, error)

	// Sessions
	InsertSession(ctx context.Context, session *models.ChatSession) (bool, error)
	GetSession(ctx context.Context, id string) (*models.ChatSession, error)
	ActiveSessionForPair(ctx context.Context, userLow, userHigh string) (*models.ChatSession, error)
	ActiveSessionForUser(ctx context.Context, userID string) (*models.ChatSession, error)
	EndSession(ctx context.Context, id string) error

	// Presence
	UpsertPresence(ctx context.Context, rec *models.PresenceRecord) error
	GetPresence(ctx context.Context, userID string) (*models.PresenceRecord, error)
	ListOnlineUsers(ctx context.Context, excluding string) ([]string, error)
	TouchHeartbeat(ctx context.Context, userID string, ttl time.Duration) error
	IsHeartbeatLive(ctx context.Context, userID string) (bool, error)

	// Messages
	AppendMessage(ctx context.Context, msg *models.ChatHistory) error
	GetMessage(ctx context.Context, id uint) (*models.ChatHistory, error)
	ListMessagesSince(ctx context.Context, sessionID string, afterID uint) ([]models.ChatHistory, error)

	// Realtime
	PublishEvent(ctx context.Context, ev models.Event) error
}

type Service struct {
	DB    *gorm.DB
	Redis *redis.Client
}

// NewService constructs the production store.
func NewService(db *gorm.DB, rdb *redis.Client) *Service {
	return &Service{DB: db, Redis: rdb}
}

// Migrate creates the tables and the partial unique index that enforces
// "at most one active session per canonical pair".
func (s *Service) Migrate() error {
	err := s.DB.AutoMigrate(
		&models.User{},
		&models.QueueEntry{},
		&models.ChatSession{},
		&models.PresenceRecord{},
		&models.ChatHistory{},
	)
	if err != nil {
		return err
	}

	return s.DB.Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_active_session_pair
		 ON chat_sessions (user_low, user_high) WHERE status = 'active'`,
	).Error
}

// --- Users ---

func (s *Service) SaveUser(ctx context.Context, user *models.User) error {
	return s.DB.WithContext(ctx).Save(user).Error
}

func (s *Service) GetUser(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := s.DB.WithContext(ctx).First(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, faults.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *Service) FindOrCreateUserByTelegramID(ctx context.Context, telegramID string) (*models.User, error) {
	var user models.User
	err := s.DB.WithContext(ctx).
		Where("telegram_id = ?", telegramID).
		FirstOrCreate(&user, models.User{TelegramID: telegramID}).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// --- Queue ---

// EnqueueUser inserts a queue entry; a duplicate insert for the same user is
// a silent no-op, so retried client calls are safe.
func (s *Service) EnqueueUser(ctx context.Context, entry *models.QueueEntry) error {
	if entry.EnqueuedAt.IsZero() {
		entry.EnqueuedAt = time.Now()
	}
	return s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(entry).Error
}

// ClaimQueueEntry deletes the entry and reports whether this caller removed
// it. false with a nil error means somebody else got there first. The
// deletion, not the lookup, is what wins the race.
func (s *Service) ClaimQueueEntry(ctx context.Context, userID string) (bool, error) {
	res := s.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&models.QueueEntry{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Service) ListQueueEntries(ctx context.Context) ([]models.QueueEntry, error) {
	var entries []models.QueueEntry
	err := s.DB.WithContext(ctx).
		Order("enqueued_at asc, user_id asc").
		Find(&entries).Error
	return entries, err
}

// QueuePosition returns the 1-based FIFO rank, or 0 when the user is not
// queued. Ties on enqueued_at are broken by user id, matching the scan order.
func (s *Service) QueuePosition(ctx context.Context, userID string) (int, error) {
	var entry models.QueueEntry
	err := s.DB.WithContext(ctx).First(&entry, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var ahead int64
	err = s.DB.WithContext(ctx).Model(&models.QueueEntry{}).
		Where("enqueued_at < ? OR (enqueued_at = ? AND user_id < ?)",
			entry.EnqueuedAt, entry.EnqueuedAt, userID).
		Count(&ahead).Error
	if err != nil {
		return 0, err
	}
	return int(ahead) + 1, nil
}

// --- Sessions ---

// InsertSession attempts the insert and reports whether the row went in. A
// false return with nil error means the partial unique index rejected it:
// an active session for the pair already exists and the caller should fetch
// that one instead.
func (s *Service) InsertSession(ctx context.Context, session *models.ChatSession) (bool, error) {
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now()
	}
	res := s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(session)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Service) GetSession(ctx context.Context, id string) (*models.ChatSession, error) {
	var session models.ChatSession
	err := s.DB.WithContext(ctx).First(&session, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, faults.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *Service) ActiveSessionForPair(ctx context.Context, userLow, userHigh string) (*models.ChatSession, error) {
	var session models.ChatSession
	err := s.DB.WithContext(ctx).
		Where("user_low = ? AND user_high = ? AND status = ?", userLow, userHigh, models.SessionActive).
		First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, faults.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *Service) ActiveSessionForUser(ctx context.Context, userID string) (*models.ChatSession, error) {
	var session models.ChatSession
	err := s.DB.WithContext(ctx).
		Where("status = ?", models.SessionActive).
		Where("user_low = ? OR user_high = ?", userID, userID).
		First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, faults.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// EndSession flips the session to ended. Ending an already-ended session
// matches zero rows and is a no-op success.
func (s *Service) EndSession(ctx context.Context, id string) error {
	return s.DB.WithContext(ctx).Model(&models.ChatSession{}).
		Where("id = ? AND status = ?", id, models.SessionActive).
		Updates(map[string]interface{}{
			"status":   models.SessionEnded,
			"ended_at": time.Now(),
		}).Error
}

// --- Presence ---

func (s *Service) UpsertPresence(ctx context.Context, rec *models.PresenceRecord) error {
	return s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"online", "last_heartbeat_at"}),
		}).
		Create(rec).Error
}

func (s *Service) GetPresence(ctx context.Context, userID string) (*models.PresenceRecord, error) {
	var rec models.PresenceRecord
	err := s.DB.WithContext(ctx).First(&rec, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, faults.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Service) ListOnlineUsers(ctx context.Context, excluding string) ([]string, error) {
	var ids []string
	err := s.DB.WithContext(ctx).Model(&models.PresenceRecord{}).
		Where("online = ? AND user_id <> ?", true, excluding).
		Pluck("user_id", &ids).Error
	return ids, err
}

func heartbeatKey(userID string) string { return "heartbeat:" + userID }

// TouchHeartbeat refreshes the liveness key. When the key lapses the user
// reads as offline even if the DB flag was never flipped.
func (s *Service) TouchHeartbeat(ctx context.Context, userID string, ttl time.Duration) error {
	return s.Redis.Set(ctx, heartbeatKey(userID), time.Now().Unix(), ttl).Err()
}

func (s *Service) IsHeartbeatLive(ctx context.Context, userID string) (bool, error) {
	n, err := s.Redis.Exists(ctx, heartbeatKey(userID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// --- Messages ---

func (s *Service) AppendMessage(ctx context.Context, msg *models.ChatHistory) error {
	return s.DB.WithContext(ctx).Create(msg).Error
}

func (s *Service) GetMessage(ctx context.Context, id uint) (*models.ChatHistory, error) {
	var msg models.ChatHistory
	err := s.DB.WithContext(ctx).First(&msg, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, faults.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (s *Service) ListMessagesSince(ctx context.Context, sessionID string, afterID uint) ([]models.ChatHistory, error) {
	var history []models.ChatHistory
	err := s.DB.WithContext(ctx).
		Where("session_id = ? AND id > ?", sessionID, afterID).
		Order("id asc").
		Find(&history).Error
	return history, err
}

// --- Realtime ---

func (s *Service) PublishEvent(ctx context.Context, ev models.Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return s.Redis.Publish(ctx, EventsChannel, payload).Err()
}
