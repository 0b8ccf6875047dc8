package models

import "time"

// PresenceRecord tracks a single user's online state. Only the owning user's
// client writes it, so last-writer-wins is acceptable.
type PresenceRecord struct {
	UserID          string    `gorm:"primaryKey" json:"user_id"`
	Online          bool      `gorm:"index" json:"online"`
	LastHeartbeatAt time.Time `json:"last_heartbeat_at"`
}
