package models

import "time"

// Session status values.
const (
	SessionActive = "active"
	SessionEnded  = "ended"
)

// ChatSession is a 1-on-1 chat between two users. Participants are stored in
// canonical order (UserLow < UserHigh); together with a partial unique index
// on (user_low, user_high) WHERE status = 'active' this guarantees at most
// one active session per unordered pair. Rows are never deleted, only ended.
type ChatSession struct {
	ID        string     `gorm:"primaryKey" json:"id"`
	UserLow   string     `gorm:"index:idx_session_pair" json:"user_low"`
	UserHigh  string     `gorm:"index:idx_session_pair" json:"user_high"`
	Status    string     `gorm:"index" json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// HasParticipant reports whether userID is one of the session's two parties.
func (s *ChatSession) HasParticipant(userID string) bool {
	return s.UserLow == userID || s.UserHigh == userID
}

// PartnerOf returns the other participant, or "" if userID is not in the
// session at all.
func (s *ChatSession) PartnerOf(userID string) string {
	switch userID {
	case s.UserLow:
		return s.UserHigh
	case s.UserHigh:
		return s.UserLow
	}
	return ""
}

// CanonicalPair orders two user ids under the fixed total order (lexicographic
// byte order of the id strings). The result is symmetric in its arguments and
// is the dedup key for sessions.
func CanonicalPair(a, b string) (low, high string) {
	if a < b {
		return a, b
	}
	return b, a
}
