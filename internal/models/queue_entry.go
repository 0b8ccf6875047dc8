package models

import (
	"time"

	"github.com/lib/pq"
)

// QueueEntry is one waiting user in the matchmaking queue. There is at most
// one live entry per user (user_id is the primary key, inserts are
// idempotent). The row's deletion is the arbiter for claiming the user in a
// match: whoever deletes it owns the user for this round.
type QueueEntry struct {
	UserID           string         `gorm:"primaryKey" json:"user_id"`
	Gender           string         `json:"gender"`
	GenderPreference string         `json:"gender_preference"`
	Interests        pq.StringArray `gorm:"type:text[]" json:"interests"`
	EnqueuedAt       time.Time      `gorm:"index" json:"enqueued_at"`
}

// HasInterestOverlap reports whether the entry shares at least one interest
// tag with the given set.
func (e *QueueEntry) HasInterestOverlap(interests []string) bool {
	for _, want := range interests {
		for _, have := range e.Interests {
			if want == have {
				return true
			}
		}
	}
	return false
}
