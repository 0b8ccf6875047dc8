package models

import (
	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// User is an anonymous participant. The record is never deleted by the
// matchmaking core; presence and filter evaluation are the only writers.
type User struct {
	ID         string `gorm:"primaryKey" json:"id"` // anonymous UUID
	TelegramID string `gorm:"uniqueIndex"`          // empty for non-Telegram clients

	// Gender is the user's own declared gender, GenderPreference the gender
	// they want matched against. Both are optional free-form tags; an empty
	// value means "no preference / undeclared".
	Gender           string `json:"gender"`
	GenderPreference string `json:"gender_preference"`

	Interests pq.StringArray `gorm:"type:text[]" json:"interests"`
}

// BeforeCreate is a GORM hook that assigns a fresh anonymous UUID when the
// caller did not supply one.
func (u *User) BeforeCreate(tx *gorm.DB) (err error) {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	return
}
