package models

import "gorm.io/gorm"

// ChatHistory is a persisted chat message. The embedded gorm.Model supplies
// ID, CreatedAt, UpdatedAt and DeletedAt; ID doubles as the cursor for
// incremental history fetches.
type ChatHistory struct {
	gorm.Model

	// SessionID is the chat session the message belongs to.
	SessionID string `gorm:"type:uuid;not null;index:idx_session_msg"`
	// SenderID is the anonymous ID of the author; always one of the session's
	// two participants.
	SenderID string `gorm:"type:text;not null;index:idx_session_msg"`
	// Content is the message body.
	Content string `gorm:"type:text;not null"`
	// Type is the message kind ("text", "photo", "system", ...). Ephemeral
	// kinds such as "typing" are never persisted.
	Type string `gorm:"type:text;not null"`
	// Metadata carries optional extra payload (captions and the like).
	Metadata string `gorm:"type:text"`
}
