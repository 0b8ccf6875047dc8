package models

import "time"

// Message type values on the wire.
const (
	MessageText       = "text"
	MessageTyping     = "typing"
	MessageSystem     = "system"
	MessageMatchFound = "system_match_found"
	MessageChatEnded  = "system_chat_ended"
)

// ChatMessage is the wire form of a message exchanged with clients.
type ChatMessage struct {
	ID        uint   `json:"id,omitempty"`
	SessionID string `json:"session_id"`
	SenderID  string `json:"sender_id"`
	Content   string `json:"content"`
	Type      string `json:"type"`
	Metadata  string `json:"metadata,omitempty"`
}

// Realtime event kinds fanned out over the event bus.
const (
	EventQueueRemoved   = "queue_entry_removed"
	EventSessionCreated = "session_created"
	EventSessionEnded   = "session_ended"
	EventMessageCreated = "message_created"
)

// Event is the payload published on the realtime bus. Delivery is
// at-least-once and unordered across kinds, so every field is a hint:
// handlers re-fetch the authoritative row rather than trusting the payload.
// Typing indicators are the one exception: they are never persisted, so the
// wire message rides along inline.
type Event struct {
	Type      string       `json:"type"`
	UserID    string       `json:"user_id,omitempty"`
	PartnerID string       `json:"partner_id,omitempty"`
	SessionID string       `json:"session_id,omitempty"`
	MessageID uint         `json:"message_id,omitempty"`
	Message   *ChatMessage `json:"message,omitempty"`
	At        time.Time    `json:"at"`
}

// MatchRequest describes one user's ask for a partner.
type MatchRequest struct {
	UserID           string   `json:"user_id"`
	Gender           string   `json:"gender"`
	GenderPreference string   `json:"gender_preference"`
	Interests        []string `json:"interests"`

	// AnyOnline widens the candidate set to any online user when the queue
	// holds nobody eligible (bootstrap mode).
	AnyOnline bool `json:"any_online"`
}

// HasFilters reports whether the request constrains candidates at all.
func (r *MatchRequest) HasFilters() bool {
	return len(r.Interests) > 0 || r.GenderPreference != ""
}
