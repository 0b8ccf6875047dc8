package chathub

import "anonpair/backend/internal/models"

// Client is one connected user on any transport (WebSocket, Telegram). The
// hub manages all transports uniformly through this interface.
type Client interface {
	// GetUserID returns the anonymous id of the connected user.
	GetUserID() string
	// GetSessionID returns the chat session the client currently belongs to,
	// or "" when it has none.
	GetSessionID() string
	// SetSessionID moves the client into (or out of, with "") a session.
	SetSessionID(string)

	// GetSendChannel is where the hub pushes messages bound for this client.
	GetSendChannel() chan<- models.ChatMessage

	// Run starts the transport's read/write loops.
	Run()
	// Close shuts the transport down and releases its channels.
	Close()
}
