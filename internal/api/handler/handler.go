// Package handler is the thin HTTP surface over the matchmaking core.
package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"anonpair/backend/internal/chathub"
	"anonpair/backend/internal/faults"
	"anonpair/backend/internal/models"
	"anonpair/backend/internal/presence"
	"anonpair/backend/internal/rate"
)

// Store is the slice of persistence the HTTP surface reaches directly;
// everything else goes through the collaborators.
type Store interface {
	SaveUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	ListMessagesSince(ctx context.Context, sessionID string, afterID uint) ([]models.ChatHistory, error)
}

type Handler struct {
	Hub       *chathub.Hub
	Matcher   *chathub.Matcher
	Queue     *chathub.QueueService
	Sessions  *chathub.SessionManager
	Tracker   *presence.Tracker
	Limiter   *rate.Limiter
	Store     Store
	JWTSecret []byte
}

func NewHandler(
	hub *chathub.Hub,
	matcher *chathub.Matcher,
	queue *chathub.QueueService,
	sessions *chathub.SessionManager,
	tracker *presence.Tracker,
	limiter *rate.Limiter,
	store Store,
	jwtSecret []byte,
) *Handler {
	return &Handler{
		Hub:       hub,
		Matcher:   matcher,
		Queue:     queue,
		Sessions:  sessions,
		Tracker:   tracker,
		Limiter:   limiter,
		Store:     store,
		JWTSecret: jwtSecret,
	}
}

// respondError maps the fault taxonomy onto HTTP. The client only ever sees
// a short human-readable message, never a raw internal error.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, faults.ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": "You are not part of this chat."})
	case errors.Is(err, faults.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found. Try starting a new chat."})
	case errors.Is(err, faults.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":       "Slow down a little.",
			"retry_after": faults.RetryAfterOf(err).Seconds(),
		})
	case errors.Is(err, faults.ErrTransientConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "Things got busy, please try again."})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": "Something went wrong, please retry."})
	}
}
