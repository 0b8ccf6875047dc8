package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"anonpair/backend/internal/faults"
	"anonpair/backend/internal/models"
)

type profileRequest struct {
	Gender           string   `json:"gender"`
	GenderPreference string   `json:"gender_preference"`
	Interests        []string `json:"interests"`
}

// UpdateProfile stores the caller's matching preferences. They become the
// defaults for future match requests on any transport.
func (h *Handler) UpdateProfile(c *gin.Context) {
	var body profileRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Malformed request body"})
		return
	}

	userID := callerID(c)
	user, err := h.Store.GetUser(c.Request.Context(), userID)
	if errors.Is(err, faults.ErrNotFound) {
		user = &models.User{ID: userID}
	} else if err != nil {
		respondError(c, err)
		return
	}

	user.Gender = body.Gender
	user.GenderPreference = body.GenderPreference
	user.Interests = body.Interests

	if err := h.Store.SaveUser(c.Request.Context(), user); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// GetProfile returns the caller's stored matching preferences. A caller who
// never saved any gets an empty profile, not an error.
func (h *Handler) GetProfile(c *gin.Context) {
	userID := callerID(c)
	user, err := h.Store.GetUser(c.Request.Context(), userID)
	if errors.Is(err, faults.ErrNotFound) {
		c.JSON(http.StatusOK, &models.User{ID: userID})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// PartnerPresence reports whether the caller's chat partner is currently
// online.
func (h *Handler) PartnerPresence(c *gin.Context) {
	session, err := h.Sessions.Get(c.Request.Context(), c.Param("id"), callerID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	online, err := h.Tracker.Status(c.Request.Context(), session.PartnerOf(callerID(c)))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"online": online})
}
