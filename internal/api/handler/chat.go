package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"anonpair/backend/internal/chathub"
	"anonpair/backend/internal/models"
)

type joinRequest struct {
	Gender           string   `json:"gender"`
	GenderPreference string   `json:"gender_preference"`
	Interests        []string `json:"interests"`
	AnyOnline        bool     `json:"any_online"`
}

func (r joinRequest) toMatchRequest(userID string) models.MatchRequest {
	return models.MatchRequest{
		UserID:           userID,
		Gender:           r.Gender,
		GenderPreference: r.GenderPreference,
		Interests:        r.Interests,
		AnyOnline:        r.AnyOnline,
	}
}

// JoinQueue puts the caller in the waiting room, marks them online and makes
// one immediate matching pass. The response is either the session or the
// caller's queue position.
func (h *Handler) JoinQueue(c *gin.Context) {
	userID := callerID(c)
	if err := h.Limiter.Allow(c.Request.Context(), "rate:join:"+userID); err != nil {
		respondError(c, err)
		return
	}

	var body joinRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Malformed request body"})
		return
	}
	req := body.toMatchRequest(userID)

	// "Start chat" implies being visible to other matchers. A presence
	// failure is logged by the tracker and is not fatal to the chat flow.
	_ = h.Tracker.Heartbeat(c.Request.Context(), userID)

	if err := h.Queue.Join(c.Request.Context(), req); err != nil {
		respondError(c, err)
		return
	}

	session, err := h.Matcher.FindMatch(c.Request.Context(), req)
	if errors.Is(err, chathub.ErrNoMatch) {
		pos, perr := h.Queue.Position(c.Request.Context(), userID)
		if perr != nil {
			respondError(c, perr)
			return
		}
		c.JSON(http.StatusOK, gin.H{"queued": true, "position": pos})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"queued": false, "session": session})
}

// LeaveQueue removes the caller from the waiting room. If a matcher claimed
// them a moment earlier the resulting session is adopted and returned instead
// of being silently lost.
func (h *Handler) LeaveQueue(c *gin.Context) {
	session, err := h.Queue.ResolveDeparture(c.Request.Context(), callerID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	if session != nil {
		c.JSON(http.StatusOK, gin.H{"left": false, "session": session})
		return
	}
	c.JSON(http.StatusOK, gin.H{"left": true})
}

// QueuePosition reports the caller's 1-based rank, 0 when not queued.
func (h *Handler) QueuePosition(c *gin.Context) {
	pos, err := h.Queue.Position(c.Request.Context(), callerID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"position": pos})
}

// FindMatch is the pull-model entry point: one matching pass, no waiting.
func (h *Handler) FindMatch(c *gin.Context) {
	userID := callerID(c)
	if err := h.Limiter.Allow(c.Request.Context(), "rate:join:"+userID); err != nil {
		respondError(c, err)
		return
	}

	var body joinRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Malformed request body"})
		return
	}

	session, err := h.Matcher.FindMatch(c.Request.Context(), body.toMatchRequest(userID))
	if errors.Is(err, chathub.ErrNoMatch) {
		c.JSON(http.StatusOK, gin.H{"matched": false})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"matched": true, "session": session})
}

// EndSession ends the caller's session; ending twice is fine.
func (h *Handler) EndSession(c *gin.Context) {
	sessionID := c.Param("id")
	if _, err := h.Sessions.Get(c.Request.Context(), sessionID, callerID(c)); err != nil {
		respondError(c, err)
		return
	}
	if err := h.Sessions.EndSession(c.Request.Context(), sessionID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ended": true})
}

// SkipSession ends the current chat and seeks a new partner for the caller.
func (h *Handler) SkipSession(c *gin.Context) {
	var body joinRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Malformed request body"})
		return
	}

	session, err := h.Matcher.Skip(c.Request.Context(), c.Param("id"), body.toMatchRequest(callerID(c)))
	if err != nil {
		respondError(c, err)
		return
	}
	if session == nil {
		c.JSON(http.StatusOK, gin.H{"queued": true})
		return
	}
	c.JSON(http.StatusOK, gin.H{"queued": false, "session": session})
}

// ListMessages pages the session history from a cursor.
func (h *Handler) ListMessages(c *gin.Context) {
	sessionID := c.Param("id")
	if _, err := h.Sessions.Get(c.Request.Context(), sessionID, callerID(c)); err != nil {
		respondError(c, err)
		return
	}

	afterID, _ := strconv.ParseUint(c.DefaultQuery("after_id", "0"), 10, 64)
	history, err := h.Store.ListMessagesSince(c.Request.Context(), sessionID, uint(afterID))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": history})
}

// SendMessage appends to the session through the hub's validation path.
func (h *Handler) SendMessage(c *gin.Context) {
	var body struct {
		Content  string `json:"content"`
		Type     string `json:"type"`
		Metadata string `json:"metadata"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Content == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Malformed request body"})
		return
	}
	if body.Type == "" {
		body.Type = models.MessageText
	}

	sessionID := c.Param("id")
	if _, err := h.Sessions.Get(c.Request.Context(), sessionID, callerID(c)); err != nil {
		respondError(c, err)
		return
	}

	h.Hub.IncomingCh <- models.ChatMessage{
		SessionID: sessionID,
		SenderID:  callerID(c),
		Content:   body.Content,
		Type:      body.Type,
		Metadata:  body.Metadata,
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}

// Heartbeat is the fixed-timer liveness ping.
func (h *Handler) Heartbeat(c *gin.Context) {
	if err := h.Tracker.Heartbeat(c.Request.Context(), callerID(c)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Visibility reports a focus/blur change; bursts are debounced server-side.
func (h *Handler) Visibility(c *gin.Context) {
	var body struct {
		Online bool `json:"online"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Malformed request body"})
		return
	}
	// A failed write is logged by the tracker and retried on the next
	// heartbeat tick.
	_ = h.Tracker.SetOnline(c.Request.Context(), callerID(c), body.Online)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
