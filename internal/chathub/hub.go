package chathub

import (
	"context"
	"errors"
	"log"
	"sync"

	"anonpair/backend/internal/analysis"
	"anonpair/backend/internal/config"
	"anonpair/backend/internal/faults"
	"anonpair/backend/internal/models"
	"anonpair/backend/internal/storage"
)

// Hub is the connection registry and dispatch loop. Clients of any transport
// register here; realtime events from the bus and messages from clients all
// funnel through one goroutine. The registry itself is behind a lock because
// transports look clients up from their own goroutines.
type Hub struct {
	IncomingCh   chan models.ChatMessage
	RegisterCh   chan Client
	UnregisterCh chan Client

	mu      sync.RWMutex
	clients map[string]Client

	store    storage.Store
	bus      *EventBus
	sessions *SessionManager

	analyzer      analysis.Provider
	analysisEvery int
	msgCount      map[string]int

	eventCh chan models.Event
}

func NewHub(store storage.Store, bus *EventBus, sessions *SessionManager, analyzer analysis.Provider, analysisEvery int) *Hub {
	return &Hub{
		clients:       make(map[string]Client),
		IncomingCh:    make(chan models.ChatMessage, 64),
		RegisterCh:    make(chan Client),
		UnregisterCh:  make(chan Client),
		store:         store,
		bus:           bus,
		sessions:      sessions,
		analyzer:      analyzer,
		analysisEvery: analysisEvery,
		msgCount:      make(map[string]int),
		eventCh:       make(chan models.Event, 256),
	}
}

// Run is the hub's dispatch loop. It subscribes to the full event stream and
// releases the subscription when ctx ends.
func (h *Hub) Run(ctx context.Context) {
	sub := h.bus.Subscribe(nil, func(ev models.Event) {
		select {
		case h.eventCh <- ev:
		default:
			log.Printf("hub: event backlog full, dropping %s", ev.Type)
		}
	})
	defer sub.Unsubscribe()

	log.Println("hub: dispatch loop started")
	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.RegisterCh:
			h.addClient(client)

		case client := <-h.UnregisterCh:
			if h.dropClient(client) {
				client.Close()
			}

		case msg := <-h.IncomingCh:
			h.handleIncoming(ctx, msg)

		case ev := <-h.eventCh:
			h.routeEvent(ctx, ev)
		}
	}
}

// ClientFor returns the connected client for the user, if any. Safe to call
// from outside the dispatch loop.
func (h *Hub) ClientFor(userID string) (Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	client, ok := h.clients[userID]
	return client, ok
}

func (h *Hub) addClient(client Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.GetUserID()] = client
}

// dropClient removes the client unless a newer connection for the same user
// already replaced it.
func (h *Hub) dropClient(client Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if current, ok := h.clients[client.GetUserID()]; ok && current == client {
		delete(h.clients, client.GetUserID())
		return true
	}
	return false
}

// handleIncoming validates, persists and announces one client message.
// Typing indicators are relayed but never persisted.
func (h *Hub) handleIncoming(ctx context.Context, msg models.ChatMessage) {
	opCtx, cancel := context.WithTimeout(ctx, config.OpTimeout)
	defer cancel()

	session, err := h.store.GetSession(opCtx, msg.SessionID)
	if errors.Is(err, faults.ErrNotFound) {
		log.Printf("hub: message for unknown session %s dropped", msg.SessionID)
		return
	}
	if err != nil {
		log.Printf("hub: session lookup %s failed: %v", msg.SessionID, err)
		return
	}
	if session.Status != models.SessionActive {
		return
	}
	if !session.HasParticipant(msg.SenderID) {
		log.Printf("hub: %s is not a participant of %s, message dropped", msg.SenderID, msg.SessionID)
		return
	}

	if msg.Type == models.MessageTyping {
		inline := msg
		if err := h.bus.Publish(opCtx, models.Event{
			Type:      models.EventMessageCreated,
			UserID:    msg.SenderID,
			SessionID: msg.SessionID,
			Message:   &inline,
		}); err != nil {
			log.Printf("hub: publish typing failed: %v", err)
		}
		return
	}

	record := &models.ChatHistory{
		SessionID: msg.SessionID,
		SenderID:  msg.SenderID,
		Content:   msg.Content,
		Type:      msg.Type,
		Metadata:  msg.Metadata,
	}
	if err := h.store.AppendMessage(opCtx, record); err != nil {
		log.Printf("hub: persisting message in %s failed: %v", msg.SessionID, err)
		return
	}

	if err := h.bus.Publish(opCtx, models.Event{
		Type:      models.EventMessageCreated,
		UserID:    msg.SenderID,
		SessionID: msg.SessionID,
		MessageID: record.ID,
	}); err != nil {
		log.Printf("hub: publish message %d failed: %v", record.ID, err)
	}

	h.msgCount[msg.SessionID]++
	if h.analyzer != nil && h.analysisEvery > 0 && h.msgCount[msg.SessionID]%h.analysisEvery == 0 {
		go h.analyze(msg.SessionID)
	}
}

// analyze invokes the analysis collaborator fire-and-forget. Whatever goes
// wrong here is logged and forgotten; the chat flow never sees it.
func (h *Hub) analyze(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), config.OpTimeout)
	defer cancel()

	recent, err := h.store.ListMessagesSince(ctx, sessionID, 0)
	if err != nil {
		log.Printf("hub: analysis fetch for %s failed: %v", sessionID, err)
		return
	}
	if len(recent) > 10 {
		recent = recent[len(recent)-10:]
	}

	insights, err := h.analyzer.Analyze(ctx, sessionID, recent)
	if err != nil {
		log.Printf("hub: analysis for %s failed: %v", sessionID, err)
		return
	}
	log.Printf("hub: session %s insights: sentiment=%s vibe=%s engagement=%d topics=%v",
		sessionID, insights.Sentiment, insights.Vibe, insights.EngagementLevel, insights.Topics)
}

// routeEvent turns one bus event into client deliveries. Payloads are hints:
// the authoritative row is re-fetched before anything is shown to a client,
// and adopting a session the client already has is a no-op.
func (h *Hub) routeEvent(ctx context.Context, ev models.Event) {
	opCtx, cancel := context.WithTimeout(ctx, config.OpTimeout)
	defer cancel()

	switch ev.Type {
	case models.EventSessionCreated:
		h.adoptSession(opCtx, ev.SessionID)

	case models.EventSessionEnded:
		delete(h.msgCount, ev.SessionID)
		notice := models.ChatMessage{
			SessionID: ev.SessionID,
			SenderID:  "system",
			Content:   "Your partner has left the chat.",
			Type:      models.MessageChatEnded,
		}
		for _, userID := range []string{ev.UserID, ev.PartnerID} {
			client, ok := h.ClientFor(userID)
			if !ok || client.GetSessionID() != ev.SessionID {
				continue
			}
			client.SetSessionID("")
			h.deliver(client, notice)
		}

	case models.EventMessageCreated:
		if ev.Message != nil {
			// Ephemeral payload (typing): relay inline, nothing to re-fetch.
			h.fanOut(opCtx, ev.SessionID, ev.UserID, *ev.Message)
			return
		}
		record, err := h.store.GetMessage(opCtx, ev.MessageID)
		if err != nil {
			log.Printf("hub: re-fetch of message %d failed: %v", ev.MessageID, err)
			return
		}
		h.fanOut(opCtx, record.SessionID, record.SenderID, models.ChatMessage{
			ID:        record.ID,
			SessionID: record.SessionID,
			SenderID:  record.SenderID,
			Content:   record.Content,
			Type:      record.Type,
			Metadata:  record.Metadata,
		})

	case models.EventQueueRemoved:
		// "You were matched or left: check for a resulting session."
		client, ok := h.ClientFor(ev.UserID)
		if !ok || client.GetSessionID() != "" {
			return
		}
		session, err := h.store.ActiveSessionForUser(opCtx, ev.UserID)
		if err != nil {
			return
		}
		h.adoptSession(opCtx, session.ID)
	}
}

// adoptSession re-fetches the session and moves both connected participants
// into it. Duplicate notifications land here too; a client already in the
// session is left alone.
func (h *Hub) adoptSession(ctx context.Context, sessionID string) {
	session, err := h.store.GetSession(ctx, sessionID)
	if err != nil || session.Status != models.SessionActive {
		return
	}

	notice := models.ChatMessage{
		SessionID: session.ID,
		SenderID:  "system",
		Content:   "Partner found! Say hi.",
		Type:      models.MessageMatchFound,
	}
	for _, userID := range []string{session.UserLow, session.UserHigh} {
		client, ok := h.ClientFor(userID)
		if !ok || client.GetSessionID() == session.ID {
			continue
		}
		client.SetSessionID(session.ID)
		h.deliver(client, notice)
	}
}

// fanOut delivers a message to every connected participant of the session
// except its sender.
func (h *Hub) fanOut(ctx context.Context, sessionID, senderID string, msg models.ChatMessage) {
	session, err := h.store.GetSession(ctx, sessionID)
	if err != nil {
		return
	}
	for _, userID := range []string{session.UserLow, session.UserHigh} {
		if userID == senderID {
			continue
		}
		if client, ok := h.ClientFor(userID); ok {
			h.deliver(client, msg)
		}
	}
}

// deliver pushes without blocking the dispatch loop; a slow client loses the
// message rather than stalling everyone (it re-syncs from history).
func (h *Hub) deliver(client Client, msg models.ChatMessage) {
	select {
	case client.GetSendChannel() <- msg:
	default:
		log.Printf("hub: send buffer full for %s, dropping %s", client.GetUserID(), msg.Type)
	}
}
