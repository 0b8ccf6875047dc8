// Package telegram is the Bot API transport: it maps Telegram chats onto
// anonymous users and routes their messages through the central hub, so a
// Telegram user and a browser user can land in the same session.
package telegram

import (
	"context"
	"errors"
	"log"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"anonpair/backend/internal/chathub"
	"anonpair/backend/internal/config"
	"anonpair/backend/internal/models"
	"anonpair/backend/internal/presence"
	"anonpair/backend/internal/storage"
)

// BotService receives Telegram updates and drives the matchmaking core on
// the user's behalf.
type BotService struct {
	BotAPI  *tgbotapi.BotAPI
	Hub     *chathub.Hub
	Store   storage.Store
	Queue   *chathub.QueueService
	Matcher *chathub.Matcher
	Tracker *presence.Tracker
}

func NewBotService(
	token string,
	hub *chathub.Hub,
	store storage.Store,
	queue *chathub.QueueService,
	matcher *chathub.Matcher,
	tracker *presence.Tracker,
) (*BotService, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	bot.Debug = false
	log.Printf("telegram: authorized on account %s", bot.Self.UserName)

	return &BotService{
		BotAPI:  bot,
		Hub:     hub,
		Store:   store,
		Queue:   queue,
		Matcher: matcher,
		Tracker: tracker,
	}, nil
}

// Run consumes the update long-poll until the channel closes.
func (s *BotService) Run() {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := s.BotAPI.GetUpdatesChan(u)

	for update := range updates {
		if update.Message == nil {
			continue
		}
		s.handleMessage(update.Message)
	}
}

// getOrCreateClient maps the Telegram chat to an anonymous user and makes
// sure a hub client exists for them.
func (s *BotService) getOrCreateClient(ctx context.Context, chatID int64) (*Client, error) {
	user, err := s.Store.FindOrCreateUserByTelegramID(ctx, strconv.FormatInt(chatID, 10))
	if err != nil {
		return nil, err
	}

	if existing, ok := s.Hub.ClientFor(user.ID); ok {
		if client, ok := existing.(*Client); ok {
			return client, nil
		}
	}

	client := newClient(user.ID, chatID, s.BotAPI)
	s.Hub.RegisterCh <- client
	client.Run()
	return client, nil
}

func (s *BotService) handleMessage(msg *tgbotapi.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), config.OpTimeout)
	defer cancel()

	client, err := s.getOrCreateClient(ctx, msg.Chat.ID)
	if err != nil {
		log.Printf("telegram: user bootstrap for chat %d failed: %v", msg.Chat.ID, err)
		return
	}

	// Any interaction counts as liveness.
	_ = s.Tracker.Heartbeat(ctx, client.UserID)

	if msg.IsCommand() {
		s.handleCommand(ctx, client, msg)
		return
	}

	sessionID := client.GetSessionID()
	if sessionID == "" {
		s.reply(msg.Chat.ID, "You are not chatting with anyone. Send /search to find a partner.")
		return
	}

	s.Hub.IncomingCh <- models.ChatMessage{
		SessionID: sessionID,
		SenderID:  client.UserID,
		Content:   msg.Text,
		Type:      models.MessageText,
	}
}

func (s *BotService) handleCommand(ctx context.Context, client *Client, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		s.reply(msg.Chat.ID, "Welcome! Send /search to be paired with a random partner, "+
			"optionally with interests: /search music, food")

	case "search":
		req := models.MatchRequest{UserID: client.UserID, AnyOnline: false}
		// Stored profile preferences apply by default; command arguments
		// override the interest tags.
		if user, err := s.Store.GetUser(ctx, client.UserID); err == nil {
			req.Gender = user.Gender
			req.GenderPreference = user.GenderPreference
			req.Interests = user.Interests
		}
		if args := strings.TrimSpace(msg.CommandArguments()); args != "" {
			req.Interests = nil
			for _, tag := range strings.Split(args, ",") {
				if tag = strings.TrimSpace(strings.ToLower(tag)); tag != "" {
					req.Interests = append(req.Interests, tag)
				}
			}
		}
		if err := s.Queue.Join(ctx, req); err != nil {
			s.reply(msg.Chat.ID, "Could not join the queue, please try again.")
			return
		}
		// The hub announces a resulting session to both sides once the created
		// event lands, so only the failure modes need a reply here.
		if _, err := s.Matcher.FindMatch(ctx, req); err != nil {
			if errors.Is(err, chathub.ErrNoMatch) {
				s.reply(msg.Chat.ID, "Looking for a partner... you will be notified.")
				return
			}
			s.reply(msg.Chat.ID, "Matching hiccuped, please try /search again.")
		}

	case "stop":
		if sessionID := client.GetSessionID(); sessionID != "" {
			if err := s.Matcher.Sessions().EndSession(ctx, sessionID); err != nil {
				log.Printf("telegram: end session %s failed: %v", sessionID, err)
			}
		} else {
			if err := s.Queue.Leave(ctx, client.UserID); err != nil {
				log.Printf("telegram: leave queue for %s failed: %v", client.UserID, err)
			}
			s.reply(msg.Chat.ID, "Stopped searching.")
		}

	case "next":
		sessionID := client.GetSessionID()
		if sessionID == "" {
			s.reply(msg.Chat.ID, "No active chat to skip. Send /search instead.")
			return
		}
		req := models.MatchRequest{UserID: client.UserID}
		if _, err := s.Matcher.Skip(ctx, sessionID, req); err != nil {
			s.reply(msg.Chat.ID, "Could not skip right now, please try again.")
			return
		}
		s.reply(msg.Chat.ID, "Skipped. Looking for someone new...")

	default:
		s.reply(msg.Chat.ID, "Commands: /search, /next, /stop")
	}
}

func (s *BotService) reply(chatID int64, text string) {
	if _, err := s.BotAPI.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		log.Printf("telegram: reply to %d failed: %v", chatID, err)
	}
}
