package telegram

import (
	"log"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"anonpair/backend/internal/chathub"
	"anonpair/backend/internal/models"
)

// Client adapts one Telegram chat to the hub's Client interface. Reads are
// handled centrally by the bot's update loop; only the write pump lives here.
// The chat lifecycle is owned by a StateMachine shared with the ws transport.
type Client struct {
	UserID string
	ChatID int64
	BotAPI *tgbotapi.BotAPI
	Send   chan models.ChatMessage

	state     *chathub.StateMachine
	closeOnce sync.Once
}

func newClient(userID string, chatID int64, bot *tgbotapi.BotAPI) *Client {
	return &Client{
		UserID: userID,
		ChatID: chatID,
		BotAPI: bot,
		Send:   make(chan models.ChatMessage, 64),
		state:  chathub.NewStateMachine(),
	}
}

func (c *Client) GetUserID() string { return c.UserID }

func (c *Client) GetSessionID() string { return c.state.ActiveSessionID() }

func (c *Client) SetSessionID(id string) {
	if id == "" {
		c.state.Release()
		return
	}
	if err := c.state.Adopt(id); err != nil {
		log.Printf("telegram: session adoption for %s failed: %v", c.UserID, err)
	}
}

func (c *Client) GetSendChannel() chan<- models.ChatMessage { return c.Send }

func (c *Client) Run() {
	go c.writePump()
}

func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.Send) })
}

func (c *Client) writePump() {
	for message := range c.Send {
		if message.SenderID == c.UserID {
			continue // never echo the user's own messages back
		}

		var text string
		switch message.Type {
		case models.MessageTyping:
			continue // Telegram has no useful surface for these
		case models.MessageMatchFound:
			text = "🎉 " + message.Content
		case models.MessageChatEnded:
			text = "👋 " + message.Content
		default:
			text = message.Content
		}

		if _, err := c.BotAPI.Send(tgbotapi.NewMessage(c.ChatID, text)); err != nil {
			log.Printf("telegram: send to %d failed: %v", c.ChatID, err)
		}
	}
}
