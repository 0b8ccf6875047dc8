package chathub

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"anonpair/backend/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// WebSocketClient is the browser-facing transport. Its chat lifecycle is
// owned by a StateMachine, so duplicate match notifications and stray ends
// are absorbed rather than clobbering the session id.
type WebSocketClient struct {
	UserID string
	Conn   *websocket.Conn
	Hub    *Hub
	Send   chan models.ChatMessage

	state     *StateMachine
	closeOnce sync.Once
}

func NewWebSocketClient(hub *Hub, userID string, conn *websocket.Conn) *WebSocketClient {
	return &WebSocketClient{
		UserID: userID,
		Conn:   conn,
		Hub:    hub,
		Send:   make(chan models.ChatMessage, 256),
		state:  NewStateMachine(),
	}
}

func (c *WebSocketClient) GetUserID() string { return c.UserID }

func (c *WebSocketClient) GetSessionID() string { return c.state.ActiveSessionID() }

func (c *WebSocketClient) SetSessionID(id string) {
	if id == "" {
		c.state.Release()
		return
	}
	if err := c.state.Adopt(id); err != nil {
		log.Printf("ws: session adoption for %s failed: %v", c.UserID, err)
	}
}

func (c *WebSocketClient) GetSendChannel() chan<- models.ChatMessage { return c.Send }

func (c *WebSocketClient) Run() {
	go c.writePump()
	go c.readPump()
}

// Close stops the write pump; the read pump dies with the connection.
func (c *WebSocketClient) Close() {
	c.closeOnce.Do(func() { close(c.Send) })
}

func (c *WebSocketClient) readPump() {
	defer func() {
		c.Hub.UnregisterCh <- c
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("ws: read error for %s: %v", c.UserID, err)
			}
			break
		}

		var msg models.ChatMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Printf("ws: bad JSON from %s: %v", c.UserID, err)
			continue
		}

		// The socket's identity wins over whatever the payload claims.
		msg.SenderID = c.UserID
		if msg.SessionID == "" {
			msg.SessionID = c.GetSessionID()
		}
		c.Hub.IncomingCh <- msg
	}
}

func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			data, err := json.Marshal(msg)
			if err != nil {
				log.Printf("ws: encode for %s failed: %v", c.UserID, err)
				continue
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
