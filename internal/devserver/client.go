package devserver

import (
	"encoding/json"
	"log"
	"time"

	"campuschat-client/internal/protocol"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

// client bridges one websocket connection with the hub.
type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID string
}

func newClient(hub *Hub, conn *websocket.Conn, userID string) *client {
	return &client{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, 256),
		userID: userID,
	}
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("Dev hub: readPump error for user %s: %v", c.userID, err)
			}
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}
		c.hub.process <- hubMessage{client: c, rawJSON: raw}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case raw, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendEvent queues a typed envelope for this connection, dropping it when
// the queue is full.
func (c *client) sendEvent(eventType string, payload any) {
	env, err := protocol.NewEnvelope(eventType, payload)
	if err != nil {
		log.Printf("Dev hub: encode %s for user %s: %v", eventType, c.userID, err)
		return
	}
	raw, err := json.Marshal(env)
	if err != nil {
		log.Printf("Dev hub: encode %s for user %s: %v", eventType, c.userID, err)
		return
	}
	c.sendRaw(raw)
}

func (c *client) sendRaw(raw []byte) {
	select {
	case c.send <- raw:
	default:
		log.Printf("Dev hub: send queue full for user %s, dropping event", c.userID)
	}
}
