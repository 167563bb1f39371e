// Package devserver is an in-memory stand-in for the production chat
// server. It speaks the client's wire protocol — acks sends, relays
// messages, statuses, and typing events — so the messaging client can be
// exercised end to end without the real backend. It persists nothing.
package devserver

import (
	"encoding/json"
	"log"
	"sync"

	"campuschat-client/internal/models"
	"campuschat-client/internal/protocol"

	"github.com/google/uuid"
)

// Hub maintains the connected dev clients and routes envelopes between
// them.
type Hub struct {
	clients    map[string]map[*client]bool
	clientsMux sync.RWMutex

	process    chan hubMessage
	register   chan *client
	unregister chan *client
}

type hubMessage struct {
	client  *client
	rawJSON []byte
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*client]bool),
		process:    make(chan hubMessage),
		register:   make(chan *client),
		unregister: make(chan *client),
	}
}

// Run processes hub events until the process exits.
func (h *Hub) Run() {
	log.Println("Dev hub: starting...")
	for {
		select {
		case c := <-h.register:
			h.clientsMux.Lock()
			if _, ok := h.clients[c.userID]; !ok {
				h.clients[c.userID] = make(map[*client]bool)
			}
			h.clients[c.userID][c] = true
			log.Printf("Dev hub: client registered (user: %s)", c.userID)
			h.clientsMux.Unlock()

		case c := <-h.unregister:
			h.clientsMux.Lock()
			if userClients, ok := h.clients[c.userID]; ok {
				if _, exists := userClients[c]; exists {
					close(c.send)
					delete(userClients, c)
					if len(userClients) == 0 {
						delete(h.clients, c.userID)
					}
					log.Printf("Dev hub: client unregistered (user: %s)", c.userID)
				}
			}
			h.clientsMux.Unlock()

		case msg := <-h.process:
			h.handleEnvelope(msg.client, msg.rawJSON)
		}
	}
}

func (h *Hub) handleEnvelope(sender *client, rawJSON []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(rawJSON, &env); err != nil {
		log.Printf("Dev hub: bad envelope from %s: %v", sender.userID, err)
		sender.sendEvent(protocol.EventError, protocol.ErrorPayload{Message: "invalid envelope"})
		return
	}

	switch env.Type {
	case protocol.EventSendMessage:
		var p protocol.SendMessagePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			sender.sendEvent(protocol.EventError, protocol.ErrorPayload{Message: "invalid sendMessage payload"})
			return
		}
		h.handleSend(sender, p)

	case protocol.EventMarkAsRead:
		var p protocol.MarkAsReadPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			sender.sendEvent(protocol.EventError, protocol.ErrorPayload{Message: "invalid markAsRead payload"})
			return
		}
		for _, id := range p.MessageIDs {
			h.broadcastExcept(sender.userID, protocol.EventMessageStatus, protocol.MessageStatusPayload{
				MessageID: id,
				Status:    models.StatusRead,
			})
		}

	case protocol.EventTyping, protocol.EventStopTyping:
		var p protocol.TypingPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			sender.sendEvent(protocol.EventError, protocol.ErrorPayload{Message: "invalid typing payload"})
			return
		}
		h.broadcastExcept(sender.userID, env.Type, p)

	case protocol.EventEditMessage, protocol.EventDeleteMessage,
		protocol.EventReactMessage, protocol.EventRemoveReaction,
		protocol.EventReplyMessage, protocol.EventPinMessage,
		protocol.EventUnpinMessage:
		// Pure relay: every other connected client sees the mutation.
		h.relayRawExcept(sender.userID, rawJSON)

	default:
		log.Printf("Dev hub: unknown event %q from %s", env.Type, sender.userID)
		sender.sendEvent(protocol.EventError, protocol.ErrorPayload{Message: "unknown event type"})
	}
}

// handleSend acks the optimistic send with a server-assigned id, then
// delivers the message to its recipient (direct) or to every other
// connected client (group; the dev hub has no membership registry).
func (h *Hub) handleSend(sender *client, p protocol.SendMessagePayload) {
	msg := p.Message
	if err := msg.Validate(); err != nil {
		sender.sendEvent(protocol.EventMessageAck, protocol.AckPayload{
			ClientTempID: p.ClientTempID,
			Timestamp:    models.Now(),
			Error:        err.Error(),
		})
		return
	}

	serverID := uuid.NewString()
	sender.sendEvent(protocol.EventMessageAck, protocol.AckPayload{
		ClientTempID: p.ClientTempID,
		ServerMsgID:  serverID,
		Timestamp:    models.Now(),
		Status:       models.StatusSent,
	})

	msg.ID = serverID
	msg.ClientTempID = p.ClientTempID
	msg.Status = models.StatusDelivered

	if msg.RecipientID != nil && *msg.RecipientID != "" {
		h.sendToUser(*msg.RecipientID, protocol.EventMessage, msg)
		// The recipient got it; tell the sender it was delivered.
		if h.userConnected(*msg.RecipientID) {
			sender.sendEvent(protocol.EventMessageStatus, protocol.MessageStatusPayload{
				MessageID: serverID,
				Status:    models.StatusDelivered,
			})
		}
		return
	}
	h.broadcastExcept(sender.userID, protocol.EventMessage, msg)
}

func (h *Hub) userConnected(userID string) bool {
	h.clientsMux.RLock()
	defer h.clientsMux.RUnlock()
	return len(h.clients[userID]) > 0
}

// sendToUser delivers an event to every connection a user has open.
func (h *Hub) sendToUser(userID, eventType string, payload any) {
	h.clientsMux.RLock()
	defer h.clientsMux.RUnlock()
	for c := range h.clients[userID] {
		c.sendEvent(eventType, payload)
	}
}

// broadcastExcept delivers an event to every connected user except one.
func (h *Hub) broadcastExcept(exceptUserID, eventType string, payload any) {
	h.clientsMux.RLock()
	defer h.clientsMux.RUnlock()
	for userID, conns := range h.clients {
		if userID == exceptUserID {
			continue
		}
		for c := range conns {
			c.sendEvent(eventType, payload)
		}
	}
}

// relayRawExcept forwards an already-encoded envelope untouched.
func (h *Hub) relayRawExcept(exceptUserID string, rawJSON []byte) {
	h.clientsMux.RLock()
	defer h.clientsMux.RUnlock()
	for userID, conns := range h.clients {
		if userID == exceptUserID {
			continue
		}
		for c := range conns {
			c.sendRaw(rawJSON)
		}
	}
}
