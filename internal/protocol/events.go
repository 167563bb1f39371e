// Package protocol defines the wire envelope and typed payloads exchanged
// with the chat server. The server half is an external collaborator; this
// package only describes the events the client emits and consumes.
package protocol

import (
	"encoding/json"

	"campuschat-client/internal/models"
)

// Outbound event types (client -> server).
const (
	EventSendMessage    = "sendMessage"
	EventEditMessage    = "editMessage"
	EventDeleteMessage  = "deleteMessage"
	EventMarkAsRead     = "markAsRead"
	EventReactMessage   = "reactToMessage"
	EventRemoveReaction = "removeReaction"
	EventReplyMessage   = "replyToMessage"
	EventPinMessage     = "pinMessage"
	EventUnpinMessage   = "unpinMessage"
	EventTyping         = "typing"
	EventStopTyping     = "stopTyping"
)

// Inbound event types (server -> client).
const (
	EventMessage       = "message"
	EventMessageAck    = "messageAck"
	EventMessageStatus = "messageStatus"
	EventError         = "error"
	// EventTyping and EventStopTyping are relayed back by the server with
	// the same type strings used outbound.
)

// Envelope wraps every message on the socket. Type selects how Payload is
// decoded.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload and wraps it with the given event type.
func NewEnvelope(eventType string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: eventType, Payload: raw}, nil
}

// SendMessagePayload carries an optimistic message to the server. The
// client-generated temporary id lets the ack land on the right record.
type SendMessagePayload struct {
	ClientTempID string         `json:"clientTempId"`
	Message      models.Message `json:"message"`
}

// AckPayload acknowledges a SendMessagePayload. ServerMsgID is the
// canonical id when the server assigns one; Error is set when the server
// rejected the send.
type AckPayload struct {
	ClientTempID string               `json:"clientTempId"`
	ServerMsgID  string               `json:"serverMsgId,omitempty"`
	Timestamp    models.JSONTime      `json:"timestamp"`
	Status       models.MessageStatus `json:"status,omitempty"`
	Error        string               `json:"error,omitempty"`
}

// EditMessagePayload notifies the server of an in-place content edit.
type EditMessagePayload struct {
	MessageID string `json:"messageId"`
	Content   string `json:"content"`
}

// DeleteMessagePayload notifies the server of a soft delete.
type DeleteMessagePayload struct {
	MessageID string `json:"messageId"`
}

// MarkAsReadPayload carries a bulk read receipt.
type MarkAsReadPayload struct {
	MessageIDs []string `json:"messageIds"`
}

// ReactionPayload adds or removes the sender from an emoji's user set.
type ReactionPayload struct {
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
}

// ReplyPayload attaches a reply to its parent message.
type ReplyPayload struct {
	ParentID string       `json:"parentId"`
	Reply    models.Reply `json:"reply"`
}

// PinPayload pins or unpins a message within its group.
type PinPayload struct {
	MessageID string `json:"messageId"`
	GroupID   string `json:"groupId"`
}

// MessageStatusPayload reports a delivery-state change for one message.
type MessageStatusPayload struct {
	MessageID string               `json:"messageId"`
	Status    models.MessageStatus `json:"status"`
}

// TypingPayload signals that a user started or stopped typing in a
// conversation.
type TypingPayload struct {
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId"`
}

// ErrorPayload carries a server-side error message.
type ErrorPayload struct {
	Message string `json:"message"`
	Code    int    `json:"code,omitempty"`
}
