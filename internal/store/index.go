package store

import (
	"log"
	"time"

	"campuschat-client/internal/models"
	"campuschat-client/internal/protocol"
)

// The methods below implement transport.EventHandler. They are invoked from
// the transport's read loop in delivery order; each takes the store mutex,
// so inbound events serialize with UI-driven mutations.

// HandleMessage appends an inbound message to the ledger. Appending never
// reorders already-displayed entries, even if the message's send time
// predates buffered optimistic sends. Duplicate ids are dropped.
func (s *Store) HandleMessage(msg models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[msg.ID]; exists {
		log.Printf("Store: duplicate inbound message %s, ignoring", msg.ID)
		return
	}
	if msg.Status == "" {
		msg.Status = models.StatusDelivered
	}

	stored := msg
	s.messages = append(s.messages, &stored)
	s.byID[stored.ID] = &stored
	s.touchConversationLocked(&stored)

	if stored.SenderID != s.self.ID {
		convID := stored.ConversationID(s.self.ID)
		s.ensureConversationLocked(convID).UnreadCount++
		// A message from the sender supersedes their typing indicator.
		s.clearTypingLocked(convID)
	}
}

// HandleMessageAck resolves an optimistic send. An ack with an error moves
// the record to failed; otherwise it moves sending -> sent. When the server
// assigned a canonical id, the temporary id is swapped out and retained in
// ClientTempID for correlation.
func (s *Store) HandleMessageAck(ack protocol.AckPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.byID[ack.ClientTempID]
	if !ok {
		log.Printf("Store: ack for unknown message %s, ignoring", ack.ClientTempID)
		return
	}

	if ack.Error != "" {
		if msg.Status.CanTransitionTo(models.StatusFailed) {
			msg.Status = models.StatusFailed
		}
		log.Printf("Store: send %s rejected: %s", ack.ClientTempID, ack.Error)
		return
	}

	next := ack.Status
	if next == "" {
		next = models.StatusSent
	}
	if msg.Status.CanTransitionTo(next) {
		msg.Status = next
	}

	if ack.ServerMsgID != "" && ack.ServerMsgID != msg.ID {
		delete(s.byID, msg.ID)
		msg.ClientTempID = msg.ID
		msg.ID = ack.ServerMsgID
		s.byID[msg.ID] = msg
	}
}

// HandleMessageStatus applies a delivery-state change. Transitions must be
// monotonic; regressions and updates to failed (terminal) records are
// dropped.
func (s *Store) HandleMessageStatus(p protocol.MessageStatusPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.byID[p.MessageID]
	if !ok {
		return
	}
	if !msg.Status.CanTransitionTo(p.Status) {
		return
	}
	msg.Status = p.Status

	if p.Status == models.StatusRead {
		s.recomputeUnreadLocked(msg.ConversationID(s.self.ID))
	}
}

// HandleTyping sets the conversation's typing flag and arms the timeout
// that clears it if neither a refresh nor a stopTyping event arrives.
func (s *Store) HandleTyping(p protocol.TypingPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || p.UserID == s.self.ID {
		return
	}

	convID := s.typingConversationLocked(p)
	s.ensureConversationLocked(convID).IsTyping = true

	if t, ok := s.typingTimers[convID]; ok {
		t.Stop()
	}
	s.typingTimers[convID] = time.AfterFunc(s.typingTimeout, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.conversations[convID]; ok {
			c.IsTyping = false
		}
		delete(s.typingTimers, convID)
	})
}

// HandleStopTyping clears the conversation's typing flag.
func (s *Store) HandleStopTyping(p protocol.TypingPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearTypingLocked(s.typingConversationLocked(p))
}

// typingConversationLocked maps a typing event to the local conversation
// key. A direct-chat event is addressed to us with the typist's id in
// UserID; locally that conversation is keyed by the typist. Caller must
// hold s.mu.
func (s *Store) typingConversationLocked(p protocol.TypingPayload) string {
	if p.ConversationID == s.self.ID {
		return p.UserID
	}
	return p.ConversationID
}

// clearTypingLocked resets the typing flag and disarms its timeout. Caller
// must hold s.mu.
func (s *Store) clearTypingLocked(conversationID string) {
	if c, ok := s.conversations[conversationID]; ok {
		c.IsTyping = false
	}
	if t, ok := s.typingTimers[conversationID]; ok {
		t.Stop()
		delete(s.typingTimers, conversationID)
	}
}

// touchConversationLocked keeps derived state in step with a ledger
// append: the conversation exists and, for group messages, the owning
// group's last-message pointer tracks the newest entry. The pointer is
// non-owning; the ledger remains the single owner of message records.
// Caller must hold s.mu.
func (s *Store) touchConversationLocked(msg *models.Message) {
	s.ensureConversationLocked(msg.ConversationID(s.self.ID))
	if g := s.groupForLocked(msg); g != nil {
		g.LastMessage = msg
		g.UpdatedAt = msg.Timestamp
	}
}
