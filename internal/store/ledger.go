package store

import (
	"log"
	"strings"

	"campuschat-client/internal/models"
	"campuschat-client/internal/protocol"

	"github.com/google/uuid"
)

// tempID generates a client-side optimistic message id.
func tempID() string {
	return "temp-" + uuid.NewString()
}

// SendMessage appends an optimistic record with a temporary id and status
// "sending", then emits the draft over the transport. The acknowledgement
// (or a transport failure) later moves the record to "sent" or "failed";
// a failed send is terminal and retry means calling SendMessage again.
func (s *Store) SendMessage(d models.Draft) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.transport.Connected() {
		return models.Message{}, ErrNotConnected
	}

	msg := s.messageFromDraft(d)
	if err := msg.Validate(); err != nil {
		return models.Message{}, err
	}
	if err := s.checkSendGatesLocked(&msg); err != nil {
		return models.Message{}, err
	}

	return s.appendAndEmitLocked(&msg)
}

func (s *Store) messageFromDraft(d models.Draft) models.Message {
	msg := models.Message{
		ID:            tempID(),
		SenderID:      d.SenderID,
		SenderName:    d.SenderName,
		SenderRole:    d.SenderRole,
		RecipientID:   d.RecipientID,
		RecipientName: d.RecipientName,
		GroupID:       d.GroupID,
		GroupName:     d.GroupName,
		Content:       d.Content,
		RawContent:    d.RawContent,
		Timestamp:     models.Now(),
		Status:        models.StatusSending,
		Type:          d.Type,
		Attachments:   d.Attachments,
		Mentions:      d.Mentions,
		Metadata:      d.Metadata,
	}
	if msg.SenderID == "" {
		msg.SenderID = s.self.ID
		msg.SenderName = s.self.Name
		msg.SenderRole = s.self.Role
		msg.SenderAvatar = s.self.Avatar
	}
	if msg.Type == "" {
		msg.Type = models.TypeText
	}
	return msg
}

// checkSendGatesLocked enforces group capability flags on outgoing
// messages. Caller must hold s.mu.
func (s *Store) checkSendGatesLocked(msg *models.Message) error {
	g := s.groupForLocked(msg)
	if g == nil {
		return nil
	}
	if len(msg.Attachments) > 0 {
		if !g.Settings.AllowFileSharing {
			return ErrFilesDisabled
		}
		for _, a := range msg.Attachments {
			if g.Settings.MaxFileSize > 0 && a.Size > g.Settings.MaxFileSize {
				return ErrFileTooLarge
			}
			if len(g.Settings.AllowedFileTypes) > 0 && !mimeAllowed(a.MimeType, g.Settings.AllowedFileTypes) {
				return ErrFileTypeNotAllowed
			}
		}
	}
	if msg.Type == models.TypePoll && !g.Settings.AllowPolls {
		return ErrPollsDisabled
	}
	return nil
}

// mimeAllowed matches a MIME type against an allow list. Entries may name
// an exact type ("application/pdf") or a family ("image/*").
func mimeAllowed(mimeType string, allowed []string) bool {
	for _, t := range allowed {
		if t == mimeType {
			return true
		}
		if strings.HasSuffix(t, "/*") && strings.HasPrefix(mimeType, strings.TrimSuffix(t, "*")) {
			return true
		}
	}
	return false
}

// appendAndEmitLocked inserts the optimistic record and emits it. A
// transport error at this point (a lost-connection race) marks the record
// failed rather than removing it. Caller must hold s.mu.
func (s *Store) appendAndEmitLocked(msg *models.Message) (models.Message, error) {
	s.messages = append(s.messages, msg)
	s.byID[msg.ID] = msg
	s.touchConversationLocked(msg)

	payload := protocol.SendMessagePayload{ClientTempID: msg.ID, Message: *msg}
	if err := s.transport.Emit(protocol.EventSendMessage, payload); err != nil {
		log.Printf("Store: emit sendMessage failed for %s: %v", msg.ID, err)
		msg.Status = models.StatusFailed
	}
	return cloneMessage(msg), nil
}

// EditMessage applies a content edit optimistically and notifies the
// transport. Only the author may edit, and only while the record is not
// soft-deleted. There is no rollback path on server rejection.
func (s *Store) EditMessage(id, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.transport.Connected() {
		return ErrNotConnected
	}
	msg, ok := s.byID[id]
	if !ok {
		return ErrMessageNotFound
	}
	if msg.SenderID != s.self.ID {
		return ErrNotOwner
	}
	if msg.IsDeleted {
		return ErrMessageDeleted
	}
	if g := s.groupForLocked(msg); g != nil && !g.Settings.AllowEditing {
		return ErrEditingDisabled
	}

	now := models.Now()
	msg.Content = content
	msg.IsEdited = true
	msg.EditedAt = &now

	return s.transport.Emit(protocol.EventEditMessage, protocol.EditMessagePayload{
		MessageID: id,
		Content:   content,
	})
}

// DeleteMessage soft-deletes a record: the entry stays in the ledger with
// its content retained so replies that reference it remain resolvable.
func (s *Store) DeleteMessage(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.transport.Connected() {
		return ErrNotConnected
	}
	msg, ok := s.byID[id]
	if !ok {
		return ErrMessageNotFound
	}
	if msg.SenderID != s.self.ID {
		return ErrNotOwner
	}
	if g := s.groupForLocked(msg); g != nil && !g.Settings.AllowDeletion {
		return ErrDeletionDisabled
	}
	if msg.IsDeleted {
		return nil
	}

	msg.IsDeleted = true
	s.recomputeUnreadLocked(msg.ConversationID(s.self.ID))

	return s.transport.Emit(protocol.EventDeleteMessage, protocol.DeleteMessagePayload{MessageID: id})
}

// MarkAsRead transitions the given messages to "read", locally and via a
// bulk transport notification. Ids not present in the ledger are ignored
// without error; regressive transitions are dropped.
func (s *Store) MarkAsRead(ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.transport.Connected() {
		return ErrNotConnected
	}

	affected := make(map[string]string) // conversation id -> last covered message id
	for _, id := range ids {
		msg, ok := s.byID[id]
		if !ok {
			continue
		}
		if msg.Status.CanTransitionTo(models.StatusRead) {
			msg.Status = models.StatusRead
		}
		affected[msg.ConversationID(s.self.ID)] = msg.ID
	}

	for convID, lastID := range affected {
		c := s.ensureConversationLocked(convID)
		c.LastReadMessageID = lastID
		s.recomputeUnreadLocked(convID)
	}

	return s.transport.Emit(protocol.EventMarkAsRead, protocol.MarkAsReadPayload{MessageIDs: ids})
}

// ReactToMessage adds the local user to the emoji's user set. Set
// semantics: adding twice is idempotent and does not re-notify the server.
func (s *Store) ReactToMessage(id, emoji string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.transport.Connected() {
		return ErrNotConnected
	}
	msg, ok := s.byID[id]
	if !ok {
		return ErrMessageNotFound
	}
	if g := s.groupForLocked(msg); g != nil && !g.Settings.AllowReactions {
		return ErrReactionsDisabled
	}

	for i := range msg.Reactions {
		if msg.Reactions[i].Emoji == emoji {
			if msg.Reactions[i].HasUser(s.self.ID) {
				return nil
			}
			msg.Reactions[i].Users = append(msg.Reactions[i].Users, models.ReactionUser{ID: s.self.ID, Name: s.self.Name})
			return s.transport.Emit(protocol.EventReactMessage, protocol.ReactionPayload{MessageID: id, Emoji: emoji})
		}
	}

	msg.Reactions = append(msg.Reactions, models.Reaction{
		Emoji: emoji,
		Users: []models.ReactionUser{{ID: s.self.ID, Name: s.self.Name}},
	})
	return s.transport.Emit(protocol.EventReactMessage, protocol.ReactionPayload{MessageID: id, Emoji: emoji})
}

// RemoveReaction removes the local user from the emoji's user set,
// dropping the reaction entry entirely when its user set empties.
func (s *Store) RemoveReaction(id, emoji string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.transport.Connected() {
		return ErrNotConnected
	}
	msg, ok := s.byID[id]
	if !ok {
		return ErrMessageNotFound
	}

	for i := range msg.Reactions {
		if msg.Reactions[i].Emoji != emoji {
			continue
		}
		users := msg.Reactions[i].Users[:0]
		for _, u := range msg.Reactions[i].Users {
			if u.ID != s.self.ID {
				users = append(users, u)
			}
		}
		if len(users) == 0 {
			msg.Reactions = append(msg.Reactions[:i], msg.Reactions[i+1:]...)
		} else {
			msg.Reactions[i].Users = users
		}
		return s.transport.Emit(protocol.EventRemoveReaction, protocol.ReactionPayload{MessageID: id, Emoji: emoji})
	}
	return nil
}

// ReplyDraft is the caller-supplied portion of a reply.
type ReplyDraft struct {
	Content     string
	Attachments []models.Attachment
}

// ReplyToMessage attaches a reply to its parent message. Replies live on
// the parent, not as top-level ledger entries, and remain resolvable even
// when the parent is soft-deleted.
func (s *Store) ReplyToMessage(parentID string, rd ReplyDraft) (models.Reply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.transport.Connected() {
		return models.Reply{}, ErrNotConnected
	}
	parent, ok := s.byID[parentID]
	if !ok {
		return models.Reply{}, ErrMessageNotFound
	}
	if g := s.groupForLocked(parent); g != nil && !g.Settings.AllowReplies {
		return models.Reply{}, ErrRepliesDisabled
	}

	reply := models.Reply{
		ID:          tempID(),
		Content:     rd.Content,
		SenderID:    s.self.ID,
		SenderName:  s.self.Name,
		Timestamp:   models.Now(),
		Attachments: rd.Attachments,
	}
	parent.Replies = append(parent.Replies, reply)

	err := s.transport.Emit(protocol.EventReplyMessage, protocol.ReplyPayload{ParentID: parentID, Reply: reply})
	return reply, err
}

// PinMessage pins a group message. Requires the local user to be a group
// admin or moderator; pinning is idempotent.
func (s *Store) PinMessage(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.transport.Connected() {
		return ErrNotConnected
	}
	msg, ok := s.byID[id]
	if !ok {
		return ErrMessageNotFound
	}
	if msg.GroupID == nil || *msg.GroupID == "" {
		return ErrNotGroupMessage
	}
	g, ok := s.groups[*msg.GroupID]
	if !ok {
		return ErrGroupNotFound
	}
	if !g.IsModeratorOrAdmin(s.self.ID) {
		return ErrNotModerator
	}

	for _, pinned := range g.Pinned {
		if pinned == id {
			return nil
		}
	}
	g.Pinned = append(g.Pinned, id)
	msg.IsPinned = true

	return s.transport.Emit(protocol.EventPinMessage, protocol.PinPayload{MessageID: id, GroupID: g.ID})
}

// UnpinMessage removes a message from its group's pinned set.
func (s *Store) UnpinMessage(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.transport.Connected() {
		return ErrNotConnected
	}
	msg, ok := s.byID[id]
	if !ok {
		return ErrMessageNotFound
	}
	if msg.GroupID == nil || *msg.GroupID == "" {
		return ErrNotGroupMessage
	}
	g, ok := s.groups[*msg.GroupID]
	if !ok {
		return ErrGroupNotFound
	}
	if !g.IsModeratorOrAdmin(s.self.ID) {
		return ErrNotModerator
	}

	for i, pinned := range g.Pinned {
		if pinned == id {
			g.Pinned = append(g.Pinned[:i], g.Pinned[i+1:]...)
			break
		}
	}
	msg.IsPinned = false

	return s.transport.Emit(protocol.EventUnpinMessage, protocol.PinPayload{MessageID: id, GroupID: g.ID})
}

// ForwardMessage sends the source message's content to each target as a
// fresh optimistic send flagged IsForwarded. A target id naming a
// registered group forwards to that group, otherwise it is treated as a
// direct recipient.
func (s *Store) ForwardMessage(id string, toIDs []string) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.transport.Connected() {
		return nil, ErrNotConnected
	}
	src, ok := s.byID[id]
	if !ok {
		return nil, ErrMessageNotFound
	}
	if g := s.groupForLocked(src); g != nil && !g.Settings.AllowForwarding {
		return nil, ErrForwardingDisabled
	}

	out := make([]models.Message, 0, len(toIDs))
	for _, target := range toIDs {
		msg := models.Message{
			ID:          tempID(),
			SenderID:    s.self.ID,
			SenderName:  s.self.Name,
			SenderRole:  s.self.Role,
			Content:     src.Content,
			RawContent:  src.RawContent,
			Timestamp:   models.Now(),
			Status:      models.StatusSending,
			Type:        src.Type,
			Attachments: src.Attachments,
			Metadata:    src.Metadata,
			IsForwarded: true,
		}
		if g, isGroup := s.groups[target]; isGroup {
			gid, gname := g.ID, g.Name
			msg.GroupID = &gid
			msg.GroupName = &gname
		} else {
			t := target
			msg.RecipientID = &t
		}

		sent, err := s.appendAndEmitLocked(&msg)
		if err != nil {
			return out, err
		}
		out = append(out, sent)
	}
	return out, nil
}

// SendTypingIndicator tells the server the local user is typing in a
// conversation.
func (s *Store) SendTypingIndicator(conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.transport.Connected() {
		return ErrNotConnected
	}
	return s.transport.Emit(protocol.EventTyping, protocol.TypingPayload{
		UserID:         s.self.ID,
		ConversationID: conversationID,
	})
}

// ClearTypingIndicator tells the server the local user stopped typing.
func (s *Store) ClearTypingIndicator(conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.transport.Connected() {
		return ErrNotConnected
	}
	return s.transport.Emit(protocol.EventStopTyping, protocol.TypingPayload{
		UserID:         s.self.ID,
		ConversationID: conversationID,
	})
}
