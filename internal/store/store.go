// Package store holds the client-side messaging state: the ordered message
// ledger, the group registry, and the derived per-conversation index. All
// mutations are serialized behind one mutex so concurrent UI calls and
// inbound transport events are linearizable.
package store

import (
	"errors"
	"strings"
	"sync"
	"time"

	"campuschat-client/internal/models"
)

// Precondition errors, raised synchronously before any state change.
var (
	ErrNotConnected       = errors.New("store: not connected")
	ErrMessageNotFound    = errors.New("store: message not found")
	ErrNotOwner           = errors.New("store: message belongs to another user")
	ErrMessageDeleted     = errors.New("store: message is deleted")
	ErrGroupNotFound      = errors.New("store: group not found")
	ErrNotGroupMessage    = errors.New("store: message is not a group message")
	ErrNotModerator       = errors.New("store: requires group admin or moderator")
	ErrEditingDisabled    = errors.New("store: editing is disabled for this group")
	ErrDeletionDisabled   = errors.New("store: deletion is disabled for this group")
	ErrReactionsDisabled  = errors.New("store: reactions are disabled for this group")
	ErrRepliesDisabled    = errors.New("store: replies are disabled for this group")
	ErrForwardingDisabled = errors.New("store: forwarding is disabled for this group")
	ErrPollsDisabled      = errors.New("store: polls are disabled for this group")
	ErrFilesDisabled      = errors.New("store: file sharing is disabled for this group")
	ErrFileTooLarge       = errors.New("store: attachment exceeds the group size limit")
	ErrFileTypeNotAllowed = errors.New("store: attachment type is not allowed in this group")
	ErrPinnedUnknown      = errors.New("store: pinned message id not present in ledger")
)

// Transport is the slice of the connection manager the store depends on.
type Transport interface {
	Connected() bool
	Emit(eventType string, payload any) error
}

// Self identifies the local user for ownership checks and message
// authorship.
type Self struct {
	ID     string
	Name   string
	Role   string
	Avatar string
}

const defaultTypingTimeout = 5 * time.Second

// Options tune store behavior.
type Options struct {
	// TypingTimeout bounds how long a typing indicator stays set without a
	// refreshing typing event, so a lost stopTyping cannot stick forever.
	TypingTimeout time.Duration
}

// Store is the application-state object for the messaging client. Construct
// one per session with New and release it with Close on logout.
type Store struct {
	mu        sync.Mutex
	transport Transport
	self      Self

	typingTimeout time.Duration

	messages      []*models.Message
	byID          map[string]*models.Message
	groups        map[string]*models.ChatGroup
	conversations map[string]*models.ConversationState
	typingTimers  map[string]*time.Timer
	closed        bool
}

// New returns an empty store bound to the given transport and identity.
func New(t Transport, self Self, opts Options) *Store {
	timeout := opts.TypingTimeout
	if timeout <= 0 {
		timeout = defaultTypingTimeout
	}
	return &Store{
		transport:     t,
		self:          self,
		typingTimeout: timeout,
		byID:          make(map[string]*models.Message),
		groups:        make(map[string]*models.ChatGroup),
		conversations: make(map[string]*models.ConversationState),
		typingTimers:  make(map[string]*time.Timer),
	}
}

// Close stops pending typing timers. The store is not usable afterwards.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.typingTimers {
		t.Stop()
		delete(s.typingTimers, id)
	}
	s.closed = true
}

// Self returns the identity the store was constructed with.
func (s *Store) Self() Self {
	return s.self
}

// Messages returns copies of all ledger entries in insertion order.
func (s *Store) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, 0, len(s.messages))
	for _, m := range s.messages {
		out = append(out, cloneMessage(m))
	}
	return out
}

// MessagesFor returns copies of the ledger entries belonging to one
// conversation, in insertion order.
func (s *Store) MessagesFor(conversationID string) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Message
	for _, m := range s.messages {
		if m.ConversationID(s.self.ID) == conversationID {
			out = append(out, cloneMessage(m))
		}
	}
	return out
}

// Message returns a copy of one ledger entry.
func (s *Store) Message(id string) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[id]
	if !ok {
		return models.Message{}, ErrMessageNotFound
	}
	return cloneMessage(m), nil
}

// Conversation returns a copy of the derived state for one conversation.
func (s *Store) Conversation(conversationID string) (models.ConversationState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return models.ConversationState{}, false
	}
	return *c, true
}

// UnreadCount returns the unread counter for one conversation; zero when
// the conversation is unknown.
func (s *Store) UnreadCount(conversationID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.conversations[conversationID]; ok {
		return c.UnreadCount
	}
	return 0
}

// AddGroup registers a group after checking its referential invariants:
// admins and moderators must be participants, pinned ids must exist in the
// ledger.
func (s *Store) AddGroup(g models.ChatGroup) error {
	if err := g.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range g.Pinned {
		if _, ok := s.byID[id]; !ok {
			return ErrPinnedUnknown
		}
	}
	stored := cloneGroup(&g)
	s.groups[g.ID] = &stored
	return nil
}

// Group returns a copy of a registered group.
func (s *Store) Group(id string) (models.ChatGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	if !ok {
		return models.ChatGroup{}, ErrGroupNotFound
	}
	return cloneGroup(g), nil
}

// Groups returns copies of all registered groups.
func (s *Store) Groups() []models.ChatGroup {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ChatGroup, 0, len(s.groups))
	for _, g := range s.groups {
		out = append(out, cloneGroup(g))
	}
	return out
}

// SetDraft stores unsent composer text on a conversation.
func (s *Store) SetDraft(conversationID, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureConversationLocked(conversationID).DraftMessage = text
}

// Draft returns the stored composer text for a conversation.
func (s *Store) Draft(conversationID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.conversations[conversationID]; ok {
		return c.DraftMessage
	}
	return ""
}

// ClearHistory removes a conversation's messages and its derived state.
// Group registration survives, but the group's last-message pointer is
// recomputed (nil after a full clear).
func (s *Store) ClearHistory(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.messages[:0]
	for _, m := range s.messages {
		if m.ConversationID(s.self.ID) == conversationID {
			delete(s.byID, m.ID)
			continue
		}
		kept = append(kept, m)
	}
	s.messages = kept

	delete(s.conversations, conversationID)
	if t, ok := s.typingTimers[conversationID]; ok {
		t.Stop()
		delete(s.typingTimers, conversationID)
	}
	if g, ok := s.groups[conversationID]; ok {
		g.LastMessage = nil
		g.Pinned = nil
	}
}

// SearchMessages returns copies of non-deleted messages whose content
// contains the query, case-insensitively.
func (s *Store) SearchMessages(query string) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := strings.ToLower(query)
	var out []models.Message
	for _, m := range s.messages {
		if m.IsDeleted {
			continue
		}
		if strings.Contains(strings.ToLower(m.Content), q) ||
			strings.Contains(strings.ToLower(m.RawContent), q) {
			out = append(out, cloneMessage(m))
		}
	}
	return out
}

// Filter selects messages by metadata. Nil fields do not constrain.
type Filter struct {
	Start          *time.Time
	End            *time.Time
	SenderID       string
	ConversationID string
	Types          []models.MessageType
	HasAttachments *bool
	IsPinned       *bool
}

// FilterMessages returns copies of the ledger entries matching every set
// filter field, in insertion order.
func (s *Store) FilterMessages(f Filter) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Message
	for _, m := range s.messages {
		if !s.matchesLocked(m, f) {
			continue
		}
		out = append(out, cloneMessage(m))
	}
	return out
}

func (s *Store) matchesLocked(m *models.Message, f Filter) bool {
	if f.SenderID != "" && m.SenderID != f.SenderID {
		return false
	}
	if f.ConversationID != "" && m.ConversationID(s.self.ID) != f.ConversationID {
		return false
	}
	ts := m.Timestamp.Time()
	if f.Start != nil && ts.Before(*f.Start) {
		return false
	}
	if f.End != nil && ts.After(*f.End) {
		return false
	}
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if m.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.HasAttachments != nil && (len(m.Attachments) > 0) != *f.HasAttachments {
		return false
	}
	if f.IsPinned != nil && m.IsPinned != *f.IsPinned {
		return false
	}
	return true
}

// cloneMessage returns a defensive copy whose slices do not alias
// ledger-owned state, so callers cannot mutate records behind the mutex.
func cloneMessage(m *models.Message) models.Message {
	out := *m
	if m.Attachments != nil {
		out.Attachments = append([]models.Attachment(nil), m.Attachments...)
	}
	if m.Reactions != nil {
		out.Reactions = make([]models.Reaction, len(m.Reactions))
		for i, r := range m.Reactions {
			out.Reactions[i] = r
			out.Reactions[i].Users = append([]models.ReactionUser(nil), r.Users...)
		}
	}
	if m.Replies != nil {
		out.Replies = make([]models.Reply, len(m.Replies))
		for i, r := range m.Replies {
			out.Replies[i] = r
			if r.Attachments != nil {
				out.Replies[i].Attachments = append([]models.Attachment(nil), r.Attachments...)
			}
		}
	}
	if m.Mentions != nil {
		out.Mentions = append([]models.Mention(nil), m.Mentions...)
	}
	return out
}

// cloneGroup returns a defensive copy of a registered group, including a
// detached LastMessage snapshot.
func cloneGroup(g *models.ChatGroup) models.ChatGroup {
	out := *g
	if g.Participants != nil {
		out.Participants = append([]models.ChatParticipant(nil), g.Participants...)
	}
	if g.Admins != nil {
		out.Admins = append([]string(nil), g.Admins...)
	}
	if g.Moderators != nil {
		out.Moderators = append([]string(nil), g.Moderators...)
	}
	if g.Pinned != nil {
		out.Pinned = append([]string(nil), g.Pinned...)
	}
	if g.LastMessage != nil {
		lm := cloneMessage(g.LastMessage)
		out.LastMessage = &lm
	}
	return out
}

// ensureConversationLocked lazily creates per-conversation derived state.
// Caller must hold s.mu.
func (s *Store) ensureConversationLocked(conversationID string) *models.ConversationState {
	c, ok := s.conversations[conversationID]
	if !ok {
		c = &models.ConversationState{}
		s.conversations[conversationID] = c
	}
	return c
}

// recomputeUnreadLocked recounts unread inbound messages for one
// conversation. Caller must hold s.mu.
func (s *Store) recomputeUnreadLocked(conversationID string) {
	c := s.ensureConversationLocked(conversationID)
	n := 0
	for _, m := range s.messages {
		if m.SenderID == s.self.ID || m.IsDeleted {
			continue
		}
		if m.ConversationID(s.self.ID) != conversationID {
			continue
		}
		if m.Status != models.StatusRead {
			n++
		}
	}
	c.UnreadCount = n
}

// groupFor resolves the owning group of a message, when it is a group
// message and the group is registered. Caller must hold s.mu.
func (s *Store) groupForLocked(m *models.Message) *models.ChatGroup {
	if m.GroupID == nil || *m.GroupID == "" {
		return nil
	}
	return s.groups[*m.GroupID]
}
