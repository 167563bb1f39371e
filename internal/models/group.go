package models

import "fmt"

// ParticipantStatus is a user's presence state.
type ParticipantStatus string

const (
	ParticipantOnline  ParticipantStatus = "online"
	ParticipantOffline ParticipantStatus = "offline"
	ParticipantAway    ParticipantStatus = "away"
	ParticipantBusy    ParticipantStatus = "busy"
)

// ParticipantPermissions are per-member capability flags inside a group.
type ParticipantPermissions struct {
	CanSendMessages   bool `json:"canSendMessages"`
	CanSendFiles      bool `json:"canSendFiles"`
	CanCreatePolls    bool `json:"canCreatePolls"`
	CanPinMessages    bool `json:"canPinMessages"`
	CanDeleteMessages bool `json:"canDeleteMessages"`
	IsAdmin           bool `json:"isAdmin"`
	IsModerator       bool `json:"isModerator"`
}

// ChatParticipant is a member of a group conversation. IsTyping is
// ephemeral state, cleared by timeout or an explicit stop-typing event.
type ChatParticipant struct {
	ID          string                  `json:"id"`
	Name        string                  `json:"name"`
	Role        string                  `json:"role"`
	Avatar      string                  `json:"avatar,omitempty"`
	Status      ParticipantStatus       `json:"status"`
	LastSeen    *JSONTime               `json:"lastSeen,omitempty"`
	IsTyping    bool                    `json:"isTyping,omitempty"`
	Permissions *ParticipantPermissions `json:"permissions,omitempty"`
}

// GroupType classifies a group conversation.
type GroupType string

const (
	GroupCourse       GroupType = "course"
	GroupStudy        GroupType = "study"
	GroupGeneral      GroupType = "general"
	GroupAnnouncement GroupType = "announcement"
)

// GroupSettings are the capability flags and limits for a group. The
// ledger enforces the Allow* gates before mutating group messages.
type GroupSettings struct {
	IsPublic         bool     `json:"isPublic"`
	AllowNewMembers  bool     `json:"allowNewMembers"`
	AllowFileSharing bool     `json:"allowFileSharing"`
	AllowPolls       bool     `json:"allowPolls"`
	AllowReplies     bool     `json:"allowReplies"`
	AllowReactions   bool     `json:"allowReactions"`
	AllowForwarding  bool     `json:"allowForwarding"`
	AllowEditing     bool     `json:"allowEditing"`
	AllowDeletion    bool     `json:"allowDeletion"`
	MaxFileSize      int64    `json:"maxFileSize"`
	AllowedFileTypes []string `json:"allowedFileTypes,omitempty"`
	RetentionDays    int      `json:"retentionPeriod,omitempty"`
	SlowModeSeconds  int      `json:"slowMode,omitempty"`
}

// DefaultGroupSettings returns a permissive settings block suitable for
// general-purpose groups.
func DefaultGroupSettings() GroupSettings {
	return GroupSettings{
		AllowNewMembers:  true,
		AllowFileSharing: true,
		AllowPolls:       true,
		AllowReplies:     true,
		AllowReactions:   true,
		AllowForwarding:  true,
		AllowEditing:     true,
		AllowDeletion:    true,
		MaxFileSize:      10 << 20,
	}
}

// GroupMetadata is optional school-product context for a group.
type GroupMetadata struct {
	CourseID string   `json:"courseId,omitempty"`
	Semester string   `json:"semester,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Category string   `json:"category,omitempty"`
}

// ChatGroup is a named multi-party conversation. LastMessage is a
// non-owning reference into the message ledger, kept in sync by the
// conversation index.
type ChatGroup struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Description  string            `json:"description,omitempty"`
	Avatar       string            `json:"avatar,omitempty"`
	Type         GroupType         `json:"type"`
	Participants []ChatParticipant `json:"participants"`
	Admins       []string          `json:"admins"`
	Moderators   []string          `json:"moderators"`
	Settings     GroupSettings     `json:"settings"`
	LastMessage  *Message          `json:"lastMessage,omitempty"`
	CreatedAt    JSONTime          `json:"createdAt"`
	UpdatedAt    JSONTime          `json:"updatedAt"`
	Pinned       []string          `json:"pinnedMessages"`
	Metadata     *GroupMetadata    `json:"metadata,omitempty"`
}

// HasParticipant reports whether userID is a member of the group.
func (g *ChatGroup) HasParticipant(userID string) bool {
	for i := range g.Participants {
		if g.Participants[i].ID == userID {
			return true
		}
	}
	return false
}

// IsModeratorOrAdmin reports whether userID appears in the group's admin
// or moderator lists.
func (g *ChatGroup) IsModeratorOrAdmin(userID string) bool {
	for _, id := range g.Admins {
		if id == userID {
			return true
		}
	}
	for _, id := range g.Moderators {
		if id == userID {
			return true
		}
	}
	return false
}

// Validate checks the referential invariant: every admin and moderator id
// must reference an existing participant.
func (g *ChatGroup) Validate() error {
	for _, id := range g.Admins {
		if !g.HasParticipant(id) {
			return fmt.Errorf("group %s: admin %s is not a participant", g.ID, id)
		}
	}
	for _, id := range g.Moderators {
		if !g.HasParticipant(id) {
			return fmt.Errorf("group %s: moderator %s is not a participant", g.ID, id)
		}
	}
	return nil
}

// ConversationState is derived per-conversation state, keyed by group id or
// peer user id. Created lazily on first message or typing event.
type ConversationState struct {
	UnreadCount       int    `json:"unreadCount"`
	LastReadMessageID string `json:"lastReadMessageId"`
	IsTyping          bool   `json:"isTyping"`
	DraftMessage      string `json:"draftMessage,omitempty"`
}
