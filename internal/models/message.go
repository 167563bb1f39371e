package models

import "errors"

// MessageStatus indicates the delivery state of a message.
type MessageStatus string

const (
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

// statusRank orders the happy-path lifecycle. StatusFailed is terminal and
// handled separately; it never transitions forward or backward.
var statusRank = map[MessageStatus]int{
	StatusSending:   0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

// CanTransitionTo reports whether moving from s to next respects the
// monotonic lifecycle sending -> sent -> delivered -> read, with failed
// reachable only from sending and terminal once entered.
func (s MessageStatus) CanTransitionTo(next MessageStatus) bool {
	if s == StatusFailed {
		return false
	}
	if next == StatusFailed {
		return s == StatusSending
	}
	cur, ok := statusRank[s]
	if !ok {
		return false
	}
	nxt, ok := statusRank[next]
	if !ok {
		return false
	}
	return nxt > cur
}

// MessageType tags the payload variant carried by a message.
type MessageType string

const (
	TypeText  MessageType = "text"
	TypeFile  MessageType = "file"
	TypeImage MessageType = "image"
	TypeVideo MessageType = "video"
	TypeAudio MessageType = "audio"
	TypeLink  MessageType = "link"
	TypeCode  MessageType = "code"
	TypePoll  MessageType = "poll"
)

// UploadStatus tracks the lifecycle of an attachment upload.
type UploadStatus string

const (
	UploadUploading UploadStatus = "uploading"
	UploadCompleted UploadStatus = "completed"
	UploadFailed    UploadStatus = "failed"
)

// Attachment is a file reference carried by a message. It is immutable once
// UploadStatus reaches UploadCompleted.
type Attachment struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	URL          string       `json:"url,omitempty"`
	Size         int64        `json:"size"`
	ThumbnailURL string       `json:"thumbnailUrl,omitempty"`
	MimeType     string       `json:"mimeType"`
	UploadStatus UploadStatus `json:"uploadStatus"`
	Progress     int          `json:"progress,omitempty"`
}

// ReactionUser identifies a user inside a reaction's user set.
type ReactionUser struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Reaction is a named emoji with the set of users who applied it. A user
// appears at most once per emoji.
type Reaction struct {
	Emoji string         `json:"emoji"`
	Users []ReactionUser `json:"users"`
}

// HasUser reports whether userID is present in the reaction's user set.
func (r *Reaction) HasUser(userID string) bool {
	for _, u := range r.Users {
		if u.ID == userID {
			return true
		}
	}
	return false
}

// Reply is a lightweight record stored on its parent message, not an
// independent ledger entry.
type Reply struct {
	ID          string       `json:"id"`
	Content     string       `json:"content"`
	SenderID    string       `json:"senderId"`
	SenderName  string       `json:"senderName"`
	Timestamp   JSONTime     `json:"timestamp"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// MentionType distinguishes what a mention points at.
type MentionType string

const (
	MentionUser    MentionType = "user"
	MentionGroup   MentionType = "group"
	MentionChannel MentionType = "channel"
)

// Mention references a user, group, or channel named in a message body.
type Mention struct {
	ID   string      `json:"id"`
	Name string      `json:"name"`
	Type MentionType `json:"type"`
}

// LinkPreview is resolved metadata for a URL found in message content.
type LinkPreview struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Image       string `json:"image,omitempty"`
}

// PollOption is one choice in a poll; Votes holds voter user ids.
type PollOption struct {
	ID    string   `json:"id"`
	Text  string   `json:"text"`
	Votes []string `json:"votes"`
}

// Poll is the payload of a poll-type message.
type Poll struct {
	Question         string       `json:"question"`
	Options          []PollOption `json:"options"`
	EndTime          *JSONTime    `json:"endTime,omitempty"`
	IsMultipleChoice bool         `json:"isMultipleChoice"`
	IsAnonymous      bool         `json:"isAnonymous"`
}

// CodeBlock is the payload of a code-type message.
type CodeBlock struct {
	Language string `json:"language"`
	Snippet  string `json:"snippet"`
}

// Metadata carries the typed rich payload for non-plain-text messages.
// Only the field matching the message's Type is expected to be set.
type Metadata struct {
	Links []LinkPreview `json:"links,omitempty"`
	Poll  *Poll         `json:"poll,omitempty"`
	Code  *CodeBlock    `json:"code,omitempty"`
}

// ErrBadAddress is returned when a message does not name exactly one of a
// direct recipient or a group.
var ErrBadAddress = errors.New("message must set exactly one of recipientId or groupId")

// Message is a single chat entry in the ledger.
type Message struct {
	ID string `json:"id"`
	// ClientTempID holds the original optimistic id after the ledger swaps
	// in a server-assigned canonical id on acknowledgement.
	ClientTempID string `json:"clientTempId,omitempty"`

	SenderID     string `json:"senderId"`
	SenderName   string `json:"senderName"`
	SenderAvatar string `json:"senderAvatar,omitempty"`
	SenderRole   string `json:"senderRole"`

	RecipientID   *string `json:"recipientId"`
	RecipientName *string `json:"recipientName,omitempty"`
	GroupID       *string `json:"groupId"`
	GroupName     *string `json:"groupName,omitempty"`

	Content    string    `json:"content"`
	RawContent string    `json:"rawContent,omitempty"`
	Timestamp  JSONTime  `json:"timestamp"`
	EditedAt   *JSONTime `json:"editedAt,omitempty"`

	Status MessageStatus `json:"status"`
	Type   MessageType   `json:"type"`

	Attachments []Attachment `json:"attachments,omitempty"`
	Reactions   []Reaction   `json:"reactions,omitempty"`
	ReplyTo     *Message     `json:"replyTo,omitempty"`
	Replies     []Reply      `json:"replies,omitempty"`
	Mentions    []Mention    `json:"mentions,omitempty"`

	IsPinned    bool `json:"isPinned,omitempty"`
	IsForwarded bool `json:"isForwarded,omitempty"`
	IsEdited    bool `json:"isEdited,omitempty"`
	IsDeleted   bool `json:"isDeleted,omitempty"`

	Metadata *Metadata `json:"metadata,omitempty"`
}

// Validate checks the direct-vs-group addressing invariant.
func (m *Message) Validate() error {
	direct := m.RecipientID != nil && *m.RecipientID != ""
	group := m.GroupID != nil && *m.GroupID != ""
	if direct == group {
		return ErrBadAddress
	}
	return nil
}

// ConversationID returns the key of the conversation this message belongs
// to: the group id for group messages, otherwise the peer's user id from
// selfID's point of view.
func (m *Message) ConversationID(selfID string) string {
	if m.GroupID != nil && *m.GroupID != "" {
		return *m.GroupID
	}
	if m.SenderID == selfID && m.RecipientID != nil {
		return *m.RecipientID
	}
	return m.SenderID
}

// Draft is the caller-supplied portion of a new message; the ledger fills
// in id, timestamp, and status on send.
type Draft struct {
	SenderID      string       `json:"senderId"`
	SenderName    string       `json:"senderName"`
	SenderRole    string       `json:"senderRole"`
	RecipientID   *string      `json:"recipientId"`
	RecipientName *string      `json:"recipientName,omitempty"`
	GroupID       *string      `json:"groupId"`
	GroupName     *string      `json:"groupName,omitempty"`
	Content       string       `json:"content"`
	RawContent    string       `json:"rawContent,omitempty"`
	Type          MessageType  `json:"type"`
	Attachments   []Attachment `json:"attachments,omitempty"`
	Mentions      []Mention    `json:"mentions,omitempty"`
	Metadata      *Metadata    `json:"metadata,omitempty"`
}
