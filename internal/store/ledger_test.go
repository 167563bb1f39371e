package store_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"campuschat-client/internal/models"
	"campuschat-client/internal/protocol"
	"campuschat-client/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedEmit struct {
	Event   string
	Payload any
}

// fakeTransport records emits and lets tests toggle connectivity and
// inject send failures.
type fakeTransport struct {
	mu        sync.Mutex
	connected bool
	failEmits bool
	emits     []recordedEmit
}

func (f *fakeTransport) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) Emit(event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failEmits {
		return errors.New("transport send failed")
	}
	f.emits = append(f.emits, recordedEmit{Event: event, Payload: payload})
	return nil
}

func (f *fakeTransport) emitted() []recordedEmit {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]recordedEmit, len(f.emits))
	copy(out, f.emits)
	return out
}

func strptr(s string) *string { return &s }

func newTestStore(t *testing.T) (*store.Store, *fakeTransport) {
	t.Helper()
	ft := &fakeTransport{connected: true}
	s := store.New(ft, store.Self{ID: "userA", Name: "Alice", Role: "student"}, store.Options{})
	t.Cleanup(s.Close)
	return s, ft
}

func directDraft(content string) models.Draft {
	return models.Draft{RecipientID: strptr("userB"), Content: content}
}

func inboundMessage(id, senderID, content string) models.Message {
	return models.Message{
		ID:          id,
		SenderID:    senderID,
		SenderName:  "Bob",
		SenderRole:  "parent",
		RecipientID: strptr("userA"),
		Content:     content,
		Timestamp:   models.Now(),
		Status:      models.StatusDelivered,
		Type:        models.TypeText,
	}
}

func TestSendMessageOptimisticAppend(t *testing.T) {
	s, ft := newTestStore(t)

	first, err := s.SendMessage(directDraft("hello"))
	require.NoError(t, err)
	second, err := s.SendMessage(directDraft("world"))
	require.NoError(t, err)

	msgs := s.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, models.StatusSending, msgs[0].Status)
	assert.Equal(t, models.StatusSending, msgs[1].Status)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Contains(t, first.ID, "temp-")
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, "world", msgs[1].Content)

	emits := ft.emitted()
	require.Len(t, emits, 2)
	assert.Equal(t, protocol.EventSendMessage, emits[0].Event)
}

func TestSendMessageNotConnected(t *testing.T) {
	s, ft := newTestStore(t)
	ft.connected = false

	_, err := s.SendMessage(directDraft("hello"))
	assert.ErrorIs(t, err, store.ErrNotConnected)
	assert.Empty(t, s.Messages())
	assert.Empty(t, ft.emitted())
}

func TestSendMessageAddressInvariant(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.SendMessage(models.Draft{Content: "no address"})
	assert.ErrorIs(t, err, models.ErrBadAddress)

	_, err = s.SendMessage(models.Draft{
		RecipientID: strptr("userB"),
		GroupID:     strptr("g1"),
		Content:     "both",
	})
	assert.ErrorIs(t, err, models.ErrBadAddress)
	assert.Empty(t, s.Messages())
}

func TestAckTransitionsToSent(t *testing.T) {
	s, _ := newTestStore(t)

	msg, err := s.SendMessage(directDraft("hi"))
	require.NoError(t, err)

	s.HandleMessageAck(protocol.AckPayload{ClientTempID: msg.ID})

	got, err := s.Message(msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSent, got.Status)
	assert.Equal(t, msg.ID, got.ID)
	assert.Equal(t, "hi", got.Content)
}

func TestAckReconcilesServerID(t *testing.T) {
	s, _ := newTestStore(t)

	msg, err := s.SendMessage(directDraft("hi"))
	require.NoError(t, err)

	s.HandleMessageAck(protocol.AckPayload{
		ClientTempID: msg.ID,
		ServerMsgID:  "srv-1",
		Status:       models.StatusSent,
	})

	_, err = s.Message(msg.ID)
	assert.ErrorIs(t, err, store.ErrMessageNotFound)

	got, err := s.Message("srv-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSent, got.Status)
	assert.Equal(t, msg.ID, got.ClientTempID)
	require.Len(t, s.Messages(), 1)
}

func TestAckForUnknownMessageIgnored(t *testing.T) {
	s, _ := newTestStore(t)
	s.HandleMessageAck(protocol.AckPayload{ClientTempID: "temp-missing"})
	assert.Empty(t, s.Messages())
}

func TestEmitFailureMarksFailed(t *testing.T) {
	s, ft := newTestStore(t)
	ft.failEmits = true

	msg, err := s.SendMessage(directDraft("doomed"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, msg.Status)

	// Failed is terminal: a late ack must not resurrect the record.
	s.HandleMessageAck(protocol.AckPayload{ClientTempID: msg.ID})
	got, err := s.Message(msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
}

func TestRejectedAckMarksFailed(t *testing.T) {
	s, _ := newTestStore(t)

	msg, err := s.SendMessage(directDraft("hi"))
	require.NoError(t, err)

	s.HandleMessageAck(protocol.AckPayload{ClientTempID: msg.ID, Error: "server said no"})
	got, err := s.Message(msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
}

func TestConcurrentSends(t *testing.T) {
	s, _ := newTestStore(t)

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.SendMessage(directDraft(fmt.Sprintf("msg %d", i)))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	msgs := s.Messages()
	require.Len(t, msgs, n)
	ids := make(map[string]bool, n)
	for _, m := range msgs {
		assert.Equal(t, models.StatusSending, m.Status)
		ids[m.ID] = true
	}
	assert.Len(t, ids, n)
}

func TestEditMessage(t *testing.T) {
	s, ft := newTestStore(t)

	msg, err := s.SendMessage(directDraft("orig"))
	require.NoError(t, err)

	require.NoError(t, s.EditMessage(msg.ID, "edited"))

	got, err := s.Message(msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "edited", got.Content)
	assert.True(t, got.IsEdited)
	require.NotNil(t, got.EditedAt)

	emits := ft.emitted()
	assert.Equal(t, protocol.EventEditMessage, emits[len(emits)-1].Event)
}

func TestEditMessagePreconditions(t *testing.T) {
	s, ft := newTestStore(t)

	err := s.EditMessage("nope", "x")
	assert.ErrorIs(t, err, store.ErrMessageNotFound)
	assert.Empty(t, s.Messages())

	s.HandleMessage(inboundMessage("m1", "userB", "theirs"))
	assert.ErrorIs(t, s.EditMessage("m1", "x"), store.ErrNotOwner)

	msg, err := s.SendMessage(directDraft("mine"))
	require.NoError(t, err)
	require.NoError(t, s.DeleteMessage(msg.ID))
	assert.ErrorIs(t, s.EditMessage(msg.ID, "x"), store.ErrMessageDeleted)

	ft.connected = false
	assert.ErrorIs(t, s.EditMessage(msg.ID, "x"), store.ErrNotConnected)
}

func TestSoftDelete(t *testing.T) {
	s, _ := newTestStore(t)

	msg, err := s.SendMessage(directDraft("secret"))
	require.NoError(t, err)
	before := len(s.Messages())

	require.NoError(t, s.DeleteMessage(msg.ID))

	assert.Len(t, s.Messages(), before)
	got, err := s.Message(msg.ID)
	require.NoError(t, err)
	assert.True(t, got.IsDeleted)
	assert.Equal(t, "secret", got.Content)

	// Deleting again is a no-op.
	require.NoError(t, s.DeleteMessage(msg.ID))
}

func TestDeletePreconditions(t *testing.T) {
	s, _ := newTestStore(t)

	assert.ErrorIs(t, s.DeleteMessage("nope"), store.ErrMessageNotFound)

	s.HandleMessage(inboundMessage("m1", "userB", "theirs"))
	assert.ErrorIs(t, s.DeleteMessage("m1"), store.ErrNotOwner)
}

func TestMarkAsRead(t *testing.T) {
	s, ft := newTestStore(t)

	s.HandleMessage(inboundMessage("m1", "userB", "one"))
	s.HandleMessage(inboundMessage("m2", "userB", "two"))
	assert.Equal(t, 2, s.UnreadCount("userB"))

	require.NoError(t, s.MarkAsRead([]string{"m1", "m2", "ghost"}))

	for _, id := range []string{"m1", "m2"} {
		got, err := s.Message(id)
		require.NoError(t, err)
		assert.Equal(t, models.StatusRead, got.Status)
	}
	assert.Equal(t, 0, s.UnreadCount("userB"))

	conv, ok := s.Conversation("userB")
	require.True(t, ok)
	assert.Equal(t, "m2", conv.LastReadMessageID)

	emits := ft.emitted()
	last := emits[len(emits)-1]
	assert.Equal(t, protocol.EventMarkAsRead, last.Event)
	assert.Equal(t, []string{"m1", "m2", "ghost"}, last.Payload.(protocol.MarkAsReadPayload).MessageIDs)
}

func TestMarkAsReadNotConnected(t *testing.T) {
	s, ft := newTestStore(t)
	s.HandleMessage(inboundMessage("m1", "userB", "one"))
	ft.connected = false

	assert.ErrorIs(t, s.MarkAsRead([]string{"m1"}), store.ErrNotConnected)
	got, _ := s.Message("m1")
	assert.Equal(t, models.StatusDelivered, got.Status)
}

func TestReactionSetSemantics(t *testing.T) {
	s, _ := newTestStore(t)
	s.HandleMessage(inboundMessage("m1", "userB", "react to me"))

	require.NoError(t, s.ReactToMessage("m1", "👍"))
	require.NoError(t, s.ReactToMessage("m1", "👍"))

	got, err := s.Message("m1")
	require.NoError(t, err)
	require.Len(t, got.Reactions, 1)
	assert.Equal(t, "👍", got.Reactions[0].Emoji)
	require.Len(t, got.Reactions[0].Users, 1)
	assert.Equal(t, "userA", got.Reactions[0].Users[0].ID)

	require.NoError(t, s.ReactToMessage("m1", "🎉"))
	got, _ = s.Message("m1")
	assert.Len(t, got.Reactions, 2)

	require.NoError(t, s.RemoveReaction("m1", "👍"))
	got, _ = s.Message("m1")
	require.Len(t, got.Reactions, 1)
	assert.Equal(t, "🎉", got.Reactions[0].Emoji)
}

func TestReplyStoredOnParent(t *testing.T) {
	s, _ := newTestStore(t)
	s.HandleMessage(inboundMessage("m1", "userB", "parent"))

	reply, err := s.ReplyToMessage("m1", store.ReplyDraft{Content: "child"})
	require.NoError(t, err)
	assert.Equal(t, "userA", reply.SenderID)

	got, err := s.Message("m1")
	require.NoError(t, err)
	require.Len(t, got.Replies, 1)
	assert.Equal(t, "child", got.Replies[0].Content)

	// Replies are not top-level ledger entries.
	assert.Len(t, s.Messages(), 1)

	_, err = s.ReplyToMessage("ghost", store.ReplyDraft{Content: "x"})
	assert.ErrorIs(t, err, store.ErrMessageNotFound)
}

func TestReplyToDeletedParentResolvable(t *testing.T) {
	s, _ := newTestStore(t)

	msg, err := s.SendMessage(directDraft("to be deleted"))
	require.NoError(t, err)
	require.NoError(t, s.DeleteMessage(msg.ID))

	_, err = s.ReplyToMessage(msg.ID, store.ReplyDraft{Content: "still works"})
	require.NoError(t, err)

	got, _ := s.Message(msg.ID)
	assert.True(t, got.IsDeleted)
	assert.Equal(t, "to be deleted", got.Content)
	assert.Len(t, got.Replies, 1)
}

func TestScenarioConnectSendAck(t *testing.T) {
	s, _ := newTestStore(t)

	msg, err := s.SendMessage(models.Draft{RecipientID: strptr("userB"), Content: "hi"})
	require.NoError(t, err)
	require.Len(t, s.Messages(), 1)
	assert.Equal(t, models.StatusSending, msg.Status)

	s.HandleMessageAck(protocol.AckPayload{ClientTempID: msg.ID})
	got, err := s.Message(msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSent, got.Status)
}

func testGroup(id string, settings models.GroupSettings) models.ChatGroup {
	return models.ChatGroup{
		ID:   id,
		Name: "Algebra II",
		Type: models.GroupCourse,
		Participants: []models.ChatParticipant{
			{ID: "userA", Name: "Alice", Role: "student", Status: models.ParticipantOnline},
			{ID: "userB", Name: "Bob", Role: "parent", Status: models.ParticipantOffline},
		},
		Admins:   []string{"userA"},
		Settings: settings,
	}
}

func TestGroupCapabilityGates(t *testing.T) {
	s, _ := newTestStore(t)

	settings := models.DefaultGroupSettings()
	settings.AllowPolls = false
	settings.AllowEditing = false
	settings.AllowDeletion = false
	settings.AllowReactions = false
	settings.AllowReplies = false
	settings.MaxFileSize = 100
	require.NoError(t, s.AddGroup(testGroup("g1", settings)))

	_, err := s.SendMessage(models.Draft{
		GroupID: strptr("g1"),
		Type:    models.TypePoll,
		Content: "poll",
		Metadata: &models.Metadata{
			Poll: &models.Poll{Question: "q?", Options: []models.PollOption{{ID: "o1", Text: "yes"}}},
		},
	})
	assert.ErrorIs(t, err, store.ErrPollsDisabled)

	_, err = s.SendMessage(models.Draft{
		GroupID:     strptr("g1"),
		Content:     "big file",
		Attachments: []models.Attachment{{ID: "a1", Name: "big.pdf", Size: 1000, UploadStatus: models.UploadCompleted}},
	})
	assert.ErrorIs(t, err, store.ErrFileTooLarge)

	msg, err := s.SendMessage(models.Draft{GroupID: strptr("g1"), Content: "plain"})
	require.NoError(t, err)

	assert.ErrorIs(t, s.EditMessage(msg.ID, "x"), store.ErrEditingDisabled)
	assert.ErrorIs(t, s.DeleteMessage(msg.ID), store.ErrDeletionDisabled)
	assert.ErrorIs(t, s.ReactToMessage(msg.ID, "👍"), store.ErrReactionsDisabled)
	_, err = s.ReplyToMessage(msg.ID, store.ReplyDraft{Content: "r"})
	assert.ErrorIs(t, err, store.ErrRepliesDisabled)
}

func TestGroupFileTypeGate(t *testing.T) {
	s, _ := newTestStore(t)

	settings := models.DefaultGroupSettings()
	settings.AllowedFileTypes = []string{"application/pdf", "image/*"}
	require.NoError(t, s.AddGroup(testGroup("g1", settings)))

	_, err := s.SendMessage(models.Draft{
		GroupID:     strptr("g1"),
		Content:     "video",
		Attachments: []models.Attachment{{ID: "a1", Name: "clip.mp4", MimeType: "video/mp4", Size: 10}},
	})
	assert.ErrorIs(t, err, store.ErrFileTypeNotAllowed)

	_, err = s.SendMessage(models.Draft{
		GroupID:     strptr("g1"),
		Content:     "photo",
		Attachments: []models.Attachment{{ID: "a2", Name: "pic.png", MimeType: "image/png", Size: 10}},
	})
	assert.NoError(t, err)

	_, err = s.SendMessage(models.Draft{
		GroupID:     strptr("g1"),
		Content:     "doc",
		Attachments: []models.Attachment{{ID: "a3", Name: "hw.pdf", MimeType: "application/pdf", Size: 10}},
	})
	assert.NoError(t, err)
}

func TestPinMessage(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.AddGroup(testGroup("g1", models.DefaultGroupSettings())))

	msg, err := s.SendMessage(models.Draft{GroupID: strptr("g1"), Content: "important"})
	require.NoError(t, err)

	require.NoError(t, s.PinMessage(msg.ID))
	require.NoError(t, s.PinMessage(msg.ID)) // idempotent

	g, err := s.Group("g1")
	require.NoError(t, err)
	assert.Equal(t, []string{msg.ID}, g.Pinned)
	got, _ := s.Message(msg.ID)
	assert.True(t, got.IsPinned)

	require.NoError(t, s.UnpinMessage(msg.ID))
	g, _ = s.Group("g1")
	assert.Empty(t, g.Pinned)

	direct, err := s.SendMessage(directDraft("not a group message"))
	require.NoError(t, err)
	assert.ErrorIs(t, s.PinMessage(direct.ID), store.ErrNotGroupMessage)
}

func TestPinRequiresModerator(t *testing.T) {
	s, _ := newTestStore(t)
	g := testGroup("g1", models.DefaultGroupSettings())
	g.Admins = []string{"userB"}
	require.NoError(t, s.AddGroup(g))

	msg, err := s.SendMessage(models.Draft{GroupID: strptr("g1"), Content: "x"})
	require.NoError(t, err)
	assert.ErrorIs(t, s.PinMessage(msg.ID), store.ErrNotModerator)
}

func TestAddGroupInvariants(t *testing.T) {
	s, _ := newTestStore(t)

	g := testGroup("g1", models.DefaultGroupSettings())
	g.Admins = []string{"stranger"}
	assert.Error(t, s.AddGroup(g))

	g = testGroup("g2", models.DefaultGroupSettings())
	g.Pinned = []string{"ghost"}
	assert.ErrorIs(t, s.AddGroup(g), store.ErrPinnedUnknown)
}

func TestForwardMessage(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.AddGroup(testGroup("g1", models.DefaultGroupSettings())))
	s.HandleMessage(inboundMessage("m1", "userB", "forward me"))

	out, err := s.ForwardMessage("m1", []string{"userC", "g1"})
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.True(t, out[0].IsForwarded)
	require.NotNil(t, out[0].RecipientID)
	assert.Equal(t, "userC", *out[0].RecipientID)

	assert.True(t, out[1].IsForwarded)
	require.NotNil(t, out[1].GroupID)
	assert.Equal(t, "g1", *out[1].GroupID)
	assert.Equal(t, "forward me", out[1].Content)

	// Original plus two forwards.
	assert.Len(t, s.Messages(), 3)
}

func TestForwardingDisabled(t *testing.T) {
	s, _ := newTestStore(t)
	settings := models.DefaultGroupSettings()
	settings.AllowForwarding = false
	require.NoError(t, s.AddGroup(testGroup("g1", settings)))

	msg, err := s.SendMessage(models.Draft{GroupID: strptr("g1"), Content: "locked"})
	require.NoError(t, err)

	_, err = s.ForwardMessage(msg.ID, []string{"userC"})
	assert.ErrorIs(t, err, store.ErrForwardingDisabled)
}

func TestTypingIndicatorEmits(t *testing.T) {
	s, ft := newTestStore(t)

	require.NoError(t, s.SendTypingIndicator("userB"))
	require.NoError(t, s.ClearTypingIndicator("userB"))

	emits := ft.emitted()
	require.Len(t, emits, 2)
	assert.Equal(t, protocol.EventTyping, emits[0].Event)
	assert.Equal(t, protocol.EventStopTyping, emits[1].Event)
	p := emits[0].Payload.(protocol.TypingPayload)
	assert.Equal(t, "userA", p.UserID)
	assert.Equal(t, "userB", p.ConversationID)

	ft.connected = false
	assert.ErrorIs(t, s.SendTypingIndicator("userB"), store.ErrNotConnected)
}

func TestSearchAndFilter(t *testing.T) {
	s, _ := newTestStore(t)

	s.HandleMessage(inboundMessage("m1", "userB", "homework due Friday"))
	s.HandleMessage(inboundMessage("m2", "userB", "see you at practice"))
	msg, err := s.SendMessage(directDraft("Homework done!"))
	require.NoError(t, err)
	require.NoError(t, s.DeleteMessage(msg.ID))

	// Deleted messages are suppressed from search.
	found := s.SearchMessages("homework")
	require.Len(t, found, 1)
	assert.Equal(t, "m1", found[0].ID)

	bob := s.FilterMessages(store.Filter{SenderID: "userB"})
	assert.Len(t, bob, 2)

	withAtt := true
	assert.Empty(t, s.FilterMessages(store.Filter{HasAttachments: &withAtt}))

	cutoff := time.Now().Add(time.Hour)
	assert.Len(t, s.FilterMessages(store.Filter{End: &cutoff}), 3)
}

func TestAccessorCopiesDetached(t *testing.T) {
	s, _ := newTestStore(t)

	msg := inboundMessage("m1", "userB", "with file")
	msg.Attachments = []models.Attachment{{
		ID: "a1", Name: "notes.pdf", MimeType: "application/pdf",
		Size: 10, UploadStatus: models.UploadCompleted,
	}}
	s.HandleMessage(msg)
	require.NoError(t, s.ReactToMessage("m1", "👍"))
	_, err := s.ReplyToMessage("m1", store.ReplyDraft{Content: "child"})
	require.NoError(t, err)

	// Mutating a returned copy must not write through to ledger state.
	got := s.Messages()
	require.Len(t, got, 1)
	got[0].Attachments[0].Name = "tampered"
	got[0].Reactions[0].Users[0].ID = "intruder"
	got[0].Replies[0].Content = "tampered"

	fresh, err := s.Message("m1")
	require.NoError(t, err)
	assert.Equal(t, "notes.pdf", fresh.Attachments[0].Name)
	assert.Equal(t, "userA", fresh.Reactions[0].Users[0].ID)
	assert.Equal(t, "child", fresh.Replies[0].Content)

	require.NoError(t, s.AddGroup(testGroup("g1", models.DefaultGroupSettings())))
	g, err := s.Group("g1")
	require.NoError(t, err)
	g.Admins[0] = "intruder"

	g2, err := s.Group("g1")
	require.NoError(t, err)
	assert.Equal(t, "userA", g2.Admins[0])
}

func TestDrafts(t *testing.T) {
	s, _ := newTestStore(t)

	assert.Empty(t, s.Draft("userB"))
	s.SetDraft("userB", "dear bob...")
	assert.Equal(t, "dear bob...", s.Draft("userB"))

	conv, ok := s.Conversation("userB")
	require.True(t, ok)
	assert.Equal(t, "dear bob...", conv.DraftMessage)
}

func TestClearHistory(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.AddGroup(testGroup("g1", models.DefaultGroupSettings())))

	s.HandleMessage(inboundMessage("m1", "userB", "direct"))
	gm, err := s.SendMessage(models.Draft{GroupID: strptr("g1"), Content: "group msg"})
	require.NoError(t, err)

	g, _ := s.Group("g1")
	require.NotNil(t, g.LastMessage)

	s.ClearHistory("g1")

	_, err = s.Message(gm.ID)
	assert.ErrorIs(t, err, store.ErrMessageNotFound)
	_, ok := s.Conversation("g1")
	assert.False(t, ok)
	g, _ = s.Group("g1")
	assert.Nil(t, g.LastMessage)

	// Other conversations are untouched.
	_, err = s.Message("m1")
	assert.NoError(t, err)
}
