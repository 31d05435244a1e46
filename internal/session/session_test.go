package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"testing"

	"go-messenger/internal/fabric"
	"go-messenger/internal/files"
	"go-messenger/internal/middleware"
	"go-messenger/internal/models"
	"go-messenger/internal/notify"
	"go-messenger/internal/presence"
	"go-messenger/internal/store"
	"go-messenger/internal/store/sqlstore"
	"go-messenger/internal/unread"

	_ "github.com/mattn/go-sqlite3"
)

type fixture struct {
	deps  *Deps
	store *sqlstore.SQLStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := sqlstore.New("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	f := fabric.NewMemory()
	relay := notify.NewRelay(f)
	blobs, err := files.NewDiskStore(t.TempDir(), "http://localhost:8080")
	if err != nil {
		t.Fatalf("NewDiskStore: %v", err)
	}

	return &fixture{
		deps: &Deps{
			Store:    s,
			Fabric:   f,
			Relay:    relay,
			Books:    unread.NewBookkeeper(s, relay),
			Presence: presence.NewTracker(s, f),
			Blobs:    blobs,
		},
		store: s,
	}
}

func (fx *fixture) user(t *testing.T, name string) *models.User {
	t.Helper()
	u := &models.User{Fullname: name, Email: name + "@example.com", Password: "x"}
	if err := fx.store.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return u
}

// session builds an active session the way run() would, joining the
// conversation and notification groups.
func (fx *fixture) session(t *testing.T, u *models.User, conv models.Conversation) *Session {
	t.Helper()
	s := &Session{
		deps:     fx.deps,
		client:   &Client{send: make(chan []byte, 256)},
		identity: middleware.Identity{UserID: u.ID, Fullname: u.Fullname},
		conv:     conv,
		state:    StateActive,
	}
	if conv.Kind == models.KindRoom {
		room, err := fx.store.RoomByID(context.Background(), conv.ID)
		if err != nil {
			t.Fatalf("RoomByID: %v", err)
		}
		s.room = room
	}
	fx.deps.Fabric.Join(conv.GroupName(), s.client)
	fx.deps.Fabric.Join(fabric.NotificationGroup(u.ID), s.client)
	return s
}

func (fx *fixture) room(t *testing.T, a, b *models.User) models.Conversation {
	t.Helper()
	room, err := fx.store.GetOrCreateRoom(context.Background(), a.ID, b.ID)
	if err != nil {
		t.Fatalf("GetOrCreateRoom: %v", err)
	}
	return room.Conversation()
}

func (fx *fixture) channel(t *testing.T, owner *models.User, subscribers ...*models.User) models.Conversation {
	t.Helper()
	ctx := context.Background()
	ch, err := fx.store.CreateChannel(ctx, "announcements", "", owner.ID)
	if err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}
	conv := ch.Conversation()
	for _, sub := range subscribers {
		if err := fx.store.AddMember(ctx, conv, sub.ID, models.RoleMember); err != nil {
			t.Fatalf("AddMember: %v", err)
		}
	}
	return conv
}

// next pops one delivered payload as a generic event, failing if the
// client's queue is empty.
func next(t *testing.T, s *Session) map[string]any {
	t.Helper()
	select {
	case payload := <-s.client.send:
		var event map[string]any
		if err := json.Unmarshal(payload, &event); err != nil {
			t.Fatalf("Failed to decode event %s: %v", payload, err)
		}
		return event
	default:
		t.Fatal("Expected a delivered event, queue was empty")
		return nil
	}
}

func drain(s *Session) int {
	n := 0
	for {
		select {
		case <-s.client.send:
			n++
		default:
			return n
		}
	}
}

func act(s *Session, format string, args ...any) {
	s.dispatch(context.Background(), []byte(fmt.Sprintf(format, args...)))
}

func TestSendBroadcastsToBothRoomSessions(t *testing.T) {
	fx := newFixture(t)
	alice := fx.user(t, "alice")
	bob := fx.user(t, "bob")
	conv := fx.room(t, alice, bob)
	sa := fx.session(t, alice, conv)
	sb := fx.session(t, bob, conv)

	act(sa, `{"action":"send","message":"  hello bob  "}`)

	gotA := next(t, sa)
	gotB := next(t, sb)
	for _, got := range []map[string]any{gotA, gotB} {
		if got["type"] != "new_message" {
			t.Fatalf("Expected new_message, got %v", got["type"])
		}
	}
	msgA := gotA["message"].(map[string]any)
	msgB := gotB["message"].(map[string]any)
	if msgA["id"] != msgB["id"] {
		t.Errorf("Expected identical message id on both sessions, got %v and %v", msgA["id"], msgB["id"])
	}
	if msgA["content"] != "hello bob" {
		t.Errorf("Expected trimmed content, got %q", msgA["content"])
	}
	sender := msgA["sender"].(map[string]any)
	if int(sender["id"].(float64)) != alice.ID {
		t.Errorf("Expected sender %d, got %v", alice.ID, sender["id"])
	}

	// B's notification group receives the unread recount.
	update := next(t, sb)
	if update["type"] != "unread_count_update" {
		t.Fatalf("Expected unread_count_update, got %v", update["type"])
	}
	if int(update["count"].(float64)) != 1 {
		t.Errorf("Expected count 1, got %v", update["count"])
	}
	if int(update["contact_id"].(float64)) != alice.ID {
		t.Errorf("Expected contact_id %d, got %v", alice.ID, update["contact_id"])
	}

	// The sender's own counter never moves.
	if n := drain(sa); n != 0 {
		t.Errorf("Expected no further events for the sender, got %d", n)
	}
}

func TestSendPingsRecipientNotificationGroup(t *testing.T) {
	fx := newFixture(t)
	alice := fx.user(t, "alice")
	bob := fx.user(t, "bob")
	conv := fx.room(t, alice, bob)
	sa := fx.session(t, alice, conv)
	sb := fx.session(t, bob, conv)

	act(sa, `{"action":"send","message":"knock knock"}`)

	// The recipient sees the broadcast, the counter, then the ping.
	if got := next(t, sb); got["type"] != "new_message" {
		t.Fatalf("Expected new_message, got %v", got)
	}
	if got := next(t, sb); got["type"] != "unread_count_update" {
		t.Fatalf("Expected unread_count_update, got %v", got)
	}
	ping := next(t, sb)
	if ping["type"] != "notification" {
		t.Fatalf("Expected notification, got %v", ping)
	}
	if ping["title"] != "alice" || ping["message"] != "knock knock" {
		t.Errorf("Expected ping from alice with the text, got %v", ping)
	}
	if ping["timestamp"] == "" {
		t.Error("Expected a timestamp on the ping")
	}

	// The sender is never pinged about their own message.
	next(t, sa) // new_message broadcast
	if n := drain(sa); n != 0 {
		t.Errorf("Expected no ping for the sender, got %d extra events", n)
	}
}

func TestUploadPingsEveryMemberExceptUploader(t *testing.T) {
	fx := newFixture(t)
	owner := fx.user(t, "owner")
	sub := fx.user(t, "subscriber")
	conv := fx.channel(t, owner, sub)
	so := fx.session(t, owner, conv)
	ss := fx.session(t, sub, conv)

	payload := base64.StdEncoding.EncodeToString([]byte("bytes"))
	act(so, `{"action":"upload_file","file_name":"notes.txt","file_data":"%s"}`, payload)

	if got := next(t, ss); got["type"] != "file_uploaded" {
		t.Fatalf("Expected file_uploaded, got %v", got)
	}
	if got := next(t, ss); got["type"] != "unread_count_update" {
		t.Fatalf("Expected unread_count_update, got %v", got)
	}
	ping := next(t, ss)
	if ping["type"] != "notification" || ping["message"] != "notes.txt" {
		t.Errorf("Expected notification carrying the file name, got %v", ping)
	}

	next(t, so) // file_uploaded broadcast
	if n := drain(so); n != 0 {
		t.Errorf("Expected no ping for the uploader, got %d extra events", n)
	}
}

func TestSendEmptyMessageRejectedWithoutPersisting(t *testing.T) {
	fx := newFixture(t)
	alice := fx.user(t, "alice")
	bob := fx.user(t, "bob")
	conv := fx.room(t, alice, bob)
	sa := fx.session(t, alice, conv)

	act(sa, `{"action":"send","message":"   "}`)

	got := next(t, sa)
	if got["type"] != "error" || got["field"] != "message" {
		t.Errorf("Expected field error for message, got %v", got)
	}
	history, _ := fx.store.RecentMessages(context.Background(), conv, 50)
	if len(history) != 0 {
		t.Errorf("Expected nothing persisted, got %d messages", len(history))
	}
}

func TestChannelNonOwnerCannotPostOrUpload(t *testing.T) {
	fx := newFixture(t)
	owner := fx.user(t, "owner")
	sub := fx.user(t, "subscriber")
	conv := fx.channel(t, owner, sub)
	so := fx.session(t, owner, conv)
	ss := fx.session(t, sub, conv)

	act(ss, `{"action":"send","message":"let me in"}`)
	got := next(t, ss)
	if got["type"] != "error" {
		t.Fatalf("Expected error reply, got %v", got)
	}

	payload := base64.StdEncoding.EncodeToString([]byte("bytes"))
	act(ss, `{"action":"upload_file","file_name":"x.txt","file_data":"%s"}`, payload)
	got = next(t, ss)
	if got["type"] != "error" {
		t.Fatalf("Expected error reply for upload, got %v", got)
	}

	// Direct error replies never reach the rest of the group, and
	// nothing was persisted.
	if n := drain(so); n != 0 {
		t.Errorf("Expected owner to see nothing, got %d events", n)
	}
	history, _ := fx.store.RecentMessages(context.Background(), conv, 50)
	if len(history) != 0 {
		t.Errorf("Expected empty history, got %d messages", len(history))
	}

	// The owner can post.
	act(so, `{"action":"send","message":"welcome"}`)
	got = next(t, so)
	if got["type"] != "new_message" {
		t.Errorf("Expected owner post to broadcast, got %v", got)
	}
}

func TestEditByNonAuthorLooksLikeMissingMessage(t *testing.T) {
	fx := newFixture(t)
	alice := fx.user(t, "alice")
	bob := fx.user(t, "bob")
	conv := fx.room(t, alice, bob)
	sa := fx.session(t, alice, conv)
	sb := fx.session(t, bob, conv)

	act(sa, `{"action":"send","message":"original"}`)
	sent := next(t, sa)["message"].(map[string]any)
	id := int(sent["id"].(float64))
	drain(sa)
	drain(sb)

	act(sb, `{"action":"edit","message_id":%d,"new_message":"tampered"}`, id)
	got := next(t, sb)
	if got["type"] != "error" || got["error"] != "message not found" {
		t.Errorf("Expected message not found, got %v", got)
	}

	act(sa, `{"action":"edit","message_id":%d,"new_message":"fixed"}`, id)
	got = next(t, sa)
	if got["type"] != "message_updated" {
		t.Fatalf("Expected message_updated, got %v", got)
	}
	msg := got["message"].(map[string]any)
	if msg["content"] != "fixed" || msg["edited"] != true {
		t.Errorf("Expected edited content, got %v", msg)
	}
	if msg["created_at"] != sent["created_at"] {
		t.Errorf("Expected created_at preserved, got %v then %v", sent["created_at"], msg["created_at"])
	}

	// Edits refresh the other member's counter too.
	if got := next(t, sb); got["type"] != "message_updated" {
		t.Errorf("Expected message_updated on the other session, got %v", got)
	}
	if got := next(t, sb); got["type"] != "unread_count_update" {
		t.Errorf("Expected unread_count_update after edit, got %v", got)
	}
}

func TestReadDeletedMessageReportsNotFound(t *testing.T) {
	fx := newFixture(t)
	alice := fx.user(t, "alice")
	bob := fx.user(t, "bob")
	conv := fx.room(t, alice, bob)
	sa := fx.session(t, alice, conv)
	sb := fx.session(t, bob, conv)

	act(sa, `{"action":"send","message":"fleeting"}`)
	id := int(next(t, sa)["message"].(map[string]any)["id"].(float64))
	act(sa, `{"action":"delete","message_id":%d}`, id)
	drain(sa)
	drain(sb)

	act(sb, `{"action":"read","message_id":%d}`, id)
	got := next(t, sb)
	if got["type"] != "error" || got["error"] != "message not found" {
		t.Errorf("Expected message not found, got %v", got)
	}
}

func TestReadBroadcastsAndRefreshesCounter(t *testing.T) {
	fx := newFixture(t)
	alice := fx.user(t, "alice")
	bob := fx.user(t, "bob")
	conv := fx.room(t, alice, bob)
	sa := fx.session(t, alice, conv)
	sb := fx.session(t, bob, conv)

	act(sa, `{"action":"send","message":"hi"}`)
	id := int(next(t, sa)["message"].(map[string]any)["id"].(float64))
	drain(sa)
	drain(sb)

	act(sb, `{"action":"read","message_id":%d}`, id)

	got := next(t, sb)
	if got["type"] != "read_update" || int(got["message_id"].(float64)) != id {
		t.Fatalf("Expected read_update for %d, got %v", id, got)
	}
	if int(got["user_id"].(float64)) != bob.ID {
		t.Errorf("Expected reader %d, got %v", bob.ID, got["user_id"])
	}
	// The sender sees the same broadcast.
	if got := next(t, sa); got["type"] != "read_update" {
		t.Errorf("Expected read_update on the sender's session, got %v", got)
	}
	// The reader's own counter drops to zero.
	update := next(t, sb)
	if update["type"] != "unread_count_update" || int(update["count"].(float64)) != 0 {
		t.Errorf("Expected unread_count_update count=0, got %v", update)
	}

	// Re-reading is a quiet success, not an error.
	act(sb, `{"action":"read","message_id":%d}`, id)
	if got := next(t, sb); got["type"] == "error" {
		t.Errorf("Expected idempotent re-read, got %v", got)
	}
}

func TestUploadFileThenHistoryCarriesAttachment(t *testing.T) {
	fx := newFixture(t)
	alice := fx.user(t, "alice")
	bob := fx.user(t, "bob")
	conv := fx.room(t, alice, bob)
	sa := fx.session(t, alice, conv)

	raw := []byte("fake png bytes")
	payload := "data:image/png;base64," + base64.StdEncoding.EncodeToString(raw)
	act(sa, `{"action":"upload_file","file_name":"cat.png","file_data":"%s"}`, payload)

	got := next(t, sa)
	if got["type"] != "file_uploaded" {
		t.Fatalf("Expected file_uploaded, got %v", got)
	}
	file := got["file"].(map[string]any)
	if file["file_type"] != "image" {
		t.Errorf("Expected image category, got %v", file["file_type"])
	}
	if int64(file["size"].(float64)) != int64(len(raw)) {
		t.Errorf("Expected decoded size %d, got %v", len(raw), file["size"])
	}
	drain(sa)

	act(sa, `{"action":"get_history"}`)
	history := next(t, sa)
	if history["type"] != "message_history" {
		t.Fatalf("Expected message_history, got %v", history)
	}
	messages := history["messages"].([]any)
	if len(messages) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(messages))
	}
	msg := messages[0].(map[string]any)
	if msg["message_type"] != "file" {
		t.Errorf("Expected file message, got %v", msg["message_type"])
	}
	ref := msg["file"].(map[string]any)
	if ref["name"] != "cat.png" || ref["file_type"] != "image" {
		t.Errorf("Expected cat.png image attachment, got %v", ref)
	}
	if int64(ref["size"].(float64)) != int64(len(raw)) {
		t.Errorf("Expected size %d in history, got %v", len(raw), ref["size"])
	}
}

func TestDeleteFileOutsideConversationIsNotFound(t *testing.T) {
	fx := newFixture(t)
	alice := fx.user(t, "alice")
	bob := fx.user(t, "bob")
	carol := fx.user(t, "carol")
	convAB := fx.room(t, alice, bob)
	convAC := fx.room(t, alice, carol)
	sa := fx.session(t, alice, convAB)

	// A file row in the other room must not be reachable from here.
	f := &models.FileAttachment{
		UploaderID:   alice.ID,
		Conversation: convAC,
		OriginalName: "secret.pdf",
		StoredName:   files.StoredName("secret.pdf"),
		Size:         10,
	}
	if err := fx.store.SaveFile(context.Background(), f); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}

	act(sa, `{"action":"delete_file","file_id":%d}`, f.ID)
	got := next(t, sa)
	if got["type"] != "error" || got["error"] != "file not found" {
		t.Errorf("Expected file not found, got %v", got)
	}
	if _, err := fx.store.FileByID(context.Background(), f.ID); err != nil {
		t.Errorf("Expected file row untouched, got %v", err)
	}
}

func TestUnknownActionListsValidOnes(t *testing.T) {
	fx := newFixture(t)
	alice := fx.user(t, "alice")
	bob := fx.user(t, "bob")
	conv := fx.room(t, alice, bob)
	sa := fx.session(t, alice, conv)

	act(sa, `{"action":"frobnicate"}`)
	got := next(t, sa)
	if got["type"] != "error" || got["error"] != "unknown action" {
		t.Fatalf("Expected unknown action error, got %v", got)
	}
	valid := got["valid_actions"].([]any)
	if len(valid) != len(actionTable) {
		t.Errorf("Expected %d valid actions, got %d", len(actionTable), len(valid))
	}
	if valid[0] != "delete" {
		t.Errorf("Expected sorted action list starting with delete, got %v", valid[0])
	}

	act(sa, `not json`)
	got = next(t, sa)
	if got["error"] != "invalid JSON" {
		t.Errorf("Expected invalid JSON error, got %v", got)
	}
}

func TestMarkAllReadRepliesWithFreshCount(t *testing.T) {
	fx := newFixture(t)
	alice := fx.user(t, "alice")
	bob := fx.user(t, "bob")
	conv := fx.room(t, alice, bob)
	sa := fx.session(t, alice, conv)
	sb := fx.session(t, bob, conv)

	for i := 0; i < 3; i++ {
		act(sa, `{"action":"send","message":"msg"}`)
	}
	drain(sa)
	drain(sb)

	act(sb, `{"action":"get_unread_count"}`)
	got := next(t, sb)
	if got["type"] != "unread_count" || int(got["count"].(float64)) != 3 {
		t.Fatalf("Expected unread_count 3, got %v", got)
	}

	act(sb, `{"action":"mark_all_read"}`)
	got = next(t, sb)
	if got["type"] != "unread_count" || int(got["count"].(float64)) != 0 {
		t.Errorf("Expected unread_count 0 after mark all, got %v", got)
	}
}

func TestTypingIsBroadcastNotPersisted(t *testing.T) {
	fx := newFixture(t)
	alice := fx.user(t, "alice")
	bob := fx.user(t, "bob")
	conv := fx.room(t, alice, bob)
	sa := fx.session(t, alice, conv)
	sb := fx.session(t, bob, conv)

	act(sa, `{"action":"typing"}`)
	got := next(t, sb)
	if got["type"] != "typing" || int(got["user_id"].(float64)) != alice.ID {
		t.Errorf("Expected typing from %d, got %v", alice.ID, got)
	}

	act(sa, `{"action":"stop_typing"}`)
	drain(sa)
	if got := next(t, sb); got["type"] != "stop_typing" {
		t.Errorf("Expected stop_typing, got %v", got)
	}

	history, _ := fx.store.RecentMessages(context.Background(), conv, 50)
	if len(history) != 0 {
		t.Errorf("Expected typing to leave no trace, got %d messages", len(history))
	}
}

var _ store.Store = (*sqlstore.SQLStore)(nil)
