// Package session implements the per-connection protocol state machine
// for one conversation: it authenticates the socket, checks membership,
// joins the fabric groups, replays recent history, and dispatches the
// closed set of inbound actions.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"

	"go-messenger/internal/fabric"
	"go-messenger/internal/files"
	"go-messenger/internal/middleware"
	"go-messenger/internal/models"
	"go-messenger/internal/notify"
	"go-messenger/internal/presence"
	"go-messenger/internal/store"
	"go-messenger/internal/unread"
)

const historyLimit = 50

// Deps carries the collaborators every session needs. The fabric is an
// injected instance, never a package global, so tests can substitute
// the in-process implementation.
type Deps struct {
	Store     store.Store
	Fabric    fabric.Fabric
	Relay     *notify.Relay
	Books     *unread.Bookkeeper
	Presence  *presence.Tracker
	Blobs     files.BlobStore
	Validator middleware.TokenValidator
}

// State is the session lifecycle: CONNECTING until the identity is
// known, AUTHORIZED once it is non-anonymous, ACTIVE after the
// membership check admits it to the conversation, CLOSED on disconnect.
type State int

const (
	StateConnecting State = iota
	StateAuthorized
	StateActive
	StateClosed
)

type Session struct {
	deps     *Deps
	client   *Client
	identity middleware.Identity
	conv     models.Conversation
	state    State

	// room is resolved at activation for direct rooms; nil otherwise.
	room *models.Room
}

// ServeConversation returns the socket handler for one conversation
// kind. The URL carries the conversation id.
func ServeConversation(deps *Deps, kind models.ConversationKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.Atoi(chi.URLParam(r, "id"))
		if err != nil {
			http.Error(w, "invalid conversation id", http.StatusBadRequest)
			return
		}
		identity := middleware.SocketIdentity(deps.Validator, r)

		client, err := Upgrade(w, r)
		if err != nil {
			log.Println(err)
			return
		}

		s := &Session{
			deps:     deps,
			client:   client,
			identity: identity,
			conv:     models.Conversation{Kind: kind, ID: id},
			state:    StateConnecting,
		}
		s.run()
	}
}

// run walks the state machine and then serves actions until the peer
// disconnects. It blocks for the lifetime of the connection.
func (s *Session) run() {
	ctx := context.Background()

	if !s.authorize() {
		return
	}
	if !s.activate(ctx) {
		return
	}

	group := s.conv.GroupName()
	s.deps.Fabric.Join(group, s.client)
	s.deps.Fabric.Join(fabric.NotificationGroup(s.identity.UserID), s.client)
	s.deps.Presence.Connect(ctx, s.identity.UserID, s.identity.Fullname)

	defer func() {
		s.state = StateClosed
		s.deps.Fabric.Leave(group, s.client)
		s.deps.Fabric.Leave(fabric.NotificationGroup(s.identity.UserID), s.client)
		s.deps.Presence.Disconnect(ctx, s.identity.UserID, s.identity.Fullname)
		s.client.Close()
	}()

	s.sendHistory(ctx)
	s.sendInitialUnread(ctx)

	s.client.ReadPump(func(payload []byte) {
		s.dispatch(ctx, payload)
	})
}

// authorize moves CONNECTING → AUTHORIZED, closing 4001 for anonymous
// identities. The authenticator itself never rejects; this is where
// rejection policy lives.
func (s *Session) authorize() bool {
	if s.identity.Anonymous {
		s.client.CloseWithCode(CloseUnauthenticated, "authentication required")
		return false
	}
	s.state = StateAuthorized
	return true
}

// activate moves AUTHORIZED → ACTIVE, closing 4004 when the
// conversation does not exist and 4003 when the identity is not a
// member.
func (s *Session) activate(ctx context.Context) bool {
	exists, err := s.deps.Store.ConversationExists(ctx, s.conv)
	if err != nil {
		log.Printf("session: conversation lookup %v: %v", s.conv, err)
		s.client.CloseWithCode(CloseNotFound, "conversation not found")
		return false
	}
	if !exists {
		s.client.CloseWithCode(CloseNotFound, "conversation not found")
		return false
	}

	member, err := s.deps.Store.IsMember(ctx, s.conv, s.identity.UserID)
	if err != nil {
		log.Printf("session: membership check %v: %v", s.conv, err)
		s.client.CloseWithCode(CloseForbidden, "membership check failed")
		return false
	}
	if !member {
		s.client.CloseWithCode(CloseForbidden, "not a member of this conversation")
		return false
	}

	if s.conv.Kind == models.KindRoom {
		room, err := s.deps.Store.RoomByID(ctx, s.conv.ID)
		if err != nil {
			s.client.CloseWithCode(CloseNotFound, "conversation not found")
			return false
		}
		s.room = room
	}

	s.state = StateActive
	return true
}

// actionRequest is the inbound envelope. Which fields matter depends on
// the action.
type actionRequest struct {
	Action    string `json:"action"`
	Message   string `json:"message"`
	MessageID int    `json:"message_id"`
	NewText   string `json:"new_message"`
	ReplyTo   *int   `json:"reply_to"`
	FileID    int    `json:"file_id"`
	FileData  string `json:"file_data"`
	FileName  string `json:"file_name"`
}

type actionFunc func(ctx context.Context, s *Session, req *actionRequest)

// actionTable is the closed set of recognized actions. Unknown names
// get a typed error reply enumerating the valid ones.
var actionTable = map[string]actionFunc{
	"send":             handleSend,
	"edit":             handleEdit,
	"delete":           handleDelete,
	"read":             handleRead,
	"upload_file":      handleUploadFile,
	"delete_file":      handleDeleteFile,
	"get_history":      handleGetHistory,
	"get_files":        handleGetFiles,
	"get_unread_count": handleGetUnreadCount,
	"mark_all_read":    handleMarkAllRead,
	"typing":           handleTyping,
	"stop_typing":      handleStopTyping,
}

func validActions() []string {
	names := make([]string, 0, len(actionTable))
	for name := range actionTable {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// dispatch parses one inbound frame and runs its handler. A bad action
// never kills the session: domain failures become direct error replies
// and anything unexpected is logged and answered generically.
func (s *Session) dispatch(ctx context.Context, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("session: panic in action handler: %v", r)
			s.replyTransient()
		}
	}()

	var req actionRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.reply(errorReply{Type: "error", Error: "invalid JSON"})
		return
	}

	handler, ok := actionTable[req.Action]
	if !ok {
		s.reply(errorReply{
			Type:         "error",
			Error:        "unknown action",
			ValidActions: validActions(),
		})
		return
	}
	handler(ctx, s, &req)
}

// ---------------------------------------------
// ⚡ Replies (direct to the caller, never broadcast)
// ---------------------------------------------

func (s *Session) reply(event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("session: marshal reply: %v", err)
		return
	}
	s.client.Deliver(payload)
}

func (s *Session) replyInvalid(field string) {
	s.reply(errorReply{Type: "error", Error: "missing or invalid field", Field: field})
}

func (s *Session) replyNotFound(what string) {
	s.reply(errorReply{Type: "error", Error: what + " not found"})
}

func (s *Session) replyForbidden(reason string) {
	s.reply(errorReply{Type: "error", Error: reason})
}

func (s *Session) replyTransient() {
	s.reply(errorReply{Type: "error", Error: "internal error, try again"})
}

// publish marshals an event into the conversation group. Persistence
// always commits before this is called.
func (s *Session) publish(ctx context.Context, event any) {
	if err := s.deps.Fabric.Publish(ctx, s.conv.GroupName(), event); err != nil {
		log.Printf("session: publish to %s: %v", s.conv.GroupName(), err)
	}
}

// contactFor derives the stable contact id unread updates are addressed
// by: the other participant for rooms, the conversation for the rest.
func (s *Session) contactFor(userID int) int {
	if s.conv.Kind == models.KindRoom {
		return s.room.Other(userID)
	}
	return s.conv.ID
}

func (s *Session) sendHistory(ctx context.Context) {
	messages, err := s.deps.Store.RecentMessages(ctx, s.conv, historyLimit)
	if err != nil {
		log.Printf("session: history %v: %v", s.conv, err)
		s.replyTransient()
		return
	}
	views := make([]messageView, 0, len(messages))
	for _, m := range messages {
		views = append(views, s.view(ctx, m))
	}
	s.reply(historyEvent{Type: "message_history", Messages: views})
}

func (s *Session) sendInitialUnread(ctx context.Context) {
	count, err := s.deps.Books.Count(ctx, s.conv, s.identity.UserID)
	if err != nil {
		log.Printf("session: initial unread %v: %v", s.conv, err)
		return
	}
	s.reply(unreadCountEvent{Type: "initial_unread_count", Count: count})
}

// isChannelOwner re-checks the caller's role at action time. Membership
// cached at connect is not trusted for privileged actions.
func (s *Session) isChannelOwner(ctx context.Context) (bool, error) {
	role, err := s.deps.Store.RoleOf(ctx, s.conv, s.identity.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return role == models.RoleOwner, nil
}
