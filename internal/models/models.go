package models

import (
	"fmt"
	"time"
)

// ---------------------------------------------
// 🗄️ Conversations & Membership
// ---------------------------------------------

type ConversationKind string

const (
	KindRoom    ConversationKind = "room"
	KindGroup   ConversationKind = "group"
	KindChannel ConversationKind = "channel"
)

// Conversation identifies one fan-out scope: a 1:1 room, a group chat
// or a broadcast channel.
type Conversation struct {
	Kind ConversationKind `json:"kind"`
	ID   int              `json:"id"`
}

// GroupName is the pub/sub group every session of this conversation joins.
// It is a pure function of the conversation so any server process can
// address the group without shared discovery state.
func (c Conversation) GroupName() string {
	return fmt.Sprintf("%s_%d", c.Kind, c.ID)
}

// CallGroupName is the signaling group for a video/audio call scoped to
// this conversation.
func (c Conversation) CallGroupName() string {
	return "call_" + c.GroupName()
}

type Role string

const (
	RoleOwner      Role = "owner"
	RoleAdmin      Role = "admin"
	RoleMember     Role = "member"
	RoleSubscriber Role = "subscriber"
)

// Room is a 1:1 conversation. Invariant: User1ID < User2ID, so the pair
// (A,B) and (B,A) map to the same row.
type Room struct {
	ID        int       `json:"id"`
	User1ID   int       `json:"user1_id"`
	User2ID   int       `json:"user2_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Other returns the participant that is not userID.
func (r *Room) Other(userID int) int {
	if userID == r.User1ID {
		return r.User2ID
	}
	return r.User1ID
}

func (r *Room) Conversation() Conversation {
	return Conversation{Kind: KindRoom, ID: r.ID}
}

type Group struct {
	ID          int       `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedBy   int       `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
}

func (g *Group) Conversation() Conversation {
	return Conversation{Kind: KindGroup, ID: g.ID}
}

// Channel is a broadcast conversation: only the owner posts, everyone
// else subscribes.
type Channel struct {
	ID          int       `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	OwnerID     int       `json:"owner_id"`
	CreatedAt   time.Time `json:"created_at"`
}

func (c *Channel) Conversation() Conversation {
	return Conversation{Kind: KindChannel, ID: c.ID}
}

type Membership struct {
	Conversation Conversation `json:"conversation"`
	UserID       int          `json:"user_id"`
	Fullname     string       `json:"fullname"`
	Role         Role         `json:"role"`
	JoinedAt     time.Time    `json:"joined_at"`
}

// ---------------------------------------------
// 🗄️ Users & Presence
// ---------------------------------------------

type User struct {
	ID       int    `json:"id"`
	Fullname string `json:"fullname"`
	Email    string `json:"email"`
	Password string `json:"-"`

	IsOnline bool       `json:"is_online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

// ---------------------------------------------
// 🗄️ Messages
// ---------------------------------------------

type MessageType string

const (
	MessageText MessageType = "text"
	MessageFile MessageType = "file"
)

// ReadState is the per-kind read bookkeeping variant: rooms have a single
// possible reader so a bool is enough; groups and channels track the set
// of identities that read the message.
type ReadState interface {
	isReadBy(userID int) bool
}

// SingleReader is the room variant.
type SingleReader struct {
	Read bool
}

func (s SingleReader) isReadBy(int) bool { return s.Read }

// MultiReader is the group/channel variant.
type MultiReader map[int]bool

func (m MultiReader) isReadBy(userID int) bool { return m[userID] }

type Message struct {
	ID           int
	Conversation Conversation
	SenderID     int
	SenderName   string
	Content      string
	Type         MessageType
	ReplyToID    *int
	FileID       *int
	Edited       bool
	CreatedAt    time.Time
	Read         ReadState
}

// IsReadBy reports whether userID has read the message. The author
// implicitly counts as a reader of their own message.
func (m *Message) IsReadBy(userID int) bool {
	if userID == m.SenderID {
		return true
	}
	if m.Read == nil {
		return false
	}
	return m.Read.isReadBy(userID)
}

// Readers returns the explicit reader set for multi-reader messages,
// nil for room messages.
func (m *Message) Readers() []int {
	mr, ok := m.Read.(MultiReader)
	if !ok {
		return nil
	}
	readers := make([]int, 0, len(mr))
	for id := range mr {
		readers = append(readers, id)
	}
	return readers
}

// ---------------------------------------------
// 🗄️ File attachments
// ---------------------------------------------

type FileAttachment struct {
	ID           int
	UploaderID   int
	Conversation Conversation
	MessageID    *int
	OriginalName string
	StoredName   string
	Size         int64
	UploadedAt   time.Time
}
