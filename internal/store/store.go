package store

import (
	"context"
	"errors"
	"time"

	"go-messenger/internal/models"
)

var (
	// ErrNotFound is returned when a row does not exist in the queried
	// scope. Callers must not leak whether the row exists outside it.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned on uniqueness violations (membership,
	// user fullname/email).
	ErrDuplicate = errors.New("already exists")
)

// Store is the persistence boundary of the fan-out subsystem. The
// production implementation lives in sqlstore (Postgres via pgx); tests
// run the same implementation on sqlite.
type Store interface {
	// Users
	CreateUser(ctx context.Context, u *models.User) error
	UserByID(ctx context.Context, id int) (*models.User, error)
	UserByFullname(ctx context.Context, fullname string) (*models.User, error)
	SearchUsers(ctx context.Context, query string) ([]models.User, error)
	SetOnline(ctx context.Context, userID int, online bool, lastSeen time.Time) error

	// Conversations
	GetOrCreateRoom(ctx context.Context, userA, userB int) (*models.Room, error)
	RoomByID(ctx context.Context, id int) (*models.Room, error)
	CreateGroup(ctx context.Context, name, description string, creatorID int) (*models.Group, error)
	CreateChannel(ctx context.Context, name, description string, ownerID int) (*models.Channel, error)
	ConversationExists(ctx context.Context, conv models.Conversation) (bool, error)

	// Membership authority
	AddMember(ctx context.Context, conv models.Conversation, userID int, role models.Role) error
	RemoveMember(ctx context.Context, conv models.Conversation, userID int) error
	UpdateRole(ctx context.Context, conv models.Conversation, userID int, role models.Role) error
	IsMember(ctx context.Context, conv models.Conversation, userID int) (bool, error)
	RoleOf(ctx context.Context, conv models.Conversation, userID int) (models.Role, error)
	Members(ctx context.Context, conv models.Conversation) ([]models.Membership, error)

	// Messages
	SaveMessage(ctx context.Context, m *models.Message) error
	MessageByID(ctx context.Context, conv models.Conversation, id int) (*models.Message, error)
	UpdateMessageText(ctx context.Context, conv models.Conversation, id, senderID int, text string) (*models.Message, error)
	DeleteMessage(ctx context.Context, conv models.Conversation, id int) error
	RecentMessages(ctx context.Context, conv models.Conversation, limit int) ([]*models.Message, error)
	MarkRead(ctx context.Context, conv models.Conversation, messageID, readerID int) error
	MarkAllRead(ctx context.Context, conv models.Conversation, readerID int) error
	UnreadCount(ctx context.Context, conv models.Conversation, userID int) (int, error)

	// File attachments
	SaveFile(ctx context.Context, f *models.FileAttachment) error
	AttachFileMessage(ctx context.Context, fileID, messageID int) error
	FileByID(ctx context.Context, id int) (*models.FileAttachment, error)
	DeleteFile(ctx context.Context, id int) error
	FilesByConversation(ctx context.Context, conv models.Conversation) ([]models.FileAttachment, error)
	FilesByUser(ctx context.Context, userID int) ([]models.FileAttachment, error)
}
