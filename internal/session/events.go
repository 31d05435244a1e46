package session

import (
	"context"
	"time"

	"go-messenger/internal/files"
	"go-messenger/internal/models"
)

// Outbound event envelopes. Every payload carries a "type" clients
// switch on.

type userRef struct {
	ID       int    `json:"id"`
	Fullname string `json:"fullname"`
}

type fileRef struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	URL       string `json:"url"`
	Size      int64  `json:"size"`
	SizeLabel string `json:"size_label"`
	Type      string `json:"file_type"`
}

type messageView struct {
	ID          int                `json:"id"`
	Sender      userRef            `json:"sender"`
	Content     string             `json:"content"`
	MessageType models.MessageType `json:"message_type"`
	ReplyTo     *int               `json:"reply_to,omitempty"`
	File        *fileRef           `json:"file,omitempty"`
	Edited      bool               `json:"edited"`
	CreatedAt   string             `json:"created_at"`
	IsRead      *bool              `json:"is_read,omitempty"`
	ReadBy      []int              `json:"read_by,omitempty"`
}

type historyEvent struct {
	Type     string        `json:"type"`
	Messages []messageView `json:"messages"`
}

type chatMessageEvent struct {
	Type    string      `json:"type"`
	Message messageView `json:"message"`
}

type messageDeletedEvent struct {
	Type      string `json:"type"`
	MessageID int    `json:"message_id"`
}

type readEvent struct {
	Type      string `json:"type"`
	MessageID int    `json:"message_id"`
	UserID    int    `json:"user_id"`
	Fullname  string `json:"fullname"`
}

type fileUploadedEvent struct {
	Type    string      `json:"type"`
	Message messageView `json:"message"`
	File    fileRef     `json:"file"`
}

type fileDeletedEvent struct {
	Type      string `json:"type"`
	FileID    int    `json:"file_id"`
	MessageID *int   `json:"message_id,omitempty"`
}

type typingEvent struct {
	Type     string `json:"type"`
	UserID   int    `json:"user_id"`
	Fullname string `json:"fullname"`
}

type unreadCountEvent struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

type fileListEvent struct {
	Type  string    `json:"type"`
	Files []fileRef `json:"files"`
}

type errorReply struct {
	Type         string   `json:"type"`
	Error        string   `json:"error"`
	Field        string   `json:"field,omitempty"`
	ValidActions []string `json:"valid_actions,omitempty"`
}

// view renders a message for transport, resolving its attachment to a
// fetchable URL.
func (s *Session) view(ctx context.Context, m *models.Message) messageView {
	v := messageView{
		ID:          m.ID,
		Sender:      userRef{ID: m.SenderID, Fullname: m.SenderName},
		Content:     m.Content,
		MessageType: m.Type,
		ReplyTo:     m.ReplyToID,
		Edited:      m.Edited,
		CreatedAt:   m.CreatedAt.UTC().Format(time.RFC3339Nano),
	}

	if m.Conversation.Kind == models.KindRoom {
		read := m.IsReadBy(s.room.Other(m.SenderID))
		v.IsRead = &read
	} else {
		v.ReadBy = m.Readers()
	}

	if m.FileID != nil {
		if f, err := s.deps.Store.FileByID(ctx, *m.FileID); err == nil {
			ref := s.fileView(f)
			v.File = &ref
		}
	}
	return v
}

func (s *Session) fileView(f *models.FileAttachment) fileRef {
	return fileRef{
		ID:        f.ID,
		Name:      f.OriginalName,
		URL:       s.deps.Blobs.URL(f.StoredName),
		Size:      f.Size,
		SizeLabel: files.FormatSize(f.Size),
		Type:      files.Category(f.OriginalName),
	}
}
