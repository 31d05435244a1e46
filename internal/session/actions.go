package session

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"go-messenger/internal/files"
	"go-messenger/internal/models"
	"go-messenger/internal/notify"
	"go-messenger/internal/store"
)

// Handlers follow one failure policy: validation and permission
// failures answer the caller directly and change nothing; persistence
// failures log and answer generically; success publishes to the group
// (the caller receives its own broadcast) and refreshes the bookkeeper.
// Persistence always commits before the publish.

func handleSend(ctx context.Context, s *Session, req *actionRequest) {
	text := strings.TrimSpace(req.Message)
	if text == "" {
		s.replyInvalid("message")
		return
	}

	if s.conv.Kind == models.KindChannel {
		owner, err := s.isChannelOwner(ctx)
		if err != nil {
			s.replyTransient()
			return
		}
		if !owner {
			s.replyForbidden("only the channel owner can post")
			return
		}
	}

	if req.ReplyTo != nil {
		if _, err := s.deps.Store.MessageByID(ctx, s.conv, *req.ReplyTo); err != nil {
			s.replyNotFound("reply_to message")
			return
		}
	}

	m := &models.Message{
		Conversation: s.conv,
		SenderID:     s.identity.UserID,
		SenderName:   s.identity.Fullname,
		Content:      text,
		Type:         models.MessageText,
		ReplyToID:    req.ReplyTo,
	}
	if err := s.deps.Store.SaveMessage(ctx, m); err != nil {
		log.Printf("session: save message in %v: %v", s.conv, err)
		s.replyTransient()
		return
	}

	s.publish(ctx, chatMessageEvent{Type: "new_message", Message: s.view(ctx, m)})
	if err := s.deps.Books.PushAll(ctx, s.conv, s.identity.UserID); err != nil {
		log.Printf("session: unread push after send: %v", err)
	}
	s.notifyRecipients(ctx, text)
}

func handleEdit(ctx context.Context, s *Session, req *actionRequest) {
	if req.MessageID == 0 {
		s.replyInvalid("message_id")
		return
	}
	text := strings.TrimSpace(req.NewText)
	if text == "" {
		s.replyInvalid("new_message")
		return
	}

	// The sender_id constraint in the update both re-checks authorship
	// at mutation time and hides other users' messages: a non-author
	// sees "not found", not whether the message exists.
	m, err := s.deps.Store.UpdateMessageText(ctx, s.conv, req.MessageID, s.identity.UserID, text)
	if errors.Is(err, store.ErrNotFound) {
		s.replyNotFound("message")
		return
	}
	if err != nil {
		log.Printf("session: edit message %d: %v", req.MessageID, err)
		s.replyTransient()
		return
	}

	s.publish(ctx, chatMessageEvent{Type: "message_updated", Message: s.view(ctx, m)})
	if err := s.deps.Books.PushAll(ctx, s.conv, s.identity.UserID); err != nil {
		log.Printf("session: unread push after edit: %v", err)
	}
}

func handleDelete(ctx context.Context, s *Session, req *actionRequest) {
	if req.MessageID == 0 {
		s.replyInvalid("message_id")
		return
	}

	m, err := s.deps.Store.MessageByID(ctx, s.conv, req.MessageID)
	if errors.Is(err, store.ErrNotFound) {
		s.replyNotFound("message")
		return
	}
	if err != nil {
		s.replyTransient()
		return
	}

	if m.SenderID != s.identity.UserID {
		// Channels additionally allow the owner to remove posts.
		allowed := false
		if s.conv.Kind == models.KindChannel {
			allowed, err = s.isChannelOwner(ctx)
			if err != nil {
				s.replyTransient()
				return
			}
		}
		if !allowed {
			s.replyForbidden("only the author can delete this message")
			return
		}
	}

	if err := s.deps.Store.DeleteMessage(ctx, s.conv, m.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		log.Printf("session: delete message %d: %v", m.ID, err)
		s.replyTransient()
		return
	}
	if m.FileID != nil {
		s.removeAttachment(ctx, *m.FileID)
	}

	s.publish(ctx, messageDeletedEvent{Type: "message_deleted", MessageID: m.ID})
	// Deleting an unread message lowers other members' counters.
	if err := s.deps.Books.PushAll(ctx, s.conv, s.identity.UserID); err != nil {
		log.Printf("session: unread push after delete: %v", err)
	}
}

func handleRead(ctx context.Context, s *Session, req *actionRequest) {
	messageID := req.MessageID
	if messageID == 0 && req.FileID != 0 {
		// Reading a file marks its accompanying message.
		f, err := s.deps.Store.FileByID(ctx, req.FileID)
		if err != nil || f.Conversation != s.conv || f.MessageID == nil {
			s.replyNotFound("file")
			return
		}
		messageID = *f.MessageID
	}
	if messageID == 0 {
		s.replyInvalid("message_id")
		return
	}

	m, err := s.deps.Store.MessageByID(ctx, s.conv, messageID)
	if errors.Is(err, store.ErrNotFound) {
		s.replyNotFound("message")
		return
	}
	if err != nil {
		s.replyTransient()
		return
	}

	// Authors already count as readers; nothing to record or announce.
	if m.SenderID == s.identity.UserID {
		return
	}

	// Idempotent: re-marking an already-read message still succeeds.
	if err := s.deps.Store.MarkRead(ctx, s.conv, m.ID, s.identity.UserID); err != nil && !errors.Is(err, store.ErrNotFound) {
		log.Printf("session: mark read %d: %v", m.ID, err)
		s.replyTransient()
		return
	}

	s.publish(ctx, readEvent{
		Type:      "read_update",
		MessageID: m.ID,
		UserID:    s.identity.UserID,
		Fullname:  s.identity.Fullname,
	})
	if err := s.deps.Books.Push(ctx, s.conv, s.identity.UserID, s.contactFor(s.identity.UserID)); err != nil {
		log.Printf("session: unread push after read: %v", err)
	}
}

func handleUploadFile(ctx context.Context, s *Session, req *actionRequest) {
	if req.FileName == "" {
		s.replyInvalid("file_name")
		return
	}
	if req.FileData == "" {
		s.replyInvalid("file_data")
		return
	}

	if s.conv.Kind == models.KindChannel {
		owner, err := s.isChannelOwner(ctx)
		if err != nil {
			s.replyTransient()
			return
		}
		if !owner {
			s.replyForbidden("only the channel owner can upload files")
			return
		}
	}

	data, err := files.DecodePayload(req.FileData)
	if err != nil {
		s.replyInvalid("file_data")
		return
	}

	storedName := files.StoredName(req.FileName)
	if err := s.deps.Blobs.Save(storedName, data); err != nil {
		log.Printf("session: blob save %q: %v", req.FileName, err)
		s.replyTransient()
		return
	}

	f := &models.FileAttachment{
		UploaderID:   s.identity.UserID,
		Conversation: s.conv,
		OriginalName: req.FileName,
		StoredName:   storedName,
		Size:         int64(len(data)),
	}
	if err := s.deps.Store.SaveFile(ctx, f); err != nil {
		log.Printf("session: save file row %q: %v", req.FileName, err)
		s.deps.Blobs.Remove(storedName)
		s.replyTransient()
		return
	}

	m := &models.Message{
		Conversation: s.conv,
		SenderID:     s.identity.UserID,
		SenderName:   s.identity.Fullname,
		Content:      req.FileName,
		Type:         models.MessageFile,
		FileID:       &f.ID,
	}
	if err := s.deps.Store.SaveMessage(ctx, m); err != nil {
		log.Printf("session: save file message: %v", err)
		s.deps.Store.DeleteFile(ctx, f.ID)
		s.deps.Blobs.Remove(storedName)
		s.replyTransient()
		return
	}
	if err := s.deps.Store.AttachFileMessage(ctx, f.ID, m.ID); err != nil {
		log.Printf("session: attach file %d to message %d: %v", f.ID, m.ID, err)
	}
	f.MessageID = &m.ID

	s.publish(ctx, fileUploadedEvent{
		Type:    "file_uploaded",
		Message: s.view(ctx, m),
		File:    s.fileView(f),
	})
	if err := s.deps.Books.PushAll(ctx, s.conv, s.identity.UserID); err != nil {
		log.Printf("session: unread push after upload: %v", err)
	}
	s.notifyRecipients(ctx, req.FileName)
}

func handleDeleteFile(ctx context.Context, s *Session, req *actionRequest) {
	if req.FileID == 0 {
		s.replyInvalid("file_id")
		return
	}

	f, err := s.deps.Store.FileByID(ctx, req.FileID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && f.Conversation != s.conv) {
		s.replyNotFound("file")
		return
	}
	if err != nil {
		s.replyTransient()
		return
	}

	if f.UploaderID != s.identity.UserID {
		allowed := false
		if s.conv.Kind == models.KindChannel {
			allowed, err = s.isChannelOwner(ctx)
			if err != nil {
				s.replyTransient()
				return
			}
		}
		if !allowed {
			s.replyForbidden("only the uploader can delete this file")
			return
		}
	}

	if f.MessageID != nil {
		if err := s.deps.Store.DeleteMessage(ctx, s.conv, *f.MessageID); err != nil && !errors.Is(err, store.ErrNotFound) {
			log.Printf("session: delete file message %d: %v", *f.MessageID, err)
		}
	}
	if err := s.deps.Store.DeleteFile(ctx, f.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		log.Printf("session: delete file row %d: %v", f.ID, err)
		s.replyTransient()
		return
	}
	if err := s.deps.Blobs.Remove(f.StoredName); err != nil {
		log.Printf("session: remove blob %q: %v", f.StoredName, err)
	}

	s.publish(ctx, fileDeletedEvent{Type: "file_deleted", FileID: f.ID, MessageID: f.MessageID})
	if err := s.deps.Books.PushAll(ctx, s.conv, s.identity.UserID); err != nil {
		log.Printf("session: unread push after file delete: %v", err)
	}
}

func handleGetHistory(ctx context.Context, s *Session, _ *actionRequest) {
	s.sendHistory(ctx)
}

func handleGetFiles(ctx context.Context, s *Session, _ *actionRequest) {
	attachments, err := s.deps.Store.FilesByConversation(ctx, s.conv)
	if err != nil {
		log.Printf("session: list files %v: %v", s.conv, err)
		s.replyTransient()
		return
	}
	refs := make([]fileRef, 0, len(attachments))
	for i := range attachments {
		refs = append(refs, s.fileView(&attachments[i]))
	}
	s.reply(fileListEvent{Type: "file_list", Files: refs})
}

func handleGetUnreadCount(ctx context.Context, s *Session, _ *actionRequest) {
	count, err := s.deps.Books.Count(ctx, s.conv, s.identity.UserID)
	if err != nil {
		s.replyTransient()
		return
	}
	s.reply(unreadCountEvent{Type: "unread_count", Count: count})
}

func handleMarkAllRead(ctx context.Context, s *Session, _ *actionRequest) {
	if err := s.deps.Store.MarkAllRead(ctx, s.conv, s.identity.UserID); err != nil {
		log.Printf("session: mark all read %v: %v", s.conv, err)
		s.replyTransient()
		return
	}
	count, err := s.deps.Books.Count(ctx, s.conv, s.identity.UserID)
	if err != nil {
		s.replyTransient()
		return
	}
	s.reply(unreadCountEvent{Type: "unread_count", Count: count})
	// Refresh the caller's other open sessions too.
	if err := s.deps.Books.Push(ctx, s.conv, s.identity.UserID, s.contactFor(s.identity.UserID)); err != nil {
		log.Printf("session: unread push after mark all: %v", err)
	}
}

func handleTyping(ctx context.Context, s *Session, _ *actionRequest) {
	s.publish(ctx, typingEvent{Type: "typing", UserID: s.identity.UserID, Fullname: s.identity.Fullname})
}

func handleStopTyping(ctx context.Context, s *Session, _ *actionRequest) {
	s.publish(ctx, typingEvent{Type: "stop_typing", UserID: s.identity.UserID, Fullname: s.identity.Fullname})
}

// notifyRecipients pings every recipient's notification group with a
// new-message notification, so users without this conversation open
// still hear about it on their other sessions.
func (s *Session) notifyRecipients(ctx context.Context, body string) {
	var recipients []int
	if s.conv.Kind == models.KindRoom {
		recipients = []int{s.room.Other(s.identity.UserID)}
	} else {
		members, err := s.deps.Store.Members(ctx, s.conv)
		if err != nil {
			log.Printf("session: notify recipients %v: %v", s.conv, err)
			return
		}
		for _, m := range members {
			if m.UserID != s.identity.UserID {
				recipients = append(recipients, m.UserID)
			}
		}
	}

	n := notify.Notification{
		Type:      "notification",
		Title:     s.identity.Fullname,
		Message:   body,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	for _, id := range recipients {
		if err := s.deps.Relay.Notify(ctx, id, n); err != nil {
			log.Printf("session: notify %d: %v", id, err)
		}
	}
}

// removeAttachment cleans up a message's file row and blob after the
// message itself is gone.
func (s *Session) removeAttachment(ctx context.Context, fileID int) {
	f, err := s.deps.Store.FileByID(ctx, fileID)
	if err != nil {
		return
	}
	if err := s.deps.Store.DeleteFile(ctx, f.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		log.Printf("session: cascade file %d: %v", f.ID, err)
	}
	if err := s.deps.Blobs.Remove(f.StoredName); err != nil {
		log.Printf("session: cascade blob %q: %v", f.StoredName, err)
	}
}
