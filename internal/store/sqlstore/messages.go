package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"go-messenger/internal/models"
	"go-messenger/internal/store"
)

const messageColumns = `m.id, m.sender_id, u.fullname, m.content, m.message_type,
	m.reply_to_id, m.file_id, m.edited, m.is_read, m.created_at`

func (s *SQLStore) SaveMessage(ctx context.Context, m *models.Message) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.Type == "" {
		m.Type = models.MessageText
	}

	var content sql.NullString
	if m.Content != "" || m.Type == models.MessageText {
		content = sql.NullString{String: m.Content, Valid: true}
	}

	id, err := s.insertID(ctx, `
		INSERT INTO messages (kind, conversation_id, sender_id, content, message_type, reply_to_id, file_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.Conversation.Kind, m.Conversation.ID, m.SenderID, content, m.Type,
		m.ReplyToID, m.FileID, m.CreatedAt)
	if err != nil {
		return err
	}
	m.ID = id

	if m.Conversation.Kind == models.KindRoom {
		m.Read = models.SingleReader{}
	} else {
		m.Read = models.MultiReader{}
	}
	if m.SenderName == "" {
		if u, err := s.UserByID(ctx, m.SenderID); err == nil {
			m.SenderName = u.Fullname
		}
	}
	return nil
}

func (s *SQLStore) MessageByID(ctx context.Context, conv models.Conversation, id int) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT `+messageColumns+`
		FROM messages m
		JOIN users u ON m.sender_id = u.id
		WHERE m.id = ? AND m.kind = ? AND m.conversation_id = ?`),
		id, conv.Kind, conv.ID)

	m, err := scanMessage(conv, row)
	if err != nil {
		return nil, err
	}
	if conv.Kind != models.KindRoom {
		if err := s.loadReaders(ctx, []*models.Message{m}); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// UpdateMessageText edits a message's text if (and only if) senderID is
// the author. Ownership is re-checked here, at mutation time, so
// concurrent sessions of other users can never slip an edit through.
// Re-submitting the same text succeeds without flipping the edited flag.
func (s *SQLStore) UpdateMessageText(ctx context.Context, conv models.Conversation, id, senderID int, text string) (*models.Message, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE messages
		SET edited = edited OR COALESCE(content, '') <> ?, content = ?
		WHERE id = ? AND kind = ? AND conversation_id = ? AND sender_id = ?`),
		text, text, id, conv.Kind, conv.ID, senderID)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, store.ErrNotFound
	}
	return s.MessageByID(ctx, conv, id)
}

func (s *SQLStore) DeleteMessage(ctx context.Context, conv models.Conversation, id int) error {
	res, err := s.db.ExecContext(ctx, s.rebind(
		"DELETE FROM messages WHERE id = ? AND kind = ? AND conversation_id = ?"),
		id, conv.Kind, conv.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	_, err = s.db.ExecContext(ctx, s.rebind(
		"DELETE FROM message_reads WHERE message_id = ?"), id)
	return err
}

// RecentMessages returns the newest limit messages, newest first.
func (s *SQLStore) RecentMessages(ctx context.Context, conv models.Conversation, limit int) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT `+messageColumns+`
		FROM messages m
		JOIN users u ON m.sender_id = u.id
		WHERE m.kind = ? AND m.conversation_id = ?
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT ?`),
		conv.Kind, conv.ID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		m, err := scanMessage(conv, rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if conv.Kind != models.KindRoom {
		if err := s.loadReaders(ctx, messages); err != nil {
			return nil, err
		}
	}
	return messages, nil
}

// MarkRead is idempotent: re-marking an already-read message is a no-op.
// The author's own messages are never marked (they count as read already).
func (s *SQLStore) MarkRead(ctx context.Context, conv models.Conversation, messageID, readerID int) error {
	if conv.Kind == models.KindRoom {
		_, err := s.db.ExecContext(ctx, s.rebind(`
			UPDATE messages SET is_read = TRUE
			WHERE id = ? AND kind = ? AND conversation_id = ? AND sender_id <> ?`),
			messageID, conv.Kind, conv.ID, readerID)
		return err
	}

	var senderID int
	err := s.db.QueryRowContext(ctx, s.rebind(
		"SELECT sender_id FROM messages WHERE id = ? AND kind = ? AND conversation_id = ?"),
		messageID, conv.Kind, conv.ID).Scan(&senderID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return err
	}
	if senderID == readerID {
		return nil
	}
	return s.insertRead(ctx, messageID, readerID)
}

func (s *SQLStore) insertRead(ctx context.Context, messageID, readerID int) error {
	query := "INSERT INTO message_reads (message_id, user_id, read_at) VALUES (?, ?, ?)"
	if s.driverName == "pgx" {
		query += " ON CONFLICT (message_id, user_id) DO NOTHING"
	} else {
		query = strings.Replace(query, "INSERT", "INSERT OR IGNORE", 1)
	}
	_, err := s.db.ExecContext(ctx, s.rebind(query), messageID, readerID, time.Now().UTC())
	return err
}

func (s *SQLStore) MarkAllRead(ctx context.Context, conv models.Conversation, readerID int) error {
	if conv.Kind == models.KindRoom {
		_, err := s.db.ExecContext(ctx, s.rebind(`
			UPDATE messages SET is_read = TRUE
			WHERE kind = ? AND conversation_id = ? AND sender_id <> ?`),
			conv.Kind, conv.ID, readerID)
		return err
	}

	ids, err := s.unreadIDs(ctx, conv, readerID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := s.insertRead(ctx, id, readerID); err != nil {
			return err
		}
	}
	return nil
}

// UnreadCount is a full recount, not a cached counter: deletes and the
// multi-reader variant make incremental counters drift.
func (s *SQLStore) UnreadCount(ctx context.Context, conv models.Conversation, userID int) (int, error) {
	var count int
	var err error
	if conv.Kind == models.KindRoom {
		err = s.db.QueryRowContext(ctx, s.rebind(`
			SELECT COUNT(*) FROM messages
			WHERE kind = ? AND conversation_id = ? AND sender_id <> ? AND is_read = FALSE`),
			conv.Kind, conv.ID, userID).Scan(&count)
	} else {
		err = s.db.QueryRowContext(ctx, s.rebind(`
			SELECT COUNT(*) FROM messages m
			WHERE m.kind = ? AND m.conversation_id = ? AND m.sender_id <> ?
			AND NOT EXISTS (
				SELECT 1 FROM message_reads r WHERE r.message_id = m.id AND r.user_id = ?
			)`),
			conv.Kind, conv.ID, userID, userID).Scan(&count)
	}
	return count, err
}

func (s *SQLStore) unreadIDs(ctx context.Context, conv models.Conversation, userID int) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT m.id FROM messages m
		WHERE m.kind = ? AND m.conversation_id = ? AND m.sender_id <> ?
		AND NOT EXISTS (
			SELECT 1 FROM message_reads r WHERE r.message_id = m.id AND r.user_id = ?
		)`),
		conv.Kind, conv.ID, userID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(conv models.Conversation, row rowScanner) (*models.Message, error) {
	m := &models.Message{Conversation: conv}
	var content sql.NullString
	var replyTo, fileID sql.NullInt64
	var isRead bool
	err := row.Scan(&m.ID, &m.SenderID, &m.SenderName, &content, &m.Type,
		&replyTo, &fileID, &m.Edited, &isRead, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	m.Content = content.String
	if replyTo.Valid {
		v := int(replyTo.Int64)
		m.ReplyToID = &v
	}
	if fileID.Valid {
		v := int(fileID.Int64)
		m.FileID = &v
	}
	if conv.Kind == models.KindRoom {
		m.Read = models.SingleReader{Read: isRead}
	} else {
		m.Read = models.MultiReader{}
	}
	return m, nil
}

// loadReaders fills the MultiReader sets for a batch of group/channel
// messages with one query.
func (s *SQLStore) loadReaders(ctx context.Context, messages []*models.Message) error {
	if len(messages) == 0 {
		return nil
	}
	byID := make(map[int]*models.Message, len(messages))
	placeholders := make([]string, 0, len(messages))
	args := make([]any, 0, len(messages))
	for _, m := range messages {
		byID[m.ID] = m
		placeholders = append(placeholders, "?")
		args = append(args, m.ID)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(
		"SELECT message_id, user_id FROM message_reads WHERE message_id IN ("+
			strings.Join(placeholders, ", ")+")"), args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var messageID, userID int
		if err := rows.Scan(&messageID, &userID); err != nil {
			return err
		}
		if m := byID[messageID]; m != nil {
			m.Read.(models.MultiReader)[userID] = true
		}
	}
	return rows.Err()
}
