package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go-messenger/internal/models"
	"go-messenger/internal/store"
)

func (s *SQLStore) SaveFile(ctx context.Context, f *models.FileAttachment) error {
	if f.UploadedAt.IsZero() {
		f.UploadedAt = time.Now().UTC()
	}
	id, err := s.insertID(ctx, `
		INSERT INTO files (uploader_id, kind, conversation_id, message_id, original_name, stored_name, size, uploaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		f.UploaderID, f.Conversation.Kind, f.Conversation.ID, f.MessageID,
		f.OriginalName, f.StoredName, f.Size, f.UploadedAt)
	if err != nil {
		return err
	}
	f.ID = id
	return nil
}

// AttachFileMessage links a file row to the message created for it.
func (s *SQLStore) AttachFileMessage(ctx context.Context, fileID, messageID int) error {
	res, err := s.db.ExecContext(ctx, s.rebind(
		"UPDATE files SET message_id = ? WHERE id = ?"), messageID, fileID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

const fileColumns = "id, uploader_id, kind, conversation_id, message_id, original_name, stored_name, size, uploaded_at"

func (s *SQLStore) FileByID(ctx context.Context, id int) (*models.FileAttachment, error) {
	return scanFile(s.db.QueryRowContext(ctx, s.rebind(
		"SELECT "+fileColumns+" FROM files WHERE id = ?"), id))
}

func (s *SQLStore) DeleteFile(ctx context.Context, id int) error {
	res, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM files WHERE id = ?"), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *SQLStore) FilesByConversation(ctx context.Context, conv models.Conversation) ([]models.FileAttachment, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		"SELECT "+fileColumns+" FROM files WHERE kind = ? AND conversation_id = ? ORDER BY uploaded_at DESC"),
		conv.Kind, conv.ID)
	if err != nil {
		return nil, err
	}
	return collectFiles(rows)
}

func (s *SQLStore) FilesByUser(ctx context.Context, userID int) ([]models.FileAttachment, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		"SELECT "+fileColumns+" FROM files WHERE uploader_id = ? ORDER BY uploaded_at DESC"),
		userID)
	if err != nil {
		return nil, err
	}
	return collectFiles(rows)
}

func collectFiles(rows *sql.Rows) ([]models.FileAttachment, error) {
	defer rows.Close()
	var files []models.FileAttachment
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, *f)
	}
	return files, rows.Err()
}

func scanFile(row rowScanner) (*models.FileAttachment, error) {
	f := &models.FileAttachment{}
	var messageID sql.NullInt64
	err := row.Scan(&f.ID, &f.UploaderID, &f.Conversation.Kind, &f.Conversation.ID,
		&messageID, &f.OriginalName, &f.StoredName, &f.Size, &f.UploadedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if messageID.Valid {
		v := int(messageID.Int64)
		f.MessageID = &v
	}
	return f, nil
}
