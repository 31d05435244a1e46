package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go-messenger/internal/models"
	"go-messenger/internal/store"
)

func (s *SQLStore) CreateUser(ctx context.Context, u *models.User) error {
	id, err := s.insertID(ctx,
		"INSERT INTO users (fullname, email, password) VALUES (?, ?, ?)",
		u.Fullname, u.Email, u.Password)
	if isDuplicate(err) {
		return store.ErrDuplicate
	}
	if err != nil {
		return err
	}
	u.ID = id
	return nil
}

func (s *SQLStore) UserByID(ctx context.Context, id int) (*models.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, s.rebind(
		"SELECT id, fullname, email, password, is_online, last_seen FROM users WHERE id = ?"), id))
}

func (s *SQLStore) UserByFullname(ctx context.Context, fullname string) (*models.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, s.rebind(
		"SELECT id, fullname, email, password, is_online, last_seen FROM users WHERE fullname = ?"), fullname))
}

func (s *SQLStore) scanUser(row *sql.Row) (*models.User, error) {
	u := &models.User{}
	var lastSeen sql.NullTime
	err := row.Scan(&u.ID, &u.Fullname, &u.Email, &u.Password, &u.IsOnline, &lastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if lastSeen.Valid {
		u.LastSeen = &lastSeen.Time
	}
	return u, nil
}

func (s *SQLStore) SearchUsers(ctx context.Context, query string) ([]models.User, error) {
	// Limit to 10 to keep it fast
	rows, err := s.db.QueryContext(ctx, s.rebind(
		"SELECT id, fullname, email, is_online FROM users WHERE LOWER(fullname) LIKE LOWER(?) LIMIT 10"),
		"%"+query+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Fullname, &u.Email, &u.IsOnline); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *SQLStore) SetOnline(ctx context.Context, userID int, online bool, lastSeen time.Time) error {
	if online {
		_, err := s.db.ExecContext(ctx, s.rebind(
			"UPDATE users SET is_online = TRUE WHERE id = ?"), userID)
		return err
	}
	_, err := s.db.ExecContext(ctx, s.rebind(
		"UPDATE users SET is_online = FALSE, last_seen = ? WHERE id = ?"),
		lastSeen.UTC(), userID)
	return err
}
