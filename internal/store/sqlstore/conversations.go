package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go-messenger/internal/models"
	"go-messenger/internal/store"
)

// GetOrCreateRoom returns the unique 1:1 room between two users,
// creating it on first contact. The pair is stored lower-id-first so
// (A,B) and (B,A) resolve to the same row.
func (s *SQLStore) GetOrCreateRoom(ctx context.Context, userA, userB int) (*models.Room, error) {
	if userA == userB {
		return nil, fmt.Errorf("room requires two distinct users")
	}
	if userA > userB {
		userA, userB = userB, userA
	}

	room, err := s.roomByPair(ctx, userA, userB)
	if err == nil {
		return room, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	id, err := s.insertID(ctx,
		"INSERT INTO rooms (user1_id, user2_id, created_at) VALUES (?, ?, ?)",
		userA, userB, time.Now().UTC())
	if isDuplicate(err) {
		// Lost a create race; the row exists now.
		return s.roomByPair(ctx, userA, userB)
	}
	if err != nil {
		return nil, err
	}
	return s.RoomByID(ctx, id)
}

func (s *SQLStore) roomByPair(ctx context.Context, user1, user2 int) (*models.Room, error) {
	return s.scanRoom(s.db.QueryRowContext(ctx, s.rebind(
		"SELECT id, user1_id, user2_id, created_at FROM rooms WHERE user1_id = ? AND user2_id = ?"),
		user1, user2))
}

func (s *SQLStore) RoomByID(ctx context.Context, id int) (*models.Room, error) {
	return s.scanRoom(s.db.QueryRowContext(ctx, s.rebind(
		"SELECT id, user1_id, user2_id, created_at FROM rooms WHERE id = ?"), id))
}

func (s *SQLStore) scanRoom(row *sql.Row) (*models.Room, error) {
	r := &models.Room{}
	err := row.Scan(&r.ID, &r.User1ID, &r.User2ID, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (s *SQLStore) CreateGroup(ctx context.Context, name, description string, creatorID int) (*models.Group, error) {
	now := time.Now().UTC()
	id, err := s.insertID(ctx,
		"INSERT INTO chat_groups (name, description, created_by, created_at) VALUES (?, ?, ?, ?)",
		name, description, creatorID, now)
	if err != nil {
		return nil, err
	}
	g := &models.Group{ID: id, Name: name, Description: description, CreatedBy: creatorID, CreatedAt: now}
	conv := models.Conversation{Kind: models.KindGroup, ID: id}
	if err := s.AddMember(ctx, conv, creatorID, models.RoleOwner); err != nil {
		return nil, err
	}
	return g, nil
}

func (s *SQLStore) CreateChannel(ctx context.Context, name, description string, ownerID int) (*models.Channel, error) {
	now := time.Now().UTC()
	id, err := s.insertID(ctx,
		"INSERT INTO channels (name, description, owner_id, created_at) VALUES (?, ?, ?, ?)",
		name, description, ownerID, now)
	if err != nil {
		return nil, err
	}
	c := &models.Channel{ID: id, Name: name, Description: description, OwnerID: ownerID, CreatedAt: now}
	conv := models.Conversation{Kind: models.KindChannel, ID: id}
	if err := s.AddMember(ctx, conv, ownerID, models.RoleOwner); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *SQLStore) ConversationExists(ctx context.Context, conv models.Conversation) (bool, error) {
	var table string
	switch conv.Kind {
	case models.KindRoom:
		table = "rooms"
	case models.KindGroup:
		table = "chat_groups"
	case models.KindChannel:
		table = "channels"
	default:
		return false, fmt.Errorf("unknown conversation kind %q", conv.Kind)
	}
	var one int
	err := s.db.QueryRowContext(ctx, s.rebind(
		"SELECT 1 FROM "+table+" WHERE id = ?"), conv.ID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s *SQLStore) AddMember(ctx context.Context, conv models.Conversation, userID int, role models.Role) error {
	if conv.Kind == models.KindRoom {
		return fmt.Errorf("room membership is fixed at creation")
	}
	_, err := s.db.ExecContext(ctx, s.rebind(
		"INSERT INTO memberships (kind, conversation_id, user_id, role, joined_at) VALUES (?, ?, ?, ?, ?)"),
		conv.Kind, conv.ID, userID, role, time.Now().UTC())
	if isDuplicate(err) {
		return store.ErrDuplicate
	}
	return err
}

func (s *SQLStore) RemoveMember(ctx context.Context, conv models.Conversation, userID int) error {
	res, err := s.db.ExecContext(ctx, s.rebind(
		"DELETE FROM memberships WHERE kind = ? AND conversation_id = ? AND user_id = ?"),
		conv.Kind, conv.ID, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *SQLStore) UpdateRole(ctx context.Context, conv models.Conversation, userID int, role models.Role) error {
	res, err := s.db.ExecContext(ctx, s.rebind(
		"UPDATE memberships SET role = ? WHERE kind = ? AND conversation_id = ? AND user_id = ?"),
		role, conv.Kind, conv.ID, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *SQLStore) IsMember(ctx context.Context, conv models.Conversation, userID int) (bool, error) {
	if conv.Kind == models.KindRoom {
		room, err := s.RoomByID(ctx, conv.ID)
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return room.User1ID == userID || room.User2ID == userID, nil
	}
	var one int
	err := s.db.QueryRowContext(ctx, s.rebind(
		"SELECT 1 FROM memberships WHERE kind = ? AND conversation_id = ? AND user_id = ?"),
		conv.Kind, conv.ID, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s *SQLStore) RoleOf(ctx context.Context, conv models.Conversation, userID int) (models.Role, error) {
	if conv.Kind == models.KindRoom {
		member, err := s.IsMember(ctx, conv, userID)
		if err != nil {
			return "", err
		}
		if !member {
			return "", store.ErrNotFound
		}
		return models.RoleMember, nil
	}
	var role models.Role
	err := s.db.QueryRowContext(ctx, s.rebind(
		"SELECT role FROM memberships WHERE kind = ? AND conversation_id = ? AND user_id = ?"),
		conv.Kind, conv.ID, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrNotFound
	}
	return role, err
}

func (s *SQLStore) Members(ctx context.Context, conv models.Conversation) ([]models.Membership, error) {
	if conv.Kind == models.KindRoom {
		room, err := s.RoomByID(ctx, conv.ID)
		if err != nil {
			return nil, err
		}
		var members []models.Membership
		for _, id := range []int{room.User1ID, room.User2ID} {
			u, err := s.UserByID(ctx, id)
			if err != nil {
				return nil, err
			}
			members = append(members, models.Membership{
				Conversation: conv,
				UserID:       id,
				Fullname:     u.Fullname,
				Role:         models.RoleMember,
				JoinedAt:     room.CreatedAt,
			})
		}
		return members, nil
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT m.user_id, u.fullname, m.role, m.joined_at
		FROM memberships m
		JOIN users u ON m.user_id = u.id
		WHERE m.kind = ? AND m.conversation_id = ?
		ORDER BY m.joined_at`),
		conv.Kind, conv.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []models.Membership
	for rows.Next() {
		m := models.Membership{Conversation: conv}
		if err := rows.Scan(&m.UserID, &m.Fullname, &m.Role, &m.JoinedAt); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}
