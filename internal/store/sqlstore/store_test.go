package sqlstore

import (
	"context"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"go-messenger/internal/models"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := New("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedUser(t *testing.T, s *SQLStore, fullname string) *models.User {
	t.Helper()
	u := &models.User{Fullname: fullname, Email: fullname + "@example.com", Password: "pass"}
	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("Failed to create user %s: %v", fullname, err)
	}
	return u
}

func seedRoom(t *testing.T, s *SQLStore, a, b int) *models.Room {
	t.Helper()
	room, err := s.GetOrCreateRoom(context.Background(), a, b)
	if err != nil {
		t.Fatalf("Failed to create room: %v", err)
	}
	return room
}

func seedGroup(t *testing.T, s *SQLStore, creatorID int, memberIDs ...int) *models.Group {
	t.Helper()
	g, err := s.CreateGroup(context.Background(), "Test Group", "", creatorID)
	if err != nil {
		t.Fatalf("Failed to create group: %v", err)
	}
	for _, id := range memberIDs {
		if err := s.AddMember(context.Background(), g.Conversation(), id, models.RoleMember); err != nil {
			t.Fatalf("Failed to add member %d: %v", id, err)
		}
	}
	return g
}
