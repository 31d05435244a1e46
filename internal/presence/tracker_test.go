package presence

import (
	"context"
	"encoding/json"
	"testing"

	"go-messenger/internal/fabric"
	"go-messenger/internal/models"
	"go-messenger/internal/store/sqlstore"

	_ "github.com/mattn/go-sqlite3"
)

type captureSub struct {
	updates []StatusUpdate
}

func (c *captureSub) Deliver(payload []byte) {
	var u StatusUpdate
	if err := json.Unmarshal(payload, &u); err == nil {
		c.updates = append(c.updates, u)
	}
}

func newTestTracker(t *testing.T) (*Tracker, *sqlstore.SQLStore, *captureSub) {
	t.Helper()
	s, err := sqlstore.New("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	f := fabric.NewMemory()
	sub := &captureSub{}
	f.Join(fabric.PresenceGroup, sub)
	return NewTracker(s, f), s, sub
}

func seedUser(t *testing.T, s *sqlstore.SQLStore, name string) *models.User {
	t.Helper()
	u := &models.User{Fullname: name, Email: name + "@example.com", Password: "x"}
	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return u
}

func TestConnectFlipsOnlineOnce(t *testing.T) {
	tr, s, sub := newTestTracker(t)
	u := seedUser(t, s, "alice")
	ctx := context.Background()

	if count := tr.Connect(ctx, u.ID, u.Fullname); count != 1 {
		t.Errorf("Expected count 1, got %d", count)
	}
	if count := tr.Connect(ctx, u.ID, u.Fullname); count != 2 {
		t.Errorf("Expected count 2, got %d", count)
	}

	// Only the first connection broadcasts.
	if len(sub.updates) != 1 {
		t.Fatalf("Expected 1 status broadcast, got %d", len(sub.updates))
	}
	if !sub.updates[0].IsOnline || sub.updates[0].UserID != u.ID {
		t.Errorf("Expected online update for user %d, got %+v", u.ID, sub.updates[0])
	}

	loaded, err := s.UserByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("UserByID: %v", err)
	}
	if !loaded.IsOnline {
		t.Error("Expected user persisted as online")
	}
}

func TestDisconnectFlipsOfflineOnLastConnection(t *testing.T) {
	tr, s, sub := newTestTracker(t)
	u := seedUser(t, s, "bob")
	ctx := context.Background()

	tr.Connect(ctx, u.ID, u.Fullname)
	tr.Connect(ctx, u.ID, u.Fullname)
	tr.Connect(ctx, u.ID, u.Fullname)

	// Two of three disconnects: still online, no offline broadcast.
	tr.Disconnect(ctx, u.ID, u.Fullname)
	if count := tr.Disconnect(ctx, u.ID, u.Fullname); count != 1 {
		t.Errorf("Expected count 1 after two disconnects, got %d", count)
	}
	loaded, _ := s.UserByID(ctx, u.ID)
	if !loaded.IsOnline {
		t.Error("Expected user to stay online with a connection open")
	}
	if len(sub.updates) != 1 {
		t.Fatalf("Expected only the online broadcast so far, got %d", len(sub.updates))
	}

	// Last disconnect flips offline and stamps last_seen.
	if count := tr.Disconnect(ctx, u.ID, u.Fullname); count != 0 {
		t.Errorf("Expected count 0, got %d", count)
	}
	loaded, _ = s.UserByID(ctx, u.ID)
	if loaded.IsOnline {
		t.Error("Expected user persisted as offline")
	}
	if loaded.LastSeen == nil {
		t.Error("Expected last_seen to be stamped")
	}
	if len(sub.updates) != 2 {
		t.Fatalf("Expected 2 broadcasts, got %d", len(sub.updates))
	}
	last := sub.updates[1]
	if last.IsOnline || last.LastSeen == nil {
		t.Errorf("Expected offline update with last_seen, got %+v", last)
	}
}
