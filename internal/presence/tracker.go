// Package presence reference-counts open connections per user and
// derives online/offline state from the count, so a user with two tabs
// open stays online until the last one closes.
package presence

import (
	"context"
	"log"
	"sync"
	"time"

	"go-messenger/internal/fabric"
	"go-messenger/internal/store"
)

type StatusUpdate struct {
	Type     string     `json:"type"`
	UserID   int        `json:"user_id"`
	Fullname string     `json:"fullname"`
	IsOnline bool       `json:"is_online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

type Tracker struct {
	mu     sync.Mutex
	counts map[int]int

	store  store.Store
	fabric fabric.Fabric
}

func NewTracker(st store.Store, f fabric.Fabric) *Tracker {
	return &Tracker{
		counts: make(map[int]int),
		store:  st,
		fabric: f,
	}
}

// Connect increments the user's connection count and returns it. Only
// the 0→1 transition persists and broadcasts the online flip.
func (t *Tracker) Connect(ctx context.Context, userID int, fullname string) int {
	t.mu.Lock()
	t.counts[userID]++
	count := t.counts[userID]
	t.mu.Unlock()

	if count == 1 {
		if err := t.store.SetOnline(ctx, userID, true, time.Time{}); err != nil {
			log.Printf("presence: set online %d: %v", userID, err)
		}
		t.broadcast(ctx, StatusUpdate{
			Type:     "status_update",
			UserID:   userID,
			Fullname: fullname,
			IsOnline: true,
		})
	}
	return count
}

// Disconnect decrements the count; only the transition to zero flips
// the user offline and stamps last_seen.
func (t *Tracker) Disconnect(ctx context.Context, userID int, fullname string) int {
	t.mu.Lock()
	count := t.counts[userID]
	if count > 0 {
		count--
		if count == 0 {
			delete(t.counts, userID)
		} else {
			t.counts[userID] = count
		}
	}
	t.mu.Unlock()

	if count == 0 {
		lastSeen := time.Now().UTC()
		if err := t.store.SetOnline(ctx, userID, false, lastSeen); err != nil {
			log.Printf("presence: set offline %d: %v", userID, err)
		}
		t.broadcast(ctx, StatusUpdate{
			Type:     "status_update",
			UserID:   userID,
			Fullname: fullname,
			IsOnline: false,
			LastSeen: &lastSeen,
		})
	}
	return count
}

func (t *Tracker) broadcast(ctx context.Context, update StatusUpdate) {
	if err := t.fabric.Publish(ctx, fabric.PresenceGroup, update); err != nil {
		log.Printf("presence: broadcast: %v", err)
	}
}
