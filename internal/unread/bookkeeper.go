// Package unread recomputes unread counters and pushes them through the
// notification relay. Counts are always recounted from the store, never
// cached: deletes and multi-reader read sets make incremental counters
// drift.
package unread

import (
	"context"
	"fmt"

	"go-messenger/internal/models"
	"go-messenger/internal/notify"
	"go-messenger/internal/store"
)

type CountUpdate struct {
	Type         string                  `json:"type"`
	Kind         models.ConversationKind `json:"kind"`
	Conversation int                     `json:"conversation_id"`
	ContactID    int                     `json:"contact_id"`
	Count        int                     `json:"count"`
}

type Bookkeeper struct {
	store store.Store
	relay *notify.Relay
}

func NewBookkeeper(st store.Store, relay *notify.Relay) *Bookkeeper {
	return &Bookkeeper{store: st, relay: relay}
}

// Count returns the current unread count for one (conversation, user).
func (b *Bookkeeper) Count(ctx context.Context, conv models.Conversation, userID int) (int, error) {
	return b.store.UnreadCount(ctx, conv, userID)
}

// Push recomputes userID's unread count in conv and delivers it to
// every session that user has open. contactID is the stable id clients
// key their conversation list on: for rooms, the other participant; for
// groups and channels, the conversation itself.
func (b *Bookkeeper) Push(ctx context.Context, conv models.Conversation, userID, contactID int) error {
	count, err := b.store.UnreadCount(ctx, conv, userID)
	if err != nil {
		return fmt.Errorf("unread recount: %w", err)
	}
	return b.relay.Notify(ctx, userID, CountUpdate{
		Type:         "unread_count_update",
		Kind:         conv.Kind,
		Conversation: conv.ID,
		ContactID:    contactID,
		Count:        count,
	})
}

// PushAll refreshes counters for every member of the conversation
// except the acting user (whose own actions never change their count
// as an addressee).
func (b *Bookkeeper) PushAll(ctx context.Context, conv models.Conversation, actorID int) error {
	if conv.Kind == models.KindRoom {
		room, err := b.store.RoomByID(ctx, conv.ID)
		if err != nil {
			return err
		}
		other := room.Other(actorID)
		return b.Push(ctx, conv, other, actorID)
	}

	members, err := b.store.Members(ctx, conv)
	if err != nil {
		return err
	}
	for _, m := range members {
		if m.UserID == actorID {
			continue
		}
		if err := b.Push(ctx, conv, m.UserID, conv.ID); err != nil {
			return err
		}
	}
	return nil
}
