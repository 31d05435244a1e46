// Package notify is the per-user broadcast relay: one fabric group per
// identity, joined by every session that user opens, used for events
// that are not scoped to a single conversation.
package notify

import (
	"context"

	"go-messenger/internal/fabric"
)

type Relay struct {
	fabric fabric.Fabric
}

func NewRelay(f fabric.Fabric) *Relay {
	return &Relay{fabric: f}
}

// Notify publishes payload into the user's notification group. A user
// with zero open sessions gets a silent no-op, not an error.
func (r *Relay) Notify(ctx context.Context, userID int, payload any) error {
	return r.fabric.Publish(ctx, fabric.NotificationGroup(userID), payload)
}

type Notification struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}
