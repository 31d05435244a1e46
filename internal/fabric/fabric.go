// Package fabric is the publish/subscribe substrate connecting sessions
// across server processes. Group names are deterministic functions of
// conversation or user ids, so any process can address a group without
// shared discovery state.
package fabric

import (
	"context"
	"fmt"
)

// PresenceGroup is the single global group carrying status_update events.
const PresenceGroup = "presence"

// NotificationGroup names the per-user group joined by every session a
// user has open, independent of any one conversation.
func NotificationGroup(userID int) string {
	return fmt.Sprintf("notifications_%d", userID)
}

// Subscriber is one live session handle. Deliver must not block: slow
// consumers are dropped, not waited on.
type Subscriber interface {
	Deliver(payload []byte)
}

// Fabric delivers a published event to every subscriber that is a member
// of the group at the instant of publish. No replay: a handle joining
// after a publish never sees it — history comes from the store. Within a
// group, deliveries preserve each publisher's issue order. Publishing to
// an empty group is a silent no-op.
type Fabric interface {
	Join(group string, sub Subscriber)
	Leave(group string, sub Subscriber)
	Publish(ctx context.Context, group string, event any) error
}
