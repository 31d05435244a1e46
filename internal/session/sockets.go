package session

import (
	"context"
	"log"
	"net/http"

	"go-messenger/internal/fabric"
	"go-messenger/internal/middleware"
)

// ServeNotifications is the per-user notification socket: it joins the
// identity's notification group and pushes cross-conversation events
// (pings, unread deltas, call invitations). Inbound frames are ignored.
func ServeNotifications(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := middleware.SocketIdentity(deps.Validator, r)
		client, err := Upgrade(w, r)
		if err != nil {
			log.Println(err)
			return
		}
		if identity.Anonymous {
			client.CloseWithCode(CloseUnauthenticated, "authentication required")
			return
		}

		ctx := context.Background()
		group := fabric.NotificationGroup(identity.UserID)
		deps.Fabric.Join(group, client)
		deps.Presence.Connect(ctx, identity.UserID, identity.Fullname)

		defer func() {
			deps.Fabric.Leave(group, client)
			deps.Presence.Disconnect(ctx, identity.UserID, identity.Fullname)
			client.Close()
		}()

		client.ReadPump(nil)
	}
}

// ServePresence is the single shared presence socket: it joins the
// global presence group and receives status_update events for everyone.
func ServePresence(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := middleware.SocketIdentity(deps.Validator, r)
		client, err := Upgrade(w, r)
		if err != nil {
			log.Println(err)
			return
		}
		if identity.Anonymous {
			client.CloseWithCode(CloseUnauthenticated, "authentication required")
			return
		}

		ctx := context.Background()
		deps.Fabric.Join(fabric.PresenceGroup, client)
		deps.Presence.Connect(ctx, identity.UserID, identity.Fullname)

		defer func() {
			deps.Fabric.Leave(fabric.PresenceGroup, client)
			deps.Presence.Disconnect(ctx, identity.UserID, identity.Fullname)
			client.Close()
		}()

		client.ReadPump(nil)
	}
}
