// Package call relays WebRTC signaling between members of a
// conversation's call group. The server never inspects SDP or ICE
// payloads; it forwards them, stamping the sender, and routes
// invitations through the per-user notification relay so a callee is
// reachable on any open session.
package call

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"go-messenger/internal/middleware"
	"go-messenger/internal/models"
	"go-messenger/internal/session"
)

type signal struct {
	Type      string          `json:"type"`
	TargetID  int             `json:"target_id,omitempty"`
	CallType  string          `json:"call_type,omitempty"`
	SDP       json.RawMessage `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
	Accepted  bool            `json:"accepted,omitempty"`
}

type outbound struct {
	Type         string          `json:"type"`
	RoomID       int             `json:"room_id,omitempty"`
	FromUserID   int             `json:"from_user_id"`
	FromUserName string          `json:"from_user_name"`
	TargetID     int             `json:"target_id,omitempty"`
	CallType     string          `json:"call_type,omitempty"`
	SDP          json.RawMessage `json:"sdp,omitempty"`
	Candidate    json.RawMessage `json:"candidate,omitempty"`
	Accepted     bool            `json:"accepted,omitempty"`
	Timestamp    string          `json:"timestamp,omitempty"`
}

// Serve handles the call-signaling socket for one conversation kind.
func Serve(deps *session.Deps, kind models.ConversationKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.Atoi(chi.URLParam(r, "id"))
		if err != nil {
			http.Error(w, "invalid conversation id", http.StatusBadRequest)
			return
		}
		identity := middleware.SocketIdentity(deps.Validator, r)

		client, err := session.Upgrade(w, r)
		if err != nil {
			log.Println(err)
			return
		}
		if identity.Anonymous {
			client.CloseWithCode(session.CloseUnauthenticated, "authentication required")
			return
		}

		ctx := context.Background()
		conv := models.Conversation{Kind: kind, ID: id}

		exists, err := deps.Store.ConversationExists(ctx, conv)
		if err != nil || !exists {
			client.CloseWithCode(session.CloseNotFound, "conversation not found")
			return
		}
		member, err := deps.Store.IsMember(ctx, conv, identity.UserID)
		if err != nil || !member {
			client.CloseWithCode(session.CloseForbidden, "not a member of this conversation")
			return
		}

		group := conv.CallGroupName()
		deps.Fabric.Join(group, client)
		deps.Presence.Connect(ctx, identity.UserID, identity.Fullname)

		defer func() {
			deps.Fabric.Leave(group, client)
			deps.Presence.Disconnect(ctx, identity.UserID, identity.Fullname)
			publish(ctx, deps, group, outbound{
				Type:         "user_left",
				FromUserID:   identity.UserID,
				FromUserName: identity.Fullname,
			})
			client.Close()
		}()

		client.ReadPump(func(payload []byte) {
			handleSignal(ctx, deps, conv, identity, payload)
		})
	}
}

func handleSignal(ctx context.Context, deps *session.Deps, conv models.Conversation, identity middleware.Identity, payload []byte) {
	var sig signal
	if err := json.Unmarshal(payload, &sig); err != nil {
		return
	}

	out := outbound{
		Type:         sig.Type,
		FromUserID:   identity.UserID,
		FromUserName: identity.Fullname,
		TargetID:     sig.TargetID,
		CallType:     sig.CallType,
		SDP:          sig.SDP,
		Candidate:    sig.Candidate,
		Accepted:     sig.Accepted,
	}

	switch sig.Type {
	case "join_call":
		out.Type = "user_joined"
		publish(ctx, deps, conv.CallGroupName(), out)

	case "offer", "answer", "ice_candidate":
		// Relayed through the call group; non-targets drop it client
		// side by target_id.
		publish(ctx, deps, conv.CallGroupName(), out)

	case "call_invitation", "call_response":
		if sig.TargetID == 0 {
			return
		}
		out.RoomID = conv.ID
		out.Timestamp = time.Now().UTC().Format(time.RFC3339)
		if err := deps.Relay.Notify(ctx, sig.TargetID, out); err != nil {
			log.Printf("call: notify %d: %v", sig.TargetID, err)
		}
	}
}

func publish(ctx context.Context, deps *session.Deps, group string, event outbound) {
	if err := deps.Fabric.Publish(ctx, group, event); err != nil {
		log.Printf("call: publish to %s: %v", group, err)
	}
}
