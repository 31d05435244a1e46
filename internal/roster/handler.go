// Package roster is the REST surface for creating conversations and
// changing membership. Mutations persist first, then publish
// member_joined / member_left / role_updated into the conversation
// group so live sessions see roster changes without polling.
package roster

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"go-messenger/internal/fabric"
	"go-messenger/internal/middleware"
	"go-messenger/internal/models"
	"go-messenger/internal/store"
)

type Handler struct {
	Store  store.Store
	Fabric fabric.Fabric
}

func NewHandler(st store.Store, f fabric.Fabric) *Handler {
	return &Handler{Store: st, Fabric: f}
}

type memberEvent struct {
	Type     string      `json:"type"`
	UserID   int         `json:"user_id"`
	Fullname string      `json:"fullname"`
	Role     models.Role `json:"role,omitempty"`
}

func caller(r *http.Request) (int, bool) {
	id, ok := r.Context().Value(middleware.UserKey).(int)
	return id, ok
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// StartConversation finds or creates the 1:1 room with the target user.
func (h *Handler) StartConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req struct {
		TargetID int `json:"target_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TargetID == 0 {
		writeError(w, http.StatusBadRequest, "target_id is required")
		return
	}
	if req.TargetID == userID {
		writeError(w, http.StatusBadRequest, "cannot start a conversation with yourself")
		return
	}
	if _, err := h.Store.UserByID(r.Context(), req.TargetID); err != nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	room, err := h.Store.GetOrCreateRoom(r.Context(), userID, req.TargetID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"room_id": room.ID})
}

func (h *Handler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	g, err := h.Store.CreateGroup(r.Context(), req.Name, req.Description, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

func (h *Handler) CreateChannel(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	c, err := h.Store.CreateChannel(r.Context(), req.Name, req.Description, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *Handler) conversation(r *http.Request, kind models.ConversationKind) (models.Conversation, error) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		return models.Conversation{}, err
	}
	return models.Conversation{Kind: kind, ID: id}, nil
}

// AddMember admits a user. Groups require an owner or admin caller;
// channels let the owner add subscribers and users subscribe themselves.
func (h *Handler) AddMember(kind models.ConversationKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := caller(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		conv, err := h.conversation(r, kind)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid conversation id")
			return
		}

		var req struct {
			UserID int         `json:"user_id"`
			Role   models.Role `json:"role"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == 0 {
			writeError(w, http.StatusBadRequest, "user_id is required")
			return
		}
		if req.Role == models.RoleOwner {
			writeError(w, http.StatusBadRequest, "cannot grant owner")
			return
		}

		role := req.Role
		switch kind {
		case models.KindGroup:
			if role == "" {
				role = models.RoleMember
			}
			callerRole, err := h.Store.RoleOf(r.Context(), conv, userID)
			if err != nil || (callerRole != models.RoleOwner && callerRole != models.RoleAdmin) {
				writeError(w, http.StatusForbidden, "owner or admin required")
				return
			}
		case models.KindChannel:
			role = models.RoleSubscriber
			if req.UserID != userID {
				callerRole, err := h.Store.RoleOf(r.Context(), conv, userID)
				if err != nil || callerRole != models.RoleOwner {
					writeError(w, http.StatusForbidden, "owner required")
					return
				}
			}
		}

		member, err := h.Store.UserByID(r.Context(), req.UserID)
		if err != nil {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}

		if err := h.Store.AddMember(r.Context(), conv, req.UserID, role); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				writeError(w, http.StatusConflict, "already a member")
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		h.publish(r, conv, memberEvent{
			Type:     "member_joined",
			UserID:   member.ID,
			Fullname: member.Fullname,
			Role:     role,
		})
		w.WriteHeader(http.StatusOK)
	}
}

// RemoveMember handles both self-leave and removal by a privileged
// caller. The owner can never be removed.
func (h *Handler) RemoveMember(kind models.ConversationKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := caller(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		conv, err := h.conversation(r, kind)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid conversation id")
			return
		}
		targetID, err := strconv.Atoi(chi.URLParam(r, "userID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid user id")
			return
		}

		targetRole, err := h.Store.RoleOf(r.Context(), conv, targetID)
		if err != nil {
			writeError(w, http.StatusNotFound, "member not found")
			return
		}
		if targetRole == models.RoleOwner {
			writeError(w, http.StatusForbidden, "the owner cannot be removed")
			return
		}

		if targetID != userID {
			callerRole, err := h.Store.RoleOf(r.Context(), conv, userID)
			if err != nil {
				writeError(w, http.StatusForbidden, "not a member")
				return
			}
			privileged := callerRole == models.RoleOwner ||
				(kind == models.KindGroup && callerRole == models.RoleAdmin)
			if !privileged {
				writeError(w, http.StatusForbidden, "insufficient role")
				return
			}
		}

		if err := h.Store.RemoveMember(r.Context(), conv, targetID); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		fullname := ""
		if u, err := h.Store.UserByID(r.Context(), targetID); err == nil {
			fullname = u.Fullname
		}
		h.publish(r, conv, memberEvent{
			Type:     "member_left",
			UserID:   targetID,
			Fullname: fullname,
		})
		w.WriteHeader(http.StatusOK)
	}
}

// UpdateRole promotes or demotes a group member. Only the owner may
// change roles, the owner's own role is untouchable, and ownership is
// not transferable here.
func (h *Handler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	conv, err := h.conversation(r, models.KindGroup)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}
	targetID, err := strconv.Atoi(chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	var req struct {
		Role models.Role `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil ||
		(req.Role != models.RoleAdmin && req.Role != models.RoleMember) {
		writeError(w, http.StatusBadRequest, "role must be admin or member")
		return
	}

	callerRole, err := h.Store.RoleOf(r.Context(), conv, userID)
	if err != nil || callerRole != models.RoleOwner {
		writeError(w, http.StatusForbidden, "owner required")
		return
	}
	targetRole, err := h.Store.RoleOf(r.Context(), conv, targetID)
	if err != nil {
		writeError(w, http.StatusNotFound, "member not found")
		return
	}
	if targetRole == models.RoleOwner {
		writeError(w, http.StatusForbidden, "the owner cannot be demoted")
		return
	}

	if err := h.Store.UpdateRole(r.Context(), conv, targetID, req.Role); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	fullname := ""
	if u, err := h.Store.UserByID(r.Context(), targetID); err == nil {
		fullname = u.Fullname
	}
	h.publish(r, conv, memberEvent{
		Type:     "role_updated",
		UserID:   targetID,
		Fullname: fullname,
		Role:     req.Role,
	})
	w.WriteHeader(http.StatusOK)
}

// Members lists a conversation's roster (members only).
func (h *Handler) Members(kind models.ConversationKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := caller(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		conv, err := h.conversation(r, kind)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid conversation id")
			return
		}
		member, err := h.Store.IsMember(r.Context(), conv, userID)
		if err != nil || !member {
			writeError(w, http.StatusForbidden, "not a member")
			return
		}
		members, err := h.Store.Members(r.Context(), conv)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, members)
	}
}

func (h *Handler) publish(r *http.Request, conv models.Conversation, event memberEvent) {
	if err := h.Fabric.Publish(r.Context(), conv.GroupName(), event); err != nil {
		log.Printf("roster: publish to %s: %v", conv.GroupName(), err)
	}
}
