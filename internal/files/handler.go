package files

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"go-messenger/internal/middleware"
	"go-messenger/internal/store"
)

// Handler serves the attachment REST surface: the user's file library
// and permission-checked downloads.
type Handler struct {
	Store store.Store
	Blobs BlobStore
}

func NewHandler(st store.Store, blobs BlobStore) *Handler {
	return &Handler{Store: st, Blobs: blobs}
}

type fileEntry struct {
	ID         int    `json:"id"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	Size       string `json:"size"`
	URL        string `json:"url"`
	UploadDate string `json:"upload_date"`
	IsOwner    bool   `json:"is_owner"`
}

// ListFiles returns the caller's file library.
func (h *Handler) ListFiles(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(middleware.UserKey).(int)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	attachments, err := h.Store.FilesByUser(r.Context(), userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	entries := make([]fileEntry, 0, len(attachments))
	for _, f := range attachments {
		entries = append(entries, fileEntry{
			ID:         f.ID,
			Name:       f.OriginalName,
			Type:       Category(f.OriginalName),
			Size:       FormatSize(f.Size),
			URL:        h.Blobs.URL(f.StoredName),
			UploadDate: f.UploadedAt.Format("2006-01-02 15:04"),
			IsOwner:    f.UploaderID == userID,
		})
	}
	json.NewEncoder(w).Encode(entries)
}

// Download streams an attachment to its uploader or to a member of the
// conversation it belongs to. Anyone else gets 403.
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(middleware.UserKey).(int)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var fileID int
	if _, err := fmt.Sscanf(chi.URLParam(r, "fileID"), "%d", &fileID); err != nil {
		http.Error(w, "invalid file id", http.StatusBadRequest)
		return
	}

	attachment, err := h.Store.FileByID(r.Context(), fileID)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "file not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if attachment.UploaderID != userID {
		member, err := h.Store.IsMember(r.Context(), attachment.Conversation, userID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if !member {
			http.Error(w, "You don't have permission to access this file", http.StatusForbidden)
			return
		}
	}

	blob, err := h.Blobs.Open(attachment.StoredName)
	if err != nil {
		http.Error(w, "file content unavailable", http.StatusInternalServerError)
		return
	}
	defer blob.Close()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", attachment.OriginalName))
	w.Header().Set("Content-Type", "application/octet-stream")
	io.Copy(w, blob)
}

// ServeBlob serves raw blob bytes by stored name (the URL target).
func (h *Handler) ServeBlob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	blob, err := h.Blobs.Open(name)
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	defer blob.Close()
	io.Copy(w, blob)
}
