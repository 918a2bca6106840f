package server

import (
	"encoding/json"
	"net/http"

	"github.com/nhle/email-gateway/internal/model"
)

type setCredentialRequest struct {
	Value string `json:"value"`
}

type credentialStatusResponse struct {
	Key     string `json:"key"`
	Present bool   `json:"present"`
}

// handleSetCredential stores a secret under the named key. The value
// is accepted in the request body and never appears in responses or
// logs.
func (s *Server) handleSetCredential(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	var req setCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Value == "" {
		http.Error(w, "value is required", http.StatusBadRequest)
		return
	}

	if err := s.creds.Set(key, req.Value); err != nil {
		s.log.WithError(err).WithField("key", key).Error("storing credential failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCheckCredential(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	present, err := s.creds.Has(key)
	if err != nil {
		s.log.WithError(err).WithField("key", key).Error("checking credential failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, credentialStatusResponse{Key: key, Present: present})
}

func (s *Server) handleDeleteCredential(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	if err := s.creds.Delete(key); err != nil {
		s.log.WithError(err).WithField("key", key).Error("deleting credential failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type addUserRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// handleAddUser registers (or renames) an allowed sender. Only mail
// from registered senders produces conversation turns, so this is the
// bootstrap step for a fresh deployment.
func (s *Server) handleAddUser(w http.ResponseWriter, r *http.Request) {
	var req addUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Email == "" {
		http.Error(w, "email is required", http.StatusBadRequest)
		return
	}

	user, err := s.store.UpsertUser(r.Context(), model.User{
		Email: req.Email,
		Name:  req.Name,
	})
	if err != nil {
		s.log.WithError(err).Error("upserting user failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.GetUsers(r.Context())
	if err != nil {
		s.log.WithError(err).Error("listing users failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	notifications, err := s.store.GetUnreadNotifications(r.Context())
	if err != nil {
		s.log.WithError(err).Error("listing notifications failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, notifications)
}

func (s *Server) handleMarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := s.store.MarkNotificationRead(r.Context(), id); err != nil {
		s.log.WithError(err).WithField("notification_id", id).
			Error("marking notification read failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
