// Package server exposes the gateway over HTTP: the provider webhook
// endpoints and the admin/testing surface.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nhle/email-gateway/internal/gateway"
	"github.com/nhle/email-gateway/internal/model"
	"github.com/nhle/email-gateway/internal/store"
)

// maxWebhookBody bounds how much of an untrusted webhook payload is
// read.
const maxWebhookBody = 10 << 20

// Credentials is the secret-store surface the admin endpoints manage.
// Values are write-only: the endpoints can set, delete, and check for
// presence, but never read a secret back out.
type Credentials interface {
	Set(key, value string) error
	Delete(key string) error
	Has(key string) (bool, error)
}

// Server is the gateway HTTP server.
type Server struct {
	pipeline *gateway.Pipeline
	store    store.Store
	creds    Credentials
	log      *logrus.Logger
	httpSrv  *http.Server
}

// New creates a server listening on addr.
func New(addr string, p *gateway.Pipeline, st store.Store, creds Credentials, log *logrus.Logger) *Server {
	s := &Server{pipeline: p, store: st, creds: creds, log: log}
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the route multiplexer. Exposed so tests can drive
// the server through httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/email/inbound/{provider}", s.handleInbound)
	mux.HandleFunc("POST /api/settings/email/simulate-inbound", s.handleSimulateInbound)
	mux.HandleFunc("POST /api/settings/email/check-identity", s.handleCheckIdentity)
	mux.HandleFunc("POST /api/settings/email/test", s.handleTestSend)
	mux.HandleFunc("PUT /api/settings/email/credentials/{key}", s.handleSetCredential)
	mux.HandleFunc("GET /api/settings/email/credentials/{key}", s.handleCheckCredential)
	mux.HandleFunc("DELETE /api/settings/email/credentials/{key}", s.handleDeleteCredential)
	mux.HandleFunc("POST /api/settings/users", s.handleAddUser)
	mux.HandleFunc("GET /api/settings/users", s.handleListUsers)
	mux.HandleFunc("GET /api/settings/email/notifications", s.handleListNotifications)
	mux.HandleFunc("POST /api/settings/email/notifications/{id}/read", s.handleMarkNotificationRead)
	mux.HandleFunc("GET /health", s.handleHealth)

	return mux
}

// ListenAndServe runs the server until Shutdown or failure.
func (s *Server) ListenAndServe() error {
	s.log.WithField("addr", s.httpSrv.Addr).Info("http server listening")

	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// handleInbound accepts one provider webhook delivery. The contract
// with providers: 2xx even when the event is internally discarded
// (unparsable payloads would otherwise be redelivered forever), 5xx
// only for internal failures worth a provider-side retry.
func (s *Server) handleInbound(w http.ResponseWriter, r *http.Request) {
	providerID := model.Provider(r.PathValue("provider"))
	if !providerID.IsValid() {
		http.Error(w, "unknown provider", http.StatusNotFound)
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "reading body", http.StatusInternalServerError)
		return
	}

	if err := s.pipeline.HandleWebhook(r.Context(), providerID, payload); err != nil {
		s.log.WithError(err).WithField("provider", string(providerID)).
			Error("inbound pipeline failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type simulateInboundRequest struct {
	FromAddress string `json:"from_address"`
	Subject     string `json:"subject"`
	Body        string `json:"body"`
}

func (s *Server) handleSimulateInbound(w http.ResponseWriter, r *http.Request) {
	var req simulateInboundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.FromAddress == "" {
		http.Error(w, "from_address is required", http.StatusBadRequest)
		return
	}

	trace, err := s.pipeline.SimulateInbound(
		r.Context(), req.FromAddress, req.Subject, req.Body,
	)
	if err != nil {
		s.log.WithError(err).Error("simulate-inbound failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, trace)
}

type checkIdentityRequest struct {
	Email string `json:"email"`
}

type checkIdentityResponse struct {
	Resolved bool   `json:"resolved"`
	UserID   string `json:"user_id,omitempty"`
}

func (s *Server) handleCheckIdentity(w http.ResponseWriter, r *http.Request) {
	var req checkIdentityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Email == "" {
		http.Error(w, "email is required", http.StatusBadRequest)
		return
	}

	ident, err := s.pipeline.CheckIdentity(r.Context(), req.Email)
	if err != nil {
		s.log.WithError(err).Error("check-identity failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, checkIdentityResponse{
		Resolved: ident.Resolved,
		UserID:   ident.UserID,
	})
}

type testSendRequest struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type testSendResponse struct {
	MessageID string `json:"message_id"`
}

func (s *Server) handleTestSend(w http.ResponseWriter, r *http.Request) {
	var req testSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.To == "" {
		http.Error(w, "to is required", http.StatusBadRequest)
		return
	}

	messageID, err := s.pipeline.TestSend(
		r.Context(), []string{req.To}, req.Subject, req.Body,
	)
	if err != nil {
		s.log.WithError(err).Error("test send failed")
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusOK, testSendResponse{MessageID: messageID})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
