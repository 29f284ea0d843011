// ABOUTME: HTTP handlers for the login, poll, wallet callback and account routes
// ABOUTME: Maps login package errors to LNURL status bodies and JSON error payloads

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/2389/cachet/internal/auth"
	"github.com/2389/cachet/internal/login"
	"github.com/2389/cachet/internal/store"
)

// LNURL status reasons returned by the callback.
const (
	reasonInvalidRequest   = "Invalid request."
	reasonInvalidSignature = "Invalid signature."
	reasonNotFound         = "Challenge is not found."
	reasonInternal         = "Internal error."
)

// callbackQuery is the query string of GET /auth.
type callbackQuery struct {
	Tag string `validate:"omitempty,eq=login"`
	K1  string `validate:"required,len=64,hexadecimal"`
	Sig string `validate:"required,max=160,hexadecimal"`
	Key string `validate:"required,max=132,hexadecimal"`
}

// statusResponse is the LNURL callback body.
type statusResponse struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// userResponse is the body of GET /api/me.
type userResponse struct {
	PubKey    string    `json:"pubkey"`
	CreatedAt time.Time `json:"created_at"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// sendJSONError writes a JSON error response.
func sendJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func sendStatusError(w http.ResponseWriter, status int, reason string) {
	writeJSON(w, status, statusResponse{Status: "ERROR", Reason: reason})
}

// handleLogin starts a login and returns its LNURL and k1.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	start, err := s.login.StartLogin(r.Context())
	if err != nil {
		s.logger.Error("starting login", "error", err)
		sendJSONError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	writeJSON(w, http.StatusOK, start)
}

// handlePoll reports whether the challenge has been signed, issuing a session once it has.
func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	session, err := s.login.Poll(r.Context(), r.PathValue("k1"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, session)
	case errors.Is(err, login.ErrWaitingForLogin):
		sendJSONError(w, http.StatusUnauthorized, "Waiting for login")
	case errors.Is(err, login.ErrChallengeNotFound):
		sendJSONError(w, http.StatusNotFound, "Challenge is not found.")
	case errors.Is(err, login.ErrInvalidInput):
		sendJSONError(w, http.StatusBadRequest, "Invalid challenge")
	default:
		s.logger.Error("polling login", "error", err)
		sendJSONError(w, http.StatusInternalServerError, "Internal error")
	}
}

// handleCallback is the LNURL-auth endpoint wallets call with k1, sig and key.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := callbackQuery{
		Tag: q.Get("tag"),
		K1:  q.Get("k1"),
		Sig: q.Get("sig"),
		Key: q.Get("key"),
	}
	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			s.logger.Debug("rejected callback", "field", verrs[0].Field(), "rule", verrs[0].Tag())
		}
		sendStatusError(w, http.StatusBadRequest, reasonInvalidRequest)
		return
	}

	err := s.login.Verify(r.Context(), req.K1, req.Sig, req.Key)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, statusResponse{Status: "OK"})
	case errors.Is(err, login.ErrInvalidInput):
		sendStatusError(w, http.StatusBadRequest, reasonInvalidRequest)
	case errors.Is(err, login.ErrInvalidSignature):
		sendStatusError(w, http.StatusBadRequest, reasonInvalidSignature)
	case errors.Is(err, login.ErrChallengeNotFound), errors.Is(err, login.ErrAlreadyBound):
		// A consumed challenge reads as not found to wallets.
		sendStatusError(w, http.StatusOK, reasonNotFound)
	default:
		s.logger.Error("verifying callback", "error", err)
		sendStatusError(w, http.StatusInternalServerError, reasonInternal)
	}
}

// handleMe returns the account of the bearer token holder.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	id := auth.FromContext(r.Context())
	if id == nil {
		sendJSONError(w, http.StatusBadRequest, "Invalid token")
		return
	}

	user, err := s.store.GetUser(r.Context(), id.PubKey)
	if errors.Is(err, store.ErrNotFound) {
		sendJSONError(w, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		s.logger.Error("loading user", "error", err)
		sendJSONError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	writeJSON(w, http.StatusOK, userResponse{
		PubKey:    id.PubKeyHex(),
		CreatedAt: user.CreatedAt.UTC(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
