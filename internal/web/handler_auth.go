package web

import (
	"net/http"
	"time"

	"github.com/vbonduro/where2skate/internal/domain"
	"github.com/vbonduro/where2skate/internal/identity"
)

type credentialsRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName,omitempty"`
}

type profileRequest struct {
	DisplayName string `json:"displayName"`
}

type sessionResponse struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expiresAt"`
	User      domain.User `json:"user"`
}

func newSessionResponse(sess *identity.Session) sessionResponse {
	return sessionResponse{Token: sess.Token, ExpiresAt: sess.ExpiresAt, User: sess.User}
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := readJSON(r, &req); err != nil {
		badRequest(w, "invalid request body", s.logger)
		return
	}

	sess, err := s.accounts.SignUp(r.Context(), req.Email, req.Password, req.DisplayName)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newSessionResponse(sess), s.logger)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := readJSON(r, &req); err != nil {
		badRequest(w, "invalid request body", s.logger)
		return
	}

	sess, err := s.accounts.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(sess), s.logger)
}

// handleLogout revokes the bearer token. Logging out without a valid token
// is not an error.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token, ok := bearerToken(r); ok {
		if err := s.accounts.Revoke(r.Context(), token); err != nil {
			s.logger.Debug("logout with unusable token", "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if sess == nil {
		s.writeError(w, identity.ErrInvalidToken)
		return
	}
	writeJSON(w, http.StatusOK, sess.User, s.logger)
}

// handleUpdateMe renames the signed-in user. The bearer token is replaced by
// the one in the response.
func (s *Server) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok {
		s.writeError(w, identity.ErrInvalidToken)
		return
	}

	var req profileRequest
	if err := readJSON(r, &req); err != nil {
		badRequest(w, "invalid request body", s.logger)
		return
	}

	sess, err := s.accounts.UpdateDisplayName(r.Context(), token, req.DisplayName)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(sess), s.logger)
}
