package web

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/vbonduro/where2skate/internal/identity"
	"github.com/vbonduro/where2skate/internal/repository"
)

const maxBodySize = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to write response", "error", err)
	}
}

// readJSON decodes a size-limited request body into v.
func readJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// writeError maps err to a status code and writes it as JSON. Unexpected
// errors are logged and reported without detail.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var (
		authErr   *repository.AuthorizationError
		valErr    *repository.ValidationError
		remoteErr *repository.RemoteServiceError
		inputErr  *identity.InvalidInputError
	)

	switch {
	case errors.As(err, &authErr):
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: err.Error()}, s.logger)
	case errors.As(err, &valErr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Field: valErr.Field}, s.logger)
	case errors.As(err, &inputErr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Field: inputErr.Field}, s.logger)
	case errors.As(err, &remoteErr):
		s.logger.Error("store failure", "error", err)
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "document store unavailable"}, s.logger)
	case errors.Is(err, identity.ErrInvalidCredentials),
		errors.Is(err, identity.ErrInvalidToken),
		errors.Is(err, identity.ErrTokenRevoked):
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: err.Error()}, s.logger)
	case errors.Is(err, identity.ErrEmailTaken):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()}, s.logger)
	default:
		s.logger.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"}, s.logger)
	}
}

func badRequest(w http.ResponseWriter, msg string, logger *slog.Logger) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg}, logger)
}

// bearerToken returns the token of an "Authorization: Bearer" header.
func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// session verifies the request's bearer token. A request without a token has
// no session and no error.
func (s *Server) session(r *http.Request) (*identity.Session, error) {
	token, ok := bearerToken(r)
	if !ok {
		return nil, nil
	}
	return s.accounts.Verify(r.Context(), token)
}

// repoFor returns a repository acting for the request's session.
func (s *Server) repoFor(r *http.Request) (*repository.SkateparkRepository, error) {
	sess, err := s.session(r)
	if err != nil {
		return nil, err
	}
	return s.repo.WithSessions(identity.StaticSession{Session: sess}), nil
}

// closeWithLog closes c and logs any error, using label to identify the resource.
func closeWithLog(c io.Closer, label string, logger *slog.Logger) {
	if err := c.Close(); err != nil {
		logger.Error("failed to close resource", "label", label, "error", err)
	}
}
