// Package identity issues and checks email/password credentials and tracks
// the signed-in session of the process.
package identity

import (
	"errors"
	"time"

	"github.com/vbonduro/where2skate/internal/domain"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already in use")
	ErrInvalidToken       = errors.New("invalid session token")
	ErrTokenRevoked       = errors.New("session token revoked")
)

// InvalidInputError reports an email or password that does not meet the
// account rules.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return "invalid " + e.Field + ": " + e.Reason
}

// Session is a signed-in user and the token that proves it.
type Session struct {
	User      domain.User
	Token     string
	ExpiresAt time.Time
}

// Expired reports whether the token is past its expiry at t.
func (s *Session) Expired(t time.Time) bool {
	return !s.ExpiresAt.IsZero() && !t.Before(s.ExpiresAt)
}

// SessionProvider exposes the session writes act on behalf of.
type SessionProvider interface {
	Current() (*Session, bool)
}

// StaticSession provides one fixed session, or none when nil.
type StaticSession struct {
	Session *Session
}

func (s StaticSession) Current() (*Session, bool) {
	return s.Session, s.Session != nil
}
