package viewmodel

import (
	"context"
	"log/slog"
	"sync"

	"github.com/vbonduro/where2skate/internal/domain"
	"github.com/vbonduro/where2skate/internal/identity"
)

type authService interface {
	Subscribe(fn func(*identity.Session)) *identity.Subscription
	SignIn(ctx context.Context, email, password string) (*identity.Session, error)
	SignUp(ctx context.Context, email, password, displayName string) (*identity.Session, error)
	SignOut(ctx context.Context)
}

// AuthHolder mirrors the signed-in user of an identity.Auth and reports the
// outcome of login and registration attempts.
type AuthHolder struct {
	auth   authService
	logger *slog.Logger

	CurrentUser *Observable[*domain.User]
	Loading     *Observable[bool]
	Error       *Observable[string]

	sub       *identity.Subscription
	closeOnce sync.Once
}

func NewAuthHolder(auth authService, logger *slog.Logger) *AuthHolder {
	h := &AuthHolder{
		auth:        auth,
		logger:      logger.With("component", "auth_holder"),
		CurrentUser: NewObservable[*domain.User](nil),
		Loading:     NewObservable(false),
		Error:       NewObservable(""),
	}
	h.sub = auth.Subscribe(func(s *identity.Session) {
		if s == nil {
			h.CurrentUser.set(nil)
			return
		}
		user := s.User
		h.CurrentUser.set(&user)
	})
	return h
}

func (h *AuthHolder) Login(ctx context.Context, email, password string) error {
	return h.attempt("login", func() error {
		_, err := h.auth.SignIn(ctx, email, password)
		return err
	})
}

func (h *AuthHolder) Register(ctx context.Context, email, password, displayName string) error {
	return h.attempt("register", func() error {
		_, err := h.auth.SignUp(ctx, email, password, displayName)
		return err
	})
}

func (h *AuthHolder) Logout(ctx context.Context) {
	h.auth.SignOut(ctx)
	h.Error.set("")
}

func (h *AuthHolder) attempt(op string, fn func() error) error {
	h.Loading.set(true)
	err := fn()
	if err != nil {
		h.logger.Warn("authentication failed", "op", op, "error", err)
		h.Error.set(err.Error())
	} else {
		h.Error.set("")
	}
	h.Loading.set(false)
	return err
}

// Close stops following the session. CurrentUser keeps its last value.
func (h *AuthHolder) Close() {
	h.closeOnce.Do(h.sub.Unsubscribe)
}
