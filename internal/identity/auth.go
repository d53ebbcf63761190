package identity

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// credentialService is the subset of Provider that Auth requires.
type credentialService interface {
	SignUp(ctx context.Context, email, password, displayName string) (*Session, error)
	SignIn(ctx context.Context, email, password string) (*Session, error)
	Verify(ctx context.Context, token string) (*Session, error)
	Revoke(ctx context.Context, token string) error
}

// Auth holds the session of the process. Sign-in, sign-up, sign-out and
// token expiry all change it, and every change is reported to subscribers in
// order. Create one per process and Close it on shutdown.
type Auth struct {
	creds  credentialService
	logger *slog.Logger
	now    func() time.Time

	// notifyMu is held across a state change and its notifications.
	notifyMu sync.Mutex

	mu        sync.Mutex
	current   *Session
	listeners map[uint64]func(*Session)
	nextID    uint64
	expiry    *time.Timer
	closed    bool
}

func NewAuth(creds credentialService, logger *slog.Logger) *Auth {
	return &Auth{
		creds:     creds,
		logger:    logger.With("component", "auth"),
		now:       time.Now,
		listeners: make(map[uint64]func(*Session)),
	}
}

// Current returns the signed-in session. A session whose token has expired
// is reported as absent even before the expiry notification has run.
func (a *Auth) Current() (*Session, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil || a.current.Expired(a.now()) {
		return nil, false
	}
	return a.current, true
}

// Subscription is returned by Subscribe.
type Subscription struct {
	once   sync.Once
	remove func()
}

// Unsubscribe stops further notifications. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(s.remove)
}

// Subscribe calls fn with the current session (nil when signed out) and then
// again on every change. fn runs synchronously and must not call SignIn,
// SignUp or SignOut.
func (a *Auth) Subscribe(fn func(*Session)) *Subscription {
	a.notifyMu.Lock()
	defer a.notifyMu.Unlock()

	a.mu.Lock()
	id := a.nextID
	a.nextID++
	a.listeners[id] = fn
	a.mu.Unlock()

	cur, _ := a.Current()
	fn(cur)

	return &Subscription{remove: func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.listeners, id)
	}}
}

func (a *Auth) SignIn(ctx context.Context, email, password string) (*Session, error) {
	sess, err := a.creds.SignIn(ctx, email, password)
	if err != nil {
		return nil, err
	}
	a.set(sess)
	return sess, nil
}

func (a *Auth) SignUp(ctx context.Context, email, password, displayName string) (*Session, error) {
	sess, err := a.creds.SignUp(ctx, email, password, displayName)
	if err != nil {
		return nil, err
	}
	a.set(sess)
	return sess, nil
}

// Restore adopts a previously issued token as the current session.
func (a *Auth) Restore(ctx context.Context, token string) (*Session, error) {
	sess, err := a.creds.Verify(ctx, token)
	if err != nil {
		return nil, err
	}
	a.set(sess)
	return sess, nil
}

// SignOut clears the session and revokes its token. The session is cleared
// even if revocation fails.
func (a *Auth) SignOut(ctx context.Context) {
	a.mu.Lock()
	sess := a.current
	a.mu.Unlock()
	if sess == nil {
		return
	}

	if err := a.creds.Revoke(ctx, sess.Token); err != nil {
		a.logger.Warn("failed to revoke token on sign out", "uid", sess.User.UID, "error", err)
	}
	// A sign-in that landed during revocation stays.
	a.clearIf(sess)
}

// Close stops expiry tracking and drops every subscriber.
func (a *Auth) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.closed = true
	if a.expiry != nil {
		a.expiry.Stop()
	}
	a.listeners = make(map[uint64]func(*Session))
	a.current = nil
}

func (a *Auth) set(sess *Session) {
	a.update(sess, func(*Session) bool { return true })
}

// clearIf signs out only if old is still the current session.
func (a *Auth) clearIf(old *Session) bool {
	return a.update(nil, func(cur *Session) bool { return cur == old })
}

// update replaces the session with sess when ok accepts the current one. The
// check, the change and the notifications happen under notifyMu.
func (a *Auth) update(sess *Session, ok func(cur *Session) bool) bool {
	a.notifyMu.Lock()
	defer a.notifyMu.Unlock()

	a.mu.Lock()
	if a.closed || !ok(a.current) {
		a.mu.Unlock()
		return false
	}
	a.current = sess
	if a.expiry != nil {
		a.expiry.Stop()
		a.expiry = nil
	}
	if sess != nil && !sess.ExpiresAt.IsZero() {
		a.expiry = time.AfterFunc(sess.ExpiresAt.Sub(a.now()), func() { a.expire(sess) })
	}
	listeners := make([]func(*Session), 0, len(a.listeners))
	for _, fn := range a.listeners {
		listeners = append(listeners, fn)
	}
	a.mu.Unlock()

	if sess != nil {
		a.logger.Info("session changed", "uid", sess.User.UID)
	} else {
		a.logger.Info("session cleared")
	}
	for _, fn := range listeners {
		fn(sess)
	}
	return true
}

// expire clears sess if it is still the current session.
func (a *Auth) expire(sess *Session) {
	if a.clearIf(sess) {
		a.logger.Info("session expired", "uid", sess.User.UID)
	}
}
