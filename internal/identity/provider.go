package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/coocood/freecache"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gookit/validate"
	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/bcrypt"

	"github.com/vbonduro/where2skate/internal/domain"
	"github.com/vbonduro/where2skate/internal/store"
)

const issuer = "where2skate"

// minRevocationCacheBytes is the smallest cache freecache accepts.
const minRevocationCacheBytes = 512 * 1024

// accountStore is the subset of store.UserStore that Provider requires.
type accountStore interface {
	Create(ctx context.Context, id, email, passwordHash, displayName string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*store.Account, error)
	UpdateDisplayName(ctx context.Context, id, displayName string) error
}

type ProviderConfig struct {
	Secret              []byte
	TokenTTL            time.Duration
	RevocationCacheSize int // bytes
	BcryptCost          int
}

type credentials struct {
	Email    string `validate:"required|email"`
	Password string `validate:"required|min_len:6"`
}

type profile struct {
	DisplayName string `validate:"max_len:64"`
}

type claims struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Provider owns the accounts and the signed session tokens.
type Provider struct {
	accounts accountStore
	secret   []byte
	ttl      time.Duration
	cost     int
	revoked  *freecache.Cache
	now      func() time.Time
	logger   *slog.Logger
}

func NewProvider(accounts accountStore, cfg ProviderConfig, logger *slog.Logger) (*Provider, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("token secret must not be empty")
	}
	if cfg.TokenTTL <= 0 {
		return nil, errors.New("token ttl must be positive")
	}
	cost := cfg.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	size := max(cfg.RevocationCacheSize, minRevocationCacheBytes)

	return &Provider{
		accounts: accounts,
		secret:   cfg.Secret,
		ttl:      cfg.TokenTTL,
		cost:     cost,
		revoked:  freecache.NewCache(size),
		now:      time.Now,
		logger:   logger.With("component", "identity"),
	}, nil
}

func (p *Provider) SignUp(ctx context.Context, email, password, displayName string) (*Session, error) {
	email = strings.TrimSpace(email)
	if err := validateCredentials(email, password); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user, err := p.accounts.Create(ctx, uuid.NewString(), email, string(hash), strings.TrimSpace(displayName))
	if errors.Is(err, store.ErrDuplicateEmail) {
		return nil, ErrEmailTaken
	}
	if err != nil {
		return nil, err
	}

	p.logger.Info("account created", "uid", user.UID)
	return p.issue(*user)
}

func (p *Provider) SignIn(ctx context.Context, email, password string) (*Session, error) {
	email = strings.TrimSpace(email)
	if err := validateCredentials(email, password); err != nil {
		return nil, err
	}

	account, err := p.accounts.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		p.logger.Debug("password mismatch", "uid", account.UID)
		return nil, ErrInvalidCredentials
	}

	p.logger.Info("signed in", "uid", account.UID)
	return p.issue(account.User)
}

// Verify checks a token's signature, expiry and revocation and returns the
// session it stands for.
func (p *Provider) Verify(ctx context.Context, token string) (*Session, error) {
	c, err := p.parse(token)
	if err != nil {
		return nil, err
	}
	if _, err := p.revoked.Get([]byte(c.ID)); err == nil {
		return nil, ErrTokenRevoked
	}

	return &Session{
		User: domain.User{
			UID:         c.Subject,
			Email:       c.Email,
			DisplayName: c.Name,
		},
		Token:     token,
		ExpiresAt: c.ExpiresAt.Time,
	}, nil
}

// Revoke makes token unusable for the rest of its lifetime.
func (p *Provider) Revoke(ctx context.Context, token string) error {
	c, err := p.parse(token)
	if err != nil {
		return err
	}
	ttl := int(c.ExpiresAt.Time.Sub(p.now()).Seconds()) + 1
	if err := p.revoked.Set([]byte(c.ID), []byte{1}, ttl); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	p.logger.Info("token revoked", "uid", c.Subject)
	return nil
}

// UpdateDisplayName renames the account behind token. The token is revoked
// and a session carrying the new name is returned in its place.
func (p *Provider) UpdateDisplayName(ctx context.Context, token, displayName string) (*Session, error) {
	sess, err := p.Verify(ctx, token)
	if err != nil {
		return nil, err
	}

	displayName = strings.TrimSpace(displayName)
	if v := validate.Struct(&profile{DisplayName: displayName}); !v.Validate() {
		return nil, &InvalidInputError{Field: "displayName", Reason: v.Errors.FieldOne("DisplayName")}
	}

	if err := p.accounts.UpdateDisplayName(ctx, sess.User.UID, displayName); err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	if err := p.Revoke(ctx, token); err != nil {
		return nil, err
	}

	user := sess.User
	user.DisplayName = displayName
	p.logger.Info("display name updated", "uid", user.UID)
	return p.issue(user)
}

func (p *Provider) issue(user domain.User) (*Session, error) {
	now := p.now()
	expires := now.Add(p.ttl).Truncate(time.Second)
	c := claims{
		Email: user.Email,
		Name:  user.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        ulid.Make().String(),
			Issuer:    issuer,
			Subject:   user.UID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(p.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}
	return &Session{User: user, Token: token, ExpiresAt: expires}, nil
}

func (p *Provider) parse(token string) (*claims, error) {
	c := &claims{}
	_, err := jwt.ParseWithClaims(token, c, func(*jwt.Token) (any, error) {
		return p.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		p.logger.Debug("token rejected", "error", err)
		return nil, ErrInvalidToken
	}
	return c, nil
}

func validateCredentials(email, password string) error {
	v := validate.Struct(&credentials{Email: email, Password: password})
	if v.Validate() {
		return nil
	}
	if v.Errors.HasField("Email") {
		return &InvalidInputError{Field: "email", Reason: v.Errors.FieldOne("Email")}
	}
	if v.Errors.HasField("Password") {
		return &InvalidInputError{Field: "password", Reason: v.Errors.FieldOne("Password")}
	}
	return &InvalidInputError{Field: "credentials", Reason: v.Errors.One()}
}
