package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/vbonduro/where2skate/internal/domain"
)

var (
	ErrDuplicateEmail = errors.New("email already registered")
	ErrUserNotFound   = errors.New("user not found")
)

// Account is a user together with its password hash.
type Account struct {
	domain.User
	PasswordHash string
}

type UserStore struct {
	db *sql.DB
}

func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

func (s *UserStore) Create(ctx context.Context, id, email, passwordHash, displayName string) (*domain.User, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, display_name) VALUES (?, ?, ?, ?)
	`, id, email, passwordHash, displayName)
	if err != nil {
		var sqliteErr *sqlite.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	account, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, fmt.Errorf("user %s not found after insert", id)
	}
	return &account.User, nil
}

func (s *UserStore) GetByID(ctx context.Context, id string) (*Account, error) {
	return s.getOne(ctx, `
		SELECT id, email, password_hash, display_name, created_at FROM users WHERE id = ?
	`, id)
}

// GetByEmail matches email case-insensitively.
func (s *UserStore) GetByEmail(ctx context.Context, email string) (*Account, error) {
	return s.getOne(ctx, `
		SELECT id, email, password_hash, display_name, created_at FROM users WHERE email = ?
	`, email)
}

func (s *UserStore) getOne(ctx context.Context, query string, arg any) (*Account, error) {
	a := &Account{}
	err := s.db.QueryRowContext(ctx, query, arg).
		Scan(&a.UID, &a.Email, &a.PasswordHash, &a.DisplayName, &a.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return a, nil
}

func (s *UserStore) UpdateDisplayName(ctx context.Context, id, displayName string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users SET display_name = ? WHERE id = ?
	`, displayName, id)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrUserNotFound
	}

	return nil
}
