package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/and161185/pixvault/internal/errs"
	"github.com/and161185/pixvault/internal/model"
	"github.com/and161185/pixvault/internal/repository"
)

// UserRepo implements UserRepository using PostgreSQL.
type UserRepo struct{ db *DB }

var _ repository.UserRepository = (*UserRepo)(nil)

// NewUserRepo constructs a user repository.
func NewUserRepo(db *DB) *UserRepo { return &UserRepo{db: db} }

// Create inserts a new user row.
func (r *UserRepo) Create(ctx context.Context, c *model.Credential) error {
	const q = `
INSERT INTO users (username, auth_salt, key_salt, auth_secret)
VALUES ($1, $2, $3, $4)
RETURNING id, created_at`
	err := r.db.Pool.QueryRow(ctx, q, c.Username, c.AuthSalt, c.KeySalt, c.AuthSecret).Scan(&c.ID, &c.CreatedAt)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetByID selects a user by ID.
func (r *UserRepo) GetByID(ctx context.Context, id int64) (*model.Credential, error) {
	const q = `
SELECT id, username, auth_salt, key_salt, auth_secret, created_at
FROM users WHERE id=$1`
	return scanCredential(r.db.Pool.QueryRow(ctx, q, id))
}

// GetByUsername selects a user by username.
func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*model.Credential, error) {
	const q = `
SELECT id, username, auth_salt, key_salt, auth_secret, created_at
FROM users WHERE username=$1`
	return scanCredential(r.db.Pool.QueryRow(ctx, q, username))
}

// Exists reports whether a username is taken.
func (r *UserRepo) Exists(ctx context.Context, username string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM users WHERE username=$1)`
	var ok bool
	if err := r.db.Pool.QueryRow(ctx, q, username).Scan(&ok); err != nil {
		return false, fmt.Errorf("check user: %w", err)
	}
	return ok, nil
}

func scanCredential(row pgx.Row) (*model.Credential, error) {
	var c model.Credential
	if err := row.Scan(&c.ID, &c.Username, &c.AuthSalt, &c.KeySalt, &c.AuthSecret, &c.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("select user: %w", err)
	}
	return &c, nil
}
