package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/and161185/pixvault/internal/errs"
	"github.com/and161185/pixvault/internal/model"
	"github.com/and161185/pixvault/internal/repository"
)

// UserRepo implements UserRepository on SQLite.
type UserRepo struct {
	db  *sql.DB
	now func() time.Time
}

var _ repository.UserRepository = (*UserRepo)(nil)

// NewUserRepo constructs a user repository.
func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{db: db, now: time.Now} }

func (r *UserRepo) Create(ctx context.Context, c *model.Credential) error {
	const q = `INSERT INTO users (username, auth_salt, key_salt, auth_secret, created_at) VALUES (?, ?, ?, ?, ?)`
	created := r.now().UTC()
	res, err := r.db.ExecContext(ctx, q, c.Username, c.AuthSalt, c.KeySalt, c.AuthSecret, toUnix(created))
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	c.ID, c.CreatedAt = id, created
	return nil
}

func (r *UserRepo) GetByID(ctx context.Context, id int64) (*model.Credential, error) {
	const q = `SELECT id, username, auth_salt, key_salt, auth_secret, created_at FROM users WHERE id=?`
	return scanCredential(r.db.QueryRowContext(ctx, q, id))
}

func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*model.Credential, error) {
	const q = `SELECT id, username, auth_salt, key_salt, auth_secret, created_at FROM users WHERE username=?`
	return scanCredential(r.db.QueryRowContext(ctx, q, username))
}

func (r *UserRepo) Exists(ctx context.Context, username string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM users WHERE username=?)`
	var n int
	if err := r.db.QueryRowContext(ctx, q, username).Scan(&n); err != nil {
		return false, fmt.Errorf("check user: %w", err)
	}
	return n == 1, nil
}

func scanCredential(row *sql.Row) (*model.Credential, error) {
	var (
		c       model.Credential
		created int64
	)
	if err := row.Scan(&c.ID, &c.Username, &c.AuthSalt, &c.KeySalt, &c.AuthSecret, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("select user: %w", err)
	}
	c.CreatedAt = fromUnix(created)
	return &c, nil
}
