package limiter

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// SQLite is the limiter used with the local SQLite metadata store. Timestamps
// are unix nanoseconds.
type SQLite struct {
	db     *sql.DB
	policy Policy
	now    func() time.Time
}

var _ Limiter = (*SQLite)(nil)

// NewSQLite constructs a SQLite-backed limiter.
func NewSQLite(db *sql.DB, p Policy) *SQLite {
	return &SQLite{db: db, policy: p, now: time.Now}
}

func (l *SQLite) Allow(ctx context.Context, username string, source []byte) (bool, time.Duration, error) {
	const q = `SELECT blocked_until FROM auth_limiter WHERE username=? AND source_hash=?`
	var blockedUntil int64
	err := l.db.QueryRowContext(ctx, q, username, source).Scan(&blockedUntil)
	switch {
	case err == nil:
		if wait := time.Unix(0, blockedUntil).Sub(l.now()); wait > 0 {
			return false, wait, nil
		}
		return true, 0, nil
	case errors.Is(err, sql.ErrNoRows):
		return true, 0, nil
	default:
		return false, 0, err
	}
}

func (l *SQLite) Success(ctx context.Context, username string, source []byte) error {
	const q = `
INSERT INTO auth_limiter (username, source_hash, fail_count, blocked_until, updated_at)
VALUES (?, ?, 0, 0, ?)
ON CONFLICT (username, source_hash)
DO UPDATE SET fail_count=0, blocked_until=0, updated_at=excluded.updated_at`
	_, err := l.db.ExecContext(ctx, q, username, source, l.now().UnixNano())
	return err
}

func (l *SQLite) Failure(ctx context.Context, username string, source []byte) (bool, time.Duration, error) {
	const q = `
INSERT INTO auth_limiter (username, source_hash, fail_count, blocked_until, updated_at)
VALUES (?, ?, 1, 0, ?)
ON CONFLICT (username, source_hash) DO UPDATE
SET
  fail_count = CASE WHEN excluded.updated_at - auth_limiter.updated_at > ? THEN 1 ELSE auth_limiter.fail_count + 1 END,
  updated_at = excluded.updated_at
RETURNING fail_count`
	now := l.now()
	var fails int
	if err := l.db.QueryRowContext(ctx, q, username, source, now.UnixNano(), l.policy.Window.Nanoseconds()).Scan(&fails); err != nil {
		return false, 0, err
	}
	if fails < l.policy.MaxFailures {
		return false, 0, nil
	}
	const upd = `UPDATE auth_limiter SET blocked_until=? WHERE username=? AND source_hash=?`
	if _, err := l.db.ExecContext(ctx, upd, now.Add(l.policy.BlockFor).UnixNano(), username, source); err != nil {
		return false, 0, err
	}
	return true, l.policy.BlockFor, nil
}
