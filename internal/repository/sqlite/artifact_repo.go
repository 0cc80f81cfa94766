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

// ArtifactRepo implements ArtifactRepository on SQLite.
type ArtifactRepo struct {
	db  *sql.DB
	now func() time.Time
}

var _ repository.ArtifactRepository = (*ArtifactRepo)(nil)

// NewArtifactRepo constructs an artifact repository.
func NewArtifactRepo(db *sql.DB) *ArtifactRepo { return &ArtifactRepo{db: db, now: time.Now} }

const artifactColumns = `id, user_id, vault_path, meta_ct, meta_salt, meta_alg, thumb_ct, thumb_salt, thumb_alg, created_at`

func (r *ArtifactRepo) Create(ctx context.Context, a *model.Artifact) error {
	const q = `
INSERT INTO artifacts (user_id, vault_path, meta_ct, meta_salt, meta_alg, thumb_ct, thumb_salt, thumb_alg, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	var thumbCT, thumbSalt []byte
	var thumbAlg string
	if a.Thumbnail != nil {
		thumbCT, thumbSalt, thumbAlg = a.Thumbnail.Ciphertext, a.Thumbnail.Salt, a.Thumbnail.Algorithm
	}
	created := r.now().UTC()
	res, err := r.db.ExecContext(ctx, q,
		a.UserID, a.VaultPath,
		a.Metadata.Ciphertext, a.Metadata.Salt, a.Metadata.Algorithm,
		thumbCT, thumbSalt, thumbAlg,
		toUnix(created),
	)
	if err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	a.ID, a.CreatedAt = id, created
	return nil
}

func (r *ArtifactRepo) GetByID(ctx context.Context, id, ownerID int64) (*model.Artifact, error) {
	q := `SELECT ` + artifactColumns + ` FROM artifacts WHERE id=? AND user_id=?`
	a, err := scanArtifact(r.db.QueryRowContext(ctx, q, id, ownerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select artifact: %w", err)
	}
	return a, nil
}

func (r *ArtifactRepo) ListByUser(ctx context.Context, ownerID int64, limit, offset int) ([]model.Artifact, error) {
	q := `SELECT ` + artifactColumns + ` FROM artifacts WHERE user_id=? ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, q, ownerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var out []model.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *ArtifactRepo) Delete(ctx context.Context, id, ownerID int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM artifacts WHERE id=? AND user_id=?`, id, ownerID)
	if err != nil {
		return false, fmt.Errorf("delete artifact: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete artifact: %w", err)
	}
	return n > 0, nil
}

type scanner interface{ Scan(dest ...any) error }

func scanArtifact(row scanner) (*model.Artifact, error) {
	var (
		a         model.Artifact
		thumbCT   []byte
		thumbSalt []byte
		thumbAlg  string
		created   int64
	)
	if err := row.Scan(
		&a.ID, &a.UserID, &a.VaultPath,
		&a.Metadata.Ciphertext, &a.Metadata.Salt, &a.Metadata.Algorithm,
		&thumbCT, &thumbSalt, &thumbAlg,
		&created,
	); err != nil {
		return nil, err
	}
	a.CreatedAt = fromUnix(created)
	if thumbAlg != "" {
		a.Thumbnail = &model.EncryptedEnvelope{Ciphertext: thumbCT, Salt: thumbSalt, Algorithm: thumbAlg}
	}
	return &a, nil
}
