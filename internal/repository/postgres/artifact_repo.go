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

// ArtifactRepo implements ArtifactRepository using PostgreSQL.
type ArtifactRepo struct{ db *DB }

var _ repository.ArtifactRepository = (*ArtifactRepo)(nil)

// NewArtifactRepo constructs an artifact repository.
func NewArtifactRepo(db *DB) *ArtifactRepo { return &ArtifactRepo{db: db} }

const artifactColumns = `id, user_id, vault_path, meta_ct, meta_salt, meta_alg, thumb_ct, thumb_salt, thumb_alg, created_at`

// Create inserts an artifact record.
func (r *ArtifactRepo) Create(ctx context.Context, a *model.Artifact) error {
	const q = `
INSERT INTO artifacts (user_id, vault_path, meta_ct, meta_salt, meta_alg, thumb_ct, thumb_salt, thumb_alg)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id, created_at`
	thumbCT, thumbSalt, thumbAlg := splitThumbnail(a.Thumbnail)
	err := r.db.Pool.QueryRow(ctx, q,
		a.UserID, a.VaultPath,
		a.Metadata.Ciphertext, a.Metadata.Salt, a.Metadata.Algorithm,
		thumbCT, thumbSalt, thumbAlg,
	).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	return nil
}

// GetByID returns the owner's artifact.
func (r *ArtifactRepo) GetByID(ctx context.Context, id, ownerID int64) (*model.Artifact, error) {
	q := `SELECT ` + artifactColumns + ` FROM artifacts WHERE id=$1 AND user_id=$2`
	a, err := scanArtifact(r.db.Pool.QueryRow(ctx, q, id, ownerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select artifact: %w", err)
	}
	return a, nil
}

// ListByUser returns a page of the owner's artifacts, newest first.
func (r *ArtifactRepo) ListByUser(ctx context.Context, ownerID int64, limit, offset int) ([]model.Artifact, error) {
	q := `SELECT ` + artifactColumns + ` FROM artifacts WHERE user_id=$1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`
	rows, err := r.db.Pool.Query(ctx, q, ownerID, limit, offset)
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

// Delete removes the owner's artifact record.
func (r *ArtifactRepo) Delete(ctx context.Context, id, ownerID int64) (bool, error) {
	const q = `DELETE FROM artifacts WHERE id=$1 AND user_id=$2`
	tag, err := r.db.Pool.Exec(ctx, q, id, ownerID)
	if err != nil {
		return false, fmt.Errorf("delete artifact: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func scanArtifact(row pgx.Row) (*model.Artifact, error) {
	var (
		a         model.Artifact
		thumbCT   []byte
		thumbSalt []byte
		thumbAlg  string
	)
	if err := row.Scan(
		&a.ID, &a.UserID, &a.VaultPath,
		&a.Metadata.Ciphertext, &a.Metadata.Salt, &a.Metadata.Algorithm,
		&thumbCT, &thumbSalt, &thumbAlg,
		&a.CreatedAt,
	); err != nil {
		return nil, err
	}
	a.Thumbnail = joinThumbnail(thumbCT, thumbSalt, thumbAlg)
	return &a, nil
}

// An empty thumb_alg marks a record without a thumbnail.
func splitThumbnail(t *model.EncryptedEnvelope) ([]byte, []byte, string) {
	if t == nil {
		return nil, nil, ""
	}
	return t.Ciphertext, t.Salt, t.Algorithm
}

func joinThumbnail(ct, salt []byte, alg string) *model.EncryptedEnvelope {
	if alg == "" {
		return nil
	}
	return &model.EncryptedEnvelope{Ciphertext: ct, Salt: salt, Algorithm: alg}
}
