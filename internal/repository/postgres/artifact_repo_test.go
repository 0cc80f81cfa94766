package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/and161185/pixvault/internal/errs"
	"github.com/and161185/pixvault/internal/model"
)

var artifactCols = []string{"id", "user_id", "vault_path", "meta_ct", "meta_salt", "meta_alg", "thumb_ct", "thumb_salt", "thumb_alg", "created_at"}

func TestArtifactRepo_Create(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewArtifactRepo(db)
	ctx := context.Background()
	now := time.Now()

	a := &model.Artifact{
		UserID:    7,
		VaultPath: "7/image_42.png",
		Metadata:  model.EncryptedEnvelope{Ciphertext: []byte("ct"), Salt: []byte("salt"), Algorithm: model.AlgAES256GCM},
	}
	mock.ExpectQuery(`INSERT INTO artifacts \(user_id, vault_path, meta_ct, meta_salt, meta_alg, thumb_ct, thumb_salt, thumb_alg\) VALUES \(\$1, \$2, \$3, \$4, \$5, \$6, \$7, \$8\) RETURNING id, created_at`).
		WithArgs(int64(7), "7/image_42.png", []byte("ct"), []byte("salt"), model.AlgAES256GCM, []byte(nil), []byte(nil), "").
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(int64(3), now))
	require.NoError(t, r.Create(ctx, a))
	require.Equal(t, int64(3), a.ID)

	withThumb := &model.Artifact{
		UserID:    7,
		VaultPath: "7/b.png",
		Metadata:  a.Metadata,
		Thumbnail: &model.EncryptedEnvelope{Ciphertext: []byte("t"), Salt: []byte("ts"), Algorithm: model.AlgChaCha20Poly1305},
	}
	mock.ExpectQuery(`INSERT INTO artifacts`).
		WithArgs(int64(7), "7/b.png", []byte("ct"), []byte("salt"), model.AlgAES256GCM, []byte("t"), []byte("ts"), model.AlgChaCha20Poly1305).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(int64(4), now))
	require.NoError(t, r.Create(ctx, withThumb))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestArtifactRepo_GetByID(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewArtifactRepo(db)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT id, user_id, vault_path, .* FROM artifacts WHERE id=\$1 AND user_id=\$2`).
		WithArgs(int64(3), int64(7)).
		WillReturnRows(pgxmock.NewRows(artifactCols).
			AddRow(int64(3), int64(7), "7/x.png", []byte("ct"), []byte("s"), model.AlgAES256GCM, []byte("t"), []byte("ts"), model.AlgAES256GCM, time.Now()))
	a, err := r.GetByID(ctx, 3, 7)
	require.NoError(t, err)
	require.Equal(t, "7/x.png", a.VaultPath)
	require.Equal(t, []byte("ct"), a.Metadata.Ciphertext)
	require.NotNil(t, a.Thumbnail)
	require.Equal(t, []byte("t"), a.Thumbnail.Ciphertext)

	mock.ExpectQuery(`FROM artifacts WHERE id=\$1 AND user_id=\$2`).
		WithArgs(int64(3), int64(8)).
		WillReturnError(pgx.ErrNoRows)
	_, err = r.GetByID(ctx, 3, 8)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestArtifactRepo_ListByUser(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewArtifactRepo(db)
	ctx := context.Background()
	now := time.Now()

	mock.ExpectQuery(`FROM artifacts WHERE user_id=\$1 ORDER BY created_at DESC, id DESC LIMIT \$2 OFFSET \$3`).
		WithArgs(int64(7), 10, 0).
		WillReturnRows(pgxmock.NewRows(artifactCols).
			AddRow(int64(2), int64(7), "7/b.png", []byte("c2"), []byte("s2"), model.AlgAES256GCM, []byte{}, []byte{}, "", now).
			AddRow(int64(1), int64(7), "7/a.png", []byte("c1"), []byte("s1"), model.AlgAES256GCM, []byte{}, []byte{}, "", now.Add(-time.Minute)))
	list, err := r.ListByUser(ctx, 7, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, int64(2), list[0].ID)
	require.Nil(t, list[0].Thumbnail)

	mock.ExpectQuery(`FROM artifacts WHERE user_id=\$1`).
		WithArgs(int64(9), 10, 0).
		WillReturnRows(pgxmock.NewRows(artifactCols))
	list, err = r.ListByUser(ctx, 9, 10, 0)
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestArtifactRepo_Delete(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewArtifactRepo(db)
	ctx := context.Background()

	mock.ExpectExec(`DELETE FROM artifacts WHERE id=\$1 AND user_id=\$2`).
		WithArgs(int64(3), int64(7)).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	ok, err := r.Delete(ctx, 3, 7)
	require.NoError(t, err)
	require.True(t, ok)

	mock.ExpectExec(`DELETE FROM artifacts WHERE id=\$1 AND user_id=\$2`).
		WithArgs(int64(3), int64(7)).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	ok, err = r.Delete(ctx, 3, 7)
	require.NoError(t, err)
	require.False(t, ok)
}
