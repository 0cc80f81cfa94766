package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/and161185/pixvault/internal/errs"
	"github.com/and161185/pixvault/internal/model"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "pixvault.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func createUser(t *testing.T, r *UserRepo, name string) *model.Credential {
	t.Helper()
	c := &model.Credential{
		Username:   name,
		AuthSalt:   []byte("auth-salt"),
		KeySalt:    []byte("key-salt"),
		AuthSecret: []byte("secret"),
	}
	require.NoError(t, r.Create(context.Background(), c))
	return c
}

func TestOpen_PathWithURIChars(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a?b#c 100%.db")
	db, err := Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = os.Stat(path)
	require.NoError(t, err)

	var fk, busy int
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	require.NoError(t, db.QueryRow("PRAGMA busy_timeout").Scan(&busy))
	assert.Equal(t, 1, fk)
	assert.Equal(t, 5000, busy)
}

func TestUserRepo(t *testing.T) {
	db := setupDB(t)
	r := NewUserRepo(db)
	ctx := context.Background()

	c := createUser(t, r, "alice")
	assert.NotZero(t, c.ID)
	assert.False(t, c.CreatedAt.IsZero())

	err := r.Create(ctx, &model.Credential{Username: "alice", AuthSalt: []byte("x"), KeySalt: []byte("y"), AuthSecret: []byte("z")})
	require.ErrorIs(t, err, errs.ErrAlreadyExists)

	got, err := r.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)
	assert.Equal(t, []byte("key-salt"), got.KeySalt)
	assert.Equal(t, []byte("secret"), got.AuthSecret)

	got, err = r.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)

	_, err = r.GetByUsername(ctx, "bob")
	require.ErrorIs(t, err, errs.ErrNotFound)
	_, err = r.GetByID(ctx, 999)
	require.ErrorIs(t, err, errs.ErrNotFound)

	ok, err := r.Exists(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = r.Exists(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestArtifactRepo(t *testing.T) {
	db := setupDB(t)
	users := NewUserRepo(db)
	r := NewArtifactRepo(db)
	ctx := context.Background()

	owner := createUser(t, users, "alice")
	other := createUser(t, users, "mallory")

	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	var ids []int64
	for i, p := range []string{"a.png", "b.png", "c.png"} {
		r.now = func() time.Time { return base.Add(time.Duration(i) * time.Minute) }
		a := &model.Artifact{
			UserID:    owner.ID,
			VaultPath: "1/" + p,
			Metadata:  model.EncryptedEnvelope{Ciphertext: []byte(p), Salt: []byte("s"), Algorithm: model.AlgAES256GCM},
		}
		if p == "b.png" {
			a.Thumbnail = &model.EncryptedEnvelope{Ciphertext: []byte("thumb"), Salt: []byte("ts"), Algorithm: model.AlgChaCha20Poly1305}
		}
		require.NoError(t, r.Create(ctx, a))
		ids = append(ids, a.ID)
	}

	list, err := r.ListByUser(ctx, owner.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "1/c.png", list[0].VaultPath)
	assert.Equal(t, "1/a.png", list[2].VaultPath)
	assert.Equal(t, base.Add(2*time.Minute), list[0].CreatedAt)

	page, err := r.ListByUser(ctx, owner.ID, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "1/b.png", page[0].VaultPath)
	require.NotNil(t, page[0].Thumbnail)
	assert.Equal(t, []byte("thumb"), page[0].Thumbnail.Ciphertext)

	none, err := r.ListByUser(ctx, other.ID, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, none)

	got, err := r.GetByID(ctx, ids[0], owner.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("a.png"), got.Metadata.Ciphertext)
	assert.Nil(t, got.Thumbnail)

	_, err = r.GetByID(ctx, ids[0], other.ID)
	require.ErrorIs(t, err, errs.ErrNotFound)

	ok, err := r.Delete(ctx, ids[0], other.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = r.Delete(ctx, ids[0], owner.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.Delete(ctx, ids[0], owner.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}
