package migrate

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func TestUp_SQLite(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "m.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	ctx := context.Background()

	require.NoError(t, Up(ctx, db, SQLite))
	// idempotent
	require.NoError(t, Up(ctx, db, SQLite))

	v, err := Version(ctx, db, SQLite)
	require.NoError(t, err)
	require.EqualValues(t, 3, v)

	for _, table := range []string{"users", "artifacts", "auth_limiter"} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		require.NoError(t, err, table)
	}
}

func TestUp_UnknownDialect(t *testing.T) {
	require.Error(t, Up(context.Background(), nil, "mssql"))
}
