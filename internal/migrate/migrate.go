// Package migrate applies embedded SQL migrations on startup.
package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/and161185/pixvault/migrations"
)

// Supported goose dialects. Each maps to a directory of the embedded FS.
const (
	Postgres = "postgres"
	SQLite   = "sqlite3"
)

var dirs = map[string]string{
	Postgres: "postgres",
	SQLite:   "sqlite",
}

// goose keeps its base FS and dialect in package state.
var mu sync.Mutex

// Up runs all pending migrations for dialect against db.
func Up(ctx context.Context, db *sql.DB, dialect string) error {
	dir, ok := dirs[dialect]
	if !ok {
		return fmt.Errorf("unsupported migration dialect %q", dialect)
	}

	mu.Lock()
	defer mu.Unlock()

	goose.SetBaseFS(migrations.FS)
	defer goose.SetBaseFS(nil)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(dialect); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, dir)
}

// UpPostgres opens dsn with the pgx stdlib driver and migrates it.
func UpPostgres(ctx context.Context, dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	return Up(ctx, db, Postgres)
}

// Version reports the applied schema version.
func Version(ctx context.Context, db *sql.DB, dialect string) (int64, error) {
	mu.Lock()
	defer mu.Unlock()
	if err := goose.SetDialect(dialect); err != nil {
		return 0, err
	}
	return goose.GetDBVersionContext(ctx, db)
}
