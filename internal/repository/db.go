package repository

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

// Open connects to the database. driver is "pgx" or "sqlite".
func Open(ctx context.Context, driver, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", driver, err)
	}

	if driver == "sqlite" {
		// SQLite serializes writers; a single connection also keeps :memory: databases shared.
		db.SetMaxOpenConns(1)
		return db, nil
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	return db, nil
}

// Migrate applies the bundled schema. Every statement is idempotent.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// toMillis normalizes timestamps into millisecond precision for storage.
func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

func toMillisPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	v := toMillis(*t)
	return &v
}

func fromMillisPtr(v *int64) *time.Time {
	if v == nil {
		return nil
	}
	t := fromMillis(*v)
	return &t
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return strings.Contains(liteErr.Error(), "UNIQUE constraint failed")
	}
	return false
}
