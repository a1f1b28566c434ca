// Package sqlite contains SQLite implementations of repository interfaces,
// for single-node deployments that need state to survive restarts.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/AlAfiz/starked-education/internal/migrate"
	"github.com/AlAfiz/starked-education/internal/model"
)

// DB wraps the database handle shared by the repositories.
type DB struct{ SQL *sql.DB }

// Open opens (creating if needed) the database at path and applies
// migrations. ":memory:" gives a private in-memory database.
func Open(ctx context.Context, path string) (*DB, error) {
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer; also keeps a :memory: database alive on a single connection
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := migrate.UpSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return &DB{SQL: db}, nil
}

// Close closes the handle.
func (db *DB) Close() { _ = db.SQL.Close() }

// Times are stored as UTC unix nanoseconds.
func toNanos(t time.Time) int64 { return t.UTC().UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func marshalPayload(p model.Payload) (sql.NullString, error) {
	if p == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalPayload(s sql.NullString) (model.Payload, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var p model.Payload
	if err := json.Unmarshal([]byte(s.String), &p); err != nil {
		return nil, err
	}
	return p, nil
}

type scanner interface {
	Scan(dest ...any) error
}
