package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/cketlive/scoring/internal/platform/migrate"
)

const sqliteFindSQL = `SELECT doc FROM documents WHERE collection = ? AND id = ?`

const sqliteInsertSQL = `
INSERT INTO documents (collection, id, doc, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)
`

const sqliteUpdateSQL = `
UPDATE documents SET doc = ?, updated_at = ?
WHERE collection = ? AND id = ?
`

// SQLite keeps documents in a single-file database. One connection is
// used so that the read-merge-write of UpsertFields is serialised.
type SQLite struct {
	DB *sql.DB
}

// OpenSQLite opens path and applies the embedded migrations.
func OpenSQLite(ctx context.Context, path string, log *slog.Logger) (*SQLite, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	if path == ":memory:" {
		dsn = path
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := migrate.SQLite(ctx, db, log); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLite{DB: db}, nil
}

func (s *SQLite) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

func (s *SQLite) Find(ctx context.Context, collection, id string) (json.RawMessage, error) {
	var doc string
	err := s.DB.QueryRowContext(ctx, sqliteFindSQL, collection, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeErr("find", collection, id, err)
	}
	return json.RawMessage(doc), nil
}

func (s *SQLite) UpsertFields(ctx context.Context, collection, id string, fields Fields) error {
	if err := checkFields(fields); err != nil {
		return err
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("upsert", collection, id, err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, sqliteFindSQL, collection, id).Scan(&current)
	exists := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return storeErr("upsert", collection, id, err)
	}
	merged, err := MergeFields(json.RawMessage(current), fields)
	if err != nil {
		return err
	}

	now := time.Now().UTC().UnixMilli()
	if exists {
		_, err = tx.ExecContext(ctx, sqliteUpdateSQL, string(merged), now, collection, id)
	} else {
		_, err = tx.ExecContext(ctx, sqliteInsertSQL, collection, id, string(merged), now, now)
	}
	if err != nil {
		return storeErr("upsert", collection, id, err)
	}
	if err := tx.Commit(); err != nil {
		return storeErr("upsert", collection, id, err)
	}
	return nil
}

func (s *SQLite) Replace(ctx context.Context, collection, id string, doc json.RawMessage) error {
	if err := checkObject(doc); err != nil {
		return err
	}
	res, err := s.DB.ExecContext(ctx, sqliteUpdateSQL, string(doc), time.Now().UTC().UnixMilli(), collection, id)
	if err != nil {
		return storeErr("replace", collection, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("replace", collection, id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) Insert(ctx context.Context, collection, id string, doc json.RawMessage) error {
	if err := checkObject(doc); err != nil {
		return err
	}
	now := time.Now().UTC().UnixMilli()
	if _, err := s.DB.ExecContext(ctx, sqliteInsertSQL, collection, id, string(doc), now, now); err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return storeErr("insert", collection, id, err)
	}
	return nil
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return false
}
