package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements IDMapper using a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

var _ IDMapper = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// A single connection keeps ":memory:" databases alive and
	// serializes writers.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	// Check if schema_version table exists.
	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// MapIDs inserts the unseen keys of mailbox and returns the id of
// every key.
func (s *SQLiteStore) MapIDs(
	ctx context.Context,
	mailbox string,
	keys []string,
) (map[string]string, error) {
	ids := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return ids, nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	insert, err := tx.PreparexContext(ctx,
		"INSERT OR IGNORE INTO ids (mailbox, key) VALUES (?, ?)")
	if err != nil {
		return nil, fmt.Errorf("preparing insert statement: %w", err)
	}
	defer insert.Close()

	lookup, err := tx.PreparexContext(ctx,
		"SELECT id FROM ids WHERE mailbox = ? AND key = ?")
	if err != nil {
		return nil, fmt.Errorf("preparing lookup statement: %w", err)
	}
	defer lookup.Close()

	for _, key := range keys {
		if _, err := insert.ExecContext(ctx, mailbox, key); err != nil {
			return nil, fmt.Errorf("mapping key %s: %w", key, err)
		}
		var id int64
		if err := lookup.GetContext(ctx, &id, mailbox, key); err != nil {
			return nil, fmt.Errorf("reading id of key %s: %w", key, err)
		}
		ids[key] = strconv.FormatInt(id, 10)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing ids: %w", err)
	}
	return ids, nil
}

// Key returns the key mapped to id in mailbox, or ErrNotFound.
func (s *SQLiteStore) Key(ctx context.Context, mailbox, id string) (string, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return "", fmt.Errorf("resolving id %q: %w", id, ErrNotFound)
	}

	var key string
	err = s.db.GetContext(ctx, &key,
		"SELECT key FROM ids WHERE mailbox = ? AND id = ?", mailbox, n)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("resolving id %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("resolving id %s: %w", id, err)
	}
	return key, nil
}

// Forget removes the given keys of mailbox.
func (s *SQLiteStore) Forget(ctx context.Context, mailbox string, keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	query, args, err := sqlx.In("DELETE FROM ids WHERE mailbox = ? AND key IN (?)", mailbox, keys)
	if err != nil {
		return fmt.Errorf("building delete: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("forgetting keys: %w", err)
	}
	return nil
}
