package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements TranslationStore using a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// A single connection keeps writes serialized and makes ":memory:"
	// databases (where every connection is a separate database) behave.
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

// GetMany retrieves cached translations for the given ids in a single
// query. Ids without a cached entry are simply absent from the result.
func (s *SQLiteStore) GetMany(
	ctx context.Context, ids []string,
) (map[string]string, error) {
	result := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	query, args, err := sqlx.In(
		"SELECT message_id, translated_text FROM translations WHERE message_id IN (?)",
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("building translation lookup: %w", err)
	}

	rows, err := s.db.QueryxContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("querying translations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, text string
		if err := rows.Scan(&id, &text); err != nil {
			return nil, fmt.Errorf("scanning translation row: %w", err)
		}
		result[id] = text
	}

	return result, rows.Err()
}

// Upsert inserts or replaces the translation for one message id.
func (s *SQLiteStore) Upsert(ctx context.Context, id, text string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO translations (message_id, translated_text, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(message_id) DO UPDATE SET
			translated_text = excluded.translated_text,
			updated_at = excluded.updated_at`,
		id, text, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upserting translation %s: %w", id, err)
	}
	return nil
}

// Evict removes cached translations for the given ids.
func (s *SQLiteStore) Evict(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.TrimRight(
		strings.Repeat("?,", len(ids)), ",",
	)
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	_, err := s.db.ExecContext(ctx,
		"DELETE FROM translations WHERE message_id IN ("+placeholders+")",
		args...,
	)
	if err != nil {
		return fmt.Errorf("evicting translations: %w", err)
	}
	return nil
}
