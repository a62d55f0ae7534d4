// Package cache persists directory-sync work lists in SQLite so an
// interrupted run can pick up where it stopped. Four caches exist per
// (environment, project): upload and download request queues, and their
// delete counterparts. Each sync root gets its own table; the table is
// dropped when the run completes cleanly, so a table existing at startup
// means work remains from a prior run.
package cache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".
)

// Kind names the four cache databases.
type Kind string

const (
	UploadRequest   Kind = "upload-request-cache.db"
	DownloadRequest Kind = "download-request-cache.db"
	// UploadDelete keeps its historical file name for compatibility with
	// caches written by older clients.
	UploadDelete   Kind = "update-delete-cache.db"
	DownloadDelete Kind = "download-delete-cache.db"
)

// Operational cache errors. Any of these aborts the whole directory
// operation: continuing with inconsistent bookkeeping would break the
// resume invariants.
var (
	ErrConnection    = errors.New("cache: connection failed")
	ErrCreation      = errors.New("cache: could not create table")
	ErrExistence     = errors.New("cache: could not inspect tables")
	ErrDuplicateItem = errors.New("cache: duplicate item, delete cache and try again")
	ErrDestroy       = errors.New("cache: could not drop table")
)

// Item is one row of pending work.
type Item struct {
	ResourcePath string

	// IntegrityReference is the etag or mtime reference recorded when
	// the work was planned; empty means none.
	IntegrityReference string
}

// Cache is one open cache database.
type Cache struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the cache database of the given kind
// in dir.
func Open(dir string, kind Kind, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}

	path := filepath.Join(dir, string(kind))

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %v", ErrConnection, path, err)
	}

	// One writer at a time keeps transactions serialized.
	db.SetMaxOpenConns(1)

	ctx := context.Background()

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: %s: %v", ErrConnection, pragma, err)
		}
	}

	if _, err := db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS cache_keys (
			table_name TEXT NOT NULL PRIMARY KEY,
			display_name TEXT NOT NULL,
			key_path TEXT NOT NULL
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: creating key index: %v", ErrCreation, err)
	}

	return &Cache{db: db, logger: logger}, nil
}

// Close releases the database handle.
func (c *Cache) Close() error {
	return c.db.Close()
}

// tableID derives the SQL table name for a sync root. Hashing the
// normalized absolute path keeps two roots with the same basename from
// colliding; the basename is kept in cache_keys for display.
func tableID(key string) string {
	abs, err := filepath.Abs(filepath.Clean(key))
	if err != nil {
		abs = filepath.Clean(key)
	}

	sum := sha256.Sum256([]byte(abs))

	return "d" + hex.EncodeToString(sum[:8])
}

// Create ensures the work table for key exists and is registered.
func (c *Cache) Create(ctx context.Context, key string) error {
	table := tableID(key)

	if _, err := c.db.ExecContext(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %q (
			resource_path TEXT NOT NULL UNIQUE,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			integrity_reference TEXT
		)`, table)); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCreation, key, err)
	}

	if _, err := c.db.ExecContext(ctx,
		`INSERT INTO cache_keys (table_name, display_name, key_path) VALUES (?, ?, ?)
			ON CONFLICT(table_name) DO NOTHING`,
		table, filepath.Base(key), key); err != nil {
		return fmt.Errorf("%w: registering %s: %v", ErrCreation, key, err)
	}

	return nil
}

// Exists reports whether the work table for key is present, which means
// a prior run left unfinished work.
func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	var name string

	err := c.db.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`,
		tableID(key)).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrExistence, err)
	}

	return true, nil
}

// AddMany bulk-inserts pending work in one transaction. A duplicate
// resource path is a hard error: it means the planner and the cache
// disagree, and the cache must be deleted before retrying.
func (c *Cache) AddMany(ctx context.Context, key string, items []Item) error {
	table := tableID(key)

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrConnection, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT INTO %q (resource_path, integrity_reference) VALUES (?, ?)`, table))
	if err != nil {
		return fmt.Errorf("%w: prepare insert: %v", ErrCreation, err)
	}
	defer stmt.Close()

	for _, item := range items {
		ref := sql.NullString{String: item.IntegrityReference, Valid: item.IntegrityReference != ""}

		if _, err := stmt.ExecContext(ctx, item.ResourcePath, ref); err != nil {
			if strings.Contains(err.Error(), "UNIQUE constraint failed") {
				return fmt.Errorf("%w: %s", ErrDuplicateItem, item.ResourcePath)
			}

			return fmt.Errorf("cache: inserting %s: %w", item.ResourcePath, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrConnection, err)
	}

	return nil
}

// Remove deletes one completed row.
func (c *Cache) Remove(ctx context.Context, key, resourcePath string) error {
	if _, err := c.db.ExecContext(ctx, fmt.Sprintf(
		`DELETE FROM %q WHERE resource_path = ?`, tableID(key)), resourcePath); err != nil {
		return fmt.Errorf("cache: removing %s: %w", resourcePath, err)
	}

	return nil
}

// Read returns all pending rows for key, in insertion order.
func (c *Cache) Read(ctx context.Context, key string) ([]Item, error) {
	rows, err := c.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT resource_path, integrity_reference FROM %q ORDER BY rowid`, tableID(key)))
	if err != nil {
		return nil, fmt.Errorf("cache: reading %s: %w", key, err)
	}
	defer rows.Close()

	var items []Item

	for rows.Next() {
		var (
			item Item
			ref  sql.NullString
		)

		if err := rows.Scan(&item.ResourcePath, &ref); err != nil {
			return nil, fmt.Errorf("cache: scanning row: %w", err)
		}

		item.IntegrityReference = ref.String
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cache: reading %s: %w", key, err)
	}

	return items, nil
}

// Destroy drops the work table for key.
func (c *Cache) Destroy(ctx context.Context, key string) error {
	table := tableID(key)

	if _, err := c.db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %q`, table)); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDestroy, key, err)
	}

	if _, err := c.db.ExecContext(ctx, `DELETE FROM cache_keys WHERE table_name = ?`, table); err != nil {
		return fmt.Errorf("%w: unregistering %s: %v", ErrDestroy, key, err)
	}

	return nil
}

// TableInfo summarizes one pending work table for cache inspection.
type TableInfo struct {
	DisplayName string
	KeyPath     string
	Count       int64
	OldestAt    string
	NewestAt    string
}

// Overview lists every pending work table with row counts and creation
// time bounds.
func (c *Cache) Overview(ctx context.Context) ([]TableInfo, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT k.table_name, k.display_name, k.key_path
			FROM cache_keys k
			JOIN sqlite_master m ON m.name = k.table_name AND m.type = 'table'
			ORDER BY k.display_name`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExistence, err)
	}
	defer rows.Close()

	type entry struct {
		table string
		info  TableInfo
	}

	var entries []entry

	for rows.Next() {
		var e entry
		if err := rows.Scan(&e.table, &e.info.DisplayName, &e.info.KeyPath); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrExistence, err)
		}

		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExistence, err)
	}

	infos := make([]TableInfo, 0, len(entries))

	for _, e := range entries {
		var (
			oldest, newest sql.NullString
			count          int64
		)

		err := c.db.QueryRowContext(ctx, fmt.Sprintf(
			`SELECT COUNT(*), MIN(created_at), MAX(created_at) FROM %q`, e.table)).
			Scan(&count, &oldest, &newest)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrExistence, err)
		}

		e.info.Count = count
		e.info.OldestAt = oldest.String
		e.info.NewestAt = newest.String
		infos = append(infos, e.info)
	}

	return infos, nil
}

// DestroyAll drops every pending work table.
func (c *Cache) DestroyAll(ctx context.Context) error {
	infos, err := c.Overview(ctx)
	if err != nil {
		return err
	}

	for _, info := range infos {
		if err := c.Destroy(ctx, info.KeyPath); err != nil {
			return err
		}
	}

	return nil
}
