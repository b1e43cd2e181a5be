// Package sqlite provides the SQLite-backed repository used for local
// installs and tests.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// DB represents a SQLite database connection.
type DB struct {
	db   *sql.DB
	path string
}

// NewDB creates a new DB instance with the given path.
// Use ":memory:" for an in-memory database.
func NewDB(path string) *DB {
	return &DB{path: path}
}

// Open opens the database connection and creates the schema if needed.
func (db *DB) Open() error {
	conn, err := sql.Open("sqlite3", db.path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	// SQLite allows a single writer; one connection also serializes claims.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return fmt.Errorf("connect database: %w", err)
	}

	pragmas := []string{"PRAGMA busy_timeout = 5000", "PRAGMA foreign_keys = ON"}
	if db.path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			conn.Close()
			return fmt.Errorf("apply %q: %w", p, err)
		}
	}

	db.db = conn
	if err := db.createSchema(); err != nil {
		conn.Close()
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	if db.db != nil {
		return db.db.Close()
	}
	return nil
}

// QueryRowContext executes a query that returns a single row.
func (db *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return db.db.QueryRowContext(ctx, query, args...)
}

// QueryContext executes a query that returns rows.
func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.db.QueryContext(ctx, query, args...)
}

// ExecContext executes a statement that doesn't return rows.
func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return db.db.ExecContext(ctx, query, args...)
}

// BeginTx starts a transaction.
func (db *DB) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return db.db.BeginTx(ctx, nil)
}

func (db *DB) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS crawl_queue (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			url TEXT NOT NULL UNIQUE,
			domain TEXT NOT NULL,
			status TEXT NOT NULL,
			crawl_type TEXT NOT NULL DEFAULT 'Normal',
			pipeline TEXT,
			error TEXT,
			num_retries INTEGER NOT NULL DEFAULT 0,
			not_before TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_crawl_queue_status ON crawl_queue(status, not_before);
		CREATE INDEX IF NOT EXISTS idx_crawl_queue_domain ON crawl_queue(domain);

		CREATE TABLE IF NOT EXISTS resource_rules (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			domain TEXT NOT NULL,
			rule_path TEXT NOT NULL,
			no_index INTEGER NOT NULL DEFAULT 0,
			allow_crawl INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			UNIQUE (domain, rule_path)
		);

		CREATE TABLE IF NOT EXISTS indexed_document (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			url TEXT NOT NULL UNIQUE,
			domain TEXT NOT NULL,
			doc_id TEXT NOT NULL,
			content_hash TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_indexed_document_domain ON indexed_document(domain);
		CREATE INDEX IF NOT EXISTS idx_indexed_document_doc_id ON indexed_document(doc_id);

		CREATE TABLE IF NOT EXISTS tags (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			label TEXT NOT NULL,
			value TEXT NOT NULL,
			UNIQUE (label, value)
		);

		CREATE TABLE IF NOT EXISTS crawl_tag (
			crawl_queue_id INTEGER NOT NULL REFERENCES crawl_queue(id) ON DELETE CASCADE,
			tag_id INTEGER NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
			UNIQUE (crawl_queue_id, tag_id)
		);

		CREATE TABLE IF NOT EXISTS document_tag (
			indexed_document_id INTEGER NOT NULL REFERENCES indexed_document(id) ON DELETE CASCADE,
			tag_id INTEGER NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
			UNIQUE (indexed_document_id, tag_id)
		);

		CREATE TABLE IF NOT EXISTS link (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			src_domain TEXT NOT NULL,
			src_url TEXT NOT NULL,
			dst_domain TEXT NOT NULL,
			dst_url TEXT NOT NULL,
			UNIQUE (src_url, dst_url)
		);
		CREATE INDEX IF NOT EXISTS idx_link_src_domain ON link(src_domain);
	`
	_, err := db.db.Exec(schema)
	return err
}
