// Package postgres provides the Postgres-backed repository for server
// deployments where several crawler processes share one queue.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/lenscrawl/internal/store"
)

var _ store.Repository = (*Store)(nil)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

type pool interface {
	querier
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// Store implements store.Repository on Postgres.
type Store struct {
	pool pool
}

// New connects to Postgres using cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: p}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: p}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// EnsureSchema creates the tables when they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS crawl_queue (
	id BIGSERIAL PRIMARY KEY,
	url TEXT NOT NULL UNIQUE,
	domain TEXT NOT NULL,
	status TEXT NOT NULL,
	crawl_type TEXT NOT NULL DEFAULT 'Normal',
	pipeline TEXT,
	error TEXT,
	num_retries INTEGER NOT NULL DEFAULT 0,
	not_before TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_crawl_queue_status ON crawl_queue(status, not_before);
CREATE INDEX IF NOT EXISTS idx_crawl_queue_domain ON crawl_queue(domain);

CREATE TABLE IF NOT EXISTS resource_rules (
	id BIGSERIAL PRIMARY KEY,
	domain TEXT NOT NULL,
	rule_path TEXT NOT NULL,
	no_index BOOLEAN NOT NULL DEFAULT FALSE,
	allow_crawl BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	UNIQUE (domain, rule_path)
);

CREATE TABLE IF NOT EXISTS indexed_document (
	id BIGSERIAL PRIMARY KEY,
	url TEXT NOT NULL UNIQUE,
	domain TEXT NOT NULL,
	doc_id TEXT NOT NULL,
	content_hash TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_indexed_document_domain ON indexed_document(domain);

CREATE TABLE IF NOT EXISTS tags (
	id BIGSERIAL PRIMARY KEY,
	label TEXT NOT NULL,
	value TEXT NOT NULL,
	UNIQUE (label, value)
);

CREATE TABLE IF NOT EXISTS crawl_tag (
	crawl_queue_id BIGINT NOT NULL REFERENCES crawl_queue(id) ON DELETE CASCADE,
	tag_id BIGINT NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
	UNIQUE (crawl_queue_id, tag_id)
);

CREATE TABLE IF NOT EXISTS document_tag (
	indexed_document_id BIGINT NOT NULL REFERENCES indexed_document(id) ON DELETE CASCADE,
	tag_id BIGINT NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
	UNIQUE (indexed_document_id, tag_id)
);

CREATE TABLE IF NOT EXISTS link (
	id BIGSERIAL PRIMARY KEY,
	src_domain TEXT NOT NULL,
	src_url TEXT NOT NULL,
	dst_domain TEXT NOT NULL,
	dst_url TEXT NOT NULL,
	UNIQUE (src_url, dst_url)
);
CREATE INDEX IF NOT EXISTS idx_link_src_domain ON link(src_domain);
`
