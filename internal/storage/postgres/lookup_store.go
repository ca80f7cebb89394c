// Package postgres appends favicon resolutions to a Postgres lookup log.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/favicon-edge/internal/favicon"
)

const defaultTable = "favicon_lookups"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// LookupStoreConfig controls the Postgres connection pool used for lookup rows.
type LookupStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Ping(context.Context) error
	Close()
}

// LookupStore writes lookup rows into Postgres.
type LookupStore struct {
	pool  execCloser
	table string
}

// NewLookupStore creates a Postgres-backed LookupStore using the provided config.
func NewLookupStore(ctx context.Context, cfg LookupStoreConfig) (*LookupStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
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
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &LookupStore{pool: pool, table: table}, nil
}

// NewLookupStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewLookupStoreWithPool(pool execCloser, table string) (*LookupStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &LookupStore{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *LookupStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks connectivity for readiness probes.
func (s *LookupStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// EnsureSchema creates the lookup table when it does not exist.
func (s *LookupStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id            TEXT PRIMARY KEY,
	site_url      TEXT NOT NULL,
	icon_url      TEXT NOT NULL,
	strategy      TEXT NOT NULL,
	source        TEXT NOT NULL,
	status_code   INTEGER NOT NULL,
	content_type  TEXT NOT NULL DEFAULT '',
	bytes         INTEGER NOT NULL DEFAULT 0,
	cache_key     TEXT NOT NULL,
	resolved_at   TIMESTAMPTZ NOT NULL,
	duration_ms   BIGINT NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create lookup table: %w", err)
	}
	return nil
}

// RecordLookup inserts a lookup row into Postgres.
func (s *LookupStore) RecordLookup(ctx context.Context, record favicon.LookupRecord) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("lookup store is not configured")
	}
	if record.ID == "" {
		return fmt.Errorf("record id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	site_url,
	icon_url,
	strategy,
	source,
	status_code,
	content_type,
	bytes,
	cache_key,
	resolved_at,
	duration_ms
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)`, s.table)

	args := []any{
		record.ID,
		record.SiteURL,
		record.IconURL,
		string(record.Strategy),
		string(record.Source),
		record.StatusCode,
		record.ContentType,
		record.Bytes,
		record.CacheKey,
		record.ResolvedAt,
		record.Duration.Milliseconds(),
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert lookup: %w", err)
	}
	return nil
}
