// Package postgres provides a Postgres-backed asset manifest.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/imagepipe/internal/pipeline"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ManifestStoreConfig controls the Postgres connection pool used for manifest rows.
type ManifestStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// ManifestStore upserts one row per flushed asset.
type ManifestStore struct {
	pool  pool
	table string
}

// NewManifestStore creates a Postgres-backed ManifestStore using the provided config.
func NewManifestStore(ctx context.Context, cfg ManifestStoreConfig) (*ManifestStore, error) {
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
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &ManifestStore{pool: p, table: table}, nil
}

// NewManifestStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewManifestStoreWithPool(p pool, table string) (*ManifestStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &ManifestStore{pool: p, table: table}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = "image_assets"
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *ManifestStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the manifest table when it does not exist.
func (s *ManifestStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	asset_path  TEXT PRIMARY KEY,
	fingerprint TEXT NOT NULL,
	mime_type   TEXT NOT NULL,
	size_bytes  BIGINT NOT NULL,
	uri         TEXT NOT NULL,
	flushed_at  TIMESTAMPTZ NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create manifest table: %w", err)
	}
	return nil
}

// RecordAssets upserts records in a single transaction.
func (s *ManifestStore) RecordAssets(ctx context.Context, records []pipeline.AssetRecord) (err error) {
	if s == nil || s.pool == nil {
		return fmt.Errorf("manifest store is not configured")
	}
	if len(records) == 0 {
		return nil
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	asset_path,
	fingerprint,
	mime_type,
	size_bytes,
	uri,
	flushed_at
) VALUES (
	$1,$2,$3,$4,$5,$6
)
ON CONFLICT (asset_path) DO UPDATE SET
	fingerprint = EXCLUDED.fingerprint,
	mime_type = EXCLUDED.mime_type,
	size_bytes = EXCLUDED.size_bytes,
	uri = EXCLUDED.uri,
	flushed_at = EXCLUDED.flushed_at`, s.table)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin manifest tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx) //nolint:errcheck // the insert error is what matters
		}
	}()

	for _, rec := range records {
		if _, err = tx.Exec(ctx, query,
			rec.AssetPath,
			string(rec.Fingerprint),
			rec.MimeType,
			rec.SizeBytes,
			rec.URI,
			rec.FlushedAt,
		); err != nil {
			return fmt.Errorf("upsert asset %s: %w", rec.AssetPath, err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit manifest tx: %w", err)
	}
	return nil
}
