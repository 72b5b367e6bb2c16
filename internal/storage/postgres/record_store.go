// Package postgres persists crawl history in Postgres.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/pagecrawl/internal/crawler"
)

const defaultTable = "crawl_records"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for crawl records.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	// AutoMigrate creates the table on startup when it is missing.
	AutoMigrate bool
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Ping(context.Context) error
	Close()
}

// RecordStore writes one row per crawl attempt.
type RecordStore struct {
	pool  pool
	table string
}

// NewRecordStore connects to Postgres using cfg.
func NewRecordStore(ctx context.Context, cfg Config) (*RecordStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database.dsn is required")
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
	pgPool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewRecordStoreWithPool(pgPool, cfg.Table)
	if err != nil {
		pgPool.Close()
		return nil, err
	}
	if cfg.AutoMigrate {
		if err := store.EnsureSchema(ctx); err != nil {
			pgPool.Close()
			return nil, err
		}
	}
	return store, nil
}

// NewRecordStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRecordStoreWithPool(p pool, table string) (*RecordStore, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &RecordStore{pool: p, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *RecordStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks connectivity.
func (s *RecordStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// EnsureSchema creates the record table if it does not exist.
func (s *RecordStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	request_id TEXT NOT NULL,
	url TEXT NOT NULL,
	final_url TEXT,
	status_code INTEGER,
	success BOOLEAN NOT NULL,
	used_headless BOOLEAN NOT NULL,
	content_type TEXT,
	headers JSONB,
	content_hash TEXT,
	blob_uri TEXT,
	duration_ms BIGINT,
	fetched_at TIMESTAMPTZ NOT NULL,
	error_kind TEXT,
	error_text TEXT
)`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// StoreRecord inserts a crawl record.
func (s *RecordStore) StoreRecord(ctx context.Context, record crawler.CrawlRecord) error {
	if s == nil || s.pool == nil {
		return errors.New("record store is not configured")
	}
	if record.ID == "" {
		return errors.New("record id is required")
	}
	headersJSON, err := json.Marshal(normalizeHeaders(record.Headers))
	if err != nil {
		return fmt.Errorf("marshal headers: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	request_id,
	url,
	final_url,
	status_code,
	success,
	used_headless,
	content_type,
	headers,
	content_hash,
	blob_uri,
	duration_ms,
	fetched_at,
	error_kind,
	error_text
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
)`, s.table)

	args := []any{
		record.ID,
		record.RequestID,
		record.URL,
		record.FinalURL,
		record.StatusCode,
		record.Success,
		record.UsedHeadless,
		record.ContentType,
		headersJSON,
		record.ContentHash,
		record.BlobURI,
		record.DurationMs,
		record.FetchedAt,
		string(record.ErrorKind),
		record.ErrorText,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert crawl record: %w", err)
	}
	return nil
}

func normalizeHeaders(h http.Header) map[string][]string {
	if len(h) == 0 {
		return map[string][]string{}
	}
	out := make(map[string][]string, len(h))
	for k, values := range h {
		out[k] = append([]string(nil), values...)
	}
	return out
}
