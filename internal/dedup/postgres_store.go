package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is the subset of *pgxpool.Pool this store needs, narrowed so
// tests can substitute pgxmock, grounded on
// internal/storage/postgres/retrieval_store.go's execCloser seam.
type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// PostgresStoreConfig controls the connection pool backing a durable
// dedup seen-set.
type PostgresStoreConfig struct {
	DSN      string
	Table    string
	MaxConns int32
	MinConns int32
}

// PostgresStore is the optional durable dedup backing when
// queue_store_url points at Postgres, implemented as a generic
// key/value/expires_at table with no query variation — the reason
// github.com/Masterminds/squirrel is left unbound (see DESIGN.md).
type PostgresStore struct {
	pool  querier
	table string
}

// OpenPostgresStore connects to Postgres and ensures the backing table
// exists.
func OpenPostgresStore(ctx context.Context, cfg PostgresStoreConfig) (*PostgresStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("dedup postgres dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "dedup_keys"
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dedup postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect dedup postgres: %w", err)
	}
	store := &PostgresStore{pool: pool, table: table}
	if err := store.ensureTable(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStoreWithPool builds a store from an existing pool, for
// tests driven against pgxmock.
func NewPostgresStoreWithPool(pool querier, table string) *PostgresStore {
	if table == "" {
		table = "dedup_keys"
	}
	return &PostgresStore{pool: pool, table: table}
}

func (s *PostgresStore) ensureTable(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		key TEXT PRIMARY KEY,
		content_id TEXT NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL
	)`, s.table)
	_, err := s.pool.Exec(ctx, ddl)
	if err != nil {
		return fmt.Errorf("ensure dedup table: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Check reports whether key has already been marked and not yet expired.
// Any query error is treated as "not seen" since dedup is best-effort and
// the CMS remains the authority on uniqueness.
func (s *PostgresStore) Check(key string) Result {
	ctx := context.Background()
	query := fmt.Sprintf("SELECT content_id FROM %s WHERE key = $1 AND expires_at > now()", s.table)
	var contentID string
	err := s.pool.QueryRow(ctx, query, key).Scan(&contentID)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return Result{}
		}
		return Result{}
	}
	return Result{Duplicate: true, PriorID: contentID}
}

// Mark records key as seen, associated with contentID, for ttl (0 uses
// the default 24h), upserting so a re-mark refreshes the expiry.
func (s *PostgresStore) Mark(key, contentID string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	ctx := context.Background()
	query := fmt.Sprintf(`INSERT INTO %s (key, content_id, expires_at) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET content_id = EXCLUDED.content_id, expires_at = EXCLUDED.expires_at`, s.table)
	_, _ = s.pool.Exec(ctx, query, key, contentID, time.Now().Add(ttl))
}
