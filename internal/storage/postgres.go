package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS words (
		word_id BIGSERIAL PRIMARY KEY,
		text TEXT UNIQUE NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS pages (
		page_id BIGSERIAL PRIMARY KEY,
		url TEXT UNIQUE NOT NULL,
		indexed BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS word_locations (
		location_id BIGSERIAL PRIMARY KEY,
		word_id BIGINT NOT NULL REFERENCES words(word_id),
		page_id BIGINT NOT NULL REFERENCES pages(page_id),
		location INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS links (
		link_id BIGSERIAL PRIMARY KEY,
		from_page_id BIGINT NOT NULL REFERENCES pages(page_id),
		to_page_id BIGINT NOT NULL REFERENCES pages(page_id),
		UNIQUE(from_page_id, to_page_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_word_locations_word ON word_locations(word_id)`,
	`CREATE INDEX IF NOT EXISTS idx_word_locations_page ON word_locations(page_id)`,
	`CREATE INDEX IF NOT EXISTS idx_links_to ON links(to_page_id)`,
}

// PostgresConfig controls the connection pool
type PostgresConfig struct {
	DSN             string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

// pgPool is the subset of pgxpool.Pool used by the store
type pgPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresStore is the PostgreSQL-backed graph store
type PostgresStore struct {
	pool pgPool
}

// NewPostgresStore connects to Postgres and initializes the schema
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return NewPostgresStoreWithPool(ctx, pool)
}

// NewPostgresStoreWithPool builds a store on an existing pool and initializes the schema
func NewPostgresStoreWithPool(ctx context.Context, pool pgPool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	store := &PostgresStore{pool: pool}
	if err := store.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	for _, stmt := range postgresSchema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// IsIndexed reports whether url was ingested as a crawled page
func (s *PostgresStore) IsIndexed(ctx context.Context, url string) (bool, error) {
	var indexed bool
	err := s.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM pages WHERE url = $1 AND indexed)", url,
	).Scan(&indexed)
	if err != nil {
		return false, fmt.Errorf("failed to check page %s: %w", url, err)
	}
	return indexed, nil
}

// InTx runs fn in a transaction, rolling back on error
func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&postgresTx{tx: tx}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Stats returns row counts for every table
func (s *PostgresStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM words),
			(SELECT COUNT(*) FROM pages),
			(SELECT COUNT(*) FROM pages WHERE indexed),
			(SELECT COUNT(*) FROM word_locations),
			(SELECT COUNT(*) FROM links)
	`).Scan(&st.Words, &st.Pages, &st.IndexedPages, &st.WordLocations, &st.Links)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to read stats: %w", err)
	}
	return st, nil
}

// Close releases the pool
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

type postgresTx struct {
	tx pgx.Tx
}

func (t *postgresTx) UpsertPage(ctx context.Context, url string, indexed bool) (int64, error) {
	var pageID int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO pages (url, indexed)
		VALUES ($1, $2)
		ON CONFLICT (url) DO UPDATE SET
			indexed = pages.indexed OR EXCLUDED.indexed
		RETURNING page_id
	`, url, indexed).Scan(&pageID)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert page %s: %w", url, err)
	}
	return pageID, nil
}

func (t *postgresTx) UpsertWord(ctx context.Context, text string) (int64, error) {
	if _, err := t.tx.Exec(ctx,
		"INSERT INTO words (text) VALUES ($1) ON CONFLICT (text) DO NOTHING", text,
	); err != nil {
		return 0, fmt.Errorf("failed to insert word: %w", err)
	}

	var wordID int64
	if err := t.tx.QueryRow(ctx, "SELECT word_id FROM words WHERE text = $1", text).Scan(&wordID); err != nil {
		return 0, fmt.Errorf("failed to retrieve word_id: %w", err)
	}
	return wordID, nil
}

func (t *postgresTx) InsertWordLocation(ctx context.Context, wordID, pageID int64, location int) error {
	_, err := t.tx.Exec(ctx,
		"INSERT INTO word_locations (word_id, page_id, location) VALUES ($1, $2, $3)",
		wordID, pageID, location,
	)
	if err != nil {
		return fmt.Errorf("failed to insert word location: %w", err)
	}
	return nil
}

func (t *postgresTx) LinkExists(ctx context.Context, fromID, toID int64) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM links WHERE from_page_id = $1 AND to_page_id = $2)",
		fromID, toID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check link: %w", err)
	}
	return exists, nil
}

func (t *postgresTx) InsertLink(ctx context.Context, fromID, toID int64) error {
	_, err := t.tx.Exec(ctx,
		"INSERT INTO links (from_page_id, to_page_id) VALUES ($1, $2)", fromID, toID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert link %d->%d: %w", fromID, toID, err)
	}
	return nil
}
