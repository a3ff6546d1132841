package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS words (
		word_id INTEGER PRIMARY KEY AUTOINCREMENT,
		text TEXT UNIQUE NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pages (
		page_id INTEGER PRIMARY KEY AUTOINCREMENT,
		url TEXT UNIQUE NOT NULL,
		indexed INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS word_locations (
		location_id INTEGER PRIMARY KEY AUTOINCREMENT,
		word_id INTEGER NOT NULL,
		page_id INTEGER NOT NULL,
		location INTEGER NOT NULL,
		FOREIGN KEY (word_id) REFERENCES words(word_id),
		FOREIGN KEY (page_id) REFERENCES pages(page_id)
	);

	CREATE TABLE IF NOT EXISTS links (
		link_id INTEGER PRIMARY KEY AUTOINCREMENT,
		from_page_id INTEGER NOT NULL,
		to_page_id INTEGER NOT NULL,
		FOREIGN KEY (from_page_id) REFERENCES pages(page_id),
		FOREIGN KEY (to_page_id) REFERENCES pages(page_id),
		UNIQUE(from_page_id, to_page_id)
	);

	CREATE INDEX IF NOT EXISTS idx_pages_url ON pages(url);
	CREATE INDEX IF NOT EXISTS idx_word_locations_word ON word_locations(word_id);
	CREATE INDEX IF NOT EXISTS idx_word_locations_page ON word_locations(page_id);
	CREATE INDEX IF NOT EXISTS idx_links_from ON links(from_page_id);
	CREATE INDEX IF NOT EXISTS idx_links_to ON links(to_page_id);
	`

// SQLiteStore is the SQLite-backed graph store
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens/creates the database at dbPath and initializes the schema
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=1&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every connection to :memory: is a separate database
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := &SQLiteStore{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates tables and indices if they don't exist
func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(sqliteSchema)
	return err
}

// IsIndexed reports whether url was ingested as a crawled page
func (s *SQLiteStore) IsIndexed(ctx context.Context, url string) (bool, error) {
	var indexed bool
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM pages WHERE url = ? AND indexed = 1)", url,
	).Scan(&indexed)
	if err != nil {
		return false, fmt.Errorf("failed to check page %s: %w", url, err)
	}
	return indexed, nil
}

// InTx runs fn in a transaction, rolling back on error
func (s *SQLiteStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&sqliteTx{tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Stats returns row counts for every table
func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM words),
			(SELECT COUNT(*) FROM pages),
			(SELECT COUNT(*) FROM pages WHERE indexed = 1),
			(SELECT COUNT(*) FROM word_locations),
			(SELECT COUNT(*) FROM links)
	`).Scan(&st.Words, &st.Pages, &st.IndexedPages, &st.WordLocations, &st.Links)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to read stats: %w", err)
	}
	return st, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) UpsertPage(ctx context.Context, url string, indexed bool) (int64, error) {
	var pageID int64
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO pages (url, indexed)
		VALUES (?, ?)
		ON CONFLICT(url) DO UPDATE SET
			indexed = MAX(pages.indexed, excluded.indexed)
		RETURNING page_id
	`, url, indexed).Scan(&pageID)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert page %s: %w", url, err)
	}
	return pageID, nil
}

func (t *sqliteTx) UpsertWord(ctx context.Context, text string) (int64, error) {
	// Insert or ignore, then reselect so concurrent writers resolve to the same row
	if _, err := t.tx.ExecContext(ctx,
		"INSERT INTO words (text) VALUES (?) ON CONFLICT(text) DO NOTHING", text,
	); err != nil {
		return 0, fmt.Errorf("failed to insert word: %w", err)
	}

	var wordID int64
	if err := t.tx.QueryRowContext(ctx, "SELECT word_id FROM words WHERE text = ?", text).Scan(&wordID); err != nil {
		return 0, fmt.Errorf("failed to retrieve word_id: %w", err)
	}
	return wordID, nil
}

func (t *sqliteTx) InsertWordLocation(ctx context.Context, wordID, pageID int64, location int) error {
	_, err := t.tx.ExecContext(ctx,
		"INSERT INTO word_locations (word_id, page_id, location) VALUES (?, ?, ?)",
		wordID, pageID, location,
	)
	if err != nil {
		return fmt.Errorf("failed to insert word location: %w", err)
	}
	return nil
}

func (t *sqliteTx) LinkExists(ctx context.Context, fromID, toID int64) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM links WHERE from_page_id = ? AND to_page_id = ?)",
		fromID, toID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check link: %w", err)
	}
	return exists, nil
}

func (t *sqliteTx) InsertLink(ctx context.Context, fromID, toID int64) error {
	_, err := t.tx.ExecContext(ctx,
		"INSERT INTO links (from_page_id, to_page_id) VALUES (?, ?)", fromID, toID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert link %d->%d: %w", fromID, toID, err)
	}
	return nil
}
