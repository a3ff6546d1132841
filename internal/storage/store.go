package storage

import (
	"context"
	"errors"
)

// ErrStoreClosed is returned by operations on a closed store
var ErrStoreClosed = errors.New("store is closed")

// Store is the graph store shared by the crawler and the ingestor.
// Implementations must be safe for concurrent use.
type Store interface {
	// IsIndexed reports whether a page with exactly this URL has been crawled and ingested
	IsIndexed(ctx context.Context, url string) (bool, error)

	// InTx runs fn inside a single transaction. The transaction is committed
	// when fn returns nil and rolled back otherwise.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	// Stats returns current row counts
	Stats(ctx context.Context) (Stats, error)

	Close() error
}

// Tx is the set of writes available inside a unit of work
type Tx interface {
	// UpsertPage inserts the page if absent and returns its ID. Passing
	// indexed=true marks an existing stub page as indexed; indexed=false never
	// clears the flag.
	UpsertPage(ctx context.Context, url string, indexed bool) (int64, error)

	// UpsertWord inserts the word if absent and returns its ID
	UpsertWord(ctx context.Context, text string) (int64, error)

	// InsertWordLocation always adds a new location row
	InsertWordLocation(ctx context.Context, wordID, pageID int64, location int) error

	LinkExists(ctx context.Context, fromID, toID int64) (bool, error)
	InsertLink(ctx context.Context, fromID, toID int64) error
}
