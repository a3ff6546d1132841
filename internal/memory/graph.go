package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/alvmarrod/caption-weaver/internal/storage"
)

type linkKey struct {
	from, to int64
}

// MemoryGraph is an in-process graph store. Transactions hold the write lock
// for their whole duration and are undone from a journal on rollback.
type MemoryGraph struct {
	words     map[string]*storage.Word // text -> word
	wordsByID map[int64]*storage.Word
	pages     map[string]*storage.Page // url -> page
	pagesByID map[int64]*storage.Page
	locations []storage.WordLocation
	links     map[linkKey]int64 // from/to -> link ID

	wordCounter     int64
	pageCounter     int64
	locationCounter int64
	linkCounter     int64

	closed bool
	mu     sync.RWMutex
}

// NewMemoryGraph creates an empty in-memory graph
func NewMemoryGraph() *MemoryGraph {
	return &MemoryGraph{
		words:     make(map[string]*storage.Word),
		wordsByID: make(map[int64]*storage.Word),
		pages:     make(map[string]*storage.Page),
		pagesByID: make(map[int64]*storage.Page),
		links:     make(map[linkKey]int64),
	}
}

// IsIndexed reports whether url was ingested as a crawled page
func (mg *MemoryGraph) IsIndexed(_ context.Context, url string) (bool, error) {
	mg.mu.RLock()
	defer mg.mu.RUnlock()

	if mg.closed {
		return false, storage.ErrStoreClosed
	}
	page, exists := mg.pages[url]
	return exists && page.Indexed, nil
}

// InTx runs fn with exclusive access to the graph
func (mg *MemoryGraph) InTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	mg.mu.Lock()
	defer mg.mu.Unlock()

	if mg.closed {
		return storage.ErrStoreClosed
	}

	tx := &memoryTx{graph: mg}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

// Stats returns current graph statistics
func (mg *MemoryGraph) Stats(_ context.Context) (storage.Stats, error) {
	mg.mu.RLock()
	defer mg.mu.RUnlock()

	if mg.closed {
		return storage.Stats{}, storage.ErrStoreClosed
	}

	indexed := 0
	for _, page := range mg.pages {
		if page.Indexed {
			indexed++
		}
	}
	return storage.Stats{
		Words:         len(mg.words),
		Pages:         len(mg.pages),
		IndexedPages:  indexed,
		WordLocations: len(mg.locations),
		Links:         len(mg.links),
	}, nil
}

// GetPage retrieves a page by URL, returns nil if not found
func (mg *MemoryGraph) GetPage(url string) *storage.Page {
	mg.mu.RLock()
	defer mg.mu.RUnlock()

	if page, exists := mg.pages[url]; exists {
		// Return a copy to prevent external modifications
		pageCopy := *page
		return &pageCopy
	}
	return nil
}

// GetWord retrieves a word by text, returns nil if not found
func (mg *MemoryGraph) GetWord(text string) *storage.Word {
	mg.mu.RLock()
	defer mg.mu.RUnlock()

	if word, exists := mg.words[text]; exists {
		wordCopy := *word
		return &wordCopy
	}
	return nil
}

// Locations returns a copy of all word locations in insertion order
func (mg *MemoryGraph) Locations() []storage.WordLocation {
	mg.mu.RLock()
	defer mg.mu.RUnlock()

	out := make([]storage.WordLocation, len(mg.locations))
	copy(out, mg.locations)
	return out
}

// Links returns all links ordered by ID
func (mg *MemoryGraph) Links() []storage.Link {
	mg.mu.RLock()
	defer mg.mu.RUnlock()

	out := make([]storage.Link, 0, len(mg.links))
	for key, id := range mg.links {
		out = append(out, storage.Link{LinkID: id, FromPageID: key.from, ToPageID: key.to})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LinkID < out[j].LinkID })
	return out
}

// Close marks the graph closed; later calls fail with storage.ErrStoreClosed
func (mg *MemoryGraph) Close() error {
	mg.mu.Lock()
	defer mg.mu.Unlock()
	mg.closed = true
	return nil
}

// memoryTx mutates the graph in place while the write lock is held
type memoryTx struct {
	graph *MemoryGraph
	undo  []func()
}

func (tx *memoryTx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

func (tx *memoryTx) UpsertPage(_ context.Context, url string, indexed bool) (int64, error) {
	mg := tx.graph

	if page, exists := mg.pages[url]; exists {
		if indexed && !page.Indexed {
			page.Indexed = true
			tx.undo = append(tx.undo, func() { page.Indexed = false })
		}
		return page.PageID, nil
	}

	mg.pageCounter++
	page := &storage.Page{
		PageID:  mg.pageCounter,
		URL:     url,
		Indexed: indexed,
	}
	mg.pages[url] = page
	mg.pagesByID[page.PageID] = page
	tx.undo = append(tx.undo, func() {
		delete(mg.pages, url)
		delete(mg.pagesByID, page.PageID)
	})

	return page.PageID, nil
}

func (tx *memoryTx) UpsertWord(_ context.Context, text string) (int64, error) {
	mg := tx.graph

	if word, exists := mg.words[text]; exists {
		return word.WordID, nil
	}

	mg.wordCounter++
	word := &storage.Word{WordID: mg.wordCounter, Text: text}
	mg.words[text] = word
	mg.wordsByID[word.WordID] = word
	tx.undo = append(tx.undo, func() {
		delete(mg.words, text)
		delete(mg.wordsByID, word.WordID)
	})

	return word.WordID, nil
}

func (tx *memoryTx) InsertWordLocation(_ context.Context, wordID, pageID int64, location int) error {
	mg := tx.graph

	if _, exists := mg.wordsByID[wordID]; !exists {
		return fmt.Errorf("word %d not found", wordID)
	}
	if _, exists := mg.pagesByID[pageID]; !exists {
		return fmt.Errorf("page %d not found", pageID)
	}

	mg.locationCounter++
	n := len(mg.locations)
	mg.locations = append(mg.locations, storage.WordLocation{
		LocationID: mg.locationCounter,
		WordID:     wordID,
		PageID:     pageID,
		Location:   location,
	})
	tx.undo = append(tx.undo, func() { mg.locations = mg.locations[:n] })

	return nil
}

func (tx *memoryTx) LinkExists(_ context.Context, fromID, toID int64) (bool, error) {
	_, exists := tx.graph.links[linkKey{from: fromID, to: toID}]
	return exists, nil
}

func (tx *memoryTx) InsertLink(_ context.Context, fromID, toID int64) error {
	mg := tx.graph

	// Verify pages exist
	if _, exists := mg.pagesByID[fromID]; !exists {
		return fmt.Errorf("source page %d not found", fromID)
	}
	if _, exists := mg.pagesByID[toID]; !exists {
		return fmt.Errorf("target page %d not found", toID)
	}

	key := linkKey{from: fromID, to: toID}
	if _, exists := mg.links[key]; exists {
		return fmt.Errorf("link %d->%d already exists", fromID, toID)
	}

	mg.linkCounter++
	mg.links[key] = mg.linkCounter
	tx.undo = append(tx.undo, func() { delete(mg.links, key) })

	return nil
}
