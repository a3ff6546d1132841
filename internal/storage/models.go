package storage

// PlaceholderLocation is written for every word location. Captions carry no
// positional offset yet, so all locations share this value.
const PlaceholderLocation = 1

// Word is a unique caption token
type Word struct {
	WordID int64
	Text   string
}

// Page is a crawled or referenced URL. Indexed is false for pages that only
// appeared as link targets and were never crawled themselves.
type Page struct {
	PageID  int64
	URL     string
	Indexed bool
}

// WordLocation records that a word appears on a page
type WordLocation struct {
	LocationID int64
	WordID     int64
	PageID     int64
	Location   int
}

// Link represents a directed link between two pages
type Link struct {
	LinkID     int64
	FromPageID int64
	ToPageID   int64
}

// Stats holds row counts for each graph table
type Stats struct {
	Words         int
	Pages         int
	IndexedPages  int
	WordLocations int
	Links         int
}
