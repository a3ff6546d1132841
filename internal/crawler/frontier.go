package crawler

// PageResult is what one fetched page contributed at a given depth
type PageResult struct {
	URL      string
	Depth    int
	Links    []string
	Captions []string
}

// Frontier is the append-only, depth-indexed result of one crawl run. It is
// owned by a single Crawl call and is not safe for concurrent use.
type Frontier struct {
	levels [][]PageResult
	byURL  map[string]int // url -> level index
}

// NewFrontier creates an empty frontier
func NewFrontier() *Frontier {
	return &Frontier{
		levels: make([][]PageResult, 0),
		byURL:  make(map[string]int),
	}
}

// AppendLevel adds the results of the next depth level. Entries for URLs
// already present are ignored.
func (f *Frontier) AppendLevel(results []PageResult) {
	level := make([]PageResult, 0, len(results))
	depth := len(f.levels)

	for _, r := range results {
		if _, exists := f.byURL[r.URL]; exists {
			continue
		}
		f.byURL[r.URL] = depth
		level = append(level, r)
	}

	f.levels = append(f.levels, level)
}

// Depth returns the number of completed levels
func (f *Frontier) Depth() int {
	return len(f.levels)
}

// Level returns the results recorded at depth (1-based)
func (f *Frontier) Level(depth int) []PageResult {
	if depth < 1 || depth > len(f.levels) {
		return nil
	}
	return f.levels[depth-1]
}

// Len returns the number of pages across all levels
func (f *Frontier) Len() int {
	return len(f.byURL)
}

// Get returns the result for url
func (f *Frontier) Get(url string) (PageResult, bool) {
	depth, ok := f.byURL[url]
	if !ok {
		return PageResult{}, false
	}
	for _, r := range f.levels[depth] {
		if r.URL == url {
			return r, true
		}
	}
	return PageResult{}, false
}

// Entries returns every result in level order
func (f *Frontier) Entries() []PageResult {
	entries := make([]PageResult, 0, len(f.byURL))
	for _, level := range f.levels {
		entries = append(entries, level...)
	}
	return entries
}

// NextCandidates returns the unique links extracted at the newest level, in
// first-seen order
func (f *Frontier) NextCandidates() []string {
	if len(f.levels) == 0 {
		return nil
	}

	var links []string
	for _, r := range f.levels[len(f.levels)-1] {
		links = append(links, r.Links...)
	}
	return uniqueURLs(links)
}
