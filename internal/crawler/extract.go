package crawler

import (
	"bytes"
	"fmt"
	"net/url"

	"github.com/PuerkitoBio/goquery"
)

// Extraction holds what a single document contributes to the graph
type Extraction struct {
	Links    []string
	Captions []string
}

// Extract parses an HTML document and returns its outbound links and image
// captions in document order. Duplicates are kept; deduplication happens at
// ingest time against the store.
func Extract(body []byte, sourceURL string) (Extraction, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Extraction{}, fmt.Errorf("failed to parse document %s: %w", sourceURL, err)
	}

	// An unparsable source URL only disables relative link resolution
	base, err := url.Parse(sourceURL)
	if err != nil {
		base = nil
	}

	ex := Extraction{
		Links:    make([]string, 0),
		Captions: make([]string, 0),
	}

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if link, ok := ResolveLink(base, href); ok {
			ex.Links = append(ex.Links, link)
		}
	})

	doc.Find("img[alt]").Each(func(_ int, s *goquery.Selection) {
		alt, ok := s.Attr("alt")
		if !ok || IsBlankCaption(alt) {
			return
		}
		ex.Captions = append(ex.Captions, alt)
	})

	return ex, nil
}
