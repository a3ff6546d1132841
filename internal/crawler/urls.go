package crawler

import (
	"net/url"
	"strings"
)

// ExtractDomain extracts the lowercase hostname from a URL string
func ExtractDomain(urlStr string) (string, error) {
	// Handle protocol-relative URLs
	if strings.HasPrefix(urlStr, "//") {
		urlStr = "https:" + urlStr
	}

	// Handle relative URLs (no scheme)
	if !strings.Contains(urlStr, "://") {
		return "", nil
	}

	parsed, err := url.Parse(urlStr)
	if err != nil {
		return "", err
	}

	return strings.ToLower(parsed.Hostname()), nil
}

// ResolveLink validates an anchor reference and returns the absolute URL it
// points to. Absolute references are returned verbatim so that page identity
// stays an exact string; relative ones are resolved against base.
// Empty, fragment-only, malformed and non-http(s) references are rejected.
func ResolveLink(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}

	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}

	link := href
	if !ref.IsAbs() {
		if base == nil || !base.IsAbs() {
			return "", false
		}
		ref = base.ResolveReference(ref)
		link = ref.String()
	}

	if ref.Scheme != "http" && ref.Scheme != "https" {
		return "", false
	}
	if ref.Host == "" {
		return "", false
	}

	return link, true
}

// IsBlankCaption reports whether an alt value yields no caption: only the
// empty string and a single space are blank, other whitespace is kept
func IsBlankCaption(alt string) bool {
	return alt == "" || alt == " "
}

// uniqueURLs drops repeated and empty URLs, keeping first-seen order
func uniqueURLs(urls []string) []string {
	seen := make(map[string]bool, len(urls))
	out := make([]string, 0, len(urls))

	for _, u := range urls {
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}

	return out
}
