// Package scrape fetches website markup for address harvesting. Two
// implementations exist: a plain HTTP client for the cheap first pass and a
// headless browser for pages that only materialize their content through
// JavaScript.
package scrape

import (
	"context"
	"net/url"
	"strings"
)

// Result is the outcome of fetching a single page.
type Result struct {
	// URL is the address that was requested.
	URL string
	// FinalURL is the address the fetch ended up at after redirects.
	FinalURL string
	// StatusCode is the HTTP status of the final response, when known.
	StatusCode int
	// HTML is the page markup, decoded to UTF-8.
	HTML string
	// Block records anti-bot interference detected in the response.
	Block BlockType
	// Source names the scraper that produced the result.
	Source string
}

// Scraper fetches the markup of a single page.
type Scraper interface {
	// Scrape fetches the page at the given URL.
	Scrape(ctx context.Context, pageURL string) (*Result, error)

	// Name returns the scraper identifier for logging.
	Name() string

	// Supports reports whether this scraper can handle the given URL.
	Supports(pageURL string) bool
}

// NormalizeURL coerces a sheet cell into a fetchable URL. Bare domains get an
// https scheme and an empty path becomes "/".
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), nil
}
