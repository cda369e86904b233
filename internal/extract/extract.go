// Package extract finds publicly listed email addresses in HTML markup.
package extract

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// emailPattern is the loose email grammar used for both the global scan of
// text/attribute content and the strict re-match during sanitization.
var emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

// defaultImageExtensions are apparent "TLDs" that mark a candidate as a
// misparsed filename (photo@2x.png) rather than an address.
var defaultImageExtensions = []string{"png", "jpg", "jpeg", "gif", "svg", "webp", "bmp", "tiff"}

// Options tunes extraction. The zero value gives the base behavior.
type Options struct {
	// ExcludeDomains drops addresses whose domain matches exactly
	// (lower-cased). Useful for build-artifact noise like sentry.io.
	ExcludeDomains []string

	// ExtraImageExtensions extends the filename false-positive filter.
	ExtraImageExtensions []string
}

// Extractor harvests canonical email addresses from markup. Safe for
// concurrent use; Extract performs no I/O.
type Extractor struct {
	imageExts      map[string]struct{}
	excludeDomains map[string]struct{}
}

// New creates an Extractor with the given options.
func New(opts Options) *Extractor {
	exts := make(map[string]struct{}, len(defaultImageExtensions)+len(opts.ExtraImageExtensions))
	for _, ext := range defaultImageExtensions {
		exts[ext] = struct{}{}
	}
	for _, ext := range opts.ExtraImageExtensions {
		exts[strings.ToLower(strings.TrimPrefix(ext, "."))] = struct{}{}
	}

	domains := make(map[string]struct{}, len(opts.ExcludeDomains))
	for _, d := range opts.ExcludeDomains {
		domains[strings.ToLower(d)] = struct{}{}
	}

	return &Extractor{imageExts: exts, excludeDomains: domains}
}

// Extract returns the canonical email addresses found in markup, in
// first-seen order with no duplicates. Malformed markup is parsed
// best-effort and never causes an error; the result may be empty.
//
// Candidates are harvested from three pooled sources: mailto link targets,
// visible body text, and every attribute value of every element. Script and
// style subtrees are removed before harvesting.
func (e *Extractor) Extract(markup string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil
	}
	doc.Find("script, style").Remove()

	var pool []string

	// Mailto links: address portion only, query string stripped.
	doc.Find("a[href^='mailto:']").Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		addr := strings.TrimPrefix(href, "mailto:")
		addr = strings.Split(addr, "?")[0]
		addr = strings.TrimSpace(addr)
		if addr != "" {
			pool = append(pool, addr)
		}
	})

	// Visible body text, scanned with non-overlapping leftmost matching.
	pool = append(pool, emailPattern.FindAllString(doc.Find("body").Text(), -1)...)

	// Every attribute value of every element (href, src, data-*, ...).
	doc.Find("*").Each(func(_ int, s *goquery.Selection) {
		for _, attr := range s.Get(0).Attr {
			pool = append(pool, emailPattern.FindAllString(attr.Val, -1)...)
		}
	})

	return e.sanitize(pool)
}

// sanitize turns the raw candidate pool into the canonical set: best-effort
// percent-decode, strict re-match, lower-case, filename filter, dedup.
func (e *Extractor) sanitize(pool []string) []string {
	seen := make(map[string]struct{}, len(pool))
	var out []string
	for _, cand := range pool {
		// PathUnescape, not QueryUnescape: a + in the local part is a
		// literal plus, not an encoded space.
		if decoded, err := url.PathUnescape(cand); err == nil {
			cand = decoded
		}
		match := emailPattern.FindString(cand)
		if match == "" {
			continue
		}
		match = strings.ToLower(match)
		if e.badExtension(match) || e.excludedDomain(match) {
			continue
		}
		if _, dup := seen[match]; dup {
			continue
		}
		seen[match] = struct{}{}
		out = append(out, match)
	}
	return out
}

// badExtension checks only the segment after the final dot, so a multi-dot
// domain is judged by its TLD alone.
func (e *Extractor) badExtension(email string) bool {
	idx := strings.LastIndexByte(email, '.')
	if idx < 0 || idx == len(email)-1 {
		return false
	}
	_, bad := e.imageExts[email[idx+1:]]
	return bad
}

func (e *Extractor) excludedDomain(email string) bool {
	if len(e.excludeDomains) == 0 {
		return false
	}
	at := strings.LastIndexByte(email, '@')
	if at < 0 {
		return false
	}
	_, excluded := e.excludeDomains[email[at+1:]]
	return excluded
}
