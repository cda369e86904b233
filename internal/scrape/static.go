package scrape

import (
	"bytes"
	"context"
	"io"
	"mime"
	"net"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/time/rate"
)

const SourceStatic = "static_http"

// StaticOptions configures the plain HTTP scraper. Zero values fall back to
// defaults.
type StaticOptions struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int64
	// Limiter throttles outbound requests across all goroutines sharing this
	// scraper. Nil disables throttling.
	Limiter *rate.Limiter
}

// StaticScraper fetches HTML via net/http. Cheap and fast, but sees only the
// markup the server sends; pages that assemble content in JavaScript come back
// as empty shells.
type StaticScraper struct {
	client    *http.Client
	userAgent string
	maxBody   int64
	limiter   *rate.Limiter
}

// NewStaticScraper creates a StaticScraper. The client keeps cookies across
// redirects so consent and session walls see a consistent visitor.
func NewStaticScraper(opts StaticOptions) *StaticScraper {
	if opts.UserAgent == "" {
		opts.UserAgent = "Mozilla/5.0 (compatible; OutreachBot/1.0)"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 2 << 20
	}

	client := &http.Client{
		Timeout: opts.Timeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout: 10 * time.Second,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	if jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List}); err == nil {
		client.Jar = jar
	}

	return &StaticScraper{
		client:    client,
		userAgent: opts.UserAgent,
		maxBody:   opts.MaxBodyBytes,
		limiter:   opts.Limiter,
	}
}

func (s *StaticScraper) Name() string { return SourceStatic }

func (s *StaticScraper) Supports(pageURL string) bool {
	return strings.HasPrefix(pageURL, "http://") || strings.HasPrefix(pageURL, "https://")
}

// Scrape fetches a URL, following redirects, and returns the decoded markup.
// Any transport failure or status >= 400 is an error; anti-bot interference is
// recorded on the result but does not fail the fetch.
func (s *StaticScraper) Scrape(ctx context.Context, targetURL string) (*Result, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "static_http: rate limit wait")
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "static_http: create request")
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "static_http: fetch")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBody))
	if err != nil {
		return nil, eris.Wrap(err, "static_http: read body")
	}

	block := DetectBlock(resp.StatusCode, resp.Header, body)

	if resp.StatusCode >= 400 {
		if block != BlockNone {
			return nil, eris.Errorf("static_http: status %d (blocked: %s)", resp.StatusCode, block)
		}
		return nil, eris.Errorf("static_http: status %d", resp.StatusCode)
	}

	markup, err := decodeCharset(body, resp.Header.Get("Content-Type"))
	if err != nil {
		zap.L().Debug("charset decode failed, using raw body",
			zap.String("url", targetURL),
			zap.Error(err))
		markup = string(body)
	}

	return &Result{
		URL:        targetURL,
		FinalURL:   resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		HTML:       markup,
		Block:      block,
		Source:     SourceStatic,
	}, nil
}

// decodeCharset converts a response body to UTF-8 using the charset declared
// in the Content-Type header. Bodies without a declared charset pass through
// unchanged.
func decodeCharset(body []byte, contentType string) (string, error) {
	if contentType == "" {
		return string(body), nil
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return string(body), nil
	}
	name := strings.ToLower(params["charset"])
	if name == "" || name == "utf-8" || name == "utf8" {
		return string(body), nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return "", eris.Wrapf(err, "static_http: charset %q", name)
	}
	decoded, err := io.ReadAll(enc.NewDecoder().Reader(bytes.NewReader(body)))
	if err != nil {
		return "", eris.Wrapf(err, "static_http: decode %q", name)
	}
	return string(decoded), nil
}
