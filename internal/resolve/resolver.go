// Package resolve turns a website URL into its set of publicly listed email
// addresses, escalating from plain HTTP to a headless render only when the
// cheap pass comes back empty.
package resolve

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/extract"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/internal/scrape"
)

// Cache reads and writes resolved URLs across runs. It is the store subset
// the resolver needs; implementations return (nil, nil) on a miss or an
// expired entry.
type Cache interface {
	GetCachedResolution(ctx context.Context, url string) (*model.Resolution, error)
	PutResolution(ctx context.Context, res *model.Resolution, ttl time.Duration) error
}

// Options wires a Resolver. Static is required; everything else degrades
// gracefully when absent.
type Options struct {
	// Static is the first-pass scraper.
	Static scrape.Scraper

	// Browser is the render fallback. Nil disables escalation.
	Browser scrape.Scraper

	// Extractor finds addresses in fetched markup. Nil gets a default.
	Extractor *extract.Extractor

	// Cache short-circuits repeat URLs. Nil disables caching.
	Cache Cache

	// CacheTTL is how long a written resolution stays fresh.
	CacheTTL time.Duration

	// Breaker guards the render tier. Nil disables breaking.
	Breaker *resilience.Breaker

	// ForceRefresh bypasses cache reads (writes still happen).
	ForceRefresh bool
}

// Resolver resolves one URL at a time and is safe for concurrent use.
type Resolver struct {
	static    scrape.Scraper
	browser   scrape.Scraper
	extractor *extract.Extractor
	cache     Cache
	cacheTTL  time.Duration
	breaker   *resilience.Breaker
	refresh   bool
}

// New creates a Resolver from opts.
func New(opts Options) *Resolver {
	if opts.Extractor == nil {
		opts.Extractor = extract.New(extract.Options{})
	}
	return &Resolver{
		static:    opts.Static,
		browser:   opts.Browser,
		extractor: opts.Extractor,
		cache:     opts.Cache,
		cacheTTL:  opts.CacheTTL,
		breaker:   opts.Breaker,
		refresh:   opts.ForceRefresh,
	}
}

// Resolve fetches the URL and extracts its addresses. A static fetch failure
// is the only error path; the render tier never fails a resolution, it can
// only add addresses.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) (*model.Resolution, error) {
	pageURL, err := scrape.NormalizeURL(rawURL)
	if err != nil {
		return nil, eris.Wrapf(err, "resolve: bad url %q", rawURL)
	}

	if r.cache != nil && !r.refresh {
		if cached := r.cacheRead(ctx, pageURL); cached != nil {
			return cached, nil
		}
	}

	page, err := r.static.Scrape(ctx, pageURL)
	if err != nil {
		return nil, eris.Wrapf(err, "resolve: static fetch %s", pageURL)
	}
	if page.Block != scrape.BlockNone {
		zap.L().Warn("static fetch looks blocked",
			zap.String("url", pageURL),
			zap.String("block", string(page.Block)),
		)
	}

	emails := r.extractor.Extract(page.HTML)
	finalURL := page.FinalURL
	tier := model.TierStatic

	if len(emails) == 0 && r.browser != nil {
		if rendered := r.renderFallback(ctx, finalURL); rendered != nil {
			emails = r.extractor.Extract(rendered.HTML)
			if rendered.FinalURL != "" {
				finalURL = rendered.FinalURL
			}
			tier = model.TierRendered
		}
	}

	if emails == nil {
		emails = []string{}
	}

	now := time.Now().UTC()
	res := &model.Resolution{
		ID:         uuid.NewString(),
		URL:        pageURL,
		FinalURL:   finalURL,
		Emails:     emails,
		Tier:       tier,
		ResolvedAt: now,
		ExpiresAt:  now.Add(r.cacheTTL),
	}

	if r.cache != nil {
		if err := r.cache.PutResolution(ctx, res, r.cacheTTL); err != nil {
			zap.L().Warn("cache write failed",
				zap.String("url", pageURL),
				zap.Error(err),
			)
		}
	}

	return res, nil
}

// cacheRead returns a fresh cached resolution or nil. Read failures only log;
// a broken cache must not take fetching down with it.
func (r *Resolver) cacheRead(ctx context.Context, pageURL string) *model.Resolution {
	cached, err := r.cache.GetCachedResolution(ctx, pageURL)
	if err != nil {
		zap.L().Warn("cache read failed",
			zap.String("url", pageURL),
			zap.Error(err),
		)
		return nil
	}
	if cached == nil {
		return nil
	}
	cached.Tier = model.TierCached
	zap.L().Debug("cache hit",
		zap.String("url", pageURL),
		zap.Int("emails", len(cached.Emails)),
	)
	return cached
}

// renderFallback runs the browser tier and absorbs every failure. Returns nil
// when rendering is skipped or failed.
func (r *Resolver) renderFallback(ctx context.Context, pageURL string) *scrape.Result {
	if !r.browser.Supports(pageURL) {
		return nil
	}

	render := func(ctx context.Context) (*scrape.Result, error) {
		return r.browser.Scrape(ctx, pageURL)
	}

	var rendered *scrape.Result
	var err error
	if r.breaker != nil {
		rendered, err = resilience.ExecuteVal(ctx, r.breaker, render)
	} else {
		rendered, err = render(ctx)
	}
	if err != nil {
		if eris.Is(err, resilience.ErrBreakerOpen) {
			zap.L().Warn("render fallback skipped, breaker open",
				zap.String("url", pageURL),
			)
		} else {
			zap.L().Warn("render fallback failed",
				zap.String("url", pageURL),
				zap.Error(err),
			)
		}
		return nil
	}
	return rendered
}
