package main

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/outreach-cli/internal/extract"
	"github.com/sells-group/outreach-cli/internal/profile"
	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/internal/resolve"
	"github.com/sells-group/outreach-cli/internal/scrape"
	"github.com/sells-group/outreach-cli/internal/store"
)

// resolverEnv holds the store, shared browser allocator, and resolver used
// by the harvest/resolve/serve commands.
type resolverEnv struct {
	Store    store.Store     // nil when the store driver is "off"
	Browser  *scrape.Browser // nil when rendering is disabled
	Resolver *resolve.Resolver
}

// Close releases resources held by the resolver environment.
func (re *resolverEnv) Close() {
	if re.Browser != nil {
		re.Browser.Close()
	}
	if re.Store != nil {
		_ = re.Store.Close()
	}
}

// resolverOpts carries the per-command switches into initResolver.
type resolverOpts struct {
	StaticOnly bool
	Refresh    bool
	Profile    *profile.Profile // nil without --profile
}

// initResolver sets up the store, scrapers, and extractor, and builds the
// Resolver. Callers should defer env.Close().
func initResolver(ctx context.Context, opts resolverOpts) (*resolverEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	var limiter *rate.Limiter
	if cfg.Fetch.RatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Fetch.RatePerSec), cfg.Fetch.Burst)
	}

	static := scrape.NewStaticScraper(scrape.StaticOptions{
		UserAgent:    cfg.Fetch.UserAgent,
		Timeout:      time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
		MaxBodyBytes: cfg.Fetch.MaxBodyBytes,
		Limiter:      limiter,
	})

	// The render tier stays nil unless enabled; a nil Browser on the
	// resolver disables escalation entirely.
	var renderTier scrape.Scraper
	var browser *scrape.Browser
	if cfg.Render.Enabled && !opts.StaticOnly {
		idleWait := time.Duration(cfg.Render.IdleWaitMillis) * time.Millisecond
		if opts.Profile != nil && opts.Profile.IdleWait > 0 {
			idleWait = opts.Profile.IdleWait
		}
		browser = scrape.NewBrowser(scrape.BrowserOptions{
			UserAgent: cfg.Fetch.UserAgent,
			Headless:  cfg.Render.Headless,
			Timeout:   time.Duration(cfg.Render.TimeoutSecs) * time.Second,
			IdleWait:  idleWait,
		})
		renderTier = browser
	} else {
		zap.L().Info("render fallback disabled, static tier only")
	}

	var cache resolve.Cache
	if st != nil {
		cache = st
	}

	breaker := resilience.NewBreaker(resilience.BreakerConfig{
		Threshold: cfg.Render.BreakerThreshold,
		Cooldown:  time.Duration(cfg.Render.BreakerCooldownSecs) * time.Second,
	})

	res := resolve.New(resolve.Options{
		Static:       static,
		Browser:      renderTier,
		Extractor:    extract.New(opts.Profile.ExtractorOptions()),
		Cache:        cache,
		CacheTTL:     time.Duration(cfg.Store.CacheTTLHours) * time.Hour,
		Breaker:      breaker,
		ForceRefresh: opts.Refresh,
	})

	return &resolverEnv{
		Store:    st,
		Browser:  browser,
		Resolver: res,
	}, nil
}
