package resolve

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/internal/scrape"
)

type stubScraper struct {
	name    string
	result  *scrape.Result
	err     error
	calls   int
	lastURL string
}

func (s *stubScraper) Scrape(_ context.Context, pageURL string) (*scrape.Result, error) {
	s.calls++
	s.lastURL = pageURL
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func (s *stubScraper) Name() string         { return s.name }
func (s *stubScraper) Supports(string) bool { return true }

type stubCache struct {
	entries map[string]*model.Resolution
	getErr  error
	putErr  error
	puts    []*model.Resolution
}

func newStubCache() *stubCache {
	return &stubCache{entries: make(map[string]*model.Resolution)}
}

func (c *stubCache) GetCachedResolution(_ context.Context, url string) (*model.Resolution, error) {
	if c.getErr != nil {
		return nil, c.getErr
	}
	return c.entries[url], nil
}

func (c *stubCache) PutResolution(_ context.Context, res *model.Resolution, _ time.Duration) error {
	if c.putErr != nil {
		return c.putErr
	}
	c.puts = append(c.puts, res)
	c.entries[res.URL] = res
	return nil
}

func staticPage(html string) *scrape.Result {
	return &scrape.Result{
		FinalURL:   "https://example.com/",
		StatusCode: 200,
		HTML:       html,
		Source:     scrape.SourceStatic,
	}
}

func TestResolve_StaticHitSkipsBrowser(t *testing.T) {
	static := &stubScraper{name: "static_http", result: staticPage(
		`<html><body><a href="mailto:info@example.com">write</a></body></html>`)}
	browser := &stubScraper{name: "browser_render"}

	r := New(Options{Static: static, Browser: browser})
	res, err := r.Resolve(context.Background(), "https://example.com")
	require.NoError(t, err)

	assert.Equal(t, []string{"info@example.com"}, res.Emails)
	assert.Equal(t, model.TierStatic, res.Tier)
	assert.Equal(t, 1, static.calls)
	assert.Equal(t, 0, browser.calls, "browser must not run when static found addresses")
}

func TestResolve_EscalatesOnEmptyStatic(t *testing.T) {
	static := &stubScraper{name: "static_http", result: &scrape.Result{
		FinalURL: "https://example.com/landing",
		HTML:     `<html><body><div id="root"></div></body></html>`,
	}}
	browser := &stubScraper{name: "browser_render", result: &scrape.Result{
		FinalURL: "https://example.com/landing",
		HTML:     `<html><body>contact us at hello@example.com</body></html>`,
	}}

	r := New(Options{Static: static, Browser: browser})
	res, err := r.Resolve(context.Background(), "https://example.com")
	require.NoError(t, err)

	assert.Equal(t, []string{"hello@example.com"}, res.Emails)
	assert.Equal(t, model.TierRendered, res.Tier)
	assert.Equal(t, 1, browser.calls)
	// The render runs against the post-redirect URL, not the original.
	assert.Equal(t, "https://example.com/landing", browser.lastURL)
}

func TestResolve_StaticFailureNoEscalation(t *testing.T) {
	static := &stubScraper{name: "static_http", err: errors.New("status 404")}
	browser := &stubScraper{name: "browser_render"}

	r := New(Options{Static: static, Browser: browser})
	_, err := r.Resolve(context.Background(), "https://example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "static fetch")
	assert.Equal(t, 0, browser.calls, "a failed fetch must not fall through to rendering")
}

func TestResolve_RenderFailureAbsorbed(t *testing.T) {
	static := &stubScraper{name: "static_http", result: staticPage(`<html><body>nothing</body></html>`)}
	browser := &stubScraper{name: "browser_render", err: errors.New("chrome crashed")}

	r := New(Options{Static: static, Browser: browser})
	res, err := r.Resolve(context.Background(), "https://example.com")
	require.NoError(t, err, "render failures must not fail the resolution")

	assert.Equal(t, []string{}, res.Emails)
	assert.Equal(t, model.TierStatic, res.Tier)
	assert.Equal(t, 1, browser.calls)
}

func TestResolve_RenderedStillEmpty(t *testing.T) {
	static := &stubScraper{name: "static_http", result: staticPage(`<html></html>`)}
	browser := &stubScraper{name: "browser_render", result: &scrape.Result{
		HTML: `<html><body>still no addresses</body></html>`,
	}}

	r := New(Options{Static: static, Browser: browser})
	res, err := r.Resolve(context.Background(), "https://example.com")
	require.NoError(t, err)

	assert.NotNil(t, res.Emails)
	assert.Empty(t, res.Emails)
	assert.Equal(t, model.TierRendered, res.Tier)
}

func TestResolve_NoBrowserConfigured(t *testing.T) {
	static := &stubScraper{name: "static_http", result: staticPage(`<html></html>`)}

	r := New(Options{Static: static})
	res, err := r.Resolve(context.Background(), "https://example.com")
	require.NoError(t, err)
	assert.Empty(t, res.Emails)
	assert.Equal(t, model.TierStatic, res.Tier)
}

func TestResolve_CacheShortCircuits(t *testing.T) {
	cache := newStubCache()
	cache.entries["https://example.com/"] = &model.Resolution{
		URL:    "https://example.com/",
		Emails: []string{"cached@example.com"},
		Tier:   model.TierStatic,
	}
	static := &stubScraper{name: "static_http"}

	r := New(Options{Static: static, Cache: cache})
	res, err := r.Resolve(context.Background(), "https://example.com")
	require.NoError(t, err)

	assert.Equal(t, []string{"cached@example.com"}, res.Emails)
	assert.Equal(t, model.TierCached, res.Tier)
	assert.Equal(t, 0, static.calls, "cache hit must skip the fetch entirely")
}

func TestResolve_ForceRefreshBypassesCache(t *testing.T) {
	cache := newStubCache()
	cache.entries["https://example.com/"] = &model.Resolution{
		URL:    "https://example.com/",
		Emails: []string{"stale@example.com"},
	}
	static := &stubScraper{name: "static_http", result: staticPage(
		`<html><body>fresh@example.com</body></html>`)}

	r := New(Options{Static: static, Cache: cache, ForceRefresh: true})
	res, err := r.Resolve(context.Background(), "https://example.com")
	require.NoError(t, err)

	assert.Equal(t, []string{"fresh@example.com"}, res.Emails)
	assert.Equal(t, 1, static.calls)
}

func TestResolve_CachesEmptySets(t *testing.T) {
	cache := newStubCache()
	static := &stubScraper{name: "static_http", result: staticPage(`<html></html>`)}

	r := New(Options{Static: static, Cache: cache, CacheTTL: time.Hour})
	res, err := r.Resolve(context.Background(), "https://example.com")
	require.NoError(t, err)
	assert.Empty(t, res.Emails)

	require.Len(t, cache.puts, 1, "an empty set is a real answer and gets cached")
	assert.Equal(t, res.ExpiresAt, res.ResolvedAt.Add(time.Hour))
}

func TestResolve_FailuresNotCached(t *testing.T) {
	cache := newStubCache()
	static := &stubScraper{name: "static_http", err: errors.New("no such host")}

	r := New(Options{Static: static, Cache: cache})
	_, err := r.Resolve(context.Background(), "https://example.com")
	require.Error(t, err)
	assert.Empty(t, cache.puts)
}

func TestResolve_CacheErrorsDoNotFailResolution(t *testing.T) {
	cache := newStubCache()
	cache.getErr = errors.New("database is locked")
	cache.putErr = errors.New("database is locked")
	static := &stubScraper{name: "static_http", result: staticPage(
		`<html><body>team@example.com</body></html>`)}

	r := New(Options{Static: static, Cache: cache})
	res, err := r.Resolve(context.Background(), "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"team@example.com"}, res.Emails)
}

func TestResolve_BreakerSkipsRenderWhenOpen(t *testing.T) {
	breaker := resilience.NewBreaker(resilience.BreakerConfig{Threshold: 1, Cooldown: time.Hour})
	breaker.Record(errors.New("prior failure"))

	static := &stubScraper{name: "static_http", result: staticPage(`<html></html>`)}
	browser := &stubScraper{name: "browser_render", result: &scrape.Result{
		HTML: `<html><body>never@example.com</body></html>`,
	}}

	r := New(Options{Static: static, Browser: browser, Breaker: breaker})
	res, err := r.Resolve(context.Background(), "https://example.com")
	require.NoError(t, err)

	assert.Empty(t, res.Emails)
	assert.Equal(t, 0, browser.calls, "open breaker must skip the render tier")
}

func TestResolve_BreakerTripsOnRenderFailures(t *testing.T) {
	breaker := resilience.NewBreaker(resilience.BreakerConfig{Threshold: 2, Cooldown: time.Hour})
	static := &stubScraper{name: "static_http", result: staticPage(`<html></html>`)}
	browser := &stubScraper{name: "browser_render", err: errors.New("chrome wedged")}

	r := New(Options{Static: static, Browser: browser, Breaker: breaker})
	for i := 0; i < 4; i++ {
		_, err := r.Resolve(context.Background(), "https://example.com")
		require.NoError(t, err)
	}

	// Two failures trip the breaker; the last two resolutions skip the tier.
	assert.Equal(t, 2, browser.calls)
}

func TestResolve_BadURL(t *testing.T) {
	static := &stubScraper{name: "static_http"}
	r := New(Options{Static: static})

	_, err := r.Resolve(context.Background(), "https://exa mple.com/%zz")
	require.Error(t, err)
	assert.Equal(t, 0, static.calls)
}

func TestResolve_BareDomainNormalized(t *testing.T) {
	static := &stubScraper{name: "static_http", result: staticPage(
		`<html><body>sales@example.com</body></html>`)}

	r := New(Options{Static: static})
	res, err := r.Resolve(context.Background(), "example.com")
	require.NoError(t, err)

	assert.Equal(t, "https://example.com/", static.lastURL)
	assert.Equal(t, "https://example.com/", res.URL)
}
