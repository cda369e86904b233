package scrape

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestStaticScraper_FetchesMarkup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`<html><body><a href="mailto:info@acme.test">write us</a></body></html>`))
	}))
	defer srv.Close()

	s := NewStaticScraper(StaticOptions{})
	result, err := s.Scrape(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, SourceStatic, result.Source)
	assert.Equal(t, srv.URL, result.URL)
	assert.Equal(t, 200, result.StatusCode)
	assert.Contains(t, result.HTML, "mailto:info@acme.test")
	assert.Equal(t, BlockNone, result.Block)
}

func TestStaticScraper_FinalURLAfterRedirect(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, srv.URL+"/landing", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/landing", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body>here</body></html>`))
	})

	s := NewStaticScraper(StaticOptions{})
	result, err := s.Scrape(context.Background(), srv.URL+"/start")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/start", result.URL)
	assert.Equal(t, srv.URL+"/landing", result.FinalURL)
}

func TestStaticScraper_SendsBrowserHeaders(t *testing.T) {
	var gotUA, gotAccept, gotLang string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotAccept = r.Header.Get("Accept")
		gotLang = r.Header.Get("Accept-Language")
		_, _ = w.Write([]byte(`<html></html>`))
	}))
	defer srv.Close()

	s := NewStaticScraper(StaticOptions{UserAgent: "TestAgent/2.0"})
	_, err := s.Scrape(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "TestAgent/2.0", gotUA)
	assert.Contains(t, gotAccept, "text/html")
	assert.Contains(t, gotLang, "en-US")
}

func TestStaticScraper_HTTP404(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(404)
		_, _ = w.Write([]byte(`<html><body>not found</body></html>`))
	}))
	defer srv.Close()

	s := NewStaticScraper(StaticOptions{})
	_, err := s.Scrape(context.Background(), srv.URL)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestStaticScraper_CloudflareRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cf-Ray", "abc123")
		w.WriteHeader(403)
		_, _ = w.Write([]byte(`<html><body>Access denied</body></html>`))
	}))
	defer srv.Close()

	s := NewStaticScraper(StaticOptions{})
	_, err := s.Scrape(context.Background(), srv.URL)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "blocked: cloudflare")
}

func TestStaticScraper_BlockRecordedOn200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`<html><body>Please complete the reCAPTCHA to continue</body></html>`))
	}))
	defer srv.Close()

	s := NewStaticScraper(StaticOptions{})
	result, err := s.Scrape(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, BlockCaptcha, result.Block)
	assert.Contains(t, result.HTML, "reCAPTCHA")
}

func TestStaticScraper_BodyCapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html><body>" + strings.Repeat("x", 4096) + "</body></html>"))
	}))
	defer srv.Close()

	s := NewStaticScraper(StaticOptions{MaxBodyBytes: 1024})
	result, err := s.Scrape(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Len(t, result.HTML, 1024)
}

func TestStaticScraper_CharsetDecoded(t *testing.T) {
	// "café" in ISO-8859-1: the é is a single 0xE9 byte.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=iso-8859-1")
		_, _ = w.Write([]byte("<html><body>caf\xe9</body></html>"))
	}))
	defer srv.Close()

	s := NewStaticScraper(StaticOptions{})
	result, err := s.Scrape(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Contains(t, result.HTML, "café")
}

func TestStaticScraper_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	s := NewStaticScraper(StaticOptions{})
	_, err := s.Scrape(context.Background(), url)
	assert.Error(t, err)
}

func TestStaticScraper_RateLimiterHonored(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html></html>`))
	}))
	defer srv.Close()

	// 10 req/s with burst 1: three sequential fetches need two refill waits.
	s := NewStaticScraper(StaticOptions{Limiter: rate.NewLimiter(10, 1)})
	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := s.Scrape(context.Background(), srv.URL)
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestStaticScraper_Name(t *testing.T) {
	s := NewStaticScraper(StaticOptions{})
	assert.Equal(t, "static_http", s.Name())
}

func TestStaticScraper_Supports(t *testing.T) {
	s := NewStaticScraper(StaticOptions{})
	assert.True(t, s.Supports("https://example.com"))
	assert.True(t, s.Supports("http://localhost"))
	assert.False(t, s.Supports("ftp://example.com"))
}

func TestNormalizeURL(t *testing.T) {
	got, err := NormalizeURL("example.com")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/", got)

	got, err = NormalizeURL("  https://example.com/contact  ")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/contact", got)

	got, err = NormalizeURL("http://example.com")
	require.NoError(t, err)
	assert.Equal(t, "http://example.com/", got)
}

func TestDecodeCharset_PassThrough(t *testing.T) {
	out, err := decodeCharset([]byte("plain utf-8 text"), "text/html; charset=utf-8")
	require.NoError(t, err)
	assert.Equal(t, "plain utf-8 text", out)

	out, err = decodeCharset([]byte("no header"), "")
	require.NoError(t, err)
	assert.Equal(t, "no header", out)
}

func TestDecodeCharset_UnknownCharset(t *testing.T) {
	_, err := decodeCharset([]byte("body"), "text/html; charset=not-a-charset")
	assert.Error(t, err)
}
