package scrape

import (
	"context"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const SourceBrowser = "browser_render"

// BrowserOptions configures the headless renderer. Zero values fall back to
// defaults.
type BrowserOptions struct {
	UserAgent string
	Headless  bool
	// Timeout bounds a single render, navigation included.
	Timeout time.Duration
	// IdleWait caps how long to wait after load for the network to go idle.
	IdleWait time.Duration
}

// Browser renders pages in headless Chrome and returns the markup after
// JavaScript has run. The Chrome process is shared; each Scrape opens and
// closes its own tab.
type Browser struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	timeout     time.Duration
	idleWait    time.Duration
}

// NewBrowser creates a Browser backed by a single exec allocator. Call Close
// to shut the Chrome process down.
func NewBrowser(opts BrowserOptions) *Browser {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.IdleWait <= 0 {
		opts.IdleWait = 3 * time.Second
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}

	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)

	return &Browser{
		allocCtx:    allocCtx,
		allocCancel: cancel,
		timeout:     opts.Timeout,
		idleWait:    opts.IdleWait,
	}
}

func (b *Browser) Name() string { return SourceBrowser }

func (b *Browser) Supports(pageURL string) bool {
	return strings.HasPrefix(pageURL, "http://") || strings.HasPrefix(pageURL, "https://")
}

// Scrape renders the page in a fresh tab and returns the post-JavaScript
// markup. The tab is released on every path; the shared Chrome process stays
// up until Close.
func (b *Browser) Scrape(ctx context.Context, targetURL string) (*Result, error) {
	tabCtx, cancelTab := chromedp.NewContext(b.allocCtx)
	defer cancelTab()

	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, b.timeout)
	defer cancelTimeout()

	// Tab contexts descend from the allocator, so propagate the caller's
	// cancellation by hand.
	go func() {
		select {
		case <-ctx.Done():
			cancelTab()
		case <-tabCtx.Done():
		}
	}()

	// One-slot signal; a stale networkIdle from the initial blank target is
	// drained before navigating so a real one is never lost.
	idle := make(chan struct{}, 1)
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		if e, ok := ev.(*page.EventLifecycleEvent); ok && e.Name == "networkIdle" {
			select {
			case idle <- struct{}{}:
			default:
			}
		}
	})

	start := time.Now()

	var markup, finalURL string
	err := chromedp.Run(tabCtx,
		page.Enable(),
		page.SetLifecycleEventsEnabled(true),
		chromedp.ActionFunc(func(context.Context) error {
			drainIdle(idle)
			return nil
		}),
		chromedp.Navigate(targetURL),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return waitIdle(ctx, idle, b.idleWait)
		}),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &markup),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "browser_render: render %s", targetURL)
	}

	zap.L().Debug("page rendered",
		zap.String("url", targetURL),
		zap.Duration("took", time.Since(start)))

	return &Result{
		URL:      targetURL,
		FinalURL: finalURL,
		HTML:     markup,
		Source:   SourceBrowser,
	}, nil
}

// drainIdle discards a signal left over from a previous target. Called
// before navigating, so a networkIdle that fires for the new page is kept
// even when it lands before the wait starts.
func drainIdle(idle <-chan struct{}) {
	select {
	case <-idle:
	default:
	}
}

// waitIdle blocks until a networkIdle signal arrives, the cap elapses, or
// ctx is done.
func waitIdle(ctx context.Context, idle <-chan struct{}, limit time.Duration) error {
	select {
	case <-idle:
		return nil
	case <-time.After(limit):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close shuts down the shared Chrome process.
func (b *Browser) Close() {
	b.allocCancel()
}
