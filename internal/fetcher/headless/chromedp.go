// Package headless implements the rendered fetch strategy using chromedp.
package headless

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"

	"github.com/onecockle/runedex/internal/detector"
	"github.com/onecockle/runedex/internal/runes"
)

// Config controls the behavior of the headless fetcher.
type Config struct {
	URL            string
	UserAgent      string
	NavTimeout     time.Duration
	MarkerWait     time.Duration
	SettleDelay    time.Duration
	MarkerSelector string
}

// Fetcher renders the source page with a headless browser and returns the
// live DOM serialized to HTML. One browser process is kept alive across
// fetches; if it dies, the next fetch relaunches it transparently.
//
// Concurrent use is serialized: the browser is the expensive shared
// resource, and the refresh controller's single-flight guarantee means at
// most one fetch should be in flight anyway.
type Fetcher struct {
	cfg      Config
	detector *detector.Challenge
	clock    runes.Clock

	mu          sync.Mutex
	allocator   context.Context
	allocCancel context.CancelFunc
	browser     context.Context
	browserStop context.CancelFunc
}

// New creates a headless fetcher backed by chromedp. The browser is not
// launched until the first Fetch.
func New(cfg Config, det *detector.Challenge, clock runes.Clock) (*Fetcher, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("headless fetcher requires a target URL")
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 45 * time.Second
	}
	if cfg.MarkerWait <= 0 {
		cfg.MarkerWait = 45 * time.Second
	}
	return &Fetcher{
		cfg:      cfg,
		detector: det,
		clock:    clock,
	}, nil
}

// Close shuts the browser down.
func (f *Fetcher) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.teardownLocked()
}

// Fetch navigates to the target and waits for real content to appear.
func (f *Fetcher) Fetch(ctx context.Context) (runes.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	page, err := f.fetchLocked(ctx)
	if err != nil && browserDied(f.browser) {
		// The browser process went away under us. Relaunch once and retry;
		// a second failure is reported to the caller.
		f.teardownLocked()
		return f.fetchLocked(ctx)
	}
	return page, err
}

func (f *Fetcher) fetchLocked(ctx context.Context) (runes.Page, error) {
	if err := f.ensureBrowserLocked(); err != nil {
		return runes.Page{}, err
	}

	tabCtx, tabCancel := chromedp.NewContext(f.browser)
	defer tabCancel()
	tabCtx, cancel := context.WithTimeout(tabCtx, f.cfg.NavTimeout+f.cfg.MarkerWait)
	defer cancel()

	stop := context.AfterFunc(ctx, tabCancel)
	defer stop()

	start := time.Now()
	if err := chromedp.Run(tabCtx,
		f.userAgentAction(),
		chromedp.Navigate(f.cfg.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return runes.Page{}, fmt.Errorf("%w: navigate: %v", runes.ErrNetwork, err)
	}

	html, err := f.awaitContent(tabCtx)
	if err != nil {
		return runes.Page{}, err
	}

	return runes.Page{
		URL:       f.cfg.URL,
		HTML:      html,
		FetchedAt: f.clock.Now(),
		Rendered:  true,
		Duration:  time.Since(start),
	}, nil
}

// awaitContent polls the rendered DOM until the content marker appears, the
// page turns out to be a challenge interstitial, or the bounded wait runs
// out. With no marker selector configured it falls back to a fixed settle
// delay tuned to the site's challenge duration.
func (f *Fetcher) awaitContent(ctx context.Context) (string, error) {
	if f.cfg.MarkerSelector == "" {
		select {
		case <-time.After(f.cfg.SettleDelay):
		case <-ctx.Done():
			return "", fmt.Errorf("%w: settle wait: %v", runes.ErrRenderTimeout, ctx.Err())
		}
		return f.snapshot(ctx)
	}

	deadline := time.NewTimer(f.cfg.MarkerWait)
	defer deadline.Stop()
	tick := time.NewTicker(time.Second)
	defer tick.Stop()

	for {
		// snapshot fails fast with ErrBlocked on a challenge interstitial.
		if _, err := f.snapshot(ctx); err != nil {
			return "", err
		}
		present, err := f.markerPresent(ctx)
		if err != nil {
			return "", err
		}
		if present {
			return f.snapshot(ctx)
		}

		select {
		case <-deadline.C:
			return "", fmt.Errorf("%w: marker %q never appeared within %s",
				runes.ErrRenderTimeout, f.cfg.MarkerSelector, f.cfg.MarkerWait)
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %v", runes.ErrRenderTimeout, ctx.Err())
		case <-tick.C:
		}
	}
}

func (f *Fetcher) snapshot(ctx context.Context) (string, error) {
	var html string
	if err := chromedp.Run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("%w: read DOM: %v", runes.ErrRenderTimeout, err)
	}
	if f.detector.Blocked(html) {
		return "", fmt.Errorf("%w: challenge interstitial detected", runes.ErrBlocked)
	}
	return html, nil
}

func (f *Fetcher) markerPresent(ctx context.Context) (bool, error) {
	var present bool
	expr := fmt.Sprintf("document.querySelector(%q) !== null", f.cfg.MarkerSelector)
	if err := chromedp.Run(ctx, chromedp.Evaluate(expr, &present)); err != nil {
		return false, fmt.Errorf("%w: probe marker: %v", runes.ErrRenderTimeout, err)
	}
	return present, nil
}

func (f *Fetcher) userAgentAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if f.cfg.UserAgent == "" {
			return nil
		}
		if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		return nil
	})
}

func (f *Fetcher) ensureBrowserLocked() error {
	if f.browser != nil && !browserDied(f.browser) {
		return nil
	}
	f.teardownLocked()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserStop := chromedp.NewContext(allocCtx)

	// Start the browser now so launch failures surface here, not mid-fetch.
	if err := chromedp.Run(browserCtx); err != nil {
		browserStop()
		allocCancel()
		return fmt.Errorf("%w: launch browser: %v", runes.ErrNetwork, err)
	}

	f.allocator = allocCtx
	f.allocCancel = allocCancel
	f.browser = browserCtx
	f.browserStop = browserStop
	return nil
}

func (f *Fetcher) teardownLocked() {
	if f.browserStop != nil {
		f.browserStop()
		f.browserStop = nil
	}
	if f.allocCancel != nil {
		f.allocCancel()
		f.allocCancel = nil
	}
	f.browser = nil
	f.allocator = nil
}

func browserDied(browser context.Context) bool {
	return browser != nil && browser.Err() != nil
}
