// Package static implements the plain-HTTP fetch strategy using gocolly.
package static

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/onecockle/runedex/internal/runes"
)

// Config controls collector behavior.
type Config struct {
	URL            string
	UserAgent      string
	AcceptLanguage string
	Timeout        time.Duration
}

// Fetcher issues a single GET against the source page and returns the
// serialized HTML. Failures (transport, timeout, non-2xx) are reported as
// runes.ErrNetwork.
type Fetcher struct {
	cfg       Config
	clock     runes.Clock
	transport http.RoundTripper
}

// New builds a Fetcher.
func New(cfg Config, clock runes.Clock) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	return &Fetcher{
		cfg:       cfg,
		clock:     clock,
		transport: newHTTPTransport(),
	}
}

// Fetch executes one HTTP GET using Colly.
func (f *Fetcher) Fetch(ctx context.Context) (runes.Page, error) {
	collector := colly.NewCollector(colly.Async(false))
	collector.IgnoreRobotsTxt = true
	collector.SetRequestTimeout(f.cfg.Timeout)
	collector.WithTransport(f.transport)
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}

	var (
		body     []byte
		finalURL string
		fetchErr error
	)
	start := time.Now()

	collector.OnRequest(func(r *colly.Request) {
		if f.cfg.AcceptLanguage != "" {
			r.Headers.Set("Accept-Language", f.cfg.AcceptLanguage)
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		if r.StatusCode < 200 || r.StatusCode > 299 {
			fetchErr = fmt.Errorf("%w: status %d", runes.ErrNetwork, r.StatusCode)
			return
		}
		body = append([]byte(nil), r.Body...)
		finalURL = r.Request.URL.String()
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			fetchErr = fmt.Errorf("%w: status %d: %v", runes.ErrNetwork, r.StatusCode, err)
			return
		}
		fetchErr = fmt.Errorf("%w: %v", runes.ErrNetwork, err)
	})

	if err := f.visit(ctx, collector); err != nil {
		return runes.Page{}, err
	}
	if fetchErr != nil {
		return runes.Page{}, fetchErr
	}

	return runes.Page{
		URL:       finalURL,
		HTML:      string(body),
		FetchedAt: f.clock.Now(),
		Rendered:  false,
		Duration:  time.Since(start),
	}, nil
}

func (f *Fetcher) visit(ctx context.Context, collector *colly.Collector) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(f.cfg.URL)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: fetch canceled: %v", runes.ErrNetwork, ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("%w: %v", runes.ErrNetwork, err)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
