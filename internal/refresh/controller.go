// Package refresh drives the fetch → extract → normalize → replace cycle.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/onecockle/runedex/internal/detector"
	"github.com/onecockle/runedex/internal/extractor"
	"github.com/onecockle/runedex/internal/metrics"
	"github.com/onecockle/runedex/internal/runes"
	"github.com/onecockle/runedex/internal/store"
)

// Trigger identifies what started a refresh cycle.
const (
	TriggerManual = "manual"
	TriggerTimer  = "timer"
)

// Controller runs refresh cycles with a single-flight guarantee: a trigger
// arriving while a cycle is in flight is rejected, never queued, which
// bounds concurrent use of the expensive fetch resource. On any failure the
// store is left untouched and the typed error is returned; the controller
// never retries on its own.
type Controller struct {
	fetcher    runes.Fetcher
	extract    *extractor.Extractor
	normalize  *extractor.Normalizer
	challenge  *detector.Challenge
	cache      *store.Store
	hasher     runes.Hasher
	logger     *zap.Logger
	timeout    time.Duration
	running    atomic.Bool
	lastDigest atomic.Value
}

// New builds a Controller. timeout bounds the fetch step, the only safety
// valve against a runaway cycle.
func New(
	fetcher runes.Fetcher,
	extract *extractor.Extractor,
	normalize *extractor.Normalizer,
	challenge *detector.Challenge,
	cache *store.Store,
	hasher runes.Hasher,
	timeout time.Duration,
	logger *zap.Logger,
) *Controller {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Controller{
		fetcher:   fetcher,
		extract:   extract,
		normalize: normalize,
		challenge: challenge,
		cache:     cache,
		hasher:    hasher,
		logger:    logger,
		timeout:   timeout,
	}
}

// Run executes one refresh cycle and returns the new record count.
// Returns ErrRefreshBusy when a cycle is already in flight.
func (c *Controller) Run(ctx context.Context, trigger string) (int, error) {
	if !c.running.CompareAndSwap(false, true) {
		c.logger.Info("refresh rejected, another cycle in flight", zap.String("trigger", trigger))
		return 0, runes.ErrRefreshBusy
	}
	defer c.running.Store(false)

	start := time.Now()
	count, err := c.cycle(ctx, trigger)
	if err != nil {
		metrics.ObserveRefresh(trigger, outcome(err), time.Since(start))
		c.logger.Warn("refresh failed",
			zap.String("trigger", trigger),
			zap.Error(err),
		)
		return 0, err
	}

	metrics.ObserveRefresh(trigger, "success", time.Since(start))
	metrics.SetCachedRecords(count)
	c.logger.Info("refresh complete",
		zap.String("trigger", trigger),
		zap.Int("records", count),
		zap.Duration("took", time.Since(start)),
	)
	return count, nil
}

func (c *Controller) cycle(ctx context.Context, trigger string) (int, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	page, err := c.fetcher.Fetch(fetchCtx)
	if err != nil {
		return 0, err
	}
	// The rendered fetcher fails fast on interstitials itself; this covers
	// the plain HTTP path, where only the serialized body is available.
	if c.challenge.Blocked(page.HTML) {
		return 0, fmt.Errorf("%w: interstitial in fetched content", runes.ErrBlocked)
	}

	c.logDigest(trigger, page)

	candidates, err := c.extract.Extract(page.HTML)
	if err != nil {
		return 0, fmt.Errorf("%w: extract: %v", runes.ErrEmptyResult, err)
	}
	set, err := c.normalize.Normalize(candidates)
	if err != nil {
		return 0, err
	}

	if err := c.cache.Replace(set); err != nil {
		// The in-memory swap already happened; a mirror write failure only
		// costs warm restores, so the cycle still counts as a success.
		c.logger.Warn("refresh succeeded but mirror write failed", zap.Error(err))
	}
	return len(set), nil
}

// logDigest records the page content hash so identical source content shows
// up as an identical digest across cycles.
func (c *Controller) logDigest(trigger string, page runes.Page) {
	digest, err := c.hasher.Hash([]byte(page.HTML))
	if err != nil {
		return
	}
	prev, _ := c.lastDigest.Load().(string)
	c.lastDigest.Store(digest)
	c.logger.Debug("fetched source page",
		zap.String("trigger", trigger),
		zap.String("digest", digest),
		zap.Bool("content_changed", prev != "" && prev != digest),
		zap.Bool("rendered", page.Rendered),
		zap.Duration("fetch_took", page.Duration),
	)
}

// RunLoop fires timer-driven refresh cycles until ctx finishes. A tick that
// lands while a manual refresh is running is skipped by the single-flight
// guard. interval <= 0 disables the loop.
func (c *Controller) RunLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Run logs its own outcome; a timer tick has nobody to report to.
			_, _ = c.Run(ctx, TriggerTimer)
		}
	}
}

func outcome(err error) string {
	switch {
	case errors.Is(err, runes.ErrBlocked):
		return "blocked"
	case errors.Is(err, runes.ErrRenderTimeout):
		return "render_timeout"
	case errors.Is(err, runes.ErrEmptyResult):
		return "empty_result"
	case errors.Is(err, runes.ErrNetwork):
		return "network_error"
	default:
		return "error"
	}
}
