package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/onecockle/runedex/internal/runes"
)

// RemoteLoader pulls the record set from a remote authoritative JSON feed,
// an alternative to scraping when a maintained feed exists.
type RemoteLoader struct {
	url    string
	client *resty.Client
}

// NewRemoteLoader builds a loader for the given feed URL. An empty URL
// yields a nil loader, which callers treat as "not configured".
func NewRemoteLoader(url string, timeout time.Duration) *RemoteLoader {
	if url == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &RemoteLoader{
		url: url,
		client: resty.New().
			SetTimeout(timeout).
			SetHeader("Cache-Control", "no-store"),
	}
}

// URL returns the configured feed address.
func (l *RemoteLoader) URL() string {
	if l == nil {
		return ""
	}
	return l.url
}

// Load fetches and decodes the feed. The body must be a JSON array.
func (l *RemoteLoader) Load(ctx context.Context) (runes.RecordSet, error) {
	resp, err := l.client.R().SetContext(ctx).Get(l.url)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch remote feed: %v", runes.ErrNetwork, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: remote feed status %d", runes.ErrNetwork, resp.StatusCode())
	}

	var set runes.RecordSet
	if err := json.Unmarshal(resp.Body(), &set); err != nil {
		return nil, fmt.Errorf("decode remote feed: %w", err)
	}
	// "null" decodes to a nil set without error; only an array counts.
	if set == nil {
		return nil, fmt.Errorf("decode remote feed: body is not a JSON array")
	}
	return set, nil
}

// Warm fills the store at startup: remote feed first when configured, the
// disk mirror as fallback, otherwise the store stays empty pending a
// manual refresh.
func Warm(ctx context.Context, s *Store, loader *RemoteLoader, logger *zap.Logger) {
	if loader != nil {
		set, err := loader.Load(ctx)
		if err == nil {
			if err := s.Replace(set); err != nil {
				logger.Warn("mirror write after remote load failed", zap.Error(err))
			}
			logger.Info("loaded records from remote feed", zap.Int("items", len(set)))
			return
		}
		logger.Warn("remote feed load failed, falling back to disk", zap.Error(err))
	}

	restored, err := s.Restore()
	if err != nil {
		logger.Warn("disk mirror restore failed", zap.Error(err))
		return
	}
	if restored {
		logger.Info("restored records from disk mirror", zap.Int("items", s.Items()))
		return
	}
	logger.Warn("no cached records available, waiting for first refresh")
}
