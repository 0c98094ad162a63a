// Package notify polls the source site's status widget and forwards state
// changes to chat webhooks.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/onecockle/runedex/internal/metrics"
	"github.com/onecockle/runedex/internal/runes"
)

// Config controls polling and delivery targets.
type Config struct {
	Selector    string
	WebhookURLs []string
	Interval    time.Duration
}

// Notifier watches one status element and posts {"text": ...} payloads to
// each webhook when the observed state changes. Delivery is best-effort:
// failures are counted and logged, never retried.
type Notifier struct {
	cfg     Config
	fetcher runes.Fetcher
	client  *resty.Client
	logger  *zap.Logger

	lastState string
}

// New builds a Notifier. fetcher must target the status page.
func New(cfg Config, fetcher runes.Fetcher, logger *zap.Logger) *Notifier {
	return &Notifier{
		cfg:     cfg,
		fetcher: fetcher,
		client:  resty.New().SetTimeout(10 * time.Second),
		logger:  logger,
	}
}

// Poll reads the widget once and fans out a notification when its state
// changed since the previous observation. The first observation only seeds
// the state.
func (n *Notifier) Poll(ctx context.Context) error {
	page, err := n.fetcher.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("fetch status page: %w", err)
	}
	state, err := n.extractState(page.HTML)
	if err != nil {
		return err
	}

	prev := n.lastState
	n.lastState = state
	if prev == "" || prev == state {
		return nil
	}

	n.logger.Info("status changed",
		zap.String("from", prev),
		zap.String("to", state),
	)
	n.deliver(ctx, fmt.Sprintf("서버 상태 변경: %s → %s", prev, state))
	return nil
}

func (n *Notifier) extractState(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse status page: %w", err)
	}
	sel := doc.Find(n.cfg.Selector).First()
	state := strings.TrimSpace(sel.Text())
	if state == "" {
		return "", fmt.Errorf("status selector %q matched nothing", n.cfg.Selector)
	}
	return state, nil
}

func (n *Notifier) deliver(ctx context.Context, text string) {
	for _, url := range n.cfg.WebhookURLs {
		resp, err := n.client.R().
			SetContext(ctx).
			SetBody(map[string]string{"text": text}).
			Post(url)
		if err != nil || resp.IsError() {
			metrics.ObserveWebhookDelivery("failure")
			n.logger.Warn("webhook delivery failed",
				zap.String("url", url),
				zap.Error(err),
			)
			continue
		}
		metrics.ObserveWebhookDelivery("success")
	}
}

// RunLoop polls on a ticker until ctx finishes. Returns immediately when no
// webhooks are configured or the interval is zero.
func (n *Notifier) RunLoop(ctx context.Context) {
	if len(n.cfg.WebhookURLs) == 0 || n.cfg.Interval <= 0 {
		return
	}
	ticker := time.NewTicker(n.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := n.Poll(ctx); err != nil {
				n.logger.Warn("status poll failed", zap.Error(err))
			}
		}
	}
}
