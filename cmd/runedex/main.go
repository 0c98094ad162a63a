// Package main wires together the rune service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/onecockle/runedex/internal/api"
	"github.com/onecockle/runedex/internal/clock/system"
	"github.com/onecockle/runedex/internal/config"
	"github.com/onecockle/runedex/internal/detector"
	"github.com/onecockle/runedex/internal/extractor"
	"github.com/onecockle/runedex/internal/fetcher/headless"
	"github.com/onecockle/runedex/internal/fetcher/static"
	"github.com/onecockle/runedex/internal/gemini"
	"github.com/onecockle/runedex/internal/hash/sha256"
	"github.com/onecockle/runedex/internal/logging"
	"github.com/onecockle/runedex/internal/metrics"
	"github.com/onecockle/runedex/internal/notify"
	"github.com/onecockle/runedex/internal/refresh"
	"github.com/onecockle/runedex/internal/runes"
	"github.com/onecockle/runedex/internal/search"
	"github.com/onecockle/runedex/internal/store"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	clock := system.New()
	hasher := sha256.New()
	challenge := detector.NewChallenge(cfg.Headless.ChallengeMarkers, cfg.Scrape.Fields.Row)

	fetcher, closeFetcher, err := buildFetcher(cfg, challenge, clock)
	if err != nil {
		logger.Fatal("fetcher init failed", zap.Error(err))
	}
	defer closeFetcher()

	extract, err := extractor.New(extractor.Mapping{
		Row:      cfg.Scrape.Fields.Row,
		Name:     cfg.Scrape.Fields.Name,
		Category: cfg.Scrape.Fields.Category,
		Grade:    cfg.Scrape.Fields.Grade,
		Desc:     cfg.Scrape.Fields.Desc,
		Img:      cfg.Scrape.Fields.Img,
	})
	if err != nil {
		logger.Fatal("extractor init failed", zap.Error(err))
	}
	normalize := extractor.NewNormalizer(cfg.Scrape.Origin)

	cache := store.New(cfg.Store.CacheFile, clock, logger.Named("store"))
	remote := store.NewRemoteLoader(cfg.Store.RemoteJSONURL, cfg.ScrapeTimeout())
	store.Warm(ctx, cache, remote, logger.Named("store"))
	metrics.SetCachedRecords(cache.Items())

	controller := refresh.New(
		fetcher,
		extract,
		normalize,
		challenge,
		cache,
		hasher,
		cfg.ScrapeTimeout()+time.Duration(cfg.Headless.MarkerWaitSec)*time.Second,
		logger.Named("refresh"),
	)
	searcher := search.New(cache)
	ai := gemini.New(cfg.Gemini.APIKey, cfg.Gemini.Model, time.Duration(cfg.Gemini.TimeoutSeconds)*time.Second)

	apiServer := api.NewServer(cache, searcher, controller, remote, ai, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go controller.RunLoop(ctx, cfg.RefreshInterval())
	go runNotifier(ctx, cfg, clock, logger)

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

// buildFetcher picks the fetch strategy for the deployment: a rendered
// browser session when the source needs JS, a plain GET otherwise.
func buildFetcher(cfg config.Config, challenge *detector.Challenge, clock runes.Clock) (runes.Fetcher, func(), error) {
	if cfg.Headless.Enabled {
		f, err := headless.New(headless.Config{
			URL:            cfg.Scrape.URL,
			UserAgent:      cfg.Scrape.UserAgent,
			NavTimeout:     time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
			MarkerWait:     time.Duration(cfg.Headless.MarkerWaitSec) * time.Second,
			SettleDelay:    time.Duration(cfg.Headless.SettleDelayMs) * time.Millisecond,
			MarkerSelector: cfg.Headless.MarkerSelector,
		}, challenge, clock)
		if err != nil {
			return nil, nil, err
		}
		return f, f.Close, nil
	}

	f := static.New(static.Config{
		URL:            cfg.Scrape.URL,
		UserAgent:      cfg.Scrape.UserAgent,
		AcceptLanguage: cfg.Scrape.AcceptLanguage,
		Timeout:        cfg.ScrapeTimeout(),
	}, clock)
	return f, func() {}, nil
}

func runNotifier(ctx context.Context, cfg config.Config, clock runes.Clock, logger *zap.Logger) {
	if len(cfg.Notify.WebhookURLs) == 0 || cfg.Notify.StatusURL == "" {
		return
	}
	statusFetcher := static.New(static.Config{
		URL:            cfg.Notify.StatusURL,
		UserAgent:      cfg.Scrape.UserAgent,
		AcceptLanguage: cfg.Scrape.AcceptLanguage,
		Timeout:        cfg.ScrapeTimeout(),
	}, clock)
	notifier := notify.New(notify.Config{
		Selector:    cfg.Notify.StatusSelector,
		WebhookURLs: cfg.Notify.WebhookURLs,
		Interval:    cfg.NotifyInterval(),
	}, statusFetcher, logger.Named("notify"))
	notifier.RunLoop(ctx)
}
