// Package api exposes the HTTP interface for the rune service.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/onecockle/runedex/internal/config"
	"github.com/onecockle/runedex/internal/gemini"
	"github.com/onecockle/runedex/internal/metrics"
	"github.com/onecockle/runedex/internal/refresh"
	"github.com/onecockle/runedex/internal/runes"
	"github.com/onecockle/runedex/internal/search"
	"github.com/onecockle/runedex/internal/store"
)

// Server wires HTTP handlers to the cache, search and refresh services.
type Server struct {
	router     chi.Router
	cache      *store.Store
	searcher   *search.Service
	controller *refresh.Controller
	remote     *store.RemoteLoader
	ai         *gemini.Client
	cfg        config.Config
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	cache *store.Store,
	searcher *search.Service,
	controller *refresh.Controller,
	remote *store.RemoteLoader,
	ai *gemini.Client,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	s := &Server{
		cache:      cache,
		searcher:   searcher,
		controller: controller,
		remote:     remote,
		ai:         ai,
		cfg:        cfg,
		logger:     logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metricsMiddleware)
	r.Use(timeoutMiddleware(2 * time.Minute))

	r.Get("/healthz", s.healthz)
	r.Get("/health", s.health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/runes", s.searchRunes)
	r.Get("/ask", s.ask)

	r.Route("/admin", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Post("/crawl-now", s.crawlNow)
		r.Get("/reload", s.reload)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	source := s.remote.URL()
	if source == "" {
		source = s.cfg.Scrape.URL
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":           true,
		"items":        s.cache.Items(),
		"lastLoadedAt": s.cache.LastLoadedAt(),
		"source":       source,
	})
}

// searchRunes answers GET /runes?name=x. Domain failures (missing param, no
// match) come back as ok:false in a 200 body so chat-bot callers handle
// every shape uniformly.
func (s *Server) searchRunes(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")

	result, err := s.searcher.Search(name)
	switch {
	case errors.Is(err, runes.ErrInvalidQuery):
		metrics.ObserveSearch("invalid")
		writeFail(w, "name parameter required")
		return
	case errors.Is(err, runes.ErrNotFound):
		metrics.ObserveSearch("not_found")
		writeFail(w, "Not found")
		return
	case err != nil:
		metrics.ObserveSearch("error")
		writeFail(w, err.Error())
		return
	}

	metrics.ObserveSearch("hit")
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":    true,
		"rune":  result.Primary,
		"count": result.Count(),
	})
}

func (s *Server) ask(w http.ResponseWriter, r *http.Request) {
	question := strings.TrimSpace(r.URL.Query().Get("question"))
	if question == "" {
		writeFail(w, "question parameter required")
		return
	}
	if !s.ai.Enabled() {
		writeFail(w, "GEMINI_API_KEY is not set")
		return
	}

	answer, err := s.ai.Ask(r.Context(), question, s.cache.Current())
	if err != nil {
		s.logger.Warn("ask proxy failed", zap.Error(err))
		writeFail(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "answer": answer})
}

// crawlNow synchronously runs one refresh cycle. A concurrent call while a
// cycle is in flight is rejected by the controller's single-flight guard.
func (s *Server) crawlNow(w http.ResponseWriter, r *http.Request) {
	count, err := s.controller.Run(r.Context(), refresh.TriggerManual)
	if err != nil {
		writeFail(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "count": count})
}

// reload re-fills the cache from the remote authoritative feed instead of
// re-scraping.
func (s *Server) reload(w http.ResponseWriter, r *http.Request) {
	if s.remote == nil {
		writeFail(w, "remote feed is not configured")
		return
	}
	set, err := s.remote.Load(r.Context())
	if err != nil {
		writeFail(w, err.Error())
		return
	}
	if err := s.cache.Replace(set); err != nil {
		s.logger.Warn("mirror write after reload failed", zap.Error(err))
	}
	metrics.SetCachedRecords(len(set))
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":    true,
		"count": len(set),
		"at":    s.cache.LastLoadedAt(),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

// writeFail reports a domain failure. The transport status stays 200; the
// ok discriminator is the contract, so callers treat "no data yet" and
// "bad query" the same way as any other answer.
func writeFail(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": false, "error": msg})
}
