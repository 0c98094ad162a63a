package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/onecockle/runedex/internal/config"
	"github.com/onecockle/runedex/internal/detector"
	"github.com/onecockle/runedex/internal/extractor"
	"github.com/onecockle/runedex/internal/gemini"
	"github.com/onecockle/runedex/internal/hash/sha256"
	"github.com/onecockle/runedex/internal/metrics"
	"github.com/onecockle/runedex/internal/refresh"
	"github.com/onecockle/runedex/internal/runes"
	"github.com/onecockle/runedex/internal/search"
	"github.com/onecockle/runedex/internal/store"
)

func TestMain(m *testing.M) {
	metrics.Init()
	os.Exit(m.Run())
}

const tableHTML = `
<table>
<tr data-slot="table-row">
  <td><img src="/a.png"></td><td>무기</td>
  <td><span>*</span><span>루나의 룬</span></td>
  <td>전설</td><td><span>효과 A</span></td>
</tr>
<tr data-slot="table-row">
  <td></td><td></td>
  <td><span>*</span><span>태양</span></td>
  <td>신화</td><td><span>효과 B</span></td>
</tr>
</table>`

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	return f.now
}

type fakeFetcher struct {
	mu      sync.Mutex
	html    string
	err     error
	started chan struct{}
	release chan struct{}
}

func (f *fakeFetcher) Fetch(_ context.Context) (runes.Page, error) {
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return runes.Page{}, f.err
	}
	return runes.Page{URL: "https://mabimobi.life/runes", HTML: f.html}, nil
}

func (f *fakeFetcher) setHTML(html string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.html = html
}

type testEnv struct {
	server  *Server
	cache   *store.Store
	fetcher *fakeFetcher
}

func newTestEnv(t *testing.T, cfg config.Config) *testEnv {
	t.Helper()

	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	cache := store.New(filepath.Join(t.TempDir(), "runes.json"), clock, zap.NewNop())

	ex, err := extractor.New(extractor.Mapping{
		Row:      "tr[data-slot='table-row']",
		Name:     "td:nth-child(3) span:last-child",
		Category: "td:nth-child(2)",
		Grade:    "td:nth-child(4)",
		Desc:     "td:nth-child(5) span",
		Img:      "img",
	})
	require.NoError(t, err)

	challenge := detector.NewChallenge([]string{"Just a moment"}, "tr[data-slot='table-row']")
	fetcher := &fakeFetcher{html: tableHTML}
	controller := refresh.New(
		fetcher,
		ex,
		extractor.NewNormalizer("https://mabimobi.life"),
		challenge,
		cache,
		sha256.New(),
		time.Minute,
		zap.NewNop(),
	)

	remote := store.NewRemoteLoader(cfg.Store.RemoteJSONURL, 5*time.Second)
	ai := gemini.New(cfg.Gemini.APIKey, cfg.Gemini.Model, 5*time.Second)

	if cfg.Scrape.URL == "" {
		cfg.Scrape.URL = "https://mabimobi.life/runes?t=search"
	}

	return &testEnv{
		server:  NewServer(cache, search.New(cache), controller, remote, ai, cfg, zap.NewNop()),
		cache:   cache,
		fetcher: fetcher,
	}
}

func (e *testEnv) do(t *testing.T, method, target string) map[string]any {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func seedCache(t *testing.T, env *testEnv) {
	t.Helper()
	require.NoError(t, env.cache.Replace(runes.RecordSet{
		{Name: "루나의 룬", Grade: "전설", Desc: "효과", Img: "https://mabimobi.life/a.png"},
		{Name: "태양", Grade: "신화"},
	}))
}

func TestSearchRunes_Match(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	seedCache(t, env)

	body := env.do(t, http.MethodGet, "/runes?name=루나")
	require.Equal(t, true, body["ok"])
	require.Equal(t, float64(1), body["count"])

	rune_, ok := body["rune"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "루나의 룬", rune_["name"])
}

func TestSearchRunes_MissingParam(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	seedCache(t, env)

	body := env.do(t, http.MethodGet, "/runes")
	require.Equal(t, false, body["ok"])
	require.Equal(t, "name parameter required", body["error"])

	body = env.do(t, http.MethodGet, "/runes?name=%20%20")
	require.Equal(t, false, body["ok"])
	require.Equal(t, "name parameter required", body["error"])
}

func TestSearchRunes_NotFound(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	seedCache(t, env)

	body := env.do(t, http.MethodGet, "/runes?name=없는룬")
	require.Equal(t, false, body["ok"])
	require.Equal(t, "Not found", body["error"])
}

func TestHealth_ReportsItemsAndLoadTime(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	seedCache(t, env)

	body := env.do(t, http.MethodGet, "/health")
	require.Equal(t, true, body["ok"])
	require.Equal(t, float64(2), body["items"])
	require.Equal(t, "2026-03-01T12:00:00Z", body["lastLoadedAt"])
	require.NotEmpty(t, body["source"])
}

func TestCrawlNow_RefreshesCache(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})

	body := env.do(t, http.MethodPost, "/admin/crawl-now")
	require.Equal(t, true, body["ok"])
	require.Equal(t, float64(2), body["count"])
	require.Equal(t, 2, env.cache.Items())
}

func TestCrawlNow_BlockedKeepsHealthStable(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	seedCache(t, env)
	before := env.do(t, http.MethodGet, "/health")

	env.fetcher.setHTML(`<html><title>Just a moment...</title><body></body></html>`)
	body := env.do(t, http.MethodPost, "/admin/crawl-now")
	require.Equal(t, false, body["ok"])
	require.Contains(t, body["error"], "anti-bot")

	after := env.do(t, http.MethodGet, "/health")
	require.Equal(t, before["items"], after["items"])
	require.Equal(t, before["lastLoadedAt"], after["lastLoadedAt"])
}

func TestCrawlNow_ConcurrentSecondCallRejected(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	env.fetcher.started = make(chan struct{}, 1)
	env.fetcher.release = make(chan struct{})

	firstDone := make(chan map[string]any, 1)
	go func() {
		firstDone <- env.do(t, http.MethodPost, "/admin/crawl-now")
	}()

	<-env.fetcher.started
	second := env.do(t, http.MethodPost, "/admin/crawl-now")
	require.Equal(t, false, second["ok"])
	require.Contains(t, second["error"], "already in progress")

	close(env.fetcher.release)
	first := <-firstDone
	require.Equal(t, true, first["ok"])
	require.Equal(t, 2, env.cache.Items())
}

func TestReload_PullsRemoteFeed(t *testing.T) {
	t.Parallel()

	feed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"name":"원격 룬","grade":"전설","desc":"","img":""}]`))
	}))
	defer feed.Close()

	env := newTestEnv(t, config.Config{
		Store: config.StoreConfig{RemoteJSONURL: feed.URL},
	})

	body := env.do(t, http.MethodGet, "/admin/reload")
	require.Equal(t, true, body["ok"])
	require.Equal(t, float64(1), body["count"])
	require.NotEmpty(t, body["at"])
	require.Equal(t, 1, env.cache.Items())
}

func TestReload_NotConfigured(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})

	body := env.do(t, http.MethodGet, "/admin/reload")
	require.Equal(t, false, body["ok"])
	require.Contains(t, body["error"], "not configured")
}

func TestAsk_WithoutAPIKey(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})

	body := env.do(t, http.MethodGet, "/ask?question=루나의+룬+효과가+뭐야")
	require.Equal(t, false, body["ok"])
	require.Equal(t, "GEMINI_API_KEY is not set", body["error"])

	body = env.do(t, http.MethodGet, "/ask")
	require.Equal(t, false, body["ok"])
	require.Equal(t, "question parameter required", body["error"])
}

func TestAdminRoutes_RequireAPIKeyWhenEnabled(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{
		Auth: config.AuthConfig{Enabled: true, APIKey: "secret"},
	})

	req := httptest.NewRequest(http.MethodPost, "/admin/crawl-now", nil)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/admin/crawl-now", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// Public routes stay open.
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ok")
}

func TestRequestIDHeaderIsSet(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
