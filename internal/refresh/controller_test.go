package refresh

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/onecockle/runedex/internal/detector"
	"github.com/onecockle/runedex/internal/extractor"
	"github.com/onecockle/runedex/internal/hash/sha256"
	"github.com/onecockle/runedex/internal/metrics"
	"github.com/onecockle/runedex/internal/runes"
	"github.com/onecockle/runedex/internal/store"
)

func TestMain(m *testing.M) {
	metrics.Init()
	os.Exit(m.Run())
}

const goodHTML = `
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
<tr data-slot="table-row">
  <td></td><td></td>
  <td><span>*</span><span>  </span></td>
  <td>희귀</td><td><span>이름 없음</span></td>
</tr>
</table>`

const blockedHTML = `<html><head><title>Just a moment...</title></head>
<body><div id="challenge-platform">checking your browser</div></body></html>`

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
	calls   int
	started chan struct{}
	release chan struct{}
}

func (f *fakeFetcher) Fetch(_ context.Context) (runes.Page, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return runes.Page{}, f.err
	}
	return runes.Page{URL: "https://mabimobi.life/runes", HTML: f.html}, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestController(t *testing.T, fetcher runes.Fetcher) (*Controller, *store.Store) {
	t.Helper()

	ex, err := extractor.New(extractor.Mapping{
		Row:      "tr[data-slot='table-row']",
		Name:     "td:nth-child(3) span:last-child",
		Category: "td:nth-child(2)",
		Grade:    "td:nth-child(4)",
		Desc:     "td:nth-child(5) span",
		Img:      "img",
	})
	require.NoError(t, err)

	challenge := detector.NewChallenge(
		[]string{"Just a moment", "challenge-platform"},
		"tr[data-slot='table-row']",
	)
	cache := store.New(
		filepath.Join(t.TempDir(), "runes.json"),
		&fakeClock{now: time.Unix(1000, 0).UTC()},
		zap.NewNop(),
	)
	ctrl := New(
		fetcher,
		ex,
		extractor.NewNormalizer("https://mabimobi.life"),
		challenge,
		cache,
		sha256.New(),
		time.Minute,
		zap.NewNop(),
	)
	return ctrl, cache
}

func TestRun_SuccessReplacesStore(t *testing.T) {
	t.Parallel()

	ctrl, cache := newTestController(t, &fakeFetcher{html: goodHTML})

	count, err := ctrl.Run(context.Background(), TriggerManual)
	require.NoError(t, err)

	// Three rows, one with a blank name: two records survive.
	require.Equal(t, 2, count)
	require.Equal(t, 2, cache.Items())
	require.Equal(t, "https://mabimobi.life/a.png", cache.Current()[0].Img)
}

func TestRun_Idempotent(t *testing.T) {
	t.Parallel()

	ctrl, cache := newTestController(t, &fakeFetcher{html: goodHTML})

	_, err := ctrl.Run(context.Background(), TriggerManual)
	require.NoError(t, err)
	first := cache.Current()

	_, err = ctrl.Run(context.Background(), TriggerManual)
	require.NoError(t, err)
	require.True(t, first.Equal(cache.Current()))
}

func TestRun_BlockedLeavesStoreUntouched(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{html: goodHTML}
	ctrl, cache := newTestController(t, fetcher)

	_, err := ctrl.Run(context.Background(), TriggerManual)
	require.NoError(t, err)
	prior := cache.Current()
	priorAt := cache.LastLoadedAt()

	fetcher.html = blockedHTML
	_, err = ctrl.Run(context.Background(), TriggerManual)
	require.ErrorIs(t, err, runes.ErrBlocked)

	require.True(t, prior.Equal(cache.Current()))
	require.Equal(t, priorAt, cache.LastLoadedAt())
}

func TestRun_EmptyExtractionLeavesStoreUntouched(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{html: goodHTML}
	ctrl, cache := newTestController(t, fetcher)

	_, err := ctrl.Run(context.Background(), TriggerManual)
	require.NoError(t, err)

	fetcher.html = "<html><body><p>redesigned page, no table</p></body></html>"
	_, err = ctrl.Run(context.Background(), TriggerManual)
	require.ErrorIs(t, err, runes.ErrEmptyResult)
	require.Equal(t, 2, cache.Items())
}

func TestRun_FetchErrorsPropagate(t *testing.T) {
	t.Parallel()

	for _, sentinel := range []error{runes.ErrNetwork, runes.ErrRenderTimeout, runes.ErrBlocked} {
		fetcher := &fakeFetcher{err: fmt.Errorf("%w: boom", sentinel)}
		ctrl, cache := newTestController(t, fetcher)

		_, err := ctrl.Run(context.Background(), TriggerManual)
		require.ErrorIs(t, err, sentinel)
		require.Equal(t, 0, cache.Items())
	}
}

func TestRun_SingleFlight(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{
		html:    goodHTML,
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	ctrl, cache := newTestController(t, fetcher)

	firstDone := make(chan error, 1)
	go func() {
		_, err := ctrl.Run(context.Background(), TriggerManual)
		firstDone <- err
	}()

	// Wait for the first cycle to enter its fetch, then race a second one.
	<-fetcher.started
	_, err := ctrl.Run(context.Background(), TriggerTimer)
	require.ErrorIs(t, err, runes.ErrRefreshBusy)

	close(fetcher.release)
	require.NoError(t, <-firstDone)

	// Exactly one replacement happened.
	require.Equal(t, 1, fetcher.callCount())
	require.Equal(t, 2, cache.Items())
}

func TestRunLoop_ZeroIntervalReturnsImmediately(t *testing.T) {
	t.Parallel()

	ctrl, _ := newTestController(t, &fakeFetcher{html: goodHTML})

	done := make(chan struct{})
	go func() {
		ctrl.RunLoop(context.Background(), 0)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunLoop did not return for a zero interval")
	}
}

func TestRunLoop_TickTriggersRefresh(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{html: goodHTML}
	ctrl, cache := newTestController(t, fetcher)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		ctrl.RunLoop(ctx, 10*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return cache.Items() == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
