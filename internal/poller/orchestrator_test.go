package poller

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type staticSource struct {
	feeds []FeedRecord
	err   error
}

func (s staticSource) ListFeeds(context.Context) ([]FeedRecord, error) {
	return s.feeds, s.err
}

type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) Fetch(ctx context.Context, feed FeedRecord) (Result, error) {
	args := m.Called(ctx, feed)
	return args.Get(0).(Result), args.Error(1)
}

type staticIDs struct{ id string }

func (s staticIDs) NewID() (string, error) { return s.id, nil }

// countingFetcher tracks how many fetches run at once.
type countingFetcher struct {
	inFlight atomic.Int32
	peak     atomic.Int32
	calls    atomic.Int32
	delay    time.Duration
}

func (f *countingFetcher) Fetch(_ context.Context, feed FeedRecord) (Result, error) {
	f.calls.Add(1)
	cur := f.inFlight.Add(1)
	for {
		p := f.peak.Load()
		if cur <= p || f.peak.CompareAndSwap(p, cur) {
			break
		}
	}
	time.Sleep(f.delay)
	f.inFlight.Add(-1)
	return Result{Feed: feed, Verdict: VerdictNotUpdated}, nil
}

func feedList(n int) []FeedRecord {
	feeds := make([]FeedRecord, n)
	for i := range feeds {
		feeds[i] = FeedRecord{ID: uint64(i + 1), URL: "https://example.invalid/feed"}
	}
	return feeds
}

func TestOrchestratorConcurrencyCeiling(t *testing.T) {
	fetcher := &countingFetcher{delay: 5 * time.Millisecond}
	orch, err := NewOrchestrator(staticSource{feeds: feedList(500)}, fetcher, 100, zap.NewNop())
	require.NoError(t, err)

	summary, err := orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(500), fetcher.calls.Load())
	assert.LessOrEqual(t, fetcher.peak.Load(), int32(100))
	assert.Greater(t, fetcher.peak.Load(), int32(1), "fetches should overlap")
	assert.Equal(t, 500, summary.Total)
	assert.Equal(t, 500, summary.NotUpdated)
}

func TestOrchestratorFeedListFailureIsFatal(t *testing.T) {
	fetcher := &mockFetcher{}
	orch, err := NewOrchestrator(staticSource{err: errors.New("no such table: podcasts")}, fetcher, 10, nil)
	require.NoError(t, err)

	_, err = orch.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFeedList))
	fetcher.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
}

func TestOrchestratorSummarizesVerdicts(t *testing.T) {
	feeds := feedList(5)
	fetcher := &mockFetcher{}
	fetcher.On("Fetch", mock.Anything, feeds[0]).Return(Result{Verdict: VerdictUpdated}, nil)
	fetcher.On("Fetch", mock.Anything, feeds[1]).Return(Result{Verdict: VerdictNotUpdated}, nil)
	fetcher.On("Fetch", mock.Anything, feeds[2]).Return(Result{Verdict: VerdictFailed}, errors.New("connection refused"))
	fetcher.On("Fetch", mock.Anything, feeds[3]).Return(Result{Verdict: VerdictUpdated, WriteErr: ErrArtifactWrite}, nil)
	fetcher.On("Fetch", mock.Anything, feeds[4]).Return(Result{Verdict: VerdictNotUpdated}, nil)

	orch, err := NewOrchestrator(staticSource{feeds: feeds}, fetcher, 3, nil, WithRunIDs(staticIDs{id: "run-1"}))
	require.NoError(t, err)

	summary, err := orch.Run(context.Background())
	require.NoError(t, err, "per-feed failures never fail the run")
	assert.Equal(t, "run-1", summary.RunID)
	assert.Equal(t, 5, summary.Total)
	assert.Equal(t, 2, summary.Updated)
	assert.Equal(t, 2, summary.NotUpdated)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.WriteFailures)
	assert.Equal(t, 0, summary.Skipped)
	fetcher.AssertNumberOfCalls(t, "Fetch", 5)
}

func TestOrchestratorCancelledRunSkipsFeeds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fetcher := &countingFetcher{}
	orch, err := NewOrchestrator(staticSource{feeds: feedList(20)}, fetcher, 4, nil)
	require.NoError(t, err)

	summary, err := orch.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20, summary.Skipped)
	assert.Equal(t, int32(0), fetcher.calls.Load())
}

func TestOrchestratorCancelLetsInFlightFetchFinish(t *testing.T) {
	arrived := make(chan struct{}, 1)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		arrived <- struct{}{}
		<-release
		_, _ = w.Write([]byte("<rss/>"))
	}))
	defer srv.Close()

	exec, store := newTestExecutor(t, DefaultConfig())
	feeds := []FeedRecord{{ID: 5, URL: srv.URL + "/slow"}, {ID: 6, URL: srv.URL + "/next"}}
	orch, err := NewOrchestrator(staticSource{feeds: feeds}, exec, 1, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	finished := make(chan RunSummary)
	go func() {
		summary, _ := orch.Run(ctx)
		finished <- summary
	}()

	select {
	case <-arrived:
	case <-time.After(5 * time.Second):
		t.Fatal("fetch never reached the server")
	}
	cancel()
	time.Sleep(50 * time.Millisecond)
	close(release)

	summary := <-finished
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, 1, summary.Updated)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, []string{"poll/feeds/5_200.txt"}, store.Keys())
	_, found := store.Get("poll/feeds/5_666.txt")
	assert.False(t, found)
}

func TestOrchestratorSlowFeedHoldsOneSlot(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	done := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/slow") {
			<-release
		}
		w.WriteHeader(http.StatusNotModified)
		mu.Lock()
		done++
		mu.Unlock()
	}))
	defer srv.Close()

	exec, _ := newTestExecutor(t, DefaultConfig())
	feeds := []FeedRecord{{ID: 1, URL: srv.URL + "/slow"}}
	for i := uint64(2); i <= 10; i++ {
		feeds = append(feeds, FeedRecord{ID: i, URL: srv.URL + "/fast"})
	}
	orch, err := NewOrchestrator(staticSource{feeds: feeds}, exec, 2, nil)
	require.NoError(t, err)

	finished := make(chan RunSummary)
	go func() {
		summary, _ := orch.Run(context.Background())
		finished <- summary
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return done == 9
	}, 5*time.Second, 5*time.Millisecond)
	close(release)

	summary := <-finished
	assert.Equal(t, 10, summary.NotUpdated)
}

func TestOrchestratorRerunOverwrites(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/gone") {
			w.WriteHeader(http.StatusGone)
			return
		}
		_, _ = w.Write([]byte("<rss/>"))
	}))
	defer srv.Close()

	exec, store := newTestExecutor(t, DefaultConfig())
	feeds := []FeedRecord{{ID: 1, URL: srv.URL + "/ok"}, {ID: 2, URL: srv.URL + "/gone"}}
	orch, err := NewOrchestrator(staticSource{feeds: feeds}, exec, 2, nil)
	require.NoError(t, err)

	first, err := orch.Run(context.Background())
	require.NoError(t, err)
	keys := store.Keys()

	second, err := orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, keys, store.Keys())
	assert.Equal(t, []string{"poll/feeds/1_200.txt", "poll/feeds/2_410.txt"}, keys)
	assert.Equal(t, first.Updated, second.Updated)
	assert.Equal(t, first.NotUpdated, second.NotUpdated)
	assert.Equal(t, "<rss/>", string(readArtifact(t, store, "poll/feeds/1_200.txt").Body))
}

func TestNewOrchestratorValidates(t *testing.T) {
	_, err := NewOrchestrator(nil, &countingFetcher{}, 1, nil)
	assert.Error(t, err)
	_, err = NewOrchestrator(staticSource{}, nil, 1, nil)
	assert.Error(t, err)
	_, err = NewOrchestrator(staticSource{}, &countingFetcher{}, 0, nil)
	assert.Error(t, err)
}
