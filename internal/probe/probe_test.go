package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memURL struct {
	mu   sync.Mutex
	url  string
	sets int
}

func (m *memURL) Get() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.url
}

func (m *memURL) Set(url string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.url = url
	m.sets++
}

func healthServer(t *testing.T, status int, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			atomic.AddInt32(hits, 1)
		}
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestProbeFallsBackInOrderAndPersistsWinner(t *testing.T) {
	var downHits, firstHits, secondHits int32
	down := healthServer(t, http.StatusServiceUnavailable, &downHits)
	first := healthServer(t, http.StatusOK, &firstHits)
	second := healthServer(t, http.StatusOK, &secondHits)

	store := &memURL{url: down.URL}
	p := New(Options{Store: store, Fallbacks: []string{first.URL, second.URL}})

	res := p.Test(context.Background())
	assert.True(t, res.Success)
	assert.Equal(t, first.URL, res.URL)
	assert.Equal(t, first.URL, store.Get())
	assert.Equal(t, 1, store.sets)
	assert.EqualValues(t, 1, downHits)
	assert.EqualValues(t, 0, secondHits)
}

func TestProbeCurrentURLHealthyLeavesStoreAlone(t *testing.T) {
	ok := healthServer(t, http.StatusOK, nil)
	store := &memURL{url: ok.URL + "/"}
	p := New(Options{Store: store})

	res := p.Test(context.Background())
	assert.True(t, res.Success)
	assert.Equal(t, ok.URL, res.URL)
}

func TestProbeAllFail(t *testing.T) {
	down := healthServer(t, http.StatusBadGateway, nil)
	store := &memURL{url: down.URL}
	p := New(Options{Store: store, Fallbacks: []string{"http://127.0.0.1:1"}, Timeout: 200 * time.Millisecond})

	res := p.Test(context.Background())
	assert.False(t, res.Success)
	assert.Empty(t, res.URL)
	assert.False(t, res.Timestamp.IsZero())
	assert.Equal(t, down.URL, store.Get())
	assert.Equal(t, 0, store.sets)
}

func TestProbeCooldownAndInvalidate(t *testing.T) {
	var hits int32
	srv := healthServer(t, http.StatusOK, &hits)
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}

	p := New(Options{Store: &memURL{url: srv.URL}, Now: clock})
	ctx := context.Background()

	first := p.Test(ctx)
	advance(10 * time.Second)
	second := p.Test(ctx)
	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, hits)

	advance(25 * time.Second)
	p.Test(ctx)
	assert.EqualValues(t, 2, hits)

	p.Invalidate()
	_, ok := p.Last()
	require.False(t, ok)
	p.Test(ctx)
	assert.EqualValues(t, 3, hits)
}

func TestCancelledRunIsNotCached(t *testing.T) {
	var hits int32
	ok := healthServer(t, http.StatusOK, &hits)
	store := &memURL{url: ok.URL}
	p := New(Options{Store: store})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := p.Test(ctx)
	assert.False(t, res.Success)
	_, cached := p.Last()
	assert.False(t, cached)

	res = p.Test(context.Background())
	assert.True(t, res.Success)
	assert.Equal(t, ok.URL, res.URL)
	assert.EqualValues(t, 1, hits)
}
