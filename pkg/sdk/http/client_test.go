package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/botdash/pkg/persistence"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"files":"a-1.html, b-2.html"}`)
	})
	mux.HandleFunc("/text", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "hello there")
	})
	mux.HandleFunc("/array", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[1,2]`)
	})
	mux.HandleFunc("/empty", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/echo", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	})
	mux.HandleFunc("/bad", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad input", http.StatusBadRequest)
	})
	mux.HandleFunc("/boom", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestResponseNormalization(t *testing.T) {
	srv := newTestServer(t)
	c := NewClientWithHost(srv.URL + "/")
	ctx := context.Background()

	tests := []struct {
		name     string
		endpoint string
		want     map[string]any
	}{
		{name: "json object", endpoint: "/json", want: map[string]any{"files": "a-1.html, b-2.html"}},
		{name: "plain text", endpoint: "/text", want: map[string]any{"data": "hello there"}},
		{name: "json array", endpoint: "/array", want: map[string]any{"data": []any{float64(1), float64(2)}}},
		{name: "no content", endpoint: "/empty", want: map[string]any{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Get(ctx, tt.endpoint)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPostSendsJSON(t *testing.T) {
	srv := newTestServer(t)
	c := NewClientWithHost(srv.URL)

	got, err := c.Post(context.Background(), "/echo", map[string]string{"code": "abc", "text": "hi"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"code": "abc", "text": "hi"}, got)
}

func TestHTTPErrorShapeAndClassification(t *testing.T) {
	srv := newTestServer(t)
	c := NewClientWithHost(srv.URL)
	ctx := context.Background()

	_, err := c.Get(ctx, "/missing")
	require.Error(t, err)
	assert.Equal(t, "HTTP error! status: 404 Not Found, url: "+srv.URL+"/missing", err.Error())
	assert.True(t, IsNotFound(err))
	assert.False(t, IsTransient(err))
	assert.False(t, IsRejection(err))

	_, err = c.Delete(ctx, "/bad")
	var he *HTTPError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, http.StatusBadRequest, he.StatusCode)
	assert.Equal(t, "bad input", he.Body)
	assert.True(t, IsRejection(err))
	assert.False(t, IsTransient(err))

	_, err = c.Post(ctx, "/boom", map[string]string{})
	assert.True(t, IsTransient(err))
	assert.Equal(t, http.StatusInternalServerError, StatusCode(err))
}

func TestTransportErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClientWithHost(url)
	_, err := c.Get(context.Background(), "/health")
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Equal(t, 0, StatusCode(err))
}

func TestBaseURLResolvedPerRequest(t *testing.T) {
	a := newTestServer(t)
	var hits atomic.Int32
	b := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, `{}`)
	}))
	defer b.Close()

	base := a.URL
	c := NewClient(Options{BaseURL: func() string { return base }})
	_, err := c.Get(context.Background(), "/json")
	require.NoError(t, err)

	base = b.URL
	_, err = c.Get(context.Background(), "/json")
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, b.URL+"/x", c.URL("x"))
}

func TestReadThroughCache(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, `{"image":"data:image/png;base64,AAAA"}`)
	}))
	defer srv.Close()

	backend, err := persistence.NewFileBackend(filepath.Join(t.TempDir(), "store"))
	require.NoError(t, err)
	store := persistence.NewStore(backend, persistence.Options{})

	c := NewClient(Options{
		BaseURL:  func() string { return srv.URL },
		Cache:    store,
		CacheTTL: time.Minute,
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := c.Get(ctx, "/get_chatIcon/abc")
		require.NoError(t, err)
		assert.Equal(t, "data:image/png;base64,AAAA", got["image"])
	}
	assert.Equal(t, int32(1), hits.Load())

	_, err = c.DoRequest(ctx, http.MethodGet, "/get_chatIcon/abc", &RequestOptions{NoCache: true})
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())

	c.InvalidateCache("/get_chatIcon/abc")
	_, err = c.Get(ctx, "/get_chatIcon/abc")
	require.NoError(t, err)
	assert.Equal(t, int32(3), hits.Load())
}

func TestUnsupportedMethod(t *testing.T) {
	c := NewClientWithHost("http://127.0.0.1:1")
	_, err := c.DoRequest(context.Background(), "PATCH", "/x", nil)
	assert.EqualError(t, err, "unsupported method: PATCH")
}
