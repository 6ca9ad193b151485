package tmdb

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/duowatch/config"
	"github.com/d60-Lab/duowatch/internal/apperr"
	"github.com/d60-Lab/duowatch/internal/classify"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := NewClient(config.TMDBConfig{
		BaseURL:         srv.URL,
		APIKey:          "k",
		Timeout:         2 * time.Second,
		MaxRetries:      2,
		BreakerFailures: 3,
		BreakerOpenFor:  time.Minute,
	})
	c.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return c
}

func TestSearch_MultiDecodesRecords(t *testing.T) {
	var gotPath, gotQuery, gotKey string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query().Get("query")
		gotKey = r.URL.Query().Get("api_key")
		_, _ = w.Write([]byte(`{"page":1,"total_pages":1,"total_results":2,"results":[
			{"id":438631,"media_type":"movie","title":"Dune","release_date":"2021-09-15","vote_average":7.8,"poster_path":"/d5.jpg"},
			{"id":1,"media_type":"person","name":"Denis Villeneuve"}]}`))
	})

	p, err := c.Search(context.Background(), SearchQuery{Query: "dune", Language: "en-US"})
	require.NoError(t, err)
	assert.Equal(t, "/search/multi", gotPath)
	assert.Equal(t, "dune", gotQuery)
	assert.Equal(t, "k", gotKey)
	require.Len(t, p.Results, 2)
	assert.Equal(t, classify.Movie, classify.Classify(p.Results[0]))
	assert.Equal(t, classify.Person, classify.Classify(p.Results[1]))
}

func TestSearch_PersonOmitsYearFilters(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search/person", r.URL.Path)
		assert.Empty(t, r.URL.Query().Get("year"))
		_, _ = w.Write([]byte(`{"results":[]}`))
	})
	_, err := c.Search(context.Background(), SearchQuery{Query: "x", Type: "person", Year: "1999"})
	require.NoError(t, err)
}

func TestGet_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"results":[{"id":5,"title":"Four Rooms"}]}`))
	})
	p, err := c.Popular(context.Background(), "movie", 1, "")
	require.NoError(t, err)
	assert.Len(t, p.Results, 1)
	assert.EqualValues(t, 3, calls.Load())
}

func TestGet_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})
	_, err := c.Trending(context.Background(), "tv", "week", 1, "")
	assert.ErrorIs(t, err, apperr.ErrNetwork)
	assert.EqualValues(t, 1, calls.Load())
}

func TestGet_BreakerOpens(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	ctx := context.Background()
	// 3 次失败（1 次 + 2 次重试）后熔断
	_, err := c.Popular(ctx, "movie", 1, "")
	assert.ErrorIs(t, err, apperr.ErrNetwork)
	assert.EqualValues(t, 3, calls.Load())

	_, err = c.Popular(ctx, "movie", 1, "")
	assert.ErrorIs(t, err, apperr.ErrNetwork)
	assert.EqualValues(t, 3, calls.Load(), "open breaker short-circuits")
}

func TestGet_CallerCancellationKeepsBreakerClosed(t *testing.T) {
	var slow atomic.Bool
	slow.Store(true)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if slow.Load() {
			select {
			case <-r.Context().Done():
			case <-time.After(200 * time.Millisecond):
			}
			return
		}
		_, _ = w.Write([]byte(`{"results":[]}`))
	})

	// 连续放弃的搜索不应熔断其他用户的请求
	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		_, err := c.Search(ctx, SearchQuery{Query: "du"})
		cancel()
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.NotErrorIs(t, err, apperr.ErrNetwork)
	}
	assert.Equal(t, gobreaker.StateClosed, c.breaker.State())

	slow.Store(false)
	_, err := c.Search(context.Background(), SearchQuery{Query: "dune"})
	require.NoError(t, err)
}

func TestGet_BadPayload(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>`))
	})
	_, err := c.Popular(context.Background(), "movie", 1, "")
	assert.ErrorIs(t, err, apperr.ErrNetwork)
}
