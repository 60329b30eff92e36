package tmdb

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)), Options{BaseURL: srv.URL, APIKey: "k", RequestsPerSecond: 100})
}

func TestSearchMovie(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search/movie" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("query") != "The Matrix" || q.Get("year") != "1999" || q.Get("api_key") != "k" {
			t.Errorf("unexpected query %v", q)
		}
		_, _ = w.Write([]byte(`{"results":[{"id":603,"title":"The Matrix","release_date":"1999-03-30"}]}`))
	})
	got, err := c.SearchMovie(context.Background(), "The Matrix", "1999")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 1 || got[0].ID != 603 || got[0].Year() != "1999" {
		t.Fatalf("unexpected result %+v", got)
	}
}

func TestEpisodeDetailsNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tv/1399/season/1/episode/99" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		http.NotFound(w, r)
	})
	ep, err := c.EpisodeDetails(context.Background(), 1399, 1, 99)
	if err != nil || ep != nil {
		t.Fatalf("expected nil, nil got %+v, %v", ep, err)
	}
}

func TestRateLimitedRetriesOnce(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"results":[{"id":1,"name":"Show","first_air_date":"2010-01-01"}]}`))
	})
	got, err := c.SearchSeries(context.Background(), "Show")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 1 || got[0].Name != "Show" {
		t.Fatalf("unexpected result %+v", got)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Fatalf("expected 2 calls got %d", n)
	}
}

func TestPersistentRateLimitSurfaces(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	})
	if _, err := c.SearchSeries(context.Background(), "x"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited got %v", err)
	}
}

func TestServerErrorIsReturned(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	if _, err := c.SearchMovie(context.Background(), "x", ""); err == nil {
		t.Fatalf("expected error")
	}
}
