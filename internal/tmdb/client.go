// Package tmdb is a small client for The Movie Database search API.
package tmdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/tinoosan/mediamgr/internal/metrics"
)

const DefaultBaseURL = "https://api.themoviedb.org/3"

var (
	ErrNotFound    = errors.New("tmdb: not found")
	ErrRateLimited = errors.New("tmdb: rate limited")
)

// maxRetryAfter caps how long a 429 response may make us wait.
const maxRetryAfter = 10 * time.Second

type Movie struct {
	ID          int    `json:"id"`
	Title       string `json:"title"`
	ReleaseDate string `json:"release_date"`
}

// Year is the release year, or "" when TMDB has no date.
func (m Movie) Year() string {
	if len(m.ReleaseDate) < 4 {
		return ""
	}
	return m.ReleaseDate[:4]
}

type Series struct {
	ID           int    `json:"id"`
	Name         string `json:"name"`
	FirstAirDate string `json:"first_air_date"`
}

type Episode struct {
	ID            int    `json:"id"`
	Name          string `json:"name"`
	SeasonNumber  int    `json:"season_number"`
	EpisodeNumber int    `json:"episode_number"`
	AirDate       string `json:"air_date"`
}

// Options configures a Client.
type Options struct {
	BaseURL  string
	APIKey   string
	Language string
	// RequestsPerSecond and Burst pace outgoing requests.
	RequestsPerSecond float64
	Burst             int
	HTTPClient        *http.Client
}

// Client talks to the TMDB v3 API.
type Client struct {
	baseURL  string
	apiKey   string
	language string
	http     *http.Client
	limiter  *rate.Limiter
	log      *slog.Logger
}

func New(log *slog.Logger, opts Options) *Client {
	if log == nil {
		log = slog.Default()
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 4
	}
	if opts.Burst <= 0 {
		opts.Burst = 10
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		apiKey:   opts.APIKey,
		language: opts.Language,
		http:     opts.HTTPClient,
		limiter:  rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.Burst),
		log:      log.With("component", "tmdb"),
	}
}

type page[T any] struct {
	Results []T `json:"results"`
}

// SearchMovie returns candidate movies for title, optionally narrowed by year.
func (c *Client) SearchMovie(ctx context.Context, title, year string) ([]Movie, error) {
	q := url.Values{"query": {title}}
	if year != "" {
		q.Set("year", year)
	}
	var out page[Movie]
	if err := c.get(ctx, "search/movie", "/search/movie", q, &out); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return out.Results, nil
}

// SearchSeries returns candidate TV series for name.
func (c *Client) SearchSeries(ctx context.Context, name string) ([]Series, error) {
	var out page[Series]
	if err := c.get(ctx, "search/tv", "/search/tv", url.Values{"query": {name}}, &out); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return out.Results, nil
}

// EpisodeDetails looks up one episode. It returns nil, nil when TMDB does
// not know the episode.
func (c *Client) EpisodeDetails(ctx context.Context, seriesID, season, episode int) (*Episode, error) {
	var ep Episode
	p := fmt.Sprintf("/tv/%d/season/%d/episode/%d", seriesID, season, episode)
	if err := c.get(ctx, "tv/episode", p, url.Values{}, &ep); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &ep, nil
}

func (c *Client) get(ctx context.Context, endpoint, path string, q url.Values, dst any) error {
	q.Set("api_key", c.apiKey)
	if c.language != "" {
		q.Set("language", c.language)
	}
	u := c.baseURL + path + "?" + q.Encode()

	for attempt := 0; ; attempt++ {
		err := c.do(ctx, endpoint, u, dst)
		var rl *rateLimitError
		if !errors.As(err, &rl) || attempt > 0 {
			return err
		}
		c.log.Warn("rate limited, backing off", "endpoint", endpoint, "retry_after", rl.wait)
		t := time.NewTimer(rl.wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

type rateLimitError struct{ wait time.Duration }

func (e *rateLimitError) Error() string { return ErrRateLimited.Error() }
func (e *rateLimitError) Unwrap() error { return ErrRateLimited }

func (c *Client) do(ctx context.Context, endpoint, u string, dst any) (err error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	timer := prometheus.NewTimer(metrics.MetadataLatency.WithLabelValues(endpoint))
	defer timer.ObserveDuration()
	defer func() {
		if err != nil && !errors.Is(err, ErrNotFound) {
			metrics.MetadataErrors.WithLabelValues(endpoint).Inc()
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("tmdb %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return &rateLimitError{wait: retryAfter(resp.Header.Get("Retry-After"))}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("tmdb %s: status %d: %s", endpoint, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("tmdb %s: decode: %w", endpoint, err)
	}
	return nil
}

func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return time.Second
	}
	d := time.Duration(secs) * time.Second
	if d > maxRetryAfter {
		d = maxRetryAfter
	}
	return d
}
