// Package categorizer routes stable media files into the movie or TV
// library using TMDB metadata.
package categorizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/tinoosan/mediamgr/internal/metrics"
	"github.com/tinoosan/mediamgr/internal/notify"
	"github.com/tinoosan/mediamgr/internal/tmdb"
)

const notifyOwner = "categorizer"

var ErrNoLibrary = errors.New("library directory not configured")

// Lookup is the metadata source. *tmdb.Client satisfies it.
type Lookup interface {
	SearchMovie(ctx context.Context, title, year string) ([]tmdb.Movie, error)
	SearchSeries(ctx context.Context, name string) ([]tmdb.Series, error)
	EpisodeDetails(ctx context.Context, seriesID, season, episode int) (*tmdb.Episode, error)
}

type Config struct {
	MoviesDir    string
	TVDir        string
	UnmatchedDir string
}

type Categorizer struct {
	cfg      Config
	lookup   Lookup
	notifier notify.Sender
	log      *slog.Logger
}

// New builds a Categorizer. notifier may be nil.
func New(log *slog.Logger, cfg Config, lookup Lookup, notifier notify.Sender) *Categorizer {
	if log == nil {
		log = slog.Default()
	}
	return &Categorizer{cfg: cfg, lookup: lookup, notifier: notifier, log: log.With("component", "categorizer")}
}

// HandleFile categorizes path and moves it to the unmatched directory when
// that fails. A cancelled ctx leaves the file where it is.
func (c *Categorizer) HandleFile(ctx context.Context, path string) {
	log := c.log.With("path", path)
	ok, err := c.ProcessFile(ctx, path)
	if ctx.Err() != nil {
		log.Info("categorization interrupted, file left in place")
		return
	}
	if ok {
		return
	}
	if err != nil {
		log.Error("categorization failed", "err", err)
		c.notify(ctx, notify.Error, fmt.Sprintf("Error processing file %s: %v", filepath.Base(path), err))
	}
	if err := c.MoveToUnmatched(ctx, path); err != nil {
		log.Error("move to unmatched", "err", err)
	}
}

// ProcessFile tries the episode patterns, then the movie patterns. It
// reports false without error when the name cannot be parsed or TMDB has
// no match.
func (c *Categorizer) ProcessFile(ctx context.Context, path string) (bool, error) {
	name := filepath.Base(path)
	c.log.Info("processing file", "file", name)

	if ep, ok := ParseEpisode(name); ok {
		return c.processEpisode(ctx, path, ep)
	}
	if mv, ok := ParseMovie(name); ok {
		return c.processMovie(ctx, path, mv)
	}
	c.notify(ctx, notify.Warning, "Unable to automatically categorize: "+name)
	return false, nil
}

func (c *Categorizer) processMovie(ctx context.Context, path string, mv MovieName) (bool, error) {
	if c.cfg.MoviesDir == "" {
		return false, ErrNoLibrary
	}
	results, err := c.lookup.SearchMovie(ctx, mv.Title, mv.Year)
	if err != nil {
		return false, fmt.Errorf("search movie %q: %w", mv.Title, err)
	}
	if len(results) == 0 {
		c.notify(ctx, notify.Warning, fmt.Sprintf("Could not find movie info for: %s (%s)", mv.Title, mv.Year))
		return false, nil
	}
	m := results[0]
	year := m.Year()
	if year == "" {
		year = mv.Year
	}
	label := fmt.Sprintf("%s (%s)", m.Title, year)
	dst, err := moveInto(path, filepath.Join(c.cfg.MoviesDir, SafeDirName(label)))
	if err != nil {
		return false, err
	}
	metrics.Categorized.WithLabelValues("movie").Inc()
	c.log.Info("movie filed", "tmdb_id", m.ID, "dest", dst)
	c.notify(ctx, notify.Success, "Processed movie: "+label)
	return true, nil
}

func (c *Categorizer) processEpisode(ctx context.Context, path string, ep EpisodeName) (bool, error) {
	if c.cfg.TVDir == "" {
		return false, ErrNoLibrary
	}
	tag := fmt.Sprintf("S%02dE%02d", ep.Season, ep.Episode)
	series, err := c.lookup.SearchSeries(ctx, ep.Show)
	if err != nil {
		return false, fmt.Errorf("search series %q: %w", ep.Show, err)
	}
	if len(series) == 0 {
		c.notify(ctx, notify.Warning, "Could not find TV show info for: "+ep.Show)
		return false, nil
	}
	s := series[0]
	details, err := c.lookup.EpisodeDetails(ctx, s.ID, ep.Season, ep.Episode)
	if err != nil {
		return false, fmt.Errorf("episode %s %s: %w", s.Name, tag, err)
	}
	if details == nil {
		c.notify(ctx, notify.Warning, fmt.Sprintf("Could not find episode info for: %s %s", ep.Show, tag))
		return false, nil
	}
	dir := filepath.Join(c.cfg.TVDir, SafeDirName(s.Name), fmt.Sprintf("Season %02d", ep.Season))
	dst, err := moveInto(path, dir)
	if err != nil {
		return false, err
	}
	metrics.Categorized.WithLabelValues("tv").Inc()
	c.log.Info("episode filed", "tmdb_id", s.ID, "dest", dst)
	c.notify(ctx, notify.Success, fmt.Sprintf("Processed TV show: %s %s", s.Name, tag))
	return true, nil
}

// MoveToUnmatched parks path in the unmatched directory for manual review.
func (c *Categorizer) MoveToUnmatched(ctx context.Context, path string) error {
	if c.cfg.UnmatchedDir == "" {
		return ErrNoLibrary
	}
	dst, err := moveInto(path, c.cfg.UnmatchedDir)
	if err != nil {
		return err
	}
	metrics.Categorized.WithLabelValues("unmatched").Inc()
	c.log.Info("moved to unmatched", "dest", dst)
	c.notify(ctx, notify.Info, "Moved to unmatched: "+filepath.Base(dst))
	return nil
}

func (c *Categorizer) notify(ctx context.Context, sev notify.Severity, text string) {
	if c.notifier == nil {
		return
	}
	if _, err := c.notifier.Notify(ctx, notifyOwner, 0, sev, text); err != nil {
		c.log.Warn("notification dropped", "severity", sev.String(), "err", err)
	}
}
