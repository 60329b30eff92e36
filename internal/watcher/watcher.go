// Package watcher detects files arriving in a directory, waits for each to
// stop changing and hands it to a Handler exactly once.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/tinoosan/mediamgr/internal/csync"
	"github.com/tinoosan/mediamgr/internal/metrics"
	"github.com/tinoosan/mediamgr/internal/notify"
)

const notifyOwner = "watcher"

var (
	ErrStopTimeout = errors.New("watcher stop timed out")

	errVanished   = errors.New("file never appeared")
	errNotRegular = errors.New("not a regular file")
)

// Handler disposes of a stable file.
type Handler interface {
	HandleFile(ctx context.Context, path string)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, path string)

func (f HandlerFunc) HandleFile(ctx context.Context, path string) { f(ctx, path) }

// Config holds the watcher settings.
type Config struct {
	Dir string
	// PollInterval is the stabilization sampling period. A file is stable
	// once size and mtime are unchanged across one full interval.
	PollInterval  time.Duration
	StableTimeout time.Duration
	StopTimeout   time.Duration
}

func (c *Config) setDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.StableTimeout <= 0 {
		c.StableTimeout = 30 * time.Second
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 5 * time.Second
	}
}

// Watcher owns the processing set. fsnotify runs on its own goroutine and
// only ever calls Submit.
type Watcher struct {
	cfg      Config
	handler  Handler
	notifier notify.Sender
	log      *slog.Logger
	stat     func(string) (os.FileInfo, error)

	inbox *csync.Queue[string]

	mu         sync.Mutex
	processing map[string]struct{}
	stopping   bool

	ctx    context.Context
	cancel context.CancelFunc
	jobs   sync.WaitGroup
	loops  sync.WaitGroup
	fsw    *fsnotify.Watcher
}

// New builds a watcher. notifier may be nil.
func New(log *slog.Logger, cfg Config, h Handler, notifier notify.Sender) *Watcher {
	if log == nil {
		log = slog.Default()
	}
	cfg.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		cfg:        cfg,
		handler:    h,
		notifier:   notifier,
		log:        log.With("component", "watcher"),
		stat:       os.Stat,
		inbox:      csync.NewQueue[string](),
		processing: make(map[string]struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start begins watching cfg.Dir and launches the supervisor. Files already
// present in the directory are submitted once.
func (w *Watcher) Start() error {
	if w.cfg.Dir == "" {
		w.startSupervisor()
		return nil
	}
	if err := os.MkdirAll(w.cfg.Dir, 0o755); err != nil {
		return fmt.Errorf("create watch dir: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify: %w", err)
	}
	if err := fsw.Add(w.cfg.Dir); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("watch %s: %w", w.cfg.Dir, err)
	}
	w.fsw = fsw
	w.startSupervisor()

	w.loops.Add(1)
	go w.bridge(fsw)

	entries, err := os.ReadDir(w.cfg.Dir)
	if err != nil {
		w.log.Warn("initial scan", "dir", w.cfg.Dir, "err", err)
	}
	for _, e := range entries {
		if e.Type().IsRegular() && !ignored(e.Name()) {
			w.Submit(filepath.Join(w.cfg.Dir, e.Name()))
		}
	}
	w.log.Info("watching directory", "dir", w.cfg.Dir, "poll", w.cfg.PollInterval, "timeout", w.cfg.StableTimeout)
	return nil
}

func (w *Watcher) startSupervisor() {
	w.loops.Add(1)
	go w.supervise(w.log.With("operation_id", uuid.NewString()))
}

// bridge forwards fsnotify events into the inbox.
func (w *Watcher) bridge(fsw *fsnotify.Watcher) {
	defer w.loops.Done()
	for {
		select {
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if ignored(filepath.Base(ev.Name)) {
				continue
			}
			w.Submit(ev.Name)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.log.Error("fsnotify", "err", err)
		}
	}
}

// Submit queues path for stabilization. It never blocks and is safe from
// any goroutine. It reports false once the watcher is stopping.
func (w *Watcher) Submit(path string) bool {
	w.mu.Lock()
	stopping := w.stopping
	w.mu.Unlock()
	if stopping {
		return false
	}
	return w.inbox.Push(filepath.Clean(path))
}

func (w *Watcher) supervise(log *slog.Logger) {
	defer w.loops.Done()
	for {
		path, err := w.inbox.Pop(w.ctx)
		if err != nil {
			return
		}
		w.begin(log, path)
	}
}

func (w *Watcher) begin(log *slog.Logger, path string) {
	w.mu.Lock()
	if w.stopping {
		w.mu.Unlock()
		return
	}
	if _, busy := w.processing[path]; busy {
		w.mu.Unlock()
		metrics.WatcherEvents.WithLabelValues("duplicate").Inc()
		log.Debug("already processing", "path", path)
		return
	}
	w.processing[path] = struct{}{}
	w.jobs.Add(1)
	w.mu.Unlock()

	metrics.WatcherEvents.WithLabelValues("detected").Inc()
	log.Info("file detected", "path", path)
	go w.process(log.With("path", path), path)
}

func (w *Watcher) process(log *slog.Logger, path string) {
	defer w.jobs.Done()
	defer func() {
		w.mu.Lock()
		delete(w.processing, path)
		w.mu.Unlock()
	}()

	err := w.waitStable(w.ctx, path)
	switch {
	case errors.Is(err, context.Canceled):
		metrics.WatcherEvents.WithLabelValues("cancelled").Inc()
		log.Info("stabilization cancelled, file left in place")
		return
	case errors.Is(err, errVanished):
		metrics.WatcherEvents.WithLabelValues("skipped").Inc()
		log.Info("file never appeared before stabilization timeout", "timeout", w.cfg.StableTimeout)
		return
	case errors.Is(err, errNotRegular):
		metrics.WatcherEvents.WithLabelValues("skipped").Inc()
		log.Debug("nothing to stabilize", "reason", err)
		return
	case errors.Is(err, context.DeadlineExceeded):
		metrics.WatcherEvents.WithLabelValues("timed_out").Inc()
		log.Error("file did not stabilize, leaving it untouched", "timeout", w.cfg.StableTimeout)
		if w.notifier != nil {
			_, _ = w.notifier.Notify(context.Background(), notifyOwner, 0, notify.Warning,
				fmt.Sprintf("File did not finish writing within %s and was left in place: %s", w.cfg.StableTimeout, filepath.Base(path)))
		}
		return
	case err != nil:
		log.Error("stabilization", "err", err)
		return
	}

	w.mu.Lock()
	if w.stopping {
		w.mu.Unlock()
		metrics.WatcherEvents.WithLabelValues("cancelled").Inc()
		log.Info("stable after stop, not dispatched")
		return
	}
	w.mu.Unlock()

	metrics.WatcherEvents.WithLabelValues("dispatched").Inc()
	log.Info("file stable, dispatching")
	w.handler.HandleFile(w.ctx, path)
}

// waitStable polls path until its size and mtime are unchanged over one
// full interval. A missing file keeps being polled until the timeout; if it
// never showed up at all the result is errVanished.
func (w *Watcher) waitStable(ctx context.Context, path string) error {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.StableTimeout)
	defer cancel()

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	var (
		seen     bool
		haveLast bool
		lastSize int64
		lastMod  time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if !seen && errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return errVanished
			}
			return ctx.Err()
		case <-ticker.C:
		}
		fi, err := w.stat(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return err
			}
			haveLast = false
			continue
		}
		if !fi.Mode().IsRegular() {
			return errNotRegular
		}
		seen = true
		size, mod := fi.Size(), fi.ModTime()
		if haveLast && size == lastSize && mod.Equal(lastMod) {
			return nil
		}
		haveLast, lastSize, lastMod = true, size, mod
	}
}

// Processing reports whether path is currently between detection and
// disposition.
func (w *Watcher) Processing(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.processing[filepath.Clean(path)]
	return ok
}

// Stop cancels every pending stabilization as one batch and waits, bounded
// by cfg.StopTimeout or ctx, for them to acknowledge. No dispatch starts
// after Stop returns.
func (w *Watcher) Stop(ctx context.Context) error {
	w.mu.Lock()
	if w.stopping {
		w.mu.Unlock()
		return nil
	}
	w.stopping = true
	pending := make([]string, 0, len(w.processing))
	for p := range w.processing {
		pending = append(pending, p)
	}
	w.mu.Unlock()

	if len(pending) > 0 {
		w.log.Info("cancelling pending stabilizations", "count", len(pending), "paths", strings.Join(pending, ","))
	}
	if w.fsw != nil {
		_ = w.fsw.Close()
	}
	w.inbox.Close()
	w.cancel()

	done := make(chan struct{})
	go func() {
		w.jobs.Wait()
		w.loops.Wait()
		close(done)
	}()
	timer := time.NewTimer(w.cfg.StopTimeout)
	defer timer.Stop()
	select {
	case <-done:
		w.log.Info("watcher stopped")
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}
	w.log.Warn("watcher stop timed out", "pending", len(pending))
	return ErrStopTimeout
}

// ignored filters hidden and partial files.
func ignored(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".part") || strings.HasSuffix(name, ".tmp")
}
