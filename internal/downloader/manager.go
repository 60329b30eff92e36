package downloader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tinoosan/mediamgr/internal/csync"
	"github.com/tinoosan/mediamgr/internal/data"
	"github.com/tinoosan/mediamgr/internal/downloadcfg"
	"github.com/tinoosan/mediamgr/internal/metrics"
	"github.com/tinoosan/mediamgr/internal/notify"
	"github.com/tinoosan/mediamgr/internal/ratelimit"
)

// notifyOwner is the token owner name used for all manager notifications.
const notifyOwner = "downloader"

// stopGrace bounds the wait after in-flight transfers were cancelled.
const stopGrace = 5 * time.Second

// Config holds the manager settings.
type Config struct {
	Workers     int
	MaxRetries  int
	RetryDelay  time.Duration
	Verify      bool
	DownloadDir string
	TempDir     string
	Collision   downloadcfg.CollisionPolicy
	// ProgressInterval and ProgressStep decide when a status edit is due:
	// whichever of elapsed time or percent advanced is reached first.
	ProgressInterval time.Duration
	ProgressStep     float64
	// DrainTimeout is how long Stop lets running transfers finish before
	// cancelling them.
	DrainTimeout time.Duration
}

func (c *Config) setDefaults() {
	if c.Workers <= 0 {
		c.Workers = 3
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = 0
	}
	if c.TempDir == "" {
		c.TempDir = filepath.Join(c.DownloadDir, ".incoming")
	}
	if c.Collision == "" {
		c.Collision = downloadcfg.CollisionError
	}
	if c.ProgressInterval <= 0 {
		c.ProgressInterval = 5 * time.Second
	}
	if c.ProgressStep <= 0 {
		c.ProgressStep = 10
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 10 * time.Second
	}
}

// Option customises a Manager.
type Option func(*Manager)

func WithNotifier(n notify.Sender) Option { return func(m *Manager) { m.notifier = n } }

func WithSink(s Sink) Option { return func(m *Manager) { m.sink = s } }

func WithReporter(r Reporter) Option { return func(m *Manager) { m.reporter = r } }

func WithSpeedLimiter(l *ratelimit.ByteLimiter) Option { return func(m *Manager) { m.speed = l } }

func WithUpdateLimiter(l *ratelimit.UpdateLimiter[string]) Option {
	return func(m *Manager) { m.updates = l }
}

func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

// entry is the manager's bookkeeping for one live task. Fields other than
// editing are guarded by Manager.mu.
type entry struct {
	task      *data.Task
	cancel    context.CancelFunc
	cancelled bool
	lastPct   float64
	lastAt    time.Time
	editing   atomic.Bool
}

// Manager runs a fixed pool of workers over an unbounded FIFO of download
// tasks.
type Manager struct {
	cfg      Config
	transfer Transfer
	notifier notify.Sender
	sink     Sink
	reporter Reporter
	speed    *ratelimit.ByteLimiter
	updates  *ratelimit.UpdateLimiter[string]
	log      *slog.Logger
	now      func() time.Time

	queue *csync.Queue[*data.Task]

	mu      sync.RWMutex
	active  map[string]*entry
	closed  bool
	started bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a stopped Manager; call Start to launch the workers.
func New(log *slog.Logger, cfg Config, transfer Transfer, opts ...Option) *Manager {
	if log == nil {
		log = slog.Default()
	}
	cfg.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:      cfg,
		transfer: transfer,
		log:      log.With("component", "downloader"),
		now:      time.Now,
		queue:    csync.NewQueue[*data.Task](),
		active:   make(map[string]*entry),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, o := range opts {
		o(m)
	}
	if m.updates == nil {
		m.updates = ratelimit.NewUpdateLimiter[string](ratelimit.DefaultUpdateInterval)
	}
	if m.speed == nil {
		m.speed = ratelimit.NewByteLimiter(0)
	}
	return m
}

// Start creates the working directories and launches the workers.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return nil
	}
	if m.closed {
		return ErrClosed
	}
	for _, dir := range []string{m.cfg.DownloadDir, m.cfg.TempDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	m.started = true
	opID := uuid.NewString()
	for i := 0; i < m.cfg.Workers; i++ {
		m.wg.Add(1)
		go m.worker(m.log.With("operation_id", opID, "worker", i))
	}
	m.log.Info("download workers started", "workers", m.cfg.Workers, "dir", m.cfg.DownloadDir)
	return nil
}

// Enqueue validates d and appends a queued task. It never blocks on the
// workers and returns the task id.
func (m *Manager) Enqueue(d Descriptor) (string, error) {
	d.FileID = strings.TrimSpace(d.FileID)
	if d.FileID == "" || strings.TrimSpace(d.Filename) == "" {
		return "", ErrInvalidDescriptor
	}
	name := SafeFilename(d.Filename, d.FileID)
	now := m.now()
	t := data.NewTask(d.FileID, name, d.ChatID, d.MessageID, d.Size, now)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", ErrClosed
	}
	if _, dup := m.active[t.FileID]; dup {
		m.mu.Unlock()
		return "", ErrDuplicate
	}
	e := &entry{task: t, lastAt: now}
	m.active[t.FileID] = e
	m.queue.Push(t)
	position := m.queue.Len()
	snap := t.Clone()
	if m.notifier != nil {
		// added under mu so Stop cannot be waiting on an empty group
		m.wg.Add(1)
	}
	m.mu.Unlock()

	metrics.QueuedDownloads.Set(float64(m.queue.Len()))
	m.log.Info("download queued", "id", t.FileID, "file", name, "size", t.TotalSize, "position", position)
	m.report(EventQueued, snap, nil)

	if m.notifier != nil {
		go func() {
			defer m.wg.Done()
			id, err := m.notifier.Notify(context.Background(), notifyOwner, snap.ChatID, notify.Info, queuedText(snap, position))
			if err != nil || id == 0 {
				return
			}
			m.mu.Lock()
			e.task.StatusMessageID = id
			m.mu.Unlock()
		}()
	}
	return t.FileID, nil
}

func (m *Manager) worker(log *slog.Logger) {
	defer m.wg.Done()
	for {
		t, err := m.queue.Pop(m.ctx)
		if err != nil {
			return
		}
		metrics.QueuedDownloads.Set(float64(m.queue.Len()))
		m.run(log, t)
	}
}

func (m *Manager) run(log *slog.Logger, t *data.Task) {
	ctx, cancel := context.WithCancel(m.ctx)
	defer cancel()

	m.mu.Lock()
	e, ok := m.active[t.FileID]
	if !ok {
		m.mu.Unlock()
		return
	}
	if e.cancelled {
		m.mu.Unlock()
		m.fail(e, ErrCancelled)
		return
	}
	e.cancel = cancel
	now := m.now()
	_ = t.Advance(data.StatusDownloading, now)
	t.TempPath = filepath.Join(m.cfg.TempDir, tempName(t.Filename))
	e.lastAt = now
	snap := t.Clone()
	m.mu.Unlock()

	metrics.ActiveDownloads.Inc()
	defer metrics.ActiveDownloads.Dec()
	log = log.With("id", t.FileID, "file", t.Filename)
	log.Info("download started", "size", t.TotalSize)
	m.report(EventStart, snap, nil)

	var err error
	for attempt := 0; ; attempt++ {
		m.mu.Lock()
		t.Attempts++
		if attempt > 0 {
			_ = t.Advance(data.StatusDownloading, m.now())
			t.ResetProgress(m.now())
			e.lastPct, e.lastAt = 0, m.now()
		}
		m.mu.Unlock()

		err = m.attempt(ctx, e)
		if err == nil {
			break
		}
		if rmErr := removeQuiet(t.TempPath); rmErr != nil {
			log.Warn("remove partial file", "path", t.TempPath, "err", rmErr)
		}
		if !m.retryable(ctx, err) || attempt >= m.cfg.MaxRetries {
			break
		}
		metrics.TransferRetries.Inc()
		log.Warn("transfer failed, retrying", "attempt", attempt+1, "max_retries", m.cfg.MaxRetries, "delay", m.cfg.RetryDelay, "err", err)
		m.mu.RLock()
		snap = t.Clone()
		m.mu.RUnlock()
		m.report(EventRetry, snap, err)
		if werr := sleepCtx(ctx, m.cfg.RetryDelay); werr != nil {
			err = werr
			break
		}
	}
	if err != nil {
		m.fail(e, m.classify(e, err))
		return
	}
	m.complete(log, e)
}

func (m *Manager) attempt(ctx context.Context, e *entry) error {
	m.mu.RLock()
	t := e.task
	d := Descriptor{FileID: t.FileID, Filename: t.Filename, ChatID: t.ChatID, MessageID: t.MessageID, Size: t.TotalSize}
	dest := t.TempPath
	m.mu.RUnlock()

	if err := m.transfer.Download(ctx, d, dest, m.progressFunc(ctx, e)); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !m.cfg.Verify {
		return nil
	}
	// the transfer may have learned the size while running
	m.mu.RLock()
	want := t.TotalSize
	m.mu.RUnlock()
	size, err := verifyFile(dest, want)
	if err != nil {
		return err
	}
	m.mu.Lock()
	if t.TotalSize == 0 {
		t.TotalSize = size
	}
	t.BytesDone = size
	m.mu.Unlock()
	return nil
}

func (m *Manager) progressFunc(ctx context.Context, e *entry) ProgressFunc {
	var prev int64
	return func(done, total int64) {
		if delta := done - prev; delta > 0 {
			_ = m.speed.Throttle(ctx, int(delta))
		}
		prev = done
		now := m.now()

		m.mu.Lock()
		t := e.task
		t.UpdateProgress(done, total, now)
		due := t.Percent()-e.lastPct >= m.cfg.ProgressStep || now.Sub(e.lastAt) >= m.cfg.ProgressInterval
		if due && m.updates.TryProceed(t.FileID) {
			e.lastPct, e.lastAt = t.Percent(), now
		} else {
			due = false
		}
		snap := t.Clone()
		m.mu.Unlock()

		m.report(EventProgress, snap, nil)
		if due {
			m.pushStatus(e, snap, now)
		}
	}
}

// pushStatus edits the task's status message without blocking the
// transfer. At most one edit per task is in flight; a due update that
// finds one running is skipped.
func (m *Manager) pushStatus(e *entry, snap *data.Task, now time.Time) {
	if m.notifier == nil || snap.StatusMessageID == 0 {
		return
	}
	if !e.editing.CompareAndSwap(false, true) {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer e.editing.Store(false)
		_ = m.notifier.Edit(context.Background(), notifyOwner, snap.ChatID, snap.StatusMessageID, notify.Progress, progressText(snap, now))
	}()
}

func (m *Manager) complete(log *slog.Logger, e *entry) {
	m.mu.RLock()
	t := e.task
	temp, name := t.TempPath, t.Filename
	m.mu.RUnlock()

	final, err := downloadcfg.Resolve(m.cfg.DownloadDir, name, m.cfg.Collision)
	if err == nil {
		err = os.Rename(temp, final)
	}
	if err != nil {
		log.Error("finalize download", "temp", temp, "err", err)
		_ = removeQuiet(temp)
		m.fail(e, Permanent(fmt.Errorf("finalize: %w", err)))
		return
	}

	now := m.now()
	fi, statErr := os.Stat(final)
	m.mu.Lock()
	if statErr == nil {
		t.BytesDone = fi.Size()
	}
	t.Path = final
	t.ETA = 0
	_ = t.Advance(data.StatusCompleted, now)
	snap := t.Clone()
	m.mu.Unlock()

	metrics.DownloadedBytes.Add(float64(snap.BytesDone))
	log.Info("download completed", "path", final, "bytes", snap.BytesDone, "elapsed", snap.Elapsed(now), "attempts", snap.Attempts)
	m.summarize(snap, notify.Success, completedText(snap))

	if m.sink != nil && !m.sink.Submit(final) {
		log.Warn("categorization handoff refused", "path", final)
	}
	m.forget(snap.FileID)
	m.report(EventComplete, snap, nil)
}

// fail marks the task as errored, removes any partial file and reports it.
func (m *Manager) fail(e *entry, cause error) {
	now := m.now()
	m.mu.Lock()
	t := e.task
	t.Error = reason(cause)
	if err := t.Advance(data.StatusError, now); err != nil {
		m.mu.Unlock()
		m.log.Error("fail task", "id", t.FileID, "err", err)
		return
	}
	temp := t.TempPath
	snap := t.Clone()
	m.mu.Unlock()

	if err := removeQuiet(temp); err != nil {
		m.log.Warn("remove partial file", "path", temp, "err", err)
	}
	m.log.Error("download failed", "id", snap.FileID, "file", snap.Filename, "attempts", snap.Attempts, "err", cause)
	m.summarize(snap, notify.Error, failedText(snap, cause))
	m.forget(snap.FileID)
	m.report(EventFailed, snap, cause)
}

func (m *Manager) summarize(snap *data.Task, sev notify.Severity, text string) {
	if m.notifier == nil {
		return
	}
	ctx := context.Background()
	if snap.StatusMessageID != 0 {
		if err := m.notifier.Edit(ctx, notifyOwner, snap.ChatID, snap.StatusMessageID, sev, text); err == nil {
			return
		}
	}
	_, _ = m.notifier.Notify(ctx, notifyOwner, snap.ChatID, sev, text)
}

func (m *Manager) forget(id string) {
	m.mu.Lock()
	delete(m.active, id)
	m.mu.Unlock()
	m.updates.Forget(id)
}

func (m *Manager) retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	switch {
	case errors.Is(err, ErrPermanent), errors.Is(err, ErrVerification),
		errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

func (m *Manager) classify(e *entry, err error) error {
	m.mu.RLock()
	cancelled := e.cancelled
	m.mu.RUnlock()
	switch {
	case cancelled:
		return ErrCancelled
	case m.ctx.Err() != nil:
		return ErrShutdown
	}
	return err
}

func reason(err error) string {
	switch {
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	case errors.Is(err, ErrShutdown):
		return "interrupted by shutdown"
	}
	return err.Error()
}

func (m *Manager) report(typ EventType, snap *data.Task, err error) {
	if m.reporter == nil {
		return
	}
	ev := Event{ID: snap.FileID, Type: typ, Task: snap, At: m.now()}
	if typ == EventProgress {
		ev.Progress = &Progress{Completed: snap.BytesDone, Total: snap.TotalSize, Speed: int64(snap.Speed)}
	}
	if err != nil {
		ev.Err = err.Error()
	}
	m.reporter.Report(ev)
}

// Cancel aborts a queued or running task.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	e, ok := m.active[id]
	if !ok {
		m.mu.Unlock()
		return data.ErrNotFound
	}
	if e.cancelled {
		m.mu.Unlock()
		return nil
	}
	e.cancelled = true
	stop := e.cancel
	queued := e.task.Status == data.StatusQueued
	m.mu.Unlock()

	if queued {
		if _, removed := m.queue.Remove(func(t *data.Task) bool { return t.FileID == id }); removed {
			metrics.QueuedDownloads.Set(float64(m.queue.Len()))
			m.fail(e, ErrCancelled)
			return nil
		}
		// a worker already popped it; run() sees the flag
		return nil
	}
	if stop != nil {
		stop()
	}
	return nil
}

// Get returns a snapshot of a live task.
func (m *Manager) Get(id string) (*data.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.active[id]
	if !ok {
		return nil, data.ErrNotFound
	}
	return e.task.Clone(), nil
}

// Summary is a point-in-time view of the manager.
type Summary struct {
	Active int        `json:"active"`
	Queued int        `json:"queued"`
	Tasks  data.Tasks `json:"tasks"`
}

// Status snapshots the live tasks without pausing the workers. Running
// tasks come first, then queued ones in FIFO order.
func (m *Manager) Status() Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Summary{Tasks: make(data.Tasks, 0, len(m.active))}
	for _, e := range m.active {
		switch e.task.Status {
		case data.StatusQueued:
			s.Queued++
		case data.StatusDownloading:
			s.Active++
		}
		s.Tasks = append(s.Tasks, e.task.Clone())
	}
	sort.SliceStable(s.Tasks, func(i, j int) bool {
		a, b := s.Tasks[i], s.Tasks[j]
		if (a.Status == data.StatusDownloading) != (b.Status == data.StatusDownloading) {
			return a.Status == data.StatusDownloading
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	return s
}

// Render formats the summary for a chat reply.
func (s Summary) Render(now time.Time) string {
	if s.Active == 0 && s.Queued == 0 {
		return "No active or queued downloads"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Active downloads: %d", s.Active)
	for _, t := range s.Tasks {
		if t.Status == data.StatusDownloading {
			fmt.Fprintf(&b, "\n- %s: %.1f%% at %s/s, ETA %s", t.Filename, t.Percent(), HumanSize(int64(t.Speed)), HumanDuration(t.ETA))
		}
	}
	fmt.Fprintf(&b, "\nQueued downloads: %d", s.Queued)
	for _, t := range s.Tasks {
		if t.Status == data.StatusQueued {
			fmt.Fprintf(&b, "\n- %s (%s, waiting %s)", t.Filename, sizeOrUnknown(t.TotalSize), HumanDuration(now.Sub(t.CreatedAt)))
		}
	}
	return b.String()
}

// Stop refuses new work, fails every task still queued, lets running
// transfers finish until the drain timeout and then cancels them. It
// returns ErrStopTimeout when workers are still busy after the grace.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	for _, t := range m.queue.Close() {
		m.mu.RLock()
		e := m.active[t.FileID]
		m.mu.RUnlock()
		if e != nil {
			m.fail(e, ErrShutdown)
		}
	}
	metrics.QueuedDownloads.Set(0)

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	drain := time.NewTimer(m.cfg.DrainTimeout)
	defer drain.Stop()
	select {
	case <-done:
		m.cancel()
		m.log.Info("download workers stopped")
		return nil
	case <-drain.C:
	case <-ctx.Done():
	}

	m.log.Warn("cancelling in-flight transfers")
	m.cancel()
	grace := time.NewTimer(stopGrace)
	defer grace.Stop()
	select {
	case <-done:
		m.log.Info("download workers stopped")
		return nil
	case <-grace.C:
		return ErrStopTimeout
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
