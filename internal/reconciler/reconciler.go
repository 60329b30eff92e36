package reconciler

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tinoosan/mediamgr/internal/data"
	"github.com/tinoosan/mediamgr/internal/downloader"
	"github.com/tinoosan/mediamgr/internal/metrics"
	"github.com/tinoosan/mediamgr/internal/repo"
)

const writeTimeout = 5 * time.Second

// Reconciler consumes downloader events and writes the history.
type Reconciler struct {
	repo   repo.HistoryWriter
	events <-chan downloader.Event
	log    *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates a Reconciler that records every terminal downloader event.
func New(log *slog.Logger, repo repo.HistoryWriter, events <-chan downloader.Event) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{repo: repo, events: events, log: log.With("component", "reconciler"), ctx: context.Background()}
}

// Run starts the reconciliation loop.
func (r *Reconciler) Run() {
	r.stop = make(chan struct{})
	r.ctx, r.cancel = context.WithCancel(r.ctx)
	r.log = r.log.With("operation_id", uuid.NewString())
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-r.stop:
				r.drain()
				return
			case e, ok := <-r.events:
				if !ok {
					return
				}
				r.handle(e)
			}
		}
	}()
}

// drain handles whatever is already buffered so terminal events sent
// before Stop still reach the history.
func (r *Reconciler) drain() {
	for {
		select {
		case e, ok := <-r.events:
			if !ok {
				return
			}
			r.handle(e)
		default:
			return
		}
	}
}

// Stop terminates the reconciliation loop.
func (r *Reconciler) Stop() {
	if r.stop != nil {
		close(r.stop)
		r.wg.Wait()
		if r.cancel != nil {
			r.cancel()
		}
		r.stop = nil
	}
}

func (r *Reconciler) handle(e downloader.Event) {
	metrics.DownloadEvents.WithLabelValues(strings.ToLower(string(e.Type))).Inc()
	switch e.Type {
	case downloader.EventQueued, downloader.EventStart:
		r.log.Debug("download lifecycle", "id", e.ID, "type", e.Type)
		return
	case downloader.EventRetry:
		r.log.Info("retry event", "id", e.ID, "err", e.Err)
		return
	case downloader.EventProgress:
		if e.Progress != nil {
			r.log.Debug("progress event", "id", e.ID, "completed", e.Progress.Completed, "total", e.Progress.Total, "speed", e.Progress.Speed)
		}
		return
	case downloader.EventComplete, downloader.EventFailed:
	default:
		r.log.Warn("unknown event type", "id", e.ID, "type", e.Type)
		return
	}

	if e.Task == nil {
		r.log.Warn("terminal event without task snapshot", "id", e.ID, "type", e.Type)
		return
	}
	rec := data.RecordFromTask(e.Task)
	if rec.FinishedAt.IsZero() {
		rec.FinishedAt = e.At
	}
	ctx, cancel := context.WithTimeout(r.ctx, writeTimeout)
	defer cancel()
	saved, err := r.repo.Record(ctx, rec)
	if err != nil {
		r.log.Error("record history", "id", e.ID, "status", rec.Status, "err", err)
		return
	}
	r.log.Info("reconciled event", "id", e.ID, "type", e.Type, "record", saved.ID)
}
