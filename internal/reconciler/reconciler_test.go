package reconciler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/tinoosan/mediamgr/internal/data"
	"github.com/tinoosan/mediamgr/internal/downloader"
	"github.com/tinoosan/mediamgr/internal/repo"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func task(id string, status data.TaskStatus) *data.Task {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	t := data.NewTask(id, id+".mkv", 1, 2, 100, now.Add(-time.Minute))
	t.Status = status
	t.StartedAt = now.Add(-time.Minute)
	t.FinishedAt = now
	t.BytesDone = 100
	return t
}

// TestHandle ensures that terminal events are recorded while transient
// events leave the history untouched.
func TestHandle(t *testing.T) {
	rpo := repo.NewInMemoryHistoryRepo()
	r := New(quietLogger(), rpo, nil)
	ctx := context.Background()

	r.handle(downloader.Event{ID: "a", Type: downloader.EventProgress, Progress: &downloader.Progress{Completed: 10, Total: 100}})
	r.handle(downloader.Event{ID: "a", Type: downloader.EventStart})
	if s, _ := rpo.Stats(ctx); s.Total != 0 {
		t.Fatalf("transient events were recorded: %+v", s)
	}

	r.handle(downloader.Event{ID: "a", Type: downloader.EventComplete, Task: task("a", data.StatusCompleted)})
	r.handle(downloader.Event{ID: "b", Type: downloader.EventFailed, Task: task("b", data.StatusError), Err: "boom"})
	s, _ := rpo.Stats(ctx)
	if s.Total != 2 || s.Succeeded != 1 || s.Failed != 1 || s.Bytes != 200 {
		t.Fatalf("unexpected stats %+v", s)
	}

	// a terminal event without a snapshot is ignored
	r.handle(downloader.Event{ID: "c", Type: downloader.EventFailed})
	if s, _ := rpo.Stats(ctx); s.Total != 2 {
		t.Fatalf("snapshotless event recorded")
	}
}

type failingRepo struct{ calls int }

func (f *failingRepo) Record(context.Context, *data.Record) (*data.Record, error) {
	f.calls++
	return nil, errors.New("db down")
}

func TestHandleSurvivesRepoErrors(t *testing.T) {
	f := &failingRepo{}
	r := New(quietLogger(), f, nil)
	r.handle(downloader.Event{ID: "a", Type: downloader.EventComplete, Task: task("a", data.StatusCompleted)})
	if f.calls != 1 {
		t.Fatalf("expected one write attempt got %d", f.calls)
	}
}

func TestRunDrainsOnStop(t *testing.T) {
	rpo := repo.NewInMemoryHistoryRepo()
	events := make(chan downloader.Event, 8)
	r := New(quietLogger(), rpo, events)
	r.Run()

	events <- downloader.Event{ID: "a", Type: downloader.EventComplete, Task: task("a", data.StatusCompleted)}
	events <- downloader.Event{ID: "b", Type: downloader.EventComplete, Task: task("b", data.StatusCompleted)}
	r.Stop()

	if s, _ := rpo.Stats(context.Background()); s.Total != 2 {
		t.Fatalf("expected both events recorded, got %+v", s)
	}
	r.Stop()
}
