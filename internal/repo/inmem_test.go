package repo

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/tinoosan/mediamgr/internal/data"
)

func record(fileID string, status data.TaskStatus, bytes int64, finished time.Time) *data.Record {
	return &data.Record{
		FileID:     fileID,
		Filename:   fileID + ".mkv",
		Status:     status,
		Size:       bytes,
		Bytes:      bytes,
		Attempts:   1,
		StartedAt:  finished.Add(-time.Minute),
		FinishedAt: finished,
	}
}

// exerciseHistory runs the behaviour every backend must share.
func exerciseHistory(t *testing.T, h HistoryRepo) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	list, err := h.List(ctx, 0)
	if err != nil || len(list) != 0 {
		t.Fatalf("empty List = %v, %v", list, err)
	}

	a, err := h.Record(ctx, record("a", data.StatusCompleted, 100, base))
	if err != nil {
		t.Fatalf("Record a: %v", err)
	}
	if a.ID == "" || a.Fingerprint == "" {
		t.Fatalf("expected id and fingerprint, got %+v", a)
	}
	if _, err := h.Record(ctx, record("b", data.StatusError, 40, base.Add(time.Minute))); err != nil {
		t.Fatalf("Record b: %v", err)
	}

	// same file again replaces the row and keeps its id
	again := record("a", data.StatusError, 50, base.Add(2*time.Minute))
	again.Error = "network"
	got, err := h.Record(ctx, again)
	if err != nil {
		t.Fatalf("Record a again: %v", err)
	}
	if got.ID != a.ID {
		t.Fatalf("upsert changed id: %s -> %s", a.ID, got.ID)
	}

	list, err = h.List(ctx, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].FileID != "a" || list[1].FileID != "b" {
		t.Fatalf("expected [a b] newest first, got %+v", list)
	}
	if list[0].Error != "network" || !list[0].FinishedAt.Equal(base.Add(2*time.Minute)) {
		t.Fatalf("row not replaced: %+v", list[0])
	}
	if short, _ := h.List(ctx, 1); len(short) != 1 {
		t.Fatalf("limit ignored: %d rows", len(short))
	}

	one, err := h.Get(ctx, a.ID)
	if err != nil || one.FileID != "a" {
		t.Fatalf("Get = %+v, %v", one, err)
	}
	if _, err := h.Get(ctx, "missing"); !errors.Is(err, data.ErrNotFound) {
		t.Fatalf("expected ErrNotFound got %v", err)
	}

	s, err := h.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	want := data.Stats{Total: 2, Succeeded: 0, Failed: 2, Bytes: 90}
	if s != want {
		t.Fatalf("Stats = %+v want %+v", s, want)
	}

	if _, err := h.Record(ctx, &data.Record{}); err == nil {
		t.Fatalf("expected error for record without file id")
	}
}

func TestInMemoryHistoryRepo(t *testing.T) {
	exerciseHistory(t, NewInMemoryHistoryRepo())
}

func TestSQLiteHistoryRepo(t *testing.T) {
	h, err := NewSQLiteRepo(context.Background(), filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer h.Close()
	exerciseHistory(t, h)
}

func TestInMemoryHistoryRepo_ConcurrentRecord(t *testing.T) {
	h := NewInMemoryHistoryRepo()
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = h.Record(ctx, record(fmt.Sprintf("f%d", i%10), data.StatusCompleted, 1, time.Now()))
		}(i)
	}
	wg.Wait()
	s, _ := h.Stats(ctx)
	if s.Total != 10 {
		t.Fatalf("expected 10 distinct files got %d", s.Total)
	}
}

func TestOpen(t *testing.T) {
	h, err := Open(context.Background(), "memory", "")
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	_ = h.Close()
	if _, err := Open(context.Background(), "mongo", ""); !errors.Is(err, ErrUnknownDriver) {
		t.Fatalf("expected ErrUnknownDriver got %v", err)
	}
}

func TestPostgresDSNFromEnv(t *testing.T) {
	for _, k := range []string{"POSTGRES_PORT", "POSTGRES_DB", "POSTGRES_USER", "POSTGRES_SSLMODE"} {
		t.Setenv(k, "")
	}
	t.Setenv("POSTGRES_HOST", "db")
	t.Setenv("POSTGRES_PASSWORD", "p@ss word")
	got := PostgresDSNFromEnv()
	want := "postgres://mediamgr:p%40ss%20word@db:5432/mediamgr?sslmode=disable"
	if got != want {
		t.Fatalf("dsn = %s want %s", got, want)
	}
}

func TestRebind(t *testing.T) {
	r := &sqlRepo{numbered: true}
	if got := r.rebind("a=? AND b=?"); got != "a=$1 AND b=$2" {
		t.Fatalf("rebind = %q", got)
	}
}
