package data

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestProgressSpeedAndETA(t *testing.T) {
	start := time.Unix(0, 0)
	task := NewTask("f", "movie.mkv", 1, 1, 1_000_000, start)
	if err := task.Advance(StatusDownloading, start); err != nil {
		t.Fatalf("advance: %v", err)
	}

	for i := 1; i <= 10; i++ {
		task.UpdateProgress(int64(i)*100_000, 1_000_000, start.Add(time.Duration(i)*time.Second))
	}
	if task.BytesDone != 1_000_000 {
		t.Fatalf("expected 1000000 bytes got %d", task.BytesDone)
	}
	if math.Abs(task.Speed-100_000) > 1 {
		t.Fatalf("expected ~100000 B/s got %f", task.Speed)
	}
	if task.ETA != 0 {
		t.Fatalf("expected zero ETA at completion got %v", task.ETA)
	}

	task.UpdateProgress(500_000, 0, start.Add(10*time.Second))
	if want := 10 * time.Second; task.ETA != want {
		t.Fatalf("expected ETA %v got %v", want, task.ETA)
	}
}

func TestProgressClampedToTotal(t *testing.T) {
	now := time.Unix(0, 0)
	task := NewTask("f", "a", 0, 0, 100, now)
	_ = task.Advance(StatusDownloading, now)
	task.UpdateProgress(150, 0, now.Add(time.Second))
	if task.BytesDone != 100 {
		t.Fatalf("expected clamp to 100 got %d", task.BytesDone)
	}
	if task.Percent() != 100 {
		t.Fatalf("expected 100%% got %f", task.Percent())
	}
}

func TestUnknownSizeKeepsETAUnknown(t *testing.T) {
	now := time.Unix(0, 0)
	task := NewTask("f", "a", 0, 0, 0, now)
	_ = task.Advance(StatusDownloading, now)
	task.UpdateProgress(4096, 0, now.Add(time.Second))
	if task.ETA >= 0 {
		t.Fatalf("expected unknown ETA got %v", task.ETA)
	}
	if task.Percent() != 0 {
		t.Fatalf("expected 0%% for unknown size")
	}
}

func TestTransitionsAreMonotonic(t *testing.T) {
	now := time.Unix(0, 0)
	cases := []struct {
		name  string
		path  []TaskStatus
		final TaskStatus
		fail  bool
	}{
		{"happy path", []TaskStatus{StatusDownloading, StatusCompleted}, StatusCompleted, false},
		{"retry reuses record", []TaskStatus{StatusDownloading, StatusDownloading, StatusError}, StatusError, false},
		{"cancel while queued", []TaskStatus{StatusError}, StatusError, false},
		{"no requeue", []TaskStatus{StatusDownloading, StatusQueued}, StatusDownloading, true},
		{"terminal is final", []TaskStatus{StatusDownloading, StatusCompleted, StatusDownloading}, StatusCompleted, true},
		{"skip downloading", []TaskStatus{StatusCompleted}, StatusQueued, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			task := NewTask("f", "a", 0, 0, 0, now)
			var err error
			for _, s := range tc.path {
				if err = task.Advance(s, now); err != nil {
					break
				}
			}
			if tc.fail != (err != nil) {
				t.Fatalf("expected failure=%v got %v", tc.fail, err)
			}
			if err != nil && !errors.Is(err, ErrBadTransition) {
				t.Fatalf("expected ErrBadTransition got %v", err)
			}
			if task.Status != tc.final {
				t.Fatalf("expected status %s got %s", tc.final, task.Status)
			}
		})
	}
}

func TestRecordFromTask(t *testing.T) {
	start := time.Unix(100, 0)
	task := NewTask("f", "a.mkv", 0, 0, 2000, start)
	_ = task.Advance(StatusDownloading, start)
	task.UpdateProgress(2000, 0, start.Add(2*time.Second))
	_ = task.Advance(StatusCompleted, start.Add(2*time.Second))

	r := RecordFromTask(task)
	if r.AvgSpeed != 1000 {
		t.Fatalf("expected avg speed 1000 got %f", r.AvgSpeed)
	}
	if r.Status != StatusCompleted || r.Bytes != 2000 {
		t.Fatalf("unexpected record %+v", r)
	}
}
