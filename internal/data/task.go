package data

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

// TaskStatus is the lifecycle state of a download task.
type TaskStatus string

const (
	StatusQueued      TaskStatus = "queued"
	StatusDownloading TaskStatus = "downloading"
	StatusCompleted   TaskStatus = "completed"
	StatusError       TaskStatus = "error"
)

// Terminal reports whether no further transition is possible.
func (s TaskStatus) Terminal() bool { return s == StatusCompleted || s == StatusError }

// DesiredStatus is what API clients may ask of a live task.
type DesiredStatus string

const DesiredCancelled DesiredStatus = "Cancelled"

var (
	ErrNotFound      = errors.New("download not found")
	ErrBadTransition = errors.New("invalid status transition")
	ErrBadStatus     = errors.New("invalid desired status")
)

var transitions = map[TaskStatus][]TaskStatus{
	StatusQueued:      {StatusDownloading, StatusError},
	StatusDownloading: {StatusDownloading, StatusCompleted, StatusError},
}

// Task is one remote file moving through the download pipeline. TotalSize
// is 0 until the size is known; ETA is negative while unknown.
type Task struct {
	FileID          string        `json:"fileId"`
	Filename        string        `json:"filename"`
	ChatID          int64         `json:"chatId"`
	MessageID       int           `json:"messageId"`
	StatusMessageID int           `json:"statusMessageId,omitempty"`
	TotalSize       int64         `json:"totalSize"`
	BytesDone       int64         `json:"bytesDone"`
	Speed           float64       `json:"speed"`
	ETA             time.Duration `json:"-"`
	Status          TaskStatus    `json:"status"`
	Attempts        int           `json:"attempts"`
	Error           string        `json:"error,omitempty"`
	TempPath        string        `json:"-"`
	Path            string        `json:"path,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
	StartedAt       time.Time     `json:"startedAt,omitempty"`
	UpdatedAt       time.Time     `json:"updatedAt"`
	FinishedAt      time.Time     `json:"finishedAt,omitempty"`
}

type Tasks []*Task

// NewTask returns a queued task.
func NewTask(fileID, filename string, chatID int64, messageID int, total int64, now time.Time) *Task {
	if total < 0 {
		total = 0
	}
	return &Task{
		FileID:    fileID,
		Filename:  filename,
		ChatID:    chatID,
		MessageID: messageID,
		TotalSize: total,
		ETA:       -1,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Advance moves the task to next. Transitions are monotonic; the only
// self-transition allowed is downloading→downloading for a retry.
func (t *Task) Advance(next TaskStatus, now time.Time) error {
	for _, allowed := range transitions[t.Status] {
		if allowed == next {
			if next == StatusDownloading && t.StartedAt.IsZero() {
				t.StartedAt = now
			}
			if next.Terminal() {
				t.FinishedAt = now
			}
			t.Status = next
			t.UpdatedAt = now
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrBadTransition, t.Status, next)
}

// UpdateProgress records cumulative progress. Speed is averaged over the
// time since the task started; bytes are clamped to the known total.
func (t *Task) UpdateProgress(done, total int64, now time.Time) {
	if total > 0 {
		t.TotalSize = total
	}
	if t.TotalSize > 0 && done > t.TotalSize {
		done = t.TotalSize
	}
	if done < 0 {
		done = 0
	}
	t.BytesDone = done
	t.UpdatedAt = now

	elapsed := t.Elapsed(now).Seconds()
	if elapsed <= 0 {
		return
	}
	t.Speed = float64(done) / elapsed
	if t.Speed > 0 && t.TotalSize > 0 {
		remaining := float64(t.TotalSize - done)
		t.ETA = time.Duration(remaining / t.Speed * float64(time.Second))
	} else {
		t.ETA = -1
	}
}

// ResetProgress clears transfer counters before a retry.
func (t *Task) ResetProgress(now time.Time) {
	t.BytesDone = 0
	t.Speed = 0
	t.ETA = -1
	t.StartedAt = now
	t.UpdatedAt = now
}

// Percent is the completed fraction in [0,100], 0 when the size is unknown.
func (t *Task) Percent() float64 {
	if t.TotalSize <= 0 {
		return 0
	}
	return float64(t.BytesDone) / float64(t.TotalSize) * 100
}

// Elapsed is the transfer time so far, or the full time when finished.
func (t *Task) Elapsed(now time.Time) time.Duration {
	if t.StartedAt.IsZero() {
		return 0
	}
	if !t.FinishedAt.IsZero() {
		return t.FinishedAt.Sub(t.StartedAt)
	}
	return now.Sub(t.StartedAt)
}

// Clone returns a deep copy.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func (t *Task) ToJSON(w io.Writer) error { return json.NewEncoder(w).Encode(t) }

func (ts Tasks) ToJSON(w io.Writer) error { return json.NewEncoder(w).Encode(ts) }
