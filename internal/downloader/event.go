package downloader

import (
	"time"

	"github.com/tinoosan/mediamgr/internal/data"
)

// Event represents a state change or progress update of a download task.
//
// Terminal events (Complete, Failed) carry the final task snapshot and are
// persisted by the reconciler. Progress events are transient and may be
// dropped by a slow consumer.
type Event struct {
	ID       string     `json:"id"`
	Type     EventType  `json:"type"`
	Progress *Progress  `json:"progress,omitempty"`
	Task     *data.Task `json:"task,omitempty"`
	Err      string     `json:"error,omitempty"`
	At       time.Time  `json:"at"`
}

// EventType defines the set of events the manager emits.
type EventType string

const (
	EventQueued   EventType = "Queued"
	EventStart    EventType = "Start"
	EventProgress EventType = "Progress"
	EventRetry    EventType = "Retry"
	EventComplete EventType = "Complete"
	EventFailed   EventType = "Failed"
)

// Terminal reports whether the event ends a task's life.
func (t EventType) Terminal() bool { return t == EventComplete || t == EventFailed }

// Progress provides details about an in-progress download.
type Progress struct {
	Completed int64 `json:"completed"`
	Total     int64 `json:"total"`
	// Speed is the average speed in bytes/sec since the attempt started.
	Speed int64 `json:"speed"`
}
