package data

import (
	"encoding/json"
	"io"
	"time"
)

// Record is the persisted summary of a finished task.
type Record struct {
	ID          string     `json:"id"`
	Fingerprint string     `json:"-"`
	FileID      string     `json:"fileId"`
	Filename    string     `json:"filename"`
	Path        string     `json:"path,omitempty"`
	Status      TaskStatus `json:"status"`
	Size        int64      `json:"size"`
	Bytes       int64      `json:"bytes"`
	AvgSpeed    float64    `json:"avgSpeed"`
	Attempts    int        `json:"attempts"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"startedAt"`
	FinishedAt  time.Time  `json:"finishedAt"`
}

type Records []*Record

// Stats aggregates the download history.
type Stats struct {
	Total     int   `json:"total"`
	Succeeded int   `json:"succeeded"`
	Failed    int   `json:"failed"`
	Bytes     int64 `json:"bytes"`
}

// RecordFromTask summarises a terminal task.
func RecordFromTask(t *Task) *Record {
	r := &Record{
		FileID:     t.FileID,
		Filename:   t.Filename,
		Path:       t.Path,
		Status:     t.Status,
		Size:       t.TotalSize,
		Bytes:      t.BytesDone,
		Attempts:   t.Attempts,
		Error:      t.Error,
		StartedAt:  t.StartedAt,
		FinishedAt: t.FinishedAt,
	}
	if secs := t.Elapsed(t.FinishedAt).Seconds(); secs > 0 {
		r.AvgSpeed = float64(t.BytesDone) / secs
	}
	return r
}

func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

func (rs Records) ToJSON(w io.Writer) error { return json.NewEncoder(w).Encode(rs) }

func (s Stats) ToJSON(w io.Writer) error { return json.NewEncoder(w).Encode(s) }
