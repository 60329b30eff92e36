package v1_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tinoosan/mediamgr/internal/data"
	"github.com/tinoosan/mediamgr/internal/downloader"
	"github.com/tinoosan/mediamgr/internal/repo"
	"github.com/tinoosan/mediamgr/internal/router"
	"github.com/tinoosan/mediamgr/internal/service"
)

const testToken = "testtoken"

// memQueue stands in for the download manager.
type memQueue struct {
	mu    sync.Mutex
	tasks map[string]*data.Task
}

func (q *memQueue) Status() downloader.Summary {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := downloader.Summary{}
	for _, t := range q.tasks {
		s.Queued++
		s.Tasks = append(s.Tasks, t.Clone())
	}
	return s
}

func (q *memQueue) Get(id string) (*data.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[id]
	if !ok {
		return nil, data.ErrNotFound
	}
	return t.Clone(), nil
}

func (q *memQueue) Cancel(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.tasks[id]; !ok {
		return data.ErrNotFound
	}
	delete(q.tasks, id)
	return nil
}

func setup(t *testing.T) (http.Handler, repo.HistoryRepo) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	q := &memQueue{tasks: map[string]*data.Task{
		"f1": data.NewTask("f1", "a.mkv", 1, 1, 100, time.Now()),
	}}
	hist := repo.NewInMemoryHistoryRepo()
	svc := service.NewDownload(q, hist)
	return router.New(logger, svc, router.Options{Token: testToken}), hist
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Authorization", "Bearer "+testToken)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestDownloadsLifecycle(t *testing.T) {
	h, _ := setup(t)

	rr := do(t, h, http.MethodGet, "/v1/downloads", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rr.Code)
	}
	var sum downloader.Summary
	if err := json.NewDecoder(rr.Body).Decode(&sum); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sum.Queued != 1 || len(sum.Tasks) != 1 || sum.Tasks[0].FileID != "f1" {
		t.Fatalf("unexpected summary %+v", sum)
	}

	rr = do(t, h, http.MethodGet, "/v1/downloads/f1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rr.Code)
	}

	rr = do(t, h, http.MethodPatch, "/v1/downloads/f1", `{"desiredStatus":"Cancelled"}`)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected status 202 got %d: %s", rr.Code, rr.Body.String())
	}

	rr = do(t, h, http.MethodGet, "/v1/downloads/f1", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 after cancel got %d", rr.Code)
	}
}

func TestPatchValidation(t *testing.T) {
	h, _ := setup(t)
	cases := []struct {
		body string
		code int
	}{
		{`{"desiredStatus":"Paused"}`, http.StatusBadRequest},
		{`{"desiredStatus":""}`, http.StatusBadRequest},
		{`{"desiredStatus":"Cancelled","extra":1}`, http.StatusBadRequest},
		{`not json`, http.StatusBadRequest},
	}
	for _, c := range cases {
		if rr := do(t, h, http.MethodPatch, "/v1/downloads/f1", c.body); rr.Code != c.code {
			t.Errorf("%s: expected %d got %d", c.body, c.code, rr.Code)
		}
	}

	req := httptest.NewRequest(http.MethodPatch, "/v1/downloads/f1", strings.NewReader(`{"desiredStatus":"Cancelled"}`))
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Content-Type", "text/plain")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415 got %d", rr.Code)
	}

	if rr := do(t, h, http.MethodPatch, "/v1/downloads/missing", `{"desiredStatus":"Cancelled"}`); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rr.Code)
	}
}

func TestHistoryAndStats(t *testing.T) {
	h, hist := setup(t)
	rec, err := hist.Record(context.Background(), &data.Record{
		FileID: "x", Filename: "x.mkv", Status: data.StatusCompleted, Bytes: 42, FinishedAt: time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}

	rr := do(t, h, http.MethodGet, "/v1/history?limit=5", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rr.Code)
	}
	var recs []data.Record
	if err := json.NewDecoder(rr.Body).Decode(&recs); err != nil || len(recs) != 1 {
		t.Fatalf("decode history: %v %+v", err, recs)
	}

	if rr := do(t, h, http.MethodGet, "/v1/history?limit=-1", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rr.Code)
	}
	if rr := do(t, h, http.MethodGet, "/v1/history/"+rec.ID, ""); rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rr.Code)
	}
	if rr := do(t, h, http.MethodGet, "/v1/history/nope", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rr.Code)
	}

	rr = do(t, h, http.MethodGet, "/v1/stats", "")
	var s data.Stats
	if err := json.NewDecoder(rr.Body).Decode(&s); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if s.Total != 1 || s.Succeeded != 1 || s.Bytes != 42 {
		t.Fatalf("unexpected stats %+v", s)
	}
}
