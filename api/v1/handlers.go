package v1

import (
	"bufio"
	"errors"
	"net"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/tinoosan/mediamgr/internal/data"
	"github.com/tinoosan/mediamgr/internal/service"
)

type DownloadHandler struct {
	l   *slog.Logger
	svc service.Download
}

type patchBody struct {
	DesiredStatus string `json:"desiredStatus"`
}

type rwLogger struct {
	http.ResponseWriter
	status int
	bytes  int
	err    error
}

func (w *rwLogger) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *rwLogger) SetErr(err error) {
	w.err = err
}

func (w *rwLogger) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

func (w *rwLogger) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// Hijack is needed by the websocket upgrade on /v1/events.
func (w *rwLogger) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hj.Hijack()
}

type errorSetter interface {
	SetErr(error)
}

func markErr(w http.ResponseWriter, err error) {
	if es, ok := w.(errorSetter); ok {
		es.SetErr(err)
	}
}

// context keys
type ctxKeyPatch struct{}

func NewDownloadHandler(l *slog.Logger, svc service.Download) *DownloadHandler {
	return &DownloadHandler{l: l, svc: svc}
}

func (dh *DownloadHandler) GetDownloads(w http.ResponseWriter, r *http.Request) {
	sum, err := dh.svc.List(r.Context())
	if err != nil {
		markErr(w, err)
		http.Error(w, "failed to list downloads", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (dh *DownloadHandler) GetDownload(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	t, err := dh.svc.Get(r.Context(), id)
	if err != nil {
		markErr(w, err)
		if errors.Is(err, data.ErrNotFound) {
			http.Error(w, "Not Found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to get download", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (dh *DownloadHandler) UpdateDownload(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	body, ok := r.Context().Value(ctxKeyPatch{}).(patchBody)
	if !ok || body.DesiredStatus == "" {
		markErr(w, ErrDesiredStatus)
		http.Error(w, ErrDesiredStatus.Error(), http.StatusInternalServerError)
		return
	}

	t, err := dh.svc.UpdateDesiredStatus(r.Context(), id, data.DesiredStatus(body.DesiredStatus))
	if err != nil {
		markErr(w, err)
		switch {
		case errors.Is(err, data.ErrNotFound):
			http.Error(w, "Not found", http.StatusNotFound)
		case errors.Is(err, data.ErrBadStatus):
			http.Error(w, "Invalid desiredStatus (allowed: Cancelled)", http.StatusBadRequest)
		default:
			http.Error(w, "failed to update", http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusAccepted, t)
}

func (dh *DownloadHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			markErr(w, ErrLimit)
			http.Error(w, ErrLimit.Error(), http.StatusBadRequest)
			return
		}
		limit = n
	}
	recs, err := dh.svc.History(r.Context(), limit)
	if err != nil {
		markErr(w, err)
		http.Error(w, "failed to load history", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (dh *DownloadHandler) GetHistoryRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := dh.svc.HistoryRecord(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		markErr(w, err)
		if errors.Is(err, data.ErrNotFound) {
			http.Error(w, "Not Found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load record", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (dh *DownloadHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	s, err := dh.svc.Stats(r.Context())
	if err != nil {
		markErr(w, err)
		http.Error(w, "failed to load stats", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, s)
}
