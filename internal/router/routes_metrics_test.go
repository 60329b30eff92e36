package router

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tinoosan/mediamgr/internal/metrics"
)

func TestMetricsEndpointEmitsFamilies(t *testing.T) {
	metrics.Register()
	metrics.DownloadEvents.WithLabelValues("start").Inc()
	metrics.MetadataLatency.WithLabelValues("search/movie").Observe(0.02)
	metrics.ActiveDownloads.Set(2)

	r := New(quiet(), &fakeDownloadSvc{}, Options{})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{
		"mediamgr_download_events_total",
		"mediamgr_tmdb_request_latency_seconds_count",
		"mediamgr_active_downloads",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %s in metrics: %s", want, body)
		}
	}
}
