package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersAndGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(DownloadEvents, TokenTimeouts, ActiveDownloads)

	DownloadEvents.WithLabelValues("complete").Inc()
	TokenTimeouts.WithLabelValues("downloader").Add(2)
	ActiveDownloads.Set(3)

	expectedEvents := `# HELP mediamgr_download_events_total Count of download events processed by the reconciler.
# TYPE mediamgr_download_events_total counter
mediamgr_download_events_total{type="complete"} 1
`
	if err := testutil.CollectAndCompare(DownloadEvents, strings.NewReader(expectedEvents)); err != nil {
		t.Fatalf("unexpected events metric: %v", err)
	}

	expectedTimeouts := `# HELP mediamgr_token_timeouts_total Token acquisitions that gave up before the token was free.
# TYPE mediamgr_token_timeouts_total counter
mediamgr_token_timeouts_total{owner="downloader"} 2
`
	if err := testutil.CollectAndCompare(TokenTimeouts, strings.NewReader(expectedTimeouts)); err != nil {
		t.Fatalf("unexpected token timeouts metric: %v", err)
	}

	expectedGauge := `# HELP mediamgr_active_downloads Number of transfers currently running.
# TYPE mediamgr_active_downloads gauge
mediamgr_active_downloads 3
`
	if err := testutil.CollectAndCompare(ActiveDownloads, strings.NewReader(expectedGauge)); err != nil {
		t.Fatalf("unexpected active downloads gauge: %v", err)
	}
}

func TestMetadataLatencyHistogram(t *testing.T) {
	// fresh histogram so other tests cannot contaminate the counts
	MetadataLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tmdb_request_latency_seconds",
			Help:      "Latency of metadata lookup requests.",
		},
		[]string{"endpoint"},
	)

	MetadataLatency.WithLabelValues("search/movie").Observe(0.03)
	MetadataLatency.WithLabelValues("search/movie").Observe(0.6)

	expected := `# HELP mediamgr_tmdb_request_latency_seconds Latency of metadata lookup requests.
# TYPE mediamgr_tmdb_request_latency_seconds histogram
mediamgr_tmdb_request_latency_seconds_bucket{endpoint="search/movie",le="0.005"} 0
mediamgr_tmdb_request_latency_seconds_bucket{endpoint="search/movie",le="0.01"} 0
mediamgr_tmdb_request_latency_seconds_bucket{endpoint="search/movie",le="0.025"} 0
mediamgr_tmdb_request_latency_seconds_bucket{endpoint="search/movie",le="0.05"} 1
mediamgr_tmdb_request_latency_seconds_bucket{endpoint="search/movie",le="0.1"} 1
mediamgr_tmdb_request_latency_seconds_bucket{endpoint="search/movie",le="0.25"} 1
mediamgr_tmdb_request_latency_seconds_bucket{endpoint="search/movie",le="0.5"} 1
mediamgr_tmdb_request_latency_seconds_bucket{endpoint="search/movie",le="1"} 2
mediamgr_tmdb_request_latency_seconds_bucket{endpoint="search/movie",le="2.5"} 2
mediamgr_tmdb_request_latency_seconds_bucket{endpoint="search/movie",le="5"} 2
mediamgr_tmdb_request_latency_seconds_bucket{endpoint="search/movie",le="10"} 2
mediamgr_tmdb_request_latency_seconds_bucket{endpoint="search/movie",le="+Inf"} 2
mediamgr_tmdb_request_latency_seconds_sum{endpoint="search/movie"} 0.63
mediamgr_tmdb_request_latency_seconds_count{endpoint="search/movie"} 2
`
	if err := testutil.CollectAndCompare(MetadataLatency, strings.NewReader(expected)); err != nil {
		t.Fatalf("unexpected histogram: %v", err)
	}
}
