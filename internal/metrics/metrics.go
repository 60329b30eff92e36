package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "mediamgr"

var (
	DownloadEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "download_events_total",
			Help:      "Count of download events processed by the reconciler.",
		},
		[]string{"type"},
	)

	ActiveDownloads = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_downloads",
			Help:      "Number of transfers currently running.",
		},
	)

	QueuedDownloads = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queued_downloads",
			Help:      "Number of downloads waiting for a worker.",
		},
	)

	DownloadedBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloaded_bytes_total",
			Help:      "Bytes written by completed transfers.",
		},
	)

	TransferRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfer_retries_total",
			Help:      "Transfer attempts retried after a transient error.",
		},
	)

	WatcherEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "watcher_events_total",
			Help:      "Watched file outcomes by stage.",
		},
		[]string{"outcome"},
	)

	TokenWait = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "token_wait_seconds",
			Help:      "Time spent waiting for the notification channel token.",
		},
		[]string{"owner"},
	)

	TokenTimeouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_timeouts_total",
			Help:      "Token acquisitions that gave up before the token was free.",
		},
		[]string{"owner"},
	)

	TokenReclaims = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_reclaims_total",
			Help:      "Abandoned tokens taken over by a waiter.",
		},
	)

	Notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notifications by severity and result.",
		},
		[]string{"severity", "result"},
	)

	MetadataLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tmdb_request_latency_seconds",
			Help:      "Latency of metadata lookup requests.",
		},
		[]string{"endpoint"},
	)

	MetadataErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tmdb_request_errors_total",
			Help:      "Failed metadata lookup requests.",
		},
		[]string{"endpoint"},
	)

	Categorized = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "categorized_files_total",
			Help:      "Files moved into a library, by destination kind.",
		},
		[]string{"kind"},
	)
)

// Register registers the metrics into the default registry.
func Register() {
	prometheus.MustRegister(
		DownloadEvents, ActiveDownloads, QueuedDownloads, DownloadedBytes, TransferRetries,
		WatcherEvents, TokenWait, TokenTimeouts, TokenReclaims, Notifications,
		MetadataLatency, MetadataErrors, Categorized,
	)
}
