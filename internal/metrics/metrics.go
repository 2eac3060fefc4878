package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	DownloadAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vidfetch",
			Name:      "download_attempts_total",
			Help:      "Backend fetch attempts by backend and outcome.",
		},
		[]string{"backend", "outcome"},
	)

	BackendFallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vidfetch",
			Name:      "backend_fallbacks_total",
			Help:      "Times a request fell back from one backend to the next.",
		},
	)

	FetchLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vidfetch",
			Name:      "fetch_latency_seconds",
			Help:      "Latency of backend fetch attempts.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		},
		[]string{"backend"},
	)

	UploadErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vidfetch",
			Name:      "upload_errors_total",
			Help:      "Errors from storage provider uploads.",
		},
		[]string{"provider"},
	)

	ActiveDownloads = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "vidfetch",
			Name:      "active_downloads",
			Help:      "Number of downloads currently in flight.",
		},
	)

	RetentionDeletes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vidfetch",
			Name:      "retention_deletes_total",
			Help:      "Files evicted by the retention engine, by reason.",
		},
		[]string{"reason"},
	)

	RetentionBytesReclaimed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vidfetch",
			Name:      "retention_bytes_reclaimed_total",
			Help:      "Bytes reclaimed by retention sweeps.",
		},
	)

	RetentionSweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "vidfetch",
			Name:      "retention_sweep_duration_seconds",
			Help:      "Duration of retention sweeps.",
		},
	)
)

// Register registers the vidfetch metrics into the default registry.
func Register() {
	prometheus.MustRegister(
		DownloadAttempts,
		BackendFallbacks,
		FetchLatency,
		UploadErrors,
		ActiveDownloads,
		RetentionDeletes,
		RetentionBytesReclaimed,
		RetentionSweepDuration,
	)
}
