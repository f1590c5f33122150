// Package metrics exposes Prometheus collectors for the upload, conversion and delivery lifecycle.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// UploadsTotal counts staging attempts by outcome ("staged" or an error kind)
	UploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audio_extract_uploads_total",
		Help: "Total upload staging attempts by outcome",
	}, []string{"outcome"})

	// UploadBytes tracks the size of staged uploads
	UploadBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "audio_extract_upload_bytes",
		Help:    "Size of successfully staged uploads in bytes",
		Buckets: prometheus.ExponentialBuckets(1<<20, 4, 6), // 1MiB to 1GiB
	})

	// ConversionsTotal counts finished conversion jobs by outcome
	ConversionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audio_extract_conversions_total",
		Help: "Total conversion jobs by outcome",
	}, []string{"outcome"})

	// ConversionDuration tracks wall time of conversion jobs
	ConversionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "audio_extract_conversion_duration_seconds",
		Help:    "Duration of conversion jobs",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12), // 0.5s to ~17m
	}, []string{"outcome"})

	// ConversionsInFlight is the number of running ffmpeg processes
	ConversionsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "audio_extract_conversions_in_flight",
		Help: "Number of conversions currently running",
	})

	// ConversionsShared counts callers that joined an already running conversion
	ConversionsShared = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audio_extract_conversions_shared_total",
		Help: "Convert calls served by an in-flight conversion of the same identifier",
	})

	// DeliveriesTotal counts artifact deliveries by outcome ("completed" or "aborted")
	DeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audio_extract_deliveries_total",
		Help: "Total artifact deliveries by outcome",
	}, []string{"outcome"})

	// FilesRemovedTotal counts deleted files by location and reason
	FilesRemovedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audio_extract_files_removed_total",
		Help: "Files removed from staging or egress by reason",
	}, []string{"location", "reason"})

	// CleanupErrorsTotal counts best-effort cleanup failures
	CleanupErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audio_extract_cleanup_errors_total",
		Help: "Best-effort file removals that failed",
	}, []string{"location"})
)

// Locations and removal reasons used as label values
const (
	LocationStaging = "staging"
	LocationEgress  = "egress"

	ReasonConverted = "converted"
	ReasonFailed    = "failed"
	ReasonDelivered = "delivered"
	ReasonExpired   = "expired"
	ReasonStale     = "stale"
)

var (
	// HTTPRequestDuration tracks request latency by route pattern
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "audio_extract_http_request_duration_seconds",
		Help:    "HTTP request latencies in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	// HTTPRequestsInFlight is the number of requests being served
	HTTPRequestsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "audio_extract_http_requests_in_flight",
		Help: "Current number of HTTP requests being served",
	})

	// HTTPResponseBytes tracks response body sizes by route pattern
	HTTPResponseBytes = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "audio_extract_http_response_size_bytes",
		Help:    "HTTP response sizes in bytes",
		Buckets: prometheus.ExponentialBuckets(100, 10, 8),
	}, []string{"method", "route"})
)
