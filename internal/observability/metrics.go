package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	UploadSlotsIssued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "snapmatch",
		Name:      "upload_slots_issued_total",
		Help:      "Total number of presigned upload URLs issued",
	})

	PhotosIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "snapmatch",
		Name:      "photos_ingested_total",
		Help:      "Total number of photos appended to folders",
	}, []string{"result"}) // inserted, replaced

	IngestBatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "snapmatch",
		Name:      "ingest_batches_total",
		Help:      "Total number of ingestion batches by outcome",
	}, []string{"status"})

	FacesExtracted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "snapmatch",
		Name:      "faces_extracted_total",
		Help:      "Total number of face vectors extracted from stored photos",
	})

	ExtractionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "snapmatch",
		Name:      "extraction_duration_seconds",
		Help:      "Duration of face extraction calls",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"backend"})

	IngestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "snapmatch",
		Name:      "ingest_batch_duration_seconds",
		Help:      "Duration of a full ingestion batch including the store append",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	MatchRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "snapmatch",
		Name:      "match_requests_total",
		Help:      "Total number of selfie match requests by outcome",
	}, []string{"status"})

	MatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "snapmatch",
		Name:      "match_duration_seconds",
		Help:      "Duration of the distance scan over a folder snapshot",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	})

	CleanupFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "snapmatch",
		Name:      "storage_inconsistencies_total",
		Help:      "Object deletions that failed after their metadata was removed",
	})

	CleanupProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "snapmatch",
		Name:      "cleanup_tasks_total",
		Help:      "Cleanup tasks processed by the worker",
	}, []string{"status"})

	OrphansSwept = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "snapmatch",
		Name:      "orphans_swept_total",
		Help:      "Unreferenced objects removed by the sweeper",
	})

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "snapmatch",
		Name:      "queue_depth",
		Help:      "Number of pending messages in queue",
	}, []string{"queue"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "snapmatch",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "snapmatch",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})

	GuestSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "snapmatch",
		Name:      "guest_sessions",
		Help:      "Number of live guest verification sessions",
	})
)
