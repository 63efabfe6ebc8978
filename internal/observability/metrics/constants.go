package metrics

import "time"

// Label values shared by several collectors.
const (
	// LabelUploaded is the outcome label of a transferred file.
	LabelUploaded = "uploaded"
	// LabelFailed is the outcome label of a file that could not be transferred.
	LabelFailed = "failed"
)

// Database phases observed by MigrationMetrics.
const (
	PhaseExport  = "export"
	PhaseUpload  = "upload"
	PhaseRestore = "restore"
)

// Histogram bucket configuration.
const (
	// BucketStart10ms is the starting bucket for 10ms histograms (10ms to ~40s range).
	BucketStart10ms = 0.01
	// BucketStart1s is the starting bucket for 1s histograms (1s to ~9 hours range).
	BucketStart1s = 1.0
	// BucketFactor2 is the exponential growth factor of the histograms.
	BucketFactor2 = 2
	// BucketCount12 defines 12 exponential buckets.
	BucketCount12 = 12
	// BucketCount15 defines 15 exponential buckets.
	BucketCount15 = 15
)

// ShutdownTimeout is the timeout for graceful shutdown of the metrics endpoint.
const ShutdownTimeout = 5 * time.Second
