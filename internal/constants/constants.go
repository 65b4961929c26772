// Package constants centralizes the fixed policy numbers that govern batch
// processing, face matching, and output image encoding.
package constants

// Batch partitioning.
const (
	// BatchWidth (B) is the number of images per atomic batch.
	BatchWidth = 50
)

// Face embeddings.
const (
	// EmbeddingDim is the fixed dimension of a face embedding vector.
	EmbeddingDim = 512

	// MaxEmbeddingsPerPerson (K) caps the number of stored embeddings per
	// person. Once exceeded, the oldest learned embedding is evicted; the
	// original reference embedding is never evicted.
	MaxEmbeddingsPerPerson = 10

	// MinDetectionScore is the minimum face-detector confidence accepted
	// as a candidate face.
	MinDetectionScore = 0.5
)

// Matching thresholds, on Euclidean distance between unit-norm embeddings
// (range 0 to 2).
const (
	// StrictThreshold is the maximum distance for an automatic, learning match.
	StrictThreshold = 0.80

	// LooseThreshold is the maximum distance for a match that does not learn.
	LooseThreshold = 1.00
)

// Output image policy.
const (
	// OutputLongEdgeMax is the maximum long-edge pixel dimension of a
	// committed output image. Images are only ever downscaled, never
	// upscaled, to this bound.
	OutputLongEdgeMax = 2048

	// OutputJPEGQuality is the JPEG quality factor used for committed
	// output images.
	OutputJPEGQuality = 85
)

// Router retry policy.
const (
	// CommitMaxRetries bounds retry attempts for a single commit-log row
	// write before the batch is escalated to a failed state.
	CommitMaxRetries = 3

	// CommitRetryBackoffSeconds is the fixed backoff between commit retries.
	CommitRetryBackoffSeconds = 1
)

// Progress reporting.
const (
	// HeartbeatIntervalSeconds is the cadence of the worker heartbeat file.
	HeartbeatIntervalSeconds = 1

	// RecentBatchRingSize bounds the number of recently committed batches
	// kept in the progress file for the operator UI.
	RecentBatchRingSize = 20

	// RateEWMAAlpha is the smoothing factor for the images-per-second
	// exponentially weighted moving average.
	RateEWMAAlpha = 0.2

	// SuperBatchImageSpan is the (derived, never persisted) number of
	// images grouped into one "super-batch" for progress display.
	SuperBatchImageSpan = 3500
)

// SupportedExtensions lists the accepted source file extensions, compared
// case-insensitively.
var SupportedExtensions = []string{".jpg", ".jpeg", ".arw"}
