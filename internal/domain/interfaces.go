package domain

import "context"

// ─── Service Interfaces ─────────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; application layer depends on them.

// ArtifactStore abstracts durable storage for scaler and model artifacts.
// Implemented by infra/artifact backends and infra/sqlite.DB.
type ArtifactStore interface {
	// Get returns the artifact stored under key, or ErrArtifactNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores a single artifact. Readers never observe a partial write.
	Put(ctx context.Context, key string, data []byte) error

	// PutAll stores several artifacts as one unit: a failure leaves the
	// previously stored set in place.
	PutAll(ctx context.Context, items map[string][]byte) error

	// Exists reports whether key holds an artifact.
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes an artifact. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// TwinSink writes properties onto a digital twin entity.
type TwinSink interface {
	// SetProperty sets path (JSON pointer, e.g. "/lastAnomalyScore") to value.
	SetProperty(ctx context.Context, twinID, path string, value any) error
}

// TwinQuerier runs queries against the digital twin store.
type TwinQuerier interface {
	Query(ctx context.Context, query string) ([]map[string]any, error)
}

// EventHandler processes one raw telemetry event.
type EventHandler func(ctx context.Context, body []byte) error

// EventSource delivers telemetry events until ctx is cancelled or the
// underlying stream ends.
type EventSource interface {
	Run(ctx context.Context, handle EventHandler) error
}

// ScoreRecorder persists scored telemetry for later inspection.
type ScoreRecorder interface {
	RecordScore(rec ScoreRecord) error
}

// TrainingRecorder persists completed training runs.
type TrainingRecorder interface {
	RecordTrainingRun(run TrainingRun) error
}
