package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors carry no infrastructure dependency.

var (
	// Artifact errors
	ErrArtifactNotFound = errors.New("artifact not found")
	ErrModelNotFound    = errors.New("model not found, train first")
	ErrScalerNotFound   = errors.New("scaler not found")
	ErrModelCorrupted   = errors.New("model parameters are corrupted")

	// Input errors
	ErrEmptyDataset       = errors.New("dataset has no rows")
	ErrFeatureMismatch    = errors.New("feature set does not match the fitted scaler")
	ErrDimensionMismatch  = errors.New("input dimensionality does not match the model")
	ErrMalformedTelemetry = errors.New("malformed telemetry record")
	ErrUnknownState       = errors.New("unknown recommender state")
	ErrUnknownAction      = errors.New("unknown recommender action")

	// Runtime errors
	ErrUnsupportedDevice = errors.New("unsupported compute device")
	ErrTwinNotConfigured = errors.New("digital twin endpoint not configured")
	ErrTwinUnavailable   = errors.New("digital twin service unavailable")
	ErrListenerRunning   = errors.New("event listener already running")

	// Configuration errors
	ErrConfig = errors.New("invalid configuration")
)
