// Package metrics provides Prometheus metrics for SynapseShield: scoring,
// training, recommendations, twin updates, the event stream and health.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "shield"

// ─── Scoring ────────────────────────────────────────────────────────────────

// RowsScored tracks scored telemetry rows by source (api, stream, cli).
var RowsScored = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "rows_scored_total",
	Help:      "Total telemetry rows scored.",
}, []string{"source"})

// AnomaliesDetected tracks rows flagged as anomalous by source.
var AnomaliesDetected = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "anomalies_detected_total",
	Help:      "Total rows whose score exceeded the threshold.",
}, []string{"source"})

// ScoreLatency tracks batch scoring duration in seconds.
var ScoreLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: namespace,
	Name:      "score_latency_seconds",
	Help:      "Batch scoring duration in seconds.",
	Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
}, []string{"source"})

// LastThreshold tracks the most recent threshold used.
var LastThreshold = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "threshold_last",
	Help:      "Anomaly threshold applied to the most recent batch.",
})

// ─── Training ───────────────────────────────────────────────────────────────

// TrainingRuns tracks training runs by outcome (ok, failed, cancelled).
var TrainingRuns = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "training_runs_total",
	Help:      "Total training runs by outcome.",
}, []string{"outcome"})

// TrainingDuration tracks training wall time in seconds.
var TrainingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: namespace,
	Name:      "training_duration_seconds",
	Help:      "Training run duration in seconds.",
	Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300},
})

// TrainingFinalLoss tracks the final loss of the last successful run.
var TrainingFinalLoss = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "training_final_loss",
	Help:      "Final reconstruction loss of the last successful training run.",
})

// ─── Recommender ────────────────────────────────────────────────────────────

// Recommendations tracks recommended actions.
var Recommendations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "recommendations_total",
	Help:      "Total recommendations by action.",
}, []string{"action"})

// ─── Digital Twin ───────────────────────────────────────────────────────────

// TwinUpdates tracks twin property writes by result (ok, error, skipped).
var TwinUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "twin_updates_total",
	Help:      "Total digital twin property writes by result.",
}, []string{"result"})

// ─── Event Stream ───────────────────────────────────────────────────────────

// StreamEvents tracks stream events by outcome (scored, malformed, failed).
var StreamEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "stream_events_total",
	Help:      "Total telemetry stream events by outcome.",
}, []string{"outcome"})

// StreamConnected is 1 while the stream subscriber holds a connection.
var StreamConnected = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "stream_connected",
	Help:      "Whether the telemetry stream subscriber is connected (1) or not (0).",
})

// ─── Health ─────────────────────────────────────────────────────────────────

// HealthCheckStatus tracks health check results (1=healthy, 0=unhealthy).
var HealthCheckStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "health_check_status",
	Help:      "Health check result per component (1=healthy, 0=unhealthy).",
}, []string{"check"})

// HealthRecoveries tracks auto-recovery attempts.
var HealthRecoveries = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "health_recoveries_total",
	Help:      "Total auto-recovery attempts per check.",
}, []string{"check"})
