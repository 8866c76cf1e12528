package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func gatheredNames(t *testing.T) map[string]bool {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	return names
}

func TestScoringMetrics(t *testing.T) {
	RowsScored.WithLabelValues("api").Add(4)
	AnomaliesDetected.WithLabelValues("api").Inc()
	ScoreLatency.WithLabelValues("api").Observe(0.002)
	LastThreshold.Set(0.013)

	names := gatheredNames(t)
	for _, name := range []string{
		"shield_rows_scored_total",
		"shield_anomalies_detected_total",
		"shield_score_latency_seconds",
		"shield_threshold_last",
	} {
		if !names[name] {
			t.Errorf("metric %q not found", name)
		}
	}
}

func TestTrainingMetrics(t *testing.T) {
	TrainingRuns.WithLabelValues("ok").Inc()
	TrainingDuration.Observe(1.2)
	TrainingFinalLoss.Set(0.004)

	names := gatheredNames(t)
	for _, name := range []string{
		"shield_training_runs_total",
		"shield_training_duration_seconds",
		"shield_training_final_loss",
	} {
		if !names[name] {
			t.Errorf("metric %q not found", name)
		}
	}
}

func TestIntegrationMetrics(t *testing.T) {
	Recommendations.WithLabelValues("IsolateDevice").Inc()
	TwinUpdates.WithLabelValues("ok").Inc()
	StreamEvents.WithLabelValues("malformed").Inc()
	StreamConnected.Set(1)

	names := gatheredNames(t)
	for _, name := range []string{
		"shield_recommendations_total",
		"shield_twin_updates_total",
		"shield_stream_events_total",
		"shield_stream_connected",
	} {
		if !names[name] {
			t.Errorf("metric %q not found", name)
		}
	}
}

func TestHealthMetrics(t *testing.T) {
	HealthCheckStatus.WithLabelValues("database").Set(1)
	HealthCheckStatus.WithLabelValues("model").Set(0)
	HealthRecoveries.WithLabelValues("database").Inc()

	names := gatheredNames(t)
	if !names["shield_health_check_status"] {
		t.Error("shield_health_check_status not found")
	}
	if !names["shield_health_recoveries_total"] {
		t.Error("shield_health_recoveries_total not found")
	}
}
