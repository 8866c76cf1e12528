// Package domain holds the pure types shared by every layer of SynapseShield:
// telemetry samples, datasets, scaler state, scored rows and the recommender
// state/action spaces. Nothing here imports infrastructure.
package domain

import (
	"fmt"
	"slices"
	"time"
)

// Canonical feature names, in the order every model and scaler uses.
const (
	FeatureCPUUsage       = "cpuUsage"
	FeatureNetworkPackets = "networkPackets"
	FeatureFailedLogins   = "failedLogins"
	FeatureTrafficVolume  = "trafficVolume"
)

// Features is the canonical feature order.
var Features = []string{
	FeatureCPUUsage,
	FeatureNetworkPackets,
	FeatureFailedLogins,
	FeatureTrafficVolume,
}

// Telemetry is one device reading.
type Telemetry struct {
	DeviceID       string    `json:"deviceId"`
	CPUUsage       float64   `json:"cpuUsage"`
	NetworkPackets float64   `json:"networkPackets"`
	FailedLogins   float64   `json:"failedLogins"`
	TrafficVolume  float64   `json:"trafficVolume"`
	Timestamp      time.Time `json:"timestamp,omitzero"`
}

// Values returns the reading in canonical feature order.
func (t Telemetry) Values() []float64 {
	return []float64{t.CPUUsage, t.NetworkPackets, t.FailedLogins, t.TrafficVolume}
}

// Row is a single dataset row. ID is optional and identifies the device or
// record the row came from.
type Row struct {
	ID     string    `json:"id,omitempty"`
	Values []float64 `json:"values"`
}

// Dataset is a table of numeric rows with named columns.
type Dataset struct {
	Columns []string `json:"columns"`
	Rows    []Row    `json:"rows"`
}

// NewDataset builds a canonical-feature dataset from telemetry readings.
func NewDataset(points ...Telemetry) Dataset {
	ds := Dataset{Columns: slices.Clone(Features), Rows: make([]Row, 0, len(points))}
	for _, p := range points {
		ds.Rows = append(ds.Rows, Row{ID: p.DeviceID, Values: p.Values()})
	}
	return ds
}

// Len returns the number of rows.
func (d Dataset) Len() int { return len(d.Rows) }

// Width returns the number of columns.
func (d Dataset) Width() int { return len(d.Columns) }

// Matrix returns the row values as a flat row-major slice.
func (d Dataset) Matrix() []float64 {
	out := make([]float64, 0, d.Len()*d.Width())
	for _, r := range d.Rows {
		out = append(out, r.Values...)
	}
	return out
}

// Validate checks that the dataset is non-empty and rectangular.
func (d Dataset) Validate() error {
	if len(d.Rows) == 0 {
		return ErrEmptyDataset
	}
	for i, r := range d.Rows {
		if len(r.Values) != len(d.Columns) {
			return fmt.Errorf("row %d has %d values, want %d: %w",
				i, len(r.Values), len(d.Columns), ErrFeatureMismatch)
		}
	}
	return nil
}

// RowID returns the identifier of row i, falling back to its index.
func (d Dataset) RowID(i int) string {
	if id := d.Rows[i].ID; id != "" {
		return id
	}
	return fmt.Sprintf("%d", i)
}

// ScalerState is a fitted per-feature min-max scaler. All slices are indexed
// by feature position and ordered like Features.
type ScalerState struct {
	Features []string  `json:"features"`
	Min      []float64 `json:"min"`
	Max      []float64 `json:"max"`
	Scale    []float64 `json:"scale"`
	Var      []float64 `json:"var"`
}

// Dim returns the number of features the scaler was fitted on.
func (s ScalerState) Dim() int { return len(s.Min) }

// CheckColumns verifies columns match the fitted feature set exactly.
func (s ScalerState) CheckColumns(columns []string) error {
	if !slices.Equal(s.Features, columns) {
		return fmt.Errorf("scaler fitted on %v, got %v: %w", s.Features, columns, ErrFeatureMismatch)
	}
	return nil
}

// ScoredRow is a dataset row annotated with its reconstruction error.
type ScoredRow struct {
	ID        string    `json:"id"`
	Values    []float64 `json:"values"`
	Score     float64   `json:"anomaly_score"`
	IsAnomaly bool      `json:"is_anomaly"`
}

// ScoreRecord is a persisted scoring outcome.
type ScoreRecord struct {
	ID                string    `json:"id"`
	DeviceID          string    `json:"device_id"`
	Score             float64   `json:"anomaly_score"`
	Threshold         float64   `json:"threshold"`
	IsAnomaly         bool      `json:"is_anomaly"`
	RecommendedAction string    `json:"recommended_action,omitempty"`
	Source            string    `json:"source"`
	CreatedAt         time.Time `json:"created_at"`
}

// TrainingRun summarizes one completed training run.
type TrainingRun struct {
	ID         string    `json:"id"`
	Rows       int       `json:"rows"`
	InputDim   int       `json:"input_dim"`
	Epochs     int       `json:"epochs"`
	BatchSize  int       `json:"batch_size"`
	FinalLoss  float64   `json:"final_loss"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}
