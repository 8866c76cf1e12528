// Package detector scores telemetry rows by autoencoder reconstruction error
// and flags rows whose error exceeds a threshold.
package detector

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"gonum.org/v1/gonum/stat"

	"github.com/synapseshield/shield/internal/app/autoencoder"
	"github.com/synapseshield/shield/internal/app/scaler"
	"github.com/synapseshield/shield/internal/app/trainer"
	"github.com/synapseshield/shield/internal/domain"
)

// ThresholdSigmas is the number of population standard deviations above the
// mean score at which a derived threshold sits.
const ThresholdSigmas = 2.0

// Result is the outcome of scoring a dataset.
type Result struct {
	Rows      []domain.ScoredRow `json:"rows"`
	Threshold float64            `json:"threshold_used"`
	Derived   bool               `json:"threshold_derived"`
}

// Anomalies returns the rows flagged as anomalous.
func (r *Result) Anomalies() []domain.ScoredRow {
	var out []domain.ScoredRow
	for _, row := range r.Rows {
		if row.IsAnomaly {
			out = append(out, row)
		}
	}
	return out
}

// LoadModel reads the persisted model. It returns domain.ErrModelNotFound
// when no model has been trained; it never trains one.
func LoadModel(ctx context.Context, artifacts domain.ArtifactStore, device string) (*autoencoder.Model, error) {
	if err := trainer.CheckDevice(device); err != nil {
		return nil, err
	}
	data, err := artifacts.Get(ctx, autoencoder.ArtifactKey)
	if errors.Is(err, domain.ErrArtifactNotFound) {
		return nil, domain.ErrModelNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	return autoencoder.Load(data)
}

// Bundle is a model together with the scaler it was trained under.
type Bundle struct {
	Model  *autoencoder.Model
	Scaler *domain.ScalerState // nil when no scaler is stored
	// Generation is the training run that wrote the pair, "" for artifacts
	// written without one.
	Generation string
}

// maxLoadAttempts bounds how often LoadBundle retries while a concurrent
// training run keeps replacing the artifacts.
const maxLoadAttempts = 3

// Generation returns the stored generation marker, or "" if there is none.
func Generation(ctx context.Context, artifacts domain.ArtifactStore) (string, error) {
	data, err := artifacts.Get(ctx, trainer.GenerationKey)
	if errors.Is(err, domain.ErrArtifactNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read generation: %w", err)
	}
	return string(data), nil
}

// LoadBundle reads the model and its scaler as one unit. The generation
// marker is read before and after; if a training run replaced the artifacts
// in between, the pair is read again.
func LoadBundle(ctx context.Context, artifacts domain.ArtifactStore, device string) (*Bundle, error) {
	scalers := scaler.NewStore(artifacts)
	for attempt := 1; ; attempt++ {
		gen, err := Generation(ctx, artifacts)
		if err != nil {
			return nil, err
		}
		model, err := LoadModel(ctx, artifacts, device)
		if err != nil {
			return nil, err
		}
		st, err := scalers.Load(ctx)
		if err != nil {
			return nil, err
		}
		after, err := Generation(ctx, artifacts)
		if err != nil {
			return nil, err
		}
		if after == gen {
			return &Bundle{Model: model, Scaler: st, Generation: gen}, nil
		}
		if attempt == maxLoadAttempts {
			return nil, fmt.Errorf("load model: artifacts replaced during %d consecutive reads", attempt)
		}
	}
}

// Detector scores datasets against a model and the scaler it was trained
// under.
type Detector struct {
	normalizer *scaler.Normalizer
}

// New creates a Detector that normalizes through n.
func New(n *scaler.Normalizer) *Detector {
	return &Detector{normalizer: n}
}

// Detect normalizes ds with the bundle's scaler and scores every row. Only
// when the bundle carries no scaler does it fall back to the Normalizer's
// absent-scaler policy. A nil threshold is derived from the batch as
// mean + 2·std of the scores.
func (d *Detector) Detect(ctx context.Context, b *Bundle, ds domain.Dataset, threshold *float64) (*Result, error) {
	model := b.Model
	if model.InputDim() != ds.Width() {
		return nil, fmt.Errorf("model expects %d features, dataset has %d: %w",
			model.InputDim(), ds.Width(), domain.ErrDimensionMismatch)
	}
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	if b.Scaler != nil {
		return Score(model, *b.Scaler, ds, threshold)
	}
	st, err := d.normalizer.Resolve(ctx, ds)
	if err != nil {
		return nil, err
	}
	return Score(model, st, ds, threshold)
}

// Score is Detect over explicit scaler state, with no I/O.
func Score(model *autoencoder.Model, st domain.ScalerState, ds domain.Dataset, threshold *float64) (*Result, error) {
	if model.InputDim() != ds.Width() {
		return nil, fmt.Errorf("model expects %d features, dataset has %d: %w",
			model.InputDim(), ds.Width(), domain.ErrDimensionMismatch)
	}
	norm, err := scaler.Transform(st, ds)
	if err != nil {
		return nil, err
	}
	x, err := autoencoder.Matrix(norm)
	if err != nil {
		return nil, err
	}
	scores, err := model.ReconstructionErrors(x)
	if err != nil {
		return nil, err
	}

	res := &Result{Rows: make([]domain.ScoredRow, len(scores))}
	if threshold != nil {
		res.Threshold = *threshold
	} else {
		res.Threshold = Threshold(scores)
		res.Derived = true
	}
	for i, s := range scores {
		res.Rows[i] = domain.ScoredRow{
			ID:        ds.RowID(i),
			Values:    slices.Clone(ds.Rows[i].Values),
			Score:     s,
			IsAnomaly: s > res.Threshold,
		}
	}
	return res, nil
}

// Threshold returns mean + 2·σ of scores, using the population standard
// deviation. A single score yields the score itself.
func Threshold(scores []float64) float64 {
	mean, std := stat.PopMeanStdDev(scores, nil)
	return mean + ThresholdSigmas*std
}
