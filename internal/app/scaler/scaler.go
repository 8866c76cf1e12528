// Package scaler implements min-max feature normalization with persisted
// parameters: fitting, transforming, the Scaler Store and the Normalizer.
package scaler

import (
	"fmt"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/synapseshield/shield/internal/domain"
)

// Fit computes per-feature min, max, scale and population variance over the
// dataset's rows. It does not persist anything.
//
// A feature whose values never vary gets scale 1, so transformed values are
// (x - min) rather than a division by zero.
func Fit(ds domain.Dataset) (domain.ScalerState, error) {
	if err := ds.Validate(); err != nil {
		return domain.ScalerState{}, err
	}

	d := ds.Width()
	st := domain.ScalerState{
		Features: slices.Clone(ds.Columns),
		Min:      make([]float64, d),
		Max:      make([]float64, d),
		Scale:    make([]float64, d),
		Var:      make([]float64, d),
	}

	col := make([]float64, ds.Len())
	for j := 0; j < d; j++ {
		for i, r := range ds.Rows {
			col[i] = r.Values[j]
		}
		st.Min[j] = floats.Min(col)
		st.Max[j] = floats.Max(col)
		_, st.Var[j] = stat.PopMeanVariance(col, nil)
		st.Scale[j] = scaleFor(st.Min[j], st.Max[j])
	}
	return st, nil
}

func scaleFor(lo, hi float64) float64 {
	rng := hi - lo
	if rng == 0 {
		return 1
	}
	return 1 / rng
}

// TransformRow applies (x - min) * scale to a single feature vector.
// Values outside the fitted range are not clamped.
func TransformRow(st domain.ScalerState, values []float64) ([]float64, error) {
	if len(values) != st.Dim() {
		return nil, fmt.Errorf("got %d features, scaler has %d: %w",
			len(values), st.Dim(), domain.ErrFeatureMismatch)
	}
	out := make([]float64, len(values))
	for j, x := range values {
		out[j] = (x - st.Min[j]) * st.Scale[j]
	}
	return out, nil
}

// Transform normalizes every row of ds. Row IDs are preserved.
func Transform(st domain.ScalerState, ds domain.Dataset) (domain.Dataset, error) {
	if err := st.CheckColumns(ds.Columns); err != nil {
		return domain.Dataset{}, err
	}
	if err := ds.Validate(); err != nil {
		return domain.Dataset{}, err
	}

	out := domain.Dataset{
		Columns: slices.Clone(ds.Columns),
		Rows:    make([]domain.Row, len(ds.Rows)),
	}
	for i, r := range ds.Rows {
		v, err := TransformRow(st, r.Values)
		if err != nil {
			return domain.Dataset{}, fmt.Errorf("row %d: %w", i, err)
		}
		out.Rows[i] = domain.Row{ID: r.ID, Values: v}
	}
	return out, nil
}

// validate checks the four parallel arrays agree with the feature list.
func validate(st domain.ScalerState) error {
	d := len(st.Features)
	if d == 0 || len(st.Min) != d || len(st.Max) != d || len(st.Scale) != d || len(st.Var) != d {
		return fmt.Errorf("scaler arrays disagree on length (features=%d min=%d max=%d scale=%d var=%d): %w",
			d, len(st.Min), len(st.Max), len(st.Scale), len(st.Var), domain.ErrFeatureMismatch)
	}
	return nil
}
