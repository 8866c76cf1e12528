// Package autoencoder implements the dense reconstruction network used for
// anomaly scoring: d → 16 → 8 → 16 → d, ReLU hidden activations and a sigmoid
// output, built on gonum matrices.
package autoencoder

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/synapseshield/shield/internal/domain"
)

// Layer widths after the input.
const (
	HiddenDim = 16
	LatentDim = 8
)

type activation int

const (
	relu activation = iota
	sigmoid
)

// layer is one fully connected layer: y = act(x·W + b). W is in×out.
type layer struct {
	w   *mat.Dense
	b   []float64
	act activation
}

func (l *layer) dims() (in, out int) { return l.w.Dims() }

// forward computes the pre-activation and activation for x.
func (l *layer) forward(x mat.Matrix) (z, a *mat.Dense) {
	z = &mat.Dense{}
	z.Mul(x, l.w)
	z.Apply(func(_, j int, v float64) float64 { return v + l.b[j] }, z)

	a = &mat.Dense{}
	switch l.act {
	case relu:
		a.Apply(func(_, _ int, v float64) float64 { return math.Max(0, v) }, z)
	case sigmoid:
		a.Apply(func(_, _ int, v float64) float64 { return 1 / (1 + math.Exp(-v)) }, z)
	}
	return z, a
}

// Model is an autoencoder. It is safe for concurrent Forward calls; training
// mutates weights in place and must not overlap with inference.
type Model struct {
	inputDim int
	layers   [4]*layer
}

// New builds a model for inputDim features with PyTorch-style initialization:
// weights and biases drawn from U(-1/√fan_in, 1/√fan_in).
func New(inputDim int, rng *rand.Rand) (*Model, error) {
	if inputDim <= 0 {
		return nil, fmt.Errorf("input dim %d: %w", inputDim, domain.ErrDimensionMismatch)
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	m := &Model{inputDim: inputDim}
	for i, s := range shapes(inputDim) {
		m.layers[i] = newLayer(s.in, s.out, s.act, rng)
	}
	return m, nil
}

type layerShape struct {
	in, out int
	act     activation
}

func shapes(d int) [4]layerShape {
	return [4]layerShape{
		{d, HiddenDim, relu},
		{HiddenDim, LatentDim, relu},
		{LatentDim, HiddenDim, relu},
		{HiddenDim, d, sigmoid},
	}
}

func newLayer(in, out int, act activation, rng *rand.Rand) *layer {
	bound := 1 / math.Sqrt(float64(in))
	w := make([]float64, in*out)
	for i := range w {
		w[i] = (rng.Float64()*2 - 1) * bound
	}
	b := make([]float64, out)
	for i := range b {
		b[i] = (rng.Float64()*2 - 1) * bound
	}
	return &layer{w: mat.NewDense(in, out, w), b: b, act: act}
}

// InputDim returns the number of features the model was built for.
func (m *Model) InputDim() int { return m.inputDim }

// Encode maps x (n×d) to its latent representation (n×8).
func (m *Model) Encode(x mat.Matrix) *mat.Dense {
	_, h := m.layers[0].forward(x)
	_, z := m.layers[1].forward(h)
	return z
}

// Decode maps latent codes (n×8) back to feature space (n×d).
func (m *Model) Decode(z mat.Matrix) *mat.Dense {
	_, h := m.layers[2].forward(z)
	_, y := m.layers[3].forward(h)
	return y
}

// Forward reconstructs x. Output values lie in (0, 1).
func (m *Model) Forward(x mat.Matrix) *mat.Dense {
	return m.Decode(m.Encode(x))
}

// CheckInput verifies x has the model's column count.
func (m *Model) CheckInput(x mat.Matrix) error {
	if _, c := x.Dims(); c != m.inputDim {
		return fmt.Errorf("model expects %d features, got %d: %w", m.inputDim, c, domain.ErrDimensionMismatch)
	}
	return nil
}

// Matrix converts a validated, non-empty dataset to an n×d matrix.
func Matrix(ds domain.Dataset) (*mat.Dense, error) {
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	if ds.Width() == 0 {
		return nil, fmt.Errorf("dataset has no columns: %w", domain.ErrFeatureMismatch)
	}
	return mat.NewDense(ds.Len(), ds.Width(), ds.Matrix()), nil
}

// ReconstructionErrors returns the per-row mean squared error between x and
// its reconstruction.
func (m *Model) ReconstructionErrors(x mat.Matrix) ([]float64, error) {
	if err := m.CheckInput(x); err != nil {
		return nil, err
	}
	y := m.Forward(x)
	n, d := x.Dims()
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		var sum float64
		for j := 0; j < d; j++ {
			diff := y.At(i, j) - x.At(i, j)
			sum += diff * diff
		}
		out[i] = sum / float64(d)
	}
	return out, nil
}
