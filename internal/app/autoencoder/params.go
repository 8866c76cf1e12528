package autoencoder

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/mat"

	"github.com/synapseshield/shield/internal/domain"
)

// ArtifactKey is the artifact key model parameters are persisted under.
const ArtifactKey = "autoencoder.gob"

// paramsVersion is bumped when the serialized layout changes.
const paramsVersion = 1

// LayerParams is one layer's weights (row-major In×Out) and bias.
type LayerParams struct {
	In, Out int
	W       []float64
	B       []float64
}

// Params is the serializable form of a Model.
type Params struct {
	Version  int
	InputDim int
	Layers   []LayerParams
}

// Params returns a deep copy of the model's parameters.
func (m *Model) Params() Params {
	p := Params{Version: paramsVersion, InputDim: m.inputDim, Layers: make([]LayerParams, len(m.layers))}
	for i, l := range m.layers {
		in, out := l.dims()
		p.Layers[i] = LayerParams{
			In:  in,
			Out: out,
			W:   slices.Clone(denseData(l.w)),
			B:   slices.Clone(l.b),
		}
	}
	return p
}

// Validate checks every tensor's shape against InputDim and rejects
// non-finite values.
func (p Params) Validate() error {
	if p.Version != paramsVersion {
		return fmt.Errorf("params version %d, want %d: %w", p.Version, paramsVersion, domain.ErrModelCorrupted)
	}
	if p.InputDim <= 0 {
		return fmt.Errorf("input dim %d: %w", p.InputDim, domain.ErrModelCorrupted)
	}
	want := shapes(p.InputDim)
	if len(p.Layers) != len(want) {
		return fmt.Errorf("%d layers, want %d: %w", len(p.Layers), len(want), domain.ErrModelCorrupted)
	}
	for i, l := range p.Layers {
		s := want[i]
		if l.In != s.in || l.Out != s.out || len(l.W) != s.in*s.out || len(l.B) != s.out {
			return fmt.Errorf("layer %d is %dx%d (w=%d b=%d), want %dx%d: %w",
				i, l.In, l.Out, len(l.W), len(l.B), s.in, s.out, domain.ErrModelCorrupted)
		}
		if !finite(l.W) || !finite(l.B) {
			return fmt.Errorf("layer %d has non-finite values: %w", i, domain.ErrModelCorrupted)
		}
	}
	return nil
}

// FromParams builds a model from validated parameters.
func FromParams(p Params) (*Model, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	m := &Model{inputDim: p.InputDim}
	for i, s := range shapes(p.InputDim) {
		l := p.Layers[i]
		m.layers[i] = &layer{
			w:   mat.NewDense(l.In, l.Out, slices.Clone(l.W)),
			b:   slices.Clone(l.B),
			act: s.act,
		}
	}
	return m, nil
}

// MarshalBinary encodes the model's parameters with gob.
func (m *Model) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(m.Params()); err != nil {
		return nil, fmt.Errorf("encode model: %w", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary replaces the model with the gob-encoded parameters in data.
func (m *Model) UnmarshalBinary(data []byte) error {
	var p Params
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&p); err != nil {
		return fmt.Errorf("decode model: %v: %w", err, domain.ErrModelCorrupted)
	}
	loaded, err := FromParams(p)
	if err != nil {
		return err
	}
	*m = *loaded
	return nil
}

// Load decodes a model from its serialized form.
func Load(data []byte) (*Model, error) {
	m := &Model{}
	if err := m.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Model) weightData(i int) []float64 { return denseData(m.layers[i].w) }

// denseData returns the backing slice of a contiguous dense matrix.
func denseData(d *mat.Dense) []float64 {
	raw := d.RawMatrix()
	if raw.Stride == raw.Cols {
		return raw.Data[:raw.Rows*raw.Cols]
	}
	out := make([]float64, 0, raw.Rows*raw.Cols)
	for i := 0; i < raw.Rows; i++ {
		out = append(out, raw.Data[i*raw.Stride:i*raw.Stride+raw.Cols]...)
	}
	return out
}

func finite(xs []float64) bool {
	for _, x := range xs {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
