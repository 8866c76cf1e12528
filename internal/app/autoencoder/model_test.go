package autoencoder

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/synapseshield/shield/internal/domain"
)

func newTestModel(t *testing.T, d int, seed int64) *Model {
	t.Helper()
	m, err := New(d, rand.New(rand.NewSource(seed)))
	require.NoError(t, err)
	return m
}

func randomInput(n, d int, seed int64) *mat.Dense {
	rng := rand.New(rand.NewSource(seed))
	data := make([]float64, n*d)
	for i := range data {
		data[i] = rng.Float64()
	}
	return mat.NewDense(n, d, data)
}

func TestNew_Shapes(t *testing.T) {
	m := newTestModel(t, 4, 1)
	assert.Equal(t, 4, m.InputDim())

	x := randomInput(3, 4, 2)
	z := m.Encode(x)
	r, c := z.Dims()
	assert.Equal(t, 3, r)
	assert.Equal(t, LatentDim, c)

	y := m.Decode(z)
	r, c = y.Dims()
	assert.Equal(t, 3, r)
	assert.Equal(t, 4, c)
}

func TestNew_InitBounds(t *testing.T) {
	m := newTestModel(t, 4, 7)
	for i, l := range m.Params().Layers {
		bound := 1 / math.Sqrt(float64(l.In))
		for _, w := range l.W {
			assert.LessOrEqual(t, math.Abs(w), bound, "layer %d weight", i)
		}
		for _, b := range l.B {
			assert.LessOrEqual(t, math.Abs(b), bound, "layer %d bias", i)
		}
	}
}

func TestNew_InvalidDim(t *testing.T) {
	_, err := New(0, nil)
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
}

func TestForward_DeterministicAndBounded(t *testing.T) {
	m := newTestModel(t, 4, 3)
	x := randomInput(10, 4, 4)

	a := m.Forward(x)
	b := m.Forward(x)
	assert.True(t, mat.Equal(a, b), "forward must be deterministic")

	r, c := a.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := a.At(i, j)
			assert.Greater(t, v, 0.0)
			assert.Less(t, v, 1.0)
		}
	}

	// Same seed, same weights
	other := newTestModel(t, 4, 3)
	assert.True(t, mat.Equal(a, other.Forward(x)))
}

func TestReconstructionErrors(t *testing.T) {
	m := newTestModel(t, 4, 5)
	x := randomInput(6, 4, 6)

	errs, err := m.ReconstructionErrors(x)
	require.NoError(t, err)
	require.Len(t, errs, 6)

	y := m.Forward(x)
	for i, e := range errs {
		assert.GreaterOrEqual(t, e, 0.0)
		var want float64
		for j := 0; j < 4; j++ {
			d := y.At(i, j) - x.At(i, j)
			want += d * d
		}
		assert.InDelta(t, want/4, e, 1e-12)
	}

	_, err = m.ReconstructionErrors(randomInput(2, 3, 1))
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
}

func TestLossAndGrads_MatchesNumericGradient(t *testing.T) {
	m := newTestModel(t, 3, 11)
	x := randomInput(5, 3, 12)

	loss, g, err := m.LossAndGrads(x)
	require.NoError(t, err)
	direct, err := m.Loss(x)
	require.NoError(t, err)
	assert.InDelta(t, direct, loss, 1e-12)

	const h = 1e-6
	for i := range m.layers {
		w := m.weightData(i)
		gw := denseData(g.W[i])
		for _, k := range []int{0, len(w) / 2, len(w) - 1} {
			orig := w[k]
			w[k] = orig + h
			up, _ := m.Loss(x)
			w[k] = orig - h
			down, _ := m.Loss(x)
			w[k] = orig
			assert.InDelta(t, (up-down)/(2*h), gw[k], 1e-6, "layer %d weight %d", i, k)
		}

		b := m.layers[i].b
		for k := range b {
			orig := b[k]
			b[k] = orig + h
			up, _ := m.Loss(x)
			b[k] = orig - h
			down, _ := m.Loss(x)
			b[k] = orig
			assert.InDelta(t, (up-down)/(2*h), g.B[i][k], 1e-6, "layer %d bias %d", i, k)
		}
	}
}

func TestAdam_ReducesLoss(t *testing.T) {
	m := newTestModel(t, 4, 21)
	x := randomInput(8, 4, 22)
	opt := NewAdam(m, 1e-2)

	first, _ := m.Loss(x)
	for i := 0; i < 300; i++ {
		_, g, err := m.LossAndGrads(x)
		require.NoError(t, err)
		opt.Step(g)
	}
	last, _ := m.Loss(x)
	assert.Less(t, last, first)
}

func TestParams_RoundTrip(t *testing.T) {
	m := newTestModel(t, 4, 31)
	data, err := m.MarshalBinary()
	require.NoError(t, err)

	loaded, err := Load(data)
	require.NoError(t, err)
	assert.Equal(t, m.Params(), loaded.Params())

	x := randomInput(4, 4, 32)
	assert.True(t, mat.Equal(m.Forward(x), loaded.Forward(x)))
}

func TestParams_IsDeepCopy(t *testing.T) {
	m := newTestModel(t, 4, 41)
	p := m.Params()
	p.Layers[0].W[0] = 99
	assert.NotEqual(t, 99.0, m.Params().Layers[0].W[0])
}

func TestParams_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *Params)
	}{
		{"wrong version", func(p *Params) { p.Version = 0 }},
		{"missing layer", func(p *Params) { p.Layers = p.Layers[:3] }},
		{"input dim disagrees with weights", func(p *Params) { p.InputDim = 5 }},
		{"truncated weights", func(p *Params) { p.Layers[1].W = p.Layers[1].W[:10] }},
		{"short bias", func(p *Params) { p.Layers[3].B = p.Layers[3].B[:1] }},
		{"NaN weight", func(p *Params) { p.Layers[2].W[0] = math.NaN() }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestModel(t, 4, 51).Params()
			tt.mutate(&p)
			_, err := FromParams(p)
			assert.ErrorIs(t, err, domain.ErrModelCorrupted)
		})
	}
}

func TestLoad_Garbage(t *testing.T) {
	_, err := Load([]byte("definitely not gob"))
	assert.ErrorIs(t, err, domain.ErrModelCorrupted)
}

func TestMatrix(t *testing.T) {
	ds := domain.Dataset{
		Columns: []string{"a", "b"},
		Rows:    []domain.Row{{Values: []float64{1, 2}}, {Values: []float64{3, 4}}},
	}
	x, err := Matrix(ds)
	require.NoError(t, err)
	assert.Equal(t, 3.0, x.At(1, 0))

	_, err = Matrix(domain.Dataset{Columns: []string{"a"}})
	assert.ErrorIs(t, err, domain.ErrEmptyDataset)
}
