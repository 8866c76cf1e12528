package autoencoder

import (
	"gonum.org/v1/gonum/mat"
)

// Grads holds the loss gradient for every weight and bias, laid out like the
// model's layers.
type Grads struct {
	W [4]*mat.Dense
	B [4][]float64
}

// LossAndGrads runs a forward pass over x, returns the mean squared
// reconstruction error over all n·d elements and its gradient.
func (m *Model) LossAndGrads(x mat.Matrix) (float64, *Grads, error) {
	if err := m.CheckInput(x); err != nil {
		return 0, nil, err
	}
	n, d := x.Dims()

	// acts[0] is the input, acts[i+1] the output of layer i.
	var acts [5]mat.Matrix
	var pre [4]*mat.Dense
	acts[0] = x
	for i, l := range m.layers {
		z, a := l.forward(acts[i])
		pre[i], acts[i+1] = z, a
	}
	y := acts[4].(*mat.Dense)

	var loss float64
	scale := 2 / float64(n*d)
	delta := &mat.Dense{}
	delta.Apply(func(i, j int, v float64) float64 {
		diff := v - x.At(i, j)
		loss += diff * diff
		return diff * scale
	}, y)
	loss /= float64(n * d)

	g := &Grads{}
	for i := len(m.layers) - 1; i >= 0; i-- {
		l := m.layers[i]
		out := acts[i+1].(*mat.Dense)
		z := pre[i]

		// dL/dz from dL/da
		switch l.act {
		case sigmoid:
			delta.Apply(func(r, c int, v float64) float64 {
				s := out.At(r, c)
				return v * s * (1 - s)
			}, delta)
		case relu:
			delta.Apply(func(r, c int, v float64) float64 {
				if z.At(r, c) > 0 {
					return v
				}
				return 0
			}, delta)
		}

		gw := &mat.Dense{}
		gw.Mul(acts[i].T(), delta)
		g.W[i] = gw
		g.B[i] = colSums(delta)

		if i > 0 {
			next := &mat.Dense{}
			next.Mul(delta, l.w.T())
			delta = next
		}
	}
	return loss, g, nil
}

// Loss returns the mean squared reconstruction error over all elements of x.
func (m *Model) Loss(x mat.Matrix) (float64, error) {
	errs, err := m.ReconstructionErrors(x)
	if err != nil {
		return 0, err
	}
	var sum float64
	for _, e := range errs {
		sum += e
	}
	return sum / float64(len(errs)), nil
}

func colSums(a *mat.Dense) []float64 {
	r, c := a.Dims()
	out := make([]float64, c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out[j] += a.At(i, j)
		}
	}
	return out
}
