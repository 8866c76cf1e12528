package autoencoder

import "math"

// Adam hyperparameters other than the learning rate.
const (
	adamBeta1 = 0.9
	adamBeta2 = 0.999
	adamEps   = 1e-8
)

// Adam is the Adam optimizer bound to one model's parameters.
type Adam struct {
	model *Model
	lr    float64
	t     int

	// first and second moment estimates, one slice per parameter tensor:
	// index 2i is layer i's weights, 2i+1 its bias
	m [8][]float64
	v [8][]float64
}

// NewAdam creates an optimizer for model with learning rate lr.
func NewAdam(model *Model, lr float64) *Adam {
	o := &Adam{model: model, lr: lr}
	for i, l := range model.layers {
		in, out := l.dims()
		o.m[2*i] = make([]float64, in*out)
		o.v[2*i] = make([]float64, in*out)
		o.m[2*i+1] = make([]float64, out)
		o.v[2*i+1] = make([]float64, out)
	}
	return o
}

// Step applies one bias-corrected Adam update using g.
func (o *Adam) Step(g *Grads) {
	o.t++
	c1 := 1 - math.Pow(adamBeta1, float64(o.t))
	c2 := 1 - math.Pow(adamBeta2, float64(o.t))

	for i, l := range o.model.layers {
		o.update(o.model.weightData(i), denseData(g.W[i]), 2*i, c1, c2)
		o.update(l.b, g.B[i], 2*i+1, c1, c2)
	}
}

func (o *Adam) update(param, grad []float64, slot int, c1, c2 float64) {
	m, v := o.m[slot], o.v[slot]
	for k, gk := range grad {
		m[k] = adamBeta1*m[k] + (1-adamBeta1)*gk
		v[k] = adamBeta2*v[k] + (1-adamBeta2)*gk*gk
		mHat := m[k] / c1
		vHat := v[k] / c2
		param[k] -= o.lr * mHat / (math.Sqrt(vHat) + adamEps)
	}
}
