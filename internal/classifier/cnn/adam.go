package cnn

import "math"

type adam struct {
	lr      float64
	beta1   float64
	beta2   float64
	epsilon float64

	t int
	m [][]float64
	v [][]float64
}

func newAdam(lr float64) *adam {
	return &adam{lr: lr, beta1: 0.9, beta2: 0.999, epsilon: 1e-7}
}

// step applies one bias-corrected Adam update to every parameter.
func (o *adam) step(params []param) {
	if o.m == nil {
		o.m = make([][]float64, len(params))
		o.v = make([][]float64, len(params))
		for i, p := range params {
			o.m[i] = make([]float64, len(p.value))
			o.v[i] = make([]float64, len(p.value))
		}
	}

	o.t++
	c1 := 1 - math.Pow(o.beta1, float64(o.t))
	c2 := 1 - math.Pow(o.beta2, float64(o.t))

	for i, p := range params {
		m, v := o.m[i], o.v[i]
		for j, g := range p.grad {
			m[j] = o.beta1*m[j] + (1-o.beta1)*g
			v[j] = o.beta2*v[j] + (1-o.beta2)*g*g
			p.value[j] -= o.lr * (m[j] / c1) / (math.Sqrt(v[j]/c2) + o.epsilon)
		}
	}
}
