package nn

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Activation is an elementwise (or row-wise, for softmax) nonlinearity.
// Backward receives the cached pre-activation and the gradient flowing in
// from the layer above.
type Activation interface {
	Forward(pre *mat.Dense) *mat.Dense
	Backward(pre, grad *mat.Dense) *mat.Dense
	Name() string
}

type identityAct struct{}

func Identity() Activation { return identityAct{} }

func (identityAct) Forward(pre *mat.Dense) *mat.Dense { return pre }

func (identityAct) Backward(pre, grad *mat.Dense) *mat.Dense { return grad }

func (identityAct) Name() string { return "identity" }

type reluAct struct{}

func ReLU() Activation { return reluAct{} }

func (reluAct) Forward(pre *mat.Dense) *mat.Dense {
	return apply(pre, func(v float64) float64 {
		if v > 0 {
			return v
		}
		return 0
	})
}

func (reluAct) Backward(pre, grad *mat.Dense) *mat.Dense {
	return combine(pre, grad, func(p, g float64) float64 {
		if p > 0 {
			return g
		}
		return 0
	})
}

func (reluAct) Name() string { return "relu" }

type sigmoidAct struct{}

func Sigmoid() Activation { return sigmoidAct{} }

func (sigmoidAct) Forward(pre *mat.Dense) *mat.Dense {
	return apply(pre, sigmoid)
}

func (sigmoidAct) Backward(pre, grad *mat.Dense) *mat.Dense {
	return combine(pre, grad, func(p, g float64) float64 {
		s := sigmoid(p)
		return g * s * (1 - s)
	})
}

func (sigmoidAct) Name() string { return "sigmoid" }

type tanhAct struct{}

func Tanh() Activation { return tanhAct{} }

func (tanhAct) Forward(pre *mat.Dense) *mat.Dense {
	return apply(pre, math.Tanh)
}

func (tanhAct) Backward(pre, grad *mat.Dense) *mat.Dense {
	return combine(pre, grad, func(p, g float64) float64 {
		t := math.Tanh(p)
		return g * (1 - t*t)
	})
}

func (tanhAct) Name() string { return "tanh" }

type softmaxAct struct{}

func Softmax() Activation { return softmaxAct{} }

func (softmaxAct) Forward(pre *mat.Dense) *mat.Dense {
	rows, cols := pre.Dims()
	out := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		src := pre.RawRowView(i)
		dst := out.RawRowView(i)
		max := src[0]
		for _, v := range src[1:] {
			if v > max {
				max = v
			}
		}
		sum := 0.0
		for j, v := range src {
			dst[j] = math.Exp(v - max)
			sum += dst[j]
		}
		for j := range dst {
			dst[j] /= sum
		}
	}
	return out
}

// Softmax pairs with cross-entropy, which folds the jacobian into its own
// gradient, so the pass-through here is the complete backward rule.
func (softmaxAct) Backward(pre, grad *mat.Dense) *mat.Dense { return grad }

func (softmaxAct) Name() string { return "softmax" }

func sigmoid(v float64) float64 {
	if v >= 0 {
		return 1 / (1 + math.Exp(-v))
	}
	e := math.Exp(v)
	return e / (1 + e)
}

func apply(m *mat.Dense, f func(float64) float64) *mat.Dense {
	rows, cols := m.Dims()
	out := mat.NewDense(rows, cols, nil)
	src := m.RawMatrix().Data
	dst := out.RawMatrix().Data
	for i := range src {
		dst[i] = f(src[i])
	}
	return out
}

func combine(a, b *mat.Dense, f func(av, bv float64) float64) *mat.Dense {
	rows, cols := a.Dims()
	out := mat.NewDense(rows, cols, nil)
	as := a.RawMatrix().Data
	bs := b.RawMatrix().Data
	dst := out.RawMatrix().Data
	for i := range as {
		dst[i] = f(as[i], bs[i])
	}
	return out
}
