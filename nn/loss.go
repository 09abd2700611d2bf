package nn

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Loss computes a scalar loss and its gradient with respect to the
// prediction. Targets use the same shape as predictions; classification
// targets are one-hot rows.
type Loss interface {
	Compute(pred, target *mat.Dense) float64
	Gradient(pred, target *mat.Dense) *mat.Dense
	Name() string
}

type mseLoss struct{}

// MSE is mean squared error, also the reconstruction score used by
// autoencoder adapters.
func MSE() Loss { return mseLoss{} }

func (mseLoss) Compute(pred, target *mat.Dense) float64 {
	p := pred.RawMatrix().Data
	t := target.RawMatrix().Data
	sum := 0.0
	for i := range p {
		d := p[i] - t[i]
		sum += d * d
	}
	return sum / float64(len(p))
}

func (mseLoss) Gradient(pred, target *mat.Dense) *mat.Dense {
	n := float64(len(pred.RawMatrix().Data))
	return combine(pred, target, func(p, t float64) float64 {
		return 2 * (p - t) / n
	})
}

func (mseLoss) Name() string { return "mse" }

type bceLoss struct{}

// BinaryCrossEntropy expects sigmoid outputs in (0, 1).
func BinaryCrossEntropy() Loss { return bceLoss{} }

func (bceLoss) Compute(pred, target *mat.Dense) float64 {
	const eps = 1e-15
	p := pred.RawMatrix().Data
	t := target.RawMatrix().Data
	sum := 0.0
	for i := range p {
		v := math.Min(math.Max(p[i], eps), 1-eps)
		sum -= t[i]*math.Log(v) + (1-t[i])*math.Log(1-v)
	}
	return sum / float64(len(p))
}

func (bceLoss) Gradient(pred, target *mat.Dense) *mat.Dense {
	const eps = 1e-7
	n := float64(len(pred.RawMatrix().Data))
	return combine(pred, target, func(p, t float64) float64 {
		v := math.Min(math.Max(p, eps), 1-eps)
		denom := math.Max(v*(1-v), eps)
		return (v - t) / denom / n
	})
}

func (bceLoss) Name() string { return "binary_cross_entropy" }

type ceLoss struct{}

// CrossEntropy expects softmax outputs and one-hot targets. Its gradient is
// the fused softmax + cross-entropy form, pred - target.
func CrossEntropy() Loss { return ceLoss{} }

func (ceLoss) Compute(pred, target *mat.Dense) float64 {
	const eps = 1e-15
	rows, _ := pred.Dims()
	p := pred.RawMatrix().Data
	t := target.RawMatrix().Data
	sum := 0.0
	for i := range p {
		sum -= t[i] * math.Log(math.Max(p[i], eps))
	}
	return sum / float64(rows)
}

func (ceLoss) Gradient(pred, target *mat.Dense) *mat.Dense {
	rows, _ := pred.Dims()
	n := float64(rows)
	return combine(pred, target, func(p, t float64) float64 {
		return (p - t) / n
	})
}

func (ceLoss) Name() string { return "cross_entropy" }
