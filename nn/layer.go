package nn

import (
	"errors"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Param is one trainable weight matrix together with its gradient buffer.
// Optimizers mutate W in place; layers overwrite Grad on every backward pass.
type Param struct {
	W    *mat.Dense
	Grad *mat.Dense
}

// Layer is a single differentiable stage of a network. Forward caches
// whatever its backward pass needs, so a layer instance serves exactly one
// forward/backward cycle at a time.
type Layer interface {
	Forward(x *mat.Dense, training bool) (*mat.Dense, error)
	Backward(grad *mat.Dense) (*mat.Dense, error)
	Params() []*Param
	OutDim() int
	Name() string
}

type denseLayer struct {
	in, out int
	act     Activation

	w *Param // in x out
	b *Param // 1 x out

	x   *mat.Dense // cached input
	pre *mat.Dense // cached pre-activation
}

func newDense(in, out int, act Activation, init Initializer, rng *rand.Rand) (*denseLayer, error) {
	if in <= 0 || out <= 0 {
		return nil, errors.New("nn: dense layer dimensions must be positive")
	}
	if act == nil {
		act = Identity()
	}
	if init == nil {
		init = GlorotUniform()
	}

	w := mat.NewDense(in, out, nil)
	init.Init(w.RawMatrix().Data, in, out, rng)

	return &denseLayer{
		in:  in,
		out: out,
		act: act,
		w:   &Param{W: w, Grad: mat.NewDense(in, out, nil)},
		b:   &Param{W: mat.NewDense(1, out, nil), Grad: mat.NewDense(1, out, nil)},
	}, nil
}

func (d *denseLayer) Forward(x *mat.Dense, training bool) (*mat.Dense, error) {
	rows, cols := x.Dims()
	if cols != d.in {
		return nil, errors.New("nn: dense input width mismatch")
	}

	pre := mat.NewDense(rows, d.out, nil)
	pre.Mul(x, d.w.W)
	bias := d.b.W.RawMatrix().Data
	for i := 0; i < rows; i++ {
		row := pre.RawRowView(i)
		for j := range row {
			row[j] += bias[j]
		}
	}

	d.x = x
	d.pre = pre
	return d.act.Forward(pre), nil
}

func (d *denseLayer) Backward(grad *mat.Dense) (*mat.Dense, error) {
	if d.x == nil {
		return nil, errors.New("nn: dense backward called before forward")
	}
	rows, _ := grad.Dims()

	gradPre := d.act.Backward(d.pre, grad)

	// dL/dW = X^T * dL/dPre, averaged over the batch.
	d.w.Grad.Mul(d.x.T(), gradPre)
	scale(d.w.Grad.RawMatrix().Data, 1/float64(rows))

	// dL/db = column sums of dL/dPre.
	gb := d.b.Grad.RawMatrix().Data
	for j := range gb {
		gb[j] = 0
	}
	for i := 0; i < rows; i++ {
		row := gradPre.RawRowView(i)
		for j := range row {
			gb[j] += row[j]
		}
	}
	scale(gb, 1/float64(rows))

	gradIn := mat.NewDense(rows, d.in, nil)
	gradIn.Mul(gradPre, d.w.W.T())
	return gradIn, nil
}

func (d *denseLayer) Params() []*Param { return []*Param{d.w, d.b} }
func (d *denseLayer) OutDim() int      { return d.out }
func (d *denseLayer) Name() string     { return "dense" }

type dropoutLayer struct {
	rate float64
	dim  int
	rng  *rand.Rand
	mask []float64
}

func newDropout(rate float64, dim int, rng *rand.Rand) (*dropoutLayer, error) {
	if rate < 0 || rate >= 1 {
		return nil, errors.New("nn: dropout rate must be in [0, 1)")
	}
	return &dropoutLayer{rate: rate, dim: dim, rng: rng}, nil
}

func (d *dropoutLayer) Forward(x *mat.Dense, training bool) (*mat.Dense, error) {
	if !training || d.rate == 0 {
		d.mask = nil
		return x, nil
	}
	rows, cols := x.Dims()
	out := mat.NewDense(rows, cols, nil)
	d.mask = make([]float64, rows*cols)

	keep := 1.0 / (1.0 - d.rate)
	src := x.RawMatrix().Data
	dst := out.RawMatrix().Data
	for i := range src {
		if d.rng.Float64() >= d.rate {
			d.mask[i] = keep
			dst[i] = src[i] * keep
		}
	}
	return out, nil
}

func (d *dropoutLayer) Backward(grad *mat.Dense) (*mat.Dense, error) {
	if d.mask == nil {
		return grad, nil
	}
	rows, cols := grad.Dims()
	out := mat.NewDense(rows, cols, nil)
	src := grad.RawMatrix().Data
	dst := out.RawMatrix().Data
	for i := range src {
		dst[i] = src[i] * d.mask[i]
	}
	return out, nil
}

func (d *dropoutLayer) Params() []*Param { return nil }
func (d *dropoutLayer) OutDim() int      { return d.dim }
func (d *dropoutLayer) Name() string     { return "dropout" }

func scale(data []float64, s float64) {
	for i := range data {
		data[i] *= s
	}
}
