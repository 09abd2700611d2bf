// Package nn is a small feedforward network engine with hand-derived layer
// gradients, built on gonum matrices. It exists to be driven one example at
// a time by the online adapters, but accepts any batch size.
package nn

import (
	"errors"
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Network is an ordered stack of layers with a fixed input width. Build one
// with NewNetwork and the chainable layer methods:
//
//	net := nn.NewNetwork(nFeatures, rng).
//		Dense(16, nn.ReLU()).
//		Dense(2, nn.Softmax())
//
// Construction errors accumulate and surface through Err.
type Network struct {
	rng    *rand.Rand
	layers []Layer
	inDim  int
	curDim int
	err    error
}

func NewNetwork(inputDim int, rng *rand.Rand) *Network {
	n := &Network{rng: rng, inDim: inputDim, curDim: inputDim}
	if inputDim <= 0 {
		n.err = errors.New("nn: input width must be positive")
	}
	if rng == nil {
		n.err = errors.New("nn: network requires an explicit rand source")
	}
	return n
}

// Dense appends a fully connected layer with the default initializer for
// the given activation.
func (n *Network) Dense(units int, act Activation) *Network {
	var init Initializer
	if act != nil && act.Name() == "relu" {
		init = HeNormal()
	}
	return n.DenseInit(units, act, init)
}

// DenseInit appends a fully connected layer with an explicit initializer.
func (n *Network) DenseInit(units int, act Activation, init Initializer) *Network {
	if n.err != nil {
		return n
	}
	layer, err := newDense(n.curDim, units, act, init, n.rng)
	if err != nil {
		n.err = fmt.Errorf("layer %d: %w", len(n.layers), err)
		return n
	}
	n.layers = append(n.layers, layer)
	n.curDim = units
	return n
}

// Dropout appends a dropout layer. Active only during training passes.
func (n *Network) Dropout(rate float64) *Network {
	if n.err != nil {
		return n
	}
	layer, err := newDropout(rate, n.curDim, n.rng)
	if err != nil {
		n.err = fmt.Errorf("layer %d: %w", len(n.layers), err)
		return n
	}
	n.layers = append(n.layers, layer)
	return n
}

// Err reports any construction error. Callers building networks lazily
// should check it before first use.
func (n *Network) Err() error {
	if n.err != nil {
		return n.err
	}
	if len(n.layers) == 0 {
		return errors.New("nn: network has no layers")
	}
	return nil
}

func (n *Network) InDim() int  { return n.inDim }
func (n *Network) OutDim() int { return n.curDim }

// Forward runs all layers. With training false, dropout is inert and no
// state that affects later updates is touched beyond the per-layer caches.
func (n *Network) Forward(x *mat.Dense, training bool) (*mat.Dense, error) {
	if err := n.Err(); err != nil {
		return nil, err
	}
	out := x
	var err error
	for i, layer := range n.layers {
		out, err = layer.Forward(out, training)
		if err != nil {
			return nil, fmt.Errorf("layer %d (%s): %w", i, layer.Name(), err)
		}
	}
	return out, nil
}

// Backward propagates a loss gradient through all layers, filling every
// parameter's Grad buffer.
func (n *Network) Backward(grad *mat.Dense) error {
	var err error
	for i := len(n.layers) - 1; i >= 0; i-- {
		grad, err = n.layers[i].Backward(grad)
		if err != nil {
			return fmt.Errorf("layer %d (%s): %w", i, n.layers[i].Name(), err)
		}
	}
	return nil
}

// Params returns all trainable parameters in layer order. The slice is
// stable across calls, which is what lets a stateful optimizer keep moment
// buffers aligned with it.
func (n *Network) Params() []*Param {
	var params []*Param
	for _, layer := range n.layers {
		params = append(params, layer.Params()...)
	}
	return params
}

// Weights exports every parameter as a flat slice, in Params order.
func (n *Network) Weights() [][]float64 {
	params := n.Params()
	out := make([][]float64, len(params))
	for i, p := range params {
		data := p.W.RawMatrix().Data
		out[i] = make([]float64, len(data))
		copy(out[i], data)
	}
	return out
}

// SetWeights restores parameters exported by Weights on a network of
// identical architecture.
func (n *Network) SetWeights(weights [][]float64) error {
	params := n.Params()
	if len(weights) != len(params) {
		return fmt.Errorf("nn: weight count mismatch: have %d, want %d", len(weights), len(params))
	}
	for i, p := range params {
		data := p.W.RawMatrix().Data
		if len(weights[i]) != len(data) {
			return fmt.Errorf("nn: parameter %d size mismatch: have %d, want %d", i, len(weights[i]), len(data))
		}
		copy(data, weights[i])
	}
	return nil
}
