package online

import (
	"fmt"

	"streamnet/nn"
)

// Autoencoder wraps an encoder-decoder network for online anomaly scoring.
// It needs no labels: LearnOne trains the network to reconstruct its input,
// and ScoreOne reports the mean squared reconstruction error, which grows
// for examples unlike anything the stream has shown so far.
type Autoencoder struct {
	model
}

// NewAutoencoder creates an uninitialized autoencoder. The build function
// must produce a network whose output width equals its input width.
func NewAutoencoder(build BuildFunc, cfg Config) *Autoencoder {
	return &Autoencoder{model: newModel(build, cfg, nn.MSE())}
}

// LearnOne runs one reconstruction training step on a single example. The
// first call freezes the feature projection and builds the network.
func (a *Autoencoder) LearnOne(x Example) (*Autoencoder, error) {
	if !a.initialized() {
		if err := a.initFrom(x); err != nil {
			return a, err
		}
		if in, out := a.net.InDim(), a.net.OutDim(); in != out {
			a.net = nil
			a.proj = nil
			return a, fmt.Errorf("%w: autoencoder output width %d, want input width %d", ErrBuild, out, in)
		}
	}
	xv, err := a.vector(x)
	if err != nil {
		return a, err
	}
	return a, a.learnStep(xv, xv)
}

// ScoreOne returns the mean squared reconstruction error for one example,
// always >= 0, without updating weights. Before the first LearnOne it
// fails with ErrNotFitted.
func (a *Autoencoder) ScoreOne(x Example) (float64, error) {
	if !a.initialized() {
		return 0, ErrNotFitted
	}
	xv, err := a.vector(x)
	if err != nil {
		return 0, err
	}
	recon, err := a.net.Forward(xv, false)
	if err != nil {
		return 0, err
	}
	sum := 0.0
	for j := 0; j < a.proj.width(); j++ {
		d := recon.At(0, j) - xv.At(0, j)
		sum += d * d
	}
	return sum / float64(a.proj.width()), nil
}

// ReconstructOne returns the decoder output mapped back onto feature
// names, useful for inspecting what the model believes an example should
// look like.
func (a *Autoencoder) ReconstructOne(x Example) (Example, error) {
	out, err := a.forward(x)
	if err != nil {
		return nil, err
	}
	recon := make(Example, a.proj.width())
	for j, name := range a.proj.features() {
		recon[name] = out.At(0, j)
	}
	return recon, nil
}

// Snapshot exports the fitted state for persistence.
func (a *Autoencoder) Snapshot() (*Snapshot, error) {
	if !a.initialized() {
		return nil, ErrNotFitted
	}
	return &Snapshot{
		Kind:     KindAutoencoder,
		Features: a.Features(),
		Weights:  a.net.Weights(),
		Steps:    a.steps,
	}, nil
}

// Restore rebuilds a fitted state on a fresh autoencoder.
func (a *Autoencoder) Restore(snap *Snapshot) error {
	if snap.Kind != KindAutoencoder {
		return fmt.Errorf("%w: snapshot kind %q", ErrBuild, snap.Kind)
	}
	if a.initialized() {
		return fmt.Errorf("%w: cannot restore into a fitted model", ErrBuild)
	}
	if err := a.initFromFeatures(snap.Features); err != nil {
		return err
	}
	if err := a.net.SetWeights(snap.Weights); err != nil {
		return fmt.Errorf("%w: %v", ErrBuild, err)
	}
	a.steps = snap.Steps
	return nil
}
