package online

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"streamnet/nn"
)

// Regressor wraps a network with a single output for online regression.
// The default loss is mean squared error.
type Regressor struct {
	model
}

// NewRegressor creates an uninitialized regressor. The build function must
// produce a network with exactly one output.
func NewRegressor(build BuildFunc, cfg Config) *Regressor {
	return &Regressor{model: newModel(build, cfg, nn.MSE())}
}

// LearnOne runs one training step on a single example and its target. The
// first call freezes the feature projection and builds the network.
func (r *Regressor) LearnOne(x Example, y float64) (*Regressor, error) {
	if !r.initialized() {
		if err := r.initFrom(x); err != nil {
			return r, err
		}
		if got := r.net.OutDim(); got != 1 {
			r.net = nil
			r.proj = nil
			return r, fmt.Errorf("%w: regressor network must have one output, got %d", ErrBuild, got)
		}
	}
	xv, err := r.vector(x)
	if err != nil {
		return r, err
	}
	return r, r.learnStep(xv, mat.NewDense(1, 1, []float64{y}))
}

// PredictOne returns the model's estimate for one example without mutating
// any state. Before the first LearnOne it fails with ErrNotFitted.
func (r *Regressor) PredictOne(x Example) (float64, error) {
	out, err := r.forward(x)
	if err != nil {
		return 0, err
	}
	return out.At(0, 0), nil
}

// Snapshot exports the fitted state for persistence.
func (r *Regressor) Snapshot() (*Snapshot, error) {
	if !r.initialized() {
		return nil, ErrNotFitted
	}
	return &Snapshot{
		Kind:     KindRegressor,
		Features: r.Features(),
		Weights:  r.net.Weights(),
		Steps:    r.steps,
	}, nil
}

// Restore rebuilds a fitted state on a fresh regressor.
func (r *Regressor) Restore(snap *Snapshot) error {
	if snap.Kind != KindRegressor {
		return fmt.Errorf("%w: snapshot kind %q", ErrBuild, snap.Kind)
	}
	if r.initialized() {
		return fmt.Errorf("%w: cannot restore into a fitted model", ErrBuild)
	}
	if err := r.initFromFeatures(snap.Features); err != nil {
		return err
	}
	if err := r.net.SetWeights(snap.Weights); err != nil {
		return fmt.Errorf("%w: %v", ErrBuild, err)
	}
	r.steps = snap.Steps
	return nil
}
