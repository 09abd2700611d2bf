// Package online trains and queries neural networks one observation at a
// time. Adapters bridge a pull-based stream contract onto the nn engine:
// the network is built lazily from the first example, every LearnOne is a
// complete forward/loss/backward/step cycle on a batch of one, and the
// optimizer's moment buffers persist for the lifetime of the stream.
//
// Adapters are not safe for concurrent use. For parallel throughput, shard
// the stream across independent adapters (see the registry package).
package online

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"streamnet/nn"
)

// BuildFunc constructs the network once the input width is known. It is
// called exactly once per adapter, on first contact with the stream. The
// rng carries the adapter's seed so builds stay reproducible without any
// process-global state.
type BuildFunc func(nFeatures int, rng *rand.Rand) (*nn.Network, error)

// DefaultSeed is used when Config.Seed is left zero.
const DefaultSeed = 42

// Config holds the knobs shared by all adapters. The zero value works:
// adapter-specific loss defaults, SGD, strict feature policy, DefaultSeed.
type Config struct {
	// Loss overrides the adapter's default loss function.
	Loss nn.Loss

	// Optimizer defaults to plain SGD. The instance is bound to the
	// adapter's parameters and keeps its internal state across the stream.
	Optimizer nn.Optimizer

	// Policy for examples whose keys differ from the frozen feature set.
	Policy FeaturePolicy

	// Seed for weight initialization and dropout.
	Seed int64
}

func (c Config) seed() int64 {
	if c.Seed == 0 {
		return DefaultSeed
	}
	return c.Seed
}

func (c Config) optimizer() nn.Optimizer {
	if c.Optimizer == nil {
		return nn.SGD(nn.SGDConfig{LR: 1e-2})
	}
	return c.Optimizer
}

// model is the state shared by Classifier, Regressor and Autoencoder: the
// lazily built network, the optimizer bound to it, and the frozen feature
// projection.
type model struct {
	build  BuildFunc
	rng    *rand.Rand
	opt    nn.Optimizer
	loss   nn.Loss
	policy FeaturePolicy

	net   *nn.Network
	proj  *projection
	steps uint64
}

func newModel(build BuildFunc, cfg Config, defaultLoss nn.Loss) model {
	loss := cfg.Loss
	if loss == nil {
		loss = defaultLoss
	}
	return model{
		build:  build,
		rng:    rand.New(rand.NewSource(cfg.seed())),
		opt:    cfg.optimizer(),
		loss:   loss,
		policy: cfg.Policy,
	}
}

func (m *model) initialized() bool { return m.net != nil }

// initFrom freezes the feature projection from the first example and
// materializes the network. After this the input width never changes.
func (m *model) initFrom(x Example) error {
	proj, err := newProjection(x, m.policy)
	if err != nil {
		return err
	}
	if m.build == nil {
		return fmt.Errorf("%w: nil build function", ErrBuild)
	}
	net, err := m.build(proj.width(), m.rng)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBuild, err)
	}
	if net == nil {
		return fmt.Errorf("%w: build function returned nil network", ErrBuild)
	}
	if err := net.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBuild, err)
	}
	if net.InDim() != proj.width() {
		return fmt.Errorf("%w: network input width %d, want %d", ErrBuild, net.InDim(), proj.width())
	}
	m.proj = proj
	m.net = net
	return nil
}

// initFromFeatures rebuilds a frozen projection and network from a saved
// feature ordering, used when restoring snapshots.
func (m *model) initFromFeatures(features []string) error {
	x := make(Example, len(features))
	for _, name := range features {
		x[name] = 0
	}
	if len(x) != len(features) {
		return fmt.Errorf("%w: duplicate feature names in snapshot", ErrBuild)
	}
	return m.initFrom(x)
}

func (m *model) vector(x Example) (*mat.Dense, error) {
	v, err := m.proj.vector(x)
	if err != nil {
		return nil, err
	}
	return mat.NewDense(1, len(v), v), nil
}

// learnStep is the one-example gradient cycle: forward in training mode,
// loss gradient, backward, optimizer step.
func (m *model) learnStep(xv, target *mat.Dense) error {
	pred, err := m.net.Forward(xv, true)
	if err != nil {
		return err
	}
	if err := m.net.Backward(m.loss.Gradient(pred, target)); err != nil {
		return err
	}
	m.opt.Step(m.net.Params())
	m.steps++
	return nil
}

// forward runs inference without touching weights or optimizer state.
func (m *model) forward(x Example) (*mat.Dense, error) {
	if !m.initialized() {
		return nil, ErrNotFitted
	}
	xv, err := m.vector(x)
	if err != nil {
		return nil, err
	}
	return m.net.Forward(xv, false)
}

// Steps reports how many learn steps the model has taken.
func (m *model) Steps() uint64 { return m.steps }

// Features returns the frozen feature ordering, or nil before first fit.
func (m *model) Features() []string {
	if m.proj == nil {
		return nil
	}
	out := make([]string, len(m.proj.order))
	copy(out, m.proj.order)
	return out
}
