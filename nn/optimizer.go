package nn

import "math"

// Optimizer applies one gradient step to a parameter set. Implementations
// keep their moment buffers across calls; an optimizer follows a single
// parameter set for its whole lifetime and is never reset mid-stream.
type Optimizer interface {
	Step(params []*Param)
	Name() string
}

// SGDConfig configures stochastic gradient descent with optional momentum.
type SGDConfig struct {
	LR       float64
	Momentum float64
	Nesterov bool
}

type sgdOptimizer struct {
	cfg SGDConfig
	vel [][]float64
}

func SGD(cfg SGDConfig) Optimizer {
	if cfg.LR == 0 {
		cfg.LR = 1e-2
	}
	return &sgdOptimizer{cfg: cfg}
}

func (s *sgdOptimizer) Step(params []*Param) {
	if s.vel == nil {
		s.vel = make([][]float64, len(params))
		for i, p := range params {
			s.vel[i] = make([]float64, len(p.W.RawMatrix().Data))
		}
	}
	for i, p := range params {
		w := p.W.RawMatrix().Data
		g := p.Grad.RawMatrix().Data
		v := s.vel[i]
		for j := range w {
			grad := g[j]
			if s.cfg.Momentum != 0 {
				v[j] = s.cfg.Momentum*v[j] + grad
				if s.cfg.Nesterov {
					grad += s.cfg.Momentum * v[j]
				} else {
					grad = v[j]
				}
			}
			w[j] -= s.cfg.LR * grad
		}
	}
}

func (s *sgdOptimizer) Name() string { return "sgd" }

// AdamConfig configures Adam. Zero values fall back to the usual defaults.
type AdamConfig struct {
	LR      float64
	Beta1   float64
	Beta2   float64
	Epsilon float64
}

type adamOptimizer struct {
	cfg  AdamConfig
	m, v [][]float64
	t    int
}

func Adam(cfg AdamConfig) Optimizer {
	if cfg.LR == 0 {
		cfg.LR = 1e-3
	}
	if cfg.Beta1 == 0 {
		cfg.Beta1 = 0.9
	}
	if cfg.Beta2 == 0 {
		cfg.Beta2 = 0.999
	}
	if cfg.Epsilon == 0 {
		cfg.Epsilon = 1e-8
	}
	return &adamOptimizer{cfg: cfg}
}

func (a *adamOptimizer) Step(params []*Param) {
	if a.m == nil {
		a.m = make([][]float64, len(params))
		a.v = make([][]float64, len(params))
		for i, p := range params {
			n := len(p.W.RawMatrix().Data)
			a.m[i] = make([]float64, n)
			a.v[i] = make([]float64, n)
		}
	}
	a.t++
	bc1 := 1 - math.Pow(a.cfg.Beta1, float64(a.t))
	bc2 := 1 - math.Pow(a.cfg.Beta2, float64(a.t))

	for i, p := range params {
		w := p.W.RawMatrix().Data
		g := p.Grad.RawMatrix().Data
		m := a.m[i]
		v := a.v[i]
		for j := range w {
			m[j] = a.cfg.Beta1*m[j] + (1-a.cfg.Beta1)*g[j]
			v[j] = a.cfg.Beta2*v[j] + (1-a.cfg.Beta2)*g[j]*g[j]
			mHat := m[j] / bc1
			vHat := v[j] / bc2
			w[j] -= a.cfg.LR * mHat / (math.Sqrt(vHat) + a.cfg.Epsilon)
		}
	}
}

func (a *adamOptimizer) Name() string { return "adam" }

// RMSpropConfig configures RMSprop.
type RMSpropConfig struct {
	LR      float64
	Alpha   float64
	Epsilon float64
}

type rmspropOptimizer struct {
	cfg RMSpropConfig
	v   [][]float64
}

func RMSprop(cfg RMSpropConfig) Optimizer {
	if cfg.LR == 0 {
		cfg.LR = 1e-2
	}
	if cfg.Alpha == 0 {
		cfg.Alpha = 0.99
	}
	if cfg.Epsilon == 0 {
		cfg.Epsilon = 1e-8
	}
	return &rmspropOptimizer{cfg: cfg}
}

func (r *rmspropOptimizer) Step(params []*Param) {
	if r.v == nil {
		r.v = make([][]float64, len(params))
		for i, p := range params {
			r.v[i] = make([]float64, len(p.W.RawMatrix().Data))
		}
	}
	for i, p := range params {
		w := p.W.RawMatrix().Data
		g := p.Grad.RawMatrix().Data
		v := r.v[i]
		for j := range w {
			v[j] = r.cfg.Alpha*v[j] + (1-r.cfg.Alpha)*g[j]*g[j]
			w[j] -= r.cfg.LR * g[j] / (math.Sqrt(v[j]) + r.cfg.Epsilon)
		}
	}
}

func (r *rmspropOptimizer) Name() string { return "rmsprop" }
