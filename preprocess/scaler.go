// Package preprocess holds per-feature transforms applied to examples
// before they reach a model. Transforms learn their statistics from the
// stream itself, one example at a time, so no dataset pass is needed.
package preprocess

import (
	"math"

	"streamnet/online"
)

type runningStat struct {
	count float64
	mean  float64
	m2    float64
}

func (s *runningStat) update(v float64) {
	s.count++
	delta := v - s.mean
	s.mean += delta / s.count
	s.m2 += delta * (v - s.mean)
}

func (s *runningStat) variance() float64 {
	if s.count < 2 {
		return 0
	}
	return s.m2 / s.count
}

// StandardScaler centers each feature on its running mean and scales by its
// running standard deviation. Features appear in the scaler's state the
// first time they are seen, independently of any model's frozen ordering.
type StandardScaler struct {
	stats map[string]*runningStat
}

func NewStandardScaler() *StandardScaler {
	return &StandardScaler{stats: make(map[string]*runningStat)}
}

// LearnOne folds one example into the running statistics.
func (s *StandardScaler) LearnOne(x online.Example) *StandardScaler {
	for name, v := range x {
		st, ok := s.stats[name]
		if !ok {
			st = &runningStat{}
			s.stats[name] = st
		}
		st.update(v)
	}
	return s
}

// TransformOne returns a standardized copy of the example. Features with no
// accumulated statistics, or zero variance, pass through centered only.
func (s *StandardScaler) TransformOne(x online.Example) online.Example {
	out := make(online.Example, len(x))
	for name, v := range x {
		st, ok := s.stats[name]
		if !ok {
			out[name] = v
			continue
		}
		std := math.Sqrt(st.variance())
		if std == 0 {
			out[name] = v - st.mean
			continue
		}
		out[name] = (v - st.mean) / std
	}
	return out
}

// MinMaxScaler rescales each feature into [0, 1] using the running minimum
// and maximum.
type MinMaxScaler struct {
	min map[string]float64
	max map[string]float64
}

func NewMinMaxScaler() *MinMaxScaler {
	return &MinMaxScaler{
		min: make(map[string]float64),
		max: make(map[string]float64),
	}
}

// LearnOne folds one example into the running extrema.
func (m *MinMaxScaler) LearnOne(x online.Example) *MinMaxScaler {
	for name, v := range x {
		if lo, ok := m.min[name]; !ok || v < lo {
			m.min[name] = v
		}
		if hi, ok := m.max[name]; !ok || v > hi {
			m.max[name] = v
		}
	}
	return m
}

// TransformOne returns a rescaled copy of the example. Unknown or constant
// features map to 0.
func (m *MinMaxScaler) TransformOne(x online.Example) online.Example {
	out := make(online.Example, len(x))
	for name, v := range x {
		lo, okLo := m.min[name]
		hi, okHi := m.max[name]
		if !okLo || !okHi || hi == lo {
			out[name] = 0
			continue
		}
		out[name] = (v - lo) / (hi - lo)
	}
	return out
}
