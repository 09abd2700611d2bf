package online

import (
	"fmt"
	"math"
	"sort"
)

// Example is a single observation: feature name to numeric value.
type Example map[string]float64

// FeaturePolicy decides what happens when an example's key set differs from
// the one frozen at first contact.
type FeaturePolicy int

const (
	// FeatureStrict rejects any example whose key set is not exactly the
	// frozen set. This is the default.
	FeatureStrict FeaturePolicy = iota

	// FeatureIgnoreUnseen drops keys outside the frozen set and fills
	// absent frozen keys with zero.
	FeatureIgnoreUnseen
)

// projection is the feature-name-to-input-index mapping established when
// the network is first built. Once created it never changes: extending the
// input layer mid-stream would invalidate the optimizer's moment buffers.
type projection struct {
	order  []string
	index  map[string]int
	policy FeaturePolicy
}

func newProjection(x Example, policy FeaturePolicy) (*projection, error) {
	if len(x) == 0 {
		return nil, fmt.Errorf("%w: empty example", ErrFeatureMismatch)
	}
	// Go maps are unordered, so the frozen ordering is the sorted key set
	// of the first example.
	order := make([]string, 0, len(x))
	for name := range x {
		order = append(order, name)
	}
	sort.Strings(order)

	index := make(map[string]int, len(order))
	for i, name := range order {
		index[name] = i
	}
	p := &projection{order: order, index: index, policy: policy}
	if _, err := p.vector(x); err != nil {
		return nil, err
	}
	return p, nil
}

// vector projects an example onto the frozen ordering.
func (p *projection) vector(x Example) ([]float64, error) {
	if p.policy == FeatureStrict {
		if len(x) != len(p.order) {
			return nil, fmt.Errorf("%w: got %d features, fitted on %d", ErrFeatureMismatch, len(x), len(p.order))
		}
		for name := range x {
			if _, ok := p.index[name]; !ok {
				return nil, fmt.Errorf("%w: unseen feature %q", ErrFeatureMismatch, name)
			}
		}
	}

	out := make([]float64, len(p.order))
	for i, name := range p.order {
		v, ok := x[name]
		if !ok {
			if p.policy == FeatureStrict {
				return nil, fmt.Errorf("%w: missing feature %q", ErrFeatureMismatch, name)
			}
			continue
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: feature %q is not finite", ErrFeatureMismatch, name)
		}
		out[i] = v
	}
	return out, nil
}

func (p *projection) width() int { return len(p.order) }

// features returns the frozen ordering. The slice is shared; callers must
// not modify it.
func (p *projection) features() []string { return p.order }
