package online

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"streamnet/nn"
)

// Classifier wraps a network for online classification. Labels are class
// names; the set of observed classes grows as new labels appear in the
// stream, mapped onto output neurons in order of first appearance.
//
// Methods mutate the receiver in place. LearnOne returns the classifier to
// allow chaining, but it is always the same handle, not a copy.
type Classifier struct {
	model
	classes    []string
	classIndex map[string]int
}

// NewClassifier creates an uninitialized classifier. The network is built
// on the first LearnOne call, when the feature-space width is known. The
// default loss is cross-entropy; builds should end in a Softmax layer (or
// a single Sigmoid output for binary streams, paired with
// nn.BinaryCrossEntropy).
func NewClassifier(build BuildFunc, cfg Config) *Classifier {
	return &Classifier{
		model:      newModel(build, cfg, nn.CrossEntropy()),
		classIndex: make(map[string]int),
	}
}

// LearnOne runs one training step on a single labeled example. The first
// call freezes the feature projection and builds the network.
func (c *Classifier) LearnOne(x Example, label string) (*Classifier, error) {
	if !c.initialized() {
		if err := c.initFrom(x); err != nil {
			return c, err
		}
	}
	xv, err := c.vector(x)
	if err != nil {
		return c, err
	}

	if _, ok := c.classIndex[label]; !ok {
		c.classIndex[label] = len(c.classes)
		c.classes = append(c.classes, label)
	}

	target := mat.NewDense(1, c.net.OutDim(), nil)
	if idx := c.classIndex[label]; idx < c.net.OutDim() {
		target.Set(0, idx, 1)
	}
	// A label beyond the output width leaves the target all-zero, matching
	// a network sized for fewer classes than the stream turned out to have.

	return c, c.learnStep(xv, target)
}

// PredictProbaOne returns the class probability distribution for one
// example without mutating any state. Before the first LearnOne it fails
// with ErrNotFitted. Output neurons beyond the observed classes appear
// under placeholder names.
func (c *Classifier) PredictProbaOne(x Example) (map[string]float64, error) {
	out, err := c.forward(x)
	if err != nil {
		return nil, err
	}

	_, cols := out.Dims()
	probs := make(map[string]float64, cols)
	if cols == 1 {
		// Single-output binary network: the one value is the probability
		// of the first observed class.
		p := out.At(0, 0)
		probs[c.className(0)] = p
		probs[c.className(1)] = 1 - p
		return probs, nil
	}
	for j := 0; j < cols; j++ {
		probs[c.className(j)] = out.At(0, j)
	}
	return probs, nil
}

// PredictOne returns the most probable class for one example.
func (c *Classifier) PredictOne(x Example) (string, error) {
	out, err := c.forward(x)
	if err != nil {
		return "", err
	}

	_, cols := out.Dims()
	if cols == 1 {
		if out.At(0, 0) >= 0.5 {
			return c.className(0), nil
		}
		return c.className(1), nil
	}
	best := 0
	for j := 1; j < cols; j++ {
		if out.At(0, j) > out.At(0, best) {
			best = j
		}
	}
	return c.className(best), nil
}

// Classes returns the observed class names in order of first appearance.
func (c *Classifier) Classes() []string {
	out := make([]string, len(c.classes))
	copy(out, c.classes)
	return out
}

func (c *Classifier) className(idx int) string {
	if idx < len(c.classes) {
		return c.classes[idx]
	}
	return fmt.Sprintf("unobserved %d", idx-len(c.classes))
}

// Snapshot exports the fitted state for persistence. It fails with
// ErrNotFitted before the first LearnOne. Optimizer moment buffers are not
// part of a snapshot; a restored model restarts them from zero.
func (c *Classifier) Snapshot() (*Snapshot, error) {
	if !c.initialized() {
		return nil, ErrNotFitted
	}
	return &Snapshot{
		Kind:     KindClassifier,
		Features: c.Features(),
		Classes:  c.Classes(),
		Weights:  c.net.Weights(),
		Steps:    c.steps,
	}, nil
}

// Restore rebuilds a fitted state on a fresh classifier. The build
// function must produce the same architecture the snapshot was taken from.
func (c *Classifier) Restore(snap *Snapshot) error {
	if snap.Kind != KindClassifier {
		return fmt.Errorf("%w: snapshot kind %q", ErrBuild, snap.Kind)
	}
	if c.initialized() {
		return fmt.Errorf("%w: cannot restore into a fitted model", ErrBuild)
	}
	if err := c.initFromFeatures(snap.Features); err != nil {
		return err
	}
	if err := c.net.SetWeights(snap.Weights); err != nil {
		return fmt.Errorf("%w: %v", ErrBuild, err)
	}
	c.classes = append([]string(nil), snap.Classes...)
	c.classIndex = make(map[string]int, len(c.classes))
	for i, name := range c.classes {
		c.classIndex[name] = i
	}
	c.steps = snap.Steps
	return nil
}
