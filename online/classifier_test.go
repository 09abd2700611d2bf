package online

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"streamnet/nn"
)

func buildSoftmax(units int) BuildFunc {
	return func(nFeatures int, rng *rand.Rand) (*nn.Network, error) {
		return nn.NewNetwork(nFeatures, rng).
			Dense(5, nn.ReLU()).
			Dense(units, nn.Softmax()), nil
	}
}

func buildSigmoid(nFeatures int, rng *rand.Rand) (*nn.Network, error) {
	return nn.NewNetwork(nFeatures, rng).
		Dense(4, nn.Tanh()).
		Dense(1, nn.Sigmoid()), nil
}

func TestClassifierPredictBeforeLearn(t *testing.T) {
	clf := NewClassifier(buildSoftmax(2), Config{})
	if _, err := clf.PredictOne(Example{"a": 1}); !errors.Is(err, ErrNotFitted) {
		t.Fatalf("expected ErrNotFitted, got %v", err)
	}
	if _, err := clf.PredictProbaOne(Example{"a": 1}); !errors.Is(err, ErrNotFitted) {
		t.Fatalf("expected ErrNotFitted, got %v", err)
	}
}

func TestClassifierLearnStream(t *testing.T) {
	clf := NewClassifier(buildSoftmax(2), Config{Optimizer: nn.Adam(nn.AdamConfig{LR: 0.05})})

	// Two clusters: class up when sum of features positive.
	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 100; i++ {
		offset := 1.0
		label := "up"
		if i%2 == 1 {
			offset = -1.0
			label = "down"
		}
		x := Example{
			"f0": offset + rng.NormFloat64()*0.3,
			"f1": offset + rng.NormFloat64()*0.3,
			"f2": offset + rng.NormFloat64()*0.3,
		}
		if _, err := clf.LearnOne(x, label); err != nil {
			t.Fatalf("unexpected error at step %d: %v", i, err)
		}
	}

	probs, err := clf.PredictProbaOne(Example{"f0": 1, "f1": 1, "f2": 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sum := 0.0
	for _, p := range probs {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			t.Fatalf("probability is not finite: %v", probs)
		}
		sum += p
	}
	if math.Abs(sum-1) > 1e-6 {
		t.Fatalf("probabilities should sum to 1, got %f", sum)
	}

	label, err := clf.PredictOne(Example{"f0": 1.2, "f1": 0.9, "f2": 1.1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if label != "up" {
		t.Fatalf("expected up, got %q", label)
	}
}

func TestClassifierFeatureMismatch(t *testing.T) {
	clf := NewClassifier(buildSoftmax(2), Config{})
	if _, err := clf.LearnOne(Example{"a": 1, "b": 2, "c": 3}, "x"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cases := []struct {
		name string
		x    Example
	}{
		{"extra feature", Example{"a": 1, "b": 2, "c": 3, "d": 4}},
		{"missing feature", Example{"a": 1, "b": 2}},
		{"renamed feature", Example{"a": 1, "b": 2, "z": 3}},
		{"nan value", Example{"a": 1, "b": math.NaN(), "c": 3}},
	}
	for _, tc := range cases {
		if _, err := clf.LearnOne(tc.x, "x"); !errors.Is(err, ErrFeatureMismatch) {
			t.Fatalf("%s: expected ErrFeatureMismatch, got %v", tc.name, err)
		}
		if _, err := clf.PredictOne(tc.x); !errors.Is(err, ErrFeatureMismatch) {
			t.Fatalf("%s predict: expected ErrFeatureMismatch, got %v", tc.name, err)
		}
	}
}

func TestClassifierIgnoreUnseenPolicy(t *testing.T) {
	clf := NewClassifier(buildSoftmax(2), Config{Policy: FeatureIgnoreUnseen})
	if _, err := clf.LearnOne(Example{"a": 1, "b": 2}, "x"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Unseen key dropped, missing key zero-filled.
	if _, err := clf.LearnOne(Example{"a": 1, "c": 9}, "y"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Dropping the unseen key must equal the explicit zero-filled example.
	p1, err := clf.PredictProbaOne(Example{"a": 0.5, "c": 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p2, err := clf.PredictProbaOne(Example{"a": 0.5, "b": 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for k, v := range p1 {
		if math.Abs(v-p2[k]) > 1e-12 {
			t.Fatalf("projections disagree for %s: %f vs %f", k, v, p2[k])
		}
	}
}

func TestClassifierPredictIsPure(t *testing.T) {
	train := func() *Classifier {
		clf := NewClassifier(buildSoftmax(2), Config{Seed: 5})
		for i := 0; i < 10; i++ {
			if _, err := clf.LearnOne(Example{"a": float64(i), "b": 1}, "x"); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		}
		return clf
	}

	probed := train()
	x := Example{"a": 3, "b": 1}
	first, err := probed.PredictProbaOne(x)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 20; i++ {
		again, err := probed.PredictProbaOne(x)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for k, v := range first {
			if again[k] != v {
				t.Fatalf("prediction changed between calls: %f vs %f", v, again[k])
			}
		}
	}

	// Learning after repeated predictions must match a twin that never
	// predicted at all.
	control := train()
	if _, err := probed.LearnOne(x, "y"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := control.LearnOne(x, "y"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	a, _ := probed.PredictProbaOne(x)
	b, _ := control.PredictProbaOne(x)
	for k, v := range a {
		if math.Abs(v-b[k]) > 1e-12 {
			t.Fatalf("predictions leaked state into training: %f vs %f", v, b[k])
		}
	}
}

func TestClassifierOrderSensitivity(t *testing.T) {
	x1 := Example{"a": 1, "b": 0}
	x2 := Example{"a": 0, "b": 1}

	run := func(first, second Example) map[string]float64 {
		clf := NewClassifier(buildSoftmax(2), Config{Seed: 7, Optimizer: nn.SGD(nn.SGDConfig{LR: 0.5, Momentum: 0.9})})
		if _, err := clf.LearnOne(first, "x"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := clf.LearnOne(second, "y"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		p, err := clf.PredictProbaOne(Example{"a": 0.5, "b": 0.5})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		return p
	}

	forward := run(x1, x2)
	reverse := run(x2, x1)

	same := true
	for k, v := range forward {
		if math.Abs(v-reverse[k]) > 1e-15 {
			same = false
		}
	}
	if same {
		t.Log("orderings converged to identical weights; order sensitivity is permitted, not required")
	}
}

func TestClassifierBinarySigmoid(t *testing.T) {
	clf := NewClassifier(buildSigmoid, Config{Loss: nn.BinaryCrossEntropy(), Optimizer: nn.SGD(nn.SGDConfig{LR: 0.3})})
	for i := 0; i < 200; i++ {
		if _, err := clf.LearnOne(Example{"v": 1}, "pos"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := clf.LearnOne(Example{"v": -1}, "neg"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	probs, err := clf.PredictProbaOne(Example{"v": 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(probs) != 2 {
		t.Fatalf("expected two entries from single-output network, got %v", probs)
	}
	if math.Abs(probs["pos"]+probs["neg"]-1) > 1e-9 {
		t.Fatalf("complement should close to 1: %v", probs)
	}
	if probs["pos"] <= 0.5 {
		t.Fatalf("expected pos to dominate, got %v", probs)
	}
}

func TestClassifierUnobservedOutputs(t *testing.T) {
	clf := NewClassifier(buildSoftmax(3), Config{})
	if _, err := clf.LearnOne(Example{"a": 1}, "only"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	probs, err := clf.PredictProbaOne(Example{"a": 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(probs) != 3 {
		t.Fatalf("expected 3 outputs, got %v", probs)
	}
	if _, ok := probs["unobserved 0"]; !ok {
		t.Fatalf("expected placeholder for unobserved output, got %v", probs)
	}
}

func TestClassifierBuildFailure(t *testing.T) {
	failing := func(nFeatures int, rng *rand.Rand) (*nn.Network, error) {
		return nil, errors.New("boom")
	}
	clf := NewClassifier(failing, Config{})
	if _, err := clf.LearnOne(Example{"a": 1}, "x"); !errors.Is(err, ErrBuild) {
		t.Fatalf("expected ErrBuild, got %v", err)
	}

	wrongWidth := func(nFeatures int, rng *rand.Rand) (*nn.Network, error) {
		return nn.NewNetwork(nFeatures+1, rng).Dense(2, nn.Softmax()), nil
	}
	clf = NewClassifier(wrongWidth, Config{})
	if _, err := clf.LearnOne(Example{"a": 1}, "x"); !errors.Is(err, ErrBuild) {
		t.Fatalf("expected ErrBuild for width mismatch, got %v", err)
	}
}

func TestClassifierSnapshotRestore(t *testing.T) {
	clf := NewClassifier(buildSoftmax(2), Config{Seed: 3})
	for i := 0; i < 30; i++ {
		label := "x"
		if i%2 == 0 {
			label = "y"
		}
		if _, err := clf.LearnOne(Example{"a": float64(i % 5), "b": 1}, label); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	snap, err := clf.Snapshot()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	restored := NewClassifier(buildSoftmax(2), Config{Seed: 99})
	if err := restored.Restore(snap); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	x := Example{"a": 2, "b": 1}
	want, _ := clf.PredictProbaOne(x)
	got, err := restored.PredictProbaOne(x)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for k, v := range want {
		if math.Abs(got[k]-v) > 1e-12 {
			t.Fatalf("restored prediction differs for %s: %f vs %f", k, got[k], v)
		}
	}
	if restored.Steps() != clf.Steps() {
		t.Fatalf("expected %d steps, got %d", clf.Steps(), restored.Steps())
	}
}
