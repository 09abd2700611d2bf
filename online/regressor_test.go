package online

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"streamnet/nn"
)

func buildLinear(nFeatures int, rng *rand.Rand) (*nn.Network, error) {
	return nn.NewNetwork(nFeatures, rng).Dense(1, nn.Identity()), nil
}

func TestRegressorPredictBeforeLearn(t *testing.T) {
	reg := NewRegressor(buildLinear, Config{})
	if _, err := reg.PredictOne(Example{"a": 1}); !errors.Is(err, ErrNotFitted) {
		t.Fatalf("expected ErrNotFitted, got %v", err)
	}
}

func TestRegressorHundredSteps(t *testing.T) {
	reg := NewRegressor(buildLinear, Config{Optimizer: nn.SGD(nn.SGDConfig{LR: 0.05})})

	// y = 2*a - b + 0.5*c
	rng := rand.New(rand.NewSource(21))
	for i := 0; i < 100; i++ {
		x := Example{
			"a": rng.Float64(),
			"b": rng.Float64(),
			"c": rng.Float64(),
		}
		y := 2*x["a"] - x["b"] + 0.5*x["c"]
		if _, err := reg.LearnOne(x, y); err != nil {
			t.Fatalf("unexpected error at step %d: %v", i, err)
		}
	}

	got, err := reg.PredictOne(Example{"a": 0.5, "b": 0.5, "c": 0.5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.IsNaN(got) || math.IsInf(got, 0) {
		t.Fatalf("expected finite prediction, got %f", got)
	}
}

func TestRegressorWidthFrozenByFirstExample(t *testing.T) {
	reg := NewRegressor(buildLinear, Config{})
	if _, err := reg.LearnOne(Example{"a": 1, "b": 2, "c": 3}, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(reg.Features()); got != 3 {
		t.Fatalf("expected width 3, got %d", got)
	}
	if _, err := reg.LearnOne(Example{"a": 1, "b": 2, "c": 3, "d": 4}, 1); !errors.Is(err, ErrFeatureMismatch) {
		t.Fatalf("expected ErrFeatureMismatch, got %v", err)
	}
	// The failed step must not have advanced the model.
	if reg.Steps() != 1 {
		t.Fatalf("expected 1 step, got %d", reg.Steps())
	}
}

func TestRegressorRejectsMultiOutputBuild(t *testing.T) {
	wide := func(nFeatures int, rng *rand.Rand) (*nn.Network, error) {
		return nn.NewNetwork(nFeatures, rng).Dense(2, nn.Identity()), nil
	}
	reg := NewRegressor(wide, Config{})
	if _, err := reg.LearnOne(Example{"a": 1}, 1); !errors.Is(err, ErrBuild) {
		t.Fatalf("expected ErrBuild, got %v", err)
	}
	// Still uninitialized afterwards.
	if _, err := reg.PredictOne(Example{"a": 1}); !errors.Is(err, ErrNotFitted) {
		t.Fatalf("expected ErrNotFitted, got %v", err)
	}
}

func TestRegressorTracksDrift(t *testing.T) {
	// The relationship flips sign mid-stream; per-example updates should
	// pull the estimate toward the new regime.
	reg := NewRegressor(buildLinear, Config{Optimizer: nn.SGD(nn.SGDConfig{LR: 0.1})})
	rng := rand.New(rand.NewSource(4))

	for i := 0; i < 300; i++ {
		v := rng.Float64()
		if _, err := reg.LearnOne(Example{"v": v}, 3*v); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	before, err := reg.PredictOne(Example{"v": 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i := 0; i < 300; i++ {
		v := rng.Float64()
		if _, err := reg.LearnOne(Example{"v": v}, -3*v); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	after, err := reg.PredictOne(Example{"v": 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !(before > 0 && after < 0) {
		t.Fatalf("expected estimate to follow the drift, before=%f after=%f", before, after)
	}
}

func TestRegressorSnapshotRoundTrip(t *testing.T) {
	reg := NewRegressor(buildLinear, Config{Seed: 8})
	for i := 0; i < 20; i++ {
		if _, err := reg.LearnOne(Example{"a": float64(i)}, float64(2*i)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	snap, err := reg.Snapshot()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Kind != KindRegressor {
		t.Fatalf("expected regressor snapshot, got %q", snap.Kind)
	}

	restored := NewRegressor(buildLinear, Config{})
	if err := restored.Restore(snap); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want, _ := reg.PredictOne(Example{"a": 7})
	got, err := restored.PredictOne(Example{"a": 7})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(want-got) > 1e-12 {
		t.Fatalf("restored prediction differs: %f vs %f", got, want)
	}

	wrongKind := &Snapshot{Kind: KindClassifier, Features: []string{"a"}}
	if err := NewRegressor(buildLinear, Config{}).Restore(wrongKind); !errors.Is(err, ErrBuild) {
		t.Fatalf("expected ErrBuild for wrong kind, got %v", err)
	}
}
