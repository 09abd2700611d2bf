package online

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"streamnet/nn"
)

func buildAE(nFeatures int, rng *rand.Rand) (*nn.Network, error) {
	return nn.NewNetwork(nFeatures, rng).
		Dense(2, nn.Tanh()).
		Dense(nFeatures, nn.Identity()), nil
}

func TestAutoencoderScoreBeforeLearn(t *testing.T) {
	ae := NewAutoencoder(buildAE, Config{})
	if _, err := ae.ScoreOne(Example{"a": 1}); !errors.Is(err, ErrNotFitted) {
		t.Fatalf("expected ErrNotFitted, got %v", err)
	}
}

func TestAutoencoderScoreNonNegative(t *testing.T) {
	ae := NewAutoencoder(buildAE, Config{Optimizer: nn.SGD(nn.SGDConfig{LR: 0.05})})
	rng := rand.New(rand.NewSource(13))

	for i := 0; i < 200; i++ {
		x := Example{
			"a": rng.NormFloat64(),
			"b": rng.NormFloat64(),
			"c": rng.NormFloat64(),
			"d": rng.NormFloat64(),
		}
		if _, err := ae.LearnOne(x); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		score, err := ae.ScoreOne(x)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if score < 0 {
			t.Fatalf("reconstruction score must be non-negative, got %f", score)
		}
		if math.IsNaN(score) || math.IsInf(score, 0) {
			t.Fatalf("score is not finite: %f", score)
		}
	}
}

func TestAutoencoderScoresOutlierHigher(t *testing.T) {
	ae := NewAutoencoder(buildAE, Config{Optimizer: nn.SGD(nn.SGDConfig{LR: 0.05}), Seed: 17})
	rng := rand.New(rand.NewSource(17))

	// Train on a tight cluster around the origin.
	for i := 0; i < 500; i++ {
		x := Example{
			"a": rng.NormFloat64() * 0.1,
			"b": rng.NormFloat64() * 0.1,
			"c": rng.NormFloat64() * 0.1,
			"d": rng.NormFloat64() * 0.1,
		}
		if _, err := ae.LearnOne(x); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	inlier, err := ae.ScoreOne(Example{"a": 0.05, "b": -0.05, "c": 0.02, "d": 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	outlier, err := ae.ScoreOne(Example{"a": 10, "b": -8, "c": 12, "d": -9})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outlier <= inlier {
		t.Fatalf("expected outlier to score higher: inlier=%f outlier=%f", inlier, outlier)
	}
}

func TestAutoencoderScoreDoesNotTrain(t *testing.T) {
	ae := NewAutoencoder(buildAE, Config{})
	if _, err := ae.LearnOne(Example{"a": 1, "b": 2, "c": 3, "d": 4}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	x := Example{"a": 4, "b": 3, "c": 2, "d": 1}
	first, err := ae.ScoreOne(x)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 10; i++ {
		score, err := ae.ScoreOne(x)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if score != first {
			t.Fatalf("score changed without learning: %f vs %f", score, first)
		}
	}
	if ae.Steps() != 1 {
		t.Fatalf("scoring must not count as a learn step, got %d", ae.Steps())
	}
}

func TestAutoencoderRejectsMismatchedDecoder(t *testing.T) {
	narrow := func(nFeatures int, rng *rand.Rand) (*nn.Network, error) {
		return nn.NewNetwork(nFeatures, rng).Dense(2, nn.Tanh()), nil
	}
	ae := NewAutoencoder(narrow, Config{})
	if _, err := ae.LearnOne(Example{"a": 1, "b": 2, "c": 3}); !errors.Is(err, ErrBuild) {
		t.Fatalf("expected ErrBuild, got %v", err)
	}
}

func TestAutoencoderReconstruct(t *testing.T) {
	ae := NewAutoencoder(buildAE, Config{})
	if _, err := ae.LearnOne(Example{"a": 1, "b": 2, "c": 3, "d": 4}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	recon, err := ae.ReconstructOne(Example{"a": 1, "b": 2, "c": 3, "d": 4})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, name := range []string{"a", "b", "c", "d"} {
		v, ok := recon[name]
		if !ok {
			t.Fatalf("reconstruction missing feature %q", name)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("reconstruction not finite for %q: %f", name, v)
		}
	}
}

func TestAutoencoderSnapshotRoundTrip(t *testing.T) {
	ae := NewAutoencoder(buildAE, Config{Seed: 2})
	for i := 0; i < 50; i++ {
		if _, err := ae.LearnOne(Example{"a": 0.1, "b": 0.2, "c": 0.3, "d": 0.4}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	snap, err := ae.Snapshot()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	restored := NewAutoencoder(buildAE, Config{})
	if err := restored.Restore(snap); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	x := Example{"a": 0.1, "b": 0.2, "c": 0.3, "d": 0.4}
	want, _ := ae.ScoreOne(x)
	got, err := restored.ScoreOne(x)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(want-got) > 1e-12 {
		t.Fatalf("restored score differs: %f vs %f", got, want)
	}
}
