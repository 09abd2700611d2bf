package registry

import (
	"errors"
	"math/rand"
	"sync"
	"testing"

	"streamnet/nn"
	"streamnet/online"
)

func regressorFactory(key string) (*online.Regressor, error) {
	build := func(nFeatures int, rng *rand.Rand) (*nn.Network, error) {
		return nn.NewNetwork(nFeatures, rng).Dense(1, nn.Identity()), nil
	}
	return online.NewRegressor(build, online.Config{}), nil
}

func TestRegistryCreatesPerKey(t *testing.T) {
	r, err := New(10, regressorFactory, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, key := range []string{"eu", "us", "eu"} {
		err := r.Do(key, func(m *online.Regressor) error {
			_, err := m.LearnOne(online.Example{"v": 1}, 2)
			return err
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if r.Len() != 2 {
		t.Fatalf("expected 2 instances, got %d", r.Len())
	}

	// "eu" saw two examples, "us" one: the instances are independent.
	var euSteps, usSteps uint64
	r.Do("eu", func(m *online.Regressor) error { euSteps = m.Steps(); return nil })
	r.Do("us", func(m *online.Regressor) error { usSteps = m.Steps(); return nil })
	if euSteps != 2 || usSteps != 1 {
		t.Fatalf("expected steps 2/1, got %d/%d", euSteps, usSteps)
	}
}

func TestRegistryEvictsColdKeys(t *testing.T) {
	r, err := New(2, regressorFactory, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	learn := func(key string) {
		if err := r.Do(key, func(m *online.Regressor) error {
			_, err := m.LearnOne(online.Example{"v": 1}, 1)
			return err
		}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	learn("a")
	learn("b")
	learn("c") // evicts "a"

	if r.Len() != 2 {
		t.Fatalf("expected 2 resident instances, got %d", r.Len())
	}

	// "a" comes back as a fresh, unfitted instance.
	var steps uint64
	r.Do("a", func(m *online.Regressor) error { steps = m.Steps(); return nil })
	if steps != 0 {
		t.Fatalf("expected fresh instance after eviction, got %d steps", steps)
	}
}

func TestRegistryFactoryError(t *testing.T) {
	boom := errors.New("boom")
	r, err := New[*online.Regressor](4, func(key string) (*online.Regressor, error) {
		return nil, boom
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.Do("k", func(m *online.Regressor) error { return nil }); !errors.Is(err, boom) {
		t.Fatalf("expected factory error, got %v", err)
	}
	if r.Len() != 0 {
		t.Fatalf("failed factory must not leave an entry, got %d", r.Len())
	}
}

func TestRegistryConcurrentKeys(t *testing.T) {
	r, err := New(100, regressorFactory, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			key := string(rune('a' + worker))
			for j := 0; j < 50; j++ {
				err := r.Do(key, func(m *online.Regressor) error {
					_, err := m.LearnOne(online.Example{"v": float64(j)}, float64(j))
					return err
				})
				if err != nil {
					t.Errorf("worker %d: %v", worker, err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	if r.Len() != 8 {
		t.Fatalf("expected 8 instances, got %d", r.Len())
	}
	for _, key := range r.Keys() {
		var steps uint64
		r.Do(key, func(m *online.Regressor) error { steps = m.Steps(); return nil })
		if steps != 50 {
			t.Fatalf("key %s: expected 50 steps, got %d", key, steps)
		}
	}
}
