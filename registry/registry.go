// Package registry shards a stream across independent model instances,
// one per key. Individual adapters are single-owner, so the registry
// serializes access per key while letting distinct keys proceed in
// parallel. Cold keys fall out of an LRU; a fresh instance is built on
// their next appearance, which suits unbounded key spaces where stale
// models are better relearned than kept.
package registry

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// Factory builds the model instance for a key the registry has not seen
// (or has evicted).
type Factory[T any] func(key string) (T, error)

type entry[T any] struct {
	mu    sync.Mutex
	model T
}

// Registry maps stream keys to single-owner model instances.
type Registry[T any] struct {
	mu      sync.Mutex
	cache   *lru.Cache[string, *entry[T]]
	factory Factory[T]
	log     *zap.Logger
}

// New creates a registry holding at most size instances.
func New[T any](size int, factory Factory[T], log *zap.Logger) (*Registry[T], error) {
	if factory == nil {
		return nil, fmt.Errorf("registry: factory is required")
	}
	if log == nil {
		log = zap.NewNop()
	}

	r := &Registry[T]{factory: factory, log: log}
	cache, err := lru.NewWithEvict(size, func(key string, _ *entry[T]) {
		r.log.Info("model evicted", zap.String("key", key))
	})
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	r.cache = cache
	return r, nil
}

// Do runs fn with exclusive access to the model for key, creating the
// instance on first use. Calls for the same key serialize; calls for
// different keys run concurrently.
func (r *Registry[T]) Do(key string, fn func(model T) error) error {
	e, err := r.acquire(key)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.model)
}

func (r *Registry[T]) acquire(key string) (*entry[T], error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.cache.Get(key); ok {
		return e, nil
	}
	model, err := r.factory(key)
	if err != nil {
		return nil, fmt.Errorf("registry: build model for %q: %w", key, err)
	}
	e := &entry[T]{model: model}
	r.cache.Add(key, e)
	r.log.Info("model created", zap.String("key", key))
	return e, nil
}

// Remove drops the instance for key, if present.
func (r *Registry[T]) Remove(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache.Remove(key)
}

// Keys returns the keys currently resident, oldest first.
func (r *Registry[T]) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cache.Keys()
}

// Len reports how many instances are resident.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cache.Len()
}
