package idempotency

import (
	"context"
	"sync"
	"time"
)

// InMemoryRepository implements Repository for a single process.
type InMemoryRepository struct {
	mu   sync.RWMutex
	keys map[string]Key
	now  func() time.Time
}

// NewInMemoryRepository creates a new in-memory idempotency key repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		keys: make(map[string]Key),
		now:  time.Now,
	}
}

// Get returns a copy of the stored key.
func (r *InMemoryRepository) Get(_ context.Context, key string) (*Key, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.keys[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return &rec, nil
}

// Reserve implements Repository.
func (r *InMemoryRepository) Reserve(_ context.Context, rec *Key) error {
	if err := ValidateKey(rec.Key); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.keys[rec.Key]; exists {
		return ErrKeyExists
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = r.now()
	}
	r.keys[rec.Key] = *rec
	return nil
}

// Complete implements Repository. The original creation time is kept.
func (r *InMemoryRepository) Complete(_ context.Context, rec *Key) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.keys[rec.Key]
	if !ok {
		return ErrKeyNotFound
	}
	stored := *rec
	stored.CreatedAt = existing.CreatedAt
	r.keys[rec.Key] = stored
	return nil
}

// Release implements Repository.
func (r *InMemoryRepository) Release(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.keys, key)
	return nil
}

// DeleteOlderThan implements Repository.
func (r *InMemoryRepository) DeleteOlderThan(_ context.Context, d time.Duration) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-d)
	var deleted int64
	for key, rec := range r.keys {
		if rec.CreatedAt.Before(cutoff) {
			delete(r.keys, key)
			deleted++
		}
	}
	return deleted, nil
}
