package mirror

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for mirror storage.
type Repository interface {
	// Save stores a record and returns the stored copy. ID and CreatedAt are
	// assigned when empty.
	Save(ctx context.Context, rec Record) (*Record, error)

	// List returns records in insertion order (oldest first).
	// Limit keeps only the most recent entries (0 = no limit).
	List(ctx context.Context, limit int) ([]*Record, error)

	// QueryByIdentity retrieves records for one identity, newest first.
	// Limit specifies the maximum number of entries to return (0 = no limit).
	QueryByIdentity(ctx context.Context, identity string, limit int) ([]*Record, error)
}

// InMemoryRepository is an in-memory implementation of Repository.
// Used for testing and development. Thread-safe via RWMutex.
type InMemoryRepository struct {
	mu      sync.RWMutex
	records map[string]*Record
	// Maintain insertion order for queries
	order []string
}

// NewInMemoryRepository creates a new in-memory mirror repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		records: make(map[string]*Record),
		order:   make([]string, 0),
	}
}

// Save stores a copy of rec.
func (r *InMemoryRepository) Save(_ context.Context, rec Record) (*Record, error) {
	if err := validateRecord(rec); err != nil {
		return nil, err
	}
	stamp(&rec)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[rec.ID]; exists {
		return nil, ErrDuplicateID
	}
	stored := rec
	r.records[stored.ID] = &stored
	r.order = append(r.order, stored.ID)

	return &rec, nil
}

// List returns records oldest first.
func (r *InMemoryRepository) List(_ context.Context, limit int) ([]*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	start := 0
	if limit > 0 && len(r.order) > limit {
		start = len(r.order) - limit
	}

	results := make([]*Record, 0, len(r.order)-start)
	for _, id := range r.order[start:] {
		recCopy := *r.records[id]
		results = append(results, &recCopy)
	}
	return results, nil
}

// QueryByIdentity retrieves records for identity, newest first.
func (r *InMemoryRepository) QueryByIdentity(_ context.Context, identity string, limit int) ([]*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []*Record

	// Iterate in reverse order (newest first)
	for i := len(r.order) - 1; i >= 0; i-- {
		rec := r.records[r.order[i]]
		if rec.Identity != identity {
			continue
		}
		recCopy := *rec
		results = append(results, &recCopy)

		if limit > 0 && len(results) >= limit {
			break
		}
	}

	return results, nil
}

// Len returns the number of stored records.
func (r *InMemoryRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// stamp fills ID and CreatedAt when the caller left them empty.
func stamp(rec *Record) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
}
