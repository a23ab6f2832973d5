package store

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore keeps one table in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
	order   []string
}

// NewMemoryStore creates an empty table.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Record),
	}
}

func (s *MemoryStore) Upsert(_ context.Context, rec Record) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := rec.clone()
	id := stored.ID()
	if id == "" {
		id = uuid.NewString()
		stored[IDField] = id
	}

	if existing, ok := s.records[id]; ok {
		merged := existing.clone()
		for k, v := range stored {
			merged[k] = v
		}
		stored = merged
	} else {
		s.order = append(s.order, id)
	}

	s.records[id] = stored
	return stored.clone(), nil
}

func (s *MemoryStore) Find(_ context.Context, selector Selector, order *Order) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]Record, 0)
	for _, id := range s.order {
		rec := s.records[id]
		if selector.Matches(rec) {
			results = append(results, rec.clone())
		}
	}

	sortRecords(results, order)
	return results, nil
}

// Count returns the number of stored records.
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
