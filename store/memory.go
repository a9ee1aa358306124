package store

import (
	"context"
	"sort"
	"sync"

	"github.com/pipeworks-ai/conductor/workflow"
)

// MemoryInstanceStore is the in-process reference implementation. Instances
// are cloned on both Save and Load so callers never share mutable state
// with the store.
type MemoryInstanceStore struct {
	instances map[string]*workflow.Instance
	mu        sync.RWMutex
}

// NewMemoryInstanceStore creates an empty in-memory store.
func NewMemoryInstanceStore() *MemoryInstanceStore {
	return &MemoryInstanceStore{instances: make(map[string]*workflow.Instance)}
}

func (s *MemoryInstanceStore) Save(_ context.Context, inst *workflow.Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances[inst.ID] = inst.Clone()
	return nil
}

func (s *MemoryInstanceStore) Load(_ context.Context, workflowID string) (*workflow.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.instances[workflowID]
	if !ok {
		return nil, ErrNotFound
	}
	return inst.Clone(), nil
}

func (s *MemoryInstanceStore) List(_ context.Context, filter Filter) ([]*workflow.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []*workflow.Instance
	for _, inst := range s.instances {
		if filter.matches(inst) {
			results = append(results, inst.Clone())
		}
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})
	if filter.Limit > 0 && len(results) > filter.Limit {
		results = results[:filter.Limit]
	}
	return results, nil
}

func (s *MemoryInstanceStore) Delete(_ context.Context, workflowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.instances[workflowID]; !ok {
		return ErrNotFound
	}
	delete(s.instances, workflowID)
	return nil
}
