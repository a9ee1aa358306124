package checkpoint

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is the in-process checkpoint store. Expired checkpoints are
// treated as absent on read.
type MemoryStore struct {
	checkpoints map[string]*Checkpoint
	mu          sync.RWMutex
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{checkpoints: make(map[string]*Checkpoint)}
}

func (s *MemoryStore) Save(_ context.Context, cp *Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[cp.ID] = cp
	return nil
}

func (s *MemoryStore) Load(_ context.Context, checkpointID string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.checkpoints[checkpointID]
	if !ok || expired(cp) {
		return nil, ErrNotFound
	}
	return cp, nil
}

func (s *MemoryStore) List(_ context.Context, workflowID string) ([]*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []*Checkpoint
	for _, cp := range s.checkpoints {
		if cp.WorkflowID == workflowID && !expired(cp) {
			results = append(results, cp)
		}
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})
	return results, nil
}

func (s *MemoryStore) Delete(_ context.Context, checkpointID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.checkpoints, checkpointID)
	return nil
}

func expired(cp *Checkpoint) bool {
	return cp.ExpiresAt != nil && cp.ExpiresAt.Before(time.Now())
}
