package repository

import (
	"context"
	"sync"

	"roomqueue/internal/models"
)

// MemoryStore keeps the queue in a map. It backs tests and serves as the
// fallback side of the failover store; it does not survive restarts.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]models.QueuedRequest
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]models.QueuedRequest)}
}

func (s *MemoryStore) Add(ctx context.Context, entry *models.QueuedRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[entry.QueueID]; ok {
		return ErrDuplicateKey
	}
	s.entries[entry.QueueID] = *entry
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, queueID string) (*models.QueuedRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[queueID]
	if !ok {
		return nil, ErrNotFound
	}
	return &entry, nil
}

func (s *MemoryStore) GetAll(ctx context.Context, statusFilter string) ([]models.QueuedRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.QueuedRequest, 0, len(s.entries))
	for _, entry := range s.entries {
		if statusFilter != "" && entry.Status != statusFilter {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

func (s *MemoryStore) Update(ctx context.Context, queueID string, patch models.QueuePatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[queueID]
	if !ok {
		return ErrNotFound
	}
	entry.Apply(patch)
	s.entries[queueID] = entry
	return nil
}

func (s *MemoryStore) Remove(ctx context.Context, queueID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, queueID)
	return nil
}

func (s *MemoryStore) ClearSynced(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, entry := range s.entries {
		if entry.Status == models.StatusSynced {
			delete(s.entries, id)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) CountByStatus(ctx context.Context) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int)
	for _, entry := range s.entries {
		counts[entry.Status]++
	}
	return counts, nil
}
