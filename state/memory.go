package state

import (
	"context"
	"sync"
)

// MemoryStore keeps snapshots in process memory. Suitable for tests and
// single-instance deployments without persistence requirements.
type MemoryStore struct {
	mu      sync.RWMutex
	threads map[string][]*Snapshot
}

// NewMemoryStore creates a new in-memory snapshot store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		threads: make(map[string][]*Snapshot),
	}
}

func (s *MemoryStore) Append(ctx context.Context, snapshot *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads[snapshot.ThreadID] = append(s.threads[snapshot.ThreadID], snapshot)
	return nil
}

func (s *MemoryStore) Latest(ctx context.Context, threadID string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshots := s.threads[threadID]
	if len(snapshots) == 0 {
		return nil, ErrNotFound(threadID)
	}
	return snapshots[len(snapshots)-1], nil
}

func (s *MemoryStore) Version(ctx context.Context, threadID string, version int) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, snapshot := range s.threads[threadID] {
		if snapshot.Version == version {
			return snapshot, nil
		}
	}
	return nil, ErrNotFound(threadID)
}

func (s *MemoryStore) History(ctx context.Context, threadID string) ([]*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshots := s.threads[threadID]
	out := make([]*Snapshot, len(snapshots))
	copy(out, snapshots)
	return out, nil
}

func (s *MemoryStore) Delete(ctx context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.threads, threadID)
	return nil
}
