package installation

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/heathcliff26/buildhook/pkg/trigger"
)

type memoryInstallation struct {
	senderID int64
	repos    map[int64]trigger.Repository
}

// MemoryStore is a Store without persistence
type MemoryStore struct {
	lock          sync.RWMutex
	installations map[int64]*memoryInstallation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		installations: make(map[int64]*memoryInstallation),
	}
}

func (s *MemoryStore) get(id int64) *memoryInstallation {
	inst, ok := s.installations[id]
	if !ok {
		inst = &memoryInstallation{repos: make(map[int64]trigger.Repository)}
		s.installations[id] = inst
	}
	return inst
}

func (s *MemoryStore) Create(_ context.Context, id, senderID int64) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.get(id).senderID = senderID
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id int64) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	delete(s.installations, id)
	return nil
}

func (s *MemoryStore) AddRepositories(_ context.Context, id int64, repos []trigger.Repository) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	inst := s.get(id)
	for _, repo := range repos {
		inst.repos[repo.ID] = repo
	}
	return nil
}

func (s *MemoryStore) RemoveRepositories(_ context.Context, id int64, repoIDs []int64) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	inst, ok := s.installations[id]
	if !ok {
		return nil
	}
	for _, repoID := range repoIDs {
		delete(inst.repos, repoID)
	}
	return nil
}

func (s *MemoryStore) Repositories(_ context.Context, id int64) ([]trigger.Repository, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	inst, ok := s.installations[id]
	if !ok {
		return nil, nil
	}
	return slices.SortedFunc(maps.Values(inst.repos), func(a, b trigger.Repository) int {
		return cmp.Compare(a.ID, b.ID)
	}), nil
}
