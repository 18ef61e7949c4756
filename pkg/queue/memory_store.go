package queue

import (
	"bytes"
	"context"
	"sync"
)

// MemoryStore keeps all lists in process memory.
// Contents are lost on restart, it is meant for tests and local development.
type MemoryStore struct {
	lock  sync.Mutex
	lists map[string][][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		lists: make(map[string][][]byte),
	}
}

func (s *MemoryStore) Push(_ context.Context, key string, data []byte) (int64, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.lists[key] = append(s.lists[key], bytes.Clone(data))
	return int64(len(s.lists[key])), nil
}

func (s *MemoryStore) Pop(_ context.Context, key string) ([]byte, bool, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	list := s.lists[key]
	if len(list) == 0 {
		return nil, false, nil
	}
	head := list[0]
	s.lists[key] = list[1:]
	return head, true, nil
}

func (s *MemoryStore) Len(_ context.Context, key string) (int64, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	return int64(len(s.lists[key])), nil
}

func (s *MemoryStore) Remove(_ context.Context, key string, match func([]byte) bool) (int, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	list := s.lists[key]
	kept := make([][]byte, 0, len(list))
	for _, data := range list {
		if !match(data) {
			kept = append(kept, data)
		}
	}
	s.lists[key] = kept
	return len(list) - len(kept), nil
}
