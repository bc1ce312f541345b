package configstore

import (
	"context"
	"encoding/json"
	"sync"
)

// MemoryStore keeps configuration records in process memory. It backs tests
// and embedded setups.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]json.RawMessage
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]json.RawMessage),
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (json.RawMessage, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, ok := s.records[key]
	if !ok {
		return nil, false, nil
	}
	return append(json.RawMessage(nil), raw...), true, nil
}

func (s *MemoryStore) Put(_ context.Context, key string, config json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[key] = append(json.RawMessage(nil), config...)
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
