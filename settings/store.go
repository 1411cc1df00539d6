// Package settings is the key-value store the gate reads its autonomy mode
// and persisted overrides from. Values are JSON-shaped; each backend keeps
// them across restarts except MemoryStore.
package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

const (
	KeyAutonomyMode      = "autonomyMode"
	KeyAutonomyOverrides = "autonomyOverrides"
)

type Store interface {
	// Get decodes the value stored under key into out. It reports false when
	// the key is absent.
	Get(ctx context.Context, key string, out any) (bool, error)
	Set(ctx context.Context, key string, value any) error
}

type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]json.RawMessage
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]json.RawMessage)}
}

func (s *MemoryStore) Get(_ context.Context, key string, out any) (bool, error) {
	s.mu.RLock()
	raw, ok := s.values[key]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("decode setting %s: %w", key, err)
	}
	return true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode setting %s: %w", key, err)
	}
	s.mu.Lock()
	s.values[key] = raw
	s.mu.Unlock()
	return nil
}
