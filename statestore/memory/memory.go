package memory

import (
	"context"
	"sync"
)

// Store is an in-memory implementation of statestore.Store
// Suitable for testing and development
type Store struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// New creates a new in-memory Store
func New() *Store {
	return &Store{data: make(map[string][]byte)}
}

// Put stores a key-value pair. The value is copied so later mutation by
// the caller cannot corrupt the stored state.
func (s *Store) Put(ctx context.Context, key []byte, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[string(key)] = append([]byte(nil), value...)
	return nil
}

// Get retrieves a value by key
// Returns nil if key doesn't exist
func (s *Store) Get(ctx context.Context, key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.data[string(key)]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), value...), nil
}

// Delete removes a key-value pair
func (s *Store) Delete(ctx context.Context, key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, string(key))
	return nil
}

// Close releases any resources
func (s *Store) Close() error {
	return nil
}
