// Package memory is an in-memory storage.Store used by tests and devnets.
package memory

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/quorlabs/quor/types"
)

// Store holds the serialized chain record in memory. Serializing on save
// gives the same aliasing guarantees as a durable store: the caller cannot
// mutate what was saved.
type Store struct {
	mu   sync.Mutex
	data []byte
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{}
}

func (s *Store) SaveChain(rec *types.ChainRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode chain record: %w", err)
	}
	s.mu.Lock()
	s.data = data
	s.mu.Unlock()
	return nil
}

func (s *Store) LoadChain() (*types.ChainRecord, bool, error) {
	s.mu.Lock()
	data := s.data
	s.mu.Unlock()
	if data == nil {
		return nil, false, nil
	}
	var rec types.ChainRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false, fmt.Errorf("decode chain record: %w", err)
	}
	return &rec, true, nil
}

func (s *Store) Close() error { return nil }
