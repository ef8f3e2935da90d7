package sessionstore

import (
	"context"
	"encoding/json"
	"sync"
)

// MemoryStore holds the slot in process memory, serialized the same way the
// durable stores are so structural checks behave identically.
type MemoryStore struct {
	mu   sync.RWMutex
	data []byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (ms *MemoryStore) Load(ctx context.Context) (*Record, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.data == nil {
		return nil, nil
	}
	rec, ok := decode(ms.data)
	if !ok {
		ms.data = nil
		return nil, nil
	}
	return rec, nil
}

func (ms *MemoryStore) Save(ctx context.Context, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.data = data
	return nil
}

func (ms *MemoryStore) Clear(ctx context.Context) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.data = nil
	return nil
}

// SetRaw replaces the slot contents verbatim.
func (ms *MemoryStore) SetRaw(data []byte) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.data = data
}
