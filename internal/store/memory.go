package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryKV is an in-process KV used in tests and local development.
type MemoryKV struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{records: make(map[string]Record)}
}

func (m *MemoryKV) Get(ctx context.Context, key string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	rec.Data = append([]byte(nil), rec.Data...)
	return &rec, nil
}

func (m *MemoryKV) Put(ctx context.Context, key string, data []byte) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	version := m.records[key].Version + 1
	m.write(key, version, data)
	return version, nil
}

func (m *MemoryKV) CompareAndSwap(ctx context.Context, key string, expectedVersion int64, data []byte) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, exists := m.records[key]
	if (!exists && expectedVersion != 0) || (exists && rec.Version != expectedVersion) {
		return 0, ErrVersionConflict
	}

	version := expectedVersion + 1
	m.write(key, version, data)
	return version, nil
}

func (m *MemoryKV) Keys(ctx context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0)
	for key := range m.records {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Len returns the number of stored keys.
func (m *MemoryKV) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func (m *MemoryKV) write(key string, version int64, data []byte) {
	m.records[key] = Record{
		Key:       key,
		Version:   version,
		Data:      append([]byte(nil), data...),
		UpdatedAt: time.Now().UTC(),
	}
}
