package cache

import (
	"attribution/internal/store"
	"context"
	"fmt"
	"strings"
	"sync"
)

// Memory is an in-process store.KV with an optional byte quota, sized
// like the few megabytes a browser grants an origin.
type Memory struct {
	mu       sync.RWMutex
	data     map[string][]byte
	used     int
	maxBytes int
}

func NewMemory(maxBytes int) *Memory {
	return &Memory{data: make(map[string][]byte), maxBytes: maxBytes}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	used := m.used + len(key) + len(value)
	if old, ok := m.data[key]; ok {
		used -= len(key) + len(old)
	}
	if m.maxBytes > 0 && used > m.maxBytes {
		return fmt.Errorf("set %s: %w", key, store.ErrQuotaExceeded)
	}
	m.data[key] = append([]byte(nil), value...)
	m.used = used
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remove(key)
	return nil
}

func (m *Memory) Sweep(_ context.Context, prefix string, drop func(value []byte) bool) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	deleted := 0
	for key, v := range m.data {
		if strings.HasPrefix(key, prefix) && drop(v) {
			m.remove(key)
			deleted++
		}
	}
	return deleted, nil
}

// Used returns the bytes currently held, keys included.
func (m *Memory) Used() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.used
}

func (m *Memory) remove(key string) {
	if old, ok := m.data[key]; ok {
		m.used -= len(key) + len(old)
		delete(m.data, key)
	}
}
