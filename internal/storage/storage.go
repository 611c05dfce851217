// Package storage defines the key/value persistence contract shared by the
// cache, offline detector and notification settings.
package storage

import (
	"sort"
	"strings"
	"sync"
)

// Store is a string key/value store. Get reports ok=false for missing keys.
type Store interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
	Remove(key string) error
	Keys(prefix string) ([]string, error)
}

// Memory is a goroutine-safe in-memory Store.
type Memory struct {
	mu   sync.RWMutex
	data map[string]string
	// FailWrites makes Set return ErrWriteFailed; used to exercise
	// persistence-failure paths.
	FailWrites bool
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]string)}
}

func (m *Memory) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *Memory) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites {
		return ErrWriteFailed
	}
	m.data[key] = value
	return nil
}

func (m *Memory) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *Memory) Keys(prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}
