// Package storage provides client storage backends for the auth resolver.
package storage

import (
	"context"
	"sync"

	auth "github.com/picklehub/go-club-auth"
)

// Memory is a process local Storage, mainly for tests and the CLI.
type Memory struct {
	mu     sync.RWMutex
	values map[string]string
}

var _ auth.Storage = (*Memory)(nil)

// NewMemory returns an empty store seeded with optional key/value pairs.
func NewMemory(kv ...string) *Memory {
	m := &Memory{values: map[string]string{}}
	for i := 0; i+1 < len(kv); i += 2 {
		m.values[kv[i]] = kv[i+1]
	}
	return m
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}
