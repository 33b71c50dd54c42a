package securestore

import (
	"context"
	"sync"
)

// Protection mirrors the platform keychain accessibility classes.
type Protection uint8

const (
	ProtectionDefault Protection = iota
	// ProtectionAfterFirstUnlock: readable once the device has been unlocked
	// since boot. Used for every credential this package writes.
	ProtectionAfterFirstUnlock
)

// Backend is the protected local store: app scoped, survives restarts,
// cleared on explicit wipe. Get reports absence with ok=false and a nil error.
type Backend interface {
	Set(ctx context.Context, key, value string, p Protection) error
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Delete(ctx context.Context, key string) error
}

type memRecord struct {
	value string
	prot  Protection
}

// Memory is a process-local Backend for tests and dev runs.
type Memory struct {
	mu   sync.RWMutex
	data map[string]memRecord
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string]memRecord)}
}

func (m *Memory) Set(_ context.Context, key, value string, p Protection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = memRecord{value: value, prot: p}
	return nil
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.data[key]
	return r.value, ok, nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// ProtectionOf reports the level a key was written with. Test-only helper.
func (m *Memory) ProtectionOf(key string) (Protection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.data[key]
	return r.prot, ok
}
