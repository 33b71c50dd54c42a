package identity

import (
	"context"
	"strings"
	"sync"
	"time"

	"healthcare-portal/internal/model"
)

// MemoryUsers is a UserStore for tests and dev runs.
type MemoryUsers struct {
	mu      sync.RWMutex
	byEmail map[string]model.User
}

func NewMemoryUsers() *MemoryUsers {
	return &MemoryUsers{byEmail: make(map[string]model.User)}
}

func (m *MemoryUsers) CreateUser(_ context.Context, u *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := strings.ToLower(u.Email)
	if _, ok := m.byEmail[key]; ok {
		return ErrEmailInUse
	}
	c := *u
	c.CreatedAt, c.UpdatedAt = time.Now(), time.Now()
	m.byEmail[key] = c
	return nil
}

func (m *MemoryUsers) UserByEmail(_ context.Context, email string) (*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, ErrNoUser
	}
	return &u, nil
}
