package auth

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pz26/confpass/internal/models"
)

// MemoryUsers is a single-process UserStore.
type MemoryUsers struct {
	mu    sync.Mutex
	users map[string]models.User
}

// NewMemoryUsers creates an empty user store.
func NewMemoryUsers() *MemoryUsers {
	return &MemoryUsers{users: make(map[string]models.User)}
}

func (m *MemoryUsers) GetByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[email]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

func (m *MemoryUsers) Create(_ context.Context, email, passwordHash, fullName string, role models.Role) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[email]; ok {
		return nil, ErrEmailTaken
	}
	now := time.Now().UTC()
	u := models.User{
		ID:        uuid.New(),
		Email:     email,
		Password:  passwordHash,
		FullName:  fullName,
		Role:      role,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.users[email] = u
	return &u, nil
}
