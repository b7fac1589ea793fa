package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	interfaces "github.com/sheikh-saqib/async-payments-ledger/internal/interfaces"
	"github.com/sheikh-saqib/async-payments-ledger/internal/models"
	"github.com/sheikh-saqib/async-payments-ledger/internal/storage"
)

type MemoryUserStore struct {
	mu    sync.RWMutex
	users map[string]*models.User
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{
		users: make(map[string]*models.User),
	}
}

func (m *MemoryUserStore) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if _, exists := m.users[user.ID]; exists {
		return models.User{}, fmt.Errorf("user %s: %w", user.ID, storage.ErrDuplicateID)
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Accounts = slices.Clone(user.Accounts)
	if user.Accounts == nil {
		user.Accounts = []string{}
	}

	stored := user
	m.users[user.ID] = &stored
	return cloneUser(stored), nil
}

func (m *MemoryUserStore) GetUser(userId string) (models.User, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[userId]
	if !ok {
		return models.User{}, false
	}
	return cloneUser(*u), true
}

func (m *MemoryUserStore) AttachAccount(userId, accountId string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userId]
	if !ok {
		return fmt.Errorf("user %s: %w", userId, storage.ErrUserNotFound)
	}
	if !slices.Contains(u.Accounts, accountId) {
		u.Accounts = append(u.Accounts, accountId)
	}
	return nil
}

func cloneUser(u models.User) models.User {
	u.Accounts = slices.Clone(u.Accounts)
	return u
}

var _ interfaces.UserStore = (*MemoryUserStore)(nil)
