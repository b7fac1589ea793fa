package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	interfaces "github.com/sheikh-saqib/async-payments-ledger/internal/interfaces"
	"github.com/sheikh-saqib/async-payments-ledger/internal/models"
	"github.com/sheikh-saqib/async-payments-ledger/internal/storage"
)

// AccountStoreOption configures a MemoryAccountStore
type AccountStoreOption func(*MemoryAccountStore)

// WithOverdraft controls whether Debit may take a balance below zero.
// Overdraft is allowed by default.
func WithOverdraft(allow bool) AccountStoreOption {
	return func(m *MemoryAccountStore) {
		m.allowOverdraft = allow
	}
}

// MemoryAccountStore keeps account balances in memory. Reads and account
// creation may run concurrently with the single ledger worker that mutates balances.
type MemoryAccountStore struct {
	mu             sync.RWMutex
	accounts       map[string]*models.Account
	allowOverdraft bool
}

func NewMemoryAccountStore(opts ...AccountStoreOption) *MemoryAccountStore {
	m := &MemoryAccountStore{
		accounts:       make(map[string]*models.Account),
		allowOverdraft: true,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateAccount stores the account under its ID, generating one when empty.
func (m *MemoryAccountStore) CreateAccount(ctx context.Context, account models.Account) (models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	if _, exists := m.accounts[account.ID]; exists {
		return models.Account{}, fmt.Errorf("account %s: %w", account.ID, storage.ErrDuplicateID)
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}

	stored := account
	m.accounts[account.ID] = &stored
	return stored, nil
}

func (m *MemoryAccountStore) GetAccount(accountId string) (models.Account, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	acc, ok := m.accounts[accountId]
	if !ok {
		return models.Account{}, false
	}
	return *acc, true
}

func (m *MemoryAccountStore) AccountExists(accountId string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.accounts[accountId]
	return ok
}

// Credit adds amount to the balance.
func (m *MemoryAccountStore) Credit(accountId string, amount decimal.Decimal, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	acc, ok := m.accounts[accountId]
	if !ok {
		return fmt.Errorf("credit %s: %w", accountId, storage.ErrAccountNotFound)
	}
	acc.Balance = acc.Balance.Add(amount)
	acc.LastTransactionAt = at
	return nil
}

// Debit subtracts amount from the balance, refusing to overdraw when the
// store was built WithOverdraft(false).
func (m *MemoryAccountStore) Debit(accountId string, amount decimal.Decimal, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	acc, err := m.debitable(accountId, amount)
	if err != nil {
		return fmt.Errorf("debit %s: %w", accountId, err)
	}
	acc.Balance = acc.Balance.Sub(amount)
	acc.LastTransactionAt = at
	return nil
}

// CanDebit reports the error Debit would return, without mutating anything.
func (m *MemoryAccountStore) CanDebit(accountId string, amount decimal.Decimal) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, err := m.debitable(accountId, amount); err != nil {
		return fmt.Errorf("debit %s: %w", accountId, err)
	}
	return nil
}

// caller holds m.mu
func (m *MemoryAccountStore) debitable(accountId string, amount decimal.Decimal) (*models.Account, error) {
	acc, ok := m.accounts[accountId]
	if !ok {
		return nil, storage.ErrAccountNotFound
	}
	if !m.allowOverdraft && acc.Balance.LessThan(amount) {
		return nil, storage.ErrInsufficientFunds
	}
	return acc, nil
}

// GetBalance returns zero for unknown accounts.
func (m *MemoryAccountStore) GetBalance(accountId string) decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if acc, ok := m.accounts[accountId]; ok {
		return acc.Balance
	}
	return decimal.Zero
}

var _ interfaces.AccountStore = (*MemoryAccountStore)(nil)
