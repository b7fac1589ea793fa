package memory

import (
	"context"
	"sync"

	interfaces "github.com/sheikh-saqib/async-payments-ledger/internal/interfaces"
	"github.com/sheikh-saqib/async-payments-ledger/internal/models"
)

// MemoryLedgerStore is an in-memory implementation of interfaces.LedgerStore.
// Entries are kept in append order, with a per-account index for balance audits.
type MemoryLedgerStore struct {
	mu        sync.RWMutex
	entries   []models.LedgerEntry
	byAccount map[string][]int // account id -> positions in entries
}

// NewMemoryLedgerStore creates and returns a new MemoryLedgerStore instance
func NewMemoryLedgerStore() *MemoryLedgerStore {
	return &MemoryLedgerStore{
		entries:   make([]models.LedgerEntry, 0),
		byAccount: make(map[string][]int),
	}
}

// SaveEntry appends a LedgerEntry to the journal. Always succeeds in memory.
func (m *MemoryLedgerStore) SaveEntry(ctx context.Context, entry models.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.byAccount[entry.AccountID] = append(m.byAccount[entry.AccountID], len(m.entries))
	m.entries = append(m.entries, entry)
	return nil
}

// GetLedgerEntries returns a copy of all ledger entries in append order.
func (m *MemoryLedgerStore) GetLedgerEntries() ([]models.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	copied := make([]models.LedgerEntry, len(m.entries))
	copy(copied, m.entries)
	return copied, nil
}

func (m *MemoryLedgerStore) GetEntriesByAccount(accountId string) ([]models.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	positions := m.byAccount[accountId]
	result := make([]models.LedgerEntry, 0, len(positions))
	for _, i := range positions {
		result = append(result, m.entries[i])
	}
	return result, nil
}

// Compile-time check: ensure MemoryLedgerStore implements LedgerStore interface
var _ interfaces.LedgerStore = (*MemoryLedgerStore)(nil)
