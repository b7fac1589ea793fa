package memory

import (
	"sync"
	"time"

	interfaces "github.com/sheikh-saqib/async-payments-ledger/internal/interfaces"
	"github.com/sheikh-saqib/async-payments-ledger/internal/models"
)

// MemoryTransactionStore keeps transaction records keyed by id. Records are
// stored and returned by value so readers never observe a half-written status.
type MemoryTransactionStore struct {
	mu           sync.RWMutex
	transactions map[string]models.Transaction
	idempotency  map[string]string // idempotency key -> transaction id
}

func NewMemoryTransactionStore() *MemoryTransactionStore {
	return &MemoryTransactionStore{
		transactions: make(map[string]models.Transaction),
		idempotency:  make(map[string]string),
	}
}

// Put inserts or overwrites the record.
func (m *MemoryTransactionStore) Put(tx models.Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.transactions[tx.ID] = tx
	if tx.IdempotencyKey != "" {
		m.idempotency[tx.IdempotencyKey] = tx.ID
	}
}

func (m *MemoryTransactionStore) Get(id string) (models.Transaction, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tx, ok := m.transactions[id]
	return tx, ok
}

func (m *MemoryTransactionStore) GetByIdempotencyKey(key string) (models.Transaction, bool) {
	if key == "" {
		return models.Transaction{}, false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.idempotency[key]
	if !ok {
		return models.Transaction{}, false
	}
	tx, ok := m.transactions[id]
	return tx, ok
}

// UpdateStatus moves an existing IN_PROGRESS record to status. Unknown ids and
// records already in a terminal status are left alone and report false.
func (m *MemoryTransactionStore) UpdateStatus(id string, status models.TransactionStatus, reason string, at time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.transactions[id]
	if !ok || tx.Status.Terminal() {
		return false
	}
	tx.Status = status
	tx.FailureReason = reason
	tx.ProcessedAt = at
	m.transactions[id] = tx
	return true
}

var _ interfaces.TransactionStore = (*MemoryTransactionStore)(nil)
