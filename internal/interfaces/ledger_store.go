package interfaces

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/async-payments-ledger/internal/models"
)

// LedgerStore is the append-only journal of applied transaction legs
type LedgerStore interface {
	SaveEntry(ctx context.Context, entry models.LedgerEntry) error
	GetEntriesByAccount(accountId string) ([]models.LedgerEntry, error)
	GetLedgerEntries() ([]models.LedgerEntry, error)
}

// AccountStore holds accounts and their balances. Credit and Debit leave the
// account untouched when they return an error.
type AccountStore interface {
	CreateAccount(ctx context.Context, account models.Account) (models.Account, error)
	GetAccount(accountId string) (models.Account, bool)
	AccountExists(accountId string) bool
	Credit(accountId string, amount decimal.Decimal, at time.Time) error
	Debit(accountId string, amount decimal.Decimal, at time.Time) error
	CanDebit(accountId string, amount decimal.Decimal) error
	GetBalance(accountId string) decimal.Decimal
}

// UserStore registers users and the accounts they own
type UserStore interface {
	CreateUser(ctx context.Context, user models.User) (models.User, error)
	GetUser(userId string) (models.User, bool)
	AttachAccount(userId, accountId string) error
}

// TransactionStore keeps every submitted transaction for the process lifetime
type TransactionStore interface {
	Put(tx models.Transaction)
	Get(id string) (models.Transaction, bool)
	GetByIdempotencyKey(key string) (models.Transaction, bool)
	UpdateStatus(id string, status models.TransactionStatus, reason string, at time.Time) bool
}
