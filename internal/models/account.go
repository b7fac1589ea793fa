package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account holds a balance. Only the ledger worker mutates it after creation.
type Account struct {
	ID                string          `json:"id"`
	OwnerID           string          `json:"owner_id,omitempty"`
	Balance           decimal.Decimal `json:"balance"`
	LastTransactionAt time.Time       `json:"last_transaction_at,omitzero"`
	CreatedAt         time.Time       `json:"created_at"`
}

// User owns a list of accounts
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	Accounts  []string  `json:"accounts"`
	CreatedAt time.Time `json:"created_at"`
}
