package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerEntry represents a single applied leg of a transaction
type LedgerEntry struct {
	ID            string          `json:"id"`             // <transaction id>-credit or -debit
	TransactionID string          `json:"transaction_id"` // owning transaction
	AccountID     string          `json:"account_id"`     // which account this entry belongs to
	Amount        decimal.Decimal `json:"amount"`         // positive for credits, negative for debits
	CreatedAt     time.Time       `json:"created_at"`
}
