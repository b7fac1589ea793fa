package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType tells the worker which legs to apply
type TransactionType string

const (
	TransactionCredit         TransactionType = "CREDIT"
	TransactionDebit          TransactionType = "DEBIT"
	TransactionDebitAndCredit TransactionType = "DEBIT_AND_CREDIT"
)

// TransactionStatus is the lifecycle state of a submitted transaction.
// IN_PROGRESS moves to exactly one of COMPLETED or FAILED and never back.
type TransactionStatus string

const (
	StatusInProgress TransactionStatus = "IN_PROGRESS"
	StatusCompleted  TransactionStatus = "COMPLETED"
	StatusFailed     TransactionStatus = "FAILED"
)

// Terminal reports whether the status can no longer change
func (s TransactionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Transaction represents an intent to move money
type Transaction struct {
	ID             string            `json:"id"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	Type           TransactionType   `json:"type"`
	FromAccount    string            `json:"from_account,omitempty"` // debited account, DEBIT and transfer
	ToAccount      string            `json:"to_account,omitempty"`   // credited account, CREDIT and transfer
	Amount         decimal.Decimal   `json:"amount"`
	Status         TransactionStatus `json:"status"`
	FailureReason  string            `json:"failure_reason,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	ProcessedAt    time.Time         `json:"processed_at,omitzero"`
}
