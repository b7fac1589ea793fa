package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/async-payments-ledger/internal/models"
)

type createUserRequest struct {
	Name string `json:"name" validate:"max=100"`
}

type createAccountRequest struct {
	OwnerID string `json:"owner_id" validate:"omitempty,uuid"`
}

// accountAmountRequest is the body of credit and debit submissions
type accountAmountRequest struct {
	AccountID       string          `json:"account_id"       validate:"required"`
	Amount          decimal.Decimal `json:"amount"           validate:"positive_decimal"`
	TransactionTime *time.Time      `json:"transaction_time"`
}

func (r accountAmountRequest) at() time.Time { return requestTime(r.TransactionTime) }

type transferRequest struct {
	SourceAccountID      string          `json:"source_account_id"      validate:"required"`
	DestinationAccountID string          `json:"destination_account_id" validate:"required,nefield=SourceAccountID"`
	Amount               decimal.Decimal `json:"amount"                 validate:"positive_decimal"`
	TransactionTime      *time.Time      `json:"transaction_time"`
}

func (r transferRequest) at() time.Time { return requestTime(r.TransactionTime) }

type submitResponse struct {
	TransactionID string                   `json:"transaction_id"`
	Status        models.TransactionStatus `json:"status"`
}

type balanceResponse struct {
	AccountID string          `json:"account_id"`
	Balance   decimal.Decimal `json:"balance"`
}
