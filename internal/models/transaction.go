package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TransactionKind string

const (
	KindDeposit    TransactionKind = "deposit"
	KindWithdrawal TransactionKind = "withdrawal"
	KindTransfer   TransactionKind = "transfer"
	KindCharge     TransactionKind = "charge"
	KindPayment    TransactionKind = "payment"
	KindInterest   TransactionKind = "interest"
)

const StatusCompleted = "completed"

// Page sizes for transaction listings.
const (
	DefaultAccountTransactionLimit = 10
	DefaultUserTransactionLimit    = 20
	MaxTransactionLimit            = 100
)

// Transaction is a single append-only balance movement against one account.
// Positive amounts credit the account, negative amounts debit it.
type Transaction struct {
	ID           int64           `json:"id"`
	AccountID    int64           `json:"account_id"`
	Kind         TransactionKind `json:"transaction_type"`
	Amount       decimal.Decimal `json:"amount"`
	Description  string          `json:"description"`
	Counterparty string          `json:"recipient"`
	Status       string          `json:"status"`
	TransferID   uuid.NullUUID   `json:"transfer_id"` // set on both legs of a transfer
	CreatedAt    time.Time       `json:"created_at"`
}

// AccountTransaction is a transaction joined with its owning account.
type AccountTransaction struct {
	Transaction
	AccountKind   AccountKind `json:"account_type"`
	AccountNumber string      `json:"account_number"`
}
