package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const DefaultTransferDescription = "Transfer"

// TransferRequest represents an intent to move money between two accounts.
type TransferRequest struct {
	FromAccountID  int64
	ToAccountID    int64
	Amount         decimal.Decimal
	Description    string
	IdempotencyKey string
}

// Validate runs every check that needs no storage access. A self-transfer is
// reported before the amount is looked at.
func (r TransferRequest) Validate() error {
	if r.FromAccountID <= 0 || r.ToAccountID <= 0 {
		return fmt.Errorf("%w: account ids must be positive", ErrInvalidArgument)
	}
	if r.FromAccountID == r.ToAccountID {
		return ErrSameAccountTransfer
	}
	return ValidateTransferAmount(r.Amount)
}

// Normalized trims free text and applies the default description.
func (r TransferRequest) Normalized() TransferRequest {
	r.Description = strings.TrimSpace(r.Description)
	if r.Description == "" {
		r.Description = DefaultTransferDescription
	}
	r.IdempotencyKey = strings.TrimSpace(r.IdempotencyKey)
	return r
}

// Transfer is the stored record grouping the two legs of a completed transfer.
type Transfer struct {
	ID                  uuid.UUID       `json:"id"`
	IdempotencyKey      string          `json:"idempotency_key,omitempty"`
	FromAccountID       int64           `json:"from_account_id"`
	ToAccountID         int64           `json:"to_account_id"`
	Amount              decimal.Decimal `json:"amount"`
	Description         string          `json:"description"`
	DebitTransactionID  int64           `json:"debit_transaction_id"`
	CreditTransactionID int64           `json:"credit_transaction_id"`
	CreatedAt           time.Time       `json:"created_at"`
}

// Matches reports whether a replayed request asks for the same movement with
// the same description. r must already be normalized.
func (t Transfer) Matches(r TransferRequest) bool {
	return t.FromAccountID == r.FromAccountID &&
		t.ToAccountID == r.ToAccountID &&
		t.Amount.Equal(r.Amount) &&
		t.Description == r.Description
}

type TransferResult struct {
	Transfer
	Replayed bool `json:"replayed"`
}
