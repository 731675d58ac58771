package events

import (
	"time"

	"github.com/shopspring/decimal"
)

const TransferCompletedTopic = "transfer_completed"

// TransferCompleted is published once a transfer has committed.
type TransferCompleted struct {
	TransferID          string          `json:"transfer_id"`
	FromAccountID       int64           `json:"from_account_id"`
	ToAccountID         int64           `json:"to_account_id"`
	Amount              decimal.Decimal `json:"amount"`
	Description         string          `json:"description"`
	DebitTransactionID  int64           `json:"debit_transaction_id"`
	CreditTransactionID int64           `json:"credit_transaction_id"`
	OccurredAt          time.Time       `json:"occurred_at"`
}
