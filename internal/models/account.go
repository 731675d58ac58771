package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type AccountKind string

const (
	AccountChecking AccountKind = "checking"
	AccountSavings  AccountKind = "savings"
	AccountCredit   AccountKind = "credit"
)

type AccountStatus string

const AccountStatusActive AccountStatus = "active"

const DefaultCurrency = "USD"

// Account is a monetary container. Balance is denormalised: it always equals
// the sum of the amounts of every transaction posted against the account.
type Account struct {
	ID            int64           `json:"id"`
	UserID        int64           `json:"user_id"`
	Kind          AccountKind     `json:"account_type"`
	AccountNumber string          `json:"account_number"`
	Balance       decimal.Decimal `json:"balance"`
	Currency      string          `json:"currency"`
	Status        AccountStatus   `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Card is an ancillary record attached to an account.
type Card struct {
	ID           int64     `json:"id"`
	AccountID    int64     `json:"account_id"`
	Kind         string    `json:"card_type"`
	MaskedNumber string    `json:"card_number"`
	ExpiryDate   string    `json:"expiry_date"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

// Reconciliation compares an account's stored balance with the sum of its
// postings, read from one consistent snapshot.
type Reconciliation struct {
	AccountID int64           `json:"account_id"`
	Balance   decimal.Decimal `json:"balance"`
	LedgerSum decimal.Decimal `json:"ledger_sum"`
	Postings  int             `json:"postings"`
}

func (r Reconciliation) Balanced() bool {
	return r.Balance.Equal(r.LedgerSum)
}
