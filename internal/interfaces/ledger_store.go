package interfaces

import (
	"context"

	"github.com/google/uuid"
	"github.com/sheikh-saqib/quantum-bank-ledger/internal/models"
)

// LedgerStore is the durable record of users, accounts, transactions, cards
// and transfers. Every mutation runs inside a single unit of work.
type LedgerStore interface {
	GetAccount(ctx context.Context, accountID int64) (models.Account, error)
	ListAccounts(ctx context.Context, userID int64) ([]models.Account, error)
	ListTransactions(ctx context.Context, accountID int64, limit int) ([]models.Transaction, error)
	ListTransactionsForUser(ctx context.Context, userID int64, limit int) ([]models.AccountTransaction, error)
	ListCards(ctx context.Context, accountID int64) ([]models.Card, error)
	GetUserByUsername(ctx context.Context, username string) (models.User, error)
	GetTransfer(ctx context.Context, transferID uuid.UUID) (models.Transfer, error)
	ReconcileAccount(ctx context.Context, accountID int64) (models.Reconciliation, error)

	CreateUser(ctx context.Context, user models.User) (models.User, error)
	CreateAccount(ctx context.Context, account models.Account) (models.Account, error)
	CreateCard(ctx context.Context, card models.Card) (models.Card, error)

	// PostTransaction appends tx and adjusts the account balance by tx.Amount
	// atomically.
	PostTransaction(ctx context.Context, tx models.Transaction) (models.Transaction, error)

	// WithinTx runs fn in one atomic unit of work. If fn returns an error
	// nothing it staged becomes visible.
	WithinTx(ctx context.Context, fn func(tx LedgerTx) error) error
}

// LedgerTx is the view of the store inside WithinTx. It must not be retained
// after fn returns.
type LedgerTx interface {
	// LockAccounts takes exclusive locks in ascending id order and returns
	// the accounts in the order requested. Call it once, up front.
	LockAccounts(ctx context.Context, accountIDs ...int64) ([]models.Account, error)
	// AppendTransaction appends to a locked account and adjusts its balance.
	AppendTransaction(ctx context.Context, tx models.Transaction) (models.Transaction, error)
	FindTransfer(ctx context.Context, idempotencyKey string) (models.Transfer, bool, error)
	SaveTransfer(ctx context.Context, transfer models.Transfer) error
}
