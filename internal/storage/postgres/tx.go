package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"

	interfaces "github.com/sheikh-saqib/quantum-bank-ledger/internal/interfaces"
	"github.com/sheikh-saqib/quantum-bank-ledger/internal/models"
)

// WithinTx runs fn in a READ COMMITTED transaction. Balances are protected by
// row locks taken in LockAccounts, not by the isolation level.
func (p *PostgresLedgerStore) WithinTx(ctx context.Context, fn func(tx interfaces.LedgerTx) error) error {
	sqlTx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", classify(err))
	}

	tx := &postgresTx{tx: sqlTx}
	if err := fn(tx); err != nil {
		p.rollback(sqlTx)
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", classify(err))
	}
	return nil
}

func (p *PostgresLedgerStore) rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		p.logger.Error("rollback failed", zap.Error(err))
	}
}

type postgresTx struct {
	tx     *sql.Tx
	locked map[int64]bool
}

var errAlreadyLocked = errors.New("postgres: accounts already locked in this unit of work")

// LockAccounts locks one row at a time in ascending id order so two units of
// work over the same pair can never wait on each other in a cycle.
func (t *postgresTx) LockAccounts(ctx context.Context, accountIDs ...int64) ([]models.Account, error) {
	if t.locked != nil {
		return nil, errAlreadyLocked
	}

	ordered := slices.Clone(accountIDs)
	slices.Sort(ordered)
	ordered = slices.Compact(ordered)

	const query = `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1 FOR UPDATE`

	byID := make(map[int64]models.Account, len(ordered))
	for _, id := range ordered {
		account, err := scanAccount(t.tx.QueryRowContext(ctx, query, id))
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: id %d", models.ErrAccountNotFound, id)
		}
		if err != nil {
			return nil, fmt.Errorf("lock account %d: %w", id, classify(err))
		}
		byID[id] = account
	}

	t.locked = make(map[int64]bool, len(ordered))
	result := make([]models.Account, 0, len(accountIDs))
	for _, id := range accountIDs {
		t.locked[id] = true
		result = append(result, byID[id])
	}
	return result, nil
}

func (t *postgresTx) AppendTransaction(ctx context.Context, tx models.Transaction) (models.Transaction, error) {
	if !t.locked[tx.AccountID] {
		return models.Transaction{}, fmt.Errorf("postgres: account %d is not locked in this unit of work", tx.AccountID)
	}
	if err := models.ValidatePosting(tx.Amount); err != nil {
		return models.Transaction{}, err
	}
	if tx.Status == "" {
		tx.Status = models.StatusCompleted
	}

	const insert = `INSERT INTO transactions
	(account_id, transaction_type, amount, description, recipient, status, transfer_id)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	RETURNING id, created_at`

	err := t.tx.QueryRowContext(ctx, insert,
		tx.AccountID, tx.Kind, tx.Amount, tx.Description, tx.Counterparty, tx.Status, tx.TransferID,
	).Scan(&tx.ID, &tx.CreatedAt)
	if err != nil {
		return models.Transaction{}, fmt.Errorf("insert transaction: %w", classify(err))
	}

	const update = `UPDATE accounts SET balance = balance + $1 WHERE id = $2`
	if _, err := t.tx.ExecContext(ctx, update, tx.Amount, tx.AccountID); err != nil {
		return models.Transaction{}, fmt.Errorf("update balance: %w", classify(err))
	}
	return tx, nil
}

func (t *postgresTx) FindTransfer(ctx context.Context, idempotencyKey string) (models.Transfer, bool, error) {
	const query = `SELECT ` + transferColumns + ` FROM transfers WHERE idempotency_key = $1`

	transfer, err := scanTransfer(t.tx.QueryRowContext(ctx, query, idempotencyKey))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Transfer{}, false, nil
	}
	if err != nil {
		return models.Transfer{}, false, fmt.Errorf("find transfer: %w", classify(err))
	}
	return transfer, true, nil
}

func (t *postgresTx) SaveTransfer(ctx context.Context, transfer models.Transfer) error {
	const insert = `INSERT INTO transfers
	(id, idempotency_key, from_account_id, to_account_id, amount, description,
	debit_transaction_id, credit_transaction_id, created_at)
	VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9)`

	_, err := t.tx.ExecContext(ctx, insert,
		transfer.ID, transfer.IdempotencyKey, transfer.FromAccountID, transfer.ToAccountID, transfer.Amount,
		transfer.Description, transfer.DebitTransactionID, transfer.CreditTransactionID, transfer.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transfer: %w", classify(err))
	}
	return nil
}

var _ interfaces.LedgerTx = (*postgresTx)(nil)
