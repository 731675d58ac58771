package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	_ "github.com/lib/pq" // registers the "postgres" driver
	"go.uber.org/zap"

	interfaces "github.com/sheikh-saqib/quantum-bank-ledger/internal/interfaces"
	"github.com/sheikh-saqib/quantum-bank-ledger/internal/models"
)

const (
	accountColumns     = `id, user_id, account_type, account_number, balance, currency, status, created_at`
	transactionColumns = `id, account_id, transaction_type, amount, description, recipient, status, transfer_id, created_at`
	transferColumns    = `id, COALESCE(idempotency_key, ''), from_account_id, to_account_id, amount, description,
	debit_transaction_id, credit_transaction_id, created_at`
)

type PostgresLedgerStore struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresLedgerStore(db *sql.DB, logger *zap.Logger) *PostgresLedgerStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresLedgerStore{
		db:     db,
		logger: logger,
	}
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", classify(err))
	}
	return db, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (models.Account, error) {
	var a models.Account
	err := row.Scan(&a.ID, &a.UserID, &a.Kind, &a.AccountNumber, &a.Balance, &a.Currency, &a.Status, &a.CreatedAt)
	return a, err
}

func scanTransaction(row rowScanner, extra ...any) (models.Transaction, error) {
	var t models.Transaction
	dest := append([]any{&t.ID, &t.AccountID, &t.Kind, &t.Amount, &t.Description, &t.Counterparty, &t.Status, &t.TransferID, &t.CreatedAt}, extra...)
	err := row.Scan(dest...)
	return t, err
}

func scanTransfer(row rowScanner) (models.Transfer, error) {
	var t models.Transfer
	err := row.Scan(&t.ID, &t.IdempotencyKey, &t.FromAccountID, &t.ToAccountID, &t.Amount, &t.Description,
		&t.DebitTransactionID, &t.CreditTransactionID, &t.CreatedAt)
	return t, err
}

func (p *PostgresLedgerStore) GetAccount(ctx context.Context, accountID int64) (models.Account, error) {
	const query = `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`

	account, err := scanAccount(p.db.QueryRowContext(ctx, query, accountID))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Account{}, fmt.Errorf("%w: id %d", models.ErrAccountNotFound, accountID)
	}
	if err != nil {
		return models.Account{}, fmt.Errorf("get account: %w", classify(err))
	}
	return account, nil
}

func (p *PostgresLedgerStore) ListAccounts(ctx context.Context, userID int64) ([]models.Account, error) {
	const query = `SELECT ` + accountColumns + ` FROM accounts WHERE user_id = $1 ORDER BY id`

	rows, err := p.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", classify(err))
	}
	defer p.closeRows(rows)

	accounts := make([]models.Account, 0)
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list accounts: %w", classify(err))
	}
	return accounts, nil
}

// ListTransactions orders by id: ids come from a sequence and are handed out
// in creation order, unlike created_at which two legs may share.
func (p *PostgresLedgerStore) ListTransactions(ctx context.Context, accountID int64, limit int) ([]models.Transaction, error) {
	if err := models.ValidateLimit(limit); err != nil {
		return nil, err
	}

	const query = `SELECT ` + transactionColumns + ` FROM transactions
	WHERE account_id = $1
	ORDER BY id DESC
	LIMIT $2`

	rows, err := p.db.QueryContext(ctx, query, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", classify(err))
	}
	defer p.closeRows(rows)

	txs := make([]models.Transaction, 0)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list transactions: %w", classify(err))
	}

	if len(txs) == 0 {
		if _, err := p.GetAccount(ctx, accountID); err != nil {
			return nil, err
		}
	}
	return txs, nil
}

func (p *PostgresLedgerStore) ListTransactionsForUser(ctx context.Context, userID int64, limit int) ([]models.AccountTransaction, error) {
	if err := models.ValidateLimit(limit); err != nil {
		return nil, err
	}

	const query = `SELECT t.id, t.account_id, t.transaction_type, t.amount, t.description, t.recipient,
	t.status, t.transfer_id, t.created_at, a.account_type, a.account_number
	FROM transactions t
	JOIN accounts a ON t.account_id = a.id
	WHERE a.user_id = $1
	ORDER BY t.id DESC
	LIMIT $2`

	rows, err := p.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list user transactions: %w", classify(err))
	}
	defer p.closeRows(rows)

	txs := make([]models.AccountTransaction, 0)
	for rows.Next() {
		var at models.AccountTransaction
		at.Transaction, err = scanTransaction(rows, &at.AccountKind, &at.AccountNumber)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txs = append(txs, at)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list user transactions: %w", classify(err))
	}
	return txs, nil
}

func (p *PostgresLedgerStore) ListCards(ctx context.Context, accountID int64) ([]models.Card, error) {
	if _, err := p.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}

	const query = `SELECT id, account_id, card_type, card_number, expiry_date, status, created_at
	FROM cards WHERE account_id = $1 ORDER BY id`

	rows, err := p.db.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", classify(err))
	}
	defer p.closeRows(rows)

	cards := make([]models.Card, 0)
	for rows.Next() {
		var c models.Card
		if err := rows.Scan(&c.ID, &c.AccountID, &c.Kind, &c.MaskedNumber, &c.ExpiryDate, &c.Status, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan card: %w", err)
		}
		cards = append(cards, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list cards: %w", classify(err))
	}
	return cards, nil
}

func (p *PostgresLedgerStore) GetUserByUsername(ctx context.Context, username string) (models.User, error) {
	const query = `SELECT id, username, email, full_name, created_at FROM users WHERE username = $1`

	var u models.User
	err := p.db.QueryRowContext(ctx, query, username).Scan(&u.ID, &u.Username, &u.Email, &u.FullName, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, fmt.Errorf("%w: username %q", models.ErrUserNotFound, username)
	}
	if err != nil {
		return models.User{}, fmt.Errorf("get user: %w", classify(err))
	}
	return u, nil
}

func (p *PostgresLedgerStore) GetTransfer(ctx context.Context, transferID uuid.UUID) (models.Transfer, error) {
	const query = `SELECT ` + transferColumns + ` FROM transfers WHERE id = $1`

	transfer, err := scanTransfer(p.db.QueryRowContext(ctx, query, transferID))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Transfer{}, fmt.Errorf("%w: id %s", models.ErrTransferNotFound, transferID)
	}
	if err != nil {
		return models.Transfer{}, fmt.Errorf("get transfer: %w", classify(err))
	}
	return transfer, nil
}

// ReconcileAccount reads the balance and the postings sum from one snapshot.
// Nothing is written, so the transaction is always rolled back.
func (p *PostgresLedgerStore) ReconcileAccount(ctx context.Context, accountID int64) (models.Reconciliation, error) {
	const query = `SELECT a.balance, COALESCE(SUM(t.amount), 0), COUNT(t.id)
	FROM accounts a
	LEFT JOIN transactions t ON t.account_id = a.id
	WHERE a.id = $1
	GROUP BY a.id, a.balance`

	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return models.Reconciliation{}, fmt.Errorf("begin reconcile: %w", classify(err))
	}
	defer p.rollback(tx)

	rec := models.Reconciliation{AccountID: accountID}
	err = tx.QueryRowContext(ctx, query, accountID).Scan(&rec.Balance, &rec.LedgerSum, &rec.Postings)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Reconciliation{}, fmt.Errorf("%w: id %d", models.ErrAccountNotFound, accountID)
	}
	if err != nil {
		return models.Reconciliation{}, fmt.Errorf("reconcile account: %w", classify(err))
	}
	return rec, nil
}

func (p *PostgresLedgerStore) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	user.Username = strings.TrimSpace(user.Username)
	user.Email = strings.TrimSpace(user.Email)
	if user.Username == "" || user.Email == "" {
		return models.User{}, fmt.Errorf("%w: username and email are required", models.ErrInvalidArgument)
	}

	const query = `INSERT INTO users (username, email, full_name) VALUES ($1, $2, $3)
	RETURNING id, created_at`

	err := p.db.QueryRowContext(ctx, query, user.Username, user.Email, user.FullName).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		return models.User{}, fmt.Errorf("create user: %w", classify(err))
	}
	return user, nil
}

func (p *PostgresLedgerStore) CreateAccount(ctx context.Context, account models.Account) (models.Account, error) {
	account.AccountNumber = strings.TrimSpace(account.AccountNumber)
	if account.AccountNumber == "" || account.Kind == "" {
		return models.Account{}, fmt.Errorf("%w: account number and kind are required", models.ErrInvalidArgument)
	}
	if account.Currency == "" {
		account.Currency = models.DefaultCurrency
	}
	if account.Status == "" {
		account.Status = models.AccountStatusActive
	}

	const query = `INSERT INTO accounts (user_id, account_type, account_number, currency, status)
	VALUES ($1, $2, $3, $4, $5)
	RETURNING ` + accountColumns

	created, err := scanAccount(p.db.QueryRowContext(ctx, query,
		account.UserID, account.Kind, account.AccountNumber, account.Currency, account.Status))
	if err != nil {
		return models.Account{}, fmt.Errorf("create account: %w", classify(err))
	}
	return created, nil
}

func (p *PostgresLedgerStore) CreateCard(ctx context.Context, card models.Card) (models.Card, error) {
	if card.Status == "" {
		card.Status = string(models.AccountStatusActive)
	}

	const query = `INSERT INTO cards (account_id, card_type, card_number, expiry_date, status)
	VALUES ($1, $2, $3, $4, $5)
	RETURNING id, created_at`

	err := p.db.QueryRowContext(ctx, query, card.AccountID, card.Kind, card.MaskedNumber, card.ExpiryDate, card.Status).
		Scan(&card.ID, &card.CreatedAt)
	if err != nil {
		return models.Card{}, fmt.Errorf("create card: %w", classify(err))
	}
	return card, nil
}

func (p *PostgresLedgerStore) PostTransaction(ctx context.Context, tx models.Transaction) (models.Transaction, error) {
	if err := models.ValidatePosting(tx.Amount); err != nil {
		return models.Transaction{}, err
	}

	var posted models.Transaction
	err := p.WithinTx(ctx, func(ltx interfaces.LedgerTx) error {
		if _, err := ltx.LockAccounts(ctx, tx.AccountID); err != nil {
			return err
		}
		var err error
		posted, err = ltx.AppendTransaction(ctx, tx)
		return err
	})
	if err != nil {
		return models.Transaction{}, err
	}
	return posted, nil
}

func (p *PostgresLedgerStore) closeRows(rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		p.logger.Error("error closing rows", zap.Error(err))
	}
}

var _ interfaces.LedgerStore = (*PostgresLedgerStore)(nil)
