package memory

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	interfaces "github.com/sheikh-saqib/quantum-bank-ledger/internal/interfaces"
	"github.com/sheikh-saqib/quantum-bank-ledger/internal/models"
)

// MemoryLedgerStore is an in-memory implementation of interfaces.LedgerStore.
//
// Two kinds of locks are used:
//   - mu guards the maps and slices. Readers take it shared, a commit takes it
//     exclusively, so a reader sees either none or all of a unit of work.
//   - accountLocks holds one mutex per account. A unit of work keeps the
//     mutexes of the accounts it touches until it commits or aborts, which
//     serialises the read-check-update of a balance.
type MemoryLedgerStore struct {
	mu           sync.RWMutex
	users        map[int64]models.User
	accounts     map[int64]models.Account
	transactions []models.Transaction
	cards        []models.Card
	transfers    map[uuid.UUID]models.Transfer
	transferKeys map[string]uuid.UUID

	lastUserID        int64
	lastAccountID     int64
	lastCardID        int64
	lastTransactionID atomic.Int64

	lockMu       sync.Mutex             // protects accountLocks itself
	accountLocks map[int64]*sync.Mutex // one mutex per account id
}

// NewMemoryLedgerStore creates an empty store.
func NewMemoryLedgerStore() *MemoryLedgerStore {
	return &MemoryLedgerStore{
		users:        make(map[int64]models.User),
		accounts:     make(map[int64]models.Account),
		transactions: make([]models.Transaction, 0),
		transfers:    make(map[uuid.UUID]models.Transfer),
		transferKeys: make(map[string]uuid.UUID),
		accountLocks: make(map[int64]*sync.Mutex),
	}
}

func (m *MemoryLedgerStore) accountLock(accountID int64) *sync.Mutex {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()

	if _, exists := m.accountLocks[accountID]; !exists {
		m.accountLocks[accountID] = &sync.Mutex{}
	}
	return m.accountLocks[accountID]
}

func (m *MemoryLedgerStore) GetAccount(ctx context.Context, accountID int64) (models.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	account, ok := m.accounts[accountID]
	if !ok {
		return models.Account{}, fmt.Errorf("%w: id %d", models.ErrAccountNotFound, accountID)
	}
	return account, nil
}

// ListAccounts returns the user's accounts in creation order.
func (m *MemoryLedgerStore) ListAccounts(ctx context.Context, userID int64) ([]models.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]models.Account, 0)
	for _, account := range m.accounts {
		if account.UserID == userID {
			result = append(result, account)
		}
	}
	slices.SortFunc(result, func(a, b models.Account) int { return cmp.Compare(a.ID, b.ID) })
	return result, nil
}

// ListTransactions returns at most limit transactions of the account, most
// recent first.
func (m *MemoryLedgerStore) ListTransactions(ctx context.Context, accountID int64, limit int) ([]models.Transaction, error) {
	if err := models.ValidateLimit(limit); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.accounts[accountID]; !ok {
		return nil, fmt.Errorf("%w: id %d", models.ErrAccountNotFound, accountID)
	}

	result := make([]models.Transaction, 0)
	for _, tx := range m.transactions {
		if tx.AccountID == accountID {
			result = append(result, tx)
		}
	}
	return newestFirst(result, limit, func(t models.Transaction) int64 { return t.ID }), nil
}

func (m *MemoryLedgerStore) ListTransactionsForUser(ctx context.Context, userID int64, limit int) ([]models.AccountTransaction, error) {
	if err := models.ValidateLimit(limit); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]models.AccountTransaction, 0)
	for _, tx := range m.transactions {
		account := m.accounts[tx.AccountID]
		if account.UserID != userID {
			continue
		}
		result = append(result, models.AccountTransaction{
			Transaction:   tx,
			AccountKind:   account.Kind,
			AccountNumber: account.AccountNumber,
		})
	}
	return newestFirst(result, limit, func(t models.AccountTransaction) int64 { return t.ID }), nil
}

// newestFirst sorts by descending id and truncates to limit. Ids are handed
// out in creation order, so this is creation order reversed.
func newestFirst[T any](items []T, limit int, id func(T) int64) []T {
	slices.SortFunc(items, func(a, b T) int { return cmp.Compare(id(b), id(a)) })
	if len(items) > limit {
		items = items[:limit]
	}
	return items
}

func (m *MemoryLedgerStore) ListCards(ctx context.Context, accountID int64) ([]models.Card, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.accounts[accountID]; !ok {
		return nil, fmt.Errorf("%w: id %d", models.ErrAccountNotFound, accountID)
	}

	result := make([]models.Card, 0)
	for _, card := range m.cards {
		if card.AccountID == accountID {
			result = append(result, card)
		}
	}
	return result, nil
}

func (m *MemoryLedgerStore) GetUserByUsername(ctx context.Context, username string) (models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, user := range m.users {
		if user.Username == username {
			return user, nil
		}
	}
	return models.User{}, fmt.Errorf("%w: username %q", models.ErrUserNotFound, username)
}

func (m *MemoryLedgerStore) GetTransfer(ctx context.Context, transferID uuid.UUID) (models.Transfer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	transfer, ok := m.transfers[transferID]
	if !ok {
		return models.Transfer{}, fmt.Errorf("%w: id %s", models.ErrTransferNotFound, transferID)
	}
	return transfer, nil
}

// ReconcileAccount sums the account's postings under the same read lock that
// reads its balance.
func (m *MemoryLedgerStore) ReconcileAccount(ctx context.Context, accountID int64) (models.Reconciliation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	account, ok := m.accounts[accountID]
	if !ok {
		return models.Reconciliation{}, fmt.Errorf("%w: id %d", models.ErrAccountNotFound, accountID)
	}

	rec := models.Reconciliation{AccountID: accountID, Balance: account.Balance, LedgerSum: decimal.Zero}
	for _, tx := range m.transactions {
		if tx.AccountID == accountID {
			rec.LedgerSum = rec.LedgerSum.Add(tx.Amount)
			rec.Postings++
		}
	}
	return rec, nil
}

func (m *MemoryLedgerStore) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	user.Username = strings.TrimSpace(user.Username)
	user.Email = strings.TrimSpace(user.Email)
	if user.Username == "" || user.Email == "" {
		return models.User{}, fmt.Errorf("%w: username and email are required", models.ErrInvalidArgument)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.users {
		if existing.Username == user.Username || existing.Email == user.Email {
			return models.User{}, fmt.Errorf("%w: user %q", models.ErrDuplicate, user.Username)
		}
	}

	m.lastUserID++
	user.ID = m.lastUserID
	user.CreatedAt = time.Now().UTC()
	m.users[user.ID] = user
	return user, nil
}

// CreateAccount opens an account with a zero balance. Opening funds are
// posted as a transaction so the balance always reconciles.
func (m *MemoryLedgerStore) CreateAccount(ctx context.Context, account models.Account) (models.Account, error) {
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

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[account.UserID]; !ok {
		return models.Account{}, fmt.Errorf("%w: id %d", models.ErrUserNotFound, account.UserID)
	}
	for _, existing := range m.accounts {
		if existing.AccountNumber == account.AccountNumber {
			return models.Account{}, fmt.Errorf("%w: account number %q", models.ErrDuplicate, account.AccountNumber)
		}
	}

	m.lastAccountID++
	account.ID = m.lastAccountID
	account.Balance = decimal.Zero
	account.CreatedAt = time.Now().UTC()
	m.accounts[account.ID] = account
	return account, nil
}

func (m *MemoryLedgerStore) CreateCard(ctx context.Context, card models.Card) (models.Card, error) {
	if card.Status == "" {
		card.Status = string(models.AccountStatusActive)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[card.AccountID]; !ok {
		return models.Card{}, fmt.Errorf("%w: id %d", models.ErrAccountNotFound, card.AccountID)
	}

	m.lastCardID++
	card.ID = m.lastCardID
	card.CreatedAt = time.Now().UTC()
	m.cards = append(m.cards, card)
	return card, nil
}

func (m *MemoryLedgerStore) PostTransaction(ctx context.Context, tx models.Transaction) (models.Transaction, error) {
	if err := models.ValidatePosting(tx.Amount); err != nil {
		return models.Transaction{}, err
	}

	var posted models.Transaction
	err := m.WithinTx(ctx, func(ltx interfaces.LedgerTx) error {
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

func (m *MemoryLedgerStore) WithinTx(ctx context.Context, fn func(tx interfaces.LedgerTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memoryTx{store: m, balances: make(map[int64]decimal.Decimal)}
	defer tx.release()

	if err := fn(tx); err != nil {
		return err
	}
	return m.commit(tx)
}

// commit publishes everything a unit of work staged in one critical section.
func (m *MemoryLedgerStore) commit(tx *memoryTx) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, transfer := range tx.transfers {
		if transfer.IdempotencyKey == "" {
			continue
		}
		if _, exists := m.transferKeys[transfer.IdempotencyKey]; exists {
			return fmt.Errorf("%w: idempotency key %q already used", models.ErrStorageConflict, transfer.IdempotencyKey)
		}
	}

	for id, balance := range tx.balances {
		account := m.accounts[id]
		account.Balance = balance
		m.accounts[id] = account
	}
	m.transactions = append(m.transactions, tx.pending...)
	for _, transfer := range tx.transfers {
		m.transfers[transfer.ID] = transfer
		if transfer.IdempotencyKey != "" {
			m.transferKeys[transfer.IdempotencyKey] = transfer.ID
		}
	}
	return nil
}

// memoryTx stages writes until commit. balances holds the working balance of
// every account locked by this unit of work.
type memoryTx struct {
	store     *MemoryLedgerStore
	held      []*sync.Mutex
	balances  map[int64]decimal.Decimal
	pending   []models.Transaction
	transfers []models.Transfer
}

var errAlreadyLocked = errors.New("memory: accounts already locked in this unit of work")

func (tx *memoryTx) LockAccounts(ctx context.Context, accountIDs ...int64) ([]models.Account, error) {
	if len(tx.held) > 0 {
		return nil, errAlreadyLocked
	}

	ordered := slices.Clone(accountIDs)
	slices.Sort(ordered)
	ordered = slices.Compact(ordered)

	// Accounts are never deleted, so an id that exists now still exists once
	// its lock is held.
	tx.store.mu.RLock()
	for _, id := range ordered {
		if _, ok := tx.store.accounts[id]; !ok {
			tx.store.mu.RUnlock()
			return nil, fmt.Errorf("%w: id %d", models.ErrAccountNotFound, id)
		}
	}
	tx.store.mu.RUnlock()

	// Lock in ascending id order to avoid deadlocks
	for _, id := range ordered {
		mu := tx.store.accountLock(id)
		mu.Lock()
		tx.held = append(tx.held, mu)
	}

	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()

	result := make([]models.Account, 0, len(accountIDs))
	for _, id := range accountIDs {
		account := tx.store.accounts[id]
		tx.balances[id] = account.Balance
		result = append(result, account)
	}
	return result, nil
}

func (tx *memoryTx) AppendTransaction(ctx context.Context, t models.Transaction) (models.Transaction, error) {
	balance, ok := tx.balances[t.AccountID]
	if !ok {
		return models.Transaction{}, fmt.Errorf("memory: account %d is not locked in this unit of work", t.AccountID)
	}
	if err := models.ValidatePosting(t.Amount); err != nil {
		return models.Transaction{}, err
	}
	if t.Status == "" {
		t.Status = models.StatusCompleted
	}

	t.ID = tx.store.lastTransactionID.Add(1)
	t.CreatedAt = time.Now().UTC()
	tx.balances[t.AccountID] = balance.Add(t.Amount)
	tx.pending = append(tx.pending, t)
	return t, nil
}

func (tx *memoryTx) FindTransfer(ctx context.Context, idempotencyKey string) (models.Transfer, bool, error) {
	for _, staged := range tx.transfers {
		if staged.IdempotencyKey == idempotencyKey {
			return staged, true, nil
		}
	}

	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()

	id, ok := tx.store.transferKeys[idempotencyKey]
	if !ok {
		return models.Transfer{}, false, nil
	}
	return tx.store.transfers[id], true, nil
}

func (tx *memoryTx) SaveTransfer(ctx context.Context, transfer models.Transfer) error {
	if transfer.IdempotencyKey != "" {
		if _, found, _ := tx.FindTransfer(ctx, transfer.IdempotencyKey); found {
			return fmt.Errorf("%w: idempotency key %q already used", models.ErrStorageConflict, transfer.IdempotencyKey)
		}
	}
	tx.transfers = append(tx.transfers, transfer)
	return nil
}

func (tx *memoryTx) release() {
	for i := len(tx.held) - 1; i >= 0; i-- {
		tx.held[i].Unlock()
	}
	tx.held = nil
}

// Compile-time check: ensure MemoryLedgerStore implements LedgerStore interface
var _ interfaces.LedgerStore = (*MemoryLedgerStore)(nil)
