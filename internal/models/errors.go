package models

import "errors"

// Ledger error taxonomy. Callers match with errors.Is; storage engines wrap
// driver errors into these so nothing above the store depends on a driver.
var (
	ErrAccountNotFound      = errors.New("account not found")
	ErrUserNotFound         = errors.New("user not found")
	ErrTransferNotFound     = errors.New("transfer not found")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrSameAccountTransfer  = errors.New("cannot transfer to the same account")
	ErrDuplicate            = errors.New("record already exists")
	ErrIdempotencyKeyReused = errors.New("idempotency key reused with different parameters")
	ErrLedgerInconsistent   = errors.New("account balance does not match ledger")

	// ErrStorageConflict is transient: the whole unit of work may be retried.
	ErrStorageConflict = errors.New("storage conflict")
	// ErrStorageUnavailable is fatal for the call.
	ErrStorageUnavailable = errors.New("storage unavailable")
)
