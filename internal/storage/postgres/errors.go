package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/lib/pq"

	"github.com/sheikh-saqib/quantum-bank-ledger/internal/models"
)

const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
	codeAdminShutdown        = "57P01"
	codeCrashShutdown        = "57P02"
	codeCannotConnectNow     = "57P03"

	classConnectionException = "08"

	constraintIdempotencyKey = "transfers_idempotency_key_key"
	constraintAccountsUser   = "accounts_user_id_fkey"
)

// classify maps driver errors onto the ledger error taxonomy. Errors that are
// already part of the taxonomy, and context errors, pass through untouched.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
			return fmt.Errorf("%w: %s", models.ErrStorageConflict, pqErr.Message)
		case codeUniqueViolation:
			if pqErr.Constraint == constraintIdempotencyKey {
				return fmt.Errorf("%w: idempotency key already used", models.ErrStorageConflict)
			}
			return fmt.Errorf("%w: %s", models.ErrDuplicate, pqErr.Detail)
		case codeForeignKeyViolation:
			if pqErr.Constraint == constraintAccountsUser {
				return fmt.Errorf("%w: %s", models.ErrUserNotFound, pqErr.Detail)
			}
			return fmt.Errorf("%w: %s", models.ErrAccountNotFound, pqErr.Detail)
		case codeAdminShutdown, codeCrashShutdown, codeCannotConnectNow:
			return fmt.Errorf("%w: %s", models.ErrStorageUnavailable, pqErr.Message)
		}
		if pqErr.Code.Class() == classConnectionException {
			return fmt.Errorf("%w: %s", models.ErrStorageUnavailable, pqErr.Message)
		}
		return err
	}

	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}
	return err
}
