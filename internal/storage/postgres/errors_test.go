package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"github.com/sheikh-saqib/quantum-bank-ledger/internal/models"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "serialization failure", err: &pq.Error{Code: codeSerializationFailure}, want: models.ErrStorageConflict},
		{name: "deadlock", err: &pq.Error{Code: codeDeadlockDetected}, want: models.ErrStorageConflict},
		{name: "lock not available", err: &pq.Error{Code: codeLockNotAvailable}, want: models.ErrStorageConflict},
		{name: "idempotency key", err: &pq.Error{Code: codeUniqueViolation, Constraint: constraintIdempotencyKey}, want: models.ErrStorageConflict},
		{name: "account number taken", err: &pq.Error{Code: codeUniqueViolation, Constraint: "accounts_account_number_key"}, want: models.ErrDuplicate},
		{name: "unknown owner", err: &pq.Error{Code: codeForeignKeyViolation, Constraint: constraintAccountsUser}, want: models.ErrUserNotFound},
		{name: "unknown account", err: &pq.Error{Code: codeForeignKeyViolation, Constraint: "transactions_account_id_fkey"}, want: models.ErrAccountNotFound},
		{name: "connection failure", err: &pq.Error{Code: "08006"}, want: models.ErrStorageUnavailable},
		{name: "admin shutdown", err: &pq.Error{Code: codeAdminShutdown}, want: models.ErrStorageUnavailable},
		{name: "bad conn", err: fmt.Errorf("exec: %w", driver.ErrBadConn), want: models.ErrStorageUnavailable},
		{name: "conn done", err: sql.ErrConnDone, want: models.ErrStorageUnavailable},
		{name: "network", err: &net.OpError{Op: "dial", Err: errors.New("connection refused")}, want: models.ErrStorageUnavailable},
		{name: "context", err: context.Canceled, want: context.Canceled},
		{name: "domain passthrough", err: models.ErrInsufficientFunds, want: models.ErrInsufficientFunds},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, classify(tt.err), tt.want)
		})
	}
}

func TestClassifyLeavesUnknownErrors(t *testing.T) {
	assert.NoError(t, classify(nil))

	syntax := &pq.Error{Code: "42601", Message: "syntax error"}
	got := classify(syntax)
	assert.Same(t, syntax, got)
}
