package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	interfaces "github.com/sheikh-saqib/quantum-bank-ledger/internal/interfaces"
	"github.com/sheikh-saqib/quantum-bank-ledger/internal/models"
	"github.com/sheikh-saqib/quantum-bank-ledger/internal/models/events"
)

const (
	defaultMaxAttempts = 3
	defaultRetryBase   = 10 * time.Millisecond
)

// Ledger is the transfer engine. It holds a reference to the storage layer,
// which is the only place balances are locked and written.
type Ledger struct {
	store       interfaces.LedgerStore    // any storage implementation
	publisher   interfaces.EventPublisher // optional; nil disables events
	logger      *zap.Logger
	tracer      trace.Tracer
	maxAttempts int
	retryBase   time.Duration
}

type Option func(*Ledger)

func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithPublisher enables TransferCompleted events after each committed transfer.
func WithPublisher(publisher interfaces.EventPublisher) Option {
	return func(l *Ledger) { l.publisher = publisher }
}

// WithRetry bounds how often a unit of work is re-run after a storage
// conflict. maxAttempts counts the first try.
func WithRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(l *Ledger) {
		if maxAttempts >= 1 {
			l.maxAttempts = maxAttempts
		}
		if baseDelay >= 0 {
			l.retryBase = baseDelay
		}
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(l *Ledger) {
		if tracer != nil {
			l.tracer = tracer
		}
	}
}

// NewLedger creates a Ledger on top of an injected store.
func NewLedger(store interfaces.LedgerStore, opts ...Option) *Ledger {
	l := &Ledger{
		store:       store,
		logger:      zap.NewNop(),
		tracer:      otel.Tracer("github.com/sheikh-saqib/quantum-bank-ledger/internal/ledger"),
		maxAttempts: defaultMaxAttempts,
		retryBase:   defaultRetryBase,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Transfer moves req.Amount from one account to another as one atomic unit of
// work: two transaction rows, two balance updates and the transfer record
// commit together or not at all.
func (l *Ledger) Transfer(ctx context.Context, req models.TransferRequest) (models.TransferResult, error) {
	req = req.Normalized()

	ctx, span := l.tracer.Start(ctx, "ledger.Transfer", trace.WithAttributes(
		attribute.Int64("ledger.from_account_id", req.FromAccountID),
		attribute.Int64("ledger.to_account_id", req.ToAccountID),
		attribute.String("ledger.amount", req.Amount.String()),
	))
	defer span.End()

	// Nothing below this check may run for an invalid request.
	if err := req.Validate(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return models.TransferResult{}, err
	}

	var result models.TransferResult
	err := l.withRetry(ctx, "transfer", func() error {
		var err error
		result, err = l.transferOnce(ctx, req)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		l.logFailure("transfer failed", err,
			zap.Int64("from_account_id", req.FromAccountID),
			zap.Int64("to_account_id", req.ToAccountID),
			zap.String("amount", req.Amount.String()),
		)
		return models.TransferResult{}, err
	}

	span.SetAttributes(
		attribute.String("ledger.transfer_id", result.ID.String()),
		attribute.Bool("ledger.replayed", result.Replayed),
	)
	l.logger.Info("transfer committed",
		zap.String("transfer_id", result.ID.String()),
		zap.Int64("from_account_id", result.FromAccountID),
		zap.Int64("to_account_id", result.ToAccountID),
		zap.String("amount", result.Amount.String()),
		zap.Bool("replayed", result.Replayed),
	)

	if !result.Replayed {
		l.publishTransferCompleted(ctx, result.Transfer)
	}
	return result, nil
}

func (l *Ledger) transferOnce(ctx context.Context, req models.TransferRequest) (models.TransferResult, error) {
	var result models.TransferResult

	err := l.store.WithinTx(ctx, func(tx interfaces.LedgerTx) error {
		accounts, err := tx.LockAccounts(ctx, req.FromAccountID, req.ToAccountID)
		if err != nil {
			return err
		}
		from, to := accounts[0], accounts[1]

		if req.IdempotencyKey != "" {
			existing, found, err := tx.FindTransfer(ctx, req.IdempotencyKey)
			if err != nil {
				return err
			}
			if found {
				if !existing.Matches(req) {
					return fmt.Errorf("%w: key %q", models.ErrIdempotencyKeyReused, req.IdempotencyKey)
				}
				result = models.TransferResult{Transfer: existing, Replayed: true}
				return nil
			}
		}

		// Credit accounts get no overdraft allowance here.
		if from.Balance.LessThan(req.Amount) {
			return fmt.Errorf("%w: account %d has %s, transfer needs %s",
				models.ErrInsufficientFunds, from.ID, from.Balance.StringFixed(models.MinorUnits), req.Amount.StringFixed(models.MinorUnits))
		}

		transferID := uuid.New()
		link := uuid.NullUUID{UUID: transferID, Valid: true}

		// Debit leg: money leaving the source, labelled with the destination.
		debit, err := tx.AppendTransaction(ctx, models.Transaction{
			AccountID:    from.ID,
			Kind:         models.KindTransfer,
			Amount:       req.Amount.Neg(),
			Description:  req.Description,
			Counterparty: to.AccountNumber,
			Status:       models.StatusCompleted,
			TransferID:   link,
		})
		if err != nil {
			return err
		}

		// Credit leg: money entering the destination, labelled with the source.
		credit, err := tx.AppendTransaction(ctx, models.Transaction{
			AccountID:    to.ID,
			Kind:         models.KindTransfer,
			Amount:       req.Amount,
			Description:  req.Description,
			Counterparty: from.AccountNumber,
			Status:       models.StatusCompleted,
			TransferID:   link,
		})
		if err != nil {
			return err
		}

		transfer := models.Transfer{
			ID:                  transferID,
			IdempotencyKey:      req.IdempotencyKey,
			FromAccountID:       from.ID,
			ToAccountID:         to.ID,
			Amount:              req.Amount,
			Description:         req.Description,
			DebitTransactionID:  debit.ID,
			CreditTransactionID: credit.ID,
			CreatedAt:           debit.CreatedAt,
		}
		if err := tx.SaveTransfer(ctx, transfer); err != nil {
			return err
		}

		result = models.TransferResult{Transfer: transfer}
		return nil
	})
	if err != nil {
		return models.TransferResult{}, err
	}
	return result, nil
}

func (l *Ledger) publishTransferCompleted(ctx context.Context, transfer models.Transfer) {
	if l.publisher == nil {
		return
	}

	event := events.TransferCompleted{
		TransferID:          transfer.ID.String(),
		FromAccountID:       transfer.FromAccountID,
		ToAccountID:         transfer.ToAccountID,
		Amount:              transfer.Amount,
		Description:         transfer.Description,
		DebitTransactionID:  transfer.DebitTransactionID,
		CreditTransactionID: transfer.CreditTransactionID,
		OccurredAt:          transfer.CreatedAt,
	}

	// The transfer is already committed; a lost event must not fail it.
	if err := l.publisher.Publish(ctx, event.TransferID, event); err != nil {
		l.logger.Error("publish transfer completed event",
			zap.String("transfer_id", event.TransferID),
			zap.Error(err),
		)
	}
}

// PostTransaction records a single deposit, charge or other posting against
// one account and adjusts its balance in the same unit of work.
func (l *Ledger) PostTransaction(ctx context.Context, tx models.Transaction) (models.Transaction, error) {
	if tx.Kind == "" {
		return models.Transaction{}, fmt.Errorf("%w: transaction kind is required", models.ErrInvalidArgument)
	}
	if err := models.ValidatePosting(tx.Amount); err != nil {
		return models.Transaction{}, err
	}

	var posted models.Transaction
	err := l.withRetry(ctx, "post transaction", func() error {
		var err error
		posted, err = l.store.PostTransaction(ctx, tx)
		return err
	})
	if err != nil {
		l.logFailure("post transaction failed", err,
			zap.Int64("account_id", tx.AccountID),
			zap.String("kind", string(tx.Kind)),
		)
		return models.Transaction{}, err
	}
	return posted, nil
}

func (l *Ledger) GetAccount(ctx context.Context, accountID int64) (models.Account, error) {
	return l.store.GetAccount(ctx, accountID)
}

func (l *Ledger) ListAccounts(ctx context.Context, userID int64) ([]models.Account, error) {
	return l.store.ListAccounts(ctx, userID)
}

func (l *Ledger) ListTransactions(ctx context.Context, accountID int64, limit int) ([]models.Transaction, error) {
	return l.store.ListTransactions(ctx, accountID, limit)
}

func (l *Ledger) ListTransactionsForUser(ctx context.Context, userID int64, limit int) ([]models.AccountTransaction, error) {
	return l.store.ListTransactionsForUser(ctx, userID, limit)
}

func (l *Ledger) ListCards(ctx context.Context, accountID int64) ([]models.Card, error) {
	return l.store.ListCards(ctx, accountID)
}

func (l *Ledger) GetTransfer(ctx context.Context, transferID uuid.UUID) (models.Transfer, error) {
	return l.store.GetTransfer(ctx, transferID)
}

// Reconcile checks that the account balance equals the sum of its postings.
// The reconciliation is returned even when it fails.
func (l *Ledger) Reconcile(ctx context.Context, accountID int64) (models.Reconciliation, error) {
	rec, err := l.store.ReconcileAccount(ctx, accountID)
	if err != nil {
		return models.Reconciliation{}, err
	}
	if !rec.Balanced() {
		l.logger.Error("ledger inconsistency",
			zap.Int64("account_id", accountID),
			zap.String("balance", rec.Balance.String()),
			zap.String("ledger_sum", rec.LedgerSum.String()),
		)
		return rec, fmt.Errorf("%w: account %d balance %s, postings sum %s",
			models.ErrLedgerInconsistent, accountID, rec.Balance, rec.LedgerSum)
	}
	return rec, nil
}

// logFailure keeps expected business outcomes out of the error log.
func (l *Ledger) logFailure(msg string, err error, fields ...zap.Field) {
	fields = append(fields, zap.Error(err))
	switch {
	case errors.Is(err, models.ErrStorageUnavailable), errors.Is(err, models.ErrStorageConflict):
		l.logger.Error(msg, fields...)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		l.logger.Warn(msg, fields...)
	default:
		l.logger.Info(msg, fields...)
	}
}
