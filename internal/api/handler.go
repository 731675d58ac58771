package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sheikh-saqib/quantum-bank-ledger/internal/models"
)

type ledgerService interface {
	Transfer(ctx context.Context, req models.TransferRequest) (models.TransferResult, error)
	GetAccount(ctx context.Context, accountID int64) (models.Account, error)
	ListAccounts(ctx context.Context, userID int64) ([]models.Account, error)
	ListTransactions(ctx context.Context, accountID int64, limit int) ([]models.Transaction, error)
	ListTransactionsForUser(ctx context.Context, userID int64, limit int) ([]models.AccountTransaction, error)
	ListCards(ctx context.Context, accountID int64) ([]models.Card, error)
	GetTransfer(ctx context.Context, transferID uuid.UUID) (models.Transfer, error)
	Reconcile(ctx context.Context, accountID int64) (models.Reconciliation, error)
}

const idempotencyKeyHeader = "Idempotency-Key"

type Handler struct {
	ledger ledgerService
	logger *zap.Logger
}

func NewHandler(ledger ledgerService, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		ledger: ledger,
		logger: logger,
	}
}

// Routes returns the API mux wrapped in request logging and panic recovery.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("GET /users/{userID}/accounts", h.listAccounts)
	mux.HandleFunc("GET /users/{userID}/transactions", h.listUserTransactions)
	mux.HandleFunc("GET /accounts/{accountID}", h.getAccount)
	mux.HandleFunc("GET /accounts/{accountID}/transactions", h.listAccountTransactions)
	mux.HandleFunc("GET /accounts/{accountID}/reconciliation", h.reconcile)
	mux.HandleFunc("POST /transfers", h.createTransfer)
	mux.HandleFunc("GET /transfers/{transferID}", h.getTransfer)

	return withRecovery(h.logger, withLogging(h.logger, mux))
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeData(w, h.logger, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) listAccounts(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userID")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	accounts, err := h.ledger.ListAccounts(r.Context(), userID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, h.logger, http.StatusOK, accounts)
}

func (h *Handler) listUserTransactions(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userID")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	limit, err := queryLimit(r, models.DefaultUserTransactionLimit)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	txs, err := h.ledger.ListTransactionsForUser(r.Context(), userID, limit)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, h.logger, http.StatusOK, txs)
}

type accountDetail struct {
	models.Account
	Cards []models.Card `json:"cards"`
}

func (h *Handler) getAccount(w http.ResponseWriter, r *http.Request) {
	accountID, err := pathID(r, "accountID")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	account, err := h.ledger.GetAccount(r.Context(), accountID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	cards, err := h.ledger.ListCards(r.Context(), accountID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, h.logger, http.StatusOK, accountDetail{Account: account, Cards: cards})
}

func (h *Handler) listAccountTransactions(w http.ResponseWriter, r *http.Request) {
	accountID, err := pathID(r, "accountID")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	limit, err := queryLimit(r, models.DefaultAccountTransactionLimit)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	txs, err := h.ledger.ListTransactions(r.Context(), accountID, limit)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, h.logger, http.StatusOK, txs)
}

type reconciliationResponse struct {
	models.Reconciliation
	Balanced bool `json:"balanced"`
}

func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request) {
	accountID, err := pathID(r, "accountID")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	rec, err := h.ledger.Reconcile(r.Context(), accountID)
	if errors.Is(err, models.ErrLedgerInconsistent) {
		writeJSON(w, h.logger, http.StatusInternalServerError, Response{
			Success: false,
			Message: models.ErrLedgerInconsistent.Error(),
			Data:    reconciliationResponse{Reconciliation: rec},
		})
		return
	}
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, h.logger, http.StatusOK, reconciliationResponse{Reconciliation: rec, Balanced: true})
}

type transferRequest struct {
	FromAccountID int64           `json:"from_account_id"`
	ToAccountID   int64           `json:"to_account_id"`
	Amount        json.RawMessage `json:"amount"`
	Description   string          `json:"description"`
}

// parseAmount accepts the amount as a JSON string or number. Anything that is
// not a decimal is ErrInvalidAmount.
func parseAmount(raw json.RawMessage) (decimal.Decimal, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return decimal.Zero, fmt.Errorf("%w: amount is required", models.ErrInvalidAmount)
	}
	text := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return decimal.Zero, fmt.Errorf("%w: %s is not a number", models.ErrInvalidAmount, raw)
		}
	}
	return models.ParseAmount(text)
}

func (h *Handler) createTransfer(w http.ResponseWriter, r *http.Request) {
	var body transferRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		h.logger.Warn("error while decoding a transfer request", zap.Error(err))
		writeError(w, r, h.logger, fmt.Errorf("%w: invalid request body", models.ErrInvalidArgument))
		return
	}

	amount, amountErr := parseAmount(body.Amount)
	req := models.TransferRequest{
		FromAccountID:  body.FromAccountID,
		ToAccountID:    body.ToAccountID,
		Amount:         amount,
		Description:    body.Description,
		IdempotencyKey: r.Header.Get(idempotencyKeyHeader),
	}
	if amountErr != nil {
		// Account id problems are reported ahead of the amount.
		if err := req.Validate(); err != nil && !errors.Is(err, models.ErrInvalidAmount) {
			amountErr = err
		}
		writeError(w, r, h.logger, amountErr)
		return
	}

	result, err := h.ledger.Transfer(r.Context(), req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, h.logger, status, Response{Success: true, Message: "transfer completed", Data: result})
}

func (h *Handler) getTransfer(w http.ResponseWriter, r *http.Request) {
	transferID, err := uuid.Parse(r.PathValue("transferID"))
	if err != nil {
		writeError(w, r, h.logger, fmt.Errorf("%w: transfer id must be a UUID", models.ErrInvalidArgument))
		return
	}

	transfer, err := h.ledger.GetTransfer(r.Context(), transferID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, h.logger, http.StatusOK, transfer)
}

func pathID(r *http.Request, name string) (int64, error) {
	raw := r.PathValue(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %s must be a positive integer, got %q", models.ErrInvalidArgument, name, raw)
	}
	return id, nil
}

// queryLimit reads ?limit=, applying def when absent and clamping to
// models.MaxTransactionLimit.
func queryLimit(r *http.Request, def int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("%w: limit must be a positive integer, got %q", models.ErrInvalidArgument, raw)
	}
	return min(limit, models.MaxTransactionLimit), nil
}
