package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/sheikh-saqib/quantum-bank-ledger/internal/ledger"
	"github.com/sheikh-saqib/quantum-bank-ledger/internal/models"
	"github.com/sheikh-saqib/quantum-bank-ledger/internal/storage"
	"github.com/sheikh-saqib/quantum-bank-ledger/internal/storage/memory"
)

type testServer struct {
	server   *httptest.Server
	userID   int64
	checking models.Account
	savings  models.Account
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	store := memory.NewMemoryLedgerStore()
	l := ledger.NewLedger(store, ledger.WithLogger(logger), ledger.WithRetry(3, 0))
	require.NoError(t, storage.Seed(ctx, store, l, logger))
	user, err := store.GetUserByUsername(ctx, storage.DemoUsername)
	require.NoError(t, err)
	accounts, err := store.ListAccounts(ctx, user.ID)
	require.NoError(t, err)

	server := httptest.NewServer(NewHandler(l, logger).Routes())
	t.Cleanup(server.Close)

	return &testServer{server: server, userID: user.ID, checking: accounts[0], savings: accounts[1]}
}

// envelope decodes the response body; data is left raw for the caller.
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (s *testServer) do(t *testing.T, method, path, body string, header map[string]string) (int, envelope) {
	t.Helper()
	req, err := http.NewRequest(method, s.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	for k, v := range header {
		req.Header.Set(k, v)
	}

	resp, err := s.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	status, env := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, env.Success)
	assert.JSONEq(t, `{"status":"ok"}`, string(env.Data))
}

func TestListAccounts(t *testing.T) {
	s := newTestServer(t)

	status, env := s.do(t, http.MethodGet, fmt.Sprintf("/users/%d/accounts", s.userID), "", nil)
	require.Equal(t, http.StatusOK, status)

	var accounts []models.Account
	require.NoError(t, json.Unmarshal(env.Data, &accounts))
	require.Len(t, accounts, 3)
	assert.Equal(t, "QB-CHK-100001", accounts[0].AccountNumber)
	assert.Equal(t, "5420.50", accounts[0].Balance.StringFixed(models.MinorUnits))
}

func TestGetAccountIncludesCards(t *testing.T) {
	s := newTestServer(t)

	status, env := s.do(t, http.MethodGet, fmt.Sprintf("/accounts/%d", s.checking.ID), "", nil)
	require.Equal(t, http.StatusOK, status)

	var detail struct {
		AccountNumber string        `json:"account_number"`
		Cards         []models.Card `json:"cards"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &detail))
	assert.Equal(t, "QB-CHK-100001", detail.AccountNumber)
	require.Len(t, detail.Cards, 1)
	assert.Equal(t, "**** **** **** 1234", detail.Cards[0].MaskedNumber)
}

func TestTransactionLimits(t *testing.T) {
	s := newTestServer(t)
	accountPath := fmt.Sprintf("/accounts/%d/transactions", s.checking.ID)
	userPath := fmt.Sprintf("/users/%d/transactions", s.userID)

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantLen    int
	}{
		{"account default", accountPath, http.StatusOK, 6},
		{"account explicit", accountPath + "?limit=2", http.StatusOK, 2},
		{"account clamped", accountPath + "?limit=5000", http.StatusOK, 6},
		{"user default", userPath, http.StatusOK, 15},
		{"zero limit", accountPath + "?limit=0", http.StatusBadRequest, 0},
		{"bad limit", accountPath + "?limit=ten", http.StatusBadRequest, 0},
		{"unknown account", "/accounts/9999/transactions", http.StatusNotFound, 0},
		{"bad account id", "/accounts/abc/transactions", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env := s.do(t, http.MethodGet, tt.path, "", nil)
			require.Equal(t, tt.wantStatus, status, env.Message)
			if tt.wantStatus != http.StatusOK {
				assert.False(t, env.Success)
				assert.NotEmpty(t, env.Message)
				return
			}
			var txs []json.RawMessage
			require.NoError(t, json.Unmarshal(env.Data, &txs))
			assert.Len(t, txs, tt.wantLen)
		})
	}
}

func TestCreateTransfer(t *testing.T) {
	s := newTestServer(t)
	body := fmt.Sprintf(`{"from_account_id":%d,"to_account_id":%d,"amount":"30.00","description":"Rent share"}`,
		s.checking.ID, s.savings.ID)
	header := map[string]string{idempotencyKeyHeader: "rent-2026-10"}

	status, env := s.do(t, http.MethodPost, "/transfers", body, header)
	require.Equal(t, http.StatusCreated, status, env.Message)

	var created models.TransferResult
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.False(t, created.Replayed)
	assert.Equal(t, "Rent share", created.Description)

	status, env = s.do(t, http.MethodPost, "/transfers", body, header)
	require.Equal(t, http.StatusOK, status)
	var replayed models.TransferResult
	require.NoError(t, json.Unmarshal(env.Data, &replayed))
	assert.True(t, replayed.Replayed)
	assert.Equal(t, created.ID, replayed.ID)

	status, env = s.do(t, http.MethodGet, "/transfers/"+created.ID.String(), "", nil)
	require.Equal(t, http.StatusOK, status)
	var fetched models.Transfer
	require.NoError(t, json.Unmarshal(env.Data, &fetched))
	assert.Equal(t, created.DebitTransactionID, fetched.DebitTransactionID)

	status, env = s.do(t, http.MethodGet, fmt.Sprintf("/accounts/%d", s.checking.ID), "", nil)
	require.Equal(t, http.StatusOK, status)
	var account models.Account
	require.NoError(t, json.Unmarshal(env.Data, &account))
	assert.Equal(t, "5390.50", account.Balance.StringFixed(models.MinorUnits))

	status, env = s.do(t, http.MethodGet, fmt.Sprintf("/accounts/%d/reconciliation", s.checking.ID), "", nil)
	require.Equal(t, http.StatusOK, status)
	var rec struct {
		Balanced bool `json:"balanced"`
		Postings int  `json:"postings"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &rec))
	assert.True(t, rec.Balanced)
	assert.Equal(t, 7, rec.Postings)
}

func TestCreateTransferErrors(t *testing.T) {
	s := newTestServer(t)
	chk, sav := s.checking.ID, s.savings.ID

	invalidAmount := models.ErrInvalidAmount.Error()

	tests := []struct {
		name        string
		body        string
		header      map[string]string
		wantStatus  int
		wantMessage string
	}{
		{"malformed body", `{"from_account_id":`, nil, http.StatusBadRequest, models.ErrInvalidArgument.Error()},
		{"unknown field", fmt.Sprintf(`{"from_account_id":%d,"to_account_id":%d,"amount":"1","memo":"x"}`, chk, sav), nil, http.StatusBadRequest, ""},
		{"non-numeric amount", fmt.Sprintf(`{"from_account_id":%d,"to_account_id":%d,"amount":"abc"}`, chk, sav), nil, http.StatusBadRequest, invalidAmount},
		{"boolean amount", fmt.Sprintf(`{"from_account_id":%d,"to_account_id":%d,"amount":true}`, chk, sav), nil, http.StatusBadRequest, invalidAmount},
		{"missing amount", fmt.Sprintf(`{"from_account_id":%d,"to_account_id":%d}`, chk, sav), nil, http.StatusBadRequest, invalidAmount},
		{"negative amount", fmt.Sprintf(`{"from_account_id":%d,"to_account_id":%d,"amount":"-5.00"}`, chk, sav), nil, http.StatusBadRequest, invalidAmount},
		{"zero amount", fmt.Sprintf(`{"from_account_id":%d,"to_account_id":%d,"amount":"0"}`, chk, sav), nil, http.StatusBadRequest, invalidAmount},
		{"sub-cent amount", fmt.Sprintf(`{"from_account_id":%d,"to_account_id":%d,"amount":1.005}`, chk, sav), nil, http.StatusBadRequest, invalidAmount},
		{"same account with bad amount", fmt.Sprintf(`{"from_account_id":%d,"to_account_id":%d,"amount":"abc"}`, chk, chk), nil, http.StatusBadRequest, models.ErrSameAccountTransfer.Error()},
		{"same account", fmt.Sprintf(`{"from_account_id":%d,"to_account_id":%d,"amount":"1"}`, chk, chk), nil, http.StatusBadRequest, models.ErrSameAccountTransfer.Error()},
		{"insufficient funds", fmt.Sprintf(`{"from_account_id":%d,"to_account_id":%d,"amount":"999999"}`, chk, sav), nil, http.StatusUnprocessableEntity, models.ErrInsufficientFunds.Error()},
		{"unknown account", fmt.Sprintf(`{"from_account_id":%d,"to_account_id":9999,"amount":"1"}`, chk), nil, http.StatusNotFound, models.ErrAccountNotFound.Error()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env := s.do(t, http.MethodPost, "/transfers", tt.body, tt.header)
			assert.Equal(t, tt.wantStatus, status, env.Message)
			assert.False(t, env.Success)
			if tt.wantMessage != "" {
				assert.True(t, strings.HasPrefix(env.Message, tt.wantMessage), "message %q", env.Message)
			}
		})
	}
}

func TestCreateTransferAcceptsNumericAmount(t *testing.T) {
	s := newTestServer(t)

	status, env := s.do(t, http.MethodPost, "/transfers",
		fmt.Sprintf(`{"from_account_id":%d,"to_account_id":%d,"amount":12.5}`, s.checking.ID, s.savings.ID), nil)
	require.Equal(t, http.StatusCreated, status, env.Message)

	var created models.TransferResult
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.Equal(t, "12.50", created.Amount.StringFixed(models.MinorUnits))
}

func TestIdempotencyKeyReuseConflicts(t *testing.T) {
	s := newTestServer(t)
	header := map[string]string{idempotencyKeyHeader: "once"}

	status, _ := s.do(t, http.MethodPost, "/transfers",
		fmt.Sprintf(`{"from_account_id":%d,"to_account_id":%d,"amount":"5"}`, s.checking.ID, s.savings.ID), header)
	require.Equal(t, http.StatusCreated, status)

	status, env := s.do(t, http.MethodPost, "/transfers",
		fmt.Sprintf(`{"from_account_id":%d,"to_account_id":%d,"amount":"6"}`, s.checking.ID, s.savings.ID), header)
	assert.Equal(t, http.StatusConflict, status)
	assert.Contains(t, env.Message, "idempotency key")
}

func TestGetTransferErrors(t *testing.T) {
	s := newTestServer(t)

	status, _ := s.do(t, http.MethodGet, "/transfers/not-a-uuid", "", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = s.do(t, http.MethodGet, "/transfers/"+uuid.NewString(), "", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{models.ErrInvalidArgument, http.StatusBadRequest},
		{models.ErrInvalidAmount, http.StatusBadRequest},
		{models.ErrSameAccountTransfer, http.StatusBadRequest},
		{models.ErrInsufficientFunds, http.StatusUnprocessableEntity},
		{fmt.Errorf("wrapped: %w", models.ErrAccountNotFound), http.StatusNotFound},
		{models.ErrTransferNotFound, http.StatusNotFound},
		{models.ErrIdempotencyKeyReused, http.StatusConflict},
		{models.ErrStorageConflict, http.StatusConflict},
		{models.ErrStorageUnavailable, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{models.ErrLedgerInconsistent, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestRecoveryHidesPanics(t *testing.T) {
	logger := zaptest.NewLogger(t)
	handler := withRecovery(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "boom")
}
