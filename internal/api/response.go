package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/sheikh-saqib/quantum-bank-ledger/internal/models"
)

// Response is the envelope of every JSON body the API writes.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, status int, body Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("error while encoding response", zap.Error(err))
	}
}

func writeData(w http.ResponseWriter, logger *zap.Logger, status int, data any) {
	writeJSON(w, logger, status, Response{Success: true, Data: data})
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidArgument),
		errors.Is(err, models.ErrInvalidAmount),
		errors.Is(err, models.ErrSameAccountTransfer):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrAccountNotFound),
		errors.Is(err, models.ErrUserNotFound),
		errors.Is(err, models.ErrTransferNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrIdempotencyKeyReused),
		errors.Is(err, models.ErrStorageConflict),
		errors.Is(err, models.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, models.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeError reports err to the client. Internal errors are logged and their
// text is not exposed.
func writeError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	status := statusFor(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err),
		)
		message = http.StatusText(status)
	}
	writeJSON(w, logger, status, Response{Success: false, Message: message})
}
