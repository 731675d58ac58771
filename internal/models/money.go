package models

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// MinorUnits is the number of decimal places kept for every amount (cents).
const MinorUnits int32 = 2

// ParseAmount parses a decimal string such as "30.00" into an amount.
func ParseAmount(raw string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q is not a number", ErrInvalidAmount, raw)
	}
	return amount, nil
}

// ValidatePosting checks an amount that will be posted against an account.
// Postings may be signed but never zero or finer than one cent.
func ValidatePosting(amount decimal.Decimal) error {
	if amount.IsZero() {
		return fmt.Errorf("%w: amount must not be zero", ErrInvalidAmount)
	}
	if !amount.Equal(amount.Round(MinorUnits)) {
		return fmt.Errorf("%w: %s has more than %d decimal places", ErrInvalidAmount, amount, MinorUnits)
	}
	return nil
}

// ValidateTransferAmount checks a transfer amount: strictly positive and at
// most cent precision.
func ValidateTransferAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive, got %s", ErrInvalidAmount, amount)
	}
	return ValidatePosting(amount)
}

// ValidateLimit rejects non-positive page sizes.
func ValidateLimit(limit int) error {
	if limit <= 0 {
		return fmt.Errorf("%w: limit must be a positive integer, got %d", ErrInvalidArgument, limit)
	}
	return nil
}
