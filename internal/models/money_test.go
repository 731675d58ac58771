package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	amount, err := ParseAmount(" 30.00 ")
	require.NoError(t, err)
	assert.True(t, amount.Equal(decimal.NewFromInt(30)))

	_, err = ParseAmount("thirty")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = ParseAmount("")
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestValidateTransferAmount(t *testing.T) {
	tests := []struct {
		name    string
		amount  string
		wantErr bool
	}{
		{name: "whole", amount: "30", wantErr: false},
		{name: "cents", amount: "0.01", wantErr: false},
		{name: "trailing zeros", amount: "12.500", wantErr: false},
		{name: "zero", amount: "0", wantErr: true},
		{name: "negative", amount: "-5.00", wantErr: true},
		{name: "sub cent", amount: "1.001", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTransferAmount(decimal.RequireFromString(tt.amount))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidAmount)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestValidatePostingAllowsDebits(t *testing.T) {
	assert.NoError(t, ValidatePosting(decimal.RequireFromString("-45.20")))
	assert.ErrorIs(t, ValidatePosting(decimal.Zero), ErrInvalidAmount)
}

func TestValidateLimit(t *testing.T) {
	assert.NoError(t, ValidateLimit(1))
	assert.ErrorIs(t, ValidateLimit(0), ErrInvalidArgument)
	assert.ErrorIs(t, ValidateLimit(-10), ErrInvalidArgument)
}
