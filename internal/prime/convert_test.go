package prime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenToGems(t *testing.T) {
	tests := []struct {
		amount string
		rate   string
		want   int64
	}{
		{"1", "100", 100},
		{"0.015", "100", 1},
		{"0.009", "100", 0},
		{"2.5", "1000", 2500},
		{"0.00000001", "100000000", 1},
	}
	for _, tt := range tests {
		t.Run(tt.amount+"x"+tt.rate, func(t *testing.T) {
			got, err := TokenToGems(tt.amount, tt.rate)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := TokenToGems("abc", "100")
	assert.Error(t, err)
	_, err = TokenToGems("1", "0")
	assert.Error(t, err)
}

func TestGemsToToken(t *testing.T) {
	got, err := GemsToToken(250, "100")
	require.NoError(t, err)
	assert.Equal(t, "2.5", got.String())

	got, err = GemsToToken(1, "3")
	require.NoError(t, err)
	assert.Equal(t, "0.33333333", got.String())

	_, err = GemsToToken(1, "-1")
	assert.Error(t, err)
}

func TestConfirmationsFor(t *testing.T) {
	tests := []struct {
		status        string
		confirmations int64
		dropped       bool
	}{
		{"TRANSACTION_IMPORT_PENDING", 0, false},
		{"TRANSACTION_IMPORTED", 12, false},
		{"transaction_done", 12, false},
		{"TRANSACTION_FAILED", 0, true},
		{"TRANSACTION_CANCELLED", 0, true},
		{"SOMETHING_NEW", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			confirmations, dropped := confirmationsFor(tt.status, 12)
			assert.Equal(t, tt.confirmations, confirmations)
			assert.Equal(t, tt.dropped, dropped)
		})
	}
}
