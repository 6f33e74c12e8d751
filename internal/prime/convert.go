package prime

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Token amounts are sent with at most this many decimal places.
const tokenPrecision = 8

var (
	settledStatuses = map[string]bool{
		"TRANSACTION_IMPORTED":  true,
		"TRANSACTION_DONE":      true,
		"TRANSACTION_COMPLETED": true,
	}
	droppedStatuses = map[string]bool{
		"TRANSACTION_FAILED":    true,
		"TRANSACTION_CANCELLED": true,
		"TRANSACTION_REJECTED":  true,
		"TRANSACTION_EXPIRED":   true,
	}
)

// TokenToGems converts a token amount to whole gems, rounding down.
func TokenToGems(amount, gemsPerUnit string) (int64, error) {
	value, err := decimal.NewFromString(amount)
	if err != nil {
		return 0, fmt.Errorf("invalid token amount %q: %w", amount, err)
	}
	rate, err := parseRate(gemsPerUnit)
	if err != nil {
		return 0, err
	}
	return value.Mul(rate).Floor().IntPart(), nil
}

// GemsToToken converts gems to the token amount sent on chain, truncated to
// tokenPrecision places so a payout never sends more than was escrowed.
func GemsToToken(gems int64, gemsPerUnit string) (decimal.Decimal, error) {
	rate, err := parseRate(gemsPerUnit)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromInt(gems).DivRound(rate, tokenPrecision+4).Truncate(tokenPrecision), nil
}

// confirmationsFor maps a Prime transaction status onto chain depth. Prime
// only reports a deposit as imported once it is final, so an imported
// transfer counts as fully confirmed.
func confirmationsFor(status string, requiredDepth int64) (confirmations int64, dropped bool) {
	status = strings.ToUpper(status)
	switch {
	case droppedStatuses[status]:
		return 0, true
	case settledStatuses[status]:
		return requiredDepth, false
	default:
		return 0, false
	}
}

func parseRate(gemsPerUnit string) (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(gemsPerUnit)
	if err != nil || !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("invalid gems per unit %q", gemsPerUnit)
	}
	return rate, nil
}
