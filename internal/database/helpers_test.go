package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"duel-settlement-go/internal/models"
	"duel-settlement-go/internal/store"

	"github.com/stretchr/testify/require"
)

func setupTestService(t *testing.T) *Service {
	t.Helper()

	svc, err := NewService(context.Background(), models.DatabaseConfig{
		Path:            filepath.Join(t.TempDir(), "ledger.db"),
		MaxOpenConns:    8,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Minute,
		PingTimeout:     5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	return svc
}

// fundAccount creates an account holding amount gems.
func fundAccount(t *testing.T, svc *Service, accountId string, amount int64) {
	t.Helper()
	ctx := context.Background()

	_, err := svc.CreateAccount(ctx, accountId, "Player "+accountId, accountId+"@example.com")
	require.NoError(t, err)
	if amount == 0 {
		return
	}
	_, err = svc.AdjustBalance(ctx, store.AdjustParams{
		AccountId:      accountId,
		Delta:          amount,
		Type:           models.EntryAdminAdjustment,
		IdempotencyKey: "seed:" + accountId,
		Description:    "seed",
	})
	require.NoError(t, err)
}

func balanceOf(t *testing.T, svc *Service, accountId string) int64 {
	t.Helper()
	account, err := svc.GetAccount(context.Background(), accountId)
	require.NoError(t, err)
	return account.Balance
}

func requireReconciled(t *testing.T, svc *Service, accountId string) {
	t.Helper()
	result, err := svc.ReconcileAccount(context.Background(), accountId)
	require.NoError(t, err)
	require.True(t, result.Balanced(), "account %s: %+v", accountId, result)
}
