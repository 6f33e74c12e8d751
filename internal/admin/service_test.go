package admin

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"duel-settlement-go/internal/database"
	"duel-settlement-go/internal/duel"
	"duel-settlement-go/internal/listener"
	"duel-settlement-go/internal/metrics"
	"duel-settlement-go/internal/models"
	"duel-settlement-go/internal/payout"
	"duel-settlement-go/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type liveBots struct{}

func (liveBots) KnownRegion(region string) bool       { return region == "eu" }
func (liveBots) IsAlive(context.Context, string) bool { return true }

type okSender struct{}

func (okSender) Send(_ context.Context, request models.PayoutRequest) (*models.SendResult, error) {
	return &models.SendResult{TxHash: "0xabc", IdempotencyKey: request.Id}, nil
}

type testEnv struct {
	db       *database.Service
	duels    *duel.Service
	payouts  *payout.Service
	listener *listener.DepositListener
	admin    *Service
}

func setup(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	db, err := database.NewService(ctx, models.DatabaseConfig{
		Path:         filepath.Join(t.TempDir(), "admin.db"),
		MaxOpenConns: 4,
		PingTimeout:  5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(db.Close)

	for _, id := range []string{"A", "B"} {
		_, err := db.CreateAccount(ctx, id, id, id+"@example.com")
		require.NoError(t, err)
		_, err = db.AdjustBalance(ctx, store.AdjustParams{
			AccountId: id, Delta: 100, Type: models.EntryAdminAdjustment, IdempotencyKey: "seed:" + id,
		})
		require.NoError(t, err)
	}

	m := metrics.NewUnregistered()
	env := &testEnv{
		db:    db,
		duels: duel.NewService(duel.ServiceConfig{Store: db, Bots: liveBots{}, Metrics: m, MinStake: 1}),
		payouts: payout.NewService(payout.ServiceConfig{
			Store:   db,
			Sender:  okSender{},
			Metrics: m,
			Tokens:  []models.TokenConfig{{Type: "USDC", Symbol: "USDC", Network: "base", GemsPerUnit: "100"}},
		}),
		listener: listener.NewDepositListener(listener.DepositListenerConfig{Store: db, Metrics: m}),
	}
	env.admin = NewService(ServiceConfig{Store: db, Duels: env.duels, Payouts: env.payouts, Addresses: env.listener})
	return env
}

func (e *testEnv) balance(t *testing.T, accountId string) int64 {
	t.Helper()
	account, err := e.db.GetAccount(context.Background(), accountId)
	require.NoError(t, err)
	return account.Balance
}

func TestResolveDuel_Audited(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	d, err := env.duels.Create(ctx, duel.CreateParams{CreatorId: "A", StakeAmount: 40, Region: "eu"})
	require.NoError(t, err)
	_, err = env.duels.Accept(ctx, d.Id, "B")
	require.NoError(t, err)

	_, err = env.admin.ResolveDuel(ctx, "root", d.Id, models.ResolutionCreatorWins)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)

	_, err = env.duels.Dispute(ctx, d.Id, "B", "desync")
	require.NoError(t, err)
	resolved, err := env.admin.ResolveDuel(ctx, "root", d.Id, models.ResolutionCreatorWins)
	require.NoError(t, err)
	assert.Equal(t, "A", resolved.WinnerId)
	assert.Equal(t, int64(140), env.balance(t, "A"))
	assert.Equal(t, int64(60), env.balance(t, "B"))

	actions, err := env.admin.ListActions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, "resolve_duel", actions[0].Action)
	assert.Equal(t, d.Id, actions[0].TargetId)
	assert.Equal(t, "root", actions[0].AdminId)
}

func TestPayoutActions(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	params := payout.RequestParams{
		UserId: "A", GemAmount: 30, DestinationAddress: "0x2222222222222222222222222222222222222222", TokenType: "USDC",
	}

	first, err := env.payouts.Request(ctx, params)
	require.NoError(t, err)
	declined, err := env.admin.DeclinePayout(ctx, "root", first.Id, "kyc incomplete")
	require.NoError(t, err)
	assert.Equal(t, models.PayoutDeclined, declined.Status)
	_, err = env.admin.DeclinePayout(ctx, "root", first.Id, "kyc incomplete")
	assert.ErrorIs(t, err, store.ErrInvalidTransition)
	assert.Equal(t, int64(100), env.balance(t, "A"))

	second, err := env.payouts.Request(ctx, params)
	require.NoError(t, err)
	completed, err := env.admin.ApprovePayout(ctx, "root", second.Id)
	require.NoError(t, err)
	assert.Equal(t, models.PayoutCompleted, completed.Status)
	assert.Equal(t, "0xabc", completed.TxHash)
	assert.Equal(t, int64(70), env.balance(t, "A"))

	actions, err := env.admin.ListActions(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, actions, 2)
}

type brokenSender struct{}

func (brokenSender) Send(context.Context, models.PayoutRequest) (*models.SendResult, error) {
	return nil, errors.New("insufficient hot wallet balance")
}

func TestApprovePayout_FailedSendAudited(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	payouts := payout.NewService(payout.ServiceConfig{
		Store:   env.db,
		Sender:  brokenSender{},
		Metrics: metrics.NewUnregistered(),
		Tokens:  []models.TokenConfig{{Type: "USDC", Symbol: "USDC", Network: "base", GemsPerUnit: "100"}},
	})
	admin := NewService(ServiceConfig{Store: env.db, Duels: env.duels, Payouts: payouts, Addresses: env.listener})

	request, err := payouts.Request(ctx, payout.RequestParams{
		UserId: "A", GemAmount: 30, DestinationAddress: "0x2222222222222222222222222222222222222222", TokenType: "USDC",
	})
	require.NoError(t, err)

	failed, err := admin.ApprovePayout(ctx, "root", request.Id)
	require.ErrorIs(t, err, store.ErrExternalService)
	require.NotNil(t, failed)
	assert.Equal(t, models.PayoutFailed, failed.Status)
	assert.Equal(t, int64(100), env.balance(t, "A"))

	actions, err := admin.ListActions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, "approve_payout", actions[0].Action)
	assert.Equal(t, request.Id, actions[0].TargetId)

	// A rejected second approval leaves no row.
	_, err = admin.ApprovePayout(ctx, "root", request.Id)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)
	actions, err = admin.ListActions(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, actions, 1)
}

func TestAddressActions(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	const address = "0xAbCd000000000000000000000000000000000001"

	_, err := env.admin.AddAddress(ctx, "root", address, "")
	require.NoError(t, err)
	assert.Len(t, env.listener.WorkingSet(), 1)

	err = env.admin.AssignAddress(ctx, "root", address, "ghost")
	assert.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, env.admin.AssignAddress(ctx, "root", address, "A"))
	err = env.admin.AssignAddress(ctx, "root", address, "B")
	assert.ErrorIs(t, err, store.ErrInvalidTransition)

	require.NoError(t, env.admin.RemoveAddress(ctx, "root", address))
	assert.Empty(t, env.listener.WorkingSet())

	owned, err := env.db.ListAccountAddresses(ctx, "A")
	require.NoError(t, err)
	require.Len(t, owned, 1)
	assert.False(t, owned[0].Watched)
}

func TestAdjustBalance(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	_, err := env.admin.AdjustBalance(ctx, "root", "A", 0, "noop")
	assert.ErrorIs(t, err, store.ErrInvalidAmount)

	_, err = env.admin.AdjustBalance(ctx, "root", "A", -101, "clawback")
	assert.ErrorIs(t, err, store.ErrInsufficientFunds)

	entry, err := env.admin.AdjustBalance(ctx, "root", "A", -25, "clawback")
	require.NoError(t, err)
	assert.Equal(t, int64(75), entry.BalanceAfter)

	actions, err := env.admin.ListActions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, "-25: clawback", actions[0].Detail)

	mismatched, err := env.admin.ReconcileAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, mismatched)
}

func TestResolveReview_Unknown(t *testing.T) {
	env := setup(t)
	err := env.admin.ResolveReview(context.Background(), "root", "missing", "ok")
	assert.ErrorIs(t, err, store.ErrInvalidTransition)

	reviews, err := env.admin.ListReviews(context.Background(), true)
	require.NoError(t, err)
	assert.Empty(t, reviews)
}
