package duel

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"duel-settlement-go/internal/database"
	"duel-settlement-go/internal/metrics"
	"duel-settlement-go/internal/models"
	"duel-settlement-go/internal/store"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBots struct {
	regions map[string]bool
}

func (f fakeBots) KnownRegion(region string) bool {
	_, ok := f.regions[region]
	return ok
}

func (f fakeBots) IsAlive(_ context.Context, region string) bool {
	return f.regions[region]
}

type testEnv struct {
	db      *database.Service
	service *Service
	metrics *metrics.Metrics
}

func setup(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.NewService(context.Background(), models.DatabaseConfig{
		Path:         filepath.Join(t.TempDir(), "duels.db"),
		MaxOpenConns: 8,
		PingTimeout:  5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(db.Close)

	m := metrics.NewUnregistered()
	return &testEnv{
		db:      db,
		metrics: m,
		service: NewService(ServiceConfig{
			Store:    db,
			Bots:     fakeBots{regions: map[string]bool{"eu": true, "na": false}},
			Metrics:  m,
			MinStake: 1,
		}),
	}
}

func (e *testEnv) fund(t *testing.T, accountId string, amount int64) {
	t.Helper()
	ctx := context.Background()
	_, err := e.db.CreateAccount(ctx, accountId, accountId, accountId+"@example.com")
	require.NoError(t, err)
	if amount > 0 {
		_, err = e.db.AdjustBalance(ctx, store.AdjustParams{
			AccountId:      accountId,
			Delta:          amount,
			Type:           models.EntryAdminAdjustment,
			IdempotencyKey: "seed:" + accountId,
		})
		require.NoError(t, err)
	}
}

func (e *testEnv) balance(t *testing.T, accountId string) int64 {
	t.Helper()
	account, err := e.db.GetAccount(context.Background(), accountId)
	require.NoError(t, err)
	return account.Balance
}

func (e *testEnv) total(t *testing.T) int64 {
	t.Helper()
	total, err := e.db.TotalBalance(context.Background())
	require.NoError(t, err)
	return total
}

func (e *testEnv) activeDuel(t *testing.T, creatorId, opponentId string, stake int64) *models.Duel {
	t.Helper()
	ctx := context.Background()
	duel, err := e.service.Create(ctx, CreateParams{CreatorId: creatorId, StakeAmount: stake, Region: "eu"})
	require.NoError(t, err)
	duel, err = e.service.Accept(ctx, duel.Id, opponentId)
	require.NoError(t, err)
	return duel
}

func TestDuel_ChallengeAcceptReportConfirm(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	env.fund(t, "A", 100)
	env.fund(t, "B", 100)

	duel, err := env.service.Create(ctx, CreateParams{CreatorId: "A", StakeAmount: 50, Region: "eu"})
	require.NoError(t, err)
	assert.Equal(t, models.DuelPendingChallenge, duel.Status)
	assert.Equal(t, int64(100), env.balance(t, "A"))

	duel, err = env.service.Accept(ctx, duel.Id, "B")
	require.NoError(t, err)
	assert.Equal(t, models.DuelActive, duel.Status)
	assert.Equal(t, int64(50), env.balance(t, "A"))
	assert.Equal(t, int64(50), env.balance(t, "B"))
	// Reserved stakes leave the spendable total until settlement.
	assert.Equal(t, int64(100), env.total(t))

	duel, err = env.service.ReportOutcome(ctx, models.BotReport{DuelId: duel.Id, Region: "eu", WinnerId: "A", MatchData: []byte(`{"score":"3-1"}`)})
	require.NoError(t, err)
	assert.Equal(t, models.DuelCompletedUnseen, duel.Status)
	assert.Equal(t, int64(150), env.balance(t, "A"))
	assert.Equal(t, int64(50), env.balance(t, "B"))
	assert.Equal(t, int64(200), env.total(t))

	duel, err = env.service.ConfirmSeen(ctx, duel.Id, "A")
	require.NoError(t, err)
	assert.Equal(t, models.DuelCompleted, duel.Status)

	duel, err = env.service.ConfirmSeen(ctx, duel.Id, "B")
	require.NoError(t, err)
	assert.Equal(t, models.DuelCompleted, duel.Status)

	_, err = env.service.ConfirmSeen(ctx, duel.Id, "C")
	assert.ErrorIs(t, err, store.ErrNotParticipant)

	stored, err := env.service.Get(ctx, duel.Id)
	require.NoError(t, err)
	assert.JSONEq(t, `{"score":"3-1"}`, string(stored.MatchData))
	assert.Equal(t, int64(200), env.total(t))
	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.Settlements))
}

func TestReportOutcome_DuplicateRejected(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	env.fund(t, "A", 100)
	env.fund(t, "B", 100)
	duel := env.activeDuel(t, "A", "B", 40)

	report := models.BotReport{DuelId: duel.Id, Region: "eu", WinnerId: "B"}
	_, err := env.service.ReportOutcome(ctx, report)
	require.NoError(t, err)

	_, err = env.service.ReportOutcome(ctx, report)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)
	_, err = env.service.ReportOutcome(ctx, models.BotReport{DuelId: duel.Id, Region: "eu", WinnerId: "A"})
	assert.ErrorIs(t, err, store.ErrInvalidTransition)

	assert.Equal(t, int64(60), env.balance(t, "A"))
	assert.Equal(t, int64(140), env.balance(t, "B"))
}

func TestReportOutcome_ConcurrentReportsPayOnce(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	env.fund(t, "A", 100)
	env.fund(t, "B", 100)
	duel := env.activeDuel(t, "A", "B", 25)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.service.ReportOutcome(ctx, models.BotReport{DuelId: duel.Id, Region: "eu", WinnerId: "A"})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, store.ErrInvalidTransition)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, int64(125), env.balance(t, "A"))
	assert.Equal(t, int64(200), env.total(t))
}

func TestReportOutcome_Forfeit(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	env.fund(t, "A", 100)
	env.fund(t, "B", 100)
	duel := env.activeDuel(t, "A", "B", 10)

	_, err := env.service.ReportOutcome(ctx, models.BotReport{DuelId: duel.Id, Region: "na", WinnerId: "A"})
	assert.ErrorIs(t, err, store.ErrUnknownRegion)

	_, err = env.service.ReportOutcome(ctx, models.BotReport{DuelId: duel.Id, Region: "eu"})
	assert.Error(t, err)

	_, err = env.service.ReportOutcome(ctx, models.BotReport{DuelId: duel.Id, Region: "eu", ForfeitingPlayerId: "Z"})
	assert.ErrorIs(t, err, store.ErrNotParticipant)

	settled, err := env.service.ReportOutcome(ctx, models.BotReport{DuelId: duel.Id, Region: "eu", ForfeitingPlayerId: "A"})
	require.NoError(t, err)
	assert.Equal(t, "B", settled.WinnerId)
	assert.Equal(t, int64(110), env.balance(t, "B"))
}

func TestClaimAndConfirmResult(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	env.fund(t, "A", 100)
	env.fund(t, "B", 100)
	duel := env.activeDuel(t, "A", "B", 20)

	_, err := env.service.ClaimResult(ctx, duel.Id, "A", "C")
	assert.ErrorIs(t, err, store.ErrNotParticipant)

	claimed, err := env.service.ClaimResult(ctx, duel.Id, "A", "A")
	require.NoError(t, err)
	assert.Equal(t, models.DuelAwaitingResult, claimed.Status)

	_, err = env.service.ClaimResult(ctx, duel.Id, "B", "B")
	assert.ErrorIs(t, err, store.ErrInvalidTransition)

	_, err = env.service.ConfirmResult(ctx, duel.Id, "A")
	assert.ErrorIs(t, err, store.ErrNotParticipant)

	settled, err := env.service.ConfirmResult(ctx, duel.Id, "B")
	require.NoError(t, err)
	assert.Equal(t, "A", settled.WinnerId)
	assert.Equal(t, int64(120), env.balance(t, "A"))
	assert.Equal(t, int64(80), env.balance(t, "B"))
}

func TestDisputeAndResolve(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	env.fund(t, "A", 100)
	env.fund(t, "B", 100)

	t.Run("void refunds both", func(t *testing.T) {
		duel := env.activeDuel(t, "A", "B", 30)
		_, err := env.service.Dispute(ctx, duel.Id, "C", "cheating")
		assert.ErrorIs(t, err, store.ErrNotParticipant)

		disputed, err := env.service.Dispute(ctx, duel.Id, "B", "cheating")
		require.NoError(t, err)
		assert.Equal(t, models.DuelDisputed, disputed.Status)

		// Disputed duels ignore the bot.
		_, err = env.service.ReportOutcome(ctx, models.BotReport{DuelId: duel.Id, Region: "eu", WinnerId: "A"})
		assert.ErrorIs(t, err, store.ErrInvalidTransition)

		voided, err := env.service.Resolve(ctx, duel.Id, models.ResolutionVoid)
		require.NoError(t, err)
		assert.Equal(t, models.DuelCancelled, voided.Status)
		assert.Equal(t, int64(100), env.balance(t, "A"))
		assert.Equal(t, int64(100), env.balance(t, "B"))
	})

	t.Run("opponent wins", func(t *testing.T) {
		duel := env.activeDuel(t, "A", "B", 30)
		_, err := env.service.Resolve(ctx, duel.Id, models.ResolutionOpponentWins)
		assert.ErrorIs(t, err, store.ErrInvalidTransition)

		_, err = env.service.ClaimResult(ctx, duel.Id, "A", "A")
		require.NoError(t, err)
		_, err = env.service.Dispute(ctx, duel.Id, "B", "wrong claim")
		require.NoError(t, err)

		resolved, err := env.service.Resolve(ctx, duel.Id, models.ResolutionOpponentWins)
		require.NoError(t, err)
		assert.Equal(t, models.DuelCompletedUnseen, resolved.Status)
		assert.Equal(t, "B", resolved.WinnerId)
		assert.Equal(t, int64(130), env.balance(t, "B"))

		_, err = env.service.Resolve(ctx, duel.Id, models.ResolutionCreatorWins)
		assert.ErrorIs(t, err, store.ErrInvalidTransition)
	})

	assert.Equal(t, int64(200), env.total(t))
}

func TestCreate_Validation(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	env.fund(t, "A", 100)
	env.fund(t, "B", 100)

	tests := []struct {
		name    string
		params  CreateParams
		wantErr error
	}{
		{"zero stake", CreateParams{CreatorId: "A", StakeAmount: 0, Region: "eu"}, store.ErrInvalidAmount},
		{"self challenge", CreateParams{CreatorId: "A", OpponentId: "A", StakeAmount: 5, Region: "eu"}, store.ErrNotParticipant},
		{"unknown region", CreateParams{CreatorId: "A", StakeAmount: 5, Region: "mars"}, store.ErrUnknownRegion},
		{"over balance", CreateParams{CreatorId: "A", StakeAmount: 101, Region: "eu"}, store.ErrInsufficientFunds},
		{"unknown opponent", CreateParams{CreatorId: "A", OpponentId: "ghost", StakeAmount: 5, Region: "eu"}, store.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.service.Create(ctx, tt.params)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	// A region with no live bot is allowed unless required.
	_, err := env.service.Create(ctx, CreateParams{CreatorId: "A", StakeAmount: 5, Region: "na"})
	require.NoError(t, err)

	env.service.requireLiveBot = true
	_, err = env.service.Create(ctx, CreateParams{CreatorId: "A", StakeAmount: 5, Region: "na"})
	assert.ErrorIs(t, err, store.ErrExternalService)
}

func TestDirectedChallenge_DeclineAndCancel(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	env.fund(t, "A", 100)
	env.fund(t, "B", 100)
	env.fund(t, "C", 100)

	duel, err := env.service.Create(ctx, CreateParams{CreatorId: "A", OpponentId: "B", StakeAmount: 10, Region: "eu"})
	require.NoError(t, err)
	assert.Equal(t, models.DuelPendingAcceptance, duel.Status)

	_, err = env.service.Accept(ctx, duel.Id, "C")
	assert.ErrorIs(t, err, store.ErrNotParticipant)
	_, err = env.service.Decline(ctx, duel.Id, "C")
	assert.ErrorIs(t, err, store.ErrNotParticipant)

	declined, err := env.service.Decline(ctx, duel.Id, "B")
	require.NoError(t, err)
	assert.Equal(t, models.DuelCancelled, declined.Status)

	open, err := env.service.Create(ctx, CreateParams{CreatorId: "A", StakeAmount: 10, Region: "eu"})
	require.NoError(t, err)
	_, err = env.service.Cancel(ctx, open.Id, "B")
	assert.ErrorIs(t, err, store.ErrNotParticipant)
	cancelled, err := env.service.Cancel(ctx, open.Id, "A")
	require.NoError(t, err)
	assert.Equal(t, models.DuelCancelled, cancelled.Status)

	_, err = env.service.Accept(ctx, open.Id, "B")
	assert.ErrorIs(t, err, store.ErrInvalidTransition)
	assert.Equal(t, int64(300), env.total(t))
}

func TestAccept_InsufficientFundsStaysPending(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	env.fund(t, "A", 100)
	env.fund(t, "B", 20)

	duel, err := env.service.Create(ctx, CreateParams{CreatorId: "A", StakeAmount: 50, Region: "eu"})
	require.NoError(t, err)

	_, err = env.service.Accept(ctx, duel.Id, "B")
	require.ErrorIs(t, err, store.ErrInsufficientFunds)

	open, err := env.service.ListOpenChallenges(ctx, 10)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, duel.Id, open[0].Id)
	assert.Equal(t, int64(100), env.balance(t, "A"))
}
