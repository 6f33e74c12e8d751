package database

import (
	"context"
	"sync"
	"testing"
	"time"

	"duel-settlement-go/internal/models"
	"duel-settlement-go/internal/store"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDuel(t *testing.T, svc *Service, creatorId, opponentId string, stake int64) *models.Duel {
	t.Helper()
	duel := &models.Duel{
		Id:          uuid.New().String(),
		CreatorId:   creatorId,
		OpponentId:  opponentId,
		StakeAmount: stake,
		Status:      models.DuelPendingChallenge,
		Region:      "eu",
	}
	if opponentId != "" {
		duel.Status = models.DuelPendingAcceptance
	}
	require.NoError(t, svc.CreateDuel(context.Background(), duel))
	return duel
}

func accepted(t *testing.T, svc *Service, duel *models.Duel, opponentId string) *models.Duel {
	t.Helper()
	active, err := svc.AcceptDuel(context.Background(), store.AcceptDuelParams{
		DuelId:     duel.Id,
		OpponentId: opponentId,
		At:         time.Now().UTC(),
	})
	require.NoError(t, err)
	return active
}

func reservedOf(t *testing.T, svc *Service, accountId string) int64 {
	t.Helper()
	account, err := svc.GetAccount(context.Background(), accountId)
	require.NoError(t, err)
	return account.Reserved
}

func TestDuel_FullLifecycleConservesGems(t *testing.T) {
	svc := setupTestService(t)
	ctx := context.Background()
	fundAccount(t, svc, "a", 100)
	fundAccount(t, svc, "b", 100)

	duel := newDuel(t, svc, "a", "", 50)
	active := accepted(t, svc, duel, "b")
	assert.Equal(t, models.DuelActive, active.Status)
	assert.Equal(t, int64(50), balanceOf(t, svc, "a"))
	assert.Equal(t, int64(50), reservedOf(t, svc, "a"))
	assert.Equal(t, int64(50), balanceOf(t, svc, "b"))

	settled, err := svc.SettleDuel(ctx, store.SettleDuelParams{
		DuelId:   duel.Id,
		WinnerId: "a",
		From:     []models.DuelStatus{models.DuelActive},
		At:       time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.Equal(t, models.DuelCompletedUnseen, settled.Status)
	assert.Equal(t, "a", settled.WinnerId)

	assert.Equal(t, int64(150), balanceOf(t, svc, "a"))
	assert.Equal(t, int64(50), balanceOf(t, svc, "b"))
	assert.Zero(t, reservedOf(t, svc, "a"))
	assert.Zero(t, reservedOf(t, svc, "b"))

	total, err := svc.TotalBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(200), total)

	_, err = svc.SettleDuel(ctx, store.SettleDuelParams{
		DuelId:   duel.Id,
		WinnerId: "b",
		From:     []models.DuelStatus{models.DuelActive},
		At:       time.Now().UTC(),
	})
	assert.ErrorIs(t, err, store.ErrInvalidTransition)
	assert.Equal(t, int64(150), balanceOf(t, svc, "a"))

	seen, err := svc.TransitionDuel(ctx, store.TransitionDuelParams{
		DuelId: duel.Id,
		From:   []models.DuelStatus{models.DuelCompletedUnseen},
		To:     models.DuelCompleted,
		At:     time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.Equal(t, models.DuelCompleted, seen.Status)

	requireReconciled(t, svc, "a")
	requireReconciled(t, svc, "b")
}

func TestSettleDuel_FeeGoesToHouse(t *testing.T) {
	svc := setupTestService(t)
	ctx := context.Background()
	fundAccount(t, svc, "a", 100)
	fundAccount(t, svc, "b", 100)

	duel := newDuel(t, svc, "a", "b", 50)
	accepted(t, svc, duel, "b")

	settled, err := svc.SettleDuel(ctx, store.SettleDuelParams{
		DuelId:   duel.Id,
		WinnerId: "b",
		From:     []models.DuelStatus{models.DuelActive},
		FeeBps:   500,
		At:       time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), settled.FeeAmount)

	assert.Equal(t, int64(145), balanceOf(t, svc, "b"))
	assert.Equal(t, int64(5), balanceOf(t, svc, models.HouseAccountId))

	total, err := svc.TotalBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(200), total)
	requireReconciled(t, svc, models.HouseAccountId)
}

func TestAcceptDuel_InsufficientFundsLeavesDuelPending(t *testing.T) {
	svc := setupTestService(t)
	ctx := context.Background()
	fundAccount(t, svc, "a", 100)
	fundAccount(t, svc, "poor", 10)

	duel := newDuel(t, svc, "a", "", 50)
	_, err := svc.AcceptDuel(ctx, store.AcceptDuelParams{DuelId: duel.Id, OpponentId: "poor", At: time.Now().UTC()})
	require.ErrorIs(t, err, store.ErrInsufficientFunds)

	stored, err := svc.GetDuel(ctx, duel.Id)
	require.NoError(t, err)
	assert.Equal(t, models.DuelPendingChallenge, stored.Status)
	assert.Equal(t, int64(100), balanceOf(t, svc, "a"))
	assert.Zero(t, reservedOf(t, svc, "a"))
	assert.Equal(t, int64(10), balanceOf(t, svc, "poor"))
}

func TestAcceptDuel_ParticipantRules(t *testing.T) {
	svc := setupTestService(t)
	ctx := context.Background()
	fundAccount(t, svc, "a", 100)
	fundAccount(t, svc, "b", 100)
	fundAccount(t, svc, "c", 100)

	open := newDuel(t, svc, "a", "", 10)
	_, err := svc.AcceptDuel(ctx, store.AcceptDuelParams{DuelId: open.Id, OpponentId: "a", At: time.Now().UTC()})
	assert.ErrorIs(t, err, store.ErrNotParticipant)

	directed := newDuel(t, svc, "a", "b", 10)
	_, err = svc.AcceptDuel(ctx, store.AcceptDuelParams{DuelId: directed.Id, OpponentId: "c", At: time.Now().UTC()})
	assert.ErrorIs(t, err, store.ErrNotParticipant)

	challenges, err := svc.ListOpenChallenges(ctx, 10)
	require.NoError(t, err)
	require.Len(t, challenges, 1)
	assert.Equal(t, open.Id, challenges[0].Id)

	_, err = svc.AcceptDuel(ctx, store.AcceptDuelParams{DuelId: "missing", OpponentId: "b", At: time.Now().UTC()})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAcceptDuel_ConcurrentAcceptsOneWins(t *testing.T) {
	svc := setupTestService(t)
	ctx := context.Background()
	fundAccount(t, svc, "a", 100)
	challengers := []string{"b", "c", "d", "e"}
	for _, id := range challengers {
		fundAccount(t, svc, id, 100)
	}
	duel := newDuel(t, svc, "a", "", 40)

	var wg sync.WaitGroup
	errs := make(chan error, len(challengers))
	for _, id := range challengers {
		wg.Add(1)
		go func(opponentId string) {
			defer wg.Done()
			_, err := svc.AcceptDuel(ctx, store.AcceptDuelParams{DuelId: duel.Id, OpponentId: opponentId, At: time.Now().UTC()})
			errs <- err
		}(id)
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, store.ErrInvalidTransition)
	}
	assert.Equal(t, 1, succeeded)

	stored, err := svc.GetDuel(ctx, duel.Id)
	require.NoError(t, err)
	assert.Equal(t, models.DuelActive, stored.Status)
	assert.Equal(t, int64(60), balanceOf(t, svc, "a"))
	for _, id := range challengers {
		if id == stored.OpponentId {
			assert.Equal(t, int64(60), balanceOf(t, svc, id))
		} else {
			assert.Equal(t, int64(100), balanceOf(t, svc, id))
		}
	}
}

func TestRefundDuel(t *testing.T) {
	svc := setupTestService(t)
	ctx := context.Background()
	fundAccount(t, svc, "a", 100)
	fundAccount(t, svc, "b", 100)

	t.Run("active duel returns stakes", func(t *testing.T) {
		duel := newDuel(t, svc, "a", "", 30)
		accepted(t, svc, duel, "b")

		expired, err := svc.RefundDuel(ctx, store.RefundDuelParams{
			DuelId: duel.Id,
			From:   []models.DuelStatus{models.DuelActive, models.DuelAwaitingResult},
			To:     models.DuelExpired,
			Reason: "timed out",
			At:     time.Now().UTC(),
		})
		require.NoError(t, err)
		assert.Equal(t, models.DuelExpired, expired.Status)
		assert.Equal(t, int64(100), balanceOf(t, svc, "a"))
		assert.Equal(t, int64(100), balanceOf(t, svc, "b"))
		assert.Zero(t, reservedOf(t, svc, "b"))

		_, err = svc.RefundDuel(ctx, store.RefundDuelParams{
			DuelId: duel.Id,
			From:   []models.DuelStatus{models.DuelActive},
			To:     models.DuelExpired,
			At:     time.Now().UTC(),
		})
		assert.ErrorIs(t, err, store.ErrInvalidTransition)
	})

	t.Run("pending duel only changes status", func(t *testing.T) {
		duel := newDuel(t, svc, "a", "b", 30)
		cancelled, err := svc.RefundDuel(ctx, store.RefundDuelParams{
			DuelId: duel.Id,
			From:   []models.DuelStatus{models.DuelPendingAcceptance},
			To:     models.DuelCancelled,
			Reason: "declined",
			At:     time.Now().UTC(),
		})
		require.NoError(t, err)
		assert.Equal(t, models.DuelCancelled, cancelled.Status)

		history, err := svc.GetHistory(ctx, "a", 50, 0)
		require.NoError(t, err)
		for _, entry := range history {
			assert.NotEqual(t, duel.Id, entry.RelatedId)
		}
	})

	requireReconciled(t, svc, "a")
	requireReconciled(t, svc, "b")
}

func TestTransitionDuel_Guards(t *testing.T) {
	svc := setupTestService(t)
	ctx := context.Background()
	fundAccount(t, svc, "a", 100)
	fundAccount(t, svc, "b", 100)
	duel := newDuel(t, svc, "a", "", 10)
	accepted(t, svc, duel, "b")

	_, err := svc.TransitionDuel(ctx, store.TransitionDuelParams{
		DuelId: duel.Id,
		From:   []models.DuelStatus{models.DuelActive},
		To:     models.DuelCompletedUnseen,
		At:     time.Now().UTC(),
	})
	assert.ErrorIs(t, err, store.ErrInvalidTransition)

	_, err = svc.TransitionDuel(ctx, store.TransitionDuelParams{
		DuelId: duel.Id,
		From:   []models.DuelStatus{models.DuelActive},
		To:     models.DuelExpired,
		At:     time.Now().UTC(),
	})
	assert.ErrorIs(t, err, store.ErrInvalidTransition)

	claimed, err := svc.TransitionDuel(ctx, store.TransitionDuelParams{
		DuelId:          duel.Id,
		From:            []models.DuelStatus{models.DuelActive},
		To:              models.DuelAwaitingResult,
		ClaimedWinnerId: "a",
		ClaimedBy:       "a",
		At:              time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.Equal(t, models.DuelAwaitingResult, claimed.Status)

	stored, err := svc.GetDuel(ctx, duel.Id)
	require.NoError(t, err)
	assert.Equal(t, "a", stored.ClaimedWinnerId)
	assert.Equal(t, "a", stored.ClaimedBy)

	disputed, err := svc.TransitionDuel(ctx, store.TransitionDuelParams{
		DuelId: duel.Id,
		From:   []models.DuelStatus{models.DuelActive, models.DuelAwaitingResult},
		To:     models.DuelDisputed,
		At:     time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.Equal(t, models.DuelDisputed, disputed.Status)
	assert.Equal(t, int64(10), reservedOf(t, svc, "a"))
}

func TestListExpirableDuels(t *testing.T) {
	svc := setupTestService(t)
	ctx := context.Background()
	fundAccount(t, svc, "a", 100)
	fundAccount(t, svc, "b", 100)

	old := time.Now().UTC().Add(-2 * time.Hour)
	stale := &models.Duel{Id: "stale", CreatorId: "a", StakeAmount: 5, Status: models.DuelPendingChallenge, Region: "eu", CreatedAt: old}
	require.NoError(t, svc.CreateDuel(ctx, stale))
	fresh := newDuel(t, svc, "a", "", 5)

	playing := newDuel(t, svc, "a", "", 5)
	_, err := svc.AcceptDuel(ctx, store.AcceptDuelParams{DuelId: playing.Id, OpponentId: "b", At: old})
	require.NoError(t, err)

	cutoff := time.Now().UTC().Add(-time.Hour)
	duels, err := svc.ListExpirableDuels(ctx, cutoff, cutoff, 10)
	require.NoError(t, err)

	ids := make([]string, 0, len(duels))
	for _, d := range duels {
		ids = append(ids, d.Id)
	}
	assert.ElementsMatch(t, []string{"stale", playing.Id}, ids)
	assert.NotContains(t, ids, fresh.Id)

	mine, err := svc.ListAccountDuels(ctx, "b", 10)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, playing.Id, mine[0].Id)
}
