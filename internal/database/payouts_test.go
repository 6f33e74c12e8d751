package database

import (
	"context"
	"testing"

	"duel-settlement-go/internal/models"
	"duel-settlement-go/internal/store"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPayout(t *testing.T, svc *Service, userId string, amount int64) *models.PayoutRequest {
	t.Helper()
	request := &models.PayoutRequest{
		Id:                 uuid.New().String(),
		UserId:             userId,
		GemAmount:          amount,
		DestinationAddress: "0x1111111111111111111111111111111111111111",
		TokenType:          "USDC",
	}
	require.NoError(t, svc.CreatePayout(context.Background(), request))
	return request
}

func TestCreatePayout_Escrows(t *testing.T) {
	svc := setupTestService(t)
	fundAccount(t, svc, "alice", 100)

	request := newPayout(t, svc, "alice", 60)
	assert.Equal(t, models.PayoutPending, request.Status)
	assert.Equal(t, int64(40), balanceOf(t, svc, "alice"))

	err := svc.CreatePayout(context.Background(), &models.PayoutRequest{
		Id: uuid.New().String(), UserId: "alice", GemAmount: 41, DestinationAddress: "0xdead", TokenType: "USDC",
	})
	require.ErrorIs(t, err, store.ErrInsufficientFunds)
	assert.Equal(t, int64(40), balanceOf(t, svc, "alice"))

	pending, err := svc.ListPayouts(context.Background(), models.PayoutPending, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestRefundPayout_OnlyOnce(t *testing.T) {
	svc := setupTestService(t)
	ctx := context.Background()
	fundAccount(t, svc, "alice", 100)
	request := newPayout(t, svc, "alice", 60)

	declined, err := svc.RefundPayout(ctx, store.RefundPayoutParams{
		RequestId:    request.Id,
		From:         []models.PayoutStatus{models.PayoutPending, models.PayoutApproved},
		To:           models.PayoutDeclined,
		ErrorMessage: "address on deny list",
	})
	require.NoError(t, err)
	assert.Equal(t, models.PayoutDeclined, declined.Status)
	assert.Equal(t, int64(100), balanceOf(t, svc, "alice"))

	_, err = svc.RefundPayout(ctx, store.RefundPayoutParams{
		RequestId: request.Id,
		From:      []models.PayoutStatus{models.PayoutPending, models.PayoutApproved},
		To:        models.PayoutDeclined,
	})
	assert.ErrorIs(t, err, store.ErrInvalidTransition)
	assert.Equal(t, int64(100), balanceOf(t, svc, "alice"))

	stored, err := svc.GetPayout(ctx, request.Id)
	require.NoError(t, err)
	assert.Equal(t, "address on deny list", stored.ErrorMessage)
	requireReconciled(t, svc, "alice")
}

func TestPayout_ApproveProcessComplete(t *testing.T) {
	svc := setupTestService(t)
	ctx := context.Background()
	fundAccount(t, svc, "alice", 100)
	request := newPayout(t, svc, "alice", 25)

	_, err := svc.TransitionPayout(ctx, store.TransitionPayoutParams{
		RequestId: request.Id,
		From:      []models.PayoutStatus{models.PayoutPending},
		To:        models.PayoutDeclined,
	})
	require.ErrorIs(t, err, store.ErrInvalidTransition)

	for _, step := range []store.TransitionPayoutParams{
		{RequestId: request.Id, From: []models.PayoutStatus{models.PayoutPending}, To: models.PayoutApproved},
		{RequestId: request.Id, From: []models.PayoutStatus{models.PayoutApproved}, To: models.PayoutProcessing},
		{RequestId: request.Id, From: []models.PayoutStatus{models.PayoutProcessing}, To: models.PayoutCompleted, TxHash: "activity-1"},
	} {
		_, err := svc.TransitionPayout(ctx, step)
		require.NoError(t, err, "to %s", step.To)
	}

	stored, err := svc.GetPayout(ctx, request.Id)
	require.NoError(t, err)
	assert.Equal(t, models.PayoutCompleted, stored.Status)
	assert.Equal(t, "activity-1", stored.TxHash)

	_, err = svc.RefundPayout(ctx, store.RefundPayoutParams{
		RequestId: request.Id,
		From:      []models.PayoutStatus{models.PayoutProcessing},
		To:        models.PayoutFailed,
	})
	assert.ErrorIs(t, err, store.ErrInvalidTransition)
	assert.Equal(t, int64(75), balanceOf(t, svc, "alice"))

	mine, err := svc.ListAccountPayouts(ctx, "alice", 10)
	require.NoError(t, err)
	assert.Len(t, mine, 1)
}
