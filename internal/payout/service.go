/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package payout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"duel-settlement-go/internal/metrics"
	"duel-settlement-go/internal/models"
	"duel-settlement-go/internal/store"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Sender performs the on-chain withdrawal for an approved payout.
type Sender interface {
	Send(ctx context.Context, request models.PayoutRequest) (*models.SendResult, error)
}

type ServiceConfig struct {
	Store       store.PayoutStore
	Sender      Sender
	Metrics     *metrics.Metrics
	Tokens      []models.TokenConfig
	MinAmount   int64
	SendTimeout time.Duration
}

type Service struct {
	store       store.PayoutStore
	sender      Sender
	metrics     *metrics.Metrics
	tokens      map[string]models.TokenConfig
	minAmount   int64
	sendTimeout time.Duration
	validate    *validator.Validate
}

func NewService(cfg ServiceConfig) *Service {
	tokens := make(map[string]models.TokenConfig, len(cfg.Tokens))
	for _, token := range cfg.Tokens {
		tokens[strings.ToUpper(token.Type)] = token
	}
	sendTimeout := cfg.SendTimeout
	if sendTimeout <= 0 {
		sendTimeout = 30 * time.Second
	}
	return &Service{
		store:       cfg.Store,
		sender:      cfg.Sender,
		metrics:     cfg.Metrics,
		tokens:      tokens,
		minAmount:   cfg.MinAmount,
		sendTimeout: sendTimeout,
		validate:    validator.New(),
	}
}

type RequestParams struct {
	UserId             string `validate:"required"`
	GemAmount          int64  `validate:"gt=0"`
	DestinationAddress string `validate:"required,min=10,max=128"`
	TokenType          string `validate:"required"`
}

// Request escrows GemAmount from the user and opens a pending payout. Nothing
// is written when the balance is short.
func (s *Service) Request(ctx context.Context, params RequestParams) (*models.PayoutRequest, error) {
	if err := s.validate.Struct(params); err != nil {
		return nil, fmt.Errorf("invalid payout request: %w", err)
	}
	token, ok := s.tokens[strings.ToUpper(params.TokenType)]
	if !ok {
		return nil, fmt.Errorf("token %q: %w", params.TokenType, store.ErrUnknownToken)
	}
	if params.GemAmount < s.minAmount {
		return nil, fmt.Errorf("amount %d below minimum %d: %w", params.GemAmount, s.minAmount, store.ErrInvalidAmount)
	}

	request := &models.PayoutRequest{
		Id:                 uuid.New().String(),
		UserId:             params.UserId,
		GemAmount:          params.GemAmount,
		DestinationAddress: params.DestinationAddress,
		TokenType:          token.Type,
	}
	if err := s.store.CreatePayout(ctx, request); err != nil {
		if errors.Is(err, store.ErrInsufficientFunds) {
			zap.L().Info("Payout rejected for insufficient funds",
				zap.String("user_id", params.UserId),
				zap.Int64("amount", params.GemAmount))
		}
		return nil, err
	}

	zap.L().Info("Payout requested",
		zap.String("request_id", request.Id),
		zap.String("user_id", request.UserId),
		zap.Int64("amount", request.GemAmount),
		zap.String("token_type", request.TokenType))
	return request, nil
}

// Cancel lets the requester withdraw a payout that is still pending.
func (s *Service) Cancel(ctx context.Context, requestId, userId string) (*models.PayoutRequest, error) {
	request, err := s.store.GetPayout(ctx, requestId)
	if err != nil {
		return nil, err
	}
	if request.UserId != userId {
		return nil, fmt.Errorf("payout %s belongs to another user: %w", requestId, store.ErrNotParticipant)
	}
	return s.refund(ctx, requestId, []models.PayoutStatus{models.PayoutPending}, models.PayoutCancelled, "cancelled by user")
}

// Approve authorises a pending payout and sends it. The status moves to
// processing before the send and the send runs outside any transaction.
func (s *Service) Approve(ctx context.Context, requestId string) (*models.PayoutRequest, error) {
	request, err := s.store.TransitionPayout(ctx, store.TransitionPayoutParams{
		RequestId: requestId,
		From:      []models.PayoutStatus{models.PayoutPending},
		To:        models.PayoutApproved,
	})
	if err != nil {
		s.logRejected("approve", requestId, err)
		return nil, err
	}
	zap.L().Info("Payout approved", zap.String("request_id", requestId))
	return s.execute(ctx, request.Id)
}

// Decline refunds a payout that has not been sent.
func (s *Service) Decline(ctx context.Context, requestId, reason string) (*models.PayoutRequest, error) {
	return s.refund(ctx, requestId,
		[]models.PayoutStatus{models.PayoutPending, models.PayoutApproved}, models.PayoutDeclined, reason)
}

// FailStuck refunds a payout left in processing after an admin has confirmed
// nothing was sent.
func (s *Service) FailStuck(ctx context.Context, requestId, reason string) (*models.PayoutRequest, error) {
	return s.refund(ctx, requestId, []models.PayoutStatus{models.PayoutProcessing}, models.PayoutFailed, reason)
}

// CompleteStuck records the tx hash of a payout left in processing that did reach the chain.
func (s *Service) CompleteStuck(ctx context.Context, requestId, txHash string) (*models.PayoutRequest, error) {
	if txHash == "" {
		return nil, fmt.Errorf("tx hash is required to complete payout %s", requestId)
	}
	request, err := s.store.TransitionPayout(ctx, store.TransitionPayoutParams{
		RequestId: requestId,
		From:      []models.PayoutStatus{models.PayoutProcessing},
		To:        models.PayoutCompleted,
		TxHash:    txHash,
	})
	if err != nil {
		s.logRejected("complete", requestId, err)
		return nil, err
	}
	s.metrics.PayoutOutcomes.WithLabelValues(string(request.Status)).Inc()
	zap.L().Info("Stuck payout completed manually",
		zap.String("request_id", requestId),
		zap.String("tx_hash", txHash))
	return request, nil
}

// ResumeApproved sends payouts that were approved but never reached
// processing, e.g. because the process stopped in between.
func (s *Service) ResumeApproved(ctx context.Context, limit int) (int, error) {
	approved, err := s.store.ListPayouts(ctx, models.PayoutApproved, limit)
	if err != nil {
		return 0, err
	}

	resumed := 0
	for _, request := range approved {
		if _, err := s.execute(ctx, request.Id); err != nil {
			if ctx.Err() != nil {
				return resumed, ctx.Err()
			}
			continue
		}
		resumed++
	}
	if len(approved) > 0 {
		zap.L().Info("Resumed approved payouts", zap.Int("found", len(approved)), zap.Int("resumed", resumed))
	}
	return resumed, nil
}

func (s *Service) Get(ctx context.Context, requestId string) (*models.PayoutRequest, error) {
	return s.store.GetPayout(ctx, requestId)
}

func (s *Service) ListForAccount(ctx context.Context, userId string, limit int) ([]models.PayoutRequest, error) {
	return s.store.ListAccountPayouts(ctx, userId, limit)
}

func (s *Service) ListByStatus(ctx context.Context, status models.PayoutStatus, limit int) ([]models.PayoutRequest, error) {
	return s.store.ListPayouts(ctx, status, limit)
}

func (s *Service) execute(ctx context.Context, requestId string) (*models.PayoutRequest, error) {
	request, err := s.store.TransitionPayout(ctx, store.TransitionPayoutParams{
		RequestId: requestId,
		From:      []models.PayoutStatus{models.PayoutApproved},
		To:        models.PayoutProcessing,
	})
	if err != nil {
		s.logRejected("process", requestId, err)
		return nil, err
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	result, sendErr := s.sender.Send(sendCtx, *request)
	cancel()

	if sendErr != nil {
		if errors.Is(sendErr, context.DeadlineExceeded) || errors.Is(sendErr, context.Canceled) {
			// The send may or may not have reached the chain; leave it for an admin.
			zap.L().Warn("Payout send outcome unknown, left in processing",
				zap.String("request_id", requestId),
				zap.Error(sendErr))
			return request, fmt.Errorf("payout %s: %v: %w", requestId, sendErr, store.ErrExternalService)
		}

		zap.L().Error("Payout send failed, refunding",
			zap.String("request_id", requestId),
			zap.String("user_id", request.UserId),
			zap.Int64("amount", request.GemAmount),
			zap.Error(sendErr))
		failed, err := s.refund(ctx, requestId, []models.PayoutStatus{models.PayoutProcessing}, models.PayoutFailed, sendErr.Error())
		if err != nil {
			return nil, err
		}
		return failed, fmt.Errorf("payout %s: %v: %w", requestId, sendErr, store.ErrExternalService)
	}

	completed, err := s.store.TransitionPayout(ctx, store.TransitionPayoutParams{
		RequestId: requestId,
		From:      []models.PayoutStatus{models.PayoutProcessing},
		To:        models.PayoutCompleted,
		TxHash:    result.TxHash,
	})
	if err != nil {
		zap.L().Error("Payout sent but completion not recorded",
			zap.String("request_id", requestId),
			zap.String("tx_hash", result.TxHash),
			zap.Error(err))
		return nil, err
	}

	s.metrics.PayoutOutcomes.WithLabelValues(string(completed.Status)).Inc()
	zap.L().Info("Payout completed",
		zap.String("request_id", requestId),
		zap.String("user_id", completed.UserId),
		zap.Int64("amount", completed.GemAmount),
		zap.String("tx_hash", completed.TxHash))
	return completed, nil
}

func (s *Service) refund(ctx context.Context, requestId string, from []models.PayoutStatus, to models.PayoutStatus, reason string) (*models.PayoutRequest, error) {
	request, err := s.store.RefundPayout(ctx, store.RefundPayoutParams{
		RequestId:    requestId,
		From:         from,
		To:           to,
		ErrorMessage: reason,
	})
	if err != nil {
		s.logRejected(string(to), requestId, err)
		return nil, err
	}

	s.metrics.PayoutOutcomes.WithLabelValues(string(request.Status)).Inc()
	zap.L().Info("Payout refunded",
		zap.String("request_id", requestId),
		zap.String("user_id", request.UserId),
		zap.Int64("amount", request.GemAmount),
		zap.String("status", string(request.Status)),
		zap.String("reason", reason))
	return request, nil
}

func (s *Service) logRejected(action, requestId string, err error) {
	if store.IsBenign(err) || errors.Is(err, store.ErrNotFound) {
		zap.L().Debug("Payout action rejected",
			zap.String("action", action),
			zap.String("request_id", requestId),
			zap.Error(err))
		return
	}
	zap.L().Error("Payout action failed",
		zap.String("action", action),
		zap.String("request_id", requestId),
		zap.Error(err))
}
