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

package duel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"duel-settlement-go/internal/metrics"
	"duel-settlement-go/internal/models"
	"duel-settlement-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BotDirectory answers region questions for duel creation.
type BotDirectory interface {
	KnownRegion(region string) bool
	IsAlive(ctx context.Context, region string) bool
}

type ServiceConfig struct {
	Store          store.Store
	Bots           BotDirectory
	Metrics        *metrics.Metrics
	PlatformFeeBps int64
	MinStake       int64
	RequireLiveBot bool
}

// Service owns every duel transition. Money-moving transitions are delegated
// to the store as single transactions; this layer checks who may act.
type Service struct {
	store          store.Store
	bots           BotDirectory
	metrics        *metrics.Metrics
	platformFeeBps int64
	minStake       int64
	requireLiveBot bool
	now            func() time.Time
}

func NewService(cfg ServiceConfig) *Service {
	return &Service{
		store:          cfg.Store,
		bots:           cfg.Bots,
		metrics:        cfg.Metrics,
		platformFeeBps: cfg.PlatformFeeBps,
		minStake:       cfg.MinStake,
		requireLiveBot: cfg.RequireLiveBot,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

type CreateParams struct {
	CreatorId   string
	OpponentId  string
	StakeAmount int64
	Region      string
}

// Create opens a challenge. With an opponent it is addressed to that player
// (pending_acceptance); without one any other player may accept (pending_challenge).
// No funds move until acceptance.
func (s *Service) Create(ctx context.Context, params CreateParams) (*models.Duel, error) {
	if params.StakeAmount < s.minStake || params.StakeAmount <= 0 {
		return nil, fmt.Errorf("stake %d below minimum %d: %w", params.StakeAmount, s.minStake, store.ErrInvalidAmount)
	}
	if params.OpponentId == params.CreatorId {
		return nil, fmt.Errorf("cannot challenge yourself: %w", store.ErrNotParticipant)
	}
	if !s.bots.KnownRegion(params.Region) {
		return nil, fmt.Errorf("region %q: %w", params.Region, store.ErrUnknownRegion)
	}
	if !s.bots.IsAlive(ctx, params.Region) {
		if s.requireLiveBot {
			return nil, fmt.Errorf("no live bot in region %s: %w", params.Region, store.ErrExternalService)
		}
		zap.L().Warn("Creating duel in region without a live bot", zap.String("region", params.Region))
	}

	creator, err := s.store.GetAccount(ctx, params.CreatorId)
	if err != nil {
		return nil, err
	}
	// Advisory only; the stake is reserved at acceptance.
	if creator.Balance < params.StakeAmount {
		return nil, fmt.Errorf("balance %d below stake %d: %w", creator.Balance, params.StakeAmount, store.ErrInsufficientFunds)
	}
	if params.OpponentId != "" {
		if _, err := s.store.GetAccount(ctx, params.OpponentId); err != nil {
			return nil, err
		}
	}

	duel := &models.Duel{
		Id:          uuid.New().String(),
		CreatorId:   params.CreatorId,
		OpponentId:  params.OpponentId,
		StakeAmount: params.StakeAmount,
		Status:      models.DuelPendingChallenge,
		Region:      params.Region,
		CreatedAt:   s.now(),
	}
	if params.OpponentId != "" {
		duel.Status = models.DuelPendingAcceptance
	}
	if err := s.store.CreateDuel(ctx, duel); err != nil {
		return nil, err
	}

	s.metrics.DuelTransitions.WithLabelValues(string(duel.Status)).Inc()
	zap.L().Info("Duel created",
		zap.String("duel_id", duel.Id),
		zap.String("creator_id", duel.CreatorId),
		zap.String("opponent_id", duel.OpponentId),
		zap.Int64("stake", duel.StakeAmount),
		zap.String("region", duel.Region))
	return duel, nil
}

// Accept reserves both stakes and activates the duel. InsufficientFunds
// leaves it pending.
func (s *Service) Accept(ctx context.Context, duelId, accountId string) (*models.Duel, error) {
	duel, err := s.store.AcceptDuel(ctx, store.AcceptDuelParams{
		DuelId:     duelId,
		OpponentId: accountId,
		At:         s.now(),
	})
	if err != nil {
		s.logRejected("accept", duelId, accountId, err)
		return nil, err
	}

	s.metrics.DuelTransitions.WithLabelValues(string(duel.Status)).Inc()
	zap.L().Info("Duel accepted",
		zap.String("duel_id", duel.Id),
		zap.String("opponent_id", accountId),
		zap.Int64("stake", duel.StakeAmount))
	return duel, nil
}

// Decline lets the named opponent refuse a directed challenge.
func (s *Service) Decline(ctx context.Context, duelId, accountId string) (*models.Duel, error) {
	duel, err := s.store.GetDuel(ctx, duelId)
	if err != nil {
		return nil, err
	}
	if duel.OpponentId == "" || duel.OpponentId != accountId {
		return nil, fmt.Errorf("only the challenged player may decline: %w", store.ErrNotParticipant)
	}
	return s.close(ctx, duel.Id, []models.DuelStatus{models.DuelPendingAcceptance}, models.DuelCancelled, "declined")
}

// Cancel lets the creator withdraw a challenge nobody has accepted yet.
func (s *Service) Cancel(ctx context.Context, duelId, accountId string) (*models.Duel, error) {
	duel, err := s.store.GetDuel(ctx, duelId)
	if err != nil {
		return nil, err
	}
	if duel.CreatorId != accountId {
		return nil, fmt.Errorf("only the creator may cancel: %w", store.ErrNotParticipant)
	}
	return s.close(ctx, duel.Id,
		[]models.DuelStatus{models.DuelPendingChallenge, models.DuelPendingAcceptance}, models.DuelCancelled, "cancelled by creator")
}

// ClaimResult records one participant's claim of the winner and waits for
// the other participant (or the bot) to settle it.
func (s *Service) ClaimResult(ctx context.Context, duelId, accountId, winnerId string) (*models.Duel, error) {
	duel, err := s.participantDuel(ctx, duelId, accountId)
	if err != nil {
		return nil, err
	}
	if !duel.IsParticipant(winnerId) {
		return nil, fmt.Errorf("claimed winner %s: %w", winnerId, store.ErrNotParticipant)
	}

	duel, err = s.store.TransitionDuel(ctx, store.TransitionDuelParams{
		DuelId:          duelId,
		From:            []models.DuelStatus{models.DuelActive},
		To:              models.DuelAwaitingResult,
		ClaimedWinnerId: winnerId,
		ClaimedBy:       accountId,
		At:              s.now(),
	})
	if err != nil {
		s.logRejected("claim", duelId, accountId, err)
		return nil, err
	}

	s.metrics.DuelTransitions.WithLabelValues(string(duel.Status)).Inc()
	zap.L().Info("Duel result claimed",
		zap.String("duel_id", duelId),
		zap.String("claimed_by", accountId),
		zap.String("claimed_winner_id", winnerId))
	return duel, nil
}

// ConfirmResult settles a claimed duel when the other participant agrees.
func (s *Service) ConfirmResult(ctx context.Context, duelId, accountId string) (*models.Duel, error) {
	duel, err := s.participantDuel(ctx, duelId, accountId)
	if err != nil {
		return nil, err
	}
	if duel.Status != models.DuelAwaitingResult {
		return nil, fmt.Errorf("duel %s is %s: %w", duelId, duel.Status, store.ErrInvalidTransition)
	}
	if duel.ClaimedBy == accountId {
		return nil, fmt.Errorf("claim must be confirmed by the other player: %w", store.ErrNotParticipant)
	}
	return s.settle(ctx, duel.Id, duel.ClaimedWinnerId, []models.DuelStatus{models.DuelAwaitingResult}, nil, "player_confirmed")
}

// ReportOutcome applies a bot's verdict. The duel must still be active or
// awaiting a result, so a retried or duplicated report is rejected with
// ErrInvalidTransition instead of paying twice.
func (s *Service) ReportOutcome(ctx context.Context, report models.BotReport) (*models.Duel, error) {
	if (report.WinnerId == "") == (report.ForfeitingPlayerId == "") {
		return nil, fmt.Errorf("report needs exactly one of winner or forfeiting player")
	}

	duel, err := s.store.GetDuel(ctx, report.DuelId)
	if err != nil {
		return nil, err
	}
	if duel.Region != report.Region {
		return nil, fmt.Errorf("duel %s is judged in %s, not %s: %w", duel.Id, duel.Region, report.Region, store.ErrUnknownRegion)
	}

	winnerId := report.WinnerId
	outcome := "winner"
	if report.ForfeitingPlayerId != "" {
		if !duel.IsParticipant(report.ForfeitingPlayerId) {
			return nil, fmt.Errorf("forfeiting player %s: %w", report.ForfeitingPlayerId, store.ErrNotParticipant)
		}
		winnerId = duel.OtherParticipant(report.ForfeitingPlayerId)
		outcome = "forfeit"
	}

	settled, err := s.settle(ctx, duel.Id, winnerId,
		[]models.DuelStatus{models.DuelActive, models.DuelAwaitingResult}, report.MatchData, "bot_"+outcome)
	if err != nil {
		s.metrics.BotReports.WithLabelValues("rejected").Inc()
		return nil, err
	}
	s.metrics.BotReports.WithLabelValues(outcome).Inc()
	return settled, nil
}

// Dispute freezes the duel with both stakes still reserved until an admin resolves it.
func (s *Service) Dispute(ctx context.Context, duelId, accountId, reason string) (*models.Duel, error) {
	if _, err := s.participantDuel(ctx, duelId, accountId); err != nil {
		return nil, err
	}

	duel, err := s.store.TransitionDuel(ctx, store.TransitionDuelParams{
		DuelId: duelId,
		From:   []models.DuelStatus{models.DuelActive, models.DuelAwaitingResult},
		To:     models.DuelDisputed,
		At:     s.now(),
	})
	if err != nil {
		s.logRejected("dispute", duelId, accountId, err)
		return nil, err
	}

	s.metrics.DuelTransitions.WithLabelValues(string(duel.Status)).Inc()
	zap.L().Info("Duel disputed",
		zap.String("duel_id", duelId),
		zap.String("disputed_by", accountId),
		zap.String("reason", reason))
	return duel, nil
}

// ConfirmSeen is the read receipt that completes a settled duel. Either
// participant may send it; a second receipt is a no-op.
func (s *Service) ConfirmSeen(ctx context.Context, duelId, accountId string) (*models.Duel, error) {
	duel, err := s.participantDuel(ctx, duelId, accountId)
	if err != nil {
		return nil, err
	}
	if duel.Status == models.DuelCompleted {
		return duel, nil
	}

	seen, err := s.store.TransitionDuel(ctx, store.TransitionDuelParams{
		DuelId: duelId,
		From:   []models.DuelStatus{models.DuelCompletedUnseen},
		To:     models.DuelCompleted,
		At:     s.now(),
	})
	if err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			// Lost the race to the other participant.
			if current, getErr := s.store.GetDuel(ctx, duelId); getErr == nil && current.Status == models.DuelCompleted {
				return current, nil
			}
		}
		return nil, err
	}

	s.metrics.DuelTransitions.WithLabelValues(string(seen.Status)).Inc()
	return seen, nil
}

// Resolve is the admin verdict on a disputed duel.
func (s *Service) Resolve(ctx context.Context, duelId string, resolution models.Resolution) (*models.Duel, error) {
	duel, err := s.store.GetDuel(ctx, duelId)
	if err != nil {
		return nil, err
	}

	from := []models.DuelStatus{models.DuelDisputed}
	switch resolution {
	case models.ResolutionCreatorWins:
		return s.settle(ctx, duelId, duel.CreatorId, from, nil, "admin_resolution")
	case models.ResolutionOpponentWins:
		return s.settle(ctx, duelId, duel.OpponentId, from, nil, "admin_resolution")
	case models.ResolutionVoid:
		return s.close(ctx, duelId, from, models.DuelCancelled, "voided by admin")
	default:
		return nil, fmt.Errorf("unknown resolution %q", resolution)
	}
}

func (s *Service) Get(ctx context.Context, duelId string) (*models.Duel, error) {
	return s.store.GetDuel(ctx, duelId)
}

func (s *Service) ListForAccount(ctx context.Context, accountId string, limit int) ([]models.Duel, error) {
	return s.store.ListAccountDuels(ctx, accountId, limit)
}

func (s *Service) ListOpenChallenges(ctx context.Context, limit int) ([]models.Duel, error) {
	return s.store.ListOpenChallenges(ctx, limit)
}

func (s *Service) participantDuel(ctx context.Context, duelId, accountId string) (*models.Duel, error) {
	duel, err := s.store.GetDuel(ctx, duelId)
	if err != nil {
		return nil, err
	}
	if !duel.IsParticipant(accountId) {
		return nil, fmt.Errorf("account %s in duel %s: %w", accountId, duelId, store.ErrNotParticipant)
	}
	return duel, nil
}

func (s *Service) settle(ctx context.Context, duelId, winnerId string, from []models.DuelStatus, matchData []byte, source string) (*models.Duel, error) {
	duel, err := s.store.SettleDuel(ctx, store.SettleDuelParams{
		DuelId:       duelId,
		WinnerId:     winnerId,
		From:         from,
		FeeBps:       s.platformFeeBps,
		FeeAccountId: models.HouseAccountId,
		MatchData:    matchData,
		At:           s.now(),
	})
	if err != nil {
		s.logRejected("settle:"+source, duelId, winnerId, err)
		return nil, err
	}

	s.metrics.Settlements.Inc()
	s.metrics.DuelTransitions.WithLabelValues(string(duel.Status)).Inc()
	return duel, nil
}

func (s *Service) close(ctx context.Context, duelId string, from []models.DuelStatus, to models.DuelStatus, reason string) (*models.Duel, error) {
	holdsStake := false
	for _, status := range from {
		holdsStake = holdsStake || status.HoldsStake()
	}

	duel, err := s.store.RefundDuel(ctx, store.RefundDuelParams{
		DuelId: duelId,
		From:   from,
		To:     to,
		Reason: reason,
		At:     s.now(),
	})
	if err != nil {
		s.logRejected(string(to), duelId, "", err)
		return nil, err
	}

	if holdsStake {
		s.metrics.StakeRefunds.WithLabelValues(reason).Inc()
	}
	s.metrics.DuelTransitions.WithLabelValues(string(duel.Status)).Inc()
	return duel, nil
}

// logRejected keeps race losses and idempotent replays out of the error log.
func (s *Service) logRejected(action, duelId, accountId string, err error) {
	fields := []zap.Field{
		zap.String("action", action),
		zap.String("duel_id", duelId),
		zap.String("account_id", accountId),
		zap.Error(err),
	}
	switch {
	case store.IsBenign(err):
		zap.L().Debug("Duel action lost race or replayed", fields...)
	case errors.Is(err, store.ErrInsufficientFunds), errors.Is(err, store.ErrNotParticipant), errors.Is(err, store.ErrNotFound):
		zap.L().Info("Duel action rejected", fields...)
	default:
		zap.L().Error("Duel action failed", fields...)
	}
}
