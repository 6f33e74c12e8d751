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

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"duel-settlement-go/internal/models"
	"duel-settlement-go/internal/store"

	"go.uber.org/zap"
)

func (s *Service) CreateDuel(ctx context.Context, duel *models.Duel) error {
	if duel.StakeAmount <= 0 {
		return store.ErrInvalidAmount
	}
	if !duel.Status.IsPending() {
		return fmt.Errorf("new duel must start pending, got %s", duel.Status)
	}
	now := s.now()
	if duel.CreatedAt.IsZero() {
		duel.CreatedAt = now
	}
	duel.UpdatedAt = duel.CreatedAt

	_, err := s.db.ExecContext(ctx, queryInsertDuel,
		duel.Id, duel.CreatorId, nullString(duel.OpponentId), duel.StakeAmount, string(duel.Status),
		duel.Region, nullBytes(duel.MatchData), duel.CreatedAt, duel.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert duel: %w", err)
	}
	return nil
}

func (s *Service) GetDuel(ctx context.Context, duelId string) (*models.Duel, error) {
	return getDuel(ctx, s.db, duelId)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getDuel(ctx context.Context, q queryRower, duelId string) (*models.Duel, error) {
	duel, err := scanDuel(q.QueryRowContext(ctx, queryGetDuel, duelId))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("duel", duelId)
	} else if err != nil {
		return nil, fmt.Errorf("failed to get duel: %w", err)
	}
	return duel, nil
}

func (s *Service) ListAccountDuels(ctx context.Context, accountId string, limit int) ([]models.Duel, error) {
	rows, err := s.db.QueryContext(ctx, queryListAccountDuels, accountId, accountId, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list duels: %w", err)
	}
	defer closeRows(rows)
	return collectDuels(rows)
}

func (s *Service) ListOpenChallenges(ctx context.Context, limit int) ([]models.Duel, error) {
	rows, err := s.db.QueryContext(ctx, queryListOpenChallenges, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list open challenges: %w", err)
	}
	defer closeRows(rows)
	return collectDuels(rows)
}

// ListExpirableDuels returns pending duels created before pendingBefore and
// in-play duels accepted before activeBefore.
func (s *Service) ListExpirableDuels(ctx context.Context, pendingBefore, activeBefore time.Time, limit int) ([]models.Duel, error) {
	rows, err := s.db.QueryContext(ctx, queryListExpirableDuels, pendingBefore, activeBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expirable duels: %w", err)
	}
	defer closeRows(rows)
	return collectDuels(rows)
}

// AcceptDuel reserves the stake from both players and activates the duel in
// one transaction. If either debit fails nothing is written and the duel stays pending.
func (s *Service) AcceptDuel(ctx context.Context, params store.AcceptDuelParams) (*models.Duel, error) {
	var duel *models.Duel
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		duel, err = getDuel(ctx, tx, params.DuelId)
		if err != nil {
			return err
		}
		if !duel.Status.CanTransitionTo(models.DuelActive) {
			return fmt.Errorf("duel %s is %s: %w", duel.Id, duel.Status, store.ErrInvalidTransition)
		}
		if params.OpponentId == duel.CreatorId {
			return fmt.Errorf("creator cannot accept own duel: %w", store.ErrNotParticipant)
		}
		if duel.Status == models.DuelPendingAcceptance && duel.OpponentId != params.OpponentId {
			return fmt.Errorf("duel %s is addressed to another player: %w", duel.Id, store.ErrNotParticipant)
		}

		at := params.At
		for _, accountId := range []string{duel.CreatorId, params.OpponentId} {
			_, _, err := applyAdjustment(ctx, tx, store.AdjustParams{
				AccountId:      accountId,
				Delta:          -duel.StakeAmount,
				ReservedDelta:  duel.StakeAmount,
				Type:           models.EntryStakeReserve,
				RelatedId:      duel.Id,
				IdempotencyKey: duel.Id + ":reserve:" + accountId,
				Description:    "Stake reserved for duel",
			}, at)
			if err != nil {
				return err
			}
		}

		if err := expectOneRow(tx.ExecContext(ctx, queryActivateDuel, params.OpponentId, at, at, duel.Id, string(duel.Status))); err != nil {
			return fmt.Errorf("duel %s: %w", duel.Id, err)
		}

		duel.Status = models.DuelActive
		duel.OpponentId = params.OpponentId
		duel.AcceptedAt = at
		duel.UpdatedAt = at
		return nil
	})
	if err != nil {
		return nil, err
	}
	return duel, nil
}

// SettleDuel credits the pot (minus the platform fee) to the winner, releases
// both reservations and moves the duel to completed_unseen, all in one transaction.
func (s *Service) SettleDuel(ctx context.Context, params store.SettleDuelParams) (*models.Duel, error) {
	var duel *models.Duel
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		duel, err = getDuel(ctx, tx, params.DuelId)
		if err != nil {
			return err
		}
		if !statusIn(duel.Status, params.From) || !duel.Status.CanTransitionTo(models.DuelCompletedUnseen) {
			return fmt.Errorf("duel %s is %s: %w", duel.Id, duel.Status, store.ErrInvalidTransition)
		}
		if params.WinnerId == "" || !duel.IsParticipant(params.WinnerId) {
			return fmt.Errorf("winner %s of duel %s: %w", params.WinnerId, duel.Id, store.ErrNotParticipant)
		}

		at := params.At
		pot := duel.Pot()
		fee := pot * params.FeeBps / 10000
		loserId := duel.OtherParticipant(params.WinnerId)

		entries := []store.AdjustParams{
			{
				AccountId:      params.WinnerId,
				Delta:          pot - fee,
				ReservedDelta:  -duel.StakeAmount,
				Type:           models.EntryDuelPayout,
				RelatedId:      duel.Id,
				IdempotencyKey: duel.Id + ":payout",
				Description:    "Duel won",
			},
			{
				AccountId:      loserId,
				ReservedDelta:  -duel.StakeAmount,
				Type:           models.EntryStakeForfeit,
				RelatedId:      duel.Id,
				IdempotencyKey: duel.Id + ":forfeit",
				Description:    "Duel lost",
			},
		}
		if fee > 0 {
			feeAccount := params.FeeAccountId
			if feeAccount == "" {
				feeAccount = models.HouseAccountId
			}
			entries = append(entries, store.AdjustParams{
				AccountId:      feeAccount,
				Delta:          fee,
				Type:           models.EntryPlatformFee,
				RelatedId:      duel.Id,
				IdempotencyKey: duel.Id + ":fee",
				Description:    "Platform fee",
			})
		}
		for _, entry := range entries {
			if _, _, err := applyAdjustment(ctx, tx, entry, at); err != nil {
				return err
			}
		}

		if err := expectOneRow(tx.ExecContext(ctx, querySettleDuel,
			params.WinnerId, fee, nullBytes(params.MatchData), at, duel.Id, string(duel.Status))); err != nil {
			return fmt.Errorf("duel %s: %w", duel.Id, err)
		}

		duel.Status = models.DuelCompletedUnseen
		duel.WinnerId = params.WinnerId
		duel.FeeAmount = fee
		if len(params.MatchData) > 0 {
			duel.MatchData = params.MatchData
		}
		duel.UpdatedAt = at
		return nil
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("Duel settled",
		zap.String("duel_id", duel.Id),
		zap.String("winner_id", duel.WinnerId),
		zap.Int64("pot", duel.Pot()),
		zap.Int64("fee", duel.FeeAmount))
	return duel, nil
}

// RefundDuel returns any reserved stakes to both players and moves the duel
// to params.To. Pending duels have nothing reserved and just change status.
func (s *Service) RefundDuel(ctx context.Context, params store.RefundDuelParams) (*models.Duel, error) {
	var duel *models.Duel
	var refunded bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		duel, err = getDuel(ctx, tx, params.DuelId)
		if err != nil {
			return err
		}
		if !statusIn(duel.Status, params.From) || !duel.Status.CanTransitionTo(params.To) {
			return fmt.Errorf("duel %s is %s: %w", duel.Id, duel.Status, store.ErrInvalidTransition)
		}

		at := params.At
		if duel.Status.HoldsStake() {
			for _, accountId := range []string{duel.CreatorId, duel.OpponentId} {
				_, _, err := applyAdjustment(ctx, tx, store.AdjustParams{
					AccountId:      accountId,
					Delta:          duel.StakeAmount,
					ReservedDelta:  -duel.StakeAmount,
					Type:           models.EntryStakeRefund,
					RelatedId:      duel.Id,
					IdempotencyKey: duel.Id + ":refund:" + accountId,
					Description:    "Stake refunded: " + params.Reason,
				}, at)
				if err != nil {
					return err
				}
			}
			refunded = true
		}

		if err := expectOneRow(tx.ExecContext(ctx, queryTransitionDuel,
			string(params.To), nil, nil, at, duel.Id, string(duel.Status))); err != nil {
			return fmt.Errorf("duel %s: %w", duel.Id, err)
		}

		duel.Status = params.To
		duel.UpdatedAt = at
		return nil
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("Duel closed",
		zap.String("duel_id", duel.Id),
		zap.String("status", string(duel.Status)),
		zap.Bool("stakes_refunded", refunded),
		zap.String("reason", params.Reason))
	return duel, nil
}

// TransitionDuel applies a status change that moves no money.
func (s *Service) TransitionDuel(ctx context.Context, params store.TransitionDuelParams) (*models.Duel, error) {
	var duel *models.Duel
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		duel, err = getDuel(ctx, tx, params.DuelId)
		if err != nil {
			return err
		}
		if !statusIn(duel.Status, params.From) || !duel.Status.CanTransitionTo(params.To) {
			return fmt.Errorf("duel %s is %s: %w", duel.Id, duel.Status, store.ErrInvalidTransition)
		}
		if params.To == models.DuelCompletedUnseen {
			return fmt.Errorf("settlement requires a payout: %w", store.ErrInvalidTransition)
		}
		if duel.Status.HoldsStake() && !params.To.HoldsStake() {
			return fmt.Errorf("duel %s holds stakes, use a refund: %w", duel.Id, store.ErrInvalidTransition)
		}

		at := params.At
		if err := expectOneRow(tx.ExecContext(ctx, queryTransitionDuel,
			string(params.To), nullString(params.ClaimedWinnerId), nullString(params.ClaimedBy),
			at, duel.Id, string(duel.Status))); err != nil {
			return fmt.Errorf("duel %s: %w", duel.Id, err)
		}

		duel.Status = params.To
		if params.ClaimedWinnerId != "" {
			duel.ClaimedWinnerId = params.ClaimedWinnerId
		}
		if params.ClaimedBy != "" {
			duel.ClaimedBy = params.ClaimedBy
		}
		duel.UpdatedAt = at
		return nil
	})
	if err != nil {
		return nil, err
	}
	return duel, nil
}

// expectOneRow turns a zero-row guarded update into store.ErrInvalidTransition.
func expectOneRow(result sql.Result, err error) error {
	if err != nil {
		return fmt.Errorf("failed to apply guarded update: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrInvalidTransition
	}
	return nil
}

func statusIn[T comparable](status T, allowed []T) bool {
	for _, candidate := range allowed {
		if candidate == status {
			return true
		}
	}
	return false
}

func collectDuels(rows *sql.Rows) ([]models.Duel, error) {
	var duels []models.Duel
	for rows.Next() {
		duel, err := scanDuel(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan duel: %w", err)
		}
		duels = append(duels, *duel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating duel rows: %w", err)
	}
	return duels, nil
}

func scanDuel(row rowScanner) (*models.Duel, error) {
	var duel models.Duel
	var status string
	var opponent, winner, claimedWinner, claimedBy, matchData sql.NullString
	var acceptedAt sql.NullTime
	err := row.Scan(&duel.Id, &duel.CreatorId, &opponent, &duel.StakeAmount, &status, &winner,
		&claimedWinner, &claimedBy, &duel.Region, &matchData, &duel.FeeAmount,
		&duel.CreatedAt, &duel.UpdatedAt, &acceptedAt)
	if err != nil {
		return nil, err
	}
	duel.Status = models.DuelStatus(status)
	duel.OpponentId = opponent.String
	duel.WinnerId = winner.String
	duel.ClaimedWinnerId = claimedWinner.String
	duel.ClaimedBy = claimedBy.String
	if matchData.Valid {
		duel.MatchData = []byte(matchData.String)
	}
	if acceptedAt.Valid {
		duel.AcceptedAt = acceptedAt.Time
	}
	return &duel, nil
}
