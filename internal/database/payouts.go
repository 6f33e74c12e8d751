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

	"duel-settlement-go/internal/models"
	"duel-settlement-go/internal/store"
)

// CreatePayout escrows the gem amount and inserts the pending request in one
// transaction. On InsufficientFunds nothing is written.
func (s *Service) CreatePayout(ctx context.Context, request *models.PayoutRequest) error {
	if request.GemAmount <= 0 {
		return store.ErrInvalidAmount
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		now := s.now()
		_, _, err := applyAdjustment(ctx, tx, store.AdjustParams{
			AccountId:      request.UserId,
			Delta:          -request.GemAmount,
			Type:           models.EntryPayoutEscrow,
			RelatedId:      request.Id,
			IdempotencyKey: request.Id + ":escrow",
			Description:    fmt.Sprintf("Withdrawal escrow (%s)", request.TokenType),
		}, now)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, queryInsertPayout,
			request.Id, request.UserId, request.GemAmount, request.DestinationAddress, request.TokenType, now, now); err != nil {
			return fmt.Errorf("failed to insert payout request: %w", err)
		}

		request.Status = models.PayoutPending
		request.CreatedAt = now
		request.UpdatedAt = now
		return nil
	})
}

func (s *Service) GetPayout(ctx context.Context, requestId string) (*models.PayoutRequest, error) {
	return getPayout(ctx, s.db, requestId)
}

func getPayout(ctx context.Context, q queryRower, requestId string) (*models.PayoutRequest, error) {
	request, err := scanPayout(q.QueryRowContext(ctx, queryGetPayout, requestId))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("payout request", requestId)
	} else if err != nil {
		return nil, fmt.Errorf("failed to get payout request: %w", err)
	}
	return request, nil
}

func (s *Service) ListPayouts(ctx context.Context, status models.PayoutStatus, limit int) ([]models.PayoutRequest, error) {
	rows, err := s.db.QueryContext(ctx, queryListPayoutsByStatus, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list payout requests: %w", err)
	}
	defer closeRows(rows)
	return collectPayouts(rows)
}

func (s *Service) ListAccountPayouts(ctx context.Context, accountId string, limit int) ([]models.PayoutRequest, error) {
	rows, err := s.db.QueryContext(ctx, queryListAccountPayouts, accountId, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list payout requests: %w", err)
	}
	defer closeRows(rows)
	return collectPayouts(rows)
}

// TransitionPayout applies a status change that moves no money.
func (s *Service) TransitionPayout(ctx context.Context, params store.TransitionPayoutParams) (*models.PayoutRequest, error) {
	if params.To.Refunded() {
		return nil, fmt.Errorf("payout %s to %s requires a refund: %w", params.RequestId, params.To, store.ErrInvalidTransition)
	}

	var request *models.PayoutRequest
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		request, err = getPayout(ctx, tx, params.RequestId)
		if err != nil {
			return err
		}
		if !statusIn(request.Status, params.From) || !request.Status.CanTransitionTo(params.To) {
			return fmt.Errorf("payout %s is %s: %w", request.Id, request.Status, store.ErrInvalidTransition)
		}

		now := s.now()
		if err := expectOneRow(tx.ExecContext(ctx, queryTransitionPayout,
			string(params.To), nullString(params.TxHash), nullString(params.ErrorMessage),
			now, request.Id, string(request.Status))); err != nil {
			return fmt.Errorf("payout %s: %w", request.Id, err)
		}

		request.Status = params.To
		if params.TxHash != "" {
			request.TxHash = params.TxHash
		}
		if params.ErrorMessage != "" {
			request.ErrorMessage = params.ErrorMessage
		}
		request.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return request, nil
}

// RefundPayout restores the escrow and moves the request to a refunded
// status. The refund entry is keyed by request id, and the status guard makes
// a second decline or failure a zero-row update.
func (s *Service) RefundPayout(ctx context.Context, params store.RefundPayoutParams) (*models.PayoutRequest, error) {
	if !params.To.Refunded() {
		return nil, fmt.Errorf("payout status %s does not refund: %w", params.To, store.ErrInvalidTransition)
	}

	var request *models.PayoutRequest
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		request, err = getPayout(ctx, tx, params.RequestId)
		if err != nil {
			return err
		}
		if !statusIn(request.Status, params.From) || !request.Status.CanTransitionTo(params.To) {
			return fmt.Errorf("payout %s is %s: %w", request.Id, request.Status, store.ErrInvalidTransition)
		}

		now := s.now()
		_, _, err = applyAdjustment(ctx, tx, store.AdjustParams{
			AccountId:      request.UserId,
			Delta:          request.GemAmount,
			Type:           models.EntryPayoutRefund,
			RelatedId:      request.Id,
			IdempotencyKey: request.Id + ":refund",
			Description:    fmt.Sprintf("Withdrawal %s", params.To),
		}, now)
		if err != nil {
			return err
		}

		if err := expectOneRow(tx.ExecContext(ctx, queryTransitionPayout,
			string(params.To), nil, nullString(params.ErrorMessage), now, request.Id, string(request.Status))); err != nil {
			return fmt.Errorf("payout %s: %w", request.Id, err)
		}

		request.Status = params.To
		if params.ErrorMessage != "" {
			request.ErrorMessage = params.ErrorMessage
		}
		request.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return request, nil
}

func collectPayouts(rows *sql.Rows) ([]models.PayoutRequest, error) {
	var requests []models.PayoutRequest
	for rows.Next() {
		request, err := scanPayout(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payout request: %w", err)
		}
		requests = append(requests, *request)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating payout rows: %w", err)
	}
	return requests, nil
}

func scanPayout(row rowScanner) (*models.PayoutRequest, error) {
	var request models.PayoutRequest
	var status string
	var txHash, errorMessage sql.NullString
	err := row.Scan(&request.Id, &request.UserId, &request.GemAmount, &request.DestinationAddress,
		&request.TokenType, &status, &txHash, &errorMessage, &request.CreatedAt, &request.UpdatedAt)
	if err != nil {
		return nil, err
	}
	request.Status = models.PayoutStatus(status)
	request.TxHash = txHash.String
	request.ErrorMessage = errorMessage.String
	return &request, nil
}
