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

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// applyAdjustment is the only code path that writes accounts.balance. It runs
// inside the caller's transaction so the history row, the balance change and
// any status transition commit together.
//
// A non-empty idempotency key that already has a history row short-circuits:
// the original entry is returned with applied=false.
func applyAdjustment(ctx context.Context, tx *sql.Tx, params store.AdjustParams, at time.Time) (*models.HistoryEntry, bool, error) {
	if params.IdempotencyKey != "" {
		existing, err := scanHistoryEntry(tx.QueryRowContext(ctx, queryGetHistoryByKey, params.IdempotencyKey))
		if err == nil {
			zap.L().Debug("Idempotency key already applied",
				zap.String("idempotency_key", params.IdempotencyKey),
				zap.String("existing_entry_id", existing.Id))
			return existing, false, nil
		} else if !errors.Is(err, sql.ErrNoRows) {
			return nil, false, fmt.Errorf("failed to check idempotency key: %w", err)
		}
	}

	var balance, reserved, version int64
	err := tx.QueryRowContext(ctx, queryGetAccountBalance, params.AccountId).Scan(&balance, &reserved, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, notFound("account", params.AccountId)
	} else if err != nil {
		return nil, false, fmt.Errorf("failed to get current balance: %w", err)
	}

	newBalance := balance + params.Delta
	if newBalance < 0 {
		return nil, false, fmt.Errorf("account %s has %d, needs %d: %w",
			params.AccountId, balance, -params.Delta, store.ErrInsufficientFunds)
	}
	newReserved := reserved + params.ReservedDelta
	if newReserved < 0 {
		return nil, false, fmt.Errorf("account %s reserved %d cannot release %d", params.AccountId, reserved, -params.ReservedDelta)
	}

	entry := &models.HistoryEntry{
		Id:             uuid.New().String(),
		AccountId:      params.AccountId,
		Type:           params.Type,
		Amount:         params.Delta,
		ReservedDelta:  params.ReservedDelta,
		BalanceAfter:   newBalance,
		IdempotencyKey: params.IdempotencyKey,
		Description:    params.Description,
		RelatedId:      params.RelatedId,
		CreatedAt:      at,
	}

	_, err = tx.ExecContext(ctx, queryInsertHistory,
		entry.Id, entry.AccountId, string(entry.Type), entry.Amount, entry.ReservedDelta, entry.BalanceAfter,
		nullString(entry.IdempotencyKey), entry.Description, nullString(entry.RelatedId), entry.CreatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert history entry: %w", err)
	}

	// Optimistic version check on top of the immediate transaction lock.
	result, err := tx.ExecContext(ctx, queryUpdateAccountBalance, newBalance, newReserved, at, params.AccountId, version)
	if err != nil {
		return nil, false, fmt.Errorf("failed to update balance: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, false, fmt.Errorf("balance update failed - %w", store.ErrConcurrentModification)
	}

	zap.L().Debug("Balance adjusted",
		zap.String("account_id", params.AccountId),
		zap.String("type", string(params.Type)),
		zap.Int64("delta", params.Delta),
		zap.Int64("reserved_delta", params.ReservedDelta),
		zap.Int64("old_balance", balance),
		zap.Int64("new_balance", newBalance),
		zap.String("related_id", params.RelatedId))

	return entry, true, nil
}

// AdjustBalance applies a single standalone adjustment. A replayed idempotency
// key returns the original entry wrapped with store.ErrDuplicateEvent.
func (s *Service) AdjustBalance(ctx context.Context, params store.AdjustParams) (*models.HistoryEntry, error) {
	if params.Delta == 0 && params.ReservedDelta == 0 {
		return nil, store.ErrInvalidAmount
	}

	var entry *models.HistoryEntry
	var applied bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		entry, applied, err = applyAdjustment(ctx, tx, params, s.now())
		return err
	})
	if err != nil {
		return nil, err
	}
	if !applied {
		return entry, fmt.Errorf("adjustment %s: %w", params.IdempotencyKey, store.ErrDuplicateEvent)
	}
	return entry, nil
}

// CreditDeposit credits amount to accountId exactly once per txHash. Replays
// return the original entry and a nil error.
func (s *Service) CreditDeposit(ctx context.Context, txHash, accountId string, amount int64) (*models.HistoryEntry, error) {
	if txHash == "" {
		return nil, fmt.Errorf("deposit credit requires a transaction hash")
	}
	if amount <= 0 {
		return nil, store.ErrInvalidAmount
	}

	var entry *models.HistoryEntry
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		entry, _, err = applyAdjustment(ctx, tx, depositCreditParams(txHash, accountId, amount), s.now())
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func depositCreditParams(txHash, accountId string, amount int64) store.AdjustParams {
	return store.AdjustParams{
		AccountId:      accountId,
		Delta:          amount,
		Type:           models.EntryDeposit,
		RelatedId:      txHash,
		IdempotencyKey: txHash,
		Description:    "On-chain deposit",
	}
}

func scanHistoryEntry(row rowScanner) (*models.HistoryEntry, error) {
	var entry models.HistoryEntry
	var entryType string
	var key, related sql.NullString
	err := row.Scan(&entry.Id, &entry.AccountId, &entryType, &entry.Amount, &entry.ReservedDelta,
		&entry.BalanceAfter, &key, &entry.Description, &related, &entry.CreatedAt)
	if err != nil {
		return nil, err
	}
	entry.Type = models.EntryType(entryType)
	entry.IdempotencyKey = key.String
	entry.RelatedId = related.String
	return &entry, nil
}
