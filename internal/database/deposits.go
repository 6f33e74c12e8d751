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

// UpsertObservedDeposit records a sighting from the chain feed. The first
// sighting inserts a detected row; redeliveries only ever raise the
// confirmation count of a row that is still counting. created reports whether
// this call inserted the row.
func (s *Service) UpsertObservedDeposit(ctx context.Context, transfer models.ObservedTransfer) (*models.DepositTransaction, bool, error) {
	if transfer.TxHash == "" || transfer.ToAddress == "" {
		return nil, false, fmt.Errorf("observed transfer requires tx hash and address")
	}
	if transfer.Amount <= 0 {
		return nil, false, store.ErrInvalidAmount
	}

	var deposit *models.DepositTransaction
	var created bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := s.now()
		existing, err := scanDeposit(tx.QueryRowContext(ctx, queryGetDeposit, transfer.TxHash))
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if _, err := tx.ExecContext(ctx, queryInsertDeposit,
				transfer.TxHash, transfer.ToAddress, transfer.Amount, transfer.Confirmations, now, now); err != nil {
				return fmt.Errorf("failed to insert deposit: %w", err)
			}
			created = true
		case err != nil:
			return fmt.Errorf("failed to get deposit: %w", err)
		default:
			if existing.Amount != transfer.Amount {
				zap.L().Warn("Feed redelivered deposit with a different amount, keeping first sighting",
					zap.String("tx_hash", transfer.TxHash),
					zap.Int64("stored_amount", existing.Amount),
					zap.Int64("observed_amount", transfer.Amount))
			}
			if _, err := tx.ExecContext(ctx, queryRaiseDepositConfirmations,
				transfer.Confirmations, now, transfer.TxHash, transfer.Confirmations); err != nil {
				return fmt.Errorf("failed to update deposit confirmations: %w", err)
			}
		}

		deposit, err = scanDeposit(tx.QueryRowContext(ctx, queryGetDeposit, transfer.TxHash))
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return deposit, created, nil
}

func (s *Service) GetDeposit(ctx context.Context, txHash string) (*models.DepositTransaction, error) {
	deposit, err := scanDeposit(s.db.QueryRowContext(ctx, queryGetDeposit, txHash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("deposit", txHash)
	} else if err != nil {
		return nil, fmt.Errorf("failed to get deposit: %w", err)
	}
	return deposit, nil
}

// ListUncreditedDeposits returns rows in detected, confirming or confirmed, oldest first.
func (s *Service) ListUncreditedDeposits(ctx context.Context, limit int) ([]models.DepositTransaction, error) {
	rows, err := s.db.QueryContext(ctx, queryListUncreditedDeposits, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending deposits: %w", err)
	}
	defer closeRows(rows)
	return collectDeposits(rows)
}

// ListRecentlyCredited returns credited rows whose credit happened at or after since.
func (s *Service) ListRecentlyCredited(ctx context.Context, since time.Time, limit int) ([]models.DepositTransaction, error) {
	rows, err := s.db.QueryContext(ctx, queryListRecentlyCredited, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list credited deposits: %w", err)
	}
	defer closeRows(rows)
	return collectDeposits(rows)
}

// RecordConfirmations advances a counting deposit to confirming, or to
// confirmed once requiredDepth is reached. Rows past counting are returned
// unchanged; the confirmation count never decreases.
func (s *Service) RecordConfirmations(ctx context.Context, txHash string, confirmations, requiredDepth int64) (*models.DepositTransaction, error) {
	var deposit *models.DepositTransaction
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := scanDeposit(tx.QueryRowContext(ctx, queryGetDeposit, txHash))
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("deposit", txHash)
		} else if err != nil {
			return fmt.Errorf("failed to get deposit: %w", err)
		}

		if !current.Status.AwaitingDepth() {
			deposit = current
			return nil
		}

		seen := current.ConfirmationsSeen
		if confirmations > seen {
			seen = confirmations
		}
		next := models.DepositConfirming
		if seen >= requiredDepth {
			next = models.DepositConfirmed
		}
		if next == current.Status && seen == current.ConfirmationsSeen {
			deposit = current
			return nil
		}

		now := s.now()
		result, err := tx.ExecContext(ctx, queryUpdateDepositProgress, string(next), seen, now, txHash, string(current.Status))
		if err != nil {
			return fmt.Errorf("failed to update deposit progress: %w", err)
		}
		if n, err := result.RowsAffected(); err != nil {
			return fmt.Errorf("failed to check rows affected: %w", err)
		} else if n == 0 {
			return fmt.Errorf("deposit %s left %s: %w", txHash, current.Status, store.ErrInvalidTransition)
		}

		current.Status = next
		current.ConfirmationsSeen = seen
		current.UpdatedAt = now
		deposit = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deposit, nil
}

// CreditConfirmedDeposit credits the owner of a confirmed deposit and marks it
// credited in the same transaction. A crash before commit leaves the row
// confirmed, and the retry is safe because the credit is keyed by tx hash.
func (s *Service) CreditConfirmedDeposit(ctx context.Context, txHash string) (*models.HistoryEntry, error) {
	var entry *models.HistoryEntry
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		deposit, err := scanDeposit(tx.QueryRowContext(ctx, queryGetDeposit, txHash))
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("deposit", txHash)
		} else if err != nil {
			return fmt.Errorf("failed to get deposit: %w", err)
		}
		if deposit.Status != models.DepositConfirmed {
			return fmt.Errorf("deposit %s is %s: %w", txHash, deposit.Status, store.ErrInvalidTransition)
		}

		address, err := scanAddress(tx.QueryRowContext(ctx, queryGetAddress, deposit.ToAddress))
		if errors.Is(err, sql.ErrNoRows) || (err == nil && address.OwnerId == "") {
			return fmt.Errorf("deposit %s to %s: %w", txHash, deposit.ToAddress, store.ErrUnattributed)
		} else if err != nil {
			return fmt.Errorf("failed to resolve deposit owner: %w", err)
		}

		now := s.now()
		entry, _, err = applyAdjustment(ctx, tx, depositCreditParams(txHash, address.OwnerId, deposit.Amount), now)
		if err != nil {
			return err
		}

		result, err := tx.ExecContext(ctx, queryMarkDepositCredited, address.OwnerId, now, now, txHash)
		if err != nil {
			return fmt.Errorf("failed to mark deposit credited: %w", err)
		}
		if n, err := result.RowsAffected(); err != nil {
			return fmt.Errorf("failed to check rows affected: %w", err)
		} else if n == 0 {
			return fmt.Errorf("deposit %s: %w", txHash, store.ErrInvalidTransition)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("Deposit credited",
		zap.String("tx_hash", txHash),
		zap.String("account_id", entry.AccountId),
		zap.Int64("amount", entry.Amount),
		zap.Int64("new_balance", entry.BalanceAfter))
	return entry, nil
}

// InvalidateDeposit marks a deposit that the chain dropped. If it was already
// credited, a compensating debit keyed "<tx_hash>_reversal" is applied in the
// same transaction, clamped to the account's current balance, and the account
// is flagged for review with any uncollected shortfall.
func (s *Service) InvalidateDeposit(ctx context.Context, txHash string) (*models.InvalidationResult, error) {
	result := &models.InvalidationResult{TxHash: txHash}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		deposit, err := scanDeposit(tx.QueryRowContext(ctx, queryGetDeposit, txHash))
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("deposit", txHash)
		} else if err != nil {
			return fmt.Errorf("failed to get deposit: %w", err)
		}
		if !deposit.Status.CanTransitionTo(models.DepositInvalidated) {
			return fmt.Errorf("deposit %s is %s: %w", txHash, deposit.Status, store.ErrInvalidTransition)
		}

		result.PreviousStatus = deposit.Status
		result.AccountId = deposit.AccountId
		result.Amount = deposit.Amount
		now := s.now()

		if deposit.Status == models.DepositCredited {
			var balance, reserved, version int64
			if err := tx.QueryRowContext(ctx, queryGetAccountBalance, deposit.AccountId).Scan(&balance, &reserved, &version); err != nil {
				return fmt.Errorf("failed to get balance for reversal: %w", err)
			}

			result.ReversedAmount = min(deposit.Amount, balance)
			result.Shortfall = deposit.Amount - result.ReversedAmount
			if result.ReversedAmount > 0 {
				_, _, err := applyAdjustment(ctx, tx, store.AdjustParams{
					AccountId:      deposit.AccountId,
					Delta:          -result.ReversedAmount,
					Type:           models.EntryDepositReversal,
					RelatedId:      txHash,
					IdempotencyKey: txHash + "_reversal",
					Description:    fmt.Sprintf("Reversal of dropped deposit (shortfall %d)", result.Shortfall),
				}, now)
				if err != nil {
					return err
				}
			}

			result.ReviewId = uuid.New().String()
			reason := fmt.Sprintf("credited deposit %s of %d dropped from chain", txHash, deposit.Amount)
			if _, err := tx.ExecContext(ctx, queryInsertReview,
				result.ReviewId, deposit.AccountId, txHash, reason, result.Shortfall, now); err != nil {
				return fmt.Errorf("failed to flag account for review: %w", err)
			}
		}

		res, err := tx.ExecContext(ctx, queryMarkDepositInvalidated, now, txHash, string(deposit.Status))
		if err != nil {
			return fmt.Errorf("failed to invalidate deposit: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("failed to check rows affected: %w", err)
		} else if n == 0 {
			return fmt.Errorf("deposit %s: %w", txHash, store.ErrInvalidTransition)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func collectDeposits(rows *sql.Rows) ([]models.DepositTransaction, error) {
	var deposits []models.DepositTransaction
	for rows.Next() {
		deposit, err := scanDeposit(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deposit: %w", err)
		}
		deposits = append(deposits, *deposit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating deposit rows: %w", err)
	}
	return deposits, nil
}

func scanDeposit(row rowScanner) (*models.DepositTransaction, error) {
	var deposit models.DepositTransaction
	var status string
	var account sql.NullString
	var creditedAt sql.NullTime
	err := row.Scan(&deposit.TxHash, &deposit.ToAddress, &deposit.Amount, &status, &deposit.ConfirmationsSeen,
		&account, &deposit.CreatedAt, &deposit.UpdatedAt, &creditedAt)
	if err != nil {
		return nil, err
	}
	deposit.Status = models.DepositStatus(status)
	deposit.AccountId = account.String
	if creditedAt.Valid {
		deposit.CreditedAt = creditedAt.Time
	}
	return &deposit, nil
}
