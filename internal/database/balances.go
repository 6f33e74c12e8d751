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
	"fmt"

	"duel-settlement-go/internal/models"

	"go.uber.org/zap"
)

// ReconcileAccount replays the account's history and compares it with the stored row.
func (s *Service) ReconcileAccount(ctx context.Context, accountId string) (*models.Reconciliation, error) {
	account, err := s.GetAccount(ctx, accountId)
	if err != nil {
		return nil, err
	}

	result := &models.Reconciliation{
		AccountId:      accountId,
		StoredBalance:  account.Balance,
		StoredReserved: account.Reserved,
	}
	err = s.db.QueryRowContext(ctx, queryReplayAccount, accountId).
		Scan(&result.ReplayedBalance, &result.ReplayedReserved, &result.EntryCount)
	if err != nil {
		return nil, fmt.Errorf("failed to replay history: %w", err)
	}

	if !result.Balanced() {
		zap.L().Error("Balance reconciliation mismatch",
			zap.String("account_id", accountId),
			zap.Int64("stored_balance", result.StoredBalance),
			zap.Int64("replayed_balance", result.ReplayedBalance),
			zap.Int64("stored_reserved", result.StoredReserved),
			zap.Int64("replayed_reserved", result.ReplayedReserved))
	} else {
		zap.L().Debug("Balance reconciliation successful",
			zap.String("account_id", accountId),
			zap.Int64("balance", result.StoredBalance),
			zap.Int64("entries", result.EntryCount))
	}

	return result, nil
}

// TotalBalance is the sum of every account's spendable balance.
func (s *Service) TotalBalance(ctx context.Context) (int64, error) {
	var total int64
	if err := s.db.QueryRowContext(ctx, queryTotalBalance).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum balances: %w", err)
	}
	return total, nil
}
