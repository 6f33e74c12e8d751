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
	"fmt"

	"duel-settlement-go/internal/models"

	"go.uber.org/zap"
)

// GetHistory returns paginated ledger history for an account, newest first
func (s *Service) GetHistory(ctx context.Context, accountId string, limit, offset int) ([]models.HistoryEntry, error) {
	zap.L().Debug("Getting account history",
		zap.String("account_id", accountId),
		zap.Int("limit", limit),
		zap.Int("offset", offset))

	rows, err := s.db.QueryContext(ctx, queryGetHistory, accountId, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	defer closeRows(rows)

	return collectHistory(rows)
}

// ListUnmirroredHistory returns history rows not yet posted to the external ledger, oldest first.
func (s *Service) ListUnmirroredHistory(ctx context.Context, limit int) ([]models.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, queryListUnmirroredHistory, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unmirrored history: %w", err)
	}
	defer closeRows(rows)

	return collectHistory(rows)
}

func (s *Service) MarkHistoryMirrored(ctx context.Context, entryId string) error {
	if _, err := s.db.ExecContext(ctx, queryMarkHistoryMirrored, s.now(), entryId); err != nil {
		return fmt.Errorf("failed to mark entry %s mirrored: %w", entryId, err)
	}
	return nil
}

func collectHistory(rows *sql.Rows) ([]models.HistoryEntry, error) {
	var entries []models.HistoryEntry
	for rows.Next() {
		entry, err := scanHistoryEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		entries = append(entries, *entry)
	}

	if err := rows.Err(); err != nil {
		zap.L().Error("Error during history row iteration", zap.Error(err))
		return nil, fmt.Errorf("error iterating history rows: %w", err)
	}
	return entries, nil
}
