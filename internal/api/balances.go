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

package api

import (
	"net/http"

	"duel-settlement-go/internal/models"

	"go.uber.org/zap"
)

func (s *Service) handleBalance(w http.ResponseWriter, r *http.Request) {
	principal := principalOf(r)
	account, err := s.store.GetAccount(r.Context(), principal.AccountId)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.BalanceView{
		AccountId: account.Id,
		Balance:   account.Balance,
		Reserved:  account.Reserved,
	})
}

// handleHistory returns paginated ledger history for the caller
func (s *Service) handleHistory(w http.ResponseWriter, r *http.Request) {
	principal := principalOf(r)
	limit, err := queryInt(r, "limit", 20, 100)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	offset, err := queryInt(r, "offset", 0, 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	entries, err := s.store.GetHistory(r.Context(), principal.AccountId, limit, offset)
	if err != nil {
		zap.L().Error("Failed to get transaction history",
			zap.String("user_id", principal.AccountId),
			zap.Error(err))
		fail(w, r, err)
		return
	}

	result := make([]models.HistoryRecord, len(entries))
	for i, entry := range entries {
		result[i] = models.HistoryRecord{
			Id:           entry.Id,
			Type:         string(entry.Type),
			Amount:       entry.Amount,
			BalanceAfter: entry.BalanceAfter,
			Description:  entry.Description,
			RelatedId:    entry.RelatedId,
			CreatedAt:    entry.CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, result)
}
