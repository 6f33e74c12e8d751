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

func (s *Service) handleListAddresses(w http.ResponseWriter, r *http.Request) {
	principal := principalOf(r)
	addresses, err := s.store.ListAccountAddresses(r.Context(), principal.AccountId)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, addresses)
}

// handleIssueAddress creates a custody deposit address for the caller and
// adds it to the listener's working set.
func (s *Service) handleIssueAddress(w http.ResponseWriter, r *http.Request) {
	principal := principalOf(r)
	var req models.IssueAddressRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if s.issuer == nil {
		writeError(w, http.StatusServiceUnavailable, "deposit addresses are not available", nil)
		return
	}

	issued, err := s.issuer.IssueAddress(r.Context(), req.TokenType)
	if err != nil {
		zap.L().Warn("Failed to issue deposit address",
			zap.String("user_id", principal.AccountId),
			zap.String("token_type", req.TokenType),
			zap.Error(err))
		fail(w, r, err)
		return
	}

	monitored, err := s.addresses.Watch(r.Context(), issued.Address, principal.AccountId)
	if err != nil {
		zap.L().Error("Issued address could not be watched",
			zap.String("user_id", principal.AccountId),
			zap.String("address", issued.Address),
			zap.Error(err))
		fail(w, r, err)
		return
	}

	zap.L().Info("Deposit address issued",
		zap.String("user_id", principal.AccountId),
		zap.String("address", monitored.Address),
		zap.String("token_type", issued.TokenType))
	writeJSON(w, http.StatusCreated, monitored)
}
