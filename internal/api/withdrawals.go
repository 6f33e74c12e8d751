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
	"duel-settlement-go/internal/payout"

	"github.com/go-chi/chi/v5"
)

// handleRequestPayout escrows gems for an on-chain withdrawal awaiting admin review
func (s *Service) handleRequestPayout(w http.ResponseWriter, r *http.Request) {
	principal := principalOf(r)
	var req models.CreatePayoutRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	request, err := s.payouts.Request(r.Context(), payout.RequestParams{
		UserId:             principal.AccountId,
		GemAmount:          req.GemAmount,
		DestinationAddress: req.DestinationAddress,
		TokenType:          req.TokenType,
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, request)
}

func (s *Service) handleCancelPayout(w http.ResponseWriter, r *http.Request) {
	principal := principalOf(r)
	request, err := s.payouts.Cancel(r.Context(), chi.URLParam(r, "requestId"), principal.AccountId)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, request)
}

func (s *Service) handleListPayouts(w http.ResponseWriter, r *http.Request) {
	principal := principalOf(r)
	limit, err := queryInt(r, "limit", 50, 200)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	requests, err := s.payouts.ListForAccount(r.Context(), principal.AccountId, limit)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, requests)
}
