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
	"errors"
	"net/http"
	"strconv"

	"duel-settlement-go/internal/models"
	"duel-settlement-go/internal/store"

	"github.com/go-chi/chi/v5"
)

func (s *Service) handleResolveDuel(w http.ResponseWriter, r *http.Request) {
	var req models.ResolveDuelRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	resolution, err := models.ParseResolution(req.Resolution)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	d, err := s.admin.ResolveDuel(r.Context(), principalOf(r).AccountId, chi.URLParam(r, "duelId"), resolution)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Service) handleAdminListPayouts(w http.ResponseWriter, r *http.Request) {
	status := models.PayoutPending
	if raw := r.URL.Query().Get("status"); raw != "" {
		parsed, err := models.ParsePayoutStatus(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error(), nil)
			return
		}
		status = parsed
	}
	limit, err := queryInt(r, "limit", 100, 500)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	requests, err := s.payouts.ListByStatus(r.Context(), status, limit)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, requests)
}

// handleApprovePayout answers 502 with the refunded request in the body when
// the on-chain send fails after approval.
func (s *Service) handleApprovePayout(w http.ResponseWriter, r *http.Request) {
	request, err := s.admin.ApprovePayout(r.Context(), principalOf(r).AccountId, chi.URLParam(r, "requestId"))
	if err != nil {
		if request != nil && errors.Is(err, store.ErrExternalService) {
			writeJSON(w, http.StatusBadGateway, request)
			return
		}
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, request)
}

func (s *Service) handleDeclinePayout(w http.ResponseWriter, r *http.Request) {
	var req models.DeclinePayoutRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	request, err := s.admin.DeclinePayout(r.Context(), principalOf(r).AccountId, chi.URLParam(r, "requestId"), req.Reason)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, request)
}

func (s *Service) handleFailPayout(w http.ResponseWriter, r *http.Request) {
	var req models.DeclinePayoutRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	request, err := s.admin.FailPayout(r.Context(), principalOf(r).AccountId, chi.URLParam(r, "requestId"), req.Reason)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, request)
}

func (s *Service) handleCompletePayout(w http.ResponseWriter, r *http.Request) {
	var req models.CompletePayoutRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	request, err := s.admin.CompletePayout(r.Context(), principalOf(r).AccountId, chi.URLParam(r, "requestId"), req.TxHash)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, request)
}

func (s *Service) handleAddAddress(w http.ResponseWriter, r *http.Request) {
	var req models.AddAddressRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	monitored, err := s.admin.AddAddress(r.Context(), principalOf(r).AccountId, req.Address, req.OwnerId)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, monitored)
}

func (s *Service) handleRemoveAddress(w http.ResponseWriter, r *http.Request) {
	if err := s.admin.RemoveAddress(r.Context(), principalOf(r).AccountId, chi.URLParam(r, "address")); err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.OperationResult{Success: true})
}

func (s *Service) handleAssignAddress(w http.ResponseWriter, r *http.Request) {
	var req models.AssignAddressRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if err := s.admin.AssignAddress(r.Context(), principalOf(r).AccountId, chi.URLParam(r, "address"), req.OwnerId); err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.OperationResult{Success: true})
}

func (s *Service) handleListReviews(w http.ResponseWriter, r *http.Request) {
	includeResolved, _ := strconv.ParseBool(r.URL.Query().Get("all"))
	reviews, err := s.admin.ListReviews(r.Context(), includeResolved)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reviews)
}

func (s *Service) handleResolveReview(w http.ResponseWriter, r *http.Request) {
	var req models.ResolveReviewRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if err := s.admin.ResolveReview(r.Context(), principalOf(r).AccountId, chi.URLParam(r, "reviewId"), req.Note); err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.OperationResult{Success: true})
}

func (s *Service) handleAdjustBalance(w http.ResponseWriter, r *http.Request) {
	var req models.AdjustBalanceRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	entry, err := s.admin.AdjustBalance(r.Context(), principalOf(r).AccountId, chi.URLParam(r, "accountId"), req.Delta, req.Reason)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Service) handleListActions(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 100, 1000)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	actions, err := s.admin.ListActions(r.Context(), limit)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, actions)
}

func (s *Service) handleReconcile(w http.ResponseWriter, r *http.Request) {
	mismatched, err := s.admin.ReconcileAll(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	if mismatched == nil {
		mismatched = []models.Reconciliation{}
	}
	writeJSON(w, http.StatusOK, mismatched)
}
