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

	"duel-settlement-go/internal/duel"
	"duel-settlement-go/internal/models"

	"github.com/go-chi/chi/v5"
)

type duelAction func(r *http.Request, duelId, accountId string) (*models.Duel, error)

// participantAction adapts a (duel, caller) operation into a handler.
func (s *Service) participantAction(action duelAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal := principalOf(r)
		d, err := action(r, chi.URLParam(r, "duelId"), principal.AccountId)
		if err != nil {
			fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, d)
	}
}

func (s *Service) handleCreateDuel(w http.ResponseWriter, r *http.Request) {
	principal := principalOf(r)
	var req models.CreateDuelRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	d, err := s.duels.Create(r.Context(), duel.CreateParams{
		CreatorId:   principal.AccountId,
		OpponentId:  req.OpponentId,
		StakeAmount: req.StakeAmount,
		Region:      req.Region,
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (s *Service) handleGetDuel(w http.ResponseWriter, r *http.Request) {
	principal := principalOf(r)
	d, err := s.duels.Get(r.Context(), chi.URLParam(r, "duelId"))
	if err != nil {
		fail(w, r, err)
		return
	}
	// Open challenges are public; anything else only to its players.
	if d.Status != models.DuelPendingChallenge && !d.IsParticipant(principal.AccountId) {
		writeError(w, http.StatusNotFound, "duel not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Service) handleListDuels(w http.ResponseWriter, r *http.Request) {
	principal := principalOf(r)
	limit, err := queryInt(r, "limit", 50, 200)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	duels, err := s.duels.ListForAccount(r.Context(), principal.AccountId, limit)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, duels)
}

func (s *Service) handleOpenChallenges(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50, 200)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	duels, err := s.duels.ListOpenChallenges(r.Context(), limit)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, duels)
}

func (s *Service) handleAcceptDuel(w http.ResponseWriter, r *http.Request) {
	s.participantAction(func(r *http.Request, duelId, accountId string) (*models.Duel, error) {
		return s.duels.Accept(r.Context(), duelId, accountId)
	})(w, r)
}

func (s *Service) handleDeclineDuel(w http.ResponseWriter, r *http.Request) {
	s.participantAction(func(r *http.Request, duelId, accountId string) (*models.Duel, error) {
		return s.duels.Decline(r.Context(), duelId, accountId)
	})(w, r)
}

func (s *Service) handleCancelDuel(w http.ResponseWriter, r *http.Request) {
	s.participantAction(func(r *http.Request, duelId, accountId string) (*models.Duel, error) {
		return s.duels.Cancel(r.Context(), duelId, accountId)
	})(w, r)
}

func (s *Service) handleConfirmResult(w http.ResponseWriter, r *http.Request) {
	s.participantAction(func(r *http.Request, duelId, accountId string) (*models.Duel, error) {
		return s.duels.ConfirmResult(r.Context(), duelId, accountId)
	})(w, r)
}

func (s *Service) handleConfirmSeen(w http.ResponseWriter, r *http.Request) {
	s.participantAction(func(r *http.Request, duelId, accountId string) (*models.Duel, error) {
		return s.duels.ConfirmSeen(r.Context(), duelId, accountId)
	})(w, r)
}

func (s *Service) handleClaimResult(w http.ResponseWriter, r *http.Request) {
	var req models.ClaimResultRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	s.participantAction(func(r *http.Request, duelId, accountId string) (*models.Duel, error) {
		return s.duels.ClaimResult(r.Context(), duelId, accountId, req.WinnerId)
	})(w, r)
}

func (s *Service) handleDispute(w http.ResponseWriter, r *http.Request) {
	var req models.DisputeRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	s.participantAction(func(r *http.Request, duelId, accountId string) (*models.Duel, error) {
		return s.duels.Dispute(r.Context(), duelId, accountId, req.Reason)
	})(w, r)
}
