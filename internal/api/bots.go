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

// handleBotResult applies a regional bot's verdict. A repeated report for an
// already settled duel is answered with 409.
func (s *Service) handleBotResult(w http.ResponseWriter, r *http.Request) {
	var req models.BotResultRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	region := botRegion(r.Context())

	d, err := s.duels.ReportOutcome(r.Context(), models.BotReport{
		DuelId:             req.DuelId,
		Region:             region,
		WinnerId:           req.WinnerId,
		ForfeitingPlayerId: req.ForfeitingPlayerId,
		MatchData:          req.MatchData,
	})
	if err != nil {
		zap.L().Info("Bot report rejected",
			zap.String("duel_id", req.DuelId),
			zap.String("region", region),
			zap.Error(err))
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Service) handleBotHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req models.BotHeartbeatRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if err := s.bots.Heartbeat(r.Context(), botRegion(r.Context()), req.InstanceId); err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.OperationResult{Success: true})
}
