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

package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// DuelStatus is the lifecycle state of a wager between two players.
type DuelStatus string

const (
	DuelPendingChallenge  DuelStatus = "pending_challenge"
	DuelPendingAcceptance DuelStatus = "pending_acceptance"
	DuelActive            DuelStatus = "active"
	DuelAwaitingResult    DuelStatus = "awaiting_result"
	DuelCompletedUnseen   DuelStatus = "completed_unseen"
	DuelCompleted         DuelStatus = "completed"
	DuelDisputed          DuelStatus = "disputed"
	DuelCancelled         DuelStatus = "cancelled"
	DuelExpired           DuelStatus = "expired"
)

// AllDuelStatuses lists every state in declaration order.
var AllDuelStatuses = []DuelStatus{
	DuelPendingChallenge,
	DuelPendingAcceptance,
	DuelActive,
	DuelAwaitingResult,
	DuelCompletedUnseen,
	DuelCompleted,
	DuelDisputed,
	DuelCancelled,
	DuelExpired,
}

var duelTransitions = map[DuelStatus][]DuelStatus{
	DuelPendingChallenge:  {DuelActive, DuelCancelled},
	DuelPendingAcceptance: {DuelActive, DuelCancelled},
	DuelActive:            {DuelAwaitingResult, DuelCompletedUnseen, DuelDisputed, DuelExpired},
	DuelAwaitingResult:    {DuelCompletedUnseen, DuelDisputed, DuelExpired},
	DuelDisputed:          {DuelCompletedUnseen, DuelCancelled},
	DuelCompletedUnseen:   {DuelCompleted},
	DuelCompleted:         nil,
	DuelCancelled:         nil,
	DuelExpired:           nil,
}

func ParseDuelStatus(s string) (DuelStatus, error) {
	status := DuelStatus(s)
	if _, ok := duelTransitions[status]; !ok {
		return "", fmt.Errorf("unknown duel status %q", s)
	}
	return status, nil
}

func (s DuelStatus) Valid() bool {
	_, ok := duelTransitions[s]
	return ok
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s DuelStatus) CanTransitionTo(next DuelStatus) bool {
	for _, candidate := range duelTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

func (s DuelStatus) IsTerminal() bool {
	return s.Valid() && len(duelTransitions[s]) == 0
}

// HoldsStake reports whether both participants' stakes are reserved while in s.
func (s DuelStatus) HoldsStake() bool {
	return s == DuelActive || s == DuelAwaitingResult || s == DuelDisputed
}

// IsPending reports whether s is waiting on the opponent's answer.
func (s DuelStatus) IsPending() bool {
	return s == DuelPendingChallenge || s == DuelPendingAcceptance
}

// Resolution is the admin's verdict on a disputed duel.
type Resolution string

const (
	ResolutionCreatorWins  Resolution = "creator_wins"
	ResolutionOpponentWins Resolution = "opponent_wins"
	ResolutionVoid         Resolution = "void"
)

func ParseResolution(s string) (Resolution, error) {
	switch r := Resolution(s); r {
	case ResolutionCreatorWins, ResolutionOpponentWins, ResolutionVoid:
		return r, nil
	}
	return "", fmt.Errorf("unknown resolution %q", s)
}

// Duel is a wager between a creator and an opponent, judged by the bot of its region.
type Duel struct {
	Id              string          `json:"id"`
	CreatorId       string          `json:"creator_id"`
	OpponentId      string          `json:"opponent_id,omitempty"`
	StakeAmount     int64           `json:"stake_amount"`
	Status          DuelStatus      `json:"status"`
	WinnerId        string          `json:"winner_id,omitempty"`
	ClaimedWinnerId string          `json:"claimed_winner_id,omitempty"`
	ClaimedBy       string          `json:"claimed_by,omitempty"`
	Region          string          `json:"region"`
	MatchData       json.RawMessage `json:"match_data,omitempty"`
	FeeAmount       int64           `json:"fee_amount"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	AcceptedAt      time.Time       `json:"accepted_at,omitempty"`
}

// IsParticipant reports whether accountId is the creator or the accepted opponent.
func (d *Duel) IsParticipant(accountId string) bool {
	if accountId == "" {
		return false
	}
	return d.CreatorId == accountId || d.OpponentId == accountId
}

// OtherParticipant returns the participant that is not accountId.
func (d *Duel) OtherParticipant(accountId string) string {
	if d.CreatorId == accountId {
		return d.OpponentId
	}
	return d.CreatorId
}

// Pot is the total stake held by the duel once both players are in.
func (d *Duel) Pot() int64 {
	return 2 * d.StakeAmount
}

// BotReport is the outcome a regional bot submits for a duel. Exactly one of
// WinnerId and ForfeitingPlayerId is set.
type BotReport struct {
	DuelId             string
	Region             string
	WinnerId           string
	ForfeitingPlayerId string
	MatchData          json.RawMessage
}
