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
	"time"
)

// BalanceView is the account summary returned to a user
type BalanceView struct {
	AccountId string `json:"account_id"`
	Balance   int64  `json:"balance"`
	Reserved  int64  `json:"reserved"`
}

// HistoryRecord represents a ledger entry in the user's history
type HistoryRecord struct {
	Id           string    `json:"id"`
	Type         string    `json:"type"`
	Amount       int64     `json:"amount"`
	BalanceAfter int64     `json:"balance_after"`
	Description  string    `json:"description"`
	RelatedId    string    `json:"related_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// ErrorResponse is the body of every non-2xx API response
type ErrorResponse struct {
	Error   string            `json:"error"`
	Details map[string]string `json:"details,omitempty"`
}

// CreateDuelRequest is the body of POST /v1/duels
type CreateDuelRequest struct {
	OpponentId  string `json:"opponent_id,omitempty"`
	StakeAmount int64  `json:"stake_amount" validate:"required,gt=0"`
	Region      string `json:"region" validate:"required"`
}

// ClaimResultRequest is a participant's claim of the winner
type ClaimResultRequest struct {
	WinnerId string `json:"winner_id" validate:"required"`
}

// DisputeRequest carries the reason a participant disputes a duel
type DisputeRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// BotResultRequest is the body a bot posts when a match finishes
type BotResultRequest struct {
	DuelId             string          `json:"duel_id" validate:"required"`
	WinnerId           string          `json:"winner_id" validate:"required_without=ForfeitingPlayerId,excluded_with=ForfeitingPlayerId"`
	ForfeitingPlayerId string          `json:"forfeiting_player_id"`
	MatchData          json.RawMessage `json:"match_data,omitempty"`
}

// BotHeartbeatRequest keeps a regional bot marked live
type BotHeartbeatRequest struct {
	InstanceId string `json:"instance_id" validate:"required"`
}

// CreatePayoutRequest is the body of POST /v1/payouts
type CreatePayoutRequest struct {
	GemAmount          int64  `json:"gem_amount" validate:"required,gt=0"`
	DestinationAddress string `json:"destination_address" validate:"required,min=10,max=128"`
	TokenType          string `json:"token_type" validate:"required"`
}

// ResolveDuelRequest is the admin verdict on a disputed duel
type ResolveDuelRequest struct {
	Resolution string `json:"resolution" validate:"required,oneof=creator_wins opponent_wins void"`
}

// DeclinePayoutRequest carries the admin's reason for a decline or failure
type DeclinePayoutRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// CompletePayoutRequest records a manually confirmed on-chain send
type CompletePayoutRequest struct {
	TxHash string `json:"tx_hash" validate:"required"`
}

// AddAddressRequest registers a deposit address for monitoring
type AddAddressRequest struct {
	Address string `json:"address" validate:"required"`
	OwnerId string `json:"owner_id,omitempty"`
}

// AssignAddressRequest attributes a previously unowned address
type AssignAddressRequest struct {
	OwnerId string `json:"owner_id" validate:"required"`
}

// IssueAddressRequest asks for a new deposit address for a token
type IssueAddressRequest struct {
	TokenType string `json:"token_type" validate:"required"`
}

// ResolveReviewRequest closes an account review
type ResolveReviewRequest struct {
	Note string `json:"note" validate:"max=1000"`
}

// AdjustBalanceRequest is a manual admin correction
type AdjustBalanceRequest struct {
	Delta  int64  `json:"delta" validate:"required,ne=0"`
	Reason string `json:"reason" validate:"required,max=500"`
}

// OperationResult is returned by actions that have no entity to echo back
type OperationResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}
