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
	"fmt"
	"time"
)

type PayoutStatus string

const (
	PayoutPending    PayoutStatus = "pending"
	PayoutApproved   PayoutStatus = "approved"
	PayoutProcessing PayoutStatus = "processing"
	PayoutCompleted  PayoutStatus = "completed"
	PayoutDeclined   PayoutStatus = "declined"
	PayoutCancelled  PayoutStatus = "cancelled"
	PayoutFailed     PayoutStatus = "failed"
)

var AllPayoutStatuses = []PayoutStatus{
	PayoutPending,
	PayoutApproved,
	PayoutProcessing,
	PayoutCompleted,
	PayoutDeclined,
	PayoutCancelled,
	PayoutFailed,
}

var payoutTransitions = map[PayoutStatus][]PayoutStatus{
	PayoutPending:    {PayoutApproved, PayoutDeclined, PayoutCancelled},
	PayoutApproved:   {PayoutProcessing, PayoutDeclined},
	PayoutProcessing: {PayoutCompleted, PayoutFailed},
	PayoutCompleted:  nil,
	PayoutDeclined:   nil,
	PayoutCancelled:  nil,
	PayoutFailed:     nil,
}

func ParsePayoutStatus(s string) (PayoutStatus, error) {
	status := PayoutStatus(s)
	if _, ok := payoutTransitions[status]; !ok {
		return "", fmt.Errorf("unknown payout status %q", s)
	}
	return status, nil
}

func (s PayoutStatus) CanTransitionTo(next PayoutStatus) bool {
	for _, candidate := range payoutTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

func (s PayoutStatus) IsTerminal() bool {
	_, ok := payoutTransitions[s]
	return ok && len(payoutTransitions[s]) == 0
}

// Refunded reports whether reaching s returns the escrow to the requester.
func (s PayoutStatus) Refunded() bool {
	return s == PayoutDeclined || s == PayoutCancelled || s == PayoutFailed
}

// PayoutRequest is a withdrawal whose gem amount was escrowed at creation.
type PayoutRequest struct {
	Id                 string       `json:"id"`
	UserId             string       `json:"user_id"`
	GemAmount          int64        `json:"gem_amount"`
	DestinationAddress string       `json:"destination_address"`
	TokenType          string       `json:"token_type"`
	Status             PayoutStatus `json:"status"`
	TxHash             string       `json:"tx_hash,omitempty"`
	ErrorMessage       string       `json:"error_message,omitempty"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
}
