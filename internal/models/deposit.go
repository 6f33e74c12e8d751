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

// DepositStatus tracks an on-chain transfer from first sighting to credit.
type DepositStatus string

const (
	DepositDetected    DepositStatus = "detected"
	DepositConfirming  DepositStatus = "confirming"
	DepositConfirmed   DepositStatus = "confirmed"
	DepositCredited    DepositStatus = "credited"
	DepositInvalidated DepositStatus = "invalidated"
)

var AllDepositStatuses = []DepositStatus{
	DepositDetected,
	DepositConfirming,
	DepositConfirmed,
	DepositCredited,
	DepositInvalidated,
}

var depositTransitions = map[DepositStatus][]DepositStatus{
	DepositDetected:    {DepositConfirming, DepositConfirmed, DepositInvalidated},
	DepositConfirming:  {DepositConfirmed, DepositInvalidated},
	DepositConfirmed:   {DepositCredited, DepositInvalidated},
	DepositCredited:    {DepositInvalidated},
	DepositInvalidated: nil,
}

func ParseDepositStatus(s string) (DepositStatus, error) {
	status := DepositStatus(s)
	if _, ok := depositTransitions[status]; !ok {
		return "", fmt.Errorf("unknown deposit status %q", s)
	}
	return status, nil
}

func (s DepositStatus) CanTransitionTo(next DepositStatus) bool {
	for _, candidate := range depositTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

func (s DepositStatus) IsTerminal() bool {
	_, ok := depositTransitions[s]
	return ok && len(depositTransitions[s]) == 0
}

// AwaitingDepth reports whether the transfer is still counting confirmations.
func (s DepositStatus) AwaitingDepth() bool {
	return s == DepositDetected || s == DepositConfirming
}

// DepositTransaction is keyed by its chain hash; the hash is the credit idempotency key.
type DepositTransaction struct {
	TxHash            string        `json:"tx_hash"`
	ToAddress         string        `json:"to_address"`
	Amount            int64         `json:"amount"`
	Status            DepositStatus `json:"status"`
	ConfirmationsSeen int64         `json:"confirmations_seen"`
	AccountId         string        `json:"account_id,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
	CreditedAt        time.Time     `json:"credited_at,omitempty"`
}

// ObservedTransfer is one (possibly redelivered) sighting from the chain feed.
type ObservedTransfer struct {
	TxHash        string
	ToAddress     string
	Amount        int64
	Confirmations int64
	Dropped       bool
}

// ChainStatus is the feed's current view of a transaction.
type ChainStatus struct {
	Found         bool
	Confirmations int64
	Dropped       bool
}

// MonitoredAddress is a deposit address issued to a user. Rows are never deleted.
type MonitoredAddress struct {
	Address   string    `json:"address"`
	OwnerId   string    `json:"owner_id,omitempty"`
	Watched   bool      `json:"watched"`
	CreatedAt time.Time `json:"created_at"`
}

// InvalidationResult describes what invalidating a deposit did to the ledger.
type InvalidationResult struct {
	TxHash         string
	PreviousStatus DepositStatus
	AccountId      string
	Amount         int64
	ReversedAmount int64
	Shortfall      int64
	ReviewId       string
}

// Reversed reports whether the deposit had already been credited.
func (r *InvalidationResult) Reversed() bool {
	return r.PreviousStatus == DepositCredited
}
