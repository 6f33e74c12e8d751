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

package admin

import (
	"context"
	"fmt"

	"duel-settlement-go/internal/duel"
	"duel-settlement-go/internal/models"
	"duel-settlement-go/internal/payout"
	"duel-settlement-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AddressWatcher keeps the deposit listener's working set in step with the store.
type AddressWatcher interface {
	Watch(ctx context.Context, address, ownerId string) (*models.MonitoredAddress, error)
	Unwatch(ctx context.Context, address string) error
}

type ServiceConfig struct {
	Store     store.Store
	Duels     *duel.Service
	Payouts   *payout.Service
	Addresses AddressWatcher
}

// Service is the privileged path into the duel, payout and ledger operations.
// It adds no rules of its own: authorization happens before a call gets here
// and every successful action is appended to the audit trail, in the same
// transaction when the action commits one.
type Service struct {
	store     store.Store
	duels     *duel.Service
	payouts   *payout.Service
	addresses AddressWatcher
}

func NewService(cfg ServiceConfig) *Service {
	return &Service{
		store:     cfg.Store,
		duels:     cfg.Duels,
		payouts:   cfg.Payouts,
		addresses: cfg.Addresses,
	}
}

func (s *Service) ResolveDuel(ctx context.Context, adminId, duelId string, resolution models.Resolution) (*models.Duel, error) {
	ctx, audit := withAudit(ctx, adminId, "resolve_duel", duelId, string(resolution))
	result, err := s.duels.Resolve(ctx, duelId, resolution)
	if err != nil {
		return nil, err
	}
	s.finishAudit(ctx, audit)
	return result, nil
}

// ApprovePayout approves and sends. The approval is audited with the
// pending -> approved transition, so a failed send is still on record; the
// error is returned alongside the refunded request.
func (s *Service) ApprovePayout(ctx context.Context, adminId, requestId string) (*models.PayoutRequest, error) {
	ctx, audit := withAudit(ctx, adminId, "approve_payout", requestId, string(models.PayoutApproved))
	result, err := s.payouts.Approve(ctx, requestId)
	if audit.Written() {
		s.finishAudit(ctx, audit)
	}
	return result, err
}

func (s *Service) DeclinePayout(ctx context.Context, adminId, requestId, reason string) (*models.PayoutRequest, error) {
	ctx, audit := withAudit(ctx, adminId, "decline_payout", requestId, reason)
	result, err := s.payouts.Decline(ctx, requestId, reason)
	if err != nil {
		return nil, err
	}
	s.finishAudit(ctx, audit)
	return result, nil
}

func (s *Service) FailPayout(ctx context.Context, adminId, requestId, reason string) (*models.PayoutRequest, error) {
	ctx, audit := withAudit(ctx, adminId, "fail_payout", requestId, reason)
	result, err := s.payouts.FailStuck(ctx, requestId, reason)
	if err != nil {
		return nil, err
	}
	s.finishAudit(ctx, audit)
	return result, nil
}

func (s *Service) CompletePayout(ctx context.Context, adminId, requestId, txHash string) (*models.PayoutRequest, error) {
	ctx, audit := withAudit(ctx, adminId, "complete_payout", requestId, txHash)
	result, err := s.payouts.CompleteStuck(ctx, requestId, txHash)
	if err != nil {
		return nil, err
	}
	s.finishAudit(ctx, audit)
	return result, nil
}

func (s *Service) AddAddress(ctx context.Context, adminId, address, ownerId string) (*models.MonitoredAddress, error) {
	ctx, audit := withAudit(ctx, adminId, "add_address", address, ownerId)
	result, err := s.addresses.Watch(ctx, address, ownerId)
	if err != nil {
		return nil, err
	}
	s.finishAudit(ctx, audit)
	return result, nil
}

func (s *Service) RemoveAddress(ctx context.Context, adminId, address string) error {
	ctx, audit := withAudit(ctx, adminId, "remove_address", address, "")
	if err := s.addresses.Unwatch(ctx, address); err != nil {
		return err
	}
	s.finishAudit(ctx, audit)
	return nil
}

// AssignAddress attributes an unowned address. Deposits already confirmed on
// it are credited by the next confirmation poll.
func (s *Service) AssignAddress(ctx context.Context, adminId, address, ownerId string) error {
	if _, err := s.store.GetAccount(ctx, ownerId); err != nil {
		return err
	}
	ctx, audit := withAudit(ctx, adminId, "assign_address", address, ownerId)
	if err := s.store.AssignAddressOwner(ctx, address, ownerId); err != nil {
		return err
	}
	s.finishAudit(ctx, audit)
	return nil
}

func (s *Service) ListReviews(ctx context.Context, includeResolved bool) ([]models.AccountReview, error) {
	return s.store.ListAccountReviews(ctx, includeResolved)
}

func (s *Service) ResolveReview(ctx context.Context, adminId, reviewId, note string) error {
	ctx, audit := withAudit(ctx, adminId, "resolve_review", reviewId, note)
	if err := s.store.ResolveAccountReview(ctx, reviewId, adminId, note); err != nil {
		return err
	}
	s.finishAudit(ctx, audit)
	return nil
}

// AdjustBalance applies a manual correction. It is subject to the same
// non-negative balance guard as every other mutation.
func (s *Service) AdjustBalance(ctx context.Context, adminId, accountId string, delta int64, reason string) (*models.HistoryEntry, error) {
	if delta == 0 {
		return nil, store.ErrInvalidAmount
	}
	ctx, audit := withAudit(ctx, adminId, "adjust_balance", accountId, fmt.Sprintf("%+d: %s", delta, reason))
	entry, err := s.store.AdjustBalance(ctx, store.AdjustParams{
		AccountId:      accountId,
		Delta:          delta,
		Type:           models.EntryAdminAdjustment,
		RelatedId:      adminId,
		IdempotencyKey: "admin:" + uuid.New().String(),
		Description:    reason,
	})
	if err != nil {
		return nil, err
	}
	s.finishAudit(ctx, audit)
	return entry, nil
}

func (s *Service) ListActions(ctx context.Context, limit int) ([]models.AdminAction, error) {
	return s.store.ListAdminActions(ctx, limit)
}

// ReconcileAll replays every account and returns the ones that do not match.
func (s *Service) ReconcileAll(ctx context.Context) ([]models.Reconciliation, error) {
	accounts, err := s.store.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}

	var mismatched []models.Reconciliation
	for _, account := range accounts {
		result, err := s.store.ReconcileAccount(ctx, account.Id)
		if err != nil {
			return nil, err
		}
		if !result.Balanced() {
			mismatched = append(mismatched, *result)
		}
	}
	return mismatched, nil
}

func withAudit(ctx context.Context, adminId, action, targetId, detail string) (context.Context, *store.PendingAudit) {
	audit := &store.PendingAudit{Action: models.AdminAction{
		AdminId:  adminId,
		Action:   action,
		TargetId: targetId,
		Detail:   detail,
	}}
	return store.WithAudit(ctx, audit), audit
}

// finishAudit logs a committed action. Money-moving actions already wrote
// their audit row inside the store transaction; actions that commit no
// transaction of their own get it written here, after the fact.
func (s *Service) finishAudit(ctx context.Context, audit *store.PendingAudit) {
	action := audit.Action
	zap.L().Info("Admin action",
		zap.String("admin_id", action.AdminId),
		zap.String("action", action.Action),
		zap.String("target_id", action.TargetId),
		zap.String("detail", action.Detail))
	if audit.Written() {
		return
	}

	if err := s.store.RecordAdminAction(ctx, action); err != nil {
		zap.L().Error("Failed to record admin action",
			zap.String("admin_id", action.AdminId),
			zap.String("action", action.Action),
			zap.String("target_id", action.TargetId),
			zap.Error(err))
		return
	}
	audit.MarkWritten()
}
