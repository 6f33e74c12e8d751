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

package listener

import (
	"context"
	"errors"
	"fmt"
	"time"

	"duel-settlement-go/internal/metrics"
	"duel-settlement-go/internal/models"
	"duel-settlement-go/internal/store"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// ChainSource reports the current chain view of a deposit.
type ChainSource interface {
	Status(ctx context.Context, deposit models.DepositTransaction) (models.ChainStatus, error)
}

// ConfirmerConfig contains configuration for Confirmer
type ConfirmerConfig struct {
	Store          store.DepositStore
	Source         ChainSource
	Metrics        *metrics.Metrics
	RequiredDepth  int64
	PollInterval   time.Duration
	BatchSize      int
	ReorgWindow    time.Duration
	MaxRetries     uint64
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Confirmer drives deposits from detected to credited, and invalidates them
// when the chain drops them. It is poll driven with an optional push channel
// from the listener.
type Confirmer struct {
	store   store.DepositStore
	source  ChainSource
	metrics *metrics.Metrics

	requiredDepth  int64
	pollInterval   time.Duration
	batchSize      int
	reorgWindow    time.Duration
	maxRetries     uint64
	initialBackoff time.Duration
	maxBackoff     time.Duration

	notifyChan chan string
	stopChan   chan struct{}
	doneChan   chan struct{}
}

func NewConfirmer(cfg ConfirmerConfig) *Confirmer {
	return &Confirmer{
		store:          cfg.Store,
		source:         cfg.Source,
		metrics:        cfg.Metrics,
		requiredDepth:  cfg.RequiredDepth,
		pollInterval:   cfg.PollInterval,
		batchSize:      cfg.BatchSize,
		reorgWindow:    cfg.ReorgWindow,
		maxRetries:     cfg.MaxRetries,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		notifyChan:     make(chan string, 256),
		stopChan:       make(chan struct{}),
		doneChan:       make(chan struct{}),
	}
}

// Notify queues txHash for an immediate check. It never blocks; if the queue
// is full the next poll picks the deposit up anyway.
func (c *Confirmer) Notify(txHash string) {
	select {
	case c.notifyChan <- txHash:
	default:
		zap.L().Debug("Confirmation queue full, deferring to next poll", zap.String("tx_hash", txHash))
	}
}

// Start re-drives confirmed-but-uncredited rows left by a previous run and
// then begins the poll loop.
func (c *Confirmer) Start(ctx context.Context) error {
	zap.L().Info("Starting deposit confirmation service",
		zap.Int64("required_depth", c.requiredDepth),
		zap.Duration("poll_interval", c.pollInterval))

	if err := c.RunOnce(ctx); err != nil {
		return fmt.Errorf("startup confirmation pass failed: %w", err)
	}

	go c.loop(ctx)
	return nil
}

func (c *Confirmer) Stop() {
	zap.L().Info("Stopping deposit confirmation service")
	close(c.stopChan)
	<-c.doneChan
	zap.L().Info("Deposit confirmation service stopped")
}

func (c *Confirmer) loop(ctx context.Context) {
	defer close(c.doneChan)

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case txHash := <-c.notifyChan:
			if err := c.ProcessDeposit(ctx, txHash); err != nil && ctx.Err() == nil {
				zap.L().Warn("Failed to process notified deposit",
					zap.String("tx_hash", txHash),
					zap.Error(err))
			}
		case <-ticker.C:
			if err := c.RunOnce(ctx); err != nil && ctx.Err() == nil {
				zap.L().Error("Confirmation pass failed", zap.Error(err))
			}
		case <-c.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce checks every uncredited deposit, then re-checks deposits credited
// within the reorg window. Failures on single deposits are logged and skipped.
func (c *Confirmer) RunOnce(ctx context.Context) error {
	pending, err := c.store.ListUncreditedDeposits(ctx, c.batchSize)
	if err != nil {
		return err
	}
	for _, deposit := range pending {
		if err := c.process(ctx, deposit); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			zap.L().Warn("Deposit confirmation step failed",
				zap.String("tx_hash", deposit.TxHash),
				zap.String("status", string(deposit.Status)),
				zap.Error(err))
		}
	}

	if c.reorgWindow <= 0 {
		return nil
	}
	credited, err := c.store.ListRecentlyCredited(ctx, time.Now().UTC().Add(-c.reorgWindow), c.batchSize)
	if err != nil {
		return err
	}
	for _, deposit := range credited {
		if err := c.process(ctx, deposit); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			zap.L().Warn("Credited deposit recheck failed",
				zap.String("tx_hash", deposit.TxHash),
				zap.Error(err))
		}
	}
	return nil
}

// ProcessDeposit runs one confirmation step for a single deposit.
func (c *Confirmer) ProcessDeposit(ctx context.Context, txHash string) error {
	deposit, err := c.store.GetDeposit(ctx, txHash)
	if err != nil {
		return err
	}
	return c.process(ctx, *deposit)
}

func (c *Confirmer) process(ctx context.Context, deposit models.DepositTransaction) error {
	if deposit.Status == models.DepositInvalidated {
		return nil
	}

	if deposit.Status == models.DepositConfirmed {
		return c.creditConfirmed(ctx, deposit)
	}

	status, err := c.chainStatus(ctx, deposit)
	if err != nil {
		c.metrics.ConfirmationErrors.Inc()
		return err
	}
	if !status.Found {
		zap.L().Debug("Deposit not yet visible on chain source", zap.String("tx_hash", deposit.TxHash))
		return nil
	}
	if status.Dropped {
		return c.invalidate(ctx, deposit.TxHash)
	}
	if deposit.Status == models.DepositCredited {
		return nil
	}

	updated, err := c.store.RecordConfirmations(ctx, deposit.TxHash, status.Confirmations, c.requiredDepth)
	if err != nil {
		return err
	}
	if updated.Status == models.DepositConfirmed {
		return c.credit(ctx, deposit.TxHash)
	}

	zap.L().Debug("Deposit awaiting depth",
		zap.String("tx_hash", deposit.TxHash),
		zap.Int64("confirmations", updated.ConfirmationsSeen),
		zap.Int64("required_depth", c.requiredDepth))
	return nil
}

// creditConfirmed re-asks the chain before crediting a row that already
// reached depth: it may have sat unattributed, or a crash may have left it
// uncredited. A drop invalidates it; a row that has aged out of the source's
// view is credited. Without a source the row is credited directly.
func (c *Confirmer) creditConfirmed(ctx context.Context, deposit models.DepositTransaction) error {
	if c.source == nil {
		return c.credit(ctx, deposit.TxHash)
	}
	status, err := c.chainStatus(ctx, deposit)
	if err != nil {
		c.metrics.ConfirmationErrors.Inc()
		return err
	}
	if status.Dropped {
		return c.invalidate(ctx, deposit.TxHash)
	}
	return c.credit(ctx, deposit.TxHash)
}

func (c *Confirmer) credit(ctx context.Context, txHash string) error {
	entry, err := c.store.CreditConfirmedDeposit(ctx, txHash)
	switch {
	case errors.Is(err, store.ErrUnattributed):
		zap.L().Warn("Confirmed deposit has no owner, holding until address is attributed",
			zap.String("tx_hash", txHash))
		return nil
	case store.IsBenign(err):
		zap.L().Debug("Deposit already moved past confirmed", zap.String("tx_hash", txHash))
		return nil
	case err != nil:
		return err
	}

	c.metrics.DepositsCredited.Inc()
	zap.L().Debug("Credit applied",
		zap.String("tx_hash", txHash),
		zap.String("history_id", entry.Id))
	return nil
}

func (c *Confirmer) invalidate(ctx context.Context, txHash string) error {
	result, err := c.store.InvalidateDeposit(ctx, txHash)
	if store.IsBenign(err) {
		return nil
	} else if err != nil {
		return err
	}

	c.metrics.DepositsInvalidated.WithLabelValues(string(result.PreviousStatus)).Inc()
	if !result.Reversed() {
		zap.L().Info("Deposit dropped before credit",
			zap.String("tx_hash", txHash),
			zap.String("previous_status", string(result.PreviousStatus)))
		return nil
	}

	c.metrics.ReconciliationAnomalies.Inc()
	zap.L().Error("RECONCILIATION ANOMALY",
		zap.String("tx_hash", txHash),
		zap.String("account_id", result.AccountId),
		zap.Int64("amount", result.Amount),
		zap.Int64("reversed", result.ReversedAmount),
		zap.Int64("shortfall", result.Shortfall),
		zap.String("review_id", result.ReviewId),
		zap.Error(store.ErrReconciliationAnomaly))
	return nil
}

// chainStatus asks the chain source with exponential backoff; lookups are
// read-only so retrying is always safe.
func (c *Confirmer) chainStatus(ctx context.Context, deposit models.DepositTransaction) (models.ChainStatus, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialBackoff
	b.MaxInterval = c.maxBackoff
	b.MaxElapsedTime = 0

	var status models.ChainStatus
	attempt := 0
	operation := func() error {
		attempt++
		var err error
		status, err = c.source.Status(ctx, deposit)
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if err != nil {
			zap.L().Debug("Chain status lookup failed",
				zap.String("tx_hash", deposit.TxHash),
				zap.Int("attempt", attempt),
				zap.Error(err))
		}
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, c.maxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return models.ChainStatus{}, fmt.Errorf("chain status for %s: %w", deposit.TxHash, errors.Join(store.ErrExternalService, err))
	}
	return status, nil
}
