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
	"sort"
	"strings"
	"sync"
	"time"

	"duel-settlement-go/internal/metrics"
	"duel-settlement-go/internal/models"
	"duel-settlement-go/internal/store"

	"go.uber.org/zap"
)

// Feed is the chain data source. Each call returns transfers to any of the
// given addresses seen since the given time; redelivery and reordering across
// calls are expected.
type Feed interface {
	Transfers(ctx context.Context, addresses []string, since time.Time) ([]models.ObservedTransfer, error)
}

// Notifier is told about deposits that changed and should be re-checked.
type Notifier interface {
	Notify(txHash string)
}

// DepositListenerConfig contains configuration for DepositListener
type DepositListenerConfig struct {
	Store           store.DepositStore
	Feed            Feed
	Notifier        Notifier
	Metrics         *metrics.Metrics
	LookbackWindow  time.Duration
	PollingInterval time.Duration
}

// DepositListener mirrors the monitored address table in memory and feeds
// transfers to those addresses into the deposit table.
type DepositListener struct {
	store    store.DepositStore
	feed     Feed
	notifier Notifier
	metrics  *metrics.Metrics

	// Working set, keyed by lowercased address
	watched map[string]string
	mutex   sync.RWMutex

	lookbackWindow  time.Duration
	pollingInterval time.Duration

	stopChan chan struct{}
	doneChan chan struct{}
}

func NewDepositListener(cfg DepositListenerConfig) *DepositListener {
	return &DepositListener{
		store:           cfg.Store,
		feed:            cfg.Feed,
		notifier:        cfg.Notifier,
		metrics:         cfg.Metrics,
		watched:         make(map[string]string),
		lookbackWindow:  cfg.LookbackWindow,
		pollingInterval: cfg.PollingInterval,
		stopChan:        make(chan struct{}),
		doneChan:        make(chan struct{}),
	}
}

// Start reloads the working set from the store and begins polling the feed.
func (l *DepositListener) Start(ctx context.Context) error {
	zap.L().Info("Starting deposit listener")

	if err := l.LoadWorkingSet(ctx); err != nil {
		return fmt.Errorf("failed to load monitored addresses: %w", err)
	}
	if len(l.WorkingSet()) == 0 {
		zap.L().Warn("No addresses to monitor - issue deposit addresses first")
	}

	go l.pollLoop(ctx)

	zap.L().Info("Deposit listener started successfully",
		zap.Int("addresses", len(l.WorkingSet())),
		zap.Duration("polling_interval", l.pollingInterval),
		zap.Duration("lookback_window", l.lookbackWindow))
	return nil
}

// Stop gracefully stops the deposit listener
func (l *DepositListener) Stop() {
	zap.L().Info("Stopping deposit listener")
	close(l.stopChan)
	<-l.doneChan
	zap.L().Info("Deposit listener stopped")
}

func (l *DepositListener) pollLoop(ctx context.Context) {
	defer close(l.doneChan)

	ticker := time.NewTicker(l.pollingInterval)
	defer ticker.Stop()

	l.poll(ctx)

	for {
		select {
		case <-ticker.C:
			l.poll(ctx)
		case <-l.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (l *DepositListener) poll(ctx context.Context) {
	if _, err := l.PollOnce(ctx); err != nil && ctx.Err() == nil {
		zap.L().Error("Failed to poll deposit feed", zap.Error(err))
	}
}

// LoadWorkingSet replaces the in-memory set with the watched rows of the store.
func (l *DepositListener) LoadWorkingSet(ctx context.Context) error {
	addresses, err := l.store.ListWatchedAddresses(ctx)
	if err != nil {
		return err
	}

	watched := make(map[string]string, len(addresses))
	for _, a := range addresses {
		watched[strings.ToLower(a.Address)] = a.Address
	}

	l.mutex.Lock()
	l.watched = watched
	l.mutex.Unlock()

	l.metrics.WatchedAddresses.Set(float64(len(watched)))
	zap.L().Info("Loaded monitored addresses", zap.Int("count", len(watched)))
	return nil
}

// Watch persists address (optionally attributed to ownerId) and adds it to the working set.
func (l *DepositListener) Watch(ctx context.Context, address, ownerId string) (*models.MonitoredAddress, error) {
	stored, err := l.store.AddMonitoredAddress(ctx, address, ownerId)
	if err != nil {
		return nil, err
	}

	l.mutex.Lock()
	l.watched[strings.ToLower(stored.Address)] = stored.Address
	count := len(l.watched)
	l.mutex.Unlock()

	l.metrics.WatchedAddresses.Set(float64(count))
	return stored, nil
}

// Unwatch stops watching address. The row is kept so the address can be re-watched later.
func (l *DepositListener) Unwatch(ctx context.Context, address string) error {
	if err := l.store.SetAddressWatched(ctx, address, false); err != nil {
		return err
	}

	l.mutex.Lock()
	delete(l.watched, strings.ToLower(address))
	count := len(l.watched)
	l.mutex.Unlock()

	l.metrics.WatchedAddresses.Set(float64(count))
	zap.L().Info("Stopped watching address", zap.String("address", address))
	return nil
}

// WorkingSet returns the watched addresses in sorted order.
func (l *DepositListener) WorkingSet() []string {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	addresses := make([]string, 0, len(l.watched))
	for _, address := range l.watched {
		addresses = append(addresses, address)
	}
	sort.Strings(addresses)
	return addresses
}

func (l *DepositListener) isWatched(address string) bool {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	_, ok := l.watched[strings.ToLower(address)]
	return ok
}

// PollOnce fetches one batch from the feed and handles every transfer in it.
// It returns the number of transfers that were recorded.
func (l *DepositListener) PollOnce(ctx context.Context) (int, error) {
	addresses := l.WorkingSet()
	if len(addresses) == 0 {
		return 0, nil
	}

	since := time.Now().UTC().Add(-l.lookbackWindow)
	transfers, err := l.feed.Transfers(ctx, addresses, since)
	if err != nil {
		return 0, fmt.Errorf("feed call failed: %w", errors.Join(store.ErrExternalService, err))
	}

	handled := 0
	for _, transfer := range transfers {
		ok, err := l.HandleTransfer(ctx, transfer)
		if err != nil {
			zap.L().Error("Failed to record transfer",
				zap.String("tx_hash", transfer.TxHash),
				zap.String("address", transfer.ToAddress),
				zap.Error(err))
			continue
		}
		if ok {
			handled++
		}
	}
	return handled, nil
}

// HandleTransfer upserts one observed transfer keyed on its tx hash and
// notifies the confirmation service. Transfers to unwatched addresses are
// ignored. ok reports whether the transfer was recorded.
func (l *DepositListener) HandleTransfer(ctx context.Context, transfer models.ObservedTransfer) (bool, error) {
	if !l.isWatched(transfer.ToAddress) {
		zap.L().Debug("Ignoring transfer to unwatched address",
			zap.String("tx_hash", transfer.TxHash),
			zap.String("address", transfer.ToAddress))
		return false, nil
	}

	if transfer.Dropped {
		// A drop only matters for a deposit we already track.
		if _, err := l.store.GetDeposit(ctx, transfer.TxHash); errors.Is(err, store.ErrNotFound) {
			return false, nil
		} else if err != nil {
			return false, err
		}
		l.notifier.Notify(transfer.TxHash)
		return true, nil
	}

	deposit, created, err := l.store.UpsertObservedDeposit(ctx, transfer)
	if err != nil {
		return false, err
	}
	if created {
		l.metrics.DepositsObserved.Inc()
		zap.L().Info("Deposit detected",
			zap.String("tx_hash", deposit.TxHash),
			zap.String("address", deposit.ToAddress),
			zap.Int64("amount", deposit.Amount),
			zap.Int64("confirmations", deposit.ConfirmationsSeen))
	}

	if deposit.Status.AwaitingDepth() || deposit.Status == models.DepositConfirmed {
		l.notifier.Notify(deposit.TxHash)
	}
	return true, nil
}
