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

package duel

import (
	"context"
	"time"

	"duel-settlement-go/internal/metrics"
	"duel-settlement-go/internal/models"
	"duel-settlement-go/internal/store"

	"go.uber.org/zap"
)

type SweeperConfig struct {
	Store           store.DuelStore
	Metrics         *metrics.Metrics
	ChallengeWindow time.Duration
	ActiveWindow    time.Duration
	Interval        time.Duration
	BatchSize       int
}

// Sweeper is the only timeout mechanism for duels. Unanswered challenges are
// cancelled; matches with no result inside the active window expire with both
// stakes refunded. Disputed duels wait for an admin and are never swept.
type Sweeper struct {
	store           store.DuelStore
	metrics         *metrics.Metrics
	challengeWindow time.Duration
	activeWindow    time.Duration
	interval        time.Duration
	batchSize       int
	now             func() time.Time

	stopChan chan struct{}
	doneChan chan struct{}
}

func NewSweeper(cfg SweeperConfig) *Sweeper {
	return &Sweeper{
		store:           cfg.Store,
		metrics:         cfg.Metrics,
		challengeWindow: cfg.ChallengeWindow,
		activeWindow:    cfg.ActiveWindow,
		interval:        cfg.Interval,
		batchSize:       cfg.BatchSize,
		now:             func() time.Time { return time.Now().UTC() },
		stopChan:        make(chan struct{}),
		doneChan:        make(chan struct{}),
	}
}

func (s *Sweeper) Start(ctx context.Context) {
	zap.L().Info("Starting duel expiry sweep",
		zap.Duration("interval", s.interval),
		zap.Duration("challenge_window", s.challengeWindow),
		zap.Duration("active_window", s.activeWindow))
	go s.loop(ctx)
}

func (s *Sweeper) Stop() {
	zap.L().Info("Stopping duel expiry sweep")
	close(s.stopChan)
	<-s.doneChan
}

func (s *Sweeper) loop(ctx context.Context) {
	defer close(s.doneChan)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				zap.L().Error("Expiry sweep failed", zap.Error(err))
			}
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// SweepOnce closes every overdue duel in one batch and returns how many it
// closed. Re-running it, or running it on several instances at once, never
// refunds twice: each close is a guarded transition.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	s.metrics.SweepRuns.Inc()
	now := s.now()

	duels, err := s.store.ListExpirableDuels(ctx, now.Add(-s.challengeWindow), now.Add(-s.activeWindow), s.batchSize)
	if err != nil {
		return 0, err
	}

	closed := 0
	for _, duel := range duels {
		params := store.RefundDuelParams{
			DuelId: duel.Id,
			From:   []models.DuelStatus{duel.Status},
			At:     now,
		}
		if duel.Status.IsPending() {
			params.To = models.DuelCancelled
			params.Reason = "challenge expired"
		} else {
			params.To = models.DuelExpired
			params.Reason = "match timed out"
		}

		result, err := s.store.RefundDuel(ctx, params)
		if store.IsBenign(err) {
			zap.L().Debug("Duel moved before sweep reached it",
				zap.String("duel_id", duel.Id),
				zap.String("status", string(duel.Status)))
			continue
		} else if err != nil {
			if ctx.Err() != nil {
				return closed, ctx.Err()
			}
			zap.L().Error("Failed to expire duel",
				zap.String("duel_id", duel.Id),
				zap.Error(err))
			continue
		}

		closed++
		s.metrics.SweepClosed.WithLabelValues(string(result.Status)).Inc()
		s.metrics.DuelTransitions.WithLabelValues(string(result.Status)).Inc()
		if duel.Status.HoldsStake() {
			s.metrics.StakeRefunds.WithLabelValues(params.Reason).Inc()
		}
	}

	if closed > 0 {
		zap.L().Info("Expiry sweep closed duels", zap.Int("closed", closed), zap.Int("candidates", len(duels)))
	}
	return closed, nil
}
