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

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "duels"

// Metrics holds the settlement counters shared by the background workers and the API.
type Metrics struct {
	// Duels
	DuelTransitions *prometheus.CounterVec
	Settlements     prometheus.Counter
	StakeRefunds    *prometheus.CounterVec
	SweepRuns       prometheus.Counter
	SweepClosed     *prometheus.CounterVec

	// Deposits
	DepositsObserved        prometheus.Counter
	DepositsCredited        prometheus.Counter
	DepositsInvalidated     *prometheus.CounterVec
	ReconciliationAnomalies prometheus.Counter
	WatchedAddresses        prometheus.Gauge
	ConfirmationErrors      prometheus.Counter

	// Payouts
	PayoutOutcomes *prometheus.CounterVec

	// Bots and mirror
	BotHeartbeats   *prometheus.CounterVec
	BotReports      *prometheus.CounterVec
	MirroredEntries prometheus.Counter
	MirrorErrors    prometheus.Counter
}

// New registers every collector on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{}

	m.DuelTransitions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duel_transitions_total",
			Help:      "Duel status transitions by target status",
		},
		[]string{"to"},
	)
	m.Settlements = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duel_settlements_total",
			Help:      "Duels settled with a pot payout",
		},
	)
	m.StakeRefunds = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duel_refunds_total",
			Help:      "Duels closed with both stakes refunded, by reason",
		},
		[]string{"reason"},
	)
	m.SweepRuns = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expiry_sweep_runs_total",
			Help:      "Expiry sweep passes",
		},
	)
	m.SweepClosed = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expiry_sweep_closed_total",
			Help:      "Duels closed by the expiry sweep, by resulting status",
		},
		[]string{"status"},
	)

	m.DepositsObserved = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deposits_observed_total",
			Help:      "New deposit transactions first seen on the feed",
		},
	)
	m.DepositsCredited = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deposits_credited_total",
			Help:      "Deposits credited to an account",
		},
	)
	m.DepositsInvalidated = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deposits_invalidated_total",
			Help:      "Deposits dropped by the chain, by status before invalidation",
		},
		[]string{"previous_status"},
	)
	m.ReconciliationAnomalies = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliation_anomalies_total",
			Help:      "Credited deposits later invalidated",
		},
	)
	m.WatchedAddresses = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watched_addresses",
			Help:      "Addresses in the listener working set",
		},
	)
	m.ConfirmationErrors = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "confirmation_errors_total",
			Help:      "Confirmation lookups that failed after retries",
		},
	)

	m.PayoutOutcomes = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payout_outcomes_total",
			Help:      "Payout requests by final status",
		},
		[]string{"status"},
	)

	m.BotHeartbeats = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bot_heartbeats_total",
			Help:      "Bot heartbeats received by region",
		},
		[]string{"region"},
	)
	m.BotReports = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bot_reports_total",
			Help:      "Bot result reports by outcome",
		},
		[]string{"outcome"},
	)
	m.MirroredEntries = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mirrored_entries_total",
			Help:      "History rows posted to the external ledger",
		},
	)
	m.MirrorErrors = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mirror_errors_total",
			Help:      "Failed external ledger posts",
		},
	)

	return m
}

// NewUnregistered returns collectors bound to a private registry, for tools and tests.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}
