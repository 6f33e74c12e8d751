package formance

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"duel-settlement-go/internal/metrics"
	"duel-settlement-go/internal/models"
	"duel-settlement-go/internal/store"

	"go.uber.org/zap"
)

// Gems are whole units.
const gemAsset = "GEM/0"

const numscriptSingleLeg = `vars {
  number $amount
  account $source
  account $destination
  string $entry_type
  string $account_id
  string $related_id
}

send [` + gemAsset + ` $amount] (
  source = $source allowing unbounded overdraft
  destination = $destination
)

set_tx_meta("entry_type", $entry_type)
set_tx_meta("account_id", $account_id)
set_tx_meta("related_id", $related_id)
`

const numscriptTwoLegs = `vars {
  number $amount
  account $source
  account $destination
  number $amount_2
  account $source_2
  account $destination_2
  string $entry_type
  string $account_id
  string $related_id
}

send [` + gemAsset + ` $amount] (
  source = $source allowing unbounded overdraft
  destination = $destination
)

send [` + gemAsset + ` $amount_2] (
  source = $source_2 allowing unbounded overdraft
  destination = $destination_2
)

set_tx_meta("entry_type", $entry_type)
set_tx_meta("account_id", $account_id)
set_tx_meta("related_id", $related_id)
`

var invalidSegment = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// Poster is the ledger the mirror writes to.
type Poster interface {
	Post(ctx context.Context, reference, script string, vars map[string]string, at time.Time) error
}

type leg struct {
	source      string
	destination string
	amount      int64
}

// legsFor turns one history row into ledger movements. Spendable and
// reserved gems are separate Formance accounts; the other side is the duel,
// the payout or the outside world, depending on what caused the row.
func legsFor(entry models.HistoryEntry) []leg {
	counterpart := "world"
	switch entry.Type {
	case models.EntryStakeReserve, models.EntryStakeRefund, models.EntryStakeForfeit,
		models.EntryDuelPayout, models.EntryPlatformFee:
		counterpart = "duels:" + segment(entry.RelatedId)
	case models.EntryPayoutEscrow, models.EntryPayoutRefund:
		counterpart = "payouts:" + segment(entry.RelatedId)
	}

	user := "users:" + segment(entry.AccountId)
	deltas := []struct {
		account string
		amount  int64
	}{
		{user + ":available", entry.Amount},
		{user + ":reserved", entry.ReservedDelta},
	}

	// Debits before credits, so a reserve or refund reads as a move through the counterpart.
	var legs []leg
	for _, delta := range deltas {
		if delta.amount < 0 {
			legs = append(legs, leg{source: delta.account, destination: counterpart, amount: -delta.amount})
		}
	}
	for _, delta := range deltas {
		if delta.amount > 0 {
			legs = append(legs, leg{source: counterpart, destination: delta.account, amount: delta.amount})
		}
	}
	return legs
}

// scriptFor returns the Numscript and variables for entry, or ok=false when
// the row moves nothing.
func scriptFor(entry models.HistoryEntry) (script string, vars map[string]string, ok bool) {
	legs := legsFor(entry)
	if len(legs) == 0 {
		return "", nil, false
	}

	vars = map[string]string{
		"amount":      strconv.FormatInt(legs[0].amount, 10),
		"source":      legs[0].source,
		"destination": legs[0].destination,
		"entry_type":  string(entry.Type),
		"account_id":  entry.AccountId,
		"related_id":  entry.RelatedId,
	}
	if len(legs) == 1 {
		return numscriptSingleLeg, vars, true
	}
	vars["amount_2"] = strconv.FormatInt(legs[1].amount, 10)
	vars["source_2"] = legs[1].source
	vars["destination_2"] = legs[1].destination
	return numscriptTwoLegs, vars, true
}

func segment(id string) string {
	if id == "" {
		return "none"
	}
	return invalidSegment.ReplaceAllString(id, "_")
}

type MirrorConfig struct {
	Store     store.MirrorStore
	Poster    Poster
	Metrics   *metrics.Metrics
	Interval  time.Duration
	BatchSize int
}

// Mirror copies every history row to the external ledger in insertion order.
// The history id is the Formance reference, so a row is never posted twice.
type Mirror struct {
	store     store.MirrorStore
	poster    Poster
	metrics   *metrics.Metrics
	interval  time.Duration
	batchSize int

	stopChan chan struct{}
	doneChan chan struct{}
}

func NewMirror(cfg MirrorConfig) *Mirror {
	return &Mirror{
		store:     cfg.Store,
		poster:    cfg.Poster,
		metrics:   cfg.Metrics,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		stopChan:  make(chan struct{}),
		doneChan:  make(chan struct{}),
	}
}

func (m *Mirror) Start(ctx context.Context) {
	zap.L().Info("Starting ledger mirror", zap.Duration("interval", m.interval))
	go m.loop(ctx)
}

func (m *Mirror) Stop() {
	zap.L().Info("Stopping ledger mirror")
	close(m.stopChan)
	<-m.doneChan
}

func (m *Mirror) loop(ctx context.Context) {
	defer close(m.doneChan)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := m.SyncOnce(ctx); err != nil && ctx.Err() == nil {
				zap.L().Warn("Ledger mirror sync failed", zap.Error(err))
			}
		case <-m.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// SyncOnce posts one batch and returns how many rows it mirrored. It stops at
// the first failure so rows are never mirrored out of order.
func (m *Mirror) SyncOnce(ctx context.Context) (int, error) {
	entries, err := m.store.ListUnmirroredHistory(ctx, m.batchSize)
	if err != nil {
		return 0, err
	}

	mirrored := 0
	for _, entry := range entries {
		if script, vars, ok := scriptFor(entry); ok {
			if err := m.poster.Post(ctx, entry.Id, script, vars, entry.CreatedAt); err != nil {
				m.metrics.MirrorErrors.Inc()
				return mirrored, fmt.Errorf("history %s: %w", entry.Id, err)
			}
		}
		if err := m.store.MarkHistoryMirrored(ctx, entry.Id); err != nil {
			return mirrored, err
		}
		mirrored++
		m.metrics.MirroredEntries.Inc()
	}

	if mirrored > 0 {
		zap.L().Debug("Mirrored history entries", zap.Int("count", mirrored))
	}
	return mirrored, nil
}
