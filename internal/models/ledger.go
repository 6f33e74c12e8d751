package models

import "time"

// HouseAccountId receives platform fees so that settlement never creates or destroys gems.
const HouseAccountId = "platform"

// EntryType classifies a history row.
type EntryType string

const (
	EntryDeposit         EntryType = "deposit"
	EntryDepositReversal EntryType = "deposit_reversal"
	EntryStakeReserve    EntryType = "stake_reserve"
	EntryStakeRefund     EntryType = "stake_refund"
	EntryStakeForfeit    EntryType = "stake_forfeit"
	EntryDuelPayout      EntryType = "duel_payout"
	EntryPlatformFee     EntryType = "platform_fee"
	EntryPayoutEscrow    EntryType = "payout_escrow"
	EntryPayoutRefund    EntryType = "payout_refund"
	EntryAdminAdjustment EntryType = "admin_adjustment"
)

// Account holds a user's spendable gems. Reserved mirrors the stakes already
// debited from Balance for open duels.
type Account struct {
	Id        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Email     string    `db:"email" json:"email,omitempty"`
	Balance   int64     `db:"balance" json:"balance"`
	Reserved  int64     `db:"reserved" json:"reserved"`
	Version   int64     `db:"version" json:"version"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// HistoryEntry is an append-only record of one balance-affecting event.
type HistoryEntry struct {
	Id             string    `db:"id" json:"id"`
	AccountId      string    `db:"account_id" json:"account_id"`
	Type           EntryType `db:"entry_type" json:"type"`
	Amount         int64     `db:"amount" json:"amount"`
	ReservedDelta  int64     `db:"reserved_delta" json:"reserved_delta"`
	BalanceAfter   int64     `db:"balance_after" json:"balance_after"`
	IdempotencyKey string    `db:"idempotency_key" json:"idempotency_key,omitempty"`
	Description    string    `db:"description" json:"description"`
	RelatedId      string    `db:"related_id" json:"related_id,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// Reconciliation compares an account row with the replay of its history.
type Reconciliation struct {
	AccountId        string `json:"account_id"`
	StoredBalance    int64  `json:"stored_balance"`
	ReplayedBalance  int64  `json:"replayed_balance"`
	StoredReserved   int64  `json:"stored_reserved"`
	ReplayedReserved int64  `json:"replayed_reserved"`
	EntryCount       int64  `json:"entry_count"`
}

func (r *Reconciliation) Balanced() bool {
	return r.StoredBalance == r.ReplayedBalance && r.StoredReserved == r.ReplayedReserved
}

// AccountReview flags an account for manual follow-up after a reversed deposit.
type AccountReview struct {
	Id         string    `json:"id"`
	AccountId  string    `json:"account_id"`
	TxHash     string    `json:"tx_hash"`
	Reason     string    `json:"reason"`
	Shortfall  int64     `json:"shortfall"`
	Resolved   bool      `json:"resolved"`
	ResolvedBy string    `json:"resolved_by,omitempty"`
	Note       string    `json:"note,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// AdminAction is one row of the admin audit trail.
type AdminAction struct {
	Id        string    `json:"id"`
	AdminId   string    `json:"admin_id"`
	Action    string    `json:"action"`
	TargetId  string    `json:"target_id"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
