package store

import (
	"context"
	"errors"
	"time"

	"duel-settlement-go/internal/models"
)

// Sentinel errors shared by every layer. Callers match them with errors.Is.
var (
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrInvalidTransition      = errors.New("invalid status transition")
	ErrDuplicateEvent         = errors.New("duplicate event")
	ErrExternalService        = errors.New("external service failure")
	ErrReconciliationAnomaly  = errors.New("reconciliation anomaly")
	ErrNotFound               = errors.New("not found")
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrNotParticipant         = errors.New("caller is not a participant")
	ErrUnattributed           = errors.New("deposit address has no owner")
	ErrInvalidAmount          = errors.New("amount must be positive")
	ErrUnknownRegion          = errors.New("unknown region")
	ErrUnknownToken           = errors.New("unknown token type")
)

// AdjustParams describes one balance mutation and its history row.
type AdjustParams struct {
	AccountId      string
	Delta          int64
	ReservedDelta  int64
	Type           models.EntryType
	RelatedId      string
	IdempotencyKey string
	Description    string
}

// AcceptDuelParams moves a pending duel to active and reserves both stakes.
type AcceptDuelParams struct {
	DuelId     string
	OpponentId string
	At         time.Time
}

// SettleDuelParams pays the pot of a duel to WinnerId.
type SettleDuelParams struct {
	DuelId       string
	WinnerId     string
	From         []models.DuelStatus
	FeeBps       int64
	FeeAccountId string
	MatchData    []byte
	At           time.Time
}

// RefundDuelParams returns any reserved stakes and moves the duel to To.
type RefundDuelParams struct {
	DuelId string
	From   []models.DuelStatus
	To     models.DuelStatus
	Reason string
	At     time.Time
}

// TransitionDuelParams is a status change that moves no money.
type TransitionDuelParams struct {
	DuelId          string
	From            []models.DuelStatus
	To              models.DuelStatus
	ClaimedWinnerId string
	ClaimedBy       string
	At              time.Time
}

// TransitionPayoutParams is a payout status change that moves no money.
type TransitionPayoutParams struct {
	RequestId    string
	From         []models.PayoutStatus
	To           models.PayoutStatus
	TxHash       string
	ErrorMessage string
}

// RefundPayoutParams returns the escrow of a payout and moves it to To.
type RefundPayoutParams struct {
	RequestId    string
	From         []models.PayoutStatus
	To           models.PayoutStatus
	ErrorMessage string
}

// Ledger is the single entry point for balance mutation.
type Ledger interface {
	CreateAccount(ctx context.Context, accountId, name, email string) (*models.Account, error)
	GetAccount(ctx context.Context, accountId string) (*models.Account, error)
	ListAccounts(ctx context.Context) ([]models.Account, error)
	AdjustBalance(ctx context.Context, params AdjustParams) (*models.HistoryEntry, error)
	CreditDeposit(ctx context.Context, txHash, accountId string, amount int64) (*models.HistoryEntry, error)
	GetHistory(ctx context.Context, accountId string, limit, offset int) ([]models.HistoryEntry, error)
	ReconcileAccount(ctx context.Context, accountId string) (*models.Reconciliation, error)
	TotalBalance(ctx context.Context) (int64, error)
}

// AddressStore persists the monitored deposit addresses.
type AddressStore interface {
	AddMonitoredAddress(ctx context.Context, address, ownerId string) (*models.MonitoredAddress, error)
	GetMonitoredAddress(ctx context.Context, address string) (*models.MonitoredAddress, error)
	SetAddressWatched(ctx context.Context, address string, watched bool) error
	AssignAddressOwner(ctx context.Context, address, ownerId string) error
	ListWatchedAddresses(ctx context.Context) ([]models.MonitoredAddress, error)
	ListAccountAddresses(ctx context.Context, accountId string) ([]models.MonitoredAddress, error)
}

// DepositStore persists chain transfers and drives them to credit.
type DepositStore interface {
	AddressStore
	UpsertObservedDeposit(ctx context.Context, transfer models.ObservedTransfer) (*models.DepositTransaction, bool, error)
	GetDeposit(ctx context.Context, txHash string) (*models.DepositTransaction, error)
	ListUncreditedDeposits(ctx context.Context, limit int) ([]models.DepositTransaction, error)
	ListRecentlyCredited(ctx context.Context, since time.Time, limit int) ([]models.DepositTransaction, error)
	RecordConfirmations(ctx context.Context, txHash string, confirmations, requiredDepth int64) (*models.DepositTransaction, error)
	CreditConfirmedDeposit(ctx context.Context, txHash string) (*models.HistoryEntry, error)
	InvalidateDeposit(ctx context.Context, txHash string) (*models.InvalidationResult, error)
}

// DuelStore owns duel rows; every money-moving method commits the duel
// transition and its ledger entries together.
type DuelStore interface {
	CreateDuel(ctx context.Context, duel *models.Duel) error
	GetDuel(ctx context.Context, duelId string) (*models.Duel, error)
	ListAccountDuels(ctx context.Context, accountId string, limit int) ([]models.Duel, error)
	ListOpenChallenges(ctx context.Context, limit int) ([]models.Duel, error)
	AcceptDuel(ctx context.Context, params AcceptDuelParams) (*models.Duel, error)
	SettleDuel(ctx context.Context, params SettleDuelParams) (*models.Duel, error)
	RefundDuel(ctx context.Context, params RefundDuelParams) (*models.Duel, error)
	TransitionDuel(ctx context.Context, params TransitionDuelParams) (*models.Duel, error)
	ListExpirableDuels(ctx context.Context, pendingBefore, activeBefore time.Time, limit int) ([]models.Duel, error)
}

// PayoutStore owns payout rows and their escrow entries.
type PayoutStore interface {
	CreatePayout(ctx context.Context, request *models.PayoutRequest) error
	GetPayout(ctx context.Context, requestId string) (*models.PayoutRequest, error)
	ListPayouts(ctx context.Context, status models.PayoutStatus, limit int) ([]models.PayoutRequest, error)
	ListAccountPayouts(ctx context.Context, accountId string, limit int) ([]models.PayoutRequest, error)
	TransitionPayout(ctx context.Context, params TransitionPayoutParams) (*models.PayoutRequest, error)
	RefundPayout(ctx context.Context, params RefundPayoutParams) (*models.PayoutRequest, error)
}

// AdminStore holds account reviews and the admin audit trail.
type AdminStore interface {
	ListAccountReviews(ctx context.Context, includeResolved bool) ([]models.AccountReview, error)
	ResolveAccountReview(ctx context.Context, reviewId, adminId, note string) error
	RecordAdminAction(ctx context.Context, action models.AdminAction) error
	ListAdminActions(ctx context.Context, limit int) ([]models.AdminAction, error)
}

// MirrorStore is the outbox read by the external ledger mirror.
type MirrorStore interface {
	ListUnmirroredHistory(ctx context.Context, limit int) ([]models.HistoryEntry, error)
	MarkHistoryMirrored(ctx context.Context, entryId string) error
}

// Store is everything the services need from the durable backend.
type Store interface {
	Ledger
	DepositStore
	DuelStore
	PayoutStore
	AdminStore
	MirrorStore
	Close()
}

// IsBenign reports whether err is a lost race or replay that callers absorb.
func IsBenign(err error) bool {
	return errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrDuplicateEvent)
}
