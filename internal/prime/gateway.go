package prime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"duel-settlement-go/internal/models"
	"duel-settlement-go/internal/store"

	"go.uber.org/zap"
)

// PrimeAPI is the part of Service the gateway drives.
type PrimeAPI interface {
	ListWalletTransactions(ctx context.Context, portfolioId, walletId string, startTime time.Time) ([]models.PrimeTransfer, error)
	CreateWithdrawal(ctx context.Context, params WithdrawalParams) (string, error)
	CreateDepositAddress(ctx context.Context, portfolioId, walletId, tokenType, network string) (*models.DepositAddress, error)
}

type GatewayConfig struct {
	API            PrimeAPI
	PortfolioId    string
	Tokens         []models.TokenConfig
	RequiredDepth  int64
	LookbackWindow time.Duration
	// RefreshInterval bounds how old a cached status may be before Status
	// lists the wallets again.
	RefreshInterval time.Duration
}

type seenTransfer struct {
	transfer  models.PrimeTransfer
	fetchedAt time.Time
}

// Gateway presents the Prime portfolio as the deposit feed, the
// confirmation source and the payout sender. Every token with a wallet id
// is polled; transfers are converted to gems at the token's fixed rate.
type Gateway struct {
	api            PrimeAPI
	portfolioId    string
	tokens         map[string]models.TokenConfig
	requiredDepth   int64
	lookbackWindow  time.Duration
	refreshInterval time.Duration

	mutex       sync.RWMutex
	seen        map[string]seenTransfer
	lastRefresh time.Time

	now func() time.Time
}

func NewGateway(cfg GatewayConfig) *Gateway {
	tokens := make(map[string]models.TokenConfig, len(cfg.Tokens))
	for _, token := range cfg.Tokens {
		tokens[strings.ToUpper(token.Type)] = token
	}
	return &Gateway{
		api:             cfg.API,
		portfolioId:     cfg.PortfolioId,
		tokens:          tokens,
		requiredDepth:   cfg.RequiredDepth,
		lookbackWindow:  cfg.LookbackWindow,
		refreshInterval: cfg.RefreshInterval,
		seen:            make(map[string]seenTransfer),
		now:             time.Now,
	}
}

// Transfers returns the deposits into any of addresses since the given time.
// A wallet that fails to list does not hide the others.
func (g *Gateway) Transfers(ctx context.Context, addresses []string, since time.Time) ([]models.ObservedTransfer, error) {
	watched := make(map[string]bool, len(addresses))
	for _, address := range addresses {
		watched[strings.ToLower(address)] = true
	}

	var observed []models.ObservedTransfer
	var errs []error
	for _, token := range g.tokens {
		if token.WalletId == "" {
			continue
		}

		transfers, err := g.api.ListWalletTransactions(ctx, g.portfolioId, token.WalletId, since)
		if err != nil {
			errs = append(errs, fmt.Errorf("wallet %s (%s): %w", token.WalletId, token.Type, err))
			continue
		}
		g.remember(transfers)

		for _, transfer := range transfers {
			if !strings.EqualFold(transfer.Type, "DEPOSIT") || !watched[strings.ToLower(transfer.ToAddress)] {
				continue
			}
			gems, err := TokenToGems(transfer.Amount, token.GemsPerUnit)
			if err != nil || gems <= 0 {
				zap.L().Warn("Skipping deposit with unusable amount",
					zap.String("tx_hash", transfer.Id),
					zap.String("amount", transfer.Amount),
					zap.String("token_type", token.Type),
					zap.Error(err))
				continue
			}

			confirmations, dropped := confirmationsFor(transfer.Status, g.requiredDepth)
			observed = append(observed, models.ObservedTransfer{
				TxHash:        transfer.Id,
				ToAddress:     transfer.ToAddress,
				Amount:        gems,
				Confirmations: confirmations,
				Dropped:       dropped,
			})
		}
	}

	return observed, errors.Join(errs...)
}

// Status answers from the transfers seen by recent polls. A transaction
// never seen, or last seen more than one refresh interval ago, makes it list
// the wallets again, at most once per interval.
func (g *Gateway) Status(ctx context.Context, deposit models.DepositTransaction) (models.ChainStatus, error) {
	entry, ok := g.lookup(deposit.TxHash)
	if !ok || g.stale(entry.fetchedAt) {
		if g.stale(g.refreshedAt()) {
			if err := g.refresh(ctx); err != nil {
				return models.ChainStatus{}, err
			}
		}
		entry, ok = g.lookup(deposit.TxHash)
		if !ok {
			return models.ChainStatus{Found: false}, nil
		}
	}

	confirmations, dropped := confirmationsFor(entry.transfer.Status, g.requiredDepth)
	return models.ChainStatus{Found: true, Confirmations: confirmations, Dropped: dropped}, nil
}

// refresh lists every wallet over the lookback window. Wallets that list are
// remembered even when others fail.
func (g *Gateway) refresh(ctx context.Context) error {
	since := g.now().Add(-g.lookbackWindow)
	var errs []error
	for _, token := range g.tokens {
		if token.WalletId == "" {
			continue
		}
		transfers, err := g.api.ListWalletTransactions(ctx, g.portfolioId, token.WalletId, since)
		if err != nil {
			errs = append(errs, fmt.Errorf("wallet %s (%s): %w", token.WalletId, token.Type, err))
			continue
		}
		g.remember(transfers)
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	g.mutex.Lock()
	g.lastRefresh = g.now()
	g.mutex.Unlock()
	return nil
}

func (g *Gateway) stale(at time.Time) bool {
	return at.IsZero() || g.now().Sub(at) >= g.refreshInterval
}

func (g *Gateway) refreshedAt() time.Time {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return g.lastRefresh
}

// Send withdraws the token equivalent of the payout. The request id is the
// Prime idempotency key, so a retried send cannot pay twice.
func (g *Gateway) Send(ctx context.Context, request models.PayoutRequest) (*models.SendResult, error) {
	token, ok := g.tokens[strings.ToUpper(request.TokenType)]
	if !ok || token.WalletId == "" {
		return nil, fmt.Errorf("token %q has no wallet: %w", request.TokenType, store.ErrUnknownToken)
	}
	amount, err := GemsToToken(request.GemAmount, token.GemsPerUnit)
	if err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("payout %s converts to zero %s", request.Id, token.Symbol)
	}

	activityId, err := g.api.CreateWithdrawal(ctx, WithdrawalParams{
		PortfolioId:        g.portfolioId,
		WalletId:           token.WalletId,
		DestinationAddress: request.DestinationAddress,
		Amount:             amount.String(),
		Symbol:             token.Symbol,
		NetworkId:          token.Network,
		NetworkType:        token.NetworkType,
		IdempotencyKey:     request.Id,
	})
	if err != nil {
		return nil, err
	}

	return &models.SendResult{
		TxHash:         activityId,
		IdempotencyKey: request.Id,
		Amount:         amount.String(),
		Symbol:         token.Symbol,
	}, nil
}

// IssueAddress creates a new deposit address in the token's wallet.
func (g *Gateway) IssueAddress(ctx context.Context, tokenType string) (*models.DepositAddress, error) {
	token, ok := g.tokens[strings.ToUpper(tokenType)]
	if !ok || token.WalletId == "" {
		return nil, fmt.Errorf("token %q has no wallet: %w", tokenType, store.ErrUnknownToken)
	}
	return g.api.CreateDepositAddress(ctx, g.portfolioId, token.WalletId, token.Type, token.Network)
}

func (g *Gateway) remember(transfers []models.PrimeTransfer) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	now := g.now()
	for _, transfer := range transfers {
		g.seen[transfer.Id] = seenTransfer{transfer: transfer, fetchedAt: now}
	}

	if g.lookbackWindow <= 0 {
		return
	}
	cutoff := now.Add(-2 * g.lookbackWindow)
	for id, entry := range g.seen {
		if !entry.transfer.CreatedAt.IsZero() && entry.transfer.CreatedAt.Before(cutoff) {
			delete(g.seen, id)
		}
	}
}

func (g *Gateway) lookup(txHash string) (seenTransfer, bool) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	entry, ok := g.seen[txHash]
	return entry, ok
}
