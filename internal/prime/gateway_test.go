package prime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"duel-settlement-go/internal/models"
	"duel-settlement-go/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	mu          sync.Mutex
	byWallet    map[string][]models.PrimeTransfer
	failWallet  string
	listCalls   int
	withdrawals []WithdrawalParams
}

func (f *fakeAPI) ListWalletTransactions(_ context.Context, _, walletId string, _ time.Time) ([]models.PrimeTransfer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if walletId == f.failWallet {
		return nil, errors.New("503 from prime")
	}
	return f.byWallet[walletId], nil
}

func (f *fakeAPI) CreateWithdrawal(_ context.Context, params WithdrawalParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.withdrawals = append(f.withdrawals, params)
	return "activity-" + params.IdempotencyKey, nil
}

func (f *fakeAPI) CreateDepositAddress(_ context.Context, _, walletId, tokenType, network string) (*models.DepositAddress, error) {
	return &models.DepositAddress{Id: "acct-" + walletId, Address: "0xnew", Network: network, TokenType: tokenType}, nil
}

func newTestGateway(api *fakeAPI) *Gateway {
	return NewGateway(GatewayConfig{
		API:         api,
		PortfolioId: "portfolio-1",
		Tokens: []models.TokenConfig{
			{Type: "USDC", Symbol: "USDC", Network: "base", NetworkType: "mainnet", WalletId: "wallet-usdc", GemsPerUnit: "100"},
			{Type: "ETH", Symbol: "ETH", Network: "ethereum", NetworkType: "mainnet", WalletId: "wallet-eth", GemsPerUnit: "250000"},
			{Type: "SOL", Symbol: "SOL", Network: "solana", GemsPerUnit: "20000"},
		},
		RequiredDepth:   12,
		LookbackWindow:  time.Hour,
		RefreshInterval: time.Minute,
	})
}

func TestGateway_Transfers(t *testing.T) {
	api := &fakeAPI{byWallet: map[string][]models.PrimeTransfer{
		"wallet-usdc": {
			{Id: "tx-1", Type: "DEPOSIT", Status: "TRANSACTION_IMPORT_PENDING", Amount: "1.5", ToAddress: "0xAAA"},
			{Id: "tx-2", Type: "DEPOSIT", Status: "TRANSACTION_IMPORTED", Amount: "2", ToAddress: "0xaaa"},
			{Id: "tx-3", Type: "DEPOSIT", Status: "TRANSACTION_IMPORTED", Amount: "2", ToAddress: "0xother"},
			{Id: "tx-4", Type: "DEPOSIT", Status: "TRANSACTION_IMPORTED", Amount: "0.001", ToAddress: "0xaaa"},
		},
		"wallet-eth": {
			{Id: "tx-5", Type: "DEPOSIT", Status: "TRANSACTION_FAILED", Amount: "0.01", ToAddress: "0xBBB"},
		},
	}}
	gateway := newTestGateway(api)

	observed, err := gateway.Transfers(context.Background(), []string{"0xaaa", "0xbbb"}, time.Now().Add(-time.Hour))
	require.NoError(t, err)

	byHash := make(map[string]models.ObservedTransfer)
	for _, o := range observed {
		byHash[o.TxHash] = o
	}
	require.Len(t, byHash, 3)
	assert.Equal(t, models.ObservedTransfer{TxHash: "tx-1", ToAddress: "0xAAA", Amount: 150}, byHash["tx-1"])
	assert.Equal(t, int64(12), byHash["tx-2"].Confirmations)
	assert.Equal(t, int64(2500), byHash["tx-5"].Amount)
	assert.True(t, byHash["tx-5"].Dropped)
	// The wallet without an id is never polled.
	assert.Equal(t, 2, api.listCalls)
}

func TestGateway_TransfersPartialFailure(t *testing.T) {
	api := &fakeAPI{
		failWallet: "wallet-eth",
		byWallet: map[string][]models.PrimeTransfer{
			"wallet-usdc": {{Id: "tx-1", Type: "DEPOSIT", Status: "TRANSACTION_IMPORTED", Amount: "1", ToAddress: "0xaaa"}},
		},
	}
	observed, err := newTestGateway(api).Transfers(context.Background(), []string{"0xaaa"}, time.Now())
	assert.ErrorContains(t, err, "wallet-eth")
	require.Len(t, observed, 1)
	assert.Equal(t, "tx-1", observed[0].TxHash)
}

func TestGateway_Status(t *testing.T) {
	api := &fakeAPI{byWallet: map[string][]models.PrimeTransfer{
		"wallet-usdc": {{Id: "tx-1", Type: "DEPOSIT", Status: "TRANSACTION_IMPORT_PENDING", Amount: "1", ToAddress: "0xaaa", CreatedAt: time.Now()}},
	}}
	gateway := newTestGateway(api)
	ctx := context.Background()

	status, err := gateway.Status(ctx, models.DepositTransaction{TxHash: "tx-1"})
	require.NoError(t, err)
	assert.Equal(t, models.ChainStatus{Found: true}, status)
	calls := api.listCalls

	// Served from the cache once seen.
	api.mu.Lock()
	api.byWallet["wallet-usdc"][0].Status = "TRANSACTION_IMPORTED"
	api.mu.Unlock()
	_, err = gateway.Status(ctx, models.DepositTransaction{TxHash: "tx-1"})
	require.NoError(t, err)
	assert.Equal(t, calls, api.listCalls)

	_, err = gateway.Transfers(ctx, []string{"0xaaa"}, time.Now())
	require.NoError(t, err)
	status, err = gateway.Status(ctx, models.DepositTransaction{TxHash: "tx-1"})
	require.NoError(t, err)
	assert.Equal(t, models.ChainStatus{Found: true, Confirmations: 12}, status)

	status, err = gateway.Status(ctx, models.DepositTransaction{TxHash: "tx-unknown"})
	require.NoError(t, err)
	assert.False(t, status.Found)
}

func TestGateway_StatusRefreshesStaleEntries(t *testing.T) {
	api := &fakeAPI{byWallet: map[string][]models.PrimeTransfer{
		"wallet-usdc": {{Id: "tx-1", Type: "DEPOSIT", Status: "TRANSACTION_IMPORTED", Amount: "1", ToAddress: "0xaaa", CreatedAt: time.Now()}},
	}}
	gateway := newTestGateway(api)
	clock := time.Now()
	gateway.now = func() time.Time { return clock }
	ctx := context.Background()

	status, err := gateway.Status(ctx, models.DepositTransaction{TxHash: "tx-1"})
	require.NoError(t, err)
	assert.Equal(t, models.ChainStatus{Found: true, Confirmations: 12}, status)

	// No listener poll runs; the drop is still picked up once the entry is stale.
	api.mu.Lock()
	api.byWallet["wallet-usdc"][0].Status = "TRANSACTION_FAILED"
	api.mu.Unlock()

	clock = clock.Add(30 * time.Second)
	status, err = gateway.Status(ctx, models.DepositTransaction{TxHash: "tx-1"})
	require.NoError(t, err)
	assert.False(t, status.Dropped)

	clock = clock.Add(time.Minute)
	calls := api.listCalls
	status, err = gateway.Status(ctx, models.DepositTransaction{TxHash: "tx-1"})
	require.NoError(t, err)
	assert.True(t, status.Dropped)
	assert.Greater(t, api.listCalls, calls)

	// A failed refresh is reported rather than answered from a stale entry.
	clock = clock.Add(time.Minute)
	api.mu.Lock()
	api.failWallet = "wallet-usdc"
	api.mu.Unlock()
	_, err = gateway.Status(ctx, models.DepositTransaction{TxHash: "tx-1"})
	assert.ErrorContains(t, err, "wallet-usdc")
}

func TestGateway_Send(t *testing.T) {
	api := &fakeAPI{}
	gateway := newTestGateway(api)
	ctx := context.Background()

	result, err := gateway.Send(ctx, models.PayoutRequest{
		Id: "req-1", GemAmount: 250, TokenType: "usdc", DestinationAddress: "0xdest",
	})
	require.NoError(t, err)
	assert.Equal(t, "activity-req-1", result.TxHash)
	assert.Equal(t, "2.5", result.Amount)

	require.Len(t, api.withdrawals, 1)
	params := api.withdrawals[0]
	assert.Equal(t, "wallet-usdc", params.WalletId)
	assert.Equal(t, "req-1", params.IdempotencyKey)
	assert.Equal(t, "base", params.NetworkId)
	assert.Equal(t, "mainnet", params.NetworkType)

	_, err = gateway.Send(ctx, models.PayoutRequest{Id: "req-2", GemAmount: 10, TokenType: "SOL"})
	assert.ErrorIs(t, err, store.ErrUnknownToken)
	_, err = gateway.Send(ctx, models.PayoutRequest{Id: "req-3", GemAmount: 10, TokenType: "DOGE"})
	assert.ErrorIs(t, err, store.ErrUnknownToken)
}

func TestGateway_IssueAddress(t *testing.T) {
	gateway := newTestGateway(&fakeAPI{})
	address, err := gateway.IssueAddress(context.Background(), "eth")
	require.NoError(t, err)
	assert.Equal(t, "0xnew", address.Address)
	assert.Equal(t, "ETH", address.TokenType)
	assert.Equal(t, "ethereum", address.Network)
}
