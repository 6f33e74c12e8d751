package prime

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"duel-settlement-go/internal/models"

	"github.com/coinbase-samples/prime-sdk-go/client"
	"github.com/coinbase-samples/prime-sdk-go/credentials"
	"github.com/coinbase-samples/prime-sdk-go/model"
	"github.com/coinbase-samples/prime-sdk-go/portfolios"
	"github.com/coinbase-samples/prime-sdk-go/transactions"
	"github.com/coinbase-samples/prime-sdk-go/wallets"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

type Service struct {
	client          client.RestClient
	portfoliosSvc   portfolios.PortfoliosService
	walletsSvc      wallets.WalletsService
	transactionsSvc transactions.TransactionsService
}

func NewService(creds *credentials.Credentials) (*Service, error) {
	httpClient, err := createCustomHttpClient()
	if err != nil {
		return nil, fmt.Errorf("unable to create custom http client: %w", err)
	}

	restClient := client.NewRestClient(creds, httpClient)

	return &Service{
		client:          restClient,
		portfoliosSvc:   portfolios.NewPortfoliosService(restClient),
		walletsSvc:      wallets.NewWalletsService(restClient),
		transactionsSvc: transactions.NewTransactionsService(restClient),
	}, nil
}

func createCustomHttpClient() (http.Client, error) {
	tr := &http.Transport{
		ResponseHeaderTimeout: 30 * time.Second,
		Proxy:                 http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			KeepAlive: 30 * time.Second,
			Timeout:   15 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConnsPerHost:   5,
		ExpectContinueTimeout: 5 * time.Second,
	}

	if err := http2.ConfigureTransport(tr); err != nil {
		return http.Client{}, err
	}

	return http.Client{
		Transport: tr,
		Timeout:   60 * time.Second,
	}, nil
}

func (s *Service) ListPortfolios(ctx context.Context) ([]models.Portfolio, error) {
	response, err := s.portfoliosSvc.ListPortfolios(ctx, &portfolios.ListPortfoliosRequest{})
	if err != nil {
		return nil, fmt.Errorf("unable to list portfolios: %w", err)
	}

	portfolioList := make([]models.Portfolio, len(response.Portfolios))
	for i, p := range response.Portfolios {
		portfolioList[i] = models.Portfolio{Id: p.Id, Name: p.Name}
	}
	return portfolioList, nil
}

// FindPortfolio returns the portfolio with the given id, or by name when id is empty.
func (s *Service) FindPortfolio(ctx context.Context, id, name string) (*models.Portfolio, error) {
	portfolioList, err := s.ListPortfolios(ctx)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = "Default Portfolio"
	}

	for _, portfolio := range portfolioList {
		if (id != "" && portfolio.Id == id) || (id == "" && portfolio.Name == name) {
			return &portfolio, nil
		}
	}
	return nil, fmt.Errorf("portfolio %q not found", firstNonEmpty(id, name))
}

func (s *Service) ListWallets(ctx context.Context, portfolioId, walletType string, symbols []string) ([]models.Wallet, error) {
	response, err := s.walletsSvc.ListWallets(ctx, &wallets.ListWalletsRequest{
		PortfolioId: portfolioId,
		Type:        walletType,
		Symbols:     symbols,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to list wallets: %w", err)
	}

	walletList := make([]models.Wallet, len(response.Wallets))
	for i, w := range response.Wallets {
		walletList[i] = models.Wallet{Id: w.Id, Name: w.Name, Symbol: w.Symbol, Type: w.Type}
	}
	return walletList, nil
}

func (s *Service) CreateWallet(ctx context.Context, portfolioId, name, symbol, walletType string) (*models.Wallet, error) {
	response, err := s.walletsSvc.CreateWallet(ctx, &wallets.CreateWalletRequest{
		PortfolioId:    portfolioId,
		Name:           name,
		Symbol:         symbol,
		Type:           walletType,
		IdempotencyKey: uuid.New().String(),
	})
	if err != nil {
		return nil, fmt.Errorf("unable to create wallet: %w", err)
	}

	return &models.Wallet{
		Id:     response.ActivityId,
		Name:   response.Name,
		Symbol: response.Symbol,
		Type:   response.Type,
	}, nil
}

func (s *Service) CreateDepositAddress(ctx context.Context, portfolioId, walletId, tokenType, network string) (*models.DepositAddress, error) {
	response, err := s.walletsSvc.CreateWalletAddress(ctx, &wallets.CreateWalletAddressRequest{
		PortfolioId: portfolioId,
		WalletId:    walletId,
		NetworkId:   network,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to create wallet address: %w", err)
	}

	return &models.DepositAddress{
		Id:        response.AccountIdentifier,
		Address:   response.Address,
		Network:   network,
		TokenType: tokenType,
	}, nil
}

// WithdrawalParams describes one blockchain withdrawal from a Prime wallet.
type WithdrawalParams struct {
	PortfolioId        string
	WalletId           string
	DestinationAddress string
	Amount             string
	Symbol             string
	NetworkId          string
	NetworkType        string
	IdempotencyKey     string
}

// CreateWithdrawal returns the Prime activity id of the accepted withdrawal.
// Prime deduplicates on IdempotencyKey.
func (s *Service) CreateWithdrawal(ctx context.Context, params WithdrawalParams) (string, error) {
	zap.L().Info("Creating withdrawal via Prime API",
		zap.String("wallet_id", params.WalletId),
		zap.String("symbol", params.Symbol),
		zap.String("amount", params.Amount),
		zap.String("destination", params.DestinationAddress),
		zap.String("idempotency_key", params.IdempotencyKey))

	blockchainAddr := &model.BlockchainAddress{Address: params.DestinationAddress}
	if params.NetworkId != "" && params.NetworkType != "" {
		blockchainAddr.Network = &model.NetworkDetails{
			Id:   params.NetworkId,
			Type: params.NetworkType,
		}
	}

	response, err := s.transactionsSvc.CreateWalletWithdrawal(ctx, &transactions.CreateWalletWithdrawalRequest{
		PortfolioId:       params.PortfolioId,
		SourceWalletId:    params.WalletId,
		Amount:            params.Amount,
		IdempotencyKey:    params.IdempotencyKey,
		Symbol:            params.Symbol,
		DestinationType:   "DESTINATION_BLOCKCHAIN",
		BlockchainAddress: blockchainAddr,
	})
	if err != nil {
		return "", fmt.Errorf("unable to create withdrawal: %w", err)
	}

	zap.L().Info("Withdrawal accepted by Prime",
		zap.String("activity_id", response.ActivityId),
		zap.String("idempotency_key", params.IdempotencyKey))
	return response.ActivityId, nil
}

// ListWalletTransactions returns the deposits into walletId since startTime.
func (s *Service) ListWalletTransactions(ctx context.Context, portfolioId, walletId string, startTime time.Time) ([]models.PrimeTransfer, error) {
	response, err := s.transactionsSvc.ListWalletTransactions(ctx, &transactions.ListWalletTransactionsRequest{
		PortfolioId: portfolioId,
		WalletId:    walletId,
		Start:       startTime,
		Types:       []string{"DEPOSIT"},
		Pagination: &model.PaginationParams{
			Limit: 500,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("unable to list wallet transactions: %w", err)
	}

	transfers := make([]models.PrimeTransfer, 0, len(response.Transactions))
	for _, tx := range response.Transactions {
		transfer := models.PrimeTransfer{
			Id:        tx.Id,
			WalletId:  tx.WalletId,
			Type:      tx.Type,
			Status:    tx.Status,
			Symbol:    tx.Symbol,
			Amount:    tx.Amount,
			Network:   tx.Network,
			CreatedAt: tx.Created,
		}
		if tx.TransferTo != nil {
			transfer.ToAddress = firstNonEmpty(tx.TransferTo.Address, tx.TransferTo.AccountIdentifier)
		}
		transfers = append(transfers, transfer)
	}

	zap.L().Debug("Prime wallet transactions received",
		zap.String("wallet_id", walletId),
		zap.Int("count", len(transfers)))
	return transfers, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
