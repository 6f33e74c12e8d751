package main

import (
	"context"
	"flag"
	"fmt"

	"duel-settlement-go/internal/common"
	"duel-settlement-go/internal/config"
	"duel-settlement-go/internal/models"
	"duel-settlement-go/internal/prime"

	"go.uber.org/zap"
)

// getOrCreateWallet retrieves an existing trading wallet or creates a new one
func getOrCreateWallet(ctx context.Context, primeService *prime.Service, portfolioId, symbol string) (*models.Wallet, error) {
	zap.L().Debug("Listing wallets for token", zap.String("symbol", symbol))
	wallets, err := primeService.ListWallets(ctx, portfolioId, "TRADING", []string{symbol})
	if err != nil {
		zap.L().Error("Error listing wallets",
			zap.String("symbol", symbol),
			zap.Error(err))
		return nil, err
	}

	if len(wallets) > 0 {
		wallet := &wallets[0]
		zap.L().Info("Using existing wallet",
			zap.String("symbol", symbol),
			zap.String("wallet_name", wallet.Name),
			zap.String("wallet_id", wallet.Id))
		return wallet, nil
	}

	walletName := fmt.Sprintf("%s Duel Custody Wallet", symbol)
	zap.L().Info("Creating new wallet",
		zap.String("symbol", symbol),
		zap.String("wallet_name", walletName))

	wallet, err := primeService.CreateWallet(ctx, portfolioId, walletName, symbol, "TRADING")
	if err != nil {
		zap.L().Error("Error creating wallet",
			zap.String("symbol", symbol),
			zap.Error(err))
		return nil, err
	}
	return wallet, nil
}

// provisionWallets makes sure every configured token has a custody wallet and
// prints the ids that belong in tokens.yaml.
func provisionWallets(ctx context.Context, cfg *models.Config) {
	tokens, err := common.LoadTokenConfig(cfg.Payout.TokensFile)
	if err != nil {
		zap.L().Fatal("Failed to load token config", zap.Error(err))
	}
	zap.L().Info("Token configuration loaded", zap.Int("count", len(tokens)))

	primeService, portfolio, err := common.InitializePrime(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize Prime", zap.Error(err))
	}

	report := common.NewReport(common.DefaultWidth)
	report.Header("CUSTODY WALLETS")
	var failed []string
	for i, token := range tokens {
		isLast := i == len(tokens)-1
		if token.WalletId != "" {
			report.Item(isLast, "%-8s configured: %s", token.Type, token.WalletId)
			continue
		}
		wallet, err := getOrCreateWallet(ctx, primeService, portfolio.Id, token.Symbol)
		if err != nil {
			failed = append(failed, token.Type)
			report.Item(isLast, "%-8s FAILED: %v", token.Type, err)
			continue
		}
		report.Item(isLast, "%-8s wallet_id: %s  (add to %s)", token.Type, wallet.Id, cfg.Payout.TokensFile)
	}

	if len(failed) > 0 {
		report.Footer(fmt.Sprintf("Wallet setup finished with %d failures: %v", len(failed), failed))
		return
	}
	report.Footer("Wallet setup complete")
}

func main() {
	ctx := context.Background()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	walletsFlag := flag.Bool("wallets", false, "Also provision Prime custody wallets for every configured token")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	zap.L().Info("Setting up SQLite database", zap.String("path", cfg.Database.Path))
	dbService, err := common.InitializeDatabaseOnly(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbService.Close()

	house, err := dbService.GetAccount(ctx, models.HouseAccountId)
	if err != nil {
		zap.L().Fatal("House account missing after schema setup", zap.Error(err))
	}
	zap.L().Info("Schema ready", zap.String("house_account", house.Id))

	if *walletsFlag {
		provisionWallets(ctx, cfg)
	}

	zap.L().Info("Initialization complete")
}
