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

package main

import (
	"context"
	"flag"
	"fmt"

	"duel-settlement-go/internal/common"
	"duel-settlement-go/internal/config"
	"duel-settlement-go/internal/models"
	"duel-settlement-go/internal/store"

	"go.uber.org/zap"
)

type reportStats struct {
	totalAccounts         int
	totalAddresses        int
	accountsWithAddresses int
}

func printAccountHeader(out *common.Report, account common.AccountInfo, addressCount int) {
	fmt.Printf("\n┌─ Account: %s (%s)\n", account.Name, account.Email)
	fmt.Printf("│  ID: %s\n", account.Id)
	fmt.Printf("│  Addresses: %d\n", addressCount)
	out.Section()
}

func printAddress(out *common.Report, addr models.MonitoredAddress, isLast bool) {
	state := "watched"
	if !addr.Watched {
		state = "unwatched"
	}
	out.Item(isLast, "%-50s %-10s since %s", addr.Address, state,
		addr.CreatedAt.Format("2006-01-02 15:04:05"))
}

func processAccount(ctx context.Context, out *common.Report, account common.AccountInfo, addressStore store.AddressStore) (int, error) {
	addresses, err := addressStore.ListAccountAddresses(ctx, account.Id)
	if err != nil {
		return 0, fmt.Errorf("failed to get addresses: %w", err)
	}
	if len(addresses) == 0 {
		return 0, nil
	}

	printAccountHeader(out, account, len(addresses))
	for i, addr := range addresses {
		printAddress(out, addr, i == len(addresses)-1)
	}
	return len(addresses), nil
}

func reportAccounts(ctx context.Context, out *common.Report, accounts []common.AccountInfo, addressStore store.AddressStore, logger *zap.Logger) reportStats {
	stats := reportStats{}

	for _, account := range accounts {
		stats.totalAccounts++

		addressCount, err := processAccount(ctx, out, account, addressStore)
		if err != nil {
			logger.Error("Failed to process account",
				zap.String("account_id", account.Id),
				zap.Error(err))
			continue
		}
		if addressCount > 0 {
			stats.accountsWithAddresses++
			stats.totalAddresses += addressCount
		}
	}
	return stats
}

func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	filterFlag := flag.String("account", "", "Filter by account id or email (optional)")
	issueFlag := flag.String("issue", "", "Issue a new Prime deposit address of this token type for --account")
	watchFlag := flag.String("watch", "", "Start monitoring an existing address (owner from --account, may be empty)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	logger.Info("Connecting to database", zap.String("path", cfg.Database.Path))
	dbService, err := common.InitializeDatabaseOnly(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbService.Close()

	switch {
	case *issueFlag != "":
		if *filterFlag == "" {
			logger.Fatal("--issue requires --account")
		}
		if _, err := dbService.GetAccount(ctx, *filterFlag); err != nil {
			logger.Fatal("Unknown account", zap.String("account_id", *filterFlag), zap.Error(err))
		}
		gateway, err := common.InitializeGateway(ctx, cfg)
		if err != nil {
			logger.Fatal("Failed to initialize Prime gateway", zap.Error(err))
		}
		issued, err := gateway.IssueAddress(ctx, *issueFlag)
		if err != nil {
			logger.Fatal("Failed to issue deposit address", zap.Error(err))
		}
		if _, err := dbService.AddMonitoredAddress(ctx, issued.Address, *filterFlag); err != nil {
			logger.Fatal("Failed to store deposit address", zap.Error(err))
		}
		fmt.Printf("✓ %s deposit address for %s: %s\n", *issueFlag, *filterFlag, issued.Address)
		fmt.Println("The running server picks the address up on its next restart")
		return

	case *watchFlag != "":
		monitored, err := dbService.AddMonitoredAddress(ctx, *watchFlag, *filterFlag)
		if err != nil {
			logger.Fatal("Failed to watch address", zap.Error(err))
		}
		owner := monitored.OwnerId
		if owner == "" {
			owner = "unattributed"
		}
		fmt.Printf("✓ Watching %s (owner: %s)\n", monitored.Address, owner)
		return
	}

	accounts, err := common.InitializeAccounts(ctx, dbService, *filterFlag, logger)
	if err != nil {
		logger.Fatal("Failed to load accounts", zap.Error(err))
	}

	out := common.NewReport(common.WideWidth)
	out.Header("DEPOSIT ADDRESSES REPORT")
	stats := reportAccounts(ctx, out, accounts, dbService, logger)

	summary := fmt.Sprintf("SUMMARY: %d accounts with addresses (%d total addresses across %d accounts queried)",
		stats.accountsWithAddresses, stats.totalAddresses, stats.totalAccounts)
	out.Footer(summary)

	logger.Info("Address query completed",
		zap.Int("accounts_queried", stats.totalAccounts),
		zap.Int("accounts_with_addresses", stats.accountsWithAddresses),
		zap.Int("total_addresses", stats.totalAddresses))
}
