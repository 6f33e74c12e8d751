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

type balanceStats struct {
	totalAccounts  int
	withBalance    int
	mismatched     int
	totalSpendable int64
	totalReserved  int64
}

func formatEntryId(id string) string {
	if id == "" {
		return "none"
	}
	if len(id) > 8 {
		return id[:8] + "..."
	}
	return id
}

func printAccount(report *common.Report, account common.AccountInfo, last *models.HistoryEntry) {
	fmt.Printf("\n┌─ Account: %s (%s)\n", account.Name, account.Email)
	fmt.Printf("│  ID: %s\n", account.Id)
	report.Section()
	report.GemsItem(false, "balance", account.Balance)
	report.GemsItem(last == nil, "reserved", account.Reserved)
	if last != nil {
		report.Item(true, "%-10s: %s %s (%s)", "last entry",
			formatEntryId(last.Id), last.Type, last.CreatedAt.Format("2006-01-02 15:04:05"))
	}
}

func printReconciliation(report *common.Report, result *models.Reconciliation) {
	if result.Balanced() {
		report.Detail(true, "reconciled over %d entries", result.EntryCount)
		return
	}
	report.Detail(true, "MISMATCH stored=%s/%s replayed=%s/%s (%d entries)",
		common.FormatGems(result.StoredBalance), common.FormatGems(result.StoredReserved),
		common.FormatGems(result.ReplayedBalance), common.FormatGems(result.ReplayedReserved),
		result.EntryCount)
}

func processAccounts(ctx context.Context, report *common.Report, accounts []common.AccountInfo, ledger store.Ledger, reconcile bool, logger *zap.Logger) balanceStats {
	stats := balanceStats{}

	for _, account := range accounts {
		stats.totalAccounts++
		stats.totalSpendable += account.Balance
		stats.totalReserved += account.Reserved
		if account.Balance == 0 && account.Reserved == 0 && !reconcile {
			continue
		}
		stats.withBalance++

		var last *models.HistoryEntry
		history, err := ledger.GetHistory(ctx, account.Id, 1, 0)
		if err != nil {
			logger.Error("Failed to read history", zap.String("account_id", account.Id), zap.Error(err))
		} else if len(history) > 0 {
			last = &history[0]
		}
		printAccount(report, account, last)

		if !reconcile {
			continue
		}
		result, err := ledger.ReconcileAccount(ctx, account.Id)
		if err != nil {
			logger.Error("Failed to reconcile account", zap.String("account_id", account.Id), zap.Error(err))
			continue
		}
		if !result.Balanced() {
			stats.mismatched++
		}
		printReconciliation(report, result)
	}

	return stats
}

func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	filterFlag := flag.String("account", "", "Filter by account id or email (optional)")
	reconcileFlag := flag.Bool("reconcile", false, "Replay each account's history and compare with the stored balance")
	flag.Parse()

	logger.Info("Starting balance query")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	// Read-only: no Prime connection needed
	logger.Info("Connecting to database", zap.String("path", cfg.Database.Path))
	dbService, err := common.InitializeDatabaseOnly(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbService.Close()

	accounts, err := common.InitializeAccounts(ctx, dbService, *filterFlag, logger)
	if err != nil {
		logger.Fatal("Failed to load accounts", zap.Error(err))
	}

	report := common.NewReport(common.DefaultWidth)
	report.Header("ACCOUNT BALANCE REPORT")
	stats := processAccounts(ctx, report, accounts, dbService, *reconcileFlag, logger)

	summary := fmt.Sprintf("SUMMARY: %d of %d accounts shown, %s gems spendable, %s gems reserved",
		stats.withBalance, stats.totalAccounts,
		common.FormatGems(stats.totalSpendable), common.FormatGems(stats.totalReserved))
	if *reconcileFlag {
		summary += fmt.Sprintf(", %d mismatched", stats.mismatched)
	}
	report.Footer(summary)

	logger.Info("Balance query completed",
		zap.Int("accounts_queried", stats.totalAccounts),
		zap.Int64("total_spendable", stats.totalSpendable),
		zap.Int64("total_reserved", stats.totalReserved),
		zap.Int("mismatched", stats.mismatched))
	if stats.mismatched > 0 {
		logger.Error("RECONCILIATION ANOMALY", zap.Int("accounts", stats.mismatched))
	}
}
