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
	"errors"
	"flag"
	"fmt"
	"strings"

	"duel-settlement-go/internal/admin"
	"duel-settlement-go/internal/common"
	"duel-settlement-go/internal/config"
	"duel-settlement-go/internal/database"
	"duel-settlement-go/internal/metrics"
	"duel-settlement-go/internal/models"
	"duel-settlement-go/internal/payout"
	"duel-settlement-go/internal/prime"
	"duel-settlement-go/internal/store"

	"go.uber.org/zap"
)

type action struct {
	list     string
	approve  string
	decline  string
	fail     string
	complete string
	reason   string
	txHash   string
	adminId  string
}

func parseFlags() (*action, error) {
	a := &action{}
	flag.StringVar(&a.list, "list", "", "List payouts with this status (pending, approved, processing, ...)")
	flag.StringVar(&a.approve, "approve", "", "Approve and send the payout with this id")
	flag.StringVar(&a.decline, "decline", "", "Decline the payout with this id (requires --reason)")
	flag.StringVar(&a.fail, "fail", "", "Fail a payout stuck in processing and refund it (requires --reason)")
	flag.StringVar(&a.complete, "complete", "", "Mark a payout stuck in processing as sent (requires --tx)")
	flag.StringVar(&a.reason, "reason", "", "Reason recorded with a decline or failure")
	flag.StringVar(&a.txHash, "tx", "", "On-chain transaction hash for --complete")
	flag.StringVar(&a.adminId, "admin", "cli", "Admin id recorded in the audit trail")
	flag.Parse()

	chosen := 0
	for _, v := range []string{a.list, a.approve, a.decline, a.fail, a.complete} {
		if v != "" {
			chosen++
		}
	}
	if chosen != 1 {
		return nil, fmt.Errorf("exactly one of --list, --approve, --decline, --fail, --complete is required")
	}
	if (a.decline != "" || a.fail != "") && strings.TrimSpace(a.reason) == "" {
		return nil, fmt.Errorf("--reason is required")
	}
	if a.complete != "" && a.txHash == "" {
		return nil, fmt.Errorf("--tx is required with --complete")
	}
	return a, nil
}

func tokenAmount(tokens map[string]models.TokenConfig, request models.PayoutRequest) string {
	token, ok := tokens[strings.ToUpper(request.TokenType)]
	if !ok {
		return "?"
	}
	amount, err := prime.GemsToToken(request.GemAmount, token.GemsPerUnit)
	if err != nil {
		return "?"
	}
	return amount.String() + " " + token.Symbol
}

func printPayouts(report *common.Report, requests []models.PayoutRequest, tokens map[string]models.TokenConfig) {
	for i, request := range requests {
		isLast := i == len(requests)-1
		report.Item(isLast, "%s  %-10s %12s gems = %-18s → %s",
			request.Id, request.Status, common.FormatGems(request.GemAmount),
			tokenAmount(tokens, request), request.DestinationAddress)
		report.Detail(isLast, "user: %s  requested: %s", request.UserId, request.CreatedAt.Format("2006-01-02 15:04:05"))
		if request.TxHash != "" {
			report.Detail(isLast, "tx: %s", request.TxHash)
		}
		if request.ErrorMessage != "" {
			report.Detail(isLast, "error: %s", request.ErrorMessage)
		}
	}
}

func printResult(title string, request *models.PayoutRequest) {
	report := common.NewReport(common.DefaultWidth)
	report.Header(title)
	report.Field("ID", "%s", request.Id)
	report.Field("User", "%s", request.UserId)
	report.Field("Amount", "%s gems", common.FormatGems(request.GemAmount))
	report.Field("Destination", "%s", request.DestinationAddress)
	report.Field("Status", "%s", request.Status)
	if request.TxHash != "" {
		report.Field("Tx", "%s", request.TxHash)
	}
	if request.ErrorMessage != "" {
		report.Field("Error", "%s", request.ErrorMessage)
	}
	report.Rule()
}

func newAdmin(ctx context.Context, cfg *models.Config, dbService *database.Service, tokens []models.TokenConfig, needsSender bool) (*admin.Service, error) {
	var sender payout.Sender
	if needsSender {
		gateway, err := common.InitializeGateway(ctx, cfg)
		if err != nil {
			return nil, err
		}
		sender = gateway
	}
	payouts := payout.NewService(payout.ServiceConfig{
		Store:       dbService,
		Sender:      sender,
		Metrics:     metrics.NewUnregistered(),
		Tokens:      tokens,
		MinAmount:   cfg.Payout.MinAmount,
		SendTimeout: cfg.Payout.SendTimeout,
	})
	return admin.NewService(admin.ServiceConfig{Store: dbService, Payouts: payouts}), nil
}

func main() {
	ctx := context.Background()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	a, err := parseFlags()
	if err != nil {
		zap.L().Fatal("Invalid arguments", zap.Error(err))
	}

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}
	tokens, err := common.LoadTokenConfig(cfg.Payout.TokensFile)
	if err != nil {
		zap.L().Fatal("Failed to load token config", zap.Error(err))
	}
	tokenIndex := make(map[string]models.TokenConfig, len(tokens))
	for _, token := range tokens {
		tokenIndex[strings.ToUpper(token.Type)] = token
	}

	dbService, err := common.InitializeDatabaseOnly(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbService.Close()

	if a.list != "" {
		status, err := models.ParsePayoutStatus(a.list)
		if err != nil {
			zap.L().Fatal("Invalid status", zap.Error(err))
		}
		requests, err := dbService.ListPayouts(ctx, status, 500)
		if err != nil {
			zap.L().Fatal("Failed to list payouts", zap.Error(err))
		}
		report := common.NewReport(common.WideWidth)
		report.Header(fmt.Sprintf("PAYOUTS: %s", strings.ToUpper(string(status))))
		printPayouts(report, requests, tokenIndex)
		report.Footer(fmt.Sprintf("%d payouts", len(requests)))
		return
	}

	adminService, err := newAdmin(ctx, cfg, dbService, tokens, a.approve != "")
	if err != nil {
		zap.L().Fatal("Failed to initialize payout sender", zap.Error(err))
	}

	var result *models.PayoutRequest
	var title string
	switch {
	case a.approve != "":
		fmt.Println("Approving payout and sending via Prime API...")
		result, err = adminService.ApprovePayout(ctx, a.adminId, a.approve)
		title = "PAYOUT APPROVED"
	case a.decline != "":
		result, err = adminService.DeclinePayout(ctx, a.adminId, a.decline, a.reason)
		title = "PAYOUT DECLINED"
	case a.fail != "":
		result, err = adminService.FailPayout(ctx, a.adminId, a.fail, a.reason)
		title = "PAYOUT FAILED AND REFUNDED"
	case a.complete != "":
		result, err = adminService.CompletePayout(ctx, a.adminId, a.complete, a.txHash)
		title = "PAYOUT COMPLETED"
	}

	if err != nil {
		switch {
		case result != nil && errors.Is(err, store.ErrExternalService):
			printResult("PAYOUT SEND FAILED", result)
			zap.L().Error("On-chain send failed", zap.String("request_id", result.Id), zap.Error(err))
		case errors.Is(err, store.ErrInvalidTransition):
			zap.L().Fatal("Payout is not in a state that allows this action", zap.Error(err))
		case errors.Is(err, store.ErrNotFound):
			zap.L().Fatal("Payout not found", zap.Error(err))
		default:
			zap.L().Fatal("Payout action failed", zap.Error(err))
		}
		return
	}
	printResult(title, result)
}
