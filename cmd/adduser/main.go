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
	"regexp"
	"strings"

	"duel-settlement-go/internal/common"
	"duel-settlement-go/internal/config"
	"duel-settlement-go/internal/database"
	"duel-settlement-go/internal/prime"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

func validateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("email cannot be empty")
	}
	if !emailRegex.MatchString(email) {
		return fmt.Errorf("invalid email format: %s", email)
	}
	return nil
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if len(name) < 2 {
		return fmt.Errorf("name must be at least 2 characters")
	}
	return nil
}

// issueAddresses gives the new account one deposit address per configured token.
func issueAddresses(ctx context.Context, gateway *prime.Gateway, dbService *database.Service, accountId string, tokenTypes []string) []string {
	fmt.Printf("Issuing deposit addresses for %d tokens...\n\n", len(tokenTypes))

	var failed []string
	for _, tokenType := range tokenTypes {
		issued, err := gateway.IssueAddress(ctx, tokenType)
		if err != nil {
			zap.L().Error("Failed to issue deposit address",
				zap.String("token_type", tokenType),
				zap.Error(err))
			fmt.Printf("✗ %s: failed to issue address\n", tokenType)
			failed = append(failed, tokenType)
			continue
		}
		if _, err := dbService.AddMonitoredAddress(ctx, issued.Address, accountId); err != nil {
			zap.L().Error("Failed to store deposit address",
				zap.String("token_type", tokenType),
				zap.String("address", issued.Address),
				zap.Error(err))
			fmt.Printf("✗ %s: failed to store address\n", tokenType)
			failed = append(failed, tokenType)
			continue
		}
		fmt.Printf("✓ %s: %s\n", tokenType, issued.Address)
	}
	return failed
}

func main() {
	ctx := context.Background()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	nameFlag := flag.String("name", "", "Player's display name (required)")
	emailFlag := flag.String("email", "", "Player's email address (required)")
	idFlag := flag.String("id", "", "Account id (default: random UUID)")
	addressesFlag := flag.Bool("addresses", false, "Issue a Prime deposit address for every configured token")
	flag.Parse()

	if *nameFlag == "" || *emailFlag == "" {
		zap.L().Fatal("Both flags are required: --name and --email")
	}
	if err := validateName(*nameFlag); err != nil {
		zap.L().Fatal("Invalid name", zap.Error(err))
	}
	if err := validateEmail(*emailFlag); err != nil {
		zap.L().Fatal("Invalid email", zap.Error(err))
	}

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	dbService, err := common.InitializeDatabaseOnly(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbService.Close()

	accountId := *idFlag
	if accountId == "" {
		accountId = uuid.New().String()
	}

	account, err := dbService.CreateAccount(ctx, accountId, *nameFlag, *emailFlag)
	if err != nil {
		if strings.Contains(err.Error(), "already exists") {
			zap.L().Fatal("Account already exists with this id or email", zap.String("email", *emailFlag))
		}
		zap.L().Fatal("Failed to create account", zap.Error(err))
	}

	fmt.Println()
	report := common.NewReport(common.DefaultWidth)
	report.Header("ACCOUNT CREATED")
	report.Field("ID", "%s", account.Id)
	report.Field("Name", "%s", account.Name)
	report.Field("Email", "%s", account.Email)
	report.Rule()
	fmt.Println()

	if !*addressesFlag {
		fmt.Println("No deposit addresses issued; run cmd/addresses or pass --addresses")
		return
	}

	tokens, err := common.LoadTokenConfig(cfg.Payout.TokensFile)
	if err != nil {
		zap.L().Fatal("Failed to load token config", zap.Error(err))
	}
	gateway, err := common.InitializeGateway(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize Prime gateway", zap.Error(err))
	}

	tokenTypes := make([]string, len(tokens))
	for i, token := range tokens {
		tokenTypes[i] = token.Type
	}
	failed := issueAddresses(ctx, gateway, dbService, account.Id, tokenTypes)

	fmt.Println()
	report.Header("ADDRESS SUMMARY")
	report.Field("Tokens", "%d", len(tokenTypes))
	report.Field("Successful", "%d", len(tokenTypes)-len(failed))
	report.Field("Failed", "%d", len(failed))
	if len(failed) > 0 {
		report.Field("Failed Tokens", "%s", strings.Join(failed, ", "))
	}
	report.Rule()
	fmt.Println()

	zap.L().Info("Account setup finished",
		zap.String("account_id", account.Id),
		zap.Int("addresses", len(tokenTypes)-len(failed)),
		zap.Strings("failed_tokens", failed))
}
