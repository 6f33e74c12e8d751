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

package common

import (
	"context"
	"fmt"
	"strings"

	"duel-settlement-go/internal/models"
	"duel-settlement-go/internal/store"

	"go.uber.org/zap"
)

// AccountInfo represents simplified account information for command-line utilities
type AccountInfo struct {
	Id       string
	Name     string
	Email    string
	Balance  int64
	Reserved int64
}

// InitializeAccounts retrieves accounts matching an optional id or email filter.
// An empty filter returns every account, the house account included.
func InitializeAccounts(ctx context.Context, ledger store.Ledger, filter string, logger *zap.Logger) ([]AccountInfo, error) {
	var accounts []AccountInfo

	if filter != "" && !strings.Contains(filter, "@") {
		logger.Info("Looking up account by id", zap.String("account_id", filter))
		account, err := ledger.GetAccount(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("account not found: %w", err)
		}
		accounts = append(accounts, toAccountInfo(*account))
		return accounts, nil
	}

	all, err := ledger.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get accounts: %w", err)
	}
	for _, a := range all {
		if filter != "" && !strings.EqualFold(a.Email, filter) {
			continue
		}
		accounts = append(accounts, toAccountInfo(a))
	}
	if filter != "" && len(accounts) == 0 {
		return nil, fmt.Errorf("no account with email %s: %w", filter, store.ErrNotFound)
	}

	logger.Info("Retrieved accounts", zap.Int("count", len(accounts)))
	return accounts, nil
}

func toAccountInfo(a models.Account) AccountInfo {
	return AccountInfo{
		Id:       a.Id,
		Name:     a.Name,
		Email:    a.Email,
		Balance:  a.Balance,
		Reserved: a.Reserved,
	}
}
