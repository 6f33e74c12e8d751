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

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"duel-settlement-go/internal/models"
	"duel-settlement-go/internal/store"

	"go.uber.org/zap"
)

// AddMonitoredAddress registers address for watching. Re-adding an existing
// address re-enables watching and fills in a missing owner; it never
// reassigns an attributed address.
func (s *Service) AddMonitoredAddress(ctx context.Context, address, ownerId string) (*models.MonitoredAddress, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, fmt.Errorf("address cannot be empty")
	}

	if _, err := s.db.ExecContext(ctx, queryInsertAddress, address, nullString(ownerId), s.now()); err != nil {
		return nil, fmt.Errorf("failed to store address: %w", err)
	}

	stored, err := s.GetMonitoredAddress(ctx, address)
	if err != nil {
		return nil, err
	}

	zap.L().Info("Stored monitored address",
		zap.String("address", stored.Address),
		zap.String("owner_id", stored.OwnerId))

	return stored, nil
}

func (s *Service) GetMonitoredAddress(ctx context.Context, address string) (*models.MonitoredAddress, error) {
	stored, err := scanAddress(s.db.QueryRowContext(ctx, queryGetAddress, address))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("address", address)
	} else if err != nil {
		return nil, fmt.Errorf("failed to get address: %w", err)
	}
	return stored, nil
}

func (s *Service) SetAddressWatched(ctx context.Context, address string, watched bool) error {
	result, err := s.db.ExecContext(ctx, querySetAddressWatched, watched, address)
	if err != nil {
		return fmt.Errorf("failed to update address: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return notFound("address", address)
	}
	return nil
}

// AssignAddressOwner attributes a previously unowned address.
func (s *Service) AssignAddressOwner(ctx context.Context, address, ownerId string) error {
	result, err := s.db.ExecContext(ctx, queryAssignAddressOwner, ownerId, address)
	if err != nil {
		return fmt.Errorf("failed to assign address owner: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		if _, err := s.GetMonitoredAddress(ctx, address); err != nil {
			return err
		}
		return fmt.Errorf("address %s already has an owner: %w", address, store.ErrInvalidTransition)
	}
	return nil
}

func (s *Service) ListWatchedAddresses(ctx context.Context) ([]models.MonitoredAddress, error) {
	rows, err := s.db.QueryContext(ctx, queryListWatchedAddresses)
	if err != nil {
		return nil, fmt.Errorf("failed to query watched addresses: %w", err)
	}
	defer closeRows(rows)
	return collectAddresses(rows)
}

func (s *Service) ListAccountAddresses(ctx context.Context, accountId string) ([]models.MonitoredAddress, error) {
	rows, err := s.db.QueryContext(ctx, queryListAccountAddresses, accountId)
	if err != nil {
		return nil, fmt.Errorf("failed to query account addresses: %w", err)
	}
	defer closeRows(rows)
	return collectAddresses(rows)
}

func collectAddresses(rows *sql.Rows) ([]models.MonitoredAddress, error) {
	var addresses []models.MonitoredAddress
	for rows.Next() {
		address, err := scanAddress(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan address: %w", err)
		}
		addresses = append(addresses, *address)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating address rows: %w", err)
	}
	return addresses, nil
}

func scanAddress(row rowScanner) (*models.MonitoredAddress, error) {
	var address models.MonitoredAddress
	var owner sql.NullString
	if err := row.Scan(&address.Address, &owner, &address.Watched, &address.CreatedAt); err != nil {
		return nil, err
	}
	address.OwnerId = owner.String
	return &address, nil
}
