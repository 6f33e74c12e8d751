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
	"time"

	"duel-settlement-go/internal/models"
	"duel-settlement-go/internal/store"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Compile-time check: *Service must satisfy store.Store.
var _ store.Store = (*Service)(nil)

type Service struct {
	db  *sql.DB
	now func() time.Time
}

func NewService(ctx context.Context, cfg models.DatabaseConfig) (*Service, error) {
	// Validate configuration
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if cfg.MaxOpenConns <= 0 {
		return nil, fmt.Errorf("max open connections must be positive, got %d", cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns < 0 {
		return nil, fmt.Errorf("max idle connections cannot be negative, got %d", cfg.MaxIdleConns)
	}
	if cfg.PingTimeout <= 0 {
		return nil, fmt.Errorf("ping timeout must be positive, got %v", cfg.PingTimeout)
	}
	busyTimeout := cfg.BusyTimeout
	if busyTimeout <= 0 {
		busyTimeout = 5 * time.Second
	}

	zap.L().Info("Opening SQLite database", zap.String("file", cfg.Path))
	// Immediate transactions take the write lock at BEGIN, so concurrent
	// read-check-write sequences on the same rows are serialized.
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=1000&_txlock=immediate&_busy_timeout=%d&_foreign_keys=1",
		cfg.Path, busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, closeErr
		}
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	service := newServiceWithDB(db)
	if err := service.initSchema(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, closeErr
		}
		return nil, fmt.Errorf("unable to initialize schema: %w", err)
	}

	zap.L().Info("Database service initialized successfully")
	return service, nil
}

func newServiceWithDB(db *sql.DB) *Service {
	return &Service{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Close() {
	if err := s.db.Close(); err != nil {
		zap.L().Warn("Failed to close database connection", zap.Error(err))
	}
}

func (s *Service) initSchema(ctx context.Context) error {
	schema := `
	-- Accounts (current state, one per user plus the platform house account)
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		balance INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
		reserved INTEGER NOT NULL DEFAULT 0 CHECK (reserved >= 0),
		version INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_accounts_email ON accounts(email) WHERE email IS NOT NULL AND email != '';

	-- History (append-only audit trail, replayable into balances)
	CREATE TABLE IF NOT EXISTS history (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		entry_type TEXT NOT NULL,
		amount INTEGER NOT NULL,
		reserved_delta INTEGER NOT NULL DEFAULT 0,
		balance_after INTEGER NOT NULL,
		idempotency_key TEXT UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		related_id TEXT,
		created_at TIMESTAMP NOT NULL,
		mirrored_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_history_account ON history(account_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_history_related ON history(related_id);
	CREATE INDEX IF NOT EXISTS idx_history_unmirrored ON history(mirrored_at) WHERE mirrored_at IS NULL;

	-- Deposit addresses ever issued; never deleted
	CREATE TABLE IF NOT EXISTS monitored_addresses (
		address TEXT COLLATE NOCASE PRIMARY KEY,
		owner_id TEXT REFERENCES accounts(id),
		watched INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_monitored_addresses_owner ON monitored_addresses(owner_id);

	-- Chain transfers to monitored addresses, keyed by hash
	CREATE TABLE IF NOT EXISTS deposit_transactions (
		tx_hash TEXT PRIMARY KEY,
		to_address TEXT COLLATE NOCASE NOT NULL,
		amount INTEGER NOT NULL CHECK (amount > 0),
		status TEXT NOT NULL,
		confirmations_seen INTEGER NOT NULL DEFAULT 0,
		account_id TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		credited_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_deposit_transactions_status ON deposit_transactions(status);

	CREATE TABLE IF NOT EXISTS duels (
		id TEXT PRIMARY KEY,
		creator_id TEXT NOT NULL REFERENCES accounts(id),
		opponent_id TEXT REFERENCES accounts(id),
		stake_amount INTEGER NOT NULL CHECK (stake_amount > 0),
		status TEXT NOT NULL,
		winner_id TEXT,
		claimed_winner_id TEXT,
		claimed_by TEXT,
		region TEXT NOT NULL,
		match_data TEXT,
		fee_amount INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		accepted_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_duels_status ON duels(status, created_at);
	CREATE INDEX IF NOT EXISTS idx_duels_creator ON duels(creator_id);
	CREATE INDEX IF NOT EXISTS idx_duels_opponent ON duels(opponent_id);

	CREATE TABLE IF NOT EXISTS payout_requests (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES accounts(id),
		gem_amount INTEGER NOT NULL CHECK (gem_amount > 0),
		destination_address TEXT NOT NULL,
		token_type TEXT NOT NULL,
		status TEXT NOT NULL,
		tx_hash TEXT,
		error_message TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payout_requests_status ON payout_requests(status, created_at);
	CREATE INDEX IF NOT EXISTS idx_payout_requests_user ON payout_requests(user_id);

	CREATE TABLE IF NOT EXISTS account_reviews (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		tx_hash TEXT NOT NULL,
		reason TEXT NOT NULL,
		shortfall INTEGER NOT NULL DEFAULT 0,
		resolved INTEGER NOT NULL DEFAULT 0,
		resolved_by TEXT,
		note TEXT,
		created_at TIMESTAMP NOT NULL,
		resolved_at TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS admin_actions (
		id TEXT PRIMARY KEY,
		admin_id TEXT NOT NULL,
		action TEXT NOT NULL,
		target_id TEXT NOT NULL,
		detail TEXT,
		created_at TIMESTAMP NOT NULL
	);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return err
	}

	now := s.now()
	if _, err := s.db.ExecContext(ctx, queryEnsureHouseAccount, models.HouseAccountId, now, now); err != nil {
		return fmt.Errorf("failed to create house account: %w", err)
	}
	return nil
}

// withTx runs fn inside one database transaction and commits only if fn succeeds.
func (s *Service) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			zap.L().Warn("Failed to roll back transaction", zap.Error(err))
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}

	audit := store.AuditFrom(ctx)
	if audit != nil && audit.Written() {
		audit = nil
	}
	if audit != nil {
		if err := insertAdminAction(ctx, tx, audit.Action, s.now()); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	if audit != nil {
		audit.MarkWritten()
	}
	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func closeRows(rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		zap.L().Warn("Failed to close rows", zap.Error(err))
	}
}

// nullString maps "" to SQL NULL.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, store.ErrNotFound)
}
