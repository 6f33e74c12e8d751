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

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"duel-settlement-go/internal/models"
)

func Load() (*models.Config, error) {
	d := &durations{}

	cfg := &models.Config{
		Database: models.DatabaseConfig{
			Path:            getEnvString("DATABASE_PATH", "duels.db"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: d.get("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: d.get("DB_CONN_MAX_IDLE_TIME", 30*time.Second),
			PingTimeout:     d.get("DB_PING_TIMEOUT", 5*time.Second),
			BusyTimeout:     d.get("DB_BUSY_TIMEOUT", 5*time.Second),
		},
		Listener: models.ListenerConfig{
			LookbackWindow:  d.get("LISTENER_LOOKBACK_WINDOW", 6*time.Hour),
			PollingInterval: d.get("LISTENER_POLLING_INTERVAL", 30*time.Second),
		},
		Confirmation: models.ConfirmationConfig{
			RequiredDepth:  getEnvInt64("CONFIRMATION_REQUIRED_DEPTH", 12),
			PollInterval:   d.get("CONFIRMATION_POLL_INTERVAL", 15*time.Second),
			BatchSize:      getEnvInt("CONFIRMATION_BATCH_SIZE", 100),
			ReorgWindow:    d.get("CONFIRMATION_REORG_WINDOW", 6*time.Hour),
			MaxRetries:     uint64(getEnvInt64("CONFIRMATION_MAX_RETRIES", 5)),
			InitialBackoff: d.get("CONFIRMATION_INITIAL_BACKOFF", 500*time.Millisecond),
			MaxBackoff:     d.get("CONFIRMATION_MAX_BACKOFF", 30*time.Second),
		},
		Duel: models.DuelConfig{
			ChallengeWindow: d.get("DUEL_CHALLENGE_WINDOW", 24*time.Hour),
			ActiveWindow:    d.get("DUEL_ACTIVE_WINDOW", 2*time.Hour),
			SweepInterval:   d.get("DUEL_SWEEP_INTERVAL", time.Minute),
			SweepBatchSize:  getEnvInt("DUEL_SWEEP_BATCH_SIZE", 100),
			PlatformFeeBps:  getEnvInt64("DUEL_PLATFORM_FEE_BPS", 0),
			MinStake:        getEnvInt64("DUEL_MIN_STAKE", 1),
			RequireLiveBot:  getEnvBool("DUEL_REQUIRE_LIVE_BOT", false),
			RegionsFile:     getEnvString("REGIONS_FILE", "regions.yaml"),
		},
		Payout: models.PayoutConfig{
			MinAmount:   getEnvInt64("PAYOUT_MIN_AMOUNT", 1),
			TokensFile:  getEnvString("TOKENS_FILE", "tokens.yaml"),
			SendTimeout: d.get("PAYOUT_SEND_TIMEOUT", 30*time.Second),
		},
		HTTP: models.HTTPConfig{
			ListenAddr:      getEnvString("HTTP_LISTEN_ADDR", ":8080"),
			JWTSecret:       os.Getenv("JWT_SECRET"),
			AdminRole:       getEnvString("JWT_ADMIN_ROLE", "admin"),
			ShutdownTimeout: d.get("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Redis: models.RedisConfig{
			Addr:         os.Getenv("REDIS_ADDR"),
			Password:     os.Getenv("REDIS_PASSWORD"),
			DB:           getEnvInt("REDIS_DB", 0),
			HeartbeatTTL: d.get("BOT_HEARTBEAT_TTL", 90*time.Second),
		},
		Prime: models.PrimeConfig{
			Enabled:       getEnvBool("PRIME_ENABLED", true),
			PortfolioId:   os.Getenv("PRIME_PORTFOLIO_ID"),
			PortfolioName: os.Getenv("PRIME_PORTFOLIO_NAME"),
		},
		Formance: models.FormanceConfig{
			StackURL:     os.Getenv("FORMANCE_STACK_URL"),
			ClientID:     os.Getenv("FORMANCE_CLIENT_ID"),
			ClientSecret: os.Getenv("FORMANCE_CLIENT_SECRET"),
			LedgerName:   getEnvString("FORMANCE_LEDGER", "duels"),
			SyncInterval: d.get("FORMANCE_SYNC_INTERVAL", 30*time.Second),
			BatchSize:    getEnvInt("FORMANCE_BATCH_SIZE", 100),
		},
	}
	if d.err != nil {
		return nil, d.err
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *models.Config) error {
	var errs []error
	if cfg.Confirmation.RequiredDepth <= 0 {
		errs = append(errs, fmt.Errorf("CONFIRMATION_REQUIRED_DEPTH must be positive, got %d", cfg.Confirmation.RequiredDepth))
	}
	if cfg.Confirmation.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("CONFIRMATION_BATCH_SIZE must be positive, got %d", cfg.Confirmation.BatchSize))
	}
	if cfg.Confirmation.ReorgWindow > cfg.Listener.LookbackWindow {
		errs = append(errs, fmt.Errorf("CONFIRMATION_REORG_WINDOW (%s) must not exceed LISTENER_LOOKBACK_WINDOW (%s)",
			cfg.Confirmation.ReorgWindow, cfg.Listener.LookbackWindow))
	}
	if cfg.Duel.PlatformFeeBps < 0 || cfg.Duel.PlatformFeeBps >= 10000 {
		errs = append(errs, fmt.Errorf("DUEL_PLATFORM_FEE_BPS must be in [0, 10000), got %d", cfg.Duel.PlatformFeeBps))
	}
	if cfg.Duel.MinStake <= 0 {
		errs = append(errs, fmt.Errorf("DUEL_MIN_STAKE must be positive, got %d", cfg.Duel.MinStake))
	}
	if cfg.Duel.SweepBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("DUEL_SWEEP_BATCH_SIZE must be positive, got %d", cfg.Duel.SweepBatchSize))
	}
	if cfg.Payout.MinAmount <= 0 {
		errs = append(errs, fmt.Errorf("PAYOUT_MIN_AMOUNT must be positive, got %d", cfg.Payout.MinAmount))
	}
	return errors.Join(errs...)
}

// durations keeps the first parse error so Load can read every variable in one pass.
type durations struct {
	err error
}

func (d *durations) get(key string, defaultValue time.Duration) time.Duration {
	value, err := getEnvDuration(key, defaultValue)
	if err != nil && d.err == nil {
		d.err = err
	}
	return value
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, value, err)
		}
		return duration, nil
	}
	return defaultValue, nil
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
