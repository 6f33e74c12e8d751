package common

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"duel-settlement-go/internal/admin"
	"duel-settlement-go/internal/api"
	"duel-settlement-go/internal/bots"
	"duel-settlement-go/internal/database"
	"duel-settlement-go/internal/duel"
	"duel-settlement-go/internal/formance"
	"duel-settlement-go/internal/listener"
	"duel-settlement-go/internal/metrics"
	"duel-settlement-go/internal/models"
	"duel-settlement-go/internal/payout"
	"duel-settlement-go/internal/prime"
	"duel-settlement-go/internal/store"

	"github.com/coinbase-samples/prime-sdk-go/credentials"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// init loads environment variables from .env file if it exists
func init() {
	// Environment variables can also be set via shell export, docker, etc.
	if err := godotenv.Load(); err != nil {
		log.Printf("Note: No .env file found or unable to load it: %v\n", err)
		log.Println("Make sure to set environment variables via export or other means")
	} else {
		log.Println("✓ Loaded environment variables from .env file")
	}
}

// Services holds every long-lived component of the settlement server.
// Chain-facing parts are nil when Prime is disabled.
type Services struct {
	Config    *models.Config
	DbService *database.Service
	Registry  *prometheus.Registry
	Metrics   *metrics.Metrics
	Redis     *redis.Client

	PrimeService     *prime.Service
	DefaultPortfolio *models.Portfolio
	Gateway          *prime.Gateway

	Bots      *bots.Registry
	Duels     *duel.Service
	Sweeper   *duel.Sweeper
	Payouts   *payout.Service
	Admin     *admin.Service
	Listener  *listener.DepositListener
	Confirmer *listener.Confirmer
	Mirror    *formance.Mirror
	API       *api.Service
}

// InitializeLogger builds the global production logger. LOG_LEVEL selects
// the minimum level (debug, info, warn, error).
func InitializeLogger() (*zap.Logger, func()) {
	zapCfg := zap.NewProductionConfig()
	if raw := os.Getenv("LOG_LEVEL"); raw != "" {
		level, err := zapcore.ParseLevel(raw)
		if err != nil {
			log.Printf("Ignoring invalid LOG_LEVEL %q: %v\n", raw, err)
		} else {
			zapCfg.Level = zap.NewAtomicLevelAt(level)
		}
	}

	logger, err := zapCfg.Build()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	zap.ReplaceGlobals(logger)

	cleanup := func() {
		if err := logger.Sync(); err != nil {
			if !isIgnorableSyncError(err) {
				log.Printf("Failed to sync logger: %v\n", err)
			}
		}
	}

	return logger, cleanup
}

func InitializeServices(ctx context.Context, cfg *models.Config) (*Services, error) {
	dbService, err := database.NewService(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	s := &Services{Config: cfg, DbService: dbService}

	if err := s.wire(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Services) wire(ctx context.Context) error {
	cfg := s.Config

	s.Registry = prometheus.NewRegistry()
	s.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.Metrics = metrics.New(s.Registry)

	tokens, err := LoadTokenConfig(cfg.Payout.TokensFile)
	if err != nil {
		return fmt.Errorf("failed to load tokens: %w", err)
	}
	regions, err := LoadRegionConfig(cfg.Duel.RegionsFile)
	if err != nil {
		return fmt.Errorf("failed to load regions: %w", err)
	}

	s.Redis = bots.NewRedisClient(ctx, cfg.Redis)
	s.Bots, err = bots.NewRegistry(regions, s.Redis, cfg.Redis.HeartbeatTTL, s.Metrics)
	if err != nil {
		return err
	}

	var sender payout.Sender = offlineSender{}
	if cfg.Prime.Enabled {
		if err := s.initializeChain(ctx, tokens); err != nil {
			return err
		}
		sender = s.Gateway
	} else {
		zap.L().Warn("Prime disabled: deposits are not observed and payouts cannot be sent")
	}

	s.Confirmer = listener.NewConfirmer(listener.ConfirmerConfig{
		Store:          s.DbService,
		Source:         s.chainSource(),
		Metrics:        s.Metrics,
		RequiredDepth:  cfg.Confirmation.RequiredDepth,
		PollInterval:   cfg.Confirmation.PollInterval,
		BatchSize:      cfg.Confirmation.BatchSize,
		ReorgWindow:    cfg.Confirmation.ReorgWindow,
		MaxRetries:     cfg.Confirmation.MaxRetries,
		InitialBackoff: cfg.Confirmation.InitialBackoff,
		MaxBackoff:     cfg.Confirmation.MaxBackoff,
	})
	s.Listener = listener.NewDepositListener(listener.DepositListenerConfig{
		Store:           s.DbService,
		Feed:            s.feed(),
		Notifier:        s.Confirmer,
		Metrics:         s.Metrics,
		LookbackWindow:  cfg.Listener.LookbackWindow,
		PollingInterval: cfg.Listener.PollingInterval,
	})

	s.Duels = duel.NewService(duel.ServiceConfig{
		Store:          s.DbService,
		Bots:           s.Bots,
		Metrics:        s.Metrics,
		PlatformFeeBps: cfg.Duel.PlatformFeeBps,
		MinStake:       cfg.Duel.MinStake,
		RequireLiveBot: cfg.Duel.RequireLiveBot,
	})
	s.Sweeper = duel.NewSweeper(duel.SweeperConfig{
		Store:           s.DbService,
		Metrics:         s.Metrics,
		ChallengeWindow: cfg.Duel.ChallengeWindow,
		ActiveWindow:    cfg.Duel.ActiveWindow,
		Interval:        cfg.Duel.SweepInterval,
		BatchSize:       cfg.Duel.SweepBatchSize,
	})
	s.Payouts = payout.NewService(payout.ServiceConfig{
		Store:       s.DbService,
		Sender:      sender,
		Metrics:     s.Metrics,
		Tokens:      tokens,
		MinAmount:   cfg.Payout.MinAmount,
		SendTimeout: cfg.Payout.SendTimeout,
	})
	s.Admin = admin.NewService(admin.ServiceConfig{
		Store:     s.DbService,
		Duels:     s.Duels,
		Payouts:   s.Payouts,
		Addresses: s.Listener,
	})

	if cfg.Formance.Enabled() {
		ledger, err := formance.NewService(ctx, cfg.Formance)
		if err != nil {
			return err
		}
		s.Mirror = formance.NewMirror(formance.MirrorConfig{
			Store:     s.DbService,
			Poster:    ledger,
			Metrics:   s.Metrics,
			Interval:  cfg.Formance.SyncInterval,
			BatchSize: cfg.Formance.BatchSize,
		})
	}

	apiCfg := api.ServiceConfig{
		Store:     s.DbService,
		Duels:     s.Duels,
		Payouts:   s.Payouts,
		Admin:     s.Admin,
		Bots:      s.Bots,
		Addresses: s.Listener,
		Gatherer:  s.Registry,
		JWTSecret: cfg.HTTP.JWTSecret,
		AdminRole: cfg.HTTP.AdminRole,
	}
	if s.Gateway != nil {
		apiCfg.Issuer = s.Gateway
	}
	s.API = api.NewService(apiCfg)
	return nil
}

func (s *Services) initializeChain(ctx context.Context, tokens []models.TokenConfig) error {
	primeService, portfolio, err := InitializePrime(ctx, s.Config)
	if err != nil {
		return err
	}
	s.PrimeService = primeService
	s.DefaultPortfolio = portfolio
	s.Gateway = newGateway(primeService, portfolio.Id, s.Config, tokens)
	return nil
}

// InitializeGateway connects to Prime for tools that issue addresses or send
// funds without running the full server.
func InitializeGateway(ctx context.Context, cfg *models.Config) (*prime.Gateway, error) {
	tokens, err := LoadTokenConfig(cfg.Payout.TokensFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokens: %w", err)
	}
	primeService, portfolio, err := InitializePrime(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return newGateway(primeService, portfolio.Id, cfg, tokens), nil
}

func newGateway(primeAPI prime.PrimeAPI, portfolioId string, cfg *models.Config, tokens []models.TokenConfig) *prime.Gateway {
	return prime.NewGateway(prime.GatewayConfig{
		API:             primeAPI,
		PortfolioId:     portfolioId,
		Tokens:          tokens,
		RequiredDepth:   cfg.Confirmation.RequiredDepth,
		LookbackWindow:  cfg.Listener.LookbackWindow,
		RefreshInterval: cfg.Listener.PollingInterval,
	})
}

func (s *Services) feed() listener.Feed {
	if s.Gateway == nil {
		return nil
	}
	return s.Gateway
}

func (s *Services) chainSource() listener.ChainSource {
	if s.Gateway == nil {
		return nil
	}
	return s.Gateway
}

// InitializePrime connects to Prime and resolves the configured portfolio.
func InitializePrime(ctx context.Context, cfg *models.Config) (*prime.Service, *models.Portfolio, error) {
	zap.L().Info("Loading Prime API credentials")
	creds, err := loadPrimeCredentials()
	if err != nil {
		return nil, nil, err
	}

	primeService, err := prime.NewService(creds)
	if err != nil {
		return nil, nil, err
	}

	zap.L().Info("Finding portfolio")
	portfolio, err := primeService.FindPortfolio(ctx, cfg.Prime.PortfolioId, cfg.Prime.PortfolioName)
	if err != nil {
		return nil, nil, err
	}
	zap.L().Info("Using portfolio",
		zap.String("name", portfolio.Name),
		zap.String("id", portfolio.Id))
	return primeService, portfolio, nil
}

// InitializeDatabaseOnly initializes just the database service without Prime API
// Useful for read-only operations like querying balances
func InitializeDatabaseOnly(ctx context.Context, cfg *models.Config) (*database.Service, error) {
	return database.NewService(ctx, cfg.Database)
}

func (s *Services) Close() {
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			zap.L().Warn("Failed to close redis client", zap.Error(err))
		}
	}
	if s.DbService != nil {
		s.DbService.Close()
	}
}

// offlineSender stands in for the on-chain sender when Prime is disabled.
type offlineSender struct{}

func (offlineSender) Send(context.Context, models.PayoutRequest) (*models.SendResult, error) {
	return nil, fmt.Errorf("prime is disabled: %w", store.ErrExternalService)
}

func loadPrimeCredentials() (*credentials.Credentials, error) {
	accessKey := os.Getenv("PRIME_ACCESS_KEY")
	passphrase := os.Getenv("PRIME_PASSPHRASE")
	signingKey := os.Getenv("PRIME_SIGNING_KEY")

	if accessKey == "" || passphrase == "" || signingKey == "" {
		return nil, fmt.Errorf("missing required Prime API credentials: PRIME_ACCESS_KEY, PRIME_PASSPHRASE, PRIME_SIGNING_KEY")
	}

	return &credentials.Credentials{
		AccessKey:  accessKey,
		Passphrase: passphrase,
		SigningKey: signingKey,
	}, nil
}

func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "sync /dev/stderr: inappropriate ioctl for device") ||
		strings.Contains(msg, "sync /dev/stdout: inappropriate ioctl for device")
}
