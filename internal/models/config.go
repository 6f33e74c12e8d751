package models

import "time"

// Config represents the application configuration
type Config struct {
	Database     DatabaseConfig
	Listener     ListenerConfig
	Confirmation ConfirmationConfig
	Duel         DuelConfig
	Payout       PayoutConfig
	HTTP         HTTPConfig
	Redis        RedisConfig
	Prime        PrimeConfig
	Formance     FormanceConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
	BusyTimeout     time.Duration
}

// ListenerConfig holds deposit listener settings
type ListenerConfig struct {
	LookbackWindow  time.Duration
	PollingInterval time.Duration
}

// ConfirmationConfig holds deposit confirmation settings
type ConfirmationConfig struct {
	RequiredDepth  int64
	PollInterval   time.Duration
	BatchSize      int
	ReorgWindow    time.Duration
	MaxRetries     uint64
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DuelConfig holds duel lifecycle policy
type DuelConfig struct {
	ChallengeWindow time.Duration
	ActiveWindow    time.Duration
	SweepInterval   time.Duration
	SweepBatchSize  int
	PlatformFeeBps  int64
	MinStake        int64
	RequireLiveBot  bool
	RegionsFile     string
}

// PayoutConfig holds withdrawal policy
type PayoutConfig struct {
	MinAmount   int64
	TokensFile  string
	SendTimeout time.Duration
}

// HTTPConfig holds API server settings
type HTTPConfig struct {
	ListenAddr      string
	JWTSecret       string
	AdminRole       string
	ShutdownTimeout time.Duration
}

// RedisConfig holds the bot heartbeat cache settings
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	HeartbeatTTL time.Duration
}

// PrimeConfig holds Coinbase Prime settings; credentials come from the environment
type PrimeConfig struct {
	Enabled       bool
	PortfolioId   string
	PortfolioName string
}

// FormanceConfig holds the optional ledger mirror settings
type FormanceConfig struct {
	StackURL     string
	ClientID     string
	ClientSecret string
	LedgerName   string
	SyncInterval time.Duration
	BatchSize    int
}

// Enabled reports whether the mirror has been configured.
func (c FormanceConfig) Enabled() bool {
	return c.StackURL != "" && c.ClientID != "" && c.ClientSecret != ""
}
