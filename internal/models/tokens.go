package models

// TokenConfig maps a payout/deposit token type to its Prime wallet and the
// fixed gem conversion rate.
type TokenConfig struct {
	Type        string `yaml:"type"`
	Symbol      string `yaml:"symbol"`
	Network     string `yaml:"network"`
	NetworkType string `yaml:"network_type"`
	WalletId    string `yaml:"wallet_id"`
	GemsPerUnit string `yaml:"gems_per_unit"`
}

// RegionConfig names a bot region and the environment variable holding its shared secret.
type RegionConfig struct {
	Name      string `yaml:"name"`
	SecretEnv string `yaml:"secret_env"`
}
