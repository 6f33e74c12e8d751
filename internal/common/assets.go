package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"duel-settlement-go/internal/models"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"
)

type TokensConfig struct {
	Tokens []models.TokenConfig `yaml:"tokens"`
}

type RegionsConfig struct {
	Regions []models.RegionConfig `yaml:"regions"`
}

func LoadTokenConfig(tokensFile string) ([]models.TokenConfig, error) {
	var config TokensConfig
	if err := readYAML(tokensFile, &config); err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(config.Tokens))
	for i, token := range config.Tokens {
		if token.Type == "" {
			return nil, fmt.Errorf("token at index %d missing type", i)
		}
		if token.Symbol == "" {
			return nil, fmt.Errorf("token %s missing symbol", token.Type)
		}
		if token.Network == "" {
			return nil, fmt.Errorf("token %s missing network", token.Type)
		}
		rate, err := decimal.NewFromString(token.GemsPerUnit)
		if err != nil || !rate.IsPositive() {
			return nil, fmt.Errorf("token %s has invalid gems_per_unit %q", token.Type, token.GemsPerUnit)
		}
		key := strings.ToUpper(token.Type)
		if seen[key] {
			return nil, fmt.Errorf("token %s listed twice", token.Type)
		}
		seen[key] = true
	}

	return config.Tokens, nil
}

func LoadRegionConfig(regionsFile string) ([]models.RegionConfig, error) {
	var config RegionsConfig
	if err := readYAML(regionsFile, &config); err != nil {
		return nil, err
	}

	for i, region := range config.Regions {
		if region.Name == "" {
			return nil, fmt.Errorf("region at index %d missing name", i)
		}
		if region.SecretEnv == "" {
			return nil, fmt.Errorf("region %s missing secret_env", region.Name)
		}
	}

	return config.Regions, nil
}

func readYAML(file string, out any) error {
	var path string
	if filepath.IsAbs(file) {
		path = file
	} else {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get working directory: %w", err)
		}
		path = filepath.Join(wd, file)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("unable to read %s: %w", file, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unable to parse %s: %w", file, err)
	}
	return nil
}
