package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"bookhold/crypto"
)

const maxDisputeWindowSeconds = 1<<24 - 1

type Config struct {
	RPCAddress              string  `toml:"RPCAddress"`
	DataDir                 string  `toml:"DataDir"`
	LogFile                 string  `toml:"LogFile"`
	EvidenceDeadlineSeconds uint32  `toml:"EvidenceDeadlineSeconds"`
	DisputeWindowSeconds    uint32  `toml:"DisputeWindowSeconds"`
	AuthSecretEnv           string  `toml:"AuthSecretEnv"`
	RateLimitPerMinute      float64 `toml:"RateLimitPerMinute"`
	RateLimitBurst          int     `toml:"RateLimitBurst"`
	// Genesis maps bech32 account addresses to decimal balances seeded on
	// first start.
	Genesis map[string]string `toml:"Genesis"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// GenesisAllocations decodes the configured genesis balances into engine
// addresses.
func (c *Config) GenesisAllocations() (map[[20]byte]*big.Int, error) {
	allocs := make(map[[20]byte]*big.Int, len(c.Genesis))
	for addr, balance := range c.Genesis {
		decoded, err := crypto.DecodeAddress(strings.TrimSpace(addr))
		if err != nil {
			return nil, fmt.Errorf("genesis address %q: %w", addr, err)
		}
		amount, ok := new(big.Int).SetString(strings.TrimSpace(balance), 10)
		if !ok || amount.Sign() < 0 {
			return nil, fmt.Errorf("genesis balance %q for %s must be a non-negative decimal", balance, addr)
		}
		var key [20]byte
		copy(key[:], decoded.Bytes())
		allocs[key] = amount
	}
	return allocs, nil
}

// AuthSecret resolves the JWT HMAC secret from the configured environment
// variable.
func (c *Config) AuthSecret() string {
	env := strings.TrimSpace(c.AuthSecretEnv)
	if env == "" {
		env = "HOLD_RPC_SECRET"
	}
	return strings.TrimSpace(os.Getenv(env))
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = ":8080"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./bookhold-data"
	}
	if cfg.EvidenceDeadlineSeconds == 0 {
		cfg.EvidenceDeadlineSeconds = 14 * 24 * 60 * 60
	}
	if cfg.DisputeWindowSeconds == 0 {
		cfg.DisputeWindowSeconds = 7 * 24 * 60 * 60
	}
	if cfg.RateLimitPerMinute <= 0 {
		cfg.RateLimitPerMinute = 600
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 20
	}
	if cfg.Genesis == nil {
		cfg.Genesis = map[string]string{}
	}
}

func validate(cfg *Config) error {
	if cfg.DisputeWindowSeconds > maxDisputeWindowSeconds {
		return fmt.Errorf("DisputeWindowSeconds must be <= %d", maxDisputeWindowSeconds)
	}
	return nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
