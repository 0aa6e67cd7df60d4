package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"bookhold/crypto"
)

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, ":8080", cfg.RPCAddress)
	require.Equal(t, "./bookhold-data", cfg.DataDir)
	require.Equal(t, uint32(14*24*60*60), cfg.EvidenceDeadlineSeconds)
	require.Equal(t, uint32(7*24*60*60), cfg.DisputeWindowSeconds)
	require.Equal(t, float64(600), cfg.RateLimitPerMinute)
	require.Equal(t, 20, cfg.RateLimitBurst)

	// The default file is persisted and loads back identically.
	_, err = os.Stat(path)
	require.NoError(t, err)
	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg, reloaded)
}

func TestLoadAppliesOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
RPCAddress = "127.0.0.1:9090"
EvidenceDeadlineSeconds = 3600
DisputeWindowSeconds = 600
AuthSecretEnv = "TEST_HOLD_SECRET"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9090", cfg.RPCAddress)
	require.Equal(t, uint32(3600), cfg.EvidenceDeadlineSeconds)
	require.Equal(t, uint32(600), cfg.DisputeWindowSeconds)
	// Unset fields still receive defaults.
	require.Equal(t, "./bookhold-data", cfg.DataDir)
	require.Equal(t, 20, cfg.RateLimitBurst)
}

func TestLoadRejectsOversizedDisputeWindow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("DisputeWindowSeconds = 16777216\n"), 0o644))
	_, err := Load(path)
	require.Error(t, err)
}

func TestGenesisAllocations(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	addr := key.PubKey().Address().String()

	cfg := &Config{Genesis: map[string]string{addr: "1000000000000000000"}}
	allocs, err := cfg.GenesisAllocations()
	require.NoError(t, err)
	require.Len(t, allocs, 1)
	for _, amount := range allocs {
		require.Equal(t, "1000000000000000000", amount.String())
	}

	cfg = &Config{Genesis: map[string]string{"not-an-address": "10"}}
	_, err = cfg.GenesisAllocations()
	require.Error(t, err)

	cfg = &Config{Genesis: map[string]string{addr: "-5"}}
	_, err = cfg.GenesisAllocations()
	require.Error(t, err)
}

func TestAuthSecretEnvResolution(t *testing.T) {
	cfg := &Config{AuthSecretEnv: "TEST_HOLD_SECRET"}
	t.Setenv("TEST_HOLD_SECRET", "  super-secret  ")
	require.Equal(t, "super-secret", cfg.AuthSecret())

	cfg = &Config{}
	t.Setenv("HOLD_RPC_SECRET", "fallback-secret")
	require.Equal(t, "fallback-secret", cfg.AuthSecret())
}
