package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"bookhold/config"
	"bookhold/core"
	"bookhold/core/events"
	"bookhold/observability/logging"
	"bookhold/rpc"
	"bookhold/storage"
)

const envEnv = "HOLD_ENV"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv(envEnv))

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup("bookholdd", env, cfg.LogFile)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Error("Failed to prepare data directory", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "ledger"))
	if err != nil {
		logger.Error("Failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	journal, err := events.OpenJournal(filepath.Join(cfg.DataDir, "events.db"))
	if err != nil {
		logger.Error("Failed to open event journal", slog.Any("error", err))
		os.Exit(1)
	}
	defer journal.Close()

	node := core.NewNode(db, journal,
		core.WithLogger(logger),
		core.WithDurations(cfg.EvidenceDeadlineSeconds, cfg.DisputeWindowSeconds),
	)

	allocs, err := cfg.GenesisAllocations()
	if err != nil {
		logger.Error("Invalid genesis allocations", slog.Any("error", err))
		os.Exit(1)
	}
	if err := node.ApplyGenesis(allocs); err != nil {
		logger.Error("Failed to apply genesis allocations", slog.Any("error", err))
		os.Exit(1)
	}

	secret := cfg.AuthSecret()
	if secret == "" {
		logger.Warn("RPC auth secret not set; mutating methods accept the dev caller header only")
	}
	auth := rpc.NewAuthenticator(rpc.AuthConfig{
		Enabled:    secret != "",
		HMACSecret: secret,
	})
	limiter := rpc.NewRateLimiter(cfg.RateLimitPerMinute, cfg.RateLimitBurst)

	server := rpc.NewServer(node, auth, limiter)
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("RPC server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
