package main

import (
	"flag"
	"os"

	appconfig "github.com/fluxion/voice-agent/internal/config"
	"github.com/fluxion/voice-agent/internal/session"
	"github.com/fluxion/voice-agent/pkg/logging"
)

// migrate applies the local store schema without booting the agent.
// Usage: migrate [-down]
func main() {
	down := flag.Bool("down", false, "roll back every migration")
	flag.Parse()

	// LLM_API_KEY is not needed here, so the config error is ignored.
	cfg, _ := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	store, err := session.Open(cfg.LocalStoreDriver, cfg.LocalStorePath)
	if err != nil {
		logger.Error("local store unavailable", "error", err, "driver", cfg.LocalStoreDriver)
		os.Exit(appconfig.ExitStoreUnavailable)
	}
	defer func() { _ = store.Close() }()

	if err := store.Migrate(*down); err != nil {
		logger.Error("migration failed", "error", err, "down", *down)
		_ = store.Close()
		os.Exit(appconfig.ExitStoreUnavailable)
	}
	logger.Info("migrations complete", "driver", cfg.LocalStoreDriver, "down", *down)
}
