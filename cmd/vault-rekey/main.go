package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/angelmondragon/storegrid-backend/internal/credentials"
	"github.com/angelmondragon/storegrid-backend/internal/wiring"
	"github.com/angelmondragon/storegrid-backend/pkg/config"
	"github.com/angelmondragon/storegrid-backend/pkg/db"
	"github.com/angelmondragon/storegrid-backend/pkg/logger"
	"github.com/joho/godotenv"
)

// vault-rekey re-encrypts stored tenant credentials under the current vault
// key. Run it after setting STOREGRID_VAULT_PREVIOUS_KEY to the retired key.
func main() {
	batch := flag.Int("batch", 100, "credentials re-encrypted per page")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: "vault-rekey"})

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	if cfg.Vault.PreviousKey == "" {
		logg.Warn(context.Background(), "no previous vault key configured; only current-key rows will be scanned")
	}

	logg = logger.New(logger.Options{
		ServiceName: "vault-rekey",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithField(ctx, "env", cfg.App.Env)

	vault, err := wiring.NewVault(cfg.Vault)
	if err != nil {
		logg.Error(ctx, "failed to build vault", err)
		os.Exit(1)
	}

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer dbClient.Close()

	report, err := credentials.Rekey(ctx, vault, credentials.NewRepository(dbClient.DB()), *batch, logg)
	logg.Info(logg.WithFields(ctx, map[string]any{
		"scanned":   report.Scanned,
		"rewritten": report.Rewritten,
		"skipped":   report.Skipped,
		"failed":    len(report.Failed),
	}), "vault rekey finished")
	if err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "vault rekey aborted", err)
		os.Exit(1)
	}
	for _, id := range report.Failed {
		fmt.Fprintln(os.Stderr, "could not re-encrypt credential for store", id)
	}
	if len(report.Failed) > 0 {
		os.Exit(1)
	}
}
