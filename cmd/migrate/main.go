package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/angelmondragon/storegrid-backend/internal/wiring"
	"github.com/angelmondragon/storegrid-backend/pkg/config"
	"github.com/angelmondragon/storegrid-backend/pkg/db"
	"github.com/angelmondragon/storegrid-backend/pkg/logger"
	"github.com/angelmondragon/storegrid-backend/pkg/migrate"
	"github.com/angelmondragon/storegrid-backend/pkg/redis"
	"github.com/joho/godotenv"
)

func main() {
	ctx := context.Background()
	// bootstrap logger early (then re-init after config load)
	logg := logger.New(logger.Options{ServiceName: "migrate"})

	_ = godotenv.Load()

	cmd := flag.String("cmd", "up", "migration command: up|down|status|version|create|create-tenant|validate|validate-tenant|tenant-sweep")
	dir := flag.String("dir", "", "migrations directory (defaults per command)")

	name := flag.String("name", "", "migration name (for create and create-tenant)")
	version := flag.String("version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")

	flag.Parse()

	// Commands that only touch the filesystem run without config.
	switch *cmd {
	case "create", "create-tenant":
		if *name == "" {
			fmt.Fprintln(os.Stderr, "missing -name for", *cmd)
			os.Exit(1)
		}
		create := migrate.CreateSQLMigration
		target := dirOr(*dir, migrate.DefaultDir)
		if *cmd == "create-tenant" {
			create = migrate.CreateTenantMigration
			target = dirOr(*dir, migrate.TenantDir)
		}
		path, err := create(target, *name)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create migration: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("created migration:", path)
		return

	case "validate", "validate-tenant":
		target := dirOr(*dir, migrate.DefaultDir)
		if *cmd == "validate-tenant" {
			target = dirOr(*dir, migrate.TenantDir)
		}
		if err := migrate.ValidateDir(target); err != nil {
			fmt.Fprintf(os.Stderr, "migration validation failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("migration validation passed")
		return
	}

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx = logg.WithFields(context.Background(), map[string]any{
		"env": cfg.App.Env,
		"cmd": *cmd,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer dbClient.Close()

	if *cmd == "tenant-sweep" {
		sweepTenants(ctx, logg, cfg, dbClient)
		return
	}

	sqlDB, err := dbClient.DB().DB()
	requireResource(ctx, logg, "sql database", err)

	logg.Info(ctx, "migrate ready")

	switch *cmd {
	case "up", "down", "status":
		if err := migrate.Run(ctx, sqlDB, *cmd); err != nil {
			fmt.Fprintf(os.Stderr, "goose %s failed: %v\n", *cmd, err)
			os.Exit(1)
		}

	case "version":
		if *version == "" {
			fmt.Fprintln(os.Stderr, "missing -version for version command")
			os.Exit(1)
		}
		if err := migrate.MigrateToVersion(ctx, sqlDB, *version); err != nil {
			fmt.Fprintf(os.Stderr, "goose version migrate failed: %v\n", err)
			os.Exit(1)
		}

	default:
		fmt.Fprintln(os.Stderr, "unknown -cmd value:", *cmd)
		os.Exit(1)
	}
}

// sweepTenants applies pending tenant migrations to every active store
// whose ledger is behind the embedded catalog.
func sweepTenants(ctx context.Context, logg *logger.Logger, cfg *config.Config, dbClient *db.Client) {
	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)
	defer redisClient.Close()

	components, err := wiring.Build(wiring.Params{
		Config:      cfg,
		Logger:      logg,
		DB:          dbClient,
		Redis:       redisClient,
		BaseContext: ctx,
	})
	requireResource(ctx, logg, "services", err)
	defer components.Close()

	report, err := components.Migrations.Sweep(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tenant sweep failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("tenant sweep: flagged=%d attempted=%d succeeded=%d failed=%d\n",
		report.Flagged, report.Attempted, report.Succeeded, len(report.Failed))
	for storeID, failure := range report.Failed {
		fmt.Fprintf(os.Stderr, "store %s: %v\n", storeID, failure)
	}
	if len(report.Failed) > 0 {
		os.Exit(1)
	}
}

func dirOr(dir, fallback string) string {
	if dir == "" {
		return fallback
	}
	return dir
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
