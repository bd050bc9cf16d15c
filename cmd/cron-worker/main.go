package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/storegrid-backend/internal/cron"
	"github.com/angelmondragon/storegrid-backend/internal/locks"
	"github.com/angelmondragon/storegrid-backend/internal/wiring"
	"github.com/angelmondragon/storegrid-backend/pkg/config"
	"github.com/angelmondragon/storegrid-backend/pkg/db"
	"github.com/angelmondragon/storegrid-backend/pkg/instance"
	"github.com/angelmondragon/storegrid-backend/pkg/logger"
	"github.com/angelmondragon/storegrid-backend/pkg/metrics"
	"github.com/angelmondragon/storegrid-backend/pkg/migrate"
	"github.com/angelmondragon/storegrid-backend/pkg/redis"
)

func main() {
	once := flag.Bool("once", false, "run every job a single time and exit")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	components, err := wiring.Build(wiring.Params{
		Config:      cfg,
		Logger:      logg,
		DB:          dbClient,
		Redis:       redisClient,
		Registerer:  prometheus.DefaultRegisterer,
		BaseContext: ctx,
	})
	if err != nil {
		logg.Error(ctx, "failed to assemble services", err)
		os.Exit(1)
	}
	defer func() {
		if err := components.Close(); err != nil {
			logg.Error(context.Background(), "error closing tenant pools", err)
		}
	}()

	registry, err := buildRegistry(logg, components)
	if err != nil {
		logg.Error(ctx, "failed to register cron jobs", err)
		os.Exit(1)
	}

	cycleLocker, err := locks.New(cfg.Provisioning.Backend(), redisClient, dbClient.DB(), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(ctx, "failed to create cron locker", err)
		os.Exit(1)
	}
	lock, err := cron.NewLeaseLock(cycleLocker, lockID(cfg.App.Env))
	if err != nil {
		logg.Error(ctx, "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(ctx, "failed to create cron service", err)
		os.Exit(1)
	}

	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
	})

	if *once {
		logg.Info(ctx, "running cron jobs once")
		if err := service.RunOnce(ctx); err != nil {
			logg.Error(ctx, "cron cycle failed", err)
			os.Exit(1)
		}
		return
	}

	logg.Info(ctx, "starting cron worker")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func buildRegistry(logg *logger.Logger, c *wiring.Components) (*cron.Registry, error) {
	provisioningSweep, err := cron.NewProvisioningSweepJob(logg, c.Provisioning)
	if err != nil {
		return nil, err
	}
	migrationSweep, err := cron.NewMigrationSweepJob(logg, c.Migrations)
	if err != nil {
		return nil, err
	}
	health, err := cron.NewConnectionHealthJob(logg, c.Tenants)
	if err != nil {
		return nil, err
	}
	hosting, err := cron.NewDailyHostingJob(logg, c.Credits)
	if err != nil {
		return nil, err
	}
	return cron.NewRegistry(provisioningSweep, migrationSweep, health, hosting)
}

func lockID(env string) string {
	if env == "" {
		env = "local"
	}
	return "cycle:" + env
}
