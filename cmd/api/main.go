package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/angelmondragon/storegrid-backend/api/routes"
	"github.com/angelmondragon/storegrid-backend/internal/wiring"
	"github.com/angelmondragon/storegrid-backend/pkg/config"
	"github.com/angelmondragon/storegrid-backend/pkg/db"
	"github.com/angelmondragon/storegrid-backend/pkg/logger"
	"github.com/angelmondragon/storegrid-backend/pkg/metrics"
	"github.com/angelmondragon/storegrid-backend/pkg/migrate"
	"github.com/angelmondragon/storegrid-backend/pkg/redis"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	if err := components.VerifyVault(ctx, dbClient, cfg.Vault.VerifySize); err != nil {
		logg.Error(ctx, "vault key does not decrypt stored credentials", err)
		os.Exit(1)
	}

	go func() {
		if err := components.Tenants.Listen(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logg.Error(ctx, "tenant invalidation listener stopped", err)
		}
	}()

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}
	logCtx := logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": id,
	})
	logg.Info(logCtx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.Params{
			Config:       cfg,
			Logger:       logg,
			DB:           dbClient,
			Redis:        redisClient,
			RateLimits:   redisClient,
			Gatherer:     prometheus.DefaultGatherer,
			HTTPMetrics:  metrics.NewHTTPMetrics(prometheus.DefaultRegisterer),
			Stores:       components.Stores,
			Hostnames:    components.Hostnames,
			Tenants:      components.Tenants,
			Provisioning: components.Provisioning,
			Migrations:   components.Migrations,
			Credits:      components.Credits,
		}),
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			logg.Error(logCtx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
	}

	logg.Info(logCtx, "shutting down api server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logg.Error(logCtx, "api server shutdown failed", err)
	}
}
