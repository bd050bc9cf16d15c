// Package wiring assembles the tenant core services shared by the binaries.
package wiring

import (
	"context"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/storegrid-backend/internal/credentials"
	"github.com/angelmondragon/storegrid-backend/internal/credits"
	"github.com/angelmondragon/storegrid-backend/internal/hostnames"
	"github.com/angelmondragon/storegrid-backend/internal/locks"
	"github.com/angelmondragon/storegrid-backend/internal/provisioning"
	"github.com/angelmondragon/storegrid-backend/internal/stores"
	"github.com/angelmondragon/storegrid-backend/internal/tenantdb"
	"github.com/angelmondragon/storegrid-backend/internal/tenantmigrations"
	"github.com/angelmondragon/storegrid-backend/pkg/config"
	"github.com/angelmondragon/storegrid-backend/pkg/db"
	"github.com/angelmondragon/storegrid-backend/pkg/logger"
	"github.com/angelmondragon/storegrid-backend/pkg/metrics"
	"github.com/angelmondragon/storegrid-backend/pkg/redis"
)

// Components is the assembled service graph.
type Components struct {
	Vault        *credentials.Vault
	Tenants      *tenantdb.Manager
	Locker       locks.Locker
	Stores       stores.Service
	Hostnames    hostnames.Service
	Provisioning provisioning.Service
	Migrations   tenantmigrations.Service
	Credits      credits.Service
}

// Params carries the shared clients. BaseContext parents background
// provisioning runs and should be cancelled on shutdown.
type Params struct {
	Config      *config.Config
	Logger      *logger.Logger
	DB          *db.Client
	Redis       *redis.Client
	Registerer  prometheus.Registerer
	BaseContext context.Context
}

// NewVault decodes the configured key material. The previous key is optional.
func NewVault(cfg config.VaultConfig) (*credentials.Vault, error) {
	key, err := cfg.KeyBytes()
	if err != nil {
		return nil, err
	}
	var previous []byte
	if strings.TrimSpace(cfg.PreviousKey) != "" {
		previous, err = cfg.PreviousKeyBytes()
		if err != nil {
			return nil, fmt.Errorf("previous vault key: %w", err)
		}
	}
	return credentials.New(key, previous)
}

// Build wires every component in dependency order.
func Build(p Params) (*Components, error) {
	if p.Config == nil || p.Logger == nil || p.DB == nil || p.Redis == nil {
		return nil, fmt.Errorf("config, logger, db and redis are required")
	}
	cfg := p.Config
	conn := p.DB.DB()

	vault, err := NewVault(cfg.Vault)
	if err != nil {
		return nil, fmt.Errorf("credential vault: %w", err)
	}

	tenants, err := tenantdb.NewManager(tenantdb.ManagerParams{
		Repo:    tenantdb.NewRepository(conn),
		Vault:   vault,
		Config:  cfg.Tenant,
		Logger:  p.Logger,
		Metrics: metrics.NewTenantPoolMetrics(p.Registerer),
		Bus:     tenantdb.NewRedisBus(p.Redis),
	})
	if err != nil {
		return nil, fmt.Errorf("tenant connection manager: %w", err)
	}

	locker, err := locks.New(cfg.Provisioning.Backend(), p.Redis, conn, cfg.Provisioning.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("locker: %w", err)
	}

	provisioningMetrics := metrics.NewProvisioningMetrics(p.Registerer)
	migrations, err := tenantmigrations.NewService(tenantmigrations.Params{
		Repo:    tenantmigrations.NewRepository(conn),
		Tenants: tenants,
		Locker:  locker,
		Config:  cfg.Migrations,
		Logger:  p.Logger,
		Metrics: provisioningMetrics,
	})
	if err != nil {
		return nil, fmt.Errorf("migration ledger: %w", err)
	}

	provisioner, err := provisioning.NewService(provisioning.Params{
		Repo:        provisioning.NewRepository(conn),
		Tenants:     tenants,
		Migrations:  migrations,
		Locker:      locker,
		Config:      cfg.Provisioning,
		Logger:      p.Logger,
		Metrics:     provisioningMetrics,
		BaseContext: p.BaseContext,
	})
	if err != nil {
		return nil, fmt.Errorf("provisioning: %w", err)
	}

	hostnameService, err := hostnames.NewService(hostnames.NewRepository(conn))
	if err != nil {
		return nil, fmt.Errorf("hostnames: %w", err)
	}

	storeService, err := stores.NewService(stores.Params{
		Repo:           stores.NewRepository(conn),
		Vault:          vault,
		Pool:           tenants,
		PlatformDomain: cfg.Hostnames.PlatformDomain,
		Logger:         p.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("stores: %w", err)
	}

	creditService, err := credits.NewService(credits.NewRepository(conn), p.Redis, cfg.Credits, p.Logger, metrics.NewCreditMetrics(p.Registerer))
	if err != nil {
		return nil, fmt.Errorf("credits: %w", err)
	}

	return &Components{
		Vault:        vault,
		Tenants:      tenants,
		Locker:       locker,
		Stores:       storeService,
		Hostnames:    hostnameService,
		Provisioning: provisioner,
		Migrations:   migrations,
		Credits:      creditService,
	}, nil
}

// VerifyVault decrypts a sample of stored credentials so a wrong key fails boot.
func (c *Components) VerifyVault(ctx context.Context, conn *db.Client, sample int) error {
	return credentials.VerifySample(ctx, c.Vault, credentials.NewRepository(conn.DB()), sample)
}

// Close waits for background provisioning runs, then drops every tenant pool.
func (c *Components) Close() error {
	if c.Provisioning != nil {
		c.Provisioning.Wait()
	}
	if c.Tenants != nil {
		return c.Tenants.Close()
	}
	return nil
}
