package config

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Vault        VaultConfig
	Tenant       TenantConfig
	Provisioning ProvisioningConfig
	Migrations   MigrationsConfig
	Credits      CreditsConfig
	Cron         CronConfig
	Hostnames    HostnamesConfig
	HTTP         HTTPConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Provisioning.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"STOREGRID_APP_ENV" required:"true"`
	Port         string `envconfig:"STOREGRID_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"STOREGRID_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"STOREGRID_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"STOREGRID_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"STOREGRID_DB_DSN"`
	Driver string `envconfig:"STOREGRID_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"STOREGRID_DB_HOST"`
	LegacyPort     int    `envconfig:"STOREGRID_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"STOREGRID_DB_USER"`
	LegacyPassword string `envconfig:"STOREGRID_DB_PASSWORD"`
	LegacyName     string `envconfig:"STOREGRID_DB_NAME"`
	LegacySSLMode  string `envconfig:"STOREGRID_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"STOREGRID_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"STOREGRID_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"STOREGRID_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"STOREGRID_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"STOREGRID_REDIS_URL" required:"true"`
	Address      string        `envconfig:"STOREGRID_REDIS_ADDR"`
	Password     string        `envconfig:"STOREGRID_REDIS_PASSWORD"`
	DB           int           `envconfig:"STOREGRID_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"STOREGRID_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"STOREGRID_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"STOREGRID_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"STOREGRID_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"STOREGRID_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"STOREGRID_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"STOREGRID_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"STOREGRID_JWT_EXPIRATION_MINUTES" default:"60"`
}

// VaultConfig carries the base64 key material for tenant credential encryption.
// PreviousKey is only read by the rekey batch job.
type VaultConfig struct {
	Key         string `envconfig:"STOREGRID_VAULT_KEY" required:"true"`
	PreviousKey string `envconfig:"STOREGRID_VAULT_PREVIOUS_KEY"`
	VerifySize  int    `envconfig:"STOREGRID_VAULT_VERIFY_SAMPLE" default:"5"`
}

// KeyBytes decodes the current key material.
func (v VaultConfig) KeyBytes() ([]byte, error) {
	return decodeKey(v.Key)
}

// PreviousKeyBytes decodes the key material being rotated away from.
func (v VaultConfig) PreviousKeyBytes() ([]byte, error) {
	return decodeKey(v.PreviousKey)
}

func decodeKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("vault key is empty")
	}
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("decoding vault key: %w", err)
	}
	return key, nil
}

// TenantConfig sizes the per-tenant pools and bounds connection attempts.
type TenantConfig struct {
	MaxOpenConns    int           `envconfig:"STOREGRID_TENANT_MAX_OPEN_CONNS" default:"5"`
	MaxIdleConns    int           `envconfig:"STOREGRID_TENANT_MAX_IDLE_CONNS" default:"2"`
	ConnMaxLifetime time.Duration `envconfig:"STOREGRID_TENANT_CONN_MAX_LIFETIME" default:"30m"`
	ConnMaxIdleTime time.Duration `envconfig:"STOREGRID_TENANT_CONN_MAX_IDLE_TIME" default:"5m"`
	ConnectTimeout  time.Duration `envconfig:"STOREGRID_TENANT_CONNECT_TIMEOUT" default:"5s"`
	ConnectAttempts int           `envconfig:"STOREGRID_TENANT_CONNECT_ATTEMPTS" default:"3"`
	BackoffBase     time.Duration `envconfig:"STOREGRID_TENANT_BACKOFF_BASE" default:"200ms"`
	BackoffMax      time.Duration `envconfig:"STOREGRID_TENANT_BACKOFF_MAX" default:"2s"`
}

type ProvisioningConfig struct {
	StepTimeout time.Duration `envconfig:"STOREGRID_PROVISIONING_STEP_TIMEOUT" default:"2m"`
	LockTTL     time.Duration `envconfig:"STOREGRID_PROVISIONING_LOCK_TTL" default:"15m"`
	LockBackend string        `envconfig:"STOREGRID_PROVISIONING_LOCK_BACKEND" default:"redis"`
	SweepBatch  int           `envconfig:"STOREGRID_PROVISIONING_SWEEP_BATCH" default:"25"`
}

func (p ProvisioningConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(p.LockBackend)) {
	case LockBackendRedis, LockBackendPostgres, LockBackendMemory:
		return nil
	}
	return fmt.Errorf("%s must be one of redis, postgres, memory", EnvProvisioningLockBackend)
}

// Backend returns the normalized lock backend name.
func (p ProvisioningConfig) Backend() string {
	return strings.ToLower(strings.TrimSpace(p.LockBackend))
}

type MigrationsConfig struct {
	Timeout          time.Duration `envconfig:"STOREGRID_TENANT_MIGRATION_TIMEOUT" default:"5m"`
	SweepConcurrency int           `envconfig:"STOREGRID_TENANT_MIGRATION_CONCURRENCY" default:"4"`
	SweepBatch       int           `envconfig:"STOREGRID_TENANT_MIGRATION_BATCH" default:"100"`
}

type CreditsConfig struct {
	CostCacheTTL      time.Duration `envconfig:"STOREGRID_CREDITS_COST_CACHE_TTL" default:"5m"`
	CurrencyPerCredit string        `envconfig:"STOREGRID_CREDITS_CURRENCY_PER_CREDIT" default:"0.10"`
	DailyHostingKey   string        `envconfig:"STOREGRID_CREDITS_DAILY_HOSTING_KEY" default:"store_daily_hosting"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"STOREGRID_CRON_INTERVAL" default:"5m"`
	LockTTL  time.Duration `envconfig:"STOREGRID_CRON_LOCK_TTL" default:"1h"`
}

type HostnamesConfig struct {
	PlatformDomain string `envconfig:"STOREGRID_PLATFORM_DOMAIN" default:"storegrid.app"`
}

// HTTPConfig tunes the API surface. Zero limits disable the matching counter.
type HTTPConfig struct {
	ExtraCORSOrigins []string      `envconfig:"STOREGRID_HTTP_CORS_ORIGINS"`
	RateLimitWindow  time.Duration `envconfig:"STOREGRID_HTTP_RATE_LIMIT_WINDOW" default:"1m"`
	ResolveIPLimit   int           `envconfig:"STOREGRID_HTTP_RESOLVE_IP_LIMIT" default:"600"`
	ChargeUserLimit  int           `envconfig:"STOREGRID_HTTP_CHARGE_USER_LIMIT" default:"120"`
	ShutdownTimeout  time.Duration `envconfig:"STOREGRID_HTTP_SHUTDOWN_TIMEOUT" default:"20s"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"STOREGRID_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"STOREGRID_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
