package config

// EnvPrefix is handed to envconfig; every field carries its full variable name.
const EnvPrefix = "STOREGRID"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	LockBackendRedis    = "redis"
	LockBackendPostgres = "postgres"
	LockBackendMemory   = "memory"
)

const (
	EnvAppEnv                  = "STOREGRID_APP_ENV"
	EnvPort                    = "STOREGRID_APP_PORT"
	EnvDBDSN                   = "STOREGRID_DB_DSN"
	EnvDBHost                  = "STOREGRID_DB_HOST"
	EnvDBUser                  = "STOREGRID_DB_USER"
	EnvDBName                  = "STOREGRID_DB_NAME"
	EnvRedisURL                = "STOREGRID_REDIS_URL"
	EnvJWTSecret               = "STOREGRID_JWT_SECRET"
	EnvJWTIssuer               = "STOREGRID_JWT_ISSUER"
	EnvVaultKey                = "STOREGRID_VAULT_KEY"
	EnvVaultPreviousKey        = "STOREGRID_VAULT_PREVIOUS_KEY"
	EnvProvisioningLockBackend = "STOREGRID_PROVISIONING_LOCK_BACKEND"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
