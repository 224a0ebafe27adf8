package config

// EnvPrefix is passed to envconfig; every field carries its full variable name.
const EnvPrefix = "EVENTPASS"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	AtomicModeFunction    = "function"
	AtomicModeTransaction = "transaction"
	AtomicModeDisabled    = "disabled"
)

const (
	EnvAppEnv   = "EVENTPASS_APP_ENV"
	EnvPort     = "EVENTPASS_APP_PORT"
	EnvLogLevel = "EVENTPASS_LOG_LEVEL"
	EnvLogFmt   = "EVENTPASS_LOG_FORMAT"

	EnvDBDSN  = "EVENTPASS_DB_DSN"
	EnvDBHost = "EVENTPASS_DB_HOST"
	EnvDBUser = "EVENTPASS_DB_USER"
	EnvDBName = "EVENTPASS_DB_NAME"

	EnvRedisURL = "EVENTPASS_REDIS_URL"

	EnvVoucherSecret = "EVENTPASS_VOUCHER_SECRET"
	EnvVoucherTTL    = "EVENTPASS_VOUCHER_TTL"

	EnvReservationMaxAttempts = "EVENTPASS_RESERVATION_MAX_ATTEMPTS"
	EnvReservationAtomicMode  = "EVENTPASS_RESERVATION_ATOMIC_MODE"

	EnvUseSQLite = "EVENTPASS_USE_SQLITE"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
