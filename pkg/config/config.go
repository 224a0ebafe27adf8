package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	Voucher      VoucherConfig
	Reservation  ReservationConfig
	Admission    AdmissionConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if !cfg.FeatureFlags.UseSQLite {
		if err := cfg.DB.ensureDSN(); err != nil {
			return nil, err
		}
	}
	if err := cfg.Reservation.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"EVENTPASS_APP_ENV" required:"true"`
	Port         string `envconfig:"EVENTPASS_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"EVENTPASS_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"EVENTPASS_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"EVENTPASS_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"EVENTPASS_DB_DSN"`
	Driver string `envconfig:"EVENTPASS_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"EVENTPASS_DB_HOST"`
	LegacyPort     int    `envconfig:"EVENTPASS_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"EVENTPASS_DB_USER"`
	LegacyPassword string `envconfig:"EVENTPASS_DB_PASSWORD"`
	LegacyName     string `envconfig:"EVENTPASS_DB_NAME"`
	LegacySSLMode  string `envconfig:"EVENTPASS_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"EVENTPASS_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"EVENTPASS_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"EVENTPASS_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"EVENTPASS_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"EVENTPASS_REDIS_URL"`
	Address      string        `envconfig:"EVENTPASS_REDIS_ADDR"`
	Password     string        `envconfig:"EVENTPASS_REDIS_PASSWORD"`
	DB           int           `envconfig:"EVENTPASS_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"EVENTPASS_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"EVENTPASS_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"EVENTPASS_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"EVENTPASS_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"EVENTPASS_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// Enabled reports whether a redis endpoint was configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

// VoucherConfig holds the signing secret shared with the scanning side.
type VoucherConfig struct {
	Secret string        `envconfig:"EVENTPASS_VOUCHER_SECRET" required:"true"`
	TTL    time.Duration `envconfig:"EVENTPASS_VOUCHER_TTL" default:"24h"`
}

type ReservationConfig struct {
	MaxAttempts   int           `envconfig:"EVENTPASS_RESERVATION_MAX_ATTEMPTS" default:"5"`
	BaseBackoff   time.Duration `envconfig:"EVENTPASS_RESERVATION_BASE_BACKOFF" default:"100ms"`
	AtomicMode    string        `envconfig:"EVENTPASS_RESERVATION_ATOMIC_MODE" default:"function"`
	AtomicTimeout time.Duration `envconfig:"EVENTPASS_RESERVATION_ATOMIC_TIMEOUT" default:"2s"`
}

func (r ReservationConfig) validate() error {
	if r.MaxAttempts < 1 {
		return fmt.Errorf("%s must be at least 1", EnvReservationMaxAttempts)
	}
	switch strings.ToLower(strings.TrimSpace(r.AtomicMode)) {
	case AtomicModeFunction, AtomicModeTransaction, AtomicModeDisabled:
		return nil
	default:
		return fmt.Errorf("%s must be one of %s, %s, %s", EnvReservationAtomicMode, AtomicModeFunction, AtomicModeTransaction, AtomicModeDisabled)
	}
}

// Mode returns the normalized atomic reservation mode.
func (r ReservationConfig) Mode() string {
	mode := strings.ToLower(strings.TrimSpace(r.AtomicMode))
	if mode == "" {
		return AtomicModeFunction
	}
	return mode
}

type AdmissionConfig struct {
	ScanLimit  int           `envconfig:"EVENTPASS_ADMISSION_SCAN_LIMIT" default:"120"`
	ScanWindow time.Duration `envconfig:"EVENTPASS_ADMISSION_SCAN_WINDOW" default:"1m"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"EVENTPASS_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"EVENTPASS_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"EVENTPASS_GCP_PROJECT_ID"`
	ApplicationCredentials string `envconfig:"EVENTPASS_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	BookingsTopic string `envconfig:"EVENTPASS_PUBSUB_BOOKINGS_TOPIC" default:"ep-booking-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"EVENTPASS_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"EVENTPASS_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"EVENTPASS_OUTBOX_MAX_ATTEMPTS" default:"10"`
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
