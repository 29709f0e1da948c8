package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aussiebroadwan/gatehouse/pkg/cryptox"
	"github.com/aussiebroadwan/gatehouse/pkg/httpx"
	"github.com/aussiebroadwan/gatehouse/pkg/jwtx"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

type Config struct {
	Env                  string        `env:"ENV" envDefault:"dev"`
	LogLevel             string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat            string        `env:"LOG_FORMAT" envDefault:"json"`
	Port                 int           `env:"PORT" envDefault:"8080"`
	ShutdownGracePeriod  time.Duration `env:"SHUTDOWN_GRACE_PERIOD" envDefault:"10s"`
	HousekeepingInterval time.Duration `env:"HOUSEKEEPING_INTERVAL" envDefault:"1h"`

	// StoreDriver selects where challenges live. Accounts, admins and
	// sessions always stay in sqlite.
	StoreDriver    string `env:"AUTH_STORE_DRIVER" envDefault:"sqlite"`
	DatabaseFile   string `env:"AUTH_DATABASE_FILE" envDefault:"gatehouse.db"`
	PepperFile     string `env:"AUTH_PEPPER_FILE"`
	BootstrapToken string `env:"BOOTSTRAP_TOKEN"`

	SessionTTL      time.Duration `env:"SESSION_TTL" envDefault:"24h"`
	AdminSessionTTL time.Duration `env:"ADMIN_SESSION_TTL" envDefault:"8h"`

	JWT       JWT       `envPrefix:"JWT_"`
	OTP       OTP       `envPrefix:"OTP_"`
	Lockout   Lockout
	RateLimit RateLimit `envPrefix:"RATELIMIT_"`
	SMS       SMS       `envPrefix:"SMS_"`
	Redis     Redis     `envPrefix:"REDIS_"`
}

type JWT struct {
	// Secret signs session credentials. In dev an empty secret is replaced
	// by a random one at startup.
	Secret string `env:"SECRET"`
	Issuer string `env:"ISSUER" envDefault:"gatehouse"`
}

type OTP struct {
	Expiry         Minutes       `env:"EXPIRY" envDefault:"5m"`
	Length         int           `env:"LENGTH" envDefault:"6"`
	MaxAttempts    int           `env:"MAX_ATTEMPTS" envDefault:"3"`
	MaxResends     int           `env:"MAX_RESENDS" envDefault:"3"`
	ResendCooldown time.Duration `env:"RESEND_COOLDOWN" envDefault:"60s"`
	BcryptCost     int           `env:"BCRYPT_COST" envDefault:"10"`
}

type Lockout struct {
	MaxAttempts int     `env:"MAX_LOGIN_ATTEMPTS" envDefault:"5"`
	LockTime    Minutes `env:"ACCOUNT_LOCK_TIME" envDefault:"5m"`
}

type RateLimit struct {
	CleanupInterval   time.Duration `env:"CLEANUP_INTERVAL" envDefault:"5m"`
	EmergencyInterval time.Duration `env:"EMERGENCY_INTERVAL" envDefault:"30s"`
	HeapRatio         float64       `env:"HEAP_RATIO" envDefault:"0.9"`
	TableFile         string        `env:"TABLE_FILE"`

	// TrustedProxies are the peers (CIDR or address) whose X-Forwarded-For
	// is believed. Empty means clients connect directly.
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`
}

type SMS struct {
	GatewayURL    string  `env:"GATEWAY_URL"`
	APIKey        string  `env:"API_KEY"`
	SenderID      string  `env:"SENDER_ID" envDefault:"Gatehouse"`
	RatePerSec    float64 `env:"RATE_PER_SEC" envDefault:"10"`
	WebhookSecret string  `env:"WEBHOOK_SECRET"`
	Brand         string  `env:"BRAND" envDefault:"Gatehouse"`
}

type Redis struct {
	Addr     string `env:"ADDR"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
	Prefix   string `env:"PREFIX" envDefault:"gatehouse:challenge"`
}

// Minutes is a duration that also accepts a bare integer as minutes, so
// ACCOUNT_LOCK_TIME=15 and ACCOUNT_LOCK_TIME=15m mean the same.
type Minutes time.Duration

func (m *Minutes) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if d, err := time.ParseDuration(s); err == nil {
		*m = Minutes(d)
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q", s)
	}
	*m = Minutes(time.Duration(n) * time.Minute)
	return nil
}

func (m Minutes) Duration() time.Duration { return time.Duration(m) }

// LoadConfig reads the environment, after loading ENV_FILE when it is set.
func LoadConfig() (Config, error) {
	if file := os.Getenv("ENV_FILE"); file != "" {
		if err := godotenv.Load(file); err != nil {
			return Config{}, fmt.Errorf("failed to load env file: %w", err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) IsDev() bool { return c.Env == "dev" }

// Validate checks the settings that cannot be defaulted.
func (c Config) Validate() error {
	var errs []error

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT must be 1-65535, got %d", c.Port))
	}

	switch c.StoreDriver {
	case DriverSQLite:
	case DriverRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required with AUTH_STORE_DRIVER=redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("AUTH_STORE_DRIVER must be %q or %q", DriverSQLite, DriverRedis))
	}

	if c.JWT.Secret != "" && len(c.JWT.Secret) < jwtx.MinSecretBytes {
		errs = append(errs, fmt.Errorf("JWT_SECRET must be at least %d bytes", jwtx.MinSecretBytes))
	}
	if !c.IsDev() {
		if c.JWT.Secret == "" {
			errs = append(errs, errors.New("JWT_SECRET is required outside dev"))
		}
		if c.PepperFile == "" {
			errs = append(errs, errors.New("AUTH_PEPPER_FILE is required outside dev"))
		}
	}

	if c.OTP.Length < cryptox.MinOTPDigits || c.OTP.Length > cryptox.MaxOTPDigits {
		errs = append(errs, fmt.Errorf("OTP_LENGTH must be %d-%d", cryptox.MinOTPDigits, cryptox.MaxOTPDigits))
	}
	if c.OTP.Expiry.Duration() <= 0 {
		errs = append(errs, errors.New("OTP_EXPIRY must be positive"))
	}
	if c.OTP.MaxAttempts < 1 {
		errs = append(errs, errors.New("OTP_MAX_ATTEMPTS must be at least 1"))
	}
	if c.OTP.MaxResends < 0 {
		errs = append(errs, errors.New("OTP_MAX_RESENDS must not be negative"))
	}
	if c.Lockout.MaxAttempts < 1 {
		errs = append(errs, errors.New("MAX_LOGIN_ATTEMPTS must be at least 1"))
	}
	if c.Lockout.LockTime.Duration() <= 0 {
		errs = append(errs, errors.New("ACCOUNT_LOCK_TIME must be positive"))
	}
	if c.RateLimit.HeapRatio <= 0 || c.RateLimit.HeapRatio > 1 {
		errs = append(errs, errors.New("RATELIMIT_HEAP_RATIO must be in (0, 1]"))
	}
	if _, err := httpx.ParseTrustedProxies(c.RateLimit.TrustedProxies); err != nil {
		errs = append(errs, fmt.Errorf("RATELIMIT_TRUSTED_PROXIES: %w", err))
	}

	return errors.Join(errs...)
}
